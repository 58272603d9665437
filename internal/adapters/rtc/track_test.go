package rtc

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/dkeye/huddle/internal/core"
	"github.com/jonboulle/clockwork"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/require"
)

func TestLocalTrackState(t *testing.T) {
	tr, err := newLocalTrack(core.KindAudio, "s1")
	require.NoError(t, err)
	require.Equal(t, core.KindAudio, tr.Kind())
	require.True(t, tr.Enabled())
	require.False(t, tr.Muted())

	tr.SetEnabled(false)
	require.False(t, tr.Enabled())
	require.NoError(t, tr.WriteSample(media.Sample{Data: []byte{1}, Duration: time.Millisecond}))

	tr.SetEnabled(true)
	tr.MarkMuted()
	require.True(t, tr.Muted())
	tr.MarkLive()
	require.False(t, tr.Muted())

	tr.Stop()
	require.Equal(t, TrackStateStopped, tr.State())
	tr.SetEnabled(true)
	require.False(t, tr.Enabled())
	tr.MarkLive()
	require.Equal(t, TrackStateStopped, tr.State())
	require.ErrorIs(t, tr.WriteSample(media.Sample{Data: []byte{1}}), ErrTrackStopped)
}

func TestCameraTrackSwitchesFacing(t *testing.T) {
	v, err := newLocalTrack(core.KindVideo, "s1")
	require.NoError(t, err)
	cam := &CameraTrack{LocalTrack: v}

	var sw core.CameraSwitcher = cam
	require.Equal(t, FacingFront, cam.Facing())
	require.NoError(t, sw.SwitchCamera())
	require.Equal(t, FacingBack, cam.Facing())
	require.NoError(t, sw.SwitchCamera())
	require.Equal(t, "front", cam.Facing().String())

	cam.Stop()
	require.ErrorIs(t, cam.SwitchCamera(), ErrTrackStopped)
}

func TestRemoteTrackMetersPackets(t *testing.T) {
	clock := clockwork.NewFakeClock()
	rt := newRemoteTrack("r1", core.KindAudio, clock)
	require.True(t, rt.Muted())
	require.True(t, rt.LastActivity().IsZero())

	rt.observe(&rtp.Packet{Header: rtp.Header{SequenceNumber: 7}, Payload: []byte{1, 2, 3}})
	require.Equal(t, clock.Now().UnixNano(), rt.LastActivity().UnixNano())
	require.False(t, rt.Muted())
	require.EqualValues(t, 1, rt.Packets())
	require.EqualValues(t, 3, rt.Bytes())

	rt.observe(&rtp.Packet{})
	require.EqualValues(t, 1, rt.Packets())

	clock.Advance(DefaultSilenceAfter + time.Millisecond)
	require.True(t, rt.Muted())
}

func TestRemoteTrackLoopEndsOnReadError(t *testing.T) {
	rt := newRemoteTrack("r1", core.KindVideo, clockwork.NewFakeClock())
	pkts := []*rtp.Packet{{Payload: []byte{1}}, {Payload: []byte{2}}}
	read := func() (*rtp.Packet, error) {
		if len(pkts) == 0 {
			return nil, errors.New("eof")
		}
		p := pkts[0]
		pkts = pkts[1:]
		return p, nil
	}
	logger := log.Logger
	rt.loop(context.Background(), read, &logger)
	require.EqualValues(t, 2, rt.Packets())
	require.True(t, rt.stopped.Load())
}

func TestCandidatePayloadSurvivesJSON(t *testing.T) {
	mid := "0"
	idx := uint16(1)
	in := webrtc.ICECandidateInit{Candidate: "candidate:1 1 udp 1 10.0.0.1 5000 typ host", SDPMid: &mid, SDPMLineIndex: &idx}

	raw, err := json.Marshal(candidatePayload(in))
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))

	out, err := candidateFrom(decoded)
	require.NoError(t, err)
	require.Equal(t, in.Candidate, out.Candidate)
	require.Equal(t, mid, *out.SDPMid)
	require.Equal(t, idx, *out.SDPMLineIndex)
	require.Nil(t, out.UsernameFragment)

	_, err = candidateFrom(map[string]any{})
	require.Error(t, err)
}

func TestDescriptionPayload(t *testing.T) {
	p := descriptionPayload(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0"})
	require.Equal(t, "offer", p["type"])

	d, err := descriptionFrom(p, webrtc.SDPTypeOffer)
	require.NoError(t, err)
	require.Equal(t, "v=0", d.SDP)

	_, err = descriptionFrom(map[string]any{"type": "answer"}, webrtc.SDPTypeAnswer)
	require.Error(t, err)
}

func TestDefaultWebRTCConfig(t *testing.T) {
	cfg := DefaultWebRTCConfig()
	require.Equal(t, []string{"stun:stun.l.google.com:19302"}, cfg.ICEServers[0].URLs)

	cfg = DefaultWebRTCConfig("stun:a", "turn:b")
	require.Equal(t, []string{"stun:a", "turn:b"}, cfg.ICEServers[0].URLs)
}
