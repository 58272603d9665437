package rtc

import (
	"context"
	"fmt"
	"time"

	"github.com/dkeye/huddle/internal/core"
	"github.com/dkeye/huddle/internal/docstore"
	"github.com/jonboulle/clockwork"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

const (
	DefaultSignalAttempts   = 3
	DefaultSignalRetryDelay = 2 * time.Second
)

// SignalChannel posts signals into the shared signaling collection, where
// the receiver's subscription picks them up.
type SignalChannel struct {
	docs     docstore.Store
	clock    clockwork.Clock
	attempts int
	delay    time.Duration
}

var _ core.SignalSender = (*SignalChannel)(nil)

func NewSignalChannel(docs docstore.Store, clock clockwork.Clock) *SignalChannel {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &SignalChannel{
		docs:     docs,
		clock:    clock,
		attempts: DefaultSignalAttempts,
		delay:    DefaultSignalRetryDelay,
	}
}

func (s *SignalChannel) SendSignal(ctx context.Context, msg core.SignalMessage) error {
	var err error
	for attempt := 0; attempt < s.attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-s.clock.After(s.delay):
			}
		}
		data := msg.ToDocument()
		data["timestamp"] = docstore.ServerTimestamp()
		data["retryCount"] = attempt
		if _, err = s.docs.Add(ctx, core.SignalingCollection, data); err == nil {
			return nil
		}
		log.Warn().Err(err).Str("module", "rtc").Str("type", string(msg.Type)).
			Str("receiver", msg.Receiver).Int("attempt", attempt+1).Msg("send signal")
	}
	return fmt.Errorf("send %s to %s after %d attempts: %w", msg.Type, msg.Receiver, s.attempts, err)
}

func descriptionPayload(d webrtc.SessionDescription) map[string]any {
	return map[string]any{"type": d.Type.String(), "sdp": d.SDP}
}

func descriptionFrom(payload map[string]any, want webrtc.SDPType) (webrtc.SessionDescription, error) {
	sdp, _ := payload["sdp"].(string)
	if sdp == "" {
		return webrtc.SessionDescription{}, fmt.Errorf("%s payload without sdp", want)
	}
	return webrtc.SessionDescription{Type: want, SDP: sdp}, nil
}

func candidatePayload(c webrtc.ICECandidateInit) map[string]any {
	out := map[string]any{"candidate": c.Candidate}
	if c.SDPMid != nil {
		out["sdpMid"] = *c.SDPMid
	}
	if c.SDPMLineIndex != nil {
		out["sdpMLineIndex"] = int(*c.SDPMLineIndex)
	}
	if c.UsernameFragment != nil {
		out["usernameFragment"] = *c.UsernameFragment
	}
	return out
}

// candidateFrom accepts numbers in any of the shapes a document can carry.
func candidateFrom(payload map[string]any) (webrtc.ICECandidateInit, error) {
	cand, ok := payload["candidate"].(string)
	if !ok {
		return webrtc.ICECandidateInit{}, fmt.Errorf("candidate payload without candidate")
	}
	init := webrtc.ICECandidateInit{Candidate: cand}
	if mid, ok := payload["sdpMid"].(string); ok {
		init.SDPMid = &mid
	}
	if idx, ok := toUint16(payload["sdpMLineIndex"]); ok {
		init.SDPMLineIndex = &idx
	}
	if frag, ok := payload["usernameFragment"].(string); ok {
		init.UsernameFragment = &frag
	}
	return init, nil
}

func toUint16(v any) (uint16, bool) {
	switch n := v.(type) {
	case int:
		return uint16(n), true
	case int64:
		return uint16(n), true
	case uint16:
		return n, true
	case float64:
		return uint16(n), true
	}
	return 0, false
}

// DefaultWebRTCConfig builds the peer configuration from ICE server URLs,
// falling back to a public STUN server.
func DefaultWebRTCConfig(iceServers ...string) webrtc.Configuration {
	if len(iceServers) == 0 {
		iceServers = []string{"stun:stun.l.google.com:19302"}
	}
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: iceServers}},
	}
}
