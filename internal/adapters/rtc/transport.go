// Package rtc is the pion/webrtc media transport: a full mesh with one peer
// connection per remote participant, signaled through the data service.
package rtc

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dkeye/huddle/internal/core"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/pool"
)

var ErrTransportClosed = errors.New("transport closed")

// Capture selects which local devices may be used.
type Capture struct {
	Audio bool
	Video bool
}

type Options struct {
	Config  webrtc.Configuration
	Capture Capture
	Clock   clockwork.Clock
}

// Transport implements core.MediaTransport. The participant with the
// smaller id sends the offer; the other side asks for one with a
// reconnect signal.
type Transport struct {
	self    string
	session string
	signals core.SignalSender
	cfg     webrtc.Configuration
	capture Capture
	clock   clockwork.Clock

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	meetingID string
	local     *core.MediaStream
	peers     map[string]*peer
	onRemote  func(*core.MediaStream)
	onRemoved func(string)
	closed    bool
}

var _ core.MediaTransport = (*Transport)(nil)

func New(self string, signals core.SignalSender, opts Options) *Transport {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Transport{
		self:    self,
		session: uuid.NewString(),
		signals: signals,
		cfg:     opts.Config,
		capture: opts.Capture,
		clock:   opts.Clock,
		ctx:     ctx,
		cancel:  cancel,
		peers:   make(map[string]*peer),
	}
}

func (t *Transport) OnRemoteStream(fn func(*core.MediaStream)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onRemote = fn
}

func (t *Transport) OnRemoteStreamRemoved(fn func(string)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onRemoved = fn
}

// AcquireLocalStream creates the sample tracks capture is allowed to feed.
func (t *Transport) AcquireLocalStream(_ context.Context, participantID string) (*core.MediaStream, error) {
	if !t.capture.Audio && !t.capture.Video {
		return nil, fmt.Errorf("capture disabled: %w", core.ErrMediaAccess)
	}
	streamID := uuid.NewString()
	var tracks []core.MediaTrack
	if t.capture.Audio {
		a, err := newLocalTrack(core.KindAudio, streamID)
		if err != nil {
			return nil, fmt.Errorf("audio track: %w", err)
		}
		tracks = append(tracks, a)
	}
	if t.capture.Video {
		v, err := newLocalTrack(core.KindVideo, streamID)
		if err != nil {
			return nil, fmt.Errorf("video track: %w", err)
		}
		tracks = append(tracks, &CameraTrack{LocalTrack: v})
	}
	s := core.NewMediaStream(streamID, tracks...)
	s.ParticipantID = participantID

	t.mu.Lock()
	t.local = s
	t.mu.Unlock()
	log.Info().Str("module", "rtc").Str("stream", streamID).Int("tracks", len(tracks)).Msg("local stream acquired")
	return s, nil
}

// ConnectToParticipants opens a peer to every id not already connected.
func (t *Transport) ConnectToParticipants(ctx context.Context, meetingID string, participantIDs []string) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrTransportClosed
	}
	t.meetingID = meetingID
	var fresh []string
	for _, id := range participantIDs {
		if id == t.self || id == "" {
			continue
		}
		if _, ok := t.peers[id]; ok {
			continue
		}
		fresh = append(fresh, id)
	}
	t.mu.Unlock()

	p := pool.New().WithErrors().WithContext(ctx)
	for _, id := range fresh {
		p.Go(func(ctx context.Context) error {
			if t.self < id {
				return t.offerTo(ctx, id)
			}
			return t.send(ctx, core.SignalReconnect, id, map[string]any{})
		})
	}
	return p.Wait()
}

func (t *Transport) ProcessSignal(ctx context.Context, msg core.SignalMessage) error {
	if msg.Receiver != t.self || msg.Sender == t.self {
		return nil
	}
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrTransportClosed
	}
	if msg.MeetingID != "" {
		t.meetingID = msg.MeetingID
	}
	t.mu.Unlock()

	switch msg.Type {
	case core.SignalOffer:
		return t.handleOffer(ctx, msg)
	case core.SignalAnswer:
		answer, err := descriptionFrom(msg.Payload, webrtc.SDPTypeAnswer)
		if err != nil {
			return err
		}
		p, ok := t.peer(msg.Sender)
		if !ok {
			log.Warn().Str("module", "rtc").Str("peer", msg.Sender).Msg("answer for unknown peer")
			return nil
		}
		if !p.sameSession(sessionOf(msg.Payload)) {
			p.logger.Debug().Msg("answer from a previous session")
			return nil
		}
		return p.applyAnswer(answer)
	case core.SignalCandidate:
		cand, err := candidateFrom(msg.Payload)
		if err != nil {
			return err
		}
		p, err := t.ensurePeer(msg.Sender)
		if err != nil {
			return err
		}
		return p.addCandidate(cand)
	case core.SignalReconnect:
		if t.self > msg.Sender {
			return nil
		}
		if p, ok := t.peer(msg.Sender); ok && p.sameSession(sessionOf(msg.Payload)) && healthy(p.pc.ConnectionState()) {
			return nil
		}
		t.dropPeer(msg.Sender, false)
		return t.offerTo(ctx, msg.Sender)
	}
	log.Warn().Str("module", "rtc").Str("type", string(msg.Type)).Msg("unknown signal")
	return nil
}

// handleOffer answers an offer. On glare the side with the smaller id keeps
// its own offer and the other side starts over with the remote one. An
// offer from a restarted participant also starts over.
func (t *Transport) handleOffer(ctx context.Context, msg core.SignalMessage) error {
	offer, err := descriptionFrom(msg.Payload, webrtc.SDPTypeOffer)
	if err != nil {
		return err
	}
	session := sessionOf(msg.Payload)
	p, err := t.ensurePeer(msg.Sender)
	if err != nil {
		return err
	}
	restart := !p.sameSession(session)
	if !restart && p.pc.SignalingState() == webrtc.SignalingStateHaveLocalOffer {
		if t.self < msg.Sender {
			p.logger.Debug().Msg("offer collision, keeping local offer")
			return nil
		}
		p.logger.Debug().Msg("offer collision, yielding")
		restart = true
	}
	if restart {
		t.dropPeer(msg.Sender, false)
		if p, err = t.ensurePeer(msg.Sender); err != nil {
			return err
		}
		p.sameSession(session)
	}
	answer, err := p.applyOfferAndCreateAnswer(offer)
	if err != nil {
		return fmt.Errorf("answer %s: %w", msg.Sender, err)
	}
	return t.send(ctx, core.SignalAnswer, msg.Sender, descriptionPayload(answer))
}

// UpdateLocalStream swaps the outgoing tracks on every peer and offers
// again so that the far side sees any added sender.
func (t *Transport) UpdateLocalStream(ctx context.Context, meetingID string, stream *core.MediaStream) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrTransportClosed
	}
	t.local = stream
	if meetingID != "" {
		t.meetingID = meetingID
	}
	peers := make([]*peer, 0, len(t.peers))
	for _, p := range t.peers {
		peers = append(peers, p)
	}
	t.mu.Unlock()

	pl := pool.New().WithErrors().WithContext(ctx)
	for _, p := range peers {
		pl.Go(func(ctx context.Context) error {
			if _, err := p.replace(stream); err != nil {
				return fmt.Errorf("replace tracks for %s: %w", p.pid, err)
			}
			return t.sendOffer(ctx, p)
		})
	}
	return pl.Wait()
}

// Close tears down every peer without reporting removals.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	peers := t.peers
	t.peers = make(map[string]*peer)
	t.mu.Unlock()

	t.cancel()
	for _, p := range peers {
		p.close()
	}
	log.Info().Str("module", "rtc").Int("peers", len(peers)).Msg("transport closed")
	return nil
}

// Peers lists the participants with an open peer connection.
func (t *Transport) Peers() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.peers))
	for id := range t.peers {
		out = append(out, id)
	}
	return out
}

func (t *Transport) peer(pid string) (*peer, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.peers[pid]
	return p, ok
}

func (t *Transport) ensurePeer(pid string) (*peer, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, ErrTransportClosed
	}
	if p, ok := t.peers[pid]; ok {
		return p, nil
	}
	p, err := newPeer(t.ctx, t.cfg, pid)
	if err != nil {
		return nil, fmt.Errorf("peer %s: %w", pid, err)
	}
	if err := p.attach(t.local); err != nil {
		p.close()
		return nil, fmt.Errorf("attach tracks for %s: %w", pid, err)
	}
	t.start(p)
	t.peers[pid] = p
	return p, nil
}

// start wires the pion callbacks of p.
func (t *Transport) start(p *peer) {
	p.pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		p.logger.Info().Str("ice_state", s.String()).Msg("ICE state")
	})

	p.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		p.logger.Info().Str("peer_connection_state", s.String()).Msg("Peer state")
		if s == webrtc.PeerConnectionStateFailed || s == webrtc.PeerConnectionStateClosed {
			t.dropPeerIf(p, true)
		}
	})

	p.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		if err := t.send(p.ctx, core.SignalCandidate, p.pid, candidatePayload(c.ToJSON())); err != nil {
			p.logger.Warn().Err(err).Msg("send ICE candidate")
		}
	})

	p.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		p.logger.Info().
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Msg("OnTrack received")

		rt := newRemoteTrack(track.ID(), kindOf(track.Kind()), t.clock)
		ctx, cancel := context.WithCancel(p.ctx)
		rt.cancel = cancel
		logger := p.logger.With().Str("track_id", track.ID()).Logger()
		go rt.loop(ctx, readRTP(track), &logger)

		stream := p.remoteStream(track.StreamID())
		stream.AddTrack(rt)

		t.mu.Lock()
		fn := t.onRemote
		t.mu.Unlock()
		if fn != nil {
			fn(stream)
		}
	})
}

func (t *Transport) offerTo(ctx context.Context, pid string) error {
	p, err := t.ensurePeer(pid)
	if err != nil {
		return err
	}
	return t.sendOffer(ctx, p)
}

func (t *Transport) sendOffer(ctx context.Context, p *peer) error {
	offer, err := p.createOffer()
	if err != nil {
		return fmt.Errorf("offer %s: %w", p.pid, err)
	}
	return t.send(ctx, core.SignalOffer, p.pid, descriptionPayload(offer))
}

// send stamps every payload with this transport's session so that the far
// side can tell a restarted participant from a duplicate request.
func (t *Transport) send(ctx context.Context, typ core.SignalType, to string, payload map[string]any) error {
	if typ != core.SignalCandidate {
		payload["session"] = t.session
	}
	t.mu.Lock()
	meetingID := t.meetingID
	t.mu.Unlock()
	return t.signals.SendSignal(ctx, core.SignalMessage{
		MeetingID: meetingID,
		Type:      typ,
		Sender:    t.self,
		Receiver:  to,
		Payload:   payload,
		Timestamp: t.clock.Now(),
	})
}

func healthy(s webrtc.PeerConnectionState) bool {
	switch s {
	case webrtc.PeerConnectionStateNew, webrtc.PeerConnectionStateConnecting, webrtc.PeerConnectionStateConnected:
		return true
	}
	return false
}

func sessionOf(payload map[string]any) string {
	s, _ := payload["session"].(string)
	return s
}

func (t *Transport) dropPeer(pid string, notify bool) {
	if p, ok := t.peer(pid); ok {
		t.dropPeerIf(p, notify)
	}
}

// dropPeerIf removes p if it is still the current peer for its id; only
// the call that removes it reports the removal.
func (t *Transport) dropPeerIf(p *peer, notify bool) {
	t.mu.Lock()
	cur, ok := t.peers[p.pid]
	if !ok || cur != p {
		t.mu.Unlock()
		p.close()
		return
	}
	delete(t.peers, p.pid)
	fn := t.onRemoved
	t.mu.Unlock()

	p.close()
	if notify && fn != nil {
		fn(p.pid)
	}
}
