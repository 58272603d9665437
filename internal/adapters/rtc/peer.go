package rtc

import (
	"context"
	"sync"

	"github.com/dkeye/huddle/internal/core"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// peer is the connection to one remote participant.
type peer struct {
	pid    string
	pc     *webrtc.PeerConnection
	logger zerolog.Logger
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	senders map[core.TrackKind]*webrtc.RTPSender
	pending []webrtc.ICECandidateInit
	remote  *core.MediaStream
	session string
	closed  bool
}

func newPeer(ctx context.Context, cfg webrtc.Configuration, pid string) (*peer, error) {
	pc, err := webrtc.NewPeerConnection(cfg)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(ctx)
	return &peer{
		pid:     pid,
		pc:      pc,
		logger:  log.With().Str("module", "rtc").Str("peer", pid).Logger(),
		ctx:     ctx,
		cancel:  cancel,
		senders: make(map[core.TrackKind]*webrtc.RTPSender),
	}, nil
}

// attach sends the local tracks of s and keeps a receive slot open for
// every kind the local side does not send.
func (p *peer) attach(s *core.MediaStream) error {
	for _, kind := range []core.TrackKind{core.KindAudio, core.KindVideo} {
		if t, ok := sendableOf(s, kind); ok {
			sender, err := p.pc.AddTrack(t.Local())
			if err != nil {
				return err
			}
			p.mu.Lock()
			p.senders[kind] = sender
			p.mu.Unlock()
			continue
		}
		codec := webrtc.RTPCodecTypeAudio
		if kind == core.KindVideo {
			codec = webrtc.RTPCodecTypeVideo
		}
		if _, err := p.pc.AddTransceiverFromKind(codec, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			return err
		}
	}
	return nil
}

// replace swaps the outgoing tracks for those of s. It reports whether a
// new sender had to be added, which needs renegotiation.
func (p *peer) replace(s *core.MediaStream) (bool, error) {
	added := false
	for _, kind := range []core.TrackKind{core.KindAudio, core.KindVideo} {
		t, ok := sendableOf(s, kind)
		p.mu.Lock()
		sender := p.senders[kind]
		p.mu.Unlock()

		switch {
		case sender != nil && ok:
			if err := sender.ReplaceTrack(t.Local()); err != nil {
				return added, err
			}
		case sender != nil:
			if err := sender.ReplaceTrack(nil); err != nil {
				return added, err
			}
		case ok:
			sender, err := p.pc.AddTrack(t.Local())
			if err != nil {
				return added, err
			}
			p.mu.Lock()
			p.senders[kind] = sender
			p.mu.Unlock()
			added = true
		}
	}
	return added, nil
}

func (p *peer) createOffer() (webrtc.SessionDescription, error) {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	return offer, nil
}

func (p *peer) applyOfferAndCreateAnswer(offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	if err := p.pc.SetRemoteDescription(offer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	p.flushCandidates()
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	return answer, nil
}

func (p *peer) applyAnswer(answer webrtc.SessionDescription) error {
	if p.pc.SignalingState() != webrtc.SignalingStateHaveLocalOffer {
		p.logger.Debug().Str("state", p.pc.SignalingState().String()).Msg("answer without local offer")
		return nil
	}
	if err := p.pc.SetRemoteDescription(answer); err != nil {
		return err
	}
	p.flushCandidates()
	return nil
}

// addCandidate buffers candidates that arrive before the remote description.
func (p *peer) addCandidate(c webrtc.ICECandidateInit) error {
	p.mu.Lock()
	if p.pc.RemoteDescription() == nil {
		p.pending = append(p.pending, c)
		p.mu.Unlock()
		p.logger.Debug().Msg("buffering ICE candidate")
		return nil
	}
	p.mu.Unlock()
	return p.pc.AddICECandidate(c)
}

func (p *peer) pendingCandidates() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

func (p *peer) flushCandidates() {
	p.mu.Lock()
	pending := p.pending
	p.pending = nil
	p.mu.Unlock()
	for _, c := range pending {
		if err := p.pc.AddICECandidate(c); err != nil {
			p.logger.Warn().Err(err).Msg("buffered ICE candidate")
		}
	}
}

// remoteStream returns the stream collecting this peer's tracks, creating
// it on first use.
func (p *peer) remoteStream(streamID string) *core.MediaStream {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.remote == nil {
		p.remote = core.NewMediaStream(streamID)
		p.remote.ParticipantID = p.pid
	}
	return p.remote
}

// sameSession records the far side's session the first time it is seen and
// reports whether session matches it. An empty session always matches.
func (p *peer) sameSession(session string) bool {
	if session == "" {
		return true
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.session == "" {
		p.session = session
		return true
	}
	return p.session == session
}

// close is idempotent and reports whether this call closed the peer.
func (p *peer) close() bool {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return false
	}
	p.closed = true
	remote := p.remote
	p.mu.Unlock()

	p.cancel()
	if remote != nil {
		remote.Stop()
	}
	if err := p.pc.Close(); err != nil {
		p.logger.Error().Err(err).Msg("close error")
	} else {
		p.logger.Info().Msg("closed")
	}
	return true
}
