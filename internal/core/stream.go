package core

import "sync"

// MediaStream groups the tracks of one participant. ParticipantID must be
// set before the stream is handed to anyone else.
type MediaStream struct {
	ID            string
	ParticipantID string

	mu      sync.RWMutex
	tracks  []MediaTrack
	stopped bool
}

func NewMediaStream(id string, tracks ...MediaTrack) *MediaStream {
	return &MediaStream{ID: id, tracks: tracks}
}

func (s *MediaStream) Tracks() []MediaTrack {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]MediaTrack, len(s.tracks))
	copy(out, s.tracks)
	return out
}

func (s *MediaStream) AudioTracks() []MediaTrack { return s.tracksOf(KindAudio) }
func (s *MediaStream) VideoTracks() []MediaTrack { return s.tracksOf(KindVideo) }

func (s *MediaStream) tracksOf(kind TrackKind) []MediaTrack {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []MediaTrack
	for _, t := range s.tracks {
		if t.Kind() == kind {
			out = append(out, t)
		}
	}
	return out
}

// AddTrack appends a track; a track with the same ID replaces the old one.
func (s *MediaStream) AddTrack(t MediaTrack) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, cur := range s.tracks {
		if cur.ID() == t.ID() {
			s.tracks[i] = t
			return
		}
	}
	s.tracks = append(s.tracks, t)
}

func (s *MediaStream) Active() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.stopped
}

// Stop releases every track. Safe to call more than once.
func (s *MediaStream) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	tracks := s.tracks
	s.mu.Unlock()
	for _, t := range tracks {
		t.Stop()
	}
}
