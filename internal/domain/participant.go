package domain

import (
	"fmt"
	"time"
)

// Reaction is the single reaction a participant currently shows.
// Mutual exclusion is structural: there is one slot, not five flags.
type Reaction string

const (
	ReactionNone       Reaction = ""
	ReactionThumbsUp   Reaction = "thumbsUp"
	ReactionThumbsDown Reaction = "thumbsDown"
	ReactionClapping   Reaction = "clapping"
	ReactionWaving     Reaction = "waving"
	ReactionSmiling    Reaction = "smiling"
)

// Reactions lists every non-empty reaction in document flag order.
var Reactions = []Reaction{
	ReactionThumbsUp,
	ReactionThumbsDown,
	ReactionClapping,
	ReactionWaving,
	ReactionSmiling,
}

var reactionFlags = map[Reaction]string{
	ReactionThumbsUp:   "isThumbsUp",
	ReactionThumbsDown: "isThumbsDown",
	ReactionClapping:   "isClapping",
	ReactionWaving:     "isWaving",
	ReactionSmiling:    "isSmiling",
}

func ParseReaction(s string) (Reaction, error) {
	if s == "" || s == "none" {
		return ReactionNone, nil
	}
	r := Reaction(s)
	if _, ok := reactionFlags[r]; !ok {
		return ReactionNone, fmt.Errorf("unknown reaction %q", s)
	}
	return r, nil
}

func (r Reaction) String() string {
	if r == ReactionNone {
		return "none"
	}
	return string(r)
}

// ParticipantState is the ephemeral per-participant record shared through
// meetings/{id}/participantStates/{participantID}.
type ParticipantState struct {
	AudioEnabled  bool
	VideoEnabled  bool
	HandRaised    bool
	Speaking      bool
	ScreenSharing bool
	Reaction      Reaction
	LastUpdated   time.Time
}

func DefaultParticipantState(now time.Time) ParticipantState {
	return ParticipantState{
		AudioEnabled: true,
		VideoEnabled: true,
		LastUpdated:  now,
	}
}

// ToDocument writes every reaction flag so that a merge on the backend
// clears the ones that are no longer set.
func (s ParticipantState) ToDocument() map[string]any {
	doc := map[string]any{
		"isAudioEnabled":  s.AudioEnabled,
		"isVideoEnabled":  s.VideoEnabled,
		"isHandRaised":    s.HandRaised,
		"isSpeaking":      s.Speaking,
		"isScreenSharing": s.ScreenSharing,
		"lastUpdated":     s.LastUpdated,
	}
	for r, flag := range reactionFlags {
		doc[flag] = s.Reaction == r
	}
	return doc
}

type participantDoc struct {
	AudioEnabled  bool      `mapstructure:"isAudioEnabled"`
	VideoEnabled  bool      `mapstructure:"isVideoEnabled"`
	HandRaised    bool      `mapstructure:"isHandRaised"`
	Speaking      bool      `mapstructure:"isSpeaking"`
	ScreenSharing bool      `mapstructure:"isScreenSharing"`
	ThumbsUp      bool      `mapstructure:"isThumbsUp"`
	ThumbsDown    bool      `mapstructure:"isThumbsDown"`
	Clapping      bool      `mapstructure:"isClapping"`
	Waving        bool      `mapstructure:"isWaving"`
	Smiling       bool      `mapstructure:"isSmiling"`
	LastUpdated   time.Time `mapstructure:"lastUpdated"`
}

// ParticipantStateFromDocument decodes a backend record. Records written by
// older clients may carry several reaction flags; the first one set wins.
func ParticipantStateFromDocument(data map[string]any) (ParticipantState, error) {
	var d participantDoc
	if err := decode(data, &d); err != nil {
		return ParticipantState{}, fmt.Errorf("decode participant state: %w", err)
	}
	s := ParticipantState{
		AudioEnabled:  d.AudioEnabled,
		VideoEnabled:  d.VideoEnabled,
		HandRaised:    d.HandRaised,
		Speaking:      d.Speaking,
		ScreenSharing: d.ScreenSharing,
		LastUpdated:   d.LastUpdated,
	}
	flags := []bool{d.ThumbsUp, d.ThumbsDown, d.Clapping, d.Waving, d.Smiling}
	for i, set := range flags {
		if set {
			s.Reaction = Reactions[i]
			break
		}
	}
	return s, nil
}
