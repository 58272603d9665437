package domain

import (
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewUser(t *testing.T) {
	u, err := NewUser("  Ada Lovelace ")
	require.NoError(t, err)
	require.NotEmpty(t, u.ID)
	require.Equal(t, "Ada Lovelace", u.DisplayName)
	require.Equal(t, "Ada", u.FirstName())

	_, err = NewUser("   ")
	require.ErrorIs(t, err, ErrDisplayNameEmpty)

	_, err = NewUser(strings.Repeat("é", MaxDisplayNameLen+1))
	require.ErrorIs(t, err, ErrDisplayNameTooLong)
}

func TestParticipantStateDocumentHasOneReactionFlag(t *testing.T) {
	s := DefaultParticipantState(time.Unix(100, 0))
	s.Reaction = ReactionClapping

	doc := s.ToDocument()
	set := 0
	for _, flag := range reactionFlags {
		if doc[flag].(bool) {
			set++
		}
	}
	require.Equal(t, 1, set)
	require.Equal(t, true, doc["isClapping"])

	back, err := ParticipantStateFromDocument(doc)
	require.NoError(t, err)
	require.Equal(t, s, back)
}

func TestParticipantStateFromDocumentFirstFlagWins(t *testing.T) {
	s, err := ParticipantStateFromDocument(map[string]any{
		"isAudioEnabled": true,
		"isWaving":       true,
		"isThumbsDown":   true,
		"lastUpdated":    "2025-03-01T10:00:00Z",
	})
	require.NoError(t, err)
	require.Equal(t, ReactionThumbsDown, s.Reaction)
	require.True(t, s.AudioEnabled)
	require.False(t, s.VideoEnabled)
	require.Equal(t, time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC), s.LastUpdated)
}

func TestParseReaction(t *testing.T) {
	r, err := ParseReaction("waving")
	require.NoError(t, err)
	require.Equal(t, ReactionWaving, r)

	r, err = ParseReaction("none")
	require.NoError(t, err)
	require.Equal(t, ReactionNone, r)

	_, err = ParseReaction("dancing")
	require.Error(t, err)
}

func TestMeetingFromJSONShapedDocument(t *testing.T) {
	m, err := MeetingFromDocument("m1", map[string]any{
		"title":           "Standup",
		"host":            "u1",
		"participants":    []any{"u1", "u2"},
		"status":          "active",
		"maxParticipants": float64(2),
		"duration":        float64(30),
		"settings":        map[string]any{"allowChat": true},
		"createdAt":       "2025-03-01T10:00:00Z",
	})
	require.NoError(t, err)
	require.Equal(t, "m1", m.ID)
	require.Equal(t, []string{"u1", "u2"}, m.Participants)
	require.Equal(t, MeetingActive, m.Status)
	require.True(t, m.IsFull())
	require.True(t, m.IsHost("u1"))
	require.Equal(t, []string{"u2"}, m.Others("u1"))
	require.True(t, m.Settings.AllowChat)
	require.Equal(t, time.Date(2025, 3, 1, 10, 30, 0, 0, time.UTC), m.EndsAt())
}

func TestGenerateRoomCode(t *testing.T) {
	re := regexp.MustCompile(`^[A-Z0-9]{4}-[A-Z0-9]{4}$`)
	for range 50 {
		require.Regexp(t, re, GenerateRoomCode())
	}
}
