package domain

import (
	"fmt"
	"math/rand/v2"
	"slices"
	"strings"
	"time"
)

type MeetingStatus string

const (
	MeetingScheduled MeetingStatus = "scheduled"
	MeetingActive    MeetingStatus = "active"
	MeetingCompleted MeetingStatus = "completed"
	MeetingCancelled MeetingStatus = "cancelled"
)

const (
	MinMeetingDuration   = 1
	MaxMeetingDuration   = 100
	MinMeetingCapacity   = 2
	DefaultMeetingCap    = 10
	roomCodeAlphabet     = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	roomCodeSegmentWidth = 4
)

type MeetingSettings struct {
	MuteOnEntry      bool `mapstructure:"muteOnEntry"`
	AllowChat        bool `mapstructure:"allowChat"`
	AllowScreenShare bool `mapstructure:"allowScreenShare"`
	RecordingEnabled bool `mapstructure:"recordingEnabled"`
}

func DefaultMeetingSettings() MeetingSettings {
	return MeetingSettings{AllowChat: true, AllowScreenShare: true}
}

// Meeting is the client's read-through copy of meetings/{id}.
type Meeting struct {
	ID              string          `mapstructure:"-"`
	Title           string          `mapstructure:"title"`
	Description     string          `mapstructure:"description"`
	Host            string          `mapstructure:"host"`
	TaskID          string          `mapstructure:"taskId"`
	Participants    []string        `mapstructure:"participants"`
	Status          MeetingStatus   `mapstructure:"status"`
	RoomCode        string          `mapstructure:"roomCode"`
	IsPrivate       bool            `mapstructure:"isPrivate"`
	MaxParticipants int             `mapstructure:"maxParticipants"`
	Duration        int             `mapstructure:"duration"`
	Settings        MeetingSettings `mapstructure:"settings"`
	CreatedAt       time.Time       `mapstructure:"createdAt"`
	UpdatedAt       time.Time       `mapstructure:"updatedAt"`
}

func (m Meeting) IsHost(userID string) bool { return m.Host == userID }

func (m Meeting) HasParticipant(userID string) bool {
	return slices.Contains(m.Participants, userID)
}

// IsOver reports a terminal status.
func (m Meeting) IsOver() bool {
	return m.Status == MeetingCompleted || m.Status == MeetingCancelled
}

func (m Meeting) IsFull() bool {
	return m.MaxParticipants > 0 && len(m.Participants) >= m.MaxParticipants
}

// EndsAt is CreatedAt plus the planned duration.
func (m Meeting) EndsAt() time.Time {
	return m.CreatedAt.Add(time.Duration(m.Duration) * time.Minute)
}

// Others returns every participant except userID.
func (m Meeting) Others(userID string) []string {
	out := make([]string, 0, len(m.Participants))
	for _, p := range m.Participants {
		if p != userID {
			out = append(out, p)
		}
	}
	return out
}

// ToDocument leaves out timestamps; writers decide between a fixed time
// and a server timestamp.
func (m Meeting) ToDocument() map[string]any {
	participants := make([]any, len(m.Participants))
	for i, p := range m.Participants {
		participants[i] = p
	}
	return map[string]any{
		"title":           m.Title,
		"description":     m.Description,
		"host":            m.Host,
		"taskId":          m.TaskID,
		"participants":    participants,
		"status":          string(m.Status),
		"roomCode":        m.RoomCode,
		"isPrivate":       m.IsPrivate,
		"maxParticipants": m.MaxParticipants,
		"duration":        m.Duration,
		"settings": map[string]any{
			"muteOnEntry":      m.Settings.MuteOnEntry,
			"allowChat":        m.Settings.AllowChat,
			"allowScreenShare": m.Settings.AllowScreenShare,
			"recordingEnabled": m.Settings.RecordingEnabled,
		},
	}
}

func MeetingFromDocument(id string, data map[string]any) (Meeting, error) {
	var m Meeting
	if err := decode(data, &m); err != nil {
		return Meeting{}, fmt.Errorf("decode meeting %s: %w", id, err)
	}
	m.ID = id
	return m, nil
}

// GenerateRoomCode returns a code shaped like "K3QZ-8HWA".
func GenerateRoomCode() string {
	var b strings.Builder
	for i := range 2 * roomCodeSegmentWidth {
		if i == roomCodeSegmentWidth {
			b.WriteByte('-')
		}
		b.WriteByte(roomCodeAlphabet[rand.IntN(len(roomCodeAlphabet))])
	}
	return b.String()
}
