package domain

import (
	"fmt"
	"time"
)

// ChatMessage lives in meetings/{id}/messages. Text is immutable apart from
// explicit edits; Reactions holds one slot per reacting user.
type ChatMessage struct {
	ID         string            `mapstructure:"-"`
	SenderID   string            `mapstructure:"senderId"`
	SenderName string            `mapstructure:"senderName"`
	Text       string            `mapstructure:"text"`
	Timestamp  time.Time         `mapstructure:"timestamp"`
	Edited     bool              `mapstructure:"edited"`
	EditedAt   time.Time         `mapstructure:"editedAt"`
	Reactions  map[string]string `mapstructure:"reactions"`
}

func ChatMessageFromDocument(id string, data map[string]any) (ChatMessage, error) {
	var m ChatMessage
	if err := decode(data, &m); err != nil {
		return ChatMessage{}, fmt.Errorf("decode chat message %s: %w", id, err)
	}
	m.ID = id
	if m.Reactions == nil {
		m.Reactions = map[string]string{}
	}
	return m, nil
}
