package core

import (
	"context"
	"fmt"
	"time"

	"github.com/mitchellh/mapstructure"
)

// Frame is a raw binary payload.
type Frame []byte

// FrameConnection abstracts a socket that pushes frames to one client.
// Owned by the adapter; the adapter must Close() it.
type FrameConnection interface {
	TrySend(Frame) error
	Close()
}

// SignalingCollection holds per-receiver signaling messages; a receiver
// deletes each message once it has consumed it.
const SignalingCollection = "signaling"

type SignalType string

const (
	SignalOffer     SignalType = "offer"
	SignalAnswer    SignalType = "answer"
	SignalCandidate SignalType = "candidate"
	SignalReconnect SignalType = "reconnect"
)

// SignalMessage is one entry of the per-meeting signaling channel.
type SignalMessage struct {
	ID        string         `mapstructure:"-"`
	MeetingID string         `mapstructure:"meetingId"`
	Type      SignalType     `mapstructure:"type"`
	Sender    string         `mapstructure:"sender"`
	Receiver  string         `mapstructure:"receiver"`
	Payload   map[string]any `mapstructure:"payload"`
	Timestamp time.Time      `mapstructure:"timestamp"`
}

// SignalSender delivers a message to its receiver.
type SignalSender interface {
	SendSignal(ctx context.Context, msg SignalMessage) error
}

func (m SignalMessage) ToDocument() map[string]any {
	return map[string]any{
		"meetingId": m.MeetingID,
		"type":      string(m.Type),
		"sender":    m.Sender,
		"receiver":  m.Receiver,
		"payload":   m.Payload,
		"timestamp": m.Timestamp,
	}
}

func SignalFromDocument(id string, data map[string]any) (SignalMessage, error) {
	var m SignalMessage
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.StringToTimeHookFunc(time.RFC3339Nano),
		Result:     &m,
	})
	if err != nil {
		return SignalMessage{}, err
	}
	if err := dec.Decode(data); err != nil {
		return SignalMessage{}, fmt.Errorf("decode signal %s: %w", id, err)
	}
	m.ID = id
	return m, nil
}
