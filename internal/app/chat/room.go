// Package chat is the in-call message list of one meeting.
package chat

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/dkeye/huddle/internal/docstore"
	"github.com/dkeye/huddle/internal/domain"
	"github.com/rs/zerolog/log"
)

const CollectionName = "messages"

var ErrNotSender = errors.New("only the sender can change a message")

// Collection returns meetings/{meetingID}/messages.
func Collection(meetingID string) string {
	return docstore.Doc("meetings", meetingID).Sub(CollectionName)
}

// Message is a chat message as seen by the local user.
type Message struct {
	domain.ChatMessage
	IsMe bool
}

type Room struct {
	meetingID string
	self      domain.User
	docs      docstore.Store

	mu        sync.RWMutex
	messages  []Message
	observers []func([]Message)
	unsub     docstore.Unsubscribe
	closed    bool
}

func New(meetingID string, self domain.User, docs docstore.Store) *Room {
	return &Room{meetingID: meetingID, self: self, docs: docs}
}

func (r *Room) ref(id string) docstore.Ref { return docstore.Doc(Collection(r.meetingID), id) }

// Subscribe follows the message list in timestamp order. Added messages
// are appended, modified ones replaced in place.
func (r *Room) Subscribe(ctx context.Context) error {
	q := docstore.Collection(Collection(r.meetingID)).Order("timestamp")
	unsub, err := r.docs.SubscribeQuery(ctx, q, r.onChanges, func(err error) {
		log.Error().Err(err).Str("module", "chat").Str("meeting", r.meetingID).Msg("message subscription")
	})
	if err != nil {
		return fmt.Errorf("subscribe messages: %w", err)
	}
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		unsub()
		return nil
	}
	if r.unsub != nil {
		r.unsub()
	}
	r.unsub = unsub
	r.mu.Unlock()
	return nil
}

func (r *Room) onChanges(changes []docstore.Change) {
	r.mu.Lock()
	for _, ch := range changes {
		id := ch.Doc.Ref.ID
		idx := slices.IndexFunc(r.messages, func(m Message) bool { return m.ID == id })
		if ch.Type == docstore.ChangeRemoved {
			if idx >= 0 {
				r.messages = slices.Delete(r.messages, idx, idx+1)
			}
			continue
		}
		cm, err := domain.ChatMessageFromDocument(id, ch.Doc.Data)
		if err != nil {
			log.Warn().Err(err).Str("module", "chat").Msg("skip malformed message")
			continue
		}
		msg := Message{ChatMessage: cm, IsMe: cm.SenderID == r.self.ID}
		if idx >= 0 {
			r.messages[idx] = msg
		} else {
			r.messages = append(r.messages, msg)
		}
	}
	snapshot := slices.Clone(r.messages)
	obs := slices.Clone(r.observers)
	r.mu.Unlock()

	for _, fn := range obs {
		fn(snapshot)
	}
}

// OnChange registers fn for every new snapshot of the list.
func (r *Room) OnChange(fn func([]Message)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers = append(r.observers, fn)
}

func (r *Room) Messages() []Message {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.messages)
}

// Send posts text under the sender's first name. Blank text is ignored.
func (r *Room) Send(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	_, err := r.docs.Add(ctx, Collection(r.meetingID), map[string]any{
		"text":       text,
		"senderId":   r.self.ID,
		"senderName": r.self.FirstName(),
		"timestamp":  docstore.ServerTimestamp(),
		"reactions":  map[string]any{},
	})
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

func (r *Room) own(ctx context.Context, id string) (domain.ChatMessage, error) {
	doc, err := r.docs.Get(ctx, r.ref(id))
	if err != nil {
		return domain.ChatMessage{}, err
	}
	m, err := domain.ChatMessageFromDocument(id, doc.Data)
	if err != nil {
		return domain.ChatMessage{}, err
	}
	if m.SenderID != r.self.ID {
		return domain.ChatMessage{}, ErrNotSender
	}
	return m, nil
}

func (r *Room) Edit(ctx context.Context, id, text string) error {
	text = strings.TrimSpace(text)
	if id == "" || text == "" {
		return nil
	}
	if _, err := r.own(ctx, id); err != nil {
		return fmt.Errorf("edit message: %w", err)
	}
	err := r.docs.Update(ctx, r.ref(id), map[string]any{
		"text":     text,
		"edited":   true,
		"editedAt": docstore.ServerTimestamp(),
	})
	if err != nil {
		return fmt.Errorf("edit message: %w", err)
	}
	return nil
}

func (r *Room) Delete(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	if _, err := r.own(ctx, id); err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	if err := r.docs.Delete(ctx, r.ref(id)); err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return nil
}

// React toggles the caller's reaction slot: the same reaction clears it,
// any other one overwrites it.
func (r *Room) React(ctx context.Context, id, reaction string) error {
	doc, err := r.docs.Get(ctx, r.ref(id))
	if err != nil {
		return fmt.Errorf("react to message: %w", err)
	}
	m, err := domain.ChatMessageFromDocument(id, doc.Data)
	if err != nil {
		return err
	}
	reactions := maps.Clone(m.Reactions)
	if reactions[r.self.ID] == reaction {
		delete(reactions, r.self.ID)
	} else {
		reactions[r.self.ID] = reaction
	}
	out := make(map[string]any, len(reactions))
	for k, v := range reactions {
		out[k] = v
	}
	if err := r.docs.Update(ctx, r.ref(id), map[string]any{"reactions": out}); err != nil {
		return fmt.Errorf("react to message: %w", err)
	}
	return nil
}

// Close stops the subscription. Idempotent.
func (r *Room) Close() error {
	r.mu.Lock()
	r.closed = true
	unsub := r.unsub
	r.unsub = nil
	r.mu.Unlock()
	if unsub != nil {
		unsub()
	}
	return nil
}
