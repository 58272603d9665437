package docsync

import (
	"context"
	"sync"

	"github.com/dkeye/huddle/internal/docstore"
	"github.com/dkeye/huddle/internal/domain"
	"github.com/dkeye/huddle/internal/metrics"
	"github.com/rs/zerolog/log"
)

type sessionEntry struct {
	User   domain.User
	Conn   *WsSyncConn
	Cancel context.CancelFunc
	subs   map[string]subEntry
}

type subEntry struct {
	kind  string
	unsub docstore.Unsubscribe
}

// Registry tracks open sockets and the subscriptions each one holds.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*sessionEntry
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*sessionEntry)}
}

func (r *Registry) Bind(sid string, user domain.User, conn *WsSyncConn, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[sid] = &sessionEntry{User: user, Conn: conn, Cancel: cancel, subs: make(map[string]subEntry)}
	metrics.SyncConnection(1)
	log.Info().Str("module", "docsync.registry").Str("sid", sid).Str("user", user.ID).Msg("bound socket")
}

// AddSub records a live subscription. It reports false when the socket is
// gone or the id is taken; the caller then owns unsub.
func (r *Registry) AddSub(sid, subID, kind string, unsub docstore.Unsubscribe) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sid]
	if !ok {
		return false
	}
	if _, dup := e.subs[subID]; dup {
		return false
	}
	e.subs[subID] = subEntry{kind: kind, unsub: unsub}
	metrics.SyncSubscription(kind, "open")
	return true
}

func (r *Registry) HasSub(sid, subID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sessions[sid]
	if !ok {
		return false
	}
	_, ok = e.subs[subID]
	return ok
}

func (r *Registry) RemoveSub(sid, subID string) bool {
	r.mu.Lock()
	e, ok := r.sessions[sid]
	if !ok {
		r.mu.Unlock()
		return false
	}
	sub, ok := e.subs[subID]
	delete(e.subs, subID)
	r.mu.Unlock()
	if !ok {
		return false
	}
	sub.unsub()
	metrics.SyncSubscription(sub.kind, "close")
	return true
}

func (r *Registry) Subs(sid string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.sessions[sid]; ok {
		return len(e.subs)
	}
	return 0
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// SocketsOf counts the sockets a user has open.
func (r *Registry) SocketsOf(uid string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, e := range r.sessions {
		if e.User.ID == uid {
			n++
		}
	}
	return n
}

// Unbind forgets the socket and releases every subscription it held.
func (r *Registry) Unbind(sid string) {
	r.mu.Lock()
	e, ok := r.sessions[sid]
	delete(r.sessions, sid)
	r.mu.Unlock()
	if !ok {
		return
	}
	for _, sub := range e.subs {
		sub.unsub()
		metrics.SyncSubscription(sub.kind, "release")
	}
	metrics.SyncConnection(-1)
	log.Info().Str("module", "docsync.registry").Str("sid", sid).Int("subs", len(e.subs)).Msg("unbind socket")
}

func (r *Registry) Cancel(sid string) bool {
	r.mu.RLock()
	e, ok := r.sessions[sid]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if e.Cancel != nil {
		e.Cancel()
	}
	log.Info().Str("module", "docsync.registry").Str("sid", sid).Msg("canceled socket")
	return true
}
