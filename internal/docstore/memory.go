package docstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// Persister is an optional write-through backing for Memory.
type Persister interface {
	SaveDocument(ctx context.Context, doc Document) error
	DeleteDocument(ctx context.Context, ref Ref) error
	LoadDocuments(ctx context.Context) ([]Document, error)
}

type subscription struct {
	id    uint64
	ref   *Ref
	query *Query
	box   *Mailbox
}

// Memory is the in-process Store. Writes are serialised; every
// subscription receives its batches in write order.
type Memory struct {
	clock   clockwork.Clock
	persist Persister

	mu     sync.RWMutex
	docs   map[string]map[string]map[string]any
	subs   map[uint64]*subscription
	nextID uint64
}

type Option func(*Memory)

func WithClock(c clockwork.Clock) Option { return func(m *Memory) { m.clock = c } }

func WithPersister(p Persister) Option { return func(m *Memory) { m.persist = p } }

func NewMemory(opts ...Option) *Memory {
	m := &Memory{
		clock: clockwork.NewRealClock(),
		docs:  make(map[string]map[string]map[string]any),
		subs:  make(map[uint64]*subscription),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Load fills the store from the persister. Existing documents with the same
// ref are overwritten; subscribers are not notified.
func (m *Memory) Load(ctx context.Context) (int, error) {
	if m.persist == nil {
		return 0, nil
	}
	docs, err := m.persist.LoadDocuments(ctx)
	if err != nil {
		return 0, fmt.Errorf("load documents: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range docs {
		m.putLocked(d.Ref, cloneMap(d.Data))
	}
	log.Info().Str("module", "docstore").Int("count", len(docs)).Msg("documents loaded")
	return len(docs), nil
}

func (m *Memory) Get(_ context.Context, ref Ref) (Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.getLocked(ref)
	if !ok {
		return Document{}, fmt.Errorf("%s: %w", ref.Path(), ErrNotFound)
	}
	return Document{Ref: ref, Data: cloneMap(data)}, nil
}

func (m *Memory) Set(ctx context.Context, ref Ref, data map[string]any, merge bool) error {
	if !ref.Valid() {
		return fmt.Errorf("set: invalid ref %q", ref.Path())
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	old, existed := m.getLocked(ref)
	base := map[string]any{}
	if merge && existed {
		base = old
	}
	return m.commitLocked(ctx, ref, old, existed, resolve(base, data, m.clock.Now()))
}

func (m *Memory) Update(ctx context.Context, ref Ref, fields map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	old, existed := m.getLocked(ref)
	if !existed {
		return fmt.Errorf("update %s: %w", ref.Path(), ErrNotFound)
	}
	return m.commitLocked(ctx, ref, old, true, resolve(old, fields, m.clock.Now()))
}

func (m *Memory) Add(ctx context.Context, collection string, data map[string]any) (Ref, error) {
	ref := Ref{Collection: collection, ID: uuid.NewString()}
	if err := m.Set(ctx, ref, data, false); err != nil {
		return Ref{}, err
	}
	return ref, nil
}

// Delete of a missing document is not an error.
func (m *Memory) Delete(ctx context.Context, ref Ref) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	old, existed := m.getLocked(ref)
	if !existed {
		return nil
	}
	if m.persist != nil {
		if err := m.persist.DeleteDocument(ctx, ref); err != nil {
			return fmt.Errorf("delete %s: %w", ref.Path(), err)
		}
	}
	delete(m.docs[ref.Collection], ref.ID)
	if len(m.docs[ref.Collection]) == 0 {
		delete(m.docs, ref.Collection)
	}
	m.notifyLocked(Document{Ref: ref, Data: old}, true, Document{Ref: ref}, false)
	return nil
}

func (m *Memory) Query(_ context.Context, q Query) ([]Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.queryLocked(q), nil
}

func (m *Memory) SubscribeDoc(_ context.Context, ref Ref, fn func([]Change), _ func(error)) (Unsubscribe, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub := m.addSubLocked(&subscription{ref: &ref, box: NewMailbox(fn)})
	if data, ok := m.getLocked(ref); ok {
		sub.box.Post([]Change{{Type: ChangeAdded, Doc: Document{Ref: ref, Data: cloneMap(data)}}})
	}
	return m.unsubscribe(sub.id), nil
}

func (m *Memory) SubscribeQuery(_ context.Context, q Query, fn func([]Change), _ func(error)) (Unsubscribe, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub := m.addSubLocked(&subscription{query: &q, box: NewMailbox(fn)})
	docs := m.queryLocked(q)
	if len(docs) > 0 {
		batch := make([]Change, len(docs))
		for i, d := range docs {
			batch[i] = Change{Type: ChangeAdded, Doc: d}
		}
		sub.box.Post(batch)
	}
	return m.unsubscribe(sub.id), nil
}

// Subscriptions reports the number of live subscriptions.
func (m *Memory) Subscriptions() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subs)
}

func (m *Memory) addSubLocked(s *subscription) *subscription {
	m.nextID++
	s.id = m.nextID
	m.subs[s.id] = s
	return s
}

func (m *Memory) unsubscribe(id uint64) Unsubscribe {
	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			sub, ok := m.subs[id]
			delete(m.subs, id)
			m.mu.Unlock()
			if ok {
				sub.box.Close()
			}
		})
	}
}

func (m *Memory) getLocked(ref Ref) (map[string]any, bool) {
	coll, ok := m.docs[ref.Collection]
	if !ok {
		return nil, false
	}
	data, ok := coll[ref.ID]
	return data, ok
}

func (m *Memory) putLocked(ref Ref, data map[string]any) {
	coll, ok := m.docs[ref.Collection]
	if !ok {
		coll = make(map[string]map[string]any)
		m.docs[ref.Collection] = coll
	}
	coll[ref.ID] = data
}

func (m *Memory) commitLocked(ctx context.Context, ref Ref, old map[string]any, existed bool, next map[string]any) error {
	doc := Document{Ref: ref, Data: next}
	if m.persist != nil {
		if err := m.persist.SaveDocument(ctx, doc); err != nil {
			return fmt.Errorf("save %s: %w", ref.Path(), err)
		}
	}
	m.putLocked(ref, next)
	m.notifyLocked(Document{Ref: ref, Data: old}, existed, doc, true)
	return nil
}

func (m *Memory) queryLocked(q Query) []Document {
	var out []Document
	for id, data := range m.docs[q.Collection] {
		d := Document{Ref: Ref{Collection: q.Collection, ID: id}, Data: data}
		if q.Matches(d) {
			out = append(out, Document{Ref: d.Ref, Data: cloneMap(data)})
		}
	}
	q.sort(out)
	return out
}

// notifyLocked computes the change each subscription sees for one write.
func (m *Memory) notifyLocked(before Document, existed bool, after Document, exists bool) {
	for _, sub := range m.subs {
		var was, is bool
		switch {
		case sub.ref != nil:
			if *sub.ref != before.Ref && *sub.ref != after.Ref {
				continue
			}
			was, is = existed, exists
		case sub.query != nil:
			was = existed && sub.query.Matches(before)
			is = exists && sub.query.Matches(after)
		}
		var ch Change
		switch {
		case !was && is:
			ch = Change{Type: ChangeAdded, Doc: Document{Ref: after.Ref, Data: cloneMap(after.Data)}}
		case was && is:
			ch = Change{Type: ChangeModified, Doc: Document{Ref: after.Ref, Data: cloneMap(after.Data)}}
		case was && !is:
			ch = Change{Type: ChangeRemoved, Doc: Document{Ref: before.Ref, Data: cloneMap(before.Data)}}
		default:
			continue
		}
		sub.box.Post([]Change{ch})
	}
}

var _ Store = (*Memory)(nil)
