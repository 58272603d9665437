// Package docstore models the backend data service: documents grouped in
// collections, queried by simple filters and observed through change
// subscriptions that deliver full snapshots.
package docstore

import (
	"context"
	"errors"
	"strings"
)

var (
	ErrNotFound = errors.New("document not found")
	ErrClosed   = errors.New("store closed")
)

// Ref addresses one document. Collection may be nested, for example
// "meetings/abc/participantStates".
type Ref struct {
	Collection string `json:"collection"`
	ID         string `json:"id"`
}

func Doc(collection, id string) Ref { return Ref{Collection: collection, ID: id} }

func (r Ref) Path() string { return r.Collection + "/" + r.ID }

// Sub names a collection nested under this document.
func (r Ref) Sub(collection string) string { return r.Path() + "/" + collection }

func (r Ref) Valid() bool {
	return r.Collection != "" && r.ID != "" && !strings.Contains(r.ID, "/")
}

type Document struct {
	Ref  Ref            `json:"ref"`
	Data map[string]any `json:"data"`
}

type ChangeType string

const (
	ChangeAdded    ChangeType = "added"
	ChangeModified ChangeType = "modified"
	ChangeRemoved  ChangeType = "removed"
)

// Change carries the document after the write, or before it for removals.
type Change struct {
	Type ChangeType `json:"type"`
	Doc  Document   `json:"doc"`
}

// Unsubscribe stops deliveries. It is safe to call more than once and from
// inside the subscription callback.
type Unsubscribe func()

// Store is the call/response plus subscribe/callback surface every
// component depends on.
type Store interface {
	Get(ctx context.Context, ref Ref) (Document, error)
	// Set replaces the document, or merges top-level fields when merge is true.
	Set(ctx context.Context, ref Ref, data map[string]any, merge bool) error
	// Update merges fields into an existing document and fails with
	// ErrNotFound otherwise. Values may be transforms.
	Update(ctx context.Context, ref Ref, fields map[string]any) error
	// Add creates a document with a generated id.
	Add(ctx context.Context, collection string, data map[string]any) (Ref, error)
	Delete(ctx context.Context, ref Ref) error
	Query(ctx context.Context, q Query) ([]Document, error)
	// SubscribeDoc delivers the current snapshot first when it exists.
	SubscribeDoc(ctx context.Context, ref Ref, fn func([]Change), onErr func(error)) (Unsubscribe, error)
	// SubscribeQuery reports every current match as added first.
	SubscribeQuery(ctx context.Context, q Query, fn func([]Change), onErr func(error)) (Unsubscribe, error)
}
