// Package docsync serves a docstore.Store to remote clients over websocket.
// Every request frame gets exactly one result frame carrying the same id;
// subscription changes are pushed as separate frames.
package docsync

import (
	"github.com/dkeye/huddle/internal/docstore"
)

type Op string

const (
	OpGet            Op = "get"
	OpSet            Op = "set"
	OpUpdate         Op = "update"
	OpAdd            Op = "add"
	OpDelete         Op = "delete"
	OpQuery          Op = "query"
	OpSubscribeDoc   Op = "subscribe_doc"
	OpSubscribeQuery Op = "subscribe_query"
	OpUnsubscribe    Op = "unsubscribe"
	OpPing           Op = "ping"
)

// IsWrite reports ops that count against the per-user write limit.
func (o Op) IsWrite() bool {
	switch o {
	case OpSet, OpUpdate, OpAdd, OpDelete:
		return true
	}
	return false
}

const (
	TypeResult   = "result"
	TypeChanges  = "changes"
	TypeSubError = "sub_error"
)

// Error codes carried in Response.Code.
const (
	CodeNotFound    = "not_found"
	CodeBadRequest  = "bad_request"
	CodeRateLimited = "rate_limited"
	CodeInternal    = "internal"
)

type Request struct {
	ID         string         `json:"id"`
	Op         Op             `json:"op"`
	Ref        docstore.Ref   `json:"ref,omitempty"`
	Collection string         `json:"collection,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
	Merge      bool           `json:"merge,omitempty"`
	Query      docstore.Query `json:"query,omitempty"`
	Sub        string         `json:"sub,omitempty"`
}

type Response struct {
	Type  string              `json:"type"`
	ID    string              `json:"id"`
	Error string              `json:"error,omitempty"`
	Code  string              `json:"code,omitempty"`
	Doc   *docstore.Document  `json:"doc,omitempty"`
	Docs  []docstore.Document `json:"docs,omitempty"`
	NewID string              `json:"new_id,omitempty"`
}

// Push is an unsolicited frame for one subscription.
type Push struct {
	Type    string            `json:"type"`
	Sub     string            `json:"sub"`
	Changes []docstore.Change `json:"changes,omitempty"`
	Error   string            `json:"error,omitempty"`
}

// Envelope is enough of any server frame to route it.
type Envelope struct {
	Type string `json:"type"`
	ID   string `json:"id"`
	Sub  string `json:"sub"`
}
