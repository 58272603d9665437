package syncclient

import (
	"context"
	"strconv"
	"sync"

	"github.com/dkeye/huddle/internal/adapters/docsync"
	"github.com/dkeye/huddle/internal/docstore"
	"github.com/rs/zerolog/log"
)

func (c *Client) Get(ctx context.Context, ref docstore.Ref) (docstore.Document, error) {
	resp, err := c.call(ctx, docsync.Request{Op: docsync.OpGet, Ref: ref})
	if err != nil {
		return docstore.Document{}, err
	}
	if resp.Doc == nil {
		return docstore.Document{Ref: ref, Data: map[string]any{}}, nil
	}
	return *resp.Doc, nil
}

func (c *Client) Set(ctx context.Context, ref docstore.Ref, data map[string]any, merge bool) error {
	_, err := c.call(ctx, docsync.Request{Op: docsync.OpSet, Ref: ref, Data: data, Merge: merge})
	return err
}

func (c *Client) Update(ctx context.Context, ref docstore.Ref, fields map[string]any) error {
	_, err := c.call(ctx, docsync.Request{Op: docsync.OpUpdate, Ref: ref, Data: fields})
	return err
}

func (c *Client) Add(ctx context.Context, collection string, data map[string]any) (docstore.Ref, error) {
	resp, err := c.call(ctx, docsync.Request{Op: docsync.OpAdd, Collection: collection, Data: data})
	if err != nil {
		return docstore.Ref{}, err
	}
	return docstore.Doc(collection, resp.NewID), nil
}

func (c *Client) Delete(ctx context.Context, ref docstore.Ref) error {
	_, err := c.call(ctx, docsync.Request{Op: docsync.OpDelete, Ref: ref})
	return err
}

func (c *Client) Query(ctx context.Context, q docstore.Query) ([]docstore.Document, error) {
	resp, err := c.call(ctx, docsync.Request{Op: docsync.OpQuery, Query: q})
	if err != nil {
		return nil, err
	}
	return resp.Docs, nil
}

func (c *Client) SubscribeDoc(ctx context.Context, ref docstore.Ref, fn func([]docstore.Change), onErr func(error)) (docstore.Unsubscribe, error) {
	return c.subscribe(ctx, docsync.Request{Op: docsync.OpSubscribeDoc, Ref: ref}, fn, onErr)
}

func (c *Client) SubscribeQuery(ctx context.Context, q docstore.Query, fn func([]docstore.Change), onErr func(error)) (docstore.Unsubscribe, error) {
	return c.subscribe(ctx, docsync.Request{Op: docsync.OpSubscribeQuery, Query: q}, fn, onErr)
}

// subscribe routes pushes before the server confirms, since the first
// snapshot may arrive ahead of the result.
func (c *Client) subscribe(ctx context.Context, req docsync.Request, fn func([]docstore.Change), onErr func(error)) (docstore.Unsubscribe, error) {
	req.Sub = "sub-" + strconv.FormatUint(c.nextID.Add(1), 10)
	s := &remoteSub{box: docstore.NewMailbox(fn), onErr: onErr}

	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		s.box.Close()
		return nil, err
	}
	c.subs[req.Sub] = s
	c.mu.Unlock()

	drop := func() bool {
		c.mu.Lock()
		_, ok := c.subs[req.Sub]
		delete(c.subs, req.Sub)
		c.mu.Unlock()
		s.box.Close()
		return ok
	}

	if _, err := c.call(ctx, req); err != nil {
		drop()
		return nil, err
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			if !drop() {
				return
			}
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
				defer cancel()
				if _, err := c.call(ctx, docsync.Request{Op: docsync.OpUnsubscribe, Sub: req.Sub}); err != nil {
					log.Debug().Err(err).Str("module", "syncclient").Str("sub", req.Sub).Msg("unsubscribe")
				}
			}()
		})
	}, nil
}

// Ping round-trips an empty request.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.call(ctx, docsync.Request{Op: docsync.OpPing})
	return err
}
