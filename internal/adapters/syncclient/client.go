// Package syncclient implements docstore.Store against a docsync server.
package syncclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dkeye/huddle/internal/adapters/docsync"
	"github.com/dkeye/huddle/internal/docstore"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const DefaultCallTimeout = 10 * time.Second

var (
	ErrClosed         = errors.New("sync client closed")
	ErrConnectionLost = errors.New("sync connection lost")
	ErrRateLimited    = errors.New("write rate limited")
)

// RemoteError is a failure reported by the server.
type RemoteError struct {
	Code    string
	Message string
}

func (e *RemoteError) Error() string { return e.Code + ": " + e.Message }

type Option func(*Client)

func WithCallTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func WithDialer(d *websocket.Dialer) Option { return func(c *Client) { c.dialer = d } }

type remoteSub struct {
	box   *docstore.Mailbox
	onErr func(error)
}

type Client struct {
	ws      *websocket.Conn
	dialer  *websocket.Dialer
	timeout time.Duration

	writeMu sync.Mutex
	nextID  atomic.Uint64

	mu      sync.Mutex
	pending map[string]chan docsync.Response
	subs    map[string]*remoteSub
	err     error
	done    chan struct{}
}

var _ docstore.Store = (*Client)(nil)

// Dial connects to url presenting token as a bearer credential.
func Dial(ctx context.Context, url, token string, opts ...Option) (*Client, error) {
	c := &Client{
		dialer:  websocket.DefaultDialer,
		timeout: DefaultCallTimeout,
		pending: make(map[string]chan docsync.Response),
		subs:    make(map[string]*remoteSub),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	ws, resp, err := c.dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %s: %w", url, resp.Status, err)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	c.ws = ws
	go c.readLoop()
	log.Info().Str("module", "syncclient").Str("url", url).Msg("connected")
	return c, nil
}

// Done is closed when the connection is lost or closed.
func (c *Client) Done() <-chan struct{} { return c.done }

// Err reports why the client stopped, or nil while it is running.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close is idempotent. Pending calls fail with ErrClosed.
func (c *Client) Close() error {
	if !c.fail(ErrClosed) {
		return nil
	}
	c.writeMu.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	c.writeMu.Unlock()
	_ = c.ws.Close()
	return nil
}

// fail stops the client once and reports whether this call did it. Live
// subscriptions hear about it unless the client was closed on purpose.
func (c *Client) fail(err error) bool {
	c.mu.Lock()
	if c.err != nil {
		c.mu.Unlock()
		return false
	}
	c.err = err
	subs := c.subs
	c.subs = map[string]*remoteSub{}
	c.pending = map[string]chan docsync.Response{}
	close(c.done)
	c.mu.Unlock()

	for id, s := range subs {
		s.box.Close()
		if s.onErr != nil && !errors.Is(err, ErrClosed) {
			go s.onErr(fmt.Errorf("subscription %s: %w", id, err))
		}
	}
	return true
}

func (c *Client) readLoop() {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if c.fail(fmt.Errorf("%w: %v", ErrConnectionLost, err)) {
				log.Warn().Err(err).Str("module", "syncclient").Msg("connection lost")
			}
			_ = c.ws.Close()
			return
		}
		var env docsync.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			log.Error().Err(err).Str("module", "syncclient").Msg("bad frame")
			continue
		}
		switch env.Type {
		case docsync.TypeResult:
			var resp docsync.Response
			if err := json.Unmarshal(data, &resp); err != nil {
				log.Error().Err(err).Str("module", "syncclient").Msg("bad result")
				continue
			}
			c.resolve(resp)
		case docsync.TypeChanges, docsync.TypeSubError:
			var p docsync.Push
			if err := json.Unmarshal(data, &p); err != nil {
				log.Error().Err(err).Str("module", "syncclient").Msg("bad push")
				continue
			}
			c.route(p)
		default:
			log.Warn().Str("module", "syncclient").Str("type", env.Type).Msg("unknown frame")
		}
	}
}

func (c *Client) resolve(resp docsync.Response) {
	c.mu.Lock()
	ch, ok := c.pending[resp.ID]
	delete(c.pending, resp.ID)
	c.mu.Unlock()
	if ok {
		ch <- resp
	}
}

func (c *Client) route(p docsync.Push) {
	c.mu.Lock()
	s, ok := c.subs[p.Sub]
	c.mu.Unlock()
	if !ok {
		return
	}
	if p.Type == docsync.TypeSubError {
		if s.onErr != nil {
			go s.onErr(errors.New(p.Error))
		}
		return
	}
	s.box.Post(p.Changes)
}

func (c *Client) call(ctx context.Context, req docsync.Request) (docsync.Response, error) {
	req.ID = strconv.FormatUint(c.nextID.Add(1), 10)
	ch := make(chan docsync.Response, 1)

	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return docsync.Response{}, err
	}
	c.pending[req.ID] = ch
	c.mu.Unlock()

	forget := func() {
		c.mu.Lock()
		delete(c.pending, req.ID)
		c.mu.Unlock()
	}

	c.writeMu.Lock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(c.timeout))
	err := c.ws.WriteJSON(req)
	c.writeMu.Unlock()
	if err != nil {
		forget()
		return docsync.Response{}, fmt.Errorf("%s: write: %w", req.Op, err)
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()
	select {
	case resp := <-ch:
		return resp, remoteErr(resp)
	case <-ctx.Done():
		forget()
		return docsync.Response{}, ctx.Err()
	case <-timer.C:
		forget()
		return docsync.Response{}, fmt.Errorf("%s: %w", req.Op, context.DeadlineExceeded)
	case <-c.done:
		return docsync.Response{}, c.Err()
	}
}

func remoteErr(resp docsync.Response) error {
	switch resp.Code {
	case "":
		if resp.Error != "" {
			return &RemoteError{Code: docsync.CodeInternal, Message: resp.Error}
		}
		return nil
	case docsync.CodeNotFound:
		return fmt.Errorf("%s: %w", resp.Error, docstore.ErrNotFound)
	case docsync.CodeRateLimited:
		return ErrRateLimited
	}
	return &RemoteError{Code: resp.Code, Message: resp.Error}
}
