package docsync

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/dkeye/huddle/internal/docstore"
	"github.com/dkeye/huddle/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	DefaultReadLimit  = 32 << 10
	DefaultPingPeriod = 54 * time.Second
	writeWait         = 5 * time.Second
)

// TokenParser verifies the bearer token presented on connect.
type TokenParser interface {
	Parse(token string) (domain.User, error)
}

type Options struct {
	SendBuffer int
	ReadLimit  int64
	PingPeriod time.Duration
}

type SyncWSController struct {
	Store    docstore.Store
	Auth     TokenParser
	Registry *Registry
	Policy   Policy
	Limiter  *WriteLimiter
	opts     Options
}

func NewSyncWSController(store docstore.Store, auth TokenParser, limiter *WriteLimiter, opts Options) *SyncWSController {
	if opts.ReadLimit <= 0 {
		opts.ReadLimit = DefaultReadLimit
	}
	if opts.PingPeriod <= 0 {
		opts.PingPeriod = DefaultPingPeriod
	}
	return &SyncWSController{
		Store:    store,
		Auth:     auth,
		Registry: NewRegistry(),
		Policy:   SimplePolicy{},
		Limiter:  limiter,
		opts:     opts,
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// bearerToken reads the Authorization header, falling back to ?token= for
// clients that cannot set headers on the upgrade request.
func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

func (ctl *SyncWSController) HandleSync(ctx context.Context, c *gin.Context) {
	user, err := ctl.Auth.Parse(bearerToken(c.Request))
	if err != nil {
		log.Warn().Err(err).Str("module", "docsync").Str("client", c.GetString("client_token")).Msg("rejected ws connection")
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "docsync").Msg("ws upgrade")
		return
	}
	ws.SetReadLimit(ctl.opts.ReadLimit)

	sid := uuid.NewString()
	conn := newConn(ws, ctl.opts.SendBuffer)
	ctx, cancel := context.WithCancel(ctx)
	ctl.Registry.Bind(sid, user, conn, cancel)
	log.Info().Str("module", "docsync").Str("sid", sid).Str("user", user.ID).Str("client", c.GetString("client_token")).Msg("new WS connection")

	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, cancel, sid, user, conn)
}

func (ctl *SyncWSController) handleFrame(ctx context.Context, sid string, user domain.User, c *WsSyncConn, req Request) {
	if req.Op.IsWrite() && !ctl.Limiter.Allow(user.ID) {
		ctl.reply(sid, c, errorResponse(req.ID, CodeRateLimited, "write rate exceeded"))
		onRateLimited(sid, user)
		return
	}

	switch req.Op {
	case OpPing:
		ctl.reply(sid, c, Response{Type: TypeResult, ID: req.ID})
	case OpGet:
		doc, err := ctl.Store.Get(ctx, req.Ref)
		if err != nil {
			ctl.reply(sid, c, storeError(req.ID, err))
			return
		}
		ctl.reply(sid, c, Response{Type: TypeResult, ID: req.ID, Doc: &doc})
	case OpSet:
		ctl.replyErr(sid, c, req.ID, ctl.Store.Set(ctx, req.Ref, req.Data, req.Merge))
	case OpUpdate:
		ctl.replyErr(sid, c, req.ID, ctl.Store.Update(ctx, req.Ref, req.Data))
	case OpAdd:
		ref, err := ctl.Store.Add(ctx, req.Collection, req.Data)
		if err != nil {
			ctl.reply(sid, c, storeError(req.ID, err))
			return
		}
		ctl.reply(sid, c, Response{Type: TypeResult, ID: req.ID, NewID: ref.ID})
	case OpDelete:
		ctl.replyErr(sid, c, req.ID, ctl.Store.Delete(ctx, req.Ref))
	case OpQuery:
		docs, err := ctl.Store.Query(ctx, req.Query)
		if err != nil {
			ctl.reply(sid, c, storeError(req.ID, err))
			return
		}
		ctl.reply(sid, c, Response{Type: TypeResult, ID: req.ID, Docs: docs})
	case OpSubscribeDoc, OpSubscribeQuery:
		ctl.handleSubscribe(ctx, sid, c, req)
	case OpUnsubscribe:
		if !ctl.Registry.RemoveSub(sid, req.Sub) {
			ctl.reply(sid, c, errorResponse(req.ID, CodeNotFound, "unknown subscription"))
			return
		}
		ctl.reply(sid, c, Response{Type: TypeResult, ID: req.ID})
	default:
		log.Warn().Str("module", "docsync").Str("op", string(req.Op)).Msg("unknown op")
		ctl.reply(sid, c, errorResponse(req.ID, CodeBadRequest, "unknown op "+string(req.Op)))
	}
}

// handleSubscribe registers the subscription before answering, so pushes
// for it may reach the client ahead of the result.
func (ctl *SyncWSController) handleSubscribe(ctx context.Context, sid string, c *WsSyncConn, req Request) {
	if req.Sub == "" || ctl.Registry.HasSub(sid, req.Sub) {
		ctl.reply(sid, c, errorResponse(req.ID, CodeBadRequest, "missing or duplicate subscription id"))
		return
	}
	kind := string(req.Op)
	fn := func(changes []docstore.Change) {
		ctl.push(sid, c, kind, Push{Type: TypeChanges, Sub: req.Sub, Changes: changes})
	}
	onErr := func(err error) {
		ctl.push(sid, c, kind, Push{Type: TypeSubError, Sub: req.Sub, Error: err.Error()})
	}

	var (
		unsub docstore.Unsubscribe
		err   error
	)
	if req.Op == OpSubscribeDoc {
		unsub, err = ctl.Store.SubscribeDoc(ctx, req.Ref, fn, onErr)
	} else {
		unsub, err = ctl.Store.SubscribeQuery(ctx, req.Query, fn, onErr)
	}
	if err != nil {
		ctl.reply(sid, c, storeError(req.ID, err))
		return
	}
	if !ctl.Registry.AddSub(sid, req.Sub, kind, unsub) {
		unsub()
		return
	}
	ctl.reply(sid, c, Response{Type: TypeResult, ID: req.ID})
}

func (ctl *SyncWSController) replyErr(sid string, c *WsSyncConn, id string, err error) {
	if err != nil {
		ctl.reply(sid, c, storeError(id, err))
		return
	}
	ctl.reply(sid, c, Response{Type: TypeResult, ID: id})
}

func errorResponse(id, code, msg string) Response {
	return Response{Type: TypeResult, ID: id, Code: code, Error: msg}
}

func storeError(id string, err error) Response {
	if errors.Is(err, docstore.ErrNotFound) {
		return errorResponse(id, CodeNotFound, err.Error())
	}
	return errorResponse(id, CodeInternal, err.Error())
}
