package docsync

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/dkeye/huddle/internal/domain"
	"github.com/dkeye/huddle/internal/metrics"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

func (ctl *SyncWSController) writePump(ctx context.Context, c *WsSyncConn) {
	ticker := time.NewTicker(ctl.opts.PingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "docsync").Msg("writePump ctx done")
			c.Close()
			return
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				log.Warn().Err(err).Str("module", "docsync").Msg("writePump ping")
				c.Close()
				return
			}
		case data, ok := <-c.send:
			if !ok {
				log.Debug().Str("module", "docsync").Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "docsync").Msg("writePump set deadline")
				c.Close()
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "docsync").Msg("writePump write error")
				c.Close()
				return
			}
		}
	}
}

func (ctl *SyncWSController) readPump(ctx context.Context, cancel context.CancelFunc, sid string, user domain.User, c *WsSyncConn) {
	defer func() {
		log.Info().Str("module", "docsync").Str("sid", sid).Msg("readPump closing")
		cancel()
		ctl.Registry.Unbind(sid)
		c.Close()
		if ctl.Registry.SocketsOf(user.ID) == 0 {
			ctl.Limiter.Forget(user.ID)
		}
	}()

	pongWait := ctl.opts.PingPeriod * 10 / 9
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "docsync").Str("sid", sid).Msg("readPump ctx done")
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Warn().Err(err).Str("module", "docsync").Str("sid", sid).Msg("readPump read error")
				}
				return
			}
			_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))

			var req Request
			if err := json.Unmarshal(data, &req); err != nil {
				log.Error().Err(err).Str("module", "docsync").Str("sid", sid).Msg("bad json")
				ctl.reply(sid, c, errorResponse("", CodeBadRequest, "malformed frame"))
				continue
			}
			ctl.handleFrame(ctx, sid, user, c, req)
		}
	}
}

func (ctl *SyncWSController) reply(sid string, c *WsSyncConn, resp Response) {
	ctl.sendJSON(sid, c, resp, true)
}

func (ctl *SyncWSController) push(sid string, c *WsSyncConn, kind string, p Push) {
	if ctl.sendJSON(sid, c, p, false) && p.Type == TypeChanges {
		metrics.SyncBatch(kind)
	}
}

// sendJSON queues v and applies the backpressure policy when the queue is
// full. It reports whether the frame was queued.
func (ctl *SyncWSController) sendJSON(sid string, c *WsSyncConn, v any, response bool) bool {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "docsync").Msg("sendJSON marshal")
		return false
	}
	err = c.TrySend(b)
	if err == nil {
		return true
	}
	if !errors.Is(err, ErrBackpressure) {
		return false
	}
	switch ctl.Policy.OnBackPressure(sid, response) {
	case KickMember:
		log.Warn().Str("module", "docsync").Str("sid", sid).Msg("send queue full, dropping socket")
		metrics.SyncDropped("backpressure")
		ctl.Registry.Cancel(sid)
		c.Close()
	case DropFrame:
		metrics.SyncDropped("frame")
	}
	return false
}

func onRateLimited(sid string, user domain.User) {
	metrics.SyncRateLimited()
	log.Warn().Str("module", "docsync").Str("sid", sid).Str("user", user.ID).Msg("write rate limited")
}
