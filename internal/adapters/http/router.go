package http

import (
	"context"
	"net/http"

	"github.com/dkeye/huddle/internal/adapters/docsync"
	"github.com/dkeye/huddle/internal/config"
	"github.com/dkeye/huddle/internal/metrics"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

func genClientToken() string {
	idStr := uuid.NewString()
	return idStr
}

// ClientTokenMiddleware tags every browser or CLI client with a stable
// cookie id, used only to correlate log lines.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie("ct")
		if token == "" {
			token = genClientToken()
			c.SetCookie("ct", token, 3600*24*7, "/", "", false, true)
		}
		c.Set("client_token", token)
		c.Next()
	}
}

type Deps struct {
	Sync     *docsync.SyncWSController
	Issuer   TokenIssuer
	Meetings MeetingFinder
	Metrics  *metrics.Module
}

func SetupRouter(ctx context.Context, cfg *config.Config, deps Deps) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("HuddleSessions", store))
	r.Use(ClientTokenMiddleware())

	h := &handlers{issuer: deps.Issuer, meetings: deps.Meetings}

	api := r.Group("/api")
	api.GET("/health", h.health)
	api.POST("/auth/token", h.issueToken)
	api.GET("/meetings/:code/qr.png", h.roomQR)
	api.GET("/ws/sync", func(c *gin.Context) {
		log.Debug().Str("module", "adapters.http").Str("client", c.GetString("client_token")).Msg("ws sync endpoint hit")
		deps.Sync.HandleSync(ctx, c)
	})

	if deps.Metrics != nil {
		r.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	} else {
		r.GET("/metrics", func(c *gin.Context) { c.Status(http.StatusNotFound) })
	}

	log.Info().Str("module", "adapters.http").Bool("metrics", deps.Metrics != nil).Msg("router setup")
	return r
}
