package http

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/dkeye/huddle/internal/app/meetings"
	"github.com/dkeye/huddle/internal/app/navbuffer"
	"github.com/dkeye/huddle/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/skip2/go-qrcode"
)

const qrSize = 256

type TokenIssuer interface {
	IssueGuest(displayName string) (domain.User, string, error)
}

type MeetingFinder interface {
	GetByRoomCode(ctx context.Context, code string) (domain.Meeting, error)
}

type TokenRequest struct {
	DisplayName string `json:"display_name" binding:"required"`
}

type TokenResponse struct {
	Token       string `json:"token"`
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
}

type handlers struct {
	issuer   TokenIssuer
	meetings MeetingFinder
}

func (h *handlers) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *handlers) issueToken(c *gin.Context) {
	var req TokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing or invalid display_name"})
		return
	}
	user, token, err := h.issuer.IssueGuest(req.DisplayName)
	if err != nil {
		if errors.Is(err, domain.ErrDisplayNameEmpty) || errors.Is(err, domain.ErrDisplayNameTooLong) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		log.Error().Err(err).Str("module", "adapters.http").Msg("issue token")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not issue token"})
		return
	}
	log.Info().Str("module", "adapters.http").Str("user", user.ID).Msg("guest token issued")
	c.JSON(http.StatusOK, TokenResponse{Token: token, UserID: user.ID, DisplayName: user.DisplayName})
}

// roomQR renders the room deep link so another device can join by scanning.
func (h *handlers) roomQR(c *gin.Context) {
	code := strings.ToUpper(c.Param("code"))
	m, err := h.meetings.GetByRoomCode(c.Request.Context(), code)
	switch {
	case errors.Is(err, meetings.ErrMeetingNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown room"})
		return
	case err != nil:
		log.Error().Err(err).Str("module", "adapters.http").Str("room", code).Msg("lookup room")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
		return
	}
	png, err := qrcode.Encode(navbuffer.RoomLink(m.RoomCode), qrcode.Medium, qrSize)
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Msg("encode qr")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not render code"})
		return
	}
	c.Data(http.StatusOK, "image/png", png)
}
