package http

import (
	"bytes"
	"context"
	"encoding/json"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dkeye/huddle/internal/adapters/docsync"
	"github.com/dkeye/huddle/internal/app/meetings"
	"github.com/dkeye/huddle/internal/auth"
	"github.com/dkeye/huddle/internal/config"
	"github.com/dkeye/huddle/internal/docstore"
	"github.com/dkeye/huddle/internal/domain"
	"github.com/dkeye/huddle/internal/metrics"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	srv      *httptest.Server
	issuer   *auth.Issuer
	meetings *meetings.Service
}

func newFixture(t *testing.T, withMetrics bool) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	issuer, err := auth.NewIssuer("test-secret", time.Hour)
	require.NoError(t, err)
	store := docstore.NewMemory()
	cfg := &config.Config{Mode: "test", Secret: "test-secret"}

	deps := Deps{
		Sync:     docsync.NewSyncWSController(store, issuer, nil, docsync.Options{}),
		Issuer:   issuer,
		Meetings: meetings.New(store, domain.User{}),
	}
	if withMetrics {
		mod, err := metrics.NewModule(metrics.Options{Namespace: "routertest"})
		require.NoError(t, err)
		deps.Metrics = mod
	}

	ctx, cancel := context.WithCancel(context.Background())
	srv := httptest.NewServer(SetupRouter(ctx, cfg, deps))
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	host := domain.User{ID: "host-1", DisplayName: "Host"}
	return &fixture{srv: srv, issuer: issuer, meetings: meetings.New(store, host)}
}

func TestHealthSetsClientCookie(t *testing.T) {
	f := newFixture(t, false)
	resp, err := http.Get(f.srv.URL + "/api/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var ct *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == "ct" {
			ct = c
		}
	}
	require.NotNil(t, ct)
	require.NotEmpty(t, ct.Value)
}

func TestIssueToken(t *testing.T) {
	f := newFixture(t, false)

	resp, err := http.Post(f.srv.URL+"/api/auth/token", "application/json", strings.NewReader(`{"display_name":"Ada Lovelace"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out TokenResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Equal(t, "Ada Lovelace", out.DisplayName)
	require.NotEmpty(t, out.UserID)

	u, err := f.issuer.Parse(out.Token)
	require.NoError(t, err)
	require.Equal(t, out.UserID, u.ID)

	for _, body := range []string{`{}`, `not json`, `{"display_name":"` + strings.Repeat("x", domain.MaxDisplayNameLen+1) + `"}`} {
		resp, err := http.Post(f.srv.URL+"/api/auth/token", "application/json", strings.NewReader(body))
		require.NoError(t, err)
		resp.Body.Close()
		require.Equal(t, http.StatusBadRequest, resp.StatusCode, body)
	}
}

func TestRoomQR(t *testing.T) {
	f := newFixture(t, false)
	m, err := f.meetings.Create(context.Background(), meetings.CreateRequest{Title: "Standup", Duration: 30})
	require.NoError(t, err)

	resp, err := http.Get(f.srv.URL + "/api/meetings/" + strings.ToLower(m.RoomCode) + "/qr.png")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	img, err := png.Decode(bytes.NewReader(raw))
	require.NoError(t, err)
	require.Equal(t, qrSize, img.Bounds().Dx())

	resp, err = http.Get(f.srv.URL + "/api/meetings/NOPE-0000/qr.png")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSyncEndpointRequiresToken(t *testing.T) {
	f := newFixture(t, false)
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/api/ws/sync"

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	tok, err := f.issuer.Issue(domain.User{ID: "u1", DisplayName: "U"})
	require.NoError(t, err)
	ws, _, err := websocket.DefaultDialer.Dial(url+"?token="+tok, nil)
	require.NoError(t, err)
	defer ws.Close()

	require.NoError(t, ws.WriteJSON(docsync.Request{ID: "1", Op: docsync.OpPing}))
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	var out docsync.Response
	require.NoError(t, ws.ReadJSON(&out))
	require.Equal(t, docsync.TypeResult, out.Type)
	require.Equal(t, "1", out.ID)
	require.Empty(t, out.Error)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, true)
	resp, err := http.Get(f.srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	off := newFixture(t, false)
	resp2, err := http.Get(off.srv.URL + "/metrics")
	require.NoError(t, err)
	resp2.Body.Close()
	require.Equal(t, http.StatusNotFound, resp2.StatusCode)
}
