package cli

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"os"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/huddle/internal/adapters/docsync"
	router "github.com/dkeye/huddle/internal/adapters/http"
	"github.com/dkeye/huddle/internal/app/chat"
	"github.com/dkeye/huddle/internal/app/meetings"
	"github.com/dkeye/huddle/internal/auth"
	"github.com/dkeye/huddle/internal/config"
	"github.com/dkeye/huddle/internal/core"
	"github.com/dkeye/huddle/internal/docstore"
	"github.com/dkeye/huddle/internal/domain"
)

type server struct {
	store *docstore.Memory
	url   string
}

func newServer(t *testing.T) *server {
	t.Helper()
	store := docstore.NewMemory()
	return serve(t, store, store)
}

// serve runs the API over docs; mem is the memory behind it for assertions.
func serve(t *testing.T, docs docstore.Store, mem *docstore.Memory) *server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	issuer, err := auth.NewIssuer("cli-secret", time.Hour)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	r := router.SetupRouter(ctx, &config.Config{Mode: "test", Secret: "cli-secret"}, router.Deps{
		Sync:     docsync.NewSyncWSController(docs, issuer, nil, docsync.Options{}),
		Issuer:   issuer,
		Meetings: meetings.New(docs, domain.User{}),
	})
	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return &server{store: mem, url: "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws/sync"}
}

func (s *server) deps(in io.Reader, out io.Writer) *Dependencies {
	cfg := &config.Config{}
	cfg.Client.ServerURL = s.url
	cfg.Client.CallTimeout = 2 * time.Second
	return &Dependencies{Config: cfg, In: in, Out: out, Signals: make(chan os.Signal)}
}

func execute(t *testing.T, deps *Dependencies, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	deps.Out = &out
	cmd := NewRootCmd(deps)
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	require.NoError(t, cmd.ExecuteContext(context.Background()), out.String())
	return out.String()
}

var roomLine = regexp.MustCompile(`room:\s+(\S+)`)

func (s *server) meeting(t *testing.T, code string) domain.Meeting {
	t.Helper()
	m, err := meetings.New(s.store, domain.User{}).GetByRoomCode(context.Background(), code)
	require.NoError(t, err)
	return m
}

func TestLoginCreateAndEnd(t *testing.T) {
	srv := newServer(t)
	deps := srv.deps(strings.NewReader(""), io.Discard)

	out := execute(t, deps, "login", "Ada", "Lovelace")
	require.Contains(t, out, "export HUDDLE_CLIENT_TOKEN=")
	require.NotEmpty(t, deps.Config.Client.Token)
	id, err := auth.NewTokenIdentity(deps.Config.Client.Token)
	require.NoError(t, err)
	require.Equal(t, "Ada Lovelace", id.CurrentUser().DisplayName)

	out = execute(t, deps, "create", "Standup", "--duration", "15")
	match := roomLine.FindStringSubmatch(out)
	require.Len(t, match, 2, out)
	code := match[1]
	require.Contains(t, out, "huddle://room/"+code)

	m := srv.meeting(t, code)
	require.Equal(t, "Standup", m.Title)
	require.Equal(t, 15, m.Duration)
	require.True(t, m.IsHost(id.CurrentUser().ID))

	out = execute(t, deps, "end", "huddle://room/"+strings.ToLower(code))
	require.Contains(t, out, "Meeting "+code+" ended")

	doc, err := srv.store.Get(context.Background(), docstore.Doc(meetings.Collection, m.ID))
	require.NoError(t, err)
	require.Equal(t, string(domain.MeetingCompleted), doc.Data["status"])
}

func TestCommandsNeedAToken(t *testing.T) {
	srv := newServer(t)
	deps := srv.deps(strings.NewReader(""), io.Discard)
	cmd := NewRootCmd(deps)
	cmd.SetArgs([]string{"create", "Standup"})
	cmd.SetOut(io.Discard)
	err := cmd.Execute()
	require.Error(t, err)
	require.Contains(t, err.Error(), "roomctl login")
}

func TestJoinRunsCommandsUntilEnd(t *testing.T) {
	srv := newServer(t)
	deps := srv.deps(strings.NewReader(""), io.Discard)
	execute(t, deps, "login", "Grace")
	code := roomLine.FindStringSubmatch(execute(t, deps, "create", "Retro"))[1]
	m := srv.meeting(t, code)

	deps.In = strings.NewReader("m hello there\nh\nr thumbsUp\nr nope\nbogus\ns\nend\n")
	out := execute(t, deps, "join", code)

	require.Contains(t, out, `Joined "Retro"`)
	require.Contains(t, out, "Media Access")
	require.Contains(t, out, `unknown reaction "nope"`)
	require.Contains(t, out, "unknown command: bogus")
	require.Contains(t, out, "➡️  Room")
	require.Contains(t, out, "➡️  Tabs/Home")

	msgs, err := srv.store.Query(context.Background(), docstore.Collection(chat.Collection(m.ID)))
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, "hello there", msgs[0].Data["text"])
	require.Equal(t, "Grace", msgs[0].Data["senderName"])

	doc, err := srv.store.Get(context.Background(), docstore.Doc(meetings.Collection, m.ID))
	require.NoError(t, err)
	require.Equal(t, string(domain.MeetingCompleted), doc.Data["status"])
}

// flakyMeetings fails the next updates to meeting documents.
type flakyMeetings struct {
	*docstore.Memory
	failures atomic.Int32
}

func (f *flakyMeetings) Update(ctx context.Context, r docstore.Ref, fields map[string]any) error {
	if r.Collection == meetings.Collection && f.failures.Add(-1) >= 0 {
		return errors.New("backend unavailable")
	}
	return f.Memory.Update(ctx, r, fields)
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestJoinRetriesAfterAFailedAttempt(t *testing.T) {
	docs := &flakyMeetings{Memory: docstore.NewMemory()}
	srv := serve(t, docs, docs.Memory)
	deps := srv.deps(strings.NewReader(""), io.Discard)
	execute(t, deps, "login", "Linus")
	code := roomLine.FindStringSubmatch(execute(t, deps, "create", "Flaky"))[1]
	m := srv.meeting(t, code)

	deps.Config.Room.MaxConnectionAttempts = 3
	deps.Config.Room.RetryDelay = 50 * time.Millisecond
	stdin, feed := io.Pipe()
	defer feed.Close()
	out := &lockedBuffer{}
	deps.In = stdin
	deps.Out = out
	// every try of the first join fails, the second attempt gets through
	docs.failures.Store(meetings.DefaultRetries)

	done := make(chan error, 1)
	go func() {
		cmd := NewRootCmd(deps)
		cmd.SetArgs([]string{"join", code})
		cmd.SetOut(out)
		cmd.SetErr(out)
		done <- cmd.ExecuteContext(context.Background())
	}()

	ref := docstore.Doc(meetings.Collection, m.ID)
	require.Eventually(t, func() bool {
		doc, err := srv.store.Get(context.Background(), ref)
		return err == nil && doc.Data["status"] == string(domain.MeetingActive)
	}, 15*time.Second, 20*time.Millisecond)

	_, err := io.WriteString(feed, "end\n")
	require.NoError(t, err)
	select {
	case err := <-done:
		require.NoError(t, err, out.String())
	case <-time.After(10 * time.Second):
		t.Fatal("join did not return after end")
	}
	require.Contains(t, out.String(), "join meeting")
	require.Contains(t, out.String(), "failed, 0 remote")
	require.Contains(t, out.String(), `Joined "Flaky"`)

	doc, err := srv.store.Get(context.Background(), ref)
	require.NoError(t, err)
	require.Equal(t, string(domain.MeetingCompleted), doc.Data["status"])
}

func TestJoinLeaveAsksFirst(t *testing.T) {
	srv := newServer(t)
	host := srv.deps(strings.NewReader(""), io.Discard)
	execute(t, host, "login", "Host")
	code := roomLine.FindStringSubmatch(execute(t, host, "create", "Sync"))[1]

	guest := srv.deps(strings.NewReader(""), io.Discard)
	execute(t, guest, "login", "Guest")

	guest.In = strings.NewReader("leave\nno\nleave\nyes\n")
	out := execute(t, guest, "join", code)
	require.Equal(t, 2, strings.Count(out, "Leave Meeting:"), out)
	require.Contains(t, out, "➡️  Tabs/Home")

	// a guest leaving never ends the meeting
	require.NotEqual(t, domain.MeetingCompleted, srv.meeting(t, code).Status)
}

func TestTerminalRoutesAnswersToPrompts(t *testing.T) {
	var out bytes.Buffer
	term := NewTerminal(strings.NewReader("leave\nY\n\n"), &out)
	defer term.Close()
	ctx := context.Background()

	line, ok := term.Next(ctx)
	require.True(t, ok)
	require.Equal(t, "leave", line)

	yes, err := term.Confirm(ctx, core.Dialog{Title: "Leave Meeting", Message: "Sure?", ConfirmText: "Leave", CancelText: "Cancel"})
	require.NoError(t, err)
	require.True(t, yes)
	require.Contains(t, out.String(), "Leave Meeting: Sure? [Leave/Cancel]")

	require.NoError(t, term.Alert(ctx, "Meeting Ended", "bye"))

	_, ok = term.Next(ctx)
	require.False(t, ok)
	_, err = term.Confirm(ctx, core.Dialog{})
	require.ErrorIs(t, err, io.EOF)
}

func TestTerminalConfirmAcceptsConfirmText(t *testing.T) {
	term := NewTerminal(strings.NewReader("leave\nnope\n"), io.Discard)
	defer term.Close()
	d := core.Dialog{ConfirmText: "Leave", CancelText: "Cancel"}

	ok, err := term.Confirm(context.Background(), d)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = term.Confirm(context.Background(), d)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestTerminalPromptHonoursContext(t *testing.T) {
	r, w := io.Pipe()
	defer w.Close()
	term := NewTerminal(r, io.Discard)
	defer term.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := term.Confirm(ctx, core.Dialog{})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestParseCommand(t *testing.T) {
	cases := []struct{ line, verb, arg string }{
		{"a", "a", ""},
		{"  M  hello world ", "m", "hello world"},
		{"r thumbsUp", "r", "thumbsUp"},
		{"", "", ""},
	}
	for _, tc := range cases {
		verb, arg := parseCommand(tc.line)
		require.Equal(t, tc.verb, verb, tc.line)
		require.Equal(t, tc.arg, arg, tc.line)
	}
}

func TestAPIBase(t *testing.T) {
	cases := map[string]string{
		"ws://localhost:8080/api/ws/sync":     "http://localhost:8080",
		"wss://huddle.example/api/ws/sync/":   "https://huddle.example",
		"https://huddle.example/api/ws/sync?": "https://huddle.example",
		"http://10.0.0.2:9000":                "http://10.0.0.2:9000",
	}
	for in, want := range cases {
		got, err := apiBase(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got, in)
	}
	_, err := apiBase("ftp://x")
	require.Error(t, err)
}

func TestRoomCodeFromArgument(t *testing.T) {
	code, err := roomCode("abcd-1234")
	require.NoError(t, err)
	require.Equal(t, "ABCD-1234", code)

	code, err = roomCode("huddle://room/wxyz-0000")
	require.NoError(t, err)
	require.Equal(t, "WXYZ-0000", code)

	_, err = roomCode("huddle://event/devpost/1")
	require.Error(t, err)
}
