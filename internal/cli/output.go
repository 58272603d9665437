package cli

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/dkeye/huddle/internal/app/chat"
	"github.com/dkeye/huddle/internal/domain"
)

type Formatter struct {
	w io.Writer
}

func NewFormatter(w io.Writer) *Formatter {
	return &Formatter{w: w}
}

func (f *Formatter) LoggedIn(user domain.User, token string) {
	fmt.Fprintf(f.w, "✅ Signed in as %s (%s)\n", user.DisplayName, user.ID)
	fmt.Fprintf(f.w, "export HUDDLE_CLIENT_TOKEN=%s\n", token)
}

func (f *Formatter) MeetingCreated(m domain.Meeting, link string) {
	fmt.Fprintf(f.w, "📅 %s\n", m.Title)
	fmt.Fprintf(f.w, "   room:  %s\n", m.RoomCode)
	fmt.Fprintf(f.w, "   id:    %s\n", m.ID)
	fmt.Fprintf(f.w, "   link:  %s\n", link)
	fmt.Fprintf(f.w, "   ends:  %s\n", m.EndsAt().Format(time.Kitchen))
}

func (f *Formatter) MeetingEnded(code string) {
	fmt.Fprintf(f.w, "⏹️  Meeting %s ended\n", code)
}

func (f *Formatter) Joined(m domain.Meeting, self domain.User) {
	fmt.Fprintf(f.w, "🎧 Joined %q as %s (%d in room)\n", m.Title, self.FirstName(), len(m.Participants))
	fmt.Fprintf(f.w, "   commands: a v f h | r <reaction> | m <text> | leave | end\n")
}

func (f *Formatter) Status(state domain.ConnectionState, remotes int, audio, video bool) {
	fmt.Fprintf(f.w, "ℹ️  %s, %d remote, mic %s, camera %s\n", state, remotes, onOff(audio), onOff(video))
}

func (f *Formatter) ChatMessage(m chat.Message) {
	who := m.SenderName
	if m.IsMe {
		who = "you"
	}
	line := fmt.Sprintf("💬 %s: %s", who, m.Text)
	if m.Edited {
		line += " (edited)"
	}
	if len(m.Reactions) > 0 {
		counts := make(map[string]int)
		for _, r := range m.Reactions {
			counts[r]++
		}
		rs := make([]string, 0, len(counts))
		for r, n := range counts {
			rs = append(rs, fmt.Sprintf("%s×%d", r, n))
		}
		sort.Strings(rs)
		line += " [" + strings.Join(rs, " ") + "]"
	}
	fmt.Fprintln(f.w, line)
}

func (f *Formatter) Navigated(screen string, params map[string]any) {
	if sub, ok := params["screen"].(string); ok {
		screen += "/" + sub
	}
	fmt.Fprintf(f.w, "➡️  %s\n", screen)
}

func (f *Formatter) Error(msg string) {
	fmt.Fprintf(f.w, "❌ %s\n", msg)
}

func (f *Formatter) Info(msg string) {
	fmt.Fprintf(f.w, "ℹ️  %s\n", msg)
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
