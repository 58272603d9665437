package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/dkeye/huddle/internal/core"
)

// Terminal is the single reader of stdin. Lines go to a pending prompt
// first and to the command loop otherwise. A line is only read once some
// consumer has asked for one, so a prompt never loses its answer to the
// command loop.
type Terminal struct {
	out io.Writer

	turns chan struct{}
	cmds  chan string
	eof   chan struct{}
	quit  chan struct{}
	once  sync.Once

	askMu sync.Mutex
	mu    sync.Mutex
	wait  chan string
	outMu sync.Mutex
}

func NewTerminal(in io.Reader, out io.Writer) *Terminal {
	t := &Terminal{
		out:   out,
		turns: make(chan struct{}, 8),
		cmds:  make(chan string),
		eof:   make(chan struct{}),
		quit:  make(chan struct{}),
	}
	go t.read(bufio.NewScanner(in))
	return t
}

func (t *Terminal) read(sc *bufio.Scanner) {
	defer close(t.eof)
	for range t.turns {
		if !sc.Scan() {
			return
		}
		line := strings.TrimSpace(sc.Text())
		t.mu.Lock()
		w := t.wait
		t.wait = nil
		t.mu.Unlock()
		if w != nil {
			w <- line
			continue
		}
		select {
		case t.cmds <- line:
		case <-t.quit:
			return
		}
	}
}

// Close stops handing lines to the command loop. A read already blocked on
// stdin stays blocked until the process exits.
func (t *Terminal) Close() {
	t.once.Do(func() { close(t.quit) })
}

// Next blocks for the next command line. ok is false once stdin is
// exhausted or ctx is done.
func (t *Terminal) Next(ctx context.Context) (line string, ok bool) {
	select {
	case t.turns <- struct{}{}:
	case <-t.eof:
		return "", false
	case <-ctx.Done():
		return "", false
	}
	select {
	case line := <-t.cmds:
		return line, true
	case <-t.eof:
		return "", false
	case <-ctx.Done():
		return "", false
	}
}

// EOF is closed when stdin is exhausted.
func (t *Terminal) EOF() <-chan struct{} { return t.eof }

func (t *Terminal) ask(ctx context.Context, question string) (string, error) {
	t.askMu.Lock()
	defer t.askMu.Unlock()

	w := make(chan string, 1)
	t.mu.Lock()
	t.wait = w
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		if t.wait == w {
			t.wait = nil
		}
		t.mu.Unlock()
	}()

	t.Println(question)
	select {
	case t.turns <- struct{}{}:
	case <-t.eof:
		return "", io.EOF
	case <-ctx.Done():
		return "", ctx.Err()
	}
	select {
	case line := <-w:
		return line, nil
	case <-t.eof:
		return "", io.EOF
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (t *Terminal) Confirm(ctx context.Context, d core.Dialog) (bool, error) {
	answer, err := t.ask(ctx, fmt.Sprintf("%s: %s [%s/%s]", d.Title, d.Message, d.ConfirmText, d.CancelText))
	if err != nil {
		return false, err
	}
	switch strings.ToLower(answer) {
	case "y", "yes", strings.ToLower(d.ConfirmText):
		return true, nil
	}
	return false, nil
}

func (t *Terminal) Alert(ctx context.Context, title, message string) error {
	_, err := t.ask(ctx, fmt.Sprintf("%s: %s (press Enter)", title, message))
	return err
}

func (t *Terminal) Notify(title, message string) {
	t.Println(title + ": " + message)
}

func (t *Terminal) Println(s string) {
	t.outMu.Lock()
	defer t.outMu.Unlock()
	fmt.Fprintln(t.out, s)
}

var _ core.Prompter = (*Terminal)(nil)
