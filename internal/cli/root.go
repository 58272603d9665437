// Package cli is the roomctl command tree: a headless meeting participant
// that talks to the huddle server over the sync socket.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/spf13/cobra"

	"github.com/dkeye/huddle/internal/adapters/syncclient"
	"github.com/dkeye/huddle/internal/auth"
	"github.com/dkeye/huddle/internal/config"
)

type Dependencies struct {
	Config *config.Config
	In     io.Reader
	Out    io.Writer
	// Signals delivers interrupts during a session; nil means none.
	Signals <-chan os.Signal
}

func NewRootCmd(deps *Dependencies) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "roomctl",
		Short:         "Create, join and end huddle meetings from a terminal",
		Long:          "A headless huddle participant. Sign in with 'roomctl login', then create or join a room by its code.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&deps.Config.Client.ServerURL, "server", deps.Config.Client.ServerURL, "Sync socket URL of the huddle server")
	rootCmd.PersistentFlags().StringVar(&deps.Config.Client.Token, "token", deps.Config.Client.Token, "Identity token (defaults to HUDDLE_CLIENT_TOKEN)")

	rootCmd.AddCommand(NewLoginCmd(deps))
	rootCmd.AddCommand(NewCreateCmd(deps))
	rootCmd.AddCommand(NewJoinCmd(deps))
	rootCmd.AddCommand(NewEndCmd(deps))

	return rootCmd
}

// connect dials the sync socket with the configured identity.
func connect(ctx context.Context, deps *Dependencies) (*syncclient.Client, *auth.TokenIdentity, error) {
	if deps.Config.Client.Token == "" {
		return nil, nil, fmt.Errorf("no identity token: run 'roomctl login <name>' first")
	}
	id, err := auth.NewTokenIdentity(deps.Config.Client.Token)
	if err != nil {
		return nil, nil, err
	}
	client, err := syncclient.Dial(ctx, deps.Config.Client.ServerURL, id.Token(),
		syncclient.WithCallTimeout(deps.Config.Client.CallTimeout))
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to %s: %w", deps.Config.Client.ServerURL, err)
	}
	return client, id, nil
}

type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}
