package cli

import (
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dkeye/huddle/internal/app/meetings"
	"github.com/dkeye/huddle/internal/app/navbuffer"
)

func NewJoinCmd(deps *Dependencies) *cobra.Command {
	var audio, video bool

	cmd := &cobra.Command{
		Use:   "join <room code | link>",
		Short: "Join a meeting and stay in it until you leave",
		Long:  "Join a meeting by room code or huddle:// link.\nType commands on stdin: a (mic), v (camera), f (flip camera), h (hand), r <reaction>, m <text>, s (status), leave, end.\nCtrl+C asks whether to leave.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			code, err := roomCode(args[0])
			if err != nil {
				return err
			}
			client, id, err := connect(cmd.Context(), deps)
			if err != nil {
				return err
			}
			defer client.Close()

			m, err := meetings.New(client, id.CurrentUser()).GetByRoomCode(cmd.Context(), code)
			if err != nil {
				return err
			}
			deps.Config.Media.CaptureAudio = audio
			deps.Config.Media.CaptureVideo = video
			if deps.Signals == nil {
				sigs := make(chan os.Signal, 1)
				signal.Notify(sigs, os.Interrupt)
				defer signal.Stop(sigs)
				deps.Signals = sigs
			}
			return runSession(cmd.Context(), deps, client, id.CurrentUser(), m)
		},
	}

	cmd.Flags().BoolVar(&audio, "audio", deps.Config.Media.CaptureAudio, "Send an audio track")
	cmd.Flags().BoolVar(&video, "video", deps.Config.Media.CaptureVideo, "Send a video track")

	return cmd
}

// roomCode accepts a bare code or a room deep link.
func roomCode(arg string) (string, error) {
	arg = strings.TrimSpace(arg)
	if !strings.Contains(arg, "/") {
		return strings.ToUpper(arg), nil
	}
	cmd, err := navbuffer.ParseDeepLink(arg)
	if err != nil {
		return "", err
	}
	code, ok := cmd.Route.Params["roomCode"].(string)
	if !ok {
		return "", fmt.Errorf("%s is not a room link", arg)
	}
	return code, nil
}
