package cli

import (
	"github.com/spf13/cobra"

	"github.com/dkeye/huddle/internal/app/meetings"
	"github.com/dkeye/huddle/internal/app/navbuffer"
)

func NewCreateCmd(deps *Dependencies) *cobra.Command {
	var req meetings.CreateRequest

	cmd := &cobra.Command{
		Use:   "create <title>",
		Short: "Schedule a meeting and print its room code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := NewFormatter(deps.Out)
			client, id, err := connect(cmd.Context(), deps)
			if err != nil {
				return err
			}
			defer client.Close()

			req.Title = args[0]
			m, err := meetings.New(client, id.CurrentUser()).Create(cmd.Context(), req)
			if err != nil {
				return err
			}
			formatter.MeetingCreated(m, navbuffer.RoomLink(m.RoomCode))
			return nil
		},
	}

	cmd.Flags().StringVarP(&req.Description, "description", "d", "", "Meeting description")
	cmd.Flags().IntVar(&req.Duration, "duration", 30, "Planned length in minutes")
	cmd.Flags().IntVar(&req.MaxParticipants, "max", 0, "Participant cap (0 for the default)")
	cmd.Flags().BoolVar(&req.IsPrivate, "private", false, "Only listed participants may join")
	cmd.Flags().StringVar(&req.TaskID, "task", "", "Task to complete when the meeting ends")

	return cmd
}
