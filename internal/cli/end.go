package cli

import (
	"github.com/spf13/cobra"

	"github.com/dkeye/huddle/internal/app/meetings"
)

func NewEndCmd(deps *Dependencies) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "end <room code>",
		Short: "End a meeting you host without joining it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := NewFormatter(deps.Out)
			client, id, err := connect(cmd.Context(), deps)
			if err != nil {
				return err
			}
			defer client.Close()

			svc := meetings.New(client, id.CurrentUser())
			code, err := roomCode(args[0])
			if err != nil {
				return err
			}
			m, err := svc.GetByRoomCode(cmd.Context(), code)
			if err != nil {
				return err
			}
			if err := svc.End(cmd.Context(), m.ID); err != nil {
				return err
			}
			formatter.MeetingEnded(m.RoomCode)
			return nil
		},
	}
	return cmd
}
