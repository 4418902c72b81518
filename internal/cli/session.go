package cli

import (
	"github.com/spf13/cobra"
)

// NewSessionCmd creates the "session" command group.
func NewSessionCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Inspect live sessions",
	}

	cmd.AddCommand(
		newSessionListCmd(clientFn, outputFn),
		newSessionShowCmd(clientFn, outputFn),
	)

	return cmd
}

func newSessionListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List live sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			sessions, err := client.ListSessions()
			if err != nil {
				return err
			}

			headers := []string{"ID", "ISSUE_ID", "REPOSITORY", "STATUS", "CREATED"}
			rows := make([][]string, len(sessions))
			for i, s := range sessions {
				rows[i] = []string{s.ID, s.IssueID, s.Repository, s.Status, s.CreatedAt}
			}

			out.Print(headers, rows, sessions)
			return nil
		},
	}
}

func newSessionShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show session details, including its worktree path and completion reason",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			s, err := client.GetSession(args[0])
			if err != nil {
				return err
			}

			out.Print(
				[]string{"ID", "ISSUE_ID", "STATUS", "WORKTREE", "FINAL_COMMIT", "REASON"},
				[][]string{{s.ID, s.IssueID, s.Status, s.WorktreePath, s.FinalCommit, s.CompletionReason}},
				s,
			)
			return nil
		},
	}
}
