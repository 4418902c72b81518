package cli

import (
	"strconv"

	"github.com/spf13/cobra"
)

// NewHealthCmd creates the "health" command group.
func NewHealthCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Inspect provider health and active worktrees",
	}

	cmd.AddCommand(
		newHealthProvidersCmd(clientFn, outputFn),
		newHealthDetailedCmd(clientFn, outputFn),
	)

	return cmd
}

func newHealthProvidersCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "providers",
		Short: "List cached provider health",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			providers, err := client.HealthProviders()
			if err != nil {
				return err
			}

			headers := []string{"PROVIDER", "HEALTHY", "CONSECUTIVE_ERRORS", "LAST_CHECK", "LAST_ERROR"}
			rows := make([][]string, 0, len(providers))
			for name, p := range providers {
				rows = append(rows, []string{name, strconv.FormatBool(p.Healthy), strconv.Itoa(p.ConsecutiveErrors), p.LastCheck, p.LastError})
			}

			out.Print(headers, rows, providers)
			return nil
		},
	}
}

func newHealthDetailedCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "detailed",
		Short: "Show provider health alongside every active worktree",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			detailed, err := client.HealthDetailed()
			if err != nil {
				return err
			}

			headers := []string{"ISSUE_ID", "PATH", "BRANCH", "BASE_COMMIT"}
			rows := make([][]string, 0, len(detailed.ActiveSessions))
			for _, w := range detailed.ActiveSessions {
				rows = append(rows, []string{w.IssueID, w.Path, w.Branch, w.BaseCommit})
			}

			out.Print(headers, rows, detailed)
			return nil
		},
	}
}
