package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/austindbirch/harbor_agent/internal/a2a"
)

// getCmd represents the get command
var getCmd = &cobra.Command{
	Use:   "get [task-id]",
	Short: "Fetch a task",
	Long: `Fetch a task's status, artifacts and history.

Example:
  taskctl get 3f0c2a4e-8d7b-4d1e-9a55-0b9f3c6d2e11 --history 2`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		params := a2a.TaskQueryParams{ID: args[0]}
		if n, _ := cmd.Flags().GetInt("history"); n >= 0 {
			params.HistoryLength = &n
		}

		client, cleanup, err := getClient()
		if err != nil {
			return err
		}
		defer cleanup()

		ctx, cancel := commandContext(cmd)
		defer cancel()

		task, err := client.GetTask(ctx, params)
		if err != nil {
			return fmt.Errorf("failed to get task: %w", err)
		}
		printOutput(cmd.OutOrStdout(), task)
		return nil
	},
}

// cancelCmd represents the cancel command
var cancelCmd = &cobra.Command{
	Use:   "cancel [task-id]",
	Short: "Ask the agent to cancel a task",
	Long:  `Ask the agent to cancel a task. The currency agent refuses every cancellation.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, cleanup, err := getClient()
		if err != nil {
			return err
		}
		defer cleanup()

		ctx, cancel := commandContext(cmd)
		defer cancel()

		task, err := client.CancelTask(ctx, a2a.TaskIDParams{ID: args[0]})
		if err != nil {
			return fmt.Errorf("failed to cancel task: %w", err)
		}
		printOutput(cmd.OutOrStdout(), task)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(getCmd, cancelCmd)
	getCmd.Flags().Int("history", -1, "number of history messages to return (-1 for all)")
}
