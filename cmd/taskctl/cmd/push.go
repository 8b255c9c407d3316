package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/austindbirch/harbor_agent/internal/a2a"
)

var errPushOverGRPC = errors.New("push notification commands are only available over JSON-RPC")

// pushCmd represents the push command
var pushCmd = &cobra.Command{
	Use:   "push",
	Short: "Manage push notification webhooks",
	Long:  `Register and inspect the webhook a task notifies on every state change.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if useGRPC {
			return errPushOverGRPC
		}
		return nil
	},
}

// pushSetCmd represents the push set command
var pushSetCmd = &cobra.Command{
	Use:   "set [task-id] [url]",
	Short: "Register a webhook for a task",
	Long: `Register a webhook for an existing task. The agent first sends the URL a
validation challenge and rejects it unless the token is echoed back.

Example:
  taskctl push set 3f0c2a4e-8d7b-4d1e-9a55-0b9f3c6d2e11 http://localhost:8081/hook --token secret`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		token, _ := cmd.Flags().GetString("token")

		ctx, cancel := commandContext(cmd)
		defer cancel()

		cfg, err := getRPCClient().SetPushNotification(ctx, a2a.TaskPushNotificationConfig{
			ID:                     args[0],
			PushNotificationConfig: a2a.PushNotificationConfig{URL: args[1], Token: token},
		})
		if err != nil {
			return fmt.Errorf("failed to set push notification: %w", err)
		}
		printOutput(cmd.OutOrStdout(), cfg)
		return nil
	},
}

// pushGetCmd represents the push get command
var pushGetCmd = &cobra.Command{
	Use:   "get [task-id]",
	Short: "Show the webhook registered for a task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()

		cfg, err := getRPCClient().GetPushNotification(ctx, a2a.TaskIDParams{ID: args[0]})
		if err != nil {
			return fmt.Errorf("failed to get push notification: %w", err)
		}
		printOutput(cmd.OutOrStdout(), cfg)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(pushCmd)
	pushCmd.AddCommand(pushSetCmd, pushGetCmd)
	pushSetCmd.Flags().String("token", "", "token echoed back to the webhook in every push")
}
