package cmd

import (
	"fmt"
	"iter"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/austindbirch/harbor_agent/internal/a2a"
)

// sendOptions are the flags shared by send and stream
type sendOptions struct {
	taskID        string
	sessionID     string
	acceptModes   []string
	historyLength int
	pushURL       string
	pushToken     string
}

func (o *sendOptions) register(fs *pflag.FlagSet) {
	fs.StringVar(&o.taskID, "id", "", "task id (default: a new UUID)")
	fs.StringVar(&o.sessionID, "session", "", "session id; reuse it to continue a conversation (default: a new UUID)")
	fs.StringSliceVar(&o.acceptModes, "accept", []string{"text"}, "accepted output modes")
	fs.IntVar(&o.historyLength, "history", -1, "number of history messages to return (-1 for all)")
	fs.StringVar(&o.pushURL, "push-url", "", "webhook to notify on every state change")
	fs.StringVar(&o.pushToken, "push-token", "", "token echoed back to the webhook")
}

// params builds the send request for text
func (o *sendOptions) params(text string) (a2a.TaskSendParams, error) {
	if strings.TrimSpace(text) == "" {
		return a2a.TaskSendParams{}, fmt.Errorf("message text is required")
	}
	p := a2a.TaskSendParams{
		ID:                  o.taskID,
		SessionID:           o.sessionID,
		AcceptedOutputModes: o.acceptModes,
		Message: a2a.Message{
			Role:  a2a.RoleUser,
			Parts: []a2a.Part{a2a.NewTextPart(text)},
		},
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.SessionID == "" {
		p.SessionID = uuid.NewString()
	}
	if o.historyLength >= 0 {
		n := o.historyLength
		p.HistoryLength = &n
	}
	if o.pushToken != "" && o.pushURL == "" {
		return a2a.TaskSendParams{}, fmt.Errorf("--push-token needs --push-url")
	}
	if o.pushURL != "" {
		p.PushNotification = &a2a.PushNotificationConfig{URL: o.pushURL, Token: o.pushToken}
	}
	return p, nil
}

var (
	sendOpts   sendOptions
	streamOpts sendOptions
)

// sendCmd represents the send command
var sendCmd = &cobra.Command{
	Use:   "send [message]",
	Short: "Send a message and wait for the task result",
	Long: `Send a message to the agent and print the task once it settles.

Example:
  taskctl send "What is the exchange rate between USD and GBP?"
  taskctl send --session s1 "And for EUR?"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		params, err := sendOpts.params(strings.Join(args, " "))
		if err != nil {
			return err
		}

		client, cleanup, err := getClient()
		if err != nil {
			return err
		}
		defer cleanup()

		ctx, cancel := commandContext(cmd)
		defer cancel()

		task, err := client.SendTask(ctx, params)
		if err != nil {
			return fmt.Errorf("failed to send task: %w", err)
		}
		printOutput(cmd.OutOrStdout(), task)
		return nil
	},
}

// streamCmd represents the stream command
var streamCmd = &cobra.Command{
	Use:   "stream [message]",
	Short: "Send a message and follow the task's events",
	Long: `Send a message with tasks/sendSubscribe and print every status and
artifact event until the task reaches a final state.

Example:
  taskctl stream "Convert 100 USD to JPY"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		params, err := streamOpts.params(strings.Join(args, " "))
		if err != nil {
			return err
		}

		client, cleanup, err := getClient()
		if err != nil {
			return err
		}
		defer cleanup()

		ctx, cancel := commandContext(cmd)
		defer cancel()

		if !outputJSON {
			fmt.Fprintf(cmd.OutOrStdout(), "Task %s (session %s)\n", params.ID, params.SessionID)
		}
		return follow(cmd, client.SendTaskSubscribe(ctx, params))
	},
}

// resubscribeCmd represents the resubscribe command
var resubscribeCmd = &cobra.Command{
	Use:   "resubscribe [task-id]",
	Short: "Reattach to a running task's events",
	Long: `Reattach to a task that is still running and print its remaining events.

Example:
  taskctl resubscribe 3f0c2a4e-8d7b-4d1e-9a55-0b9f3c6d2e11`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, cleanup, err := getClient()
		if err != nil {
			return err
		}
		defer cleanup()

		ctx, cancel := commandContext(cmd)
		defer cancel()

		return follow(cmd, client.Resubscribe(ctx, a2a.TaskQueryParams{ID: args[0]}))
	},
}

// follow prints events until the stream ends
func follow(cmd *cobra.Command, events iter.Seq2[a2a.Event, error]) error {
	for ev, err := range events {
		if err != nil {
			return fmt.Errorf("stream failed: %w", err)
		}
		printOutput(cmd.OutOrStdout(), ev)
	}
	return nil
}

func init() {
	rootCmd.AddCommand(sendCmd, streamCmd, resubscribeCmd)
	sendOpts.register(sendCmd.Flags())
	streamOpts.register(streamCmd.Flags())
}
