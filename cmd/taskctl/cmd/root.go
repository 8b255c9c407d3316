package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"net/http"
	"os"
	"os/exec"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/austindbirch/harbor_agent/internal/a2a"
	"github.com/austindbirch/harbor_agent/internal/grpcapi"
	"github.com/austindbirch/harbor_agent/internal/jsonrpc"
)

var (
	cfgFile    string
	serverURL  string
	grpcAddr   string
	timeout    time.Duration
	useGRPC    bool
	outputJSON bool
	prettyJSON bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "taskctl",
	Short: "Harbor Agent CLI - Talk to the currency agent over A2A",
	Long: `Harbor Agent CLI (taskctl) is a command line tool for the Harbor Agent
A2A server.

You can use it to send questions to the currency agent, follow a task's
progress as it streams, fetch and cancel tasks, and manage push
notification webhooks.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.taskctl.yaml)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080/", "JSON-RPC endpoint of the agent")
	rootCmd.PersistentFlags().StringVar(&grpcAddr, "grpc-addr", "localhost:50051", "gRPC address (host:port) used with --grpc")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 2*time.Minute, "request timeout")
	rootCmd.PersistentFlags().BoolVar(&useGRPC, "grpc", false, "use gRPC instead of JSON-RPC")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().BoolVar(&prettyJSON, "pretty", false, "use jq for pretty JSON formatting (requires jq)")

	// Bind flags to viper
	for _, name := range []string{"server", "grpc-addr", "timeout", "grpc", "json", "pretty"} {
		_ = viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".taskctl")
	}

	viper.SetEnvPrefix("TASKCTL")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}

	// Override global variables with config values if flags weren't explicitly set
	flags := rootCmd.PersistentFlags()
	if !flags.Changed("server") {
		if s := viper.GetString("server"); s != "" {
			serverURL = s
		}
	}
	if !flags.Changed("grpc-addr") {
		if s := viper.GetString("grpc-addr"); s != "" {
			grpcAddr = s
		}
	}
	if !flags.Changed("timeout") {
		if d := viper.GetDuration("timeout"); d > 0 {
			timeout = d
		}
	}
	if !flags.Changed("grpc") {
		useGRPC = viper.GetBool("grpc")
	}
	if !flags.Changed("json") {
		outputJSON = viper.GetBool("json")
	}
	if !flags.Changed("pretty") {
		prettyJSON = viper.GetBool("pretty")
	}
}

// taskClient is what both transports offer for task operations
type taskClient interface {
	SendTask(ctx context.Context, params a2a.TaskSendParams) (*a2a.Task, error)
	GetTask(ctx context.Context, params a2a.TaskQueryParams) (*a2a.Task, error)
	CancelTask(ctx context.Context, params a2a.TaskIDParams) (*a2a.Task, error)
	SendTaskSubscribe(ctx context.Context, params a2a.TaskSendParams) iter.Seq2[a2a.Event, error]
	Resubscribe(ctx context.Context, params a2a.TaskQueryParams) iter.Seq2[a2a.Event, error]
}

var (
	_ taskClient = (*jsonrpc.Client)(nil)
	_ taskClient = (*grpcapi.Client)(nil)
)

// getClient returns a client for the selected transport
func getClient() (taskClient, func(), error) {
	if useGRPC {
		conn, err := grpcapi.Dial(grpcAddr)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect: %w", err)
		}
		return grpcapi.NewClient(conn), func() { _ = conn.Close() }, nil
	}
	return getRPCClient(), func() {}, nil
}

// getRPCClient returns a JSON-RPC client. Push notification methods only exist there.
func getRPCClient() *jsonrpc.Client {
	return jsonrpc.NewClient(serverURL, &http.Client{})
}

// commandContext bounds a command by --timeout
func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, timeout)
}

// checkJQAvailable checks if jq is available in PATH
func checkJQAvailable() bool {
	_, err := exec.LookPath("jq")
	return err == nil
}

// formatWithJQ formats JSON using jq for pretty printing
func formatWithJQ(jsonData []byte) (string, error) {
	if !checkJQAvailable() {
		return "", fmt.Errorf("jq not found in PATH")
	}

	cmd := exec.Command("jq", ".")
	cmd.Stdin = bytes.NewReader(jsonData)

	var out bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("jq formatting failed: %s", stderr.String())
	}

	return out.String(), nil
}

// printJSON writes v as JSON, through jq when --pretty is set
func printJSON(w io.Writer, v any) {
	var (
		jsonData []byte
		err      error
	)
	if prettyJSON {
		// Compact JSON if we're going to format with jq
		jsonData, err = json.Marshal(v)
	} else {
		jsonData, err = json.MarshalIndent(v, "", "  ")
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error marshaling to JSON: %v\n", err)
		return
	}

	if !prettyJSON {
		fmt.Fprintln(w, string(jsonData))
		return
	}
	formatted, jqErr := formatWithJQ(jsonData)
	if jqErr != nil {
		// Fall back to standard pretty printing if jq fails
		fmt.Fprintf(os.Stderr, "Warning: %v, falling back to standard formatting\n", jqErr)
		jsonData, _ = json.MarshalIndent(v, "", "  ")
		fmt.Fprintln(w, string(jsonData))
		return
	}
	fmt.Fprint(w, formatted)
}

// printOutput prints the response in the requested format
func printOutput(w io.Writer, v any) {
	if outputJSON {
		printJSON(w, v)
		return
	}
	switch v := v.(type) {
	case *a2a.Task:
		printTask(w, v)
	case a2a.Event:
		printEvent(w, v)
	case *a2a.TaskPushNotificationConfig:
		fmt.Fprintf(w, "Task %s pushes to %s\n", v.ID, v.PushNotificationConfig.URL)
		if v.PushNotificationConfig.Token != "" {
			fmt.Fprintf(w, "  Token: %s\n", v.PushNotificationConfig.Token)
		}
	default:
		fmt.Fprintf(w, "%+v\n", v)
	}
}

// printTask renders a task for humans
func printTask(w io.Writer, t *a2a.Task) {
	fmt.Fprintf(w, "Task %s [%s]\n", t.ID, t.Status.State)
	if t.SessionID != "" {
		fmt.Fprintf(w, "  Session: %s\n", t.SessionID)
	}
	if text := t.Status.Message.Text(); text != "" {
		fmt.Fprintf(w, "  Agent: %s\n", text)
	}
	for i, art := range t.Artifacts {
		msg := a2a.Message{Parts: art.Parts}
		fmt.Fprintf(w, "  Artifact %d: %s\n", i, msg.Text())
	}
	if len(t.History) > 0 {
		fmt.Fprintf(w, "  History: %d messages\n", len(t.History))
		for _, m := range t.History {
			fmt.Fprintf(w, "    %s: %s\n", m.Role, m.Text())
		}
	}
}

// printEvent renders one streamed event on a single line
func printEvent(w io.Writer, ev a2a.Event) {
	switch e := ev.(type) {
	case *a2a.TaskStatusUpdateEvent:
		line := fmt.Sprintf("[%s]", e.Status.State)
		if text := e.Status.Message.Text(); text != "" {
			line += " " + text
		}
		if e.Final {
			line += " (final)"
		}
		fmt.Fprintln(w, line)
	case *a2a.TaskArtifactUpdateEvent:
		msg := a2a.Message{Parts: e.Artifact.Parts}
		fmt.Fprintf(w, "[artifact] %s\n", msg.Text())
	default:
		fmt.Fprintf(w, "%+v\n", ev)
	}
}
