package cmd

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/spf13/cobra"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/austindbirch/harbor_agent/internal/grpcapi"
)

// healthCmd represents the health command
var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check the health of the agent",
	Long:  `Check the agent's /healthz endpoint, or the gRPC health service with --grpc.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()
		w := cmd.OutOrStdout()

		if !useGRPC {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimSuffix(serverURL, "/")+"/healthz", nil)
			if err != nil {
				return err
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return fmt.Errorf("HTTP health check failed: %w", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode == http.StatusOK {
				fmt.Fprintln(w, "✓ Agent is healthy (HTTP)")
			} else {
				fmt.Fprintf(w, "✗ Agent is unhealthy (HTTP %d)\n", resp.StatusCode)
			}
			return nil
		}

		conn, err := grpcapi.Dial(grpcAddr)
		if err != nil {
			return fmt.Errorf("failed to connect: %w", err)
		}
		defer conn.Close()

		resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{})
		if err != nil {
			fmt.Fprintf(w, "✗ Agent is unhealthy: %v\n", err)
			return nil
		}
		if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
			fmt.Fprintf(w, "✗ Agent is %s\n", resp.GetStatus())
			return nil
		}
		fmt.Fprintln(w, "✓ Agent is healthy (gRPC)")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(healthCmd)
}
