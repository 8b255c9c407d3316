package cmd

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/spf13/cobra"

	"github.com/austindbirch/harbor_agent/internal/jsonrpc"
)

// cardCmd represents the card command
var cardCmd = &cobra.Command{
	Use:   "card",
	Short: "Show the agent card",
	Long:  `Fetch the agent card published at /.well-known/agent.json.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()

		card, err := jsonrpc.FetchAgentCard(ctx, &http.Client{}, serverURL)
		if err != nil {
			return err
		}
		if outputJSON {
			printJSON(cmd.OutOrStdout(), card)
			return nil
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "%s v%s\n", card.Name, card.Version)
		fmt.Fprintf(w, "  %s\n", card.Description)
		fmt.Fprintf(w, "  URL: %s\n", card.URL)
		fmt.Fprintf(w, "  Streaming: %v  Push notifications: %v\n", card.Capabilities.Streaming, card.Capabilities.PushNotifications)
		fmt.Fprintf(w, "  Modes: in=%s out=%s\n", strings.Join(card.DefaultInputModes, ","), strings.Join(card.DefaultOutputModes, ","))
		for _, s := range card.Skills {
			fmt.Fprintf(w, "  Skill %s: %s\n", s.ID, s.Name)
			for _, ex := range s.Examples {
				fmt.Fprintf(w, "    e.g. %q\n", ex)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(cardCmd)
}
