package cmd

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/austindbirch/harbor_agent/internal/jsonrpc"
)

var configKeys = []string{"server", "grpc-addr", "timeout", "grpc", "json", "pretty"}

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage taskctl configuration",
	Long:  `Manage taskctl configuration settings.`,
}

// configViewCmd represents the config view command
var configViewCmd = &cobra.Command{
	Use:   "view",
	Short: "View current configuration",
	Long:  `Display the current configuration settings.`,
	Run: func(cmd *cobra.Command, args []string) {
		w := cmd.OutOrStdout()
		if outputJSON {
			printJSON(w, map[string]any{
				"server":    viper.GetString("server"),
				"grpc-addr": viper.GetString("grpc-addr"),
				"timeout":   viper.GetDuration("timeout").String(),
				"grpc":      viper.GetBool("grpc"),
				"json":      viper.GetBool("json"),
				"pretty":    viper.GetBool("pretty"),
			})
			return
		}
		fmt.Fprintln(w, "Current configuration:")
		fmt.Fprintf(w, "  Server: %s\n", viper.GetString("server"))
		fmt.Fprintf(w, "  gRPC address: %s\n", viper.GetString("grpc-addr"))
		fmt.Fprintf(w, "  Timeout: %s\n", viper.GetDuration("timeout"))
		fmt.Fprintf(w, "  Use gRPC: %v\n", viper.GetBool("grpc"))
		fmt.Fprintf(w, "  JSON Output: %v\n", viper.GetBool("json"))
		fmt.Fprintf(w, "  Pretty JSON: %v\n", viper.GetBool("pretty"))

		if viper.GetBool("pretty") && !checkJQAvailable() {
			fmt.Fprintf(w, "  ⚠️  Warning: pretty=true but jq not found in PATH\n")
		}
		if viper.ConfigFileUsed() != "" {
			fmt.Fprintf(w, "  Config file: %s\n", viper.ConfigFileUsed())
		} else {
			fmt.Fprintln(w, "  Config file: none (using defaults)")
		}
	},
}

// setConfigValue validates value for key and stores it in viper
func setConfigValue(key, value string) error {
	if !slices.Contains(configKeys, key) {
		return fmt.Errorf("invalid configuration key: %s. Valid keys are: %s", key, strings.Join(configKeys, ", "))
	}

	switch key {
	case "grpc", "json", "pretty":
		switch value {
		case "true", "1", "yes", "on":
			viper.Set(key, true)
		case "false", "0", "no", "off":
			viper.Set(key, false)
		default:
			return fmt.Errorf("invalid boolean value for %s: %s (use true/false)", key, value)
		}
	case "timeout":
		dur, err := time.ParseDuration(value)
		if err != nil || dur <= 0 {
			return fmt.Errorf("invalid duration for timeout: %s", value)
		}
		viper.Set(key, dur.String())
	default:
		viper.Set(key, value)
	}
	return nil
}

func defaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".taskctl.yaml"), nil
}

// configSetCmd represents the config set command
var configSetCmd = &cobra.Command{
	Use:   "set [key] [value]",
	Short: "Set a configuration value",
	Long: `Set a configuration value and save it to the config file.

Examples:
  taskctl config set server http://localhost:8080/
  taskctl config set timeout 60s
  taskctl config set grpc true
  taskctl config set pretty true`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]
		w := cmd.OutOrStdout()

		// Special handling for pretty - warn if jq is not available
		if key == "pretty" && (value == "true" || value == "1") && !checkJQAvailable() {
			fmt.Fprintf(w, "⚠️  Warning: jq not found in PATH. Pretty formatting will fall back to standard formatting.\n")
			fmt.Fprintf(w, "To install jq: https://jqlang.github.io/jq/download/\n\n")
		}
		if err := setConfigValue(key, value); err != nil {
			return err
		}

		configPath := viper.ConfigFileUsed()
		if configPath == "" {
			p, err := defaultConfigPath()
			if err != nil {
				return err
			}
			configPath = p
		}
		if err := viper.WriteConfigAs(configPath); err != nil {
			return fmt.Errorf("failed to write config file: %w", err)
		}

		fmt.Fprintf(w, "Set %s = %s\n", key, value)
		fmt.Fprintf(w, "Configuration saved to: %s\n", configPath)
		return nil
	},
}

// configInitCmd represents the config init command
var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration file",
	Long:  `Create a default configuration file in the home directory.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, err := defaultConfigPath()
		if err != nil {
			return err
		}

		// Check if config file already exists
		if _, err := os.Stat(configPath); err == nil {
			overwrite, _ := cmd.Flags().GetBool("force")
			if !overwrite {
				return fmt.Errorf("config file already exists at %s (use --force to overwrite)", configPath)
			}
		}

		defaults := map[string]any{
			"server":    "http://localhost:8080/",
			"grpc-addr": "localhost:50051",
			"timeout":   "2m",
			"grpc":      false,
			"json":      false,
			"pretty":    false,
		}
		for _, k := range configKeys {
			viper.Set(k, defaults[k])
		}
		if err := viper.WriteConfigAs(configPath); err != nil {
			return fmt.Errorf("failed to create config file: %w", err)
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "Configuration file created: %s\n", configPath)
		fmt.Fprintln(w, "Default settings:")
		for _, k := range configKeys {
			fmt.Fprintf(w, "  %s: %v\n", k, defaults[k])
		}
		return nil
	},
}

// configCheckCmd represents the config check command
var configCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Check configuration and dependencies",
	Long:  `Check the current configuration, jq availability and that the agent answers.`,
	Run: func(cmd *cobra.Command, args []string) {
		w := cmd.OutOrStdout()
		fmt.Fprintln(w, "Configuration check:")
		fmt.Fprintf(w, "  ✅ taskctl version: %s\n", Version)

		if viper.ConfigFileUsed() != "" {
			fmt.Fprintf(w, "  ✅ Config file: %s\n", viper.ConfigFileUsed())
		} else {
			fmt.Fprintf(w, "  ⚠️  Config file: not found (using defaults)\n")
		}

		if checkJQAvailable() {
			fmt.Fprintf(w, "  ✅ jq: available\n")
		} else {
			fmt.Fprintf(w, "  ❌ jq: not found in PATH\n")
			fmt.Fprintf(w, "     Install from: https://jqlang.github.io/jq/download/\n")
		}

		fmt.Fprintf(w, "  ✅ Server: %s\n", serverURL)

		fmt.Fprintln(w, "\nTesting agent connectivity...")
		ctx, cancel := commandContext(cmd)
		defer cancel()
		card, err := jsonrpc.FetchAgentCard(ctx, &http.Client{}, serverURL)
		if err != nil {
			fmt.Fprintf(w, "  ❌ Agent card: %v\n", err)
			return
		}
		fmt.Fprintf(w, "  ✅ Agent card: %s v%s\n", card.Name, card.Version)
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configViewCmd, configSetCmd, configInitCmd, configCheckCmd)

	// Flags for init command
	configInitCmd.Flags().Bool("force", false, "overwrite existing config file")
}
