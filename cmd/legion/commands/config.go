package commands

import (
	"fmt"
	"log/slog"
	"strings"

	"legionlaunch/lib/serviceutil"

	"github.com/spf13/cobra"
)

var setApiKey *string

func init() {
	setApiKey = configCmd.Flags().String("set-api-key", "", "Store an api key, formatted SERVICE=KEY (e.g. ITAD=abc123).")
	rootCmd.AddCommand(configCmd)
}

var configCmd = &cobra.Command{
	Use:   "config --set-api-key SERVICE=KEY",
	Short: "Manages local configuration such as api keys.",
	Run: func(cmd *cobra.Command, args []string) {
		if *setApiKey == "" {
			cmd.Help()
			return
		}

		name, value, ok := strings.Cut(*setApiKey, "=")
		if !ok {
			serviceutil.Fatal("invalid --set-api-key value", fmt.Errorf("expected SERVICE=KEY, got %q", *setApiKey))
		}
		err := keys().Set(name, value)
		if err != nil {
			serviceutil.Fatal("failed to store the api key", err)
		}
		slog.Info("api key stored", "service", strings.ToUpper(strings.TrimSpace(name)))
	},
}
