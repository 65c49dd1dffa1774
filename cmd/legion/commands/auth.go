package commands

import (
	"fmt"
	"log/slog"
	"os"

	"legionlaunch/lib/serviceutil"
	"legionlaunch/services/session"

	"github.com/spf13/cobra"
)

var (
	authService *string
	authSilent  *bool
)

func init() {
	authService = authCmd.Flags().String("service", "steam", "Storefront to authenticate against: steam, ea, ubisoft or xbox.")
	authSilent = authCmd.Flags().Bool("silent", false, "Refresh the stored session without opening a login window.")
	rootCmd.AddCommand(authCmd)
}

var authCmd = &cobra.Command{
	Use:   "auth --service <name> [--silent]",
	Short: "Logs in to a storefront and stores the session cookies.",
	Run: func(cmd *cobra.Command, args []string) {
		config, ok := session.Configs[*authService]
		if !ok {
			serviceutil.Fatal("unknown service", fmt.Errorf("%q is not one of steam, ea, ubisoft, xbox", *authService))
		}

		store := openStore()
		defer store.Close()

		machine := session.NewMachine(config, browserFactory(*authSilent), session.NewStore(store))

		var result session.Result
		var err error
		if *authSilent {
			result, err = machine.RefreshSilent(cmd.Context())
		} else {
			result, err = machine.Login(cmd.Context())
		}
		if err != nil {
			serviceutil.Fatal("authentication failed", err)
		}

		switch result.Outcome {
		case session.OutcomeSuccess:
			slog.Info("authenticated", "service", config.Service, "cookies", result.Jar.Len())
		case session.OutcomeNeedsLogin:
			if *authSilent {
				fmt.Fprintf(os.Stderr, "session expired, could not refresh automatically - run `legion auth --service %s` to log in interactively\n", config.Service)
			} else {
				fmt.Fprintln(os.Stderr, "the login window closed before the login completed")
			}
			os.Exit(1)
		}
	},
}
