package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"legionlaunch/lib/apikeys"
	"legionlaunch/lib/browser/chromedriver"
	"legionlaunch/lib/kvstore"
	"legionlaunch/lib/serviceutil"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "legion",
	Short: "legion tracks which wishlisted games your subscriptions already cover.",
}

var dataDir *string

func init() {
	dataDir = rootCmd.PersistentFlags().String("data", "", "Directory for the local database and browser profile (defaults to the user config dir).")
}

func ExecuteContext(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func baseDir() string {
	if *dataDir != "" {
		return *dataDir
	}
	config, err := os.UserConfigDir()
	if err != nil {
		serviceutil.Fatal("could not resolve the user config dir, pass --data explicitly", err)
	}
	return filepath.Join(config, "legionlaunch")
}

func openStore() kvstore.Store {
	store, err := kvstore.Open(filepath.Join(baseDir(), "legion.db"))
	if err != nil {
		serviceutil.Fatal("failed to open the local database", err)
	}
	return store
}

func browserFactory(headless bool) chromedriver.Factory {
	return chromedriver.Factory{
		Headless:    headless,
		UserDataDir: filepath.Join(baseDir(), "browser"),
	}
}

func keys() apikeys.Keys {
	return apikeys.Keys{FallbackPath: filepath.Join(baseDir(), "keys.json")}
}
