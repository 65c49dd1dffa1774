package commands

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"legionlaunch/lib/linker"
	"legionlaunch/lib/serviceutil"
	"legionlaunch/services/deals"
	"legionlaunch/services/enrich"
	"legionlaunch/services/fetcher"
	"legionlaunch/services/session"
	"legionlaunch/services/subscriptions"
	"legionlaunch/services/wishlist"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var (
	syncRegion  *string
	syncLibrary *string
	syncTiers   *bool
)

func init() {
	syncRegion = syncCmd.Flags().String("region", "GB", "ITAD country code for subscription lookups.")
	syncLibrary = syncCmd.Flags().String("library", "", "Path to a newline-separated list of locally installed game names to link against the wishlist.")
	syncTiers = syncCmd.Flags().Bool("tiers", false, "Also probe partner storefronts for the held membership tier.")
	rootCmd.AddCommand(syncCmd)
}

func coverageCell(item enrich.Item) string {
	if item.Err != nil || item.CoverageUnknown {
		return "unknown"
	}
	if len(item.Coverage) == 0 {
		return "not on any subscription"
	}
	var names []string
	for name := range item.Coverage {
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}

func readNames(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var names []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		name := strings.TrimSpace(scanner.Text())
		if name != "" {
			names = append(names, name)
		}
	}
	return names, scanner.Err()
}

func newTable() table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleRounded)
	return t
}

var syncCmd = &cobra.Command{
	Use:   "sync [--region GB] [--library <path>] [--tiers]",
	Short: "Pulls the wishlist and reports current subscription coverage per game.",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()

		apiKey, ok, err := keys().Get("ITAD")
		if err != nil || !ok {
			serviceutil.Fatal(
				"no ITAD api key configured",
				errors.New("run `legion config --set-api-key ITAD=<key>` first"),
			)
		}

		store := openStore()
		defer store.Close()

		sessions := session.NewStore(store)
		machine := session.NewMachine(session.Steam, browserFactory(true), sessions)
		fetch := fetcher.New(browserFactory(true), sessions)
		catalog := deals.NewClient(deals.ClientOptions{Key: apiKey, Region: *syncRegion})
		library := wishlist.NewService(wishlist.ServiceOptions{
			Fetcher:  fetch,
			Machine:  machine,
			Sessions: sessions,
			KV:       store,
		})

		snap, err := library.Pull(ctx)
		if errors.Is(err, fetcher.ErrNeedsLogin) || errors.Is(err, fetcher.ErrSessionInvalid) {
			fmt.Fprintln(os.Stderr, "no usable steam session - run `legion auth --service steam` first")
			os.Exit(1)
		}
		if err != nil {
			serviceutil.Fatal("failed to pull the wishlist", err)
		}

		items := enrich.NewPipeline(library, catalog).Enrich(ctx, snap.Wishlist)

		t := newTable()
		t.AppendHeader(table.Row{"Game", "App ID", "Coverage"})
		for _, item := range items {
			t.AppendRow(table.Row{item.Name, item.AppID, coverageCell(item)})
		}
		t.Render()

		if *syncLibrary != "" {
			names, err := readNames(*syncLibrary)
			if err != nil {
				serviceutil.Fatal("failed to read the library list", err)
			}
			var wishlistNames []string
			for _, item := range items {
				wishlistNames = append(wishlistNames, item.Name)
			}

			t := newTable()
			t.AppendHeader(table.Row{"Installed", "Wishlisted", "Correlation"})
			for _, link := range linker.CreateLinks(names, wishlistNames) {
				t.AppendRow(table.Row{link.Left, link.Right, fmt.Sprintf("%.2f", link.Correlation)})
			}
			t.Render()
		}

		if *syncTiers {
			detector := subscriptions.NewDetector(fetch, store)
			probes := []subscriptions.Probe{
				subscriptions.EAPlay,
				subscriptions.UbisoftPlus,
				subscriptions.GamePass,
			}

			t := newTable()
			t.AppendHeader(table.Row{"Service", "Tier"})
			for _, probe := range probes {
				config, ok := session.Configs[probe.Service]
				if !ok {
					continue
				}
				probeMachine := session.NewMachine(config, browserFactory(true), sessions)
				tier, err := detector.Detect(ctx, probeMachine, probe)
				if err != nil {
					t.AppendRow(table.Row{probe.Service, fmt.Sprintf("unknown (%v)", err)})
					continue
				}
				t.AppendRow(table.Row{probe.Service, string(tier)})
			}
			t.Render()
		}
	},
}
