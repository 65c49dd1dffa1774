// Package enrich runs the wishlist enrichment pipeline: resolve each
// app id to a display name, match it against the deals catalog, then
// join current subscription coverage back onto every item in one
// batched lookup.
package enrich

import (
	"context"
	"log/slog"
	"slices"
	"sync"

	"legionlaunch/services/deals"

	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("services/enrich")

// Namer resolves app ids to display names.
type Namer interface {
	ResolveName(ctx context.Context, appID int64) string
}

// Catalog is the deals api surface the pipeline needs.
type Catalog interface {
	MatchGame(ctx context.Context, title string) ([]deals.MatchCandidate, error)
	ResolveSubscriptions(ctx context.Context, ids []string) (map[string][]string, error)
}

// Item is one enriched wishlist entry. Failures settle into the item
// instead of aborting its siblings.
type Item struct {
	AppID      int64
	Name       string
	Candidates []deals.MatchCandidate
	// Coverage maps subscription names to current availability. Only
	// subscriptions the game is currently on appear.
	Coverage map[string]bool
	// CoverageUnknown is set when the coverage lookup failed for any of
	// this item's candidates; Coverage then holds only what the
	// surviving lookups proved, and empty means "could not find out",
	// not "uncovered".
	CoverageUnknown bool
	Err             error
}

type Pipeline struct {
	namer   Namer
	catalog Catalog
	// concurrency bounds the per-item name/match phase. The coverage
	// join is a single batched call and needs no bound.
	concurrency int
}

func NewPipeline(namer Namer, catalog Catalog) *Pipeline {
	return &Pipeline{
		namer:       namer,
		catalog:     catalog,
		concurrency: 5,
	}
}

// Enrich processes every app id and returns one item per input, in
// input order. It returns only after every item has settled.
func (p *Pipeline) Enrich(ctx context.Context, appIDs []int64) []Item {
	ctx, span := tracer.Start(ctx, "enrich:Enrich")
	defer span.End()

	items := make([]Item, len(appIDs))

	var wg sync.WaitGroup
	sem := make(chan struct{}, p.concurrency)
	for i, appID := range appIDs {
		wg.Add(1)
		go func(i int, appID int64) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			item := Item{AppID: appID}
			item.Name = p.namer.ResolveName(ctx, appID)
			candidates, err := p.catalog.MatchGame(ctx, item.Name)
			if err != nil {
				slog.ErrorContext(
					ctx, "catalog match failed",
					"app_id", appID,
					"name", item.Name,
					"err", err,
				)
				item.Err = err
			} else {
				item.Candidates = candidates
			}
			items[i] = item
		}(i, appID)
	}
	wg.Wait()

	// one coverage lookup over the union of every matched id. a base
	// game and a bundled edition may carry coverage independently, so
	// every candidate participates, not just the best one.
	var ids []string
	for _, item := range items {
		if item.Err != nil {
			continue
		}
		for _, c := range item.Candidates {
			ids = append(ids, c.ID)
		}
	}
	if len(ids) == 0 {
		return items
	}

	coverage, err := p.catalog.ResolveSubscriptions(ctx, ids)
	if err != nil {
		slog.ErrorContext(ctx, "coverage resolution failed", "err", err)
		for i := range items {
			if items[i].Err == nil && len(items[i].Candidates) > 0 {
				items[i].CoverageUnknown = true
			}
		}
		return items
	}

	for i := range items {
		item := &items[i]
		if item.Err != nil || len(item.Candidates) == 0 {
			continue
		}
		item.Coverage = map[string]bool{}
		for _, c := range item.Candidates {
			subs := coverage[c.ID]
			if slices.Contains(subs, deals.SubscriptionError) {
				item.CoverageUnknown = true
				continue
			}
			for _, name := range subs {
				item.Coverage[name] = true
			}
		}
	}
	return items
}
