package enrich

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"legionlaunch/services/deals"

	"github.com/stretchr/testify/require"
)

type fakeNamer struct{}

func (fakeNamer) ResolveName(ctx context.Context, appID int64) string {
	return fmt.Sprintf("Game %d", appID)
}

type fakeCatalog struct {
	mu          sync.Mutex
	inFlight    int
	maxInFlight int
	matchErr    map[string]error
	candidates  map[string][]deals.MatchCandidate
	coverage    map[string][]string
	subsErr     error
	subsCalls   int
}

func (c *fakeCatalog) MatchGame(ctx context.Context, title string) ([]deals.MatchCandidate, error) {
	c.mu.Lock()
	c.inFlight++
	if c.inFlight > c.maxInFlight {
		c.maxInFlight = c.inFlight
	}
	c.mu.Unlock()

	// hold the slot long enough for overlap to show up
	time.Sleep(time.Millisecond * 10)

	c.mu.Lock()
	c.inFlight--
	c.mu.Unlock()

	if err := c.matchErr[title]; err != nil {
		return nil, err
	}
	return c.candidates[title], nil
}

func (c *fakeCatalog) ResolveSubscriptions(ctx context.Context, ids []string) (map[string][]string, error) {
	c.mu.Lock()
	c.subsCalls++
	c.mu.Unlock()

	if c.subsErr != nil {
		return nil, c.subsErr
	}
	out := map[string][]string{}
	for _, id := range ids {
		out[id] = c.coverage[id]
	}
	return out, nil
}

func candidate(id string) []deals.MatchCandidate {
	return []deals.MatchCandidate{{ID: id, Title: id, Score: 100}}
}

func TestEnrichFaultIsolation(t *testing.T) {
	catalog := &fakeCatalog{
		matchErr:   map[string]error{"Game 5": errors.New("catalog down")},
		candidates: map[string][]deals.MatchCandidate{},
		coverage:   map[string][]string{},
	}
	var appIDs []int64
	for i := int64(1); i <= 10; i++ {
		appIDs = append(appIDs, i)
		if i != 5 {
			catalog.candidates[fmt.Sprintf("Game %d", i)] = candidate(fmt.Sprintf("g%d", i))
		}
	}

	pipeline := NewPipeline(fakeNamer{}, catalog)
	items := pipeline.Enrich(context.Background(), appIDs)
	require.Len(t, items, 10)

	enriched := 0
	for _, item := range items {
		if item.AppID == 5 {
			require.Error(t, item.Err)
			continue
		}
		require.NoError(t, item.Err)
		require.Len(t, item.Candidates, 1)
		enriched++
	}
	require.Equal(t, 9, enriched)

	require.LessOrEqual(t, catalog.maxInFlight, 5)
	require.Greater(t, catalog.maxInFlight, 1)
	require.Equal(t, 1, catalog.subsCalls)
}

func TestEnrichJoinsCoverage(t *testing.T) {
	catalog := &fakeCatalog{
		candidates: map[string][]deals.MatchCandidate{
			"Game 1": candidate("g1"),
			"Game 2": candidate("g2"),
			"Game 3": candidate("g3"),
		},
		coverage: map[string][]string{
			"g2": {"Game Pass"},
		},
	}

	pipeline := NewPipeline(fakeNamer{}, catalog)
	items := pipeline.Enrich(context.Background(), []int64{1, 2, 3})
	require.Len(t, items, 3)

	covered := 0
	for _, item := range items {
		require.NoError(t, item.Err)
		if item.Coverage["Game Pass"] {
			covered++
			require.Equal(t, int64(2), item.AppID)
		}
	}
	require.Equal(t, 1, covered)
}

func TestEnrichUnionsCoverageAcrossCandidates(t *testing.T) {
	// the base game is not on any subscription but its bundled edition
	// is; the item must pick up the edition's coverage
	catalog := &fakeCatalog{
		candidates: map[string][]deals.MatchCandidate{
			"Game 1": {
				{ID: "base", Title: "Game 1", Score: 100},
				{ID: "edition", Title: "Game 1 Gold Edition", Score: 72},
			},
		},
		coverage: map[string][]string{
			"edition": {"Game Pass"},
		},
	}

	pipeline := NewPipeline(fakeNamer{}, catalog)
	items := pipeline.Enrich(context.Background(), []int64{1})
	require.Len(t, items, 1)
	require.NoError(t, items[0].Err)
	require.False(t, items[0].CoverageUnknown)
	require.True(t, items[0].Coverage["Game Pass"])
}

func TestEnrichPartialSentinelKeepsSurvivingCoverage(t *testing.T) {
	catalog := &fakeCatalog{
		candidates: map[string][]deals.MatchCandidate{
			"Game 1": {
				{ID: "base", Title: "Game 1", Score: 100},
				{ID: "edition", Title: "Game 1 Gold Edition", Score: 72},
			},
		},
		coverage: map[string][]string{
			"base":    {deals.SubscriptionError},
			"edition": {"EA Play"},
		},
	}

	pipeline := NewPipeline(fakeNamer{}, catalog)
	items := pipeline.Enrich(context.Background(), []int64{1})
	require.True(t, items[0].CoverageUnknown)
	require.True(t, items[0].Coverage["EA Play"])
}

func TestEnrichMarksCoverageUnknownOnSentinel(t *testing.T) {
	catalog := &fakeCatalog{
		candidates: map[string][]deals.MatchCandidate{
			"Game 1": candidate("g1"),
			"Game 2": candidate("g2"),
		},
		coverage: map[string][]string{
			"g1": {deals.SubscriptionError},
			"g2": {"EA Play"},
		},
	}

	pipeline := NewPipeline(fakeNamer{}, catalog)
	items := pipeline.Enrich(context.Background(), []int64{1, 2})

	require.True(t, items[0].CoverageUnknown)
	require.Empty(t, items[0].Coverage)
	require.False(t, items[1].CoverageUnknown)
	require.True(t, items[1].Coverage["EA Play"])
}

func TestEnrichNoCandidatesSkipsLookup(t *testing.T) {
	catalog := &fakeCatalog{candidates: map[string][]deals.MatchCandidate{}}

	pipeline := NewPipeline(fakeNamer{}, catalog)
	items := pipeline.Enrich(context.Background(), []int64{1, 2})
	require.Len(t, items, 2)
	require.Equal(t, 0, catalog.subsCalls)
	for _, item := range items {
		require.NoError(t, item.Err)
		require.Empty(t, item.Candidates)
		require.False(t, item.CoverageUnknown)
	}
}

func TestEnrichCoverageFailureMarksMatchedItems(t *testing.T) {
	catalog := &fakeCatalog{
		candidates: map[string][]deals.MatchCandidate{
			"Game 1": candidate("g1"),
		},
		subsErr: errors.New("api down"),
	}

	pipeline := NewPipeline(fakeNamer{}, catalog)
	items := pipeline.Enrich(context.Background(), []int64{1})
	require.True(t, items[0].CoverageUnknown)
}