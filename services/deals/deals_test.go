package deals

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"slices"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestScoreTitle(t *testing.T) {
	testCases := []struct {
		name      string
		query     string
		candidate string
		exact     int
		atLeast   int
		atMost    int
	}{
		{
			name:      "exact after normalization",
			query:     "Battlefield® 6™",
			candidate: "Battlefield 6",
			exact:     100,
			atLeast:   100,
			atMost:    100,
		},
		{
			name:      "prefix match lands in the plausible band",
			query:     "Hades",
			candidate: "Hades II",
			atLeast:   41,
			atMost:    80,
		},
		{
			name:      "catalog title is a truncation of the query",
			query:     "Dark Souls Remastered",
			candidate: "Dark Souls",
			atLeast:   50,
			atMost:    70,
		},
		{
			name:      "no containment either way scores zero",
			query:     "Stardew Valley",
			candidate: "Hollow Knight",
			atLeast:   0,
			atMost:    0,
		},
		{
			name:      "buried inner match stays below the cutoff",
			query:     "Portal",
			candidate: "The Ultimate Portal Anthology Bundle",
			atLeast:   0,
			atMost:    30,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := scoreTitle(tc.query, tc.candidate)
			if tc.exact != 0 {
				require.Equal(t, tc.exact, got)
			}
			require.GreaterOrEqual(t, got, tc.atLeast)
			require.LessOrEqual(t, got, tc.atMost)

			// scoring must be deterministic
			require.Equal(t, got, scoreTitle(tc.query, tc.candidate))
		})
	}
}

func TestMatchCandidates(t *testing.T) {
	results := []SearchResult{
		{ID: "g1", Title: "Hades"},
		{ID: "g2", Title: "Hades II"},
		{ID: "g3", Title: "Pomegranate Farming Simulator"},
		// duplicate id, worse title
		{ID: "g1", Title: "Hades Something Completely Different"},
		{ID: "", Title: "Hades"},
	}

	got := MatchCandidates("Hades", results)

	var ids []string
	for _, c := range got {
		ids = append(ids, c.ID)
	}
	expected := []string{"g1", "g2"}
	if diff := cmp.Diff(expected, ids); diff != "" {
		t.Fatal(diff)
	}
	require.Equal(t, 100, got[0].Score)
	require.Less(t, got[1].Score, 100)
}

func TestMatchCandidatesOrdersEqualScoresByTitleLength(t *testing.T) {
	results := []SearchResult{
		{ID: "b", Title: "Doom 64"},
		{ID: "a", Title: "Doom II"},
	}
	got := MatchCandidates("Doom", results)
	require.Len(t, got, 2)
	require.Equal(t, got[0].Score, got[1].Score)
	require.GreaterOrEqual(t, len(got[0].Title), len(got[1].Title))

	// tied on score and title length, ordering falls back to the id so
	// repeated runs always agree
	require.Equal(t, "a", got[0].ID)
	require.Equal(t, "b", got[1].ID)
}

func subsServer(t *testing.T, fail func(batch []string) bool, coverage map[string][]string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.NotEmpty(t, r.URL.Query().Get("key"))
		require.Equal(t, "GB", r.URL.Query().Get("country"))

		var batch []string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&batch))
		require.LessOrEqual(t, len(batch), 20)

		if fail != nil && fail(batch) {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		var rows []map[string]any
		for _, id := range batch {
			var subs []map[string]any
			for _, name := range coverage[id] {
				subs = append(subs, map[string]any{"name": name, "leaving": nil})
			}
			rows = append(rows, map[string]any{"id": id, "subs": subs})
		}
		json.NewEncoder(w).Encode(rows)
	}))
}

func TestResolveSubscriptionsBatchIsolation(t *testing.T) {
	coverage := map[string][]string{}
	var ids []string
	for i := 1; i <= 45; i++ {
		id := fmt.Sprintf("id%02d", i)
		ids = append(ids, id)
		coverage[id] = []string{"Game Pass"}
	}

	// the second batch holds ids 21..40
	server := subsServer(t, func(batch []string) bool {
		return slices.Contains(batch, "id21")
	}, coverage)
	defer server.Close()

	client := NewClient(ClientOptions{Key: "k", BaseURL: server.URL})
	got, err := client.ResolveSubscriptions(context.Background(), ids)
	require.NoError(t, err)
	require.Len(t, got, 45)

	for i := 1; i <= 45; i++ {
		id := fmt.Sprintf("id%02d", i)
		if i >= 21 && i <= 40 {
			require.Equal(t, []string{SubscriptionError}, got[id], id)
		} else {
			require.Equal(t, []string{"Game Pass"}, got[id], id)
		}
	}
}

func TestResolveSubscriptionsDedupesAndDropsBlanks(t *testing.T) {
	var requested []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var batch []string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&batch))
		requested = append(requested, batch...)
		json.NewEncoder(w).Encode([]map[string]any{})
	}))
	defer server.Close()

	client := NewClient(ClientOptions{Key: "k", BaseURL: server.URL})
	got, err := client.ResolveSubscriptions(context.Background(), []string{"a", "", "b", "a", "b"})
	require.NoError(t, err)

	require.Equal(t, []string{"a", "b"}, requested)
	require.Len(t, got, 2)
}

func TestResolveSubscriptionsFiltersLeaving(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[
			{"id": "a", "subs": [
				{"name": "Game Pass", "leaving": null},
				{"name": "EA Play", "leaving": "2026-09-30T00:00:00Z"}
			]}
		]`))
	}))
	defer server.Close()

	client := NewClient(ClientOptions{Key: "k", BaseURL: server.URL})
	got, err := client.ResolveSubscriptions(context.Background(), []string{"a"})
	require.NoError(t, err)
	require.Equal(t, []string{"Game Pass"}, got["a"])
}

func TestResolveSubscriptionsEmpty(t *testing.T) {
	client := NewClient(ClientOptions{Key: "k", BaseURL: "http://127.0.0.1:1"})
	got, err := client.ResolveSubscriptions(context.Background(), nil)
	require.NoError(t, err)
	require.Empty(t, got)
}