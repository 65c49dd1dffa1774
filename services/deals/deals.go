// Package deals talks to the IsThereAnyDeal API: fuzzy-matching local
// game titles against its catalog and resolving which subscription
// services currently cover a set of catalog ids.
package deals

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"legionlaunch/lib/restyutil"
	"legionlaunch/lib/textutil"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("services/deals")

const (
	defaultBaseURL = "https://api.isthereanydeal.com"
	defaultRegion  = "GB"
	searchLimit    = 5
	// subsBatchSize is the api's documented cap per lookup request.
	subsBatchSize = 20
)

// SubscriptionError is the sentinel entry recorded for every id in a
// lookup batch that failed, so callers can tell "not on any
// subscription" apart from "we could not find out".
const SubscriptionError = "Error"

type ClientOptions struct {
	// Key is the api key, required for every endpoint.
	Key string
	// Region scopes subscription lookups, ITAD country code.
	Region string
	// BaseURL overrides the production api host, for tests.
	BaseURL string
}

type Client struct {
	http   *resty.Client
	key    string
	region string
}

func NewClient(opts ClientOptions) *Client {
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	region := opts.Region
	if region == "" {
		region = defaultRegion
	}

	client := resty.New()
	client.SetBaseURL(baseURL)
	client.SetTimeout(time.Second * 30)
	restyutil.InstrumentClient(client, tracer, nil)

	return &Client{
		http:   client,
		key:    opts.Key,
		region: region,
	}
}

// SearchResult is one row from the catalog title search.
type SearchResult struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

func (c *Client) SearchGames(ctx context.Context, title string) ([]SearchResult, error) {
	ctx, span := tracer.Start(ctx, "deals:SearchGames")
	defer span.End()

	res, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"key":     c.key,
			"title":   title,
			"results": fmt.Sprint(searchLimit),
		}).
		Get("/games/search/v1")
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "search request failed")
		return nil, err
	}
	if res.IsError() {
		err = fmt.Errorf("search %q: status %d", title, res.StatusCode())
		span.RecordError(err)
		span.SetStatus(codes.Error, "search request rejected")
		return nil, err
	}

	var results []SearchResult
	err = json.Unmarshal(res.Body(), &results)
	if err != nil {
		return nil, fmt.Errorf("parse search response: %w", err)
	}
	return results, nil
}

// MatchCandidate is a catalog entry scored against the queried title.
type MatchCandidate struct {
	ID    string
	Title string
	Score int
}

func absDiff(a, b int) int {
	if a > b {
		return a - b
	}
	return b - a
}

// scoreTitle rates how well a catalog title matches the queried one.
// Exact normalized equality wins outright, a shared prefix ranks well,
// the query merely appearing somewhere inside a longer title ranks
// poorly, with a length-difference penalty throughout.
func scoreTitle(query, candidate string) int {
	q := textutil.NormalizeTitle(query)
	c := textutil.NormalizeTitle(candidate)
	if q == "" || c == "" {
		return 0
	}
	if q == c {
		return 100
	}

	diff := absDiff(len(q), len(c))
	score := 0
	switch {
	case strings.HasPrefix(c, q):
		score = 80 - min(40, diff)
	case strings.Contains(c, q):
		score = 30 - min(20, diff)
	case strings.Contains(q, c):
		score = 70 - min(40, diff)
	}
	return max(0, score)
}

// MatchCandidates scores search results against the queried title,
// keeps the plausible ones and orders them best-first. Candidates with
// equal scores prefer the longer catalog title (editions and bundles
// carry more signal than truncated matches).
func MatchCandidates(query string, results []SearchResult) []MatchCandidate {
	best := map[string]MatchCandidate{}
	for _, r := range results {
		if r.ID == "" {
			continue
		}
		score := scoreTitle(query, r.Title)
		if score < 50 {
			continue
		}
		existing, seen := best[r.ID]
		if seen && existing.Score >= score {
			continue
		}
		best[r.ID] = MatchCandidate{ID: r.ID, Title: r.Title, Score: score}
	}

	out := make([]MatchCandidate, 0, len(best))
	for _, c := range best {
		out = append(out, c)
	}
	slices.SortStableFunc(out, func(a, b MatchCandidate) int {
		if a.Score != b.Score {
			return b.Score - a.Score
		}
		if len(a.Title) != len(b.Title) {
			return len(b.Title) - len(a.Title)
		}
		// map iteration order above is random, the id break keeps the
		// output stable across runs
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

// MatchGame searches the catalog and returns the scored candidates for
// one local title, best-first. An empty result means nothing plausible.
func (c *Client) MatchGame(ctx context.Context, title string) ([]MatchCandidate, error) {
	results, err := c.SearchGames(ctx, title)
	if err != nil {
		return nil, err
	}
	return MatchCandidates(title, results), nil
}

type subsRow struct {
	ID   string `json:"id"`
	Subs []struct {
		Name    string          `json:"name"`
		Leaving json.RawMessage `json:"leaving"`
	} `json:"subs"`
}

func leavingSoon(raw json.RawMessage) bool {
	return len(raw) > 0 && string(raw) != "null"
}

// ResolveSubscriptions looks up current subscription coverage for a set
// of catalog ids. Ids are deduplicated and blanks dropped; lookups run
// in batches, and a failed batch marks each of its ids with the
// SubscriptionError sentinel without affecting sibling batches.
func (c *Client) ResolveSubscriptions(ctx context.Context, ids []string) (map[string][]string, error) {
	ctx, span := tracer.Start(ctx, "deals:ResolveSubscriptions")
	defer span.End()

	var unique []string
	seen := map[string]bool{}
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		unique = append(unique, id)
	}

	out := map[string][]string{}
	for start := 0; start < len(unique); start += subsBatchSize {
		batch := unique[start:min(start+subsBatchSize, len(unique))]

		rows, err := c.lookupSubs(ctx, batch)
		if err != nil {
			slog.ErrorContext(
				ctx, "subscription lookup batch failed",
				"size", len(batch),
				"err", err,
			)
			span.RecordError(err)
			for _, id := range batch {
				out[id] = []string{SubscriptionError}
			}
			continue
		}

		for _, id := range batch {
			out[id] = nil
		}
		for _, row := range rows {
			var names []string
			for _, sub := range row.Subs {
				if leavingSoon(sub.Leaving) {
					continue
				}
				names = append(names, sub.Name)
			}
			out[row.ID] = names
		}
	}

	return out, nil
}

func (c *Client) lookupSubs(ctx context.Context, batch []string) ([]subsRow, error) {
	res, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"key":     c.key,
			"country": c.region,
		}).
		SetHeader("content-type", "application/json").
		SetBody(batch).
		Post("/games/subs/v1")
	if err != nil {
		return nil, err
	}
	if res.IsError() {
		return nil, fmt.Errorf("subs lookup: status %d", res.StatusCode())
	}

	var rows []subsRow
	err = json.Unmarshal(res.Body(), &rows)
	if err != nil {
		return nil, fmt.Errorf("parse subs response: %w", err)
	}
	return rows, nil
}
