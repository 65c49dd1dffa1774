// Package subscriptions detects, best effort, which membership tier the
// user holds on a partner storefront by scraping the member pages for
// their marketing copy. A page that matches no known copy yields an
// explicit unknown rather than a guess.
package subscriptions

import (
	"context"
	"log/slog"
	"strings"

	"legionlaunch/lib/kvstore"
	"legionlaunch/services/fetcher"
	"legionlaunch/services/session"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("services/subscriptions")

type Tier string

const TierUnknown Tier = "unknown"

const cacheNamespace = "subscriptions"

// Marker binds a snippet of marketing copy to the tier it proves.
type Marker struct {
	Contains string
	Tier     Tier
}

// Probe describes how to detect the tier on one storefront. Markers
// are checked in order, most specific copy first.
type Probe struct {
	Service string
	URL     string
	Markers []Marker
	// CacheResult persists a successful detection so later runs skip
	// the scrape entirely.
	CacheResult bool
}

var EAPlay = Probe{
	Service: "ea",
	URL:     "https://www.ea.com/ea-play/member-benefits",
	Markers: []Marker{
		{Contains: "EA Play Pro", Tier: "EA Play Pro"},
		{Contains: "EA Play", Tier: "EA Play"},
	},
}

var UbisoftPlus = Probe{
	Service: "ubisoft",
	URL:     "https://store.ubisoft.com/uk/ubisoftplus",
	Markers: []Marker{
		{Contains: "Ubisoft+ Premium", Tier: "Ubisoft+ Premium"},
		{Contains: "Ubisoft+ Classics", Tier: "Ubisoft+ Classics"},
	},
	CacheResult: true,
}

var GamePass = Probe{
	Service: "xbox",
	URL:     "https://www.xbox.com/en-US/xbox-game-pass",
	Markers: []Marker{
		{Contains: "Game Pass Ultimate", Tier: "Game Pass Ultimate"},
		{Contains: "PC Game Pass", Tier: "PC Game Pass"},
		{Contains: "Game Pass Core", Tier: "Game Pass Core"},
	},
}

type Detector struct {
	fetch *fetcher.Fetcher
	kv    kvstore.Store
}

func NewDetector(fetch *fetcher.Fetcher, kv kvstore.Store) *Detector {
	return &Detector{fetch: fetch, kv: kv}
}

// Detect scrapes the probe's member page through the given session and
// maps its copy to a tier. Fetch failures surface alongside
// TierUnknown so the caller can distinguish "no membership copy" from
// "could not look".
func (d *Detector) Detect(ctx context.Context, machine *session.Machine, probe Probe) (Tier, error) {
	ctx, span := tracer.Start(ctx, "subscriptions:Detect")
	defer span.End()

	if probe.CacheResult {
		cached, ok, err := d.kv.GetString(ctx, cacheNamespace, probe.Service)
		if err != nil {
			slog.WarnContext(ctx, "tier cache read failed", "service", probe.Service, "err", err)
		} else if ok {
			return Tier(cached), nil
		}
	}

	result, err := d.fetch.FetchWithReauth(ctx, machine, probe.URL, false)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "member page fetch failed")
		return TierUnknown, err
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(result.Content))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "member page parse failed")
		return TierUnknown, err
	}
	text := doc.Text()

	for _, marker := range probe.Markers {
		if !strings.Contains(text, marker.Contains) {
			continue
		}
		slog.InfoContext(
			ctx, "detected membership tier",
			"service", probe.Service,
			"tier", marker.Tier,
		)
		if probe.CacheResult {
			err = d.kv.PutString(ctx, cacheNamespace, probe.Service, string(marker.Tier))
			if err != nil {
				slog.WarnContext(ctx, "tier cache write failed", "service", probe.Service, "err", err)
			}
		}
		return marker.Tier, nil
	}

	slog.InfoContext(ctx, "no membership copy on member page", "service", probe.Service)
	return TierUnknown, nil
}
