// Package wishlist pulls the user's wishlist and owned-app sets from
// the storefront's userdata endpoint and resolves app ids to display
// names and artwork through the public appdetails api, cached in the
// kv store.
package wishlist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"legionlaunch/lib/kvstore"
	"legionlaunch/lib/restyutil"
	"legionlaunch/services/fetcher"
	"legionlaunch/services/session"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("services/wishlist")

const (
	defaultUserdataURL   = "https://store.steampowered.com/dynamicstore/userdata/"
	defaultAppdetailsURL = "https://store.steampowered.com/api/appdetails"
	heroURLPattern       = "https://steamcdn-a.akamaihd.net/steam/apps/%d/library_hero.jpg"
)

const (
	namesNamespace        = "names"
	coversNamespace       = "covers"
	descriptionsNamespace = "descriptions"
)

type ServiceOptions struct {
	Fetcher  *fetcher.Fetcher
	Machine  *session.Machine
	Sessions session.Store
	KV       kvstore.Store
	// UserdataURL and AppdetailsURL override the storefront endpoints,
	// for tests.
	UserdataURL   string
	AppdetailsURL string
}

type Service struct {
	fetch    *fetcher.Fetcher
	machine  *session.Machine
	sessions session.Store
	kv       kvstore.Store
	http     *resty.Client

	userdataURL   string
	appdetailsURL string
}

func NewService(opts ServiceOptions) *Service {
	userdataURL := opts.UserdataURL
	if userdataURL == "" {
		userdataURL = defaultUserdataURL
	}
	appdetailsURL := opts.AppdetailsURL
	if appdetailsURL == "" {
		appdetailsURL = defaultAppdetailsURL
	}

	client := resty.New()
	client.SetTimeout(time.Second * 30)
	restyutil.InstrumentClient(client, tracer, nil)

	return &Service{
		fetch:         opts.Fetcher,
		machine:       opts.Machine,
		sessions:      opts.Sessions,
		kv:            opts.KV,
		http:          client,
		userdataURL:   userdataURL,
		appdetailsURL: appdetailsURL,
	}
}

// Snapshot is one pull of the user's storefront state.
type Snapshot struct {
	Wishlist []int64
	Owned    []int64
}

type userdata struct {
	Wishlist []int64 `json:"rgWishlist"`
	Owned    []int64 `json:"rgOwnedApps"`
}

func (s *Service) pullOnce(ctx context.Context) (Snapshot, error) {
	result, err := s.fetch.Fetch(ctx, s.machine.Config(), s.userdataURL, true)
	if err != nil {
		return Snapshot{}, err
	}

	var data userdata
	err = json.Unmarshal([]byte(result.Content), &data)
	if err != nil {
		return Snapshot{}, fmt.Errorf("parse userdata: %w", err)
	}

	// the endpoint happily serves an anonymous profile: both sets empty
	// is the guest fingerprint, not an empty account
	if len(data.Wishlist) == 0 && len(data.Owned) == 0 {
		return Snapshot{}, fmt.Errorf("%w: userdata served a guest profile", fetcher.ErrSessionInvalid)
	}

	return Snapshot{Wishlist: data.Wishlist, Owned: data.Owned}, nil
}

// Pull fetches the wishlist and owned sets, recovering once through a
// silent session refresh when the stored session has gone stale.
func (s *Service) Pull(ctx context.Context) (Snapshot, error) {
	ctx, span := tracer.Start(ctx, "wishlist:Pull")
	defer span.End()

	snap, err := s.pullOnce(ctx)
	if err == nil || !errors.Is(err, fetcher.ErrSessionInvalid) {
		return snap, err
	}

	service := s.machine.Config().Service
	slog.InfoContext(
		ctx, "stale session detected on userdata pull, refreshing",
		"service", service,
		"err", err,
	)
	err = s.sessions.Delete(ctx, service)
	if err != nil {
		return Snapshot{}, err
	}
	refresh, err := s.machine.RefreshSilent(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "silent refresh failed")
		return Snapshot{}, err
	}
	if refresh.Outcome != session.OutcomeSuccess {
		return Snapshot{}, fmt.Errorf("%w: silent refresh came back %s", fetcher.ErrNeedsLogin, refresh.Outcome)
	}

	return s.pullOnce(ctx)
}

// Metadata is the display information for one app.
type Metadata struct {
	Name        string
	CoverURL    string
	HeroURL     string
	Description string
}

// FallbackName is the display name used when the storefront cannot
// resolve an app id.
func FallbackName(appID int64) string {
	return fmt.Sprintf("AppID %d", appID)
}

type appdetailsEntry struct {
	Success bool `json:"success"`
	Data    struct {
		Name             string `json:"name"`
		HeaderImage      string `json:"header_image"`
		ShortDescription string `json:"short_description"`
	} `json:"data"`
}

func (s *Service) fetchDetails(ctx context.Context, appID int64) (appdetailsEntry, error) {
	res, err := s.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"appids":  strconv.FormatInt(appID, 10),
			"filters": "basic",
		}).
		Get(s.appdetailsURL)
	if err != nil {
		return appdetailsEntry{}, err
	}
	if res.IsError() {
		return appdetailsEntry{}, fmt.Errorf("appdetails %d: status %d", appID, res.StatusCode())
	}

	var payload map[string]appdetailsEntry
	err = json.Unmarshal(res.Body(), &payload)
	if err != nil {
		return appdetailsEntry{}, fmt.Errorf("parse appdetails %d: %w", appID, err)
	}
	entry, ok := payload[strconv.FormatInt(appID, 10)]
	if !ok || !entry.Success {
		return appdetailsEntry{}, fmt.Errorf("appdetails %d: no data", appID)
	}
	return entry, nil
}

func (s *Service) cached(ctx context.Context, namespace string, appID int64) (string, bool) {
	value, ok, err := s.kv.GetString(ctx, namespace, strconv.FormatInt(appID, 10))
	if err != nil {
		slog.WarnContext(ctx, "cache read failed", "namespace", namespace, "app_id", appID, "err", err)
		return "", false
	}
	return value, ok
}

func (s *Service) cache(ctx context.Context, namespace string, appID int64, value string) {
	err := s.kv.PutString(ctx, namespace, strconv.FormatInt(appID, 10), value)
	if err != nil {
		slog.WarnContext(ctx, "cache write failed", "namespace", namespace, "app_id", appID, "err", err)
	}
}

// ResolveName maps an app id to its display name, read-through cached.
// Resolution is best-effort: a failed lookup degrades to a placeholder
// name instead of failing the caller.
func (s *Service) ResolveName(ctx context.Context, appID int64) string {
	if name, ok := s.cached(ctx, namesNamespace, appID); ok {
		return name
	}

	entry, err := s.fetchDetails(ctx, appID)
	if err != nil || entry.Data.Name == "" {
		slog.WarnContext(ctx, "could not resolve app name", "app_id", appID, "err", err)
		return FallbackName(appID)
	}

	s.cache(ctx, namesNamespace, appID, entry.Data.Name)
	return entry.Data.Name
}

// ResolveMetadata resolves the full display metadata for an app,
// read-through cached per field. The hero url is synthesized from the
// cdn path convention and needs no lookup.
func (s *Service) ResolveMetadata(ctx context.Context, appID int64) Metadata {
	meta := Metadata{HeroURL: fmt.Sprintf(heroURLPattern, appID)}

	name, haveName := s.cached(ctx, namesNamespace, appID)
	cover, haveCover := s.cached(ctx, coversNamespace, appID)
	desc, haveDesc := s.cached(ctx, descriptionsNamespace, appID)
	if haveName && haveCover && haveDesc {
		meta.Name, meta.CoverURL, meta.Description = name, cover, desc
		return meta
	}

	entry, err := s.fetchDetails(ctx, appID)
	if err != nil || entry.Data.Name == "" {
		slog.WarnContext(ctx, "could not resolve app metadata", "app_id", appID, "err", err)
		meta.Name = FallbackName(appID)
		meta.CoverURL = cover
		meta.Description = desc
		if haveName {
			meta.Name = name
		}
		return meta
	}

	meta.Name = entry.Data.Name
	meta.CoverURL = entry.Data.HeaderImage
	meta.Description = entry.Data.ShortDescription
	s.cache(ctx, namesNamespace, appID, meta.Name)
	s.cache(ctx, coversNamespace, appID, meta.CoverURL)
	s.cache(ctx, descriptionsNamespace, appID, meta.Description)
	return meta
}
