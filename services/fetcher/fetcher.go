// Package fetcher retrieves protected storefront resources with a
// stored session. It tries a plain HTTP request first and falls back to
// a full browser navigation when the storefront refuses to serve the
// resource outside a real browsing context.
package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	httpjar "net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"legionlaunch/lib/browser"
	"legionlaunch/lib/cookiejar"
	"legionlaunch/lib/restyutil"
	"legionlaunch/services/session"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/net/publicsuffix"
)

var tracer = otel.Tracer("services/fetcher")

var (
	// ErrNavigationFailed means the browser fallback could not load the
	// resource at all (network failure, dead driver).
	ErrNavigationFailed = errors.New("navigation failed")
	// ErrSessionInvalid means the resource was served but as a guest:
	// the stored session is no longer honored by the storefront.
	ErrSessionInvalid = errors.New("session invalid")
	// ErrNeedsLogin means a silent refresh could not recover the
	// session and the user must authenticate interactively.
	ErrNeedsLogin = errors.New("interactive login required")
)

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36"

type Result struct {
	Content string
	// FinalURL is the resolved url after redirects, from whichever path
	// produced the content.
	FinalURL string
}

type Fetcher struct {
	factory browser.Factory
	store   session.Store
	// one warmed client per service, so repeated fetches share
	// connections and cloudflare clearance
	clients *expirable.LRU[string, *resty.Client]

	readyAttempts int
	readyInterval time.Duration
	// settleDelay gives late scripts a beat after readyState settles
	settleDelay time.Duration
}

func New(factory browser.Factory, store session.Store) *Fetcher {
	return &Fetcher{
		factory:       factory,
		store:         store,
		clients:       expirable.NewLRU[string, *resty.Client](16, nil, time.Minute*15),
		readyAttempts: 10,
		readyInterval: time.Second,
		settleDelay:   time.Millisecond * 500,
	}
}

func (f *Fetcher) client(service string) (*resty.Client, error) {
	cached, ok := f.clients.Get(service)
	if ok {
		return cached, nil
	}

	jar, err := httpjar.New(&httpjar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, err
	}

	client := resty.New()
	client.SetCookieJar(jar)
	client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)
	client.SetHeader("user-agent", userAgent)
	client.SetTimeout(time.Second * 30)
	restyutil.InstrumentClient(client, tracer, nil)

	f.clients.Add(service, client)
	return client, nil
}

// seedCookies loads the persisted jar into the client's cookie jar,
// grouped per domain so scoping rules apply normally.
func seedCookies(client *resty.Client, cookies []cookiejar.Cookie) {
	jar := client.GetClient().Jar
	byDomain := map[string][]*http.Cookie{}
	for _, c := range cookies {
		hc := c.HttpCookie()
		byDomain[hc.Domain] = append(byDomain[hc.Domain], hc)
	}
	for domain, group := range byDomain {
		jar.SetCookies(&url.URL{Scheme: "https", Host: domain, Path: "/"}, group)
	}
}

func looksLikeJSON(body string) bool {
	trimmed := strings.TrimSpace(body)
	return strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[")
}

func isLoginRedirect(config session.Config, finalURL string) bool {
	if config.LoginURL != "" && strings.HasPrefix(finalURL, config.LoginURL) {
		return true
	}
	return strings.Contains(finalURL, "/login")
}

// fetchDirect makes the plain HTTP attempt. ok is false for anything
// that warrants the browser fallback, including transport errors.
func (f *Fetcher) fetchDirect(ctx context.Context, config session.Config, jar *cookiejar.Jar, target string, wantJSON bool) (Result, bool) {
	client, err := f.client(config.Service)
	if err != nil {
		slog.WarnContext(ctx, "failed to build http client", "service", config.Service, "err", err)
		return Result{}, false
	}
	seedCookies(client, jar.Cookies())

	res, err := client.R().SetContext(ctx).Get(target)
	if err != nil {
		slog.DebugContext(ctx, "direct fetch failed, falling back to browser", "url", target, "err", err)
		return Result{}, false
	}

	finalURL := target
	if res.RawResponse != nil && res.RawResponse.Request != nil {
		finalURL = res.RawResponse.Request.URL.String()
	}
	if res.StatusCode() < 200 || res.StatusCode() >= 300 {
		slog.DebugContext(ctx, "direct fetch rejected", "url", target, "status", res.StatusCode())
		return Result{}, false
	}
	if isLoginRedirect(config, finalURL) {
		return Result{}, false
	}
	body := res.String()
	if wantJSON && !looksLikeJSON(body) {
		return Result{}, false
	}
	for _, marker := range config.LoggedOutMarkers {
		if strings.Contains(body, marker) {
			return Result{}, false
		}
	}

	return Result{Content: body, FinalURL: finalURL}, true
}

func (f *Fetcher) waitReady(ctx context.Context, driver browser.Driver) error {
	for attempt := 0; attempt < f.readyAttempts; attempt++ {
		raw, err := driver.ExecuteScript(ctx, "document.readyState")
		if err != nil {
			return err
		}
		var state string
		if json.Unmarshal([]byte(raw), &state) != nil {
			state = raw
		}
		if state == "complete" {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(f.readyInterval):
		}
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(f.settleDelay):
	}
	return nil
}

func (f *Fetcher) fetchBrowser(ctx context.Context, jar *cookiejar.Jar, target string, wantJSON bool) (Result, error) {
	driver, err := f.factory.NewDriver(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrNavigationFailed, err)
	}
	defer driver.Close()

	err = driver.InjectCookies(ctx, jar.Cookies())
	if err != nil {
		return Result{}, fmt.Errorf("%w: inject cookies: %v", ErrNavigationFailed, err)
	}
	err = driver.Navigate(ctx, target)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrNavigationFailed, err)
	}
	err = f.waitReady(ctx, driver)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrNavigationFailed, err)
	}

	js := "document.documentElement.outerHTML"
	if wantJSON {
		js = "document.body.innerText"
	}
	raw, err := driver.ExecuteScript(ctx, js)
	if err != nil {
		return Result{}, fmt.Errorf("%w: extract content: %v", ErrNavigationFailed, err)
	}
	var body string
	if json.Unmarshal([]byte(raw), &body) != nil {
		body = raw
	}

	return Result{Content: body, FinalURL: driver.Location()}, nil
}

// Fetch retrieves a protected resource with the stored session cookies.
// The direct HTTP path is attempted first; any rejection there falls
// back to a full browser navigation, whose verdict is final.
func (f *Fetcher) Fetch(ctx context.Context, config session.Config, target string, wantJSON bool) (Result, error) {
	ctx, span := tracer.Start(ctx, "fetcher:Fetch")
	defer span.End()

	jar, ok, err := f.store.Load(ctx, config.Service)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to load stored jar")
		return Result{}, err
	}
	if !ok {
		return Result{}, fmt.Errorf("%w: no stored session for %s", ErrSessionInvalid, config.Service)
	}

	result, direct := f.fetchDirect(ctx, config, jar, target, wantJSON)
	if !direct {
		result, err = f.fetchBrowser(ctx, jar, target, wantJSON)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "browser fallback failed")
			return Result{}, err
		}
	}

	if isLoginRedirect(config, result.FinalURL) {
		return Result{}, fmt.Errorf("%w: redirected to login at %s", ErrSessionInvalid, result.FinalURL)
	}
	for _, marker := range config.LoggedOutMarkers {
		if strings.Contains(result.Content, marker) {
			return Result{}, fmt.Errorf("%w: logged-out marker %q", ErrSessionInvalid, marker)
		}
	}
	if wantJSON && !looksLikeJSON(result.Content) {
		return Result{}, fmt.Errorf("%w: expected a json document at %s", ErrSessionInvalid, target)
	}

	slog.DebugContext(
		ctx, "fetched protected resource",
		"service", config.Service,
		"url", target,
		"direct", direct,
		"bytes", len(result.Content),
	)
	return result, nil
}

// FetchWithReauth wraps Fetch with one self-healing round: when the
// session proves invalid the stored jar is dropped, one silent refresh
// runs, and the fetch is retried exactly once. A refresh that lands on
// NeedsLogin surfaces as ErrNeedsLogin.
func (f *Fetcher) FetchWithReauth(ctx context.Context, machine *session.Machine, target string, wantJSON bool) (Result, error) {
	ctx, span := tracer.Start(ctx, "fetcher:FetchWithReauth")
	defer span.End()

	config := machine.Config()
	result, err := f.Fetch(ctx, config, target, wantJSON)
	if err == nil || !errors.Is(err, ErrSessionInvalid) {
		return result, err
	}

	slog.InfoContext(
		ctx, "session invalid, attempting silent refresh",
		"service", config.Service,
		"err", err,
	)
	err = f.store.Delete(ctx, config.Service)
	if err != nil {
		return Result{}, err
	}

	refresh, err := machine.RefreshSilent(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "silent refresh failed")
		return Result{}, err
	}
	if refresh.Outcome != session.OutcomeSuccess {
		return Result{}, fmt.Errorf("%w: silent refresh for %s came back %s", ErrNeedsLogin, config.Service, refresh.Outcome)
	}

	return f.Fetch(ctx, config, target, wantJSON)
}
