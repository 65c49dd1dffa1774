// Package browsertest provides a scripted in-memory browser driver for
// unit tests.
package browsertest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"legionlaunch/lib/browser"
	"legionlaunch/lib/cookiejar"
)

// Fake is a scripted browser.Driver. Configure Pages, cookies and
// navigation hooks, then hand it to the code under test.
type Fake struct {
	mu       sync.Mutex
	location string
	cookies  []cookiejar.Cookie
	closed   bool

	// Pages maps a url to the text content ExecuteScript hands back
	// for innerText/outerHTML extraction.
	Pages map[string]string
	// NavigateErr fails navigation to the given urls.
	NavigateErr map[string]error
	// OnNavigate runs after every successful navigation, before the
	// page-ready signal. Use it to script login side effects such as
	// a sync-login endpoint copying a cookie across domains.
	OnNavigate func(f *Fake, target string)
	// RedirectTo overrides the final resolved url per navigated url.
	RedirectTo map[string]string
	// PendingReadyPolls makes the first n readyState polls report
	// "loading" before "complete".
	PendingReadyPolls int

	// Navigations records every url handed to Navigate, in order.
	Navigations []string
}

var _ browser.Driver = (*Fake)(nil)

func (f *Fake) Navigate(ctx context.Context, target string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	f.mu.Lock()
	f.Navigations = append(f.Navigations, target)
	if err, failed := f.NavigateErr[target]; failed {
		f.mu.Unlock()
		return err
	}
	f.location = target
	if resolved, ok := f.RedirectTo[target]; ok {
		f.location = resolved
	}
	hook := f.OnNavigate
	f.mu.Unlock()

	if hook != nil {
		hook(f, target)
	}
	return nil
}

func (f *Fake) Location() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.location
}

// SetCookies replaces or adds cookies directly, bypassing navigation.
func (f *Fake) SetCookies(cookies ...cookiejar.Cookie) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range cookies {
		f.upsertLocked(c)
	}
}

func (f *Fake) upsertLocked(c cookiejar.Cookie) {
	for i, existing := range f.cookies {
		if existing.Name == c.Name && existing.Domain == c.Domain {
			f.cookies[i] = c
			return
		}
	}
	f.cookies = append(f.cookies, c)
}

func originHost(origin string) (string, error) {
	parsed, err := url.Parse(origin)
	if err != nil {
		return "", err
	}
	if parsed.Host == "" {
		return origin, nil
	}
	return parsed.Hostname(), nil
}

func (f *Fake) GetCookies(ctx context.Context, origin string) ([]cookiejar.Cookie, error) {
	host, err := originHost(origin)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	var out []cookiejar.Cookie
	for _, c := range f.cookies {
		if c.MatchesHost(host) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *Fake) InjectCookies(ctx context.Context, cookies []cookiejar.Cookie) error {
	f.SetCookies(cookies...)
	return nil
}

func (f *Fake) ClearCookies(ctx context.Context, origin string) error {
	host, err := originHost(origin)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	var kept []cookiejar.Cookie
	for _, c := range f.cookies {
		if !c.MatchesHost(host) {
			kept = append(kept, c)
		}
	}
	f.cookies = kept
	return nil
}

func (f *Fake) ExecuteScript(ctx context.Context, js string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch {
	case strings.Contains(js, "readyState"):
		if f.PendingReadyPolls > 0 {
			f.PendingReadyPolls--
			return encode("loading"), nil
		}
		return encode("complete"), nil
	case strings.Contains(js, "innerText"), strings.Contains(js, "outerHTML"):
		content, ok := f.Pages[f.location]
		if !ok {
			return encode(""), nil
		}
		return encode(content), nil
	}
	return "", fmt.Errorf("unscripted js: %s", js)
}

func encode(value string) string {
	buff, _ := json.Marshal(value)
	return string(buff)
}

func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *Fake) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Factory returns a browser.Factory minting the drivers produced by
// `next` in order, one per invocation.
func Factory(next func() *Fake) browser.Factory {
	return browser.FactoryFunc(func(ctx context.Context) (browser.Driver, error) {
		return next(), nil
	})
}

// SingleDriverFactory always hands out the same fake, for tests that
// only trigger one browser invocation.
func SingleDriverFactory(f *Fake) browser.Factory {
	return Factory(func() *Fake { return f })
}
