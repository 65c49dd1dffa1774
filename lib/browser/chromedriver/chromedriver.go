// Package chromedriver implements the browser driver contract on top
// of a locally installed Chrome/Chromium instance over the devtools
// protocol.
package chromedriver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"legionlaunch/lib/browser"
	"legionlaunch/lib/cookiejar"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"
)

type Factory struct {
	// Headless runs without a visible window. Interactive login needs a
	// visible window, silent refresh and fallback fetches do not.
	Headless bool
	// UserDataDir persists the browser profile (and with it the
	// browser's own cookie store) across invocations. Empty uses a
	// throwaway profile.
	UserDataDir string
}

var _ browser.Factory = Factory{}

type driver struct {
	ctx     context.Context
	cancels []context.CancelFunc
}

func (f Factory) NewDriver(ctx context.Context) (browser.Driver, error) {
	opts := append(
		chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", f.Headless),
	)
	if f.UserDataDir != "" {
		opts = append(opts, chromedp.UserDataDir(f.UserDataDir))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	tabCtx, cancelTab := chromedp.NewContext(allocCtx)

	// starts the browser process eagerly so failures surface here
	// instead of on the first navigation
	err := chromedp.Run(tabCtx)
	if err != nil {
		cancelTab()
		cancelAlloc()
		return nil, fmt.Errorf("launch chrome: %w", err)
	}

	return &driver{
		ctx:     tabCtx,
		cancels: []context.CancelFunc{cancelTab, cancelAlloc},
	}, nil
}

func (d *driver) Navigate(ctx context.Context, target string) error {
	return chromedp.Run(d.ctx,
		chromedp.Navigate(target),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
}

func (d *driver) Location() string {
	var location string
	err := chromedp.Run(d.ctx, chromedp.Location(&location))
	if err != nil {
		return ""
	}
	return location
}

func originHost(origin string) string {
	parsed, err := url.Parse(origin)
	if err != nil || parsed.Host == "" {
		return origin
	}
	return parsed.Hostname()
}

func (d *driver) allCookies() ([]*network.Cookie, error) {
	var cookies []*network.Cookie
	err := chromedp.Run(d.ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		cookies, err = storage.GetCookies().Do(ctx)
		return err
	}))
	return cookies, err
}

func (d *driver) GetCookies(ctx context.Context, origin string) ([]cookiejar.Cookie, error) {
	cookies, err := d.allCookies()
	if err != nil {
		return nil, err
	}

	host := originHost(origin)
	var out []cookiejar.Cookie
	for _, c := range cookies {
		record := cookiejar.Cookie{
			Name:       c.Name,
			Value:      c.Value,
			Domain:     c.Domain,
			Path:       c.Path,
			IsSecure:   c.Secure,
			IsHttpOnly: c.HTTPOnly,
		}
		if c.Expires > 0 {
			record.Expires = int64(c.Expires)
		}
		if record.MatchesHost(host) {
			out = append(out, record)
		}
	}
	return out, nil
}

func (d *driver) InjectCookies(ctx context.Context, cookies []cookiejar.Cookie) error {
	params := make([]*network.CookieParam, 0, len(cookies))
	for _, c := range cookies {
		param := &network.CookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.IsSecure,
			HTTPOnly: c.IsHttpOnly,
		}
		if c.Expires != 0 {
			expires := cdp.TimeSinceEpoch(time.Unix(c.Expires, 0))
			param.Expires = &expires
		}
		params = append(params, param)
	}

	return chromedp.Run(d.ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		return storage.SetCookies(params).Do(ctx)
	}))
}

func (d *driver) ClearCookies(ctx context.Context, origin string) error {
	cookies, err := d.allCookies()
	if err != nil {
		return err
	}

	host := originHost(origin)
	return chromedp.Run(d.ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		for _, c := range cookies {
			record := cookiejar.Cookie{Name: c.Name, Domain: c.Domain}
			if !record.MatchesHost(host) {
				continue
			}
			err := network.DeleteCookies(c.Name).
				WithDomain(c.Domain).
				WithPath(c.Path).
				Do(ctx)
			if err != nil {
				return err
			}
		}
		return nil
	}))
}

func (d *driver) ExecuteScript(ctx context.Context, js string) (string, error) {
	var raw json.RawMessage
	err := chromedp.Run(d.ctx, chromedp.Evaluate(js, &raw))
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func (d *driver) Close() error {
	for _, cancel := range d.cancels {
		cancel()
	}
	return nil
}
