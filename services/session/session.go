// Package session drives interactive login and silent refresh for a
// storefront through an ordered sequence of domain-confirmation stages,
// producing a terminal Success/NeedsLogin/Error outcome and, on
// success, a persisted cookie jar.
package session

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"legionlaunch/lib/browser"
	"legionlaunch/lib/cookiejar"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("services/session")

type Outcome int

const (
	// OutcomeError means an unexpected navigation failure; the stored
	// jar is left untouched.
	OutcomeError Outcome = iota
	// OutcomeSuccess means a confirmed session; the jar was persisted.
	OutcomeSuccess
	// OutcomeNeedsLogin means the session is absent or confirmed
	// stale, recoverable only through interactive auth.
	OutcomeNeedsLogin
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeNeedsLogin:
		return "needs_login"
	}
	return "error"
}

type Result struct {
	Outcome Outcome
	// Jar is set on success only.
	Jar *cookiejar.Jar
}

type Machine struct {
	config  Config
	factory browser.Factory
	store   Store

	// pollInterval paces the interactive wait for the login cookie.
	pollInterval time.Duration
	// refreshTimeout is the silent-refresh wall clock. When it
	// expires the result is NeedsLogin, never an error: a stuck
	// network must not be conflated with "user not logged in".
	refreshTimeout time.Duration
}

func NewMachine(config Config, factory browser.Factory, store Store) *Machine {
	return &Machine{
		config:         config,
		factory:        factory,
		store:          store,
		pollInterval:   time.Second,
		refreshTimeout: time.Second * 15,
	}
}

func (m *Machine) Config() Config {
	return m.config
}

func (m *Machine) hasLoginCookie(cookies []cookiejar.Cookie) bool {
	for _, c := range cookies {
		if m.config.LoginCookie != "" && c.Name == m.config.LoginCookie {
			return true
		}
		if m.config.LoginCookiePrefix != "" && strings.HasPrefix(c.Name, m.config.LoginCookiePrefix) {
			return true
		}
	}
	return false
}

// Login runs the interactive flow. It has no timeout of its own but is
// cancelable through ctx (the caller closing the login surface), which
// yields NeedsLogin.
func (m *Machine) Login(ctx context.Context) (Result, error) {
	ctx, span := tracer.Start(ctx, "session:Login")
	defer span.End()

	driver, err := m.factory.NewDriver(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to acquire browser driver")
		return Result{Outcome: OutcomeError}, err
	}

	return m.run(ctx, driver, false)
}

// RefreshSilent revalidates the session using only previously stored
// cookies, with no user-visible prompt. The hard wall-clock timeout is
// cooperative: on expiry the in-flight driver is abandoned to finish
// (and close itself) in the background rather than being interrupted
// mid-navigation.
func (m *Machine) RefreshSilent(ctx context.Context) (Result, error) {
	ctx, span := tracer.Start(ctx, "session:RefreshSilent")
	defer span.End()

	driver, err := m.factory.NewDriver(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to acquire browser driver")
		return Result{Outcome: OutcomeError}, err
	}

	type settled struct {
		result Result
		err    error
	}
	done := make(chan settled, 1)
	go func() {
		result, err := m.run(context.WithoutCancel(ctx), driver, true)
		done <- settled{result, err}
	}()

	timer := time.NewTimer(m.refreshTimeout)
	defer timer.Stop()

	select {
	case s := <-done:
		return s.result, s.err
	case <-timer.C:
		slog.WarnContext(
			ctx, "silent refresh timed out",
			"service", m.config.Service,
			"timeout", m.refreshTimeout,
		)
		return Result{Outcome: OutcomeNeedsLogin}, nil
	}
}

func (m *Machine) run(ctx context.Context, driver browser.Driver, silent bool) (Result, error) {
	defer driver.Close()

	ctx, span := tracer.Start(ctx, "session:run")
	defer span.End()

	fail := func(stage string, err error) (Result, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, stage)
		return Result{Outcome: OutcomeError}, err
	}
	needsLogin := func(reason string) (Result, error) {
		slog.InfoContext(
			ctx, "session needs interactive login",
			"service", m.config.Service,
			"reason", reason,
		)
		return Result{Outcome: OutcomeNeedsLogin}, nil
	}

	if silent {
		// a missing jar is not terminal: the browser profile keeps its
		// own cookie store and may still hold a live session
		jar, ok, err := m.store.Load(ctx, m.config.Service)
		if err != nil {
			return fail("load stored jar", err)
		}
		if ok {
			err = driver.InjectCookies(ctx, jar.Cookies())
			if err != nil {
				return fail("inject stored cookies", err)
			}
		} else {
			slog.DebugContext(
				ctx, "no stored cookies, refreshing from browser profile alone",
				"service", m.config.Service,
			)
		}
	} else {
		// a clean slate forces the login prompt instead of riding an
		// old half-valid browser profile
		for _, origin := range []string{m.config.PrimaryOrigin, m.config.SecondaryOrigin} {
			if origin == "" {
				continue
			}
			err := driver.ClearCookies(ctx, origin)
			if err != nil {
				return fail("clear cookies", err)
			}
		}
	}

	err := driver.Navigate(ctx, m.config.LoginURL)
	if err != nil {
		return fail("navigate to login page", err)
	}

	// stage: check primary domain for the designated logged-in cookie
	for {
		cookies, err := driver.GetCookies(ctx, m.config.PrimaryOrigin)
		if err != nil {
			return fail("read primary domain cookies", err)
		}
		if m.hasLoginCookie(cookies) {
			break
		}
		if silent {
			return needsLogin("login cookie absent on primary domain")
		}

		// interactive: the user is still typing, keep waiting
		select {
		case <-ctx.Done():
			return needsLogin("login canceled")
		case <-time.After(m.pollInterval):
		}
	}

	// stage: sync the secondary domain. identity providers issue
	// first-party cookies that do not propagate cross-subdomain on
	// their own.
	if m.config.SecondaryOrigin != "" {
		cookies, err := driver.GetCookies(ctx, m.config.SecondaryOrigin)
		if err != nil {
			return fail("read secondary domain cookies", err)
		}
		if !m.hasLoginCookie(cookies) {
			slog.DebugContext(
				ctx, "secondary domain missing session cookie, forcing sync login",
				"service", m.config.Service,
			)
			err = driver.Navigate(ctx, m.config.SyncLoginURL)
			if err != nil {
				return fail("navigate to sync login", err)
			}
			cookies, err = driver.GetCookies(ctx, m.config.SecondaryOrigin)
			if err != nil {
				return fail("read secondary domain cookies", err)
			}
			if !m.hasLoginCookie(cookies) {
				return needsLogin("session cookie did not propagate to secondary domain")
			}
		}
	}

	// stage: confirm on an authenticated-only endpoint. guards against
	// a cookie that is present but already expired server-side.
	err = driver.Navigate(ctx, m.config.ConfirmURL)
	if err != nil {
		return fail("navigate to confirm endpoint", err)
	}
	raw, err := driver.ExecuteScript(ctx, "document.body.innerText")
	if err != nil {
		return fail("extract confirm endpoint body", err)
	}
	var body string
	if json.Unmarshal([]byte(raw), &body) != nil {
		body = raw
	}
	for _, marker := range m.config.LoggedOutMarkers {
		if strings.Contains(body, marker) {
			return needsLogin("confirm endpoint served a guest page")
		}
	}
	if m.config.ConfirmToken != "" && !strings.Contains(body, m.config.ConfirmToken) {
		return needsLogin("confirm endpoint response missing expected shape")
	}

	// success: merge every cookie observed on both domains and persist
	// the jar wholesale
	jar := cookiejar.New()
	primary, err := driver.GetCookies(ctx, m.config.PrimaryOrigin)
	if err != nil {
		return fail("collect primary domain cookies", err)
	}
	jar.Merge(primary)
	if m.config.SecondaryOrigin != "" {
		secondary, err := driver.GetCookies(ctx, m.config.SecondaryOrigin)
		if err != nil {
			return fail("collect secondary domain cookies", err)
		}
		jar.Merge(secondary)
	}

	err = m.store.Save(ctx, m.config.Service, jar)
	if err != nil {
		return fail("persist cookie jar", err)
	}

	slog.InfoContext(
		ctx, "session established",
		"service", m.config.Service,
		"cookies", jar.Len(),
	)
	return Result{Outcome: OutcomeSuccess, Jar: jar}, nil
}
