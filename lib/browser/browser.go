// Package browser defines the narrow contract the core has with the
// embedded browser surface that physically drives login pages. The core
// never depends on rendering details, only on this interface, so the
// session state machine and the protected-resource fetcher stay
// unit-testable against a fake.
package browser

import (
	"context"
	"legionlaunch/lib/cookiejar"
)

// Driver is a single-use, single-goroutine browser surface. One driver
// is acquired per login or fallback-fetch invocation and never shared
// across concurrent workers.
type Driver interface {
	// Navigate loads the url and returns once the page-ready signal
	// fires. A non-nil error means the navigation itself failed, not
	// that the page content was unexpected.
	Navigate(ctx context.Context, url string) error
	// Location reports the final resolved url of the last navigation,
	// after any redirects.
	Location() string
	// GetCookies returns the driver's current cookies scoped to the
	// given origin (scheme + host).
	GetCookies(ctx context.Context, origin string) ([]cookiejar.Cookie, error)
	// InjectCookies seeds cookies into the driver before navigation.
	InjectCookies(ctx context.Context, cookies []cookiejar.Cookie) error
	// ClearCookies deletes all cookies in scope for the origin.
	ClearCookies(ctx context.Context, origin string) error
	// ExecuteScript evaluates js in the page and returns the result
	// as a json-encoded value, mirroring what embedded webviews hand
	// back.
	ExecuteScript(ctx context.Context, js string) (string, error)
	// Close releases the underlying surface. Drivers abandoned by a
	// timed-out caller are closed by whichever goroutine still owns
	// them.
	Close() error
}

// Factory mints fresh drivers. Every invocation that needs a browser
// gets its own instance.
type Factory interface {
	NewDriver(ctx context.Context) (Driver, error)
}
