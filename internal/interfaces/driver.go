// -----------------------------------------------------------------------
// Last Modified: Friday, 12th June 2026 10:41:18 am
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

package interfaces

import (
	"context"
	"errors"
)

// ErrSessionInvalid is returned by driver operations after the underlying
// browser session has died or been torn down
var ErrSessionInvalid = errors.New("browser session invalid")

// DriverOptions carries the per-session parts of a browser launch. Static
// launch configuration (binary path, headless, timeouts) belongs to the
// factory.
type DriverOptions struct {
	// ProfileDir is the browser profile directory for this session
	ProfileDir string

	// ProxyURL routes all session traffic through the given proxy.
	// Empty means a direct connection.
	ProxyURL string
}

// DriverFactory launches browser sessions
type DriverFactory interface {
	// NewDriver starts a browser session with the given options. The
	// returned driver owns the browser process until Close.
	NewDriver(ctx context.Context, opts DriverOptions) (PageDriver, error)
}

// PageDriver is a live browser page. All operations return
// ErrSessionInvalid once the session has died, so callers can distinguish
// a dead session from an element that merely failed to appear.
type PageDriver interface {
	// Navigate loads the URL and waits for document readiness
	Navigate(ctx context.Context, url string) error

	// CurrentURL returns the page URL. Used as the session liveness probe:
	// a dead session fails here with ErrSessionInvalid.
	CurrentURL(ctx context.Context) (string, error)

	// WaitVisible blocks until the selector is visible or ctx expires
	WaitVisible(ctx context.Context, selector string) error

	// Exists reports whether the selector matches at least one node
	Exists(ctx context.Context, selector string) (bool, error)

	// IsVisible reports whether any match is rendered visible
	IsVisible(ctx context.Context, selector string) (bool, error)

	// IsEnabled reports whether any match is interactable (visible and
	// not disabled)
	IsEnabled(ctx context.Context, selector string) (bool, error)

	// Click clicks the first matched element
	Click(ctx context.Context, selector string) error

	// SetValue writes value into the control through its native value
	// path and dispatches input and change events so framework listeners
	// observe the edit
	SetValue(ctx context.Context, selector string, value string) error

	// SendKeys sends raw keystrokes to the first matched element
	SendKeys(ctx context.Context, selector string, keys string) error

	// Text returns the visible text of the selector's first match
	Text(ctx context.Context, selector string) (string, error)

	// HTML returns the outer HTML of the selector's first match
	HTML(ctx context.Context, selector string) (string, error)

	// Close tears the session down. Teardown is time-boxed internally;
	// a hung browser is force-killed and the process reaped.
	Close(ctx context.Context) error
}
