// -----------------------------------------------------------------------
// Last Modified: Wednesday, 8th July 2026 2:19:41 pm
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/quaesitor/internal/common"
	"github.com/ternarybob/quaesitor/internal/interfaces"
)

// chromeFactory launches stealth-configured Chrome sessions. Static launch
// configuration lives here; per-session profile and proxy come in through
// DriverOptions.
type chromeFactory struct {
	binaryPath  string
	headless    bool
	userAgents  []string
	windowSizes []string
	pageTimeout time.Duration
	quitTimeout time.Duration
	logger      arbor.ILogger
}

// NewFactory creates a driver factory from the browser configuration
func NewFactory(cfg *common.BrowserConfig, logger arbor.ILogger) interfaces.DriverFactory {
	return &chromeFactory{
		binaryPath:  cfg.BinaryPath,
		headless:    cfg.Headless,
		userAgents:  cfg.UserAgents,
		windowSizes: cfg.WindowSizes,
		pageTimeout: common.ParseDurationOr(cfg.PageTimeout, 45*time.Second),
		quitTimeout: common.ParseDurationOr(cfg.QuitTimeout, 5*time.Second),
		logger:      logger,
	}
}

// NewDriver starts a browser session on the given profile. A stale profile
// lock is retried once after cleaning lock files; if the directory stays
// locked, the launch falls back to an ephemeral session_* directory under
// the profile so the worker keeps serving while the base profile recovers.
func (f *chromeFactory) NewDriver(ctx context.Context, opts interfaces.DriverOptions) (interfaces.PageDriver, error) {
	if opts.ProfileDir == "" {
		return nil, fmt.Errorf("profile dir is required")
	}
	if err := PrepareProfileDir(opts.ProfileDir); err != nil {
		return nil, err
	}

	proxy, err := parseProxy(opts.ProxyURL)
	if err != nil {
		return nil, err
	}
	if proxy != nil {
		f.logger.Info().
			Str("proxy", proxy.server).
			Bool("authenticated", proxy.username != "").
			Msg("Launching browser through proxy")
	}

	userDataDir := opts.ProfileDir
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		drv, err := f.launch(ctx, userDataDir, proxy)
		if err == nil {
			if userDataDir != opts.ProfileDir {
				f.logger.Info().
					Str("user_data_dir", userDataDir).
					Msg("Browser launched on ephemeral user data dir")
			}
			return drv, nil
		}
		lastErr = err
		if !isProfileLockError(err) || attempt == 2 {
			return nil, err
		}

		switch attempt {
		case 0:
			// Clean locks on the base dir and retry in place
			f.logger.Warn().Err(err).Str("profile_dir", opts.ProfileDir).Msg("Profile locked, cleaning lock files")
			CleanLockFiles(opts.ProfileDir)
			time.Sleep(800 * time.Millisecond)
		case 1:
			userDataDir = ephemeralSessionDir(opts.ProfileDir)
			if mkErr := os.MkdirAll(userDataDir, 0o755); mkErr != nil {
				return nil, fmt.Errorf("create ephemeral session dir: %w", mkErr)
			}
			f.logger.Warn().
				Str("user_data_dir", userDataDir).
				Msg("Profile still locked, falling back to ephemeral user data dir")
		}
	}
	return nil, lastErr
}

func (f *chromeFactory) launch(ctx context.Context, userDataDir string, proxy *proxyEndpoint) (*chromeDriver, error) {
	startTime := time.Now()
	ua := pickUserAgent(f.userAgents)
	width, height := pickWindowSize(f.windowSizes)

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:], stealthOptions()...)
	allocOpts = append(allocOpts,
		// The default option set carries the automation switch; drop it
		chromedp.Flag("enable-automation", false),
		chromedp.UserAgent(ua),
		chromedp.WindowSize(width, height),
		chromedp.UserDataDir(userDataDir),
	)
	if f.headless {
		allocOpts = append(allocOpts, chromedp.Flag("headless", "new"))
	} else {
		allocOpts = append(allocOpts, chromedp.Flag("headless", false))
	}
	if f.binaryPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(f.binaryPath))
	}
	if proxy != nil {
		allocOpts = append(allocOpts, chromedp.ProxyServer(proxy.server))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocOpts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	fail := func(err error) (*chromeDriver, error) {
		browserCancel()
		allocCancel()
		return nil, err
	}

	// Credentialed proxies answer the CDP auth challenge; Chrome's
	// --proxy-server flag cannot carry credentials itself.
	if proxy != nil && proxy.username != "" {
		if err := enableProxyAuth(browserCtx, proxy, f.logger); err != nil {
			return fail(fmt.Errorf("enable proxy auth: %w", err))
		}
	}

	testTimeout := f.pageTimeout
	if testTimeout <= 0 {
		testTimeout = 30 * time.Second
	}
	testCtx, testCancel := context.WithTimeout(browserCtx, testTimeout)
	defer testCancel()
	if ctx != nil {
		if dl, ok := ctx.Deadline(); ok && dl.Before(time.Now().Add(testTimeout)) {
			var cancel context.CancelFunc
			testCtx, cancel = context.WithDeadline(browserCtx, dl)
			defer cancel()
		}
	}

	if err := chromedp.Run(testCtx, chromedp.Navigate("about:blank")); err != nil {
		return fail(fmt.Errorf("browser failed startup test: %w", err))
	}
	var title string
	if err := chromedp.Run(testCtx, chromedp.Title(&title)); err != nil {
		return fail(fmt.Errorf("browser failed responsiveness test: %w", err))
	}
	if err := chromedp.Run(testCtx, chromedp.Evaluate(stealthScript, nil)); err != nil {
		f.logger.Warn().Err(err).Msg("Stealth script injection failed")
	}

	f.logger.Debug().
		Str("user_data_dir", userDataDir).
		Str("user_agent", ua).
		Int("width", width).
		Int("height", height).
		Dur("startup_time", time.Since(startTime)).
		Msg("Browser session started")

	return &chromeDriver{
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		allocCancel:   allocCancel,
		userDataDir:   userDataDir,
		pageTimeout:   f.pageTimeout,
		quitTimeout:   f.quitTimeout,
		logger:        f.logger,
	}, nil
}

// proxyEndpoint is a parsed proxy URL split into the server argument Chrome
// accepts and the credentials it does not
type proxyEndpoint struct {
	server   string
	username string
	password string
}

func parseProxy(raw string) (*proxyEndpoint, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy url %q: %w", raw, err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid proxy url %q: missing host", raw)
	}
	p := &proxyEndpoint{server: u.Scheme + "://" + u.Host}
	if u.User != nil {
		p.username = u.User.Username()
		p.password, _ = u.User.Password()
	}
	return p, nil
}

// enableProxyAuth answers proxy auth challenges over CDP. Fetch interception
// is enabled with auth handling; paused requests are continued untouched.
func enableProxyAuth(browserCtx context.Context, proxy *proxyEndpoint, logger arbor.ILogger) error {
	chromedp.ListenTarget(browserCtx, func(ev interface{}) {
		switch ev := ev.(type) {
		case *fetch.EventAuthRequired:
			go func() {
				execCtx := cdp.WithExecutor(browserCtx, chromedp.FromContext(browserCtx).Target)
				resp := &fetch.AuthChallengeResponse{
					Response: fetch.AuthChallengeResponseResponseProvideCredentials,
					Username: proxy.username,
					Password: proxy.password,
				}
				if err := fetch.ContinueWithAuth(ev.RequestID, resp).Do(execCtx); err != nil {
					logger.Debug().Err(err).Msg("Proxy auth response failed")
				}
			}()
		case *fetch.EventRequestPaused:
			go func() {
				execCtx := cdp.WithExecutor(browserCtx, chromedp.FromContext(browserCtx).Target)
				if err := fetch.ContinueRequest(ev.RequestID).Do(execCtx); err != nil {
					logger.Debug().Err(err).Msg("Continue paused request failed")
				}
			}()
		}
	})
	return chromedp.Run(browserCtx, fetch.Enable().WithHandleAuthRequests(true))
}

func isProfileLockError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "user data directory is already in use") ||
		strings.Contains(msg, "singletonlock") ||
		strings.Contains(msg, "process singleton")
}

// chromeDriver is a live Chrome session. Operations run against the browser
// context; once that context dies every operation reports ErrSessionInvalid.
type chromeDriver struct {
	browserCtx    context.Context
	browserCancel context.CancelFunc
	allocCancel   context.CancelFunc
	userDataDir   string
	pageTimeout   time.Duration
	quitTimeout   time.Duration
	logger        arbor.ILogger
	closed        atomic.Bool
}

// run executes actions against the browser context, bounded by the caller's
// deadline when present and by the page timeout otherwise
func (d *chromeDriver) run(ctx context.Context, actions ...chromedp.Action) error {
	if d.closed.Load() || d.browserCtx.Err() != nil {
		return interfaces.ErrSessionInvalid
	}

	var opCtx context.Context
	var cancel context.CancelFunc
	if dl, ok := ctx.Deadline(); ok {
		opCtx, cancel = context.WithDeadline(d.browserCtx, dl)
	} else {
		opCtx, cancel = context.WithTimeout(d.browserCtx, d.pageTimeout)
	}
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	if err := chromedp.Run(opCtx, actions...); err != nil {
		return d.mapErr(ctx, err)
	}
	return nil
}

// mapErr distinguishes a dead session from an operation that merely failed
func (d *chromeDriver) mapErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if d.closed.Load() || d.browserCtx.Err() != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrSessionInvalid, err)
	}
	return err
}

func (d *chromeDriver) Navigate(ctx context.Context, pageURL string) error {
	return d.run(ctx, chromedp.Navigate(pageURL))
}

func (d *chromeDriver) CurrentURL(ctx context.Context) (string, error) {
	var urlstr string
	if err := d.run(ctx, chromedp.Location(&urlstr)); err != nil {
		return "", err
	}
	return urlstr, nil
}

func (d *chromeDriver) WaitVisible(ctx context.Context, selector string) error {
	return d.run(ctx, chromedp.WaitVisible(selector, chromedp.ByQuery))
}

func (d *chromeDriver) Exists(ctx context.Context, selector string) (bool, error) {
	var nodes []*cdp.Node
	if err := d.run(ctx, chromedp.Nodes(selector, &nodes, chromedp.ByQueryAll, chromedp.AtLeast(0))); err != nil {
		return false, err
	}
	return len(nodes) > 0, nil
}

func (d *chromeDriver) IsVisible(ctx context.Context, selector string) (bool, error) {
	var visible bool
	script := fmt.Sprintf(isVisibleJS, jsString(selector))
	if err := d.run(ctx, chromedp.Evaluate(script, &visible)); err != nil {
		return false, err
	}
	return visible, nil
}

func (d *chromeDriver) IsEnabled(ctx context.Context, selector string) (bool, error) {
	var enabled bool
	script := fmt.Sprintf(isEnabledJS, jsString(selector))
	if err := d.run(ctx, chromedp.Evaluate(script, &enabled)); err != nil {
		return false, err
	}
	return enabled, nil
}

// Click tries a native click first. Overlays intercept native clicks on the
// target surface, so a JS click on the first match is the fallback.
func (d *chromeDriver) Click(ctx context.Context, selector string) error {
	err := d.run(ctx, chromedp.Click(selector, chromedp.ByQuery, chromedp.NodeVisible))
	if err == nil || errors.Is(err, interfaces.ErrSessionInvalid) || ctx.Err() != nil {
		return err
	}

	var clicked bool
	script := fmt.Sprintf(clickJS, jsString(selector))
	if jsErr := d.run(ctx, chromedp.Evaluate(script, &clicked)); jsErr != nil || !clicked {
		return err
	}
	return nil
}

func (d *chromeDriver) SetValue(ctx context.Context, selector string, value string) error {
	var ok bool
	script := fmt.Sprintf(setValueJS, jsString(selector), jsString(value))
	if err := d.run(ctx, chromedp.Evaluate(script, &ok)); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("set value: no element matches %q", selector)
	}
	return nil
}

func (d *chromeDriver) SendKeys(ctx context.Context, selector string, keys string) error {
	return d.run(ctx, chromedp.SendKeys(selector, keys, chromedp.ByQuery))
}

func (d *chromeDriver) Text(ctx context.Context, selector string) (string, error) {
	var text string
	script := fmt.Sprintf(textJS, jsString(selector))
	if err := d.run(ctx, chromedp.Evaluate(script, &text)); err != nil {
		return "", err
	}
	return text, nil
}

func (d *chromeDriver) HTML(ctx context.Context, selector string) (string, error) {
	var html string
	script := fmt.Sprintf(outerHTMLJS, jsString(selector))
	if err := d.run(ctx, chromedp.Evaluate(script, &html)); err != nil {
		return "", err
	}
	return html, nil
}

// Close tears the session down. The graceful browser close is time-boxed;
// on timeout the contexts are cancelled, which kills the process and reaps
// it through the allocator.
func (d *chromeDriver) Close(ctx context.Context) error {
	if d.closed.Swap(true) {
		return nil
	}

	done := make(chan error, 1)
	go func() { done <- chromedp.Cancel(d.browserCtx) }()

	var closeErr error
	select {
	case closeErr = <-done:
	case <-time.After(d.quitTimeout):
		d.logger.Warn().
			Dur("quit_timeout", d.quitTimeout).
			Str("user_data_dir", d.userDataDir).
			Msg("Browser quit timed out, forcing kill")
	case <-ctx.Done():
		closeErr = ctx.Err()
	}

	d.browserCancel()
	d.allocCancel()

	if closeErr != nil {
		d.logger.Warn().Err(closeErr).Msg("Browser session closed with error")
	} else {
		d.logger.Debug().Str("user_data_dir", d.userDataDir).Msg("Browser session closed")
	}
	return nil
}

// jsString renders s as a JS string literal
func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

// JS snippets run through Evaluate. All tolerate a missing element so the
// poll loops can call them without waiting on selector matches.
const (
	isVisibleJS = `(() => {
		const els = document.querySelectorAll(%s);
		for (const el of els) {
			const r = el.getBoundingClientRect();
			if (r.width > 0 && r.height > 0) return true;
		}
		return false;
	})()`

	isEnabledJS = `(() => {
		const els = document.querySelectorAll(%s);
		for (const el of els) {
			if (el.disabled) continue;
			if (el.getAttribute('aria-disabled') === 'true') continue;
			const r = el.getBoundingClientRect();
			if (r.width > 0 && r.height > 0) return true;
		}
		return false;
	})()`

	clickJS = `(() => {
		const el = document.querySelector(%s);
		if (!el) return false;
		el.click();
		return true;
	})()`

	setValueJS = `(() => {
		const els = document.querySelectorAll(%s);
		let el = null;
		for (const cand of els) {
			const r = cand.getBoundingClientRect();
			if (r.width > 0 && r.height > 0) { el = cand; break; }
		}
		if (!el) el = els[0] || null;
		if (!el) return false;
		el.focus();
		const value = %s;
		const proto = el instanceof HTMLTextAreaElement ? HTMLTextAreaElement.prototype
			: el instanceof HTMLInputElement ? HTMLInputElement.prototype
			: null;
		const desc = proto ? Object.getOwnPropertyDescriptor(proto, 'value') : null;
		if (desc && desc.set) {
			desc.set.call(el, value);
		} else if ('value' in el) {
			el.value = value;
		} else {
			el.textContent = value;
		}
		el.dispatchEvent(new Event('input', { bubbles: true }));
		el.dispatchEvent(new Event('change', { bubbles: true }));
		return true;
	})()`

	textJS = `(() => {
		const el = document.querySelector(%s);
		return el ? (el.innerText || '') : '';
	})()`

	outerHTMLJS = `(() => {
		const el = document.querySelector(%s);
		return el ? el.outerHTML : '';
	})()`
)
