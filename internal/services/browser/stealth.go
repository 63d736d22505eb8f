package browser

import (
	"fmt"
	"math/rand"
	"strconv"
	"strings"

	"github.com/chromedp/chromedp"
)

// fallback identity when the config carries no user agent or window list
const defaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36"

var defaultWindowSize = [2]int{1366, 768}

// stealthOptions returns the allocator flags that keep the session from
// advertising automation. The flag set tracks what a plain desktop Chrome
// ships with plus the container stability flags.
func stealthOptions() []chromedp.ExecAllocatorOption {
	return []chromedp.ExecAllocatorOption{
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("excludeSwitches", "enable-automation"),
		chromedp.Flag("useAutomationExtension", false),
		chromedp.Flag("lang", "en-US,en"),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("no-default-browser-check", true),
		chromedp.Flag("disable-features", "Translate,ChromeWhatsNewUI"),

		// Container stability
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-gpu", true),

		// Avoid keychain prompts in containers
		chromedp.Flag("password-store", "basic"),
		chromedp.Flag("use-mock-keychain", true),
	}
}

// pickUserAgent returns a random user agent from the configured list
func pickUserAgent(agents []string) string {
	if len(agents) == 0 {
		return defaultUserAgent
	}
	return agents[rand.Intn(len(agents))]
}

// pickWindowSize returns a random "WIDTHxHEIGHT" entry parsed into pixels.
// Malformed entries fall back to the default size.
func pickWindowSize(sizes []string) (int, int) {
	if len(sizes) == 0 {
		return defaultWindowSize[0], defaultWindowSize[1]
	}
	w, h, err := parseWindowSize(sizes[rand.Intn(len(sizes))])
	if err != nil {
		return defaultWindowSize[0], defaultWindowSize[1]
	}
	return w, h
}

func parseWindowSize(size string) (int, int, error) {
	parts := strings.SplitN(strings.ToLower(strings.TrimSpace(size)), "x", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid window size %q", size)
	}
	w, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid window width %q", size)
	}
	h, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid window height %q", size)
	}
	if w <= 0 || h <= 0 {
		return 0, 0, fmt.Errorf("invalid window size %q", size)
	}
	return w, h, nil
}

// stealthScript patches the navigator surface after startup. Each patch is
// wrapped in its own try so one failure does not lose the rest.
const stealthScript = `
	try { Object.defineProperty(navigator, 'webdriver', { get: () => undefined, configurable: true }); } catch (e) {}
	try { Object.defineProperty(navigator, 'language', { get: () => 'en-US' }); } catch (e) {}
	try { Object.defineProperty(navigator, 'languages', { get: () => ['en-US', 'en'] }); } catch (e) {}
	try {
		const orig = navigator.plugins;
		Object.defineProperty(navigator, 'plugins', { get: () => orig || [1, 2, 3] });
	} catch (e) {}
	try {
		if (!window.chrome) window.chrome = {};
		if (!window.chrome.runtime) window.chrome.runtime = { id: undefined };
	} catch (e) {}
`
