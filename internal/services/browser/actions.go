package browser

import (
	"context"
	"errors"
	"time"

	"github.com/ternarybob/quaesitor/internal/common"
	"github.com/ternarybob/quaesitor/internal/interfaces"
)

// Consent interstitial buttons, tried in order. The interstitial variant
// depends on region and whether the profile has seen it before; absence of
// all of them just means no interstitial this session.
var consentSelectors = []string{
	`button[aria-label="Accept all"]`,
	`button[aria-label="I agree"]`,
	`#introAgreeButton`,
	`form[action*="consent"] button[type="submit"]`,
}

const (
	consentScanRounds = 4
	consentScanPause  = 300 * time.Millisecond
	consentClickPause = 200 * time.Millisecond

	interactablePoll = 250 * time.Millisecond
)

// AcceptConsent dismisses the consent interstitial when present. The
// dialog can render a beat after document ready, so the scan runs a few
// rounds before concluding there is none.
func AcceptConsent(ctx context.Context, drv interfaces.PageDriver) {
	for round := 0; round < consentScanRounds; round++ {
		for _, sel := range consentSelectors {
			found, err := drv.Exists(ctx, sel)
			if err != nil {
				return
			}
			if !found {
				continue
			}
			if err := drv.Click(ctx, sel); err == nil {
				common.SleepCtx(ctx, consentClickPause)
				return
			}
		}
		if !common.SleepCtx(ctx, consentScanPause) {
			return
		}
	}
}

// WaitInteractable polls until the selector is visible and enabled.
// Transient evaluation errors during page load are retried; a dead
// session ends the wait immediately.
func WaitInteractable(ctx context.Context, drv interfaces.PageDriver, selector string, timeout time.Duration) bool {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(interactablePoll)
	defer ticker.Stop()

	for {
		ok, err := drv.IsEnabled(waitCtx, selector)
		if err != nil && errors.Is(err, interfaces.ErrSessionInvalid) {
			return false
		}
		if err == nil && ok {
			return true
		}
		select {
		case <-waitCtx.Done():
			return false
		case <-ticker.C:
		}
	}
}
