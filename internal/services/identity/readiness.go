package identity

import (
	"context"
	"time"

	"github.com/ternarybob/quaesitor/internal/interfaces"
	"github.com/ternarybob/quaesitor/internal/services/browser"
)

const (
	primaryInputWait  = 15 * time.Second
	fallbackInputWait = 5 * time.Second
)

// ensureSurfaceReady navigates to the search surface and verifies the
// prompt input is interactable. This is an actual-state check against the
// live page, not a timer; timeout only bounds how long we keep checking.
func (s *Service) ensureSurfaceReady(ctx context.Context, drv interfaces.PageDriver, timeout time.Duration) bool {
	readyCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := drv.Navigate(readyCtx, s.startURL); err != nil {
		s.logger.Warn().Err(err).Str("url", s.startURL).Msg("Start page navigation failed")
		return false
	}

	browser.AcceptConsent(readyCtx, drv)

	if browser.WaitInteractable(readyCtx, drv, s.inputPrimary, primaryInputWait) {
		return true
	}
	s.logger.Debug().Str("selector", s.inputPrimary).Msg("Primary input not interactable, trying fallback")
	return browser.WaitInteractable(readyCtx, drv, s.inputFallback, fallbackInputWait)
}
