// -----------------------------------------------------------------------
// Last Modified: Wednesday, 15th July 2026 10:41:33 am
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/quaesitor/internal/common"
	"github.com/ternarybob/quaesitor/internal/interfaces"
	"github.com/ternarybob/quaesitor/internal/models"
	"github.com/ternarybob/quaesitor/internal/services/browser"
)

const (
	// A request gets the initial attempt plus two rotated retries
	protocolAttempts = 3

	submitEnableWait    = 8 * time.Second
	answerContainerWait = 8 * time.Second

	findInputPrimaryWait  = 3 * time.Second
	findInputFallbackWait = 2 * time.Second

	enterKey = "\r"
)

// retryError marks an attempt failure the retry loop answers with an
// identity rotation rather than a terminal error. block flags proxy-level
// symptoms that get reported before the rotation.
type retryError struct {
	reason string
	block  bool
}

func (e *retryError) Error() string { return e.reason }

// Service drives the answer protocol against the AI search surface: page
// preparation, prompt submission, answer polling with validation, and the
// follow-up sequence when the surface settles on prose instead of JSON.
type Service struct {
	identity interfaces.IdentityService
	events   interfaces.EventService
	logger   arbor.ILogger

	extractor  *Extractor
	validator  *Validator
	classifier *Classifier

	inputPrimary  string
	inputFallback string
	submitEnabled []string
	newSearchSels []string
	answerSel     string
	startURL      string

	answerTimeout   time.Duration
	pageOpenTimeout time.Duration
	newSearchWait   time.Duration
	pollInterval    time.Duration
	stabilityWindow time.Duration
	errorGrace      time.Duration
	nudgeInterval   time.Duration
}

// NewService creates the search service from configuration
func NewService(config *common.Config, identityService interfaces.IdentityService, eventService interfaces.EventService, logger arbor.ILogger) interfaces.SearchService {
	sc := config.Search
	sel := sc.Selectors

	s := &Service{
		identity:   identityService,
		events:     eventService,
		logger:     logger,
		extractor:  NewExtractor(sel.Answer, sel.AnswerFallback),
		validator:  NewValidator(&sc),
		classifier: NewClassifier(&sc),

		inputPrimary:  sel.InputPrimary,
		inputFallback: sel.InputFallback,
		newSearchSels: sel.NewSearch,
		answerSel:     sel.Answer,
		startURL:      config.Browser.StartURL,

		answerTimeout:   common.ParseDurationOr(sc.AnswerTimeout, 20*time.Second),
		pageOpenTimeout: common.ParseDurationOr(sc.PageOpenTimeout, 12*time.Second),
		newSearchWait:   common.ParseDurationOr(sc.NewSearchWait, 5*time.Second),
		pollInterval:    common.ParseDurationOr(sc.PollInterval, 100*time.Millisecond),
		stabilityWindow: common.ParseDurationOr(sc.StabilityWindow, 2*time.Second),
		errorGrace:      common.ParseDurationOr(sc.ErrorGrace, 3*time.Second),
		nudgeInterval:   common.ParseDurationOr(sc.NudgeInterval, 2500*time.Millisecond),
	}
	// The submit candidates are waited on and clicked through their
	// enabled variants; a disabled send button never counts as present
	for _, sub := range sel.Submit {
		s.submitEnabled = append(s.submitEnabled, sub+":not([disabled])")
	}
	return s
}

// Run executes the full search protocol for one prompt. Attempts that hit
// a persistent block symptom mark the proxy and rotate the identity before
// retrying; exhausting retries on a block yields the explicit empty answer
// rather than an error.
func (s *Service) Run(ctx context.Context, prompt string) (*models.SearchResult, error) {
	clean := strings.Join(strings.Fields(prompt), " ")
	if clean == "" {
		return nil, fmt.Errorf("empty prompt")
	}

	forceFresh := false
	for attemptN := 0; attemptN < protocolAttempts; attemptN++ {
		res, err := s.attempt(ctx, clean, attemptN, forceFresh)
		if err == nil {
			s.publishProgress(attemptN, "validating")
			result, finErr := s.finalize(res)
			if result != nil {
				result.Attempts = attemptN + 1
			}
			return result, finErr
		}

		var retry *retryError
		if !errors.As(err, &retry) {
			return nil, err
		}

		s.logger.Warn().
			Int("attempt", attemptN+1).
			Str("reason", retry.reason).
			Msg("Search attempt failed")

		if attemptN == protocolAttempts-1 {
			if retry.block {
				// The target is refusing this identity and we are out
				// of retries; report the empty answer explicitly
				return &models.SearchResult{JSON: json.RawMessage("{}"), Attempts: protocolAttempts}, nil
			}
			return nil, fmt.Errorf("search failed after %d attempts: %s", protocolAttempts, retry.reason)
		}

		if retry.block {
			s.identity.MarkCurrentProxyBlocked(ctx, retry.reason)
		}
		if rotErr := s.identity.RotateIdentity(ctx, retry.reason); rotErr != nil {
			return nil, fmt.Errorf("rotate after %q: %w", retry.reason, rotErr)
		}
		forceFresh = true
	}
	return nil, fmt.Errorf("search failed after %d attempts", protocolAttempts)
}

// attempt runs one pass of the protocol on the current session
func (s *Service) attempt(ctx context.Context, prompt string, attemptN int, forceFresh bool) (*pollResult, error) {
	drv, err := s.identity.ActiveSession(ctx)
	if err != nil {
		return nil, err
	}

	if forceFresh {
		if !s.openFreshSearchPage(ctx, drv) {
			return nil, &retryError{reason: "start page unreachable"}
		}
	} else {
		clicked, sawDisabled := s.tryNewSearchButton(ctx, drv)
		if !clicked {
			if sawDisabled {
				return nil, &retryError{reason: "new search button disabled"}
			}
			if !s.openFreshSearchPage(ctx, drv) {
				return nil, &retryError{reason: "new search button missing, fresh page failed"}
			}
		}
	}

	inputSel := s.findInput(ctx, drv, findInputPrimaryWait, findInputFallbackWait)
	if inputSel == "" {
		// One recovery shot: a fresh page with the full open budget
		if !s.openFreshSearchPage(ctx, drv) {
			return nil, fmt.Errorf("%w: prompt input not reachable", interfaces.ErrAnswerTimeout)
		}
		if inputSel = s.findInput(ctx, drv, s.pageOpenTimeout, findInputFallbackWait); inputSel == "" {
			return nil, fmt.Errorf("%w: prompt input not reachable", interfaces.ErrAnswerTimeout)
		}
	}

	s.publishProgress(attemptN, "submitting")
	if err := s.submitPrompt(ctx, drv, inputSel, prompt); err != nil {
		return nil, err
	}

	if !s.waitAnyExists(ctx, drv, []string{s.answerSel}, answerContainerWait) {
		s.logger.Debug().Str("selector", s.answerSel).Msg("Answer container not yet present, polling anyway")
	}

	s.publishProgress(attemptN, "polling")
	return s.pollForAnswer(ctx, drv, attemptN)
}

// submitPrompt types the prompt and fires it off. The focus click is
// best-effort; SetValue focuses the element itself.
func (s *Service) submitPrompt(ctx context.Context, drv interfaces.PageDriver, inputSel, prompt string) error {
	if err := drv.Click(ctx, inputSel); err != nil {
		s.logger.Debug().Err(err).Msg("Input focus click failed")
	}
	if err := drv.SetValue(ctx, inputSel, prompt); err != nil {
		return fmt.Errorf("submit prompt: %w", err)
	}

	if !s.waitAnyExists(ctx, drv, s.submitEnabled, submitEnableWait) {
		return &retryError{reason: "send button disabled"}
	}
	common.SleepCtx(ctx, 200*time.Millisecond)

	if !s.clickFirst(ctx, drv, s.submitEnabled) {
		if err := drv.SendKeys(ctx, inputSel, enterKey); err != nil {
			return fmt.Errorf("submit prompt: %w", err)
		}
	}
	return nil
}

// finalize turns the raw poll outcome into the response result. Block and
// empty outcomes still return the result so callers can attach the raw
// renditions to their error response.
func (s *Service) finalize(res *pollResult) (*models.SearchResult, error) {
	raw := res.rawText
	if raw == "" {
		raw = res.text
	}
	result := &models.SearchResult{HTML: res.html, RawText: raw}

	if s.classifier.IsContentBlock(raw) {
		return result, interfaces.ErrBlockedByTarget
	}
	cleaned := ExtractCleanJSON(res.text)
	if cleaned == "" {
		return result, interfaces.ErrEmptyResult
	}
	result.JSON = json.RawMessage(cleaned)
	return result, nil
}

// tryNewSearchButton reports (clicked, sawDisabled). A visible but
// disabled button is the surface telling us this session cannot start
// another search; the caller answers that with a rotation rather than a
// fresh page.
func (s *Service) tryNewSearchButton(ctx context.Context, drv interfaces.PageDriver) (bool, bool) {
	deadline := time.Now().Add(s.newSearchWait)
	sawDisabled := false

	for time.Now().Before(deadline) {
		if ctx.Err() != nil {
			return false, sawDisabled
		}
		for _, sel := range s.newSearchSels {
			visible, err := drv.IsVisible(ctx, sel)
			if err != nil || !visible {
				continue
			}
			enabled, err := drv.IsEnabled(ctx, sel)
			if err != nil {
				continue
			}
			if !enabled {
				sawDisabled = true
				common.SleepCtx(ctx, 500*time.Millisecond)
				continue
			}
			if err := drv.Click(ctx, sel); err != nil {
				s.logger.Debug().Err(err).Str("selector", sel).Msg("New search click failed")
				continue
			}
			common.SleepCtx(ctx, 300*time.Millisecond)
			return true, false
		}
		if !common.SleepCtx(ctx, 300*time.Millisecond) {
			return false, sawDisabled
		}
	}
	return false, sawDisabled
}

// openFreshSearchPage renavigates to the start page and waits for the
// prompt input, splitting the open budget between primary and fallback
// selectors
func (s *Service) openFreshSearchPage(ctx context.Context, drv interfaces.PageDriver) bool {
	openCtx, cancel := context.WithTimeout(ctx, s.pageOpenTimeout)
	defer cancel()

	if err := drv.Navigate(openCtx, s.startURL); err != nil {
		s.logger.Warn().Err(err).Str("url", s.startURL).Msg("Fresh page navigation failed")
		return false
	}
	browser.AcceptConsent(openCtx, drv)

	primaryWait := 8 * time.Second
	if s.pageOpenTimeout < primaryWait {
		primaryWait = s.pageOpenTimeout
	}
	fallbackWait := s.pageOpenTimeout - 8*time.Second
	if fallbackWait < 3*time.Second {
		fallbackWait = 3 * time.Second
	}

	if browser.WaitInteractable(openCtx, drv, s.inputPrimary, primaryWait) {
		return true
	}
	return browser.WaitInteractable(openCtx, drv, s.inputFallback, fallbackWait)
}

// findInput locates the interactable prompt input, primary then fallback
func (s *Service) findInput(ctx context.Context, drv interfaces.PageDriver, primaryWait, fallbackWait time.Duration) string {
	if browser.WaitInteractable(ctx, drv, s.inputPrimary, primaryWait) {
		return s.inputPrimary
	}
	if browser.WaitInteractable(ctx, drv, s.inputFallback, fallbackWait) {
		return s.inputFallback
	}
	return ""
}

// waitAnyExists polls until any of the selectors matches something
func (s *Service) waitAnyExists(ctx context.Context, drv interfaces.PageDriver, selectors []string, timeout time.Duration) bool {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	for {
		for _, sel := range selectors {
			if found, err := drv.Exists(waitCtx, sel); err == nil && found {
				return true
			}
		}
		if !common.SleepCtx(waitCtx, 150*time.Millisecond) {
			return false
		}
	}
}

func (s *Service) clickFirst(ctx context.Context, drv interfaces.PageDriver, selectors []string) bool {
	for _, sel := range selectors {
		if err := drv.Click(ctx, sel); err == nil {
			return true
		}
	}
	return false
}

func (s *Service) publishProgress(attemptN int, phase string) {
	if s.events == nil {
		return
	}
	payload := models.SearchEventPayload{Phase: phase, Attempt: attemptN + 1}
	if err := s.events.Publish(context.Background(), interfaces.Event{Type: interfaces.EventSearchProgress, Payload: payload}); err != nil {
		s.logger.Debug().Err(err).Str("phase", phase).Msg("Event publish failed")
	}
}
