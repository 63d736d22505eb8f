package search

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/quaesitor/internal/common"
	"github.com/ternarybob/quaesitor/internal/interfaces"
)

// pollResult is the outcome of one protocol attempt. text holds the
// cleaned JSON when an answer validated, otherwise whatever text the
// surface settled on.
type pollResult struct {
	text    string
	html    string
	rawText string
}

type followupResult struct {
	text string
	html string
}

// pollForAnswer watches the answer region until a valid JSON answer
// appears, the text settles long enough to justify the follow-up
// sequence, or the answer window runs out. While a block symptom shows,
// text handling is suspended; a symptom persisting past the error grace,
// or still showing when the window ends, aborts the attempt for rotation.
func (s *Service) pollForAnswer(ctx context.Context, drv interfaces.PageDriver, attemptN int) (*pollResult, error) {
	start := time.Now()
	deadline := start.Add(s.answerTimeout)
	nudgeAt := start.Add(s.nudgeInterval)

	var lastText string
	var lastChange time.Time
	var blockSince time.Time

	for time.Now().Before(deadline) {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		ext, err := s.extractor.Extract(ctx, drv)
		if err != nil {
			if errors.Is(err, interfaces.ErrSessionInvalid) {
				return nil, err
			}
			s.logger.Debug().Err(err).Msg("Answer extraction failed, retrying")
			if !common.SleepCtx(ctx, s.pollInterval) {
				return nil, ctx.Err()
			}
			continue
		}

		if s.classifier.IsProxyBlock(ext.Text) {
			if blockSince.IsZero() {
				blockSince = time.Now()
				s.logger.Warn().Msg("Block symptom on answer page")
			} else if time.Since(blockSince) >= s.errorGrace {
				break
			}
		} else {
			blockSince = time.Time{}

			if ext.Text != "" {
				if cleaned := ExtractCleanJSON(ext.Text); cleaned != "" && s.validator.IsValidAnswer(cleaned) {
					return &pollResult{text: cleaned, html: ext.HTML, rawText: ext.Text}, nil
				}
				if ext.Text != lastText {
					lastText = ext.Text
					lastChange = time.Now()
				} else if time.Since(lastChange) >= s.stabilityWindow {
					s.publishProgress(attemptN, "followup")
					return s.followupSequence(ctx, drv)
				}
			}
		}

		if time.Now().After(nudgeAt) {
			s.nudgeAnswer(ctx, drv)
			nudgeAt = time.Now().Add(s.nudgeInterval)
		}

		if !common.SleepCtx(ctx, s.pollInterval) {
			return nil, ctx.Err()
		}
	}

	if !blockSince.IsZero() {
		return nil, &retryError{reason: "google error: proxy_blocked", block: true}
	}
	if lastText != "" {
		s.logger.Warn().
			Dur("answer_timeout", s.answerTimeout).
			Int("text_len", len(lastText)).
			Msg("Answer window elapsed, returning last text")
		return &pollResult{text: lastText, rawText: lastText}, nil
	}
	return nil, interfaces.ErrAnswerTimeout
}

// followupSequence asks the surface to restate its settled answer as
// JSON, twice, with progressively blunter prompts. Failures here never
// abort the search; the last response flows back as-is.
func (s *Service) followupSequence(ctx context.Context, drv interfaces.PageDriver) (*pollResult, error) {
	first, err := s.sendFollowup(ctx, drv, "return json")
	if err != nil {
		s.logger.Warn().Err(err).Msg("Follow-up prompt failed")
		return &pollResult{}, nil
	}
	if cleaned := ExtractCleanJSON(first.text); cleaned != "" {
		return &pollResult{text: cleaned, html: first.html, rawText: first.text}, nil
	}

	common.SleepCtx(ctx, time.Second)

	second, err := s.sendFollowup(ctx, drv, "json only")
	if err != nil {
		s.logger.Warn().Err(err).Msg("Follow-up prompt failed")
		return &pollResult{}, nil
	}
	if cleaned := ExtractCleanJSON(second.text); cleaned != "" {
		return &pollResult{text: cleaned, html: second.html, rawText: second.text}, nil
	}
	return &pollResult{text: second.text, html: second.html, rawText: second.text}, nil
}

// sendFollowup submits a follow-up prompt into the existing conversation
// and waits for the answer region to change and settle. The immediate
// return fires on the first JSON seen after the region moved; otherwise
// stability wins.
func (s *Service) sendFollowup(ctx context.Context, drv interfaces.PageDriver, prompt string) (*followupResult, error) {
	inputSel := ""
	for _, sel := range []string{s.inputPrimary, s.inputFallback} {
		if ok, err := drv.IsEnabled(ctx, sel); err == nil && ok {
			inputSel = sel
			break
		}
	}
	if inputSel == "" {
		return nil, fmt.Errorf("follow-up input not found")
	}

	if err := drv.Click(ctx, inputSel); err != nil {
		s.logger.Debug().Err(err).Msg("Follow-up focus click failed")
	}
	if err := drv.SetValue(ctx, inputSel, prompt); err != nil {
		return nil, fmt.Errorf("follow-up prompt: %w", err)
	}
	if !s.waitAnyExists(ctx, drv, s.submitEnabled, submitEnableWait) {
		return nil, fmt.Errorf("follow-up send button never enabled")
	}
	common.SleepCtx(ctx, 200*time.Millisecond)
	if !s.clickFirst(ctx, drv, s.submitEnabled) {
		if err := drv.SendKeys(ctx, inputSel, enterKey); err != nil {
			return nil, fmt.Errorf("follow-up submit: %w", err)
		}
	}

	// Baseline after submit so change detection keys off the old answer
	initial, _ := s.extractor.Extract(ctx, drv)
	common.SleepCtx(ctx, 500*time.Millisecond)

	deadline := time.Now().Add(s.answerTimeout)
	htmlChanged := false
	var lastHTML string
	var stableAt time.Time

	for time.Now().Before(deadline) {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		ext, err := s.extractor.Extract(ctx, drv)
		if err != nil {
			if errors.Is(err, interfaces.ErrSessionInvalid) {
				return nil, err
			}
			if !common.SleepCtx(ctx, s.pollInterval) {
				return nil, ctx.Err()
			}
			continue
		}

		if ext.HTML != "" && ext.HTML != initial.HTML {
			htmlChanged = true
		}
		if stableAt.IsZero() || ext.HTML != lastHTML {
			lastHTML = ext.HTML
			stableAt = time.Now()
		} else if time.Since(stableAt) >= s.stabilityWindow {
			return &followupResult{text: strings.TrimSpace(ext.Text), html: ext.HTML}, nil
		}

		if ext.Text != "" && htmlChanged {
			if cleaned := ExtractCleanJSON(ext.Text); cleaned != "" {
				return &followupResult{text: cleaned, html: ext.HTML}, nil
			}
		}

		if !common.SleepCtx(ctx, s.pollInterval) {
			return nil, ctx.Err()
		}
	}

	ext, err := s.extractor.Extract(ctx, drv)
	if err != nil {
		return nil, err
	}
	return &followupResult{text: strings.TrimSpace(ext.Text), html: ext.HTML}, nil
}

// nudgeAnswer re-sends Enter into the prompt input. Occasionally the
// surface swallows the submission; a reminder Enter wakes it up. The
// short bound keeps a missing input from stalling the poll loop.
func (s *Service) nudgeAnswer(ctx context.Context, drv interfaces.PageDriver) {
	nudgeCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()

	for _, sel := range []string{s.inputPrimary, s.inputFallback} {
		if found, err := drv.Exists(nudgeCtx, sel); err != nil || !found {
			continue
		}
		if err := drv.SendKeys(nudgeCtx, sel, enterKey); err == nil {
			return
		}
	}
}
