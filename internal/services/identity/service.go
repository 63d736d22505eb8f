// -----------------------------------------------------------------------
// Last Modified: Tuesday, 14th July 2026 4:52:09 pm
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

package identity

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/quaesitor/internal/common"
	"github.com/ternarybob/quaesitor/internal/interfaces"
	"github.com/ternarybob/quaesitor/internal/models"
	"github.com/ternarybob/quaesitor/internal/services/proxy"
)

const (
	// launchAttempts is how many times a single profile gets to produce a
	// working session before rotation moves to the next profile
	launchAttempts = 2

	// warmupAttempts bounds the startup identity builds before the worker
	// gives up and rejects searches
	warmupAttempts = 3

	sessionProbeTimeout = 5 * time.Second
)

// Service implements the IdentityService interface. It owns the pairing
// of browser profile, proxy slot and live driver session, and serializes
// every state transition behind a single mutex. The search gate is a
// separate channel so busy-detection never waits on a rotation in flight.
type Service struct {
	factory  interfaces.DriverFactory
	selector *proxy.Selector
	events   interfaces.EventService
	logger   arbor.ILogger

	workerID      string
	profileDirs   []string
	startURL      string
	inputPrimary  string
	inputFallback string

	sessionPerSearch      bool
	maxSearches           int
	readyTimeout          time.Duration
	perSearchReadyTimeout time.Duration

	mu            sync.Mutex
	driver        interfaces.PageDriver
	state         models.IdentityState
	profileIdx    int
	proxySlot     int
	proxyShared   int
	searchCount   int
	rotationCount int
	lastRotation  *time.Time

	warmed atomic.Bool
	gate   chan struct{}

	pendingMu     sync.Mutex
	pendingReason string
}

// NewService creates the identity service. Profile names from config are
// resolved against the profile root unless absolute.
func NewService(
	config *common.Config,
	factory interfaces.DriverFactory,
	selector *proxy.Selector,
	eventService interfaces.EventService,
	logger arbor.ILogger,
) interfaces.IdentityService {
	profileDirs := make([]string, 0, len(config.Browser.Profiles))
	for _, name := range config.Browser.Profiles {
		dir := name
		if !filepath.IsAbs(dir) {
			dir = filepath.Join(config.Browser.ProfileRoot, name)
		}
		profileDirs = append(profileDirs, dir)
	}

	return &Service{
		factory:               factory,
		selector:              selector,
		events:                eventService,
		logger:                logger,
		workerID:              common.NewWorkerID(),
		profileDirs:           profileDirs,
		startURL:              config.Browser.StartURL,
		inputPrimary:          config.Search.Selectors.InputPrimary,
		inputFallback:         config.Search.Selectors.InputFallback,
		sessionPerSearch:      config.Search.SessionPerSearch,
		maxSearches:           config.Search.MaxSearchesPerSession,
		readyTimeout:          common.ParseDurationOr(config.Search.ReadyTimeout, 25*time.Second),
		perSearchReadyTimeout: common.ParseDurationOr(config.Search.PerSearchReadyTimeout, 8*time.Second),
		state:                 models.IdentityStateEmpty,
		profileIdx:            -1,
		proxySlot:             -1,
		proxyShared:           -1,
		gate:                  make(chan struct{}, 1),
	}
}

// Warm builds the first identity. Runs in the background at startup so
// the HTTP surface is up while the browser is still coming together.
func (s *Service) Warm(ctx context.Context) error {
	// Clear ephemeral leftovers from previous runs before the first launch
	for _, dir := range s.profileDirs {
		pruneSessionDirs(dir, sessionDirsKept, s.logger)
	}

	var lastErr error
	for attempt := 1; attempt <= warmupAttempts; attempt++ {
		s.logger.Info().Int("attempt", attempt).Msg("Warmup: building initial identity")
		if err := s.RotateIdentity(ctx, models.RotationReasonStartup); err != nil {
			lastErr = err
			s.logger.Warn().Err(err).Int("attempt", attempt).Msg("Warmup attempt failed")
			if ctx.Err() != nil {
				return ctx.Err()
			}
			continue
		}
		s.warmed.Store(true)
		s.publishEvent(interfaces.EventSessionWarmed, s.Snapshot())
		s.logger.Info().Msg("Warmup complete, worker accepting searches")
		return nil
	}

	s.logger.Error().Err(lastErr).Int("attempts", warmupAttempts).Msg("Warmup failed, worker will reject searches")
	return fmt.Errorf("warmup failed after %d attempts: %w", warmupAttempts, lastErr)
}

// BeginSearch acquires the single-search gate without blocking, applies
// any rotation deferred while the previous search ran, then enforces the
// pre-search rotation policy.
func (s *Service) BeginSearch(ctx context.Context) (func(), error) {
	if !s.warmed.Load() {
		return nil, interfaces.ErrNotReady
	}

	select {
	case s.gate <- struct{}{}:
	default:
		return nil, interfaces.ErrWorkerBusy
	}
	release := func() { <-s.gate }

	// A rotation that arrived mid-search lands here, before this search
	// touches the page. Failure is not fatal to the search itself.
	if reason := s.takePendingRotation(); reason != "" {
		s.logger.Info().Str("reason", reason).Msg("Applying deferred proxy rotation")
		if err := s.RotateProxyOnly(ctx, reason, false); err != nil {
			s.logger.Warn().Err(err).Msg("Deferred proxy rotation failed")
		}
	}

	if s.sessionPerSearch {
		if err := s.RotateIdentity(ctx, models.RotationReasonSessionPerSearch); err != nil {
			release()
			return nil, err
		}
	} else if err := s.ensureReady(ctx); err != nil {
		release()
		return nil, err
	}

	return release, nil
}

// ActiveSession returns the live driver, rebuilding the identity first if
// the liveness probe fails.
func (s *Service) ActiveSession(ctx context.Context) (interfaces.PageDriver, error) {
	if err := s.ensureReady(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.driver == nil {
		return nil, interfaces.ErrSessionInvalid
	}
	return s.driver, nil
}

// RecordSearch bumps the per-session counter and rotates proactively once
// the session reaches its search limit.
func (s *Service) RecordSearch(ctx context.Context) {
	s.mu.Lock()
	s.searchCount++
	count := s.searchCount
	s.mu.Unlock()

	if s.maxSearches > 0 && count >= s.maxSearches {
		s.logger.Info().
			Int("search_count", count).
			Int("limit", s.maxSearches).
			Msg("Session search limit reached, rotating proactively")
		if err := s.RotateIdentity(ctx, models.RotationReasonSessionLimit); err != nil {
			// The completed search already succeeded; a failed rotation
			// surfaces on the next request instead
			s.logger.Warn().Err(err).Msg("Proactive rotation failed")
		}
	}
}

// RotateIdentity discards the current session and walks the profile ring
// until one produces a verified session. Bounded by the profile count.
func (s *Service) RotateIdentity(ctx context.Context, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rotateIdentityLocked(ctx, reason)
}

func (s *Service) rotateIdentityLocked(ctx context.Context, reason string) error {
	if len(s.profileDirs) == 0 {
		return interfaces.ErrProfilesExhausted
	}

	s.publishEvent(interfaces.EventRotationStarted, models.RotationEventPayload{
		Reason:       reason,
		ProfileIndex: s.profileIdx,
		ProxyIndex:   s.proxySlot,
	})

	var lastErr error
	for depth := 0; depth < len(s.profileDirs); depth++ {
		s.closeDriverLocked(ctx)
		s.searchCount = 0
		s.profileIdx = (s.profileIdx + 1) % len(s.profileDirs)
		profileDir := s.profileDirs[s.profileIdx]

		cleanProfileCache(profileDir, s.logger)
		pruneSessionDirs(profileDir, sessionDirsKept, s.logger)

		s.logger.Info().
			Str("reason", reason).
			Int("profile_index", s.profileIdx).
			Msg("Rotating identity")

		if err := s.launchLocked(ctx, reason); err != nil {
			lastErr = err
			if errors.Is(err, interfaces.ErrAllProxiesBlocked) {
				// No profile helps when every proxy is blocked
				s.state = models.IdentityStateInvalid
				return err
			}
			if ctx.Err() != nil {
				s.state = models.IdentityStateInvalid
				return ctx.Err()
			}
			s.logger.Warn().Err(err).Int("profile_index", s.profileIdx).Msg("Profile failed to produce a session, trying next")
			continue
		}
		return nil
	}

	s.state = models.IdentityStateInvalid
	s.logger.Error().Int("profiles", len(s.profileDirs)).Msg("Every profile failed to produce a working session")
	return fmt.Errorf("%w: last error: %v", interfaces.ErrProfilesExhausted, lastErr)
}

// launchLocked selects a proxy for the current profile and tries to bring
// up a verified session on it. Caller holds s.mu.
func (s *Service) launchLocked(ctx context.Context, reason string) error {
	profileDir := s.profileDirs[s.profileIdx]

	selection, err := s.selector.Select(ctx, s.profileIdx)
	if err != nil {
		return err
	}

	readyTimeout := s.readyTimeout
	if s.sessionPerSearch {
		readyTimeout = s.perSearchReadyTimeout
	}

	var lastErr error
	for attempt := 0; attempt < launchAttempts; attempt++ {
		drv, err := s.factory.NewDriver(ctx, interfaces.DriverOptions{
			ProfileDir: profileDir,
			ProxyURL:   selection.URL,
		})
		if err != nil {
			lastErr = err
			s.logger.Warn().Err(err).Int("attempt", attempt+1).Msg("Browser launch failed")
			if isCorruptionError(err) {
				wipeProfile(profileDir, s.logger)
			}
			sleepBackoff(ctx, attempt)
			continue
		}

		if !s.ensureSurfaceReady(ctx, drv, readyTimeout) {
			lastErr = fmt.Errorf("search surface not ready on profile %d", s.profileIdx)
			s.logger.Warn().Int("attempt", attempt+1).Msg("Search surface not ready, closing session")
			_ = drv.Close(ctx)
			sleepBackoff(ctx, attempt)
			continue
		}

		s.driver = drv
		s.state = models.IdentityStateReady
		s.proxySlot = selection.Slot
		s.proxyShared = selection.Shared
		s.rotationCount++
		now := time.Now()
		s.lastRotation = &now

		s.logger.Info().
			Str("reason", reason).
			Int("profile_index", s.profileIdx).
			Int("proxy_slot", selection.Slot).
			Int("rotation_count", s.rotationCount).
			Msg("Identity ready")

		s.publishEvent(interfaces.EventRotationCompleted, models.RotationEventPayload{
			Reason:       reason,
			ProfileIndex: s.profileIdx,
			ProxyIndex:   selection.Slot,
		})
		return nil
	}
	return lastErr
}

// RotateProxyOnly advances to the fleet's shared proxy slot, keeping the
// browser profile.
func (s *Service) RotateProxyOnly(ctx context.Context, reason string, markBlocked bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rotateProxyLocked(ctx, reason, markBlocked)
}

func (s *Service) rotateProxyLocked(ctx context.Context, reason string, markBlocked bool) error {
	if s.selector.PoolSize() == 0 {
		return fmt.Errorf("no proxies configured for rotation")
	}

	if markBlocked && s.proxySlot >= 0 {
		s.selector.MarkBlocked(ctx, s.proxySlot, reason)
		s.publishEvent(interfaces.EventProxyBlocked, models.ProxyBlockedPayload{
			ProxyIndex: s.proxySlot,
			Reason:     reason,
		})
	}

	// Another worker may have advanced the shared index already. Adopting
	// that move instead of advancing again keeps one blocked proxy from
	// cascading the whole fleet through the pool.
	shared, advanced, err := s.selector.AdvanceFrom(ctx, s.proxyShared)
	if err != nil {
		return fmt.Errorf("advance shared proxy index: %w", err)
	}
	if advanced {
		s.logger.Info().Str("reason", reason).Int("shared_index", shared).Msg("Advanced shared proxy index")
	} else {
		s.logger.Info().Str("reason", reason).Int("shared_index", shared).Msg("Shared proxy index already advanced, adopting")
	}

	s.closeDriverLocked(ctx)
	s.searchCount = 0
	if s.profileIdx < 0 {
		s.profileIdx = 0
	}
	return s.launchLocked(ctx, reason)
}

// RequestProxyRotation rotates immediately when idle, otherwise defers
// until the in-flight search completes. Last deferred reason wins.
func (s *Service) RequestProxyRotation(ctx context.Context, reason string) (bool, error) {
	select {
	case s.gate <- struct{}{}:
	default:
		s.setPendingRotation(reason)
		s.mu.Lock()
		profileIdx, proxySlot := s.profileIdx, s.proxySlot
		s.mu.Unlock()
		s.logger.Info().Str("reason", reason).Msg("Search in flight, proxy rotation deferred")
		s.publishEvent(interfaces.EventRotationDeferred, models.RotationEventPayload{
			Reason:       reason,
			ProfileIndex: profileIdx,
			ProxyIndex:   proxySlot,
			Deferred:     true,
		})
		return true, nil
	}
	defer func() { <-s.gate }()

	if err := s.RotateProxyOnly(ctx, reason, false); err != nil {
		return false, err
	}
	return false, nil
}

// RefreshSession rebuilds the full identity outside the search path.
// Fails fast with ErrWorkerBusy while a search holds the gate. A
// successful refresh also marks the worker warmed, so the endpoint
// doubles as recovery after a failed warm-up.
func (s *Service) RefreshSession(ctx context.Context, reason string) error {
	select {
	case s.gate <- struct{}{}:
	default:
		return interfaces.ErrWorkerBusy
	}
	defer func() { <-s.gate }()

	if err := s.RotateIdentity(ctx, reason); err != nil {
		return err
	}
	s.warmed.Store(true)
	return nil
}

// MarkCurrentProxyBlocked writes the active slot into the block registry
// and reports it to the coordinator. No-op when running direct.
func (s *Service) MarkCurrentProxyBlocked(ctx context.Context, reason string) {
	s.mu.Lock()
	slot := s.proxySlot
	s.mu.Unlock()

	if slot < 0 {
		s.logger.Debug().Msg("No proxy slot in use, skipping block report")
		return
	}
	s.selector.MarkBlocked(ctx, slot, reason)
	s.publishEvent(interfaces.EventProxyBlocked, models.ProxyBlockedPayload{
		ProxyIndex: slot,
		Reason:     reason,
	})
}

// Snapshot returns the current identity state for status reporting.
// Never blocks on a rotation in flight beyond the field copy.
func (s *Service) Snapshot() models.IdentitySnapshot {
	s.mu.Lock()
	snap := models.IdentitySnapshot{
		WorkerID:      s.workerID,
		State:         s.state,
		Busy:          len(s.gate) > 0,
		ProfileIndex:  s.profileIdx,
		ProxyIndex:    s.proxySlot,
		SearchCount:   s.searchCount,
		RotationCount: s.rotationCount,
		LastRotation:  s.lastRotation,
	}
	s.mu.Unlock()

	s.pendingMu.Lock()
	snap.PendingRotation = s.pendingReason
	s.pendingMu.Unlock()
	return snap
}

// Close tears down the driver session
func (s *Service) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeDriverLocked(ctx)
	return nil
}

// ensureReady verifies the current session is alive, rebuilding the
// identity when the probe fails or no session exists.
func (s *Service) ensureReady(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.driver == nil {
		return s.rotateIdentityLocked(ctx, "no driver")
	}

	probeCtx, cancel := context.WithTimeout(ctx, sessionProbeTimeout)
	_, err := s.driver.CurrentURL(probeCtx)
	cancel()
	if err == nil {
		return nil
	}

	s.logger.Warn().Err(err).Msg("Session liveness probe failed, rebuilding identity")
	return s.rotateIdentityLocked(ctx, models.RotationReasonSessionDead)
}

func (s *Service) closeDriverLocked(ctx context.Context) {
	if s.driver == nil {
		return
	}
	if err := s.driver.Close(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("Browser close failed")
	}
	s.driver = nil
	s.state = models.IdentityStateEmpty
}

func (s *Service) setPendingRotation(reason string) {
	s.pendingMu.Lock()
	s.pendingReason = reason
	s.pendingMu.Unlock()
}

func (s *Service) takePendingRotation() string {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	reason := s.pendingReason
	s.pendingReason = ""
	return reason
}

func (s *Service) publishEvent(eventType interfaces.EventType, payload interface{}) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(context.Background(), interfaces.Event{Type: eventType, Payload: payload}); err != nil {
		s.logger.Debug().Err(err).Str("event", string(eventType)).Msg("Event publish failed")
	}
}

// isCorruptionError reports whether a launch failure carries one of the
// crash signatures that mean the profile itself is damaged
func isCorruptionError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "failed to start") ||
		strings.Contains(msg, "instance exited") ||
		strings.Contains(msg, "session not created")
}

func sleepBackoff(ctx context.Context, attempt int) {
	common.SleepCtx(ctx, 500*time.Millisecond+time.Duration(attempt)*500*time.Millisecond)
}
