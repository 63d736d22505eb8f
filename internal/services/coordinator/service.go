// -----------------------------------------------------------------------
// Last Modified: Tuesday, 21st July 2026 3:22:47 pm
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

package coordinator

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/quaesitor/internal/common"
	"github.com/ternarybob/quaesitor/internal/interfaces"
	"github.com/ternarybob/quaesitor/internal/models"
	"github.com/ternarybob/quaesitor/internal/services/proxy"
	"github.com/ternarybob/quaesitor/internal/store"
)

// Service implements the CoordinatorService interface. All rotation
// state lives in the shared store; rotMu serializes the read-then-
// advance decisions so two requests reporting the same block move the
// fleet cursor exactly once. Fan-outs run outside the lock.
type Service struct {
	store    interfaces.SharedStore
	pool     *proxy.Pool
	prober   proxy.Prober
	notifier *Notifier

	threshold int
	cooldown  time.Duration
	logger    arbor.ILogger

	rotMu sync.Mutex

	mu         sync.Mutex
	lastNotify []models.NotifyResult
}

// NewService creates the coordination service. prober may be nil when
// the health sweep is not configured.
func NewService(config *common.Config, sharedStore interfaces.SharedStore, pool *proxy.Pool, prober proxy.Prober, logger arbor.ILogger) interfaces.CoordinatorService {
	fanout := common.ParseDurationOr(config.Coordinator.FanoutTimeout, 10*time.Second)

	return &Service{
		store:     sharedStore,
		pool:      pool,
		prober:    prober,
		notifier:  NewNotifier(config.Coordinator.WorkerEndpoints, fanout, logger),
		threshold: config.Proxy.RotationThreshold,
		cooldown:  common.ParseDurationOr(config.Proxy.BlockCooldown, 300*time.Second),
		logger:    logger,
	}
}

// rotationEnabled reports whether count-based rotation can ever fire.
// A single-proxy pool has nowhere to rotate to, so the counter is not
// kept for it.
func (s *Service) rotationEnabled() bool {
	return s.threshold > 0 && s.pool.Count() > 1
}

// Bootstrap seeds the shared index and request counter when absent so
// /status and /current-proxy have values before the first rotation.
func (s *Service) Bootstrap(ctx context.Context) error {
	for _, key := range []string{store.KeyProxyIndex, store.KeyRequestCount} {
		exists, err := s.store.Exists(ctx, key)
		if err != nil {
			return fmt.Errorf("failed to check shared key %s: %w", key, err)
		}
		if exists {
			continue
		}
		if err := s.store.Set(ctx, key, "0"); err != nil {
			return fmt.Errorf("failed to seed shared key %s: %w", key, err)
		}
	}

	s.logger.Info().
		Int("proxies", s.pool.Count()).
		Int("workers", len(s.notifier.Endpoints())).
		Int("rotation_threshold", s.threshold).
		Bool("rotation_enabled", s.rotationEnabled()).
		Msg("Coordinator state initialized")
	return nil
}

// IncrementRequest bumps the fleet request counter. Hitting the
// rotation threshold exactly advances the shared index, resets the
// counter and fans the change out; concurrent callers each see a
// distinct counter value so only one of them can hit the threshold.
func (s *Service) IncrementRequest(ctx context.Context) (*models.IncrementResult, error) {
	res := &models.IncrementResult{Threshold: s.threshold, ProxyIndex: -1}

	if !s.rotationEnabled() {
		return res, nil
	}

	count, err := s.store.IncrementAndGet(ctx, store.KeyRequestCount)
	if err != nil {
		return nil, fmt.Errorf("failed to increment request count: %w", err)
	}
	res.Count = count

	if count != int64(s.threshold) {
		return res, nil
	}

	prevRaw, newRaw, err := s.advance(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.store.Set(ctx, store.KeyRequestCount, "0"); err != nil {
		return nil, fmt.Errorf("failed to reset request count: %w", err)
	}

	res.Count = 0
	res.Rotated = true
	res.ProxyIndex = s.pool.Wrap(newRaw)
	res.Notified = s.broadcast(ctx, "rotation threshold reached")

	s.logger.Info().
		Int("old_slot", s.pool.Wrap(prevRaw)).
		Int("new_slot", res.ProxyIndex).
		Int("threshold", s.threshold).
		Msg("Request threshold reached, fleet proxy rotated")
	return res, nil
}

// BlockProxy writes the slot into the block registry for the cooldown
// window. When the blocked slot is the fleet-effective one the shared
// index advances a single step; workers skip any further blocked slots
// themselves at selection time, so chained blocks never multiply the
// advance.
func (s *Service) BlockProxy(ctx context.Context, proxyIndex int, reason string) (*models.BlockResult, error) {
	if proxyIndex < 0 || proxyIndex >= s.pool.Count() {
		return nil, fmt.Errorf("%w: slot %d, pool size %d", interfaces.ErrSlotOutOfRange, proxyIndex, s.pool.Count())
	}
	if reason == "" {
		reason = "blocked"
	}

	if err := s.store.SetWithTTL(ctx, store.KeyProxyBlocked(proxyIndex), reason, s.cooldown); err != nil {
		return nil, fmt.Errorf("failed to write proxy block record: %w", err)
	}

	res := &models.BlockResult{
		ProxyIndex:      proxyIndex,
		CooldownSeconds: int(s.cooldown.Seconds()),
	}

	newRaw, rotated, err := s.advanceIfActive(ctx, proxyIndex)
	if err != nil {
		return nil, err
	}
	res.NewIndex = s.pool.Wrap(newRaw)

	if !rotated {
		s.logger.Info().
			Int("slot", proxyIndex).
			Str("reason", reason).
			Int("active_slot", res.NewIndex).
			Msg("Inactive proxy slot blocked, no rotation needed")
		return res, nil
	}

	res.Rotated = true
	res.Notified = s.broadcast(ctx, fmt.Sprintf("proxy %d blocked", proxyIndex))

	s.logger.Warn().
		Int("slot", proxyIndex).
		Str("reason", reason).
		Int("new_slot", res.NewIndex).
		Msg("Active proxy slot blocked, fleet rotated")
	return res, nil
}

// RotateProxy advances the shared index unconditionally and fans the
// change out to every registered worker.
func (s *Service) RotateProxy(ctx context.Context, reason string) (*models.RotateResult, error) {
	if s.pool.Count() == 0 {
		return nil, interfaces.ErrNoProxies
	}
	if reason == "" {
		reason = "manual rotation"
	}

	prevRaw, newRaw, err := s.advance(ctx)
	if err != nil {
		return nil, err
	}

	res := &models.RotateResult{
		PreviousIndex: s.pool.Wrap(prevRaw),
		NewIndex:      s.pool.Wrap(newRaw),
	}
	res.Notified = s.broadcast(ctx, reason)

	s.logger.Info().
		Int("old_slot", res.PreviousIndex).
		Int("new_slot", res.NewIndex).
		Str("reason", reason).
		Msg("Fleet proxy rotated")
	return res, nil
}

// CurrentProxy resolves the slot a worker should be using right now,
// including block state and the next unblocked slot from the effective
// position. NextAvailable equals the effective slot itself when that
// slot is clear.
func (s *Service) CurrentProxy(ctx context.Context) (*models.CurrentProxyInfo, error) {
	if s.pool.Count() == 0 {
		return nil, interfaces.ErrNoProxies
	}

	raw, err := s.currentIndex(ctx)
	if err != nil {
		return nil, err
	}

	effective := s.pool.Wrap(raw)
	proxyURL, err := s.pool.URL(effective)
	if err != nil {
		return nil, err
	}

	blocked, err := s.store.Exists(ctx, store.KeyProxyBlocked(effective))
	if err != nil {
		return nil, fmt.Errorf("failed to check block registry: %w", err)
	}

	next := -1
	for offset := 0; offset < s.pool.Count(); offset++ {
		cand := s.pool.Wrap(effective + offset)
		candBlocked, err := s.store.Exists(ctx, store.KeyProxyBlocked(cand))
		if err != nil {
			return nil, fmt.Errorf("failed to check block registry: %w", err)
		}
		if !candBlocked {
			next = cand
			break
		}
	}

	count, err := s.requestCount(ctx)
	if err != nil {
		return nil, err
	}

	return &models.CurrentProxyInfo{
		ProxyIndex:    effective,
		ProxyURL:      proxyURL,
		SharedIndex:   raw,
		Blocked:       blocked,
		NextAvailable: next,
		RequestCount:  count,
	}, nil
}

// Status projects the full coordination state: counters, the block
// registry split into blocked and available slots, registered workers
// and the outcome of the last fan-out.
func (s *Service) Status(ctx context.Context) (*models.CoordinatorStatus, error) {
	raw, err := s.currentIndex(ctx)
	if err != nil {
		return nil, err
	}
	count, err := s.requestCount(ctx)
	if err != nil {
		return nil, err
	}

	blocked := make([]models.BlockedSlot, 0)
	available := make([]int, 0, s.pool.Count())
	for i := 0; i < s.pool.Count(); i++ {
		exists, err := s.store.Exists(ctx, store.KeyProxyBlocked(i))
		if err != nil {
			return nil, fmt.Errorf("failed to check block registry: %w", err)
		}
		if !exists {
			available = append(available, i)
			continue
		}
		reason, err := s.store.Get(ctx, store.KeyProxyBlocked(i))
		if err != nil && !errors.Is(err, interfaces.ErrKeyNotFound) {
			return nil, fmt.Errorf("failed to read block reason: %w", err)
		}
		blocked = append(blocked, models.BlockedSlot{Index: i, Reason: reason})
	}

	s.mu.Lock()
	lastNotify := make([]models.NotifyResult, len(s.lastNotify))
	copy(lastNotify, s.lastNotify)
	s.mu.Unlock()

	return &models.CoordinatorStatus{
		ProxyIndex:      s.pool.Wrap(raw),
		ProxyCount:      s.pool.Count(),
		RequestCount:    count,
		Threshold:       s.threshold,
		RotationEnabled: s.rotationEnabled(),
		BlockedSlots:    blocked,
		AvailableSlots:  available,
		Workers:         s.notifier.Endpoints(),
		LastNotify:      lastNotify,
	}, nil
}

// Sweep probes every unblocked slot through the reachability prober and
// block-marks the ones that fail, so selection stops handing them out
// before a worker burns a search attempt on a dead exit.
func (s *Service) Sweep(ctx context.Context) (int, int, error) {
	if s.prober == nil {
		return 0, 0, fmt.Errorf("no reachability prober configured")
	}

	healthy, dead := 0, 0
	for i := 0; i < s.pool.Count(); i++ {
		alreadyBlocked, err := s.store.Exists(ctx, store.KeyProxyBlocked(i))
		if err != nil {
			return healthy, dead, fmt.Errorf("failed to check block registry: %w", err)
		}
		if alreadyBlocked {
			continue
		}

		proxyURL, err := s.pool.URL(i)
		if err != nil {
			return healthy, dead, err
		}

		if err := s.prober.Probe(ctx, proxyURL); err != nil {
			s.logger.Warn().
				Int("slot", i).
				Err(err).
				Msg("Proxy slot failed health probe, blocking")
			if err := s.store.SetWithTTL(ctx, store.KeyProxyBlocked(i), "health probe failed", s.cooldown); err != nil {
				return healthy, dead, fmt.Errorf("failed to write proxy block record: %w", err)
			}
			dead++
			continue
		}
		healthy++
	}

	s.logger.Info().
		Int("healthy", healthy).
		Int("newly_blocked", dead).
		Int("pool", s.pool.Count()).
		Msg("Proxy pool sweep complete")
	return healthy, dead, nil
}

// advance moves the shared index one step under the rotation lock and
// reports the previous and new raw values
func (s *Service) advance(ctx context.Context) (int, int, error) {
	s.rotMu.Lock()
	defer s.rotMu.Unlock()

	prevRaw, err := s.currentIndex(ctx)
	if err != nil {
		return 0, 0, err
	}
	newRaw, err := s.store.IncrementAndGet(ctx, store.KeyProxyIndex)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to advance shared proxy index: %w", err)
	}
	return prevRaw, int(newRaw), nil
}

// advanceIfActive moves the shared index only when slot is the current
// effective one. The read and the conditional advance sit under one
// lock, so concurrent reports of the same block rotate the fleet once:
// the second caller sees the already-moved cursor and leaves it alone.
func (s *Service) advanceIfActive(ctx context.Context, slot int) (int, bool, error) {
	s.rotMu.Lock()
	defer s.rotMu.Unlock()

	raw, err := s.currentIndex(ctx)
	if err != nil {
		return 0, false, err
	}
	if s.pool.Wrap(raw) != slot {
		return raw, false, nil
	}

	newRaw, err := s.store.IncrementAndGet(ctx, store.KeyProxyIndex)
	if err != nil {
		return 0, false, fmt.Errorf("failed to advance shared proxy index: %w", err)
	}
	return int(newRaw), true, nil
}

// broadcast runs the worker fan-out and records the per-worker outcome
// for the status projection.
func (s *Service) broadcast(ctx context.Context, reason string) []models.NotifyResult {
	results := s.notifier.Broadcast(ctx, reason)

	s.mu.Lock()
	s.lastNotify = results
	s.mu.Unlock()
	return results
}

// currentIndex reads the raw shared proxy index, seeding it to zero
// when the key has expired or was never written. The raw value grows
// monotonically; callers map it onto a slot with the pool.
func (s *Service) currentIndex(ctx context.Context) (int, error) {
	val, err := s.store.Get(ctx, store.KeyProxyIndex)
	if errors.Is(err, interfaces.ErrKeyNotFound) {
		if err := s.store.Set(ctx, store.KeyProxyIndex, "0"); err != nil {
			return 0, fmt.Errorf("failed to seed shared proxy index: %w", err)
		}
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read shared proxy index: %w", err)
	}

	idx, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("shared proxy index holds non-integer value %q: %w", val, err)
	}
	return idx, nil
}

// requestCount reads the fleet request counter; a missing key reads as
// zero without being written back.
func (s *Service) requestCount(ctx context.Context) (int64, error) {
	val, err := s.store.Get(ctx, store.KeyRequestCount)
	if errors.Is(err, interfaces.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read request count: %w", err)
	}

	count, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("request count holds non-integer value %q: %w", val, err)
	}
	return count, nil
}
