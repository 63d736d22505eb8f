// -----------------------------------------------------------------------
// Last Modified: Tuesday, 21st July 2026 3:22:47 pm
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

package proxy

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/quaesitor/internal/interfaces"
	"github.com/ternarybob/quaesitor/internal/store"
)

// Settings carries the resolved proxy selection configuration
type Settings struct {
	BindingMode   string
	BlockCooldown time.Duration
}

// Selector resolves which proxy slot an identity should use. All
// fleet-visible state (shared slot, block registry) lives in the
// shared store; the selector itself holds no mutable state.
type Selector struct {
	pool     *Pool
	store    interfaces.SharedStore
	prober   Prober
	client   interfaces.CoordinatorClient
	settings Settings
	logger   arbor.ILogger
}

// NewSelector creates a proxy selector. client may be nil when the
// worker runs without a coordinator.
func NewSelector(pool *Pool, sharedStore interfaces.SharedStore, prober Prober, client interfaces.CoordinatorClient, settings Settings, logger arbor.ILogger) *Selector {
	return &Selector{
		pool:     pool,
		store:    sharedStore,
		prober:   prober,
		client:   client,
		settings: settings,
		logger:   logger,
	}
}

// PoolSize returns the number of configured proxy slots
func (s *Selector) PoolSize() int {
	return s.pool.Count()
}

// Slot maps a raw shared index onto a pool slot
func (s *Selector) Slot(sharedIndex int) int {
	return s.pool.Wrap(sharedIndex)
}

// Current returns the fleet's raw shared proxy index. The stored value
// grows monotonically across rotations; callers map it onto a slot
// with Slot. A missing key means the fleet has never rotated. Returns
// -1 when no proxies are configured.
func (s *Selector) Current(ctx context.Context) (int, error) {
	if s.pool.Count() == 0 {
		return -1, nil
	}

	val, err := s.store.Get(ctx, store.KeyProxyIndex)
	if errors.Is(err, interfaces.ErrKeyNotFound) {
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

// Selection is the outcome of a proxy pick for one browser session
type Selection struct {
	Slot   int    // effective pool slot in use, -1 when direct
	URL    string // proxy endpoint handed to the browser, empty when direct
	Shared int    // raw shared index read during selection, -1 when not tracked
}

// Select resolves the effective proxy for a profile. The base slot
// comes from the binding mode; blocked slots are skipped forward with
// wraparound and every candidate must pass a live reachability probe
// before being handed to a browser session. Returns a direct Selection
// when no proxies are configured.
func (s *Selector) Select(ctx context.Context, profileIndex int) (Selection, error) {
	direct := Selection{Slot: -1, Shared: -1}
	if s.pool.Count() == 0 {
		return direct, nil
	}

	sel := Selection{Shared: -1}
	var base int
	if s.settings.BindingMode == BindingByProfile {
		base = s.pool.Wrap(profileIndex)
	} else {
		cur, err := s.Current(ctx)
		if err != nil {
			return direct, err
		}
		sel.Shared = cur
		base = s.pool.Wrap(cur)
	}

	for attempt := 0; attempt < s.pool.Count(); attempt++ {
		cand := s.pool.Wrap(base + attempt)

		blocked, err := s.store.Exists(ctx, store.KeyProxyBlocked(cand))
		if err != nil {
			return direct, fmt.Errorf("failed to check block registry: %w", err)
		}
		if blocked {
			s.logger.Debug().Int("slot", cand).Msg("Skipping blocked proxy slot")
			continue
		}

		candURL, err := s.pool.URL(cand)
		if err != nil {
			return direct, err
		}

		if err := s.prober.Probe(ctx, candURL); err != nil {
			s.logger.Warn().
				Int("slot", cand).
				Err(err).
				Msg("Proxy candidate failed reachability probe, marking blocked")
			s.MarkBlocked(ctx, cand, "unreachable")
			continue
		}

		sel.Slot = cand
		sel.URL = candURL
		return sel, nil
	}

	return direct, interfaces.ErrAllProxiesBlocked
}

// AdvanceFrom advances the shared index past lastKnown. If another
// worker already moved the fleet the current index is adopted without
// a second advance, so one block event never cascades into multiple
// rotations. Reports whether this call performed the advance.
func (s *Selector) AdvanceFrom(ctx context.Context, lastKnown int) (int, bool, error) {
	if s.pool.Count() == 0 {
		return -1, false, nil
	}

	cur, err := s.Current(ctx)
	if err != nil {
		return 0, false, err
	}
	if cur != lastKnown {
		return cur, false, nil
	}

	next, err := s.store.IncrementAndGet(ctx, store.KeyProxyIndex)
	if err != nil {
		return 0, false, fmt.Errorf("failed to advance shared proxy index: %w", err)
	}
	return int(next), true, nil
}

// MarkBlocked writes the slot into the block registry with the
// configured cooldown and reports it to the coordinator. Best effort:
// a store failure is logged, not returned, because selection can still
// proceed past the slot.
func (s *Selector) MarkBlocked(ctx context.Context, index int, reason string) {
	if err := s.store.SetWithTTL(ctx, store.KeyProxyBlocked(index), reason, s.settings.BlockCooldown); err != nil {
		s.logger.Warn().Int("slot", index).Err(err).Msg("Failed to write proxy block record")
	}
	if s.client != nil {
		s.client.ReportBlock(ctx, index, reason)
	}
}
