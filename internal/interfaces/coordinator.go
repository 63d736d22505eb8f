// -----------------------------------------------------------------------
// Last Modified: Tuesday, 21st July 2026 3:22:47 pm
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

package interfaces

import (
	"context"
	"errors"

	"github.com/ternarybob/quaesitor/internal/models"
)

// ErrNoProxies is returned when an operation needs a proxy pool but none
// is configured
var ErrNoProxies = errors.New("no proxy endpoints configured")

// ErrSlotOutOfRange is returned when a block request names a slot outside
// the configured pool
var ErrSlotOutOfRange = errors.New("proxy slot out of range")

// CoordinatorClient is the worker-side view of the coordination service.
// All calls are best effort: workers never fail a search because the
// coordinator was unreachable.
type CoordinatorClient interface {
	// NotifyRequest reports one completed search request. Fire and
	// forget; errors are logged, never returned to the search path.
	NotifyRequest(ctx context.Context)

	// ReportBlock reports a blocked proxy slot so the fleet can rotate
	// past it
	ReportBlock(ctx context.Context, proxyIndex int, reason string)
}

// CoordinatorService holds the fleet-wide rotation logic. Stateless
// across restarts: every decision reads and writes the shared store.
type CoordinatorService interface {
	// Bootstrap seeds missing shared keys so the read-only projections
	// have values before the first rotation
	Bootstrap(ctx context.Context) error

	// IncrementRequest bumps the shared request counter and rotates the
	// fleet proxy when the counter reaches the rotation threshold.
	// Reports the new count and whether a rotation fired.
	IncrementRequest(ctx context.Context) (*models.IncrementResult, error)

	// BlockProxy writes the slot into the block registry with the
	// configured cooldown and rotates the fleet if the blocked slot is
	// the active one
	BlockProxy(ctx context.Context, proxyIndex int, reason string) (*models.BlockResult, error)

	// RotateProxy advances the shared proxy index unconditionally and
	// fans the change out to all workers
	RotateProxy(ctx context.Context, reason string) (*models.RotateResult, error)

	// CurrentProxy resolves the active slot for a worker: effective
	// index, proxy URL, block state and the next unblocked slot
	CurrentProxy(ctx context.Context) (*models.CurrentProxyInfo, error)

	// Status returns counters, the active slot and the block registry
	Status(ctx context.Context) (*models.CoordinatorStatus, error)

	// Sweep probes every unblocked proxy slot and block-marks the dead
	// ones. Reports how many slots answered and how many were blocked.
	Sweep(ctx context.Context) (healthy int, blocked int, err error)
}
