// -----------------------------------------------------------------------
// Last Modified: Friday, 12th June 2026 10:41:18 am
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

package interfaces

import (
	"context"
	"errors"

	"github.com/ternarybob/quaesitor/internal/models"
)

var (
	// ErrWorkerBusy is returned when a search is already in flight
	ErrWorkerBusy = errors.New("worker busy")

	// ErrNotReady is returned while the identity is still warming up
	ErrNotReady = errors.New("identity not ready")

	// ErrProfilesExhausted is returned when every configured profile has
	// been tried and none produced a working session
	ErrProfilesExhausted = errors.New("all browser profiles exhausted")

	// ErrAllProxiesBlocked is returned by proxy selection when every
	// configured proxy sits in the block registry
	ErrAllProxiesBlocked = errors.New("all proxies blocked")
)

// IdentityService owns a worker's browsing identity: the pairing of a
// browser profile, a proxy slot and a live driver session. All state
// transitions are serialized internally; callers never hold locks.
type IdentityService interface {
	// Warm brings an empty identity to ready. Called once at startup in
	// the background so the HTTP surface can come up immediately.
	Warm(ctx context.Context) error

	// BeginSearch acquires the single-search gate, applies any rotation
	// deferred while the previous search ran, and enforces the pre-search
	// rotation policy. Returns ErrWorkerBusy if a search is in flight and
	// ErrNotReady during warm-up. The release func must be called when
	// the search finishes.
	BeginSearch(ctx context.Context) (release func(), err error)

	// ActiveSession returns the live driver, probing the session first
	// and rebuilding the identity if the probe fails
	ActiveSession(ctx context.Context) (PageDriver, error)

	// RecordSearch bumps the per-session search counter
	RecordSearch(ctx context.Context)

	// RotateIdentity discards the current identity and builds a fresh one
	// on the next profile. Bounded by the number of configured profiles;
	// returns ErrProfilesExhausted when none can produce a session.
	RotateIdentity(ctx context.Context, reason string) error

	// RotateProxyOnly advances this worker to the fleet's shared proxy
	// slot, keeping the browser profile. When markBlocked is set the
	// current slot is written to the block registry first.
	RotateProxyOnly(ctx context.Context, reason string, markBlocked bool) error

	// RequestProxyRotation rotates immediately when the worker is idle,
	// otherwise defers the rotation until the in-flight search completes.
	// Reports whether the rotation was deferred.
	RequestProxyRotation(ctx context.Context, reason string) (deferred bool, err error)

	// RefreshSession rebuilds the full identity outside the search path.
	// Returns ErrWorkerBusy while a search holds the gate; a successful
	// refresh marks the worker warmed.
	RefreshSession(ctx context.Context, reason string) error

	// MarkCurrentProxyBlocked writes the active proxy slot into the block
	// registry and reports it to the coordinator. No-op without a pool.
	MarkCurrentProxyBlocked(ctx context.Context, reason string)

	// Snapshot returns the current identity state for status reporting
	Snapshot() models.IdentitySnapshot

	// Close tears down the driver session and releases resources
	Close(ctx context.Context) error
}
