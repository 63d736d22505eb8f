package models

import "time"

// IdentityState represents the lifecycle state of a worker identity
type IdentityState string

const (
	// IdentityStateEmpty means no session exists yet
	IdentityStateEmpty IdentityState = "empty"
	// IdentityStateReady means a verified session is live
	IdentityStateReady IdentityState = "ready"
	// IdentityStateInvalid means the session died and must be rebuilt
	IdentityStateInvalid IdentityState = "invalid"
)

// Rotation reasons recorded on rotation events and status output
const (
	RotationReasonStartup          = "startup"
	RotationReasonSessionDead      = "session_dead"
	RotationReasonSessionLimit     = "session_limit"
	RotationReasonSessionPerSearch = "session_per_search"
	RotationReasonProxyBlocked     = "proxy_blocked"
	RotationReasonCoordinator      = "coordinator_rotate"
	RotationReasonThreshold        = "request_threshold"
	RotationReasonManual           = "manual"
)

// IdentitySnapshot is a point-in-time view of a worker identity for
// status and health reporting
type IdentitySnapshot struct {
	WorkerID        string        `json:"worker_id"`
	State           IdentityState `json:"state"`
	Busy            bool          `json:"busy"` // A search currently holds the gate
	ProfileIndex    int           `json:"profile_index"`
	ProxyIndex      int           `json:"proxy_index"`
	SearchCount     int           `json:"search_count"`               // Searches on the current session
	RotationCount   int           `json:"rotation_count"`             // Sessions built since startup
	PendingRotation string        `json:"pending_rotation,omitempty"` // Deferred rotation reason, if any
	LastRotation    *time.Time    `json:"last_rotation,omitempty"`
}
