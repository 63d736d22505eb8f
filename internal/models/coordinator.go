package models

// IncrementResult reports the outcome of one request-count increment.
// ProxyIndex is the new effective slot when Rotated is set, -1 otherwise.
type IncrementResult struct {
	Count      int64          `json:"count"`
	Threshold  int            `json:"threshold"`
	Rotated    bool           `json:"rotated"`
	ProxyIndex int            `json:"proxy_index"`
	Notified   []NotifyResult `json:"notified,omitempty"`
}

// BlockResult reports the outcome of a block-proxy call
type BlockResult struct {
	ProxyIndex      int            `json:"proxy_index"`
	CooldownSeconds int            `json:"cooldown_seconds"`
	Rotated         bool           `json:"rotated"` // Set when the blocked slot was the active one
	NewIndex        int            `json:"new_index"`
	Notified        []NotifyResult `json:"notified,omitempty"`
}

// RotateResult reports the outcome of a fleet proxy rotation
type RotateResult struct {
	PreviousIndex int            `json:"previous_index"`
	NewIndex      int            `json:"new_index"`
	Notified      []NotifyResult `json:"notified,omitempty"`
}

// NotifyResult records one worker's response to a rotation fan-out
type NotifyResult struct {
	Endpoint string `json:"endpoint"`
	OK       bool   `json:"ok"`
	Deferred bool   `json:"deferred,omitempty"`
	Error    string `json:"error,omitempty"`
}

// BlockedSlot is one entry of the proxy block registry
type BlockedSlot struct {
	Index  int    `json:"index"`
	Reason string `json:"reason,omitempty"`
}

// CurrentProxyInfo describes the proxy a worker should be using right
// now. ProxyIndex is the effective slot; SharedIndex is the raw
// monotonic counter it was derived from.
type CurrentProxyInfo struct {
	ProxyIndex    int    `json:"proxy_index"`
	ProxyURL      string `json:"proxy_url"`
	SharedIndex   int    `json:"shared_index"`
	Blocked       bool   `json:"blocked"`
	NextAvailable int    `json:"next_available"` // -1 when every slot is blocked
	RequestCount  int64  `json:"request_count"`
}

// CoordinatorStatus is the body of GET /status
type CoordinatorStatus struct {
	ProxyIndex      int            `json:"proxy_index"`
	ProxyCount      int            `json:"proxy_count"`
	RequestCount    int64          `json:"request_count"`
	Threshold       int            `json:"threshold"` // 0 disables count-based rotation
	RotationEnabled bool           `json:"rotation_enabled"`
	BlockedSlots    []BlockedSlot  `json:"blocked_slots"`
	AvailableSlots  []int          `json:"available_slots"`
	Workers         []string       `json:"workers"`
	LastNotify      []NotifyResult `json:"last_notify,omitempty"`
}

// BlockProxyRequest is the body of POST /block-proxy
type BlockProxyRequest struct {
	ProxyIndex int    `json:"proxy_idx"`
	Reason     string `json:"reason,omitempty"`
	Worker     string `json:"worker,omitempty"`
}

// RotateProxyRequest is the body of POST /rotate-proxy
type RotateProxyRequest struct {
	Reason string `json:"reason,omitempty"`
}
