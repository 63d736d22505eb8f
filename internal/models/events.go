package models

// SearchEventPayload is attached to search lifecycle events
type SearchEventPayload struct {
	SearchID   string `json:"search_id"`
	Phase      string `json:"phase,omitempty"` // submitting, polling, validating, followup
	Attempt    int    `json:"attempt,omitempty"`
	DurationMs int64  `json:"duration_ms,omitempty"`
	Error      string `json:"error,omitempty"`
}

// RotationEventPayload is attached to rotation lifecycle events
type RotationEventPayload struct {
	Reason       string `json:"reason"`
	ProfileIndex int    `json:"profile_index"`
	ProxyIndex   int    `json:"proxy_index"`
	Deferred     bool   `json:"deferred,omitempty"`
}

// ProxyBlockedPayload is attached to proxy block events
type ProxyBlockedPayload struct {
	ProxyIndex int    `json:"proxy_index"`
	Reason     string `json:"reason,omitempty"`
}
