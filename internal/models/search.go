package models

import "encoding/json"

// Error codes returned by the worker HTTP surface. Callers branch on
// these rather than parsing error text.
const (
	ErrorCodeBusy            = "busy"
	ErrorCodeWarmingUp       = "warming_up"
	ErrorCodeBlockedByGoogle = "blocked_by_google"
	ErrorCodeTimeout         = "timeout"
	ErrorCodeEmptyResult     = "empty_result"
	ErrorCodeInternal        = "internal_error"
)

// SearchRequest is the body of POST /search
type SearchRequest struct {
	Prompt string `json:"prompt"`
}

// SearchResult carries the extracted answer in its three renditions.
// Attempts is audit metadata for the search record, not wire payload.
type SearchResult struct {
	JSON     json.RawMessage `json:"json"`     // Parsed answer payload
	HTML     string          `json:"html"`     // Outer HTML of the answer region
	RawText  string          `json:"raw_text"` // Visible text of the answer region
	Attempts int             `json:"-"`
}

// SearchResponse is the body returned by POST /search
type SearchResponse struct {
	OK         bool          `json:"ok"`
	Result     *SearchResult `json:"result,omitempty"`
	Error      string        `json:"error,omitempty"`
	Code       string        `json:"code,omitempty"`
	DurationMs int64         `json:"durationMs"`
}
