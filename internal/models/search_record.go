package models

import "time"

// SearchRecord is the persisted audit entry for one search request.
// Stored locally per worker; the answer HTML is kept as markdown so
// records stay readable without a browser.
type SearchRecord struct {
	ID             string    `json:"id" badgerhold:"key"` // search_{uuid}
	Prompt         string    `json:"prompt"`
	Status         string    `json:"status"` // "ok" or an error code
	Error          string    `json:"error,omitempty"`
	AnswerJSON     string    `json:"answer_json,omitempty"`
	AnswerMarkdown string    `json:"answer_markdown,omitempty"`
	ProfileIndex   int       `json:"profile_index"`
	ProxyIndex     int       `json:"proxy_index"`
	Attempts       int       `json:"attempts"`
	DurationMs     int64     `json:"duration_ms"`
	CreatedAt      time.Time `json:"created_at" badgerhold:"index"`
}

// RecordStatusOK marks a search that produced a validated answer
const RecordStatusOK = "ok"
