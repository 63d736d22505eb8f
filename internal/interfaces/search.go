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
	// ErrAnswerTimeout is returned when the answer region never produced
	// text within the answer window
	ErrAnswerTimeout = errors.New("timeout waiting for answer")

	// ErrEmptyResult is returned when every attempt produced text that
	// failed structural validation
	ErrEmptyResult = errors.New("no valid result produced")

	// ErrBlockedByTarget is returned when the final answer is a block
	// response rather than content
	ErrBlockedByTarget = errors.New("blocked by search target")
)

// SearchService drives a prompt through the worker's browsing identity
// and returns the extracted answer
type SearchService interface {
	// Run executes the full search protocol: fresh page, prompt
	// submission, answer polling, validation and follow-up handling.
	// Retries internally, rotating the identity between attempts when
	// the target blocks; the returned error is terminal for this
	// request. With ErrBlockedByTarget and ErrEmptyResult the result is
	// still returned so callers can attach the raw renditions to their
	// error response.
	Run(ctx context.Context, prompt string) (*models.SearchResult, error)
}
