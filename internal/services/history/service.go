// -----------------------------------------------------------------------
// Last Modified: Tuesday, 21st July 2026 4:05:12 pm
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

package history

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/quaesitor/internal/common"
	"github.com/ternarybob/quaesitor/internal/interfaces"
	"github.com/ternarybob/quaesitor/internal/models"
)

// Service persists the per-worker search audit trail. Answer HTML is
// rendered to markdown on the way in so stored records stay readable
// without a browser.
type Service struct {
	storage   interfaces.SearchStorage
	converter *md.Converter
	logger    arbor.ILogger
}

// NewService creates a new history service
func NewService(storage interfaces.SearchStorage, logger arbor.ILogger) interfaces.HistoryService {
	return &Service{
		storage:   storage,
		converter: md.NewConverter("", true, nil),
		logger:    logger,
	}
}

// Record persists the outcome of one search, filling in the id and
// timestamp when the caller left them empty.
func (s *Service) Record(ctx context.Context, record *models.SearchRecord, answerHTML string) error {
	if record == nil {
		return fmt.Errorf("search record is required")
	}

	if record.ID == "" {
		record.ID = common.NewSearchID()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	if answerHTML != "" {
		record.AnswerMarkdown = s.htmlToMarkdown(answerHTML)
	}

	if err := s.storage.StoreRecord(ctx, record); err != nil {
		return fmt.Errorf("failed to record search: %w", err)
	}

	s.logger.Debug().
		Str("record_id", record.ID).
		Str("status", record.Status).
		Int64("duration_ms", record.DurationMs).
		Msg("Search recorded")

	return nil
}

// Recent returns the latest records, newest first. limit <= 0 returns
// all records.
func (s *Service) Recent(ctx context.Context, limit int) ([]*models.SearchRecord, error) {
	records, err := s.storage.ListRecords(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list search records: %w", err)
	}
	return records, nil
}

// Count returns the number of stored records
func (s *Service) Count(ctx context.Context) (int, error) {
	count, err := s.storage.CountRecords(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to count search records: %w", err)
	}
	return count, nil
}

// htmlToMarkdown converts answer HTML to markdown, falling back to tag
// stripping when conversion fails or produces nothing.
func (s *Service) htmlToMarkdown(html string) string {
	converted, err := s.converter.ConvertString(html)
	if err != nil {
		s.logger.Warn().Err(err).Msg("HTML to markdown conversion failed, using fallback")
		return stripHTMLTags(html)
	}

	if strings.TrimSpace(converted) == "" {
		s.logger.Warn().
			Int("html_length", len(html)).
			Msg("HTML to markdown conversion produced empty output, applying fallback")
		return stripHTMLTags(html)
	}

	return converted
}

var (
	tagPattern   = regexp.MustCompile(`<[^>]*>`)
	spacePattern = regexp.MustCompile(`\s+`)
)

// stripHTMLTags removes basic HTML tags for fallback cases
func stripHTMLTags(htmlStr string) string {
	stripped := tagPattern.ReplaceAllString(htmlStr, "")
	cleaned := spacePattern.ReplaceAllString(stripped, " ")

	// Decode HTML entities (basic set)
	cleaned = strings.ReplaceAll(cleaned, "&amp;", "&")
	cleaned = strings.ReplaceAll(cleaned, "&lt;", "<")
	cleaned = strings.ReplaceAll(cleaned, "&gt;", ">")
	cleaned = strings.ReplaceAll(cleaned, "&quot;", "\"")
	cleaned = strings.ReplaceAll(cleaned, "&#39;", "'")
	cleaned = strings.ReplaceAll(cleaned, "&nbsp;", " ")

	return strings.TrimSpace(cleaned)
}
