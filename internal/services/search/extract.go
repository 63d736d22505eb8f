package search

import (
	"context"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/ternarybob/quaesitor/internal/interfaces"
)

var whitespaceRe = regexp.MustCompile(`[ \t]+`)

// Extraction is one snapshot of the answer region
type Extraction struct {
	Text string
	HTML string
}

// Extractor reads the answer region off the live page. The primary
// selector is the dedicated answer container; the fallback covers layouts
// where the container is absent but result blocks are present.
type Extractor struct {
	answerSel   string
	fallbackSel string
}

// NewExtractor creates an extractor for the given answer selectors
func NewExtractor(answerSel, fallbackSel string) *Extractor {
	return &Extractor{answerSel: answerSel, fallbackSel: fallbackSel}
}

// Extract returns the current text and HTML of the answer region. An
// absent region yields an empty extraction, not an error; errors mean the
// page itself could not be read.
func (e *Extractor) Extract(ctx context.Context, drv interfaces.PageDriver) (Extraction, error) {
	sel := e.answerSel

	html, err := drv.HTML(ctx, sel)
	if err != nil {
		return Extraction{}, err
	}
	if strings.TrimSpace(html) == "" && e.fallbackSel != "" {
		sel = e.fallbackSel
		html, err = drv.HTML(ctx, sel)
		if err != nil {
			return Extraction{}, err
		}
	}
	if strings.TrimSpace(html) == "" {
		return Extraction{}, nil
	}

	text, err := drv.Text(ctx, sel)
	if err != nil {
		return Extraction{}, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		// Markup present but no rendered text, e.g. a hidden container
		// mid-transition. Derive text from the markup instead.
		text = textFromHTML(html)
	}

	return Extraction{Text: text, HTML: html}, nil
}

// textFromHTML flattens answer markup to its text content, dropping
// non-content elements.
func textFromHTML(fragment string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return ""
	}
	doc.Find("script, style, noscript, template").Remove()

	var parts []string
	for _, line := range strings.Split(doc.Text(), "\n") {
		line = strings.TrimSpace(whitespaceRe.ReplaceAllString(line, " "))
		if line != "" {
			parts = append(parts, line)
		}
	}
	return strings.Join(parts, "\n")
}
