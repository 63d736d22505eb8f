package search

import (
	"strings"

	"github.com/ternarybob/quaesitor/internal/common"
)

// Classifier sorts block symptoms in answer text into proxy-level blocks,
// which get reported to the coordinator, and content-level blocks, which
// are about the prompt and never justify burning a proxy slot.
type Classifier struct {
	blockPhrases   []string
	contentPhrases []string
}

// NewClassifier builds the phrase tables from configuration, lowercased
// for matching.
func NewClassifier(config *common.SearchConfig) *Classifier {
	lower := func(phrases []string) []string {
		out := make([]string, 0, len(phrases))
		for _, p := range phrases {
			out = append(out, strings.ToLower(p))
		}
		return out
	}
	return &Classifier{
		blockPhrases:   lower(config.BlockPhrases),
		contentPhrases: lower(config.ContentPhrases),
	}
}

// IsProxyBlock reports whether text carries a proxy-level block symptom
func (c *Classifier) IsProxyBlock(text string) bool {
	return containsAny(text, c.blockPhrases)
}

// IsContentBlock reports whether text carries a content-level refusal
func (c *Classifier) IsContentBlock(text string) bool {
	return containsAny(text, c.contentPhrases)
}

func containsAny(text string, phrases []string) bool {
	if text == "" {
		return false
	}
	lower := strings.ToLower(text)
	for _, phrase := range phrases {
		if phrase != "" && strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}
