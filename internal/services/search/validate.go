// -----------------------------------------------------------------------
// Last Modified: Tuesday, 14th July 2026 5:08:51 pm
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

package search

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/ternarybob/quaesitor/internal/common"
)

var (
	fencedBlockRe = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")

	// "10 sites", "2 sites" and the like: the loading placeholder the
	// answer region shows while sources are still being gathered
	sourceCountRe = regexp.MustCompile(`^\d+\s+sites?$`)
)

// ExtractCleanJSON pulls a parseable JSON document out of answer text that
// may be fenced in markdown or surrounded by prose. Returns "" when the
// text contains no valid document.
func ExtractCleanJSON(text string) string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return ""
	}

	if isJSONDocument(trimmed) {
		return trimmed
	}

	if m := fencedBlockRe.FindStringSubmatch(trimmed); m != nil {
		if candidate := strings.TrimSpace(m[1]); isJSONDocument(candidate) {
			return candidate
		}
	}

	// Widest object span, then widest array span
	if candidate := spanBetween(trimmed, '{', '}'); candidate != "" && json.Valid([]byte(candidate)) {
		return candidate
	}
	if candidate := spanBetween(trimmed, '[', ']'); candidate != "" && json.Valid([]byte(candidate)) {
		return candidate
	}
	return ""
}

func isJSONDocument(s string) bool {
	if !strings.HasPrefix(s, "{") && !strings.HasPrefix(s, "[") {
		return false
	}
	return json.Valid([]byte(s))
}

func spanBetween(s string, open, close byte) string {
	start := strings.IndexByte(s, open)
	end := strings.LastIndexByte(s, close)
	if start < 0 || end <= start {
		return ""
	}
	return strings.TrimSpace(s[start : end+1])
}

// Validator decides whether answer text is a complete structured response
// rather than one of the intermediate or refusal states the answer region
// renders while generating.
type Validator struct {
	minLength    int
	expectedKeys []string
	refusals     []string
}

// NewValidator builds a validator from the search configuration. Refusal
// phrases are matched lowercase.
func NewValidator(config *common.SearchConfig) *Validator {
	refusals := make([]string, 0, len(config.RefusalPhrases))
	for _, phrase := range config.RefusalPhrases {
		refusals = append(refusals, strings.ToLower(phrase))
	}
	return &Validator{
		minLength:    config.MinAnswerLength,
		expectedKeys: config.ExpectedJSONKeys,
		refusals:     refusals,
	}
}

// IsValidAnswer reports whether text is a complete JSON answer. Prose,
// placeholders, refusals, truncated documents and objects missing every
// expected key are all rejected.
func (v *Validator) IsValidAnswer(text string) bool {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return false
	}
	lower := strings.ToLower(trimmed)

	if sourceCountRe.MatchString(lower) {
		return false
	}
	// Bare "json" echoes of the prompt while the real answer is pending
	if lower == "json" || lower == "{content: }" || (strings.HasPrefix(lower, "json") && len(lower) < 10) {
		return false
	}
	for _, phrase := range v.refusals {
		if strings.Contains(lower, phrase) {
			return false
		}
	}
	if v.minLength > 0 && len(trimmed) < v.minLength {
		return false
	}

	// Only structured answers count; prose never validates
	if !strings.HasPrefix(trimmed, "{") && !strings.HasPrefix(trimmed, "[") {
		return false
	}
	if strings.HasPrefix(trimmed, "{") && !strings.HasSuffix(trimmed, "}") {
		return false
	}
	if strings.HasPrefix(trimmed, "[") && !strings.HasSuffix(trimmed, "]") {
		return false
	}

	var parsed interface{}
	if err := json.Unmarshal([]byte(trimmed), &parsed); err != nil {
		return false
	}
	if obj, ok := parsed.(map[string]interface{}); ok && len(v.expectedKeys) > 0 {
		for _, key := range v.expectedKeys {
			if _, present := obj[key]; present {
				return true
			}
		}
		return false
	}
	return true
}
