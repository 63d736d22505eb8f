// -----------------------------------------------------------------------
// Last Modified: Tuesday, 21st July 2026 3:22:47 pm
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

package proxy

import (
	"fmt"
	"net/url"
	"strings"
)

// Proxy binding modes. Independent mode follows the fleet-wide shared
// slot; by_profile pins each browser profile to a fixed slot.
const (
	BindingIndependent = "independent"
	BindingByProfile   = "by_profile"
)

// Pool is the ordered list of configured proxy endpoints. Slot indexes
// are positions in this list and are shared fleet-wide, so order must
// match across workers and the coordinator.
type Pool struct {
	endpoints []string
}

// NewPool normalizes and validates the configured endpoints. Bare
// host:port entries get an http:// scheme so they can feed both the
// probe transport and the browser proxy flag.
func NewPool(endpoints []string) (*Pool, error) {
	normalized := make([]string, 0, len(endpoints))
	for _, raw := range endpoints {
		entry := strings.TrimSpace(raw)
		if entry == "" {
			continue
		}
		if !strings.Contains(entry, "://") {
			entry = "http://" + entry
		}
		parsed, err := url.Parse(entry)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy endpoint %q: %w", raw, err)
		}
		if parsed.Host == "" {
			return nil, fmt.Errorf("invalid proxy endpoint %q: missing host", raw)
		}
		normalized = append(normalized, entry)
	}

	return &Pool{endpoints: normalized}, nil
}

// Count returns the number of configured slots
func (p *Pool) Count() int {
	return len(p.endpoints)
}

// URL returns the endpoint at slot index
func (p *Pool) URL(index int) (string, error) {
	if index < 0 || index >= len(p.endpoints) {
		return "", fmt.Errorf("proxy slot %d out of range (pool size %d)", index, len(p.endpoints))
	}
	return p.endpoints[index], nil
}

// Wrap maps any integer onto a valid slot index
func (p *Pool) Wrap(index int) int {
	if len(p.endpoints) == 0 {
		return 0
	}
	index %= len(p.endpoints)
	if index < 0 {
		index += len(p.endpoints)
	}
	return index
}
