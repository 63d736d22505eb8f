// -----------------------------------------------------------------------
// Last Modified: Friday, 12th June 2026 10:41:18 am
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

package store

import "fmt"

// Key names shared by every worker and the coordinator. The store
// implementation applies the configured fleet prefix; these are the
// bare names.
const (
	// KeyProxyIndex holds the fleet-wide active proxy slot
	KeyProxyIndex = "shared_proxy_idx"

	// KeyRequestCount holds the fleet-wide request counter driving
	// count-based rotation
	KeyRequestCount = "shared_request_count"
)

// KeyProxyBlocked returns the block registry key for a proxy slot. The
// value is the block reason; expiry is the cooldown.
func KeyProxyBlocked(index int) string {
	return fmt.Sprintf("proxy_blocked:%d", index)
}
