// -----------------------------------------------------------------------
// Last Modified: Tuesday, 21st July 2026 3:22:47 pm
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

package coordinator

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/quaesitor/internal/models"
)

// Notifier fans rotation announcements out to the registered worker
// endpoints. One POST per worker, concurrent, bounded by the fan-out
// timeout, never retried: workers that miss the announcement
// self-correct against the shared index on their next selection.
type Notifier struct {
	endpoints []string
	client    *http.Client
	logger    arbor.ILogger
}

// NewNotifier creates a notifier for the given worker base URLs
func NewNotifier(endpoints []string, timeout time.Duration, logger arbor.ILogger) *Notifier {
	cleaned := make([]string, 0, len(endpoints))
	for _, e := range endpoints {
		e = strings.TrimRight(strings.TrimSpace(e), "/")
		if e != "" {
			cleaned = append(cleaned, e)
		}
	}

	return &Notifier{
		endpoints: cleaned,
		client:    &http.Client{Timeout: timeout},
		logger:    logger,
	}
}

// Endpoints returns the registered worker base URLs
func (n *Notifier) Endpoints() []string {
	return n.endpoints
}

// Broadcast POSTs the rotation to every worker and reports the
// per-worker outcome in endpoint order
func (n *Notifier) Broadcast(ctx context.Context, reason string) []models.NotifyResult {
	if len(n.endpoints) == 0 {
		n.logger.Debug().Msg("No worker endpoints registered for fan-out")
		return nil
	}

	results := make([]models.NotifyResult, len(n.endpoints))

	var wg sync.WaitGroup
	for i, endpoint := range n.endpoints {
		wg.Add(1)
		go func(i int, endpoint string) {
			defer wg.Done()
			results[i] = n.notifyOne(ctx, endpoint, reason)
		}(i, endpoint)
	}
	wg.Wait()

	success := 0
	for _, r := range results {
		if r.OK {
			success++
		}
	}
	n.logger.Info().
		Str("reason", reason).
		Int("workers", len(n.endpoints)).
		Int("success", success).
		Msg("Rotation fan-out complete")

	return results
}

func (n *Notifier) notifyOne(ctx context.Context, endpoint string, reason string) models.NotifyResult {
	result := models.NotifyResult{Endpoint: endpoint}

	payload, err := json.Marshal(models.RotateProxyRequest{Reason: reason})
	if err != nil {
		result.Error = err.Error()
		return result
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint+"/rotate-proxy", bytes.NewReader(payload))
	if err != nil {
		result.Error = err.Error()
		return result
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		n.logger.Warn().Str("worker", endpoint).Err(err).Msg("Worker rotation notify failed")
		result.Error = err.Error()
		return result
	}
	defer resp.Body.Close()

	var body struct {
		Deferred bool `json:"deferred"`
	}
	// Body decode is best effort; the status code alone decides success
	_ = json.NewDecoder(resp.Body).Decode(&body)

	if resp.StatusCode != http.StatusOK {
		n.logger.Warn().
			Str("worker", endpoint).
			Int("status", resp.StatusCode).
			Msg("Worker rejected rotation notify")
		result.Error = resp.Status
		return result
	}

	result.OK = true
	result.Deferred = body.Deferred
	return result
}
