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
	"os"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/quaesitor/internal/common"
	"github.com/ternarybob/quaesitor/internal/interfaces"
	"github.com/ternarybob/quaesitor/internal/models"
)

// Client is the worker-side CoordinatorClient. Every call is best
// effort with a short timeout: the coordinator being down must never
// fail a search, because the shared store still carries the state the
// worker needs.
type Client struct {
	baseURL string
	worker  string
	client  *http.Client
	logger  arbor.ILogger
}

// NewClient creates a coordinator client from the worker configuration
func NewClient(config *common.Config, logger arbor.ILogger) interfaces.CoordinatorClient {
	hostname, _ := os.Hostname()

	return &Client{
		baseURL: strings.TrimRight(config.Coordinator.URL, "/"),
		worker:  hostname,
		client: &http.Client{
			Timeout: common.ParseDurationOr(config.Coordinator.NotifyTimeout, 2*time.Second),
		},
		logger: logger,
	}
}

// NotifyRequest reports one completed search to the fleet counter
func (c *Client) NotifyRequest(ctx context.Context) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/increment-request", nil)
	if err != nil {
		c.logger.Debug().Err(err).Msg("Failed to build coordinator increment request")
		return
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug().Err(err).Msg("Coordinator increment unreachable")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Debug().
			Int("status", resp.StatusCode).
			Msg("Coordinator rejected increment request")
		return
	}

	var body models.IncrementResult
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return
	}
	if body.Rotated {
		c.logger.Info().
			Int("new_slot", body.ProxyIndex).
			Msg("Fleet rotation triggered by request threshold")
	}
}

// ReportBlock reports a blocked proxy slot so the coordinator can move
// the fleet past it
func (c *Client) ReportBlock(ctx context.Context, proxyIndex int, reason string) {
	payload, err := json.Marshal(models.BlockProxyRequest{
		ProxyIndex: proxyIndex,
		Reason:     reason,
		Worker:     c.worker,
	})
	if err != nil {
		c.logger.Debug().Err(err).Msg("Failed to encode block report")
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/block-proxy", bytes.NewReader(payload))
	if err != nil {
		c.logger.Debug().Err(err).Msg("Failed to build block report")
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Warn().
			Int("slot", proxyIndex).
			Err(err).
			Msg("Coordinator unreachable for block report")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Warn().
			Int("slot", proxyIndex).
			Int("status", resp.StatusCode).
			Msg("Coordinator rejected block report")
		return
	}

	c.logger.Info().
		Int("slot", proxyIndex).
		Str("reason", reason).
		Msg("Blocked proxy reported to coordinator")
}
