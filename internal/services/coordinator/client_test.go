package coordinator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/quaesitor/internal/common"
	"github.com/ternarybob/quaesitor/internal/models"
)

// stubCoordinator records what a worker client sends it
type stubCoordinator struct {
	srv *httptest.Server

	mu         sync.Mutex
	increments int
	blocks     []models.BlockProxyRequest
}

func newStubCoordinator(t *testing.T) *stubCoordinator {
	t.Helper()

	c := &stubCoordinator{}
	c.srv = httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)

		c.mu.Lock()
		defer c.mu.Unlock()
		switch r.URL.Path {
		case "/increment-request":
			c.increments++
			_ = json.NewEncoder(rw).Encode(models.IncrementResult{Count: 3})
		case "/block-proxy":
			var req models.BlockProxyRequest
			_ = json.NewDecoder(r.Body).Decode(&req)
			c.blocks = append(c.blocks, req)
			_ = json.NewEncoder(rw).Encode(models.BlockResult{ProxyIndex: req.ProxyIndex, Rotated: true})
		default:
			rw.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(c.srv.Close)
	return c
}

func clientConfig(url string) *common.Config {
	cfg := common.NewDefaultConfig()
	cfg.Coordinator.URL = url
	cfg.Coordinator.NotifyTimeout = "500ms"
	return cfg
}

func TestClient_NotifyRequestPostsIncrement(t *testing.T) {
	coord := newStubCoordinator(t)
	client := NewClient(clientConfig(coord.srv.URL), common.GetLogger())

	client.NotifyRequest(context.Background())

	coord.mu.Lock()
	defer coord.mu.Unlock()
	assert.Equal(t, 1, coord.increments)
}

func TestClient_ReportBlockSendsSlotAndReason(t *testing.T) {
	coord := newStubCoordinator(t)
	client := NewClient(clientConfig(coord.srv.URL), common.GetLogger())

	client.ReportBlock(context.Background(), 2, "google error: proxy_blocked")

	coord.mu.Lock()
	defer coord.mu.Unlock()
	require.Len(t, coord.blocks, 1)
	assert.Equal(t, 2, coord.blocks[0].ProxyIndex)
	assert.Equal(t, "google error: proxy_blocked", coord.blocks[0].Reason)
}

func TestClient_SwallowsCoordinatorOutage(t *testing.T) {
	coord := newStubCoordinator(t)
	url := coord.srv.URL
	coord.srv.Close()

	client := NewClient(clientConfig(url), common.GetLogger())

	// Both calls are best effort and must return quietly with the
	// coordinator gone
	client.NotifyRequest(context.Background())
	client.ReportBlock(context.Background(), 0, "unreachable")
}
