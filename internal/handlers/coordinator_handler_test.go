package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ternarybob/quaesitor/internal/interfaces"
	"github.com/ternarybob/quaesitor/internal/models"
)

// mockCoordinatorService implements interfaces.CoordinatorService for testing
type mockCoordinatorService struct {
	incrementFunc func(ctx context.Context) (*models.IncrementResult, error)
	blockFunc     func(ctx context.Context, proxyIndex int, reason string) (*models.BlockResult, error)
	rotateFunc    func(ctx context.Context, reason string) (*models.RotateResult, error)
	currentFunc   func(ctx context.Context) (*models.CurrentProxyInfo, error)
	statusFunc    func(ctx context.Context) (*models.CoordinatorStatus, error)
}

func (m *mockCoordinatorService) Bootstrap(ctx context.Context) error { return nil }

func (m *mockCoordinatorService) IncrementRequest(ctx context.Context) (*models.IncrementResult, error) {
	if m.incrementFunc != nil {
		return m.incrementFunc(ctx)
	}
	return &models.IncrementResult{Count: 1, ProxyIndex: -1}, nil
}

func (m *mockCoordinatorService) BlockProxy(ctx context.Context, proxyIndex int, reason string) (*models.BlockResult, error) {
	if m.blockFunc != nil {
		return m.blockFunc(ctx, proxyIndex, reason)
	}
	return &models.BlockResult{ProxyIndex: proxyIndex}, nil
}

func (m *mockCoordinatorService) RotateProxy(ctx context.Context, reason string) (*models.RotateResult, error) {
	if m.rotateFunc != nil {
		return m.rotateFunc(ctx, reason)
	}
	return &models.RotateResult{PreviousIndex: 0, NewIndex: 1}, nil
}

func (m *mockCoordinatorService) CurrentProxy(ctx context.Context) (*models.CurrentProxyInfo, error) {
	if m.currentFunc != nil {
		return m.currentFunc(ctx)
	}
	return &models.CurrentProxyInfo{ProxyIndex: 0}, nil
}

func (m *mockCoordinatorService) Status(ctx context.Context) (*models.CoordinatorStatus, error) {
	if m.statusFunc != nil {
		return m.statusFunc(ctx)
	}
	return &models.CoordinatorStatus{ProxyCount: 3}, nil
}

func (m *mockCoordinatorService) Sweep(ctx context.Context) (int, int, error) { return 0, 0, nil }

func TestIncrementRequestHandler_ReturnsResult(t *testing.T) {
	service := &mockCoordinatorService{
		incrementFunc: func(ctx context.Context) (*models.IncrementResult, error) {
			return &models.IncrementResult{Count: 50, Threshold: 50, Rotated: true, ProxyIndex: 2}, nil
		},
	}
	handler := NewCoordinatorHandler(service, testLogger())

	rec := postJSON(handler.IncrementRequestHandler, "/increment-request", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}
	var result models.IncrementResult
	if err := json.NewDecoder(rec.Body).Decode(&result); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if !result.Rotated || result.ProxyIndex != 2 {
		t.Errorf("Expected rotation to slot 2, got %+v", result)
	}
}

func TestBlockProxyHandler_OutOfRange(t *testing.T) {
	service := &mockCoordinatorService{
		blockFunc: func(ctx context.Context, proxyIndex int, reason string) (*models.BlockResult, error) {
			return nil, interfaces.ErrSlotOutOfRange
		},
	}
	handler := NewCoordinatorHandler(service, testLogger())

	rec := postJSON(handler.BlockProxyHandler, "/block-proxy", `{"proxy_idx":99,"reason":"blocked"}`)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", rec.Code)
	}
}

func TestBlockProxyHandler_PassesSlotAndReason(t *testing.T) {
	var gotIndex int
	var gotReason string
	service := &mockCoordinatorService{
		blockFunc: func(ctx context.Context, proxyIndex int, reason string) (*models.BlockResult, error) {
			gotIndex, gotReason = proxyIndex, reason
			return &models.BlockResult{ProxyIndex: proxyIndex, CooldownSeconds: 300}, nil
		},
	}
	handler := NewCoordinatorHandler(service, testLogger())

	rec := postJSON(handler.BlockProxyHandler, "/block-proxy", `{"proxy_idx":1,"reason":"blocked_by_google","worker":"worker-a"}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}
	if gotIndex != 1 || gotReason != "blocked_by_google" {
		t.Errorf("Expected slot 1 / blocked_by_google, got %d / %q", gotIndex, gotReason)
	}
}

func TestBlockProxyHandler_RequiresBody(t *testing.T) {
	handler := NewCoordinatorHandler(&mockCoordinatorService{}, testLogger())

	rec := postJSON(handler.BlockProxyHandler, "/block-proxy", "")

	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 for missing body, got %d", rec.Code)
	}
}

func TestCoordinatorRotateProxyHandler_NoProxies(t *testing.T) {
	service := &mockCoordinatorService{
		rotateFunc: func(ctx context.Context, reason string) (*models.RotateResult, error) {
			return nil, interfaces.ErrNoProxies
		},
	}
	handler := NewCoordinatorHandler(service, testLogger())

	rec := postJSON(handler.RotateProxyHandler, "/rotate-proxy", `{"reason":"manual"}`)

	if rec.Code != http.StatusConflict {
		t.Errorf("Expected status 409, got %d", rec.Code)
	}
}

func TestCoordinatorStatusHandler(t *testing.T) {
	service := &mockCoordinatorService{
		statusFunc: func(ctx context.Context) (*models.CoordinatorStatus, error) {
			return &models.CoordinatorStatus{
				ProxyIndex:   1,
				ProxyCount:   3,
				RequestCount: 42,
				BlockedSlots: []models.BlockedSlot{{Index: 0, Reason: "blocked_by_google"}},
			}, nil
		},
	}
	handler := NewCoordinatorHandler(service, testLogger())

	req := httptest.NewRequest("GET", "/status", nil)
	rec := httptest.NewRecorder()
	handler.StatusHandler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}
	var status models.CoordinatorStatus
	if err := json.NewDecoder(rec.Body).Decode(&status); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if status.RequestCount != 42 || len(status.BlockedSlots) != 1 {
		t.Errorf("Unexpected status payload: %+v", status)
	}
}

func TestCoordinatorHealthHandler(t *testing.T) {
	handler := NewCoordinatorHandler(&mockCoordinatorService{}, testLogger())

	req := httptest.NewRequest("GET", "/health", nil)
	rec := httptest.NewRecorder()
	handler.HealthHandler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}
	var resp map[string]interface{}
	json.NewDecoder(rec.Body).Decode(&resp)
	if resp["status"] != "ok" {
		t.Errorf("Expected status ok, got %v", resp["status"])
	}
}

func TestCurrentProxyHandler_NoProxies(t *testing.T) {
	service := &mockCoordinatorService{
		currentFunc: func(ctx context.Context) (*models.CurrentProxyInfo, error) {
			return nil, interfaces.ErrNoProxies
		},
	}
	handler := NewCoordinatorHandler(service, testLogger())

	req := httptest.NewRequest("GET", "/current-proxy", nil)
	rec := httptest.NewRecorder()
	handler.CurrentProxyHandler(rec, req)

	if rec.Code != http.StatusConflict {
		t.Errorf("Expected status 409, got %d", rec.Code)
	}
}
