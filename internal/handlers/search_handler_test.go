package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/quaesitor/internal/interfaces"
	"github.com/ternarybob/quaesitor/internal/models"
)

func testLogger() arbor.ILogger {
	return arbor.NewLogger()
}

// mockIdentityService implements interfaces.IdentityService for testing
type mockIdentityService struct {
	beginSearchFunc func(ctx context.Context) (func(), error)
	refreshFunc     func(ctx context.Context, reason string) error
	rotateProxyFunc func(ctx context.Context, reason string) (bool, error)
	snapshot        models.IdentitySnapshot

	mu            sync.Mutex
	recorded      int
	releaseCalled int
}

func (m *mockIdentityService) Warm(ctx context.Context) error { return nil }

func (m *mockIdentityService) BeginSearch(ctx context.Context) (func(), error) {
	if m.beginSearchFunc != nil {
		return m.beginSearchFunc(ctx)
	}
	return func() {
		m.mu.Lock()
		m.releaseCalled++
		m.mu.Unlock()
	}, nil
}

func (m *mockIdentityService) ActiveSession(ctx context.Context) (interfaces.PageDriver, error) {
	return nil, nil
}

func (m *mockIdentityService) RecordSearch(ctx context.Context) {
	m.mu.Lock()
	m.recorded++
	m.mu.Unlock()
}

func (m *mockIdentityService) RotateIdentity(ctx context.Context, reason string) error { return nil }

func (m *mockIdentityService) RotateProxyOnly(ctx context.Context, reason string, markBlocked bool) error {
	return nil
}

func (m *mockIdentityService) RequestProxyRotation(ctx context.Context, reason string) (bool, error) {
	if m.rotateProxyFunc != nil {
		return m.rotateProxyFunc(ctx, reason)
	}
	return false, nil
}

func (m *mockIdentityService) RefreshSession(ctx context.Context, reason string) error {
	if m.refreshFunc != nil {
		return m.refreshFunc(ctx, reason)
	}
	return nil
}

func (m *mockIdentityService) MarkCurrentProxyBlocked(ctx context.Context, reason string) {}

func (m *mockIdentityService) Snapshot() models.IdentitySnapshot { return m.snapshot }

func (m *mockIdentityService) Close(ctx context.Context) error { return nil }

func (m *mockIdentityService) recordedSearches() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.recorded
}

// mockSearchService implements interfaces.SearchService for testing
type mockSearchService struct {
	runFunc func(ctx context.Context, prompt string) (*models.SearchResult, error)

	mu      sync.Mutex
	prompts []string
}

func (m *mockSearchService) Run(ctx context.Context, prompt string) (*models.SearchResult, error) {
	m.mu.Lock()
	m.prompts = append(m.prompts, prompt)
	m.mu.Unlock()
	if m.runFunc != nil {
		return m.runFunc(ctx, prompt)
	}
	return &models.SearchResult{JSON: json.RawMessage(`{"domain":"example"}`), Attempts: 1}, nil
}

func (m *mockSearchService) submittedPrompts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.prompts...)
}

// mockHistoryService implements interfaces.HistoryService for testing
type mockHistoryService struct {
	mu      sync.Mutex
	records []*models.SearchRecord
}

func (m *mockHistoryService) Record(ctx context.Context, record *models.SearchRecord, answerHTML string) error {
	m.mu.Lock()
	m.records = append(m.records, record)
	m.mu.Unlock()
	return nil
}

func (m *mockHistoryService) Recent(ctx context.Context, limit int) ([]*models.SearchRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := append([]*models.SearchRecord(nil), m.records...)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *mockHistoryService) Count(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records), nil
}

// waitForRecords polls until the async audit write lands or the deadline
// passes
func (m *mockHistoryService) waitForRecords(t *testing.T, n int) []*models.SearchRecord {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		m.mu.Lock()
		count := len(m.records)
		m.mu.Unlock()
		if count >= n {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*models.SearchRecord(nil), m.records...)
}

// mockCoordinatorClient implements interfaces.CoordinatorClient for testing
type mockCoordinatorClient struct {
	mu       sync.Mutex
	notified int
	blocks   []int
}

func (m *mockCoordinatorClient) NotifyRequest(ctx context.Context) {
	m.mu.Lock()
	m.notified++
	m.mu.Unlock()
}

func (m *mockCoordinatorClient) ReportBlock(ctx context.Context, proxyIndex int, reason string) {
	m.mu.Lock()
	m.blocks = append(m.blocks, proxyIndex)
	m.mu.Unlock()
}

func (m *mockCoordinatorClient) notifyCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.notified
}

func newTestSearchHandler(identity *mockIdentityService, search *mockSearchService, history *mockHistoryService, coord *mockCoordinatorClient) *SearchHandler {
	var historyService interfaces.HistoryService
	if history != nil {
		historyService = history
	}
	var coordClient interfaces.CoordinatorClient
	if coord != nil {
		coordClient = coord
	}
	return NewSearchHandler(identity, search, historyService, coordClient, nil, testLogger())
}

func postSearch(handler *SearchHandler, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("POST", "/search", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	handler.SearchHandler(rec, req)
	return rec
}

func decodeSearchResponse(t *testing.T, rec *httptest.ResponseRecorder) models.SearchResponse {
	t.Helper()
	var resp models.SearchResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	return resp
}

func TestSearchHandler_Success(t *testing.T) {
	identity := &mockIdentityService{snapshot: models.IdentitySnapshot{ProfileIndex: 1, ProxyIndex: 2}}
	search := &mockSearchService{}
	history := &mockHistoryService{}
	coord := &mockCoordinatorClient{}
	handler := newTestSearchHandler(identity, search, history, coord)

	rec := postSearch(handler, `{"prompt":"what is the capital of peru"}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}
	resp := decodeSearchResponse(t, rec)
	if !resp.OK {
		t.Error("Expected ok=true")
	}
	if resp.Result == nil || string(resp.Result.JSON) != `{"domain":"example"}` {
		t.Errorf("Unexpected result: %+v", resp.Result)
	}
	if resp.DurationMs < 0 {
		t.Errorf("Expected non-negative durationMs, got %d", resp.DurationMs)
	}

	if identity.recordedSearches() != 1 {
		t.Errorf("Expected RecordSearch to be called once, got %d", identity.recordedSearches())
	}

	records := history.waitForRecords(t, 1)
	if len(records) != 1 {
		t.Fatalf("Expected 1 audit record, got %d", len(records))
	}
	if records[0].Status != models.RecordStatusOK {
		t.Errorf("Expected status ok, got %q", records[0].Status)
	}
	if records[0].ProfileIndex != 1 || records[0].ProxyIndex != 2 {
		t.Errorf("Expected profile/proxy indices 1/2, got %d/%d", records[0].ProfileIndex, records[0].ProxyIndex)
	}
}

func TestSearchHandler_Busy(t *testing.T) {
	identity := &mockIdentityService{
		beginSearchFunc: func(ctx context.Context) (func(), error) {
			return nil, interfaces.ErrWorkerBusy
		},
	}
	handler := newTestSearchHandler(identity, &mockSearchService{}, nil, nil)

	rec := postSearch(handler, `{"prompt":"hello"}`)

	if rec.Code != http.StatusLocked {
		t.Fatalf("Expected status 423, got %d", rec.Code)
	}
	resp := decodeSearchResponse(t, rec)
	if resp.Code != models.ErrorCodeBusy {
		t.Errorf("Expected code busy, got %q", resp.Code)
	}
}

func TestSearchHandler_WarmingUp(t *testing.T) {
	identity := &mockIdentityService{
		beginSearchFunc: func(ctx context.Context) (func(), error) {
			return nil, interfaces.ErrNotReady
		},
	}
	handler := newTestSearchHandler(identity, &mockSearchService{}, nil, nil)

	rec := postSearch(handler, `{"prompt":"hello"}`)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("Expected status 503, got %d", rec.Code)
	}
	resp := decodeSearchResponse(t, rec)
	if resp.Code != models.ErrorCodeWarmingUp {
		t.Errorf("Expected code warming_up, got %q", resp.Code)
	}
}

func TestSearchHandler_BlockedKeepsResult(t *testing.T) {
	search := &mockSearchService{
		runFunc: func(ctx context.Context, prompt string) (*models.SearchResult, error) {
			return &models.SearchResult{RawText: "Something went wrong", Attempts: 3}, interfaces.ErrBlockedByTarget
		},
	}
	history := &mockHistoryService{}
	handler := newTestSearchHandler(&mockIdentityService{}, search, history, nil)

	rec := postSearch(handler, `{"prompt":"hello"}`)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("Expected status 503, got %d", rec.Code)
	}
	resp := decodeSearchResponse(t, rec)
	if resp.Code != models.ErrorCodeBlockedByGoogle {
		t.Errorf("Expected code blocked_by_google, got %q", resp.Code)
	}
	if resp.Result == nil || resp.Result.RawText != "Something went wrong" {
		t.Error("Expected the raw rendition to accompany the block error")
	}

	records := history.waitForRecords(t, 1)
	if len(records) != 1 || records[0].Status != models.ErrorCodeBlockedByGoogle {
		t.Fatalf("Expected blocked_by_google audit record, got %+v", records)
	}
	if records[0].Attempts != 3 {
		t.Errorf("Expected 3 attempts on record, got %d", records[0].Attempts)
	}
}

func TestSearchHandler_Timeout(t *testing.T) {
	search := &mockSearchService{
		runFunc: func(ctx context.Context, prompt string) (*models.SearchResult, error) {
			return nil, interfaces.ErrAnswerTimeout
		},
	}
	handler := newTestSearchHandler(&mockIdentityService{}, search, nil, nil)

	rec := postSearch(handler, `{"prompt":"hello"}`)

	if rec.Code != http.StatusGatewayTimeout {
		t.Fatalf("Expected status 504, got %d", rec.Code)
	}
	resp := decodeSearchResponse(t, rec)
	if resp.Code != models.ErrorCodeTimeout {
		t.Errorf("Expected code timeout, got %q", resp.Code)
	}
}

func TestSearchHandler_EmptyResult(t *testing.T) {
	search := &mockSearchService{
		runFunc: func(ctx context.Context, prompt string) (*models.SearchResult, error) {
			return &models.SearchResult{RawText: "4 sites"}, interfaces.ErrEmptyResult
		},
	}
	handler := newTestSearchHandler(&mockIdentityService{}, search, nil, nil)

	rec := postSearch(handler, `{"prompt":"hello"}`)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("Expected status 422, got %d", rec.Code)
	}
	resp := decodeSearchResponse(t, rec)
	if resp.Code != models.ErrorCodeEmptyResult {
		t.Errorf("Expected code empty_result, got %q", resp.Code)
	}
}

func TestSearchHandler_MissingPrompt(t *testing.T) {
	handler := newTestSearchHandler(&mockIdentityService{}, &mockSearchService{}, nil, nil)

	rec := postSearch(handler, `{"prompt":"   "}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 for blank prompt, got %d", rec.Code)
	}

	rec = postSearch(handler, `{not json`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 for malformed body, got %d", rec.Code)
	}
}

func TestSearchHandler_MethodNotAllowed(t *testing.T) {
	handler := newTestSearchHandler(&mockIdentityService{}, &mockSearchService{}, nil, nil)

	req := httptest.NewRequest("GET", "/search", nil)
	rec := httptest.NewRecorder()
	handler.SearchHandler(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected status 405, got %d", rec.Code)
	}
}

func TestSearchHandler_NoiseInjectionEveryTenth(t *testing.T) {
	search := &mockSearchService{}
	handler := newTestSearchHandler(&mockIdentityService{}, search, nil, nil)

	for i := 0; i < noiseInterval; i++ {
		rec := postSearch(handler, `{"prompt":"repeat prompt"}`)
		if rec.Code != http.StatusOK {
			t.Fatalf("Search %d failed with status %d", i+1, rec.Code)
		}
	}

	prompts := search.submittedPrompts()
	if len(prompts) != noiseInterval {
		t.Fatalf("Expected %d submitted prompts, got %d", noiseInterval, len(prompts))
	}
	for i, p := range prompts[:noiseInterval-1] {
		if strings.Contains(p, zeroWidthSpace) {
			t.Errorf("Prompt %d should not carry noise", i+1)
		}
	}
	if !strings.HasSuffix(prompts[noiseInterval-1], zeroWidthSpace) {
		t.Errorf("Prompt %d should carry the zero-width suffix", noiseInterval)
	}
}

func TestSearchHandler_NotifiesCoordinator(t *testing.T) {
	coord := &mockCoordinatorClient{}
	handler := newTestSearchHandler(&mockIdentityService{}, &mockSearchService{}, nil, coord)

	rec := postSearch(handler, `{"prompt":"hello"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}

	deadline := time.Now().Add(2 * time.Second)
	for coord.notifyCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if coord.notifyCount() != 1 {
		t.Errorf("Expected one coordinator notification, got %d", coord.notifyCount())
	}
}
