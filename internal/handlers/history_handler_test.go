package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ternarybob/quaesitor/internal/models"
)

func seedHistory(n int) *mockHistoryService {
	history := &mockHistoryService{}
	for i := 0; i < n; i++ {
		history.Record(context.Background(), &models.SearchRecord{
			ID:     models.RecordStatusOK,
			Prompt: "prompt",
			Status: models.RecordStatusOK,
		}, "")
	}
	return history
}

func getSearches(handler *HistoryHandler, url string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("GET", url, nil)
	rec := httptest.NewRecorder()
	handler.SearchesHandler(rec, req)
	return rec
}

func TestSearchesHandler_DefaultLimit(t *testing.T) {
	handler := NewHistoryHandler(seedHistory(30), testLogger())

	rec := getSearches(handler, "/searches")

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}
	var resp map[string]interface{}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if int(resp["count"].(float64)) != defaultHistoryLimit {
		t.Errorf("Expected %d records, got %v", defaultHistoryLimit, resp["count"])
	}
}

func TestSearchesHandler_ExplicitLimit(t *testing.T) {
	handler := NewHistoryHandler(seedHistory(10), testLogger())

	rec := getSearches(handler, "/searches?limit=3")

	var resp map[string]interface{}
	json.NewDecoder(rec.Body).Decode(&resp)
	if int(resp["count"].(float64)) != 3 {
		t.Errorf("Expected 3 records, got %v", resp["count"])
	}
}

func TestSearchesHandler_ClampsLimit(t *testing.T) {
	handler := NewHistoryHandler(seedHistory(5), testLogger())

	rec := getSearches(handler, "/searches?limit=100000")
	var resp map[string]interface{}
	json.NewDecoder(rec.Body).Decode(&resp)
	if int(resp["limit"].(float64)) != maxHistoryLimit {
		t.Errorf("Expected limit clamped to %d, got %v", maxHistoryLimit, resp["limit"])
	}

	rec = getSearches(handler, "/searches?limit=-4")
	json.NewDecoder(rec.Body).Decode(&resp)
	if int(resp["limit"].(float64)) != defaultHistoryLimit {
		t.Errorf("Expected default limit for negative input, got %v", resp["limit"])
	}
}

func TestSearchesHandler_MethodNotAllowed(t *testing.T) {
	handler := NewHistoryHandler(seedHistory(1), testLogger())

	req := httptest.NewRequest("POST", "/searches", nil)
	rec := httptest.NewRecorder()
	handler.SearchesHandler(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected status 405, got %d", rec.Code)
	}
}
