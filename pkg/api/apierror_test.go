package api_test

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Mindburn-Labs/zkhotdog/pkg/api"
)

func TestWriteError_ProblemDocument(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/status/abc", nil)
	api.WriteError(w, r, http.StatusNotFound, "measurement abc not found")

	if ct := w.Header().Get("Content-Type"); ct != "application/problem+json" {
		t.Errorf("expected Content-Type 'application/problem+json', got %q", ct)
	}
	var problem api.ProblemDetail
	if err := json.NewDecoder(w.Body).Decode(&problem); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if problem.Status != http.StatusNotFound || problem.Title != "Not Found" {
		t.Errorf("unexpected status/title: %d %q", problem.Status, problem.Title)
	}
	if problem.Type != "https://zkhotdog.dev/errors/404" {
		t.Errorf("unexpected type %q", problem.Type)
	}
	if problem.Instance != "/status/abc" {
		t.Errorf("expected instance '/status/abc', got %q", problem.Instance)
	}
}

func TestWriteInternal_SanitizesError(t *testing.T) {
	w := httptest.NewRecorder()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	api.WriteInternal(w, nil, logger, errors.New("sqlite: database disk image is malformed"))

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
	var problem api.ProblemDetail
	if err := json.NewDecoder(w.Body).Decode(&problem); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if problem.Detail != "An internal error occurred" {
		t.Errorf("internal error details leaked to client: %q", problem.Detail)
	}
}

func TestWriteTooManyRequests_RetryAfter(t *testing.T) {
	w := httptest.NewRecorder()
	api.WriteTooManyRequests(w, nil, 5)

	if got := w.Header().Get("Retry-After"); got != "5" {
		t.Errorf("expected Retry-After 5, got %q", got)
	}
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("expected 429, got %d", w.Code)
	}
}
