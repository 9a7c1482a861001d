package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// mockStore implements Pinger with controllable ping behavior
type mockStore struct {
	pingError   error
	sawDeadline bool
}

func (m *mockStore) Ping(ctx context.Context) error {
	_, m.sawDeadline = ctx.Deadline()
	return m.pingError
}

func TestHTTPHandler(t *testing.T) {
	tests := []struct {
		name               string
		store              Pinger
		expectedStatusCode int
		expectedStatus     Status
	}{
		{
			name:               "healthy without store",
			store:              nil,
			expectedStatusCode: http.StatusOK,
			expectedStatus:     Status{OK: true, Message: "ok", Store: true},
		},
		{
			name:               "healthy with working store",
			store:              &mockStore{},
			expectedStatusCode: http.StatusOK,
			expectedStatus:     Status{OK: true, Message: "ok", Store: true},
		},
		{
			name:               "unhealthy with store ping failure",
			store:              &mockStore{pingError: context.DeadlineExceeded},
			expectedStatusCode: http.StatusServiceUnavailable,
			expectedStatus:     Status{OK: false, Message: "store ping failed", Store: false},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/healthz", nil)
			w := httptest.NewRecorder()

			HTTPHandler(tt.store)(w, req)

			if w.Code != tt.expectedStatusCode {
				t.Errorf("HTTPHandler() status code = %d, want %d", w.Code, tt.expectedStatusCode)
			}
			if ct := w.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("HTTPHandler() Content-Type = %q, want %q", ct, "application/json")
			}

			var status Status
			if err := json.Unmarshal(w.Body.Bytes(), &status); err != nil {
				t.Fatalf("HTTPHandler() response JSON parse error: %v", err)
			}
			if status != tt.expectedStatus {
				t.Errorf("HTTPHandler() Status = %+v, want %+v", status, tt.expectedStatus)
			}
		})
	}
}

func TestHTTPHandler_PingHasDeadline(t *testing.T) {
	store := &mockStore{}
	HTTPHandler(store)(httptest.NewRecorder(), httptest.NewRequest("GET", "/healthz", nil))

	if !store.sawDeadline {
		t.Error("Ping() context has no deadline")
	}
}

func TestHTTPHandler_PingError(t *testing.T) {
	w := httptest.NewRecorder()
	HTTPHandler(&mockStore{pingError: errors.New("connection refused")})(w, httptest.NewRequest("GET", "/healthz", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status code = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
}

func TestUptimeHandler(t *testing.T) {
	started := time.Now().Add(-90 * time.Second)
	w := httptest.NewRecorder()

	UptimeHandler(started)(w, httptest.NewRequest("GET", "/health", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status code = %d, want 200", w.Code)
	}
	var body Liveness
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("JSON parse error: %v", err)
	}
	if body.Status != "ok" {
		t.Errorf("Status = %q, want ok", body.Status)
	}
	if body.Uptime < 90 {
		t.Errorf("Uptime = %f, want >= 90", body.Uptime)
	}
}
