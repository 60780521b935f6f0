package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/archon-research/stl-exchange/internal/testutil"
)

// mockHealthChecker is a test implementation of HealthChecker
type mockHealthChecker struct {
	ready   bool
	healthy bool
}

func (m *mockHealthChecker) IsReady() bool   { return m.ready }
func (m *mockHealthChecker) IsHealthy() bool { return m.healthy }

func probe(t *testing.T, checker *mockHealthChecker, shuttingDown bool, path string) (int, map[string]any) {
	t.Helper()
	var flag atomic.Bool
	flag.Store(shuttingDown)

	mux := http.NewServeMux()
	NewHealth(checker, &flag, testutil.DiscardLogger()).RegisterRoutes(mux)

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest("GET", path, nil))

	var body map[string]any
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return w.Code, body
}

func TestHealth_Ready(t *testing.T) {
	tests := []struct {
		name           string
		ready          bool
		shuttingDown   bool
		expectedStatus int
		expectedBody   string
	}{
		{"ready returns 200", true, false, http.StatusOK, "ready"},
		{"store down returns 503", false, false, http.StatusServiceUnavailable, "not_ready"},
		{"draining returns 503", true, true, http.StatusServiceUnavailable, "shutting_down"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := probe(t, &mockHealthChecker{ready: tt.ready, healthy: true}, tt.shuttingDown, "/health/ready")
			if code != tt.expectedStatus {
				t.Errorf("status = %d, want %d", code, tt.expectedStatus)
			}
			if body["status"] != tt.expectedBody {
				t.Errorf("body status = %v, want %s", body["status"], tt.expectedBody)
			}
		})
	}
}

func TestHealth_LiveIgnoresDraining(t *testing.T) {
	code, body := probe(t, &mockHealthChecker{ready: false, healthy: true}, true, "/health/live")
	if code != http.StatusOK || body["status"] != "healthy" {
		t.Errorf("live = %d %v", code, body)
	}
	code, _ = probe(t, &mockHealthChecker{healthy: false}, false, "/health/live")
	if code != http.StatusServiceUnavailable {
		t.Errorf("unhealthy live = %d, want 503", code)
	}
}

func TestHealth_Combined(t *testing.T) {
	tests := []struct {
		name         string
		checker      mockHealthChecker
		shuttingDown bool
		wantCode     int
		wantStatus   string
	}{
		{"ok", mockHealthChecker{ready: true, healthy: true}, false, http.StatusOK, "ok"},
		{"degraded", mockHealthChecker{ready: false, healthy: true}, false, http.StatusServiceUnavailable, "degraded"},
		{"shutting down", mockHealthChecker{ready: true, healthy: true}, true, http.StatusServiceUnavailable, "shutting_down"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := probe(t, &tt.checker, tt.shuttingDown, "/health")
			if code != tt.wantCode || body["status"] != tt.wantStatus {
				t.Errorf("health = %d %v, want %d %s", code, body, tt.wantCode, tt.wantStatus)
			}
			if body["shuttingDown"] != tt.shuttingDown {
				t.Errorf("shuttingDown = %v", body["shuttingDown"])
			}
		})
	}
}

func TestServer_MountsExtraHandlers(t *testing.T) {
	extra := map[string]http.Handler{
		"GET /ws": http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTeapot)
		}),
	}
	s := NewServer(ServerConfig{Logger: testutil.DiscardLogger()}, nil,
		NewHealth(&mockHealthChecker{ready: true, healthy: true}, nil, nil), extra)

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/ws", nil))
	if w.Code != http.StatusTeapot {
		t.Errorf("extra handler status = %d", w.Code)
	}

	w = httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/health", nil))
	if w.Code != http.StatusOK {
		t.Errorf("health status = %d", w.Code)
	}
}
