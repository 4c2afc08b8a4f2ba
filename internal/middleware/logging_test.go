package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// mockMetrics はMetricsCollectorのテスト用実装。RecordHTTPStatusのみ記録する。
type mockMetrics struct {
	statuses []int
}

func (m *mockMetrics) RecordClaim(string) {}
func (m *mockMetrics) RecordRelease(string) {}
func (m *mockMetrics) RecordAdminOperation(string, string) {}
func (m *mockMetrics) RecordLogin(string, string) {}
func (m *mockMetrics) RecordStoreLatency(string, time.Duration) {}
func (m *mockMetrics) RecordHTTPStatus(code int) { m.statuses = append(m.statuses, code) }

func decodeLogEntry(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse JSON log: %v\nraw: %s", err, buf.String())
	}
	return entry
}

// TestLoggingMiddleware_LogsRequestFields はリクエストログに必要なフィールドが含まれることを検証する。
func TestLoggingMiddleware_LogsRequestFields(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))

	handler := NewRequestIDMiddleware()(NewLoggingMiddleware(logger, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})))

	req := httptest.NewRequest(http.MethodGet, "/api/signups", nil)
	req.RemoteAddr = "192.0.2.10:5555"
	req.Header.Set(HeaderRequestID, "req-1")
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	entry := decodeLogEntry(t, &buf)

	if entry["msg"] != "http_request" {
		t.Errorf("msg = %q, want %q", entry["msg"], "http_request")
	}
	if entry["method"] != "GET" {
		t.Errorf("method = %q, want %q", entry["method"], "GET")
	}
	if entry["path"] != "/api/signups" {
		t.Errorf("path = %q, want %q", entry["path"], "/api/signups")
	}
	if status, ok := entry["status"].(float64); !ok || status != 200 {
		t.Errorf("status = %v, want 200", entry["status"])
	}
	if _, ok := entry["duration_ms"]; !ok {
		t.Error("expected 'duration_ms' field in log entry")
	}
	if entry["remote"] != "192.0.2.10" {
		t.Errorf("remote = %q, want %q", entry["remote"], "192.0.2.10")
	}
	if entry["request_id"] != "req-1" {
		t.Errorf("request_id = %q, want %q", entry["request_id"], "req-1")
	}
}

// TestLoggingMiddleware_LevelByStatus はステータスコードに応じてログレベルが変わることを検証する。
func TestLoggingMiddleware_LevelByStatus(t *testing.T) {
	tests := []struct {
		status int
		want   string
	}{
		{http.StatusOK, "INFO"},
		{http.StatusConflict, "WARN"},
		{http.StatusServiceUnavailable, "ERROR"},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			var buf bytes.Buffer
			logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

			handler := NewLoggingMiddleware(logger, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/signups", nil))

			entry := decodeLogEntry(t, &buf)
			if entry["level"] != tt.want {
				t.Errorf("level = %q, want %q", entry["level"], tt.want)
			}
		})
	}
}

// TestLoggingMiddleware_ImplicitOK はWriteHeaderを呼ばない場合に200として記録することを検証する。
func TestLoggingMiddleware_ImplicitOK(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	mc := &mockMetrics{}

	handler := NewLoggingMiddleware(logger, mc)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/health", nil))

	entry := decodeLogEntry(t, &buf)
	if status, _ := entry["status"].(float64); status != 200 {
		t.Errorf("status = %v, want 200", entry["status"])
	}
	if len(mc.statuses) != 1 || mc.statuses[0] != http.StatusOK {
		t.Errorf("recorded statuses = %v, want [200]", mc.statuses)
	}
}
