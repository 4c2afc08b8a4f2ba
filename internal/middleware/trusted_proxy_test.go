package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestTrustedProxyMiddleware(t *testing.T) {
	tests := []struct {
		name   string
		remote string
		fwd    []string
		want   string
	}{
		{"ヘッダーなし", "10.0.0.1:80", nil, "10.0.0.1"},
		{"単一の値", "10.0.0.1:80", []string{"203.0.113.7"}, "203.0.113.7"},
		{"末尾の値を使う", "10.0.0.1:80", []string{"198.51.100.99, 203.0.113.7"}, "203.0.113.7"},
		{"複数ヘッダーは最後のヘッダー", "10.0.0.1:80", []string{"198.51.100.99", "203.0.113.8"}, "203.0.113.8"},
		{"IPでない値は無視", "10.0.0.1:80", []string{"203.0.113.7, unknown"}, "10.0.0.1"},
		{"IPv6", "10.0.0.1:80", []string{"2001:db8::1"}, "2001:db8::1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got string
			handler := NewTrustedProxyMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got = ClientIP(r)
			}))

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for _, v := range tt.fwd {
				req.Header.Add("X-Forwarded-For", v)
			}
			handler.ServeHTTP(httptest.NewRecorder(), req)

			if got != tt.want {
				t.Errorf("ClientIP = %q, want %q", got, tt.want)
			}
		})
	}
}
