package middleware

import (
	"net"
	"net/http"
	"strings"
)

// NewTrustedProxyMiddleware は直前のリバースプロキシが付けたX-Forwarded-Forの
// 末尾の値をRemoteAddrとして採用する。
// 末尾より前の値はクライアントが自由に書けるため使わない。
// 信頼できるプロキシ配下でのみ使用すること。
func NewTrustedProxyMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if ip := lastForwardedFor(r.Header.Values("X-Forwarded-For")); ip != "" {
				r.RemoteAddr = net.JoinHostPort(ip, "0")
			}
			next.ServeHTTP(w, r)
		})
	}
}

// lastForwardedFor は複数ヘッダーを連結した一覧の末尾の有効なIPを返す。
func lastForwardedFor(values []string) string {
	if len(values) == 0 {
		return ""
	}
	parts := strings.Split(values[len(values)-1], ",")
	ip := net.ParseIP(strings.TrimSpace(parts[len(parts)-1]))
	if ip == nil {
		return ""
	}
	return ip.String()
}
