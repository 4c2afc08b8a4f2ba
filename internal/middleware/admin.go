package middleware

import (
	"log/slog"
	"net/http"

	"github.com/hitoshi/potluck/internal/access"
	"github.com/hitoshi/potluck/internal/model"
)

// NewAdminGateMiddleware は管理者トークンを検証するミドルウェアを返す。
// トークンが一致しない場合は401を返し、後続のハンドラーを呼ばない。
func NewAdminGateMiddleware(gate *access.Gate) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, _ := access.TokenFromRequest(r)
			if !gate.Authorize(token) {
				slog.Warn("admin token rejected",
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.String("remote", ClientIP(r)),
				)
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewAdminUnauthorizedError())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
