package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/potluck/internal/model"
)

// Pinger はストアの疎通確認を行うインターフェース。
type Pinger interface {
	PingContext(ctx context.Context) error
}

// healthTimeout はヘルスチェック1回あたりの待ち時間の上限。
const healthTimeout = 5 * time.Second

// NewHealthHandler はストアに疎通できれば{ok:true}、できなければ503を返すハンドラーを生成する。
// GET /api/health
func NewHealthHandler(pinger Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()

		if err := pinger.PingContext(ctx); err != nil {
			slog.Warn("health check failed", slog.String("error", err.Error()))
			handleServiceError(w, model.NewUnavailableError())
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	}
}
