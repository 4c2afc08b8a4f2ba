package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/potluck/internal/access"
	"github.com/hitoshi/potluck/internal/metrics"
	"github.com/hitoshi/potluck/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	CORSAllowedOrigin string
	TrustedProxy      bool // X-Forwarded-Forの末尾を接続元とする
	RateLimiter       *middleware.RateLimiter
	Metrics           metrics.MetricsCollector
	MetricsHandler    http.Handler

	// サービス
	IdentityService IdentityServiceInterface
	LedgerService   LedgerServiceInterface
	Gate            *access.Gate
	Store           Pinger
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	[TrustedProxy] → RequestID → Logging → Recovery → SecurityHeaders → CORS → RateLimit(General)
//
// 書き込み系のルートにはMutationレート制限を追加し、PUTには管理者ゲートを置く。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if deps.TrustedProxy {
		r.Use(middleware.NewTrustedProxyMiddleware())
	}
	r.Use(middleware.NewRequestIDMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger, deps.Metrics))
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	identityHandler := NewIdentityHandler(deps.IdentityService)
	signupHandler := NewSignupHandler(deps.LedgerService, deps.Gate)
	execHandler := NewExecHandler(deps.IdentityService, deps.LedgerService, deps.Gate)

	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	r.Route("/api", func(r chi.Router) {
		if deps.RateLimiter != nil {
			r.Use(deps.RateLimiter.GeneralMiddleware())
		}

		r.Get("/health", NewHealthHandler(deps.Store))

		// 書き込み系（登録・ログイン・申込み変更）
		r.Group(func(r chi.Router) {
			if deps.RateLimiter != nil {
				r.Use(deps.RateLimiter.MutationMiddleware())
			}

			r.Post("/register", identityHandler.Register)
			r.Post("/login", identityHandler.Login)

			r.Route("/signups", func(r chi.Router) {
				r.Get("/", signupHandler.List)
				r.Post("/", signupHandler.Create)
				r.With(middleware.NewAdminGateMiddleware(deps.Gate)).Put("/", signupHandler.Update)
				r.Delete("/", signupHandler.Delete)
			})

			r.Method(http.MethodGet, "/exec", execHandler)
			r.Method(http.MethodPost, "/exec", execHandler)
		})
	})

	return r
}
