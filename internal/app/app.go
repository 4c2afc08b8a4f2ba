// Package app はプロセスの起動とワイヤリングを行う。
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/potluck/internal/access"
	"github.com/hitoshi/potluck/internal/config"
	"github.com/hitoshi/potluck/internal/database"
	"github.com/hitoshi/potluck/internal/handler"
	"github.com/hitoshi/potluck/internal/identity"
	"github.com/hitoshi/potluck/internal/ledger"
	"github.com/hitoshi/potluck/internal/logger"
	"github.com/hitoshi/potluck/internal/metrics"
	"github.com/hitoshi/potluck/internal/middleware"
	"github.com/hitoshi/potluck/internal/security"
)

// shutdownTimeout はグレースフルシャットダウンの待ち時間。
const shutdownTimeout = 30 * time.Second

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、LOG_LEVELに従ってJSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, *slog.Logger, error) {
	// 設定読み込み前にログを使えるようにする
	l := logger.SetupDefault(w, slog.LevelInfo)

	cfg, err := config.Load()
	if err != nil {
		l.Error("failed to load config", slog.String("error", err.Error()))
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, logger.SetupDefault(w, logger.ParseLevel(cfg.LogLevel)), nil
}

// サブコマンド。引数がない場合はserveとして扱う。
const (
	cmdServe       = "serve"
	cmdMigrate     = "migrate"
	cmdHealthcheck = "healthcheck"
)

// subcommand はargsの先頭からサブコマンドを取り出す。
// 未知のサブコマンドで誤ってサーバーを起動しないようエラーを返す。
func subcommand(args []string) (string, error) {
	if len(args) == 0 {
		return cmdServe, nil
	}
	switch name := args[0]; name {
	case cmdServe, cmdMigrate, cmdHealthcheck:
		return name, nil
	default:
		return "", fmt.Errorf("unknown command %q (want serve, migrate or healthcheck)", name)
	}
}

// Run はアプリケーションのメインエントリーポイント。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd, err := subcommand(args)
	if err != nil {
		return err
	}

	// Dockerのヘルスチェックから毎回呼ばれるため設定の検証をしない
	if cmd == cmdHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "3001"
		}
		return runHealthcheck(fmt.Sprintf("http://localhost:%s/api/health", port))
	}

	cfg, l, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	l.Info("starting application",
		slog.String("command", cmd),
		slog.String("backend", cfg.StoreBackend),
		slog.String("identity_mode", cfg.IdentityMode),
	)

	if cmd == cmdMigrate {
		return runMigrate(cfg, l)
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return runServe(ctx, cfg, l)
}

// Application は組み立て済みのHTTPハンドラーと後始末を保持する。
type Application struct {
	Handler     http.Handler
	rateLimiter *middleware.RateLimiter
	store       *store
}

// Close はレートリミッターを停止し、ストアを閉じる。
func (a *Application) Close() error {
	a.rateLimiter.Stop()
	return a.store.close()
}

// Build は設定から全依存関係をワイヤリングする。
func Build(cfg *config.Config, l *slog.Logger) (*Application, error) {
	mode, err := identity.ParseMode(cfg.IdentityMode)
	if err != nil {
		return nil, err
	}

	st, err := openStore(cfg, l)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	mc := metrics.NewCollector(reg)

	gate := access.NewGate(cfg.AdminToken)
	if gate.Open() {
		l.Warn("ADMIN_TOKEN is not set: admin operations are open to everyone")
	}

	rl := middleware.NewRateLimiter(middleware.RateLimiterConfigPerMinute(cfg.RateLimitGeneral, cfg.RateLimitMutation))

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:            l,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		TrustedProxy:      cfg.TrustedProxy,
		RateLimiter:       rl,
		Metrics:           mc,
		MetricsHandler:    metrics.SetupMetricsRoute(reg),
		IdentityService:   identity.NewService(st.identities, mode, mc),
		LedgerService:     ledger.NewService(st.claims, security.NewNoteSanitizer(), mc),
		Gate:              gate,
		Store:             st.pinger,
	})

	return &Application{Handler: router, rateLimiter: rl, store: st}, nil
}

// runServe はAPIサーバーモードで起動する。
// ctxがキャンセルされるとグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config, l *slog.Logger) error {
	application, err := Build(cfg, l)
	if err != nil {
		return err
	}
	defer application.Close()

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      application.Handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		l.Info("API server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	l.Info("shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	l.Info("API server stopped gracefully")
	return nil
}

// runMigrate はSQLバックエンドのマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config, l *slog.Logger) error {
	switch cfg.StoreBackend {
	case config.BackendPostgres:
		l.Info("running database migrations",
			slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
		)
		if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	case config.BackendSQLite:
		l.Info("running database migrations", slog.String("path", cfg.SQLitePath))
		if err := database.RunSQLiteMigrations(cfg.SQLitePath); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	default:
		return fmt.Errorf("migrate is not supported for backend %q", cfg.StoreBackend)
	}

	l.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
func runHealthcheck(url string) error {
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
