package app

import (
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/hitoshi/potluck/internal/config"
	"github.com/hitoshi/potluck/internal/database"
	"github.com/hitoshi/potluck/internal/handler"
	"github.com/hitoshi/potluck/internal/repository"
	"github.com/hitoshi/potluck/internal/security"
	"github.com/hitoshi/potluck/internal/sheets"
)

// store は選択されたバックエンドのリポジトリ群。
type store struct {
	identities repository.IdentityRepository
	claims     repository.ClaimRepository
	pinger     handler.Pinger
	close      func() error
}

// openStore は設定に応じてバックエンドを開く。
// AUTO_MIGRATEが有効ならSQLバックエンドのマイグレーションを先に適用する。
func openStore(cfg *config.Config, logger *slog.Logger) (*store, error) {
	switch cfg.StoreBackend {
	case config.BackendPostgres:
		if cfg.AutoMigrate {
			if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
				return nil, fmt.Errorf("migration failed: %w", err)
			}
		}
		db, err := database.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := db.Ping(); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		logger.Info("database connection established", slog.String("backend", cfg.StoreBackend))
		return sqlStore(db, repository.NewPostgresIdentityRepo(db), repository.NewPostgresClaimRepo(db)), nil

	case config.BackendSQLite:
		if cfg.AutoMigrate {
			if err := database.RunSQLiteMigrations(cfg.SQLitePath); err != nil {
				return nil, fmt.Errorf("migration failed: %w", err)
			}
		}
		db, err := database.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		if err := db.Ping(); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to open sqlite database: %w", err)
		}
		logger.Info("database connection established",
			slog.String("backend", cfg.StoreBackend),
			slog.String("path", cfg.SQLitePath),
		)
		return sqlStore(db, repository.NewSQLiteIdentityRepo(db), repository.NewSQLiteClaimRepo(db)), nil

	case config.BackendSheets:
		guard := security.NewSSRFGuard()
		if err := guard.ValidateURL(cfg.SheetsURL); err != nil {
			return nil, fmt.Errorf("invalid SHEETS_SCRIPT_URL: %w", err)
		}
		client := sheets.NewClient(guard.NewSafeClient(cfg.SheetsTimeout), logger, cfg.SheetsURL)
		s := sheets.NewStore(client)
		logger.Info("spreadsheet backend configured", slog.Duration("timeout", cfg.SheetsTimeout))
		return &store{identities: s, claims: s, pinger: s, close: func() error { return nil }}, nil

	case config.BackendMemory:
		m := repository.NewMemoryStore()
		logger.Warn("in-memory backend: data is lost on restart")
		return &store{identities: m.Identities(), claims: m.Claims(), pinger: m, close: func() error { return nil }}, nil

	default:
		return nil, fmt.Errorf("unknown store backend: %q", cfg.StoreBackend)
	}
}

func sqlStore(db *sql.DB, identities repository.IdentityRepository, claims repository.ClaimRepository) *store {
	return &store{identities: identities, claims: claims, pinger: db, close: db.Close}
}
