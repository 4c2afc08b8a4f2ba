// Package config は環境変数からアプリケーション設定を読み込む。
package config

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// ストアのバックエンド
const (
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
	BackendSheets   = "sheets"
	BackendMemory   = "memory"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Store
	StoreBackend  string        `env:"STORE_BACKEND" envDefault:"sqlite"`
	DatabaseURL   string        `env:"DATABASE_URL"`
	SQLitePath    string        `env:"SQLITE_PATH" envDefault:"data/potluck.sqlite"`
	SheetsURL     string        `env:"SHEETS_SCRIPT_URL"`
	SheetsTimeout time.Duration `env:"SHEETS_TIMEOUT" envDefault:"15s"`
	AutoMigrate   bool          `env:"AUTO_MIGRATE" envDefault:"true"`

	// Identity
	IdentityMode string `env:"IDENTITY_MODE" envDefault:"upsert"`

	// Admin
	AdminToken string `env:"ADMIN_TOKEN"`

	// Server
	ServerPort string `env:"SERVER_PORT" envDefault:"3001"`

	// CORS
	CORSAllowedOrigin string `env:"CORS_ALLOWED_ORIGIN" envDefault:"*"`

	// TrustedProxy がtrueの場合は直前のプロキシが付けたX-Forwarded-Forを接続元とする。
	TrustedProxy bool `env:"TRUSTED_PROXY" envDefault:"false"`

	// Rate Limit（1分あたりのリクエスト数）
	RateLimitGeneral  int `env:"RATE_LIMIT_GENERAL" envDefault:"120"`
	RateLimitMutation int `env:"RATE_LIMIT_MUTATION" envDefault:"30"`

	// Logging
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

// Load は環境変数からConfigを読み込む。
// バックエンドごとの必須環境変数と値の妥当性をまとめて検証し、
// 問題があればすべてを1つのエラーとして返す。
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", describeParseError(err))
	}

	cfg.StoreBackend = strings.ToLower(strings.TrimSpace(cfg.StoreBackend))
	cfg.IdentityMode = strings.ToLower(strings.TrimSpace(cfg.IdentityMode))
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var missing []string
	var errs []error

	switch c.StoreBackend {
	case BackendPostgres:
		if c.DatabaseURL == "" {
			missing = append(missing, "DATABASE_URL")
		}
	case BackendSQLite:
		if c.SQLitePath == "" {
			missing = append(missing, "SQLITE_PATH")
		}
	case BackendSheets:
		if c.SheetsURL == "" {
			missing = append(missing, "SHEETS_SCRIPT_URL")
		}
		if c.SheetsTimeout <= 0 {
			errs = append(errs, fmt.Errorf("SHEETS_TIMEOUT must be positive: %s", c.SheetsTimeout))
		}
	case BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("STORE_BACKEND must be one of postgres, sqlite, sheets, memory: %q", c.StoreBackend))
	}

	if len(missing) > 0 {
		errs = append([]error{fmt.Errorf("required environment variables are not set: %v", missing)}, errs...)
	}

	switch c.IdentityMode {
	case "credential", "lookup", "upsert":
	default:
		errs = append(errs, fmt.Errorf("IDENTITY_MODE must be one of credential, lookup, upsert: %q", c.IdentityMode))
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("LOG_LEVEL must be one of debug, info, warn, error: %q", c.LogLevel))
	}

	if port, err := strconv.Atoi(c.ServerPort); err != nil || port <= 0 || port > 65535 {
		errs = append(errs, fmt.Errorf("SERVER_PORT must be a port number: %q", c.ServerPort))
	}
	if c.RateLimitGeneral <= 0 {
		errs = append(errs, fmt.Errorf("RATE_LIMIT_GENERAL must be positive: %d", c.RateLimitGeneral))
	}
	if c.RateLimitMutation <= 0 {
		errs = append(errs, fmt.Errorf("RATE_LIMIT_MUTATION must be positive: %d", c.RateLimitMutation))
	}

	return errors.Join(errs...)
}

// describeParseError はenvのパースエラーのフィールド名を環境変数名に置き換える。
func describeParseError(err error) error {
	var agg env.AggregateError
	if !errors.As(err, &agg) {
		return err
	}
	errs := make([]error, 0, len(agg.Errors))
	for _, e := range agg.Errors {
		var pe env.ParseError
		if errors.As(e, &pe) {
			errs = append(errs, fmt.Errorf("%s has an invalid value: %w", envKey(pe.Name), pe.Err))
			continue
		}
		errs = append(errs, e)
	}
	return errors.Join(errs...)
}

// envKey はConfigのフィールド名に対応する環境変数名を返す。
func envKey(field string) string {
	sf, ok := reflect.TypeOf(Config{}).FieldByName(field)
	if !ok {
		return field
	}
	key, _, _ := strings.Cut(sf.Tag.Get("env"), ",")
	if key == "" {
		return field
	}
	return key
}

// AdminOpen は管理者トークンが未設定（オープンモード）かを返す。
func (c *Config) AdminOpen() bool {
	return c.AdminToken == ""
}
