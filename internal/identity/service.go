// Package identity は参加者の登録とログインのドメインロジックを提供する。
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/hitoshi/potluck/internal/metrics"
	"github.com/hitoshi/potluck/internal/model"
	"github.com/hitoshi/potluck/internal/repository"
)

// Mode は識別方式。
type Mode string

const (
	// ModeCredential は識別子とシークレットによる登録・ログイン。
	ModeCredential Mode = "credential"
	// ModeLookup はパスワードなし。既存の識別情報は変更しない。
	ModeLookup Mode = "lookup"
	// ModeUpsert はパスワードなし。ログインのたびに表示名を更新する。
	ModeUpsert Mode = "upsert"
)

// ParseMode は設定値をModeに変換する。
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeCredential, ModeLookup, ModeUpsert:
		return m, nil
	default:
		return "", fmt.Errorf("unknown identity mode: %q (credential, lookup, upsert)", s)
	}
}

// Service は識別情報ストアのサービス層。
type Service struct {
	repo       repository.IdentityRepository
	mode       Mode
	metrics    metrics.MetricsCollector
	bcryptCost int
	now        func() time.Time
}

// Option はServiceの任意設定。
type Option func(*Service)

// WithBcryptCost はbcryptのコストを変更する。テストではbcrypt.MinCostを使う。
func WithBcryptCost(cost int) Option {
	return func(s *Service) { s.bcryptCost = cost }
}

// WithClock は現在時刻の取得関数を差し替える。
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(repo repository.IdentityRepository, mode Mode, mc metrics.MetricsCollector, opts ...Option) *Service {
	s := &Service{
		repo:       repo,
		mode:       mode,
		metrics:    mc,
		bcryptCost: bcrypt.DefaultCost,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Mode は設定された識別方式を返す。
func (s *Service) Mode() Mode {
	return s.mode
}

// Register は識別子とシークレットで識別情報を登録する。credentialモード専用。
func (s *Service) Register(ctx context.Context, identifier, secret, displayName string) (*model.Identity, error) {
	if err := s.requireMode("register", ModeCredential); err != nil {
		return nil, err
	}

	identifier = model.NormalizeIdentifier(identifier)
	displayName = strings.TrimSpace(displayName)
	if identifier == "" || secret == "" || displayName == "" {
		s.metrics.RecordLogin("register", metrics.ResultInvalid)
		return nil, model.NewInvalidInputError("email, password and name are required")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(secret), s.bcryptCost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			s.metrics.RecordLogin("register", metrics.ResultInvalid)
			return nil, model.NewInvalidInputError("password is too long")
		}
		return nil, fmt.Errorf("シークレットのハッシュ化に失敗しました: %w", err)
	}

	identity := &model.Identity{
		Identifier:  identifier,
		DisplayName: displayName,
		SecretHash:  string(hash),
		CreatedAt:   s.now().UTC(),
	}
	if err := s.repo.Create(ctx, identity); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			s.metrics.RecordLogin("register", metrics.ResultConflict)
			return nil, model.NewIdentifierTakenError()
		}
		s.metrics.RecordLogin("register", metrics.ResultError)
		return nil, storeError("識別情報の登録", err)
	}

	s.metrics.RecordLogin("register", metrics.ResultOK)
	slog.Info("参加者を登録しました", slog.String("identifier", identifier))
	return identity, nil
}

// Login は識別子とシークレットを照合する。credentialモード専用。
// 識別子が存在しない場合とシークレット不一致は同じエラーを返す。
func (s *Service) Login(ctx context.Context, identifier, secret string) (*model.Identity, error) {
	if err := s.requireMode("login", ModeCredential); err != nil {
		return nil, err
	}

	identifier = model.NormalizeIdentifier(identifier)
	if identifier == "" || secret == "" {
		s.metrics.RecordLogin(string(ModeCredential), metrics.ResultInvalid)
		return nil, model.NewInvalidInputError("email and password are required")
	}

	identity, err := s.repo.FindByIdentifier(ctx, identifier)
	if err != nil {
		s.metrics.RecordLogin(string(ModeCredential), metrics.ResultError)
		return nil, storeError("識別情報の取得", err)
	}
	if identity == nil || identity.SecretHash == "" ||
		bcrypt.CompareHashAndPassword([]byte(identity.SecretHash), []byte(secret)) != nil {
		s.metrics.RecordLogin(string(ModeCredential), metrics.ResultDenied)
		return nil, model.NewInvalidCredentialsError()
	}

	s.metrics.RecordLogin(string(ModeCredential), metrics.ResultOK)
	return identity, nil
}

// LoginOrCreate はパスワードなしのログイン。識別情報がなければ作成する。
// upsertモードでは表示名が指定されていれば更新する。
func (s *Service) LoginOrCreate(ctx context.Context, identifier, displayName string) (*model.Identity, error) {
	if err := s.requireMode("loginOrCreate", ModeLookup, ModeUpsert); err != nil {
		return nil, err
	}
	mode := string(s.mode)

	identifier = strings.TrimSpace(identifier)
	displayName = strings.TrimSpace(displayName)
	if identifier == "" {
		s.metrics.RecordLogin(mode, metrics.ResultInvalid)
		return nil, model.NewInvalidInputError("username is required")
	}

	existing, err := s.repo.FindByIdentifier(ctx, identifier)
	if err != nil {
		s.metrics.RecordLogin(mode, metrics.ResultError)
		return nil, storeError("識別情報の取得", err)
	}
	if existing != nil {
		if s.mode == ModeUpsert && displayName != "" && displayName != existing.DisplayName {
			if err := s.repo.UpdateDisplayName(ctx, existing.Identifier, displayName); err != nil {
				s.metrics.RecordLogin(mode, metrics.ResultError)
				return nil, storeError("表示名の更新", err)
			}
			existing.DisplayName = displayName
		}
		s.metrics.RecordLogin(mode, metrics.ResultOK)
		return existing, nil
	}

	if displayName == "" {
		displayName = identifier
	}
	identity := &model.Identity{
		Identifier:  identifier,
		DisplayName: displayName,
		CreatedAt:   s.now().UTC(),
	}
	if err := s.repo.Create(ctx, identity); err != nil {
		if !errors.Is(err, repository.ErrConflict) {
			s.metrics.RecordLogin(mode, metrics.ResultError)
			return nil, storeError("識別情報の作成", err)
		}
		// 同時作成に負けた場合は勝者の識別情報を返す
		winner, findErr := s.repo.FindByIdentifier(ctx, identifier)
		if findErr != nil || winner == nil {
			s.metrics.RecordLogin(mode, metrics.ResultError)
			return nil, storeError("識別情報の再取得", errors.Join(err, findErr))
		}
		s.metrics.RecordLogin(mode, metrics.ResultOK)
		return winner, nil
	}

	s.metrics.RecordLogin(mode, metrics.ResultOK)
	slog.Info("参加者を作成しました", slog.String("identifier", identifier), slog.String("mode", mode))
	return identity, nil
}

func (s *Service) requireMode(op string, allowed ...Mode) error {
	for _, m := range allowed {
		if s.mode == m {
			return nil
		}
	}
	return model.NewInvalidInputError(fmt.Sprintf("operation %s not available in %s mode", op, s.mode))
}

// storeError はストアのエラーをAPIErrorに変換する。詳細はログのみに残す。
func storeError(op string, err error) error {
	slog.Error(op+"に失敗しました", slog.String("error", err.Error()))
	return model.NewUnavailableError()
}
