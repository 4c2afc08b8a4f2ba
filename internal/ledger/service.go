// Package ledger は枠の申込み台帳のドメインロジックを提供する。
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hitoshi/potluck/internal/metrics"
	"github.com/hitoshi/potluck/internal/model"
	"github.com/hitoshi/potluck/internal/repository"
	"github.com/hitoshi/potluck/internal/security"
)

// MaxNoteLength はメモの最大文字数（ルーン数）。
const MaxNoteLength = 500

// ClaimInput は枠の申込み内容。
type ClaimInput struct {
	Category         string
	Item             string
	Slot             int
	OwnerIdentifier  string
	OwnerDisplayName string
	Note             string
}

// Service は申込み台帳のサービス層。
// 枠の一意性はリポジトリ側で保証し、ここでは入力の検証とエラーの変換を行う。
type Service struct {
	repo      repository.ClaimRepository
	sanitizer security.NoteSanitizer
	metrics   metrics.MetricsCollector
	now       func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	repo repository.ClaimRepository,
	sanitizer security.NoteSanitizer,
	mc metrics.MetricsCollector,
) *Service {
	return &Service{
		repo:      repo,
		sanitizer: sanitizer,
		metrics:   mc,
		now:       time.Now,
	}
}

// ListClaims は全申込みを新しい順に返す。
func (s *Service) ListClaims(ctx context.Context) ([]model.Claim, error) {
	var claims []model.Claim
	err := s.observe("list", func() error {
		var err error
		claims, err = s.repo.List(ctx)
		return err
	})
	if err != nil {
		return nil, s.translate("申込み一覧の取得", err)
	}
	if claims == nil {
		claims = []model.Claim{}
	}
	return claims, nil
}

// Claim は空いている枠を申し込む。
// 同じ枠が申込み済みの場合はSLOT_TAKENを返し、既存の申込みは変更しない。
func (s *Service) Claim(ctx context.Context, in ClaimInput) (*model.Claim, error) {
	triple, err := ValidateTriple(model.Triple{Category: in.Category, Item: in.Item, Slot: in.Slot})
	if err != nil {
		s.metrics.RecordClaim(metrics.ResultInvalid)
		return nil, err
	}

	owner := model.NormalizeIdentifier(in.OwnerIdentifier)
	displayName := strings.TrimSpace(in.OwnerDisplayName)
	if owner == "" || displayName == "" {
		s.metrics.RecordClaim(metrics.ResultInvalid)
		return nil, model.NewInvalidInputError("user_email and user_name are required")
	}

	note, err := s.cleanNote(in.Note)
	if err != nil {
		s.metrics.RecordClaim(metrics.ResultInvalid)
		return nil, err
	}

	claim := &model.Claim{
		Category:         triple.Category,
		Item:             triple.Item,
		Slot:             triple.Slot,
		OwnerIdentifier:  owner,
		OwnerDisplayName: displayName,
		Note:             note,
		CreatedAt:        s.now().UTC(),
	}
	if err := s.observe("insert", func() error { return s.repo.Insert(ctx, claim) }); err != nil {
		apiErr := s.translate("申込みの作成", err)
		s.metrics.RecordClaim(resultOf(apiErr))
		return nil, apiErr
	}

	s.metrics.RecordClaim(metrics.ResultOK)
	slog.Info("枠を申し込みました",
		slog.String("slot", triple.String()),
		slog.String("owner", owner),
	)
	return claim, nil
}

// Release は申込み者本人による取消し。
// 所有者が一致しない場合も存在しない場合と同じSIGNUP_NOT_FOUNDを返す。
func (s *Service) Release(ctx context.Context, triple model.Triple, ownerIdentifier string) error {
	triple, err := ValidateTriple(triple)
	if err != nil {
		s.metrics.RecordRelease(metrics.ResultInvalid)
		return err
	}
	owner := model.NormalizeIdentifier(ownerIdentifier)
	if owner == "" {
		s.metrics.RecordRelease(metrics.ResultInvalid)
		return model.NewInvalidInputError("user_email is required")
	}

	if err := s.observe("delete_owned", func() error { return s.repo.DeleteOwned(ctx, triple, owner) }); err != nil {
		apiErr := s.translate("申込みの取消し", err)
		s.metrics.RecordRelease(resultOf(apiErr))
		return apiErr
	}

	s.metrics.RecordRelease(metrics.ResultOK)
	slog.Info("申込みを取り消しました",
		slog.String("slot", triple.String()),
		slog.String("owner", owner),
	)
	return nil
}

// AdminUpdate は管理者による表示名・メモの更新。枠そのものは変更できない。
func (s *Service) AdminUpdate(ctx context.Context, triple model.Triple, patch model.ClaimPatch) error {
	triple, err := ValidateTriple(triple)
	if err != nil {
		s.metrics.RecordAdminOperation("update", metrics.ResultInvalid)
		return err
	}
	if patch.IsEmpty() {
		s.metrics.RecordAdminOperation("update", metrics.ResultInvalid)
		return model.NewInvalidInputError("user_name or notes is required")
	}

	var cleaned model.ClaimPatch
	if patch.DisplayName != nil {
		name := strings.TrimSpace(*patch.DisplayName)
		if name == "" {
			s.metrics.RecordAdminOperation("update", metrics.ResultInvalid)
			return model.NewInvalidInputError("user_name must not be blank")
		}
		cleaned.DisplayName = &name
	}
	if patch.Note != nil {
		note, err := s.cleanNote(*patch.Note)
		if err != nil {
			s.metrics.RecordAdminOperation("update", metrics.ResultInvalid)
			return err
		}
		cleaned.Note = &note
	}

	if err := s.observe("update", func() error { return s.repo.Update(ctx, triple, cleaned) }); err != nil {
		apiErr := s.translate("申込みの更新", err)
		s.metrics.RecordAdminOperation("update", resultOf(apiErr))
		return apiErr
	}

	s.metrics.RecordAdminOperation("update", metrics.ResultOK)
	slog.Info("管理者が申込みを更新しました", slog.String("slot", triple.String()))
	return nil
}

// AdminDelete は管理者による強制削除。
// ownerIdentifierが空なら枠のみ、指定されていれば枠と所有者の両方で照合する。
func (s *Service) AdminDelete(ctx context.Context, triple model.Triple, ownerIdentifier string) error {
	triple, err := ValidateTriple(triple)
	if err != nil {
		s.metrics.RecordAdminOperation("delete", metrics.ResultInvalid)
		return err
	}

	owner := model.NormalizeIdentifier(ownerIdentifier)
	err = s.observe("delete", func() error {
		if owner == "" {
			return s.repo.Delete(ctx, triple)
		}
		return s.repo.DeleteOwned(ctx, triple, owner)
	})
	if err != nil {
		apiErr := s.translate("申込みの削除", err)
		s.metrics.RecordAdminOperation("delete", resultOf(apiErr))
		return apiErr
	}

	s.metrics.RecordAdminOperation("delete", metrics.ResultOK)
	slog.Info("管理者が申込みを削除しました", slog.String("slot", triple.String()))
	return nil
}

// ValidateTriple は枠キーの前後空白を除去し、必須項目と番号を検証する。
func ValidateTriple(t model.Triple) (model.Triple, error) {
	t.Category = strings.TrimSpace(t.Category)
	t.Item = strings.TrimSpace(t.Item)
	if t.Category == "" || t.Item == "" {
		return t, model.NewInvalidInputError("category and item are required")
	}
	if t.Slot <= 0 {
		return t, model.NewInvalidInputError("slot must be a positive integer")
	}
	return t, nil
}

// cleanNote はメモをプレーンテキスト化し、長さを検証する。
func (s *Service) cleanNote(raw string) (string, error) {
	note := s.sanitizer.Sanitize(strings.TrimSpace(raw))
	if utf8.RuneCountInString(note) > MaxNoteLength {
		return "", model.NewInvalidInputError(fmt.Sprintf("notes must be at most %d characters", MaxNoteLength))
	}
	return note, nil
}

// observe はストア呼び出しのレイテンシを記録する。
func (s *Service) observe(op string, fn func() error) error {
	start := time.Now()
	err := fn()
	s.metrics.RecordStoreLatency(op, time.Since(start))
	return err
}

// translate はリポジトリのエラーをAPIErrorに変換する。
// 一意制約違反と対象なし以外はストア障害として扱い、詳細はログのみに残す。
func (s *Service) translate(op string, err error) error {
	switch {
	case errors.Is(err, repository.ErrConflict):
		return model.NewSlotTakenError()
	case errors.Is(err, repository.ErrNotFound):
		return model.NewSignupNotFoundError()
	default:
		slog.Error(op+"に失敗しました", slog.String("error", err.Error()))
		return model.NewUnavailableError()
	}
}

func resultOf(err error) string {
	switch {
	case model.HasCode(err, model.ErrCodeSlotTaken):
		return metrics.ResultConflict
	case model.HasCode(err, model.ErrCodeSignupNotFound):
		return metrics.ResultNotFound
	default:
		return metrics.ResultError
	}
}
