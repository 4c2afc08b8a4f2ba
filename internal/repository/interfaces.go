// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"

	"github.com/hitoshi/potluck/internal/model"
)

// リポジトリ共通のエラー。実装はこれらを%wでラップして返す。
var (
	// ErrConflict は一意制約違反（枠の重複、識別子の重複）を表す。
	ErrConflict = errors.New("unique constraint violated")
	// ErrNotFound は更新・削除対象の行が存在しないことを表す。
	ErrNotFound = errors.New("row not found")
	// ErrUnavailable はバックエンドのストアに到達できないことを表す。
	ErrUnavailable = errors.New("store unavailable")
)

// IdentityRepository は参加者の識別情報の永続化インターフェース。
type IdentityRepository interface {
	// FindByIdentifier は識別子を大文字小文字を区別せずに検索する。
	// 見つからない場合はnilを返す。
	FindByIdentifier(ctx context.Context, identifier string) (*model.Identity, error)

	// Create は識別情報を作成する。識別子が重複する場合はErrConflictを返す。
	Create(ctx context.Context, identity *model.Identity) error

	// UpdateDisplayName は表示名を更新する。対象がない場合はErrNotFoundを返す。
	UpdateDisplayName(ctx context.Context, identifier, displayName string) error
}

// ClaimRepository は枠の申込みの永続化インターフェース。
// (category, item, slot) の一意性はストレージ層で保証する。
type ClaimRepository interface {
	// List は全申込みをcreated_at降順で返す。
	List(ctx context.Context) ([]model.Claim, error)

	// Insert は申込みを原子的に作成する。
	// 同じ枠の申込みが存在する場合はErrConflictを返し、既存の行は変更しない。
	Insert(ctx context.Context, claim *model.Claim) error

	// DeleteOwned は枠と所有者（大文字小文字を区別しない）が一致する申込みを削除する。
	// 一致する行がない場合はErrNotFoundを返す。
	DeleteOwned(ctx context.Context, triple model.Triple, ownerIdentifier string) error

	// Delete は枠のみを条件に申込みを削除する。行がない場合はErrNotFoundを返す。
	Delete(ctx context.Context, triple model.Triple) error

	// Update は指定フィールドのみを更新する。行がない場合はErrNotFoundを返す。
	Update(ctx context.Context, triple model.Triple, patch model.ClaimPatch) error
}

// Pinger はストアの疎通確認インターフェース。ヘルスチェックで使用する。
type Pinger interface {
	PingContext(ctx context.Context) error
}
