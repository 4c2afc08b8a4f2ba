package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/potluck/internal/model"
)

// SQLiteClaimRepo はSQLiteを使用した申込みリポジトリ。
type SQLiteClaimRepo struct {
	db *sql.DB
}

// NewSQLiteClaimRepo はSQLiteClaimRepoを生成する。
func NewSQLiteClaimRepo(db *sql.DB) *SQLiteClaimRepo {
	return &SQLiteClaimRepo{db: db}
}

// List は全申込みをcreated_at降順で返す。
func (r *SQLiteClaimRepo) List(ctx context.Context) ([]model.Claim, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT CAST(id AS TEXT), category, item, slot, owner_identifier, owner_display_name, note, created_at
		 FROM claims
		 ORDER BY created_at DESC, id DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("申込み一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	claims := []model.Claim{}
	for rows.Next() {
		var c model.Claim
		var createdAt int64
		if err := rows.Scan(
			&c.ID, &c.Category, &c.Item, &c.Slot,
			&c.OwnerIdentifier, &c.OwnerDisplayName, &c.Note, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("申込み行の読み取りに失敗しました: %w", err)
		}
		c.CreatedAt = fromMillis(createdAt)
		claims = append(claims, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("申込み一覧の走査に失敗しました: %w", err)
	}
	return claims, nil
}

// Insert は申込みを作成する。一意制約違反はErrConflictに変換する。
func (r *SQLiteClaimRepo) Insert(ctx context.Context, claim *model.Claim) error {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO claims (category, item, slot, owner_identifier, owner_display_name, note, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		claim.Category, claim.Item, claim.Slot,
		claim.OwnerIdentifier, claim.OwnerDisplayName, claim.Note, toMillis(claim.CreatedAt),
	)
	if err != nil {
		if isSQLiteUniqueViolation(err) {
			return fmt.Errorf("枠 %s は申込み済みです: %w", claim.Triple(), ErrConflict)
		}
		return fmt.Errorf("申込みの作成に失敗しました: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("申込みIDの取得に失敗しました: %w", err)
	}
	claim.ID = fmt.Sprintf("%d", id)
	return nil
}

// DeleteOwned は枠と所有者が一致する申込みを削除する。
func (r *SQLiteClaimRepo) DeleteOwned(ctx context.Context, triple model.Triple, ownerIdentifier string) error {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM claims
		 WHERE category = ? AND item = ? AND slot = ? AND owner_identifier = ? COLLATE NOCASE`,
		triple.Category, triple.Item, triple.Slot, ownerIdentifier,
	)
	if err != nil {
		return fmt.Errorf("申込みの削除に失敗しました: %w", err)
	}
	return requireAffected(result, triple)
}

// Delete は枠のみを条件に申込みを削除する。
func (r *SQLiteClaimRepo) Delete(ctx context.Context, triple model.Triple) error {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM claims WHERE category = ? AND item = ? AND slot = ?`,
		triple.Category, triple.Item, triple.Slot,
	)
	if err != nil {
		return fmt.Errorf("申込みの削除に失敗しました: %w", err)
	}
	return requireAffected(result, triple)
}

// Update は指定フィールドのみを更新する。
func (r *SQLiteClaimRepo) Update(ctx context.Context, triple model.Triple, patch model.ClaimPatch) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE claims
		 SET owner_display_name = COALESCE(?, owner_display_name),
		     note = COALESCE(?, note)
		 WHERE category = ? AND item = ? AND slot = ?`,
		patch.DisplayName, patch.Note, triple.Category, triple.Item, triple.Slot,
	)
	if err != nil {
		return fmt.Errorf("申込みの更新に失敗しました: %w", err)
	}
	return requireAffected(result, triple)
}

// compile-time interface check
var _ ClaimRepository = (*SQLiteClaimRepo)(nil)
