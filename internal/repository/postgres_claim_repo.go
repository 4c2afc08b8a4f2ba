package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/potluck/internal/model"
)

// PostgresClaimRepo はPostgreSQLを使用した申込みリポジトリ。
// 枠の一意性は UNIQUE (category, item, slot) 制約で保証する。
type PostgresClaimRepo struct {
	db *sql.DB
}

// NewPostgresClaimRepo はPostgresClaimRepoを生成する。
func NewPostgresClaimRepo(db *sql.DB) *PostgresClaimRepo {
	return &PostgresClaimRepo{db: db}
}

// List は全申込みをcreated_at降順で返す。
func (r *PostgresClaimRepo) List(ctx context.Context) ([]model.Claim, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id::text, category, item, slot, owner_identifier, owner_display_name, note, created_at
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
		if err := rows.Scan(
			&c.ID, &c.Category, &c.Item, &c.Slot,
			&c.OwnerIdentifier, &c.OwnerDisplayName, &c.Note, &c.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("申込み行の読み取りに失敗しました: %w", err)
		}
		claims = append(claims, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("申込み一覧の走査に失敗しました: %w", err)
	}
	return claims, nil
}

// Insert は申込みを作成する。
// 存在確認とINSERTを分けず、一意制約違反をErrConflictに変換することで原子性を担保する。
func (r *PostgresClaimRepo) Insert(ctx context.Context, claim *model.Claim) error {
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO claims (category, item, slot, owner_identifier, owner_display_name, note, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id::text`,
		claim.Category, claim.Item, claim.Slot,
		claim.OwnerIdentifier, claim.OwnerDisplayName, claim.Note, claim.CreatedAt,
	).Scan(&claim.ID)
	if err != nil {
		if isPostgresUniqueViolation(err) {
			return fmt.Errorf("枠 %s は申込み済みです: %w", claim.Triple(), ErrConflict)
		}
		return fmt.Errorf("申込みの作成に失敗しました: %w", err)
	}
	return nil
}

// DeleteOwned は枠と所有者が一致する申込みを削除する。
func (r *PostgresClaimRepo) DeleteOwned(ctx context.Context, triple model.Triple, ownerIdentifier string) error {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM claims
		 WHERE category = $1 AND item = $2 AND slot = $3 AND LOWER(owner_identifier) = LOWER($4)`,
		triple.Category, triple.Item, triple.Slot, ownerIdentifier,
	)
	if err != nil {
		return fmt.Errorf("申込みの削除に失敗しました: %w", err)
	}
	return requireAffected(result, triple)
}

// Delete は枠のみを条件に申込みを削除する。
func (r *PostgresClaimRepo) Delete(ctx context.Context, triple model.Triple) error {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM claims WHERE category = $1 AND item = $2 AND slot = $3`,
		triple.Category, triple.Item, triple.Slot,
	)
	if err != nil {
		return fmt.Errorf("申込みの削除に失敗しました: %w", err)
	}
	return requireAffected(result, triple)
}

// Update は指定フィールドのみを更新する。nilのフィールドはCOALESCEで既存値を維持する。
func (r *PostgresClaimRepo) Update(ctx context.Context, triple model.Triple, patch model.ClaimPatch) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE claims
		 SET owner_display_name = COALESCE($4, owner_display_name),
		     note = COALESCE($5, note)
		 WHERE category = $1 AND item = $2 AND slot = $3`,
		triple.Category, triple.Item, triple.Slot, patch.DisplayName, patch.Note,
	)
	if err != nil {
		return fmt.Errorf("申込みの更新に失敗しました: %w", err)
	}
	return requireAffected(result, triple)
}

// requireAffected は1行以上が変更されたことを確認し、0行ならErrNotFoundを返す。
func requireAffected(result sql.Result, triple model.Triple) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("変更結果の取得に失敗しました: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("申込みが見つかりません: %s: %w", triple, ErrNotFound)
	}
	return nil
}

// compile-time interface check
var _ ClaimRepository = (*PostgresClaimRepo)(nil)
