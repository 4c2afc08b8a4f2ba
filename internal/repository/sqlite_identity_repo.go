package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/potluck/internal/model"
)

// SQLiteIdentityRepo はSQLiteを使用した識別情報リポジトリ。
// identifier列はCOLLATE NOCASEのUNIQUE制約を持つ。
type SQLiteIdentityRepo struct {
	db *sql.DB
}

// NewSQLiteIdentityRepo はSQLiteIdentityRepoを生成する。
func NewSQLiteIdentityRepo(db *sql.DB) *SQLiteIdentityRepo {
	return &SQLiteIdentityRepo{db: db}
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// FindByIdentifier は識別子を大文字小文字を区別せずに検索する。
// 見つからない場合はnilを返す。
func (r *SQLiteIdentityRepo) FindByIdentifier(ctx context.Context, identifier string) (*model.Identity, error) {
	identity := &model.Identity{}
	var secretHash sql.NullString
	var createdAt int64
	err := r.db.QueryRowContext(ctx,
		`SELECT CAST(id AS TEXT), identifier, display_name, secret_hash, created_at
		 FROM identities
		 WHERE identifier = ? COLLATE NOCASE`,
		identifier,
	).Scan(&identity.ID, &identity.Identifier, &identity.DisplayName, &secretHash, &createdAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("識別情報の取得に失敗しました: %w", err)
	}

	identity.SecretHash = secretHash.String
	identity.CreatedAt = fromMillis(createdAt)
	return identity, nil
}

// Create は識別情報を作成する。
func (r *SQLiteIdentityRepo) Create(ctx context.Context, identity *model.Identity) error {
	var secretHash sql.NullString
	if identity.SecretHash != "" {
		secretHash = sql.NullString{String: identity.SecretHash, Valid: true}
	}

	result, err := r.db.ExecContext(ctx,
		`INSERT INTO identities (identifier, display_name, secret_hash, created_at)
		 VALUES (?, ?, ?, ?)`,
		identity.Identifier, identity.DisplayName, secretHash, toMillis(identity.CreatedAt),
	)
	if err != nil {
		if isSQLiteUniqueViolation(err) {
			return fmt.Errorf("識別子 %q は登録済みです: %w", identity.Identifier, ErrConflict)
		}
		return fmt.Errorf("識別情報の作成に失敗しました: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("識別情報IDの取得に失敗しました: %w", err)
	}
	identity.ID = fmt.Sprintf("%d", id)
	return nil
}

// UpdateDisplayName は表示名を更新する。
func (r *SQLiteIdentityRepo) UpdateDisplayName(ctx context.Context, identifier, displayName string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE identities SET display_name = ? WHERE identifier = ? COLLATE NOCASE`,
		displayName, identifier,
	)
	if err != nil {
		return fmt.Errorf("表示名の更新に失敗しました: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("更新結果の取得に失敗しました: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("識別情報が見つかりません: %s: %w", identifier, ErrNotFound)
	}
	return nil
}

// compile-time interface check
var _ IdentityRepository = (*SQLiteIdentityRepo)(nil)
