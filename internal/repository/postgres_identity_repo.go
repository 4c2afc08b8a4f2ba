package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/potluck/internal/model"
)

// PostgresIdentityRepo はPostgreSQLを使用した識別情報リポジトリ。
type PostgresIdentityRepo struct {
	db *sql.DB
}

// NewPostgresIdentityRepo はPostgresIdentityRepoを生成する。
func NewPostgresIdentityRepo(db *sql.DB) *PostgresIdentityRepo {
	return &PostgresIdentityRepo{db: db}
}

// FindByIdentifier は識別子を大文字小文字を区別せずに検索する。
// 見つからない場合はnilを返す。
func (r *PostgresIdentityRepo) FindByIdentifier(ctx context.Context, identifier string) (*model.Identity, error) {
	identity := &model.Identity{}
	var secretHash sql.NullString
	err := r.db.QueryRowContext(ctx,
		`SELECT id::text, identifier, display_name, secret_hash, created_at
		 FROM identities
		 WHERE LOWER(identifier) = LOWER($1)`,
		identifier,
	).Scan(&identity.ID, &identity.Identifier, &identity.DisplayName, &secretHash, &identity.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("識別情報の取得に失敗しました: %w", err)
	}

	identity.SecretHash = secretHash.String
	return identity, nil
}

// Create は識別情報を作成する。
// LOWER(identifier)の一意インデックス違反はErrConflictとして返す。
func (r *PostgresIdentityRepo) Create(ctx context.Context, identity *model.Identity) error {
	var secretHash sql.NullString
	if identity.SecretHash != "" {
		secretHash = sql.NullString{String: identity.SecretHash, Valid: true}
	}

	err := r.db.QueryRowContext(ctx,
		`INSERT INTO identities (identifier, display_name, secret_hash, created_at)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id::text`,
		identity.Identifier, identity.DisplayName, secretHash, identity.CreatedAt,
	).Scan(&identity.ID)
	if err != nil {
		if isPostgresUniqueViolation(err) {
			return fmt.Errorf("識別子 %q は登録済みです: %w", identity.Identifier, ErrConflict)
		}
		return fmt.Errorf("識別情報の作成に失敗しました: %w", err)
	}
	return nil
}

// UpdateDisplayName は表示名を更新する。
func (r *PostgresIdentityRepo) UpdateDisplayName(ctx context.Context, identifier, displayName string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE identities SET display_name = $2 WHERE LOWER(identifier) = LOWER($1)`,
		identifier, displayName,
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
var _ IdentityRepository = (*PostgresIdentityRepo)(nil)
