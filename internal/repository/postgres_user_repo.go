package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/coletivo/internal/model"
)

const userColumns = `id, email, display_name, photo_url, bio, role, created_at, updated_at`

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

// FindByID は指定IDのプロフィールを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id string) (*model.UserProfile, error) {
	p, err := scanProfile(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`,
		id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by ID: %w", err)
	}
	return p, nil
}

// Ensure はIdentityに対応するプロフィールを冪等に作成する。
// 同時に初回ログインが走っても1行にまとまるよう、単一のUPSERTで処理する。
// 既存行では空の display_name/photo_url だけを補完し、role と bio には触れない。
func (r *PostgresUserRepo) Ensure(ctx context.Context, identity model.AuthIdentity) (*model.UserProfile, error) {
	initialName := identity.DisplayName
	if initialName == "" {
		initialName = model.DefaultDisplayName
	}

	p, err := scanProfile(r.db.QueryRowContext(ctx,
		`INSERT INTO users (id, email, display_name, photo_url, bio, role, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, '', 'user', now(), now())
		 ON CONFLICT (id) DO UPDATE SET
		     display_name = CASE
		         WHEN users.display_name = '' AND $5::text <> '' THEN $5::text
		         ELSE users.display_name END,
		     photo_url = CASE
		         WHEN users.photo_url = '' AND $4::text <> '' THEN $4::text
		         ELSE users.photo_url END,
		     updated_at = now()
		 RETURNING `+userColumns,
		identity.UID, identity.Email, initialName, identity.PhotoURL, identity.DisplayName,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to ensure user: %w", err)
	}
	return p, nil
}

// UpdateProfile は本人が編集可能なフィールドを上書きする。
// 対象が存在しない場合はnilを返す。
func (r *PostgresUserRepo) UpdateProfile(ctx context.Context, id string, update model.ProfileUpdate) (*model.UserProfile, error) {
	p, err := scanProfile(r.db.QueryRowContext(ctx,
		`UPDATE users
		 SET display_name = $2, bio = $3, photo_url = $4, updated_at = now()
		 WHERE id = $1
		 RETURNING `+userColumns,
		id, update.DisplayName, update.Bio, update.PhotoURL,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update user profile: %w", err)
	}
	return p, nil
}

func scanProfile(row *sql.Row) (*model.UserProfile, error) {
	p := &model.UserProfile{}
	var role string
	if err := row.Scan(&p.ID, &p.Email, &p.DisplayName, &p.PhotoURL, &p.Bio, &role, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.Role = model.Role(role)
	return p, nil
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
