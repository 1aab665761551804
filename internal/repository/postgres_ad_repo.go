package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/coletivo/internal/model"
)

const adColumns = `id, owner_id, owner_name, title, description, price, category, contact,
	status, reviewed_by, reviewed_at, created_at, updated_at`

// rowScanner は *sql.Row と *sql.Rows の共通インターフェース。
type rowScanner interface {
	Scan(dest ...any) error
}

// PostgresAdRepo はPostgreSQLを使用した広告リポジトリ。
type PostgresAdRepo struct {
	db *sql.DB
}

// NewPostgresAdRepo はPostgresAdRepoを生成する。
func NewPostgresAdRepo(db *sql.DB) *PostgresAdRepo {
	return &PostgresAdRepo{db: db}
}

// Create は広告を作成する。作成日時と更新日時はサーバー時刻を使う。
func (r *PostgresAdRepo) Create(ctx context.Context, ad *model.Ad) error {
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO ads (id, owner_id, owner_name, title, description, price, category, contact,
		                  status, reviewed_by, reviewed_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NULL, NULL, now(), now())
		 RETURNING created_at, updated_at`,
		ad.ID, ad.OwnerID, ad.OwnerName, ad.Title, ad.Description, ad.Price, ad.Category,
		ad.Contact, string(ad.Status),
	).Scan(&ad.CreatedAt, &ad.UpdatedAt)
	if err != nil {
		return fmt.Errorf("広告の作成に失敗しました: %w", err)
	}
	return nil
}

// FindByID は指定IDの広告を取得する。見つからない場合はnilを返す。
func (r *PostgresAdRepo) FindByID(ctx context.Context, id string) (*model.Ad, error) {
	ad, err := scanAd(r.db.QueryRowContext(ctx,
		`SELECT `+adColumns+` FROM ads WHERE id = $1`, id,
	))
	if err == sql.ErrNoRows || isInvalidID(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("広告の取得に失敗しました: %w", err)
	}
	return ad, nil
}

// DeleteOwned は所有者が一致する場合のみ広告を削除する。
// 取得から削除までの間に他の操作が割り込んでも、他人の広告は削除されない。
func (r *PostgresAdRepo) DeleteOwned(ctx context.Context, id, ownerID string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM ads WHERE id = $1 AND owner_id = $2`, id, ownerID,
	)
	if isInvalidID(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("広告の削除に失敗しました: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("削除件数の取得に失敗しました: %w", err)
	}
	return n > 0, nil
}

// SetModeration はモデレーション結果を現在の状態に関わらず書き込む。
func (r *PostgresAdRepo) SetModeration(ctx context.Context, id string, status model.AdStatus, reviewerID string) (*model.Ad, error) {
	ad, err := scanAd(r.db.QueryRowContext(ctx,
		`UPDATE ads
		 SET status = $2, reviewed_by = $3, reviewed_at = now(), updated_at = now()
		 WHERE id = $1
		 RETURNING `+adColumns,
		id, string(status), reviewerID,
	))
	if err == sql.ErrNoRows || isInvalidID(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("モデレーション結果の保存に失敗しました: %w", err)
	}
	return ad, nil
}

// ListByStatus は指定状態の広告を created_at 降順で返す。
func (r *PostgresAdRepo) ListByStatus(ctx context.Context, status model.AdStatus) ([]*model.Ad, error) {
	return r.list(ctx,
		`SELECT `+adColumns+` FROM ads WHERE status = $1 ORDER BY created_at DESC, id`,
		string(status),
	)
}

// ListByOwner は指定ユーザーの広告を created_at 降順で返す。
func (r *PostgresAdRepo) ListByOwner(ctx context.Context, ownerID string) ([]*model.Ad, error) {
	return r.list(ctx,
		`SELECT `+adColumns+` FROM ads WHERE owner_id = $1 ORDER BY created_at DESC, id`,
		ownerID,
	)
}

func (r *PostgresAdRepo) list(ctx context.Context, query string, args ...any) ([]*model.Ad, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("広告一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	ads := []*model.Ad{}
	for rows.Next() {
		ad, err := scanAd(rows)
		if err != nil {
			return nil, fmt.Errorf("広告のスキャンに失敗しました: %w", err)
		}
		ads = append(ads, ad)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("広告一覧の走査に失敗しました: %w", err)
	}
	return ads, nil
}

func scanAd(s rowScanner) (*model.Ad, error) {
	ad := &model.Ad{}
	var status string
	var reviewedBy sql.NullString
	var reviewedAt sql.NullTime
	err := s.Scan(
		&ad.ID, &ad.OwnerID, &ad.OwnerName, &ad.Title, &ad.Description, &ad.Price,
		&ad.Category, &ad.Contact, &status, &reviewedBy, &reviewedAt,
		&ad.CreatedAt, &ad.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	ad.Status = model.AdStatus(status)
	if reviewedBy.Valid {
		v := reviewedBy.String
		ad.ReviewedBy = &v
	}
	if reviewedAt.Valid {
		v := reviewedAt.Time
		ad.ReviewedAt = &v
	}
	return ad, nil
}

// compile-time interface check
var _ AdRepository = (*PostgresAdRepo)(nil)
