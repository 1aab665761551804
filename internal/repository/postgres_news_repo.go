package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/coletivo/internal/model"
)

const newsColumns = `id, author_id, title, summary, content, source_url, source_guid, created_at, updated_at`

// PostgresNewsRepo はPostgreSQLを使用したお知らせリポジトリ。
type PostgresNewsRepo struct {
	db *sql.DB
}

// NewPostgresNewsRepo はPostgresNewsRepoを生成する。
func NewPostgresNewsRepo(db *sql.DB) *PostgresNewsRepo {
	return &PostgresNewsRepo{db: db}
}

// Create はお知らせを作成する。
func (r *PostgresNewsRepo) Create(ctx context.Context, item *model.NewsItem) error {
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO news (id, author_id, title, summary, content, source_url, source_guid, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now())
		 RETURNING created_at, updated_at`,
		item.ID, item.AuthorID, item.Title, item.Summary, item.Content,
		nullString(item.SourceURL), nullString(item.SourceGUID),
	).Scan(&item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return fmt.Errorf("お知らせの作成に失敗しました: %w", err)
	}
	return nil
}

// CreateIfNotImported は取り込み元GUIDが未登録の場合のみ作成する。
func (r *PostgresNewsRepo) CreateIfNotImported(ctx context.Context, item *model.NewsItem) (bool, error) {
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO news (id, author_id, title, summary, content, source_url, source_guid, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now())
		 ON CONFLICT (source_guid) WHERE source_guid IS NOT NULL DO NOTHING
		 RETURNING created_at, updated_at`,
		item.ID, item.AuthorID, item.Title, item.Summary, item.Content,
		nullString(item.SourceURL), nullString(item.SourceGUID),
	).Scan(&item.CreatedAt, &item.UpdatedAt)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("お知らせの取り込みに失敗しました: %w", err)
	}
	return true, nil
}

// DeleteByID は指定IDのお知らせを削除する。
func (r *PostgresNewsRepo) DeleteByID(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM news WHERE id = $1`, id)
	if isInvalidID(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("お知らせの削除に失敗しました: %w", err)
	}
	return nil
}

// List は公開済みのお知らせを created_at 降順で返す。
func (r *PostgresNewsRepo) List(ctx context.Context, limit int) ([]*model.NewsItem, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+newsColumns+` FROM news ORDER BY created_at DESC, id LIMIT $1`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("お知らせ一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	items := []*model.NewsItem{}
	for rows.Next() {
		item := &model.NewsItem{}
		var authorID, sourceURL, sourceGUID sql.NullString
		if err := rows.Scan(&item.ID, &authorID, &item.Title, &item.Summary, &item.Content,
			&sourceURL, &sourceGUID, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("お知らせのスキャンに失敗しました: %w", err)
		}
		item.AuthorID = authorID.String
		item.SourceURL = stringPtr(sourceURL)
		item.SourceGUID = stringPtr(sourceGUID)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("お知らせ一覧の走査に失敗しました: %w", err)
	}
	return items, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

// compile-time interface check
var _ NewsRepository = (*PostgresNewsRepo)(nil)
