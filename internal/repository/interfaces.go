// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"

	"github.com/hitoshi/coletivo/internal/model"
)

// ErrDuplicate は一意制約違反を表す。
var ErrDuplicate = errors.New("repository: duplicate key")

// UserRepository はユーザープロフィールの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのプロフィールを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.UserProfile, error)

	// Ensure はIdentityに対応するプロフィールを冪等に作成する。
	// 既存の場合は空の displayName/photoURL のみ補完し、updated_at を更新する。
	Ensure(ctx context.Context, identity model.AuthIdentity) (*model.UserProfile, error)

	// UpdateProfile は本人が編集可能なフィールドを上書きする。
	// 対象が存在しない場合はnilを返す。
	UpdateProfile(ctx context.Context, id string, update model.ProfileUpdate) (*model.UserProfile, error)
}

// IdentityRepository は外部IdP紐付け情報の永続化インターフェース。
type IdentityRepository interface {
	// FindByProviderAndProviderUserID はproviderとprovider_user_idでidentityを検索する。
	// 見つからない場合はnilを返す。
	FindByProviderAndProviderUserID(ctx context.Context, provider, providerUserID string) (*model.Identity, error)

	// Create はidentityを作成する。(provider, provider_user_id) が重複する場合は ErrDuplicate を返す。
	Create(ctx context.Context, identity *model.Identity) error
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
	// DeleteByUserID は指定ユーザーの全セッションを削除する。
	DeleteByUserID(ctx context.Context, userID string) error
}

// AdRepository は広告データの永続化インターフェース。
type AdRepository interface {
	// Create は広告を作成する。ID、CreatedAt、UpdatedAt はDB側で採番した値で上書きされる。
	Create(ctx context.Context, ad *model.Ad) error

	// FindByID は指定IDの広告を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Ad, error)

	// DeleteOwned は所有者が一致する場合のみ広告を削除し、削除したかどうかを返す。
	DeleteOwned(ctx context.Context, id, ownerID string) (bool, error)

	// SetModeration はモデレーション結果を無条件に書き込む。
	// 対象が存在しない場合はnilを返す。
	SetModeration(ctx context.Context, id string, status model.AdStatus, reviewerID string) (*model.Ad, error)

	// ListByStatus は指定状態の広告を created_at 降順で返す。
	ListByStatus(ctx context.Context, status model.AdStatus) ([]*model.Ad, error)

	// ListByOwner は指定ユーザーの広告を状態に関わらず created_at 降順で返す。
	ListByOwner(ctx context.Context, ownerID string) ([]*model.Ad, error)
}

// NewsRepository はお知らせデータの永続化インターフェース。
type NewsRepository interface {
	// Create はお知らせを作成する。
	Create(ctx context.Context, item *model.NewsItem) error

	// CreateIfNotImported は取り込み元GUIDが未登録の場合のみ作成し、作成したかどうかを返す。
	CreateIfNotImported(ctx context.Context, item *model.NewsItem) (bool, error)

	// DeleteByID は指定IDのお知らせを削除する。存在しない場合もエラーにしない。
	DeleteByID(ctx context.Context, id string) error

	// List は公開済みのお知らせを created_at 降順で最大limit件返す。
	List(ctx context.Context, limit int) ([]*model.NewsItem, error)
}
