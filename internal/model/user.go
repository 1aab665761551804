// Package model はドメインモデルを定義する。
package model

import "time"

// Role はユーザーの権限区分を表す。
// 外部（運用側）で付与され、公開APIからは変更できない。
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// DefaultDisplayName は表示名を持たない新規ユーザーに与える名前。
const DefaultDisplayName = "Novo usuário"

// MaxDisplayNameLength は表示名の最大文字数。
const MaxDisplayNameLength = 80

// UserProfile はサービス利用ユーザーのプロフィールを表す。
// IDは認証済みIdentityのUIDと一致し、変更されない。
type UserProfile struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"displayName"`
	PhotoURL    string    `json:"photoURL"`
	Bio         string    `json:"bio"`
	Role        Role      `json:"role"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// IsAdmin は管理者権限を持つかどうかを返す。
func (p *UserProfile) IsAdmin() bool {
	return p != nil && p.Role == RoleAdmin
}

// ProfileUpdate はプロフィール編集の入力を表す。
type ProfileUpdate struct {
	DisplayName string `json:"displayName"`
	Bio         string `json:"bio"`
	PhotoURL    string `json:"photoURL"`
}

// AuthIdentity はIdPが認証結果として返す主体を表す。
type AuthIdentity struct {
	UID         string
	Email       string
	DisplayName string
	PhotoURL    string
}

// 認証プロバイダ名
const (
	ProviderGoogle   = "google"
	ProviderPassword = "password"
)

// Identity は外部IdPとの紐付け情報を表す。
// password プロバイダの場合は ProviderUserID に正規化済みメールアドレスを保持する。
type Identity struct {
	ID             string
	UserID         string
	Provider       string
	ProviderUserID string
	Email          string
	PasswordHash   string
	CreatedAt      time.Time
}

// Session はユーザーのログインセッションを表す。
type Session struct {
	ID        string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}
