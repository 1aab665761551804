package model

import "time"

// AdStatus は広告のモデレーション状態を表す。
type AdStatus string

const (
	AdStatusPending  AdStatus = "pending"
	AdStatusApproved AdStatus = "approved"
	AdStatusRejected AdStatus = "rejected"
)

// IsModerationResult はモデレーション操作で指定可能な状態かどうかを返す。
func (s AdStatus) IsModerationResult() bool {
	return s == AdStatusApproved || s == AdStatusRejected
}

// 既定値
const (
	DefaultAdCategory  = "Outros"
	DefaultAdOwnerName = "Usuário"
)

// Ad はマーケットプレイスの広告を表す。
// 作成時は常に pending で、以後は所有者による削除か管理者のモデレーションでのみ変化する。
type Ad struct {
	ID          string     `json:"id"`
	OwnerID     string     `json:"ownerId"`
	OwnerName   string     `json:"ownerName"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Price       float64    `json:"price"`
	Category    string     `json:"category"`
	Contact     string     `json:"contact"`
	Status      AdStatus   `json:"status"`
	ReviewedBy  *string    `json:"reviewedBy"`
	ReviewedAt  *time.Time `json:"reviewedAt"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// AdInput は広告作成フォームの入力を表す。
// Price は入力文字列のまま受け取り、作成時に数値へ変換する。
type AdInput struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Price       string `json:"price"`
	Category    string `json:"category"`
	Contact     string `json:"contact"`
}
