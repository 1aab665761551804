package model

import "time"

// NewsItem は公開済みのお知らせを表す。
// 下書き状態は持たず、作成と同時に公開される。
type NewsItem struct {
	ID         string    `json:"id"`
	AuthorID   string    `json:"authorId"`
	Title      string    `json:"title"`
	Summary    string    `json:"summary"`
	Content    string    `json:"content"`
	SourceURL  *string   `json:"sourceUrl,omitempty"`
	SourceGUID *string   `json:"-"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// NewsInput はお知らせ作成フォームの入力を表す。
type NewsInput struct {
	Title   string `json:"title"`
	Summary string `json:"summary"`
	Content string `json:"content"`
}

// ImportResult は外部フィード取り込みの結果を表す。
type ImportResult struct {
	FeedURL  string `json:"feedUrl"`
	Imported int    `json:"imported"`
	Skipped  int    `json:"skipped"`
}
