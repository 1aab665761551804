// Package security はアプリケーションのセキュリティ機能を提供する。
//
// 利用者が入力したテキストと外部フィードから取り込んだHTMLを、
// bluemondayの許可リストポリシーで無害化する。
package security

import (
	"html"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// httpsURL は画像として許可するURLの形式。
var httpsURL = regexp.MustCompile(`^https://`)

// Sanitizer は入力のサニタイズ機能のインターフェースを定義する。
type Sanitizer interface {
	// Sanitize はお知らせ本文として表示可能な安全なHTMLを返す。
	Sanitize(rawHTML string) string
	// PlainText はHTMLタグをすべて除去したプレーンテキストを返す。
	// 広告やプロフィールのようにテキストとして表示するフィールドに使う。
	PlainText(s string) string
}

// contentSanitizer はSanitizerの実装。
// bluemondayのポリシーはゴルーチンセーフに共有できる。
type contentSanitizer struct {
	rich   *bluemonday.Policy
	strict *bluemonday.Policy
}

// NewContentSanitizer はSanitizerを生成する。
// お知らせ本文のポリシー:
//   - 許可タグ: p, br, a, ul, ol, li, blockquote, strong, em, h3, h4, img
//   - aタグ: 絶対URLのみ、target="_blank" と rel="noopener noreferrer" を付与
//   - imgのsrc: httpsのみ
func NewContentSanitizer() *contentSanitizer {
	p := bluemonday.NewPolicy()
	p.AllowElements("p", "br", "ul", "ol", "li", "blockquote", "strong", "em", "h3", "h4")

	p.AllowAttrs("href").OnElements("a")
	p.AllowRelativeURLs(false)
	p.AddTargetBlankToFullyQualifiedLinks(true)
	p.RequireNoReferrerOnLinks(true)

	p.AllowURLSchemes("http", "https")
	p.AllowAttrs("src").Matching(httpsURL).OnElements("img")
	p.AllowAttrs("alt").OnElements("img")

	return &contentSanitizer{
		rich:   p,
		strict: bluemonday.StrictPolicy(),
	}
}

// Sanitize はお知らせ本文として表示可能な安全なHTMLを返す。
func (s *contentSanitizer) Sanitize(rawHTML string) string {
	return strings.TrimSpace(s.rich.Sanitize(rawHTML))
}

// PlainText はHTMLタグを除去し、エスケープされた文字実体を元に戻す。
func (s *contentSanitizer) PlainText(v string) string {
	return strings.TrimSpace(html.UnescapeString(s.strict.Sanitize(v)))
}
