// Package news はお知らせの公開、削除、一覧、外部フィードからの取り込みを提供する。
package news

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/hitoshi/coletivo/internal/model"
	"github.com/hitoshi/coletivo/internal/realtime"
	"github.com/hitoshi/coletivo/internal/repository"
)

const (
	// listLimit は一覧で返すお知らせの最大件数。
	listLimit = 200
	// summaryExcerptLength は本文から作る要約の最大文字数。
	summaryExcerptLength = 280

	// 入力長の上限（文字数）
	maxTitleLength   = 200
	maxSummaryLength = 1000
	// maxSourceKeyLength を超える取り込み元キーはハッシュ値で保存する。
	maxSourceKeyLength = 512
)

// ProfileFinder は操作主体のプロフィールを取得する。
type ProfileFinder interface {
	FindByID(ctx context.Context, id string) (*model.UserProfile, error)
}

// ContentSanitizer は本文HTMLとプレーンテキストのサニタイズ。security.Sanitizer が満たす。
type ContentSanitizer interface {
	Sanitize(rawHTML string) string
	PlainText(s string) string
}

// FeedFetcher は外部フィードを取得する。*Syndicator が満たす。
type FeedFetcher interface {
	Fetch(ctx context.Context, sourceURL string) (*FetchedFeed, error)
}

// Recorder はお知らせ操作のメトリクスを記録する。
type Recorder interface {
	RecordNewsPublished()
	RecordNewsDeleted()
	RecordNewsImported(imported, skipped int)
	RecordImportFailure(reason string)
	RecordImportLatency(d time.Duration)
}

// Service はお知らせのサービス層。
type Service struct {
	newsRepo  repository.NewsRepository
	profiles  ProfileFinder
	sanitizer ContentSanitizer
	fetcher   FeedFetcher
	hub       *realtime.Hub
	metrics   Recorder
}

// NewService はServiceの新しいインスタンスを生成する。
// fetcher が nil の場合は取り込みを行えない。metrics は nil でもよい。
func NewService(
	newsRepo repository.NewsRepository,
	profiles ProfileFinder,
	sanitizer ContentSanitizer,
	fetcher FeedFetcher,
	hub *realtime.Hub,
	metrics Recorder,
) *Service {
	return &Service{
		newsRepo:  newsRepo,
		profiles:  profiles,
		sanitizer: sanitizer,
		fetcher:   fetcher,
		hub:       hub,
		metrics:   metrics,
	}
}

// CreateNews は管理者がお知らせを公開する。作成と同時に一覧に表示される。
func (s *Service) CreateNews(ctx context.Context, authorID string, input model.NewsInput) (*model.NewsItem, error) {
	if err := s.requireAdmin(ctx, authorID); err != nil {
		return nil, err
	}

	item := &model.NewsItem{
		ID:       uuid.New().String(),
		AuthorID: authorID,
		Title:    s.sanitizer.PlainText(input.Title),
		Summary:  s.sanitizer.PlainText(input.Summary),
		Content:  strings.TrimSpace(s.sanitizer.Sanitize(input.Content)),
	}
	if item.Title == "" || item.Summary == "" || item.Content == "" {
		return nil, model.NewInvalidArgumentError("Preencha título, resumo e conteúdo.")
	}
	if utf8.RuneCountInString(item.Title) > maxTitleLength {
		return nil, model.NewInvalidArgumentError(
			fmt.Sprintf("O título deve ter no máximo %d caracteres.", maxTitleLength))
	}
	if utf8.RuneCountInString(item.Summary) > maxSummaryLength {
		return nil, model.NewInvalidArgumentError(
			fmt.Sprintf("O resumo deve ter no máximo %d caracteres.", maxSummaryLength))
	}

	if err := s.newsRepo.Create(ctx, item); err != nil {
		return nil, fmt.Errorf("お知らせの作成に失敗しました: %w", err)
	}

	if s.metrics != nil {
		s.metrics.RecordNewsPublished()
	}
	slog.Info("news published",
		slog.String("news_id", item.ID),
		slog.String("author_id", authorID),
	)
	return item, nil
}

// DeleteNews は管理者がお知らせを削除する。存在しないIDでもエラーにしない。
// UUID形式でないIDは存在しないIDとして扱う。
func (s *Service) DeleteNews(ctx context.Context, newsID, requesterID string) error {
	if err := s.requireAdmin(ctx, requesterID); err != nil {
		return err
	}
	if _, err := uuid.Parse(newsID); err != nil {
		return nil
	}
	if err := s.newsRepo.DeleteByID(ctx, newsID); err != nil {
		return fmt.Errorf("お知らせの削除に失敗しました: %w", err)
	}

	if s.metrics != nil {
		s.metrics.RecordNewsDeleted()
	}
	slog.Info("news deleted",
		slog.String("news_id", newsID),
		slog.String("requester_id", requesterID),
	)
	return nil
}

// Snapshot は公開中のお知らせを created_at 降順で返す。
func (s *Service) Snapshot(ctx context.Context) ([]*model.NewsItem, error) {
	items, err := s.newsRepo.List(ctx, listLimit)
	if err != nil {
		return nil, fmt.Errorf("お知らせ一覧の取得に失敗しました: %w", err)
	}
	return items, nil
}

// ListPublished は公開中のお知らせのライブクエリを開始する。
func (s *Service) ListPublished(onData func([]*model.NewsItem), onError func(error)) *realtime.Subscription {
	return realtime.Watch(s.hub, realtime.ChannelNews, s.Snapshot, onData, onError)
}

// Import は管理者の依頼で外部フィードを取り込む。記事の作成者は依頼した管理者になる。
func (s *Service) Import(ctx context.Context, requesterID, sourceURL string) (*model.ImportResult, error) {
	if err := s.requireAdmin(ctx, requesterID); err != nil {
		return nil, err
	}

	result, err := s.Syndicate(ctx, requesterID, sourceURL)
	if err != nil {
		var statusErr *StatusError
		if errors.As(err, &statusErr) {
			return nil, model.NewFetchFailedError(fmt.Sprintf("HTTP %d", statusErr.StatusCode))
		}
		var apiErr *model.APIError
		if errors.As(err, &apiErr) {
			return nil, apiErr
		}
		return nil, model.NewFetchFailedError("o servidor não respondeu")
	}
	return result, nil
}

// Syndicate はsourceURLのフィードを取り込み、authorIDを作成者としてお知らせを作成する。
// 権限は確認しない。定期取り込みのワーカーと Import から呼ばれる。
// GUID（なければlink）が取り込み済みの記事とタイトルのない記事はスキップする。
func (s *Service) Syndicate(ctx context.Context, authorID, sourceURL string) (*model.ImportResult, error) {
	if s.fetcher == nil {
		return nil, errors.New("news: syndication is not configured")
	}

	start := time.Now()
	feed, err := s.fetcher.Fetch(ctx, sourceURL)
	if s.metrics != nil {
		s.metrics.RecordImportLatency(time.Since(start))
	}
	if err != nil {
		if s.metrics != nil {
			s.metrics.RecordImportFailure(failureReason(err))
		}
		return nil, err
	}

	result := &model.ImportResult{FeedURL: feed.URL}
	for _, entry := range feed.Entries {
		item := s.entryToNews(authorID, entry)
		if item == nil {
			result.Skipped++
			continue
		}
		created, err := s.newsRepo.CreateIfNotImported(ctx, item)
		if err != nil {
			if s.metrics != nil {
				s.metrics.RecordImportFailure("store")
			}
			return nil, fmt.Errorf("取り込んだお知らせの保存に失敗しました: %w", err)
		}
		if created {
			result.Imported++
		} else {
			result.Skipped++
		}
	}

	if s.metrics != nil {
		s.metrics.RecordNewsImported(result.Imported, result.Skipped)
	}
	slog.Info("news imported",
		slog.String("feed_url", feed.URL),
		slog.String("author_id", authorID),
		slog.Int("imported", result.Imported),
		slog.Int("skipped", result.Skipped),
	)
	return result, nil
}

// entryToNews はフィードの記事をお知らせに変換する。取り込めない記事はnilを返す。
// 長すぎるタイトルは切り詰める。
func (s *Service) entryToNews(authorID string, e Entry) *model.NewsItem {
	title := excerpt(s.sanitizer.PlainText(e.Title), maxTitleLength)
	guid := sourceKey(e.dedupKey())
	if title == "" || guid == "" {
		return nil
	}

	rawContent := e.Content
	if strings.TrimSpace(rawContent) == "" {
		rawContent = e.Description
	}
	content := strings.TrimSpace(s.sanitizer.Sanitize(rawContent))

	summary := s.sanitizer.PlainText(e.Description)
	if summary == "" {
		summary = s.sanitizer.PlainText(rawContent)
	}
	summary = excerpt(summary, summaryExcerptLength)
	if summary == "" {
		summary = title
	}
	if content == "" {
		content = "<p>" + html.EscapeString(summary) + "</p>"
	}

	item := &model.NewsItem{
		ID:         uuid.New().String(),
		AuthorID:   authorID,
		Title:      title,
		Summary:    summary,
		Content:    content,
		SourceGUID: &guid,
	}
	if isAbsoluteHTTP(e.Link) {
		link := e.Link
		item.SourceURL = &link
	}
	return item
}

// excerpt は空白を詰めたうえで最大maxRunes文字に切り詰める。
// 切り詰めた場合は末尾を "…" にする。
func excerpt(s string, maxRunes int) string {
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) <= maxRunes {
		return s
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[:maxRunes-1])) + "…"
}

// sourceKey は重複判定に使うキーを保存できる長さに収める。
// 同じ入力からは常に同じキーになる。
func sourceKey(key string) string {
	if utf8.RuneCountInString(key) <= maxSourceKeyLength {
		return key
	}
	sum := sha256.Sum256([]byte(key))
	return "sha256:" + hex.EncodeToString(sum[:])
}

// requireAdmin は userID のプロフィールが管理者であることを確認する。
func (s *Service) requireAdmin(ctx context.Context, userID string) error {
	profile, err := s.profiles.FindByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("権限の確認に失敗しました: %w", err)
	}
	if !profile.IsAdmin() {
		return model.NewAdminOnlyError()
	}
	return nil
}
