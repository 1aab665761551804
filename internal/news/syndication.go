package news

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/hitoshi/coletivo/internal/model"
)

const (
	defaultFetchTimeout = 10 * time.Second
	defaultMaxBodySize  = 5 * 1024 * 1024

	userAgent    = "Coletivo/1.0 (+news syndication)"
	acceptHeader = "application/rss+xml, application/atom+xml, application/xml, text/xml, text/html;q=0.9, */*;q=0.5"
)

// URLGuard は取り込み元へのアクセス制限。security.URLGuard が満たす。
type URLGuard interface {
	ValidateURL(rawURL string) error
	NewSafeClient(timeout time.Duration) *http.Client
}

// StatusError は取り込み元が2xx以外のHTTPステータスを返したことを表す。
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected HTTP status %d from %s", e.StatusCode, e.URL)
}

// Entry は取り込み元フィードの1記事。
type Entry struct {
	GUID        string
	Link        string
	Title       string
	Description string
	Content     string
}

// FetchedFeed は取得してパースしたフィード。
type FetchedFeed struct {
	URL     string
	Title   string
	Entries []Entry
}

// Syndicator は外部のRSS/Atomフィードを取得してパースする。
// ページURLが渡された場合はheadのリンクからフィードを探す。
type Syndicator struct {
	guard       URLGuard
	logger      *slog.Logger
	timeout     time.Duration
	maxBodySize int64
}

// NewSyndicator はSyndicatorを生成する。
// timeout と maxBodySize が0以下の場合は既定値を使う。
func NewSyndicator(guard URLGuard, logger *slog.Logger, timeout time.Duration, maxBodySize int64) *Syndicator {
	if timeout <= 0 {
		timeout = defaultFetchTimeout
	}
	if maxBodySize <= 0 {
		maxBodySize = defaultMaxBodySize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Syndicator{
		guard:       guard,
		logger:      logger,
		timeout:     timeout,
		maxBodySize: maxBodySize,
	}
}

// Fetch はsourceURLからフィードを取得する。
// 返すエラーは *model.APIError（URL不正、SSRF、フィード未検出、パース失敗）か
// *StatusError、またはネットワークエラー。
func (s *Syndicator) Fetch(ctx context.Context, sourceURL string) (*FetchedFeed, error) {
	sourceURL = strings.TrimSpace(sourceURL)
	if sourceURL == "" {
		return nil, model.NewInvalidURLError("endereço vazio")
	}

	contentType, body, err := s.get(ctx, sourceURL)
	if err != nil {
		return nil, err
	}

	feedURL := sourceURL
	if !looksLikeFeed(contentType, body) {
		if !isHTML(contentType) {
			return nil, model.NewFeedNotDetectedError(sourceURL)
		}
		link, ok := pickFeedLink(discoverFeedLinks(body, sourceURL), sourceURL)
		if !ok {
			return nil, model.NewFeedNotDetectedError(sourceURL)
		}
		feedURL = link.URL

		s.logger.Debug("feed discovered from page",
			slog.String("page_url", sourceURL),
			slog.String("feed_url", feedURL),
		)

		if _, body, err = s.get(ctx, feedURL); err != nil {
			return nil, err
		}
	}

	parsed, err := gofeed.NewParser().ParseString(string(body))
	if err != nil {
		s.logger.Warn("failed to parse syndicated feed",
			slog.String("feed_url", feedURL),
			slog.String("error", err.Error()),
		)
		return nil, model.NewParseFailedError()
	}

	return &FetchedFeed{
		URL:     feedURL,
		Title:   parsed.Title,
		Entries: convertItems(parsed.Items),
	}, nil
}

// get はURLを検証してからGETし、Content-Typeとボディを返す。
func (s *Syndicator) get(ctx context.Context, target string) (string, []byte, error) {
	if err := s.guard.ValidateURL(target); err != nil {
		s.logger.Warn("syndication URL rejected",
			slog.String("url", target),
			slog.String("error", err.Error()),
		)
		return "", nil, model.NewSSRFBlockedError()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", nil, model.NewInvalidURLError("endereço malformado")
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", acceptHeader)

	resp, err := s.guard.NewSafeClient(s.timeout).Do(req)
	if err != nil {
		return "", nil, fmt.Errorf("HTTPリクエストに失敗しました: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", nil, &StatusError{URL: target, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, s.maxBodySize))
	if err != nil {
		return "", nil, fmt.Errorf("レスポンスの読み取りに失敗しました: %w", err)
	}
	return resp.Header.Get("Content-Type"), body, nil
}

// convertItems はgofeedの記事をEntryに変換する。
func convertItems(items []*gofeed.Item) []Entry {
	entries := make([]Entry, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		e := Entry{
			GUID:        strings.TrimSpace(item.GUID),
			Link:        strings.TrimSpace(item.Link),
			Title:       item.Title,
			Description: item.Description,
			Content:     item.Content,
		}
		// linkがなくGUIDがURLの場合はGUIDをlinkとして扱う
		if e.Link == "" && isAbsoluteHTTP(e.GUID) {
			e.Link = e.GUID
		}
		entries = append(entries, e)
	}
	return entries
}

// dedupKey は取り込み済み判定に使う識別子。GUIDがなければlinkを使う。
func (e Entry) dedupKey() string {
	if e.GUID != "" {
		return e.GUID
	}
	return e.Link
}

func isAbsoluteHTTP(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// failureReason はメトリクス用に取り込みエラーを分類する。
func failureReason(err error) string {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return "status"
	}
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case model.ErrCodeSSRFBlocked, model.ErrCodeInvalidURL:
			return "blocked"
		case model.ErrCodeFeedNotDetected:
			return "not_detected"
		case model.ErrCodeParseFailed:
			return "parse"
		case model.ErrCodePermissionDenied:
			return "permission"
		}
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return "timeout"
	}
	return "fetch"
}
