package syndication

import (
	"context"
	"errors"
	"time"

	"github.com/hitoshi/coletivo/internal/model"
	"github.com/hitoshi/coletivo/internal/news"
)

// Outcome は取り込み結果の分類。
type Outcome int

const (
	// OutcomeOK は取り込み成功。
	OutcomeOK Outcome = iota
	// OutcomeStop は再試行しても回復しない失敗（404/410/401/403、SSRF、フィード未検出）。
	OutcomeStop
	// OutcomeBackoff は時間をおけば回復しうる失敗（429/5xx、ネットワークエラー）。
	OutcomeBackoff
	// OutcomeParseFailure はフィードのパース失敗。閾値まではバックオフで再試行する。
	OutcomeParseFailure
)

const (
	// initialBackoff は指数バックオフの初回遅延（30分）。
	initialBackoff = 30 * time.Minute
	// maxBackoff は指数バックオフの最大遅延（12時間）。
	maxBackoff = 12 * time.Hour
	// parseFailureThreshold はパース失敗による停止の閾値。
	parseFailureThreshold = 10
)

// ClassifyHTTPStatus はHTTPステータスコードを取り込み結果に分類する。
func ClassifyHTTPStatus(statusCode int) Outcome {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return OutcomeOK
	case statusCode == 404 || statusCode == 410:
		return OutcomeStop
	case statusCode == 401 || statusCode == 403:
		return OutcomeStop
	default:
		return OutcomeBackoff
	}
}

// Classify は news.Service.Syndicate が返したエラーを分類する。
func Classify(err error) Outcome {
	if err == nil {
		return OutcomeOK
	}

	var statusErr *news.StatusError
	if errors.As(err, &statusErr) {
		return ClassifyHTTPStatus(statusErr.StatusCode)
	}

	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case model.ErrCodeSSRFBlocked, model.ErrCodeInvalidURL, model.ErrCodeFeedNotDetected:
			return OutcomeStop
		case model.ErrCodeParseFailed:
			return OutcomeParseFailure
		}
	}

	if errors.Is(err, context.Canceled) {
		return OutcomeOK
	}
	return OutcomeBackoff
}

// CalculateBackoff は連続エラー回数に基づいて指数バックオフ遅延を計算する。
// 初回30分、2倍ずつ増加、最大12時間。
func CalculateBackoff(consecutiveErrors int) time.Duration {
	delay := initialBackoff
	for i := 0; i < consecutiveErrors; i++ {
		delay *= 2
		if delay > maxBackoff {
			return maxBackoff
		}
	}
	return delay
}

// SourceState は取り込み元ごとの状態。
type SourceState struct {
	URL               string
	ConsecutiveErrors int
	NextAttemptAt     time.Time
	Stopped           bool
	LastError         string
	LastImported      int
}

// Due は now の時点で取り込みを試みるべきかを返す。
func (s *SourceState) Due(now time.Time) bool {
	return !s.Stopped && !now.Before(s.NextAttemptAt)
}

// apply は結果に応じて状態を更新する。
func (s *SourceState) apply(outcome Outcome, err error, now time.Time) {
	switch outcome {
	case OutcomeOK:
		s.ConsecutiveErrors = 0
		s.LastError = ""
		s.NextAttemptAt = time.Time{}
	case OutcomeStop:
		s.Stopped = true
		s.LastError = err.Error()
	case OutcomeParseFailure:
		s.ConsecutiveErrors++
		s.LastError = err.Error()
		if s.ConsecutiveErrors >= parseFailureThreshold {
			s.Stopped = true
			return
		}
		s.NextAttemptAt = now.Add(CalculateBackoff(s.ConsecutiveErrors - 1))
	case OutcomeBackoff:
		s.ConsecutiveErrors++
		s.LastError = err.Error()
		s.NextAttemptAt = now.Add(CalculateBackoff(s.ConsecutiveErrors - 1))
	}
}
