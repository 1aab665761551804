// Package syndication は外部フィードからお知らせを定期的に取り込むワーカーを提供する。
// 取り込み元ごとにバックオフと停止を管理し、semaphoreで並列数を制御する。
package syndication

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/coletivo/internal/model"
)

// Syndicator はお知らせの取り込みを実行する。news.Service が満たす。
type Syndicator interface {
	Syndicate(ctx context.Context, authorID, sourceURL string) (*model.ImportResult, error)
}

// Scheduler は取り込み元のスケジューリングと並列制御を行う。
type Scheduler struct {
	syndicator     Syndicator
	authorID       string
	logger         *slog.Logger
	maxConcurrency int

	mu      sync.Mutex
	sources []*SourceState

	now func() time.Time
}

// NewScheduler はSchedulerの新しいインスタンスを生成する。
// maxConcurrencyが0以下の場合はデフォルト値4を使用する。
// 同じURLが重複して指定された場合は1つにまとめる。
func NewScheduler(
	syndicator Syndicator,
	sources []string,
	authorID string,
	logger *slog.Logger,
	maxConcurrency int,
) *Scheduler {
	if maxConcurrency <= 0 {
		maxConcurrency = 4
	}
	seen := make(map[string]bool, len(sources))
	states := make([]*SourceState, 0, len(sources))
	for _, u := range sources {
		if seen[u] {
			continue
		}
		seen[u] = true
		states = append(states, &SourceState{URL: u})
	}
	return &Scheduler{
		syndicator:     syndicator,
		authorID:       authorID,
		logger:         logger,
		maxConcurrency: maxConcurrency,
		sources:        states,
		now:            time.Now,
	}
}

// Start は起動直後に1回、その後intervalごとに取り込みを実行する。
// コンテキストがキャンセルされるまで実行を継続する。
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("取り込みスケジューラを開始しました",
		slog.Duration("interval", interval),
		slog.Int("sources", len(s.sources)),
		slog.Int("max_concurrency", s.maxConcurrency),
	)

	s.RunOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("取り込みスケジューラを停止しました")
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce は取り込み時期に達した取り込み元を並列で取り込み、試行した件数を返す。
func (s *Scheduler) RunOnce(ctx context.Context) int {
	start := s.now()

	var due []*SourceState
	s.mu.Lock()
	for _, src := range s.sources {
		if src.Due(start) {
			due = append(due, src)
		}
	}
	s.mu.Unlock()

	if len(due) == 0 {
		s.logger.Debug("取り込み対象の取り込み元はありません")
		return 0
	}

	sem := make(chan struct{}, s.maxConcurrency)
	var wg sync.WaitGroup

	for _, src := range due {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		sem <- struct{}{}

		go func(src *SourceState) {
			defer wg.Done()
			defer func() { <-sem }()
			s.syndicate(ctx, src)
		}(src)
	}

	wg.Wait()

	s.logger.Info("取り込みサイクルが完了しました",
		slog.Int("source_count", len(due)),
		slog.Float64("duration_ms", float64(s.now().Sub(start).Milliseconds())),
	)
	return len(due)
}

func (s *Scheduler) syndicate(ctx context.Context, src *SourceState) {
	result, err := s.syndicator.Syndicate(ctx, s.authorID, src.URL)
	outcome := Classify(err)

	s.mu.Lock()
	defer s.mu.Unlock()

	src.apply(outcome, err, s.now())
	if result != nil {
		src.LastImported = result.Imported
	}

	if err == nil {
		return
	}
	attrs := []any{
		slog.String("source_url", src.URL),
		slog.String("error", err.Error()),
		slog.Int("consecutive_errors", src.ConsecutiveErrors),
	}
	switch {
	case src.Stopped:
		s.logger.Error("取り込み元を停止しました", attrs...)
	case outcome == OutcomeOK:
		// キャンセルは失敗として扱わない
	default:
		s.logger.Warn("取り込みに失敗しました",
			append(attrs, slog.Time("next_attempt_at", src.NextAttemptAt))...)
	}
}

// States は取り込み元の状態のコピーを返す。
func (s *Scheduler) States() []SourceState {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SourceState, len(s.sources))
	for i, src := range s.sources {
		out[i] = *src
	}
	return out
}
