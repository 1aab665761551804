// Package realtime はPostgreSQLのLISTEN/NOTIFYを使ったライブクエリを提供する。
//
// Hub は1本の通知接続を共有し、チャネルごとの購読者へ変更を配信する。
// 購読者は通知を受けるたびにクエリを再実行し、最新のスナップショット全体を受け取る。
// 配信はステートレスで、エラー後に届いたデータはそのまま回復として扱える。
package realtime

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/lib/pq"
)

// 変更通知チャネル名。マイグレーションのトリガーが発行する。
const (
	ChannelAds   = "ads_changed"
	ChannelNews  = "news_changed"
	ChannelUsers = "users_changed"
)

// Source は変更通知の供給元。*pq.Listener が満たす。
// 接続の再確立時には nil の通知が届く。
type Source interface {
	Listen(channel string) error
	NotificationChannel() <-chan *pq.Notification
	Close() error
}

// Gauge は購読者数を報告するメトリクス。prometheus.Gauge が満たす。
type Gauge interface {
	Set(float64)
}

// Option はHubの設定を変更する。
type Option func(*Hub)

// WithResyncInterval は通知の取りこぼしに備えた定期再取得の間隔を設定する。
// 0以下の場合は定期再取得を行わない。
func WithResyncInterval(d time.Duration) Option {
	return func(h *Hub) { h.resync = d }
}

// WithSubscriberGauge は購読者数を報告するゲージを設定する。
func WithSubscriberGauge(g Gauge) Option {
	return func(h *Hub) { h.gauge = g }
}

// Hub は変更通知を購読者へ振り分ける。
type Hub struct {
	source   Source
	channels []string
	logger   *slog.Logger
	resync   time.Duration
	gauge    Gauge

	mu    sync.Mutex
	subs  map[string]map[*subscriber]struct{}
	count int
}

// NewHub はHubを生成する。channelsはRunの開始時にLISTENする。
func NewHub(source Source, channels []string, logger *slog.Logger, opts ...Option) *Hub {
	h := &Hub{
		source:   source,
		channels: channels,
		logger:   logger,
		subs:     make(map[string]map[*subscriber]struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Run は通知を受信し、該当チャネルの購読者へ再取得を指示する。
// ctxがキャンセルされるか通知チャネルが閉じられるまでブロックする。
func (h *Hub) Run(ctx context.Context) error {
	for _, ch := range h.channels {
		if err := h.source.Listen(ch); err != nil && !errors.Is(err, pq.ErrChannelAlreadyOpen) {
			return err
		}
	}

	var tick <-chan time.Time
	if h.resync > 0 {
		ticker := time.NewTicker(h.resync)
		defer ticker.Stop()
		tick = ticker.C
	}

	notifications := h.source.NotificationChannel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case n, ok := <-notifications:
			if !ok {
				return nil
			}
			if n == nil {
				// 再接続中に失われた通知を補うため全購読者を更新する
				h.logger.Info("change listener reconnected, refreshing all subscribers")
				h.signalAll()
				continue
			}
			h.signal(n.Channel)
		case <-tick:
			h.signalAll()
		}
	}
}

// Subscribers は現在の購読者数を返す。
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

func (h *Hub) add(s *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.subs[s.channel]
	if !ok {
		set = make(map[*subscriber]struct{})
		h.subs[s.channel] = set
	}
	set[s] = struct{}{}
	h.count++
	h.reportLocked()
}

func (h *Hub) remove(s *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.subs[s.channel]
	if !ok {
		return
	}
	if _, ok := set[s]; !ok {
		return
	}
	delete(set, s)
	if len(set) == 0 {
		delete(h.subs, s.channel)
	}
	h.count--
	h.reportLocked()
}

func (h *Hub) reportLocked() {
	if h.gauge != nil {
		h.gauge.Set(float64(h.count))
	}
}

func (h *Hub) signal(channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs[channel] {
		s.poke()
	}
}

func (h *Hub) signalAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, set := range h.subs {
		for s := range set {
			s.poke()
		}
	}
}

// subscriber は1つのライブクエリ購読を表す。
// wake はバッファ1で、処理中に届いた複数の通知は1回の再取得にまとめられる。
type subscriber struct {
	channel string
	wake    chan struct{}
}

func (s *subscriber) poke() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}
