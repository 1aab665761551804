package realtime

import (
	"context"
	"sync"
)

// QueryFunc は購読対象の現在のスナップショットを取得する。
type QueryFunc[T any] func(ctx context.Context) (T, error)

// Subscription はライブクエリ購読のハンドル。
type Subscription struct {
	once   sync.Once
	cancel context.CancelFunc
	done   chan struct{}
	hub    *Hub
	sub    *subscriber
}

// Cancel は以後の配信を止め、購読のgoroutineを解放する。
// 複数回呼び出しても安全で、2回目以降は何もしない。
// 実行中のコールバックがある場合、その1回は完了まで実行される。
func (s *Subscription) Cancel() {
	s.once.Do(func() {
		s.cancel()
		s.hub.remove(s.sub)
	})
}

// Done は購読のgoroutineが終了すると閉じられるチャネルを返す。
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Watch はchannelの変更ごとにqueryを再実行し、結果をonDataへ配信する。
// 購読開始時に初回のスナップショットを配信する。
// queryが失敗した場合は発生のたびにonErrorを1回呼び、購読は継続する。
// 購読ごとに専用のgoroutineで配信するため、遅い購読者が他を妨げることはない。
func Watch[T any](hub *Hub, channel string, query QueryFunc[T], onData func(T), onError func(error)) *Subscription {
	ctx, cancel := context.WithCancel(context.Background())
	s := &subscriber{
		channel: channel,
		wake:    make(chan struct{}, 1),
	}
	sub := &Subscription{
		cancel: cancel,
		done:   make(chan struct{}),
		hub:    hub,
		sub:    s,
	}

	hub.add(s)
	// 初回スナップショット
	s.poke()

	go func() {
		defer close(sub.done)
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.wake:
			}

			data, err := query(ctx)
			if ctx.Err() != nil {
				return
			}
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			onData(data)
		}
	}()

	return sub
}
