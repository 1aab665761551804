package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hitoshi/coletivo/internal/middleware"
	"github.com/hitoshi/coletivo/internal/realtime"
)

const (
	eventSnapshot = "snapshot"
	eventError    = "error"

	defaultHeartbeat = 25 * time.Second
	wsWriteTimeout   = 10 * time.Second
)

// liveEvent はライブクエリから配信する1件のイベント。
type liveEvent struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// startFunc はライブクエリの購読を開始する。
type startFunc[T any] func(onData func(T), onError func(error)) (*realtime.Subscription, error)

// LiveStreamer はライブクエリの結果をSSEまたはWebSocketで配信する。
// Upgrade要求があればWebSocket、なければSSEを使う。
type LiveStreamer struct {
	upgrader  websocket.Upgrader
	heartbeat time.Duration
}

// NewLiveStreamer はLiveStreamerを生成する。
// allowedOrigin はWebSocketのOriginチェックに使う。
func NewLiveStreamer(allowedOrigin string, heartbeat time.Duration) *LiveStreamer {
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeat
	}
	return &LiveStreamer{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return originAllowed(r, allowedOrigin)
			},
		},
		heartbeat: heartbeat,
	}
}

// originAllowed はOriginが許可オリジンまたは同一ホストかどうかを判定する。
func originAllowed(r *http.Request, allowedOrigin string) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || origin == allowedOrigin {
		return true
	}
	u, err := url.Parse(origin)
	return err == nil && u.Host == r.Host
}

// serveLive は購読を開始し、クライアントが切断するまで配信する。
// 切断時には購読をキャンセルし、goroutineを残さない。
func serveLive[T any](ls *LiveStreamer, w http.ResponseWriter, r *http.Request, start startFunc[T]) {
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	events := make(chan liveEvent, 1)
	push := func(ev liveEvent) {
		select {
		case events <- ev:
		case <-ctx.Done():
		}
	}

	sub, err := start(
		func(v T) { push(liveEvent{Type: eventSnapshot, Data: v}) },
		func(err error) { push(liveEvent{Type: eventError, Data: middleware.NewErrorResponseBody(streamError(err))}) },
	)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	defer sub.Cancel()

	if websocket.IsWebSocketUpgrade(r) {
		ls.serveWebSocket(ctx, cancel, w, r, events)
		return
	}
	ls.serveSSE(ctx, w, events)
}

func (ls *LiveStreamer) serveSSE(ctx context.Context, w http.ResponseWriter, events <-chan liveEvent) {
	rc := http.NewResponseController(w)
	// サーバー全体のWriteTimeoutをこのストリームでは無効にする
	_ = rc.SetWriteDeadline(time.Time{})

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		slog.Error("streaming is not supported", slog.String("error", err.Error()))
		return
	}

	ticker := time.NewTicker(ls.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			data, err := json.Marshal(ev.Data)
			if err != nil {
				slog.Error("failed to encode live event", slog.String("error", err.Error()))
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data); err != nil {
				return
			}
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}

func (ls *LiveStreamer) serveWebSocket(ctx context.Context, cancel context.CancelFunc, w http.ResponseWriter, r *http.Request, events <-chan liveEvent) {
	conn, err := ls.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade がエラーレスポンスを書き込み済み
		slog.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	// 受信は切断の検知にだけ使う
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(ls.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(wsWriteTimeout))
			return
		case ev := <-events:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
				return
			}
		}
	}
}
