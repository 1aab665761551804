package handler

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hitoshi/coletivo/internal/middleware"
	"github.com/hitoshi/coletivo/internal/model"
	"github.com/hitoshi/coletivo/internal/realtime"
)

// readSSEEvent は空行までを1イベントとして読み、イベント名とdataを返す。
// コメント行（keepalive）は読み飛ばす。
func readSSEEvent(t *testing.T, r *bufio.Reader) (string, string) {
	t.Helper()
	var event, data string
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("SSEの読み取りに失敗: %v", err)
		}
		line = strings.TrimRight(line, "\n")
		switch {
		case line == "":
			if event != "" {
				return event, data
			}
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		}
	}
}

func waitDone(t *testing.T, sub *realtime.Subscription) {
	t.Helper()
	if sub == nil {
		t.Fatal("購読が開始されていない")
	}
	select {
	case <-sub.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("切断後も購読が残っている")
	}
}

func openSSE(t *testing.T, url string) (*http.Response, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		cancel()
		t.Fatalf("接続に失敗: %v", err)
	}
	return resp, cancel
}

func TestServeLive_SSE_SnapshotAndCancelOnDisconnect(t *testing.T) {
	svc := &mockAdService{
		hub: newTestHub(),
		approvedFn: func(ctx context.Context) ([]*model.Ad, error) {
			return []*model.Ad{{ID: "a1", Title: "Bicicleta", Status: model.AdStatusApproved}}, nil
		},
	}
	h := NewAdHandler(svc, NewLiveStreamer("", time.Hour))
	srv := httptest.NewServer(http.HandlerFunc(h.Stream))
	defer srv.Close()

	resp, cancel := openSSE(t, srv.URL)
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}

	event, data := readSSEEvent(t, bufio.NewReader(resp.Body))
	if event != eventSnapshot {
		t.Fatalf("event = %q, want snapshot", event)
	}
	var ads []model.Ad
	if err := json.Unmarshal([]byte(data), &ads); err != nil {
		t.Fatalf("dataを解析できない: %v", err)
	}
	if len(ads) != 1 || ads[0].ID != "a1" {
		t.Errorf("ads = %+v", ads)
	}

	cancel()
	resp.Body.Close()
	waitDone(t, svc.lastSubscription())
}

func TestServeLive_SSE_ErrorEventKeepsStream(t *testing.T) {
	svc := &mockAdService{
		hub: newTestHub(),
		approvedFn: func(ctx context.Context) ([]*model.Ad, error) {
			return nil, errors.New("pq: connection refused")
		},
	}
	h := NewAdHandler(svc, NewLiveStreamer("", time.Hour))
	srv := httptest.NewServer(http.HandlerFunc(h.Stream))
	defer srv.Close()

	resp, cancel := openSSE(t, srv.URL)
	defer cancel()
	defer resp.Body.Close()

	event, data := readSSEEvent(t, bufio.NewReader(resp.Body))
	if event != eventError {
		t.Fatalf("event = %q, want error", event)
	}
	var body middleware.ErrorResponseBody
	json.Unmarshal([]byte(data), &body)
	if body.Code != model.ErrCodeUnavailable {
		t.Errorf("code = %q, want %q", body.Code, model.ErrCodeUnavailable)
	}
	if strings.Contains(data, "pq:") {
		t.Error("内部エラーの詳細をクライアントに出してはならない")
	}

	select {
	case <-svc.lastSubscription().Done():
		t.Error("エラーの後も購読は継続するべき")
	default:
	}
}

func TestServeLive_PendingRequiresAdminBeforeStreaming(t *testing.T) {
	svc := &mockAdService{hub: newTestHub(), requireRole: adminOnly}
	h := NewAdHandler(svc, NewLiveStreamer("", time.Hour))

	w := httptest.NewRecorder()
	h.PendingStream(w, withUser(httptest.NewRequest(http.MethodGet, "/api/ads/pending/stream", nil), "user-1"))

	if w.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", w.Code)
	}
	if svc.lastSubscription() != nil {
		t.Error("権限がない場合は購読を開始してはならない")
	}
}

func TestServeLive_WebSocket(t *testing.T) {
	svc := &mockNewsService{
		hub: newTestHub(),
		snapshotFn: func(ctx context.Context) ([]*model.NewsItem, error) {
			return []*model.NewsItem{{ID: "n1", Title: "Feira"}}, nil
		},
	}
	h := NewNewsHandler(svc, NewLiveStreamer("http://localhost:5173", time.Hour))
	srv := httptest.NewServer(http.HandlerFunc(h.Stream))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, http.Header{"Origin": {"http://localhost:5173"}})
	if err != nil {
		t.Fatalf("WebSocket接続に失敗: %v", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg struct {
		Type string            `json:"type"`
		Data []*model.NewsItem `json:"data"`
	}
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("メッセージの受信に失敗: %v", err)
	}
	if msg.Type != eventSnapshot || len(msg.Data) != 1 || msg.Data[0].ID != "n1" {
		t.Errorf("msg = %+v", msg)
	}
}

func TestServeLive_WebSocket_RejectsForeignOrigin(t *testing.T) {
	svc := &mockNewsService{hub: newTestHub()}
	h := NewNewsHandler(svc, NewLiveStreamer("http://localhost:5173", time.Hour))
	srv := httptest.NewServer(http.HandlerFunc(h.Stream))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, http.Header{"Origin": {"https://evil.example"}})
	if err == nil {
		t.Fatal("許可されていないOriginは拒否するべき")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Errorf("resp = %+v", resp)
	}
}

func TestOriginAllowed(t *testing.T) {
	tests := []struct {
		origin string
		want   bool
	}{
		{"", true},
		{"http://localhost:5173", true},
		{"http://api.coletivo.example", true},
		{"https://evil.example", false},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "http://api.coletivo.example/api/news/stream", nil)
		if tt.origin != "" {
			req.Header.Set("Origin", tt.origin)
		}
		if got := originAllowed(req, "http://localhost:5173"); got != tt.want {
			t.Errorf("%q: got %v, want %v", tt.origin, got, tt.want)
		}
	}
}
