package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/coletivo/internal/middleware"
	"github.com/hitoshi/coletivo/internal/model"
)

type mockHealthChecker struct{ err error }

func (m *mockHealthChecker) PingContext(ctx context.Context) error { return m.err }

type routerFixture struct {
	handler http.Handler
	ads     *mockAdService
	limiter *middleware.RateLimiter
}

func newRouterFixture(t *testing.T, health error) *routerFixture {
	t.Helper()
	sessions := &sessionFinderFunc{fn: func(ctx context.Context, id string) (*model.Session, error) {
		switch id {
		case "sess-user":
			return testSession("user-1"), nil
		case "sess-admin":
			return testSession("admin-1"), nil
		}
		return nil, nil
	}}

	limiter := middleware.NewRateLimiter(middleware.PerMinuteRateLimiterConfig(1000, 2))
	t.Cleanup(limiter.Stop)

	hub := newTestHub()
	ads := &mockAdService{hub: hub, requireRole: adminOnly}
	deps := &RouterDeps{
		Logger:            discardLogger(),
		HealthChecker:     &mockHealthChecker{err: health},
		MetricsHandler:    http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.Write([]byte("# metrics")) }),
		SessionFinder:     sessions,
		RateLimiter:       limiter,
		CORSAllowedOrigin: "http://localhost:5173",
		Live:              NewLiveStreamer("http://localhost:5173", time.Hour),
		AuthService:       &mockAuthService{},
		AuthConfig:        testAuthConfig,
		ProfileService:    &mockProfileService{hub: hub},
		AdService:         ads,
		NewsService:       &mockNewsService{hub: hub},
	}
	return &routerFixture{handler: NewRouter(deps), ads: ads, limiter: limiter}
}

type sessionFinderFunc struct {
	fn func(ctx context.Context, id string) (*model.Session, error)
}

func (s *sessionFinderFunc) FindByID(ctx context.Context, id string) (*model.Session, error) {
	return s.fn(ctx, id)
}

// do はCSRFトークンを揃えたリクエストを送る。
func (f *routerFixture) do(method, path, session, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if session != "" {
		req.AddCookie(&http.Cookie{Name: middleware.SessionCookieName, Value: session})
	}
	req.AddCookie(&http.Cookie{Name: "csrf_token", Value: "tok"})
	req.Header.Set("X-CSRF-Token", "tok")
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)
	return w
}

func TestRouter_RouteTable(t *testing.T) {
	f := newRouterFixture(t, nil)

	tests := []struct {
		name    string
		method  string
		path    string
		session string
		body    string
		want    int
	}{
		{"ヘルスチェック", http.MethodGet, "/health", "", "", http.StatusOK},
		{"メトリクス", http.MethodGet, "/metrics", "", "", http.StatusOK},
		{"CSRFトークン", http.MethodGet, "/api/csrf-token", "", "", http.StatusOK},
		{"承認済み広告は公開", http.MethodGet, "/api/ads", "", "", http.StatusOK},
		{"お知らせは公開", http.MethodGet, "/api/news", "", "", http.StatusOK},
		{"Googleログイン", http.MethodGet, "/auth/google/login", "", "", http.StatusTemporaryRedirect},
		{"ログアウト", http.MethodPost, "/auth/logout", "sess-user", "", http.StatusNoContent},
		{"未ログインのプロフィール", http.MethodGet, "/api/profile", "", "", http.StatusUnauthorized},
		{"プロフィール", http.MethodGet, "/api/profile", "sess-user", "", http.StatusOK},
		{"未ログインの投稿", http.MethodPost, "/api/ads", "", `{}`, http.StatusUnauthorized},
		{"投稿", http.MethodPost, "/api/ads", "sess-user", `{"title":"t","description":"d","price":"1","contact":"c"}`, http.StatusCreated},
		{"自分の広告", http.MethodGet, "/api/ads/mine", "sess-user", "", http.StatusOK},
		{"審査待ちは管理者のみ", http.MethodGet, "/api/ads/pending", "sess-user", "", http.StatusForbidden},
		{"審査待ち", http.MethodGet, "/api/ads/pending", "sess-admin", "", http.StatusOK},
		{"広告の削除", http.MethodDelete, "/api/ads/ad-1", "sess-user", "", http.StatusNoContent},
		{"モデレーション", http.MethodPost, "/api/ads/ad-1/moderation", "sess-admin", `{"status":"approved"}`, http.StatusOK},
		{"未ログインのお知らせ削除", http.MethodDelete, "/api/news/n1", "", "", http.StatusUnauthorized},
		{"存在しないパス", http.MethodGet, "/api/unknown", "", "", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(tt.method, tt.path, tt.session, tt.body)
			if w.Code != tt.want {
				t.Errorf("%s %s: status = %d, want %d (%s)", tt.method, tt.path, w.Code, tt.want, w.Body.String())
			}
		})
	}
}

func TestRouter_StateChangingRequiresCSRF(t *testing.T) {
	f := newRouterFixture(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/ads", strings.NewReader(`{}`))
	req.AddCookie(&http.Cookie{Name: middleware.SessionCookieName, Value: "sess-user"})
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", w.Code)
	}
}

func TestRouter_AdCreationRateLimit(t *testing.T) {
	f := newRouterFixture(t, nil)
	body := `{"title":"t","description":"d","price":"1","contact":"c"}`

	for i := 0; i < 2; i++ {
		if w := f.do(http.MethodPost, "/api/ads", "sess-user", body); w.Code != http.StatusCreated {
			t.Fatalf("投稿%d: status = %d", i, w.Code)
		}
	}
	if w := f.do(http.MethodPost, "/api/ads", "sess-user", body); w.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", w.Code)
	}
	if w := f.do(http.MethodGet, "/api/ads/mine", "sess-user", ""); w.Code != http.StatusOK {
		t.Errorf("投稿の制限は他のAPIに影響しない: status = %d", w.Code)
	}
}

func TestRouter_HealthUnavailable(t *testing.T) {
	f := newRouterFixture(t, errors.New("connection refused"))
	if w := f.do(http.MethodGet, "/health", "", ""); w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
}

func TestRouter_PreflightAndSecurityHeaders(t *testing.T) {
	f := newRouterFixture(t, nil)

	req := httptest.NewRequest(http.MethodOptions, "/api/ads", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", w.Code)
	}
	if w.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("セキュリティヘッダーがない")
	}
}
