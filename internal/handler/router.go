package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/coletivo/internal/middleware"
)

// HealthChecker はDB接続の疎通確認に使う。*sql.DB が満たす。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger            *slog.Logger
	HealthChecker     HealthChecker
	MetricsHandler    http.Handler
	StatusRecorder    middleware.StatusRecorder
	SessionFinder     middleware.SessionFinder
	RateLimiter       *middleware.RateLimiter
	CORSAllowedOrigin string
	CSRFConfig        middleware.CSRFConfig
	Live              *LiveStreamer

	AuthService    AuthServiceInterface
	AuthConfig     AuthHandlerConfig
	ProfileService ProfileServiceInterface
	AdService      AdServiceInterface
	NewsService    NewsServiceInterface
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアの実行順序:
//
//	Recovery → SecurityHeaders → CORS → OptionalSession → Logging → CSRF → RateLimit(General)
//
// ログイン必須のルートには RequireUser を追加する。
// 管理者かどうかはサービス層の各操作が判定する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	live := deps.Live
	if live == nil {
		live = NewLiveStreamer(deps.CORSAllowedOrigin, 0)
	}

	r := chi.NewRouter()
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewOptionalSessionMiddleware(deps.SessionFinder))
	r.Use(middleware.NewLoggingMiddleware(logger, deps.StatusRecorder))

	authHandler := NewAuthHandler(deps.AuthService, deps.AuthConfig)
	profileHandler := NewProfileHandler(deps.ProfileService, live)
	adHandler := NewAdHandler(deps.AdService, live)
	newsHandler := NewNewsHandler(deps.NewsService, live)

	r.Get("/health", healthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Method(http.MethodGet, "/api/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRFConfig))

		r.Route("/auth", func(r chi.Router) {
			r.Get("/google/login", authHandler.GoogleLogin)
			r.Get("/google/callback", authHandler.GoogleCallback)
			r.Post("/register", authHandler.Register)
			r.Post("/login", authHandler.PasswordLogin)
			r.Post("/logout", authHandler.Logout)
			r.Get("/me", authHandler.Me)
		})

		// 公開ルート
		r.Get("/api/ads", adHandler.List)
		r.Get("/api/ads/stream", adHandler.Stream)
		r.Get("/api/news", newsHandler.List)
		r.Get("/api/news/stream", newsHandler.Stream)

		// ログイン必須のルート
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireUser())

			r.Get("/api/profile", profileHandler.Get)
			r.Put("/api/profile", profileHandler.Update)
			r.Get("/api/profile/stream", profileHandler.Stream)

			r.With(deps.RateLimiter.AdCreationMiddleware()).Post("/api/ads", adHandler.Create)
			r.Get("/api/ads/mine", adHandler.Mine)
			r.Get("/api/ads/mine/stream", adHandler.MineStream)
			r.Get("/api/ads/pending", adHandler.Pending)
			r.Get("/api/ads/pending/stream", adHandler.PendingStream)
			r.Delete("/api/ads/{id}", adHandler.Delete)
			r.Post("/api/ads/{id}/moderation", adHandler.Moderate)

			r.Post("/api/news", newsHandler.Create)
			r.Post("/api/news/import", newsHandler.Import)
			r.Delete("/api/news/{id}", newsHandler.Delete)
		})
	})

	return r
}

// healthHandler はDBへの疎通を確認する。
// GET /health
func healthHandler(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if checker != nil {
			if err := checker.PingContext(r.Context()); err != nil {
				slog.Error("health check failed", slog.String("error", err.Error()))
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

