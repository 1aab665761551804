package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/coletivo/internal/ad"
	"github.com/hitoshi/coletivo/internal/auth"
	"github.com/hitoshi/coletivo/internal/config"
	"github.com/hitoshi/coletivo/internal/database"
	"github.com/hitoshi/coletivo/internal/handler"
	"github.com/hitoshi/coletivo/internal/logger"
	"github.com/hitoshi/coletivo/internal/metrics"
	"github.com/hitoshi/coletivo/internal/middleware"
	"github.com/hitoshi/coletivo/internal/news"
	"github.com/hitoshi/coletivo/internal/realtime"
	"github.com/hitoshi/coletivo/internal/repository"
	"github.com/hitoshi/coletivo/internal/security"
	"github.com/hitoshi/coletivo/internal/user"
	"github.com/hitoshi/coletivo/internal/worker/cleanup"
	"github.com/hitoshi/coletivo/internal/worker/syndication"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、LOG_LEVELに従ってJSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 設定読み込み前にログを使えるようにする
	logger.SetupDefault(w, slog.LevelInfo)

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger.SetupDefault(w, logger.ParseLevel(cfg.LogLevel))
	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	inv, err := ParseCommand(args)
	if err != nil {
		return fmt.Errorf("%w\n%s", err, Usage)
	}
	cmd := inv.Command

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
		slog.String("session_store", cfg.SessionStore),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case CommandWorker:
		return runWorker(ctx, cfg)
	case CommandMigrate:
		return runMigrate(cfg, inv)
	default:
		return runServe(ctx, cfg)
	}
}

// openDatabase はDB接続を開き、疎通を確認する。
func openDatabase(ctx context.Context, databaseURL string) (*sql.DB, error) {
	db, err := database.Open(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// openSessionStore は設定に応じてセッションストアを生成する。
// Redisの場合は疎通確認の対象と、接続を閉じる関数も返す。
func openSessionStore(ctx context.Context, cfg *config.Config, db *sql.DB) (repository.SessionRepository, pinger, func(), error) {
	if cfg.SessionStore != config.SessionStoreRedis {
		return repository.NewPostgresSessionRepo(db), nil, func() {}, nil
	}

	repo, err := repository.NewRedisSessionRepo(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to open redis session store: %w", err)
	}
	slog.Info("redis session store connected")
	return repo, repo, func() { repo.Close() }, nil
}

// pinger は疎通確認ができる依存先。
type pinger interface {
	Ping(ctx context.Context) error
}

// healthChecks はDBと追加の依存先をまとめて確認する。
type healthChecks struct {
	db     handler.HealthChecker
	others []pinger
}

func (h healthChecks) PingContext(ctx context.Context) error {
	if err := h.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	for _, p := range h.others {
		if err := p.Ping(ctx); err != nil {
			return err
		}
	}
	return nil
}

// services はドメインサービスの組。
type services struct {
	auth *auth.Service
	user *user.Service
	ad   *ad.Service
	news *news.Service
}

// newServices はリポジトリとサービスを組み立てる。
func newServices(cfg *config.Config, db *sql.DB, sessionRepo repository.SessionRepository, hub *realtime.Hub, collector *metrics.Collector) *services {
	userRepo := repository.NewPostgresUserRepo(db)
	identRepo := repository.NewPostgresIdentityRepo(db)
	adRepo := repository.NewPostgresAdRepo(db)
	newsRepo := repository.NewPostgresNewsRepo(db)

	sanitizer := security.NewContentSanitizer()
	syndicator := news.NewSyndicator(security.NewSSRFGuard(), slog.Default(), cfg.FetchTimeout, cfg.FetchMaxSize)

	userService := user.NewService(userRepo, sanitizer, hub)

	oauthProvider := auth.NewGoogleOAuthProvider(auth.GoogleOAuthConfig{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.GoogleRedirectURL,
		HTTPClient:   &http.Client{Timeout: cfg.FetchTimeout},
	})

	return &services{
		auth: auth.NewService(oauthProvider, userService, identRepo, sessionRepo,
			auth.ServiceConfig{SessionMaxAge: cfg.SessionMaxAge}),
		user: userService,
		ad:   ad.NewService(adRepo, userRepo, sanitizer, hub, collector),
		news: news.NewService(newsRepo, userRepo, sanitizer, syndicator, hub, collector),
	}
}

// routerParts はルーターの組み立てに必要な依存。
type routerParts struct {
	cfg         *config.Config
	db          *sql.DB
	sessionRepo repository.SessionRepository
	health      handler.HealthChecker
	hub         *realtime.Hub
	registry    *prometheus.Registry
	collector   *metrics.Collector
	rateLimiter *middleware.RateLimiter
}

// buildRouter は全サービスを組み立ててHTTPハンドラーを返す。
func buildRouter(p routerParts) http.Handler {
	svc := newServices(p.cfg, p.db, p.sessionRepo, p.hub, p.collector)

	return handler.NewRouter(&handler.RouterDeps{
		Logger:            slog.Default(),
		HealthChecker:     p.health,
		MetricsHandler:    metrics.Handler(p.registry),
		StatusRecorder:    p.collector,
		SessionFinder:     p.sessionRepo,
		RateLimiter:       p.rateLimiter,
		CORSAllowedOrigin: p.cfg.CORSAllowedOrigin,
		CSRFConfig: middleware.CSRFConfig{
			CookieSecure: p.cfg.CookieSecure,
			CookieDomain: p.cfg.CookieDomain,
		},
		Live: handler.NewLiveStreamer(p.cfg.CORSAllowedOrigin, 0),

		AuthService: svc.auth,
		AuthConfig: handler.AuthHandlerConfig{
			BaseURL:       p.cfg.BaseURL,
			CookieDomain:  p.cfg.CookieDomain,
			CookieSecure:  p.cfg.CookieSecure,
			SessionMaxAge: p.cfg.SessionMaxAge,
		},
		ProfileService: svc.user,
		AdService:      svc.ad,
		NewsService:    svc.news,
	})
}

// newRegistry はアプリケーションとランタイムのメトリクスを登録したレジストリを返す。
func newRegistry() (*prometheus.Registry, *metrics.Collector) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg, metrics.NewCollector(reg)
}

// runServe はAPIサーバーモードで起動する。
// DB接続と変更通知の購読を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// ctxがキャンセルされるとライブ配信を終了させてからグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	db, err := openDatabase(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()
	slog.Info("database connection established")

	sessionRepo, sessionPinger, closeSessions, err := openSessionStore(ctx, cfg, db)
	if err != nil {
		return err
	}
	defer closeSessions()

	health := healthChecks{db: db}
	if sessionPinger != nil {
		health.others = append(health.others, sessionPinger)
	}

	registry, collector := newRegistry()

	listener := database.NewListener(cfg.DatabaseURL, slog.Default())
	defer listener.Close()
	hub := realtime.NewHub(listener,
		[]string{realtime.ChannelAds, realtime.ChannelNews, realtime.ChannelUsers},
		slog.Default(),
		realtime.WithResyncInterval(cfg.RealtimeResyncInterval),
		realtime.WithSubscriberGauge(collector.LiveSubscriptions()),
	)

	// streamCtx はライブ配信を含む全リクエストの親。シャットダウン時に先に閉じる
	streamCtx, cancelStreams := context.WithCancel(ctx)
	defer cancelStreams()

	hubErr := make(chan error, 1)
	go func() { hubErr <- hub.Run(streamCtx) }()

	rateLimiter := middleware.NewRateLimiter(
		middleware.PerMinuteRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitAdCreate))
	defer rateLimiter.Stop()

	router := buildRouter(routerParts{
		cfg:         cfg,
		db:          db,
		sessionRepo: sessionRepo,
		health:      health,
		hub:         hub,
		registry:    registry,
		collector:   collector,
		rateLimiter: rateLimiter,
	})

	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return streamCtx },
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("API server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server listen error: %w", err)
		}
	case err := <-hubErr:
		if err != nil {
			return fmt.Errorf("change listener failed: %w", err)
		}
	}

	slog.Info("shutting down API server...")
	cancelStreams()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// 期限切れセッションの削除と外部フィードの定期取り込みを行う。
// ctxがキャンセルされるまでブロックする。
func runWorker(ctx context.Context, cfg *config.Config) error {
	db, err := openDatabase(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()
	slog.Info("database connection established (worker)")

	jobs := 0
	done := make(chan struct{}, 2)

	if cfg.SessionStore == config.SessionStorePostgres {
		cleanupJob := cleanup.NewCleanupJob(db, slog.Default())
		jobs++
		go func() {
			cleanupJob.Start(ctx, cfg.SessionCleanupInterval)
			done <- struct{}{}
		}()
	}

	if len(cfg.NewsImportSources) > 0 {
		newsService := news.NewService(
			repository.NewPostgresNewsRepo(db),
			repository.NewPostgresUserRepo(db),
			security.NewContentSanitizer(),
			news.NewSyndicator(security.NewSSRFGuard(), slog.Default(), cfg.FetchTimeout, cfg.FetchMaxSize),
			nil,
			nil,
		)
		scheduler := syndication.NewScheduler(
			newsService, cfg.NewsImportSources, cfg.NewsImportAuthorID,
			slog.Default(), cfg.FetchMaxConcurrent,
		)
		jobs++
		go func() {
			scheduler.Start(ctx, cfg.NewsImportInterval)
			done <- struct{}{}
		}()
	}

	if jobs == 0 {
		slog.Warn("worker has nothing to do: redis session store and no NEWS_IMPORT_SOURCES")
		return nil
	}

	slog.Info("worker starting",
		slog.Int("jobs", jobs),
		slog.Duration("import_interval", cfg.NewsImportInterval),
		slog.Duration("cleanup_interval", cfg.SessionCleanupInterval),
	)

	for i := 0; i < jobs; i++ {
		<-done
	}

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config, inv Invocation) error {
	slog.Info("running database migrations",
		slog.String("action", string(inv.Migrate)),
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	var (
		status database.SchemaStatus
		err    error
	)
	switch inv.Migrate {
	case MigrateDown:
		status, err = database.RollbackMigrations(cfg.DatabaseURL, inv.Steps)
	case MigrateVersion:
		status, err = database.CurrentSchema(cfg.DatabaseURL)
	default:
		status, err = database.RunMigrations(cfg.DatabaseURL)
	}
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database schema status",
		slog.Uint64("version", uint64(status.Version)),
		slog.Uint64("latest", uint64(status.Latest)),
		slog.Bool("dirty", status.Dirty),
		slog.Bool("up_to_date", status.UpToDate()),
	)
	if status.Dirty {
		return fmt.Errorf("schema version %d is dirty; fix it manually before migrating again", status.Version)
	}
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
