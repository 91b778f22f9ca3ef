package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/coursemart/internal/auth"
	"github.com/hitoshi/coursemart/internal/checkout"
	"github.com/hitoshi/coursemart/internal/config"
	"github.com/hitoshi/coursemart/internal/database"
	"github.com/hitoshi/coursemart/internal/entitlement"
	"github.com/hitoshi/coursemart/internal/handler"
	"github.com/hitoshi/coursemart/internal/lock"
	"github.com/hitoshi/coursemart/internal/logger"
	"github.com/hitoshi/coursemart/internal/metrics"
	"github.com/hitoshi/coursemart/internal/middleware"
	"github.com/hitoshi/coursemart/internal/payment"
	"github.com/hitoshi/coursemart/internal/pricing"
	"github.com/hitoshi/coursemart/internal/repository"
	"github.com/hitoshi/coursemart/internal/security"
	"github.com/hitoshi/coursemart/internal/worker/cleanup"
	"github.com/hitoshi/coursemart/internal/worker/repair"
)

// lockTTL はチェックアウトロックの自動解放時間。
const lockTTL = 30 * time.Second

// Init はアプリケーションの初期化を行う。
// JSON構造化ログをセットアップし、環境変数からConfigを読み込む。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, *slog.Logger, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	log := logger.SetupDefault(w, logger.ParseLevel(os.Getenv("LOG_LEVEL")))

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, log, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, log, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	log.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("settlement_currency", cfg.SettlementCurrency),
	)

	switch cmd {
	case CommandWorker:
		return runWorker(cfg, log)
	case CommandMigrate:
		return runMigrate(cfg, log)
	default:
		return runServe(cfg, log)
	}
}

// openDB はDB接続を開き、疎通を確認する。
func openDB(cfg *config.Config) (*sql.DB, error) {
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// openRedis はREDIS_URLが設定されている場合にRedisクライアントを生成する。
// 未設定の場合はnilを返し、呼び出し側はプロセス内実装を使用する。
func openRedis(ctx context.Context, cfg *config.Config) (*redis.Client, error) {
	if cfg.RedisURL == "" {
		return nil, nil
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

// newRegistry はランタイムとプロセスのメトリクスを登録したレジストリを生成する。
func newRegistry() *prometheus.Registry {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return registry
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config, log *slog.Logger) error {
	// 1. DB接続
	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	log.Info("database connection established")

	// 2. リポジトリの初期化
	userRepo := repository.NewPostgresUserRepo(db)
	courseRepo := repository.NewPostgresCourseRepo(db)
	purchaseRepo := repository.NewPostgresPurchaseRepo(db)
	eventRepo := repository.NewPostgresWebhookEventRepo(db)

	// 3. キャッシュとロック（Redisがなければプロセス内実装）
	var (
		rateCache pricing.RateCache = pricing.NewMemoryCache()
		locker    lock.Locker       = lock.NewLocalLocker()
	)
	redisClient, err := openRedis(context.Background(), cfg)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
		rateCache = pricing.NewRedisCache(redisClient)
		locker = lock.NewRedisLocker(redisClient, lockTTL, log)
		log.Info("redis connection established")
	}

	// 4. メトリクス
	registry := newRegistry()
	collector := metrics.NewCollector(registry)

	// 5. 外部サービスクライアントの初期化
	rateClient := pricing.NewClient(
		&http.Client{Timeout: cfg.ExchangeRateTimeout},
		cfg.ExchangeRateURL,
		cfg.ExchangeRateMaxRetries,
		log,
	)
	resolver := pricing.NewResolver(rateClient, rateCache, cfg.ExchangeRateTTL, log)

	processor := payment.NewProcessor(cfg.StripeSecretKey, payment.ProcessorConfig{
		HTTPClient: &http.Client{Timeout: cfg.StripeTimeout},
		MaxRetries: cfg.StripeMaxRetries,
	}, log)
	authenticator := payment.NewAuthenticator(cfg.StripeWebhookSecret, cfg.WebhookTolerance)

	// 6. ドメインサービスの初期化
	checkoutService := checkout.NewService(
		userRepo, courseRepo, resolver, processor, locker,
		security.NewTextSanitizer(), collector,
		checkout.Config{
			SettlementCurrency: cfg.SettlementCurrency,
			ClientURL:          cfg.ClientURL,
		},
		log,
	)
	reconciler := entitlement.NewReconciler(userRepo, courseRepo, purchaseRepo, eventRepo, collector, log)

	// 7. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(
		middleware.NewRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitCheckout),
	)
	defer rateLimiter.Stop()

	deps := &handler.RouterDeps{
		Logger:              log,
		TokenVerifier:       auth.NewVerifier(cfg.JWTSecret),
		CORSAllowedOrigin:   cfg.CORSAllowedOrigin,
		RateLimiter:         rateLimiter,
		WebhookMaxBodyBytes: cfg.WebhookMaxBodyBytes,

		HealthChecker:    db,
		MetricsGatherer:  registry,
		MetricsCollector: collector,

		CheckoutService:   handler.NewCheckoutServiceAdapter(checkoutService),
		WebhookVerifier:   authenticator,
		WebhookReconciler: handler.NewReconcilerAdapter(reconciler),

		AccessChecker: reconciler,
	}

	router := handler.NewRouter(deps)

	// 8. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	serveErr := make(chan error, 1)
	go func() {
		log.Info("API server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
	}()

	select {
	case err := <-serveErr:
		return fmt.Errorf("server listen error: %w", err)
	case <-stop:
	}
	log.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	log.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// DB接続を開き、受講権の修復ジョブとWebhookイベントログのクリーンアップを起動する。
// メトリクスはSERVER_PORTの/metricsで公開する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config, log *slog.Logger) error {
	// 1. DB接続
	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	log.Info("database connection established (worker)")

	// 2. リポジトリの初期化
	userRepo := repository.NewPostgresUserRepo(db)
	courseRepo := repository.NewPostgresCourseRepo(db)
	purchaseRepo := repository.NewPostgresPurchaseRepo(db)

	// 3. メトリクス（修復結果をワーカー自身の/metricsで公開する）
	registry := newRegistry()
	collector := metrics.NewCollector(registry)

	// 修復経路はWebhookイベントを伴わないため、イベントログは記録しない
	reconciler := entitlement.NewReconciler(userRepo, courseRepo, purchaseRepo, nil, collector, log)

	// 4. ジョブの初期化
	repairJob := repair.NewJob(purchaseRepo, reconciler, collector, log, cfg.RepairBatchSize)
	cleanupJob := cleanup.NewCleanupJob(db, log, cfg.WebhookEventRetentionDays)

	metricsServer := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           metrics.SetupMetricsRoute(registry),
		ReadHeaderTimeout: 5 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		log.Info("shutting down worker...")
		cancel()
	}()

	log.Info("worker starting",
		slog.Duration("repair_interval", cfg.RepairInterval),
		slog.Int("repair_batch_size", cfg.RepairBatchSize),
		slog.Int("event_retention_days", cfg.WebhookEventRetentionDays),
	)

	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("worker metrics server error", slog.String("error", err.Error()))
		}
	}()
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	// クリーンアップジョブを日次でバックグラウンド実行
	go cleanupJob.Start(ctx, 24*time.Hour)

	// 修復ジョブをメインgoroutineで実行（ブロッキング）
	repairJob.Start(ctx, cfg.RepairInterval)

	log.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config, log *slog.Logger) error {
	log.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	version, err := database.SchemaVersion(cfg.DatabaseURL)
	if err != nil {
		return err
	}

	log.Info("database migrations completed successfully", slog.Uint64("schema_version", uint64(version)))
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
