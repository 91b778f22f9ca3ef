package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/coursemart/internal/metrics"
	"github.com/hitoshi/coursemart/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger              *slog.Logger
	TokenVerifier       middleware.TokenVerifier
	CORSAllowedOrigin   string
	RateLimiter         *middleware.RateLimiter
	WebhookMaxBodyBytes int64

	// 運用
	HealthChecker    HealthChecker
	MetricsGatherer  prometheus.Gatherer
	MetricsCollector metrics.MetricsCollector

	// 決済
	CheckoutService   CheckoutServiceInterface
	WebhookVerifier   WebhookVerifier
	WebhookReconciler WebhookReconciler

	// 講座
	AccessChecker AccessChecker
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → CORS → SecurityHeaders → Auth → RateLimit(General) [→ StudentOnly → RateLimit(Checkout)]
//
// Webhookルートは認証を通さず、ボディを未加工のまま保持するRawBodyMiddlewareのみを適用する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	var statusRecorder middleware.StatusRecorder
	if deps.MetricsCollector != nil {
		statusRecorder = deps.MetricsCollector
	}

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(deps.Logger, statusRecorder))
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewSecurityHeadersMiddleware())

	paymentHandler := NewPaymentHandler(deps.CheckoutService, deps.WebhookVerifier, deps.WebhookReconciler, deps.Logger)
	courseHandler := NewCourseHandler(deps.AccessChecker)

	// --- 認証不要のルート ---
	r.Get("/health", NewHealthHandler(deps.HealthChecker))
	if deps.MetricsGatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(deps.MetricsGatherer))
	}

	r.With(middleware.NewRawBodyMiddleware(deps.WebhookMaxBodyBytes)).
		Post("/api/payments/webhook", paymentHandler.Webhook)

	// --- 認証が必要なルート ---
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewAuthMiddleware(deps.TokenVerifier))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.With(middleware.NewStudentOnlyMiddleware(), deps.RateLimiter.CheckoutMiddleware()).
			Post("/api/payments/create-checkout-session", paymentHandler.CreateCheckoutSession)

		r.Get("/api/courses/{id}/access", courseHandler.Access)
	})

	return r
}
