// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// サービス層、Webhookハンドラー、ワーカーから利用する。
type MetricsCollector interface {
	RecordCheckoutSession(outcome string)
	RecordCheckoutLatency(duration time.Duration)
	RecordCustomerCreated()
	RecordWebhookEvent(kind, outcome string)
	RecordGrant(outcome string)
	RecordRepair(repaired, failed int)
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	checkoutSessions *prometheus.CounterVec
	checkoutLatency  prometheus.Histogram
	customersCreated prometheus.Counter
	webhookEvents    *prometheus.CounterVec
	grants           *prometheus.CounterVec
	repaired         prometheus.Counter
	repairFailed     prometheus.Counter
	httpStatus       *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		checkoutSessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coursemart_checkout_sessions_total",
			Help: "チェックアウトセッション作成要求の結果別件数",
		}, []string{"outcome"}),
		checkoutLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "coursemart_checkout_latency_seconds",
			Help:    "チェックアウトセッション作成のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		customersCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "coursemart_stripe_customers_created_total",
			Help: "作成した決済事業者側顧客の合計数",
		}),
		webhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coursemart_webhook_events_total",
			Help: "受信したWebhookイベントの種別・結果別件数",
		}, []string{"kind", "outcome"}),
		grants: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coursemart_entitlement_grants_total",
			Help: "受講権付与の結果別件数",
		}, []string{"outcome"}),
		repaired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "coursemart_repair_applied_total",
			Help: "修復ジョブで再適用した購入記録の合計数",
		}),
		repairFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "coursemart_repair_failed_total",
			Help: "修復ジョブで再適用に失敗した購入記録の合計数",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coursemart_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.checkoutSessions,
		c.checkoutLatency,
		c.customersCreated,
		c.webhookEvents,
		c.grants,
		c.repaired,
		c.repairFailed,
		c.httpStatus,
	)

	return c
}

// RecordCheckoutSession はチェックアウト要求の結果を記録する。
// outcomeは成功時"created"、失敗時はエラーコード。
func (c *Collector) RecordCheckoutSession(outcome string) {
	c.checkoutSessions.WithLabelValues(outcome).Inc()
}

// RecordCheckoutLatency はチェックアウトのレイテンシを記録する。
func (c *Collector) RecordCheckoutLatency(duration time.Duration) {
	c.checkoutLatency.Observe(duration.Seconds())
}

// RecordCustomerCreated は顧客作成を記録する。
func (c *Collector) RecordCustomerCreated() {
	c.customersCreated.Inc()
}

// RecordWebhookEvent はWebhookイベントの処理結果を記録する。
func (c *Collector) RecordWebhookEvent(kind, outcome string) {
	c.webhookEvents.WithLabelValues(kind, outcome).Inc()
}

// RecordGrant は受講権付与の結果を記録する。
func (c *Collector) RecordGrant(outcome string) {
	c.grants.WithLabelValues(outcome).Inc()
}

// RecordRepair は修復ジョブ1サイクルの結果を記録する。
func (c *Collector) RecordRepair(repaired, failed int) {
	c.repaired.Add(float64(repaired))
	c.repairFailed.Add(float64(failed))
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Nop は何も記録しないMetricsCollector。テストやメトリクス無効時に使用する。
type Nop struct{}

func (Nop) RecordCheckoutSession(string) {}
func (Nop) RecordCheckoutLatency(time.Duration) {}
func (Nop) RecordCustomerCreated() {}
func (Nop) RecordWebhookEvent(string, string) {}
func (Nop) RecordGrant(string) {}
func (Nop) RecordRepair(int, int) {}
func (Nop) RecordHTTPStatus(int) {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
// Prometheusスクレイプに対応する。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}

// compile-time interface check
var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)
