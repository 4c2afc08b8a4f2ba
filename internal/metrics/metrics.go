// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 操作結果のラベル値
const (
	ResultOK       = "ok"
	ResultConflict = "conflict"
	ResultNotFound = "not_found"
	ResultInvalid  = "invalid"
	ResultDenied   = "unauthorized"
	ResultError    = "error"
)

// MetricsCollector はメトリクス収集のインターフェース。
// サービス層とミドルウェアから利用する。
type MetricsCollector interface {
	RecordClaim(result string)
	RecordRelease(result string)
	RecordAdminOperation(op, result string)
	RecordLogin(mode, result string)
	RecordStoreLatency(op string, duration time.Duration)
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	claims       *prometheus.CounterVec
	releases     *prometheus.CounterVec
	adminOps     *prometheus.CounterVec
	logins       *prometheus.CounterVec
	storeLatency *prometheus.HistogramVec
	httpStatus   *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		claims: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "potluck_claims_total",
			Help: "枠の申込み試行数（結果別）",
		}, []string{"result"}),
		releases: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "potluck_releases_total",
			Help: "申込み取消し試行数（結果別）",
		}, []string{"result"}),
		adminOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "potluck_admin_operations_total",
			Help: "管理者操作数（操作・結果別）",
		}, []string{"op", "result"}),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "potluck_identity_logins_total",
			Help: "登録・ログイン試行数（モード・結果別）",
		}, []string{"mode", "result"}),
		storeLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "potluck_store_latency_seconds",
			Help:    "ストア呼び出しのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "potluck_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.claims,
		c.releases,
		c.adminOps,
		c.logins,
		c.storeLatency,
		c.httpStatus,
	)

	return c
}

func (c *Collector) RecordClaim(result string) {
	c.claims.WithLabelValues(result).Inc()
}

func (c *Collector) RecordRelease(result string) {
	c.releases.WithLabelValues(result).Inc()
}

// RecordAdminOperation は管理者操作を記録する。opはupdateまたはdelete。
func (c *Collector) RecordAdminOperation(op, result string) {
	c.adminOps.WithLabelValues(op, result).Inc()
}

// RecordLogin はmodeにcredential/lookup/upsertを、登録はregisterを渡す。
func (c *Collector) RecordLogin(mode, result string) {
	c.logins.WithLabelValues(mode, result).Inc()
}

// RecordStoreLatency はストア呼び出しのレイテンシを記録する。
func (c *Collector) RecordStoreLatency(op string, duration time.Duration) {
	c.storeLatency.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}

// compile-time interface check
var _ MetricsCollector = (*Collector)(nil)
