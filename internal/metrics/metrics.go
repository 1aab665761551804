// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector はPrometheusメトリクスを収集する。
// サービス層、ワーカー、ミドルウェアから利用する。
type Collector struct {
	adsCreated        prometheus.Counter
	adsModerated      *prometheus.CounterVec
	adsDeleted        prometheus.Counter
	newsPublished     prometheus.Counter
	newsDeleted       prometheus.Counter
	newsImported      *prometheus.CounterVec
	importFailures    *prometheus.CounterVec
	importLatency     prometheus.Histogram
	httpStatus        *prometheus.CounterVec
	liveSubscriptions prometheus.Gauge
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		adsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "coletivo_ads_created_total",
			Help: "作成された広告の合計数",
		}),
		adsModerated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coletivo_ads_moderated_total",
			Help: "モデレーション結果別の広告審査数",
		}, []string{"status"}),
		adsDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "coletivo_ads_deleted_total",
			Help: "所有者が削除した広告の合計数",
		}),
		newsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "coletivo_news_published_total",
			Help: "管理者が公開したお知らせの合計数",
		}),
		newsDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "coletivo_news_deleted_total",
			Help: "削除されたお知らせの合計数",
		}),
		newsImported: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coletivo_news_import_items_total",
			Help: "外部フィード取り込みで処理した記事数（imported/skipped）",
		}, []string{"result"}),
		importFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coletivo_news_import_failures_total",
			Help: "外部フィード取り込みの失敗数",
		}, []string{"reason"}),
		importLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "coletivo_news_import_latency_seconds",
			Help:    "外部フィード取り込みのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coletivo_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		liveSubscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "coletivo_live_subscriptions",
			Help: "現在のライブクエリ購読数",
		}),
	}

	reg.MustRegister(
		c.adsCreated,
		c.adsModerated,
		c.adsDeleted,
		c.newsPublished,
		c.newsDeleted,
		c.newsImported,
		c.importFailures,
		c.importLatency,
		c.httpStatus,
		c.liveSubscriptions,
	)

	return c
}

// RecordAdCreated は広告の作成を記録する。
func (c *Collector) RecordAdCreated() {
	c.adsCreated.Inc()
}

// RecordAdModerated はモデレーション結果を記録する。
func (c *Collector) RecordAdModerated(status string) {
	c.adsModerated.WithLabelValues(status).Inc()
}

// RecordAdDeleted は広告の削除を記録する。
func (c *Collector) RecordAdDeleted() {
	c.adsDeleted.Inc()
}

// RecordNewsPublished はお知らせの公開を記録する。
func (c *Collector) RecordNewsPublished() {
	c.newsPublished.Inc()
}

// RecordNewsDeleted はお知らせの削除を記録する。
func (c *Collector) RecordNewsDeleted() {
	c.newsDeleted.Inc()
}

// RecordNewsImported は取り込み結果の件数を記録する。
func (c *Collector) RecordNewsImported(imported, skipped int) {
	c.newsImported.WithLabelValues("imported").Add(float64(imported))
	c.newsImported.WithLabelValues("skipped").Add(float64(skipped))
}

// RecordImportFailure は取り込みの失敗を記録する。
func (c *Collector) RecordImportFailure(reason string) {
	c.importFailures.WithLabelValues(reason).Inc()
}

// RecordImportLatency は取り込みのレイテンシを記録する。
func (c *Collector) RecordImportLatency(duration time.Duration) {
	c.importLatency.Observe(duration.Seconds())
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// LiveSubscriptions はライブクエリ購読数のゲージを返す。
func (c *Collector) LiveSubscriptions() prometheus.Gauge {
	return c.liveSubscriptions
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
