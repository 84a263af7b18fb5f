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
// スケジューラ、ワーカー、サービス層から利用する。
type MetricsCollector interface {
	RecordJobRun(job string, result string)
	RecordCleanup(deleted, failed int)
	SetCleanupQueueSize(n int)
	RecordRedemption(result string)
	RecordEmbyRequest(statusCode int)
	RecordEmbyLatency(duration time.Duration)
	RecordEmbyReauth(success bool)
	RecordConfirmation(outcome string)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	jobRuns        *prometheus.CounterVec
	cleanupDeleted prometheus.Counter
	cleanupFailed  prometheus.Counter
	cleanupQueue   prometheus.Gauge
	redemptions    *prometheus.CounterVec
	embyRequests   *prometheus.CounterVec
	embyLatency    prometheus.Histogram
	embyReauth     *prometheus.CounterVec
	confirmations  *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mediabot_job_runs_total",
			Help: "定期ジョブの実行回数（結果別）",
		}, []string{"job", "result"}),
		cleanupDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mediabot_cleanup_deleted_total",
			Help: "自動削除に成功したメッセージの合計数",
		}),
		cleanupFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mediabot_cleanup_failed_total",
			Help: "自動削除に失敗したメッセージの合計数",
		}),
		cleanupQueue: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mediabot_cleanup_queue_size",
			Help: "削除待ちキューに残っているエントリ数",
		}),
		redemptions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mediabot_code_redemptions_total",
			Help: "招待コード使用の試行回数（結果別）",
		}, []string{"result"}),
		embyRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mediabot_emby_requests_total",
			Help: "メディアサーバーAPIのステータスコード別レスポンス数",
		}, []string{"status"}),
		embyLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "mediabot_emby_request_latency_seconds",
			Help:    "メディアサーバーAPI呼び出しのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		embyReauth: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mediabot_emby_reauth_total",
			Help: "メディアサーバーへの再認証回数（結果別）",
		}, []string{"result"}),
		confirmations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mediabot_confirmations_total",
			Help: "確認ダイアログの解決回数（結果別）",
		}, []string{"outcome"}),
	}

	reg.MustRegister(
		c.jobRuns,
		c.cleanupDeleted,
		c.cleanupFailed,
		c.cleanupQueue,
		c.redemptions,
		c.embyRequests,
		c.embyLatency,
		c.embyReauth,
		c.confirmations,
	)

	return c
}

// RecordJobRun は定期ジョブの実行結果を記録する。resultは ok, error, panic のいずれか。
func (c *Collector) RecordJobRun(job string, result string) {
	c.jobRuns.WithLabelValues(job, result).Inc()
}

// RecordCleanup はメッセージ削除の成功数と失敗数を記録する。
func (c *Collector) RecordCleanup(deleted, failed int) {
	c.cleanupDeleted.Add(float64(deleted))
	c.cleanupFailed.Add(float64(failed))
}

// SetCleanupQueueSize は削除待ちキューの長さを記録する。
func (c *Collector) SetCleanupQueueSize(n int) {
	c.cleanupQueue.Set(float64(n))
}

// RecordRedemption は招待コード使用の結果を記録する。
func (c *Collector) RecordRedemption(result string) {
	c.redemptions.WithLabelValues(result).Inc()
}

// RecordEmbyRequest はメディアサーバーAPIのHTTPステータスコードを記録する。
// 通信エラーは0として記録する。
func (c *Collector) RecordEmbyRequest(statusCode int) {
	c.embyRequests.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordEmbyLatency はメディアサーバーAPI呼び出しのレイテンシを記録する。
func (c *Collector) RecordEmbyLatency(duration time.Duration) {
	c.embyLatency.Observe(duration.Seconds())
}

// RecordEmbyReauth は再認証の結果を記録する。
func (c *Collector) RecordEmbyReauth(success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	c.embyReauth.WithLabelValues(result).Inc()
}

// RecordConfirmation は確認ダイアログの解決結果を記録する。
func (c *Collector) RecordConfirmation(outcome string) {
	c.confirmations.WithLabelValues(outcome).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Noop は何も記録しないMetricsCollector。
type Noop struct{}

func (Noop) RecordJobRun(string, string)     {}
func (Noop) RecordCleanup(int, int)          {}
func (Noop) SetCleanupQueueSize(int)         {}
func (Noop) RecordRedemption(string)         {}
func (Noop) RecordEmbyRequest(int)           {}
func (Noop) RecordEmbyLatency(time.Duration) {}
func (Noop) RecordEmbyReauth(bool)           {}
func (Noop) RecordConfirmation(string)       {}

var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Noop{}
)
