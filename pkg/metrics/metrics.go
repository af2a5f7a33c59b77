// Package metrics はゲートウェイのPrometheusメトリクスを定義する。
//
// メトリクスはゲートウェイ本体とは別のポートで公開する。
// 本体のルーターは未定義パスをすべて拒否するため、/metrics を同居させない。
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "medigate"

var (
	// AuthRequestsTotal は認証モードごとの判定結果を数える。
	// reasonには拒否理由（EXPIRED など）を入れる。成功時は空文字。
	AuthRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_requests_total",
			Help:      "Total number of authentication decisions by mode and result",
		},
		[]string{"mode", "result", "reason"},
	)

	// TokensIssuedTotal は発行したトークンの数。
	TokensIssuedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_issued_total",
			Help:      "Total number of session tokens issued",
		},
	)

	// TokenValidateDuration はトークン検証にかかった時間。
	TokenValidateDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "token_validate_duration_seconds",
			Help:      "Time spent validating session tokens",
			Buckets:   []float64{.0001, .00025, .0005, .001, .0025, .005, .01, .025, .05},
		},
	)

	// HTTPRequestDuration はレスポンスまでの時間をステータスコード別に記録する。
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Time spent serving HTTP requests",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "status"},
	)

	// UpstreamErrorsTotal は転送先に接続できなかった回数。
	UpstreamErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_errors_total",
			Help:      "Total number of requests that could not reach the upstream service",
		},
	)
)

// 判定結果のラベル値。
const (
	ResultAllow = "allow"
	ResultDeny  = "deny"
)

// RecordAuth は認証判定を1件記録する。
func RecordAuth(mode, result, reason string) {
	AuthRequestsTotal.WithLabelValues(mode, result, reason).Inc()
}

// Handler はデフォルトレジストリを公開するHTTPハンドラーを返す。
func Handler() http.Handler {
	return promhttp.Handler()
}
