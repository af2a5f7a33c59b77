package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/nao1215/medigate/pkg/metrics"
)

// ginKeyRequestID はGinコンテキストにリクエストIDを格納するためのキー。
const ginKeyRequestID = "request_id"

// RequestID はリクエストごとにIDを割り当てるGinミドルウェアを返す。
// クライアントがUUID形式の X-Request-ID を送った場合はそれを引き継ぐ。
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderRequestID)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		c.Set(ginKeyRequestID, id)
		c.Header(HeaderRequestID, id)
		c.Next()
	}
}

// GetRequestID はGinコンテキストからリクエストIDを取得する。
func GetRequestID(c *gin.Context) string {
	return c.GetString(ginKeyRequestID)
}

// RequestLogger はアクセスログを出力するGinミドルウェアを返す。
// gin.Logger の代わりにlogrusの構造化ログで出力し、応答時間をメトリクスに記録する。
func RequestLogger(logger logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)

		status := c.Writer.Status()
		metrics.HTTPRequestDuration.WithLabelValues(c.Request.Method, strconv.Itoa(status)).Observe(latency.Seconds())

		fields := logrus.Fields{
			"request_id": GetRequestID(c),
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"status":     status,
			"latency_ms": latency.Milliseconds(),
			"client_ip":  c.ClientIP(),
		}
		if p, ok := GetPrincipal(c); ok {
			fields["principal"] = p.Name
		}

		entry := logger.WithFields(fields)
		switch {
		case status >= 500:
			entry.Error("リクエスト処理完了")
		case status >= 400:
			entry.Warn("リクエスト処理完了")
		default:
			entry.Info("リクエスト処理完了")
		}
	}
}
