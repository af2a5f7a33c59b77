package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/nao1215/medigate/pkg/metrics"
	"github.com/nao1215/medigate/pkg/token"
)

// unauthorizedMessage は認証失敗時にクライアントへ返す唯一のメッセージ。
// 失敗理由はログとメトリクスにのみ残す。
const unauthorizedMessage = "認証に失敗しました"

// TokenValidator はシリアライズ済みトークンを検証してsubjectを返す。
// *token.Codec が実装する。
type TokenValidator interface {
	Validate(serialized string) (string, error)
}

// Authenticator はBearerトークンモードでリクエストを認証する。
// 状態を持たないため、複数のgoroutineから同時に使用できる。
type Authenticator struct {
	validator TokenValidator
	extractor TokenExtractor
	logger    logrus.FieldLogger
}

// NewAuthenticator は新しいAuthenticatorを生成する。
func NewAuthenticator(validator TokenValidator, extractor TokenExtractor, logger logrus.FieldLogger) *Authenticator {
	return &Authenticator{
		validator: validator,
		extractor: extractor,
		logger:    logger,
	}
}

// Authenticate はリクエストからトークンを取り出して検証する。
// 成功時はPrincipalと検証済みトークンを返す。
// トークンが無い場合は token.ErrMissingToken、検証に失敗した場合はCodecのエラーを返す。
func (a *Authenticator) Authenticate(r *http.Request) (Principal, string, error) {
	serialized, ok := a.extractor.Extract(r)
	if !ok {
		return Principal{}, "", token.ErrMissingToken
	}

	start := time.Now()
	subject, err := a.validator.Validate(serialized)
	metrics.TokenValidateDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return Principal{}, "", err
	}
	return Principal{Name: subject}, serialized, nil
}

// Middleware はBearerトークンを要求するGinミドルウェアを返す。
// 失敗時は401と汎用メッセージを返して後続を実行しない。
// 成功時はPrincipalと転送用ビューをコンテキストに設定する。
func (a *Authenticator) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		p, serialized, err := a.Authenticate(c.Request)
		if err != nil {
			kind := token.Kind(err)
			metrics.RecordAuth(string(ModeBearerToken), metrics.ResultDeny, string(kind))
			a.logger.WithFields(logrus.Fields{
				"request_id": GetRequestID(c),
				"path":       c.Request.URL.Path,
				"reason":     kind,
			}).WithError(err).Warn("トークン認証に失敗")
			abortUnauthorized(c)
			return
		}

		metrics.RecordAuth(string(ModeBearerToken), metrics.ResultAllow, "")
		bindPrincipal(c, p)
		c.Set(ginKeyForwarded, NewForwardedRequest(c.Request, serialized, p, GetRequestID(c)))
		c.Next()
	}
}

// abortUnauthorized は401を返して処理を中断する。
func abortUnauthorized(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"error": unauthorizedMessage,
	})
}
