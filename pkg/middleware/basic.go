package middleware

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/nao1215/medigate/pkg/credential"
	"github.com/nao1215/medigate/pkg/metrics"
	"github.com/nao1215/medigate/pkg/token"
)

// reasonMissingCredentials はAuthorization: Basic が無い場合の拒否理由。
const reasonMissingCredentials = "MISSING_CREDENTIALS"

// RejectFunc はBasic認証の拒否を通知するフック。監査ログの記録に使う。
type RejectFunc func(c *gin.Context, username, reason string)

// BasicAuthenticator はBasic認証でユーザー名とパスワードを検証する。
type BasicAuthenticator struct {
	verifier credential.Verifier
	realm    string
	logger   logrus.FieldLogger
	onReject RejectFunc
}

// NewBasicAuthenticator は新しいBasicAuthenticatorを生成する。
// onRejectはnilでもよい。
func NewBasicAuthenticator(verifier credential.Verifier, realm string, logger logrus.FieldLogger, onReject RejectFunc) *BasicAuthenticator {
	return &BasicAuthenticator{
		verifier: verifier,
		realm:    realm,
		logger:   logger,
		onReject: onReject,
	}
}

// Middleware はBasic認証を要求するGinミドルウェアを返す。
// 失敗時は WWW-Authenticate ヘッダー付きの401を返す。成功時はPrincipalを設定する。
func (b *BasicAuthenticator) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		username, password, ok := c.Request.BasicAuth()
		if !ok {
			b.reject(c, "", reasonMissingCredentials, nil)
			return
		}

		// Verifyはストアへのブロッキング呼び出しになり得るが、ロックは保持していない
		name, err := b.verifier.Verify(c.Request.Context(), username, password)
		if err != nil {
			b.reject(c, username, string(token.Kind(err)), err)
			return
		}

		metrics.RecordAuth(string(ModeBasicCredentials), metrics.ResultAllow, "")
		bindPrincipal(c, Principal{Name: name})
		c.Next()
	}
}

func (b *BasicAuthenticator) reject(c *gin.Context, username, reason string, err error) {
	metrics.RecordAuth(string(ModeBasicCredentials), metrics.ResultDeny, reason)

	entry := b.logger.WithFields(logrus.Fields{
		"request_id": GetRequestID(c),
		"path":       c.Request.URL.Path,
		"username":   username,
		"reason":     reason,
	})
	if err != nil {
		entry = entry.WithError(err)
	}
	entry.Warn("Basic認証に失敗")

	if b.onReject != nil {
		b.onReject(c, username, reason)
	}

	c.Header("WWW-Authenticate", fmt.Sprintf("Basic realm=%q", b.realm))
	abortUnauthorized(c)
}
