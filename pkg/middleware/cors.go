package middleware

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

// corsMaxAge はプリフライト結果のキャッシュ秒数。
const corsMaxAge = 86400

// CORSPolicy はクロスオリジンリクエストの許可ポリシー。
// FilterChain が CORS を有効にしたルールに対して認証より先に適用する。
type CORSPolicy struct {
	origins          map[string]struct{}
	allowMethods     string
	allowHeaders     string
	allowCredentials bool
}

// NewCORSPolicy は許可するオリジン、メソッド、ヘッダーからポリシーを生成する。
// methodsとheadersが空の場合は GET, POST, PUT, DELETE, OPTIONS と Authorization, Content-Type を使う。
func NewCORSPolicy(origins, methods, headers []string, allowCredentials bool) *CORSPolicy {
	set := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		set[o] = struct{}{}
	}
	if len(methods) == 0 {
		methods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	}
	if len(headers) == 0 {
		headers = []string{"Authorization", "Content-Type"}
	}
	return &CORSPolicy{
		origins:          set,
		allowMethods:     strings.Join(methods, ", "),
		allowHeaders:     strings.Join(headers, ", "),
		allowCredentials: allowCredentials,
	}
}

// Apply はCORSヘッダーを設定する。
// プリフライトリクエスト（Originを伴うOPTIONS）には204を返して処理を中断し、true を返す。
func (p *CORSPolicy) Apply(c *gin.Context) bool {
	origin := c.GetHeader("Origin")
	if origin == "" {
		return false
	}

	c.Header("Vary", "Origin")
	if _, ok := p.origins[origin]; ok {
		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", p.allowMethods)
		c.Header("Access-Control-Allow-Headers", p.allowHeaders)
		c.Header("Access-Control-Max-Age", strconv.Itoa(corsMaxAge))
		if p.allowCredentials {
			c.Header("Access-Control-Allow-Credentials", "true")
		}
	}

	if c.Request.Method == http.MethodOptions {
		c.AbortWithStatus(http.StatusNoContent)
		return true
	}
	return false
}
