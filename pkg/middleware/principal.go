package middleware

import (
	"context"

	"github.com/gin-gonic/gin"
)

// Principal は認証済みのリクエスト主体。リクエスト処理中のみ存在し、永続化しない。
type Principal struct {
	// Name はトークンのsubject、またはBasic認証のユーザー名。
	Name string
}

// principalKey はcontext.Contextに格納するためのキー。
type principalKey struct{}

// ginKeyPrincipal はGinコンテキストに格納するためのキー。
const ginKeyPrincipal = "principal"

// WithPrincipal はPrincipalを紐付けたコンテキストを返す。
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom はコンテキストからPrincipalを取り出す。
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// GetPrincipal はGinコンテキストからPrincipalを取得する。
// 認証ミドルウェアを通過していない場合は false を返す。
func GetPrincipal(c *gin.Context) (Principal, bool) {
	v, ok := c.Get(ginKeyPrincipal)
	if !ok {
		return Principal{}, false
	}
	p, ok := v.(Principal)
	return p, ok
}

// bindPrincipal はGinコンテキストとリクエストのcontext.Contextの両方にPrincipalを設定する。
func bindPrincipal(c *gin.Context, p Principal) {
	c.Set(ginKeyPrincipal, p)
	c.Request = c.Request.WithContext(WithPrincipal(c.Request.Context(), p))
}
