package middleware

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
)

// 内部サービスへ伝播するヘッダー。
const (
	// HeaderUserID は認証済みユーザー名を内部サービスへ伝えるヘッダー。
	HeaderUserID = "X-User-ID"
	// HeaderRequestID はリクエストIDのヘッダー。
	HeaderRequestID = "X-Request-ID"
)

// ginKeyForwarded はGinコンテキストにForwardedRequestを格納するためのキー。
const ginKeyForwarded = "forwarded_request"

// hopHeaders は転送時に引き継がないホップバイホップヘッダー。
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// ForwardedRequest は内部サービスへ転送するリクエストの読み取り専用ビュー。
// 認証成功時に一度だけ生成され、元の *http.Request のヘッダーは変更しない。
type ForwardedRequest struct {
	method        string
	path          string
	rawQuery      string
	header        http.Header
	body          io.Reader
	contentLength int64
}

// NewForwardedRequest は元のリクエストから転送用ビューを生成する。
// ヘッダーは複製したうえで Authorization: Bearer、X-User-ID、X-Request-ID を設定し、
// ホップバイホップヘッダーとCookieを取り除く。
func NewForwardedRequest(r *http.Request, token string, p Principal, requestID string) *ForwardedRequest {
	header := r.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	for _, h := range hopHeaders {
		header.Del(h)
	}
	header.Del("Cookie")
	header.Set("Authorization", "Bearer "+token)
	header.Set(HeaderUserID, p.Name)
	if requestID != "" {
		header.Set(HeaderRequestID, requestID)
	}

	var body io.Reader = http.NoBody
	if r.Body != nil {
		body = r.Body
	}

	return &ForwardedRequest{
		method:        r.Method,
		path:          r.URL.Path,
		rawQuery:      r.URL.RawQuery,
		header:        header,
		body:          body,
		contentLength: r.ContentLength,
	}
}

// Method はHTTPメソッドを返す。
func (f *ForwardedRequest) Method() string { return f.method }

// Path はリクエストパスを返す。
func (f *ForwardedRequest) Path() string { return f.path }

// RawQuery はエンコード済みのクエリ文字列を返す。
func (f *ForwardedRequest) RawQuery() string { return f.rawQuery }

// Header は転送用ヘッダーの複製を返す。
func (f *ForwardedRequest) Header() http.Header { return f.header.Clone() }

// Body はリクエストボディを返す。読み取りは一度だけ行える。
func (f *ForwardedRequest) Body() io.Reader { return f.body }

// ContentLength はボディ長を返す。不明な場合は -1。
func (f *ForwardedRequest) ContentLength() int64 { return f.contentLength }

// GetForwardedRequest はGinコンテキストから転送用ビューを取得する。
func GetForwardedRequest(c *gin.Context) (*ForwardedRequest, bool) {
	v, ok := c.Get(ginKeyForwarded)
	if !ok {
		return nil, false
	}
	f, ok := v.(*ForwardedRequest)
	return f, ok
}
