package middleware

import (
	"net/http"
	"strings"
)

// DefaultCookieName はトークンを格納するCookie名。
const DefaultCookieName = "access_token"

// TokenExtractor はリクエストからシリアライズ済みトークンを取り出す。
// トークンが無い場合は false を返す。
type TokenExtractor interface {
	Extract(r *http.Request) (string, bool)
}

// CookieExtractor はCookieからトークンを取り出す。
type CookieExtractor struct {
	// Name はCookie名。空の場合は DefaultCookieName。
	Name string
}

// Extract はCookieの値を返す。空のCookieはトークン無しとして扱う。
func (e CookieExtractor) Extract(r *http.Request) (string, bool) {
	name := e.Name
	if name == "" {
		name = DefaultCookieName
	}
	cookie, err := r.Cookie(name)
	if err != nil || cookie.Value == "" {
		return "", false
	}
	return cookie.Value, true
}

// BearerExtractor は Authorization: Bearer ヘッダーからトークンを取り出す。
type BearerExtractor struct{}

// Extract はBearerトークンを返す。スキーム名の大文字小文字は区別しない。
func (BearerExtractor) Extract(r *http.Request) (string, bool) {
	scheme, credentials, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	credentials = strings.TrimSpace(credentials)
	return credentials, credentials != ""
}
