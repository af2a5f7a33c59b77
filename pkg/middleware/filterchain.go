package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"path"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/nao1215/medigate/pkg/metrics"
)

// AuthMode はパスに適用する認証モード。メトリクスのラベルにも使う。
type AuthMode string

const (
	// ModeBasicCredentials はBasic認証でユーザー名とパスワードを要求する。
	ModeBasicCredentials AuthMode = "basic_credentials"
	// ModeBearerToken はセッショントークンを要求する。
	ModeBearerToken AuthMode = "bearer_token"
	// ModeDeny は無条件に403を返す。
	ModeDeny AuthMode = "deny"
	// ModePermit は認証なしで通過させる。
	ModePermit AuthMode = "permit"
)

// 拒否理由。
const (
	reasonNoRule       = "NO_RULE"
	reasonNonCanonical = "NON_CANONICAL_PATH"
)

// Rule はパスパターンと認証モードの組。
type Rule struct {
	// Pattern は完全一致（/auth/token）または末尾ワイルドカード（/api/**、/**）。
	Pattern string
	// Mode は一致したリクエストに適用する認証モード。
	Mode AuthMode
	// CORS は認証より先にCORSポリシーを適用するかどうか。
	CORS bool
}

// matches はパスがパターンに一致するかを判定する。
// /api/** は /api 自身と /api/ 以下のすべてに一致する。
func (r Rule) matches(p string) bool {
	prefix, wildcard := strings.CutSuffix(r.Pattern, "/**")
	if !wildcard {
		return p == r.Pattern
	}
	if prefix == "" {
		return true
	}
	return p == prefix || strings.HasPrefix(p, prefix+"/")
}

// validatePattern はパターンの形式を検証する。
func validatePattern(pattern string) error {
	if !strings.HasPrefix(pattern, "/") {
		return fmt.Errorf("パターンは / で始まる必要があります: %q", pattern)
	}
	body := strings.TrimSuffix(pattern, "/**")
	if strings.Contains(body, "*") {
		return fmt.Errorf("ワイルドカードは末尾の /** のみ使用できます: %q", pattern)
	}
	if body != "" && path.Clean(body) != body {
		return fmt.Errorf("パターンが正規化されていません: %q", pattern)
	}
	return nil
}

// ModeHandlers は認証モードごとのハンドラー。
type ModeHandlers struct {
	// BasicCredentials は ModeBasicCredentials のルールで実行する。
	BasicCredentials gin.HandlerFunc
	// BearerToken は ModeBearerToken のルールで実行する。
	BearerToken gin.HandlerFunc
}

// FilterChain はリクエストパスに対してルールを宣言順に評価し、最初に一致したルールの
// 認証モードを適用する。生成後は不変であり、複数のgoroutineから同時に使用できる。
type FilterChain struct {
	rules    []Rule
	handlers ModeHandlers
	cors     *CORSPolicy
	logger   logrus.FieldLogger
}

// NewFilterChain はルールを検証して FilterChain を生成する。
// ルールは複製して保持するため、呼び出し側が後から変更しても影響しない。
// corsがnilの場合、CORSを有効にしたルールでも何もしない。
func NewFilterChain(rules []Rule, handlers ModeHandlers, cors *CORSPolicy, logger logrus.FieldLogger) (*FilterChain, error) {
	var errs []error
	for i, r := range rules {
		if err := validatePattern(r.Pattern); err != nil {
			errs = append(errs, fmt.Errorf("rules[%d]: %w", i, err))
		}
		switch r.Mode {
		case ModeBasicCredentials:
			if handlers.BasicCredentials == nil {
				errs = append(errs, fmt.Errorf("rules[%d]: Basic認証のハンドラーがありません", i))
			}
		case ModeBearerToken:
			if handlers.BearerToken == nil {
				errs = append(errs, fmt.Errorf("rules[%d]: Bearerトークンのハンドラーがありません", i))
			}
		case ModeDeny, ModePermit:
		default:
			errs = append(errs, fmt.Errorf("rules[%d]: 未知の認証モードです: %q", i, r.Mode))
		}
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("フィルタチェーンの構成が不正です: %w", errors.Join(errs...))
	}

	return &FilterChain{
		rules:    append([]Rule(nil), rules...),
		handlers: handlers,
		cors:     cors,
		logger:   logger,
	}, nil
}

// Rules は評価順のルール一覧の複製を返す。
func (f *FilterChain) Rules() []Rule {
	return append([]Rule(nil), f.rules...)
}

// Match はパスに最初に一致したルールを返す。
// パスは評価前に正規化するため、/api/../admin は /admin として扱う。
func (f *FilterChain) Match(p string) (Rule, bool) {
	p = cleanPath(p)
	for _, r := range f.rules {
		if r.matches(p) {
			return r, true
		}
	}
	return Rule{}, false
}

// Handler は全リクエストに適用するGinミドルウェアを返す。
// engine.Use で登録するため、ルーティングされないパスにも適用される。
func (f *FilterChain) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		// ルーティングは正規化前のパスで行われるため、非正規のパスは評価せずに拒否する
		if !isCanonical(c.Request.URL.Path) {
			f.deny(c, ModeDeny, reasonNonCanonical)
			return
		}

		rule, ok := f.Match(c.Request.URL.Path)
		if !ok {
			f.deny(c, ModeDeny, reasonNoRule)
			return
		}

		if rule.CORS && f.cors != nil && f.cors.Apply(c) {
			return
		}

		switch rule.Mode {
		case ModeBasicCredentials:
			f.handlers.BasicCredentials(c)
		case ModeBearerToken:
			f.handlers.BearerToken(c)
		case ModePermit:
			metrics.RecordAuth(string(ModePermit), metrics.ResultAllow, "")
			c.Next()
		default:
			f.deny(c, ModeDeny, "")
		}
	}
}

func (f *FilterChain) deny(c *gin.Context, mode AuthMode, reason string) {
	metrics.RecordAuth(string(mode), metrics.ResultDeny, reason)
	f.logger.WithFields(logrus.Fields{
		"request_id": GetRequestID(c),
		"method":     c.Request.Method,
		"path":       c.Request.URL.Path,
		"reason":     reason,
	}).Debug("リクエストを拒否")
	c.AbortWithStatus(http.StatusForbidden)
}

// cleanPath はパスを正規化する。末尾のスラッシュは取り除く。
func cleanPath(p string) string {
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return path.Clean(p)
}

// isCanonical はパスが正規化済みかを判定する。末尾のスラッシュは許容する。
func isCanonical(p string) bool {
	c := cleanPath(p)
	return c == p || c+"/" == p
}

// DefaultRules はゲートウェイの標準ルールを評価順に返す。
//
//	/auth/token   Basic認証でトークンを発行
//	/auth/logout  認証なし（常に成功）
//	/auth/check   トークン必須
//	/api/**       トークン必須
//	/health       認証なし
//	/**           拒否
func DefaultRules() []Rule {
	return []Rule{
		{Pattern: "/auth/token", Mode: ModeBasicCredentials, CORS: true},
		{Pattern: "/auth/logout", Mode: ModePermit, CORS: true},
		{Pattern: "/auth/check", Mode: ModeBearerToken, CORS: true},
		{Pattern: "/api/**", Mode: ModeBearerToken, CORS: true},
		{Pattern: "/health", Mode: ModePermit},
		{Pattern: "/**", Mode: ModeDeny},
	}
}
