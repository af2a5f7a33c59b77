package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"pgregory.net/rapid"

	"github.com/nao1215/medigate/pkg/logging"
)

// stubHandlers はモードごとに呼ばれたことを記録するハンドラーを返す。
func stubHandlers(calls *[]AuthMode) ModeHandlers {
	return ModeHandlers{
		BasicCredentials: func(c *gin.Context) {
			*calls = append(*calls, ModeBasicCredentials)
			c.Next()
		},
		BearerToken: func(c *gin.Context) {
			*calls = append(*calls, ModeBearerToken)
			c.AbortWithStatus(http.StatusUnauthorized)
		},
	}
}

// mustFilterChain はテスト用のFilterChainを生成する。
func mustFilterChain(t *testing.T, rules []Rule, handlers ModeHandlers, cors *CORSPolicy) *FilterChain {
	t.Helper()

	chain, err := NewFilterChain(rules, handlers, cors, logging.Discard())
	if err != nil {
		t.Fatalf("NewFilterChain()でエラーが発生: %v", err)
	}
	return chain
}

// TestNewFilterChain は構成時の検証を検証する。
func TestNewFilterChain(t *testing.T) {
	t.Parallel()

	var calls []AuthMode
	handlers := stubHandlers(&calls)

	tests := []struct {
		name     string
		rules    []Rule
		handlers ModeHandlers
	}{
		{name: "スラッシュで始まらない", rules: []Rule{{Pattern: "api/**", Mode: ModeDeny}}, handlers: handlers},
		{name: "途中のワイルドカード", rules: []Rule{{Pattern: "/api/*/records", Mode: ModeDeny}}, handlers: handlers},
		{name: "単一のワイルドカード", rules: []Rule{{Pattern: "/api/*", Mode: ModeDeny}}, handlers: handlers},
		{name: "正規化されていない", rules: []Rule{{Pattern: "/api/../admin", Mode: ModeDeny}}, handlers: handlers},
		{name: "未知のモード", rules: []Rule{{Pattern: "/api/**", Mode: "magic"}}, handlers: handlers},
		{name: "Basic認証のハンドラーなし", rules: []Rule{{Pattern: "/auth/token", Mode: ModeBasicCredentials}}},
		{name: "Bearerのハンドラーなし", rules: []Rule{{Pattern: "/api/**", Mode: ModeBearerToken}}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name+"ルールはエラーになること", func(t *testing.T) {
			t.Parallel()

			if _, err := NewFilterChain(tt.rules, tt.handlers, nil, logging.Discard()); err == nil {
				t.Error("NewFilterChain()がエラーを返すべき")
			}
		})
	}

	t.Run("標準ルールは生成できること", func(t *testing.T) {
		t.Parallel()

		chain := mustFilterChain(t, DefaultRules(), handlers, nil)
		if got := len(chain.Rules()); got != 6 {
			t.Errorf("len(Rules()) = %d, want 6", got)
		}
	})

	t.Run("生成後に元のスライスを変更しても影響しないこと", func(t *testing.T) {
		t.Parallel()

		rules := []Rule{{Pattern: "/health", Mode: ModePermit}}
		chain := mustFilterChain(t, rules, handlers, nil)
		rules[0].Mode = ModeDeny

		if r, _ := chain.Match("/health"); r.Mode != ModePermit {
			t.Errorf("Mode = %q, want %q", r.Mode, ModePermit)
		}
		got := chain.Rules()
		got[0].Pattern = "/changed"
		if r, ok := chain.Match("/health"); !ok || r.Pattern != "/health" {
			t.Errorf("Rules()の戻り値の変更が反映された: %+v", r)
		}
	})
}

// TestFilterChain_Match は宣言順の先勝ちを検証する。
func TestFilterChain_Match(t *testing.T) {
	t.Parallel()

	var calls []AuthMode
	handlers := stubHandlers(&calls)

	t.Run("先に宣言された広いルールが後の狭いルールより優先されること", func(t *testing.T) {
		t.Parallel()

		chain := mustFilterChain(t, []Rule{
			{Pattern: "/api/**", Mode: ModeBearerToken},
			{Pattern: "/api/admin/**", Mode: ModeDeny},
		}, handlers, nil)

		r, ok := chain.Match("/api/admin/users")
		if !ok || r.Pattern != "/api/**" || r.Mode != ModeBearerToken {
			t.Errorf("Match() = %+v, %v, want /api/** BearerToken", r, ok)
		}
	})

	t.Run("標準ルールの各パスが期待するモードになること", func(t *testing.T) {
		t.Parallel()

		chain := mustFilterChain(t, DefaultRules(), handlers, nil)
		tests := map[string]AuthMode{
			"/auth/token":        ModeBasicCredentials,
			"/auth/logout":       ModePermit,
			"/auth/check":        ModeBearerToken,
			"/api":               ModeBearerToken,
			"/api/patients/42":   ModeBearerToken,
			"/health":            ModePermit,
			"/healthz":           ModeDeny,
			"/":                  ModeDeny,
			"/auth/token/extra":  ModeDeny,
			"/apix":              ModeDeny,
			"/api/../health":     ModePermit,
			"/auth/check/":       ModeBearerToken,
			"/internal/shutdown": ModeDeny,
		}
		for path, want := range tests {
			r, ok := chain.Match(path)
			if !ok || r.Mode != want {
				t.Errorf("Match(%q) = %q, %v, want %q", path, r.Mode, ok, want)
			}
		}
	})

	t.Run("どのルールにも一致しない場合はfalseを返すこと", func(t *testing.T) {
		t.Parallel()

		chain := mustFilterChain(t, []Rule{{Pattern: "/health", Mode: ModePermit}}, handlers, nil)
		if _, ok := chain.Match("/other"); ok {
			t.Error("Match()がfalseを返すべき")
		}
	})
}

// segmentsMatch はパターンとパスをセグメント単位で比較する。
func segmentsMatch(pattern, path string) bool {
	split := func(s string) []string {
		var out []string
		for _, seg := range strings.Split(s, "/") {
			if seg != "" {
				out = append(out, seg)
			}
		}
		return out
	}
	ps, xs := split(pattern), split(path)
	wildcard := len(ps) > 0 && ps[len(ps)-1] == "**"
	if wildcard {
		ps = ps[:len(ps)-1]
		if len(xs) < len(ps) {
			return false
		}
		xs = xs[:len(ps)]
	} else if len(xs) != len(ps) {
		return false
	}
	for i := range ps {
		if ps[i] != xs[i] {
			return false
		}
	}
	return true
}

// TestFilterChain_MatchProperties はルール列に対する先勝ちの性質を検証する。
func TestFilterChain_MatchProperties(t *testing.T) {
	t.Parallel()

	segment := rapid.SampledFrom([]string{"api", "admin", "auth", "token", "health"})
	ruleGen := rapid.Custom(func(rt *rapid.T) Rule {
		segs := rapid.SliceOfN(segment, 0, 3).Draw(rt, "segments")
		pattern := "/" + strings.Join(segs, "/")
		if rapid.Bool().Draw(rt, "wildcard") {
			pattern = strings.TrimSuffix(pattern, "/") + "/**"
		}
		mode := rapid.SampledFrom([]AuthMode{ModeBasicCredentials, ModeBearerToken, ModeDeny, ModePermit}).Draw(rt, "mode")
		return Rule{Pattern: pattern, Mode: mode}
	})

	var calls []AuthMode
	handlers := stubHandlers(&calls)

	rapid.Check(t, func(rt *rapid.T) {
		rules := rapid.SliceOfN(ruleGen, 0, 8).Draw(rt, "rules")
		path := "/" + strings.Join(rapid.SliceOfN(segment, 0, 4).Draw(rt, "path"), "/")

		chain, err := NewFilterChain(rules, handlers, nil, logging.Discard())
		if err != nil {
			rt.Fatalf("NewFilterChain()でエラーが発生: %v", err)
		}

		want := -1
		for i, r := range rules {
			if segmentsMatch(r.Pattern, path) {
				want = i
				break
			}
		}

		got, ok := chain.Match(path)
		if want < 0 {
			if ok {
				rt.Fatalf("Match(%q) = %+v, want no match", path, got)
			}
			return
		}
		if !ok || got != rules[want] {
			rt.Fatalf("Match(%q) = %+v, %v, want rules[%d] = %+v", path, got, ok, want, rules[want])
		}

		// 一致したルールより前に同じパスに一致するルールを足すと、そちらが選ばれる
		front := Rule{Pattern: "/**", Mode: ModeDeny}
		chain, err = NewFilterChain(append([]Rule{front}, rules...), handlers, nil, logging.Discard())
		if err != nil {
			rt.Fatalf("NewFilterChain()でエラーが発生: %v", err)
		}
		if got, _ := chain.Match(path); got != front {
			rt.Fatalf("先頭に追加したルールが選ばれない: %+v", got)
		}
	})
}

// TestFilterChain_Handler はGinミドルウェアとしての動作を検証する。
func TestFilterChain_Handler(t *testing.T) {
	t.Parallel()

	newRouter := func(t *testing.T, calls *[]AuthMode, rules []Rule) *gin.Engine {
		t.Helper()

		cors := NewCORSPolicy([]string{"https://app.example.com"}, nil, nil, true)
		chain := mustFilterChain(t, rules, stubHandlers(calls), cors)
		router := gin.New()
		router.Use(chain.Handler())
		ok := func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) }
		router.GET("/health", ok)
		router.POST("/auth/token", ok)
		router.Any("/api/*path", ok)
		router.GET("/internal", ok)
		return router
	}

	t.Run("許可ルールはハンドラーまで到達すること", func(t *testing.T) {
		t.Parallel()

		var calls []AuthMode
		router := newRouter(t, &calls, DefaultRules())

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
		if w.Code != http.StatusOK {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusOK)
		}
		if len(calls) != 0 {
			t.Errorf("認証ハンドラーが呼ばれた: %v", calls)
		}
	})

	t.Run("拒否ルールとルーティングされないパスは本文なしの403になること", func(t *testing.T) {
		t.Parallel()

		var calls []AuthMode
		router := newRouter(t, &calls, DefaultRules())

		for _, path := range []string{"/internal", "/no-such-route", "/api/../internal"} {
			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
			if w.Code != http.StatusForbidden {
				t.Errorf("%s: ステータスコード = %d, want %d", path, w.Code, http.StatusForbidden)
			}
			if w.Body.Len() != 0 {
				t.Errorf("%s: body = %q, want empty", path, w.Body.String())
			}
		}
		if len(calls) != 0 {
			t.Errorf("認証ハンドラーが呼ばれた: %v", calls)
		}
	})

	t.Run("どのルールにも一致しない場合は403になること", func(t *testing.T) {
		t.Parallel()

		var calls []AuthMode
		router := newRouter(t, &calls, []Rule{{Pattern: "/health", Mode: ModePermit}})

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/internal", nil))
		if w.Code != http.StatusForbidden {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusForbidden)
		}
	})

	t.Run("モードに対応するハンドラーへ委譲されること", func(t *testing.T) {
		t.Parallel()

		var calls []AuthMode
		router := newRouter(t, &calls, DefaultRules())

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/auth/token", nil))
		if w.Code != http.StatusOK {
			t.Errorf("/auth/token: ステータスコード = %d, want %d", w.Code, http.StatusOK)
		}

		w = httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/patients", nil))
		if w.Code != http.StatusUnauthorized {
			t.Errorf("/api/patients: ステータスコード = %d, want %d", w.Code, http.StatusUnauthorized)
		}

		want := []AuthMode{ModeBasicCredentials, ModeBearerToken}
		if len(calls) != len(want) || calls[0] != want[0] || calls[1] != want[1] {
			t.Errorf("calls = %v, want %v", calls, want)
		}
	})

	t.Run("プリフライトは認証より先に204で応答されること", func(t *testing.T) {
		t.Parallel()

		var calls []AuthMode
		router := newRouter(t, &calls, DefaultRules())

		req := httptest.NewRequest(http.MethodOptions, "/api/patients", nil)
		req.Header.Set("Origin", "https://app.example.com")
		req.Header.Set("Access-Control-Request-Method", "GET")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		if w.Code != http.StatusNoContent {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusNoContent)
		}
		if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
			t.Errorf("Access-Control-Allow-Origin = %q", got)
		}
		if len(calls) != 0 {
			t.Errorf("プリフライトで認証ハンドラーが呼ばれた: %v", calls)
		}
	})

	t.Run("CORSを有効にしていないルールではCORSヘッダーを付けないこと", func(t *testing.T) {
		t.Parallel()

		var calls []AuthMode
		router := newRouter(t, &calls, DefaultRules())

		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set("Origin", "https://app.example.com")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
			t.Errorf("Access-Control-Allow-Origin = %q, want empty string", got)
		}
	})
}
