package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

// newCORSRouter はCORSPolicy.Applyを通してからハンドラーを実行するテスト用ルーター。
func newCORSRouter(policy *CORSPolicy, called *bool) *gin.Engine {
	router := gin.New()
	router.Use(func(c *gin.Context) {
		if policy.Apply(c) {
			return
		}
		c.Next()
	})
	handler := func(c *gin.Context) {
		*called = true
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
	router.GET("/test", handler)
	router.OPTIONS("/test", handler)
	return router
}

// TestCORSPolicy はCORSポリシーを検証する。
func TestCORSPolicy(t *testing.T) {
	t.Parallel()

	t.Run("許可されたオリジンにCORSヘッダーが設定されること", func(t *testing.T) {
		t.Parallel()

		var called bool
		router := newCORSRouter(NewCORSPolicy([]string{"http://localhost:3000", "https://example.com"}, nil, nil, false), &called)

		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set("Origin", "https://example.com")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		if w.Code != http.StatusOK || !called {
			t.Errorf("ステータスコード = %d, called = %v", w.Code, called)
		}
		want := map[string]string{
			"Access-Control-Allow-Origin":      "https://example.com",
			"Access-Control-Allow-Methods":     "GET, POST, PUT, DELETE, OPTIONS",
			"Access-Control-Allow-Headers":     "Authorization, Content-Type",
			"Access-Control-Max-Age":           "86400",
			"Access-Control-Allow-Credentials": "",
			"Vary":                             "Origin",
		}
		for k, v := range want {
			if got := w.Header().Get(k); got != v {
				t.Errorf("%s = %q, want %q", k, got, v)
			}
		}
	})

	t.Run("設定したメソッドとヘッダーと資格情報の許可が反映されること", func(t *testing.T) {
		t.Parallel()

		var called bool
		policy := NewCORSPolicy([]string{"https://app.example.com"}, []string{"GET", "POST"}, []string{"Content-Type"}, true)
		router := newCORSRouter(policy, &called)

		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set("Origin", "https://app.example.com")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		if got := w.Header().Get("Access-Control-Allow-Methods"); got != "GET, POST" {
			t.Errorf("Access-Control-Allow-Methods = %q", got)
		}
		if got := w.Header().Get("Access-Control-Allow-Headers"); got != "Content-Type" {
			t.Errorf("Access-Control-Allow-Headers = %q", got)
		}
		if got := w.Header().Get("Access-Control-Allow-Credentials"); got != "true" {
			t.Errorf("Access-Control-Allow-Credentials = %q, want %q", got, "true")
		}
	})

	t.Run("許可されていないオリジンにはCORSヘッダーが設定されないこと", func(t *testing.T) {
		t.Parallel()

		var called bool
		router := newCORSRouter(NewCORSPolicy([]string{"http://localhost:3000"}, nil, nil, true), &called)

		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set("Origin", "https://evil.example.com")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		if w.Code != http.StatusOK || !called {
			t.Errorf("ステータスコード = %d, called = %v", w.Code, called)
		}
		if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
			t.Errorf("Access-Control-Allow-Origin = %q, want empty string", got)
		}
	})

	t.Run("プリフライトは204で中断されハンドラーが呼ばれないこと", func(t *testing.T) {
		t.Parallel()

		for _, origin := range []string{"http://localhost:3000", "https://evil.example.com"} {
			var called bool
			router := newCORSRouter(NewCORSPolicy([]string{"http://localhost:3000"}, nil, nil, false), &called)

			req := httptest.NewRequest(http.MethodOptions, "/test", nil)
			req.Header.Set("Origin", origin)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			if w.Code != http.StatusNoContent {
				t.Errorf("%s: ステータスコード = %d, want %d", origin, w.Code, http.StatusNoContent)
			}
			if called {
				t.Errorf("%s: プリフライトでハンドラーが呼ばれるべきではない", origin)
			}
		}
	})

	t.Run("OriginのないOPTIONSはプリフライトとして扱わないこと", func(t *testing.T) {
		t.Parallel()

		var called bool
		router := newCORSRouter(NewCORSPolicy([]string{"http://localhost:3000"}, nil, nil, false), &called)

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodOptions, "/test", nil))

		if !called {
			t.Error("ハンドラーが呼ばれるべき")
		}
		if got := w.Header().Get("Vary"); got != "" {
			t.Errorf("Vary = %q, want empty string", got)
		}
	})
}
