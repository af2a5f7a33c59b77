package httpclient

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// fakeOutbound はテスト用の転送リクエスト。
type fakeOutbound struct {
	method   string
	path     string
	rawQuery string
	header   http.Header
	body     string
}

func (f fakeOutbound) Method() string { return f.method }

func (f fakeOutbound) Path() string { return f.path }

func (f fakeOutbound) RawQuery() string { return f.rawQuery }

func (f fakeOutbound) Header() http.Header { return f.header.Clone() }

func (f fakeOutbound) Body() io.Reader { return strings.NewReader(f.body) }

func (f fakeOutbound) ContentLength() int64 { return int64(len(f.body)) }

// TestNewForwarder は転送先URLの検証を検証する。
func TestNewForwarder(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{"", "records:8081", "ftp://records", "http://", "://bad"} {
		if _, err := NewForwarder(raw); err == nil {
			t.Errorf("NewForwarder(%q)がエラーを返すべき", raw)
		}
	}
	if _, err := NewForwarder("http://records:8081/base"); err != nil {
		t.Errorf("NewForwarder()でエラーが発生: %v", err)
	}
}

// TestForward はリクエストの中継を検証する。
func TestForward(t *testing.T) {
	t.Parallel()

	t.Run("メソッドとパスとクエリとヘッダーとボディが転送されること", func(t *testing.T) {
		t.Parallel()

		var got *http.Request
		var gotBody string
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got = r
			b, _ := io.ReadAll(r.Body)
			gotBody = string(b)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"id":"p-1"}`))
		}))
		defer ts.Close()

		fwd, err := NewForwarder(ts.URL + "/records/")
		if err != nil {
			t.Fatalf("NewForwarder()でエラーが発生: %v", err)
		}
		resp, err := fwd.Forward(context.Background(), fakeOutbound{
			method:   http.MethodPost,
			path:     "/api/patients",
			rawQuery: "ward=3",
			header: http.Header{
				"Authorization": {"Bearer tok"},
				"X-User-Id":     {"alice"},
			},
			body: `{"name":"x"}`,
		})
		if err != nil {
			t.Fatalf("Forward()でエラーが発生: %v", err)
		}
		defer resp.Body.Close()

		if got.Method != http.MethodPost || got.URL.Path != "/records/api/patients" || got.URL.RawQuery != "ward=3" {
			t.Errorf("転送先のリクエスト = %s %s?%s", got.Method, got.URL.Path, got.URL.RawQuery)
		}
		if got.Header.Get("Authorization") != "Bearer tok" || got.Header.Get("X-User-ID") != "alice" {
			t.Errorf("ヘッダー = %v", got.Header)
		}
		if gotBody != `{"name":"x"}` {
			t.Errorf("body = %q", gotBody)
		}
		if resp.StatusCode != http.StatusCreated {
			t.Errorf("ステータスコード = %d, want %d", resp.StatusCode, http.StatusCreated)
		}
		b, _ := io.ReadAll(resp.Body)
		if string(b) != `{"id":"p-1"}` {
			t.Errorf("レスポンスボディ = %q", b)
		}
	})

	t.Run("リダイレクトは追跡せずそのまま返すこと", func(t *testing.T) {
		t.Parallel()

		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, "/elsewhere", http.StatusFound)
		}))
		defer ts.Close()

		fwd, err := NewForwarder(ts.URL)
		if err != nil {
			t.Fatalf("NewForwarder()でエラーが発生: %v", err)
		}
		resp, err := fwd.Forward(context.Background(), fakeOutbound{method: http.MethodGet, path: "/api/x", header: http.Header{}})
		if err != nil {
			t.Fatalf("Forward()でエラーが発生: %v", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusFound {
			t.Errorf("ステータスコード = %d, want %d", resp.StatusCode, http.StatusFound)
		}
	})

	t.Run("接続できない場合はErrUpstreamUnavailableになること", func(t *testing.T) {
		t.Parallel()

		fwd, err := NewForwarder("http://127.0.0.1:1")
		if err != nil {
			t.Fatalf("NewForwarder()でエラーが発生: %v", err)
		}
		_, err = fwd.Forward(context.Background(), fakeOutbound{method: http.MethodGet, path: "/api/x", header: http.Header{}})
		if !errors.Is(err, ErrUpstreamUnavailable) {
			t.Errorf("err = %v, want ErrUpstreamUnavailable", err)
		}
	})
}
