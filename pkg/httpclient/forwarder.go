package httpclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// ErrUpstreamUnavailable は転送先に接続できなかったことを表す。
var ErrUpstreamUnavailable = errors.New("転送先サービスに接続できません")

// Outbound は転送するリクエストの読み取り専用ビュー。
// middleware.ForwardedRequest が実装する。
type Outbound interface {
	Method() string
	Path() string
	RawQuery() string
	Header() http.Header
	Body() io.Reader
	ContentLength() int64
}

// Forwarder は認証済みリクエストを転送先サービスへ中継する。
type Forwarder struct {
	// httpClient は内部で使用するHTTPクライアント。リダイレクトは追跡しない。
	httpClient *http.Client
	// base は転送先のベースURL。
	base *url.URL
}

// NewForwarder は新しいForwarderを生成する。
// baseURLのパスはリクエストパスの前に付加される。
func NewForwarder(baseURL string) (*Forwarder, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("転送先URLの解析に失敗: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("転送先URLのスキームが不正です: %q", baseURL)
	}
	if base.Host == "" {
		return nil, fmt.Errorf("転送先URLにホストがありません: %q", baseURL)
	}

	return &Forwarder{
		httpClient: &http.Client{
			Timeout: defaultTimeout,
			CheckRedirect: func(_ *http.Request, _ []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		base: base,
	}, nil
}

// Forward はリクエストを転送し、転送先のレスポンスを返す。
// 呼び出し側はレスポンスボディを閉じる必要がある。
// 接続できなかった場合は ErrUpstreamUnavailable をラップしたエラーを返す。
func (f *Forwarder) Forward(ctx context.Context, out Outbound) (*http.Response, error) {
	target := *f.base
	target.Path = strings.TrimSuffix(f.base.Path, "/") + out.Path()
	target.RawPath = ""
	target.RawQuery = out.RawQuery()

	req, err := http.NewRequestWithContext(ctx, out.Method(), target.String(), out.Body())
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの作成に失敗: %w", err)
	}
	req.Header = out.Header()
	req.ContentLength = out.ContentLength()

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	return resp, nil
}
