package middleware

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nao1215/medigate/pkg/credential"
	"github.com/nao1215/medigate/pkg/token"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const (
	// testSecret はテスト用の32バイトの秘密鍵。
	testSecret = "medigate-test-secret-0123456789a"
	// testIssuer はテスト用の発行者名。
	testIssuer = "medigate-test"
)

// fakeClock はテスト用の進められる時計。
type fakeClock struct {
	now time.Time
}

func (f *fakeClock) Now() time.Time { return f.now }

func (f *fakeClock) Advance(d time.Duration) { f.now = f.now.Add(d) }

// newTestCodec は固定時刻の時計を使うCodecを生成する。
func newTestCodec(t *testing.T, clock *fakeClock) *token.Codec {
	t.Helper()

	codec, err := token.NewCodec([]byte(testSecret), testIssuer, time.Hour, token.WithClock(clock.Now))
	if err != nil {
		t.Fatalf("NewCodec()でエラーが発生: %v", err)
	}
	return codec
}

// fakeVerifier はmapで認証するテスト用Verifier。
type fakeVerifier map[string]string

func (f fakeVerifier) Verify(_ context.Context, username, password string) (string, error) {
	if pw, ok := f[username]; ok && pw == password {
		return username, nil
	}
	return "", credential.ErrUnauthorized
}

// decodeBody はJSONレスポンスをmapにデコードする。
func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()

	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("レスポンスボディのパースに失敗: %v (body=%q)", err, w.Body.String())
	}
	return body
}
