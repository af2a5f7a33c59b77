package gateway

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/nao1215/medigate/pkg/config"
	"github.com/nao1215/medigate/pkg/credential"
	"github.com/nao1215/medigate/pkg/event"
	"github.com/nao1215/medigate/pkg/httpclient"
	"github.com/nao1215/medigate/pkg/metrics"
	"github.com/nao1215/medigate/pkg/middleware"
	"github.com/nao1215/medigate/pkg/token"
)

// realm はBasic認証のレルム名。
const realm = "medigate"

// shutdownTimeout はシャットダウン時に処理中のリクエストを待つ時間。
const shutdownTimeout = 10 * time.Second

// AuditRecorder は認証イベントを記録する。*event.Recorder が実装する。
type AuditRecorder interface {
	Record(ctx context.Context, e *event.Event) error
}

// Dependencies はServerが使用するコンポーネント。
type Dependencies struct {
	// Codec はトークンの発行と検証を行う。必須。
	Codec *token.Codec
	// Verifier はユーザー名とパスワードを検証する。必須。
	Verifier credential.Verifier
	// Forwarder は /api/** の転送先。必須。
	Forwarder *httpclient.Forwarder
	// Audit は監査ログの記録先。nilの場合は記録しない。
	Audit AuditRecorder
	// Logger はログ出力先。
	Logger logrus.FieldLogger
}

// Server は認証ゲートウェイのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// cfg はゲートウェイの設定。
	cfg *config.Config
	// deps は依存コンポーネント。
	deps Dependencies
	// authenticator はBearerトークンの検証を行う。ログアウト時の主体特定にも使う。
	authenticator *middleware.Authenticator
	// db はNewで開いたデータベース。Closeで閉じる。
	db *sql.DB
}

// New は設定からデータベースと各コンポーネントを構成してServerを生成する。
// 設定が不正な場合は token.ErrConfigInvalid をラップしたエラーを返す。
func New(ctx context.Context, cfg *config.Config, logger logrus.FieldLogger) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	codec, err := token.NewCodec([]byte(cfg.Token.Secret), cfg.Token.Issuer, cfg.Token.TTL())
	if err != nil {
		return nil, err
	}

	forwarder, err := httpclient.NewForwarder(cfg.Upstream.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", token.ErrConfigInvalid, err)
	}

	var verifiers credential.Chain
	if len(cfg.Credentials.Users) > 0 {
		static, err := credential.NewStatic(cfg.Credentials.Users)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", token.ErrConfigInvalid, err)
		}
		verifiers = append(verifiers, static)
	}

	deps := Dependencies{
		Codec:     codec,
		Forwarder: forwarder,
		Logger:    logger,
	}

	var db *sql.DB
	if cfg.Credentials.Database != "" {
		db, err = OpenDatabase(cfg.Credentials.Database)
		if err != nil {
			return nil, err
		}
		store, err := credential.NewStore(ctx, db, logger)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		recorder, err := event.NewRecorder(ctx, db, logger)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		verifiers = append(verifiers, store)
		deps.Audit = recorder
	}
	deps.Verifier = verifiers

	s, err := NewServer(cfg, deps)
	if err != nil {
		if db != nil {
			_ = db.Close()
		}
		return nil, err
	}
	s.db = db
	return s, nil
}

// NewServer は構成済みのコンポーネントからServerを生成する。
func NewServer(cfg *config.Config, deps Dependencies) (*Server, error) {
	if deps.Codec == nil || deps.Verifier == nil || deps.Forwarder == nil {
		return nil, errors.New("Codec、Verifier、Forwarderは必須です")
	}
	if deps.Logger == nil {
		deps.Logger = logrus.StandardLogger()
	}

	var extractor middleware.TokenExtractor = middleware.CookieExtractor{Name: middleware.DefaultCookieName}
	if cfg.Token.Transport == config.TransportHeader {
		extractor = middleware.BearerExtractor{}
	}

	s := &Server{
		router:        gin.New(),
		cfg:           cfg,
		deps:          deps,
		authenticator: middleware.NewAuthenticator(deps.Codec, extractor, deps.Logger),
	}

	basic := middleware.NewBasicAuthenticator(deps.Verifier, realm, deps.Logger, s.recordRejection)
	cors := middleware.NewCORSPolicy(cfg.CORS.AllowedOrigins, cfg.CORS.AllowedMethods, cfg.CORS.AllowedHeaders, cfg.CORS.AllowCredentials)
	chain, err := middleware.NewFilterChain(middleware.DefaultRules(), middleware.ModeHandlers{
		BasicCredentials: basic.Middleware(),
		BearerToken:      s.authenticator.Middleware(),
	}, cors, deps.Logger)
	if err != nil {
		return nil, err
	}

	s.router.Use(middleware.RequestID())
	s.router.Use(middleware.Recovery(deps.Logger))
	s.router.Use(middleware.RequestLogger(deps.Logger))
	s.router.Use(chain.Handler())
	s.setupRoutes()

	return s, nil
}

// Handler はゲートウェイのHTTPハンドラーを返す。
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupRoutes はルーティングを設定する。
// 認証モードはルートではなくFilterChainが決めるため、ここではハンドラーの登録のみ行う。
func (s *Server) setupRoutes() {
	auth := s.router.Group("/auth")
	{
		auth.GET("/token", s.handleIssueToken())
		auth.POST("/token", s.handleIssueToken())
		auth.POST("/logout", s.handleLogout())
		auth.GET("/check", s.handleCheck())
	}

	// 内部サービスへの転送
	s.router.Any("/api/*path", s.handleForward())

	// ヘルスチェック
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "gateway"})
	})
}

// Run はゲートウェイとメトリクスのHTTPサーバーを起動し、ctxが終了するまで待つ。
// ctxの終了後は処理中のリクエストを待ってから停止する。
func (s *Server) Run(ctx context.Context) error {
	servers := []*http.Server{{
		Addr:              ":" + s.cfg.Server.Port,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}}
	if s.cfg.Server.MetricsPort != "" {
		servers = append(servers, &http.Server{
			Addr:              ":" + s.cfg.Server.MetricsPort,
			Handler:           metrics.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		})
	}

	errCh := make(chan error, len(servers))
	for _, srv := range servers {
		srv := srv
		s.deps.Logger.WithField("addr", srv.Addr).Info("HTTPサーバーを起動します")
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("%s の待ち受けに失敗: %w", srv.Addr, err)
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			runErr = errors.Join(runErr, fmt.Errorf("%s の停止に失敗: %w", srv.Addr, err))
		}
	}
	s.deps.Logger.Info("HTTPサーバーを停止しました")
	return runErr
}

// Close はNewで開いたデータベースを閉じる。
func (s *Server) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
