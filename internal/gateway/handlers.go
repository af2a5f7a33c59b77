package gateway

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/nao1215/medigate/pkg/config"
	"github.com/nao1215/medigate/pkg/event"
	"github.com/nao1215/medigate/pkg/metrics"
	"github.com/nao1215/medigate/pkg/middleware"
)

// hopHeaders は転送先のレスポンスから引き継がないヘッダー。
var hopHeaders = map[string]struct{}{
	"Connection":        {},
	"Keep-Alive":        {},
	"Proxy-Connection":  {},
	"Te":                {},
	"Trailer":           {},
	"Transfer-Encoding": {},
	"Upgrade":           {},
}

// handleIssueToken はBasic認証済みの主体にトークンを発行するハンドラを返す。
// cookie方式ではHttpOnly Cookieを設定して本文なしの200を返し、
// header方式では {"token": "..."} を返す。
func (s *Server) handleIssueToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := middleware.GetPrincipal(c)
		if !ok {
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}

		serialized, expiresAt, err := s.deps.Codec.IssueWithExpiry(p.Name)
		if err != nil {
			s.deps.Logger.WithError(err).WithField("request_id", middleware.GetRequestID(c)).Error("トークンの発行に失敗")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "トークンの発行に失敗しました"})
			return
		}
		metrics.TokensIssuedTotal.Inc()

		ttl := s.deps.Codec.TTL()
		s.audit(c, event.TypeTokenIssued, p.Name, event.TokenIssuedData{
			Issuer:    s.deps.Codec.Issuer(),
			ExpiresAt: expiresAt.Unix(),
			Transport: s.cfg.Token.Transport,
		})

		c.Header("Cache-Control", "no-store")
		if s.cfg.Token.Transport == config.TransportHeader {
			c.JSON(http.StatusOK, gin.H{"token": serialized})
			return
		}
		http.SetCookie(c.Writer, &http.Cookie{
			Name:     middleware.DefaultCookieName,
			Value:    serialized,
			Path:     "/",
			MaxAge:   int(ttl.Seconds()),
			HttpOnly: true,
			Secure:   s.cfg.Token.CookieSecure,
			SameSite: http.SameSiteStrictMode,
		})
		c.Status(http.StatusOK)
	}
}

// handleLogout はトークンのCookieを失効させるハンドラを返す。
// トークンの有無や有効性にかかわらず常に200を返す。サーバー側の失効は行わない。
func (s *Server) handleLogout() gin.HandlerFunc {
	return func(c *gin.Context) {
		if p, _, err := s.authenticator.Authenticate(c.Request); err == nil {
			s.audit(c, event.TypeLoggedOut, p.Name, event.LoggedOutData{HadToken: true})
		}

		http.SetCookie(c.Writer, &http.Cookie{
			Name:     middleware.DefaultCookieName,
			Value:    "",
			Path:     "/",
			MaxAge:   -1,
			Expires:  time.Unix(0, 0),
			HttpOnly: true,
			Secure:   s.cfg.Token.CookieSecure,
			SameSite: http.SameSiteStrictMode,
		})
		c.Status(http.StatusOK)
	}
}

// handleCheck は認証済みの主体名を返すハンドラを返す。
// 未認証のリクエストはFilterChainで401になるため、ここには到達しない。
func (s *Server) handleCheck() gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := middleware.GetPrincipal(c)
		if !ok {
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		c.JSON(http.StatusOK, gin.H{"principal": p.Name})
	}
}

// handleForward は認証済みリクエストを内部サービスへ転送するハンドラを返す。
// 転送先のステータスとボディをそのまま返し、接続できない場合は502を返す。
func (s *Server) handleForward() gin.HandlerFunc {
	return func(c *gin.Context) {
		fwd, ok := middleware.GetForwardedRequest(c)
		if !ok {
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}

		resp, err := s.deps.Forwarder.Forward(c.Request.Context(), fwd)
		if err != nil {
			metrics.UpstreamErrorsTotal.Inc()
			s.deps.Logger.WithError(err).WithFields(logrus.Fields{
				"request_id": middleware.GetRequestID(c),
				"path":       fwd.Path(),
			}).Error("内部サービスへの転送に失敗")
			c.JSON(http.StatusBadGateway, gin.H{"error": "内部サービスとの通信に失敗しました"})
			return
		}
		defer resp.Body.Close()

		for k, values := range resp.Header {
			if _, hop := hopHeaders[k]; hop {
				continue
			}
			for _, v := range values {
				c.Writer.Header().Add(k, v)
			}
		}
		c.Status(resp.StatusCode)
		if _, err := io.Copy(c.Writer, resp.Body); err != nil {
			s.deps.Logger.WithError(err).WithField("request_id", middleware.GetRequestID(c)).Warn("レスポンスの中継に失敗")
		}
	}
}

// recordRejection はBasic認証の拒否を監査ログに記録する。
func (s *Server) recordRejection(c *gin.Context, username, reason string) {
	s.audit(c, event.TypeCredentialRejected, username, event.CredentialRejectedData{
		Reason:     reason,
		RemoteAddr: c.ClientIP(),
	})
}

// audit は監査イベントを記録する。記録の失敗はリクエストの結果に影響させない。
func (s *Server) audit(c *gin.Context, eventType event.Type, subject string, data any) {
	if s.deps.Audit == nil {
		return
	}
	e, err := event.New(eventType, subject, middleware.GetRequestID(c), data)
	if err == nil {
		err = s.deps.Audit.Record(c.Request.Context(), e)
	}
	if err != nil {
		s.deps.Logger.WithError(err).WithField("event_type", eventType).Warn("監査ログの記録に失敗")
	}
}
