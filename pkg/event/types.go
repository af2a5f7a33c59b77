package event

import (
	"encoding/json"
	"time"
)

// Type はイベントの種類を表す。
type Type string

const (
	// TypeTokenIssued はセッショントークンが発行されたことを表す。
	TypeTokenIssued Type = "TokenIssued"
	// TypeCredentialRejected はトークン発行時の認証情報が拒否されたことを表す。
	TypeCredentialRejected Type = "CredentialRejected"
	// TypeLoggedOut はトークンCookieが削除されたことを表す。
	TypeLoggedOut Type = "LoggedOut"
)

// Event は監査ログに記録される不変のイベント。
type Event struct {
	// ID はイベントの一意識別子（UUID）。
	ID string `json:"id"`
	// EventType はイベントの種類。
	EventType Type `json:"event_type"`
	// Subject は対象ユーザー名。不明な場合は空文字列。
	Subject string `json:"subject"`
	// RequestID はイベントを発生させたリクエストのID。
	RequestID string `json:"request_id"`
	// Data はイベント固有のデータ（JSON形式）。
	Data json.RawMessage `json:"data"`
	// CreatedAt はイベントが作成された日時。
	CreatedAt time.Time `json:"created_at"`
}

// TokenIssuedData はTokenIssuedイベントのデータ。
type TokenIssuedData struct {
	// Issuer はトークンの発行者名。
	Issuer string `json:"issuer"`
	// ExpiresAt はトークンの有効期限（UNIX秒）。
	ExpiresAt int64 `json:"expires_at"`
	// Transport はトークンの受け渡し方法（cookie または header）。
	Transport string `json:"transport"`
}

// CredentialRejectedData はCredentialRejectedイベントのデータ。
type CredentialRejectedData struct {
	// Reason は拒否の種別（UNAUTHORIZED など）。
	Reason string `json:"reason"`
	// RemoteAddr はリクエスト元のアドレス。
	RemoteAddr string `json:"remote_addr"`
}

// LoggedOutData はLoggedOutイベントのデータ。
type LoggedOutData struct {
	// HadToken はリクエストに有効なトークンが含まれていたか。
	HadToken bool `json:"had_token"`
}
