// Package httpclient はゲートウェイから内部サービスへのHTTP通信を提供する。
//
// Forwarder は認証済みリクエストを転送先サービスへそのまま中継する。
// Client はJSON APIを呼び出す小さなクライアントで、CLIのヘルスチェックで使用する。
package httpclient
