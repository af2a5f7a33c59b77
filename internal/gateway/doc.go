// Package gateway は認証ゲートウェイのHTTPサーバーを提供する。
//
// 外部からアクセス可能な唯一の入口であり、セキュリティの境界線として機能する。
// ユーザー名とパスワードを検証してセッショントークンを発行し、
// 以降のリクエストではトークンを検証してから内部サービスへ転送する。
// どのパスにどの認証モードを適用するかは middleware.FilterChain が決める。
package gateway
