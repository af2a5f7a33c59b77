// Package middleware はゲートウェイの認証パイプラインを構成するGinミドルウェアを提供する。
//
// FilterChain がリクエストパスごとに認証モード（Basic認証、Bearerトークン、拒否、許可）を
// 宣言順の先勝ちで決定し、必要に応じてCORSを適用してから各モードのハンドラーへ委譲する。
// 認証に成功したリクエストにはPrincipalと転送用のForwardedRequestが紐付けられる。
//
// ほかにリクエストID付与、アクセスログ、パニックリカバリを含む。
package middleware
