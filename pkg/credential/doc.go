// Package credential はトークン発行時にユーザー名とパスワードを検証する機能を提供する。
//
// 検証はトークン発行エンドポイントでのみ行われる。パスワードはbcryptでハッシュ化して保持し、
// SQLiteに保存するStoreと、設定ファイルから読み込むStaticの2つの実装を持つ。
package credential
