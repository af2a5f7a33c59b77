// Package token はゲートウェイが発行するセッショントークンの発行と検証を提供する。
//
// トークンは共有秘密鍵によるHMAC（HS256）で署名されたJWTであり、
// subject・issuer・発行時刻・有効期限のみを持つ。失効リストやリフレッシュは持たず、
// 発行後は有効期限による論理的な失効のみが存在する。
package token
