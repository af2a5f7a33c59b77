package token

import "errors"

// 認証パイプラインで発生するエラー。呼び出し側は errors.Is で判定する。
var (
	// ErrMissingToken はリクエストにトークンが含まれていないことを表す。
	ErrMissingToken = errors.New("トークンが指定されていません")
	// ErrMalformed はトークンの構造を解析できないことを表す。
	ErrMalformed = errors.New("トークンの形式が不正です")
	// ErrBadSignature は現在の秘密鍵で署名を検証できないことを表す。
	ErrBadSignature = errors.New("トークンの署名が不正です")
	// ErrExpired はトークンの有効期限が切れていることを表す。
	ErrExpired = errors.New("トークンの有効期限が切れています")
	// ErrConfigInvalid は秘密鍵などの設定が不正であることを表す。起動時にのみ発生する。
	ErrConfigInvalid = errors.New("トークン設定が不正です")
	// ErrInvalidSubject はトークンに埋め込めないsubjectが指定されたことを表す。
	ErrInvalidSubject = errors.New("subjectが不正です")
)

// ErrorKind はログやメトリクスのラベルに使うエラー種別。
// レスポンスには含めない。
type ErrorKind string

const (
	// KindNone はエラーがないことを表す。
	KindNone ErrorKind = ""
	// KindMissingToken はトークンが指定されていないことを表す。
	KindMissingToken ErrorKind = "MISSING_TOKEN"
	// KindMalformed はトークンを解析できないことを表す。
	KindMalformed ErrorKind = "MALFORMED"
	// KindBadSignature は署名または発行者が一致しないことを表す。
	KindBadSignature ErrorKind = "BAD_SIGNATURE"
	// KindExpired は有効期限切れを表す。
	KindExpired ErrorKind = "EXPIRED"
	// KindUnauthorized は資格情報の不一致など、上記以外の認証失敗を表す。
	KindUnauthorized ErrorKind = "UNAUTHORIZED"
	// KindConfigInvalid は起動時の設定不備を表す。
	KindConfigInvalid ErrorKind = "CONFIG_INVALID"
)

// Kind はエラーを種別に変換する。nilの場合は KindNone を返す。
// 既知のエラーに該当しない場合は KindUnauthorized とみなす。
func Kind(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrMissingToken):
		return KindMissingToken
	case errors.Is(err, ErrMalformed):
		return KindMalformed
	case errors.Is(err, ErrBadSignature):
		return KindBadSignature
	case errors.Is(err, ErrExpired):
		return KindExpired
	case errors.Is(err, ErrConfigInvalid):
		return KindConfigInvalid
	default:
		return KindUnauthorized
	}
}
