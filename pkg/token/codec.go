package token

import (
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/golang-jwt/jwt/v5"
)

// MinSecretLength は秘密鍵に要求する最小バイト長（256ビット）。
const MinSecretLength = 32

// Clock は現在時刻を返す関数。テストでは固定時刻を注入する。
type Clock func() time.Time

// Codec はセッショントークンの発行と検証を行う。
// 生成後は不変であり、複数のgoroutineから同時に使用できる。
type Codec struct {
	// secret はHMAC署名用の秘密鍵。
	secret []byte
	// issuer はトークンの発行者名。
	issuer string
	// ttl はトークンの有効期間（秒単位）。
	ttl time.Duration
	// now は現在時刻の取得元。
	now Clock
	// parser は署名検証用のパーサー。有効期限はCodec自身が判定する。
	parser *jwt.Parser
}

// Option はCodecの生成オプション。
type Option func(*Codec)

// WithClock は現在時刻の取得元を差し替える。
func WithClock(clock Clock) Option {
	return func(c *Codec) {
		if clock != nil {
			c.now = clock
		}
	}
}

// NewCodec は新しいCodecを生成する。
// 秘密鍵が32バイト未満、またはTTLが1秒以上の整数秒でない場合は ErrConfigInvalid を返す。
func NewCodec(secret []byte, issuer string, ttl time.Duration, opts ...Option) (*Codec, error) {
	if len(secret) < MinSecretLength {
		return nil, fmt.Errorf("%w: 秘密鍵は%dバイト以上必要です（現在%dバイト）", ErrConfigInvalid, MinSecretLength, len(secret))
	}
	if ttl < time.Second || ttl%time.Second != 0 {
		return nil, fmt.Errorf("%w: TTLは1秒以上の整数秒で指定してください", ErrConfigInvalid)
	}

	key := make([]byte, len(secret))
	copy(key, secret)

	c := &Codec{
		secret: key,
		issuer: issuer,
		ttl:    ttl,
		now:    time.Now,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithoutClaimsValidation(),
		),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// TTL はトークンの有効期間を返す。
func (c *Codec) TTL() time.Duration {
	return c.ttl
}

// Issuer はトークンの発行者名を返す。
func (c *Codec) Issuer() string {
	return c.issuer
}

// ValidSubject はsubjectがトークンに埋め込める値かを判定する。
// 空文字列とUTF-8として不正なバイト列は ErrInvalidSubject になる。
// JSONへの変換で不正なバイトが置き換えられ、異なる名前が同じ主体になるのを防ぐ。
func ValidSubject(subject string) error {
	if subject == "" {
		return fmt.Errorf("%w: 空です", ErrInvalidSubject)
	}
	if !utf8.ValidString(subject) {
		return fmt.Errorf("%w: UTF-8として不正です", ErrInvalidSubject)
	}
	return nil
}

// Issue はsubjectに対するトークンを発行し、署名済みの文字列を返す。
func (c *Codec) Issue(subject string) (string, error) {
	signed, _, err := c.IssueWithExpiry(subject)
	return signed, err
}

// IssueWithExpiry はトークンを発行し、署名済みの文字列とトークンに埋め込んだ有効期限を返す。
// 発行時刻と有効期限は秒単位に切り捨てる。
func (c *Codec) IssueWithExpiry(subject string) (string, time.Time, error) {
	if err := ValidSubject(subject); err != nil {
		return "", time.Time{}, err
	}

	issuedAt := c.now().Truncate(time.Second)
	expiresAt := issuedAt.Add(c.ttl)
	claims := jwt.RegisteredClaims{
		Issuer:    c.issuer,
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(issuedAt),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("トークンの署名に失敗: %w", err)
	}
	return signed, expiresAt, nil
}

// Validate はトークンを検証し、発行時に埋め込まれたsubjectを返す。
// 失敗時は ErrMalformed、ErrBadSignature、ErrExpired のいずれかをラップしたエラーを返す。
// 署名検証と有効期限の判定は独立しており、正しく署名された期限切れトークンは ErrExpired になる。
func (c *Codec) Validate(serialized string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	if _, err := c.parser.ParseWithClaims(serialized, claims, c.keyFunc); err != nil {
		return "", classify(err)
	}

	if claims.Subject == "" || claims.ExpiresAt == nil {
		return "", fmt.Errorf("%w: subjectまたはexpがありません", ErrMalformed)
	}
	if claims.Issuer != c.issuer {
		return "", fmt.Errorf("%w: 発行者が一致しません", ErrBadSignature)
	}
	if !c.now().Before(claims.ExpiresAt.Time) {
		return "", fmt.Errorf("%w: exp=%d", ErrExpired, claims.ExpiresAt.Unix())
	}
	return claims.Subject, nil
}

func (c *Codec) keyFunc(_ *jwt.Token) (any, error) {
	return c.secret, nil
}

// classify はjwtライブラリのエラーをトークンのエラー種別に変換する。
func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	default:
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
}
