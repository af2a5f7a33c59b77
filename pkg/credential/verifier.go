package credential

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/nao1215/medigate/pkg/token"
)

// ErrUnauthorized はユーザー名またはパスワードが正しくないことを表す。
// 理由（ユーザー不在、パスワード不一致、ストア障害）は区別せずに返す。
var ErrUnauthorized = errors.New("ユーザー名またはパスワードが正しくありません")

// Verifier はユーザー名とパスワードを検証し、認証済みのプリンシパル名を返す。
// 実装は必ず結果を返し、パニックしてはならない。ブロッキングI/Oを行ってよい。
type Verifier interface {
	Verify(ctx context.Context, username, password string) (string, error)
}

// HashPassword はパスワードをbcryptでハッシュ化する。
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", errors.New("パスワードが空です")
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("パスワードのハッシュ化に失敗: %w", err)
	}
	return string(hashed), nil
}

// dummyHash はユーザーが存在しない場合にも比較処理を行い、応答時間の差を小さくするためのハッシュ。
var dummyHash = []byte("$2a$10$7EqJtq98hPqEX7fNZaFWoOhi5BWX4Z3hB0bZ8nGZ3x1iQ3S7bI6bK")

// comparePassword はハッシュとパスワードを比較する。hashが空の場合はダミーと比較して失敗させる。
func comparePassword(hash, password string) bool {
	if hash == "" {
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// Static は起動時に与えられたユーザー一覧で検証するVerifier。
// 生成後は不変であり、同時に使用できる。
type Static struct {
	// users はユーザー名からbcryptハッシュへの対応。
	users map[string]string
}

// NewStatic はユーザー名とbcryptハッシュの対応からStaticを生成する。
// ユーザー名が不正な場合や、bcryptハッシュとして解釈できない値が含まれる場合はエラーを返す。
func NewStatic(users map[string]string) (*Static, error) {
	copied := make(map[string]string, len(users))
	for name, hash := range users {
		if err := token.ValidSubject(name); err != nil {
			return nil, fmt.Errorf("ユーザー名 %q が不正: %w", name, err)
		}
		if _, err := bcrypt.Cost([]byte(hash)); err != nil {
			return nil, fmt.Errorf("ユーザー %q のハッシュが不正: %w", name, err)
		}
		copied[name] = hash
	}
	return &Static{users: copied}, nil
}

// Verify はユーザー名とパスワードを検証する。
func (s *Static) Verify(_ context.Context, username, password string) (string, error) {
	if !comparePassword(s.users[username], password) {
		return "", ErrUnauthorized
	}
	return username, nil
}

// Chain は複数のVerifierを順に試し、最初に成功した結果を返す。
type Chain []Verifier

// Verify は登録順にVerifierを呼び出す。すべて失敗した場合は ErrUnauthorized を返す。
func (c Chain) Verify(ctx context.Context, username, password string) (string, error) {
	for _, v := range c {
		if v == nil {
			continue
		}
		if name, err := v.Verify(ctx, username, password); err == nil {
			return name, nil
		}
	}
	return "", ErrUnauthorized
}
