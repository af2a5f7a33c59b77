package credential

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/nao1215/medigate/pkg/migration"
	"github.com/nao1215/medigate/pkg/token"
)

//go:embed migrations/*.sql
var migrations embed.FS

// migrationComponent はschema_migrationsに記録するコンポーネント名。
const migrationComponent = "credential"

// ErrUserExists は同名のユーザーが既に登録されていることを表す。
var ErrUserExists = errors.New("ユーザーは既に登録されています")

// Store はSQLiteのusersテーブルで認証情報を管理するVerifier。
type Store struct {
	// db はSQLiteデータベース接続。呼び出し側が所有する。
	db *sql.DB
	// logger は検証失敗などの内部ログ出力先。
	logger logrus.FieldLogger
}

// NewStore はスキーマを適用してStoreを生成する。
func NewStore(ctx context.Context, db *sql.DB, logger logrus.FieldLogger) (*Store, error) {
	if _, err := migration.Run(ctx, db, migrations, "migrations", migrationComponent, logger); err != nil {
		return nil, fmt.Errorf("認証情報スキーマの適用に失敗: %w", err)
	}
	return &Store{db: db, logger: logger}, nil
}

// AddUser はユーザーを登録する。passwordは平文で受け取りbcryptでハッシュ化して保存する。
func (s *Store) AddUser(ctx context.Context, username, password string) error {
	username = strings.TrimSpace(username)
	if err := token.ValidSubject(username); err != nil {
		return fmt.Errorf("ユーザー名が不正: %w", err)
	}
	hash, err := HashPassword(password)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx,
		"INSERT INTO users (username, password_hash) VALUES (?, ?) ON CONFLICT(username) DO NOTHING",
		username, hash)
	if err != nil {
		return fmt.Errorf("ユーザー登録に失敗: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrUserExists, username)
	}
	return nil
}

// SetPassword は既存ユーザーのパスワードを変更する。
func (s *Store) SetPassword(ctx context.Context, username, password string) error {
	hash, err := HashPassword(password)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, "UPDATE users SET password_hash = ? WHERE username = ?", hash, username)
	if err != nil {
		return fmt.Errorf("パスワード更新に失敗: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("ユーザーが見つかりません: %s", username)
	}
	return nil
}

// Verify はユーザー名とパスワードを検証し、成功時は最終ログイン時刻を更新する。
// ストアの障害を含め、失敗はすべて ErrUnauthorized として返す。
func (s *Store) Verify(ctx context.Context, username, password string) (string, error) {
	var hash string
	err := s.db.QueryRowContext(ctx, "SELECT password_hash FROM users WHERE username = ?", username).Scan(&hash)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		s.log().WithError(err).Error("認証情報の取得に失敗")
		return "", fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}

	if !comparePassword(hash, password) {
		return "", ErrUnauthorized
	}

	if _, err := s.db.ExecContext(ctx, "UPDATE users SET last_login_at = datetime('now') WHERE username = ?", username); err != nil {
		s.log().WithError(err).Warn("最終ログイン時刻の更新に失敗")
	}
	return username, nil
}

// Usernames は登録済みのユーザー名を昇順で返す。
func (s *Store) Usernames(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT username FROM users ORDER BY username")
	if err != nil {
		return nil, fmt.Errorf("ユーザー一覧の取得に失敗: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("ユーザー一覧の読み取りに失敗: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (s *Store) log() logrus.FieldLogger {
	if s.logger == nil {
		return logrus.StandardLogger()
	}
	return s.logger
}
