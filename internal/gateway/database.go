package gateway

import (
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"
)

// sqlitePragmas は接続ごとに適用するプラグマ。
const sqlitePragmas = "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"

// OpenDatabase は認証情報と監査ログを保存するSQLiteデータベースを開く。
// DSNにパラメータが無い場合はWALモードとビジータイムアウトを設定する。
// インメモリDBは接続ごとに別のDBになるため、接続数を1に制限する。
func OpenDatabase(dsn string) (*sql.DB, error) {
	inMemory := strings.Contains(dsn, ":memory:") || strings.Contains(dsn, "mode=memory")
	if !strings.Contains(dsn, "?") && !inMemory {
		dsn += "?" + sqlitePragmas
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}
	if inMemory {
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("データベース接続の確認に失敗: %w", err)
	}
	return db, nil
}
