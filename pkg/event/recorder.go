package event

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nao1215/medigate/pkg/migration"
)

//go:embed migrations/*.sql
var migrations embed.FS

// timeLayout はcreated_atの保存形式。文字列順と時刻順が一致するよう小数部を固定長にする。
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Recorder は監査イベントをSQLiteに追記する。
type Recorder struct {
	// db はSQLiteデータベース接続。呼び出し側が所有する。
	db *sql.DB
}

// NewRecorder はスキーマを適用してRecorderを生成する。
func NewRecorder(ctx context.Context, db *sql.DB, logger logrus.FieldLogger) (*Recorder, error) {
	if _, err := migration.Run(ctx, db, migrations, "migrations", "auth_events", logger); err != nil {
		return nil, fmt.Errorf("監査ログスキーマの適用に失敗: %w", err)
	}
	return &Recorder{db: db}, nil
}

// Record はイベントを1件追記する。
func (r *Recorder) Record(ctx context.Context, e *Event) error {
	_, err := r.db.ExecContext(ctx,
		"INSERT INTO auth_events (id, event_type, subject, request_id, data, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		e.ID, string(e.EventType), e.Subject, e.RequestID, string(e.Data), e.CreatedAt.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("監査イベントの記録に失敗: %w", err)
	}
	return nil
}

// ListBySubject はユーザーのイベントを新しい順に最大limit件返す。
// subjectが空の場合は全ユーザーのイベントを返す。
func (r *Recorder) ListBySubject(ctx context.Context, subject string, limit int) ([]*Event, error) {
	if limit <= 0 {
		limit = 100
	}

	query := "SELECT id, event_type, subject, request_id, data, created_at FROM auth_events"
	args := []any{}
	if subject != "" {
		query += " WHERE subject = ?"
		args = append(args, subject)
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("監査イベントの取得に失敗: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []*Event
	for rows.Next() {
		var (
			e         Event
			eventType string
			data      string
			createdAt string
		)
		if err := rows.Scan(&e.ID, &eventType, &e.Subject, &e.RequestID, &data, &createdAt); err != nil {
			return nil, fmt.Errorf("監査イベントの読み取りに失敗: %w", err)
		}
		e.EventType = Type(eventType)
		e.Data = []byte(data)
		if e.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, fmt.Errorf("作成日時の解析に失敗: %w", err)
		}
		events = append(events, &e)
	}
	return events, rows.Err()
}
