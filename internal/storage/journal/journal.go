package journal

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	xerrors "OpenMCP-Wallet/internal/errors"
	"OpenMCP-Wallet/internal/relay"
)

// ErrUnsupportedDriver 表示配置了未知的数据库驱动。
var ErrUnsupportedDriver = errors.New("不支持的事件日志驱动")

// Journal 以追加方式记录生命周期事件，只做审计，不保存会话状态。
type Journal struct {
	db     *sql.DB
	driver string
}

// Open 连接数据库并执行内置迁移。
func Open(ctx context.Context, cfg Config) (*Journal, error) {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		if errors.Is(err, ErrUnsupportedDriver) {
			return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "")
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "")
	}
	if err := runMigrations(ctx, db); err != nil {
		db.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "")
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" {
		driver = DriverMySQL
	}
	return &Journal{db: db, driver: driver}, nil
}

// Name implements relay.Sink.
func (j *Journal) Name() string { return j.driver }

// Deliver 写入一条事件记录，重复的记录 ID 会被忽略。
func (j *Journal) Deliver(ctx context.Context, rec relay.Record) error {
	_, err := j.db.ExecContext(ctx, j.insertStatement(),
		rec.ID, rec.Adapter, rec.Event, rec.SessionID, rec.Reconnected, rec.AgentInitiated,
		rec.ErrorCode, rec.Error, rec.OccurredAt.UnixMilli(),
	)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入事件日志失败")
	}
	return nil
}

func (j *Journal) insertStatement() string {
	verb := "INSERT IGNORE"
	if j.driver == DriverSQLite {
		verb = "INSERT OR IGNORE"
	}
	return verb + ` INTO wallet_events
        (id, adapter, event, session_id, reconnected, agent_initiated, error_code, error_message, occurred_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
}

// Recent 返回最新的 limit 条记录，按时间从新到旧排列。
func (j *Journal) Recent(ctx context.Context, limit int) ([]relay.Record, error) {
	if limit <= 0 {
		limit = 50
	}
	return j.query(ctx, selectColumns+` ORDER BY occurred_at DESC, id DESC LIMIT ?`, limit)
}

// BySession 返回某个会话的全部事件，按时间排序。
func (j *Journal) BySession(ctx context.Context, sessionID string) ([]relay.Record, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "会话 ID 不能为空")
	}
	return j.query(ctx, selectColumns+` WHERE session_id = ? ORDER BY occurred_at ASC, id ASC`, sessionID)
}

const selectColumns = `SELECT id, adapter, event, session_id, reconnected, agent_initiated, error_code, error_message, occurred_at FROM wallet_events`

func (j *Journal) query(ctx context.Context, stmt string, args ...any) ([]relay.Record, error) {
	rows, err := j.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询事件日志失败")
	}
	defer rows.Close()

	var records []relay.Record
	for rows.Next() {
		var (
			rec        relay.Record
			message    sql.NullString
			occurredAt int64
		)
		if err := rows.Scan(&rec.ID, &rec.Adapter, &rec.Event, &rec.SessionID, &rec.Reconnected,
			&rec.AgentInitiated, &rec.ErrorCode, &message, &occurredAt); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析事件日志失败")
		}
		rec.Error = message.String
		rec.OccurredAt = time.UnixMilli(occurredAt).UTC()
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历事件日志失败")
	}
	return records, nil
}

// Close 关闭数据库连接。
func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}
