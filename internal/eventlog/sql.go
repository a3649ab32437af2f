package eventlog

import (
	"context"
	"database/sql"
	stdErrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	xerrors "DeafFirst-Hub/internal/errors"
)

// SQLConfig 描述 SQL Sink 的连接参数。
type SQLConfig struct {
	Driver          string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// SQLSink 将分发记录持久化到 MySQL 或 SQLite。
type SQLSink struct {
	db     *sql.DB
	driver string
}

// OpenSQL 建立连接并执行内置迁移。
func OpenSQL(ctx context.Context, cfg SQLConfig) (*SQLSink, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" {
		driver = "mysql"
	}
	if driver == "sqlite3" {
		driver = "sqlite"
	}
	db, err := openDatabase(ctx, driver, cfg)
	if err != nil {
		return nil, err
	}
	if err := migrate(ctx, db, driver); err != nil {
		_ = db.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "执行分发日志迁移失败")
	}
	return &SQLSink{db: db, driver: driver}, nil
}

func openDatabase(ctx context.Context, driver string, cfg SQLConfig) (*sql.DB, error) {
	if driver != "mysql" && driver != "sqlite" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("不支持的数据库驱动: %s", cfg.Driver))
	}
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "分发日志 DSN 不能为空")
	}

	db, err := sql.Open(driver, cfg.DSN)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "连接数据库失败")
	}

	switch {
	case driver == "sqlite":
		// SQLite 只允许单写连接，:memory: 库在多个连接间也不共享。
		db.SetMaxOpenConns(1)
	case cfg.MaxOpenConns > 0:
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	default:
		db.SetMaxOpenConns(20)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	} else {
		db.SetMaxIdleConns(10)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	} else if driver != "sqlite" {
		db.SetConnMaxLifetime(30 * time.Minute)
	}
	if cfg.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "无法连接到数据库")
	}
	return db, nil
}

// Name 实现 Sink。
func (s *SQLSink) Name() string { return "sql" }

// Append 插入一条记录，同一 ID 重复写入视为成功。
func (s *SQLSink) Append(ctx context.Context, entry Entry) error {
	entry.normalize()
	const stmt = `INSERT INTO webhook_events
        (id, event_id, platform, event_type, status, code, error_code, message, user_id, duplicate, duration_ms, occurred_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, stmt,
		entry.ID,
		entry.EventID,
		entry.Platform,
		entry.EventType,
		entry.Status,
		entry.Code,
		entry.ErrorCode,
		entry.Message,
		entry.UserID,
		boolToInt(entry.Duplicate),
		entry.DurationMS,
		entry.OccurredAt.UnixMilli(),
	)
	if err != nil {
		if isDuplicateKey(err) {
			return nil
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入分发日志失败")
	}
	return nil
}

// List 按时间倒序查询记录。
func (s *SQLSink) List(ctx context.Context, opts ...ListOption) ([]Entry, error) {
	options := buildListOptions(opts)

	var (
		clauses []string
		args    []any
	)
	if options.Platform != "" {
		clauses = append(clauses, "platform = ?")
		args = append(args, options.Platform)
	}
	if options.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, options.Status)
	}
	if !options.Since.IsZero() {
		clauses = append(clauses, "occurred_at >= ?")
		args = append(args, options.Since.UnixMilli())
	}

	query := `SELECT id, event_id, platform, event_type, status, code, error_code, message, user_id, duplicate, duration_ms, occurred_at
        FROM webhook_events`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY occurred_at DESC, id DESC LIMIT ?"
	args = append(args, options.Limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询分发日志失败")
	}
	defer rows.Close()

	entries := make([]Entry, 0, options.Limit)
	for rows.Next() {
		var (
			e          Entry
			duplicate  int
			occurredAt int64
		)
		if err := rows.Scan(
			&e.ID,
			&e.EventID,
			&e.Platform,
			&e.EventType,
			&e.Status,
			&e.Code,
			&e.ErrorCode,
			&e.Message,
			&e.UserID,
			&duplicate,
			&e.DurationMS,
			&occurredAt,
		); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析分发日志失败")
		}
		e.Duplicate = duplicate != 0
		e.OccurredAt = time.UnixMilli(occurredAt).UTC()
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历分发日志失败")
	}
	return entries, nil
}

// Stats 统计 since 之后的记录，零值表示统计全部。
func (s *SQLSink) Stats(ctx context.Context, since time.Time) (Stats, error) {
	var sinceMS int64
	if !since.IsZero() {
		sinceMS = since.UnixMilli()
	}
	const query = `SELECT platform, status, duplicate, COUNT(*), MIN(occurred_at), MAX(occurred_at)
        FROM webhook_events WHERE occurred_at >= ? GROUP BY platform, status, duplicate`

	rows, err := s.db.QueryContext(ctx, query, sinceMS)
	if err != nil {
		return Stats{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "统计分发日志失败")
	}
	defer rows.Close()

	stats := newStats()
	for rows.Next() {
		var (
			platform, status string
			duplicate, count int
			oldest, newest   int64
		)
		if err := rows.Scan(&platform, &status, &duplicate, &count, &oldest, &newest); err != nil {
			return Stats{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析统计结果失败")
		}
		stats.add(platform, status, duplicate != 0, count, oldest/1000, newest/1000)
	}
	if err := rows.Err(); err != nil {
		return Stats{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历统计结果失败")
	}
	return stats, nil
}

// Close 关闭数据库连接。
func (s *SQLSink) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func isDuplicateKey(err error) bool {
	var mysqlErr *mysql.MySQLError
	if stdErrors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	var sqliteErr *sqlite.Error
	if stdErrors.As(err, &sqliteErr) {
		code := sqliteErr.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY || code == sqlite3.SQLITE_CONSTRAINT_UNIQUE
	}
	return false
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
