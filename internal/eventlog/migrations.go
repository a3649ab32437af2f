package eventlog

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"path"
	"strings"
	"time"

	"DeafFirst-Hub/deploy/migrations"
)

const schemaTable = `CREATE TABLE IF NOT EXISTS schema_migrations (
        version VARCHAR(32) NOT NULL PRIMARY KEY,
        applied_at BIGINT NOT NULL
)`

// step 是一个迁移文件，文件名前缀即版本号。
type step struct {
	version string
	file    string
	stmts   []string
}

// migrate 按文件名顺序执行尚未记录在 schema_migrations 中的迁移。
func migrate(ctx context.Context, db *sql.DB, driver string) error {
	dir, err := migrations.Dialect(driver)
	if err != nil {
		return err
	}
	steps, err := readSteps(dir)
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, schemaTable); err != nil {
		return fmt.Errorf("初始化 schema_migrations 失败: %w", err)
	}
	done, err := appliedVersions(ctx, db)
	if err != nil {
		return err
	}
	for _, s := range steps {
		if done[s.version] {
			continue
		}
		if err := s.apply(ctx, db); err != nil {
			return err
		}
	}
	return nil
}

func readSteps(dir fs.FS) ([]step, error) {
	// fs.Glob 的结果按文件名排序。
	names, err := fs.Glob(dir, "*.sql")
	if err != nil {
		return nil, fmt.Errorf("列出迁移文件失败: %w", err)
	}
	steps := make([]step, 0, len(names))
	for _, name := range names {
		raw, err := fs.ReadFile(dir, name)
		if err != nil {
			return nil, fmt.Errorf("读取 %s 失败: %w", name, err)
		}
		stmts := statements(string(raw))
		if len(stmts) == 0 {
			continue
		}
		steps = append(steps, step{version: versionOf(name), file: name, stmts: stmts})
	}
	return steps, nil
}

func appliedVersions(ctx context.Context, db *sql.DB) (map[string]bool, error) {
	rows, err := db.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("读取已执行迁移失败: %w", err)
	}
	defer rows.Close()

	done := make(map[string]bool)
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("读取已执行迁移失败: %w", err)
		}
		done[v] = true
	}
	return done, rows.Err()
}

// apply 在单个事务内执行迁移并登记版本。
func (s step) apply(ctx context.Context, db *sql.DB) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("迁移 %s 开启事务失败: %w", s.file, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, stmt := range s.stmts {
		if _, err = tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("迁移 %s 执行失败: %w", s.file, err)
		}
	}
	if _, err = tx.ExecContext(ctx,
		`INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`,
		s.version, time.Now().Unix(),
	); err != nil {
		return fmt.Errorf("迁移 %s 登记版本失败: %w", s.file, err)
	}
	return tx.Commit()
}

// statements 以分号切分脚本，迁移文件中不出现带分号的字面量。
func statements(script string) []string {
	var out []string
	for _, part := range strings.Split(script, ";") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// versionOf 取文件名中第一个下划线前的部分，如 001_webhook_events.sql -> 001。
func versionOf(name string) string {
	base := strings.TrimSuffix(path.Base(name), ".sql")
	if v, _, ok := strings.Cut(base, "_"); ok && v != "" {
		return v
	}
	return base
}
