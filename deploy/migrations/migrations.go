package migrations

import (
	"embed"
	"fmt"
	"io/fs"
)

// Files 暴露所有 SQL 迁移文件，按数据库方言分目录存放。
//
//go:embed mysql/*.sql sqlite/*.sql
var Files embed.FS

// Dialect 返回指定驱动对应的迁移目录。
func Dialect(driver string) (fs.FS, error) {
	switch driver {
	case "mysql", "sqlite":
		return fs.Sub(Files, driver)
	default:
		return nil, fmt.Errorf("不支持的数据库方言: %s", driver)
	}
}
