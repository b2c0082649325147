package sqlite

import (
	"strings"

	"github.com/LENAX/flow-control/pkg/storage"
)

// SQLiteDialect SQLite方言实现（对外导出）
type SQLiteDialect struct{}

// NewSQLiteDialect 创建SQLite方言实例
func NewSQLiteDialect() *SQLiteDialect {
	return &SQLiteDialect{}
}

// Name 返回方言名称
func (d *SQLiteDialect) Name() string {
	return "sqlite"
}

// DriverName 返回驱动名称（mattn/go-sqlite3）
func (d *SQLiteDialect) DriverName() string {
	return "sqlite3"
}

// UpsertSQL 使用 ON CONFLICT DO UPDATE（SQLite 3.24+），冲突时保留原行只更新指定列
func (d *SQLiteDialect) UpsertSQL(tableName string, columns []string, conflictColumns []string, updateColumns []string) string {
	return storage.NamedInsert(tableName, columns) +
		" ON CONFLICT (" + strings.Join(conflictColumns, ", ") + ") DO UPDATE SET " +
		storage.AssignList(updateColumns, "%[1]s = excluded.%[1]s")
}

// CreateTableSQL 返回创建表的DDL（SQLite原样返回）
func (d *SQLiteDialect) CreateTableSQL(schema string) string {
	return schema
}

// ConfigureDB 返回SQLite配置SQL
func (d *SQLiteDialect) ConfigureDB() []string {
	return []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA busy_timeout=30000;",
		"PRAGMA synchronous=NORMAL;",
	}
}

// 确保实现接口
var _ storage.Dialect = (*SQLiteDialect)(nil)
