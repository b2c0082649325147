package postgres

import (
	"strings"

	"github.com/LENAX/flow-control/pkg/storage"
)

// PostgresDialect PostgreSQL方言实现（对外导出）
type PostgresDialect struct{}

// NewPostgresDialect 创建PostgreSQL方言实例
func NewPostgresDialect() *PostgresDialect {
	return &PostgresDialect{}
}

// Name 返回方言名称
func (d *PostgresDialect) Name() string {
	return "postgres"
}

// DriverName 返回驱动名称（lib/pq）
// 注意：sqlx根据驱动名把 ? 重写为 $1, $2, ...
func (d *PostgresDialect) DriverName() string {
	return "postgres"
}

// UpsertSQL 使用 ON CONFLICT DO UPDATE
func (d *PostgresDialect) UpsertSQL(tableName string, columns []string, conflictColumns []string, updateColumns []string) string {
	return storage.NamedInsert(tableName, columns) +
		" ON CONFLICT (" + strings.Join(conflictColumns, ", ") + ") DO UPDATE SET " +
		storage.AssignList(updateColumns, "%[1]s = EXCLUDED.%[1]s")
}

// CreateTableSQL 转换DDL为PostgreSQL兼容格式
func (d *PostgresDialect) CreateTableSQL(schema string) string {
	// 替换DATETIME为TIMESTAMP
	return strings.ReplaceAll(schema, "DATETIME", "TIMESTAMP")
}

// ConfigureDB 返回PostgreSQL配置SQL
func (d *PostgresDialect) ConfigureDB() []string {
	return []string{
		"SET timezone = 'UTC';",
	}
}

// 确保实现接口
var _ storage.Dialect = (*PostgresDialect)(nil)
