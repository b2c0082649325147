package mysql

import (
	"strings"

	"github.com/LENAX/flow-control/pkg/storage"
)

// MySQLDialect MySQL方言实现（对外导出）
type MySQLDialect struct{}

// NewMySQLDialect 创建MySQL方言实例
func NewMySQLDialect() *MySQLDialect {
	return &MySQLDialect{}
}

// Name 返回方言名称
func (d *MySQLDialect) Name() string {
	return "mysql"
}

// DriverName 返回驱动名称（go-sql-driver/mysql）
func (d *MySQLDialect) DriverName() string {
	return "mysql"
}

// UpsertSQL 使用 ON DUPLICATE KEY UPDATE，冲突列由主键决定
func (d *MySQLDialect) UpsertSQL(tableName string, columns []string, conflictColumns []string, updateColumns []string) string {
	return storage.NamedInsert(tableName, columns) +
		" ON DUPLICATE KEY UPDATE " + storage.AssignList(updateColumns, "%[1]s = VALUES(%[1]s)")
}

// CreateTableSQL 转换DDL为MySQL兼容格式
// MySQL不支持 CREATE INDEX IF NOT EXISTS，索引语句直接跳过
func (d *MySQLDialect) CreateTableSQL(schema string) string {
	if strings.HasPrefix(strings.TrimSpace(schema), "CREATE INDEX") {
		return ""
	}
	return schema
}

// ConfigureDB 返回MySQL配置SQL
func (d *MySQLDialect) ConfigureDB() []string {
	return []string{
		"SET time_zone = '+00:00';",
	}
}

// 确保实现接口
var _ storage.Dialect = (*MySQLDialect)(nil)
