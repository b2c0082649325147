package storage

import (
	"fmt"
	"strings"
)

// Dialect SQL方言接口（对外导出）
// 封装不同数据库的SQL语法差异
type Dialect interface {
	// Name 返回方言名称（如 "sqlite", "mysql", "postgres"）
	Name() string

	// DriverName 返回 database/sql 驱动名称
	DriverName() string

	// UpsertSQL 返回INSERT或UPDATE的SQL语句（使用 :name 命名参数）
	// tableName: 表名
	// columns: 列名列表
	// conflictColumns: 冲突判断列（通常是主键）
	// updateColumns: 需要更新的列（不含主键）
	UpsertSQL(tableName string, columns []string, conflictColumns []string, updateColumns []string) string

	// CreateTableSQL 把通用DDL转换为方言兼容格式
	CreateTableSQL(schema string) string

	// ConfigureDB 配置数据库连接（如SQLite的PRAGMA）
	// 返回需要执行的SQL语句列表
	ConfigureDB() []string
}

// NamedInsert 生成 INSERT INTO t (a, b) VALUES (:a, :b)，供各方言拼接冲突子句
func NamedInsert(tableName string, columns []string) string {
	named := make([]string, len(columns))
	for i, col := range columns {
		named[i] = ":" + col
	}
	return "INSERT INTO " + tableName + " (" + strings.Join(columns, ", ") + ") VALUES (" + strings.Join(named, ", ") + ")"
}

// AssignList 按模板生成赋值列表，模板中的 %[1]s 为列名
func AssignList(columns []string, format string) string {
	parts := make([]string, len(columns))
	for i, col := range columns {
		parts[i] = fmt.Sprintf(format, col)
	}
	return strings.Join(parts, ", ")
}
