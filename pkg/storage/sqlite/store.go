package sqlite

import (
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/LENAX/flow-control/pkg/storage"
	"github.com/LENAX/flow-control/pkg/storage/sqlstore"
)

// NewRepositoriesFromDSN 通过DSN创建SQLite存储的Repository集合（对外导出）
func NewRepositoriesFromDSN(dsn string) (*storage.Repositories, error) {
	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("打开数据库失败: %w", err)
	}
	// 内存库每个连接都是独立的数据库，只能使用单连接
	if strings.Contains(dsn, ":memory:") || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("数据库连接失败: %w", err)
	}

	store, err := sqlstore.New(db, NewSQLiteDialect())
	if err != nil {
		db.Close()
		return nil, err
	}
	return store.Repositories(), nil
}
