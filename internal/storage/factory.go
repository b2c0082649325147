package storage

import (
	"fmt"

	"github.com/LENAX/flow-control/pkg/storage"
	"github.com/LENAX/flow-control/pkg/storage/memory"
	"github.com/LENAX/flow-control/pkg/storage/mysql"
	"github.com/LENAX/flow-control/pkg/storage/postgres"
	pkgsqlite "github.com/LENAX/flow-control/pkg/storage/sqlite"
)

// NewRepositories 按数据库类型创建Repository集合（内部方法）
// dbType: 数据库类型（memory/sqlite/mysql/postgres）
// dsn: 数据库连接字符串，memory类型忽略
func NewRepositories(dbType, dsn string) (*storage.Repositories, error) {
	switch dbType {
	case "", "memory":
		return memory.NewRepositories(), nil
	case "sqlite":
		repos, err := pkgsqlite.NewRepositoriesFromDSN(dsn)
		if err != nil {
			return nil, fmt.Errorf("create sqlite repository failed: %w", err)
		}
		return repos, nil
	case "mysql":
		repos, err := mysql.NewRepositoriesFromDSN(dsn)
		if err != nil {
			return nil, fmt.Errorf("create mysql repository failed: %w", err)
		}
		return repos, nil
	case "postgres", "postgresql":
		repos, err := postgres.NewRepositoriesFromDSN(dsn)
		if err != nil {
			return nil, fmt.Errorf("create postgres repository failed: %w", err)
		}
		return repos, nil
	default:
		return nil, fmt.Errorf("unsupported database type: %s", dbType)
	}
}
