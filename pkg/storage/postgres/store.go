package postgres

import (
	_ "github.com/lib/pq"

	"github.com/LENAX/flow-control/pkg/storage"
	"github.com/LENAX/flow-control/pkg/storage/sqlstore"
)

// NewRepositoriesFromDSN 通过DSN创建PostgreSQL存储的Repository集合（对外导出）
func NewRepositoriesFromDSN(dsn string) (*storage.Repositories, error) {
	store, err := sqlstore.Open(NewPostgresDialect(), dsn)
	if err != nil {
		return nil, err
	}
	return store.Repositories(), nil
}
