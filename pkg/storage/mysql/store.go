package mysql

import (
	"fmt"
	"strings"

	_ "github.com/go-sql-driver/mysql"

	"github.com/LENAX/flow-control/pkg/storage"
	"github.com/LENAX/flow-control/pkg/storage/sqlstore"
)

// NewRepositoriesFromDSN 通过DSN创建MySQL存储的Repository集合（对外导出）
// DATETIME列需要 parseTime=true 才能扫描到 time.Time，缺省时自动补上
func NewRepositoriesFromDSN(dsn string) (*storage.Repositories, error) {
	if !strings.Contains(dsn, "parseTime=") {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn = fmt.Sprintf("%s%sparseTime=true", dsn, sep)
	}
	store, err := sqlstore.Open(NewMySQLDialect(), dsn)
	if err != nil {
		return nil, err
	}
	return store.Repositories(), nil
}
