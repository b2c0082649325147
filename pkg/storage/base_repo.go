package storage

import "context"

// BaseRepository 所有Repository共有的接口（对外导出）
// 具体的存取方法由各Repository显式定义
type BaseRepository interface {
	// Ping 检查底层存储是否可用，内存实现总是返回nil
	Ping(ctx context.Context) error
}
