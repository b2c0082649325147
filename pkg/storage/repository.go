package storage

import (
	"context"
	"time"
)

// InstanceRecord 工作流实例的持久化记录（对外导出）
// 索引列单独存放，完整实例以JSON形式存入Payload
type InstanceRecord struct {
	ID         string
	WorkflowID string
	Version    string
	Status     string
	UpdatedAt  time.Time
	Payload    []byte
}

// InstanceRepository 工作流实例存储接口（对外导出）
type InstanceRepository interface {
	BaseRepository
	// SaveInstance 保存实例（创建或更新）
	SaveInstance(ctx context.Context, record *InstanceRecord) error
	// GetInstance 根据ID查询实例，不存在时返回 nil, nil
	GetInstance(ctx context.Context, id string) (*InstanceRecord, error)
	// DeleteInstance 删除实例
	DeleteInstance(ctx context.Context, id string) error
	// ListInstances 列出全部实例
	ListInstances(ctx context.Context) ([]*InstanceRecord, error)
}

// ScheduleState 定时计划的运行状态（对外导出）
type ScheduleState struct {
	ScheduleID string
	LastRun    *time.Time
	NextRun    *time.Time
	RunCount   int64
	ErrorCount int64
	LastError  string
	UpdatedAt  time.Time
}

// ScheduleStateRepository 定时计划运行状态存储接口（对外导出）
type ScheduleStateRepository interface {
	BaseRepository
	SaveScheduleState(ctx context.Context, state *ScheduleState) error
	// GetScheduleState 不存在时返回 nil, nil
	GetScheduleState(ctx context.Context, scheduleID string) (*ScheduleState, error)
	DeleteScheduleState(ctx context.Context, scheduleID string) error
	ListScheduleStates(ctx context.Context) ([]*ScheduleState, error)
}

// 安全记录类型
const (
	SecurityKindUser       = "user"
	SecurityKindPermission = "permission"
)

// SecurityRecord 用户或工作流权限的持久化记录（对外导出）
type SecurityRecord struct {
	Kind      string
	Key       string
	Payload   []byte
	UpdatedAt time.Time
}

// SecurityRepository 安全表存储接口（对外导出）
type SecurityRepository interface {
	BaseRepository
	SaveSecurityRecord(ctx context.Context, record *SecurityRecord) error
	DeleteSecurityRecord(ctx context.Context, kind, key string) error
	ListSecurityRecords(ctx context.Context, kind string) ([]*SecurityRecord, error)
}

// Repositories 存储Repository集合（对外导出）
type Repositories struct {
	Instances InstanceRepository
	Schedules ScheduleStateRepository
	Security  SecurityRepository
	closeFn   func() error
}

// NewRepositories 组装Repository集合，closeFn 可以为空
func NewRepositories(instances InstanceRepository, schedules ScheduleStateRepository, security SecurityRepository, closeFn func() error) *Repositories {
	return &Repositories{
		Instances: instances,
		Schedules: schedules,
		Security:  security,
		closeFn:   closeFn,
	}
}

// Ping 检查每个Repository的底层存储，同一个存储只检查一次
func (r *Repositories) Ping(ctx context.Context) error {
	if r == nil {
		return nil
	}
	seen := make(map[BaseRepository]bool, 3)
	for _, repo := range []BaseRepository{r.Instances, r.Schedules, r.Security} {
		if repo == nil || seen[repo] {
			continue
		}
		seen[repo] = true
		if err := repo.Ping(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Close 关闭底层连接
func (r *Repositories) Close() error {
	if r == nil || r.closeFn == nil {
		return nil
	}
	return r.closeFn()
}
