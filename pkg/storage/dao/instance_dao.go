package dao

import (
	"database/sql"
	"time"
)

// InstanceDAO workflow_instance表的数据访问对象（内部使用）
type InstanceDAO struct {
	ID         string    `db:"id"`
	WorkflowID string    `db:"workflow_id"`
	Version    string    `db:"version"`
	Status     string    `db:"status"`
	Payload    string    `db:"payload"` // JSON格式存储
	UpdatedAt  time.Time `db:"updated_at"`
}

// ScheduleStateDAO schedule_state表的数据访问对象（内部使用）
type ScheduleStateDAO struct {
	ScheduleID string         `db:"schedule_id"`
	LastRun    sql.NullTime   `db:"last_run"`
	NextRun    sql.NullTime   `db:"next_run"`
	RunCount   int64          `db:"run_count"`
	ErrorCount int64          `db:"error_count"`
	LastError  sql.NullString `db:"last_error"`
	UpdatedAt  time.Time      `db:"updated_at"`
}

// SecurityRecordDAO security_record表的数据访问对象（内部使用）
type SecurityRecordDAO struct {
	Kind      string    `db:"kind"`
	RecordKey string    `db:"record_key"`
	Payload   string    `db:"payload"` // JSON格式存储
	UpdatedAt time.Time `db:"updated_at"`
}
