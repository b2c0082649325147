// Package sqlstore 提供基于sqlx的通用SQL存储实现，具体方言由 sqlite/mysql/postgres 子包提供
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/LENAX/flow-control/pkg/storage"
	"github.com/LENAX/flow-control/pkg/storage/dao"
)

// schemaStatements 通用DDL（SQLite语法），由方言转换
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS workflow_instance (
		id VARCHAR(191) PRIMARY KEY,
		workflow_id VARCHAR(191) NOT NULL,
		version VARCHAR(64) NOT NULL,
		status VARCHAR(32) NOT NULL,
		payload TEXT NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_workflow_instance_status ON workflow_instance(status)`,
	`CREATE TABLE IF NOT EXISTS schedule_state (
		schedule_id VARCHAR(191) PRIMARY KEY,
		last_run DATETIME NULL,
		next_run DATETIME NULL,
		run_count BIGINT NOT NULL DEFAULT 0,
		error_count BIGINT NOT NULL DEFAULT 0,
		last_error TEXT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS security_record (
		kind VARCHAR(32) NOT NULL,
		record_key VARCHAR(191) NOT NULL,
		payload TEXT NOT NULL,
		updated_at DATETIME NOT NULL,
		PRIMARY KEY (kind, record_key)
	)`,
}

// Store 基于sqlx的存储实现，同时实现三个Repository接口（对外导出）
type Store struct {
	db      *sqlx.DB
	dialect storage.Dialect
}

// New 使用已打开的连接创建Store并初始化表结构
func New(db *sqlx.DB, dialect storage.Dialect) (*Store, error) {
	s := &Store{db: db, dialect: dialect}
	for _, stmt := range dialect.ConfigureDB() {
		if _, err := db.Exec(stmt); err != nil {
			return nil, fmt.Errorf("配置%s失败: %w", dialect.Name(), err)
		}
	}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("初始化表结构失败: %w", err)
	}
	return s, nil
}

// Open 通过DSN打开连接并创建Store
func Open(dialect storage.Dialect, dsn string) (*Store, error) {
	db, err := sqlx.Open(dialect.DriverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("打开数据库失败: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("数据库连接失败: %w", err)
	}
	s, err := New(db, dialect)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Repositories 包装为Repository集合
func (s *Store) Repositories() *storage.Repositories {
	return storage.NewRepositories(s, s, s, s.Close)
}

// GetDB 获取底层数据库连接（对外导出）
func (s *Store) GetDB() *sqlx.DB {
	return s.db
}

// Ping 检查数据库连接
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close 关闭数据库连接（对外导出）
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// initSchema 初始化数据库表结构
func (s *Store) initSchema() error {
	for _, stmt := range schemaStatements {
		converted := s.dialect.CreateTableSQL(stmt)
		if strings.TrimSpace(converted) == "" {
			continue
		}
		if _, err := s.db.Exec(converted); err != nil {
			return err
		}
	}
	return nil
}

// SaveInstance 保存实例
func (s *Store) SaveInstance(ctx context.Context, record *storage.InstanceRecord) error {
	row := &dao.InstanceDAO{
		ID:         record.ID,
		WorkflowID: record.WorkflowID,
		Version:    record.Version,
		Status:     record.Status,
		Payload:    string(record.Payload),
		UpdatedAt:  record.UpdatedAt.UTC(),
	}
	query := s.dialect.UpsertSQL("workflow_instance",
		[]string{"id", "workflow_id", "version", "status", "payload", "updated_at"},
		[]string{"id"},
		[]string{"workflow_id", "version", "status", "payload", "updated_at"},
	)
	if _, err := s.db.NamedExecContext(ctx, query, row); err != nil {
		return fmt.Errorf("保存WorkflowInstance失败: %w", err)
	}
	return nil
}

// GetInstance 查询实例
func (s *Store) GetInstance(ctx context.Context, id string) (*storage.InstanceRecord, error) {
	var row dao.InstanceDAO
	query := s.db.Rebind(`SELECT id, workflow_id, version, status, payload, updated_at FROM workflow_instance WHERE id = ?`)
	if err := s.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("查询WorkflowInstance失败: %w", err)
	}
	return instanceFromDAO(&row), nil
}

// DeleteInstance 删除实例
func (s *Store) DeleteInstance(ctx context.Context, id string) error {
	query := s.db.Rebind(`DELETE FROM workflow_instance WHERE id = ?`)
	if _, err := s.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("删除WorkflowInstance失败: %w", err)
	}
	return nil
}

// ListInstances 列出实例
func (s *Store) ListInstances(ctx context.Context) ([]*storage.InstanceRecord, error) {
	var rows []dao.InstanceDAO
	query := `SELECT id, workflow_id, version, status, payload, updated_at FROM workflow_instance ORDER BY updated_at`
	if err := s.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("查询WorkflowInstance列表失败: %w", err)
	}
	result := make([]*storage.InstanceRecord, 0, len(rows))
	for i := range rows {
		result = append(result, instanceFromDAO(&rows[i]))
	}
	return result, nil
}

func instanceFromDAO(row *dao.InstanceDAO) *storage.InstanceRecord {
	return &storage.InstanceRecord{
		ID:         row.ID,
		WorkflowID: row.WorkflowID,
		Version:    row.Version,
		Status:     row.Status,
		UpdatedAt:  row.UpdatedAt,
		Payload:    []byte(row.Payload),
	}
}

// SaveScheduleState 保存定时计划运行状态
func (s *Store) SaveScheduleState(ctx context.Context, state *storage.ScheduleState) error {
	row := &dao.ScheduleStateDAO{
		ScheduleID: state.ScheduleID,
		RunCount:   state.RunCount,
		ErrorCount: state.ErrorCount,
		UpdatedAt:  state.UpdatedAt.UTC(),
	}
	if state.LastRun != nil {
		row.LastRun = sql.NullTime{Time: state.LastRun.UTC(), Valid: true}
	}
	if state.NextRun != nil {
		row.NextRun = sql.NullTime{Time: state.NextRun.UTC(), Valid: true}
	}
	if state.LastError != "" {
		row.LastError = sql.NullString{String: state.LastError, Valid: true}
	}
	query := s.dialect.UpsertSQL("schedule_state",
		[]string{"schedule_id", "last_run", "next_run", "run_count", "error_count", "last_error", "updated_at"},
		[]string{"schedule_id"},
		[]string{"last_run", "next_run", "run_count", "error_count", "last_error", "updated_at"},
	)
	if _, err := s.db.NamedExecContext(ctx, query, row); err != nil {
		return fmt.Errorf("保存ScheduleState失败: %w", err)
	}
	return nil
}

// GetScheduleState 查询定时计划运行状态
func (s *Store) GetScheduleState(ctx context.Context, scheduleID string) (*storage.ScheduleState, error) {
	var row dao.ScheduleStateDAO
	query := s.db.Rebind(`SELECT schedule_id, last_run, next_run, run_count, error_count, last_error, updated_at FROM schedule_state WHERE schedule_id = ?`)
	if err := s.db.GetContext(ctx, &row, query, scheduleID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("查询ScheduleState失败: %w", err)
	}
	return scheduleStateFromDAO(&row), nil
}

// DeleteScheduleState 删除定时计划运行状态
func (s *Store) DeleteScheduleState(ctx context.Context, scheduleID string) error {
	query := s.db.Rebind(`DELETE FROM schedule_state WHERE schedule_id = ?`)
	if _, err := s.db.ExecContext(ctx, query, scheduleID); err != nil {
		return fmt.Errorf("删除ScheduleState失败: %w", err)
	}
	return nil
}

// ListScheduleStates 列出全部定时计划运行状态
func (s *Store) ListScheduleStates(ctx context.Context) ([]*storage.ScheduleState, error) {
	var rows []dao.ScheduleStateDAO
	query := `SELECT schedule_id, last_run, next_run, run_count, error_count, last_error, updated_at FROM schedule_state ORDER BY schedule_id`
	if err := s.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("查询ScheduleState列表失败: %w", err)
	}
	result := make([]*storage.ScheduleState, 0, len(rows))
	for i := range rows {
		result = append(result, scheduleStateFromDAO(&rows[i]))
	}
	return result, nil
}

func scheduleStateFromDAO(row *dao.ScheduleStateDAO) *storage.ScheduleState {
	st := &storage.ScheduleState{
		ScheduleID: row.ScheduleID,
		RunCount:   row.RunCount,
		ErrorCount: row.ErrorCount,
		UpdatedAt:  row.UpdatedAt,
	}
	if row.LastRun.Valid {
		t := row.LastRun.Time
		st.LastRun = &t
	}
	if row.NextRun.Valid {
		t := row.NextRun.Time
		st.NextRun = &t
	}
	if row.LastError.Valid {
		st.LastError = row.LastError.String
	}
	return st
}

// SaveSecurityRecord 保存安全记录
func (s *Store) SaveSecurityRecord(ctx context.Context, record *storage.SecurityRecord) error {
	updatedAt := record.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}
	row := &dao.SecurityRecordDAO{
		Kind:      record.Kind,
		RecordKey: record.Key,
		Payload:   string(record.Payload),
		UpdatedAt: updatedAt.UTC(),
	}
	query := s.dialect.UpsertSQL("security_record",
		[]string{"kind", "record_key", "payload", "updated_at"},
		[]string{"kind", "record_key"},
		[]string{"payload", "updated_at"},
	)
	if _, err := s.db.NamedExecContext(ctx, query, row); err != nil {
		return fmt.Errorf("保存SecurityRecord失败: %w", err)
	}
	return nil
}

// DeleteSecurityRecord 删除安全记录
func (s *Store) DeleteSecurityRecord(ctx context.Context, kind, key string) error {
	query := s.db.Rebind(`DELETE FROM security_record WHERE kind = ? AND record_key = ?`)
	if _, err := s.db.ExecContext(ctx, query, kind, key); err != nil {
		return fmt.Errorf("删除SecurityRecord失败: %w", err)
	}
	return nil
}

// ListSecurityRecords 列出指定类型的安全记录
func (s *Store) ListSecurityRecords(ctx context.Context, kind string) ([]*storage.SecurityRecord, error) {
	var rows []dao.SecurityRecordDAO
	query := s.db.Rebind(`SELECT kind, record_key, payload, updated_at FROM security_record WHERE kind = ? ORDER BY record_key`)
	if err := s.db.SelectContext(ctx, &rows, query, kind); err != nil {
		return nil, fmt.Errorf("查询SecurityRecord列表失败: %w", err)
	}
	result := make([]*storage.SecurityRecord, 0, len(rows))
	for _, row := range rows {
		result = append(result, &storage.SecurityRecord{
			Kind:      row.Kind,
			Key:       row.RecordKey,
			Payload:   []byte(row.Payload),
			UpdatedAt: row.UpdatedAt,
		})
	}
	return result, nil
}
