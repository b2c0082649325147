// Package memory 提供进程内存储实现，是控制面的默认存储
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/LENAX/flow-control/pkg/storage"
)

// Store 内存存储，同时实现三个Repository接口（对外导出）
type Store struct {
	mu        sync.RWMutex
	instances map[string]*storage.InstanceRecord
	schedules map[string]*storage.ScheduleState
	security  map[string]map[string]*storage.SecurityRecord
}

// NewStore 创建内存存储
func NewStore() *Store {
	return &Store{
		instances: make(map[string]*storage.InstanceRecord),
		schedules: make(map[string]*storage.ScheduleState),
		security:  make(map[string]map[string]*storage.SecurityRecord),
	}
}

// NewRepositories 创建基于内存存储的Repository集合
func NewRepositories() *storage.Repositories {
	s := NewStore()
	return storage.NewRepositories(s, s, s, nil)
}

// Ping 内存存储总是可用
func (s *Store) Ping(ctx context.Context) error { return nil }

// SaveInstance 保存实例
func (s *Store) SaveInstance(ctx context.Context, record *storage.InstanceRecord) error {
	cp := *record
	cp.Payload = append([]byte(nil), record.Payload...)
	s.mu.Lock()
	s.instances[record.ID] = &cp
	s.mu.Unlock()
	return nil
}

// GetInstance 查询实例
func (s *Store) GetInstance(ctx context.Context, id string) (*storage.InstanceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.instances[id]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

// DeleteInstance 删除实例
func (s *Store) DeleteInstance(ctx context.Context, id string) error {
	s.mu.Lock()
	delete(s.instances, id)
	s.mu.Unlock()
	return nil
}

// ListInstances 列出实例，按更新时间排序
func (s *Store) ListInstances(ctx context.Context) ([]*storage.InstanceRecord, error) {
	s.mu.RLock()
	result := make([]*storage.InstanceRecord, 0, len(s.instances))
	for _, rec := range s.instances {
		cp := *rec
		result = append(result, &cp)
	}
	s.mu.RUnlock()
	sort.Slice(result, func(i, j int) bool {
		return result[i].UpdatedAt.Before(result[j].UpdatedAt)
	})
	return result, nil
}

// SaveScheduleState 保存定时计划运行状态
func (s *Store) SaveScheduleState(ctx context.Context, state *storage.ScheduleState) error {
	cp := *state
	s.mu.Lock()
	s.schedules[state.ScheduleID] = &cp
	s.mu.Unlock()
	return nil
}

// GetScheduleState 查询定时计划运行状态
func (s *Store) GetScheduleState(ctx context.Context, scheduleID string) (*storage.ScheduleState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.schedules[scheduleID]
	if !ok {
		return nil, nil
	}
	cp := *st
	return &cp, nil
}

// DeleteScheduleState 删除定时计划运行状态
func (s *Store) DeleteScheduleState(ctx context.Context, scheduleID string) error {
	s.mu.Lock()
	delete(s.schedules, scheduleID)
	s.mu.Unlock()
	return nil
}

// ListScheduleStates 列出全部定时计划运行状态
func (s *Store) ListScheduleStates(ctx context.Context) ([]*storage.ScheduleState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*storage.ScheduleState, 0, len(s.schedules))
	for _, st := range s.schedules {
		cp := *st
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ScheduleID < result[j].ScheduleID })
	return result, nil
}

// SaveSecurityRecord 保存安全记录
func (s *Store) SaveSecurityRecord(ctx context.Context, record *storage.SecurityRecord) error {
	cp := *record
	cp.Payload = append([]byte(nil), record.Payload...)
	s.mu.Lock()
	defer s.mu.Unlock()
	bucket, ok := s.security[record.Kind]
	if !ok {
		bucket = make(map[string]*storage.SecurityRecord)
		s.security[record.Kind] = bucket
	}
	bucket[record.Key] = &cp
	return nil
}

// DeleteSecurityRecord 删除安全记录
func (s *Store) DeleteSecurityRecord(ctx context.Context, kind, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if bucket, ok := s.security[kind]; ok {
		delete(bucket, key)
	}
	return nil
}

// ListSecurityRecords 列出指定类型的安全记录，按Key排序
func (s *Store) ListSecurityRecords(ctx context.Context, kind string) ([]*storage.SecurityRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	bucket := s.security[kind]
	result := make([]*storage.SecurityRecord, 0, len(bucket))
	for _, rec := range bucket {
		cp := *rec
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Key < result[j].Key })
	return result, nil
}
