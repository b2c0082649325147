package lifecycle

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"

	"github.com/LENAX/flow-control/pkg/config"
	"github.com/LENAX/flow-control/pkg/core/types"
	"github.com/LENAX/flow-control/pkg/logging"
	"github.com/LENAX/flow-control/pkg/storage"
)

// Config 生命周期管理配置
type Config struct {
	MaxConcurrentWorkflows int
	MaxWorkflowDuration    time.Duration
	CleanupInterval        time.Duration
	StatusUpdateInterval   time.Duration
	Thresholds             ResourceUsage
	// DefaultUsage 未上报资源占用的运行实例按此估算
	DefaultUsage ResourceUsage
}

// ConfigFromSection 由框架配置转换
func ConfigFromSection(s config.LifecycleSection) Config {
	return Config{
		MaxConcurrentWorkflows: s.MaxConcurrentWorkflows,
		MaxWorkflowDuration:    s.MaxWorkflowDuration,
		CleanupInterval:        s.CleanupInterval,
		StatusUpdateInterval:   s.StatusUpdateInterval,
		Thresholds: ResourceUsage{
			MemoryMB:   s.Thresholds.MemoryMB,
			CPUPercent: s.Thresholds.CPUPercent,
			DiskMB:     s.Thresholds.DiskMB,
		},
		DefaultUsage: ResourceUsage{
			MemoryMB:   s.DefaultUsage.MemoryMB,
			CPUPercent: s.DefaultUsage.CPUPercent,
			DiskMB:     s.DefaultUsage.DiskMB,
		},
	}
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return ConfigFromSection(config.Default().FlowControl.Lifecycle)
}

// ResourceSampler 资源采样器，状态刷新时为每个运行中实例采集资源占用
type ResourceSampler interface {
	Sample(inst *WorkflowInstance) ResourceUsage
}

// ResourceSamplerFunc 函数适配器
type ResourceSamplerFunc func(inst *WorkflowInstance) ResourceUsage

// Sample 实现 ResourceSampler
func (f ResourceSamplerFunc) Sample(inst *WorkflowInstance) ResourceUsage {
	return f(inst)
}

// staticSampler 已上报的值优先，否则使用固定估算值
type staticSampler struct {
	usage ResourceUsage
}

func (s staticSampler) Sample(inst *WorkflowInstance) ResourceUsage {
	if !inst.Resources.IsZero() {
		return inst.Resources
	}
	return s.usage
}

// CleanupFunc 实例被删除前执行的清理任务
type CleanupFunc func(ctx context.Context, inst *WorkflowInstance) error

type cleanupTask struct {
	name string
	fn   CleanupFunc
}

// CreateRequest 创建实例请求
type CreateRequest struct {
	WorkflowID   string
	Version      string
	Priority     types.Priority
	Dependencies []WorkflowDependency
	Metadata     map[string]interface{}
}

// StartOptions 启动选项
type StartOptions struct {
	// MaxPerWorkflow 同一工作流同时运行的实例上限，0表示不限制
	MaxPerWorkflow int
	// Usage 预估资源占用，为空时使用采样器
	Usage *ResourceUsage
}

// StartOption 启动选项函数
type StartOption func(*StartOptions)

// WithWorkflowConcurrency 限制同一工作流的并发实例数
func WithWorkflowConcurrency(n int) StartOption {
	return func(o *StartOptions) {
		o.MaxPerWorkflow = n
	}
}

// WithEstimatedUsage 指定实例的预估资源占用
func WithEstimatedUsage(u ResourceUsage) StartOption {
	return func(o *StartOptions) {
		o.Usage = &u
	}
}

// ListFilter 实例查询条件，空字段不过滤
type ListFilter struct {
	Status     Status
	WorkflowID string
}

// Statistics 统计信息
type Statistics struct {
	Total                int            `json:"total"`
	ByStatus             map[Status]int `json:"byStatus"`
	Running              int            `json:"running"`
	AverageExecutionTime time.Duration  `json:"averageExecutionTime"`
	ResourceUtilization  ResourceUsage  `json:"resourceUtilization"`
	Thresholds           ResourceUsage  `json:"thresholds"`
}

// Manager 生命周期管理器（对外导出）
// 所有状态转换在同一把锁内完成，事件在释放锁之后分发
type Manager struct {
	mu         sync.Mutex
	cfg        Config
	instances  map[string]*WorkflowInstance
	graph      *dependencyGraph
	cleanupFns map[string][]cleanupTask

	listenerMu sync.RWMutex
	listeners  map[int]Listener
	nextID     int

	repo    storage.InstanceRepository
	sampler ResourceSampler
	logger  watermill.LoggerAdapter
	now     func() time.Time

	loopMu  sync.Mutex
	stopCh  chan struct{}
	wg      sync.WaitGroup
	running bool
}

// Option 管理器选项
type Option func(*Manager)

// WithLogger 设置日志
func WithLogger(logger watermill.LoggerAdapter) Option {
	return func(m *Manager) {
		m.logger = logging.OrNop(logger)
	}
}

// WithRepository 设置持久化存储
func WithRepository(repo storage.InstanceRepository) Option {
	return func(m *Manager) {
		m.repo = repo
	}
}

// WithSampler 设置资源采样器
func WithSampler(s ResourceSampler) Option {
	return func(m *Manager) {
		if s != nil {
			m.sampler = s
		}
	}
}

// WithClock 替换时间源
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewManager 创建生命周期管理器
func NewManager(cfg Config, opts ...Option) *Manager {
	def := DefaultConfig()
	if cfg.MaxConcurrentWorkflows <= 0 {
		cfg.MaxConcurrentWorkflows = def.MaxConcurrentWorkflows
	}
	if cfg.MaxWorkflowDuration <= 0 {
		cfg.MaxWorkflowDuration = def.MaxWorkflowDuration
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = def.CleanupInterval
	}
	if cfg.StatusUpdateInterval <= 0 {
		cfg.StatusUpdateInterval = def.StatusUpdateInterval
	}

	m := &Manager{
		cfg:        cfg,
		instances:  make(map[string]*WorkflowInstance),
		graph:      newDependencyGraph(),
		cleanupFns: make(map[string][]cleanupTask),
		listeners:  make(map[int]Listener),
		logger:     logging.Nop(),
		now:        time.Now,
	}
	m.sampler = staticSampler{usage: cfg.DefaultUsage}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Config 返回当前配置
func (m *Manager) Config() Config {
	return m.cfg
}

// Subscribe 注册事件监听器，返回取消函数
func (m *Manager) Subscribe(l Listener) func() {
	m.listenerMu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = l
	m.listenerMu.Unlock()

	return func() {
		m.listenerMu.Lock()
		delete(m.listeners, id)
		m.listenerMu.Unlock()
	}
}

func (m *Manager) emit(events ...Event) {
	m.listenerMu.RLock()
	listeners := make([]Listener, 0, len(m.listeners))
	for _, l := range m.listeners {
		listeners = append(listeners, l)
	}
	m.listenerMu.RUnlock()

	for _, ev := range events {
		for _, l := range listeners {
			l(ev)
		}
	}
}

// CreateWorkflowInstance 创建PENDING状态的实例，并记录依赖边
func (m *Manager) CreateWorkflowInstance(ctx context.Context, req CreateRequest) (*WorkflowInstance, error) {
	if strings.TrimSpace(req.WorkflowID) == "" {
		return nil, fmt.Errorf("workflowId不能为空")
	}
	priority := req.Priority
	if priority == "" {
		priority = types.PriorityNormal
	}
	if !priority.IsValid() {
		return nil, fmt.Errorf("无效的优先级: %s", priority)
	}

	m.mu.Lock()

	edges := make([]WorkflowDependency, 0, len(req.Dependencies))
	depIDs := make([]string, 0, len(req.Dependencies))
	for _, dep := range req.Dependencies {
		if dep.Condition == "" {
			dep.Condition = ConditionCompleted
		}
		if !dep.Condition.IsValid() {
			m.mu.Unlock()
			return nil, fmt.Errorf("%w: 未知的条件 %q", ErrInvalidDependency, dep.Condition)
		}
		target, err := m.resolveLocked(dep)
		if err != nil {
			m.mu.Unlock()
			return nil, err
		}
		dep.InstanceID = target.ID
		if dep.WorkflowID == target.ID || strings.Contains(dep.WorkflowID, "@") {
			dep.WorkflowID = target.WorkflowID
			dep.Version = target.Version
		}
		edges = append(edges, dep)
		if !containsString(depIDs, target.ID) {
			depIDs = append(depIDs, target.ID)
		}
	}

	now := m.now()
	inst := &WorkflowInstance{
		ID:              newInstanceID(req.WorkflowID, now),
		WorkflowID:      req.WorkflowID,
		Version:         req.Version,
		Status:          StatusPending,
		Priority:        priority,
		CreatedAt:       now,
		UpdatedAt:       now,
		Metadata:        make(map[string]interface{}, len(req.Metadata)),
		Dependencies:    depIDs,
		Dependents:      []string{},
		DependencyEdges: edges,
	}
	for k, v := range req.Metadata {
		inst.Metadata[k] = v
	}

	if err := m.graph.addInstance(inst.ID); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	for _, depID := range depIDs {
		if err := m.graph.addDependency(depID, inst.ID); err != nil {
			m.graph.removeInstance(inst.ID)
			m.mu.Unlock()
			return nil, fmt.Errorf("%w: %v", ErrInvalidDependency, err)
		}
	}

	m.instances[inst.ID] = inst
	for _, depID := range depIDs {
		target := m.instances[depID]
		target.Dependents = append(target.Dependents, inst.ID)
		m.persistLocked(ctx, target)
	}
	m.persistLocked(ctx, inst)
	ev := newEvent(EventCreated, inst, "")
	snapshot := inst.Clone()
	m.mu.Unlock()

	m.logger.Info("工作流实例已创建", watermill.LogFields{
		"instance_id":  inst.ID,
		"workflow_id":  inst.WorkflowID,
		"version":      inst.Version,
		"priority":     string(priority),
		"dependencies": len(depIDs),
	})
	m.emit(ev)
	return snapshot, nil
}

// resolveLocked 把依赖目标解析为实例：优先精确匹配实例ID，否则取该工作流最新的实例
func (m *Manager) resolveLocked(dep WorkflowDependency) (*WorkflowInstance, error) {
	if inst, ok := m.instances[dep.WorkflowID]; ok {
		return inst, nil
	}
	if dep.InstanceID != "" {
		if inst, ok := m.instances[dep.InstanceID]; ok {
			return inst, nil
		}
	}

	workflowID, version := dep.WorkflowID, dep.Version
	if i := strings.LastIndex(workflowID, "@"); i > 0 && version == "" {
		workflowID, version = workflowID[:i], workflowID[i+1:]
	}

	var latest *WorkflowInstance
	for _, inst := range m.instances {
		if inst.WorkflowID != workflowID || (version != "" && inst.Version != version) {
			continue
		}
		if inst.Status == StatusCleaningUp {
			continue
		}
		if latest == nil || inst.CreatedAt.After(latest.CreatedAt) ||
			(inst.CreatedAt.Equal(latest.CreatedAt) && inst.ID > latest.ID) {
			latest = inst
		}
	}
	if latest == nil {
		target := workflowID
		if version != "" {
			target += "@" + version
		}
		return nil, fmt.Errorf("%w: %s", ErrDependencyNotFound, target)
	}
	return latest, nil
}

func (m *Manager) getLocked(id string) (*WorkflowInstance, error) {
	inst, ok := m.instances[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrInstanceNotFound, id)
	}
	return inst, nil
}

func (m *Manager) transitionLocked(inst *WorkflowInstance, to Status) (Status, error) {
	from := inst.Status
	if !from.CanTransitionTo(to) {
		return from, fmt.Errorf("%w: 实例 %s 无法从 %s 转换到 %s", ErrInvalidTransition, inst.ID, from, to)
	}
	inst.Status = to
	inst.UpdatedAt = m.now()
	return from, nil
}

// StartWorkflow 启动PENDING实例：依次校验依赖、并发数与资源阈值
func (m *Manager) StartWorkflow(ctx context.Context, instanceID string, opts ...StartOption) error {
	options := StartOptions{}
	for _, opt := range opts {
		opt(&options)
	}

	m.mu.Lock()
	inst, err := m.getLocked(instanceID)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	if inst.Status != StatusPending {
		m.mu.Unlock()
		return fmt.Errorf("%w: 实例 %s 当前状态为 %s，只有 PENDING 状态可以启动", ErrInvalidTransition, instanceID, inst.Status)
	}
	if err := m.checkDependenciesLocked(inst); err != nil {
		m.mu.Unlock()
		return err
	}
	if err := m.checkAdmissionLocked(inst, options); err != nil {
		m.mu.Unlock()
		return err
	}

	from, err := m.transitionLocked(inst, StatusRunning)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	now := inst.UpdatedAt
	inst.StartedAt = &now
	if options.Usage != nil {
		inst.Resources = *options.Usage
	} else {
		inst.Resources = m.sampler.Sample(inst)
	}
	m.persistLocked(ctx, inst)
	ev := newEvent(EventStarted, inst, from)
	m.mu.Unlock()

	m.logger.Info("工作流实例已启动", watermill.LogFields{"instance_id": instanceID})
	m.emit(ev)
	return nil
}

// checkDependenciesLocked 校验每条依赖都已按条件满足
func (m *Manager) checkDependenciesLocked(inst *WorkflowInstance) error {
	for _, edge := range inst.DependencyEdges {
		dep, ok := m.instances[edge.InstanceID]
		if !ok {
			return fmt.Errorf("%w: 依赖实例 %s (%s@%s) 已不存在", ErrDependencyNotSatisfied, edge.InstanceID, edge.WorkflowID, edge.Version)
		}
		if !edge.Condition.SatisfiedBy(dep.Status) {
			return fmt.Errorf("%w: 依赖 %s (%s@%s) 当前状态为 %s，要求条件 %s",
				ErrDependencyNotSatisfied, dep.ID, dep.WorkflowID, dep.Version, dep.Status, edge.Condition)
		}
	}
	return nil
}

func (m *Manager) dependenciesSatisfiedLocked(inst *WorkflowInstance) bool {
	return m.checkDependenciesLocked(inst) == nil
}

// checkAdmissionLocked 并发数与资源阈值校验
func (m *Manager) checkAdmissionLocked(inst *WorkflowInstance, opts StartOptions) error {
	running, sameWorkflow := 0, 0
	var total ResourceUsage
	for _, other := range m.instances {
		if other.Status != StatusRunning {
			continue
		}
		running++
		if other.WorkflowID == inst.WorkflowID {
			sameWorkflow++
		}
		total = total.Add(other.Resources)
	}

	if running >= m.cfg.MaxConcurrentWorkflows {
		return fmt.Errorf("%w: 运行中 %d，上限 %d", ErrConcurrencyLimit, running, m.cfg.MaxConcurrentWorkflows)
	}
	if opts.MaxPerWorkflow > 0 && sameWorkflow >= opts.MaxPerWorkflow {
		return fmt.Errorf("%w: 工作流 %s 运行中 %d，上限 %d", ErrConcurrencyLimit, inst.WorkflowID, sameWorkflow, opts.MaxPerWorkflow)
	}

	th := m.cfg.Thresholds
	if th.MemoryMB > 0 && total.MemoryMB >= th.MemoryMB {
		return fmt.Errorf("%w: 内存 %.0fMB，阈值 %.0fMB", ErrResourceLimit, total.MemoryMB, th.MemoryMB)
	}
	if th.CPUPercent > 0 && total.CPUPercent >= th.CPUPercent {
		return fmt.Errorf("%w: CPU %.1f%%，阈值 %.1f%%", ErrResourceLimit, total.CPUPercent, th.CPUPercent)
	}
	if th.DiskMB > 0 && total.DiskMB >= th.DiskMB {
		return fmt.Errorf("%w: 磁盘 %.0fMB，阈值 %.0fMB", ErrResourceLimit, total.DiskMB, th.DiskMB)
	}
	return nil
}

// PauseWorkflow 暂停运行中的实例
func (m *Manager) PauseWorkflow(ctx context.Context, instanceID string) error {
	return m.guarded(ctx, instanceID, StatusRunning, StatusPaused, EventPaused, func(inst *WorkflowInstance) {
		now := inst.UpdatedAt
		inst.PausedAt = &now
	})
}

// ResumeWorkflow 恢复已暂停的实例
func (m *Manager) ResumeWorkflow(ctx context.Context, instanceID string) error {
	return m.guarded(ctx, instanceID, StatusPaused, StatusRunning, EventResumed, func(inst *WorkflowInstance) {
		now := inst.UpdatedAt
		inst.ResumedAt = &now
	})
}

// guarded 要求当前状态为 required 的转换
func (m *Manager) guarded(ctx context.Context, instanceID string, required, to Status, evType EventType, mutate func(*WorkflowInstance)) error {
	m.mu.Lock()
	inst, err := m.getLocked(instanceID)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	if inst.Status != required {
		m.mu.Unlock()
		return fmt.Errorf("%w: 实例 %s 当前状态为 %s，要求 %s", ErrInvalidTransition, instanceID, inst.Status, required)
	}
	from, err := m.transitionLocked(inst, to)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	mutate(inst)
	m.persistLocked(ctx, inst)
	ev := newEvent(evType, inst, from)
	m.mu.Unlock()

	m.emit(ev)
	return nil
}

// CompleteWorkflow 完成实例（RUNNING或PAUSED），结果写入metadata，随后检查依赖方是否就绪
func (m *Manager) CompleteWorkflow(ctx context.Context, instanceID string, result interface{}) error {
	return m.finish(ctx, instanceID, StatusCompleted, EventCompleted, func(inst *WorkflowInstance) {
		now := inst.UpdatedAt
		inst.CompletedAt = &now
		if result != nil {
			inst.Metadata["result"] = result
		}
	})
}

// FailWorkflow 任意非清理状态均可置为失败
func (m *Manager) FailWorkflow(ctx context.Context, instanceID string, cause error) error {
	return m.finish(ctx, instanceID, StatusFailed, EventFailed, func(inst *WorkflowInstance) {
		if cause != nil {
			inst.Error = cause.Error()
		}
	})
}

// CancelWorkflow 任意非清理状态均可取消，包括已完成的实例
// 取消只更新记录，不会中断正在执行的工作流逻辑
func (m *Manager) CancelWorkflow(ctx context.Context, instanceID string, reason string) error {
	return m.finish(ctx, instanceID, StatusCancelled, EventCancelled, func(inst *WorkflowInstance) {
		now := inst.UpdatedAt
		inst.CancelledAt = &now
		if reason != "" {
			inst.Metadata["cancelReason"] = reason
		}
	})
}

func (m *Manager) finish(ctx context.Context, instanceID string, to Status, evType EventType, mutate func(*WorkflowInstance)) error {
	m.mu.Lock()
	inst, err := m.getLocked(instanceID)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	from, err := m.transitionLocked(inst, to)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	if inst.Metadata == nil {
		inst.Metadata = make(map[string]interface{})
	}
	mutate(inst)
	m.persistLocked(ctx, inst)

	events := []Event{newEvent(evType, inst, from)}
	for _, ready := range m.readyDependentsLocked(inst) {
		ev := newEvent(EventReady, ready, ready.Status)
		ev.TriggeredBy = inst.ID
		events = append(events, ev)
	}
	m.mu.Unlock()

	fields := watermill.LogFields{"instance_id": instanceID, "from": string(from), "to": string(to)}
	if to == StatusFailed {
		m.logger.Error("工作流实例失败", nil, fields.Add(watermill.LogFields{"error": inst.Error}))
	} else {
		m.logger.Info("工作流实例进入终态", fields)
	}
	for _, ev := range events[1:] {
		m.logger.Info("依赖方已就绪", watermill.LogFields{"instance_id": ev.InstanceID, "triggered_by": instanceID})
	}
	m.emit(events...)
	return nil
}

// readyDependentsLocked 返回仍为PENDING且全部依赖已满足的依赖方
func (m *Manager) readyDependentsLocked(inst *WorkflowInstance) []*WorkflowInstance {
	var ready []*WorkflowInstance
	for _, id := range inst.Dependents {
		dep, ok := m.instances[id]
		if !ok || dep.Status != StatusPending {
			continue
		}
		if m.dependenciesSatisfiedLocked(dep) {
			ready = append(ready, dep)
		}
	}
	return ready
}

// ReadyDependents 返回可以启动的依赖方实例ID
func (m *Manager) ReadyDependents(instanceID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	inst, err := m.getLocked(instanceID)
	if err != nil {
		return nil, err
	}
	ready := m.readyDependentsLocked(inst)
	ids := make([]string, 0, len(ready))
	for _, r := range ready {
		ids = append(ids, r.ID)
	}
	return ids, nil
}

// GetInstance 获取实例快照
func (m *Manager) GetInstance(instanceID string) (*WorkflowInstance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	inst, err := m.getLocked(instanceID)
	if err != nil {
		return nil, err
	}
	return inst.Clone(), nil
}

// ListInstances 按创建时间排序返回实例快照
func (m *Manager) ListInstances(filter ListFilter) []*WorkflowInstance {
	m.mu.Lock()
	out := make([]*WorkflowInstance, 0, len(m.instances))
	for _, inst := range m.instances {
		if filter.Status != "" && inst.Status != filter.Status {
			continue
		}
		if filter.WorkflowID != "" && inst.WorkflowID != filter.WorkflowID {
			continue
		}
		out = append(out, inst.Clone())
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// UpdateResourceUsage 上报实例资源占用
func (m *Manager) UpdateResourceUsage(ctx context.Context, instanceID string, usage ResourceUsage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	inst, err := m.getLocked(instanceID)
	if err != nil {
		return err
	}
	inst.Resources = usage
	inst.UpdatedAt = m.now()
	m.persistLocked(ctx, inst)
	return nil
}

// RegisterCleanupTask 注册实例删除前执行的清理任务
func (m *Manager) RegisterCleanupTask(instanceID, name string, fn CleanupFunc) error {
	if fn == nil {
		return fmt.Errorf("清理任务 %s 不能为空", name)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	inst, err := m.getLocked(instanceID)
	if err != nil {
		return err
	}
	inst.CleanupTasks = append(inst.CleanupTasks, name)
	m.cleanupFns[instanceID] = append(m.cleanupFns[instanceID], cleanupTask{name: name, fn: fn})
	return nil
}

// Statistics 按状态计数、平均执行时间以及运行实例的资源占用
func (m *Manager) Statistics() Statistics {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := Statistics{
		Total:      len(m.instances),
		ByStatus:   make(map[Status]int),
		Thresholds: m.cfg.Thresholds,
	}
	var totalExec time.Duration
	completed := 0
	for _, inst := range m.instances {
		stats.ByStatus[inst.Status]++
		if inst.Status == StatusRunning {
			stats.Running++
			stats.ResourceUtilization = stats.ResourceUtilization.Add(inst.Resources)
		}
		if inst.Status == StatusCompleted {
			if d, ok := inst.ExecutionTime(); ok {
				totalExec += d
				completed++
			}
		}
	}
	if completed > 0 {
		stats.AverageExecutionTime = totalExec / time.Duration(completed)
	}
	return stats
}

// persistLocked 写入存储；失败只记录日志，内存表为准
func (m *Manager) persistLocked(ctx context.Context, inst *WorkflowInstance) {
	if m.repo == nil {
		return
	}
	record, err := toRecord(inst)
	if err == nil {
		err = m.repo.SaveInstance(ctx, record)
	}
	if err != nil {
		m.logger.Error("持久化工作流实例失败", err, watermill.LogFields{"instance_id": inst.ID})
	}
}
