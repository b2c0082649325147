// Package scheduler 从描述文件加载定时计划，按Cron表达式触发工作流执行
package scheduler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/robfig/cron/v3"

	"github.com/LENAX/flow-control/pkg/core/types"
	"github.com/LENAX/flow-control/pkg/logging"
	"github.com/LENAX/flow-control/pkg/storage"
)

// SleepFunc 重试间隔等待函数，ctx 取消时提前返回
type SleepFunc func(ctx context.Context, d time.Duration) error

func defaultSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// scheduledWorkflow 描述文件与运行状态
type scheduledWorkflow struct {
	config     *ScheduleConfig
	schedule   cron.Schedule
	entryID    cron.EntryID
	armed      bool
	active     int
	lastRun    *time.Time
	nextRun    *time.Time
	runCount   int64
	errorCount int64
	lastError  string
	sourceFile string
}

// ScheduleInfo 定时计划快照（对外导出）
type ScheduleInfo struct {
	Config     ScheduleConfig `json:"config"`
	SourceFile string         `json:"sourceFile"`
	Armed      bool           `json:"armed"`
	IsRunning  bool           `json:"isRunning"`
	ActiveRuns int            `json:"activeRuns"`
	LastRun    *time.Time     `json:"lastRun,omitempty"`
	NextRun    *time.Time     `json:"nextRun,omitempty"`
	RunCount   int64          `json:"runCount"`
	ErrorCount int64          `json:"errorCount"`
	LastError  string         `json:"lastError,omitempty"`
}

// Statistics 统计信息
type Statistics struct {
	TotalSchedules  int   `json:"totalSchedules"`
	ActiveSchedules int   `json:"activeSchedules"`
	RunningNow      int   `json:"runningNow"`
	TotalRuns       int64 `json:"totalRuns"`
	TotalErrors     int64 `json:"totalErrors"`
}

// Scheduler 定时调度器（对外导出）
type Scheduler struct {
	mu        sync.RWMutex
	dir       string
	autoStart bool
	cron      *cron.Cron
	parser    cron.Parser
	executor  types.Executor
	schedules map[string]*scheduledWorkflow
	repo      storage.ScheduleStateRepository
	logger    watermill.LoggerAdapter
	sleep     SleepFunc
	now       func() time.Time
	started   bool
}

// Option 调度器选项
type Option func(*Scheduler)

// WithLogger 设置日志
func WithLogger(logger watermill.LoggerAdapter) Option {
	return func(s *Scheduler) {
		s.logger = logging.OrNop(logger)
	}
}

// WithStateRepository 持久化运行状态
func WithStateRepository(repo storage.ScheduleStateRepository) Option {
	return func(s *Scheduler) {
		s.repo = repo
	}
}

// WithSleeper 替换重试等待函数
func WithSleeper(fn SleepFunc) Option {
	return func(s *Scheduler) {
		if fn != nil {
			s.sleep = fn
		}
	}
}

// WithAutoStart 初始化时是否自动装载定时器
func WithAutoStart(auto bool) Option {
	return func(s *Scheduler) {
		s.autoStart = auto
	}
}

// WithClock 替换时间源
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// New 创建定时调度器（对外导出）
// dir: 描述文件目录
// executor: 工作流执行入口
func New(dir string, executor types.Executor, opts ...Option) *Scheduler {
	s := &Scheduler{
		dir:       dir,
		autoStart: true,
		parser:    NewParser(),
		executor:  executor,
		schedules: make(map[string]*scheduledWorkflow),
		logger:    logging.Nop(),
		sleep:     defaultSleep,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.cron = cron.New(
		cron.WithParser(s.parser),
		cron.WithLogger(cronLogger{logger: s.logger}),
	)
	return s
}

// Initialize 确保目录存在、加载全部描述文件并启动定时器
// 目录无法创建或读取时返回错误；单个文件无效只记录警告
func (s *Scheduler) Initialize(ctx context.Context) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("创建定时计划目录失败: %w", err)
	}
	if err := s.load(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	if !s.started {
		s.cron.Start()
		s.started = true
	}
	s.mu.Unlock()

	if s.autoStart {
		s.armAll(ctx)
	}

	stats := s.Statistics()
	s.logger.Info("定时调度器已初始化", watermill.LogFields{
		"dir":       s.dir,
		"schedules": stats.TotalSchedules,
		"active":    stats.ActiveSchedules,
	})
	return nil
}

// load 读取目录下的描述文件，无效文件跳过
func (s *Scheduler) load(ctx context.Context) error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("读取定时计划目录失败: %w", err)
	}

	loaded := make(map[string]*scheduledWorkflow)
	for _, entry := range entries {
		if entry.IsDir() || !IsDescriptorFile(entry.Name()) {
			continue
		}
		path := filepath.Join(s.dir, entry.Name())
		cfg, err := LoadDescriptor(path)
		if err == nil {
			var sched cron.Schedule
			sched, err = cfg.Validate(s.parser)
			if err == nil {
				if prev, dup := loaded[cfg.ID]; dup {
					s.logger.Info("定时计划ID重复，已跳过", watermill.LogFields{
						"schedule_id": cfg.ID, "file": path, "first_file": prev.sourceFile,
					})
					continue
				}
				loaded[cfg.ID] = &scheduledWorkflow{config: cfg, schedule: sched, sourceFile: path}
				continue
			}
		}
		s.logger.Error("定时计划描述文件无效，已跳过", err, watermill.LogFields{"file": path})
	}

	s.restoreState(ctx, loaded)

	s.mu.Lock()
	s.schedules = loaded
	s.mu.Unlock()
	return nil
}

// restoreState 合并已持久化的运行计数
func (s *Scheduler) restoreState(ctx context.Context, loaded map[string]*scheduledWorkflow) {
	if s.repo == nil {
		return
	}
	states, err := s.repo.ListScheduleStates(ctx)
	if err != nil {
		s.logger.Error("加载定时计划运行状态失败", err, nil)
		return
	}
	for _, st := range states {
		sw, ok := loaded[st.ScheduleID]
		if !ok {
			continue
		}
		sw.runCount = st.RunCount
		sw.errorCount = st.ErrorCount
		sw.lastError = st.LastError
		sw.lastRun = st.LastRun
	}
}

func (s *Scheduler) armAll(ctx context.Context) {
	s.mu.RLock()
	ids := make([]string, 0, len(s.schedules))
	for id, sw := range s.schedules {
		if sw.config.Enabled() {
			ids = append(ids, id)
		}
	}
	s.mu.RUnlock()

	sort.Strings(ids)
	for _, id := range ids {
		if err := s.StartSchedule(id); err != nil {
			s.logger.Error("装载定时器失败", err, watermill.LogFields{"schedule_id": id})
		}
	}
}

// StartSchedule 为指定计划装载定时器，已装载时不做任何事
func (s *Scheduler) StartSchedule(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sw, ok := s.schedules[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrScheduleNotFound, id)
	}
	if sw.armed {
		return nil
	}

	entryID, err := s.cron.AddFunc(sw.config.CronSpecString(), func() {
		s.fire(id, triggerCron)
	})
	if err != nil {
		return fmt.Errorf("添加Cron任务失败: %w", err)
	}
	sw.entryID = entryID
	sw.armed = true
	next := sw.schedule.Next(s.now())
	sw.nextRun = &next
	s.persistLocked(context.Background(), id, sw)

	s.logger.Info("定时计划已启动", watermill.LogFields{
		"schedule_id": id,
		"cron":        sw.config.CronSpecString(),
		"next_run":    next.Format(time.RFC3339),
	})
	return nil
}

// StopSchedule 卸载指定计划的定时器
func (s *Scheduler) StopSchedule(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sw, ok := s.schedules[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrScheduleNotFound, id)
	}
	if sw.armed {
		s.cron.Remove(sw.entryID)
		sw.armed = false
		sw.nextRun = nil
		s.logger.Info("定时计划已停止", watermill.LogFields{"schedule_id": id})
	}
	return nil
}

// ReloadSchedules 停止并清空全部计划，然后重新加载并装载
func (s *Scheduler) ReloadSchedules(ctx context.Context) error {
	s.mu.Lock()
	for _, sw := range s.schedules {
		if sw.armed {
			s.cron.Remove(sw.entryID)
			sw.armed = false
		}
	}
	s.schedules = make(map[string]*scheduledWorkflow)
	s.mu.Unlock()

	if err := s.load(ctx); err != nil {
		return err
	}
	s.armAll(ctx)
	s.logger.Info("定时计划已重新加载", watermill.LogFields{"schedules": len(s.ListSchedules())})
	return nil
}

// ExecuteScheduledWorkflow 执行一次定时计划
// 运行次数达到 maxConcurrent 时跳过并返回 ErrScheduleBusy；
// 工作流执行失败按重试策略处理，最终失败只计入 errorCount，不向上返回
func (s *Scheduler) ExecuteScheduledWorkflow(ctx context.Context, id string) error {
	s.mu.Lock()
	sw, ok := s.schedules[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrScheduleNotFound, id)
	}
	if sw.active >= sw.config.Concurrency() {
		active := sw.active
		s.mu.Unlock()
		s.logger.Info("定时计划仍在运行，跳过本次触发", watermill.LogFields{"schedule_id": id, "active": active})
		return fmt.Errorf("%w: %s", ErrScheduleBusy, id)
	}
	sw.active++
	sw.runCount++
	now := s.now()
	sw.lastRun = &now
	cfg := sw.config
	data := s.invocationData(sw, now)
	s.mu.Unlock()

	attempts := cfg.Attempts()
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = s.attempt(ctx, cfg, data, attempt)
		s.refreshNextRun(id)
		if lastErr == nil {
			break
		}
		s.logger.Error("定时计划执行失败", lastErr, watermill.LogFields{
			"schedule_id": id,
			"attempt":     attempt,
			"attempts":    attempts,
		})
		if attempt < attempts {
			if err := s.sleep(ctx, cfg.RetryDelay()); err != nil {
				lastErr = fmt.Errorf("等待重试被中断: %w", err)
				break
			}
		}
	}

	s.mu.Lock()
	sw.active--
	if lastErr != nil {
		sw.errorCount++
		sw.lastError = lastErr.Error()
	} else {
		sw.lastError = ""
	}
	s.persistLocked(ctx, id, sw)
	s.mu.Unlock()

	if lastErr == nil {
		s.logger.Info("定时计划执行成功", watermill.LogFields{"schedule_id": id, "workflow_id": cfg.Workflow.ID})
	}
	return nil
}

func (s *Scheduler) attempt(ctx context.Context, cfg *ScheduleConfig, data map[string]interface{}, attempt int) error {
	if s.executor == nil {
		return fmt.Errorf("未配置工作流执行入口")
	}
	attemptCtx := ctx
	if timeout := cfg.AttemptTimeout(); timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	payload := make(map[string]interface{}, len(data)+1)
	for k, v := range data {
		payload[k] = v
	}
	payload["attempt"] = attempt

	_, err := s.executor.StartWorkflow(attemptCtx, cfg.Workflow.ID, cfg.Workflow.Version, payload)
	return err
}

// invocationData 配置属性 + 计划元信息 + 运行次数
func (s *Scheduler) invocationData(sw *scheduledWorkflow, triggeredAt time.Time) map[string]interface{} {
	data := make(map[string]interface{}, len(sw.config.Properties)+3)
	for k, v := range sw.config.Properties {
		data[k] = v
	}
	data["schedule"] = map[string]interface{}{
		"id":          sw.config.ID,
		"name":        sw.config.Name,
		"namespace":   sw.config.Workflow.Namespace,
		"triggeredAt": triggeredAt.Format(time.RFC3339),
	}
	data["runCount"] = sw.runCount
	return data
}

func (s *Scheduler) refreshNextRun(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sw, ok := s.schedules[id]; ok && sw.schedule != nil {
		next := sw.schedule.Next(s.now())
		sw.nextRun = &next
	}
}

// TriggerNow 立即异步执行一次，不影响定时器
func (s *Scheduler) TriggerNow(id string) error {
	s.mu.RLock()
	sw, ok := s.schedules[id]
	busy := ok && sw.active >= sw.config.Concurrency()
	s.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrScheduleNotFound, id)
	}
	if busy {
		return fmt.Errorf("%w: %s", ErrScheduleBusy, id)
	}
	go s.fire(id, triggerManual)
	return nil
}

// 触发来源，记录在日志字段 trigger 中
const (
	triggerCron   = "cron"
	triggerManual = "manual"
)

// fire 执行一次计划；计划已删除或仍在运行时本次触发不执行，记录原因
func (s *Scheduler) fire(id, trigger string) {
	if err := s.ExecuteScheduledWorkflow(context.Background(), id); err != nil {
		s.logger.Info("定时触发未执行", watermill.LogFields{
			"schedule_id": id,
			"trigger":     trigger,
			"reason":      err.Error(),
		})
	}
}

// GetSchedule 获取计划快照
func (s *Scheduler) GetSchedule(id string) (*ScheduleInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sw, ok := s.schedules[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrScheduleNotFound, id)
	}
	info := snapshot(sw)
	return &info, nil
}

// ListSchedules 按ID排序返回全部计划
func (s *Scheduler) ListSchedules() []ScheduleInfo {
	s.mu.RLock()
	out := make([]ScheduleInfo, 0, len(s.schedules))
	for _, sw := range s.schedules {
		out = append(out, snapshot(sw))
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Config.ID < out[j].Config.ID })
	return out
}

func snapshot(sw *scheduledWorkflow) ScheduleInfo {
	info := ScheduleInfo{
		Config:     *sw.config,
		SourceFile: sw.sourceFile,
		Armed:      sw.armed,
		IsRunning:  sw.active > 0,
		ActiveRuns: sw.active,
		RunCount:   sw.runCount,
		ErrorCount: sw.errorCount,
		LastError:  sw.lastError,
	}
	if sw.lastRun != nil {
		t := *sw.lastRun
		info.LastRun = &t
	}
	if sw.nextRun != nil {
		t := *sw.nextRun
		info.NextRun = &t
	}
	return info
}

// Statistics 计划总数、已装载数、总运行次数与总错误数
func (s *Scheduler) Statistics() Statistics {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := Statistics{TotalSchedules: len(s.schedules)}
	for _, sw := range s.schedules {
		if sw.armed {
			stats.ActiveSchedules++
		}
		if sw.active > 0 {
			stats.RunningNow++
		}
		stats.TotalRuns += sw.runCount
		stats.TotalErrors += sw.errorCount
	}
	return stats
}

// Stop 停止全部定时器并等待正在执行的Cron回调返回
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.mu.Unlock()

	<-s.cron.Stop().Done()
	s.logger.Info("定时调度器已停止", nil)
}

func (s *Scheduler) persistLocked(ctx context.Context, id string, sw *scheduledWorkflow) {
	if s.repo == nil {
		return
	}
	state := &storage.ScheduleState{
		ScheduleID: id,
		LastRun:    sw.lastRun,
		NextRun:    sw.nextRun,
		RunCount:   sw.runCount,
		ErrorCount: sw.errorCount,
		LastError:  sw.lastError,
		UpdatedAt:  s.now(),
	}
	if err := s.repo.SaveScheduleState(ctx, state); err != nil {
		s.logger.Error("保存定时计划运行状态失败", err, watermill.LogFields{"schedule_id": id})
	}
}
