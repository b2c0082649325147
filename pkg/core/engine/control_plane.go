// Package engine 组装编排控制面：生命周期、定时调度、安全、工作流配置、消息总线与插件
// ControlPlane 同时实现 types.Executor，定时调度与外部启动请求都经由它创建实例并调用宿主
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill"

	internalstorage "github.com/LENAX/flow-control/internal/storage"
	"github.com/LENAX/flow-control/pkg/config"
	"github.com/LENAX/flow-control/pkg/core/bus"
	"github.com/LENAX/flow-control/pkg/core/lifecycle"
	"github.com/LENAX/flow-control/pkg/core/policy"
	"github.com/LENAX/flow-control/pkg/core/scheduler"
	"github.com/LENAX/flow-control/pkg/core/security"
	"github.com/LENAX/flow-control/pkg/core/types"
	"github.com/LENAX/flow-control/pkg/logging"
	"github.com/LENAX/flow-control/pkg/plugin"
	"github.com/LENAX/flow-control/pkg/storage"
)

// 事件来源标识
const (
	sourceControlPlane = "control-plane"
	sourceLifecycle    = "lifecycle"
	sourceSecurity     = "security"
	sourcePolicy       = "policy"
	// SourceExecutor 经由 Executor 接口（如定时调度）发起的执行
	SourceExecutor = "executor"
)

// ControlPlane 编排控制面（对外导出）
type ControlPlane struct {
	cfg    *config.ControlPlaneConfig
	logger watermill.LoggerAdapter
	host   types.Executor

	repos     *storage.Repositories
	ownsRepos bool

	lifecycle *lifecycle.Manager
	scheduler *scheduler.Scheduler
	security  *security.Manager
	policies  *policy.Manager
	bus       *bus.Bus
	plugins   *plugin.Manager

	extraPlugins []plugin.Plugin
	emailSender  plugin.SendFunc
	unsubscribe  []func()

	mu       sync.Mutex
	running  bool
	stopped  bool
	runCtx   context.Context
	cancel   context.CancelFunc
	inflight sync.WaitGroup
}

// Option 控制面选项
type Option func(*ControlPlane)

// WithLogger 设置日志
func WithLogger(logger watermill.LoggerAdapter) Option {
	return func(cp *ControlPlane) {
		cp.logger = logging.OrNop(logger)
	}
}

// WithRepositories 使用外部创建的存储，Stop 时不会关闭它
func WithRepositories(repos *storage.Repositories) Option {
	return func(cp *ControlPlane) {
		cp.repos = repos
	}
}

// WithPlugin 注册额外的插件，插件需已完成初始化，绑定通过 Plugins().Bind 完成
func WithPlugin(p plugin.Plugin) Option {
	return func(cp *ControlPlane) {
		if p != nil {
			cp.extraPlugins = append(cp.extraPlugins, p)
		}
	}
}

// WithEmailSender 替换邮件插件的发送实现
func WithEmailSender(fn plugin.SendFunc) Option {
	return func(cp *ControlPlane) {
		cp.emailSender = fn
	}
}

// New 创建控制面
// cfg: 框架配置，为空时使用默认配置
// host: 宿主应用提供的工作流执行入口
func New(cfg *config.ControlPlaneConfig, host types.Executor, opts ...Option) (*ControlPlane, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	cp := &ControlPlane{
		cfg:    cfg,
		host:   host,
		logger: logging.Nop(),
	}
	for _, opt := range opts {
		opt(cp)
	}

	if cp.repos == nil {
		repos, err := internalstorage.NewRepositories(cfg.GetDatabaseType(), cfg.GetDatabaseDSN())
		if err != nil {
			return nil, fmt.Errorf("创建存储失败: %w", err)
		}
		cp.repos = repos
		cp.ownsRepos = true
	}

	secCfg, err := security.ConfigFromControlPlane(cfg)
	if err != nil {
		cp.closeRepos()
		return nil, err
	}

	fc := &cfg.FlowControl
	cp.lifecycle = lifecycle.NewManager(
		lifecycle.ConfigFromSection(fc.Lifecycle),
		lifecycle.WithLogger(cp.logger),
		lifecycle.WithRepository(cp.repos.Instances),
	)
	cp.security = security.NewManager(
		secCfg,
		security.WithLogger(cp.logger),
		security.WithRepository(cp.repos.Security),
	)
	cp.policies = policy.NewManager(policy.ConfigFromSection(fc.Policy), policy.WithLogger(cp.logger))
	cp.scheduler = scheduler.New(
		fc.Scheduler.Dir,
		cp,
		scheduler.WithLogger(cp.logger),
		scheduler.WithStateRepository(cp.repos.Schedules),
		scheduler.WithAutoStart(cfg.SchedulerAutoStart()),
	)

	cp.bus, err = bus.New(cp.logger)
	if err != nil {
		cp.closeRepos()
		return nil, err
	}

	cp.plugins = plugin.NewManager(cp.logger)
	if err := cp.setupPlugins(); err != nil {
		_ = cp.bus.Close()
		cp.closeRepos()
		return nil, err
	}

	cp.wireEvents()
	return cp, nil
}

// wireEvents 各管理器的事件转发到总线，插件从总线消费
func (cp *ControlPlane) wireEvents() {
	cp.unsubscribe = append(cp.unsubscribe,
		cp.lifecycle.Subscribe(cp.onLifecycleEvent),
		cp.policies.Subscribe(cp.onPolicyChange),
	)
	cp.security.OnSecurityEvent(cp.onSecurityEvent)

	cp.bus.Handle("workflow-start", types.EventWorkflowStart, cp.handleStartRequest)
	cp.bus.Handle("plugin-lifecycle", types.EventWorkflowLifecycle, func(ctx context.Context, ev *types.Event) error {
		var le lifecycle.Event
		if err := ev.Decode(&le); err != nil {
			return err
		}
		cp.plugins.HandleLifecycle(le)
		return nil
	})
	cp.bus.Handle("plugin-security", types.EventSecurity, func(ctx context.Context, ev *types.Event) error {
		var se security.SecurityEvent
		if err := ev.Decode(&se); err != nil {
			return err
		}
		cp.plugins.HandleSecurity(se)
		return nil
	})
}

func (cp *ControlPlane) onLifecycleEvent(ev lifecycle.Event) {
	cp.publish(types.EventWorkflowLifecycle, sourceLifecycle, ev)
	if ev.Type == lifecycle.EventReady {
		cp.publish(types.EventWorkflowReady, sourceLifecycle, types.ReadyNotice{
			InstanceID:  ev.InstanceID,
			WorkflowID:  ev.WorkflowID,
			Version:     ev.Version,
			TriggeredBy: ev.TriggeredBy,
		})
	}
}

func (cp *ControlPlane) onSecurityEvent(ev security.SecurityEvent) {
	cp.publish(types.EventSecurity, sourceSecurity, ev)
}

func (cp *ControlPlane) onPolicyChange(ev policy.ChangeEvent) {
	cp.syncPermission(context.Background(), ev.Previous, ev.Current)
	cp.publish(types.EventConfigChanged, sourcePolicy, ev)
}

func (cp *ControlPlane) publish(eventType types.EventType, source string, payload interface{}) {
	if _, err := cp.bus.PublishPayload(eventType, source, payload); err != nil {
		cp.logger.Debug("事件发布失败", watermill.LogFields{"type": string(eventType), "error": err.Error()})
	}
}

// Start 加载持久化数据与配置，启动总线、后台清理任务与定时调度
// Stop 之后不能再次启动
func (cp *ControlPlane) Start(ctx context.Context) error {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	if cp.running {
		return nil
	}
	if cp.stopped {
		return fmt.Errorf("控制面已停止，不能再次启动")
	}

	if err := cp.security.Load(ctx); err != nil {
		return fmt.Errorf("加载安全数据失败: %w", err)
	}
	restored, err := cp.lifecycle.Restore(ctx)
	if err != nil {
		return fmt.Errorf("恢复工作流实例失败: %w", err)
	}
	if err := cp.policies.Load(ctx); err != nil {
		return fmt.Errorf("加载工作流配置失败: %w", err)
	}
	for _, wc := range cp.policies.List() {
		cp.syncPermission(ctx, nil, wc)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	if err := cp.bus.Run(runCtx); err != nil {
		cancel()
		return fmt.Errorf("启动消息总线失败: %w", err)
	}

	cp.lifecycle.Start()
	cp.security.Start()
	if err := cp.scheduler.Initialize(ctx); err != nil {
		cp.lifecycle.Stop()
		cp.security.Stop()
		cancel()
		return fmt.Errorf("初始化定时调度失败: %w", err)
	}

	cp.runCtx = runCtx
	cp.cancel = cancel
	cp.running = true
	cp.logger.Info("控制面已启动", watermill.LogFields{
		"instance":          cp.cfg.FlowControl.General.InstanceName,
		"restored":          restored,
		"configs":           len(cp.policies.List()),
		"plugins":           cp.plugins.ListPlugins(),
		"database":          cp.cfg.GetDatabaseType(),
		"permission_policy": string(cp.security.Policy()),
	})
	return nil
}

// Stop 停止定时调度，取消进行中的执行并等待返回，再关闭后台任务、总线与存储
func (cp *ControlPlane) Stop() error {
	cp.mu.Lock()
	if cp.stopped {
		cp.mu.Unlock()
		return nil
	}
	wasRunning := cp.running
	cp.running = false
	cp.stopped = true
	cancel := cp.cancel
	cp.mu.Unlock()

	if wasRunning {
		cp.scheduler.Stop()
		cancel()
		cp.inflight.Wait()
		cp.lifecycle.Stop()
		cp.security.Stop()
	}
	cp.policies.Stop()
	for _, unsubscribe := range cp.unsubscribe {
		unsubscribe()
	}

	var errs []error
	if err := cp.bus.Close(); err != nil {
		errs = append(errs, fmt.Errorf("关闭消息总线失败: %w", err))
	}
	if err := cp.closeRepos(); err != nil {
		errs = append(errs, fmt.Errorf("关闭存储失败: %w", err))
	}
	cp.logger.Info("控制面已停止", nil)
	return errors.Join(errs...)
}

func (cp *ControlPlane) closeRepos() error {
	if !cp.ownsRepos {
		return nil
	}
	return cp.repos.Close()
}

// IsRunning 是否已启动
func (cp *ControlPlane) IsRunning() bool {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	return cp.running
}

// Ping 检查存储是否可用
func (cp *ControlPlane) Ping(ctx context.Context) error {
	return cp.repos.Ping(ctx)
}

// Config 框架配置
func (cp *ControlPlane) Config() *config.ControlPlaneConfig { return cp.cfg }

// Lifecycle 生命周期管理器
func (cp *ControlPlane) Lifecycle() *lifecycle.Manager { return cp.lifecycle }

// Scheduler 定时调度器
func (cp *ControlPlane) Scheduler() *scheduler.Scheduler { return cp.scheduler }

// Security 安全管理器
func (cp *ControlPlane) Security() *security.Manager { return cp.security }

// Policies 工作流配置管理器
func (cp *ControlPlane) Policies() *policy.Manager { return cp.policies }

// Bus 消息总线
func (cp *ControlPlane) Bus() *bus.Bus { return cp.bus }

// Plugins 插件管理器
func (cp *ControlPlane) Plugins() *plugin.Manager { return cp.plugins }

// Statistics 控制面汇总统计
type Statistics struct {
	Lifecycle lifecycle.Statistics `json:"lifecycle"`
	Scheduler scheduler.Statistics `json:"scheduler"`
	Security  security.Statistics  `json:"security"`
	Configs   int                  `json:"configs"`
	Plugins   []string             `json:"plugins"`
}

// Statistics 汇总各管理器的统计信息
func (cp *ControlPlane) Statistics() Statistics {
	return Statistics{
		Lifecycle: cp.lifecycle.Statistics(),
		Scheduler: cp.scheduler.Statistics(),
		Security:  cp.security.Statistics(),
		Configs:   len(cp.policies.List()),
		Plugins:   cp.plugins.ListPlugins(),
	}
}
