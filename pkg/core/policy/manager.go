package policy

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/fsnotify/fsnotify"

	"github.com/LENAX/flow-control/pkg/config"
	"github.com/LENAX/flow-control/pkg/logging"
)

// Config 配置管理器选项
type Config struct {
	Dir            string
	HotReload      bool
	BackupOnUpdate bool
}

// ConfigFromSection 由框架配置转换
func ConfigFromSection(s config.PolicySection) Config {
	return Config{Dir: s.Dir, HotReload: s.HotReload, BackupOnUpdate: s.BackupOnUpdate}
}

// Manager 工作流执行策略管理器（对外导出）
type Manager struct {
	cfg Config

	mu      sync.RWMutex
	configs map[string]*WorkflowConfig
	files   map[string]string // key -> 描述文件路径

	listenerMu sync.RWMutex
	listeners  map[int]Listener
	nextID     int

	// fileMu 串行化文件写入与热加载读取
	fileMu sync.Mutex

	watchMu sync.Mutex
	watcher *fsnotify.Watcher
	stopCh  chan struct{}
	wg      sync.WaitGroup

	logger watermill.LoggerAdapter
	now    func() time.Time
}

// Option 管理器选项
type Option func(*Manager)

// WithLogger 设置日志
func WithLogger(logger watermill.LoggerAdapter) Option {
	return func(m *Manager) {
		m.logger = logging.OrNop(logger)
	}
}

// WithClock 替换时间源（影响备份文件名与事件时间）
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewManager 创建配置管理器
func NewManager(cfg Config, opts ...Option) *Manager {
	if cfg.Dir == "" {
		cfg.Dir = config.Default().FlowControl.Policy.Dir
	}
	m := &Manager{
		cfg:       cfg,
		configs:   make(map[string]*WorkflowConfig),
		files:     make(map[string]string),
		listeners: make(map[int]Listener),
		logger:    logging.Nop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Dir 描述文件目录
func (m *Manager) Dir() string {
	return m.cfg.Dir
}

// Load 确保目录存在并加载全部描述文件
// 单个文件无效时记录警告并跳过；目录无法创建或读取时返回错误
func (m *Manager) Load(ctx context.Context) error {
	if err := os.MkdirAll(m.cfg.Dir, 0o755); err != nil {
		return fmt.Errorf("创建配置目录失败: %w", err)
	}
	entries, err := os.ReadDir(m.cfg.Dir)
	if err != nil {
		return fmt.Errorf("读取配置目录失败: %w", err)
	}

	loaded := make(map[string]*WorkflowConfig)
	files := make(map[string]string)
	for _, entry := range entries {
		if entry.IsDir() || !isDescriptorFile(entry.Name()) {
			continue
		}
		path := filepath.Join(m.cfg.Dir, entry.Name())
		cfg, err := readDescriptor(path)
		if err != nil {
			m.logger.Error("跳过无效的工作流配置文件", err, watermill.LogFields{"file": path})
			continue
		}
		if prev, dup := files[cfg.Key()]; dup {
			m.logger.Info("重复的工作流配置，保留先加载的文件", watermill.LogFields{"key": cfg.Key(), "kept": prev, "skipped": path})
			continue
		}
		loaded[cfg.Key()] = cfg
		files[cfg.Key()] = path
	}

	m.mu.Lock()
	m.configs = loaded
	m.files = files
	m.mu.Unlock()

	m.logger.Info("工作流配置已加载", watermill.LogFields{"dir": m.cfg.Dir, "count": len(loaded)})

	if m.cfg.HotReload {
		if err := m.startWatcher(); err != nil {
			return err
		}
	}
	return nil
}

// Get 获取配置副本
func (m *Manager) Get(id, version string) (*WorkflowConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cfg, ok := m.configs[configKey(id, version)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, configKey(id, version))
	}
	return cfg.Clone(), nil
}

// List 按主键排序列出配置
func (m *Manager) List() []*WorkflowConfig {
	m.mu.RLock()
	out := make([]*WorkflowConfig, 0, len(m.configs))
	for _, cfg := range m.configs {
		out = append(out, cfg.Clone())
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

// Add 新增配置：先校验，再写文件，最后更新内存表
func (m *Manager) Add(ctx context.Context, cfg *WorkflowConfig) error {
	if err := Validate(cfg); err != nil {
		return err
	}
	next := cfg.Clone()
	key := next.Key()

	m.fileMu.Lock()
	m.mu.RLock()
	_, exists := m.configs[key]
	m.mu.RUnlock()
	if exists {
		m.fileMu.Unlock()
		return fmt.Errorf("%w: %s", ErrConfigExists, key)
	}

	path := filepath.Join(m.cfg.Dir, next.FileName())
	if err := writeDescriptor(path, next); err != nil {
		m.fileMu.Unlock()
		return err
	}

	m.mu.Lock()
	m.configs[key] = next
	m.files[key] = path
	m.mu.Unlock()
	m.fileMu.Unlock()

	m.emit(ChangeEvent{Type: ChangeAdded, Key: key, Diff: computeDiff(nil, next), Current: next.Clone()})
	m.logger.Info("新增工作流配置", watermill.LogFields{"key": key})
	return nil
}

// Update 更新配置；校验失败时原配置保持不变
func (m *Manager) Update(ctx context.Context, cfg *WorkflowConfig) error {
	if err := Validate(cfg); err != nil {
		return err
	}
	next := cfg.Clone()
	key := next.Key()

	m.fileMu.Lock()
	m.mu.RLock()
	prev, ok := m.configs[key]
	path := m.files[key]
	m.mu.RUnlock()
	if !ok {
		m.fileMu.Unlock()
		return fmt.Errorf("%w: %s", ErrConfigNotFound, key)
	}
	if path == "" {
		path = filepath.Join(m.cfg.Dir, next.FileName())
	}

	if m.cfg.BackupOnUpdate {
		if _, err := m.backup(prev); err != nil {
			m.fileMu.Unlock()
			return err
		}
	}
	if err := writeDescriptor(path, next); err != nil {
		m.fileMu.Unlock()
		return err
	}

	m.mu.Lock()
	m.configs[key] = next
	m.files[key] = path
	m.mu.Unlock()
	m.fileMu.Unlock()

	diff := computeDiff(prev, next)
	m.emit(ChangeEvent{Type: ChangeUpdated, Key: key, Diff: diff, Previous: prev.Clone(), Current: next.Clone()})
	m.logger.Info("更新工作流配置", watermill.LogFields{"key": key, "modified": diff.Modified})
	return nil
}

// Remove 删除配置及其描述文件
func (m *Manager) Remove(ctx context.Context, id, version string) error {
	key := configKey(id, version)

	m.fileMu.Lock()
	m.mu.Lock()
	prev, ok := m.configs[key]
	path := m.files[key]
	if ok {
		delete(m.configs, key)
		delete(m.files, key)
	}
	m.mu.Unlock()
	if !ok {
		m.fileMu.Unlock()
		return fmt.Errorf("%w: %s", ErrConfigNotFound, key)
	}

	var err error
	if path != "" {
		err = os.Remove(path)
	}
	m.fileMu.Unlock()
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("删除配置文件失败: %w", err)
	}

	m.emit(ChangeEvent{Type: ChangeRemoved, Key: key, Diff: computeDiff(prev, nil), Previous: prev.Clone()})
	m.logger.Info("删除工作流配置", watermill.LogFields{"key": key})
	return nil
}

// Subscribe 注册变更监听器，返回取消函数
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

func (m *Manager) emit(ev ChangeEvent) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = m.now()
	}
	m.listenerMu.RLock()
	ids := make([]int, 0, len(m.listeners))
	for id := range m.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	listeners := make([]Listener, 0, len(ids))
	for _, id := range ids {
		listeners = append(listeners, m.listeners[id])
	}
	m.listenerMu.RUnlock()

	for _, l := range listeners {
		l(ev)
	}
}

// Stop 停止热加载
func (m *Manager) Stop() {
	m.watchMu.Lock()
	w := m.watcher
	stopCh := m.stopCh
	m.watcher = nil
	m.stopCh = nil
	m.watchMu.Unlock()

	if w == nil {
		return
	}
	close(stopCh)
	_ = w.Close()
	m.wg.Wait()
}
