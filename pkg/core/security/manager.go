package security

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"

	"github.com/LENAX/flow-control/pkg/config"
	"github.com/LENAX/flow-control/pkg/core/cache"
	"github.com/LENAX/flow-control/pkg/logging"
	"github.com/LENAX/flow-control/pkg/storage"
)

// Config 安全管理配置
type Config struct {
	Policy                 PermissionPolicy
	MaxRequestSize         int
	AuditLogLimit          int
	AuditLogKeep           int
	EventLimit             int
	EventKeep              int
	AuditSweepInterval     time.Duration
	EventSweepInterval     time.Duration
	AuditRetention         time.Duration
	EventRetention         time.Duration
	RateLimitSweepInterval time.Duration
	SeedSampleData         bool
	AdminPassword          string
}

// ConfigFromControlPlane 由框架配置转换
func ConfigFromControlPlane(cfg *config.ControlPlaneConfig) (Config, error) {
	s := cfg.FlowControl.Security
	policy, err := ParsePermissionPolicy(s.DefaultPolicy)
	if err != nil {
		return Config{}, err
	}
	return Config{
		Policy:                 policy,
		MaxRequestSize:         s.MaxRequestSize,
		AuditLogLimit:          s.AuditLogLimit,
		AuditLogKeep:           s.AuditLogKeep,
		EventLimit:             s.EventLimit,
		EventKeep:              s.EventKeep,
		AuditSweepInterval:     s.AuditSweepInterval,
		EventSweepInterval:     s.EventSweepInterval,
		AuditRetention:         s.AuditRetention,
		EventRetention:         s.EventRetention,
		RateLimitSweepInterval: s.RateLimitSweepInterval,
		SeedSampleData:         cfg.SeedSampleData(),
		AdminPassword:          s.AdminPassword,
	}, nil
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	cfg, _ := ConfigFromControlPlane(config.Default())
	return cfg
}

// AuditListener 审计记录监听器
type AuditListener func(AuditLogEntry)

// EventListener 安全事件监听器
type EventListener func(SecurityEvent)

// Manager 安全管理器（对外导出）
type Manager struct {
	cfg Config

	mu          sync.RWMutex
	users       map[string]*User
	permissions map[string]*WorkflowPermission

	logMu  sync.RWMutex
	audit  []AuditLogEntry
	events []SecurityEvent

	listenerMu     sync.RWMutex
	auditListeners []AuditListener
	eventListeners []EventListener

	rateLimits *cache.MemoryCache
	scanner    *InputScanner
	repo       storage.SecurityRepository
	logger     watermill.LoggerAdapter
	now        func() time.Time

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

// WithRepository 持久化用户与工作流权限
func WithRepository(repo storage.SecurityRepository) Option {
	return func(m *Manager) {
		m.repo = repo
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

// NewManager 创建安全管理器
func NewManager(cfg Config, opts ...Option) *Manager {
	def := DefaultConfig()
	if cfg.Policy == "" {
		cfg.Policy = DefaultAllow
	}
	if cfg.MaxRequestSize <= 0 {
		cfg.MaxRequestSize = def.MaxRequestSize
	}
	if cfg.AuditLogLimit <= 0 {
		cfg.AuditLogLimit = def.AuditLogLimit
	}
	if cfg.AuditLogKeep <= 0 || cfg.AuditLogKeep > cfg.AuditLogLimit {
		cfg.AuditLogKeep = cfg.AuditLogLimit / 2
	}
	if cfg.EventLimit <= 0 {
		cfg.EventLimit = def.EventLimit
	}
	if cfg.EventKeep <= 0 || cfg.EventKeep > cfg.EventLimit {
		cfg.EventKeep = cfg.EventLimit / 2
	}
	if cfg.AuditSweepInterval <= 0 {
		cfg.AuditSweepInterval = def.AuditSweepInterval
	}
	if cfg.EventSweepInterval <= 0 {
		cfg.EventSweepInterval = def.EventSweepInterval
	}
	if cfg.AuditRetention <= 0 {
		cfg.AuditRetention = def.AuditRetention
	}
	if cfg.EventRetention <= 0 {
		cfg.EventRetention = def.EventRetention
	}
	if cfg.RateLimitSweepInterval <= 0 {
		cfg.RateLimitSweepInterval = def.RateLimitSweepInterval
	}

	m := &Manager{
		cfg:         cfg,
		users:       make(map[string]*User),
		permissions: make(map[string]*WorkflowPermission),
		scanner:     NewInputScanner(),
		logger:      logging.Nop(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.rateLimits = cache.NewMemoryCache(cfg.RateLimitSweepInterval, cache.WithClock(m.now))
	return m
}

// Config 返回当前配置
func (m *Manager) Config() Config {
	return m.cfg
}

// Policy 默认权限策略
func (m *Manager) Policy() PermissionPolicy {
	return m.cfg.Policy
}

// OnAudit 注册审计监听器
func (m *Manager) OnAudit(l AuditListener) {
	m.listenerMu.Lock()
	m.auditListeners = append(m.auditListeners, l)
	m.listenerMu.Unlock()
}

// OnSecurityEvent 注册安全事件监听器
func (m *Manager) OnSecurityEvent(l EventListener) {
	m.listenerMu.Lock()
	m.eventListeners = append(m.eventListeners, l)
	m.listenerMu.Unlock()
}

// Load 从存储加载用户与权限；存储为空且开启示例数据时写入示例用户
func (m *Manager) Load(ctx context.Context) error {
	if m.repo != nil {
		if err := m.loadFromRepository(ctx); err != nil {
			return err
		}
	}

	m.mu.RLock()
	empty := len(m.users) == 0
	m.mu.RUnlock()

	if empty && m.cfg.SeedSampleData {
		if err := m.seedSampleData(ctx); err != nil {
			return err
		}
	}

	m.mu.RLock()
	users, perms := len(m.users), len(m.permissions)
	m.mu.RUnlock()
	m.logger.Info("安全管理器已加载", watermill.LogFields{
		"users":       users,
		"permissions": perms,
		"policy":      string(m.cfg.Policy),
	})
	return nil
}

func (m *Manager) loadFromRepository(ctx context.Context) error {
	userRecords, err := m.repo.ListSecurityRecords(ctx, storage.SecurityKindUser)
	if err != nil {
		return fmt.Errorf("加载用户失败: %w", err)
	}
	permRecords, err := m.repo.ListSecurityRecords(ctx, storage.SecurityKindPermission)
	if err != nil {
		return fmt.Errorf("加载工作流权限失败: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range userRecords {
		var u User
		if err := json.Unmarshal(rec.Payload, &u); err != nil {
			m.logger.Error("解析用户记录失败，已跳过", err, watermill.LogFields{"key": rec.Key})
			continue
		}
		m.users[u.ID] = &u
	}
	for _, rec := range permRecords {
		var p WorkflowPermission
		if err := json.Unmarshal(rec.Payload, &p); err != nil {
			m.logger.Error("解析权限记录失败，已跳过", err, watermill.LogFields{"key": rec.Key})
			continue
		}
		m.permissions[p.Key()] = &p
	}
	return nil
}

// seedSampleData 示例用户，作为接入真实身份系统之前的占位
func (m *Manager) seedSampleData(ctx context.Context) error {
	admin := User{ID: "admin", Username: "admin", Roles: []string{"admin"}, Permissions: []string{"*"}, Active: true}
	if m.cfg.AdminPassword != "" {
		hash, err := HashPassword(m.cfg.AdminPassword)
		if err != nil {
			return err
		}
		admin.PasswordHash = hash
	}
	samples := []User{
		admin,
		{ID: "user1", Username: "user1", Roles: []string{"user"}, Permissions: []string{"execute", "read"}, Active: true},
		{ID: "user2", Username: "user2", Roles: []string{"user"}, Permissions: []string{"read"}, Active: false},
	}
	for i := range samples {
		if err := m.AddUser(ctx, &samples[i]); err != nil {
			return fmt.Errorf("写入示例用户失败: %w", err)
		}
	}
	return nil
}

// AddUser 新增或覆盖用户
func (m *Manager) AddUser(ctx context.Context, u *User) error {
	if u == nil || strings.TrimSpace(u.ID) == "" {
		return fmt.Errorf("用户ID不能为空")
	}
	cp := *u
	cp.Roles = append([]string(nil), u.Roles...)
	cp.Permissions = append([]string(nil), u.Permissions...)
	if cp.Username == "" {
		cp.Username = cp.ID
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = m.now()
	}

	m.mu.Lock()
	m.users[cp.ID] = &cp
	m.mu.Unlock()

	return m.persist(ctx, storage.SecurityKindUser, cp.ID, &cp)
}

// RemoveUser 删除用户
func (m *Manager) RemoveUser(ctx context.Context, userID string) error {
	m.mu.Lock()
	if _, ok := m.users[userID]; !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUserNotFound, userID)
	}
	delete(m.users, userID)
	m.mu.Unlock()

	if m.repo != nil {
		if err := m.repo.DeleteSecurityRecord(ctx, storage.SecurityKindUser, userID); err != nil {
			return fmt.Errorf("删除用户记录失败: %w", err)
		}
	}
	return nil
}

// GetUser 获取用户（不含密码哈希）
func (m *Manager) GetUser(userID string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[userID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUserNotFound, userID)
	}
	cp := *u
	cp.PasswordHash = ""
	return &cp, nil
}

// ListUsers 按ID排序列出用户（不含密码哈希）
func (m *Manager) ListUsers() []User {
	m.mu.RLock()
	out := make([]User, 0, len(m.users))
	for _, u := range m.users {
		cp := *u
		cp.PasswordHash = ""
		out = append(out, cp)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// AddWorkflowPermission 新增或覆盖工作流权限
func (m *Manager) AddWorkflowPermission(ctx context.Context, p *WorkflowPermission) error {
	if p == nil || strings.TrimSpace(p.WorkflowID) == "" || strings.TrimSpace(p.Version) == "" {
		return fmt.Errorf("工作流权限必须包含 workflowId 与 version")
	}
	if p.RateLimit != nil && (p.RateLimit.Limit <= 0 || p.RateLimit.Window <= 0) {
		return fmt.Errorf("限流规则的 limit 与 window 必须大于0")
	}
	cp := *p

	m.mu.Lock()
	m.permissions[cp.Key()] = &cp
	m.mu.Unlock()

	return m.persist(ctx, storage.SecurityKindPermission, cp.Key(), &cp)
}

// RemoveWorkflowPermission 删除工作流权限
func (m *Manager) RemoveWorkflowPermission(ctx context.Context, workflowID, version string) error {
	key := permissionKey(workflowID, version)
	m.mu.Lock()
	if _, ok := m.permissions[key]; !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrPermissionNotFound, key)
	}
	delete(m.permissions, key)
	m.mu.Unlock()

	if m.repo != nil {
		if err := m.repo.DeleteSecurityRecord(ctx, storage.SecurityKindPermission, key); err != nil {
			return fmt.Errorf("删除权限记录失败: %w", err)
		}
	}
	return nil
}

// GetWorkflowPermission 获取工作流权限
func (m *Manager) GetWorkflowPermission(workflowID, version string) (*WorkflowPermission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.permissions[permissionKey(workflowID, version)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPermissionNotFound, permissionKey(workflowID, version))
	}
	cp := *p
	return &cp, nil
}

// ListWorkflowPermissions 列出全部工作流权限
func (m *Manager) ListWorkflowPermissions() []WorkflowPermission {
	m.mu.RLock()
	out := make([]WorkflowPermission, 0, len(m.permissions))
	for _, p := range m.permissions {
		out = append(out, *p)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

func (m *Manager) persist(ctx context.Context, kind, key string, v interface{}) error {
	if m.repo == nil {
		return nil
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("序列化%s记录失败: %w", kind, err)
	}
	if err := m.repo.SaveSecurityRecord(ctx, &storage.SecurityRecord{
		Kind:      kind,
		Key:       key,
		Payload:   payload,
		UpdatedAt: m.now(),
	}); err != nil {
		return fmt.Errorf("保存%s记录失败: %w", kind, err)
	}
	return nil
}

// Start 启动审计日志与安全事件的定期清理
func (m *Manager) Start() {
	m.loopMu.Lock()
	defer m.loopMu.Unlock()
	if m.running {
		return
	}
	m.running = true
	m.stopCh = make(chan struct{})

	m.wg.Add(2)
	go m.loop(m.cfg.AuditSweepInterval, func() { m.SweepAuditLog() })
	go m.loop(m.cfg.EventSweepInterval, func() { m.SweepSecurityEvents() })
}

// Stop 停止后台清理任务
func (m *Manager) Stop() {
	m.loopMu.Lock()
	if m.running {
		m.running = false
		close(m.stopCh)
	}
	m.loopMu.Unlock()

	m.wg.Wait()
	m.rateLimits.Stop()
}

func (m *Manager) loop(interval time.Duration, fn func()) {
	defer m.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			fn()
		case <-m.stopCh:
			return
		}
	}
}
