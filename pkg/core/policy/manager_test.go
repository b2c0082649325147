package policy

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LENAX/flow-control/pkg/core/types"
)

func sampleConfig() *WorkflowConfig {
	return &WorkflowConfig{
		ID:           "invoice.sync",
		Version:      "1.2.0",
		Name:         "发票同步",
		Enabled:      true,
		MaxRetries:   3,
		Timeout:      60000,
		Priority:     types.PriorityHigh,
		Concurrency:  2,
		Dependencies: []string{"customer.import@1.0.0"},
		Security: &SecurityPolicy{
			RequireAuth:  true,
			AllowedRoles: []string{"finance"},
			IPWhitelist:  []string{"10.0.0.0/8", "127.0.0.1"},
			RateLimit:    &RateLimitPolicy{Limit: 10, WindowMs: 60000},
		},
		Monitoring: &MonitoringPolicy{
			Enabled: true,
			Metrics: []string{"duration"},
			Alerts:  []AlertRule{{Type: "failure", Channel: "email"}},
		},
		Validation: &ValidationPolicy{InputSchema: "invoice-input"},
	}
}

func newTestManager(t *testing.T, cfg Config) *Manager {
	t.Helper()
	if cfg.Dir == "" {
		cfg.Dir = t.TempDir()
	}
	m := NewManager(cfg)
	t.Cleanup(m.Stop)
	require.NoError(t, m.Load(context.Background()))
	return m
}

func TestValidate(t *testing.T) {
	t.Run("合法配置", func(t *testing.T) {
		assert.NoError(t, Validate(sampleConfig()))
	})

	t.Run("收集全部问题", func(t *testing.T) {
		cfg := sampleConfig()
		cfg.ID = "9bad id"
		cfg.Version = "v1"
		cfg.MaxRetries = 11
		cfg.Timeout = 500
		cfg.Concurrency = 0
		cfg.Priority = "URGENT"
		cfg.Security.IPWhitelist = []string{"not-an-ip"}

		err := Validate(cfg)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrConfigInvalid))

		var verr *ValidationError
		require.True(t, errors.As(err, &verr))
		assert.Len(t, verr.Problems, 7)
	})

	t.Run("超时上限", func(t *testing.T) {
		cfg := sampleConfig()
		cfg.Timeout = 3600001
		assert.Error(t, Validate(cfg))
		cfg.Timeout = 3600000
		assert.NoError(t, Validate(cfg))
	})

	t.Run("告警类型", func(t *testing.T) {
		cfg := sampleConfig()
		cfg.Monitoring.Alerts = []AlertRule{{Type: "unknown"}}
		assert.Error(t, Validate(cfg))
	})
}

func TestAddAndRoundTrip(t *testing.T) {
	dir := t.TempDir()
	m := newTestManager(t, Config{Dir: dir})

	cfg := sampleConfig()
	require.NoError(t, m.Add(context.Background(), cfg))

	path := filepath.Join(dir, "invoice.sync-1.2.0.json")
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var onDisk WorkflowConfig
	require.NoError(t, json.Unmarshal(raw, &onDisk))
	assert.Equal(t, cfg, &onDisk)

	reloaded := newTestManager(t, Config{Dir: dir})
	got, err := reloaded.Get("invoice.sync", "1.2.0")
	require.NoError(t, err)
	assert.Equal(t, cfg, got)

	err = m.Add(context.Background(), cfg)
	assert.True(t, errors.Is(err, ErrConfigExists))
}

func TestUpdateRejectsInvalidAndKeepsPrevious(t *testing.T) {
	m := newTestManager(t, Config{})
	ctx := context.Background()
	require.NoError(t, m.Add(ctx, sampleConfig()))

	bad := sampleConfig()
	bad.Concurrency = 1000
	err := m.Update(ctx, bad)
	assert.True(t, errors.Is(err, ErrConfigInvalid))

	got, err := m.Get("invoice.sync", "1.2.0")
	require.NoError(t, err)
	assert.Equal(t, 2, got.Concurrency)

	missing := sampleConfig()
	missing.Version = "9.9.9"
	assert.True(t, errors.Is(m.Update(ctx, missing), ErrConfigNotFound))
}

func TestUpdateWritesBackupAndDiff(t *testing.T) {
	dir := t.TempDir()
	clock := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	m := NewManager(Config{Dir: dir, BackupOnUpdate: true}, WithClock(func() time.Time { return clock }))
	t.Cleanup(m.Stop)
	require.NoError(t, m.Load(context.Background()))

	var events []ChangeEvent
	unsubscribe := m.Subscribe(func(ev ChangeEvent) { events = append(events, ev) })
	defer unsubscribe()

	ctx := context.Background()
	require.NoError(t, m.Add(ctx, sampleConfig()))

	next := sampleConfig()
	next.Timeout = 120000
	next.Description = "夜间运行"
	next.Validation = nil
	require.NoError(t, m.Update(ctx, next))

	require.Len(t, events, 2)
	assert.Equal(t, ChangeAdded, events[0].Type)
	assert.Contains(t, events[0].Diff.Added, "id")

	assert.Equal(t, ChangeUpdated, events[1].Type)
	assert.Equal(t, []string{"timeout"}, events[1].Diff.Modified)
	assert.Equal(t, []string{"description"}, events[1].Diff.Added)
	assert.Equal(t, []string{"validation"}, events[1].Diff.Removed)
	assert.Equal(t, int64(60000), events[1].Previous.Timeout)

	backups, err := m.Backups("invoice.sync", "1.2.0")
	require.NoError(t, err)
	require.Len(t, backups, 1)
	raw, err := os.ReadFile(backups[0])
	require.NoError(t, err)
	var old WorkflowConfig
	require.NoError(t, json.Unmarshal(raw, &old))
	assert.Equal(t, int64(60000), old.Timeout)
}

func TestRemove(t *testing.T) {
	dir := t.TempDir()
	m := newTestManager(t, Config{Dir: dir})
	ctx := context.Background()
	require.NoError(t, m.Add(ctx, sampleConfig()))

	var removed ChangeEvent
	m.Subscribe(func(ev ChangeEvent) { removed = ev })
	require.NoError(t, m.Remove(ctx, "invoice.sync", "1.2.0"))

	assert.Equal(t, ChangeRemoved, removed.Type)
	assert.Contains(t, removed.Diff.Removed, "priority")
	_, err := os.Stat(filepath.Join(dir, "invoice.sync-1.2.0.json"))
	assert.True(t, os.IsNotExist(err))

	assert.True(t, errors.Is(m.Remove(ctx, "invoice.sync", "1.2.0"), ErrConfigNotFound))
}

func TestLoadSkipsInvalidFilesAndReadsYAML(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken-1.0.0.json"), []byte("{not json"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bounds-1.0.0.json"),
		[]byte(`{"id":"bounds","version":"1.0.0","enabled":true,"maxRetries":99,"timeout":5000,"priority":"LOW","concurrency":1}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "report-2.0.0.yaml"), []byte(`
id: report
version: 2.0.0
enabled: true
maxRetries: 1
timeout: 30000
priority: NORMAL
concurrency: 5
`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("ignored"), 0o644))

	m := newTestManager(t, Config{Dir: dir})
	list := m.List()
	require.Len(t, list, 1)
	assert.Equal(t, "report@2.0.0", list[0].Key())
	assert.Equal(t, 30*time.Second, list[0].TimeoutDuration())
}

func TestLoadCreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "workflows")
	newTestManager(t, Config{Dir: dir})
	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestExportImport(t *testing.T) {
	ctx := context.Background()
	src := newTestManager(t, Config{})
	require.NoError(t, src.Add(ctx, sampleConfig()))
	other := sampleConfig()
	other.ID = "audit.rollup"
	other.Security = nil
	require.NoError(t, src.Add(ctx, other))

	for _, format := range []string{"json", "yaml"} {
		t.Run(format, func(t *testing.T) {
			data, err := src.Export(format)
			require.NoError(t, err)

			dst := newTestManager(t, Config{})
			res, err := dst.Import(ctx, data, format)
			require.NoError(t, err)
			assert.Len(t, res.Added, 2)
			assert.Equal(t, src.List(), dst.List())

			res, err = dst.Import(ctx, data, format)
			require.NoError(t, err)
			assert.Len(t, res.Updated, 2)
		})
	}

	_, err := src.Export("toml")
	assert.True(t, errors.Is(err, ErrUnsupportedFormat))
}

func TestImportIsAllOrNothing(t *testing.T) {
	m := newTestManager(t, Config{})
	bad := sampleConfig()
	bad.Version = "latest"
	data, err := json.Marshal([]*WorkflowConfig{sampleConfig(), bad})
	require.NoError(t, err)

	_, err = m.Import(context.Background(), data, "json")
	assert.True(t, errors.Is(err, ErrConfigInvalid))
	assert.Empty(t, m.List())
}

func TestReloadFile(t *testing.T) {
	dir := t.TempDir()
	m := newTestManager(t, Config{Dir: dir})
	ctx := context.Background()
	require.NoError(t, m.Add(ctx, sampleConfig()))

	var events []ChangeEvent
	m.Subscribe(func(ev ChangeEvent) { events = append(events, ev) })

	path := filepath.Join(dir, "invoice.sync-1.2.0.json")
	assert.False(t, m.ReloadFile(path), "内容未变化不产生事件")

	edited := sampleConfig()
	edited.MaxRetries = 5
	data, err := json.Marshal(edited)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	assert.True(t, m.ReloadFile(path))
	require.Len(t, events, 1)
	assert.Equal(t, ChangeReloaded, events[0].Type)
	assert.Equal(t, []string{"maxRetries"}, events[0].Diff.Modified)

	require.NoError(t, os.WriteFile(path, []byte(`{"id":"invoice.sync","version":"1.2.0","timeout":1}`), 0o644))
	assert.False(t, m.ReloadFile(path))
	got, err := m.Get("invoice.sync", "1.2.0")
	require.NoError(t, err)
	assert.Equal(t, 5, got.MaxRetries)
}

func TestHotReloadWatcher(t *testing.T) {
	dir := t.TempDir()
	m := newTestManager(t, Config{Dir: dir, HotReload: true})

	var mu sync.Mutex
	var keys []string
	m.Subscribe(func(ev ChangeEvent) {
		mu.Lock()
		keys = append(keys, ev.Key)
		mu.Unlock()
	})

	cfg := sampleConfig()
	cfg.ID = "external"
	data, err := json.Marshal(cfg)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "external-1.2.0.json"), data, 0o644))

	require.Eventually(t, func() bool {
		_, err := m.Get("external", "1.2.0")
		return err == nil
	}, 3*time.Second, 20*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, keys, "external@1.2.0")
}
