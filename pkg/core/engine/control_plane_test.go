package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LENAX/flow-control/pkg/config"
	"github.com/LENAX/flow-control/pkg/core/lifecycle"
	"github.com/LENAX/flow-control/pkg/core/policy"
	"github.com/LENAX/flow-control/pkg/core/security"
	"github.com/LENAX/flow-control/pkg/core/types"
	"github.com/LENAX/flow-control/pkg/plugin"
)

func newControlPlane(t *testing.T, host types.Executor, mutate func(*config.ControlPlaneConfig), opts ...Option) *ControlPlane {
	t.Helper()
	cfg := config.Default()
	cfg.FlowControl.Scheduler.Dir = t.TempDir()
	cfg.FlowControl.Policy.Dir = t.TempDir()
	if mutate != nil {
		mutate(cfg)
	}
	cp, err := New(cfg, host, opts...)
	require.NoError(t, err)
	require.NoError(t, cp.Start(context.Background()))
	t.Cleanup(func() { _ = cp.Stop() })
	return cp
}

func workflowConfig(id string) *policy.WorkflowConfig {
	return &policy.WorkflowConfig{
		ID:          id,
		Version:     "1.0.0",
		Enabled:     true,
		Timeout:     60000,
		Priority:    types.PriorityHigh,
		Concurrency: 5,
	}
}

func TestStartWorkflowCompletesInstance(t *testing.T) {
	var seenInstance string
	host := types.ExecutorFunc(func(ctx context.Context, workflowID, version string, data map[string]interface{}) (interface{}, error) {
		seenInstance = types.GetInstanceID(ctx)
		assert.Equal(t, "billing", types.GetWorkflowID(ctx))
		assert.Equal(t, 1, types.GetAttempt(ctx))
		return map[string]interface{}{"rows": 3}, nil
	})
	cp := newControlPlane(t, host, nil)
	require.NoError(t, cp.Policies().Add(context.Background(), workflowConfig("billing")))

	instanceID, result, err := cp.Run(context.Background(), types.StartRequest{
		ID:      "billing",
		Version: "1.0.0",
		Data:    map[string]interface{}{"month": "2024-01"},
		Src:     "test",
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"rows": 3}, result)
	assert.Equal(t, instanceID, seenInstance)

	inst, err := cp.Lifecycle().GetInstance(instanceID)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StatusCompleted, inst.Status)
	assert.Equal(t, types.PriorityHigh, inst.Priority)
	assert.Equal(t, "test", inst.Metadata["source"])
}

func TestExecutorSeamWithoutConfig(t *testing.T) {
	host := types.ExecutorFunc(func(ctx context.Context, workflowID, version string, data map[string]interface{}) (interface{}, error) {
		return "ok", nil
	})
	cp := newControlPlane(t, host, nil)

	var executor types.Executor = cp
	result, err := executor.StartWorkflow(context.Background(), "adhoc", "0.1.0", nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", result)

	list := cp.Lifecycle().ListInstances(lifecycle.ListFilter{WorkflowID: "adhoc"})
	require.Len(t, list, 1)
	assert.Equal(t, types.PriorityNormal, list[0].Priority)
	assert.Equal(t, SourceExecutor, list[0].Metadata["source"])
}

func TestRetriesThenFails(t *testing.T) {
	var calls int32
	host := types.ExecutorFunc(func(ctx context.Context, workflowID, version string, data map[string]interface{}) (interface{}, error) {
		atomic.AddInt32(&calls, 1)
		return nil, errors.New("下游不可用")
	})
	cp := newControlPlane(t, host, nil)
	wc := workflowConfig("sync")
	wc.MaxRetries = 2
	require.NoError(t, cp.Policies().Add(context.Background(), wc))

	instanceID, _, err := cp.Run(context.Background(), types.StartRequest{ID: "sync", Version: "1.0.0"}, nil)
	require.Error(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))

	inst, err := cp.Lifecycle().GetInstance(instanceID)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StatusFailed, inst.Status)
	assert.Contains(t, inst.Error, "下游不可用")
}

func TestDisabledWorkflowRejected(t *testing.T) {
	cp := newControlPlane(t, types.ExecutorFunc(func(ctx context.Context, workflowID, version string, data map[string]interface{}) (interface{}, error) {
		t.Fatal("禁用的工作流不应被执行")
		return nil, nil
	}), nil)
	wc := workflowConfig("legacy")
	wc.Enabled = false
	require.NoError(t, cp.Policies().Add(context.Background(), wc))

	instanceID, _, err := cp.Run(context.Background(), types.StartRequest{ID: "legacy", Version: "1.0.0"}, nil)
	assert.ErrorIs(t, err, ErrWorkflowDisabled)
	assert.Empty(t, instanceID)
	assert.Empty(t, cp.Lifecycle().ListInstances(lifecycle.ListFilter{}))
}

func TestTimeoutFailsInstance(t *testing.T) {
	host := types.ExecutorFunc(func(ctx context.Context, workflowID, version string, data map[string]interface{}) (interface{}, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	cp := newControlPlane(t, host, nil)
	wc := workflowConfig("slow")
	wc.Timeout = 1000
	require.NoError(t, cp.Policies().Add(context.Background(), wc))

	instanceID, _, err := cp.Run(context.Background(), types.StartRequest{ID: "slow", Version: "1.0.0"}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, err.Error(), "执行超时")

	inst, err := cp.Lifecycle().GetInstance(instanceID)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StatusFailed, inst.Status)
}

func TestWorkflowConcurrencyCancelsRejectedInstance(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	host := types.ExecutorFunc(func(ctx context.Context, workflowID, version string, data map[string]interface{}) (interface{}, error) {
		started <- struct{}{}
		<-release
		return nil, nil
	})
	cp := newControlPlane(t, host, nil)
	wc := workflowConfig("exclusive")
	wc.Concurrency = 1
	require.NoError(t, cp.Policies().Add(context.Background(), wc))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _, err := cp.Run(context.Background(), types.StartRequest{ID: "exclusive", Version: "1.0.0"}, nil)
		assert.NoError(t, err)
	}()
	<-started

	instanceID, _, err := cp.Run(context.Background(), types.StartRequest{ID: "exclusive", Version: "1.0.0"}, nil)
	assert.ErrorIs(t, err, lifecycle.ErrConcurrencyLimit)
	inst, gerr := cp.Lifecycle().GetInstance(instanceID)
	require.NoError(t, gerr)
	assert.Equal(t, lifecycle.StatusCancelled, inst.Status)

	close(release)
	wg.Wait()
}

func TestDependencyWaitsForReadySignal(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	host := types.ExecutorFunc(func(ctx context.Context, workflowID, version string, data map[string]interface{}) (interface{}, error) {
		if workflowID == "ingest" {
			started <- struct{}{}
			<-release
		}
		return nil, nil
	})
	cp := newControlPlane(t, host, nil)
	report := workflowConfig("report")
	report.Dependencies = []string{"ingest@1.0.0"}
	require.NoError(t, cp.Policies().Add(context.Background(), report))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ready, err := cp.Bus().Subscribe(ctx, types.EventWorkflowReady)
	require.NoError(t, err)

	_, _, err = cp.Run(context.Background(), types.StartRequest{ID: "report", Version: "1.0.0"}, nil)
	assert.ErrorIs(t, err, lifecycle.ErrDependencyNotFound, "依赖从未运行过时拒绝创建")

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _, _ = cp.Run(context.Background(), types.StartRequest{ID: "ingest", Version: "1.0.0"}, nil)
	}()
	<-started

	reportID, _, err := cp.Run(context.Background(), types.StartRequest{ID: "report", Version: "1.0.0"}, nil)
	require.ErrorIs(t, err, lifecycle.ErrDependencyNotSatisfied)
	inst, err := cp.Lifecycle().GetInstance(reportID)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StatusPending, inst.Status)

	close(release)
	<-done

	select {
	case ev := <-ready:
		var notice types.ReadyNotice
		require.NoError(t, ev.Decode(&notice))
		assert.Equal(t, reportID, notice.InstanceID)
		assert.Equal(t, "report", notice.WorkflowID)
	case <-time.After(2 * time.Second):
		t.Fatal("没有收到就绪通知")
	}
}

func TestBusStartRequest(t *testing.T) {
	host := types.ExecutorFunc(func(ctx context.Context, workflowID, version string, data map[string]interface{}) (interface{}, error) {
		return "done", nil
	})
	cp := newControlPlane(t, host, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	acks, err := cp.Bus().Subscribe(ctx, types.EventWorkflowStarted)
	require.NoError(t, err)

	waitAck := func() (types.StartedAck, string) {
		t.Helper()
		select {
		case ev := <-acks:
			var ack types.StartedAck
			require.NoError(t, ev.Decode(&ack))
			return ack, ev.CorrelationID
		case <-time.After(2 * time.Second):
			t.Fatal("没有收到启动确认")
			return types.StartedAck{}, ""
		}
	}

	t.Run("已授权用户", func(t *testing.T) {
		eventID, err := cp.RequestStart(types.StartRequest{ID: "etl", Version: "1.0.0", Src: "cli", UserID: "user1"})
		require.NoError(t, err)
		ack, correlation := waitAck()
		assert.Equal(t, AckStarted, ack.Status)
		assert.Equal(t, "cli", ack.Dst)
		assert.Equal(t, eventID, correlation)
		assert.NotEmpty(t, ack.InstanceID)
	})

	t.Run("停用用户被拒绝", func(t *testing.T) {
		_, err := cp.RequestStart(types.StartRequest{ID: "etl", Version: "1.0.0", Src: "api", UserID: "user2"})
		require.NoError(t, err)
		ack, _ := waitAck()
		assert.Equal(t, AckRejected, ack.Status)
		assert.Equal(t, "api", ack.Dst)
		assert.Empty(t, ack.InstanceID)
		assert.Contains(t, ack.Error, security.ReasonUserInactive)
	})
}

func TestPolicySecuritySyncedToPermissions(t *testing.T) {
	cp := newControlPlane(t, nil, nil)
	ctx := context.Background()

	wc := workflowConfig("payroll")
	wc.Security = &policy.SecurityPolicy{
		RequireAuth:  true,
		AllowedUsers: []string{"user1"},
		RateLimit:    &policy.RateLimitPolicy{Limit: 5, WindowMs: 60000},
	}
	require.NoError(t, cp.Policies().Add(ctx, wc))

	perm, err := cp.Security().GetWorkflowPermission("payroll", "1.0.0")
	require.NoError(t, err)
	assert.True(t, perm.RequireAuth)
	assert.Equal(t, []string{"user1"}, perm.AllowedUsers)
	require.NotNil(t, perm.RateLimit)
	assert.Equal(t, time.Minute, perm.RateLimit.Window)

	_, _, err = cp.Run(ctx, types.StartRequest{ID: "payroll", Version: "1.0.0", UserID: "user1"}, nil)
	assert.ErrorIs(t, err, ErrAccessDenied, "未认证的请求被拒绝")

	wc.Security = nil
	require.NoError(t, cp.Policies().Update(ctx, wc))
	_, err = cp.Security().GetWorkflowPermission("payroll", "1.0.0")
	assert.ErrorIs(t, err, security.ErrPermissionNotFound)
}

func TestNoHostFailsInstance(t *testing.T) {
	cp := newControlPlane(t, nil, nil)
	instanceID, _, err := cp.Run(context.Background(), types.StartRequest{ID: "orphan", Version: "1.0.0"}, nil)
	require.ErrorIs(t, err, ErrNoExecutionHost)
	inst, err := cp.Lifecycle().GetInstance(instanceID)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StatusFailed, inst.Status)
}

func TestStrictValidationRejectsSuspiciousInput(t *testing.T) {
	cp := newControlPlane(t, types.ExecutorFunc(func(ctx context.Context, workflowID, version string, data map[string]interface{}) (interface{}, error) {
		return nil, nil
	}), nil)
	wc := workflowConfig("import")
	wc.Validation = &policy.ValidationPolicy{
		InputSchema: `{"required":["file"],"properties":{"file":{"type":"string"}}}`,
		Strict:      true,
	}
	require.NoError(t, cp.Policies().Add(context.Background(), wc))

	_, _, err := cp.Run(context.Background(), types.StartRequest{ID: "import", Version: "1.0.0", Data: map[string]interface{}{}}, nil)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, _, err = cp.Run(context.Background(), types.StartRequest{
		ID:      "import",
		Version: "1.0.0",
		Data:    map[string]interface{}{"file": "<script>alert(1)</script>"},
	}, nil)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, _, err = cp.Run(context.Background(), types.StartRequest{
		ID:      "import",
		Version: "1.0.0",
		Data:    map[string]interface{}{"file": "report.csv"},
	}, nil)
	assert.NoError(t, err)
}

type capturePlugin struct {
	mu  sync.Mutex
	got []plugin.PluginData
}

func (p *capturePlugin) Name() string                        { return "capture" }
func (p *capturePlugin) Init(params map[string]string) error { return nil }
func (p *capturePlugin) Execute(data interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.got = append(p.got, data.(plugin.PluginData))
	return nil
}

func (p *capturePlugin) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.got)
}

func TestPluginsReceiveEventsFromBus(t *testing.T) {
	capture := &capturePlugin{}
	cp := newControlPlane(t, types.ExecutorFunc(func(ctx context.Context, workflowID, version string, data map[string]interface{}) (interface{}, error) {
		return nil, nil
	}), nil, WithPlugin(capture))
	require.NoError(t, cp.Plugins().Bind(plugin.PluginBinding{PluginName: "capture", Event: plugin.EventWorkflowCompleted}))
	assert.Equal(t, []string{"capture", "log"}, cp.Plugins().ListPlugins())

	instanceID, _, err := cp.Run(context.Background(), types.StartRequest{ID: "notify", Version: "1.0.0"}, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return capture.count() == 1 }, 2*time.Second, 10*time.Millisecond)
	capture.mu.Lock()
	defer capture.mu.Unlock()
	assert.Equal(t, instanceID, capture.got[0].InstanceID)
	assert.Contains(t, capture.got[0].Data, "executionMs")
}

func TestEmailAlertFollowsMonitoringRules(t *testing.T) {
	var mu sync.Mutex
	var subjects []string
	sender := func(subject, body string) error {
		mu.Lock()
		subjects = append(subjects, subject)
		mu.Unlock()
		return nil
	}
	host := types.ExecutorFunc(func(ctx context.Context, workflowID, version string, data map[string]interface{}) (interface{}, error) {
		return nil, errors.New("boom")
	})
	cp := newControlPlane(t, host, func(cfg *config.ControlPlaneConfig) {
		email := &cfg.FlowControl.Alert.Email
		email.Enabled = true
		email.SMTPHost = "localhost"
		email.From = "ops@example.com"
		email.To = []string{"oncall@example.com"}
	}, WithEmailSender(sender))

	watched := workflowConfig("watched")
	watched.Monitoring = &policy.MonitoringPolicy{
		Enabled: true,
		Alerts:  []policy.AlertRule{{Type: "failure", Channel: "email"}},
	}
	require.NoError(t, cp.Policies().Add(context.Background(), watched))

	_, _, err := cp.Run(context.Background(), types.StartRequest{ID: "unwatched", Version: "1.0.0"}, nil)
	require.Error(t, err)
	_, _, err = cp.Run(context.Background(), types.StartRequest{ID: "watched", Version: "1.0.0"}, nil)
	require.Error(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(subjects) == 1
	}, 2*time.Second, 10*time.Millisecond)
	mu.Lock()
	assert.Contains(t, subjects[0], "watched@1.0.0")
	mu.Unlock()
}

func TestStopIsTerminal(t *testing.T) {
	cfg := config.Default()
	cfg.FlowControl.Scheduler.Dir = t.TempDir()
	cfg.FlowControl.Policy.Dir = t.TempDir()
	cp, err := New(cfg, nil)
	require.NoError(t, err)

	_, err = cp.RequestStart(types.StartRequest{ID: "x", Version: "1.0.0"})
	assert.ErrorIs(t, err, ErrNotRunning)

	require.NoError(t, cp.Start(context.Background()))
	assert.True(t, cp.IsRunning())
	require.NoError(t, cp.Stop())
	assert.False(t, cp.IsRunning())
	assert.Error(t, cp.Start(context.Background()))
	assert.NoError(t, cp.Stop())
}
