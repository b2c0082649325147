package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LENAX/flow-control/pkg/core/types"
	"github.com/LENAX/flow-control/pkg/storage/memory"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestManager(t *testing.T, mutate func(*Config), opts ...Option) *Manager {
	t.Helper()
	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	return NewManager(cfg, opts...)
}

func create(t *testing.T, m *Manager, workflowID string, deps ...WorkflowDependency) *WorkflowInstance {
	t.Helper()
	inst, err := m.CreateWorkflowInstance(context.Background(), CreateRequest{
		WorkflowID:   workflowID,
		Version:      "1.0.0",
		Priority:     types.PriorityNormal,
		Dependencies: deps,
	})
	require.NoError(t, err)
	return inst
}

// assertSymmetric 校验 dependencies 与 dependents 互为反向关系
func assertSymmetric(t *testing.T, m *Manager) {
	t.Helper()
	all := m.ListInstances(ListFilter{})
	byID := make(map[string]*WorkflowInstance, len(all))
	for _, inst := range all {
		byID[inst.ID] = inst
	}
	for _, a := range all {
		for _, b := range a.Dependencies {
			require.Contains(t, byID, b)
			assert.Contains(t, byID[b].Dependents, a.ID)
		}
		for _, b := range a.Dependents {
			require.Contains(t, byID, b)
			assert.Contains(t, byID[b].Dependencies, a.ID)
		}
	}
}

func TestScenarioA_StartAndComplete(t *testing.T) {
	m := newTestManager(t, nil)
	ctx := context.Background()

	inst := create(t, m, "wf-1")
	assert.Equal(t, StatusPending, inst.Status)
	assert.Contains(t, inst.ID, "wf-1_")

	require.NoError(t, m.StartWorkflow(ctx, inst.ID))
	got, err := m.GetInstance(inst.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, got.Status)
	assert.NotNil(t, got.StartedAt)

	require.NoError(t, m.CompleteWorkflow(ctx, inst.ID, map[string]interface{}{"ok": true}))
	got, err = m.GetInstance(inst.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	require.NotNil(t, got.CompletedAt)
	assert.Equal(t, map[string]interface{}{"ok": true}, got.Metadata["result"])
}

func TestCreateIndependentInstances(t *testing.T) {
	m := newTestManager(t, nil)
	ctx := context.Background()

	wf1 := create(t, m, "wf-1")
	wf3 := create(t, m, "wf-3")
	again := create(t, m, "wf-1")
	assert.NotEqual(t, wf1.ID, wf3.ID)
	assert.NotEqual(t, wf1.ID, again.ID)
	assert.Len(t, m.ListInstances(ListFilter{}), 3)

	for _, inst := range []*WorkflowInstance{wf1, wf3, again} {
		assert.Empty(t, inst.Dependencies)
		require.NoError(t, m.StartWorkflow(ctx, inst.ID))
	}
	assert.Equal(t, 3, m.Statistics().Running)
	assertSymmetric(t, m)
}

func TestScenarioB_DependencyNotSatisfied(t *testing.T) {
	m := newTestManager(t, nil)
	ctx := context.Background()

	wf1 := create(t, m, "wf-1")
	wf2 := create(t, m, "wf-2", WorkflowDependency{WorkflowID: "wf-1", Condition: ConditionCompleted})
	assert.Equal(t, []string{wf1.ID}, wf2.Dependencies)
	assertSymmetric(t, m)

	err := m.StartWorkflow(ctx, wf2.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDependencyNotSatisfied))
	assert.Contains(t, err.Error(), wf1.ID)

	got, _ := m.GetInstance(wf2.ID)
	assert.Equal(t, StatusPending, got.Status)

	require.NoError(t, m.StartWorkflow(ctx, wf1.ID))
	require.NoError(t, m.CompleteWorkflow(ctx, wf1.ID, nil))
	require.NoError(t, m.StartWorkflow(ctx, wf2.ID))
}

func TestScenarioC_ConcurrencyLimit(t *testing.T) {
	m := newTestManager(t, func(c *Config) { c.MaxConcurrentWorkflows = 1 })
	ctx := context.Background()

	wf1 := create(t, m, "wf-1")
	wf3 := create(t, m, "wf-3")

	require.NoError(t, m.StartWorkflow(ctx, wf1.ID))
	err := m.StartWorkflow(ctx, wf3.ID)
	assert.True(t, errors.Is(err, ErrConcurrencyLimit))

	// 终态实例不再占用并发名额
	require.NoError(t, m.FailWorkflow(ctx, wf1.ID, errors.New("boom")))
	require.NoError(t, m.StartWorkflow(ctx, wf3.ID))
}

func TestStartWorkflow_OnlyFromPending(t *testing.T) {
	m := newTestManager(t, nil)
	ctx := context.Background()
	inst := create(t, m, "wf-1")

	require.NoError(t, m.StartWorkflow(ctx, inst.ID))
	err := m.StartWorkflow(ctx, inst.ID)
	assert.True(t, errors.Is(err, ErrInvalidTransition))

	require.NoError(t, m.PauseWorkflow(ctx, inst.ID))
	err = m.StartWorkflow(ctx, inst.ID)
	assert.True(t, errors.Is(err, ErrInvalidTransition))
	got, _ := m.GetInstance(inst.ID)
	assert.Equal(t, StatusPaused, got.Status)

	err = m.StartWorkflow(ctx, "missing")
	assert.True(t, errors.Is(err, ErrInstanceNotFound))
}

func TestPauseResumeGuards(t *testing.T) {
	m := newTestManager(t, nil)
	ctx := context.Background()
	inst := create(t, m, "wf-1")

	assert.True(t, errors.Is(m.PauseWorkflow(ctx, inst.ID), ErrInvalidTransition))
	assert.True(t, errors.Is(m.ResumeWorkflow(ctx, inst.ID), ErrInvalidTransition))

	require.NoError(t, m.StartWorkflow(ctx, inst.ID))
	require.NoError(t, m.PauseWorkflow(ctx, inst.ID))
	require.NoError(t, m.ResumeWorkflow(ctx, inst.ID))

	got, _ := m.GetInstance(inst.ID)
	assert.Equal(t, StatusRunning, got.Status)
	assert.NotNil(t, got.PausedAt)
	assert.NotNil(t, got.ResumedAt)

	// 从PAUSED直接完成
	require.NoError(t, m.PauseWorkflow(ctx, inst.ID))
	require.NoError(t, m.CompleteWorkflow(ctx, inst.ID, nil))
}

func TestCompleteRequiresRunningOrPaused(t *testing.T) {
	m := newTestManager(t, nil)
	inst := create(t, m, "wf-1")
	err := m.CompleteWorkflow(context.Background(), inst.ID, nil)
	assert.True(t, errors.Is(err, ErrInvalidTransition))
}

func TestFailAndCancelFromAnyState(t *testing.T) {
	m := newTestManager(t, nil)
	ctx := context.Background()

	t.Run("PENDING可以取消", func(t *testing.T) {
		inst := create(t, m, "wf-pending")
		require.NoError(t, m.CancelWorkflow(ctx, inst.ID, "用户取消"))
		got, _ := m.GetInstance(inst.ID)
		assert.Equal(t, StatusCancelled, got.Status)
		assert.NotNil(t, got.CancelledAt)
		assert.Equal(t, "用户取消", got.Metadata["cancelReason"])
	})

	t.Run("PAUSED可以失败", func(t *testing.T) {
		inst := create(t, m, "wf-paused")
		require.NoError(t, m.StartWorkflow(ctx, inst.ID))
		require.NoError(t, m.PauseWorkflow(ctx, inst.ID))
		require.NoError(t, m.FailWorkflow(ctx, inst.ID, errors.New("磁盘已满")))
		got, _ := m.GetInstance(inst.ID)
		assert.Equal(t, StatusFailed, got.Status)
		assert.Equal(t, "磁盘已满", got.Error)
	})

	t.Run("COMPLETED可以取消", func(t *testing.T) {
		inst := create(t, m, "wf-done")
		require.NoError(t, m.StartWorkflow(ctx, inst.ID))
		require.NoError(t, m.CompleteWorkflow(ctx, inst.ID, nil))
		require.NoError(t, m.CancelWorkflow(ctx, inst.ID, ""))
		got, _ := m.GetInstance(inst.ID)
		assert.Equal(t, StatusCancelled, got.Status)
	})
}

func TestTransitionTable(t *testing.T) {
	assert.True(t, CanTransition(StatusPending, StatusRunning))
	assert.False(t, CanTransition(StatusPending, StatusPaused))
	assert.False(t, CanTransition(StatusPending, StatusCompleted))
	assert.True(t, CanTransition(StatusPaused, StatusCompleted))
	assert.True(t, CanTransition(StatusCompleted, StatusCleaningUp))
	assert.False(t, CanTransition(StatusCleaningUp, StatusFailed))
	assert.Empty(t, StatusCleaningUp.ValidTransitions())

	for _, s := range []Status{StatusPending, StatusRunning, StatusPaused, StatusCompleted, StatusFailed, StatusCancelled} {
		assert.True(t, s.CanTransitionTo(StatusFailed), s)
		assert.True(t, s.CanTransitionTo(StatusCancelled), s)
	}
	assert.True(t, StatusFailed.IsTerminal())
	assert.False(t, StatusPaused.IsTerminal())
}

func TestDependencyConditions(t *testing.T) {
	m := newTestManager(t, nil)
	ctx := context.Background()

	upstream := create(t, m, "upstream")
	onFail := create(t, m, "on-fail", WorkflowDependency{WorkflowID: upstream.ID, Condition: ConditionFailed})
	onAny := create(t, m, "on-any", WorkflowDependency{WorkflowID: "upstream@1.0.0", Condition: ConditionAny})
	onDone := create(t, m, "on-done", WorkflowDependency{WorkflowID: "upstream"})

	var mu sync.Mutex
	var ready []string
	m.Subscribe(func(ev Event) {
		if ev.Type == EventReady {
			mu.Lock()
			ready = append(ready, ev.InstanceID)
			mu.Unlock()
		}
	})

	require.NoError(t, m.StartWorkflow(ctx, upstream.ID))
	require.NoError(t, m.FailWorkflow(ctx, upstream.ID, errors.New("x")))

	mu.Lock()
	assert.ElementsMatch(t, []string{onFail.ID, onAny.ID}, ready)
	mu.Unlock()

	ids, err := m.ReadyDependents(upstream.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{onFail.ID, onAny.ID}, ids)

	require.NoError(t, m.StartWorkflow(ctx, onFail.ID))
	require.NoError(t, m.StartWorkflow(ctx, onAny.ID))
	assert.True(t, errors.Is(m.StartWorkflow(ctx, onDone.ID), ErrDependencyNotSatisfied))
}

func TestCreateRejectsUnknownDependency(t *testing.T) {
	m := newTestManager(t, nil)
	_, err := m.CreateWorkflowInstance(context.Background(), CreateRequest{
		WorkflowID:   "wf-2",
		Dependencies: []WorkflowDependency{{WorkflowID: "ghost"}},
	})
	assert.True(t, errors.Is(err, ErrDependencyNotFound))

	_, err = m.CreateWorkflowInstance(context.Background(), CreateRequest{
		WorkflowID:   "wf-2",
		Dependencies: []WorkflowDependency{{WorkflowID: "ghost", Condition: "sometimes"}},
	})
	assert.True(t, errors.Is(err, ErrInvalidDependency))
	assert.Empty(t, m.ListInstances(ListFilter{}))
}

func TestResourceThreshold(t *testing.T) {
	m := newTestManager(t, func(c *Config) {
		c.Thresholds = ResourceUsage{MemoryMB: 1000, CPUPercent: 80, DiskMB: 1000}
	})
	ctx := context.Background()

	big := create(t, m, "big")
	small := create(t, m, "small")
	require.NoError(t, m.StartWorkflow(ctx, big.ID, WithEstimatedUsage(ResourceUsage{MemoryMB: 1200})))

	err := m.StartWorkflow(ctx, small.ID)
	assert.True(t, errors.Is(err, ErrResourceLimit))

	require.NoError(t, m.UpdateResourceUsage(ctx, big.ID, ResourceUsage{MemoryMB: 100}))
	require.NoError(t, m.StartWorkflow(ctx, small.ID))

	stats := m.Statistics()
	assert.Equal(t, 2, stats.Running)
	assert.Equal(t, 100.0, stats.ResourceUtilization.MemoryMB)
}

func TestPerWorkflowConcurrency(t *testing.T) {
	m := newTestManager(t, nil)
	ctx := context.Background()

	a := create(t, m, "report")
	b := create(t, m, "report")
	require.NoError(t, m.StartWorkflow(ctx, a.ID, WithWorkflowConcurrency(1)))
	assert.True(t, errors.Is(m.StartWorkflow(ctx, b.ID, WithWorkflowConcurrency(1)), ErrConcurrencyLimit))
	require.NoError(t, m.StartWorkflow(ctx, b.ID, WithWorkflowConcurrency(2)))
}

func TestCleanup(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	m := newTestManager(t, func(c *Config) { c.MaxWorkflowDuration = time.Hour }, WithClock(clock.Now))
	ctx := context.Background()

	parent := create(t, m, "parent")
	child := create(t, m, "child", WorkflowDependency{WorkflowID: parent.ID, Condition: ConditionAny})
	done := create(t, m, "done")

	var cleaned []string
	require.NoError(t, m.RegisterCleanupTask(done.ID, "释放临时目录", func(ctx context.Context, inst *WorkflowInstance) error {
		cleaned = append(cleaned, inst.ID)
		return nil
	}))

	require.NoError(t, m.CancelWorkflow(ctx, parent.ID, ""))
	require.NoError(t, m.StartWorkflow(ctx, done.ID))
	require.NoError(t, m.CompleteWorkflow(ctx, done.ID, nil))

	// 未过期
	assert.Equal(t, 0, m.Cleanup(ctx))

	clock.Advance(2 * time.Hour)
	// parent 仍有 PENDING 的依赖方，推迟清理
	assert.Equal(t, 1, m.Cleanup(ctx))
	assert.Equal(t, []string{done.ID}, cleaned)
	_, err := m.GetInstance(done.ID)
	assert.True(t, errors.Is(err, ErrInstanceNotFound))
	_, err = m.GetInstance(parent.ID)
	require.NoError(t, err)

	require.NoError(t, m.CancelWorkflow(ctx, child.ID, ""))
	clock.Advance(2 * time.Hour)
	assert.Equal(t, 2, m.Cleanup(ctx))
	assert.Empty(t, m.ListInstances(ListFilter{}))
}

func TestCleanupKeepsSymmetry(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	m := newTestManager(t, func(c *Config) { c.MaxWorkflowDuration = time.Hour }, WithClock(clock.Now))
	ctx := context.Background()

	a := create(t, m, "a")
	require.NoError(t, m.CancelWorkflow(ctx, a.ID, ""))
	b := create(t, m, "b", WorkflowDependency{WorkflowID: a.ID, Condition: ConditionAny})
	require.NoError(t, m.StartWorkflow(ctx, b.ID))
	assertSymmetric(t, m)

	// a 过期后 b 仍在运行，先保留
	clock.Advance(2 * time.Hour)
	m.Cleanup(ctx)
	assertSymmetric(t, m)

	require.NoError(t, m.CompleteWorkflow(ctx, b.ID, nil))
	assert.Equal(t, 1, m.Cleanup(ctx))
	got, err := m.GetInstance(b.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Dependencies)
	assertSymmetric(t, m)
}

func TestUpdateStatuses_TimesOutLongRunning(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	m := newTestManager(t, func(c *Config) {
		c.MaxWorkflowDuration = time.Hour
		c.DefaultUsage = ResourceUsage{MemoryMB: 64}
	}, WithClock(clock.Now))
	ctx := context.Background()

	inst := create(t, m, "slow")
	require.NoError(t, m.StartWorkflow(ctx, inst.ID))

	assert.Equal(t, 0, m.UpdateStatuses(ctx))
	got, _ := m.GetInstance(inst.ID)
	assert.Equal(t, 64.0, got.Resources.MemoryMB)

	clock.Advance(90 * time.Minute)
	assert.Equal(t, 1, m.UpdateStatuses(ctx))
	got, _ = m.GetInstance(inst.ID)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Contains(t, got.Error, "超时")
}

func TestStatistics(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	m := newTestManager(t, nil, WithClock(clock.Now))
	ctx := context.Background()

	a := create(t, m, "a")
	create(t, m, "b")
	require.NoError(t, m.StartWorkflow(ctx, a.ID))
	clock.Advance(10 * time.Second)
	require.NoError(t, m.CompleteWorkflow(ctx, a.ID, nil))

	stats := m.Statistics()
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.ByStatus[StatusCompleted])
	assert.Equal(t, 1, stats.ByStatus[StatusPending])
	assert.Equal(t, 10*time.Second, stats.AverageExecutionTime)
}

func TestRestoreFromRepository(t *testing.T) {
	repo := memory.NewStore()
	ctx := context.Background()

	m1 := newTestManager(t, nil, WithRepository(repo))
	a := create(t, m1, "a")
	b := create(t, m1, "b", WorkflowDependency{WorkflowID: a.ID})
	require.NoError(t, m1.StartWorkflow(ctx, a.ID))

	m2 := newTestManager(t, nil, WithRepository(repo))
	n, err := m2.Restore(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, err := m2.GetInstance(a.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, got.Status)
	assert.Equal(t, []string{b.ID}, got.Dependents)
	assertSymmetric(t, m2)

	require.NoError(t, m2.CompleteWorkflow(ctx, a.ID, nil))
	require.NoError(t, m2.StartWorkflow(ctx, b.ID))
}

func TestSubscribeAndUnsubscribe(t *testing.T) {
	m := newTestManager(t, nil)
	var seen []EventType
	unsubscribe := m.Subscribe(func(ev Event) { seen = append(seen, ev.Type) })

	inst := create(t, m, "wf")
	require.NoError(t, m.StartWorkflow(context.Background(), inst.ID))
	unsubscribe()
	require.NoError(t, m.CompleteWorkflow(context.Background(), inst.ID, nil))

	assert.Equal(t, []EventType{EventCreated, EventStarted}, seen)
}

func TestConcurrentTransitionsAreSerialized(t *testing.T) {
	m := newTestManager(t, nil)
	ctx := context.Background()
	inst := create(t, m, "race")
	require.NoError(t, m.StartWorkflow(ctx, inst.ID))

	var wg sync.WaitGroup
	results := make(chan error, 2)
	wg.Add(2)
	go func() { defer wg.Done(); results <- m.CompleteWorkflow(ctx, inst.ID, nil) }()
	go func() { defer wg.Done(); results <- m.CancelWorkflow(ctx, inst.ID, "race") }()
	wg.Wait()
	close(results)

	// 先取消则完成失败；先完成则取消仍然成功
	succeeded := 0
	for err := range results {
		if err == nil {
			succeeded++
		} else {
			assert.True(t, errors.Is(err, ErrInvalidTransition))
		}
	}
	assert.GreaterOrEqual(t, succeeded, 1)
	got, _ := m.GetInstance(inst.ID)
	assert.True(t, got.Status.IsTerminal())
}
