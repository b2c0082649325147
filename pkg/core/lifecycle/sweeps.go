package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
)

// Cleanup 删除 updatedAt 早于 maxWorkflowDuration 的终态实例，删除前执行其清理任务
// 仍有未结束依赖方的实例推迟到下一轮
func (m *Manager) Cleanup(ctx context.Context) int {
	m.mu.Lock()
	now := m.now()
	type candidate struct {
		inst  *WorkflowInstance
		tasks []cleanupTask
	}
	var candidates []candidate
	for _, inst := range m.instances {
		if !inst.Status.IsTerminal() || now.Sub(inst.UpdatedAt) <= m.cfg.MaxWorkflowDuration {
			continue
		}
		if m.hasActiveDependentsLocked(inst) {
			continue
		}
		if _, err := m.transitionLocked(inst, StatusCleaningUp); err != nil {
			continue
		}
		candidates = append(candidates, candidate{inst: inst.Clone(), tasks: m.cleanupFns[inst.ID]})
	}
	m.mu.Unlock()

	// 清理任务在锁外执行，允许回调访问管理器
	for _, c := range candidates {
		for _, task := range c.tasks {
			if err := task.fn(ctx, c.inst); err != nil {
				m.logger.Error("清理任务执行失败", err, watermill.LogFields{
					"instance_id": c.inst.ID,
					"task":        task.name,
				})
			}
		}
	}

	events := make([]Event, 0, len(candidates))
	m.mu.Lock()
	for _, c := range candidates {
		inst, ok := m.instances[c.inst.ID]
		if !ok {
			continue
		}
		m.removeLocked(ctx, inst)
		events = append(events, newEvent(EventCleaned, inst, inst.Status))
	}
	m.mu.Unlock()

	if len(events) > 0 {
		m.logger.Info("已清理过期工作流实例", watermill.LogFields{"count": len(events)})
	}
	m.emit(events...)
	return len(events)
}

func (m *Manager) hasActiveDependentsLocked(inst *WorkflowInstance) bool {
	for _, id := range inst.Dependents {
		if dep, ok := m.instances[id]; ok && !dep.Status.IsTerminal() && dep.Status != StatusCleaningUp {
			return true
		}
	}
	return false
}

// removeLocked 从表、依赖图和存储中删除实例，同时删除两侧的依赖边
func (m *Manager) removeLocked(ctx context.Context, inst *WorkflowInstance) {
	for _, depID := range inst.Dependencies {
		if dep, ok := m.instances[depID]; ok {
			dep.Dependents = removeString(dep.Dependents, inst.ID)
			m.persistLocked(ctx, dep)
		}
	}
	for _, id := range inst.Dependents {
		child, ok := m.instances[id]
		if !ok {
			continue
		}
		child.Dependencies = removeString(child.Dependencies, inst.ID)
		edges := child.DependencyEdges[:0]
		for _, e := range child.DependencyEdges {
			if e.InstanceID != inst.ID {
				edges = append(edges, e)
			}
		}
		child.DependencyEdges = edges
		m.persistLocked(ctx, child)
	}

	m.graph.removeInstance(inst.ID)
	delete(m.instances, inst.ID)
	delete(m.cleanupFns, inst.ID)

	if m.repo != nil {
		if err := m.repo.DeleteInstance(ctx, inst.ID); err != nil {
			m.logger.Error("删除工作流实例记录失败", err, watermill.LogFields{"instance_id": inst.ID})
		}
	}
}

// UpdateStatuses 刷新运行中实例的资源占用，并把超过 maxWorkflowDuration 的实例置为失败
func (m *Manager) UpdateStatuses(ctx context.Context) int {
	m.mu.Lock()
	now := m.now()
	var timedOut []string
	for _, inst := range m.instances {
		if inst.Status != StatusRunning {
			continue
		}
		inst.Resources = m.sampler.Sample(inst)
		if inst.StartedAt != nil && now.Sub(*inst.StartedAt) > m.cfg.MaxWorkflowDuration {
			timedOut = append(timedOut, inst.ID)
		}
	}
	m.mu.Unlock()

	failed := 0
	for _, id := range timedOut {
		cause := fmt.Errorf("%w: 运行超过 %s", ErrWorkflowTimeout, m.cfg.MaxWorkflowDuration)
		if err := m.FailWorkflow(ctx, id, cause); err == nil {
			failed++
		}
	}
	return failed
}

// Start 启动清理与状态刷新两个定时任务
func (m *Manager) Start() {
	m.loopMu.Lock()
	defer m.loopMu.Unlock()
	if m.running {
		return
	}
	m.running = true
	m.stopCh = make(chan struct{})

	m.wg.Add(2)
	go m.loop(m.cfg.CleanupInterval, func(ctx context.Context) { m.Cleanup(ctx) })
	go m.loop(m.cfg.StatusUpdateInterval, func(ctx context.Context) { m.UpdateStatuses(ctx) })

	m.logger.Info("生命周期管理器已启动", watermill.LogFields{
		"cleanup_interval":       m.cfg.CleanupInterval.String(),
		"status_update_interval": m.cfg.StatusUpdateInterval.String(),
	})
}

// Stop 停止定时任务并等待退出
func (m *Manager) Stop() {
	m.loopMu.Lock()
	if !m.running {
		m.loopMu.Unlock()
		return
	}
	m.running = false
	close(m.stopCh)
	m.loopMu.Unlock()

	m.wg.Wait()
	m.logger.Info("生命周期管理器已停止", nil)
}

func (m *Manager) loop(interval time.Duration, fn func(ctx context.Context)) {
	defer m.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			fn(context.Background())
		case <-m.stopCh:
			return
		}
	}
}
