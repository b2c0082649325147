package lifecycle

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"

	"github.com/LENAX/flow-control/pkg/storage"
)

func toRecord(inst *WorkflowInstance) (*storage.InstanceRecord, error) {
	payload, err := json.Marshal(inst)
	if err != nil {
		return nil, fmt.Errorf("序列化实例 %s 失败: %w", inst.ID, err)
	}
	return &storage.InstanceRecord{
		ID:         inst.ID,
		WorkflowID: inst.WorkflowID,
		Version:    inst.Version,
		Status:     string(inst.Status),
		UpdatedAt:  inst.UpdatedAt,
		Payload:    payload,
	}, nil
}

// Restore 从存储加载实例并重建依赖图，用于进程重启
// 清理过程中被中断的实例恢复为FAILED，由下一轮清理删除
func (m *Manager) Restore(ctx context.Context) (int, error) {
	if m.repo == nil {
		return 0, nil
	}
	records, err := m.repo.ListInstances(ctx)
	if err != nil {
		return 0, fmt.Errorf("加载工作流实例失败: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	loaded := make([]*WorkflowInstance, 0, len(records))
	for _, rec := range records {
		var inst WorkflowInstance
		if err := json.Unmarshal(rec.Payload, &inst); err != nil {
			m.logger.Error("解析工作流实例记录失败，已跳过", err, watermill.LogFields{"instance_id": rec.ID})
			continue
		}
		if inst.Status == StatusCleaningUp {
			inst.Status = StatusFailed
		}
		if inst.Metadata == nil {
			inst.Metadata = make(map[string]interface{})
		}
		if _, exists := m.instances[inst.ID]; exists {
			continue
		}
		if err := m.graph.addInstance(inst.ID); err != nil {
			continue
		}
		m.instances[inst.ID] = &inst
		loaded = append(loaded, &inst)
	}

	// 只保留两端都存在的边
	for _, inst := range loaded {
		deps := inst.Dependencies[:0]
		for _, depID := range inst.Dependencies {
			if _, ok := m.instances[depID]; !ok {
				continue
			}
			if err := m.graph.addDependency(depID, inst.ID); err != nil {
				continue
			}
			deps = append(deps, depID)
		}
		inst.Dependencies = deps
	}
	for _, inst := range loaded {
		inst.Dependents = m.graph.dependents(inst.ID)
	}

	m.logger.Info("已恢复工作流实例", watermill.LogFields{"count": len(loaded)})
	return len(loaded), nil
}
