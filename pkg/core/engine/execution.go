package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ThreeDotsLabs/watermill"

	"github.com/LENAX/flow-control/pkg/core/lifecycle"
	"github.com/LENAX/flow-control/pkg/core/policy"
	"github.com/LENAX/flow-control/pkg/core/security"
	"github.com/LENAX/flow-control/pkg/core/types"
)

// 启动确认中的状态
const (
	AckStarted  = "STARTED"
	AckRejected = "REJECTED"
	AckWaiting  = "WAITING"
)

// StartWorkflow 实现 types.Executor：按工作流配置创建并启动实例，调用宿主执行，
// 根据结果完成或失败实例，返回宿主的执行结果
func (cp *ControlPlane) StartWorkflow(ctx context.Context, workflowID, version string, data map[string]interface{}) (interface{}, error) {
	_, result, err := cp.Run(ctx, types.StartRequest{
		ID:      workflowID,
		Version: version,
		Data:    data,
		Src:     SourceExecutor,
	}, nil)
	return result, err
}

// Run 执行一次启动请求，返回实例ID（未创建实例时为空）与执行结果
// req.UserID 非空时先做执行授权；onStart 在实例进入 RUNNING 后、调用宿主前回调
// 依赖未满足时实例保持 PENDING，错误包装 lifecycle.ErrDependencyNotSatisfied；
// 其余准入失败（并发、资源）会取消该实例
func (cp *ControlPlane) Run(ctx context.Context, req types.StartRequest, onStart func(instanceID string)) (string, interface{}, error) {
	if strings.TrimSpace(req.ID) == "" || strings.TrimSpace(req.Version) == "" {
		return "", nil, fmt.Errorf("工作流ID与版本不能为空")
	}

	if req.UserID != "" {
		decision := cp.security.AuthorizeExecution(security.ExecutionRequest{
			UserID:        req.UserID,
			WorkflowID:    req.ID,
			Version:       req.Version,
			IP:            req.IP,
			Authenticated: req.Authenticated,
		})
		if !decision.Allowed {
			return "", nil, fmt.Errorf("%w: %s", ErrAccessDenied, decision.Reason)
		}
	}

	wcfg, err := cp.resolvePolicy(req.ID, req.Version)
	if err != nil {
		return "", nil, err
	}
	if err := cp.validateInput(wcfg, req.Data); err != nil {
		return "", nil, err
	}

	metadata := map[string]interface{}{"source": req.Src}
	if req.UserID != "" {
		metadata["userId"] = req.UserID
	}
	if len(req.Data) > 0 {
		metadata["input"] = req.Data
	}
	inst, err := cp.lifecycle.CreateWorkflowInstance(ctx, lifecycle.CreateRequest{
		WorkflowID:   wcfg.ID,
		Version:      wcfg.Version,
		Priority:     wcfg.Priority,
		Dependencies: dependenciesOf(wcfg),
		Metadata:     metadata,
	})
	if err != nil {
		return "", nil, fmt.Errorf("创建工作流实例失败: %w", err)
	}

	if err := cp.lifecycle.StartWorkflow(ctx, inst.ID, lifecycle.WithWorkflowConcurrency(wcfg.Concurrency)); err != nil {
		if errors.Is(err, lifecycle.ErrDependencyNotSatisfied) {
			return inst.ID, nil, err
		}
		if cancelErr := cp.lifecycle.CancelWorkflow(context.WithoutCancel(ctx), inst.ID, "准入被拒绝: "+err.Error()); cancelErr != nil {
			cp.logger.Error("取消未准入的实例失败", cancelErr, watermill.LogFields{"instance_id": inst.ID})
		}
		return inst.ID, nil, err
	}
	if onStart != nil {
		onStart(inst.ID)
	}

	result, execErr := cp.execute(ctx, wcfg, inst.ID, req.Data)

	finishCtx := context.WithoutCancel(ctx)
	if execErr != nil {
		if err := cp.lifecycle.FailWorkflow(finishCtx, inst.ID, execErr); err != nil {
			cp.logger.Info("实例已不在可失败状态", watermill.LogFields{"instance_id": inst.ID, "error": err.Error()})
		}
		return inst.ID, nil, execErr
	}
	if err := cp.lifecycle.CompleteWorkflow(finishCtx, inst.ID, result); err != nil {
		cp.logger.Info("实例已不在可完成状态", watermill.LogFields{"instance_id": inst.ID, "error": err.Error()})
	}
	return inst.ID, result, nil
}

// RequestStart 把启动请求发布到总线，返回事件ID；确认通过 workflow.started 主题返回
func (cp *ControlPlane) RequestStart(req types.StartRequest) (string, error) {
	if !cp.IsRunning() {
		return "", ErrNotRunning
	}
	ev, err := cp.bus.PublishPayload(types.EventWorkflowStart, req.Src, req)
	if err != nil {
		return "", err
	}
	return ev.ID, nil
}

// handleStartRequest 总线上的启动请求：在后台执行，进入RUNNING或被拒绝时发布确认
func (cp *ControlPlane) handleStartRequest(_ context.Context, ev *types.Event) error {
	var req types.StartRequest
	if err := ev.Decode(&req); err != nil {
		return err
	}

	cp.mu.Lock()
	if !cp.running {
		cp.mu.Unlock()
		return ErrNotRunning
	}
	runCtx := cp.runCtx
	cp.inflight.Add(1)
	cp.mu.Unlock()

	correlationID := ev.CorrelationID
	if correlationID == "" {
		correlationID = ev.ID
	}
	go func() {
		defer cp.inflight.Done()
		ack := func(instanceID, status string, err error) {
			payload := types.StartedAck{
				InstanceID: instanceID,
				ID:         req.ID,
				Version:    req.Version,
				Dst:        req.Src,
				Status:     status,
			}
			if err != nil {
				payload.Error = err.Error()
			}
			started, perr := types.NewEvent(types.EventWorkflowStarted, sourceControlPlane, payload)
			if perr != nil {
				cp.logger.Error("构造启动确认失败", perr, nil)
				return
			}
			started.WithCorrelationID(correlationID)
			if perr := cp.bus.Publish(started); perr != nil {
				cp.logger.Debug("启动确认发布失败", watermill.LogFields{"error": perr.Error()})
			}
		}

		acked := false
		instanceID, _, err := cp.Run(runCtx, req, func(id string) {
			acked = true
			ack(id, AckStarted, nil)
		})
		switch {
		case acked:
		case errors.Is(err, lifecycle.ErrDependencyNotSatisfied):
			ack(instanceID, AckWaiting, err)
		default:
			ack(instanceID, AckRejected, err)
		}
	}()
	return nil
}

// resolvePolicy 没有配置的工作流使用默认策略；禁用的工作流拒绝执行
func (cp *ControlPlane) resolvePolicy(workflowID, version string) (*policy.WorkflowConfig, error) {
	wcfg, err := cp.policies.Get(workflowID, version)
	if errors.Is(err, policy.ErrConfigNotFound) {
		return &policy.WorkflowConfig{
			ID:       workflowID,
			Version:  version,
			Enabled:  true,
			Priority: types.PriorityNormal,
		}, nil
	}
	if err != nil {
		return nil, err
	}
	if !wcfg.Enabled {
		return nil, fmt.Errorf("%w: %s", ErrWorkflowDisabled, wcfg.Key())
	}
	return wcfg, nil
}

// validateInput 经安全管理器检查输入大小与可疑内容；配置了 inputSchema 时按其校验
// strict 模式下可疑内容告警同样拒绝执行
func (cp *ControlPlane) validateInput(wcfg *policy.WorkflowConfig, data map[string]interface{}) error {
	var schema *security.InputSchema
	strict := false
	if v := wcfg.Validation; v != nil {
		strict = v.Strict
		if v.InputSchema != "" {
			schema = &security.InputSchema{}
			if err := json.Unmarshal([]byte(v.InputSchema), schema); err != nil {
				return fmt.Errorf("%w: inputSchema无法解析: %v", ErrInvalidInput, err)
			}
		}
	}

	var input interface{} = map[string]interface{}{}
	if data != nil {
		input = data
	}
	res := cp.security.ValidateInput(input, schema)
	if !res.Valid {
		return fmt.Errorf("%w: %s", ErrInvalidInput, strings.Join(res.Errors, "; "))
	}
	if strict && len(res.Warnings) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidInput, strings.Join(res.Warnings, "; "))
	}
	return nil
}

// dependenciesOf 配置中的依赖写作 workflowId 或 workflowId@version，要求前置实例成功完成
func dependenciesOf(wcfg *policy.WorkflowConfig) []lifecycle.WorkflowDependency {
	if len(wcfg.Dependencies) == 0 {
		return nil
	}
	deps := make([]lifecycle.WorkflowDependency, 0, len(wcfg.Dependencies))
	for _, target := range wcfg.Dependencies {
		deps = append(deps, lifecycle.WorkflowDependency{
			WorkflowID: target,
			Condition:  lifecycle.ConditionCompleted,
		})
	}
	return deps
}

// execute 调用宿主，失败时按 maxRetries 重试；实例被外部取消或置为失败后不再重试
func (cp *ControlPlane) execute(ctx context.Context, wcfg *policy.WorkflowConfig, instanceID string, data map[string]interface{}) (interface{}, error) {
	if cp.host == nil {
		return nil, ErrNoExecutionHost
	}
	ctx = types.WithWorkflowID(types.WithInstanceID(ctx, instanceID), wcfg.ID)

	attempts := wcfg.MaxRetries + 1
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		result, err := cp.attempt(ctx, wcfg, data, attempt)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if ctx.Err() != nil || attempt == attempts {
			break
		}
		inst, gerr := cp.lifecycle.GetInstance(instanceID)
		if gerr != nil || inst.Status.IsTerminal() {
			break
		}
		cp.logger.Info("工作流执行失败，准备重试", watermill.LogFields{
			"instance_id": instanceID,
			"attempt":     attempt,
			"max":         attempts,
			"error":       err.Error(),
		})
	}
	return nil, lastErr
}

func (cp *ControlPlane) attempt(ctx context.Context, wcfg *policy.WorkflowConfig, data map[string]interface{}, attempt int) (interface{}, error) {
	attemptCtx := types.WithAttempt(ctx, attempt)
	timeout := wcfg.TimeoutDuration()
	if timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(attemptCtx, timeout)
		defer cancel()
	}

	result, err := cp.host.StartWorkflow(attemptCtx, wcfg.ID, wcfg.Version, data)
	if err != nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return nil, fmt.Errorf("执行超时(%s): %w", timeout, err)
	}
	return result, err
}

// syncPermission 把工作流配置中的安全约束同步为安全管理器的权限
// 只有原配置带安全约束时才删除权限，避免覆盖通过接口单独维护的权限
func (cp *ControlPlane) syncPermission(ctx context.Context, prev, cur *policy.WorkflowConfig) {
	if cur != nil && cur.Security != nil {
		if err := cp.security.AddWorkflowPermission(ctx, permissionFromPolicy(cur)); err != nil {
			cp.logger.Error("同步工作流权限失败", err, watermill.LogFields{"key": cur.Key()})
		}
		return
	}
	if prev == nil || prev.Security == nil {
		return
	}
	err := cp.security.RemoveWorkflowPermission(ctx, prev.ID, prev.Version)
	if err != nil && !errors.Is(err, security.ErrPermissionNotFound) {
		cp.logger.Error("删除工作流权限失败", err, watermill.LogFields{"key": prev.Key()})
	}
}

func permissionFromPolicy(wcfg *policy.WorkflowConfig) *security.WorkflowPermission {
	sp := wcfg.Security
	perm := &security.WorkflowPermission{
		WorkflowID:   wcfg.ID,
		Version:      wcfg.Version,
		AllowedUsers: append([]string(nil), sp.AllowedUsers...),
		AllowedRoles: append([]string(nil), sp.AllowedRoles...),
		Permissions:  append([]string(nil), sp.Permissions...),
		RequireAuth:  sp.RequireAuth,
		IPWhitelist:  append([]string(nil), sp.IPWhitelist...),
	}
	if sp.RateLimit != nil {
		perm.RateLimit = &security.RateLimitSpec{Limit: sp.RateLimit.Limit, Window: sp.RateLimit.Window()}
	}
	return perm
}
