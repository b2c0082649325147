package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ThreeDotsLabs/watermill"

	"github.com/LENAX/flow-control/pkg/config"
	"github.com/LENAX/flow-control/pkg/core/types"
	"github.com/LENAX/flow-control/pkg/logging"
)

// WebhookRequest 发往执行宿主的请求体
type WebhookRequest struct {
	WorkflowID string                 `json:"workflowId"`
	Version    string                 `json:"version"`
	InstanceID string                 `json:"instanceId,omitempty"`
	Attempt    int                    `json:"attempt,omitempty"`
	Data       map[string]interface{} `json:"data,omitempty"`
}

// WebhookResponse 宿主的响应体，error 非空视为执行失败
type WebhookResponse struct {
	Result interface{} `json:"result,omitempty"`
	Error  string      `json:"error,omitempty"`
}

// WebhookExecutor 把执行请求 POST 给外部宿主的 types.Executor
type WebhookExecutor struct {
	url     string
	headers map[string]string
	client  *http.Client
	logger  watermill.LoggerAdapter
}

// NewWebhookExecutor 创建 webhook 宿主
func NewWebhookExecutor(section config.HostSection, logger watermill.LoggerAdapter) *WebhookExecutor {
	timeout := section.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &WebhookExecutor{
		url:     section.WebhookURL,
		headers: section.Headers,
		client:  &http.Client{Timeout: timeout},
		logger:  logging.OrNop(logger),
	}
}

// StartWorkflow 实现 types.Executor
func (w *WebhookExecutor) StartWorkflow(ctx context.Context, workflowID, version string, data map[string]interface{}) (interface{}, error) {
	body, err := json.Marshal(WebhookRequest{
		WorkflowID: workflowID,
		Version:    version,
		InstanceID: types.GetInstanceID(ctx),
		Attempt:    types.GetAttempt(ctx),
		Data:       data,
	})
	if err != nil {
		return nil, fmt.Errorf("序列化执行请求失败: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("创建执行请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range w.headers {
		req.Header.Set(k, v)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("调用执行宿主失败: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("读取宿主响应失败: %w", err)
	}

	var out WebhookResponse
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil {
			return nil, fmt.Errorf("解析宿主响应失败(status=%d): %w", resp.StatusCode, err)
		}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if out.Error == "" {
			out.Error = http.StatusText(resp.StatusCode)
		}
		return nil, fmt.Errorf("执行宿主返回 %d: %s", resp.StatusCode, out.Error)
	}
	if out.Error != "" {
		return nil, fmt.Errorf("工作流执行失败: %s", out.Error)
	}

	w.logger.Debug("执行宿主返回", watermill.LogFields{
		"workflow_id": workflowID,
		"version":     version,
		"status":      resp.StatusCode,
	})
	return out.Result, nil
}

// EchoExecutor 未配置宿主时使用：记录请求并把输入原样作为结果
func EchoExecutor(logger watermill.LoggerAdapter) types.Executor {
	logger = logging.OrNop(logger)
	return types.ExecutorFunc(func(ctx context.Context, workflowID, version string, data map[string]interface{}) (interface{}, error) {
		logger.Info("未配置执行宿主，回显输入", watermill.LogFields{
			"workflow_id": workflowID,
			"version":     version,
			"instance_id": types.GetInstanceID(ctx),
		})
		return data, nil
	})
}

// HostFromConfig 按配置选择执行宿主
func HostFromConfig(cfg *config.ControlPlaneConfig, logger watermill.LoggerAdapter) types.Executor {
	if cfg != nil && cfg.FlowControl.Host.WebhookURL != "" {
		return NewWebhookExecutor(cfg.FlowControl.Host, logger)
	}
	return EchoExecutor(logger)
}
