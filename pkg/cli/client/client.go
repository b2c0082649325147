// Package client 控制面 HTTP API 的命令行客户端
package client

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/LENAX/flow-control/pkg/api/dto"
	"github.com/LENAX/flow-control/pkg/core/lifecycle"
	"github.com/LENAX/flow-control/pkg/core/policy"
	"github.com/LENAX/flow-control/pkg/core/scheduler"
)

// Client HTTP API客户端
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// New 创建客户端，token 为空时不带认证头
func New(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// ========== Auth API ==========

// Login 登录并返回令牌
func (c *Client) Login(username, password string) (*dto.LoginResponse, error) {
	var resp dto.APIResponse[dto.LoginResponse]
	if err := c.do(http.MethodPost, "/api/v1/auth/login", dto.LoginRequest{Username: username, Password: password}, &resp); err != nil {
		return nil, err
	}
	return &resp.Data, nil
}

// ========== Workflow API ==========

// ExecuteWorkflow 执行工作流
func (c *Client) ExecuteWorkflow(id, version string, req dto.ExecuteWorkflowRequest) (*dto.ExecuteResponse, error) {
	var resp dto.APIResponse[dto.ExecuteResponse]
	path := "/api/v1/workflows/" + url.PathEscape(id) + "/versions/" + url.PathEscape(version) + "/execute"
	if err := c.do(http.MethodPost, path, req, &resp); err != nil {
		return nil, err
	}
	return &resp.Data, nil
}

// ========== Instance API ==========

// ListInstances 列出实例
func (c *Client) ListInstances(status, workflowID string, limit, offset int) (*dto.ListResponse[dto.InstanceSummary], error) {
	params := url.Values{}
	if status != "" {
		params.Set("status", status)
	}
	if workflowID != "" {
		params.Set("workflowId", workflowID)
	}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		params.Set("offset", strconv.Itoa(offset))
	}

	path := "/api/v1/instances"
	if len(params) > 0 {
		path += "?" + params.Encode()
	}

	var resp dto.APIResponse[dto.ListResponse[dto.InstanceSummary]]
	if err := c.do(http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Data, nil
}

// GetInstance 获取实例详情
func (c *Client) GetInstance(id string) (*lifecycle.WorkflowInstance, error) {
	var resp dto.APIResponse[lifecycle.WorkflowInstance]
	if err := c.do(http.MethodGet, "/api/v1/instances/"+url.PathEscape(id), nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Data, nil
}

// PauseInstance 暂停实例
func (c *Client) PauseInstance(id string) error {
	return c.do(http.MethodPost, "/api/v1/instances/"+url.PathEscape(id)+"/pause", nil, &dto.APIResponse[any]{})
}

// ResumeInstance 恢复实例
func (c *Client) ResumeInstance(id string) error {
	return c.do(http.MethodPost, "/api/v1/instances/"+url.PathEscape(id)+"/resume", nil, &dto.APIResponse[any]{})
}

// CancelInstance 取消实例
func (c *Client) CancelInstance(id, reason string) error {
	return c.do(http.MethodPost, "/api/v1/instances/"+url.PathEscape(id)+"/cancel",
		dto.CancelInstanceRequest{Reason: reason}, &dto.APIResponse[any]{})
}

// ========== Schedule API ==========

// ListSchedules 列出计划
func (c *Client) ListSchedules() ([]scheduler.ScheduleInfo, error) {
	var resp dto.APIResponse[[]scheduler.ScheduleInfo]
	if err := c.do(http.MethodGet, "/api/v1/schedules", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// StartSchedule 装载计划
func (c *Client) StartSchedule(id string) (*scheduler.ScheduleInfo, error) {
	return c.scheduleAction(id, "start")
}

// StopSchedule 卸载计划
func (c *Client) StopSchedule(id string) (*scheduler.ScheduleInfo, error) {
	return c.scheduleAction(id, "stop")
}

// TriggerSchedule 立即执行一次
func (c *Client) TriggerSchedule(id string) error {
	return c.do(http.MethodPost, "/api/v1/schedules/"+url.PathEscape(id)+"/trigger", nil, &dto.APIResponse[any]{})
}

// ReloadSchedules 重新扫描描述文件
func (c *Client) ReloadSchedules() (*scheduler.Statistics, error) {
	var resp dto.APIResponse[scheduler.Statistics]
	if err := c.do(http.MethodPost, "/api/v1/schedules/reload", nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Data, nil
}

func (c *Client) scheduleAction(id, action string) (*scheduler.ScheduleInfo, error) {
	var resp dto.APIResponse[scheduler.ScheduleInfo]
	if err := c.do(http.MethodPost, "/api/v1/schedules/"+url.PathEscape(id)+"/"+action, nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Data, nil
}

// ========== Config API ==========

// ListConfigs 列出工作流配置
func (c *Client) ListConfigs() ([]policy.WorkflowConfig, error) {
	var resp dto.APIResponse[[]policy.WorkflowConfig]
	if err := c.do(http.MethodGet, "/api/v1/configs", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// ExportConfigs 导出全部配置原文
func (c *Client) ExportConfigs(format string) ([]byte, error) {
	req, err := c.newRequest(http.MethodGet, "/api/v1/configs/export?format="+url.QueryEscape(format), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP请求失败: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("读取响应体失败: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		var apiErr dto.APIResponse[any]
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Message != "" {
			return nil, errors.New(apiErr.Message)
		}
		return nil, fmt.Errorf("导出失败: HTTP %d", resp.StatusCode)
	}
	return body, nil
}

// ========== Health API ==========

// Health 健康检查
func (c *Client) Health() (*dto.HealthResponse, error) {
	var resp dto.APIResponse[dto.HealthResponse]
	if err := c.do(http.MethodGet, "/health", nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Data, nil
}

// ========== HTTP Methods ==========

func (c *Client) newRequest(method, path string, body interface{}) (*http.Request, error) {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("序列化请求体失败: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("创建请求失败: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func (c *Client) do(method, path string, body interface{}, result interface{}) error {
	req, err := c.newRequest(method, path, body)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP请求失败: %w", err)
	}
	defer resp.Body.Close()

	return parseResponse(resp, result)
}

func parseResponse(resp *http.Response, result interface{}) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("读取响应体失败: %w", err)
	}
	if len(bytes.TrimSpace(body)) == 0 {
		if resp.StatusCode >= 300 {
			return fmt.Errorf("HTTP %d", resp.StatusCode)
		}
		return nil
	}

	// 先按通用结构取出 code/message，再解码到具体类型
	var envelope dto.APIResponse[json.RawMessage]
	if err := json.Unmarshal(body, &envelope); err != nil {
		return fmt.Errorf("解析响应失败: %w, body: %s", err, string(body))
	}
	if envelope.Code != 0 {
		return errors.New(envelope.Message)
	}
	if err := json.Unmarshal(body, result); err != nil {
		return fmt.Errorf("解析响应失败: %w, body: %s", err, string(body))
	}
	return nil
}
