package engine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LENAX/flow-control/pkg/config"
	"github.com/LENAX/flow-control/pkg/core/lifecycle"
	"github.com/LENAX/flow-control/pkg/core/types"
)

func TestWebhookExecutor(t *testing.T) {
	t.Run("成功返回结果", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "token-1", r.Header.Get("X-Host-Token"))

			var req WebhookRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "sync", req.WorkflowID)
			assert.Equal(t, "inst-1", req.InstanceID)
			assert.Equal(t, 2, req.Attempt)
			_ = json.NewEncoder(w).Encode(WebhookResponse{Result: map[string]interface{}{"ok": true}})
		}))
		defer server.Close()

		exec := NewWebhookExecutor(config.HostSection{
			WebhookURL: server.URL,
			Timeout:    time.Second,
			Headers:    map[string]string{"X-Host-Token": "token-1"},
		}, nil)
		ctx := types.WithAttempt(types.WithInstanceID(context.Background(), "inst-1"), 2)
		result, err := exec.StartWorkflow(ctx, "sync", "1.0.0", map[string]interface{}{"a": 1})
		require.NoError(t, err)
		assert.Equal(t, map[string]interface{}{"ok": true}, result)
	})

	t.Run("宿主报告错误", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(WebhookResponse{Error: "boom"})
		}))
		defer server.Close()

		exec := NewWebhookExecutor(config.HostSection{WebhookURL: server.URL}, nil)
		_, err := exec.StartWorkflow(context.Background(), "sync", "1.0.0", nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "boom")
	})

	t.Run("非2xx状态码", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer server.Close()

		exec := NewWebhookExecutor(config.HostSection{WebhookURL: server.URL}, nil)
		_, err := exec.StartWorkflow(context.Background(), "sync", "1.0.0", nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "502")
	})
}

func TestControlPlaneWithWebhookHost(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(WebhookResponse{Result: "done"})
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.FlowControl.Host.WebhookURL = server.URL
	cp := newControlPlane(t, HostFromConfig(cfg, nil), nil)

	instanceID, result, err := cp.Run(context.Background(), types.StartRequest{ID: "remote", Version: "1.0.0", Src: "test"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "done", result)

	inst, err := cp.Lifecycle().GetInstance(instanceID)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StatusCompleted, inst.Status)
}

func TestEchoExecutorReturnsInput(t *testing.T) {
	host := HostFromConfig(config.Default(), nil)
	result, err := host.StartWorkflow(context.Background(), "wf", "1.0.0", map[string]interface{}{"x": 1})
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"x": 1}, result)
}
