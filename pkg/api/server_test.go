package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LENAX/flow-control/pkg/api/dto"
	"github.com/LENAX/flow-control/pkg/config"
	"github.com/LENAX/flow-control/pkg/core/engine"
	"github.com/LENAX/flow-control/pkg/core/lifecycle"
	"github.com/LENAX/flow-control/pkg/core/policy"
	"github.com/LENAX/flow-control/pkg/core/types"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func echoHost() types.Executor {
	return types.ExecutorFunc(func(ctx context.Context, workflowID, version string, data map[string]interface{}) (interface{}, error) {
		return map[string]interface{}{"workflow": workflowID, "echo": data["value"]}, nil
	})
}

func newTestServer(t *testing.T, mutate func(*config.ControlPlaneConfig)) (*engine.ControlPlane, http.Handler) {
	t.Helper()
	cfg := config.Default()
	cfg.FlowControl.Scheduler.Dir = t.TempDir()
	cfg.FlowControl.Policy.Dir = t.TempDir()
	if mutate != nil {
		mutate(cfg)
	}
	cp, err := engine.New(cfg, echoHost())
	require.NoError(t, err)
	require.NoError(t, cp.Start(context.Background()))
	t.Cleanup(func() { _ = cp.Stop() })

	srv := NewAPIServer(cp, ServerConfigFrom(cfg), "test", nil)
	return cp, srv.Handler()
}

func withAuth(cfg *config.ControlPlaneConfig) {
	cfg.FlowControl.Security.JWTSecret = "test-secret"
	cfg.FlowControl.Security.AdminPassword = "admin-pass"
}

func do(t *testing.T, h http.Handler, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) dto.APIResponse[T] {
	t.Helper()
	var resp dto.APIResponse[T]
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp
}

func login(t *testing.T, h http.Handler, username, password string) string {
	t.Helper()
	w := do(t, h, http.MethodPost, "/api/v1/auth/login", "", dto.LoginRequest{Username: username, Password: password})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	return decode[dto.LoginResponse](t, w).Data.Token
}

func TestHealthAndReady(t *testing.T) {
	_, h := newTestServer(t, nil)

	w := do(t, h, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	health := decode[dto.HealthResponse](t, w)
	assert.Equal(t, "healthy", health.Data.Status)
	assert.Equal(t, "test", health.Data.Version)

	w = do(t, h, http.MethodGet, "/ready", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestReadyAfterStop(t *testing.T) {
	cp, h := newTestServer(t, nil)
	require.NoError(t, cp.Stop())

	w := do(t, h, http.MethodGet, "/ready", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestExecuteAndQueryInstances(t *testing.T) {
	_, h := newTestServer(t, nil)

	w := do(t, h, http.MethodPost, "/api/v1/workflows/report/versions/1.0.0/execute", "", dto.ExecuteWorkflowRequest{
		Data: map[string]interface{}{"value": "x"},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	exec := decode[dto.ExecuteResponse](t, w)
	require.NotEmpty(t, exec.Data.InstanceID)
	assert.Equal(t, map[string]interface{}{"workflow": "report", "echo": "x"}, exec.Data.Result)

	w = do(t, h, http.MethodGet, "/api/v1/instances?workflowId=report&status=COMPLETED", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[dto.ListResponse[dto.InstanceSummary]](t, w)
	require.Equal(t, 1, list.Data.Total)
	assert.Equal(t, exec.Data.InstanceID, list.Data.Items[0].ID)
	assert.Equal(t, "COMPLETED", list.Data.Items[0].Status)
	assert.NotEmpty(t, list.Data.Items[0].Duration)

	w = do(t, h, http.MethodGet, "/api/v1/instances/"+exec.Data.InstanceID, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	inst := decode[lifecycle.WorkflowInstance](t, w)
	assert.Equal(t, "api", inst.Data.Metadata["source"])

	// 已完成的实例不能暂停
	w = do(t, h, http.MethodPost, "/api/v1/instances/"+exec.Data.InstanceID+"/pause", "", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = do(t, h, http.MethodGet, "/api/v1/instances/missing", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, h, http.MethodGet, "/api/v1/instances?status=UNKNOWN", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestExecuteDisabledWorkflowConflicts(t *testing.T) {
	cp, h := newTestServer(t, nil)
	require.NoError(t, cp.Policies().Add(context.Background(), &policy.WorkflowConfig{
		ID: "frozen", Version: "1.0.0", Enabled: false, Timeout: 5000, Priority: types.PriorityLow, Concurrency: 1,
	}))

	w := do(t, h, http.MethodPost, "/api/v1/workflows/frozen/versions/1.0.0/execute", "", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestExecuteAsyncReturnsEventID(t *testing.T) {
	cp, h := newTestServer(t, nil)

	acks, err := cp.Bus().Subscribe(context.Background(), types.EventWorkflowStarted)
	require.NoError(t, err)

	w := do(t, h, http.MethodPost, "/api/v1/workflows/report/versions/1.0.0/execute", "", dto.ExecuteWorkflowRequest{
		Async: true,
		Src:   "dashboard",
	})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	eventID := decode[dto.ExecuteResponse](t, w).Data.EventID
	require.NotEmpty(t, eventID)

	select {
	case ev := <-acks:
		assert.Equal(t, eventID, ev.CorrelationID)
		var ack types.StartedAck
		require.NoError(t, ev.Decode(&ack))
		assert.Equal(t, "dashboard", ack.Dst)
		assert.Equal(t, engine.AckStarted, ack.Status)
	case <-time.After(3 * time.Second):
		t.Fatal("未收到启动确认")
	}
}

func TestConfigLifecycle(t *testing.T) {
	_, h := newTestServer(t, func(cfg *config.ControlPlaneConfig) {
		cfg.FlowControl.Policy.BackupOnUpdate = true
	})

	cfg := policy.WorkflowConfig{
		ID: "etl", Version: "1.0.0", Enabled: true, MaxRetries: 1,
		Timeout: 30000, Priority: types.PriorityNormal, Concurrency: 2,
	}
	w := do(t, h, http.MethodPost, "/api/v1/configs", "", cfg)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = do(t, h, http.MethodPost, "/api/v1/configs", "", cfg)
	assert.Equal(t, http.StatusConflict, w.Code)

	cfg.Concurrency = 500
	w = do(t, h, http.MethodPut, "/api/v1/configs/etl/versions/1.0.0", "", cfg)
	require.Equal(t, http.StatusBadRequest, w.Code)
	problems := decode[[]string](t, w)
	assert.NotEmpty(t, problems.Data)

	cfg.Concurrency = 4
	w = do(t, h, http.MethodPut, "/api/v1/configs/etl/versions/1.0.0", "", cfg)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = do(t, h, http.MethodGet, "/api/v1/configs/etl/versions/1.0.0", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 4, decode[policy.WorkflowConfig](t, w).Data.Concurrency)

	w = do(t, h, http.MethodGet, "/api/v1/configs/etl/versions/1.0.0/backups", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, decode[[]string](t, w).Data)

	w = do(t, h, http.MethodGet, "/api/v1/configs/export?format=yaml", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "id: etl")

	w = do(t, h, http.MethodDelete, "/api/v1/configs/etl/versions/1.0.0", "", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = do(t, h, http.MethodGet, "/api/v1/configs/etl/versions/1.0.0", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAuthRequiredWhenSecretConfigured(t *testing.T) {
	_, h := newTestServer(t, withAuth)

	w := do(t, h, http.MethodGet, "/api/v1/instances", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(t, h, http.MethodPost, "/api/v1/auth/login", "", dto.LoginRequest{Username: "admin", Password: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	adminToken := login(t, h, "admin", "admin-pass")
	w = do(t, h, http.MethodGet, "/api/v1/instances", adminToken, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	// 管理员为 user1 设置密码
	w = do(t, h, http.MethodPut, "/api/v1/security/users", adminToken, dto.UserRequest{
		ID: "user1", Username: "user1", Roles: []string{"user"},
		Permissions: []string{"execute", "read"}, Active: true, Password: "user1-pass",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.NotContains(t, w.Body.String(), "passwordHash")

	userToken := login(t, h, "user1", "user1-pass")
	w = do(t, h, http.MethodGet, "/api/v1/security/users", userToken, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = do(t, h, http.MethodPost, "/api/v1/workflows/report/versions/1.0.0/execute", userToken, nil)
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = do(t, h, http.MethodGet, "/api/v1/security/audit?userId=user1&resource=workflow:report@1.0.0", adminToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "user1")
}

func TestExecuteDeniedForRestrictedWorkflow(t *testing.T) {
	cp, h := newTestServer(t, withAuth)
	cfg := &policy.WorkflowConfig{
		ID: "payroll", Version: "1.0.0", Enabled: true, Timeout: 5000,
		Priority: types.PriorityHigh, Concurrency: 1,
		Security: &policy.SecurityPolicy{RequireAuth: true, AllowedRoles: []string{"admin"}},
	}
	require.NoError(t, cp.Policies().Add(context.Background(), cfg))

	adminToken := login(t, h, "admin", "admin-pass")
	w := do(t, h, http.MethodPut, "/api/v1/security/users", adminToken, dto.UserRequest{
		ID: "user1", Username: "user1", Roles: []string{"user"}, Active: true, Password: "user1-pass",
	})
	require.Equal(t, http.StatusOK, w.Code)
	userToken := login(t, h, "user1", "user1-pass")

	w = do(t, h, http.MethodPost, "/api/v1/workflows/payroll/versions/1.0.0/execute", userToken, nil)
	assert.Equal(t, http.StatusForbidden, w.Code, w.Body.String())

	w = do(t, h, http.MethodPost, "/api/v1/workflows/payroll/versions/1.0.0/execute", adminToken, nil)
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestLoginDisabledWithoutSecret(t *testing.T) {
	_, h := newTestServer(t, nil)
	w := do(t, h, http.MethodPost, "/api/v1/auth/login", "", dto.LoginRequest{Username: "admin", Password: "x"})
	assert.Equal(t, http.StatusNotImplemented, w.Code)
}

func TestValidateInput(t *testing.T) {
	_, h := newTestServer(t, nil)
	w := do(t, h, http.MethodPost, "/api/v1/security/validate", "", dto.ValidateInputRequest{
		Data: map[string]interface{}{"name": 42},
		Schema: &dto.InputSchemaRequest{
			Required:   []string{"name", "email"},
			Properties: map[string]string{"name": "string"},
		},
	})
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, `"valid":false`)
	assert.Contains(t, body, "email")
}

func TestScheduleEndpoints(t *testing.T) {
	_, h := newTestServer(t, nil)

	w := do(t, h, http.MethodGet, "/api/v1/schedules", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = do(t, h, http.MethodPost, "/api/v1/schedules/nightly/trigger", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, h, http.MethodPost, "/api/v1/schedules/reload", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestEventStreamPushesLifecycleEvents(t *testing.T) {
	cp, h := newTestServer(t, nil)
	ts := httptest.NewServer(h)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/events/stream?topics=workflow.lifecycle"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	_, _, err = cp.Run(context.Background(), types.StartRequest{ID: "stream", Version: "1.0.0", Src: "test"}, nil)
	require.NoError(t, err)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	var ev types.Event
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, types.EventWorkflowLifecycle, ev.Type)

	var le lifecycle.Event
	require.NoError(t, ev.Decode(&le))
	assert.Equal(t, "stream", le.WorkflowID)
}
