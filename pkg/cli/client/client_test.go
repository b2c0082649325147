package client

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LENAX/flow-control/pkg/api/dto"
	"github.com/LENAX/flow-control/pkg/core/scheduler"
)

func TestClient(t *testing.T) {
	t.Run("ListInstances携带过滤条件与令牌", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/api/v1/instances", r.URL.Path)
			assert.Equal(t, "RUNNING", r.URL.Query().Get("status"))
			assert.Equal(t, "etl", r.URL.Query().Get("workflowId"))
			assert.Equal(t, "5", r.URL.Query().Get("limit"))
			assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))

			_ = json.NewEncoder(w).Encode(dto.NewSuccessResponse(dto.ListResponse[dto.InstanceSummary]{
				Total: 1,
				Items: []dto.InstanceSummary{{ID: "etl_1", WorkflowID: "etl", Status: "RUNNING"}},
			}))
		}))
		defer server.Close()

		result, err := New(server.URL, "tok").ListInstances("RUNNING", "etl", 5, 0)
		require.NoError(t, err)
		assert.Equal(t, 1, result.Total)
		assert.Equal(t, "etl_1", result.Items[0].ID)
	})

	t.Run("错误响应返回message", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/api/v1/instances/missing/pause", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
			_ = json.NewEncoder(w).Encode(dto.NewErrorResponse(404, "暂停实例失败: workflow instance not found"))
		}))
		defer server.Close()

		err := New(server.URL, "").PauseInstance("missing")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not found")
	})

	t.Run("CancelInstance发送原因", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var req dto.CancelInstanceRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "manual", req.Reason)
			_ = json.NewEncoder(w).Encode(dto.NewSuccessResponse(map[string]string{"status": "CANCELLED"}))
		}))
		defer server.Close()

		require.NoError(t, New(server.URL, "").CancelInstance("etl_1", "manual"))
	})

	t.Run("ListSchedules", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(dto.NewSuccessResponse([]scheduler.ScheduleInfo{
				{Config: scheduler.ScheduleConfig{ID: "nightly"}, Armed: true},
			}))
		}))
		defer server.Close()

		schedules, err := New(server.URL, "").ListSchedules()
		require.NoError(t, err)
		require.Len(t, schedules, 1)
		assert.Equal(t, "nightly", schedules[0].Config.ID)
		assert.True(t, schedules[0].Armed)
	})

	t.Run("ExportConfigs返回原文", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "yaml", r.URL.Query().Get("format"))
			_, _ = w.Write([]byte("- id: etl\n"))
		}))
		defer server.Close()

		data, err := New(server.URL, "").ExportConfigs("yaml")
		require.NoError(t, err)
		assert.Equal(t, "- id: etl\n", string(data))
	})
}
