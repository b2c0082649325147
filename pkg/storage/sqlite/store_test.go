package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LENAX/flow-control/pkg/storage"
)

func newTestRepos(t *testing.T) *storage.Repositories {
	t.Helper()
	repos, err := NewRepositoriesFromDSN(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { repos.Close() })
	return repos
}

func TestSQLiteInstanceRepository(t *testing.T) {
	repos := newTestRepos(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	record := &storage.InstanceRecord{
		ID:         "wf-1_1700000000000_abc",
		WorkflowID: "wf-1",
		Version:    "1.0.0",
		Status:     "PENDING",
		UpdatedAt:  now,
		Payload:    []byte(`{"id":"wf-1_1700000000000_abc"}`),
	}
	require.NoError(t, repos.Instances.SaveInstance(ctx, record))

	got, err := repos.Instances.GetInstance(ctx, record.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "PENDING", got.Status)
	assert.JSONEq(t, string(record.Payload), string(got.Payload))

	// upsert覆盖状态
	record.Status = "RUNNING"
	require.NoError(t, repos.Instances.SaveInstance(ctx, record))
	list, err := repos.Instances.ListInstances(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "RUNNING", list[0].Status)

	require.NoError(t, repos.Instances.DeleteInstance(ctx, record.ID))
	got, err = repos.Instances.GetInstance(ctx, record.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSQLiteScheduleStateRepository(t *testing.T) {
	repos := newTestRepos(t)
	ctx := context.Background()
	next := time.Now().UTC().Add(time.Hour).Truncate(time.Second)

	state := &storage.ScheduleState{
		ScheduleID: "daily-report",
		NextRun:    &next,
		RunCount:   3,
		ErrorCount: 1,
		LastError:  "boom",
		UpdatedAt:  time.Now().UTC(),
	}
	require.NoError(t, repos.Schedules.SaveScheduleState(ctx, state))

	got, err := repos.Schedules.GetScheduleState(ctx, "daily-report")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(3), got.RunCount)
	assert.Equal(t, int64(1), got.ErrorCount)
	assert.Equal(t, "boom", got.LastError)
	assert.Nil(t, got.LastRun)
	require.NotNil(t, got.NextRun)
	assert.True(t, next.Equal(got.NextRun.UTC()))

	missing, err := repos.Schedules.GetScheduleState(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestSQLiteSecurityRepository(t *testing.T) {
	repos := newTestRepos(t)
	ctx := context.Background()

	require.NoError(t, repos.Security.SaveSecurityRecord(ctx, &storage.SecurityRecord{
		Kind: storage.SecurityKindUser, Key: "admin", Payload: []byte(`{"id":"admin"}`), UpdatedAt: time.Now(),
	}))
	require.NoError(t, repos.Security.SaveSecurityRecord(ctx, &storage.SecurityRecord{
		Kind: storage.SecurityKindPermission, Key: "wf@1.0.0", Payload: []byte(`{}`), UpdatedAt: time.Now(),
	}))

	users, err := repos.Security.ListSecurityRecords(ctx, storage.SecurityKindUser)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "admin", users[0].Key)

	require.NoError(t, repos.Security.DeleteSecurityRecord(ctx, storage.SecurityKindUser, "admin"))
	users, err = repos.Security.ListSecurityRecords(ctx, storage.SecurityKindUser)
	require.NoError(t, err)
	assert.Empty(t, users)
}

func TestSQLiteDialectUpsert(t *testing.T) {
	d := NewSQLiteDialect()
	sql := d.UpsertSQL("t", []string{"a", "b"}, []string{"a"}, []string{"b"})
	assert.Equal(t, "INSERT INTO t (a, b) VALUES (:a, :b) ON CONFLICT (a) DO UPDATE SET b = excluded.b", sql)
}

func TestSQLiteRepositoriesPing(t *testing.T) {
	repos, err := NewRepositoriesFromDSN(":memory:")
	require.NoError(t, err)
	assert.NoError(t, repos.Ping(context.Background()))

	require.NoError(t, repos.Close())
	assert.Error(t, repos.Ping(context.Background()), "关闭后的连接不可用")
}
