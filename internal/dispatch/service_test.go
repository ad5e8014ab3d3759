package dispatch

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feisync/feisync/internal/access"
)

type fakeService struct {
	status  ServiceStatus
	started int
	stopped int
	err     error
}

func (f *fakeService) Status() ServiceStatus { return f.status }

func (f *fakeService) UpdateConfig(host *string, port, timeout *int) (ServiceStatus, error) {
	if f.err != nil {
		return ServiceStatus{}, f.err
	}

	if host != nil {
		f.status.ListenHost = *host
	}

	if port != nil {
		f.status.Port = *port
	}

	if timeout != nil {
		f.status.TimeoutSecs = *timeout
	}

	return f.status, nil
}

func (f *fakeService) Start() error {
	if f.err != nil {
		return f.err
	}

	f.started++
	f.status.Running = true

	return nil
}

func (f *fakeService) Stop() error {
	if f.err != nil {
		return f.err
	}

	f.stopped++
	f.status.Running = false

	return nil
}

func TestDispatch_ServiceCommands(t *testing.T) {
	f := newFixture(t)
	svc := &fakeService{status: ServiceStatus{ListenHost: "127.0.0.1", Port: 6688, TimeoutSecs: 120}}
	f.d.SetService(svc)

	result, err := f.d.Dispatch(context.Background(), "get_api_service_config", "", nil)
	require.NoError(t, err)

	status, ok := result.(ServiceStatus)
	require.True(t, ok)
	assert.Equal(t, 6688, status.Port)
	assert.False(t, status.Running)

	result, err = f.d.Dispatch(context.Background(), "start_api_service", "", nil)
	require.NoError(t, err)
	assert.True(t, result.(ServiceStatus).Running)
	assert.Equal(t, 1, svc.started)

	result, err = f.d.Dispatch(context.Background(), "update_api_service_config", "",
		json.RawMessage(mustJSON(t, map[string]any{"port": 7788, "timeout_secs": 60})))
	require.NoError(t, err)

	status = result.(ServiceStatus)
	assert.Equal(t, 7788, status.Port)
	assert.Equal(t, 60, status.TimeoutSecs)
	assert.Equal(t, "127.0.0.1", status.ListenHost)

	result, err = f.d.Dispatch(context.Background(), "stop_api_service", "", nil)
	require.NoError(t, err)
	assert.False(t, result.(ServiceStatus).Running)
	assert.Equal(t, 1, svc.stopped)
}

func TestDispatch_ServiceCommandsRequireAdmin(t *testing.T) {
	f := newFixture(t, seedTenant("t1", "甲公司", 1))
	f.d.SetService(&fakeService{})

	require.NoError(t, f.keys.SetAdminKey("admin-key"))

	g, err := f.registry.CreateGroup("渠道组", "", []string{"t1"})
	require.NoError(t, err)

	groupKey, err := f.keys.EnsureGroupKey(g.ID)
	require.NoError(t, err)

	for _, name := range []string{
		"get_api_service_config",
		"update_api_service_config",
		"start_api_service",
		"stop_api_service",
	} {
		_, err := f.d.Dispatch(context.Background(), name, groupKey, nil)
		assert.ErrorIs(t, err, access.ErrAdminRequired, name)
	}

	// The route catalog carries no secrets and stays open to every scope.
	result, err := f.d.Dispatch(context.Background(), "list_api_routes", groupKey, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, result)
}

func TestDispatch_ServiceCommandsWithoutService(t *testing.T) {
	f := newFixture(t)

	_, err := f.d.Dispatch(context.Background(), "get_api_service_config", "", nil)
	assert.ErrorIs(t, err, ErrNoService)

	_, err = f.d.Dispatch(context.Background(), "start_api_service", "", nil)
	assert.ErrorIs(t, err, ErrNoService)
}

func TestDispatch_ListAPIRoutes(t *testing.T) {
	f := newFixture(t)

	result, err := f.d.Dispatch(context.Background(), "list_api_routes", "", nil)
	require.NoError(t, err)

	routes, ok := result.([]RouteDoc)
	require.True(t, ok)
	require.Len(t, routes, len(f.d.Commands()))

	for _, r := range routes {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "/command/"+r.Name, r.Path)
		assert.NotEmpty(t, r.Description)
	}
}
