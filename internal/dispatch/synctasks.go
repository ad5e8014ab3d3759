package dispatch

import (
	"context"
	"encoding/json"

	"github.com/feisync/feisync/internal/access"
	"github.com/feisync/feisync/internal/sync"
)

func (d *Dispatcher) handleListSyncTasks(_ context.Context, s access.Scope, _ json.RawMessage) (any, error) {
	tasks := d.syncStore.List()

	allowed := s.AllowedTenants(d.registry)
	if allowed == nil {
		return tasks, nil
	}

	visible := make([]sync.TaskRecord, 0, len(tasks))

	for _, t := range tasks {
		if allowed[t.TenantID] {
			visible = append(visible, t)
		}
	}

	return visible, nil
}

func (d *Dispatcher) handleCreateSyncTask(_ context.Context, s access.Scope, payload json.RawMessage) (any, error) {
	p, err := parsePayload[sync.CreateParams](payload)
	if err != nil {
		return nil, err
	}

	for _, f := range []struct{ value, name string }{
		{p.Name, "name"},
		{string(p.Direction), "direction"},
		{p.TenantID, "tenant_id"},
		{p.RemoteFolderToken, "remote_folder_token"},
		{p.LocalPath, "local_path"},
	} {
		if err := requireField(f.value, f.name); err != nil {
			return nil, err
		}
	}

	if err := s.AssertTenant(d.registry, p.TenantID); err != nil {
		return nil, err
	}

	// Backfill display names so listings stay readable when the caller
	// only supplies ids.
	if p.TenantName == "" {
		if t, err := d.registry.Detail(p.TenantID); err == nil {
			p.TenantName = t.Name
		}
	}

	if p.GroupName == "" && p.GroupID != "" {
		p.GroupName = d.registry.GroupName(p.GroupID)
	}

	return d.syncStore.Create(p)
}

func (d *Dispatcher) handleUpdateSyncTask(_ context.Context, s access.Scope, payload json.RawMessage) (any, error) {
	p, err := parsePayload[sync.UpdateParams](payload)
	if err != nil {
		return nil, err
	}

	if err := requireField(p.TaskID, "task_id"); err != nil {
		return nil, err
	}

	current, err := d.syncStore.Get(p.TaskID)
	if err != nil {
		return nil, err
	}

	if err := s.AssertTenant(d.registry, current.TenantID); err != nil {
		return nil, err
	}

	if p.TenantID != nil && *p.TenantID != current.TenantID {
		if err := s.AssertTenant(d.registry, *p.TenantID); err != nil {
			return nil, err
		}
	}

	return d.syncStore.ApplyUpdate(p)
}

func (d *Dispatcher) handleDeleteSyncTask(_ context.Context, s access.Scope, payload json.RawMessage) (any, error) {
	id, err := parseTaskID(payload)
	if err != nil {
		return nil, err
	}

	current, err := d.syncStore.Get(id)
	if err != nil {
		return nil, err
	}

	if err := s.AssertTenant(d.registry, current.TenantID); err != nil {
		return nil, err
	}

	if err := d.syncStore.Remove(id); err != nil {
		return nil, err
	}

	return true, nil
}

func (d *Dispatcher) handleTriggerSyncTask(ctx context.Context, s access.Scope, payload json.RawMessage) (any, error) {
	id, err := parseTaskID(payload)
	if err != nil {
		return nil, err
	}

	current, err := d.syncStore.Get(id)
	if err != nil {
		return nil, err
	}

	if err := s.AssertTenant(d.registry, current.TenantID); err != nil {
		return nil, err
	}

	return d.syncEngine.Trigger(ctx, id)
}

type syncLogsPayload struct {
	TaskID string `json:"task_id"`
	Limit  int    `json:"limit"`
}

func (d *Dispatcher) handleListSyncLogs(_ context.Context, s access.Scope, payload json.RawMessage) (any, error) {
	p, err := parsePayload[syncLogsPayload](payload)
	if err != nil {
		return nil, err
	}

	if err := requireField(p.TaskID, "task_id"); err != nil {
		return nil, err
	}

	current, err := d.syncStore.Get(p.TaskID)
	if err != nil {
		return nil, err
	}

	if err := s.AssertTenant(d.registry, current.TenantID); err != nil {
		return nil, err
	}

	return d.syncStore.Logs(p.TaskID, p.Limit), nil
}
