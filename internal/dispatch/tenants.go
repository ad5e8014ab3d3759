package dispatch

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/feisync/feisync/internal/access"
	"github.com/feisync/feisync/internal/tenant"
)

func (d *Dispatcher) handleListTenants(_ context.Context, s access.Scope, _ json.RawMessage) (any, error) {
	all := d.registry.ListPublic()

	allowed := s.AllowedTenants(d.registry)
	if allowed == nil {
		return all, nil
	}

	visible := make([]tenant.Public, 0, len(all))

	for _, t := range all {
		if allowed[t.ID] {
			visible = append(visible, t)
		}
	}

	return visible, nil
}

type addTenantPayload struct {
	Name       string            `json:"name"`
	AppID      string            `json:"app_id"`
	AppSecret  string            `json:"app_secret"`
	QuotaGB    float64           `json:"quota_gb"`
	Platform   tenant.Platform   `json:"platform"`
	Permission tenant.Permission `json:"permission"`
}

func (d *Dispatcher) handleAddTenant(ctx context.Context, s access.Scope, payload json.RawMessage) (any, error) {
	if err := s.EnsureAdmin(); err != nil {
		return nil, err
	}

	p, err := parsePayload[addTenantPayload](payload)
	if err != nil {
		return nil, err
	}

	for _, f := range []struct{ value, name string }{
		{p.Name, "name"},
		{p.AppID, "app_id"},
		{p.AppSecret, "app_secret"},
	} {
		if err := requireField(f.value, f.name); err != nil {
			return nil, err
		}
	}

	return d.registry.Add(ctx, tenant.AddParams{
		Name:       p.Name,
		AppID:      p.AppID,
		AppSecret:  p.AppSecret,
		QuotaGB:    p.QuotaGB,
		Platform:   p.Platform,
		Permission: p.Permission,
	})
}

type tenantIDPayload struct {
	TenantID string `json:"tenant_id"`
}

func (d *Dispatcher) handleRefreshTenantToken(ctx context.Context, s access.Scope, payload json.RawMessage) (any, error) {
	p, err := parsePayload[tenantIDPayload](payload)
	if err != nil {
		return nil, err
	}

	if err := requireField(p.TenantID, "tenant_id"); err != nil {
		return nil, err
	}

	if err := s.AssertTenant(d.registry, p.TenantID); err != nil {
		return nil, err
	}

	return d.registry.RefreshToken(ctx, p.TenantID)
}

func (d *Dispatcher) handleGetTenantDetail(_ context.Context, s access.Scope, payload json.RawMessage) (any, error) {
	if err := s.EnsureAdmin(); err != nil {
		return nil, err
	}

	p, err := parsePayload[tenantIDPayload](payload)
	if err != nil {
		return nil, err
	}

	if err := requireField(p.TenantID, "tenant_id"); err != nil {
		return nil, err
	}

	return d.registry.Detail(p.TenantID)
}

type updateTenantPayload struct {
	TenantID   string             `json:"tenant_id"`
	Name       *string            `json:"name"`
	AppID      *string            `json:"app_id"`
	AppSecret  *string            `json:"app_secret"`
	QuotaGB    *float64           `json:"quota_gb"`
	Active     *bool              `json:"active"`
	Platform   *tenant.Platform   `json:"platform"`
	Permission *tenant.Permission `json:"permission"`
}

func (d *Dispatcher) handleUpdateTenantMeta(ctx context.Context, s access.Scope, payload json.RawMessage) (any, error) {
	if err := s.EnsureAdmin(); err != nil {
		return nil, err
	}

	p, err := parsePayload[updateTenantPayload](payload)
	if err != nil {
		return nil, err
	}

	if err := requireField(p.TenantID, "tenant_id"); err != nil {
		return nil, err
	}

	return d.registry.UpdateMeta(ctx, tenant.UpdateParams{
		TenantID:   p.TenantID,
		Name:       p.Name,
		AppID:      p.AppID,
		AppSecret:  p.AppSecret,
		QuotaGB:    p.QuotaGB,
		Active:     p.Active,
		Platform:   p.Platform,
		Permission: p.Permission,
	})
}

func (d *Dispatcher) handleRemoveTenant(_ context.Context, s access.Scope, payload json.RawMessage) (any, error) {
	if err := s.EnsureAdmin(); err != nil {
		return nil, err
	}

	p, err := parsePayload[tenantIDPayload](payload)
	if err != nil {
		return nil, err
	}

	if err := requireField(p.TenantID, "tenant_id"); err != nil {
		return nil, err
	}

	if err := d.registry.Remove(p.TenantID); err != nil {
		return nil, err
	}

	if err := d.index.RemoveTenant(p.TenantID); err != nil {
		return nil, err
	}

	return true, nil
}

func (d *Dispatcher) handleReorderTenants(_ context.Context, s access.Scope, payload json.RawMessage) (any, error) {
	if err := s.EnsureAdmin(); err != nil {
		return nil, err
	}

	// The payload for this command is a bare JSON array.
	items, err := parsePayload[[]tenant.ReorderItem](payload)
	if err != nil {
		return nil, err
	}

	if err := d.registry.Reorder(items); err != nil {
		return nil, err
	}

	return d.registry.ListPublic(), nil
}

// groupView is a group joined with its API key for admin listings.
type groupView struct {
	tenant.Group
	APIKey string `json:"api_key"`
}

func (d *Dispatcher) groupWithKey(g tenant.Group) (groupView, error) {
	key, err := d.keys.EnsureGroupKey(g.ID)
	if err != nil {
		return groupView{}, err
	}

	return groupView{Group: g, APIKey: key}, nil
}

func (d *Dispatcher) handleListGroups(_ context.Context, s access.Scope, _ json.RawMessage) (any, error) {
	if err := s.EnsureAdmin(); err != nil {
		return nil, err
	}

	groups := d.registry.ListGroups()

	out := make([]groupView, 0, len(groups))

	for _, g := range groups {
		v, err := d.groupWithKey(g)
		if err != nil {
			return nil, err
		}

		out = append(out, v)
	}

	return out, nil
}

type addGroupPayload struct {
	Name      string   `json:"name"`
	Remark    string   `json:"remark"`
	TenantIDs []string `json:"tenant_ids"`
}

func (d *Dispatcher) handleAddGroup(_ context.Context, s access.Scope, payload json.RawMessage) (any, error) {
	if err := s.EnsureAdmin(); err != nil {
		return nil, err
	}

	p, err := parsePayload[addGroupPayload](payload)
	if err != nil {
		return nil, err
	}

	if err := requireField(p.Name, "name"); err != nil {
		return nil, err
	}

	g, err := d.registry.CreateGroup(p.Name, p.Remark, p.TenantIDs)
	if err != nil {
		return nil, err
	}

	return d.groupWithKey(g)
}

type updateGroupPayload struct {
	GroupID   string    `json:"group_id"`
	Name      *string   `json:"name"`
	Remark    *string   `json:"remark"`
	TenantIDs *[]string `json:"tenant_ids"`
}

func (d *Dispatcher) handleUpdateGroup(_ context.Context, s access.Scope, payload json.RawMessage) (any, error) {
	if err := s.EnsureAdmin(); err != nil {
		return nil, err
	}

	p, err := parsePayload[updateGroupPayload](payload)
	if err != nil {
		return nil, err
	}

	if err := requireField(p.GroupID, "group_id"); err != nil {
		return nil, err
	}

	g, err := d.registry.UpdateGroup(tenant.GroupUpdateParams{
		GroupID:   p.GroupID,
		Name:      p.Name,
		Remark:    p.Remark,
		TenantIDs: p.TenantIDs,
	})
	if err != nil {
		return nil, err
	}

	return d.groupWithKey(g)
}

type groupIDPayload struct {
	GroupID string `json:"group_id"`
}

func (d *Dispatcher) handleDeleteGroup(_ context.Context, s access.Scope, payload json.RawMessage) (any, error) {
	if err := s.EnsureAdmin(); err != nil {
		return nil, err
	}

	p, err := parsePayload[groupIDPayload](payload)
	if err != nil {
		return nil, err
	}

	if err := requireField(p.GroupID, "group_id"); err != nil {
		return nil, err
	}

	if err := d.registry.RemoveGroup(p.GroupID); err != nil {
		return nil, err
	}

	if err := d.keys.RemoveGroupKey(p.GroupID); err != nil {
		return nil, err
	}

	return true, nil
}

func (d *Dispatcher) handleRegenerateGroupKey(_ context.Context, s access.Scope, payload json.RawMessage) (any, error) {
	if err := s.EnsureAdmin(); err != nil {
		return nil, err
	}

	p, err := parsePayload[groupIDPayload](payload)
	if err != nil {
		return nil, err
	}

	if err := requireField(p.GroupID, "group_id"); err != nil {
		return nil, err
	}

	if _, err := d.registry.Group(p.GroupID); err != nil {
		return nil, err
	}

	key, err := d.keys.RegenerateGroupKey(p.GroupID)
	if err != nil {
		return nil, err
	}

	return map[string]string{"api_key": key}, nil
}

func (d *Dispatcher) handleGetAPIKey(_ context.Context, s access.Scope, _ json.RawMessage) (any, error) {
	if err := s.EnsureAdmin(); err != nil {
		return nil, err
	}

	return map[string]string{"api_key": d.keys.AdminKeyPlain()}, nil
}

type updateAPIKeyPayload struct {
	CurrentKey string `json:"currentKey"`
	NewKey     string `json:"newKey"`
}

func (d *Dispatcher) handleUpdateAPIKey(_ context.Context, s access.Scope, payload json.RawMessage) (any, error) {
	if err := s.EnsureAdmin(); err != nil {
		return nil, err
	}

	p, err := parsePayload[updateAPIKeyPayload](payload)
	if err != nil {
		return nil, err
	}

	if err := requireField(p.NewKey, "newKey"); err != nil {
		return nil, err
	}

	if current := d.keys.AdminKeyPlain(); current != "" && current != p.CurrentKey {
		return nil, errors.New("当前 API Key 不正确")
	}

	if err := d.keys.SetAdminKey(p.NewKey); err != nil {
		return nil, err
	}

	return true, nil
}
