// Package tenant manages the population of cloud-drive tenant credentials:
// CRUD, ordering, lazy token refresh, writability enforcement, and the
// groups that scope third-party API keys to tenant subsets.
package tenant

import (
	"errors"
	"fmt"
	"time"
)

// refreshThreshold is how much remaining token lifetime triggers a refresh.
const refreshThreshold = 30 * time.Minute

// Platform selects which cloud host a tenant's app is registered on.
type Platform string

const (
	PlatformLark   Platform = "lark"
	PlatformFeishu Platform = "feishu"
)

// BaseURL returns the REST API host for the platform. Unknown values fall
// back to the international host.
func (p Platform) BaseURL() string {
	if p == PlatformFeishu {
		return "https://open.feishu.cn"
	}

	return "https://open.larksuite.com"
}

// Permission is a tenant's write policy.
type Permission string

const (
	PermissionReadWrite Permission = "read_write"
	PermissionReadOnly  Permission = "read_only"
)

// ErrNotFound is returned when a tenant or group id resolves to nothing.
var ErrNotFound = errors.New("tenant: 企业实例不存在")

// Tenant is one configured cloud-drive application identity.
type Tenant struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	AppID       string     `json:"app_id"`
	AppSecret   string     `json:"app_secret"`
	QuotaGB     float64    `json:"quota_gb"`
	UsedGB      float64    `json:"used_gb"`
	Active      bool       `json:"active"`
	AccessToken string     `json:"tenant_access_token,omitempty"`
	ExpireAt    *time.Time `json:"expire_at,omitempty"`
	Platform    Platform   `json:"platform"`
	Order       int        `json:"order"`
	Permission  Permission `json:"permission"`
}

// NeedsRefresh reports whether the cached token is absent or within the
// refresh threshold of expiry.
func (t *Tenant) NeedsRefresh(now time.Time) bool {
	if t.AccessToken == "" || t.ExpireAt == nil {
		return true
	}

	return t.ExpireAt.Sub(now) < refreshThreshold
}

// EnsureWritable fails when the tenant is configured read-only.
func (t *Tenant) EnsureWritable() error {
	if t.Permission == PermissionReadOnly {
		return fmt.Errorf("企业实例「%s」被设置为只读，禁止执行写入操作", t.Name)
	}

	return nil
}

// Public is the tenant view exposed to listings: credentials and the cached
// token are withheld.
type Public struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	AppID      string     `json:"app_id"`
	QuotaGB    float64    `json:"quota_gb"`
	UsedGB     float64    `json:"used_gb"`
	Active     bool       `json:"active"`
	Platform   Platform   `json:"platform"`
	Order      int        `json:"order"`
	Permission Permission `json:"permission"`
}

// Detail extends Public with the app secret, for admin inspection only.
type Detail struct {
	Public
	AppSecret string `json:"app_secret"`
}

func (t *Tenant) public() Public {
	return Public{
		ID:         t.ID,
		Name:       t.Name,
		AppID:      t.AppID,
		QuotaGB:    t.QuotaGB,
		UsedGB:     t.UsedGB,
		Active:     t.Active,
		Platform:   t.Platform,
		Order:      t.Order,
		Permission: t.Permission,
	}
}

func (t *Tenant) detail() Detail {
	return Detail{Public: t.public(), AppSecret: t.AppSecret}
}

// Group is a named subset of tenants sharing one API key. Membership is
// held as ids (weak references); dangling ids are swept on load and on
// every edit.
type Group struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Remark    string   `json:"remark,omitempty"`
	TenantIDs []string `json:"tenant_ids"`
}
