package tenant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/feisync/feisync/internal/drive"
	"github.com/feisync/feisync/internal/store"
)

// Selection errors, distinguished per scope so callers can surface the
// right guidance.
var (
	ErrNoActiveTenant        = errors.New("暂无可用企业实例，请先添加。")
	ErrNoWritableTenant      = errors.New("暂无可用于写入的企业实例，请先调整权限。")
	ErrNoActiveGroupTenant   = errors.New("当前分组无可用企业实例")
	ErrNoWritableGroupTenant = errors.New("当前分组没有可用于写入的企业实例")
)

// ErrGroupNotFound is returned when a group id resolves to nothing.
var ErrGroupNotFound = errors.New("tenant: 分组不存在")

// registryFile is the on-disk shape of the tenants store.
type registryFile struct {
	Tenants []*Tenant `json:"tenants"`
	Groups  []*Group  `json:"groups"`
}

// Registry holds all tenants and groups behind one reader-writer lock.
// Locks are never held across cloud I/O: token fetches read a credential
// snapshot, perform the exchange unlocked, then write back.
type Registry struct {
	mu      sync.RWMutex
	tenants map[string]*Tenant
	groups  map[string]*Group

	dir        store.Dir
	httpClient *http.Client
	logger     *slog.Logger

	// now and fetchToken are seams for tests.
	now        func() time.Time
	fetchToken func(ctx context.Context, baseURL, appID, appSecret string) (drive.Token, error)
}

// NewRegistry creates a registry over the given data directory and loads
// any persisted state. Dangling group member ids are swept on load.
func NewRegistry(dir store.Dir, httpClient *http.Client, logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	r := &Registry{
		tenants:    make(map[string]*Tenant),
		groups:     make(map[string]*Group),
		dir:        dir,
		httpClient: httpClient,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}

	r.fetchToken = func(ctx context.Context, baseURL, appID, appSecret string) (drive.Token, error) {
		return drive.FetchTenantToken(ctx, r.httpClient, baseURL, appID, appSecret)
	}

	if err := r.load(); err != nil {
		return nil, err
	}

	return r, nil
}

func (r *Registry) load() error {
	var file registryFile

	ok, err := r.dir.Load(store.TenantsFile, &file)
	if err != nil {
		return err
	}

	if !ok {
		return nil
	}

	for _, t := range file.Tenants {
		if t.Platform == "" {
			t.Platform = PlatformLark
		}

		if t.Permission == "" {
			t.Permission = PermissionReadWrite
		}

		r.tenants[t.ID] = t
	}

	for _, g := range file.Groups {
		g.TenantIDs = r.sanitizeMembers(g.TenantIDs)
		r.groups[g.ID] = g
	}

	return nil
}

// sanitizeMembers drops dangling and duplicate tenant ids. Callers must
// hold at least the read lock (or be in single-threaded load).
func (r *Registry) sanitizeMembers(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	kept := make([]string, 0, len(ids))

	for _, id := range ids {
		if seen[id] {
			continue
		}

		if _, ok := r.tenants[id]; !ok {
			continue
		}

		seen[id] = true
		kept = append(kept, id)
	}

	return kept
}

// save snapshots the current state under the read lock and persists it.
func (r *Registry) save() error {
	r.mu.RLock()

	file := registryFile{
		Tenants: make([]*Tenant, 0, len(r.tenants)),
		Groups:  make([]*Group, 0, len(r.groups)),
	}

	for _, t := range r.tenants {
		cp := *t
		file.Tenants = append(file.Tenants, &cp)
	}

	for _, g := range r.groups {
		cp := *g
		cp.TenantIDs = append([]string(nil), g.TenantIDs...)
		file.Groups = append(file.Groups, &cp)
	}

	r.mu.RUnlock()

	sort.Slice(file.Tenants, func(i, j int) bool { return file.Tenants[i].Order < file.Tenants[j].Order })
	sort.Slice(file.Groups, func(i, j int) bool { return file.Groups[i].Name < file.Groups[j].Name })

	return r.dir.Save(store.TenantsFile, file)
}

// AddParams carries the fields needed to register a new tenant.
type AddParams struct {
	Name       string
	AppID      string
	AppSecret  string
	QuotaGB    float64
	Platform   Platform
	Permission Permission
}

// Add registers a new tenant, fetching its first token immediately so a
// bad credential pair fails fast. Order is assigned after existing tenants.
func (r *Registry) Add(ctx context.Context, p AddParams) (Public, error) {
	if p.Platform == "" {
		p.Platform = PlatformLark
	}

	if p.Permission == "" {
		p.Permission = PermissionReadWrite
	}

	tok, err := r.fetchToken(ctx, p.Platform.BaseURL(), p.AppID, p.AppSecret)
	if err != nil {
		return Public{}, err
	}

	t := &Tenant{
		ID:          uuid.NewString(),
		Name:        p.Name,
		AppID:       p.AppID,
		AppSecret:   p.AppSecret,
		QuotaGB:     p.QuotaGB,
		Active:      true,
		AccessToken: tok.Value,
		ExpireAt:    &tok.ExpireAt,
		Platform:    p.Platform,
		Permission:  p.Permission,
	}

	r.mu.Lock()
	t.Order = len(r.tenants) + 1
	r.tenants[t.ID] = t
	r.mu.Unlock()

	r.logger.Info("tenant added",
		slog.String("tenant_id", t.ID),
		slog.String("name", t.Name),
		slog.String("platform", string(t.Platform)),
	)

	return t.public(), r.save()
}

// UpdateParams is a patch for tenant metadata; nil fields are unchanged.
type UpdateParams struct {
	TenantID   string
	Name       *string
	AppID      *string
	AppSecret  *string
	QuotaGB    *float64
	Active     *bool
	Platform   *Platform
	Permission *Permission
}

// UpdateMeta applies a metadata patch. Changing the platform or either app
// credential invalidates the cached token and forces an immediate refresh.
func (r *Registry) UpdateMeta(ctx context.Context, p UpdateParams) (Public, error) {
	r.mu.Lock()

	t, ok := r.tenants[p.TenantID]
	if !ok {
		r.mu.Unlock()

		return Public{}, ErrNotFound
	}

	credsChanged := false

	if p.Name != nil {
		t.Name = *p.Name
	}

	if p.AppID != nil && *p.AppID != t.AppID {
		t.AppID = *p.AppID
		credsChanged = true
	}

	if p.AppSecret != nil && *p.AppSecret != t.AppSecret {
		t.AppSecret = *p.AppSecret
		credsChanged = true
	}

	if p.QuotaGB != nil {
		t.QuotaGB = *p.QuotaGB
	}

	if p.Active != nil {
		t.Active = *p.Active
	}

	if p.Platform != nil && *p.Platform != t.Platform {
		t.Platform = *p.Platform
		credsChanged = true
	}

	if p.Permission != nil {
		t.Permission = *p.Permission
	}

	if credsChanged {
		t.AccessToken = ""
		t.ExpireAt = nil
	}

	r.mu.Unlock()

	if err := r.save(); err != nil {
		return Public{}, err
	}

	if credsChanged {
		if _, err := r.RefreshToken(ctx, p.TenantID); err != nil {
			return Public{}, err
		}
	}

	return r.publicByID(p.TenantID)
}

func (r *Registry) publicByID(id string) (Public, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tenants[id]
	if !ok {
		return Public{}, ErrNotFound
	}

	return t.public(), nil
}

// Remove deletes a tenant and sweeps it out of every group's membership.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()

	if _, ok := r.tenants[id]; !ok {
		r.mu.Unlock()

		return ErrNotFound
	}

	delete(r.tenants, id)

	for _, g := range r.groups {
		g.TenantIDs = r.sanitizeMembers(g.TenantIDs)
	}

	r.mu.Unlock()

	return r.save()
}

// ReorderItem assigns one tenant its new order value.
type ReorderItem struct {
	TenantID string `json:"tenant_id"`
	Order    int    `json:"order"`
}

// Reorder applies new order values. Unknown ids are silently skipped.
func (r *Registry) Reorder(items []ReorderItem) error {
	r.mu.Lock()

	for _, item := range items {
		if t, ok := r.tenants[item.TenantID]; ok {
			t.Order = item.Order
		}
	}

	r.mu.Unlock()

	return r.save()
}

// ListPublic returns all tenants without credentials, ordered by Order.
func (r *Registry) ListPublic() []Public {
	r.mu.RLock()

	out := make([]Public, 0, len(r.tenants))
	for _, t := range r.tenants {
		out = append(out, t.public())
	}

	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Order < out[j].Order })

	return out
}

// Detail returns the full tenant record including the app secret.
func (r *Registry) Detail(id string) (Detail, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tenants[id]
	if !ok {
		return Detail{}, ErrNotFound
	}

	return t.detail(), nil
}

// RefreshToken unconditionally exchanges the tenant's credentials for a
// fresh token. The lock is not held across the exchange.
func (r *Registry) RefreshToken(ctx context.Context, id string) (Public, error) {
	r.mu.RLock()

	t, ok := r.tenants[id]
	if !ok {
		r.mu.RUnlock()

		return Public{}, ErrNotFound
	}

	baseURL := t.Platform.BaseURL()
	appID := t.AppID
	appSecret := t.AppSecret

	r.mu.RUnlock()

	tok, err := r.fetchToken(ctx, baseURL, appID, appSecret)
	if err != nil {
		return Public{}, err
	}

	r.mu.Lock()

	t, ok = r.tenants[id]
	if !ok {
		r.mu.Unlock()

		return Public{}, ErrNotFound
	}

	t.AccessToken = tok.Value
	t.ExpireAt = &tok.ExpireAt
	pub := t.public()

	r.mu.Unlock()

	if err := r.save(); err != nil {
		return Public{}, err
	}

	r.logger.Debug("tenant token refreshed", slog.String("tenant_id", id))

	return pub, nil
}

// EnsureToken returns a tenant snapshot with a valid token, refreshing
// lazily when the cached one is stale.
func (r *Registry) EnsureToken(ctx context.Context, id string) (Tenant, error) {
	r.mu.RLock()

	t, ok := r.tenants[id]
	if !ok {
		r.mu.RUnlock()

		return Tenant{}, ErrNotFound
	}

	snapshot := *t
	stale := t.NeedsRefresh(r.now())

	r.mu.RUnlock()

	if !stale {
		return snapshot, nil
	}

	if _, err := r.RefreshToken(ctx, id); err != nil {
		return Tenant{}, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok = r.tenants[id]
	if !ok {
		return Tenant{}, ErrNotFound
	}

	return *t, nil
}

// ClientFor builds a drive client from a tenant snapshot.
func (r *Registry) ClientFor(t Tenant) *drive.Client {
	return drive.NewClient(t.Platform.BaseURL(), t.AccessToken, r.httpClient, r.logger)
}

// PickBestActive selects the active tenant with the lowest order value.
// With requireWritable set, read-only tenants are excluded; otherwise a
// writable tenant is still preferred over a read-only one. A non-nil
// allowed set restricts the candidates (group scope) and switches the
// failure messages to the group variants.
func (r *Registry) PickBestActive(requireWritable bool, allowed map[string]bool) (Tenant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var bestAny, bestRW *Tenant

	for _, t := range r.tenants {
		if !t.Active {
			continue
		}

		if allowed != nil && !allowed[t.ID] {
			continue
		}

		if bestAny == nil || t.Order < bestAny.Order {
			bestAny = t
		}

		if t.Permission != PermissionReadOnly {
			if bestRW == nil || t.Order < bestRW.Order {
				bestRW = t
			}
		}
	}

	grouped := allowed != nil

	if requireWritable {
		if bestRW == nil {
			if grouped {
				return Tenant{}, ErrNoWritableGroupTenant
			}

			return Tenant{}, ErrNoWritableTenant
		}

		return *bestRW, nil
	}

	if bestRW != nil {
		return *bestRW, nil
	}

	if bestAny != nil {
		return *bestAny, nil
	}

	if grouped {
		return Tenant{}, ErrNoActiveGroupTenant
	}

	return Tenant{}, ErrNoActiveTenant
}

// CreateGroup adds a group, sweeping the proposed membership.
func (r *Registry) CreateGroup(name, remark string, tenantIDs []string) (Group, error) {
	g := &Group{
		ID:     uuid.NewString(),
		Name:   name,
		Remark: remark,
	}

	r.mu.Lock()
	g.TenantIDs = r.sanitizeMembers(tenantIDs)
	r.groups[g.ID] = g
	snapshot := *g
	r.mu.Unlock()

	return snapshot, r.save()
}

// GroupUpdateParams is a patch for group metadata; nil fields are unchanged.
type GroupUpdateParams struct {
	GroupID   string
	Name      *string
	Remark    *string
	TenantIDs *[]string
}

// UpdateGroup applies a patch; any membership change is swept.
func (r *Registry) UpdateGroup(p GroupUpdateParams) (Group, error) {
	r.mu.Lock()

	g, ok := r.groups[p.GroupID]
	if !ok {
		r.mu.Unlock()

		return Group{}, ErrGroupNotFound
	}

	if p.Name != nil {
		g.Name = *p.Name
	}

	if p.Remark != nil {
		g.Remark = *p.Remark
	}

	if p.TenantIDs != nil {
		g.TenantIDs = r.sanitizeMembers(*p.TenantIDs)
	}

	snapshot := *g

	r.mu.Unlock()

	return snapshot, r.save()
}

// RemoveGroup deletes a group by id.
func (r *Registry) RemoveGroup(id string) error {
	r.mu.Lock()

	if _, ok := r.groups[id]; !ok {
		r.mu.Unlock()

		return ErrGroupNotFound
	}

	delete(r.groups, id)
	r.mu.Unlock()

	return r.save()
}

// ListGroups returns all groups sorted by name.
func (r *Registry) ListGroups() []Group {
	r.mu.RLock()

	out := make([]Group, 0, len(r.groups))
	for _, g := range r.groups {
		cp := *g
		cp.TenantIDs = append([]string(nil), g.TenantIDs...)
		out = append(out, cp)
	}

	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })

	return out
}

// Group returns one group by id.
func (r *Registry) Group(id string) (Group, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	g, ok := r.groups[id]
	if !ok {
		return Group{}, ErrGroupNotFound
	}

	cp := *g
	cp.TenantIDs = append([]string(nil), g.TenantIDs...)

	return cp, nil
}

// GroupTenants returns the membership of a group, for scope checks.
func (r *Registry) GroupTenants(id string) ([]string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	g, ok := r.groups[id]
	if !ok {
		return nil, false
	}

	return append([]string(nil), g.TenantIDs...), true
}

// GroupName resolves a group's display name; used for scope labels.
func (r *Registry) GroupName(id string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if g, ok := r.groups[id]; ok {
		return g.Name
	}

	return fmt.Sprintf("group:%s", id)
}
