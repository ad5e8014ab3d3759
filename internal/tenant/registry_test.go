package tenant

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feisync/feisync/internal/drive"
	"github.com/feisync/feisync/internal/store"
)

// newTestRegistry returns a registry over a temp dir with a stubbed token
// exchange so tests never touch the network.
func newTestRegistry(t *testing.T) *Registry {
	t.Helper()

	r, err := NewRegistry(store.NewDir(t.TempDir()), nil, slog.Default())
	require.NoError(t, err)

	r.fetchToken = func(_ context.Context, _, appID, _ string) (drive.Token, error) {
		return drive.Token{
			Value:    "tok-" + appID,
			ExpireAt: time.Now().UTC().Add(2 * time.Hour),
		}, nil
	}

	return r
}

func addTenant(t *testing.T, r *Registry, name string) Public {
	t.Helper()

	pub, err := r.Add(context.Background(), AddParams{
		Name:      name,
		AppID:     "app-" + name,
		AppSecret: "secret-" + name,
	})
	require.NoError(t, err)

	return pub
}

func TestAdd_AssignsOrderAndFetchesToken(t *testing.T) {
	r := newTestRegistry(t)

	first := addTenant(t, r, "one")
	second := addTenant(t, r, "two")

	assert.Equal(t, 1, first.Order)
	assert.Equal(t, 2, second.Order)
	assert.True(t, first.Active)
	assert.Equal(t, PlatformLark, first.Platform)
	assert.Equal(t, PermissionReadWrite, first.Permission)

	detail, err := r.Detail(first.ID)
	require.NoError(t, err)
	assert.Equal(t, "secret-one", detail.AppSecret)
}

func TestNeedsRefresh(t *testing.T) {
	now := time.Now().UTC()
	soon := now.Add(10 * time.Minute)
	later := now.Add(2 * time.Hour)

	tests := []struct {
		name   string
		tenant Tenant
		want   bool
	}{
		{"no token", Tenant{}, true},
		{"no expiry", Tenant{AccessToken: "t"}, true},
		{"expiring soon", Tenant{AccessToken: "t", ExpireAt: &soon}, true},
		{"fresh", Tenant{AccessToken: "t", ExpireAt: &later}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.tenant.NeedsRefresh(now))
		})
	}
}

func TestEnsureToken_RefreshesLazily(t *testing.T) {
	r := newTestRegistry(t)
	pub := addTenant(t, r, "one")

	// Force staleness.
	r.mu.Lock()
	r.tenants[pub.ID].AccessToken = ""
	r.mu.Unlock()

	var calls int

	r.fetchToken = func(_ context.Context, _, _, _ string) (drive.Token, error) {
		calls++
		exp := time.Now().UTC().Add(2 * time.Hour)

		return drive.Token{Value: "fresh", ExpireAt: exp}, nil
	}

	snap, err := r.EnsureToken(context.Background(), pub.ID)
	require.NoError(t, err)
	assert.Equal(t, "fresh", snap.AccessToken)
	assert.Equal(t, 1, calls)

	// Second call uses the cache.
	_, err = r.EnsureToken(context.Background(), pub.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestUpdateMeta_CredentialChangeForcesRefresh(t *testing.T) {
	r := newTestRegistry(t)
	pub := addTenant(t, r, "one")

	var calls int

	r.fetchToken = func(_ context.Context, _, _, _ string) (drive.Token, error) {
		calls++
		exp := time.Now().UTC().Add(time.Hour)

		return drive.Token{Value: "rotated", ExpireAt: exp}, nil
	}

	newSecret := "changed"
	_, err := r.UpdateMeta(context.Background(), UpdateParams{TenantID: pub.ID, AppSecret: &newSecret})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)

	// Name-only change does not touch the token.
	newName := "renamed"
	_, err = r.UpdateMeta(context.Background(), UpdateParams{TenantID: pub.ID, Name: &newName})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestEnsureWritable(t *testing.T) {
	ro := Tenant{Name: "库房", Permission: PermissionReadOnly}
	err := ro.EnsureWritable()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "库房")

	rw := Tenant{Permission: PermissionReadWrite}
	assert.NoError(t, rw.EnsureWritable())
}

func TestPickBestActive(t *testing.T) {
	r := newTestRegistry(t)
	a := addTenant(t, r, "a")
	b := addTenant(t, r, "b")
	c := addTenant(t, r, "c")

	// a inactive, b read-only; c is the only writable active tenant.
	inactive := false
	_, err := r.UpdateMeta(context.Background(), UpdateParams{TenantID: a.ID, Active: &inactive})
	require.NoError(t, err)

	readOnly := PermissionReadOnly
	_, err = r.UpdateMeta(context.Background(), UpdateParams{TenantID: b.ID, Permission: &readOnly})
	require.NoError(t, err)

	picked, err := r.PickBestActive(true, nil)
	require.NoError(t, err)
	assert.Equal(t, c.ID, picked.ID)

	// Without the writable requirement, the writable tenant still wins
	// over the lower-ordered read-only one.
	picked, err = r.PickBestActive(false, nil)
	require.NoError(t, err)
	assert.Equal(t, c.ID, picked.ID)

	// Group scope restricted to the read-only tenant.
	allowed := map[string]bool{b.ID: true}

	_, err = r.PickBestActive(true, allowed)
	assert.ErrorIs(t, err, ErrNoWritableGroupTenant)

	picked, err = r.PickBestActive(false, allowed)
	require.NoError(t, err)
	assert.Equal(t, b.ID, picked.ID)

	_, err = r.PickBestActive(false, map[string]bool{a.ID: true})
	assert.ErrorIs(t, err, ErrNoActiveGroupTenant)
}

func TestPickBestActive_Empty(t *testing.T) {
	r := newTestRegistry(t)

	_, err := r.PickBestActive(false, nil)
	assert.ErrorIs(t, err, ErrNoActiveTenant)

	_, err = r.PickBestActive(true, nil)
	assert.ErrorIs(t, err, ErrNoWritableTenant)
}

func TestGroups_MembershipSweep(t *testing.T) {
	r := newTestRegistry(t)
	a := addTenant(t, r, "a")
	b := addTenant(t, r, "b")

	g, err := r.CreateGroup("ops", "", []string{a.ID, b.ID, a.ID, "ghost"})
	require.NoError(t, err)
	assert.Equal(t, []string{a.ID, b.ID}, g.TenantIDs)

	// Removing a tenant sweeps it out of membership.
	require.NoError(t, r.Remove(b.ID))

	members, ok := r.GroupTenants(g.ID)
	require.True(t, ok)
	assert.Equal(t, []string{a.ID}, members)
}

func TestRegistry_PersistsAcrossReload(t *testing.T) {
	dir := store.NewDir(t.TempDir())

	r, err := NewRegistry(dir, nil, slog.Default())
	require.NoError(t, err)
	r.fetchToken = func(_ context.Context, _, _, _ string) (drive.Token, error) {
		exp := time.Now().UTC().Add(time.Hour)

		return drive.Token{Value: "t", ExpireAt: exp}, nil
	}

	pub, err := r.Add(context.Background(), AddParams{Name: "persisted", AppID: "a", AppSecret: "s"})
	require.NoError(t, err)

	_, err = r.CreateGroup("g1", "note", []string{pub.ID})
	require.NoError(t, err)

	reloaded, err := NewRegistry(dir, nil, slog.Default())
	require.NoError(t, err)

	tenants := reloaded.ListPublic()
	require.Len(t, tenants, 1)
	assert.Equal(t, "persisted", tenants[0].Name)

	groups := reloaded.ListGroups()
	require.Len(t, groups, 1)
	assert.Equal(t, []string{pub.ID}, groups[0].TenantIDs)
}
