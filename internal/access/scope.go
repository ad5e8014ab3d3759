// Package access implements API-key verification, the Admin/Group access
// scopes derived from keys, and the resource index that maps every remote
// token to its owning tenant. All write handlers must route their tokens
// through these checks before acting.
package access

import (
	"errors"
	"slices"
)

// Operator-facing authorization errors. The strings are part of the API
// contract and surface verbatim in HTTP error responses.
var (
	ErrMissingKey    = errors.New("缺少 API Key")
	ErrInvalidKey    = errors.New("API Key 无效")
	ErrAdminRequired = errors.New("需要管理员权限")
	ErrScopeDenied   = errors.New("无权访问目标企业实例")
	ErrUnknownToken  = errors.New("未找到资源对应的企业实例，请先通过 FeiSync 列表获取该资源。")
)

// Scope is the authorization envelope derived from an API key: either
// unrestricted admin, or a group restricted to its member tenants.
type Scope struct {
	Admin   bool
	GroupID string
}

// AdminScope is the unrestricted scope.
var AdminScope = Scope{Admin: true}

// GroupScope returns a scope bound to one group.
func GroupScope(groupID string) Scope {
	return Scope{GroupID: groupID}
}

// Membership resolves group ids to their member tenant ids. Implemented by
// the tenant registry.
type Membership interface {
	GroupTenants(groupID string) ([]string, bool)
	GroupName(groupID string) string
}

// Label renders the scope for log entries.
func (s Scope) Label(m Membership) string {
	if s.Admin {
		return "admin"
	}

	return m.GroupName(s.GroupID)
}

// EnsureAdmin fails unless the scope is admin.
func (s Scope) EnsureAdmin() error {
	if !s.Admin {
		return ErrAdminRequired
	}

	return nil
}

// AssertTenant checks that the scope may act on the given tenant.
func (s Scope) AssertTenant(m Membership, tenantID string) error {
	if s.Admin {
		return nil
	}

	members, ok := m.GroupTenants(s.GroupID)
	if !ok || !slices.Contains(members, tenantID) {
		return ErrScopeDenied
	}

	return nil
}

// AllowedTenants returns the tenant set the scope may touch, or nil for
// admin (unrestricted). Used to constrain tenant selection.
func (s Scope) AllowedTenants(m Membership) map[string]bool {
	if s.Admin {
		return nil
	}

	members, _ := m.GroupTenants(s.GroupID)

	allowed := make(map[string]bool, len(members))
	for _, id := range members {
		allowed[id] = true
	}

	return allowed
}
