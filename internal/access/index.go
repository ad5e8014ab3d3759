package access

import (
	"sync"

	"github.com/feisync/feisync/internal/store"
)

// ResourceIndex maps every observed remote token to its owning tenant.
// Listings, folder creation, uploads, and copies register tokens; deletes
// and tenant removal sweep them. Any handler consuming a token must
// resolve it here before acting.
type ResourceIndex struct {
	mu      sync.RWMutex
	entries map[string]string // token → tenant id

	dir store.Dir
}

// NewResourceIndex loads the persisted index.
func NewResourceIndex(dir store.Dir) (*ResourceIndex, error) {
	idx := &ResourceIndex{
		entries: make(map[string]string),
		dir:     dir,
	}

	if _, err := dir.Load(store.ResourceIndexFile, &idx.entries); err != nil {
		return nil, err
	}

	if idx.entries == nil {
		idx.entries = make(map[string]string)
	}

	return idx, nil
}

func (idx *ResourceIndex) save() error {
	idx.mu.RLock()

	snapshot := make(map[string]string, len(idx.entries))
	for token, tenantID := range idx.entries {
		snapshot[token] = tenantID
	}

	idx.mu.RUnlock()

	return idx.dir.Save(store.ResourceIndexFile, snapshot)
}

// Register records tokens as owned by the tenant. Empty tokens are ignored.
func (idx *ResourceIndex) Register(tenantID string, tokens ...string) error {
	idx.mu.Lock()

	changed := false

	for _, token := range tokens {
		if token == "" {
			continue
		}

		if idx.entries[token] != tenantID {
			idx.entries[token] = tenantID
			changed = true
		}
	}

	idx.mu.Unlock()

	if !changed {
		return nil
	}

	return idx.save()
}

// Remove forgets a token, after the remote resource is deleted.
func (idx *ResourceIndex) Remove(token string) error {
	idx.mu.Lock()

	if _, ok := idx.entries[token]; !ok {
		idx.mu.Unlock()

		return nil
	}

	delete(idx.entries, token)
	idx.mu.Unlock()

	return idx.save()
}

// RemoveTenant sweeps every token owned by the tenant.
func (idx *ResourceIndex) RemoveTenant(tenantID string) error {
	idx.mu.Lock()

	changed := false

	for token, owner := range idx.entries {
		if owner == tenantID {
			delete(idx.entries, token)
			changed = true
		}
	}

	idx.mu.Unlock()

	if !changed {
		return nil
	}

	return idx.save()
}

// Resolve returns the owning tenant of a token.
func (idx *ResourceIndex) Resolve(token string) (string, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	tenantID, ok := idx.entries[token]

	return tenantID, ok
}

// AssertToken resolves a token through the index and checks the scope
// against the owning tenant. Unknown tokens direct the caller to discover
// the resource through a listing first.
func (s Scope) AssertToken(idx *ResourceIndex, m Membership, token string) (string, error) {
	tenantID, ok := idx.Resolve(token)
	if !ok {
		return "", ErrUnknownToken
	}

	if err := s.AssertTenant(m, tenantID); err != nil {
		return "", err
	}

	return tenantID, nil
}
