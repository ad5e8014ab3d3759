package access

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/feisync/feisync/internal/store"
)

// groupKeyRecord pairs a group with its API key. The plain value is kept
// for echo-back to operators; the hash is what verification compares.
type groupKeyRecord struct {
	GroupID string `json:"group_id"`
	Hash    string `json:"hash"`
	Plain   string `json:"plain"`
}

// securityFile is the on-disk shape of the security store.
type securityFile struct {
	Hash      string           `json:"hash"`
	Plain     string           `json:"plain"`
	GroupKeys []groupKeyRecord `json:"group_keys"`
}

// Keys holds the admin key and every group key. When no admin key has been
// configured, verification promotes every caller to admin (bootstrap mode)
// so a fresh install can be configured at all.
type Keys struct {
	mu         sync.RWMutex
	adminHash  string
	adminPlain string
	groupKeys  map[string]groupKeyRecord

	dir store.Dir
}

// NewKeys loads the security store. A legacy file holding a bare key
// instead of JSON is accepted as the plain admin key.
func NewKeys(dir store.Dir) (*Keys, error) {
	k := &Keys{
		groupKeys: make(map[string]groupKeyRecord),
		dir:       dir,
	}

	data, ok, err := dir.LoadRaw(store.SecurityFile)
	if err != nil {
		return nil, err
	}

	if !ok {
		return k, nil
	}

	var file securityFile
	if err := json.Unmarshal(data, &file); err != nil {
		// Legacy format: the whole file is the plain admin key.
		plain := strings.TrimSpace(string(data))
		if plain != "" {
			k.adminPlain = plain
			k.adminHash = hashKey(plain)
		}

		return k, nil
	}

	k.adminHash = file.Hash
	k.adminPlain = file.Plain

	for _, rec := range file.GroupKeys {
		k.groupKeys[rec.GroupID] = rec
	}

	return k, nil
}

func hashKey(key string) string {
	sum := sha256.Sum256([]byte(key))

	return hex.EncodeToString(sum[:])
}

// generateKey produces a new API key: a v4 UUID with the dashes stripped.
func generateKey() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

func (k *Keys) save() error {
	k.mu.RLock()

	file := securityFile{
		Hash:      k.adminHash,
		Plain:     k.adminPlain,
		GroupKeys: make([]groupKeyRecord, 0, len(k.groupKeys)),
	}

	for _, rec := range k.groupKeys {
		file.GroupKeys = append(file.GroupKeys, rec)
	}

	k.mu.RUnlock()

	return k.dir.Save(store.SecurityFile, file)
}

// ScopeForKey resolves an API key to its scope. An unconfigured admin key
// promotes every caller to admin.
func (k *Keys) ScopeForKey(key string) (Scope, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	hashed := hashKey(key)

	if k.adminHash != "" && hashed == k.adminHash {
		return AdminScope, nil
	}

	if k.adminHash == "" {
		return AdminScope, nil
	}

	for _, rec := range k.groupKeys {
		if hashed == rec.Hash {
			return GroupScope(rec.GroupID), nil
		}
	}

	return Scope{}, ErrInvalidKey
}

// Verify resolves an optional caller-provided key, falling back to the
// stored plain admin key. An absent key is accepted only in bootstrap mode.
func (k *Keys) Verify(provided string) (Scope, error) {
	k.mu.RLock()
	adminHash := k.adminHash
	adminPlain := k.adminPlain
	k.mu.RUnlock()

	key := provided
	if key == "" {
		key = adminPlain
	}

	if key == "" {
		if adminHash == "" {
			return AdminScope, nil
		}

		return Scope{}, ErrMissingKey
	}

	return k.ScopeForKey(key)
}

// AdminKeyPlain returns the stored plain admin key, empty when unset.
func (k *Keys) AdminKeyPlain() string {
	k.mu.RLock()
	defer k.mu.RUnlock()

	return k.adminPlain
}

// SetAdminKey replaces the admin key. An empty key clears it, returning
// the installation to bootstrap mode.
func (k *Keys) SetAdminKey(newKey string) error {
	k.mu.Lock()

	if newKey == "" {
		k.adminHash = ""
		k.adminPlain = ""
	} else {
		k.adminHash = hashKey(newKey)
		k.adminPlain = newKey
	}

	k.mu.Unlock()

	return k.save()
}

// EnsureGroupKey returns the group's key, generating one on first access.
func (k *Keys) EnsureGroupKey(groupID string) (string, error) {
	k.mu.Lock()

	if rec, ok := k.groupKeys[groupID]; ok {
		k.mu.Unlock()

		return rec.Plain, nil
	}

	plain := generateKey()
	k.groupKeys[groupID] = groupKeyRecord{
		GroupID: groupID,
		Hash:    hashKey(plain),
		Plain:   plain,
	}

	k.mu.Unlock()

	return plain, k.save()
}

// RegenerateGroupKey replaces the group's key and returns the new value.
func (k *Keys) RegenerateGroupKey(groupID string) (string, error) {
	plain := generateKey()

	k.mu.Lock()
	k.groupKeys[groupID] = groupKeyRecord{
		GroupID: groupID,
		Hash:    hashKey(plain),
		Plain:   plain,
	}
	k.mu.Unlock()

	return plain, k.save()
}

// RemoveGroupKey forgets a group's key, for group deletion.
func (k *Keys) RemoveGroupKey(groupID string) error {
	k.mu.Lock()
	delete(k.groupKeys, groupID)
	k.mu.Unlock()

	return k.save()
}
