package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	stdsync "sync"

	"golang.org/x/sync/errgroup"

	"github.com/feisync/feisync/internal/access"
	"github.com/feisync/feisync/internal/drive"
	"github.com/feisync/feisync/internal/tenant"
)

// aggregateConcurrency bounds parallel tenant fan-out for aggregate
// listings.
const aggregateConcurrency = 5

type rootEntriesPayload struct {
	TenantID  string `json:"tenant_id"`
	Aggregate bool   `json:"aggregate"`
}

func (d *Dispatcher) handleListRootEntries(ctx context.Context, s access.Scope, payload json.RawMessage) (any, error) {
	p, err := parseOptionalPayload[rootEntriesPayload](payload)
	if err != nil {
		return nil, err
	}

	if p.Aggregate {
		return d.aggregateRootEntries(ctx, s)
	}

	cl, t, err := d.acquireSelected(ctx, s, p.TenantID, false)
	if err != nil {
		return nil, err
	}

	root, err := cl.RootFolderToken(ctx)
	if err != nil {
		return nil, err
	}

	entries, err := cl.ListFolder(ctx, root)
	if err != nil {
		return nil, err
	}

	d.registerTokens(t.ID, append(entryTokens(entries), root)...)

	return map[string]any{"rootToken": root, "entries": entries}, nil
}

func (d *Dispatcher) aggregateRootEntries(ctx context.Context, s access.Scope) (any, error) {
	allowed := s.AllowedTenants(d.registry)

	var candidates []string

	for _, t := range d.registry.ListPublic() {
		if !t.Active {
			continue
		}

		if allowed != nil && !allowed[t.ID] {
			continue
		}

		candidates = append(candidates, t.ID)
	}

	if len(candidates) == 0 {
		return nil, errors.New("暂无可用企业实例，请先添加。")
	}

	var (
		mu      stdsync.Mutex
		results = make(map[string][]drive.Entry, len(candidates))
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(aggregateConcurrency)

	for _, id := range candidates {
		g.Go(func() error {
			cl, t, err := d.acquire(gctx, id)
			if err != nil {
				return err
			}

			root, err := cl.RootFolderToken(gctx)
			if err != nil {
				return err
			}

			entries, err := cl.ListFolder(gctx, root)
			if err != nil {
				return err
			}

			d.registerTokens(t.ID, append(entryTokens(entries), root)...)

			mu.Lock()
			results[t.ID] = entries
			mu.Unlock()

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return map[string]any{"aggregate": true, "entries": results}, nil
}

type folderEntriesPayload struct {
	TenantID    string `json:"tenant_id"`
	FolderToken string `json:"folder_token"`
}

func (d *Dispatcher) handleListFolderEntries(ctx context.Context, s access.Scope, payload json.RawMessage) (any, error) {
	p, err := parsePayload[folderEntriesPayload](payload)
	if err != nil {
		return nil, err
	}

	if err := requireField(p.FolderToken, "folder_token"); err != nil {
		return nil, err
	}

	cl, t, err := d.acquireForEntry(ctx, s, p.TenantID, p.FolderToken)
	if err != nil {
		return nil, err
	}

	entries, err := cl.ListFolder(ctx, p.FolderToken)
	if err != nil {
		return nil, err
	}

	d.registerTokens(t.ID, append(entryTokens(entries), p.FolderToken)...)

	return entries, nil
}

type searchPayload struct {
	TenantID string `json:"tenant_id"`
	Keyword  string `json:"keyword"`
}

func (d *Dispatcher) handleSearchEntries(ctx context.Context, s access.Scope, payload json.RawMessage) (any, error) {
	p, err := parsePayload[searchPayload](payload)
	if err != nil {
		return nil, err
	}

	if strings.TrimSpace(p.Keyword) == "" {
		return []drive.SearchHit{}, nil
	}

	cl, t, err := d.acquireSelected(ctx, s, p.TenantID, false)
	if err != nil {
		return nil, err
	}

	root, err := cl.RootFolderToken(ctx)
	if err != nil {
		return nil, err
	}

	rootName := t.Name
	if rootName == "" {
		rootName = "Root"
	}

	hits, err := cl.Search(ctx, root, rootName, p.Keyword)
	if err != nil {
		return nil, err
	}

	tokens := make([]string, 0, len(hits)+1)
	tokens = append(tokens, root)

	for _, h := range hits {
		tokens = append(tokens, h.Token)
	}

	d.registerTokens(t.ID, tokens...)

	return hits, nil
}

type createFolderPayload struct {
	TenantID    string `json:"tenant_id"`
	ParentToken string `json:"parent_token"`
	Name        string `json:"name"`
}

func (d *Dispatcher) handleCreateFolder(ctx context.Context, s access.Scope, payload json.RawMessage) (any, error) {
	p, err := parsePayload[createFolderPayload](payload)
	if err != nil {
		return nil, err
	}

	if err := requireField(p.ParentToken, "parent_token"); err != nil {
		return nil, err
	}

	name, err := normalizeNodeName(p.Name)
	if err != nil {
		return nil, err
	}

	cl, t, err := d.acquireForEntry(ctx, s, p.TenantID, p.ParentToken)
	if err != nil {
		return nil, err
	}

	if err := t.EnsureWritable(); err != nil {
		return nil, err
	}

	token, err := cl.CreateFolder(ctx, name, p.ParentToken)
	if err != nil {
		return nil, err
	}

	d.registerTokens(t.ID, token)

	return map[string]string{"token": token}, nil
}

type deleteFilePayload struct {
	Token    string `json:"token"`
	FileType string `json:"type"`
}

func (d *Dispatcher) handleDeleteFile(ctx context.Context, s access.Scope, payload json.RawMessage) (any, error) {
	p, err := parsePayload[deleteFilePayload](payload)
	if err != nil {
		return nil, err
	}

	if err := requireField(p.Token, "token"); err != nil {
		return nil, err
	}

	cl, t, err := d.acquireForToken(ctx, s, p.Token)
	if err != nil {
		return nil, err
	}

	if err := t.EnsureWritable(); err != nil {
		return nil, err
	}

	if err := cl.DeleteFile(ctx, p.Token, p.FileType); err != nil {
		return nil, err
	}

	if err := d.index.Remove(p.Token); err != nil {
		return nil, err
	}

	return true, nil
}

type movePayload struct {
	Token             string `json:"token"`
	FileType          string `json:"type"`
	TargetFolderToken string `json:"target_folder_token"`
}

func (d *Dispatcher) handleMoveFile(ctx context.Context, s access.Scope, payload json.RawMessage) (any, error) {
	p, err := parsePayload[movePayload](payload)
	if err != nil {
		return nil, err
	}

	for _, f := range []struct{ value, name string }{
		{p.Token, "token"},
		{p.TargetFolderToken, "target_folder_token"},
	} {
		if err := requireField(f.value, f.name); err != nil {
			return nil, err
		}
	}

	cl, t, err := d.acquireForToken(ctx, s, p.Token)
	if err != nil {
		return nil, err
	}

	if err := d.ensureSameTenant(t.ID, p.TargetFolderToken, "暂不支持跨企业移动文件"); err != nil {
		return nil, err
	}

	if err := t.EnsureWritable(); err != nil {
		return nil, err
	}

	taskID, err := cl.Move(ctx, p.Token, p.FileType, p.TargetFolderToken)
	if err != nil {
		return nil, err
	}

	return map[string]string{"task_id": taskID}, nil
}

type copyPayload struct {
	Token             string `json:"token"`
	FileType          string `json:"type"`
	Name              string `json:"name"`
	TargetFolderToken string `json:"target_folder_token"`
}

func (d *Dispatcher) handleCopyFile(ctx context.Context, s access.Scope, payload json.RawMessage) (any, error) {
	p, err := parsePayload[copyPayload](payload)
	if err != nil {
		return nil, err
	}

	for _, f := range []struct{ value, name string }{
		{p.Token, "token"},
		{p.TargetFolderToken, "target_folder_token"},
	} {
		if err := requireField(f.value, f.name); err != nil {
			return nil, err
		}
	}

	name, err := normalizeNodeName(p.Name)
	if err != nil {
		return nil, err
	}

	cl, t, err := d.acquireForToken(ctx, s, p.Token)
	if err != nil {
		return nil, err
	}

	if err := d.ensureSameTenant(t.ID, p.TargetFolderToken, "暂不支持跨企业复制"); err != nil {
		return nil, err
	}

	if err := t.EnsureWritable(); err != nil {
		return nil, err
	}

	meta, err := cl.Copy(ctx, p.Token, name, p.FileType, p.TargetFolderToken)
	if err != nil {
		return nil, err
	}

	d.registerTokens(t.ID, meta.Token)

	return meta, nil
}

type renamePayload struct {
	Token    string `json:"token"`
	FileType string `json:"type"`
	NewName  string `json:"new_name"`
}

func (d *Dispatcher) handleRenameFile(ctx context.Context, s access.Scope, payload json.RawMessage) (any, error) {
	p, err := parsePayload[renamePayload](payload)
	if err != nil {
		return nil, err
	}

	if err := requireField(p.Token, "token"); err != nil {
		return nil, err
	}

	name, err := normalizeNodeName(p.NewName)
	if err != nil {
		return nil, err
	}

	cl, t, err := d.acquireForToken(ctx, s, p.Token)
	if err != nil {
		return nil, err
	}

	if err := t.EnsureWritable(); err != nil {
		return nil, err
	}

	if err := cl.Rename(ctx, p.Token, p.FileType, name); err != nil {
		return nil, err
	}

	return true, nil
}

type inspectPathPayload struct {
	Path string `json:"path"`
}

func (d *Dispatcher) handleInspectLocalPath(_ context.Context, _ access.Scope, payload json.RawMessage) (any, error) {
	p, err := parsePayload[inspectPathPayload](payload)
	if err != nil {
		return nil, err
	}

	if err := requireField(p.Path, "path"); err != nil {
		return nil, err
	}

	info, err := os.Stat(p.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]bool{"exists": false, "is_dir": false, "is_file": false}, nil
		}

		return nil, fmt.Errorf("检查路径失败: %w", err)
	}

	return map[string]bool{
		"exists":  true,
		"is_dir":  info.IsDir(),
		"is_file": info.Mode().IsRegular(),
	}, nil
}

// acquireForEntry resolves the acting tenant for a token-addressed command
// that may also name the tenant explicitly. An explicit tenant id wins; an
// indexed token is next; otherwise the best active tenant is used.
func (d *Dispatcher) acquireForEntry(ctx context.Context, s access.Scope, tenantID, token string) (*drive.Client, tenant.Tenant, error) {
	if tenantID != "" {
		return d.acquireSelected(ctx, s, tenantID, false)
	}

	if _, ok := d.index.Resolve(token); ok {
		return d.acquireForToken(ctx, s, token)
	}

	return d.acquireSelected(ctx, s, "", false)
}

// ensureSameTenant rejects operations whose target folder is indexed under
// a different tenant.
func (d *Dispatcher) ensureSameTenant(tenantID, targetToken, message string) error {
	if owner, ok := d.index.Resolve(targetToken); ok && owner != tenantID {
		return errors.New(message)
	}

	return nil
}

func entryTokens(entries []drive.Entry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Token)
	}

	return out
}

func baseName(path string) string {
	name := filepath.Base(filepath.Clean(path))
	if name == "." || name == string(filepath.Separator) {
		return ""
	}

	return name
}
