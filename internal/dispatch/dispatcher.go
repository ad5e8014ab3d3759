// Package dispatch maps named API commands to handlers over the tenant
// registry, drive clients, transfer manager, and sync engine. Every
// invocation is access-checked against the caller's key scope and recorded
// in the api log with sanitized request metadata.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/feisync/feisync/internal/access"
	"github.com/feisync/feisync/internal/drive"
	"github.com/feisync/feisync/internal/sync"
	"github.com/feisync/feisync/internal/tenant"
	"github.com/feisync/feisync/internal/transfer"
)

// ErrUnknownCommand is returned for command names outside the catalog.
var ErrUnknownCommand = errors.New("未知的 API 命令")

type handler func(ctx context.Context, s access.Scope, payload json.RawMessage) (any, error)

// CommandDoc describes one command for the docs endpoint.
type CommandDoc struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Deps are the collaborators a Dispatcher needs.
type Deps struct {
	Registry   *tenant.Registry
	Keys       *access.Keys
	Index      *access.ResourceIndex
	Transfers  *transfer.Manager
	SyncStore  *sync.Store
	SyncEngine *sync.Engine
	APILog     *APILog
	Logger     *slog.Logger
}

// Dispatcher routes commands and enforces key scopes.
type Dispatcher struct {
	registry   *tenant.Registry
	keys       *access.Keys
	index      *access.ResourceIndex
	transfers  *transfer.Manager
	syncStore  *sync.Store
	syncEngine *sync.Engine
	apiLog     *APILog
	logger     *slog.Logger
	service    ServiceController

	// newClient builds a drive client from a tenant snapshot. Swappable in
	// tests to point at a local server.
	newClient func(tenant.Tenant) *drive.Client

	handlers map[string]handler
	docs     []CommandDoc

	now func() time.Time
}

func New(d Deps) *Dispatcher {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}

	disp := &Dispatcher{
		registry:   d.Registry,
		keys:       d.Keys,
		index:      d.Index,
		transfers:  d.Transfers,
		syncStore:  d.SyncStore,
		syncEngine: d.SyncEngine,
		apiLog:     d.APILog,
		logger:     logger,
		now:        time.Now,
	}

	disp.newClient = d.Registry.ClientFor
	disp.register()

	return disp
}

type command struct {
	name string
	doc  string
	fn   handler
}

func (d *Dispatcher) register() {
	commands := []command{
		{"list_tenants", "列出当前 Key 可见的企业实例", d.handleListTenants},
		{"add_tenant", "新增企业实例并立即验证凭据", d.handleAddTenant},
		{"refresh_tenant_token", "强制刷新企业实例的访问令牌", d.handleRefreshTenantToken},
		{"get_tenant_detail", "查看企业实例详情（含应用密钥）", d.handleGetTenantDetail},
		{"update_tenant_meta", "修改企业实例配置", d.handleUpdateTenantMeta},
		{"remove_tenant", "删除企业实例及其资源索引", d.handleRemoveTenant},
		{"reorder_tenants", "调整企业实例的优先级顺序", d.handleReorderTenants},
		{"list_groups", "列出分组及其 API Key", d.handleListGroups},
		{"add_group", "创建分组并生成分组 Key", d.handleAddGroup},
		{"update_group", "修改分组信息或成员", d.handleUpdateGroup},
		{"delete_group", "删除分组并作废分组 Key", d.handleDeleteGroup},
		{"regenerate_group_key", "重新生成分组 API Key", d.handleRegenerateGroupKey},
		{"get_api_key", "查看管理员 API Key", d.handleGetAPIKey},
		{"update_api_key", "更换管理员 API Key", d.handleUpdateAPIKey},
		{"list_root_entries", "列出根目录内容，可跨实例聚合", d.handleListRootEntries},
		{"list_folder_entries", "列出指定目录内容", d.handleListFolderEntries},
		{"search_entries", "按关键字搜索云端文件", d.handleSearchEntries},
		{"create_folder", "在云端创建目录", d.handleCreateFolder},
		{"delete_file", "删除云端文件或目录", d.handleDeleteFile},
		{"move_file", "移动云端文件或目录", d.handleMoveFile},
		{"copy_file", "复制云端文件", d.handleCopyFile},
		{"rename_file", "重命名云端文件或目录", d.handleRenameFile},
		{"upload_file", "上传本地文件", d.handleUploadFile},
		{"upload_folder", "上传本地文件夹", d.handleUploadFolder},
		{"download_file", "下载云端文件", d.handleDownloadFile},
		{"download_folder", "下载云端文件夹", d.handleDownloadFolder},
		{"inspect_local_path", "检查本地路径类型", d.handleInspectLocalPath},
		{"list_transfer_tasks", "列出传输任务", d.handleListTransferTasks},
		{"clear_transfer_history", "清理已结束的传输记录", d.handleClearTransferHistory},
		{"pause_active_transfer", "暂停执行中的传输任务", d.handlePauseActiveTransfer},
		{"cancel_transfer_task", "取消传输任务", d.handleCancelTransferTask},
		{"delete_transfer_task", "删除传输任务记录", d.handleDeleteTransferTask},
		{"resume_transfer_task", "继续或重新执行传输任务", d.handleResumeTransferTask},
		{"list_sync_tasks", "列出同步任务", d.handleListSyncTasks},
		{"create_sync_task", "创建同步任务", d.handleCreateSyncTask},
		{"update_sync_task", "修改同步任务", d.handleUpdateSyncTask},
		{"delete_sync_task", "删除同步任务", d.handleDeleteSyncTask},
		{"trigger_sync_task", "立即执行同步任务", d.handleTriggerSyncTask},
		{"list_sync_logs", "查看同步任务运行日志", d.handleListSyncLogs},
		{"proxy_official_api", "透传调用开放平台接口", d.handleProxyOfficialAPI},
		{"list_api_logs", "查询 API 调用日志", d.handleListAPILogs},
		{"get_log_config", "查看日志镜像配置", d.handleGetLogConfig},
		{"update_log_config", "修改日志镜像配置", d.handleUpdateLogConfig},
		{"list_api_routes", "列出全部 API 命令及路由", d.handleListAPIRoutes},
		{"get_api_service_config", "查看 API 服务配置与状态", d.handleGetAPIServiceConfig},
		{"update_api_service_config", "修改 API 服务监听配置", d.handleUpdateAPIServiceConfig},
		{"start_api_service", "启动 API 服务", d.handleStartAPIService},
		{"stop_api_service", "停止 API 服务", d.handleStopAPIService},
	}

	d.handlers = make(map[string]handler, len(commands))
	d.docs = make([]CommandDoc, 0, len(commands))

	for _, c := range commands {
		d.handlers[c.name] = c.fn
		d.docs = append(d.docs, CommandDoc{Name: c.name, Description: c.doc})
	}
}

// Commands returns the catalog in registration order.
func (d *Dispatcher) Commands() []CommandDoc {
	return d.docs
}

// Dispatch verifies the key, runs the named command, and records the call.
func (d *Dispatcher) Dispatch(ctx context.Context, name, apiKey string, payload json.RawMessage) (any, error) {
	start := d.now()

	scope, err := d.keys.Verify(apiKey)
	if err != nil {
		d.record(name, "unknown", start, payload, nil, err)

		return nil, err
	}

	label := scope.Label(d.registry)
	if label == "" {
		label = "unknown"
	}

	h, ok := d.handlers[name]
	if !ok {
		d.record(name, label, start, payload, nil, ErrUnknownCommand)

		return nil, ErrUnknownCommand
	}

	result, err := h(ctx, scope, payload)
	d.record(name, label, start, payload, result, err)

	if err != nil {
		return nil, err
	}

	return result, nil
}

func (d *Dispatcher) record(name, label string, start time.Time, payload json.RawMessage, result any, err error) {
	entry := APILogEntry{
		Command:    name,
		Scope:      label,
		DurationMS: d.now().Sub(start).Milliseconds(),
	}

	meta := map[string]any{"request": sanitizePayload(payload)}

	if err != nil {
		entry.Status = "error"
		entry.Message = err.Error()
		meta["error"] = truncate(err.Error(), errorPreviewLimit)
	} else {
		entry.Status = "success"
		entry.Message = "OK"
		meta["response"] = summarizeValue(result, responsePreviewLimit)
	}

	entry.Meta = meta

	if logErr := d.apiLog.Append(entry); logErr != nil {
		d.logger.Warn("api log append failed",
			slog.String("command", name),
			slog.String("error", logErr.Error()),
		)
	}
}

// acquire resolves a tenant with a fresh token and builds its drive client.
func (d *Dispatcher) acquire(ctx context.Context, tenantID string) (*drive.Client, tenant.Tenant, error) {
	t, err := d.registry.EnsureToken(ctx, tenantID)
	if err != nil {
		return nil, tenant.Tenant{}, err
	}

	return d.newClient(t), t, nil
}

// acquireForToken resolves the tenant owning a resource token, enforcing
// the caller's scope.
func (d *Dispatcher) acquireForToken(ctx context.Context, s access.Scope, token string) (*drive.Client, tenant.Tenant, error) {
	tenantID, err := s.AssertToken(d.index, d.registry, token)
	if err != nil {
		return nil, tenant.Tenant{}, err
	}

	return d.acquire(ctx, tenantID)
}

// acquireSelected resolves an explicit tenant id, or picks the best active
// tenant visible to the scope when none is given.
func (d *Dispatcher) acquireSelected(ctx context.Context, s access.Scope, tenantID string, requireWritable bool) (*drive.Client, tenant.Tenant, error) {
	if tenantID != "" {
		if err := s.AssertTenant(d.registry, tenantID); err != nil {
			return nil, tenant.Tenant{}, err
		}

		return d.acquire(ctx, tenantID)
	}

	t, err := d.registry.PickBestActive(requireWritable, s.AllowedTenants(d.registry))
	if err != nil {
		return nil, tenant.Tenant{}, err
	}

	return d.acquire(ctx, t.ID)
}

// registerTokens indexes resource tokens under their owning tenant so later
// token-addressed commands can resolve them.
func (d *Dispatcher) registerTokens(tenantID string, tokens ...string) {
	if err := d.index.Register(tenantID, tokens...); err != nil {
		d.logger.Warn("resource index update failed",
			slog.String("tenant_id", tenantID),
			slog.String("error", err.Error()),
		)
	}
}
