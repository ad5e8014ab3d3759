package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/feisync/feisync/internal/access"
	"github.com/feisync/feisync/internal/dispatch"
	"github.com/feisync/feisync/internal/server"
	"github.com/feisync/feisync/internal/store"
	"github.com/feisync/feisync/internal/sync"
	"github.com/feisync/feisync/internal/tenant"
	"github.com/feisync/feisync/internal/transfer"
)

// httpClientTimeout bounds token-exchange requests; drive API calls manage
// their own timeouts per request.
const httpClientTimeout = 30 * time.Second

// app wires every subsystem over one data directory. Subcommands issue
// their work through the dispatcher so CLI and HTTP behavior stay
// identical.
type app struct {
	logger *slog.Logger
	dir    store.Dir

	registry   *tenant.Registry
	keys       *access.Keys
	index      *access.ResourceIndex
	transfers  *transfer.Manager
	syncStore  *sync.Store
	engine     *sync.Engine
	apiLog     *dispatch.APILog
	dispatcher *dispatch.Dispatcher
	service    *server.Controller
}

func newApp() (*app, error) {
	logger := buildLogger()
	slog.SetDefault(logger)

	dir := store.NewDir(resolvedCfg.DataDir)

	httpClient := &http.Client{Timeout: httpClientTimeout}

	registry, err := tenant.NewRegistry(dir, httpClient, logger)
	if err != nil {
		return nil, fmt.Errorf("loading tenants: %w", err)
	}

	keys, err := access.NewKeys(dir)
	if err != nil {
		return nil, fmt.Errorf("loading api keys: %w", err)
	}

	index, err := access.NewResourceIndex(dir)
	if err != nil {
		return nil, fmt.Errorf("loading resource index: %w", err)
	}

	transfers, err := transfer.NewManager(dir, index, logger)
	if err != nil {
		return nil, fmt.Errorf("loading transfers: %w", err)
	}

	syncStore, err := sync.NewStore(dir, logger)
	if err != nil {
		return nil, fmt.Errorf("loading sync tasks: %w", err)
	}

	resolver := func(ctx context.Context, tenantID string) (sync.Client, tenant.Tenant, error) {
		t, err := registry.EnsureToken(ctx, tenantID)
		if err != nil {
			return nil, tenant.Tenant{}, err
		}

		return registry.ClientFor(t), t, nil
	}

	engine := sync.NewEngine(syncStore, transfers, resolver, index, logger)

	apiLog, err := dispatch.NewAPILog(dir, logger)
	if err != nil {
		return nil, fmt.Errorf("loading api log: %w", err)
	}

	dispatcher := dispatch.New(dispatch.Deps{
		Registry:   registry,
		Keys:       keys,
		Index:      index,
		Transfers:  transfers,
		SyncStore:  syncStore,
		SyncEngine: engine,
		APILog:     apiLog,
		Logger:     logger,
	})

	service, err := server.NewController(dir, dispatcher, logger)
	if err != nil {
		return nil, fmt.Errorf("loading server config: %w", err)
	}

	return &app{
		logger:     logger,
		dir:        dir,
		registry:   registry,
		keys:       keys,
		index:      index,
		transfers:  transfers,
		syncStore:  syncStore,
		engine:     engine,
		apiLog:     apiLog,
		dispatcher: dispatcher,
		service:    service,
	}, nil
}

// ensureAdminKey guarantees a configured admin key before the HTTP API is
// exposed, so the server never runs in bootstrap (accept-anything) mode.
func (a *app) ensureAdminKey() (string, error) {
	if key := a.keys.AdminKeyPlain(); key != "" {
		return key, nil
	}

	key := uuid.NewString()
	if err := a.keys.SetAdminKey(key); err != nil {
		return "", fmt.Errorf("generating admin key: %w", err)
	}

	a.logger.Info("generated admin api key", slog.String("api_key", key))

	return key, nil
}

// dispatch runs a command locally, as --api-key when given and as the
// stored admin key otherwise.
func (a *app) dispatch(ctx context.Context, name string, payload any) (any, error) {
	var raw json.RawMessage

	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}

		raw = data
	}

	key := flagAPIKey
	if key == "" {
		key = a.keys.AdminKeyPlain()
	}

	return a.dispatcher.Dispatch(ctx, name, key, raw)
}

// printResult renders a command result: indented JSON, since every handler
// returns JSON-shaped data.
func printResult(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)

	return enc.Encode(v)
}

// runDispatch is the common body of thin subcommands: dispatch, print.
func runDispatch(cmd commandContext, name string, payload any) error {
	a, err := newApp()
	if err != nil {
		return err
	}

	result, err := a.dispatch(cmd.Context(), name, payload)
	if err != nil {
		return err
	}

	return printResult(result)
}

// commandContext is the slice of *cobra.Command these helpers need.
type commandContext interface {
	Context() context.Context
}
