package dispatch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/feisync/feisync/internal/access"
	"github.com/feisync/feisync/internal/drive"
	"github.com/feisync/feisync/internal/tenant"
)

type proxyPayload struct {
	TenantID      string          `json:"tenant_id"`
	ResourceToken string          `json:"resource_token"`
	Method        string          `json:"method"`
	Path          string          `json:"path"`
	Query         [][2]string     `json:"query"`
	Body          json.RawMessage `json:"body"`
}

// requiresWrite reports whether a proxied method mutates remote state,
// which decides whether tenant fallback selection must pick a writable
// tenant.
func requiresWrite(method string) bool {
	return method != http.MethodGet && method != http.MethodHead
}

// handleProxyOfficialAPI forwards an arbitrary open-platform call through a
// tenant's authenticated client. Tenant resolution order: explicit id, then
// resource-token lookup, then best-active fallback.
func (d *Dispatcher) handleProxyOfficialAPI(ctx context.Context, s access.Scope, payload json.RawMessage) (any, error) {
	p, err := parsePayload[proxyPayload](payload)
	if err != nil {
		return nil, err
	}

	if err := requireField(p.Path, "path"); err != nil {
		return nil, err
	}

	method := strings.ToUpper(strings.TrimSpace(p.Method))
	if method == "" {
		method = http.MethodGet
	}

	var (
		cl *drive.Client
		t  tenant.Tenant
	)

	switch {
	case p.TenantID != "":
		cl, t, err = d.acquireSelected(ctx, s, p.TenantID, false)
	case p.ResourceToken != "":
		cl, t, err = d.acquireForToken(ctx, s, p.ResourceToken)
	default:
		cl, t, err = d.acquireSelected(ctx, s, "", requiresWrite(method))
	}

	if err != nil {
		return nil, err
	}

	if requiresWrite(method) {
		if err := t.EnsureWritable(); err != nil {
			return nil, err
		}
	}

	query := url.Values{}
	for _, pair := range p.Query {
		query.Add(pair[0], pair[1])
	}

	var body any
	if len(p.Body) > 0 && string(p.Body) != "null" {
		body = p.Body
	}

	resp, err := cl.Do(ctx, method, p.Path, query, body)
	if err != nil {
		return nil, err
	}

	if len(resp) == 0 {
		return nil, nil
	}

	var decoded any
	if err := json.Unmarshal(resp, &decoded); err != nil {
		return string(resp), nil
	}

	return decoded, nil
}

func (d *Dispatcher) handleListAPILogs(_ context.Context, s access.Scope, payload json.RawMessage) (any, error) {
	if err := s.EnsureAdmin(); err != nil {
		return nil, err
	}

	p, err := parseOptionalPayload[QueryParams](payload)
	if err != nil {
		return nil, err
	}

	return d.apiLog.Query(p), nil
}

func (d *Dispatcher) handleGetLogConfig(_ context.Context, s access.Scope, _ json.RawMessage) (any, error) {
	if err := s.EnsureAdmin(); err != nil {
		return nil, err
	}

	return d.apiLog.Config(), nil
}

func (d *Dispatcher) handleUpdateLogConfig(_ context.Context, s access.Scope, payload json.RawMessage) (any, error) {
	if err := s.EnsureAdmin(); err != nil {
		return nil, err
	}

	p, err := parsePayload[LogConfig](payload)
	if err != nil {
		return nil, err
	}

	return d.apiLog.UpdateConfig(p)
}
