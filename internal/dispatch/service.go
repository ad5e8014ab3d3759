package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/feisync/feisync/internal/access"
)

// ErrNoService is returned when service-control commands run in a process
// that hosts no HTTP service.
var ErrNoService = errors.New("API 服务未初始化")

// ServiceStatus is the runtime view of the hosting HTTP service.
type ServiceStatus struct {
	Running     bool   `json:"running"`
	ListenHost  string `json:"listen_host"`
	Port        int    `json:"port"`
	TimeoutSecs int    `json:"timeout_secs"`
}

// ServiceController controls the hosting HTTP service. Satisfied by
// *server.Controller; nil when the process hosts no service.
type ServiceController interface {
	Status() ServiceStatus
	UpdateConfig(listenHost *string, port, timeoutSecs *int) (ServiceStatus, error)
	Start() error
	Stop() error
}

// SetService wires the service controller after construction. The server
// package depends on this package, so the controller cannot be a Deps field.
func (d *Dispatcher) SetService(s ServiceController) {
	d.service = s
}

func (d *Dispatcher) handleGetAPIServiceConfig(_ context.Context, s access.Scope, _ json.RawMessage) (any, error) {
	if err := s.EnsureAdmin(); err != nil {
		return nil, err
	}

	if d.service == nil {
		return nil, ErrNoService
	}

	return d.service.Status(), nil
}

type serviceConfigPayload struct {
	ListenHost  *string `json:"listen_host"`
	Port        *int    `json:"port"`
	TimeoutSecs *int    `json:"timeout_secs"`
}

func (d *Dispatcher) handleUpdateAPIServiceConfig(_ context.Context, s access.Scope, payload json.RawMessage) (any, error) {
	if err := s.EnsureAdmin(); err != nil {
		return nil, err
	}

	if d.service == nil {
		return nil, ErrNoService
	}

	p, err := parsePayload[serviceConfigPayload](payload)
	if err != nil {
		return nil, err
	}

	return d.service.UpdateConfig(p.ListenHost, p.Port, p.TimeoutSecs)
}

func (d *Dispatcher) handleStartAPIService(_ context.Context, s access.Scope, _ json.RawMessage) (any, error) {
	if err := s.EnsureAdmin(); err != nil {
		return nil, err
	}

	if d.service == nil {
		return nil, ErrNoService
	}

	if err := d.service.Start(); err != nil {
		return nil, err
	}

	return d.service.Status(), nil
}

func (d *Dispatcher) handleStopAPIService(_ context.Context, s access.Scope, _ json.RawMessage) (any, error) {
	if err := s.EnsureAdmin(); err != nil {
		return nil, err
	}

	if d.service == nil {
		return nil, ErrNoService
	}

	if err := d.service.Stop(); err != nil {
		return nil, err
	}

	return d.service.Status(), nil
}

// RouteDoc describes one command as an HTTP route.
type RouteDoc struct {
	Name        string `json:"name"`
	Method      string `json:"method"`
	Path        string `json:"path"`
	Description string `json:"description"`
}

func (d *Dispatcher) handleListAPIRoutes(_ context.Context, _ access.Scope, _ json.RawMessage) (any, error) {
	routes := make([]RouteDoc, 0, len(d.docs))

	for _, doc := range d.docs {
		routes = append(routes, RouteDoc{
			Name:        doc.Name,
			Method:      http.MethodPost,
			Path:        "/command/" + doc.Name,
			Description: doc.Description,
		})
	}

	return routes, nil
}
