package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"

	"github.com/feisync/feisync/internal/dispatch"
	"github.com/feisync/feisync/internal/store"
)

var (
	ErrAlreadyRunning = errors.New("API 服务已在运行")
	ErrNotRunning     = errors.New("API 服务未运行")
)

// Controller owns the server lifecycle so it can be started and stopped at
// runtime through the service-control commands.
type Controller struct {
	dir        store.Dir
	dispatcher *dispatch.Dispatcher
	logger     *slog.Logger

	mu     sync.Mutex
	cfg    Config
	cancel context.CancelFunc
	done   chan error
}

// NewController loads the persisted server config and wires itself into the
// dispatcher as its service controller.
func NewController(dir store.Dir, d *dispatch.Dispatcher, logger *slog.Logger) (*Controller, error) {
	if logger == nil {
		logger = slog.Default()
	}

	cfg, err := LoadConfig(dir)
	if err != nil {
		return nil, err
	}

	c := &Controller{dir: dir, dispatcher: d, logger: logger, cfg: cfg}
	d.SetService(c)

	return c, nil
}

// Config returns the effective server configuration.
func (c *Controller) Config() Config {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.cfg
}

// Status implements dispatch.ServiceController.
func (c *Controller) Status() dispatch.ServiceStatus {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.statusLocked()
}

func (c *Controller) statusLocked() dispatch.ServiceStatus {
	return dispatch.ServiceStatus{
		Running:     c.cancel != nil,
		ListenHost:  c.cfg.ListenHost,
		Port:        c.cfg.Port,
		TimeoutSecs: c.cfg.TimeoutSecs,
	}
}

// UpdateConfig persists the changed fields. A running server keeps its
// current listener; the new config applies on the next start.
func (c *Controller) UpdateConfig(listenHost *string, port, timeoutSecs *int) (dispatch.ServiceStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cfg := c.cfg

	if listenHost != nil {
		cfg.ListenHost = *listenHost
	}

	if port != nil {
		cfg.Port = *port
	}

	if timeoutSecs != nil {
		cfg.TimeoutSecs = *timeoutSecs
	}

	saved, err := SaveConfig(c.dir, cfg)
	if err != nil {
		return dispatch.ServiceStatus{}, err
	}

	c.cfg = saved

	return c.statusLocked(), nil
}

// Start binds the configured address and serves in the background.
func (c *Controller) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancel != nil {
		return ErrAlreadyRunning
	}

	addr := net.JoinHostPort(c.cfg.ListenHost, strconv.Itoa(c.cfg.Port))

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("api server listen: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	srv := New(c.cfg, c.dispatcher, c.logger)

	go func() {
		done <- srv.Serve(ctx, ln)
	}()

	c.cancel = cancel
	c.done = done

	return nil
}

// Stop shuts the server down and waits for in-flight requests to drain.
func (c *Controller) Stop() error {
	c.mu.Lock()

	if c.cancel == nil {
		c.mu.Unlock()

		return ErrNotRunning
	}

	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.mu.Unlock()

	cancel()

	return <-done
}

// Run starts the server and blocks until it fails or ctx is cancelled.
func (c *Controller) Run(ctx context.Context) error {
	if err := c.Start(); err != nil {
		return err
	}

	c.mu.Lock()
	done := c.done
	c.mu.Unlock()

	select {
	case err := <-done:
		c.mu.Lock()
		c.cancel = nil
		c.done = nil
		c.mu.Unlock()

		return err
	case <-ctx.Done():
		return c.Stop()
	}
}
