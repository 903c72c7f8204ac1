package toolbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/forgeflow/conductor/internal/wfstate"
)

// client owns the lifecycle and health state of one tool server (spec
// §4.3 "Health model"): starting → ready once it answers tools/list within
// the boot deadline, crashed after two consecutive non-protocol call
// failures, and a single respawn attempt on the next call after that.
type client struct {
	cfg    ServerConfig
	logger *slog.Logger

	mu            sync.Mutex
	transport     *stdioTransport
	status        wfstate.ToolServerStatus
	consecFailure int
}

func newClient(cfg ServerConfig, logger *slog.Logger, onNotify ProgressHandler) *client {
	if cfg.BootTimeout <= 0 {
		cfg.BootTimeout = 10 * time.Second
	}
	c := &client{cfg: cfg, logger: logger, status: wfstate.ToolServerStopped}
	c.transport = newStdioTransport(cfg, logger, onNotify)
	return c
}

func (c *client) Status() wfstate.ToolServerStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// ensureReady lazily spawns the subprocess on first use and blocks on a
// tools/list boot probe (spec §4.3 "Server discovery" + "Health model").
func (c *client) ensureReady(ctx context.Context) error {
	c.mu.Lock()
	status := c.status
	c.mu.Unlock()

	switch status {
	case wfstate.ToolServerReady:
		return nil
	case wfstate.ToolServerCrashed:
		return c.respawn(ctx)
	default:
		return c.spawn(ctx)
	}
}

func (c *client) spawn(ctx context.Context) error {
	c.mu.Lock()
	c.status = wfstate.ToolServerStarting
	c.mu.Unlock()

	if err := c.transport.start(ctx); err != nil {
		c.mu.Lock()
		c.status = wfstate.ToolServerCrashed
		c.mu.Unlock()
		return err
	}

	bootCtx, cancel := context.WithTimeout(ctx, c.cfg.BootTimeout)
	defer cancel()
	if _, err := c.transport.call(bootCtx, "tools/list", nil, c.cfg.BootTimeout); err != nil {
		c.mu.Lock()
		c.status = wfstate.ToolServerCrashed
		c.mu.Unlock()
		return fmt.Errorf("toolbus: %s: boot probe failed: %w", c.cfg.Name, err)
	}

	c.mu.Lock()
	c.status = wfstate.ToolServerReady
	c.consecFailure = 0
	c.mu.Unlock()
	c.logger.Info("tool server ready", "server", c.cfg.Name)
	return nil
}

// respawn replaces a crashed transport with a fresh one and re-runs the
// boot probe; spec §4.3: "the next call triggers one respawn attempt
// before returning a bus error."
func (c *client) respawn(ctx context.Context) error {
	c.mu.Lock()
	c.transport.stop()
	c.transport = newStdioTransport(c.cfg, c.logger, c.transport.onNotify)
	c.mu.Unlock()
	return c.spawn(ctx)
}

func (c *client) call(ctx context.Context, tool string, args json.RawMessage, timeout time.Duration) (json.RawMessage, error) {
	if err := c.ensureReady(ctx); err != nil {
		return nil, err
	}

	raw, err := c.transport.call(ctx, "tools/call", callToolParams{Name: tool, Arguments: args}, timeout)
	c.recordOutcome(err)
	return raw, err
}

// recordOutcome tracks consecutive failures toward the crash threshold.
// Context cancellation is the caller giving up, not the server
// misbehaving, so it doesn't count against the server's health.
func (c *client) recordOutcome(err error) {
	if err == nil || err == context.Canceled || err == context.DeadlineExceeded {
		c.mu.Lock()
		if err == nil {
			c.consecFailure = 0
		}
		c.mu.Unlock()
		return
	}

	c.mu.Lock()
	c.consecFailure++
	if c.consecFailure >= 2 {
		c.status = wfstate.ToolServerCrashed
	}
	c.mu.Unlock()
}

func (c *client) stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.transport.stop()
	c.status = wfstate.ToolServerStopped
}
