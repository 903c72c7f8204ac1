package toolbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/forgeflow/conductor/internal/eventstream"
	"github.com/forgeflow/conductor/internal/wfstate"
)

// Bus aggregates the tool servers named in a manifest and implements
// workflow.ToolCaller. Servers are registered at construction but not
// spawned until their first call (spec §4.3 "Server discovery": lazy
// spawn, not boot-time auto-start).
type Bus struct {
	logger *slog.Logger
	events *eventstream.Stream

	mu      sync.RWMutex
	clients map[string]*client

	names         []string
	required      []string
	nextRequestID atomic.Int64
}

// New builds a Bus from a server manifest. events may be nil; when set,
// server progress notifications are forwarded as workflow events.
func New(servers []ServerConfig, logger *slog.Logger, events *eventstream.Stream) *Bus {
	b := &Bus{logger: logger, events: events, clients: make(map[string]*client, len(servers)), names: make([]string, 0, len(servers))}
	for _, cfg := range servers {
		b.clients[cfg.Name] = newClient(cfg, logger, b.onNotify)
		b.names = append(b.names, cfg.Name)
		if cfg.Required {
			b.required = append(b.required, cfg.Name)
		}
	}
	return b
}

// DeclaredTools returns every server name in the manifest, in manifest
// order. This is static from construction — it does not require a server
// to have been spawned — so the node-dispatch path can populate
// AgentInvocation.ToolsAllowed with it before the first call to any given
// server (internal/policy.GatedProvider narrows the list per agent).
func (b *Bus) DeclaredTools() []string {
	out := make([]string, len(b.names))
	copy(out, b.names)
	return out
}

// ProbeRequired eagerly spawns every server marked Required in the
// manifest and returns the first error encountered, so the boot sequence
// (spec §2 Lifecycle/Init) can fail fast rather than waiting for the
// first live query to discover a missing tool server.
func (b *Bus) ProbeRequired(ctx context.Context) error {
	for _, name := range b.required {
		b.mu.RLock()
		c, ok := b.clients[name]
		b.mu.RUnlock()
		if !ok {
			continue
		}
		if err := c.ensureReady(ctx); err != nil {
			return fmt.Errorf("toolbus: required server %q failed to start: %w", name, err)
		}
	}
	return nil
}

func (b *Bus) onNotify(server, method string, params json.RawMessage) {
	if b.events == nil {
		return
	}
	b.events.Publish(context.Background(), eventstream.AgentProgress(server, fmt.Sprintf("%s: %s", method, string(params))))
}

// Status reports the current health of a named server, or
// wfstate.ToolServerStopped if the name is unknown to the manifest.
func (b *Bus) Status(server string) wfstate.ToolServerStatus {
	b.mu.RLock()
	c, ok := b.clients[server]
	b.mu.RUnlock()
	if !ok {
		return wfstate.ToolServerStopped
	}
	return c.Status()
}

// Call dispatches one tool invocation, spawning the server on first use.
func (b *Bus) Call(ctx context.Context, server, tool string, args json.RawMessage, timeout time.Duration) (*wfstate.ToolResponse, error) {
	b.mu.RLock()
	c, ok := b.clients[server]
	b.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("toolbus: unknown server %q", server)
	}

	requestID := b.nextRequestID.Add(1)
	start := time.Now()
	result, err := c.call(ctx, tool, args, timeout)
	resp := &wfstate.ToolResponse{RequestID: requestID, DurationMS: time.Since(start).Milliseconds()}
	if err != nil {
		resp.OK = false
		resp.Err = err.Error()
		return resp, err
	}
	resp.OK = true
	resp.Result = result
	return resp, nil
}

// CallMany dispatches every call concurrently and returns responses in the
// same order as the input, isolating each call's failure from the rest
// (spec §4.3 "call_many": one tool server crashing doesn't fail its
// siblings' in-flight calls).
func (b *Bus) CallMany(ctx context.Context, calls []wfstate.ToolCall) []*wfstate.ToolResponse {
	responses := make([]*wfstate.ToolResponse, len(calls))
	var wg sync.WaitGroup
	for i, c := range calls {
		wg.Add(1)
		go func(i int, c wfstate.ToolCall) {
			defer wg.Done()
			timeout := time.Duration(c.TimeoutMS) * time.Millisecond
			resp, err := b.Call(ctx, c.Server, c.Tool, c.Arguments, timeout)
			if err != nil && resp == nil {
				resp = &wfstate.ToolResponse{OK: false, Err: err.Error()}
			}
			responses[i] = resp
		}(i, c)
	}
	wg.Wait()
	return responses
}

// Shutdown stops every spawned server subprocess.
func (b *Bus) Shutdown() {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, c := range b.clients {
		c.stop()
	}
}
