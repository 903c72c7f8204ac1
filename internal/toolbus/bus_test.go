package toolbus

import (
	"context"
	"testing"
	"time"

	"github.com/forgeflow/conductor/internal/wfstate"
)

func newEchoBus(t *testing.T, names ...string) *Bus {
	t.Helper()
	servers := make([]ServerConfig, 0, len(names))
	for _, n := range names {
		servers = append(servers, ServerConfig{Name: n, Command: "sh", Args: []string{"-c", echoServerScript}, BootTimeout: 2 * time.Second})
	}
	b := New(servers, discardLogger(), nil)
	t.Cleanup(b.Shutdown)
	return b
}

func TestBus_CallUnknownServer(t *testing.T) {
	b := newEchoBus(t, "known")
	_, err := b.Call(context.Background(), "unknown", "tool", nil, time.Second)
	if err == nil {
		t.Fatal("expected error calling an unregistered server")
	}
}

func TestBus_CallSpawnsLazilyAndSucceeds(t *testing.T) {
	b := newEchoBus(t, "tools")
	if got := b.Status("tools"); got != wfstate.ToolServerStopped {
		t.Fatalf("got status %q before first call, want %q", got, wfstate.ToolServerStopped)
	}

	resp, err := b.Call(context.Background(), "tools", "search", nil, 2*time.Second)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if !resp.OK {
		t.Errorf("expected resp.OK, got error %q", resp.Err)
	}
	if got := b.Status("tools"); got != wfstate.ToolServerReady {
		t.Errorf("got status %q after call, want %q", got, wfstate.ToolServerReady)
	}
}

func TestBus_CallAssignsMonotonicRequestIDs(t *testing.T) {
	b := newEchoBus(t, "tools")
	first, err := b.Call(context.Background(), "tools", "a", nil, 2*time.Second)
	if err != nil {
		t.Fatalf("first call: %v", err)
	}
	second, err := b.Call(context.Background(), "tools", "b", nil, 2*time.Second)
	if err != nil {
		t.Fatalf("second call: %v", err)
	}
	if second.RequestID <= first.RequestID {
		t.Errorf("expected monotonically increasing request ids, got %d then %d", first.RequestID, second.RequestID)
	}
}

func TestBus_CallManyPreservesOrderAcrossServers(t *testing.T) {
	b := newEchoBus(t, "alpha", "beta", "gamma")
	calls := []wfstate.ToolCall{
		{Server: "alpha", Tool: "t", TimeoutMS: 2000},
		{Server: "beta", Tool: "t", TimeoutMS: 2000},
		{Server: "gamma", Tool: "t", TimeoutMS: 2000},
	}

	responses := b.CallMany(context.Background(), calls)
	if len(responses) != 3 {
		t.Fatalf("got %d responses, want 3", len(responses))
	}
	for i, resp := range responses {
		if resp == nil || !resp.OK {
			t.Errorf("response %d: expected OK, got %+v", i, resp)
		}
	}
}

func TestBus_ProbeRequiredSpawnsRequiredServersOnly(t *testing.T) {
	servers := []ServerConfig{
		{Name: "must-have", Command: "sh", Args: []string{"-c", echoServerScript}, BootTimeout: 2 * time.Second, Required: true},
		{Name: "optional", Command: "sh", Args: []string{"-c", echoServerScript}, BootTimeout: 2 * time.Second},
	}
	b := New(servers, discardLogger(), nil)
	t.Cleanup(b.Shutdown)

	if err := b.ProbeRequired(context.Background()); err != nil {
		t.Fatalf("ProbeRequired: %v", err)
	}
	if got := b.Status("must-have"); got != wfstate.ToolServerReady {
		t.Errorf("got status %q for required server, want %q", got, wfstate.ToolServerReady)
	}
	if got := b.Status("optional"); got != wfstate.ToolServerStopped {
		t.Errorf("got status %q for optional server, want it to remain %q", got, wfstate.ToolServerStopped)
	}
}

func TestBus_ProbeRequiredFailsFastOnBadCommand(t *testing.T) {
	servers := []ServerConfig{
		{Name: "broken", Command: "sh", Args: []string{"-c", "sleep 5"}, BootTimeout: 50 * time.Millisecond, Required: true},
	}
	b := New(servers, discardLogger(), nil)
	t.Cleanup(b.Shutdown)

	if err := b.ProbeRequired(context.Background()); err == nil {
		t.Fatal("expected ProbeRequired to fail for a required server that never reaches ready")
	}
}

func TestBus_CallManyIsolatesFailures(t *testing.T) {
	b := newEchoBus(t, "good")
	calls := []wfstate.ToolCall{
		{Server: "good", Tool: "t", TimeoutMS: 2000},
		{Server: "missing", Tool: "t", TimeoutMS: 2000},
	}

	responses := b.CallMany(context.Background(), calls)
	if len(responses) != 2 {
		t.Fatalf("got %d responses, want 2", len(responses))
	}
	if !responses[0].OK {
		t.Errorf("expected first call to succeed, got %+v", responses[0])
	}
	if responses[1].OK {
		t.Error("expected second call (unknown server) to fail")
	}
}
