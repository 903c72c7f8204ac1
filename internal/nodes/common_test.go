package nodes

import (
	"reflect"
	"testing"

	"github.com/forgeflow/conductor/internal/wfstate"
)

func TestNewInvocation_PopulatesToolsAllowedFromBus(t *testing.T) {
	tools := newFakeToolCaller()
	tools.declared = []string{"web-search", "workspace-fs"}
	deps := testDeps(tools, &fakeProvider{})

	inv := newInvocation(deps, wfstate.AgentResearch, "system", "user")

	if !reflect.DeepEqual(inv.ToolsAllowed, tools.declared) {
		t.Fatalf("ToolsAllowed = %v, want %v", inv.ToolsAllowed, tools.declared)
	}
}
