// Package policy resolves which tools an agent is allowed to call.
//
// Grounded on the teacher's internal/tools/policy package, trimmed to
// this engine's addressing scheme: a ToolCall names a Server and a Tool
// as two separate strings (internal/wfstate.ToolCall), not a single
// dotted "mcp:server.tool" string, so Policy rules match against plain
// tool names with "*" suffix-wildcard support rather than the teacher's
// provider-prefixed pattern language (mcp:*, edge:*, core.*).
package policy

import "github.com/forgeflow/conductor/internal/wfstate"

// Policy is an allow/deny rule set for one agent invocation. Deny always
// wins over Allow, mirroring the teacher's evaluation order.
type Policy struct {
	Allow []string
	Deny  []string
}

// DefaultGroups expand to a fixed tool-name list wherever they appear in
// a Policy's Allow/Deny slices, mirroring the teacher's DefaultGroups
// table but scoped to this engine's own tool vocabulary.
var DefaultGroups = map[string][]string{
	"group:research":   {"web-search", "code-index", "code-parse"},
	"group:write":      {"write-file", "code-parse"},
	"group:validators": {"validate-*"},
}

// AgentDefaults holds the policy applied to an AgentInvocation when the
// caller does not supply an explicit override, per SPEC_FULL.md's
// capability-scoped tool policy: research gets web-search + code-index +
// code-parse; codesmith gets write-file + code-parse; reviewfix gets
// code-parse + validator tools; architect and responder get no tool
// access by default.
var AgentDefaults = map[wfstate.Agent]*Policy{
	wfstate.AgentResearch: {
		Allow: []string{"web-search", "code-index", "code-parse"},
	},
	wfstate.AgentCodesmith: {
		Allow: []string{"write-file", "code-parse"},
	},
	wfstate.AgentReviewFix: {
		Allow: []string{"code-parse", "group:validators"},
	},
	wfstate.AgentArchitect: {},
	wfstate.AgentResponder: {},
}

// PolicyForAgent returns the default policy for agent, or an empty
// (deny-all) policy if the agent kind is unrecognized.
func PolicyForAgent(agent wfstate.Agent) *Policy {
	if p, ok := AgentDefaults[agent]; ok {
		return p
	}
	return &Policy{}
}

// Merge combines policies left to right: Allow and Deny lists
// concatenate in order, so a later policy's Deny can still override an
// earlier policy's Allow under deny-wins evaluation.
func Merge(policies ...*Policy) *Policy {
	merged := &Policy{}
	for _, p := range policies {
		if p == nil {
			continue
		}
		merged.Allow = append(merged.Allow, p.Allow...)
		merged.Deny = append(merged.Deny, p.Deny...)
	}
	return merged
}
