package policy

import (
	"strings"
	"sync"

	"github.com/forgeflow/conductor/internal/wfstate"
)

// Decision records the outcome of evaluating a single tool name against
// a Policy, mirroring the teacher's Decision shape.
type Decision struct {
	Allowed bool
	Tool    string
	Reason  string
}

// Resolver expands groups and evaluates policies. It holds no per-server
// registration state: unlike the teacher's Resolver, this engine's tool
// bus already knows every server's name from the config manifest, so
// there is nothing dynamic to register beyond custom groups.
type Resolver struct {
	mu     sync.RWMutex
	groups map[string][]string
}

// NewResolver returns a Resolver seeded with DefaultGroups.
func NewResolver() *Resolver {
	r := &Resolver{groups: make(map[string][]string, len(DefaultGroups))}
	for name, tools := range DefaultGroups {
		r.groups[name] = append([]string(nil), tools...)
	}
	return r
}

// AddGroup registers or replaces a named group of tools.
func (r *Resolver) AddGroup(name string, tools []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.groups[name] = append([]string(nil), tools...)
}

// ExpandGroups replaces any "group:*" entries in items with their
// member tools, leaving plain tool names and wildcard patterns as-is.
func (r *Resolver) ExpandGroups(items []string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []string
	for _, item := range items {
		if tools, ok := r.groups[item]; ok {
			out = append(out, tools...)
			continue
		}
		out = append(out, item)
	}
	return out
}

// Decide evaluates tool against policy: deny always wins over allow.
func (r *Resolver) Decide(policy *Policy, tool string) Decision {
	if policy == nil {
		return Decision{Allowed: false, Tool: tool, Reason: "no policy"}
	}

	deny := r.ExpandGroups(policy.Deny)
	for _, pattern := range deny {
		if matchToolPattern(pattern, tool) {
			return Decision{Allowed: false, Tool: tool, Reason: "denied by " + pattern}
		}
	}

	allow := r.ExpandGroups(policy.Allow)
	for _, pattern := range allow {
		if matchToolPattern(pattern, tool) {
			return Decision{Allowed: true, Tool: tool, Reason: "allowed by " + pattern}
		}
	}

	return Decision{Allowed: false, Tool: tool, Reason: "not in allow list"}
}

// IsAllowed is a convenience wrapper around Decide.
func (r *Resolver) IsAllowed(policy *Policy, tool string) bool {
	return r.Decide(policy, tool).Allowed
}

// FilterAllowed returns the subset of tools that policy permits, in
// their original order.
func (r *Resolver) FilterAllowed(policy *Policy, tools []string) []string {
	var out []string
	for _, tool := range tools {
		if r.IsAllowed(policy, tool) {
			out = append(out, tool)
		}
	}
	return out
}

// FilterForAgent resolves agent's default policy and filters declared
// against it. GatedProvider calls it on every Invoke/InvokeStructured,
// after internal/nodes has filled AgentInvocation.ToolsAllowed from the
// tool bus's declared list (spec's supervisor/tool-bus boundary,
// additively hardened per SPEC_FULL.md).
func (r *Resolver) FilterForAgent(agent wfstate.Agent, declared []string) []string {
	return r.FilterAllowed(PolicyForAgent(agent), declared)
}

// matchToolPattern reports whether tool matches pattern. Patterns
// support an exact match or a single trailing "*" wildcard (e.g.
// "validate-*" matches "validate-go" and "validate-python").
func matchToolPattern(pattern, tool string) bool {
	if pattern == "*" {
		return true
	}
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(tool, strings.TrimSuffix(pattern, "*"))
	}
	return pattern == tool
}
