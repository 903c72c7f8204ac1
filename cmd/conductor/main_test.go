package main

import "testing"

func TestBuildRootCmdIncludesSubcommands(t *testing.T) {
	cmd := buildRootCmd()
	names := map[string]bool{}
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}

	required := []string{"serve", "status", "checkpoint"}
	for _, name := range required {
		if !names[name] {
			t.Fatalf("expected subcommand %q to be registered", name)
		}
	}
}

func TestCheckpointCmdHasGCSubcommand(t *testing.T) {
	cmd := buildRootCmd()
	for _, sub := range cmd.Commands() {
		if sub.Name() != "checkpoint" {
			continue
		}
		for _, gcSub := range sub.Commands() {
			if gcSub.Name() == "gc" {
				return
			}
		}
		t.Fatal("expected checkpoint command to have a gc subcommand")
	}
	t.Fatal("checkpoint command not found")
}

func TestResolveConfigPathDefaultsWhenEmpty(t *testing.T) {
	t.Setenv("CONDUCTOR_CONFIG", "")
	if got := resolveConfigPath(""); got != "conductor.yaml" {
		t.Errorf("got %q, want conductor.yaml", got)
	}
}

func TestResolveConfigPathPrefersExplicitFlag(t *testing.T) {
	t.Setenv("CONDUCTOR_CONFIG", "/env/path.yaml")
	if got := resolveConfigPath("/flag/path.yaml"); got != "/flag/path.yaml" {
		t.Errorf("got %q, want /flag/path.yaml", got)
	}
}

func TestResolveConfigPathFallsBackToEnv(t *testing.T) {
	t.Setenv("CONDUCTOR_CONFIG", "/env/path.yaml")
	if got := resolveConfigPath(""); got != "/env/path.yaml" {
		t.Errorf("got %q, want /env/path.yaml", got)
	}
}
