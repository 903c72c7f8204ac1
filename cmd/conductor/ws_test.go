package main

import (
	"testing"

	"github.com/forgeflow/conductor/internal/session"
)

func TestDecodeDecisionApproved(t *testing.T) {
	got := decodeDecision(controlFrame{Decision: "approved", Feedback: "looks good"})
	want := session.Decision{Approved: true, Feedback: "looks good"}
	if got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestDecodeDecisionRejected(t *testing.T) {
	got := decodeDecision(controlFrame{Decision: "rejected"})
	if got.Approved {
		t.Errorf("got %+v, want Approved=false", got)
	}
}

func TestDecodeDecisionModifiedImpliesApproved(t *testing.T) {
	got := decodeDecision(controlFrame{Decision: "modified", Feedback: "use a mutex instead"})
	if !got.Approved || !got.Modified {
		t.Errorf("got %+v, want Approved=true Modified=true", got)
	}
	if got.Feedback != "use a mutex instead" {
		t.Errorf("got feedback %q, want %q", got.Feedback, "use a mutex instead")
	}
}

func TestDecodeDecisionUnknownDefaultsToRejected(t *testing.T) {
	got := decodeDecision(controlFrame{Decision: "garbage"})
	if got.Approved {
		t.Errorf("got %+v, want an implicit rejection for unknown decisions", got)
	}
}
