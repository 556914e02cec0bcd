package faults

import (
	"errors"
	"fmt"
	"os"
	"testing"
)

func TestKindOf(t *testing.T) {
	err := New(NotFound, "workspace %s", "ws-1")
	if got := KindOf(err); got != NotFound {
		t.Errorf("KindOf = %q, want %q", got, NotFound)
	}
	if KindOf(errors.New("plain")) != "" {
		t.Error("plain error should have no kind")
	}
}

func TestWrapNil(t *testing.T) {
	if Wrap(IO, nil, "write") != nil {
		t.Error("Wrap(nil) should be nil")
	}
}

func TestWrapPreservesChain(t *testing.T) {
	err := Wrap(IO, os.ErrPermission, "write workspace.json")
	if !errors.Is(err, os.ErrPermission) {
		t.Error("wrapped error lost the underlying cause")
	}
	if !IsKind(err, IO) {
		t.Errorf("IsKind(IO) = false for %v", err)
	}
}

func TestKindSurvivesOuterWrap(t *testing.T) {
	inner := New(Conflict, "run already terminal")
	outer := fmt.Errorf("complete run: %w", inner)
	if !IsKind(outer, Conflict) {
		t.Errorf("kind lost through fmt.Errorf wrap: %v", outer)
	}
}

func TestErrorString(t *testing.T) {
	err := Wrap(Engine, errors.New("exit status 3"), "simulation failed")
	want := "engine: simulation failed: exit status 3"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}
