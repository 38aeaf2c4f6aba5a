package platform

import (
	"testing"

	"github.com/halvarsen/compactd/internal/config"
)

func TestFakeAdapterSetBackingShrinksPhysical(t *testing.T) {
	f := NewFakeAdapter(nil)
	f.Seed("/a.txt", 1000)

	before, err := f.Stat("/a.txt")
	if err != nil {
		t.Fatal(err)
	}
	if before.State.Backed {
		t.Fatal("expected uncompressed before SetBacking")
	}

	if err := f.SetBacking("/a.txt", config.AlgorithmXpress8k); err != nil {
		t.Fatalf("SetBacking: %v", err)
	}

	after, err := f.Stat("/a.txt")
	if err != nil {
		t.Fatal(err)
	}
	if !after.State.Backed || after.State.Algorithm != config.AlgorithmXpress8k {
		t.Fatalf("expected externally backed xpress8k, got %+v", after.State)
	}
	if after.PhysicalSize > after.LogicalSize {
		t.Fatalf("invariant violated: physical %d > logical %d", after.PhysicalSize, after.LogicalSize)
	}
	if !before.ModTime.Equal(after.ModTime) || !before.AccessTime.Equal(after.AccessTime) {
		t.Fatal("timestamps should be restored after a successful SetBacking")
	}
}

func TestFakeAdapterSetBackingNoopWhenAlreadyBacked(t *testing.T) {
	f := NewFakeAdapter(nil)
	f.Seed("/a.txt", 1000)
	if err := f.SetBacking("/a.txt", config.AlgorithmLzx); err != nil {
		t.Fatal(err)
	}
	calls := f.SetBackingCalls()
	if err := f.SetBacking("/a.txt", config.AlgorithmLzx); err != nil {
		t.Fatal(err)
	}
	if f.SetBackingCalls() != calls {
		t.Fatal("second SetBacking on an already-backed file should be a no-op, not a repeat call")
	}
}

func TestFakeAdapterClearBackingRestoresLogicalEqualsPhysical(t *testing.T) {
	f := NewFakeAdapter(nil)
	f.Seed("/a.txt", 1000)
	_ = f.SetBacking("/a.txt", config.AlgorithmXpress4k)
	if err := f.ClearBacking("/a.txt"); err != nil {
		t.Fatal(err)
	}
	meta, _ := f.Stat("/a.txt")
	if meta.State.Backed {
		t.Fatal("expected Uncompressed after ClearBacking")
	}
	if meta.PhysicalSize != meta.LogicalSize {
		t.Fatalf("expected physical == logical after decompress, got %d vs %d", meta.PhysicalSize, meta.LogicalSize)
	}
}

func TestFakeAdapterTimestampFailureStillSucceedsWithWarning(t *testing.T) {
	var warned string
	f := NewFakeAdapter(func(path string, err error) { warned = path })
	f.Seed("/a.txt", 1000)
	f.InjectTimestampFailure("/a.txt")

	if err := f.SetBacking("/a.txt", config.AlgorithmXpress8k); err != nil {
		t.Fatalf("operation should still report success: %v", err)
	}
	if warned != "/a.txt" {
		t.Fatal("expected a timestamp-restoration warning to fire")
	}
}

func TestFakeAdapterLockedAndUnsupportedAndIoError(t *testing.T) {
	f := NewFakeAdapter(nil)
	f.Seed("/a.txt", 10)

	f.InjectLocked("/a.txt")
	if err := f.SetBacking("/a.txt", config.AlgorithmLzx); err != ErrLocked {
		t.Fatalf("expected ErrLocked, got %v", err)
	}

	f.InjectUnsupported("/a.txt")
	if err := f.SetBacking("/a.txt", config.AlgorithmLzx); err != ErrUnsupported {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}

	f.InjectIoError("/a.txt")
	if _, err := f.Stat("/a.txt"); err != ErrIoError {
		t.Fatalf("expected ErrIoError, got %v", err)
	}

	if _, err := f.Stat("/missing.txt"); err != ErrIoError {
		t.Fatalf("expected ErrIoError for unseeded path, got %v", err)
	}
}
