package walk

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/halvarsen/compactd/internal/platform"
)

func neverStopped() bool { return false }

func writeFile(t *testing.T, path string, size int) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, make([]byte, size), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestWalkSkipsPrunedSubtreeWithoutEntering(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "keep.txt"), 100)
	pruned := filepath.Join(root, ".git", "objects", "deep.bin")
	writeFile(t, pruned, 100)

	adapter := platform.NewFakeAdapter(nil)
	adapter.Seed(filepath.Join(root, "keep.txt"), 100)
	adapter.Seed(pruned, 100)

	opts := Options{SubtreeDenylist: map[string]struct{}{".git": {}}}

	var seen []string
	var listErrs []ListError
	Walk(root, adapter, opts, neverStopped, func(e Entry) {
		seen = append(seen, e.Path)
	}, func(le ListError) {
		listErrs = append(listErrs, le)
	})

	if len(seen) != 1 || seen[0] != filepath.Join(root, "keep.txt") {
		t.Fatalf("expected only keep.txt to be visited, got %v", seen)
	}
	if len(listErrs) != 0 {
		t.Fatalf("expected no listing errors, got %v", listErrs)
	}
}

func TestWalkAppliesSizeFloorAndExtensionDenylist(t *testing.T) {
	root := t.TempDir()
	small := filepath.Join(root, "small.txt")
	excluded := filepath.Join(root, "movie.mp4")
	normal := filepath.Join(root, "normal.txt")
	writeFile(t, small, 10)
	writeFile(t, excluded, 1000)
	writeFile(t, normal, 1000)

	adapter := platform.NewFakeAdapter(nil)
	adapter.Seed(small, 10)
	adapter.Seed(excluded, 1000)
	adapter.Seed(normal, 1000)

	opts := Options{
		MinSize:           100,
		ExtensionDenylist: map[string]struct{}{".mp4": {}},
	}

	byPath := map[string]Entry{}
	Walk(root, adapter, opts, neverStopped, func(e Entry) {
		byPath[e.Path] = e
	}, func(ListError) {})

	if byPath[small].PreSkip != ReasonTooSmall {
		t.Fatalf("expected small.txt PreSkip=TooSmall, got %q", byPath[small].PreSkip)
	}
	if byPath[excluded].PreSkip != ReasonExcluded {
		t.Fatalf("expected movie.mp4 PreSkip=Excluded, got %q", byPath[excluded].PreSkip)
	}
	if byPath[normal].PreSkip != ReasonNone {
		t.Fatalf("expected normal.txt to have no PreSkip, got %q", byPath[normal].PreSkip)
	}
}

func TestWalkSizeFloorIsInclusive(t *testing.T) {
	root := t.TempDir()
	atFloor := filepath.Join(root, "at_floor.txt")
	aboveFloor := filepath.Join(root, "above_floor.txt")
	writeFile(t, atFloor, 100)
	writeFile(t, aboveFloor, 101)

	adapter := platform.NewFakeAdapter(nil)
	adapter.Seed(atFloor, 100)
	adapter.Seed(aboveFloor, 101)

	opts := Options{MinSize: 100}

	byPath := map[string]Entry{}
	Walk(root, adapter, opts, neverStopped, func(e Entry) {
		byPath[e.Path] = e
	}, func(ListError) {})

	if byPath[atFloor].PreSkip != ReasonTooSmall {
		t.Fatalf("expected file exactly at MinSize to be PreSkip=TooSmall, got %q", byPath[atFloor].PreSkip)
	}
	if byPath[aboveFloor].PreSkip != ReasonNone {
		t.Fatalf("expected file one byte above MinSize to have no PreSkip, got %q", byPath[aboveFloor].PreSkip)
	}
}

func TestWalkToleratesPerEntryStatError(t *testing.T) {
	root := t.TempDir()
	good := filepath.Join(root, "good.txt")
	bad := filepath.Join(root, "bad.txt")
	writeFile(t, good, 100)
	writeFile(t, bad, 100)

	adapter := platform.NewFakeAdapter(nil)
	adapter.Seed(good, 100)
	// bad.txt is intentionally never seeded: FakeAdapter.Stat reports
	// ErrIoError for it, exercising the per-entry tolerance.

	var entries []Entry
	var errs []ListError
	Walk(root, adapter, Options{}, neverStopped, func(e Entry) {
		entries = append(entries, e)
	}, func(le ListError) {
		errs = append(errs, le)
	})

	if len(entries) != 1 || entries[0].Path != good {
		t.Fatalf("expected only good.txt to be yielded, got %v", entries)
	}
	if len(errs) != 1 || errs[0].Path != bad {
		t.Fatalf("expected one list error for bad.txt, got %v", errs)
	}
}

func TestWalkStopsWhenStoppedFlagSet(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.txt"), 100)
	writeFile(t, filepath.Join(root, "b.txt"), 100)

	adapter := platform.NewFakeAdapter(nil)
	adapter.Seed(filepath.Join(root, "a.txt"), 100)
	adapter.Seed(filepath.Join(root, "b.txt"), 100)

	var count int
	stopped := func() bool { return count > 0 }
	Walk(root, adapter, Options{}, stopped, func(e Entry) {
		count++
	}, func(ListError) {})

	if count != 1 {
		t.Fatalf("expected the walk to stop after one entry, visited %d", count)
	}
}

func TestWalkEmptyDirectoryYieldsNothing(t *testing.T) {
	root := t.TempDir()
	adapter := platform.NewFakeAdapter(nil)

	var count int
	Walk(root, adapter, Options{}, neverStopped, func(Entry) { count++ }, func(ListError) {})

	if count != 0 {
		t.Fatalf("expected no entries from an empty directory, got %d", count)
	}
}
