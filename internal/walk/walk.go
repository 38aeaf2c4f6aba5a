// Package walk implements the directory walker and classifier: a pre-order
// depth-first traversal that prunes excluded subtrees without entering them,
// skips reparse points, and tolerates per-entry and per-listing errors
// without aborting.
package walk

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/halvarsen/compactd/internal/config"
	"github.com/halvarsen/compactd/internal/platform"
)

// SkipReason tags why an entry landed in the Skipped bin. Reason tags are
// for the event log only; the summary groups by Bin alone (spec.md §4.4).
type SkipReason string

const (
	ReasonNone     SkipReason = ""
	ReasonTooSmall SkipReason = "too_small"
	ReasonExcluded SkipReason = "excluded_extension"
	ReasonError    SkipReason = "error"
	ReasonInStore  SkipReason = "in_store"
	ReasonLowRatio SkipReason = "low_ratio"
)

// Entry is the walker's yield: an immutable snapshot of one file, per
// spec.md §3's FileEntry. PreSkip is set when the walker itself already
// determined a Skipped reason (size floor, extension denylist) so the
// classifier doesn't need to re-derive it.
type Entry struct {
	Path       string
	Logical    int64
	Physical   int64
	State      platform.CompressionState
	ModTime    time.Time
	AccessTime time.Time
	PreSkip    SkipReason
}

// ListError reports a non-fatal failure listing a directory or stat'ing one
// entry. The walk continues past it (spec.md §4.4, §7 "Traversal errors").
type ListError struct {
	Path string
	Err  error
}

// Options configures what the walker prunes.
type Options struct {
	ExtensionDenylist map[string]struct{}
	SubtreeDenylist   map[string]struct{}
	MinSize           int64
}

// OptionsFromConfig builds walker Options from the engine's Config.
func OptionsFromConfig(cfg *config.Config) Options {
	opts := Options{
		ExtensionDenylist: make(map[string]struct{}, len(cfg.ExtensionDenylist)),
		SubtreeDenylist:   make(map[string]struct{}, len(cfg.SubtreeDenylist)),
		MinSize:           cfg.MinSize,
	}
	for _, ext := range cfg.ExtensionDenylist {
		opts.ExtensionDenylist[strings.ToLower(ext)] = struct{}{}
	}
	for _, name := range cfg.SubtreeDenylist {
		opts.SubtreeDenylist[name] = struct{}{}
	}
	return opts
}

// Walk performs a pre-order DFS from root, calling onEntry for every
// regular file it visits and onListError for every non-fatal error along
// the way. stopped is polled before recursing into a directory and before
// yielding each file, implementing the Stop flag's "checked between files
// and at each walker yield" contract (spec.md §4.6).
func Walk(root string, adapter platform.Adapter, opts Options, stopped func() bool, onEntry func(Entry), onListError func(ListError)) {
	walkDir(root, adapter, opts, stopped, onEntry, onListError)
}

func walkDir(dir string, adapter platform.Adapter, opts Options, stopped func() bool, onEntry func(Entry), onListError func(ListError)) {
	if stopped() {
		return
	}

	dirEntries, err := os.ReadDir(dir)
	if err != nil {
		onListError(ListError{Path: dir, Err: err})
		return
	}
	sort.Slice(dirEntries, func(i, j int) bool { return dirEntries[i].Name() < dirEntries[j].Name() })

	for _, de := range dirEntries {
		if stopped() {
			return
		}

		full := filepath.Join(dir, de.Name())

		if de.Type()&os.ModeSymlink != 0 {
			continue // reparse points are not followed
		}

		if de.IsDir() {
			if _, excluded := opts.SubtreeDenylist[de.Name()]; excluded {
				continue // pruned without being entered
			}
			walkDir(full, adapter, opts, stopped, onEntry, onListError)
			continue
		}

		info, err := de.Info()
		if err != nil {
			onListError(ListError{Path: full, Err: err})
			continue
		}

		preSkip := ReasonNone
		ext := strings.ToLower(filepath.Ext(full))
		if _, excluded := opts.ExtensionDenylist[ext]; excluded {
			preSkip = ReasonExcluded
		} else if info.Size() <= opts.MinSize {
			preSkip = ReasonTooSmall
		}

		meta, err := adapter.Stat(full)
		if err != nil {
			onListError(ListError{Path: full, Err: err})
			continue
		}

		onEntry(Entry{
			Path:       full,
			Logical:    meta.LogicalSize,
			Physical:   meta.PhysicalSize,
			State:      meta.State,
			ModTime:    meta.ModTime,
			AccessTime: meta.AccessTime,
			PreSkip:    preSkip,
		})
	}
}
