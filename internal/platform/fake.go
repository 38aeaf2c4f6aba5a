package platform

import (
	"sync"
	"time"

	"github.com/halvarsen/compactd/internal/config"
)

// FakeAdapter is the in-memory Adapter substitute spec.md §9 calls for:
// tests track (state, timestamps, physical size) per path without touching
// a real filesystem. Entries not explicitly seeded via Seed are reported
// ErrIoError on Stat, matching "path not found".
type FakeAdapter struct {
	mu      sync.Mutex
	entries map[string]*fakeEntry
	warn    func(path string, err error)

	// Injected failure modes, keyed by path, consumed on next matching call.
	lockedOn      map[string]bool
	unsupportedOn map[string]bool
	ioErrorOn     map[string]bool
	tsFailOn      map[string]bool

	setBackingCalls int
}

type fakeEntry struct {
	logical  int64
	physical int64
	state    CompressionState
	mtime    time.Time
	atime    time.Time
}

// NewFakeAdapter returns an empty fake. warn, if non-nil, receives
// timestamp-restoration warnings exactly like the real adapters.
func NewFakeAdapter(warn func(path string, err error)) *FakeAdapter {
	return &FakeAdapter{
		entries:       make(map[string]*fakeEntry),
		warn:          warn,
		lockedOn:      make(map[string]bool),
		unsupportedOn: make(map[string]bool),
		ioErrorOn:     make(map[string]bool),
		tsFailOn:      make(map[string]bool),
	}
}

// Seed installs an uncompressed file of the given logical size, with
// timestamps set to now truncated to the second (matching typical fs
// resolution) unless mtime/atime are overridden via SeedTimes.
func (f *FakeAdapter) Seed(path string, logicalSize int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now().Truncate(time.Second)
	f.entries[path] = &fakeEntry{
		logical:  logicalSize,
		physical: logicalSize,
		mtime:    now,
		atime:    now,
	}
}

// SeedTimes overrides the timestamps of an already-seeded entry.
func (f *FakeAdapter) SeedTimes(path string, mtime, atime time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if e, ok := f.entries[path]; ok {
		e.mtime, e.atime = mtime, atime
	}
}

// InjectLocked arranges for the next SetBacking/ClearBacking on path to
// fail with ErrLocked.
func (f *FakeAdapter) InjectLocked(path string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lockedOn[path] = true
}

// InjectUnsupported arranges for the next SetBacking on path to fail with
// ErrUnsupported.
func (f *FakeAdapter) InjectUnsupported(path string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unsupportedOn[path] = true
}

// InjectIoError arranges for the next Stat/SetBacking/ClearBacking on path
// to fail with ErrIoError.
func (f *FakeAdapter) InjectIoError(path string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ioErrorOn[path] = true
}

// InjectTimestampFailure arranges for the next successful SetBacking or
// ClearBacking on path to still fail to restore timestamps (op succeeds,
// warn fires).
func (f *FakeAdapter) InjectTimestampFailure(path string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tsFailOn[path] = true
}

// SetBackingCalls returns how many times SetBacking actually ran the
// platform call; calls that were no-ops on an already-backed file or that
// failed on an injected error are not counted.
func (f *FakeAdapter) SetBackingCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.setBackingCalls
}

func (f *FakeAdapter) Stat(path string) (FileMetadata, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.ioErrorOn[path] {
		delete(f.ioErrorOn, path)
		return FileMetadata{}, ErrIoError
	}
	e, ok := f.entries[path]
	if !ok {
		return FileMetadata{}, ErrIoError
	}
	return FileMetadata{
		LogicalSize:  e.logical,
		PhysicalSize: e.physical,
		State:        e.state,
		ModTime:      e.mtime,
		AccessTime:   e.atime,
	}, nil
}

func (f *FakeAdapter) SetBacking(path string, algo config.Algorithm) error {
	f.mu.Lock()

	if f.ioErrorOn[path] {
		delete(f.ioErrorOn, path)
		f.mu.Unlock()
		return ErrIoError
	}
	if f.lockedOn[path] {
		delete(f.lockedOn, path)
		f.mu.Unlock()
		return ErrLocked
	}
	if f.unsupportedOn[path] {
		delete(f.unsupportedOn, path)
		f.mu.Unlock()
		return ErrUnsupported
	}
	e, ok := f.entries[path]
	if !ok {
		f.mu.Unlock()
		return ErrIoError
	}
	if e.state.Backed {
		// No-op per spec.md §4.1.
		f.mu.Unlock()
		return nil
	}
	f.setBackingCalls++

	savedMtime, savedAtime := e.mtime, e.atime
	// Emulate WOF's ~2:1 shrink for any algorithm in the fake: enough to
	// exercise the physical<=logical invariant without encoding anything.
	e.physical = e.logical / 2
	if e.physical == 0 && e.logical > 0 {
		e.physical = 1
	}
	e.state = CompressionState{Backed: true, Algorithm: algo}
	e.mtime = time.Now() // the platform call itself bumps mtime

	tsFail := f.tsFailOn[path]
	delete(f.tsFailOn, path)
	f.mu.Unlock()

	if tsFail {
		if f.warn != nil {
			f.warn(path, errTimestampRestoreFailed)
		}
		return nil
	}

	f.mu.Lock()
	e.mtime, e.atime = savedMtime, savedAtime
	f.mu.Unlock()
	return nil
}

func (f *FakeAdapter) ClearBacking(path string) error {
	f.mu.Lock()

	if f.ioErrorOn[path] {
		delete(f.ioErrorOn, path)
		f.mu.Unlock()
		return ErrIoError
	}
	if f.lockedOn[path] {
		delete(f.lockedOn, path)
		f.mu.Unlock()
		return ErrLocked
	}
	e, ok := f.entries[path]
	if !ok {
		f.mu.Unlock()
		return ErrIoError
	}
	if !e.state.Backed {
		f.mu.Unlock()
		return nil
	}

	savedMtime, savedAtime := e.mtime, e.atime
	e.physical = e.logical
	e.state = CompressionState{}
	e.mtime = time.Now()

	tsFail := f.tsFailOn[path]
	delete(f.tsFailOn, path)
	f.mu.Unlock()

	if tsFail {
		if f.warn != nil {
			f.warn(path, errTimestampRestoreFailed)
		}
		return nil
	}

	f.mu.Lock()
	e.mtime, e.atime = savedMtime, savedAtime
	f.mu.Unlock()
	return nil
}

var errTimestampRestoreFailed = &timestampRestoreError{}

type timestampRestoreError struct{}

func (*timestampRestoreError) Error() string { return "simulated timestamp restore failure" }

var _ Adapter = (*FakeAdapter)(nil)
