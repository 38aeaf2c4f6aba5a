// Package platform is the only place that names host compression APIs. It
// wraps the filesystem control codes WOF exposes (query/set/clear external
// backing), coherent logical/physical size and timestamp retrieval, and the
// exclusive locking the backing call requires. Every other package talks to
// an Adapter, never to the OS directly, so tests can substitute the fake in
// fake.go.
package platform

import (
	"errors"
	"time"

	"github.com/halvarsen/compactd/internal/config"
)

// CompressionState is one of Uncompressed or ExternallyBacked(algorithm).
type CompressionState struct {
	Backed    bool
	Algorithm config.Algorithm
}

// FileMetadata is the coherent snapshot stat() returns: logical size,
// physical (allocated) size, compression state and timestamps, all read
// from the same underlying stat call where the host allows it.
type FileMetadata struct {
	LogicalSize  int64
	PhysicalSize int64
	State        CompressionState
	ModTime      time.Time
	AccessTime   time.Time
}

// Sentinel errors per spec.md §4.1 / §7.
var (
	// ErrIoError wraps access-denied or not-found failures.
	ErrIoError = errors.New("platform: io error")
	// ErrLocked means exclusive open was not possible (file held open
	// elsewhere) — a distinct reason tag for lock contention (spec.md §7).
	ErrLocked = errors.New("platform: file locked by another process")
	// ErrUnsupported means the target filesystem rejected the control.
	ErrUnsupported = errors.New("platform: filesystem does not support external backing")
)

// Adapter is the platform abstraction every other package depends on.
type Adapter interface {
	// Stat returns logical size, physical size and compression state
	// coherently, plus timestamps. Fails with ErrIoError on access denial
	// or a missing path.
	Stat(path string) (FileMetadata, error)

	// SetBacking attaches algo's external backing to path. A no-op
	// returning nil if path is already backed. Fails with ErrLocked,
	// ErrUnsupported or ErrIoError.
	SetBacking(path string, algo config.Algorithm) error

	// ClearBacking removes any external backing from path. A no-op
	// returning nil if path is not backed.
	ClearBacking(path string) error
}

// TimestampWarning describes a non-fatal timestamp-restoration failure after
// an otherwise successful SetBacking/ClearBacking. The adapters in this
// package do not return it: they report such failures through the warn
// callback passed to their constructor and still return nil.
type TimestampWarning struct {
	Path string
	Err  error
}

func (w *TimestampWarning) Error() string {
	return "platform: failed to restore timestamps on " + w.Path + ": " + w.Err.Error()
}
