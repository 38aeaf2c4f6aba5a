// Package job implements the background job engine: a single pausable,
// resumable, cancellable worker that drives the walker/classifier over a
// root directory and dispatches one of three per-entry actions (spec.md
// §4.6).
package job

import (
	"sync"
	"time"

	"github.com/halvarsen/compactd/internal/config"
	"github.com/halvarsen/compactd/internal/metrics"
	"github.com/halvarsen/compactd/internal/platform"
	"github.com/halvarsen/compactd/internal/proto"
	"github.com/halvarsen/compactd/internal/store"
	"github.com/halvarsen/compactd/internal/summary"
	"github.com/halvarsen/compactd/internal/walk"
)

// Kind is one of the three jobs the engine can run (spec.md §4.6).
type Kind string

const (
	KindAnalyse    Kind = "analyse"
	KindCompress   Kind = "compress"
	KindDecompress Kind = "decompress"
)

// State is the job engine's state machine (spec.md §4.6's table).
type State int

const (
	StateIdle State = iota
	StateRunning
	StatePaused
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// rejected is returned by Start when the engine is not Idle. Pause, Resume
// and Stop never return it: a signal the current State does not accept is
// ignored and they return nil.
type rejected struct {
	signal string
	state  State
}

func (r *rejected) Error() string {
	return "job: " + r.signal + " rejected in state " + r.state.String()
}

// NewRejected builds the same "signal rejected in state" error Start
// returns, for callers outside the package that reject a signal
// against the engine's current State themselves (e.g. a config patch applied
// while a job is running).
func NewRejected(signal string, state State) error {
	return &rejected{signal: signal, state: state}
}

// Engine owns the single background worker. Exactly one job runs at a
// time; Start rejects while Running or Paused (spec.md §4.6).
type Engine struct {
	mu    sync.Mutex
	cond  *sync.Cond
	state State
	stop  bool // set by Stop/Quit; checked between files

	root    string
	cfg     *config.Config
	adapter platform.Adapter
	st      *store.Store
	hashKey uint64
	metrics *metrics.Metrics
	emit    func(proto.Event)

	// estimate is the wired compresstimator (plus optional deep-analysis
	// refinement), injected so tests can substitute a deterministic probe.
	estimate walk.Estimate

	wg sync.WaitGroup
}

// Options bundles Engine's dependencies.
type Options struct {
	Config   *config.Config
	Adapter  platform.Adapter
	Store    *store.Store
	HashKey  uint64
	Metrics  *metrics.Metrics
	Emit     func(proto.Event)
	Estimate walk.Estimate
}

// New builds an idle Engine.
func New(opts Options) *Engine {
	e := &Engine{
		cfg:      opts.Config,
		adapter:  opts.Adapter,
		st:       opts.Store,
		hashKey:  opts.HashKey,
		metrics:  opts.Metrics,
		emit:     opts.Emit,
		estimate: opts.Estimate,
	}
	e.cond = sync.NewCond(&e.mu)
	return e
}

// SetRoot sets the target directory for the next Start. Spec.md §4.6: "If
// no root is set, emits an error event and returns to Idle" — so an empty
// root is accepted here and only rejected once a job actually starts.
func (e *Engine) SetRoot(root string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.root = root
}

// State returns the engine's current state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Start launches kind as the background job. Rejected if not Idle.
func (e *Engine) Start(kind Kind) error {
	e.mu.Lock()
	if e.state != StateIdle {
		s := e.state
		e.mu.Unlock()
		return &rejected{signal: "Start", state: s}
	}
	e.state = StateRunning
	e.stop = false
	root := e.root
	e.mu.Unlock()

	e.wg.Add(1)
	go e.run(kind, root)
	return nil
}

// Pause suspends the worker between files. Ignored outside Running.
func (e *Engine) Pause() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateRunning {
		return nil // ignored per spec.md §4.6 (Idle/Paused/Stopping all ignore Pause)
	}
	e.state = StatePaused
	return nil
}

// Resume wakes a paused worker. Ignored outside Paused.
func (e *Engine) Resume() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StatePaused {
		return nil
	}
	e.state = StateRunning
	e.cond.Broadcast()
	return nil
}

// Stop requests cancellation. Ignored in Idle/Stopping; unblocks a paused
// worker immediately (spec.md §4.6).
func (e *Engine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch e.state {
	case StateRunning, StatePaused:
		e.state = StateStopping
		e.stop = true
		e.cond.Broadcast()
	}
	return nil
}

// Quit implies Stop, then waits for the worker to exit — the process-exit
// path (spec.md §4.6).
func (e *Engine) Quit() {
	_ = e.Stop()
	e.wg.Wait()
}

// waitWhilePausedLocked blocks on the condition variable while Paused, per
// spec.md §9 "avoid busy-polling". Must be called with e.mu held.
func (e *Engine) waitWhilePausedLocked() {
	for e.state == StatePaused {
		e.cond.Wait()
	}
}

// stopped is the walker's per-yield hook: it blocks while Paused (without
// polling) and reports whether Stop has been requested once unblocked.
func (e *Engine) stopped() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.waitWhilePausedLocked()
	return e.stop
}

func (e *Engine) run(kind Kind, root string) {
	defer e.wg.Done()
	start := time.Now()

	defer func() {
		e.mu.Lock()
		e.state = StateIdle
		e.mu.Unlock()
	}()

	if root == "" {
		e.emitStatusError("error", "", errNoRoot)
		return
	}

	sum := summary.New()
	throttle := summary.NewThrottle(e.cfg.SummaryThrottle)
	classifier := walk.NewClassifier(e.cfg, e.st, e.hashKey, e.estimate, func() {
		if e.metrics != nil {
			e.metrics.ObserveEstimatorInvocation()
		}
	})
	opts := walk.OptionsFromConfig(e.cfg)

	walk.Walk(root, e.adapter, opts, e.stopped, func(entry walk.Entry) {
		e.dispatch(kind, entry, classifier, sum)
		if e.metrics != nil {
			snap := sum.Snapshot()
			e.metrics.SetBytes(snap.LogicalSize, snap.PhysicalSize)
		}
		if throttle.Allow(time.Now()) {
			e.emit(proto.FolderSummary(sum.Snapshot()))
		}
	}, func(le walk.ListError) {
		e.emitStatusError("scanning", le.Path, le.Err)
	})

	if e.st != nil {
		_ = e.st.Flush()
	}
	e.emit(proto.FolderSummary(sum.Snapshot())) // final, un-throttled

	e.mu.Lock()
	stopped := e.stop
	e.mu.Unlock()

	if e.metrics != nil {
		e.metrics.ObserveJobDuration(string(kind), time.Since(start).Seconds())
	}

	if stopped {
		e.emit(proto.Simple(proto.EvtStopped))
	} else {
		e.emit(proto.Simple(proto.EvtScanned))
	}
}

func (e *Engine) emitStatusError(status, path string, err error) {
	ev := proto.StatusError(status, path, err)
	e.emit(ev)
}

// dispatch applies kind's per-entry action, per spec.md §4.6 step 4.
func (e *Engine) dispatch(kind Kind, entry walk.Entry, cl *walk.Classifier, sum *summary.Summary) {
	cls := cl.Classify(entry)
	if e.metrics != nil {
		e.metrics.ObserveScan(cls.Bin)
	}

	switch kind {
	case KindAnalyse:
		sum.Add(cls.Bin, entry.Logical, entry.Physical)

	case KindCompress:
		e.dispatchCompress(entry, cls, sum)

	case KindDecompress:
		e.dispatchDecompress(entry, cls, sum)
	}
}

func (e *Engine) dispatchCompress(entry walk.Entry, cls walk.Classification, sum *summary.Summary) {
	switch cls.Bin {
	case walk.BinCompressed:
		sum.Add(walk.BinCompressed, entry.Logical, entry.Physical)

	case walk.BinSkipped:
		if cls.Reason == walk.ReasonLowRatio && e.st != nil {
			hash := store.HashPath(e.hashKey, entry.Path)
			_ = e.st.Record(hash)
		}
		sum.Add(walk.BinSkipped, entry.Logical, entry.Physical)

	case walk.BinCompressible:
		if err := e.adapter.SetBacking(entry.Path, e.cfg.Algorithm); err != nil {
			e.emitStatusError("compress", entry.Path, err)
			return // summary not updated for this entry (spec.md §7)
		}
		meta, err := e.adapter.Stat(entry.Path)
		if err != nil {
			e.emitStatusError("compress", entry.Path, err)
			return
		}
		sum.Add(walk.BinCompressed, entry.Logical, meta.PhysicalSize)
	}
}

func (e *Engine) dispatchDecompress(entry walk.Entry, cls walk.Classification, sum *summary.Summary) {
	if cls.Bin != walk.BinCompressed {
		sum.Add(cls.Bin, entry.Logical, entry.Physical)
		return
	}
	if err := e.adapter.ClearBacking(entry.Path); err != nil {
		e.emitStatusError("decompress", entry.Path, err)
		return
	}
	meta, err := e.adapter.Stat(entry.Path)
	if err != nil {
		e.emitStatusError("decompress", entry.Path, err)
		return
	}
	// A cleared entry returns to its pre-compress classification; spec.md
	// §8 S4 counts it back into Compressible without a second probe.
	sum.Add(walk.BinCompressible, entry.Logical, meta.PhysicalSize)
}

var errNoRoot = &noRootError{}

type noRootError struct{}

func (*noRootError) Error() string { return "job: no root set" }
