// Package server wires one job.Engine to any number of connected
// transports, fans its events out to all of them, applies live config
// patches, and records each completed job in the history database
// (SPEC_FULL.md §4.7, §10 expansion).
package server

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/halvarsen/compactd/internal/config"
	"github.com/halvarsen/compactd/internal/historydb"
	"github.com/halvarsen/compactd/internal/job"
	"github.com/halvarsen/compactd/internal/metrics"
	"github.com/halvarsen/compactd/internal/platform"
	"github.com/halvarsen/compactd/internal/proto"
	"github.com/halvarsen/compactd/internal/store"
	"github.com/halvarsen/compactd/internal/summary"
)

// Hub owns the single background job engine and fans its events out to
// every connected front-end (spec.md §4.6: "exactly one job runs at a
// time", shared across however many transports are attached).
type Hub struct {
	mu      sync.Mutex
	cfg     *config.Config
	adapter platform.Adapter
	st      *store.Store
	hashKey uint64
	metrics *metrics.Metrics
	history *historydb.DB

	engine *job.Engine

	transports map[proto.Transport]struct{}

	runID      string
	runStarted time.Time
	runKind    job.Kind
	runRoot    string
	lastSnap   summary.Snapshot
}

// New builds a Hub and its underlying engine. cfg, adapter, st and hist may
// be shared across an entire process lifetime.
func New(cfg *config.Config, adapter platform.Adapter, st *store.Store, hashKey uint64, m *metrics.Metrics, hist *historydb.DB) *Hub {
	h := &Hub{
		cfg:        cfg,
		adapter:    adapter,
		st:         st,
		hashKey:    hashKey,
		metrics:    m,
		history:    hist,
		transports: make(map[proto.Transport]struct{}),
	}
	h.engine = job.New(job.Options{
		Config:   cfg,
		Adapter:  adapter,
		Store:    st,
		HashKey:  hashKey,
		Metrics:  m,
		Emit:     h.broadcast,
		Estimate: job.NewFileEstimate(cfg),
	})
	return h
}

// Serve attaches t to the hub, dispatching commands read from it until it
// returns an error (typically from a closed connection). Safe to call
// concurrently for any number of transports.
func (h *Hub) Serve(t proto.Transport) {
	h.mu.Lock()
	h.transports[t] = struct{}{}
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.transports, t)
		h.mu.Unlock()
		t.Close()
	}()

	for {
		cmd, err := t.ReadCommand()
		if err != nil {
			return
		}
		h.dispatch(t, cmd)
	}
}

func (h *Hub) dispatch(t proto.Transport, cmd proto.Command) {
	switch cmd.Type {
	case proto.CmdChooseFolder:
		h.engine.SetRoot(cmd.Path)
		_ = t.WriteEvent(proto.Folder(cmd.Path))

	case proto.CmdAnalyse:
		h.start(job.KindAnalyse, cmd.Path)
	case proto.CmdCompress:
		h.start(job.KindCompress, cmd.Path)
	case proto.CmdDecompress:
		h.start(job.KindDecompress, cmd.Path)

	case proto.CmdPause:
		if err := h.engine.Pause(); err == nil {
			h.broadcast(proto.Simple(proto.EvtPaused))
		}
	case proto.CmdResume:
		if err := h.engine.Resume(); err == nil {
			h.broadcast(proto.Simple(proto.EvtResumed))
		}
	case proto.CmdStop:
		_ = h.engine.Stop()
	case proto.CmdQuit:
		h.engine.Quit()

	case proto.CmdPatchConfig:
		h.patchConfig(t, cmd.Patch)

	case proto.CmdOpenUrl:
		// The URL-opener is an external collaborator (spec.md §1); this
		// command only ever needs to reach this far, it is relayed no
		// further inside the engine.
		log.Info().Str("url", cmd.URL).Msg("OpenUrl relayed past the engine boundary")

	default:
		log.Warn().Str("type", cmd.Type).Msg("ignoring unrecognised command")
	}
}

func (h *Hub) start(kind job.Kind, path string) {
	if path != "" {
		h.engine.SetRoot(path)
	}
	runID := uuid.NewString()
	h.mu.Lock()
	h.runID = runID
	h.runStarted = time.Now()
	h.runKind = kind
	h.runRoot = path
	h.mu.Unlock()

	log.Info().Str("run_id", runID).Str("job", string(kind)).Str("root", path).Msg("starting job")

	if err := h.engine.Start(kind); err != nil {
		h.broadcast(proto.StatusError("error", path, err))
	}
}

func (h *Hub) patchConfig(t proto.Transport, patch json.RawMessage) {
	if state := h.engine.State(); state != job.StateIdle {
		_ = t.WriteEvent(proto.StatusError("config", "", job.NewRejected("patch_config", state)))
		return
	}

	h.mu.Lock()
	cur := h.cfg
	h.mu.Unlock()

	next, err := proto.ApplyConfigPatch(cur, patch)
	if err != nil {
		_ = t.WriteEvent(proto.StatusError("config", "", err))
		return
	}

	h.mu.Lock()
	*h.cfg = *next
	h.mu.Unlock()
	log.Info().Interface("config", next).Msg("applied live config patch")
}

// broadcast fans ev out to every attached transport and, on a terminal
// event, records the completed run in the history database before the
// event is sent, so a front-end that sees the terminal event can read it.
func (h *Hub) broadcast(ev proto.Event) {
	if ev.Type == proto.EvtFolderSummary {
		if snap, ok := ev.Info.(summary.Snapshot); ok {
			h.mu.Lock()
			h.lastSnap = snap
			h.mu.Unlock()
		}
	}
	if ev.Type == proto.EvtScanned || ev.Type == proto.EvtStopped {
		h.recordHistory(ev)
	}

	h.mu.Lock()
	targets := make([]proto.Transport, 0, len(h.transports))
	for t := range h.transports {
		targets = append(targets, t)
	}
	h.mu.Unlock()

	for _, t := range targets {
		if err := t.WriteEvent(ev); err != nil {
			log.Warn().Err(err).Msg("dropping transport after write failure")
		}
	}
}

func (h *Hub) recordHistory(ev proto.Event) {
	if h.history == nil {
		return
	}
	h.mu.Lock()
	runID, root, kind, started, snap := h.runID, h.runRoot, h.runKind, h.runStarted, h.lastSnap
	h.mu.Unlock()
	if root == "" {
		return
	}

	rec := historydb.Record{
		RunID:         runID,
		Root:          root,
		Job:           kind,
		StartedAt:     started,
		FinishedAt:    time.Now(),
		TerminalEvent: ev.Type,
		Summary:       snap,
	}
	if _, err := h.history.Insert(rec); err != nil {
		log.Warn().Err(err).Msg("failed to record job history")
	}
}
