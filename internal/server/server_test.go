package server

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/halvarsen/compactd/internal/config"
	"github.com/halvarsen/compactd/internal/historydb"
	"github.com/halvarsen/compactd/internal/job"
	"github.com/halvarsen/compactd/internal/platform"
	"github.com/halvarsen/compactd/internal/proto"
	"github.com/halvarsen/compactd/internal/store"
)

// chanTransport is an in-process proto.Transport stand-in: commands flow in
// on one channel, events flow out on another, avoiding a real socket or
// subprocess for the test.
type chanTransport struct {
	in     chan proto.Command
	out    chan proto.Event
	closed chan struct{}
}

func newChanTransport() *chanTransport {
	return &chanTransport{
		in:     make(chan proto.Command, 16),
		out:    make(chan proto.Event, 64),
		closed: make(chan struct{}),
	}
}

func (c *chanTransport) ReadCommand() (proto.Command, error) {
	select {
	case cmd := <-c.in:
		return cmd, nil
	case <-c.closed:
		return proto.Command{}, os.ErrClosed
	}
}

func (c *chanTransport) WriteEvent(ev proto.Event) error {
	select {
	case c.out <- ev:
		return nil
	default:
		return nil // best-effort: test only drains what it cares about
	}
}

func (c *chanTransport) Close() error {
	select {
	case <-c.closed:
	default:
		close(c.closed)
	}
	return nil
}

func buildHub(t *testing.T) (*Hub, string) {
	t.Helper()
	dir := t.TempDir()
	root := filepath.Join(dir, "root")
	if err := os.MkdirAll(root, 0o755); err != nil {
		t.Fatal(err)
	}
	filePath := filepath.Join(root, "a.txt")
	data := []byte("hello")
	if err := os.WriteFile(filePath, data, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := config.Default()
	cfg.StateDir = dir
	cfg.MinSize = 1
	cfg.ExtensionDenylist = nil
	cfg.SubtreeDenylist = nil

	st, err := store.Open(filepath.Join(dir, "store"), 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })

	hist, err := historydb.Open(filepath.Join(dir, "history.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { hist.Close() })

	adapter := platform.NewFakeAdapter(nil)
	adapter.Seed(filePath, int64(len(data)))
	hub := New(cfg, adapter, st, 1, nil, hist)
	return hub, root
}

func TestHubRunsAnalyseAndRecordsHistory(t *testing.T) {
	hub, root := buildHub(t)
	tr := newChanTransport()
	go hub.Serve(tr)

	tr.in <- proto.Command{Type: proto.CmdChooseFolder, Path: root}
	tr.in <- proto.Command{Type: proto.CmdAnalyse, Path: root}

	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-tr.out:
			if ev.Type == proto.EvtScanned {
				goto done
			}
		case <-deadline:
			t.Fatal("timed out waiting for Scanned")
		}
	}
done:

	rec, ok, err := hub.history.LastForRoot(root)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected a history record for the root")
	}
	if rec.TerminalEvent != proto.EvtScanned {
		t.Fatalf("unexpected terminal event: %+v", rec)
	}
	if rec.RunID == "" {
		t.Fatal("expected a non-empty run id")
	}
}

func TestPatchConfigRejectedWhileJobRunning(t *testing.T) {
	hub, root := buildHub(t)
	hub.engine.SetRoot(root)
	if err := hub.engine.Start(job.KindAnalyse); err != nil {
		t.Fatalf("failed to start job: %v", err)
	}
	_ = hub.engine.Pause() // pins the engine in a non-Idle state for the assertion below
	t.Cleanup(func() { hub.engine.Quit() })

	tr := newChanTransport()
	hub.patchConfig(tr, json.RawMessage(`{"min_size": 99}`))

	select {
	case ev := <-tr.out:
		if ev.Type != proto.EvtStatus || ev.Error == "" {
			t.Fatalf("expected a config error Status event, got %+v", ev)
		}
	default:
		t.Fatal("expected a rejection event, got none")
	}
	if hub.cfg.MinSize == 99 {
		t.Fatal("config must not change while a job is running")
	}
}

func TestPatchConfigAppliedWhileIdle(t *testing.T) {
	hub, _ := buildHub(t)
	tr := newChanTransport()

	hub.patchConfig(tr, json.RawMessage(`{"min_size": 99}`))

	select {
	case ev := <-tr.out:
		t.Fatalf("expected no rejection event while Idle, got %+v", ev)
	default:
	}
	if hub.cfg.MinSize != 99 {
		t.Fatalf("expected config patch to apply while Idle, got MinSize=%d", hub.cfg.MinSize)
	}
}

func TestHubIgnoresUnknownCommandType(t *testing.T) {
	hub, _ := buildHub(t)
	tr := newChanTransport()
	go hub.Serve(tr)

	tr.in <- proto.Command{Type: "Nonsense"}
	tr.in <- proto.Command{Type: proto.CmdChooseFolder, Path: "/tmp"}

	select {
	case ev := <-tr.out:
		if ev.Type != proto.EvtFolder {
			t.Fatalf("expected Folder event, got %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for Folder event")
	}
}
