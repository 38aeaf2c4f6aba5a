package historydb

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/halvarsen/compactd/internal/job"
	"github.com/halvarsen/compactd/internal/summary"
)

func openTemp(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestInsertThenLastForRootRoundTrips(t *testing.T) {
	db := openTemp(t)

	rec := Record{
		RunID:         "11111111-1111-1111-1111-111111111111",
		Root:          "/data/shared",
		Job:           job.KindCompress,
		StartedAt:     time.Unix(1000, 0),
		FinishedAt:    time.Unix(1050, 0),
		TerminalEvent: "Scanned",
		Summary: summary.Snapshot{
			LogicalSize:  2048,
			PhysicalSize: 1024,
		},
	}

	id, err := db.Insert(rec)
	if err != nil {
		t.Fatal(err)
	}
	if id == 0 {
		t.Fatal("expected a non-zero autoincrement id")
	}

	got, ok, err := db.LastForRoot("/data/shared")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected a record for the root")
	}
	if got.Job != job.KindCompress || got.TerminalEvent != "Scanned" {
		t.Fatalf("unexpected record: %+v", got)
	}
	if got.RunID != rec.RunID {
		t.Fatalf("run id didn't round-trip: %+v", got)
	}
	if got.Summary.LogicalSize != 2048 || got.Summary.PhysicalSize != 1024 {
		t.Fatalf("summary didn't round-trip: %+v", got.Summary)
	}
	if !got.StartedAt.Equal(rec.StartedAt) || !got.FinishedAt.Equal(rec.FinishedAt) {
		t.Fatalf("timestamps didn't round-trip: %+v", got)
	}
}

func TestLastForRootReturnsFalseWhenAbsent(t *testing.T) {
	db := openTemp(t)
	_, ok, err := db.LastForRoot("/never/seen")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected no record for an unseen root")
	}
}

func TestRecentOrdersNewestFirstAndRespectsLimit(t *testing.T) {
	db := openTemp(t)

	for i, root := range []string{"/a", "/b", "/c"} {
		rec := Record{
			Root:          root,
			Job:           job.KindAnalyse,
			StartedAt:     time.Unix(int64(1000+i), 0),
			FinishedAt:    time.Unix(int64(2000+i), 0),
			TerminalEvent: "Scanned",
		}
		if _, err := db.Insert(rec); err != nil {
			t.Fatal(err)
		}
	}

	recent, err := db.Recent(2)
	if err != nil {
		t.Fatal(err)
	}
	if len(recent) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recent))
	}
	if recent[0].Root != "/c" || recent[1].Root != "/b" {
		t.Fatalf("expected newest-first ordering, got %+v", recent)
	}
}
