package checkpoint

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/latticemc/dqmc/field"
	"github.com/latticemc/dqmc/sweep"
	"github.com/latticemc/dqmc/update"
)

func tempStore(t *testing.T) *Store {
	t.Helper()
	dir, err := os.MkdirTemp("", "")
	if err != nil {
		t.Fatalf("%+v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	s, err := Open(filepath.Join(dir, "checkpoint.db"))
	if err != nil {
		t.Fatalf("%+v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	t.Parallel()
	s := tempStore(t)

	cfg := field.New(4, 1, 4, 1.0, 0.1, 0)
	cfg.Phi[0][0][1] = 0.75

	st := &State{
		JobID:                    "job-1",
		SweepsDoneThermalization: 12,
		SweepsDoneMeasurement:    3,
		LastSweepDir:             sweep.Down,
		Field:                    cfg,
		RNG:                      []byte{1, 2, 3, 4},
		Adjustment:               &update.AdjustmentState{PhiDelta: 0.5},
		LocalStat:                &update.UpdateStatistics{LocalProposed: 10, LocalAccepted: 4},
		GlobalStat:               &update.UpdateStatistics{GlobalProposed: 2, GlobalAccepted: 1},
	}
	if err := s.Save(st); err != nil {
		t.Fatalf("%+v", err)
	}

	got, err := s.Load()
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if got.JobID != st.JobID || got.SweepsDoneThermalization != 12 || got.SweepsDoneMeasurement != 3 {
		t.Fatalf("mismatched scalars: %+v", got)
	}
	if got.LastSweepDir != sweep.Down {
		t.Fatalf("LastSweepDir=%v, want Down", got.LastSweepDir)
	}
	if got.Field.Phi[0][0][1] != 0.75 {
		t.Fatalf("Phi round-trip mismatch: %v", got.Field.Phi[0][0][1])
	}
	if got.LocalStat.LocalAccepted != 4 {
		t.Fatalf("LocalStat round-trip mismatch: %+v", got.LocalStat)
	}
}

func TestSaveOverwritesPreviousCheckpoint(t *testing.T) {
	t.Parallel()
	s := tempStore(t)

	first := &State{JobID: "first", Field: field.New(2, 1, 2, 1.0, 0.1, 0)}
	second := &State{JobID: "second", Field: field.New(2, 1, 2, 1.0, 0.1, 0)}

	if err := s.Save(first); err != nil {
		t.Fatalf("%+v", err)
	}
	if err := s.Save(second); err != nil {
		t.Fatalf("%+v", err)
	}
	got, err := s.Load()
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if got.JobID != "second" {
		t.Fatalf("JobID=%q, want %q", got.JobID, "second")
	}
}

func TestLoadWithoutSaveErrors(t *testing.T) {
	t.Parallel()
	s := tempStore(t)
	if _, err := s.Load(); err == nil {
		t.Fatal("expected error loading from empty store")
	}
}

func TestClockGrantedTimeExpiry(t *testing.T) {
	t.Parallel()
	c := NewClock(0.05, 0.0, "")
	if c.ShouldStop() {
		t.Fatal("should not stop immediately")
	}
	time.Sleep(80 * time.Millisecond)
	if !c.ShouldStop() {
		t.Fatal("expected ShouldStop after granted time elapsed")
	}
}

func TestClockAbortFile(t *testing.T) {
	t.Parallel()
	dir, err := os.MkdirTemp("", "")
	if err != nil {
		t.Fatalf("%+v", err)
	}
	defer os.RemoveAll(dir)
	abortPath := filepath.Join(dir, "abort")

	c := NewClock(0, 0, abortPath)
	if c.ShouldStop() {
		t.Fatal("should not stop before abort file exists")
	}
	if err := os.WriteFile(abortPath, []byte{}, 0644); err != nil {
		t.Fatalf("%+v", err)
	}
	if !c.ShouldStop() {
		t.Fatal("expected ShouldStop once abort file exists")
	}
}
