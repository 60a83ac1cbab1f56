// Package checkpoint persists and restores replica state: the field
// configuration, RNG stream, adjustment/update statistics, and sweep
// bookkeeping, plus the wall-time and abort-file polling that governs when
// a checkpoint is due.
package checkpoint

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/gob"
	"fmt"
	"os"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"github.com/latticemc/dqmc/field"
	"github.com/latticemc/dqmc/sweep"
	"github.com/latticemc/dqmc/update"
)

const tableCheckpoint = "checkpoint"

// State is everything that survives a restart: FieldConfig, the RNG
// stream, AdjustmentState and UpdateStatistics, and the sweep counters
// needed to resume thermalization/measurement at the right point.
type State struct {
	JobID                     string
	SweepsDoneThermalization  int
	SweepsDoneMeasurement     int
	LastSweepDir              sweep.Direction

	Field *field.Config
	RNG   []byte // rng.Wrapper.MarshalBinary output

	Adjustment *update.AdjustmentState
	LocalStat  *update.UpdateStatistics
	GlobalStat *update.UpdateStatistics
}

// Store is a sqlite-backed single-row blob table holding one gob-encoded
// checkpoint blob per save instead of one row per matrix element: a
// checkpoint is saved wholesale and infrequently, so there is no benefit
// to a per-cell row layout here.
type Store struct {
	Path string
	db   *sql.DB
}

// Open creates or reopens the checkpoint database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s", path))
	if err != nil {
		return nil, errors.Wrap(err, "checkpoint: open db")
	}
	if err := prepare(db); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "checkpoint: prepare schema")
	}
	return &Store{Path: path, db: db}, nil
}

func prepare(db *sql.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	sqlStr := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (id INTEGER PRIMARY KEY, saved_at TEXT, blob BLOB) STRICT`, tableCheckpoint)
	if _, err := db.ExecContext(ctx, sqlStr); err != nil {
		return errors.Wrap(err, "")
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Save gob-encodes st and stores it as the sole row in the checkpoint
// table, replacing any previous checkpoint. Saves are atomic from the
// caller's perspective: a crash mid-save leaves the previous row intact
// because the delete-then-insert runs inside one transaction.
func (s *Store) Save(st *State) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(st); err != nil {
		return errors.Wrap(err, "checkpoint: encode state")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "checkpoint: begin tx")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s`, tableCheckpoint)); err != nil {
		return errors.Wrap(err, "checkpoint: clear previous")
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`INSERT INTO %s (id, saved_at, blob) VALUES (1, ?, ?)`, tableCheckpoint), time.Now().UTC().Format(time.RFC3339), buf.Bytes()); err != nil {
		return errors.Wrap(err, "checkpoint: insert blob")
	}
	return errors.Wrap(tx.Commit(), "checkpoint: commit")
}

// Load decodes the most recently saved State, or returns an error wrapping
// sql.ErrNoRows if no checkpoint exists yet.
func (s *Store) Load() (*State, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT blob FROM %s WHERE id = 1`, tableCheckpoint))
	var blob []byte
	if err := row.Scan(&blob); err != nil {
		return nil, errors.Wrap(err, "checkpoint: load blob")
	}
	var st State
	if err := gob.NewDecoder(bytes.NewReader(blob)).Decode(&st); err != nil {
		return nil, errors.Wrap(err, "checkpoint: decode state")
	}
	return &st, nil
}

// Clock tracks wall-time budget and polls an abort file, the two exit
// conditions checked alongside sweep-count exhaustion.
type Clock struct {
	Start          time.Time
	GrantedSeconds float64
	SafetyMargin   float64
	AbortFilePath  string
}

// NewClock records the current time as the run's start.
func NewClock(grantedSeconds, safetyMargin float64, abortFilePath string) *Clock {
	return &Clock{Start: time.Now(), GrantedSeconds: grantedSeconds, SafetyMargin: safetyMargin, AbortFilePath: abortFilePath}
}

// ShouldStop returns true once the elapsed wall time has passed
// GrantedSeconds*(1-SafetyMargin), or the abort file exists.
func (c *Clock) ShouldStop() bool {
	if c.GrantedSeconds > 0 {
		elapsed := time.Since(c.Start).Seconds()
		budget := c.GrantedSeconds * (1 - c.SafetyMargin)
		if elapsed >= budget {
			return true
		}
	}
	if c.AbortFilePath != "" {
		if _, err := os.Stat(c.AbortFilePath); err == nil {
			return true
		}
	}
	return false
}
