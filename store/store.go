// Package store - SQLite-backed history of training and prediction runs.
package store

import (
	"database/sql"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

// Run kinds.
const (
	KindTrain   = "train"
	KindPredict = "predict"
	KindAudit   = "audit"
)

// Run statuses.
const (
	StatusRunning  = "running"
	StatusFinished = "finished"
	StatusFailed   = "failed"
)

// Run is one recorded training or prediction run.
type Run struct {
	ID         int64      `json:"id"`
	Kind       string     `json:"kind"`
	Dataset    string     `json:"dataset"`
	Config     string     `json:"config"` // YAML snapshot of the run's config
	Status     string     `json:"status"`
	Artifact   string     `json:"artifact"` // exported model or audit dir
	Metric     float64    `json:"metric"`   // final loss, or detection count
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Store handles SQLite operations.
type Store struct {
	db *sql.DB
}

// Open creates and initializes the run-history database.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, errors.Wrap(err, "opening run database")
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "migrating run database")
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		kind TEXT NOT NULL,
		dataset TEXT NOT NULL,
		config TEXT NOT NULL,
		status TEXT NOT NULL,
		artifact TEXT NOT NULL DEFAULT '',
		metric REAL NOT NULL DEFAULT 0,
		started_at DATETIME NOT NULL,
		finished_at DATETIME
	);
	CREATE INDEX IF NOT EXISTS idx_runs_kind ON runs(kind);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordStart inserts a running run and returns its ID.
func (s *Store) RecordStart(kind, dataset, configSnapshot string) (int64, error) {
	res, err := s.db.Exec(
		`INSERT INTO runs (kind, dataset, config, status, started_at) VALUES (?, ?, ?, ?, ?)`,
		kind, dataset, configSnapshot, StatusRunning, time.Now().UTC())
	if err != nil {
		return 0, errors.Wrap(err, "recording run start")
	}
	return res.LastInsertId()
}

// RecordFinish marks a run finished or failed, with its artifact and metric.
func (s *Store) RecordFinish(id int64, status, artifact string, metric float64) error {
	res, err := s.db.Exec(
		`UPDATE runs SET status = ?, artifact = ?, metric = ?, finished_at = ? WHERE id = ?`,
		status, artifact, metric, time.Now().UTC(), id)
	if err != nil {
		return errors.Wrapf(err, "recording finish of run %d", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return errors.Errorf("run %d does not exist", id)
	}
	return nil
}

// List returns the most recent runs, newest first.
func (s *Store) List(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(
		`SELECT id, kind, dataset, config, status, artifact, metric, started_at, finished_at
		 FROM runs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "listing runs")
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var run Run
		var finished sql.NullTime
		err := rows.Scan(&run.ID, &run.Kind, &run.Dataset, &run.Config, &run.Status,
			&run.Artifact, &run.Metric, &run.StartedAt, &finished)
		if err != nil {
			return nil, errors.Wrap(err, "scanning run")
		}
		if finished.Valid {
			run.FinishedAt = &finished.Time
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}
