// Package store persists hyperparameter studies and their trials in a
// SQLite database.
package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Trial states.
const (
	TrialRunning  = "running"
	TrialComplete = "complete"
	TrialFailed   = "failed"
)

// Trial is one sampled parameter set and its outcome.
type Trial struct {
	ID         string
	StudyID    string
	Number     int
	ParamsYAML string
	Value      float64
	State      string
	StartedAt  time.Time
	FinishedAt time.Time
}

// Study groups the trials of one tuning run.
type Study struct {
	ID        string
	Name      string
	Mode      string
	Tasks     string // comma-joined task tags
	CreatedAt time.Time
}

// Store is a SQLite-backed persistence layer.
type Store struct{ db *sql.DB }

//go:embed migrations/*.sql
var migrationFS embed.FS

// Open opens (creating if needed) the database at path and applies the
// schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema, err := migrationFS.ReadFile("migrations/0001_init.sql")
	if err != nil {
		return err
	}
	if _, err := s.db.Exec(string(schema)); err != nil {
		return fmt.Errorf("apply migration: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// Ping verifies the connection.
func (s *Store) Ping(ctx context.Context) error {
	if s.db == nil {
		return errors.New("db not initialized")
	}
	return s.db.PingContext(ctx)
}

// CreateStudy records a new study.
func (s *Store) CreateStudy(ctx context.Context, st Study) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO studies (id, name, mode, tasks, created_at) VALUES (?, ?, ?, ?, ?)`,
		st.ID, st.Name, st.Mode, st.Tasks, st.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert study: %w", err)
	}
	return nil
}

// BeginTrial records a trial in the running state.
func (s *Store) BeginTrial(ctx context.Context, t Trial) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO trials (id, study_id, number, params_yaml, value, state, started_at)
		 VALUES (?, ?, ?, ?, 0, ?, ?)`,
		t.ID, t.StudyID, t.Number, t.ParamsYAML, TrialRunning,
		t.StartedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert trial: %w", err)
	}
	return nil
}

// FinishTrial marks a trial complete or failed with its value.
func (s *Store) FinishTrial(ctx context.Context, id string, value float64, state string, finishedAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE trials SET value = ?, state = ?, finished_at = ? WHERE id = ?`,
		value, state, finishedAt.UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return fmt.Errorf("update trial: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("trial not found: %s", id)
	}
	return nil
}

// Studies lists all recorded studies, newest first.
func (s *Store) Studies(ctx context.Context) ([]Study, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, mode, tasks, created_at FROM studies ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("query studies: %w", err)
	}
	defer rows.Close()

	var out []Study
	for rows.Next() {
		var st Study
		var created string
		if err := rows.Scan(&st.ID, &st.Name, &st.Mode, &st.Tasks, &created); err != nil {
			return nil, fmt.Errorf("scan study: %w", err)
		}
		st.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, st)
	}
	return out, rows.Err()
}

// Trials returns the trials of a study ordered by number.
func (s *Store) Trials(ctx context.Context, studyID string) ([]Trial, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, study_id, number, params_yaml, value, state, started_at, COALESCE(finished_at, '')
		 FROM trials WHERE study_id = ? ORDER BY number`, studyID)
	if err != nil {
		return nil, fmt.Errorf("query trials: %w", err)
	}
	defer rows.Close()

	var out []Trial
	for rows.Next() {
		var t Trial
		var started, finished string
		if err := rows.Scan(&t.ID, &t.StudyID, &t.Number, &t.ParamsYAML, &t.Value, &t.State, &started, &finished); err != nil {
			return nil, fmt.Errorf("scan trial: %w", err)
		}
		t.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
		if finished != "" {
			t.FinishedAt, _ = time.Parse(time.RFC3339Nano, finished)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// BestTrial returns the completed trial with the highest value.
func (s *Store) BestTrial(ctx context.Context, studyID string) (Trial, error) {
	var t Trial
	var started, finished string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, study_id, number, params_yaml, value, state, started_at, COALESCE(finished_at, '')
		 FROM trials WHERE study_id = ? AND state = ?
		 ORDER BY value DESC, number ASC LIMIT 1`, studyID, TrialComplete).
		Scan(&t.ID, &t.StudyID, &t.Number, &t.ParamsYAML, &t.Value, &t.State, &started, &finished)
	if errors.Is(err, sql.ErrNoRows) {
		return Trial{}, ErrNoTrials
	}
	if err != nil {
		return Trial{}, fmt.Errorf("query best trial: %w", err)
	}
	t.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
	if finished != "" {
		t.FinishedAt, _ = time.Parse(time.RFC3339Nano, finished)
	}
	return t, nil
}

// ErrNoTrials is returned when a study has no completed trials.
var ErrNoTrials = errors.New("no completed trials")
