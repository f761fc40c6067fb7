package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/groundscan-data/deform.report/internal/config"
	"github.com/groundscan-data/deform.report/internal/insar"
)

// RunStore persists pipeline checkpoints in a SQLite database.
type RunStore struct {
	db *sql.DB
}

// NewRunStore opens (or creates) the checkpoint database at path and
// bootstraps the schema. Use ":memory:" for tests.
func NewRunStore(path string) (*RunStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open checkpoint db: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS runs (
			run_id       TEXT PRIMARY KEY,
			started_at   TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			completed_at TIMESTAMP,
			config_json  TEXT,
			status       TEXT NOT NULL DEFAULT 'running'
		);
		CREATE TABLE IF NOT EXISTS run_epochs (
			run_id     TEXT NOT NULL,
			epoch_id   BIGINT NOT NULL,
			date       TEXT NOT NULL,
			state      TEXT NOT NULL,
			points     BIGINT NOT NULL DEFAULT 0,
			excluded   BIGINT NOT NULL DEFAULT 0,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (run_id, epoch_id),
			FOREIGN KEY (run_id) REFERENCES runs(run_id)
		);
		CREATE TABLE IF NOT EXISTS run_counters (
			run_id   TEXT NOT NULL,
			category TEXT NOT NULL,
			count    BIGINT NOT NULL,
			PRIMARY KEY (run_id, category),
			FOREIGN KEY (run_id) REFERENCES runs(run_id)
		);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("bootstrap checkpoint schema: %w", err)
	}

	return &RunStore{db: db}, nil
}

// Close releases the underlying database handle.
func (s *RunStore) Close() error { return s.db.Close() }

// CreateRun records a new run with its immutable configuration and returns
// the generated run id.
func (s *RunStore) CreateRun(ctx context.Context, params *config.RunParams) (string, error) {
	runID := uuid.NewString()

	cfg, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("encode run config: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (run_id, config_json) VALUES (?, ?)`, runID, string(cfg))
	if err != nil {
		return "", fmt.Errorf("create run: %w", err)
	}
	return runID, nil
}

// CheckpointEpoch upserts one epoch's lifecycle state and counts. Called at
// stage boundaries so a resumed run can skip finished epochs.
func (s *RunStore) CheckpointEpoch(ctx context.Context, runID string, epoch insar.Epoch, state insar.ArtifactState, points, excluded int) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO run_epochs (run_id, epoch_id, date, state, points, excluded, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(run_id, epoch_id) DO UPDATE SET
			state = excluded.state,
			points = excluded.points,
			excluded = excluded.excluded,
			updated_at = CURRENT_TIMESTAMP`,
		runID, int64(epoch.ID), epoch.Date.UTC().Format("2006-01-02"), string(state), points, excluded)
	if err != nil {
		return fmt.Errorf("checkpoint epoch %d: %w", epoch.ID, err)
	}
	return nil
}

// EpochCheckpoint is one persisted per-epoch state row.
type EpochCheckpoint struct {
	EpochID  insar.EpochID
	Date     string
	State    insar.ArtifactState
	Points   int
	Excluded int
}

// EpochCheckpoints returns the persisted states for a run, ordered by date.
func (s *RunStore) EpochCheckpoints(ctx context.Context, runID string) ([]EpochCheckpoint, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT epoch_id, date, state, points, excluded
		FROM run_epochs WHERE run_id = ? ORDER BY date, epoch_id`, runID)
	if err != nil {
		return nil, fmt.Errorf("load epoch checkpoints: %w", err)
	}
	defer rows.Close()

	var out []EpochCheckpoint
	for rows.Next() {
		var cp EpochCheckpoint
		var id int64
		var state string
		if err := rows.Scan(&id, &cp.Date, &state, &cp.Points, &cp.Excluded); err != nil {
			return nil, fmt.Errorf("scan epoch checkpoint: %w", err)
		}
		cp.EpochID = insar.EpochID(id)
		cp.State = insar.ArtifactState(state)
		out = append(out, cp)
	}
	return out, rows.Err()
}

// SaveCounters persists the run's current exclusion counters.
func (s *RunStore) SaveCounters(ctx context.Context, runID string, counters *insar.RunCounters) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
			// Rollback after commit is a no-op failure; nothing to do.
			_ = err
		}
	}()

	for cat, count := range counters.Snapshot() {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO run_counters (run_id, category, count) VALUES (?, ?, ?)
			ON CONFLICT(run_id, category) DO UPDATE SET count = excluded.count`,
			runID, string(cat), count); err != nil {
			return fmt.Errorf("save counter %s: %w", cat, err)
		}
	}
	return tx.Commit()
}

// Counters loads the persisted counters for a run.
func (s *RunStore) Counters(ctx context.Context, runID string) (map[insar.ErrorCategory]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT category, count FROM run_counters WHERE run_id = ?`, runID)
	if err != nil {
		return nil, fmt.Errorf("load counters: %w", err)
	}
	defer rows.Close()

	out := make(map[insar.ErrorCategory]int64)
	for rows.Next() {
		var cat string
		var count int64
		if err := rows.Scan(&cat, &count); err != nil {
			return nil, fmt.Errorf("scan counter: %w", err)
		}
		out[insar.ErrorCategory(cat)] = count
	}
	return out, rows.Err()
}

// CompleteRun marks a run finished with the given status ("completed" or
// "failed").
func (s *RunStore) CompleteRun(ctx context.Context, runID, status string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE runs SET status = ?, completed_at = CURRENT_TIMESTAMP WHERE run_id = ?`,
		status, runID)
	if err != nil {
		return fmt.Errorf("complete run: %w", err)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return fmt.Errorf("complete run: unknown run id %s", runID)
	}
	return nil
}

// RunStatus returns a run's status and start time.
func (s *RunStore) RunStatus(ctx context.Context, runID string) (status string, startedAt time.Time, err error) {
	var started string
	err = s.db.QueryRowContext(ctx,
		`SELECT status, started_at FROM runs WHERE run_id = ?`, runID).
		Scan(&status, &started)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("load run status: %w", err)
	}
	// SQLite stores CURRENT_TIMESTAMP as "YYYY-MM-DD HH:MM:SS" UTC.
	startedAt, parseErr := time.Parse("2006-01-02 15:04:05", started)
	if parseErr != nil {
		return status, time.Time{}, fmt.Errorf("parse run start time %q: %w", started, parseErr)
	}
	return status, startedAt, nil
}
