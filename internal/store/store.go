// Package store provides the durable, row-locking persistence layer for
// jobs and steps: the sole source of truth for pipeline state.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/fyrsmithlabs/orchestrator/internal/model"
)

var (
	// ErrNotFound is returned when a Job or Step lookup finds no row.
	ErrNotFound = errors.New("store: not found")
)

// Store is the SQLite-backed durable store. SQLite serializes writers,
// so a single *sql.DB with MaxOpenConns(1) gives the transactional
// isolation the claim protocol needs without a network round trip to a
// separate database process.
type Store struct {
	db *sql.DB
}

// Open opens (creating if absent) the SQLite database at dbPath and
// applies the schema.
func Open(dbPath string) (*Store, error) {
	if dbPath != ":memory:" {
		if dir := filepath.Dir(dbPath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create db directory: %w", err)
			}
		}
	}

	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	if dbPath == ":memory:" {
		dsn = "file::memory:?cache=shared&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// Ping verifies the database connection is alive.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	id                        TEXT PRIMARY KEY,
	repo_url                  TEXT NOT NULL,
	git_ref                   TEXT NOT NULL,
	state                     TEXT NOT NULL,
	workspace_ref             TEXT,
	snapshot_key              TEXT,
	task_description          TEXT,
	failing_test              TEXT,
	github_issue_url          TEXT,
	consecutive_test_failures INTEGER NOT NULL DEFAULT 0,
	iteration_count           INTEGER NOT NULL DEFAULT 0,
	created_at                DATETIME NOT NULL,
	updated_at                DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS steps (
	id                   TEXT PRIMARY KEY,
	job_id               TEXT NOT NULL REFERENCES jobs(id) ON DELETE CASCADE,
	role                 TEXT NOT NULL,
	state                TEXT NOT NULL,
	attempt              INTEGER NOT NULL DEFAULT 0,
	worker_id            TEXT,
	heartbeat_at         DATETIME,
	created_at           DATETIME NOT NULL,
	started_at           DATETIME,
	finished_at          DATETIME,
	result_json          TEXT,
	conversation_history TEXT
);

CREATE INDEX IF NOT EXISTS idx_steps_pending ON steps(created_at) WHERE state = 'PENDING';
CREATE INDEX IF NOT EXISTS idx_steps_job_id ON steps(job_id);
CREATE INDEX IF NOT EXISTS idx_steps_running_heartbeat ON steps(heartbeat_at) WHERE state = 'RUNNING';
`

func (s *Store) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// CreateJob persists a new Job row.
func (s *Store) CreateJob(ctx context.Context, j *model.Job) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, repo_url, git_ref, state, workspace_ref, snapshot_key,
			task_description, failing_test, github_issue_url,
			consecutive_test_failures, iteration_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.ID, j.RepoURL, j.GitRef, string(j.State), nullable(j.WorkspaceRef), nullable(j.SnapshotKey),
		nullable(j.TaskDescription), nullable(j.FailingTest), nullable(j.GitHubIssueURL),
		j.ConsecutiveTestFailures, j.IterationCount, j.CreatedAt, j.UpdatedAt)
	return err
}

// UpdateJob persists the full mutable state of a Job.
func (s *Store) UpdateJob(ctx context.Context, j *model.Job) error {
	j.UpdatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET repo_url=?, git_ref=?, state=?, workspace_ref=?, snapshot_key=?,
			task_description=?, failing_test=?, github_issue_url=?,
			consecutive_test_failures=?, iteration_count=?, updated_at=?
		WHERE id=?`,
		j.RepoURL, j.GitRef, string(j.State), nullable(j.WorkspaceRef), nullable(j.SnapshotKey),
		nullable(j.TaskDescription), nullable(j.FailingTest), nullable(j.GitHubIssueURL),
		j.ConsecutiveTestFailures, j.IterationCount, j.UpdatedAt, j.ID)
	return err
}

// GetJob fetches a Job by id.
func (s *Store) GetJob(ctx context.Context, id string) (*model.Job, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, repo_url, git_ref, state, workspace_ref, snapshot_key,
			task_description, failing_test, github_issue_url,
			consecutive_test_failures, iteration_count, created_at, updated_at
		FROM jobs WHERE id = ?`, id)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return j, err
}

func scanJob(row *sql.Row) (*model.Job, error) {
	var j model.Job
	var state string
	var workspaceRef, snapshotKey, taskDescription, failingTest, issueURL sql.NullString
	if err := row.Scan(&j.ID, &j.RepoURL, &j.GitRef, &state, &workspaceRef, &snapshotKey,
		&taskDescription, &failingTest, &issueURL,
		&j.ConsecutiveTestFailures, &j.IterationCount, &j.CreatedAt, &j.UpdatedAt); err != nil {
		return nil, err
	}
	j.State = model.JobState(state)
	j.WorkspaceRef = workspaceRef.String
	j.SnapshotKey = snapshotKey.String
	j.TaskDescription = taskDescription.String
	j.FailingTest = failingTest.String
	j.GitHubIssueURL = issueURL.String
	return &j, nil
}

// CreateStep persists a new Step row.
func (s *Store) CreateStep(ctx context.Context, st *model.Step) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO steps (id, job_id, role, state, attempt, worker_id, heartbeat_at,
			created_at, started_at, finished_at, result_json, conversation_history)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		st.ID, st.JobID, string(st.Role), string(st.State), st.Attempt, nullable(st.WorkerID),
		nullableTime(st.HeartbeatAt), st.CreatedAt, nullableTime(st.StartedAt), nullableTime(st.FinishedAt),
		nullable(st.ResultJSON), nullable(st.ConversationHistory))
	return err
}

// GetStep fetches a Step by id.
func (s *Store) GetStep(ctx context.Context, id string) (*model.Step, error) {
	row := s.db.QueryRowContext(ctx, stepSelectSQL+` WHERE id = ?`, id)
	st, err := scanStep(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return st, err
}

const stepSelectSQL = `
	SELECT id, job_id, role, state, attempt, worker_id, heartbeat_at,
		created_at, started_at, finished_at, result_json, conversation_history
	FROM steps`

func scanStep(row *sql.Row) (*model.Step, error) {
	var st model.Step
	var role, state string
	var workerID, resultJSON, history sql.NullString
	var heartbeatAt, startedAt, finishedAt sql.NullTime
	if err := row.Scan(&st.ID, &st.JobID, &role, &state, &st.Attempt, &workerID, &heartbeatAt,
		&st.CreatedAt, &startedAt, &finishedAt, &resultJSON, &history); err != nil {
		return nil, err
	}
	st.Role = model.AgentRole(role)
	st.State = model.StepState(state)
	st.WorkerID = workerID.String
	st.ResultJSON = resultJSON.String
	st.ConversationHistory = history.String
	if heartbeatAt.Valid {
		st.HeartbeatAt = &heartbeatAt.Time
	}
	if startedAt.Valid {
		st.StartedAt = &startedAt.Time
	}
	if finishedAt.Valid {
		st.FinishedAt = &finishedAt.Time
	}
	return &st, nil
}

// ListSteps returns all steps for a job in creation order.
func (s *Store) ListSteps(ctx context.Context, jobID string) ([]*model.Step, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, job_id, role, state, attempt, worker_id, heartbeat_at,
			created_at, started_at, finished_at, result_json, conversation_history
		FROM steps WHERE job_id = ? ORDER BY created_at ASC`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Step
	for rows.Next() {
		var st model.Step
		var role, state string
		var workerID, resultJSON, history sql.NullString
		var heartbeatAt, startedAt, finishedAt sql.NullTime
		if err := rows.Scan(&st.ID, &st.JobID, &role, &state, &st.Attempt, &workerID, &heartbeatAt,
			&st.CreatedAt, &startedAt, &finishedAt, &resultJSON, &history); err != nil {
			return nil, err
		}
		st.Role = model.AgentRole(role)
		st.State = model.StepState(state)
		st.WorkerID = workerID.String
		st.ResultJSON = resultJSON.String
		st.ConversationHistory = history.String
		if heartbeatAt.Valid {
			st.HeartbeatAt = &heartbeatAt.Time
		}
		if startedAt.Valid {
			st.StartedAt = &startedAt.Time
		}
		if finishedAt.Valid {
			st.FinishedAt = &finishedAt.Time
		}
		out = append(out, &st)
	}
	return out, rows.Err()
}

// ClaimNextPendingStep selects the oldest Pending step and atomically
// transitions it to Running, using a conditional UPDATE plus a
// RowsAffected check as the skip-locked equivalent (see SPEC_FULL.md
// §6): under SQLite's single-writer model this guarantees no two
// callers ever observe the same claimed row.
func (s *Store) ClaimNextPendingStep(ctx context.Context, workerID string) (*model.Step, error) {
	for {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return nil, fmt.Errorf("begin claim tx: %w", err)
		}

		var id string
		err = tx.QueryRowContext(ctx, `
			SELECT id FROM steps WHERE state = 'PENDING' ORDER BY created_at ASC LIMIT 1`).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			tx.Rollback()
			return nil, nil
		}
		if err != nil {
			tx.Rollback()
			return nil, fmt.Errorf("select pending step: %w", err)
		}

		now := time.Now().UTC()
		res, err := tx.ExecContext(ctx, `
			UPDATE steps SET state = 'RUNNING', worker_id = ?, started_at = ?, heartbeat_at = ?
			WHERE id = ? AND state = 'PENDING'`, workerID, now, now, id)
		if err != nil {
			tx.Rollback()
			return nil, fmt.Errorf("claim update: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			tx.Rollback()
			return nil, fmt.Errorf("claim rows affected: %w", err)
		}
		if affected == 0 {
			// Another transaction claimed this row first; retry the
			// selection rather than fail the caller.
			tx.Rollback()
			continue
		}
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("commit claim: %w", err)
		}

		row := s.db.QueryRowContext(ctx, stepSelectSQL+` WHERE id = ?`, id)
		return scanStep(row)
	}
}

// FindStalledSteps returns Running steps whose heartbeat is older than cutoff.
func (s *Store) FindStalledSteps(ctx context.Context, cutoff time.Time) ([]*model.Step, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, job_id, role, state, attempt, worker_id, heartbeat_at,
			created_at, started_at, finished_at, result_json, conversation_history
		FROM steps WHERE state = 'RUNNING' AND heartbeat_at < ?`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Step
	for rows.Next() {
		var st model.Step
		var role, state string
		var workerID, resultJSON, history sql.NullString
		var heartbeatAt, startedAt, finishedAt sql.NullTime
		if err := rows.Scan(&st.ID, &st.JobID, &role, &state, &st.Attempt, &workerID, &heartbeatAt,
			&st.CreatedAt, &startedAt, &finishedAt, &resultJSON, &history); err != nil {
			return nil, err
		}
		st.Role = model.AgentRole(role)
		st.State = model.StepState(state)
		st.WorkerID = workerID.String
		st.ResultJSON = resultJSON.String
		st.ConversationHistory = history.String
		if heartbeatAt.Valid {
			st.HeartbeatAt = &heartbeatAt.Time
		}
		if startedAt.Valid {
			st.StartedAt = &startedAt.Time
		}
		if finishedAt.Valid {
			st.FinishedAt = &finishedAt.Time
		}
		out = append(out, &st)
	}
	return out, rows.Err()
}

// UpdateStep persists the full mutable state of a Step.
func (s *Store) UpdateStep(ctx context.Context, st *model.Step) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE steps SET role=?, state=?, attempt=?, worker_id=?, heartbeat_at=?,
			started_at=?, finished_at=?, result_json=?, conversation_history=?
		WHERE id=?`,
		string(st.Role), string(st.State), st.Attempt, nullable(st.WorkerID), nullableTime(st.HeartbeatAt),
		nullableTime(st.StartedAt), nullableTime(st.FinishedAt), nullable(st.ResultJSON),
		nullable(st.ConversationHistory), st.ID)
	return err
}

// UpdateStepHeartbeat is a narrow, single-row update used between agent turns.
func (s *Store) UpdateStepHeartbeat(ctx context.Context, stepID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE steps SET heartbeat_at = ? WHERE id = ?`, at, stepID)
	return err
}

// UpdateStepHistory is a narrow, single-row update used between agent turns.
func (s *Store) UpdateStepHistory(ctx context.Context, stepID, history string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE steps SET conversation_history = ? WHERE id = ?`, history, stepID)
	return err
}

// UpdateJobSnapshotKey is a narrow, single-row update used by the agent loop.
func (s *Store) UpdateJobSnapshotKey(ctx context.Context, jobID, key string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE jobs SET snapshot_key = ?, updated_at = ? WHERE id = ?`,
		key, time.Now().UTC(), jobID)
	return err
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}
