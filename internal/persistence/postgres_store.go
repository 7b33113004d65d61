package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/petrijr/apiflow/pkg/api"
)

// PostgresStore is a ResultStore and EventStore backed by PostgreSQL.
//
// It expects an *sql.DB that uses a PostgreSQL driver, e.g.
//
//	import _ "github.com/jackc/pgx/v5/stdlib"
//	db, err := sql.Open("pgx", dsn)
type PostgresStore struct {
	db *sql.DB
}

var (
	_ ResultStore = (*PostgresStore)(nil)
	_ EventStore  = (*PostgresStore)(nil)
)

// NewPostgresStore creates the schema if needed and returns the store.
func NewPostgresStore(ctx context.Context, db *sql.DB) (*PostgresStore, error) {
	s := &PostgresStore{db: db}
	if err := s.initSchema(ctx); err != nil {
		return nil, fmt.Errorf("postgres schema: %w", err)
	}
	return s, nil
}

func (s *PostgresStore) initSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS workflow_results (
			id            TEXT PRIMARY KEY,
			workflow_name TEXT NOT NULL,
			status        TEXT NOT NULL,
			started_at    BIGINT NOT NULL,
			duration_ns   BIGINT NOT NULL,
			payload       JSONB NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_workflow_results_name ON workflow_results(workflow_name, started_at);
		CREATE TABLE IF NOT EXISTS run_events (
			id            BIGSERIAL PRIMARY KEY,
			run_id        TEXT NOT NULL,
			at            BIGINT NOT NULL,
			type          TEXT NOT NULL,
			workflow_name TEXT NOT NULL DEFAULT '',
			phase         TEXT NOT NULL DEFAULT '',
			step          TEXT NOT NULL DEFAULT '',
			detail        TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS idx_run_events_run_id ON run_events(run_id, id);
	`)
	return err
}

func (s *PostgresStore) SaveResult(ctx context.Context, res *api.WorkflowResult) error {
	payload, err := EncodeResult(res)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO workflow_results (id, workflow_name, status, started_at, duration_ns, payload)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			workflow_name = EXCLUDED.workflow_name,
			status = EXCLUDED.status,
			started_at = EXCLUDED.started_at,
			duration_ns = EXCLUDED.duration_ns,
			payload = EXCLUDED.payload`,
		res.ID,
		res.Name,
		string(res.Status),
		res.StartedAt.UnixNano(),
		int64(res.Duration),
		string(payload),
	)
	return err
}

func (s *PostgresStore) GetResult(ctx context.Context, id string) (*api.WorkflowResult, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM workflow_results WHERE id = $1`, id).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrResultNotFound
		}
		return nil, err
	}
	return DecodeResult(payload)
}

func (s *PostgresStore) ListResults(ctx context.Context, opts api.ResultListOptions) ([]*api.WorkflowResult, error) {
	query := `SELECT payload FROM workflow_results`
	var (
		args    []any
		clauses []string
	)
	if opts.WorkflowName != "" {
		args = append(args, opts.WorkflowName)
		clauses = append(clauses, fmt.Sprintf("workflow_name = $%d", len(args)))
	}
	if opts.Status != "" {
		args = append(args, string(opts.Status))
		clauses = append(clauses, fmt.Sprintf("status = $%d", len(args)))
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY started_at ASC, id ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []*api.WorkflowResult{}
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		res, err := DecodeResult(payload)
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, rows.Err()
}

// Prune deletes results that started before cutoff, with their events, and
// returns how many results were removed.
func (s *PostgresStore) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM run_events
		WHERE run_id IN (SELECT id FROM workflow_results WHERE started_at < $1)`,
		cutoff.UnixNano(),
	); err != nil {
		return 0, err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM workflow_results WHERE started_at < $1`, cutoff.UnixNano())
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return n, tx.Commit()
}

func (s *PostgresStore) AppendEvent(ctx context.Context, ev api.RunEvent) error {
	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO run_events (run_id, at, type, workflow_name, phase, step, detail)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		ev.RunID,
		at.UnixNano(),
		string(ev.Type),
		ev.Workflow,
		string(ev.Phase),
		ev.Step,
		ev.Detail,
	)
	return err
}

func (s *PostgresStore) ListEvents(ctx context.Context, runID string) ([]api.RunEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, at, type, workflow_name, phase, step, detail
		FROM run_events
		WHERE run_id = $1
		ORDER BY id ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []api.RunEvent
	for rows.Next() {
		var (
			ev    api.RunEvent
			atN   int64
			typ   string
			phase string
		)
		if err := rows.Scan(&ev.RunID, &atN, &typ, &ev.Workflow, &phase, &ev.Step, &ev.Detail); err != nil {
			return nil, err
		}
		ev.At = time.Unix(0, atN)
		ev.Type = api.EventType(typ)
		ev.Phase = api.Phase(phase)
		out = append(out, ev)
	}
	return out, rows.Err()
}
