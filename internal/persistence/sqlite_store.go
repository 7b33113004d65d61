package persistence

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/petrijr/apiflow/pkg/api"
)

// SQLiteResultStore is a ResultStore backed by SQLite.
//
// It expects an *sql.DB that uses a SQLite driver (for example,
// "modernc.org/sqlite"). The caller is responsible for importing
// the driver, e.g.:
//
//	import _ "modernc.org/sqlite"
type SQLiteResultStore struct {
	db *sql.DB
}

// Ensure SQLiteResultStore implements ResultStore.
var _ ResultStore = (*SQLiteResultStore)(nil)

// NewSQLiteResultStore initializes the required schema in the given
// database and returns a new SQLiteResultStore.
func NewSQLiteResultStore(db *sql.DB) (*SQLiteResultStore, error) {
	s := &SQLiteResultStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteResultStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS workflow_results (
			id TEXT PRIMARY KEY,
			workflow_name TEXT NOT NULL,
			status TEXT NOT NULL,
			started_at INTEGER NOT NULL,
			duration_ns INTEGER NOT NULL,
			payload BLOB NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_workflow_results_name ON workflow_results(workflow_name, started_at);
	`)
	return err
}

func (s *SQLiteResultStore) SaveResult(ctx context.Context, res *api.WorkflowResult) error {
	payload, err := EncodeResult(res)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO workflow_results (id, workflow_name, status, started_at, duration_ns, payload)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			workflow_name = excluded.workflow_name,
			status = excluded.status,
			started_at = excluded.started_at,
			duration_ns = excluded.duration_ns,
			payload = excluded.payload`,
		res.ID,
		res.Name,
		string(res.Status),
		res.StartedAt.UnixNano(),
		int64(res.Duration),
		payload,
	)
	return err
}

func (s *SQLiteResultStore) GetResult(ctx context.Context, id string) (*api.WorkflowResult, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT payload
		FROM workflow_results
		WHERE id = ?`,
		id,
	)

	var payload []byte
	if err := row.Scan(&payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrResultNotFound
		}
		return nil, err
	}

	return DecodeResult(payload)
}

func (s *SQLiteResultStore) ListResults(ctx context.Context, opts api.ResultListOptions) ([]*api.WorkflowResult, error) {
	query := `
		SELECT payload
		FROM workflow_results`
	var args []any
	var clauses []string

	if opts.WorkflowName != "" {
		clauses = append(clauses, "workflow_name = ?")
		args = append(args, opts.WorkflowName)
	}
	if opts.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, string(opts.Status))
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

// Prune deletes results that started before cutoff and returns how many were
// removed.
func (s *SQLiteResultStore) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM workflow_results WHERE started_at < ?`, cutoff.UnixNano())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
