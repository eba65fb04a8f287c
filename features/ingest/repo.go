package ingest

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"
)

// Run is one persisted reconciliation report.
type Run struct {
	ID         string          `json:"id"`
	Updated    int             `json:"updated"`
	Inserted   int             `json:"inserted"`
	Skipped    int             `json:"skipped"`
	Failed     int             `json:"failed"`
	Detail     json.RawMessage `json:"detail"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
}

type PostgresRunRepo struct {
	db *sql.DB
}

func NewPostgresRunRepo(db *sql.DB) *PostgresRunRepo {
	return &PostgresRunRepo{db: db}
}

func (r *PostgresRunRepo) Save(ctx context.Context, run *Run) error {
	query := `INSERT INTO ingest_runs (updated, inserted, skipped, failed, detail, started_at, finished_at) VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`
	return r.db.QueryRowContext(ctx, query, run.Updated, run.Inserted, run.Skipped, run.Failed, []byte(run.Detail), run.StartedAt, run.FinishedAt).Scan(&run.ID)
}

func (r *PostgresRunRepo) List(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `SELECT id, updated, inserted, skipped, failed, detail, started_at, finished_at FROM ingest_runs ORDER BY finished_at DESC LIMIT $1`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var run Run
		var detail []byte
		if err := rows.Scan(&run.ID, &run.Updated, &run.Inserted, &run.Skipped, &run.Failed, &detail, &run.StartedAt, &run.FinishedAt); err != nil {
			return nil, err
		}
		run.Detail = json.RawMessage(detail)
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// LastRunAt feeds the stats endpoint.
func (r *PostgresRunRepo) LastRunAt(ctx context.Context) (*time.Time, error) {
	var finished sql.NullTime
	query := `SELECT MAX(finished_at) FROM ingest_runs`
	if err := r.db.QueryRowContext(ctx, query).Scan(&finished); err != nil {
		return nil, err
	}
	if !finished.Valid {
		return nil, nil
	}
	t := finished.Time
	return &t, nil
}
