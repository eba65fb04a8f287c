package grant

import (
	"context"
	"database/sql"

	"github.com/lib/pq"
)

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

const grantColumns = `id, name, agency, description, full_text, max_funding, is_open, deadline, original_url, application_url, kpis, eligibility_summary, notified_at, created_at, updated_at`

func scanGrant(scan func(dest ...interface{}) error) (Grant, error) {
	var g Grant
	var maxFunding sql.NullInt64
	var deadline sql.NullString
	var notifiedAt sql.NullTime
	err := scan(&g.ID, &g.Name, &g.Agency, &g.Description, &g.FullText, &maxFunding, &g.IsOpen, &deadline, &g.OriginalURL, &g.ApplicationURL, pq.Array(&g.KPIs), pq.Array(&g.EligibilitySummary), &notifiedAt, &g.CreatedAt, &g.UpdatedAt)
	if err != nil {
		return Grant{}, err
	}
	if maxFunding.Valid {
		g.MaxFunding = maxFunding.Int64
	}
	if deadline.Valid {
		g.Deadline = &deadline.String
	}
	if notifiedAt.Valid {
		t := notifiedAt.Time
		g.NotifiedAt = &t
	}
	return g, nil
}

func (r *PostgresRepo) List(ctx context.Context) ([]Grant, error) {
	query := `SELECT ` + grantColumns + ` FROM grants ORDER BY is_open DESC, name ASC`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var grants []Grant
	for rows.Next() {
		g, err := scanGrant(rows.Scan)
		if err != nil {
			return nil, err
		}
		grants = append(grants, g)
	}
	return grants, rows.Err()
}

func (r *PostgresRepo) GetByIDs(ctx context.Context, ids []string) ([]Grant, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := `SELECT ` + grantColumns + ` FROM grants WHERE id = ANY($1)`
	rows, err := r.db.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var grants []Grant
	for rows.Next() {
		g, err := scanGrant(rows.Scan)
		if err != nil {
			return nil, err
		}
		grants = append(grants, g)
	}
	return grants, rows.Err()
}

func (r *PostgresRepo) ExistingIDs(ctx context.Context) (map[string]bool, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id FROM grants`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids[id] = true
	}
	return ids, rows.Err()
}

func (r *PostgresRepo) Upsert(ctx context.Context, g *Grant) error {
	query := `INSERT INTO grants (id, name, agency, description, full_text, max_funding, is_open, deadline, original_url, application_url, kpis, eligibility_summary)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			agency = EXCLUDED.agency,
			description = EXCLUDED.description,
			full_text = EXCLUDED.full_text,
			max_funding = EXCLUDED.max_funding,
			is_open = EXCLUDED.is_open,
			deadline = EXCLUDED.deadline,
			original_url = EXCLUDED.original_url,
			application_url = EXCLUDED.application_url,
			kpis = EXCLUDED.kpis,
			eligibility_summary = EXCLUDED.eligibility_summary,
			updated_at = NOW()`
	var maxFunding sql.NullInt64
	if g.MaxFunding > 0 {
		maxFunding = sql.NullInt64{Int64: g.MaxFunding, Valid: true}
	}
	var deadline sql.NullString
	if g.Deadline != nil {
		deadline = sql.NullString{String: *g.Deadline, Valid: true}
	}
	_, err := r.db.ExecContext(ctx, query, g.ID, g.Name, g.Agency, g.Description, g.FullText, maxFunding, g.IsOpen, deadline, g.OriginalURL, g.ApplicationURL, pq.Array(g.KPIs), pq.Array(g.EligibilitySummary))
	return err
}

func (r *PostgresRepo) UpdateScrapeFields(ctx context.Context, id string, isOpen bool, deadline *string, maxFunding int64) error {
	query := `UPDATE grants SET is_open = $1, deadline = $2, max_funding = $3, updated_at = NOW() WHERE id = $4`
	var dl sql.NullString
	if deadline != nil {
		dl = sql.NullString{String: *deadline, Valid: true}
	}
	var mf sql.NullInt64
	if maxFunding > 0 {
		mf = sql.NullInt64{Int64: maxFunding, Valid: true}
	}
	res, err := r.db.ExecContext(ctx, query, isOpen, dl, mf, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// MarkNotified flips notified_at exactly once. The WHERE clause makes it the
// idempotence gate for the grant.new publication.
func (r *PostgresRepo) MarkNotified(ctx context.Context, id string) (bool, error) {
	query := `UPDATE grants SET notified_at = NOW() WHERE id = $1 AND notified_at IS NULL`
	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *PostgresRepo) Count(ctx context.Context) (total, open int, err error) {
	query := `SELECT COUNT(*), COUNT(*) FILTER (WHERE is_open) FROM grants`
	err = r.db.QueryRowContext(ctx, query).Scan(&total, &open)
	return total, open, err
}
