package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"listing-sync/models"
)

// reviewColumns is the insert column order of listing_review.
var reviewColumns = []string{
	"identity", "url", "status", "full_address", "city", "state",
	"list_price", "sale_price", "beds", "baths", "sqft",
	"commute_minutes", "metro_minutes", "tether_miles", "updated_at",
}

// ReviewTable persists the flattened review surface to PostgreSQL.
type ReviewTable struct {
	db *sql.DB
}

// NewReviewTable opens a connection to PostgreSQL, runs schema migrations,
// and returns a ready-to-use ReviewTable.
func NewReviewTable(ctx context.Context, dsn string) (*ReviewTable, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}

	for i := 0; i < 10; i++ {
		if err = db.PingContext(ctx); err == nil {
			break
		}
		if ctx.Err() != nil {
			break
		}
		time.Sleep(2 * time.Second)
	}
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: ping failed after retries: %w", err)
	}

	rt := &ReviewTable{db: db}
	if err := rt.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: migrate: %w", err)
	}

	return rt, nil
}

func (rt *ReviewTable) migrate(ctx context.Context) error {
	_, err := rt.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS listing_review (
			identity        VARCHAR(64)   PRIMARY KEY,
			url             TEXT          NOT NULL DEFAULT '',
			status          VARCHAR(32)   NOT NULL DEFAULT 'unknown',
			full_address    TEXT          NOT NULL DEFAULT '',
			city            TEXT          NOT NULL DEFAULT '',
			state           VARCHAR(32)   NOT NULL DEFAULT '',
			list_price      NUMERIC(12,2),
			sale_price      NUMERIC(12,2),
			beds            INTEGER,
			baths           NUMERIC(4,1),
			sqft            INTEGER,
			commute_minutes NUMERIC(8,2),
			metro_minutes   NUMERIC(8,2),
			tether_miles    NUMERIC(8,2),
			updated_at      TIMESTAMPTZ   NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_listing_review_status     ON listing_review(status);
		CREATE INDEX IF NOT EXISTS idx_listing_review_city       ON listing_review(city);
		CREATE INDEX IF NOT EXISTS idx_listing_review_list_price ON listing_review(list_price);
	`)
	return err
}

// Upsert writes rows in batches, replacing existing rows with the same
// identity.
func (rt *ReviewTable) Upsert(ctx context.Context, rows []*models.ReviewRow) error {
	const batchSize = 50
	for i := 0; i < len(rows); i += batchSize {
		end := i + batchSize
		if end > len(rows) {
			end = len(rows)
		}
		if err := rt.upsertBatch(ctx, rows[i:end]); err != nil {
			return err
		}
	}
	return nil
}

func (rt *ReviewTable) upsertBatch(ctx context.Context, batch []*models.ReviewRow) error {
	n := len(reviewColumns)
	valueStrings := make([]string, 0, len(batch))
	valueArgs := make([]any, 0, len(batch)*n)

	for idx, r := range batch {
		placeholders := make([]string, n)
		for c := range placeholders {
			placeholders[c] = fmt.Sprintf("$%d", idx*n+c+1)
		}
		valueStrings = append(valueStrings, "("+strings.Join(placeholders, ",")+")")
		valueArgs = append(valueArgs,
			r.Identity, r.URL, string(r.Status), r.FullAddress, r.City, r.State,
			r.ListPrice, r.SalePrice, r.Beds, r.Baths, r.Sqft,
			r.CommuteMinutes, r.MetroMinutes, r.TetherMiles, r.UpdatedAt)
	}

	updates := make([]string, 0, n-1)
	for _, c := range reviewColumns[1:] {
		updates = append(updates, c+" = EXCLUDED."+c)
	}

	query := fmt.Sprintf(`
		INSERT INTO listing_review (%s)
		VALUES %s
		ON CONFLICT (identity) DO UPDATE SET %s
	`, strings.Join(reviewColumns, ", "), strings.Join(valueStrings, ","), strings.Join(updates, ", "))

	if _, err := rt.db.ExecContext(ctx, query, valueArgs...); err != nil {
		return fmt.Errorf("postgres: upsert: %w", err)
	}
	return nil
}

func (rt *ReviewTable) Close() error {
	return rt.db.Close()
}

// FetchAll retrieves every review row, used by the insight service.
func (rt *ReviewTable) FetchAll(ctx context.Context) ([]*models.ReviewRow, error) {
	rows, err := rt.db.QueryContext(ctx, `
		SELECT `+strings.Join(reviewColumns, ", ")+`
		FROM listing_review
		ORDER BY identity
	`)
	if err != nil {
		return nil, fmt.Errorf("postgres: fetch all: %w", err)
	}
	defer rows.Close()

	var out []*models.ReviewRow
	for rows.Next() {
		r := &models.ReviewRow{}
		var status string
		if err := rows.Scan(
			&r.Identity, &r.URL, &status, &r.FullAddress, &r.City, &r.State,
			&r.ListPrice, &r.SalePrice, &r.Beds, &r.Baths, &r.Sqft,
			&r.CommuteMinutes, &r.MetroMinutes, &r.TetherMiles, &r.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan row: %w", err)
		}
		r.Status = models.Status(status)
		out = append(out, r)
	}
	return out, rows.Err()
}

var _ ReviewWriter = (*ReviewTable)(nil)
