package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"redfin-tracker/models"
)

const upsertColumns = 9

// PostgresWriter mirrors the cleaned master into PostgreSQL.
type PostgresWriter struct {
	db *sql.DB
}

// NewPostgresWriter opens a connection to PostgreSQL, runs schema migrations,
// and returns a ready-to-use PostgresWriter.
func NewPostgresWriter(ctx context.Context, dsn string) (*PostgresWriter, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}

	for i := 0; i < 10; i++ {
		if err = db.PingContext(ctx); err == nil {
			break
		}
		time.Sleep(2 * time.Second)
	}
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: ping failed after retries: %w", err)
	}

	pw := &PostgresWriter{db: db}
	if err := pw.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: migrate: %w", err)
	}

	return pw, nil
}

func (pw *PostgresWriter) migrate(ctx context.Context) error {
	_, err := pw.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS listing_history (
			address      TEXT             NOT NULL,
			listing_date DATE             NOT NULL,
			price        NUMERIC(14,2)    NOT NULL,
			beds         NUMERIC(5,1)     NOT NULL,
			baths        NUMERIC(5,1)     NOT NULL,
			sqft         NUMERIC(10,1)    NOT NULL,
			latitude     DOUBLE PRECISION NOT NULL,
			longitude    DOUBLE PRECISION NOT NULL,
			link         TEXT             NOT NULL DEFAULT '',
			updated_at   TIMESTAMPTZ      NOT NULL DEFAULT NOW(),
			PRIMARY KEY (address, listing_date)
		);

		CREATE INDEX IF NOT EXISTS idx_listing_history_date  ON listing_history(listing_date);
		CREATE INDEX IF NOT EXISTS idx_listing_history_price ON listing_history(price);
	`)
	return err
}

// Upsert writes records keyed by (address, listing_date); later values replace
// earlier ones. Keys must be unique within records.
func (pw *PostgresWriter) Upsert(ctx context.Context, records []models.Record) error {
	const batchSize = 50
	for i := 0; i < len(records); i += batchSize {
		end := i + batchSize
		if end > len(records) {
			end = len(records)
		}
		if err := pw.upsertBatch(ctx, records[i:end]); err != nil {
			return err
		}
	}
	return nil
}

func (pw *PostgresWriter) upsertBatch(ctx context.Context, batch []models.Record) error {
	args := make([]interface{}, 0, len(batch)*upsertColumns)
	for _, r := range batch {
		args = append(args,
			r.Address, r.Date.String(), r.Price, r.Beds, r.Baths,
			r.LivingArea, r.Latitude, r.Longitude, r.Link)
	}

	if _, err := pw.db.ExecContext(ctx, buildUpsertQuery(len(batch)), args...); err != nil {
		return fmt.Errorf("postgres: upsert batch: %w", err)
	}
	return nil
}

func buildUpsertQuery(rows int) string {
	valueStrings := make([]string, 0, rows)
	for idx := 0; idx < rows; idx++ {
		base := idx * upsertColumns
		placeholders := make([]string, upsertColumns)
		for c := range placeholders {
			placeholders[c] = fmt.Sprintf("$%d", base+c+1)
		}
		valueStrings = append(valueStrings, "("+strings.Join(placeholders, ",")+")")
	}

	return fmt.Sprintf(`
		INSERT INTO listing_history (address, listing_date, price, beds, baths, sqft, latitude, longitude, link)
		VALUES %s
		ON CONFLICT (address, listing_date) DO UPDATE SET
			price = EXCLUDED.price,
			beds = EXCLUDED.beds,
			baths = EXCLUDED.baths,
			sqft = EXCLUDED.sqft,
			latitude = EXCLUDED.latitude,
			longitude = EXCLUDED.longitude,
			link = EXCLUDED.link,
			updated_at = NOW()
	`, strings.Join(valueStrings, ","))
}

// CountByDate returns how many mirrored rows exist per listing date.
func (pw *PostgresWriter) CountByDate(ctx context.Context) (map[string]int, error) {
	rows, err := pw.db.QueryContext(ctx, `
		SELECT to_char(listing_date, 'YYYY-MM-DD'), COUNT(*)
		FROM listing_history
		GROUP BY listing_date
		ORDER BY listing_date
	`)
	if err != nil {
		return nil, fmt.Errorf("postgres: count by date: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var date string
		var n int
		if err := rows.Scan(&date, &n); err != nil {
			return nil, fmt.Errorf("postgres: scan row: %w", err)
		}
		counts[date] = n
	}
	return counts, rows.Err()
}

func (pw *PostgresWriter) Close() error {
	return pw.db.Close()
}
