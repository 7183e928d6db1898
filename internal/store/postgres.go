package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/listing-ingest/internal/db"
	"github.com/sells-group/listing-ingest/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, maxConns int32) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	if maxConns <= 0 {
		maxConns = 10
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = 1
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrapf(ErrUnavailable, "postgres: ping: %v", err)
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS listings (
	id                BIGSERIAL PRIMARY KEY,
	title             TEXT NOT NULL,
	slug              TEXT NOT NULL UNIQUE,
	property_type     TEXT NOT NULL DEFAULT 'apartment',
	neighborhood      TEXT NOT NULL DEFAULT 'center',
	price             BIGINT NOT NULL CHECK (price >= 0),
	size_sqm          INTEGER NOT NULL DEFAULT 0,
	room_count        INTEGER NOT NULL DEFAULT 0,
	images            JSONB NOT NULL DEFAULT '[]'::jsonb,
	description_short TEXT,
	description_long  TEXT,
	source_url        TEXT,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS listing_sources (
	listing_id  BIGINT NOT NULL REFERENCES listings(id) ON DELETE CASCADE,
	source_url  TEXT NOT NULL,
	recorded_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (listing_id, source_url)
);

CREATE TABLE IF NOT EXISTS ingest_runs (
	id          TEXT PRIMARY KEY,
	started_at  TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ,
	success     BOOLEAN NOT NULL,
	inserted    INTEGER NOT NULL DEFAULT 0,
	skipped     INTEGER NOT NULL DEFAULT 0,
	errors      INTEGER NOT NULL DEFAULT 0,
	summary     JSONB NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_listings_title ON listings (lower(title));
CREATE INDEX IF NOT EXISTS idx_ingest_runs_started_at ON ingest_runs (started_at DESC);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return s.wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) wrap(err error, msg string) error {
	return wrapErr(err, msg, db.IsUniqueViolation, db.IsConnectionFailure)
}

func (s *PostgresStore) ListingKeys(ctx context.Context) ([]model.ListingKey, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, title, slug FROM listings ORDER BY id`)
	if err != nil {
		return nil, s.wrap(err, "postgres: list listing keys")
	}
	defer rows.Close()

	var keys []model.ListingKey
	for rows.Next() {
		var k model.ListingKey
		if err := rows.Scan(&k.ID, &k.Title, &k.Slug); err != nil {
			return nil, eris.Wrap(err, "postgres: scan listing key")
		}
		keys = append(keys, k)
	}
	return keys, s.wrap(rows.Err(), "postgres: iterate listing keys")
}

func (s *PostgresStore) InsertListing(ctx context.Context, l *model.NormalizedListing) (int64, error) {
	images, err := json.Marshal(nonNil(l.Images))
	if err != nil {
		return 0, eris.Wrap(err, "postgres: marshal images")
	}

	var id int64
	err = s.pool.QueryRow(ctx,
		`INSERT INTO listings (title, slug, property_type, neighborhood, price, size_sqm, room_count, images, description_short, description_long, source_url)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11) RETURNING id`,
		l.Title, l.Slug, string(l.PropertyType), l.Neighborhood, l.PriceAmount, l.SizeSqm, l.RoomCount,
		images, l.DescriptionShort, l.DescriptionLong, l.SourceURL,
	).Scan(&id)
	if err != nil {
		return 0, s.wrap(err, "postgres: insert listing")
	}
	l.ID = id
	return id, nil
}

func (s *PostgresStore) RecordSource(ctx context.Context, listingID int64, sourceURL string) model.SideEffect {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO listing_sources (listing_id, source_url) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		listingID, sourceURL,
	)
	switch {
	case err == nil:
		return model.Applied(SourcesEffect)
	case db.IsUndefinedTable(err):
		return model.SkippedMissingDependency(SourcesEffect, err)
	default:
		return model.FailedSideEffect(SourcesEffect, err)
	}
}

func (s *PostgresStore) ScanText(ctx context.Context, ref model.ColumnRef, afterID int64, limit int) ([]TextRow, error) {
	table, column, err := pgColumn(ref)
	if err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx,
		fmt.Sprintf(`SELECT id, %s FROM %s WHERE id > $1 ORDER BY id LIMIT $2`, column, table),
		afterID, limit,
	)
	if err != nil {
		return nil, s.wrap(err, "postgres: scan "+ref.String())
	}
	defer rows.Close()

	var out []TextRow
	for rows.Next() {
		var r TextRow
		if err := rows.Scan(&r.ID, &r.Value); err != nil {
			return nil, eris.Wrapf(err, "postgres: scan row of %s", ref)
		}
		out = append(out, r)
	}
	return out, s.wrap(rows.Err(), "postgres: iterate "+ref.String())
}

func (s *PostgresStore) UpdateText(ctx context.Context, ref model.ColumnRef, id int64, oldValue, newValue string) error {
	table, column, err := pgColumn(ref)
	if err != nil {
		return err
	}

	tag, err := s.pool.Exec(ctx,
		fmt.Sprintf(`UPDATE %s SET %s = $1 WHERE id = $2 AND %s = $3`, table, column, column),
		newValue, id, oldValue,
	)
	if err != nil {
		return s.wrap(err, "postgres: update "+ref.String())
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrStale, "postgres: update %s id=%d", ref, id)
	}
	return nil
}

func (s *PostgresStore) SaveRun(ctx context.Context, summary *model.RunSummary) error {
	data, err := json.Marshal(summary)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal run summary")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO ingest_runs (id, started_at, finished_at, success, inserted, skipped, errors, summary)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET finished_at = EXCLUDED.finished_at, success = EXCLUDED.success,
			inserted = EXCLUDED.inserted, skipped = EXCLUDED.skipped, errors = EXCLUDED.errors, summary = EXCLUDED.summary`,
		summary.RunID, summary.StartedAt, summary.FinishedAt, summary.Success,
		summary.Inserted, summary.Skipped, summary.Errors, data,
	)
	return s.wrap(err, "postgres: save run")
}

func (s *PostgresStore) ListRuns(ctx context.Context, limit int) ([]model.RunSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `SELECT summary FROM ingest_runs ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, s.wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.RunSummary
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		var r model.RunSummary
		if err := json.Unmarshal(raw, &r); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal run")
		}
		runs = append(runs, r)
	}
	return runs, s.wrap(rows.Err(), "postgres: iterate runs")
}

func pgColumn(ref model.ColumnRef) (string, string, error) {
	table, err := db.QuoteIdent(ref.Table)
	if err != nil {
		return "", "", eris.Wrap(err, "postgres: audit target")
	}
	column, err := db.QuoteIdent(ref.Column)
	if err != nil {
		return "", "", eris.Wrap(err, "postgres: audit target")
	}
	return table, column, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
