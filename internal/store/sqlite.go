package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/listing-ingest/internal/db"
	"github.com/sells-group/listing-ingest/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, eris.Wrapf(ErrUnavailable, "sqlite: exec %s: %v", pragma, err)
		}
	}
	return &SQLiteStore{db: conn}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS listings (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	title             TEXT NOT NULL,
	slug              TEXT NOT NULL UNIQUE,
	property_type     TEXT NOT NULL DEFAULT 'apartment',
	neighborhood      TEXT NOT NULL DEFAULT 'center',
	price             INTEGER NOT NULL CHECK (price >= 0),
	size_sqm          INTEGER NOT NULL DEFAULT 0,
	room_count        INTEGER NOT NULL DEFAULT 0,
	images            TEXT NOT NULL DEFAULT '[]',
	description_short TEXT,
	description_long  TEXT,
	source_url        TEXT,
	created_at        DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS listing_sources (
	listing_id  INTEGER NOT NULL REFERENCES listings(id) ON DELETE CASCADE,
	source_url  TEXT NOT NULL,
	recorded_at DATETIME NOT NULL DEFAULT (datetime('now')),
	PRIMARY KEY (listing_id, source_url)
);

CREATE TABLE IF NOT EXISTS ingest_runs (
	id          TEXT PRIMARY KEY,
	started_at  DATETIME NOT NULL,
	finished_at DATETIME,
	success     INTEGER NOT NULL,
	inserted    INTEGER NOT NULL DEFAULT 0,
	skipped     INTEGER NOT NULL DEFAULT 0,
	errors      INTEGER NOT NULL DEFAULT 0,
	summary     TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_listings_title ON listings (lower(title));
CREATE INDEX IF NOT EXISTS idx_ingest_runs_started_at ON ingest_runs (started_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return s.wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) wrap(err error, msg string) error {
	return wrapErr(err, msg, isSQLiteUnique, isSQLiteDown)
}

func isSQLiteUnique(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func isSQLiteMissingTable(err error) bool {
	return strings.Contains(err.Error(), "no such table")
}

func isSQLiteDown(err error) bool {
	if errors.Is(err, sql.ErrConnDone) {
		return true
	}
	msg := err.Error()
	for _, p := range []string{
		"database is closed",
		"unable to open database",
		"disk I/O error",
		"database disk image is malformed",
	} {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

func (s *SQLiteStore) ListingKeys(ctx context.Context) ([]model.ListingKey, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, title, slug FROM listings ORDER BY id`)
	if err != nil {
		return nil, s.wrap(err, "sqlite: list listing keys")
	}
	defer rows.Close()

	var keys []model.ListingKey
	for rows.Next() {
		var k model.ListingKey
		if err := rows.Scan(&k.ID, &k.Title, &k.Slug); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan listing key")
		}
		keys = append(keys, k)
	}
	return keys, s.wrap(rows.Err(), "sqlite: iterate listing keys")
}

func (s *SQLiteStore) InsertListing(ctx context.Context, l *model.NormalizedListing) (int64, error) {
	images, err := json.Marshal(nonNil(l.Images))
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: marshal images")
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO listings (title, slug, property_type, neighborhood, price, size_sqm, room_count, images, description_short, description_long, source_url)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.Title, l.Slug, string(l.PropertyType), l.Neighborhood, l.PriceAmount, l.SizeSqm, l.RoomCount,
		string(images), l.DescriptionShort, l.DescriptionLong, l.SourceURL,
	)
	if err != nil {
		return 0, s.wrap(err, "sqlite: insert listing")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: last insert id")
	}
	l.ID = id
	return id, nil
}

func (s *SQLiteStore) RecordSource(ctx context.Context, listingID int64, sourceURL string) model.SideEffect {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO listing_sources (listing_id, source_url) VALUES (?, ?)`,
		listingID, sourceURL,
	)
	switch {
	case err == nil:
		return model.Applied(SourcesEffect)
	case isSQLiteMissingTable(err):
		return model.SkippedMissingDependency(SourcesEffect, err)
	default:
		return model.FailedSideEffect(SourcesEffect, err)
	}
}

func (s *SQLiteStore) ScanText(ctx context.Context, ref model.ColumnRef, afterID int64, limit int) ([]TextRow, error) {
	table, column, err := sqliteColumn(ref)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT id, %s FROM %s WHERE id > ? ORDER BY id LIMIT ?`, column, table),
		afterID, limit,
	)
	if err != nil {
		return nil, s.wrap(err, "sqlite: scan "+ref.String())
	}
	defer rows.Close()

	var out []TextRow
	for rows.Next() {
		var (
			r TextRow
			v sql.NullString
		)
		if err := rows.Scan(&r.ID, &v); err != nil {
			return nil, eris.Wrapf(err, "sqlite: scan row of %s", ref)
		}
		if v.Valid {
			r.Value = &v.String
		}
		out = append(out, r)
	}
	return out, s.wrap(rows.Err(), "sqlite: iterate "+ref.String())
}

func (s *SQLiteStore) UpdateText(ctx context.Context, ref model.ColumnRef, id int64, oldValue, newValue string) error {
	table, column, err := sqliteColumn(ref)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE %s SET %s = ? WHERE id = ? AND %s = ?`, table, column, column),
		newValue, id, oldValue,
	)
	if err != nil {
		return s.wrap(err, "sqlite: update "+ref.String())
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrStale, "sqlite: update %s id=%d", ref, id)
	}
	return nil
}

func (s *SQLiteStore) SaveRun(ctx context.Context, summary *model.RunSummary) error {
	data, err := json.Marshal(summary)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal run summary")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO ingest_runs (id, started_at, finished_at, success, inserted, skipped, errors, summary)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET finished_at = excluded.finished_at, success = excluded.success,
			inserted = excluded.inserted, skipped = excluded.skipped, errors = excluded.errors, summary = excluded.summary`,
		summary.RunID, summary.StartedAt.UTC(), summary.FinishedAt.UTC(), summary.Success,
		summary.Inserted, summary.Skipped, summary.Errors, string(data),
	)
	return s.wrap(err, "sqlite: save run")
}

func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]model.RunSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `SELECT summary FROM ingest_runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, s.wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.RunSummary
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		var r model.RunSummary
		if err := json.Unmarshal([]byte(raw), &r); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal run")
		}
		runs = append(runs, r)
	}
	return runs, s.wrap(rows.Err(), "sqlite: iterate runs")
}

func sqliteColumn(ref model.ColumnRef) (string, string, error) {
	table, err := db.QuoteSQLiteIdent(ref.Table)
	if err != nil {
		return "", "", eris.Wrap(err, "sqlite: audit target")
	}
	column, err := db.QuoteSQLiteIdent(ref.Column)
	if err != nil {
		return "", "", eris.Wrap(err, "sqlite: audit target")
	}
	return table, column, nil
}
