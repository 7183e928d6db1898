package store

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"

	"github.com/sells-group/listing-ingest/internal/model"
)

// Sentinel errors callers distinguish with errors.Is.
var (
	// ErrDuplicate means a uniqueness constraint rejected the write.
	ErrDuplicate = eris.New("store: duplicate key")
	// ErrUnavailable means the database could not be reached or refused work.
	ErrUnavailable = eris.New("store: unavailable")
	// ErrStale means a compare-and-set update found the row already changed.
	ErrStale = eris.New("store: row changed since read")
)

// SourcesEffect names the provenance side-table write.
const SourcesEffect = "listing_sources"

// TextRow is one value read by ScanText. Value is nil for SQL NULL.
type TextRow struct {
	ID    int64
	Value *string
}

// Store defines the persistence interface for ingestion and auditing.
type Store interface {
	// Listings
	ListingKeys(ctx context.Context) ([]model.ListingKey, error)
	InsertListing(ctx context.Context, l *model.NormalizedListing) (int64, error)
	RecordSource(ctx context.Context, listingID int64, sourceURL string) model.SideEffect

	// Content audit
	ScanText(ctx context.Context, ref model.ColumnRef, afterID int64, limit int) ([]TextRow, error)
	UpdateText(ctx context.Context, ref model.ColumnRef, id int64, oldValue, newValue string) error

	// Run history
	SaveRun(ctx context.Context, summary *model.RunSummary) error
	ListRuns(ctx context.Context, limit int) ([]model.RunSummary, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

// IsFatal reports whether err should abort a run: the store is unavailable
// or the run's context has expired.
func IsFatal(err error) bool {
	return errors.Is(err, ErrUnavailable) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled)
}

// wrapErr maps driver errors onto the sentinels, keeping the original cause
// in the message.
func wrapErr(err error, msg string, isDup, isDown func(error) bool) error {
	if err == nil {
		return nil
	}
	switch {
	case isDup(err):
		return eris.Wrapf(ErrDuplicate, "%s: %v", msg, err)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return eris.Wrap(err, msg)
	case isDown(err):
		return eris.Wrapf(ErrUnavailable, "%s: %v", msg, err)
	default:
		return eris.Wrap(err, msg)
	}
}
