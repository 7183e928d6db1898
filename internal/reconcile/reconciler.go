// Package reconcile decides, per normalized candidate, whether to insert it
// or skip it as a duplicate, and performs the insert.
package reconcile

import (
	"context"
	"errors"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/listing-ingest/internal/model"
	"github.com/sells-group/listing-ingest/internal/normalize"
	"github.com/sells-group/listing-ingest/internal/store"
)

// Outcome is the result of reconciling one candidate.
type Outcome string

const (
	OutcomeInserted Outcome = "inserted"
	OutcomeSkipped  Outcome = "skipped"
	OutcomeFailed   Outcome = "failed"
)

// Skip reasons.
const (
	ReasonDuplicateTitle = "duplicate title"
	ReasonSlugTaken      = "slug taken"
	ReasonDuplicateStore = "duplicate in store"
)

// Failure reasons for candidates that must never reach the store.
const (
	ReasonEmptyTitle  = "empty title"
	ReasonInvalidType = "invalid property type"
)

// ErrInvalidListing marks a candidate rejected before insert.
var ErrInvalidListing = eris.New("reconcile: invalid listing")

// Decision is what happened to one candidate.
type Decision struct {
	Listing    model.NormalizedListing `json:"listing"` // ID and final slug set when inserted
	Outcome    Outcome                 `json:"outcome"`
	Reason     string                  `json:"reason,omitempty"`
	SideEffect *model.SideEffect       `json:"side_effect,omitempty"`
	Err        error                   `json:"-"`
}

// Reconciler inserts candidates that are not already in the store.
type Reconciler struct {
	store   store.Store
	maxSlug int
}

// New creates a Reconciler. maxSlug bounds slugs after a uniqueness token is
// appended.
func New(st store.Store, maxSlug int) *Reconciler {
	if maxSlug <= 0 {
		maxSlug = normalize.DefaultMaxSlugLength
	}
	return &Reconciler{store: st, maxSlug: maxSlug}
}

// LoadKeys seeds a KeySet from the store.
func (r *Reconciler) LoadKeys(ctx context.Context) (*KeySet, error) {
	keys, err := r.store.ListingKeys(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "reconcile: load listing keys")
	}
	return NewKeySet(keys), nil
}

// Apply reconciles one candidate against seen and the store. The returned
// error is non-nil only for failures that must stop the run (store
// unavailable, context done); per-item failures are reported in the
// Decision.
func (r *Reconciler) Apply(ctx context.Context, seen *KeySet, l model.NormalizedListing) (Decision, error) {
	log := zap.L().With(zap.String("source_url", l.SourceURL), zap.String("title", l.Title))

	if err := ctx.Err(); err != nil {
		return Decision{Listing: l, Outcome: OutcomeFailed, Err: err}, eris.Wrap(err, "reconcile: context done")
	}

	if strings.TrimSpace(l.Title) == "" {
		log.Warn("reconcile: rejecting listing with empty title")
		return Decision{Listing: l, Outcome: OutcomeFailed, Reason: ReasonEmptyTitle,
			Err: eris.Wrap(ErrInvalidListing, ReasonEmptyTitle)}, nil
	}
	if !l.PropertyType.Valid() {
		log.Warn("reconcile: rejecting listing with unknown property type", zap.String("property_type", string(l.PropertyType)))
		return Decision{Listing: l, Outcome: OutcomeFailed, Reason: ReasonInvalidType,
			Err: eris.Wrapf(ErrInvalidListing, "%s %q", ReasonInvalidType, l.PropertyType)}, nil
	}

	if seen.HasTitle(l.Title) {
		log.Debug("reconcile: skipping duplicate title")
		return Decision{Listing: l, Outcome: OutcomeSkipped, Reason: ReasonDuplicateTitle}, nil
	}

	tokenized := false
	if seen.HasSlug(l.Slug) {
		l.Slug = normalize.WithToken(l.Slug, normalize.Token(l.SourceURL), r.maxSlug)
		tokenized = true
		if seen.HasSlug(l.Slug) {
			log.Debug("reconcile: slug and tokenized slug both taken", zap.String("slug", l.Slug))
			return Decision{Listing: l, Outcome: OutcomeSkipped, Reason: ReasonSlugTaken}, nil
		}
	}

	id, err := r.store.InsertListing(ctx, &l)
	if errors.Is(err, store.ErrDuplicate) && !tokenized {
		// Someone else took the slug after keys were loaded.
		l.Slug = normalize.WithToken(l.Slug, normalize.Token(l.SourceURL), r.maxSlug)
		if seen.HasSlug(l.Slug) {
			return Decision{Listing: l, Outcome: OutcomeSkipped, Reason: ReasonSlugTaken}, nil
		}
		log.Debug("reconcile: slug collision in store, retrying with token", zap.String("slug", l.Slug))
		id, err = r.store.InsertListing(ctx, &l)
	}

	switch {
	case err == nil:
	case errors.Is(err, store.ErrDuplicate):
		log.Debug("reconcile: duplicate in store", zap.Error(err))
		return Decision{Listing: l, Outcome: OutcomeSkipped, Reason: ReasonDuplicateStore}, nil
	case store.IsFatal(err):
		log.Error("reconcile: store unavailable, stopping", zap.Error(err))
		return Decision{Listing: l, Outcome: OutcomeFailed, Err: err}, eris.Wrap(err, "reconcile: insert listing")
	default:
		log.Warn("reconcile: insert failed", zap.Error(err))
		return Decision{Listing: l, Outcome: OutcomeFailed, Err: err}, nil
	}

	l.ID = id
	seen.Add(l.Title, l.Slug)

	effect := r.store.RecordSource(ctx, id, l.SourceURL)
	if effect.Status != model.SideEffectApplied {
		log.Warn("reconcile: side effect not applied",
			zap.String("effect", effect.Name),
			zap.String("status", string(effect.Status)),
			zap.String("error", effect.Error),
		)
	}

	log.Info("reconcile: inserted listing", zap.Int64("id", id), zap.String("slug", l.Slug))
	return Decision{Listing: l, Outcome: OutcomeInserted, SideEffect: &effect}, nil
}

// Reconcile applies batch in order. It stops at the first fatal error and
// returns the decisions made so far along with it.
func (r *Reconciler) Reconcile(ctx context.Context, seen *KeySet, batch []model.NormalizedListing) ([]Decision, error) {
	decisions := make([]Decision, 0, len(batch))
	for _, l := range batch {
		d, err := r.Apply(ctx, seen, l)
		decisions = append(decisions, d)
		if err != nil {
			return decisions, err
		}
	}
	return decisions, nil
}
