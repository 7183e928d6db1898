// Package audit classifies stored text columns by markup dialect and
// optionally repairs escaped, unbalanced, unsafe or markdown content and
// malformed slugs.
package audit

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/listing-ingest/internal/model"
	"github.com/sells-group/listing-ingest/internal/normalize"
	"github.com/sells-group/listing-ingest/internal/store"
)

// Options configures an audit.
type Options struct {
	Columns       []model.ColumnRef
	BatchSize     int
	MaxRows       int // per column
	MaxSamples    int
	MaxSlugLength int
}

// Auditor scans store columns and reports or repairs their content.
type Auditor struct {
	store store.Store
	opts  Options
	now   func() time.Time
}

// New creates an Auditor, filling zero options with defaults.
func New(st store.Store, opts Options) *Auditor {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 500
	}
	if opts.MaxRows <= 0 {
		opts.MaxRows = 10000
	}
	if opts.MaxSamples < 0 {
		opts.MaxSamples = 0
	}
	if opts.MaxSlugLength <= 0 {
		opts.MaxSlugLength = normalize.DefaultMaxSlugLength
	}
	return &Auditor{store: st, opts: opts, now: time.Now}
}

// Inspect classifies one stored value and proposes a repair for it.
func (a *Auditor) Inspect(ref model.ColumnRef, id int64, value string) model.ContentField {
	f := model.ContentField{Ref: ref, RowID: id, Value: value}

	if ref.Kind == model.ColumnSlug {
		f.Anomaly = SlugAnomaly(value, a.opts.MaxSlugLength)
		f.RepairedValue, _ = RepairSlug(value, a.opts.MaxSlugLength)
		return f
	}

	f.DetectedFormat = Classify(value)
	if repaired, ok := Propose(value, f.DetectedFormat); ok {
		f.RepairedValue = repaired
		switch f.DetectedFormat {
		case model.FormatHTMLEscaped:
			f.Anomaly = "escaped markup"
		case model.FormatHTML:
			f.Anomaly = "unbalanced or unsafe markup"
		case model.FormatMarkdown:
			f.Anomaly = "markdown"
		}
	}
	return f
}

// Run audits every configured column. With repair set it writes proposed
// values back using compare-and-set, so rows edited since the scan are left
// alone. A second run over repaired data proposes nothing.
func (a *Auditor) Run(ctx context.Context, repair bool) (*model.AuditReport, error) {
	report := &model.AuditReport{Repair: repair, StartedAt: a.now()}

	for _, ref := range a.opts.Columns {
		fa, err := a.auditColumn(ctx, ref, repair)
		report.Fields = append(report.Fields, fa)
		report.Modified += fa.Modified
		if err != nil {
			report.FinishedAt = a.now()
			return report, err
		}
	}

	report.FinishedAt = a.now()
	zap.L().Info("audit: complete",
		zap.Bool("repair", repair),
		zap.Int("columns", len(report.Fields)),
		zap.Int("modified", report.Modified),
	)
	return report, nil
}

// auditColumn pages through one column by id. Only fatal store errors are
// returned; anything else is recorded on the FieldAudit.
func (a *Auditor) auditColumn(ctx context.Context, ref model.ColumnRef, repair bool) (model.FieldAudit, error) {
	log := zap.L().With(zap.String("column", ref.String()), zap.String("kind", string(ref.Kind)))
	fa := model.FieldAudit{Ref: ref}
	if ref.Kind != model.ColumnSlug {
		fa.Formats = make(map[model.ContentFormat]int, len(model.AllFormats))
	}

	var afterID int64
	for fa.Scanned < a.opts.MaxRows {
		limit := min(a.opts.BatchSize, a.opts.MaxRows-fa.Scanned)
		rows, err := a.store.ScanText(ctx, ref, afterID, limit)
		if err != nil {
			if store.IsFatal(err) {
				return fa, eris.Wrapf(err, "audit: scan %s", ref)
			}
			log.Warn("audit: scan failed, skipping column", zap.Error(err))
			fa.Error = err.Error()
			return fa, nil
		}

		for _, row := range rows {
			afterID = row.ID
			fa.Scanned++
			if row.Value == nil {
				fa.Nulls++
				continue
			}

			f := a.Inspect(ref, row.ID, *row.Value)
			if fa.Formats != nil {
				fa.Formats[f.DetectedFormat]++
			}
			if f.Anomaly != "" {
				fa.Anomalies++
			}
			if !f.NeedsRepair() {
				continue
			}
			fa.Proposed++
			if len(fa.Samples) < a.opts.MaxSamples {
				fa.Samples = append(fa.Samples, f)
			}
			if !repair {
				continue
			}

			err := a.store.UpdateText(ctx, ref, row.ID, f.Value, f.RepairedValue)
			switch {
			case err == nil:
				fa.Modified++
			case errors.Is(err, store.ErrStale):
				fa.Stale++
			case errors.Is(err, store.ErrDuplicate):
				fa.Conflicts++
				log.Warn("audit: repaired value collides with another row", zap.Int64("id", row.ID), zap.String("value", f.RepairedValue))
			case store.IsFatal(err):
				return fa, eris.Wrapf(err, "audit: update %s id=%d", ref, row.ID)
			default:
				fa.Failed++
				log.Warn("audit: update failed", zap.Int64("id", row.ID), zap.Error(err))
			}
		}

		if len(rows) < limit {
			break
		}
		if fa.Scanned >= a.opts.MaxRows {
			fa.Truncated = true
		}
	}

	log.Info("audit: column done",
		zap.Int("scanned", fa.Scanned),
		zap.Int("anomalies", fa.Anomalies),
		zap.Int("modified", fa.Modified),
	)
	return fa, nil
}
