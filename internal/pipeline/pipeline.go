// Package pipeline runs one ingestion pass: fetch the index, discover detail
// links, fetch and extract them concurrently, and reconcile the results in
// link order under a wall-clock deadline.
package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/listing-ingest/internal/config"
	"github.com/sells-group/listing-ingest/internal/fetcher"
	"github.com/sells-group/listing-ingest/internal/model"
	"github.com/sells-group/listing-ingest/internal/normalize"
	"github.com/sells-group/listing-ingest/internal/reconcile"
	"github.com/sells-group/listing-ingest/internal/resilience"
	"github.com/sells-group/listing-ingest/internal/scrape"
	"github.com/sells-group/listing-ingest/internal/store"
)

// kindCircuitOpen marks candidates not fetched because the source breaker
// was open.
const kindCircuitOpen = "circuit-open"

// Options bounds one run.
type Options struct {
	IndexURL         string
	MaxCandidates    int
	Concurrency      int
	Deadline         time.Duration
	FetchAttempts    int
	RetryBackoff     time.Duration // zero uses the retry policy default
	BreakerThreshold int
	BreakerCooldown  time.Duration
	MaxMessages      int
}

// Pipeline wires the ingestion stages together.
type Pipeline struct {
	opts       Options
	fetcher    fetcher.Fetcher
	discoverer *scrape.Discoverer
	extractor  *scrape.Extractor
	normalizer *normalize.Normalizer
	reconciler *reconcile.Reconciler
	now        func() time.Time
}

// New creates a Pipeline from its stages.
func New(
	opts Options,
	f fetcher.Fetcher,
	d *scrape.Discoverer,
	e *scrape.Extractor,
	n *normalize.Normalizer,
	r *reconcile.Reconciler,
) *Pipeline {
	if opts.MaxCandidates <= 0 {
		opts.MaxCandidates = 20
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.Deadline <= 0 {
		opts.Deadline = 55 * time.Second
	}
	return &Pipeline{
		opts:       opts,
		fetcher:    f,
		discoverer: d,
		extractor:  e,
		normalizer: n,
		reconciler: r,
		now:        time.Now,
	}
}

// FromConfig builds a Pipeline with an HTTP fetcher against st.
func FromConfig(cfg *config.Config, st store.Store) *Pipeline {
	f := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
		UserAgent:         cfg.Fetch.UserAgent,
		Timeout:           time.Duration(cfg.Fetch.TimeoutSecs) * time.Second,
		MaxBodyBytes:      int64(cfg.Fetch.MaxBodyKB) << 10,
		RequestsPerSecond: cfg.Fetch.RequestsPerSecond,
		Burst:             cfg.Fetch.Burst,
	})
	d := scrape.NewDiscoverer(scrape.NewPathMatcher(cfg.Source.LinkPatterns, cfg.Source.ExcludePaths))
	e := scrape.NewExtractor(scrape.ExtractOptions{
		PriceMaxChars:       cfg.Extract.PriceMaxChars,
		MaxDescriptionChars: cfg.Extract.MaxDescriptionChars,
		FullTextLimit:       cfg.Extract.FullTextLimit,
		ImagePathMarkers:    cfg.Extract.ImagePathMarkers,
		ImageExcludeMarkers: cfg.Extract.ImageExcludeMarkers,
	})
	n := normalize.New(normalize.Options{
		DefaultPrice:           cfg.Normalize.DefaultPrice,
		DefaultRooms:           cfg.Normalize.DefaultRooms,
		DefaultSizeSqm:         cfg.Normalize.DefaultSizeSqm,
		DefaultNeighborhood:    cfg.Normalize.DefaultNeighborhood,
		Gazetteer:              cfg.Normalize.Gazetteer,
		MaxSlugLength:          cfg.Normalize.MaxSlugLength,
		MaxDescriptionLength:   cfg.Normalize.MaxDescriptionLength,
		ShortDescriptionLength: cfg.Normalize.ShortDescriptionLength,
		MaxImages:              cfg.Normalize.MaxImages,
	})
	r := reconcile.New(st, n.MaxSlugLength())

	return New(Options{
		IndexURL:         cfg.Source.IndexURL,
		MaxCandidates:    cfg.Ingest.MaxCandidates,
		Concurrency:      cfg.Ingest.Concurrency,
		Deadline:         time.Duration(cfg.Ingest.DeadlineSecs) * time.Second,
		FetchAttempts:    cfg.Ingest.FetchAttempts,
		BreakerThreshold: cfg.Ingest.BreakerThreshold,
		MaxMessages:      cfg.Ingest.MaxMessages,
	}, f, d, e, n, r)
}

// result is one link's outcome from a fetch worker.
type result struct {
	listing *model.NormalizedListing
	dropped bool
	err     error
}

// Run executes one ingestion pass. It always returns a summary. The error is
// non-nil only when the run was aborted by the store (keys could not be
// loaded, or it became unavailable mid-run); inserts committed before that
// stay committed.
func (p *Pipeline) Run(ctx context.Context) (*model.RunSummary, error) {
	runID := uuid.NewString()
	summary := model.NewRunSummary(runID, p.now(), p.opts.MaxMessages)
	log := zap.L().With(zap.String("run_id", runID), zap.String("index_url", p.opts.IndexURL))
	log.Info("pipeline: starting ingestion run")

	ctx, cancel := context.WithTimeout(ctx, p.opts.Deadline)
	defer cancel()

	finish := func(err error) (*model.RunSummary, error) {
		summary.Finish(p.now())
		log.Info("pipeline: run finished",
			zap.Bool("success", summary.Success),
			zap.Int("inserted", summary.Inserted),
			zap.Int("skipped", summary.Skipped),
			zap.Int("errors", summary.Errors),
			zap.Int("dropped", summary.Dropped),
			zap.Bool("deadline_exceeded", summary.DeadlineExceeded),
			zap.Duration("duration", summary.Duration()),
		)
		return summary, err
	}

	seen, err := p.reconciler.LoadKeys(ctx)
	if err != nil {
		log.Error("pipeline: load listing keys", zap.Error(err))
		summary.Abort("load listing keys: %v", err)
		return finish(err)
	}

	index, err := resilience.DoVal(ctx, p.retryPolicy(p.opts.IndexURL), func(ctx context.Context) (*fetcher.Document, error) {
		return p.fetcher.Fetch(ctx, p.opts.IndexURL)
	})
	if err != nil {
		log.Error("pipeline: fetch index", zap.Error(err))
		summary.RecordFailure(model.ItemFailure{
			URL:     p.opts.IndexURL,
			Stage:   model.StageIndex,
			Kind:    string(fetcher.KindOf(err)),
			Message: err.Error(),
		})
		summary.DeadlineExceeded = errors.Is(ctx.Err(), context.DeadlineExceeded)
		summary.Abort("index fetch failed: %v", err)
		return finish(nil)
	}

	base := index.FinalURL
	if base == "" {
		base = p.opts.IndexURL
	}
	links := p.discoverer.Discover(base, index.Body)
	summary.LinksDiscovered = len(links)
	if len(links) > p.opts.MaxCandidates {
		summary.LinksTruncated = len(links) - p.opts.MaxCandidates
		summary.Addf("discovered %d links, processing the first %d", len(links), p.opts.MaxCandidates)
		links = links[:p.opts.MaxCandidates]
	}
	log.Info("pipeline: links discovered", zap.Int("links", summary.LinksDiscovered), zap.Int("processing", len(links)))

	workCtx, stopWork := context.WithCancel(ctx)
	defer stopWork()
	slots := p.launch(workCtx, links)

	for i, link := range links {
		var r result
		select {
		case r = <-slots[i]:
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			p.expire(ctx, summary, i, len(links))
			break
		}

		if r.err != nil {
			kind := string(fetcher.KindOf(r.err))
			if errors.Is(r.err, resilience.ErrCircuitOpen) {
				kind = kindCircuitOpen
			}
			summary.RecordFailure(model.ItemFailure{URL: link, Stage: model.StageFetch, Kind: kind, Message: r.err.Error()})
			continue
		}
		if r.dropped {
			summary.Dropped++
			continue
		}

		summary.CandidatesExtracted++
		d, err := p.reconciler.Apply(ctx, seen, *r.listing)
		if err != nil {
			if ctx.Err() != nil {
				p.expire(ctx, summary, i, len(links))
				break
			}
			stopWork()
			summary.RecordFailure(model.ItemFailure{URL: link, Stage: model.StageStore, Message: err.Error()})
			summary.Abort("store unavailable, run aborted: %v", err)
			return finish(err)
		}

		switch d.Outcome {
		case reconcile.OutcomeInserted:
			summary.Inserted++
			if d.SideEffect != nil {
				summary.RecordSideEffects([]model.SideEffect{*d.SideEffect})
			}
		case reconcile.OutcomeSkipped:
			summary.Skipped++
		case reconcile.OutcomeFailed:
			summary.RecordFailure(model.ItemFailure{URL: link, Stage: model.StageReconcile, Message: errString(d.Err)})
		}
	}

	return finish(nil)
}

// launch starts fetch workers for links and returns one buffered slot per
// link. Workers never block on a slot, so abandoning the reader is safe.
func (p *Pipeline) launch(ctx context.Context, links []string) []chan result {
	slots := make([]chan result, len(links))
	for i := range slots {
		slots[i] = make(chan result, 1)
	}

	breaker := resilience.NewBreaker("source", p.opts.BreakerThreshold, p.opts.BreakerCooldown, fetcher.IsRetryable)

	go func() {
		var g errgroup.Group
		g.SetLimit(p.opts.Concurrency)
		for i, link := range links {
			if ctx.Err() != nil {
				// Remaining links are never started.
				slots[i] <- result{err: ctx.Err()}
				continue
			}
			g.Go(func() error {
				slots[i] <- p.process(ctx, breaker, link)
				return nil
			})
		}
		_ = g.Wait()
	}()

	return slots
}

// process fetches, extracts and normalizes one detail page.
func (p *Pipeline) process(ctx context.Context, breaker *resilience.Breaker, link string) result {
	doc, err := resilience.Execute(ctx, breaker, func(ctx context.Context) (*fetcher.Document, error) {
		return resilience.DoVal(ctx, p.retryPolicy(link), func(ctx context.Context) (*fetcher.Document, error) {
			return p.fetcher.Fetch(ctx, link)
		})
	})
	if err != nil {
		zap.L().Warn("pipeline: fetch detail page", zap.String("url", link), zap.Error(err))
		return result{err: err}
	}

	raw, ok := p.extractor.Extract(link, doc.Body)
	if !ok {
		return result{dropped: true}
	}
	listing := p.normalizer.Normalize(*raw)
	return result{listing: &listing}
}

func (p *Pipeline) retryPolicy(url string) resilience.RetryPolicy {
	policy := resilience.NewRetryPolicy(p.opts.FetchAttempts)
	policy.Retryable = fetcher.IsRetryable
	policy.OnRetry = resilience.LogRetry("fetch", url)
	if p.opts.RetryBackoff > 0 {
		policy.Backoff = p.opts.RetryBackoff
	}
	return policy
}

// expire records that the run stopped at link index i of n because ctx ended.
func (p *Pipeline) expire(ctx context.Context, summary *model.RunSummary, i, n int) {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		summary.DeadlineExceeded = true
		summary.Addf("deadline exceeded: %d of %d candidates not reconciled", n-i, n)
		zap.L().Warn("pipeline: run deadline exceeded", zap.Int("remaining", n-i))
		return
	}
	summary.Abort("run canceled: %d of %d candidates not reconciled", n-i, n)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
