package pipeline

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/listing-ingest/internal/fetcher"
	"github.com/sells-group/listing-ingest/internal/model"
	"github.com/sells-group/listing-ingest/internal/normalize"
	"github.com/sells-group/listing-ingest/internal/reconcile"
	"github.com/sells-group/listing-ingest/internal/scrape"
	"github.com/sells-group/listing-ingest/internal/store"
)

func detailPage(title, price string) string {
	return fmt.Sprintf(`<html><head><title>%[1]s | Emlak</title></head><body>
<h1>%[1]s</h1>
<span class="price">%[2]s</span>
<ul><li>Oda Sayısı: 3+1</li><li>Brüt 180 m²</li></ul>
<img src="/uploads/1.jpg">
<p>Denize sıfır, bahçeli.</p>
</body></html>`, title, price)
}

func indexPage(links ...string) string {
	var b strings.Builder
	b.WriteString("<html><body><nav><a href=\"/\">Anasayfa</a></nav>")
	for _, l := range links {
		fmt.Fprintf(&b, `<a href="%s">ilan</a>`, l)
	}
	b.WriteString("</body></html>")
	return b.String()
}

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "pipeline.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func newTestPipeline(st store.Store, indexURL string, opts Options) *Pipeline {
	opts.IndexURL = indexURL
	if opts.FetchAttempts == 0 {
		opts.FetchAttempts = 2
	}
	opts.RetryBackoff = time.Millisecond

	n := normalize.New(normalize.Options{Gazetteer: []string{"Cunda", "Sarımsaklı"}})
	return New(opts,
		fetcher.NewHTTPFetcher(fetcher.HTTPOptions{Timeout: 2 * time.Second}),
		scrape.NewDiscoverer(scrape.NewPathMatcher([]string{"/ilan/"}, nil)),
		scrape.NewExtractor(scrape.ExtractOptions{ImagePathMarkers: []string{"/uploads/"}}),
		n,
		reconcile.New(st, n.MaxSlugLength()),
	)
}

func seed(t *testing.T, st store.Store, title, slug string) {
	t.Helper()
	_, err := st.InsertListing(context.Background(), &model.NormalizedListing{
		Title:        title,
		Slug:         slug,
		PropertyType: model.PropertyHouse,
		Neighborhood: "cunda",
		PriceAmount:  1500000,
		SourceURL:    "https://old.example.com/" + slug,
	})
	require.NoError(t, err)
}

func TestRun_EndToEnd(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/ilanlar", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, indexPage("/ilan/1-kayip", "/ilan/2-deniz-manzarali-villa", "/ilan/3-cunda-tas-ev"))
	})
	mux.HandleFunc("/ilan/1-kayip", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	mux.HandleFunc("/ilan/2-deniz-manzarali-villa", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, detailPage("Deniz Manzaralı Villa", "2.750.000 TL"))
	})
	mux.HandleFunc("/ilan/3-cunda-tas-ev", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, detailPage("Cunda Taş Ev", "1.500.000 TL"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	st := newTestStore(t)
	seed(t, st, "Cunda Taş Ev", "cunda-tas-ev")

	p := newTestPipeline(st, srv.URL+"/ilanlar", Options{Concurrency: 3})
	summary, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.True(t, summary.Success)
	assert.Equal(t, 3, summary.LinksDiscovered)
	assert.Equal(t, 1, summary.Inserted)
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, 1, summary.Errors)
	assert.False(t, summary.DeadlineExceeded)
	assert.Equal(t, 1, summary.SideEffects[model.SideEffectApplied])
	require.Len(t, summary.Failures, 1)
	assert.Equal(t, model.StageFetch, summary.Failures[0].Stage)
	assert.Equal(t, string(fetcher.KindStatus), summary.Failures[0].Kind)
	assert.NotEmpty(t, summary.RunID)
	assert.False(t, summary.FinishedAt.IsZero())

	keys, err := st.ListingKeys(context.Background())
	require.NoError(t, err)
	require.Len(t, keys, 2)
	var villa model.ListingKey
	for _, k := range keys {
		if k.Title == "Deniz Manzaralı Villa" {
			villa = k
		}
	}
	assert.True(t, strings.HasPrefix(villa.Slug, "deniz-manzarali-villa"), villa.Slug)

	rows, err := st.ScanText(context.Background(),
		model.ColumnRef{Table: "listings", Column: "property_type", Kind: model.ColumnContent}, 0, 10)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, string(model.PropertyVilla), *rows[1].Value)

	rows, err = st.ScanText(context.Background(),
		model.ColumnRef{Table: "listings", Column: "price", Kind: model.ColumnContent}, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, "2750000", *rows[1].Value)

	// A second run over the same source and store inserts nothing.
	again, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, again.Success)
	assert.Equal(t, 0, again.Inserted)
	assert.Equal(t, 2, again.Skipped)
	assert.Equal(t, 1, again.Errors)
}

func TestRun_ReconcilesInLinkOrder(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/ilanlar", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, indexPage("/ilan/a", "/ilan/b"))
	})
	mux.HandleFunc("/ilan/a", func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(100 * time.Millisecond)
		fmt.Fprint(w, detailPage("Aynı Villa", "1.000.000 TL"))
	})
	mux.HandleFunc("/ilan/b", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, detailPage("Aynı Villa", "2.000.000 TL"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	st := newTestStore(t)
	summary, err := newTestPipeline(st, srv.URL+"/ilanlar", Options{Concurrency: 2}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Inserted)
	assert.Equal(t, 1, summary.Skipped)

	rows, err := st.ScanText(context.Background(),
		model.ColumnRef{Table: "listings", Column: "source_url", Kind: model.ColumnContent}, 0, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, srv.URL+"/ilan/a", *rows[0].Value, "the first link wins even though it finished last")
}

func TestRun_TruncatesCandidates(t *testing.T) {
	var detailHits atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/ilanlar", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, indexPage("/ilan/1", "/ilan/2", "/ilan/3", "/ilan/4", "/ilan/5"))
	})
	mux.HandleFunc("/ilan/", func(w http.ResponseWriter, r *http.Request) {
		detailHits.Add(1)
		fmt.Fprint(w, detailPage("Villa "+strings.TrimPrefix(r.URL.Path, "/ilan/"), "1 TL"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	summary, err := newTestPipeline(newTestStore(t), srv.URL+"/ilanlar", Options{MaxCandidates: 2}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, summary.LinksDiscovered)
	assert.Equal(t, 3, summary.LinksTruncated)
	assert.Equal(t, 2, summary.Inserted)
	assert.Equal(t, int32(2), detailHits.Load())
}

func TestRun_DroppedPagesAreNotErrors(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/ilanlar", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, indexPage("/ilan/bos"))
	})
	mux.HandleFunc("/ilan/bos", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html><body><p>Bu ilan yayından kaldırıldı.</p></body></html>")
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	summary, err := newTestPipeline(newTestStore(t), srv.URL+"/ilanlar", Options{}).Run(context.Background())
	require.NoError(t, err)
	assert.True(t, summary.Success)
	assert.Equal(t, 1, summary.Dropped)
	assert.Equal(t, 0, summary.Errors)
}

func TestRun_IndexFailureMarksRunFailed(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	summary, err := newTestPipeline(newTestStore(t), srv.URL+"/ilanlar", Options{FetchAttempts: 3}).Run(context.Background())
	require.NoError(t, err)
	assert.False(t, summary.Success)
	assert.Equal(t, 1, summary.Errors)
	assert.Equal(t, model.StageIndex, summary.Failures[0].Stage)
	assert.Equal(t, int32(3), hits.Load(), "transient index failures are retried")
}

func TestRun_StoreUnavailableBeforeStart(t *testing.T) {
	st := newTestStore(t)
	require.NoError(t, st.Close())

	summary, err := newTestPipeline(st, "http://127.0.0.1:1/ilanlar", Options{}).Run(context.Background())
	require.Error(t, err)
	require.NotNil(t, summary)
	assert.False(t, summary.Success)
	assert.True(t, store.IsFatal(err))
}

// failingStore lets keys load and then reports the database as gone.
type failingStore struct {
	*store.SQLiteStore
	inserts atomic.Int32
}

func (f *failingStore) InsertListing(ctx context.Context, l *model.NormalizedListing) (int64, error) {
	if f.inserts.Add(1) > 1 {
		return 0, eris.Wrap(store.ErrUnavailable, "connection reset")
	}
	return f.SQLiteStore.InsertListing(ctx, l)
}

func TestRun_StoreUnavailableMidRunKeepsCommitted(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/ilanlar", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, indexPage("/ilan/1", "/ilan/2", "/ilan/3"))
	})
	mux.HandleFunc("/ilan/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, detailPage("Villa "+strings.TrimPrefix(r.URL.Path, "/ilan/"), "1 TL"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	st := &failingStore{SQLiteStore: newTestStore(t)}
	summary, err := newTestPipeline(st, srv.URL+"/ilanlar", Options{}).Run(context.Background())
	require.Error(t, err)
	assert.False(t, summary.Success)
	assert.Equal(t, 1, summary.Inserted)
	assert.Equal(t, model.StageStore, summary.Failures[len(summary.Failures)-1].Stage)

	keys, err := st.ListingKeys(context.Background())
	require.NoError(t, err)
	assert.Len(t, keys, 1)
}

func TestRun_DeadlineExceeded(t *testing.T) {
	release := make(chan struct{})
	mux := http.NewServeMux()
	mux.HandleFunc("/ilanlar", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, indexPage("/ilan/hizli", "/ilan/yavas"))
	})
	mux.HandleFunc("/ilan/hizli", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, detailPage("Hızlı Villa", "1 TL"))
	})
	mux.HandleFunc("/ilan/yavas", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	defer close(release)

	st := newTestStore(t)
	summary, err := newTestPipeline(st, srv.URL+"/ilanlar", Options{Deadline: 300 * time.Millisecond}).Run(context.Background())
	require.NoError(t, err)
	assert.True(t, summary.DeadlineExceeded)
	assert.Equal(t, 1, summary.Inserted, "work reconciled before the deadline stays committed")

	keys, err := st.ListingKeys(context.Background())
	require.NoError(t, err)
	assert.Len(t, keys, 1)
}

func TestRun_BreakerStopsFetchingDeadSource(t *testing.T) {
	var hits atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/ilanlar", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, indexPage("/ilan/1", "/ilan/2", "/ilan/3", "/ilan/4", "/ilan/5"))
	})
	mux.HandleFunc("/ilan/", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	opts := Options{Concurrency: 1, FetchAttempts: 1, BreakerThreshold: 2, BreakerCooldown: time.Minute}
	summary, err := newTestPipeline(newTestStore(t), srv.URL+"/ilanlar", opts).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, summary.Errors)
	assert.Equal(t, int32(2), hits.Load())
	assert.Equal(t, kindCircuitOpen, summary.Failures[4].Kind)
}
