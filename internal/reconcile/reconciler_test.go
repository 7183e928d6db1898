package reconcile

import (
	"context"
	"errors"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/listing-ingest/internal/model"
	"github.com/sells-group/listing-ingest/internal/normalize"
	"github.com/sells-group/listing-ingest/internal/store"
)

func listing(title, slug, url string) model.NormalizedListing {
	return model.NormalizedListing{
		Title:        title,
		Slug:         slug,
		PropertyType: model.PropertyApartment,
		Neighborhood: "center",
		PriceAmount:  1000000,
		SourceURL:    url,
	}
}

func TestKeySet(t *testing.T) {
	k := NewKeySet([]model.ListingKey{{ID: 1, Title: "Deniz Manzaralı Villa", Slug: "deniz-manzarali-villa"}})

	assert.True(t, k.HasTitle("deniz  manzarali VILLA"))
	assert.True(t, k.HasSlug("deniz-manzarali-villa"))
	assert.False(t, k.HasTitle("Cunda Taş Ev"))
	assert.Equal(t, 1, k.Len())

	k.Add("Cunda Taş Ev", "cunda-tas-ev")
	k.Add("", "")
	assert.True(t, k.HasTitle("Cunda Taş Ev"))
	assert.Equal(t, 2, k.Len())
}

func TestApply_Inserts(t *testing.T) {
	ms := new(mockStore)
	ctx := context.Background()
	l := listing("Deniz Manzaralı Villa", "deniz-manzarali-villa", "https://x/ilan/1")

	ms.On("InsertListing", ctx, "deniz-manzarali-villa").Return(int64(7), nil)
	ms.On("RecordSource", ctx, int64(7), "https://x/ilan/1").Return(model.Applied(store.SourcesEffect))

	seen := NewKeySet(nil)
	d, err := New(ms, 80).Apply(ctx, seen, l)
	require.NoError(t, err)

	assert.Equal(t, OutcomeInserted, d.Outcome)
	assert.Equal(t, int64(7), d.Listing.ID)
	require.NotNil(t, d.SideEffect)
	assert.Equal(t, model.SideEffectApplied, d.SideEffect.Status)
	assert.True(t, seen.HasTitle("Deniz Manzaralı Villa"))
	assert.True(t, seen.HasSlug("deniz-manzarali-villa"))
	ms.AssertExpectations(t)
}

func TestApply_DuplicateTitleSkipsWithoutStore(t *testing.T) {
	ms := new(mockStore)
	seen := NewKeySet([]model.ListingKey{{Title: "Cunda Taş Ev", Slug: "cunda-tas-ev"}})

	d, err := New(ms, 80).Apply(context.Background(), seen, listing("CUNDA TAŞ EV", "cunda-tas-ev", "https://x/ilan/2"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, d.Outcome)
	assert.Equal(t, ReasonDuplicateTitle, d.Reason)
	ms.AssertNotCalled(t, "InsertListing", mock.Anything, mock.Anything)
}

func TestApply_SlugTakenGetsToken(t *testing.T) {
	ms := new(mockStore)
	ctx := context.Background()
	url := "https://x/ilan/3"
	want := "deniz-manzarali-villa-" + normalize.Token(url)

	ms.On("InsertListing", ctx, want).Return(int64(8), nil)
	ms.On("RecordSource", ctx, int64(8), url).Return(model.Applied(store.SourcesEffect))

	seen := NewKeySet([]model.ListingKey{{Title: "Deniz Manzaralı Villa", Slug: "deniz-manzarali-villa"}})
	d, err := New(ms, 80).Apply(ctx, seen, listing("Deniz Manzaralı Villa (Yeni)", "deniz-manzarali-villa", url))
	require.NoError(t, err)
	assert.Equal(t, OutcomeInserted, d.Outcome)
	assert.Equal(t, want, d.Listing.Slug)
	ms.AssertExpectations(t)
}

func TestApply_StoreDuplicateRetriesOnceWithToken(t *testing.T) {
	ms := new(mockStore)
	ctx := context.Background()
	url := "https://x/ilan/4"
	tokenized := "sarimsakli-daire-" + normalize.Token(url)

	ms.On("InsertListing", ctx, "sarimsakli-daire").Return(int64(0), eris.Wrap(store.ErrDuplicate, "insert")).Once()
	ms.On("InsertListing", ctx, tokenized).Return(int64(9), nil).Once()
	ms.On("RecordSource", ctx, int64(9), url).Return(model.Applied(store.SourcesEffect))

	d, err := New(ms, 80).Apply(ctx, NewKeySet(nil), listing("Sarımsaklı Daire", "sarimsakli-daire", url))
	require.NoError(t, err)
	assert.Equal(t, OutcomeInserted, d.Outcome)
	assert.Equal(t, tokenized, d.Listing.Slug)
	ms.AssertExpectations(t)
}

func TestApply_StoreDuplicateTwiceSkips(t *testing.T) {
	ms := new(mockStore)
	ctx := context.Background()
	ms.On("InsertListing", ctx, mock.Anything).Return(int64(0), eris.Wrap(store.ErrDuplicate, "insert")).Twice()

	d, err := New(ms, 80).Apply(ctx, NewKeySet(nil), listing("Sarımsaklı Daire", "sarimsakli-daire", "https://x/ilan/5"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, d.Outcome)
	assert.Equal(t, ReasonDuplicateStore, d.Reason)
	ms.AssertExpectations(t)
}

func TestApply_UnavailableIsFatal(t *testing.T) {
	ms := new(mockStore)
	ctx := context.Background()
	ms.On("InsertListing", ctx, "x").Return(int64(0), eris.Wrap(store.ErrUnavailable, "connection refused"))

	d, err := New(ms, 80).Apply(ctx, NewKeySet(nil), listing("X", "x", "https://x/ilan/6"))
	require.Error(t, err)
	assert.True(t, store.IsFatal(err))
	assert.Equal(t, OutcomeFailed, d.Outcome)
}

func TestApply_OtherErrorIsPerItem(t *testing.T) {
	ms := new(mockStore)
	ctx := context.Background()
	ms.On("InsertListing", ctx, "x").Return(int64(0), eris.New("value too long"))

	d, err := New(ms, 80).Apply(ctx, NewKeySet(nil), listing("X", "x", "https://x/ilan/7"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, d.Outcome)
	assert.EqualError(t, d.Err, "value too long")
}

func TestApply_CanceledContext(t *testing.T) {
	ms := new(mockStore)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(ms, 80).Apply(ctx, NewKeySet(nil), listing("X", "x", "https://x/ilan/8"))
	require.Error(t, err)
	assert.True(t, store.IsFatal(err))
	ms.AssertNotCalled(t, "InsertListing", mock.Anything, mock.Anything)
}

func TestApply_EmptyTitleIsRejected(t *testing.T) {
	for _, title := range []string{"", "   ", "\u2003\u00a0"} {
		ms := new(mockStore)
		seen := NewKeySet(nil)

		d, err := New(ms, 80).Apply(context.Background(), seen, listing(title, "listing", "https://x/ilan/10"))
		require.NoError(t, err)
		assert.Equal(t, OutcomeFailed, d.Outcome, "title %q", title)
		assert.Equal(t, ReasonEmptyTitle, d.Reason)
		assert.True(t, errors.Is(d.Err, ErrInvalidListing))
		assert.False(t, seen.HasSlug("listing"))
		ms.AssertNotCalled(t, "InsertListing", mock.Anything, mock.Anything)
	}
}

func TestApply_UnknownPropertyTypeIsRejected(t *testing.T) {
	ms := new(mockStore)
	l := listing("Taş Köşk", "tas-kosk", "https://x/ilan/11")
	l.PropertyType = "castle"

	d, err := New(ms, 80).Apply(context.Background(), NewKeySet(nil), l)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, d.Outcome)
	assert.Equal(t, ReasonInvalidType, d.Reason)
	assert.True(t, errors.Is(d.Err, ErrInvalidListing))
	assert.Contains(t, d.Err.Error(), `"castle"`)
	ms.AssertNotCalled(t, "InsertListing", mock.Anything, mock.Anything)
}

func TestApply_SideEffectFailureKeepsInsert(t *testing.T) {
	ms := new(mockStore)
	ctx := context.Background()
	ms.On("InsertListing", ctx, "x").Return(int64(3), nil)
	ms.On("RecordSource", ctx, int64(3), "https://x/ilan/9").
		Return(model.SkippedMissingDependency(store.SourcesEffect, eris.New("no such table")))

	d, err := New(ms, 80).Apply(ctx, NewKeySet(nil), listing("X", "x", "https://x/ilan/9"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeInserted, d.Outcome)
	assert.Equal(t, model.SideEffectSkippedMissingDependency, d.SideEffect.Status)
}

func TestReconcile_SameItemTwiceInBatch(t *testing.T) {
	ms := new(mockStore)
	ctx := context.Background()
	ms.On("InsertListing", ctx, "cunda-tas-ev").Return(int64(1), nil).Once()
	ms.On("RecordSource", ctx, int64(1), "https://x/ilan/1").Return(model.Applied(store.SourcesEffect))

	batch := []model.NormalizedListing{
		listing("Cunda Taş Ev", "cunda-tas-ev", "https://x/ilan/1"),
		listing("Cunda Taş Ev", "cunda-tas-ev", "https://x/ilan/1?ref=home"),
	}
	decisions, err := New(ms, 80).Reconcile(ctx, NewKeySet(nil), batch)
	require.NoError(t, err)
	require.Len(t, decisions, 2)
	assert.Equal(t, OutcomeInserted, decisions[0].Outcome)
	assert.Equal(t, OutcomeSkipped, decisions[1].Outcome)
	ms.AssertExpectations(t)
}

func TestReconcile_StopsOnFatal(t *testing.T) {
	ms := new(mockStore)
	ctx := context.Background()
	ms.On("InsertListing", ctx, "a").Return(int64(0), eris.Wrap(store.ErrUnavailable, "down"))

	batch := []model.NormalizedListing{
		listing("A", "a", "https://x/ilan/a"),
		listing("B", "b", "https://x/ilan/b"),
	}
	decisions, err := New(ms, 80).Reconcile(ctx, NewKeySet(nil), batch)
	require.Error(t, err)
	assert.Len(t, decisions, 1)
	ms.AssertNotCalled(t, "InsertListing", ctx, "b")
}

func TestLoadKeys(t *testing.T) {
	ms := new(mockStore)
	ctx := context.Background()
	ms.On("ListingKeys", ctx).Return([]model.ListingKey{{ID: 1, Title: "A", Slug: "a"}}, nil).Once()
	ms.On("ListingKeys", ctx).Return(nil, eris.Wrap(store.ErrUnavailable, "down")).Once()

	r := New(ms, 80)
	seen, err := r.LoadKeys(ctx)
	require.NoError(t, err)
	assert.True(t, seen.HasSlug("a"))

	_, err = r.LoadKeys(ctx)
	require.Error(t, err)
	assert.True(t, store.IsFatal(err))
}
