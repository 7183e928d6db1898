package reconcile

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/listing-ingest/internal/model"
	"github.com/sells-group/listing-ingest/internal/store"
)

type mockStore struct {
	mock.Mock
}

func (m *mockStore) ListingKeys(ctx context.Context) ([]model.ListingKey, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.ListingKey), args.Error(1)
}

func (m *mockStore) InsertListing(ctx context.Context, l *model.NormalizedListing) (int64, error) {
	args := m.Called(ctx, l.Slug)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockStore) RecordSource(ctx context.Context, listingID int64, sourceURL string) model.SideEffect {
	args := m.Called(ctx, listingID, sourceURL)
	return args.Get(0).(model.SideEffect)
}

func (m *mockStore) ScanText(ctx context.Context, ref model.ColumnRef, afterID int64, limit int) ([]store.TextRow, error) {
	args := m.Called(ctx, ref, afterID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]store.TextRow), args.Error(1)
}

func (m *mockStore) UpdateText(ctx context.Context, ref model.ColumnRef, id int64, oldValue, newValue string) error {
	return m.Called(ctx, ref, id, oldValue, newValue).Error(0)
}

func (m *mockStore) SaveRun(ctx context.Context, summary *model.RunSummary) error {
	return m.Called(ctx, summary).Error(0)
}

func (m *mockStore) ListRuns(ctx context.Context, limit int) ([]model.RunSummary, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.RunSummary), args.Error(1)
}

func (m *mockStore) Ping(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockStore) Migrate(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockStore) Close() error {
	return m.Called().Error(0)
}
