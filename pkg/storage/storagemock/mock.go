package storagemock

import (
	"context"
	"time"

	"github.com/raterudder/wattwindow/pkg/storage"
	"github.com/raterudder/wattwindow/pkg/types"
	"github.com/stretchr/testify/mock"
)

type MockDatabase struct {
	mock.Mock
}

var _ storage.Database = (*MockDatabase)(nil)

func (m *MockDatabase) UpsertPrices(ctx context.Context, prices []types.PriceObservation) error {
	args := m.Called(ctx, prices)
	return args.Error(0)
}

func (m *MockDatabase) GetPrices(ctx context.Context, q storage.PriceQuery) ([]types.PriceObservation, error) {
	args := m.Called(ctx, q)
	var prices []types.PriceObservation
	if v := args.Get(0); v != nil {
		prices = v.([]types.PriceObservation)
	}
	return prices, args.Error(1)
}

func (m *MockDatabase) ReplaceWindows(ctx context.Context, zone string, staleBefore, dayStart, dayEnd time.Time, windows []types.PriceWindow) error {
	args := m.Called(ctx, zone, staleBefore, dayStart, dayEnd, windows)
	return args.Error(0)
}

func (m *MockDatabase) GetWindows(ctx context.Context, zone string, start, end time.Time) ([]types.PriceWindow, error) {
	args := m.Called(ctx, zone, start, end)
	var windows []types.PriceWindow
	if v := args.Get(0); v != nil {
		windows = v.([]types.PriceWindow)
	}
	return windows, args.Error(1)
}

func (m *MockDatabase) Close() error {
	args := m.Called()
	return args.Error(0)
}
