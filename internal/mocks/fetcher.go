package mocks

import (
	"context"
	"net/url"

	"github.com/Harvey-AU/beefetch/internal/fetch"
	"github.com/stretchr/testify/mock"
)

// MockFetcher is a mock implementation of the crawler's Fetcher
type MockFetcher struct {
	mock.Mock
}

// Fetch mocks the Fetch method
func (m *MockFetcher) Fetch(ctx context.Context, target *url.URL, localPath string) (*fetch.Result, error) {
	args := m.Called(ctx, target, localPath)

	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*fetch.Result), args.Error(1)
}

// MockObserver records progress events
type MockObserver struct {
	mock.Mock
}

// Observe mocks the Observe method
func (m *MockObserver) Observe(ev fetch.ProgressEvent) {
	m.Called(ev)
}
