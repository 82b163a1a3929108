package mocks

import (
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/stretchr/testify/mock"
)

// MockDoer is a mock implementation of the fetch.Doer interface
type MockDoer struct {
	mock.Mock
}

// Do mocks the Do method of http.Client
func (m *MockDoer) Do(req *http.Request) (*http.Response, error) {
	args := m.Called(req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*http.Response), args.Error(1)
}

// MockRoundTripper is a mock implementation of http.RoundTripper interface
type MockRoundTripper struct {
	mock.Mock
}

// RoundTrip mocks the RoundTrip method of http.RoundTripper
func (m *MockRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	args := m.Called(req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*http.Response), args.Error(1)
}

// CreateMockResponse creates a mock HTTP response for testing
func CreateMockResponse(statusCode int, body string, headers map[string]string) *http.Response {
	resp := &http.Response{
		Status:        strconv.Itoa(statusCode) + " " + http.StatusText(statusCode),
		StatusCode:    statusCode,
		Header:        make(http.Header),
		Body:          io.NopCloser(strings.NewReader(body)),
		ContentLength: int64(len(body)),
	}

	for key, value := range headers {
		resp.Header.Set(key, value)
	}

	return resp
}

// FailingReader returns n bytes of data and then err
type FailingReader struct {
	Data []byte
	Err  error
	read bool
}

// Read implements io.Reader
func (r *FailingReader) Read(p []byte) (int, error) {
	if !r.read {
		r.read = true
		return copy(p, r.Data), nil
	}
	return 0, r.Err
}

// Close implements io.Closer
func (r *FailingReader) Close() error {
	return nil
}
