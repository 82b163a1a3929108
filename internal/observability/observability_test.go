package observability

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitDisabledIsNoop(t *testing.T) {
	prov, err := Init(context.Background(), Config{Enabled: false})
	require.NoError(t, err)
	assert.Nil(t, prov)
}

func TestWrapTransportWithoutProviders(t *testing.T) {
	rt := http.DefaultTransport
	assert.Equal(t, rt, WrapTransport(rt, nil))
}

func TestRecordWithoutInitDoesNotPanic(t *testing.T) {
	ctx := context.Background()
	assert.NotPanics(t, func() {
		_, span := StartTransferSpan(ctx, TransferSpanInfo{URL: "https://example.com/a", Path: "a"})
		RecordTransfer(ctx, TransferMetrics{Outcome: "completed", Bytes: 10, Duration: time.Millisecond})
		RecordVisit(ctx, "fetched", 0)
		span.End()
	})
}

func TestInitExposesTransferMetrics(t *testing.T) {
	ctx := context.Background()
	prov, err := Init(ctx, Config{Enabled: true, Environment: "test", RunID: "run-1"})
	require.NoError(t, err)
	require.NotNil(t, prov)
	defer func() {
		_ = prov.Shutdown(context.Background())
	}()

	assert.Equal(t, "beefetch", prov.Config.ServiceName)

	RecordTransfer(ctx, TransferMetrics{Outcome: "completed", Bytes: 1000, Duration: 5 * time.Millisecond})
	RecordVisit(ctx, "fetched", 0)

	srv := httptest.NewServer(prov.MetricsHandler)
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), "beefetch_transfer_total")
	assert.Contains(t, string(body), "beefetch_traverse_visit_total")
}

func TestWrapTransportWithProviders(t *testing.T) {
	prov, err := Init(context.Background(), Config{Enabled: true})
	require.NoError(t, err)
	defer func() {
		_ = prov.Shutdown(context.Background())
	}()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	defer ts.Close()

	client := &http.Client{Transport: WrapTransport(http.DefaultTransport, prov)}
	resp, err := client.Get(ts.URL)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
