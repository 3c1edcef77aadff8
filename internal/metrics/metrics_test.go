package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"cardprices/internal/ingest"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleSummary() ingest.Summary {
	start := time.Date(2026, 10, 18, 3, 0, 0, 0, time.UTC)
	return ingest.Summary{
		State:             ingest.StateDone,
		StartedAt:         start,
		FinishedAt:        start.Add(90 * time.Second),
		SetsProcessed:     2,
		ProductsUpserted:  5,
		ProductsSkipped:   7,
		ProductsFailed:    1,
		ProductsMalformed: 1,
		QuotaUsed:         12,
		QuotaCeiling:      180,
	}
}

func TestRegistry_ObserveRun(t *testing.T) {
	r := NewRegistry()
	r.ObserveRun(sampleSummary())
	r.ObserveRun(sampleSummary())

	assert.Equal(t, 2.0, testutil.ToFloat64(r.Runs.WithLabelValues("Done")))
	assert.Equal(t, 10.0, testutil.ToFloat64(r.Products.WithLabelValues("upserted")))
	assert.Equal(t, 14.0, testutil.ToFloat64(r.Products.WithLabelValues("skipped")))
	assert.Equal(t, 4.0, testutil.ToFloat64(r.SetsProcessed))
	assert.Equal(t, 12.0, testutil.ToFloat64(r.QuotaUsed))
	assert.Equal(t, 180.0, testutil.ToFloat64(r.QuotaCeiling))
	assert.Equal(t, float64(sampleSummary().FinishedAt.Unix()), testutil.ToFloat64(r.LastRunUnixTime))
}

func TestRegistry_Handler(t *testing.T) {
	r := NewRegistry()
	r.ObserveRun(sampleSummary())

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `cardprices_ingest_runs_total{state="Done"} 1`)
}

func TestRegistry_Push(t *testing.T) {
	var gotPath, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		gotPath = req.URL.Path
		b, _ := io.ReadAll(req.Body)
		gotBody = string(b)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	r := NewRegistry()
	r.ObserveRun(sampleSummary())
	require.NoError(t, r.Push(context.Background(), srv.URL, "cardprices_ingest"))

	assert.True(t, strings.HasPrefix(gotPath, "/metrics/job/cardprices_ingest"), gotPath)
	assert.NotEmpty(t, gotBody)
}
