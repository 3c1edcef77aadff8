package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"cardprices/internal/config"
	"cardprices/internal/ingest"
	"cardprices/internal/ratelimit"
	"cardprices/internal/testutil"

	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func fakeVendor(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/sets", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") != "1" {
			w.Write([]byte(`{"data":[]}`))
			return
		}
		w.Write([]byte(`{"data":[{"id":"base1","name":"Base","series":"Base","total":102,"updatedAt":"2026/10/01 10:00:00"}]}`))
	})
	mux.HandleFunc("/prices", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("id") == "base1-4" {
			w.Write([]byte(`{"data":[{"id":"base1-4","name":"Charizard","number":"4","set":{"id":"base1"},
				"tcgplayer":{"prices":{"holofoil":{"low":250,"market":412.37},"1stEditionHolofoil":{"market":1200}}}}]}`))
			return
		}
		if q.Get("page") != "1" {
			w.Write([]byte(`{"data":[]}`))
			return
		}
		w.Write([]byte(`{"data":[{"id":"base1-4","name":"Charizard"},{"id":"base1-x"}]}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(t *testing.T, baseURL string, ceiling int) *config.Config {
	return &config.Config{
		API: config.APIConfig{
			BaseURL:      baseURL,
			MaxAttempts:  1,
			RetryBackoff: time.Millisecond,
			PageSize:     50,
		},
		Queue:  config.QueueConfig{Interval: time.Millisecond, Ceiling: ceiling},
		Ingest: config.IngestConfig{StaleAfter: 24 * time.Hour, Policy: "tcgOnly"},
		Store:  config.StoreConfig{Backend: config.BackendPebble, PebbleDir: t.TempDir()},
		HTTP:   config.HTTPConfig{InternalSecret: "s3cret", TriggerEvery: time.Millisecond},
	}
}

func newTestApp(t *testing.T, cfg *config.Config) *app {
	t.Helper()
	a, err := newApp(context.Background(), cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(a.Close)
	return a
}

func TestApp_RunOnce(t *testing.T) {
	srv := fakeVendor(t)
	a := newTestApp(t, testConfig(t, srv.URL, 100))
	ctx := context.Background()

	sum, err := a.runOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, ingest.StateDone, sum.State)
	assert.Equal(t, 1, sum.SetsProcessed)
	assert.Equal(t, 1, sum.ProductsUpserted)
	assert.Equal(t, 1, sum.ProductsMalformed)
	assert.Equal(t, 5, sum.QuotaUsed)

	p, err := a.store.FindByKey(ctx, "base1-4")
	require.NoError(t, err)
	assert.Equal(t, "base1", p.SetID)
	assert.Equal(t, "1200", p.HighestMarketPrice.Decimal.String())

	// The product is fresh now, so the second run skips its detail call.
	sum, err = a.runOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.ProductsSkipped)
	assert.Zero(t, sum.ProductsFetched)
	assert.Equal(t, 4, sum.QuotaUsed, "each run gets its own quota")

	assert.Equal(t, 2.0, promtestutil.ToFloat64(a.metrics.Runs.WithLabelValues("Done")))
}

func TestApp_RunOnceQuotaAbort(t *testing.T) {
	srv := fakeVendor(t)
	a := newTestApp(t, testConfig(t, srv.URL, 3))

	sum, err := a.runOnce(context.Background())
	require.ErrorIs(t, err, ratelimit.ErrQuotaExceeded)
	assert.Equal(t, ingest.StateAborted, sum.State)
	assert.Equal(t, exitAborted, exitCode(sum, err))
}

func TestApp_Routes(t *testing.T) {
	srv := fakeVendor(t)
	a := newTestApp(t, testConfig(t, srv.URL, 100))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := a.routes(ctx)

	t.Run("health", func(t *testing.T) {
		for _, path := range []string{"/healthz", "/readyz"} {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
			assert.Equal(t, http.StatusOK, rec.Code, path)
		}
	})

	t.Run("trigger requires the internal secret", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, testutil.NewInternalRequest(http.MethodPost, "/internal/jobs/ingest", nil, "wrong"))

		res := testutil.RecordHTTPResponse(rec)
		testutil.AssertResponseCode(t, res.Code, http.StatusUnauthorized)
		assert.Equal(t, "UNAUTHORIZED", res.ErrorCode())
		assert.NotEmpty(t, res.Header.Get("X-Request-Id"))
	})

	t.Run("trigger runs ingestion", func(t *testing.T) {
		req := testutil.NewInternalRequest(http.MethodPost, "/internal/jobs/ingest", nil, "s3cret")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var body struct {
			Data ingest.Summary `json:"data"`
		}
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
		assert.Equal(t, ingest.StateDone, body.Data.State)
		assert.Equal(t, 1, body.Data.ProductsUpserted)
	})

	t.Run("metrics", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "cardprices_ingest_runs_total")
	})
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, exitOK, exitCode(ingest.Summary{State: ingest.StateDone}, nil))
	assert.Equal(t, exitAborted, exitCode(ingest.Summary{State: ingest.StateAborted}, ratelimit.ErrQuotaExceeded))
	assert.Equal(t, exitFailed, exitCode(ingest.Summary{State: ingest.StateCanceled}, context.Canceled))
	assert.Equal(t, exitFailed, exitCode(ingest.Summary{}, errors.New("boom")))
}

func TestRedactDSN(t *testing.T) {
	assert.Equal(t, "postgres://***@db:5432/cardprices", redactDSN("postgres://user:pw@db:5432/cardprices"))
	assert.Equal(t, "host=db", redactDSN("host=db"))
}
