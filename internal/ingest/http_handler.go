package ingest

import (
	"context"
	"errors"
	"net/http"

	"cardprices/internal/httpx"
	"cardprices/internal/ratelimit"
	"cardprices/internal/runlock"

	"go.uber.org/zap"
)

// LockName is the run lock shared by the HTTP trigger and one-shot runs.
const LockName = "ingest"

// RunFunc starts one ingestion pass. cmd/ingest builds a fresh queue and
// service per call so every run gets its own quota.
type RunFunc func(ctx context.Context) (Summary, error)

type HTTPHandler struct {
	run    RunFunc
	locker runlock.Locker
}

func NewHTTPHandler(run RunFunc, locker runlock.Locker) *HTTPHandler {
	return &HTTPHandler{run: run, locker: locker}
}

// Ingest handles POST /internal/jobs/ingest. The secret check lives in
// httpx.InternalSecretMiddleware.
func (h *HTTPHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		httpx.JSONError(w, r, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "use POST", nil)
		return
	}

	release, err := h.locker.TryLock(r.Context(), LockName)
	if errors.Is(err, runlock.ErrLocked) {
		httpx.JSONError(w, r, http.StatusConflict, "INGEST_RUNNING", "an ingestion run is already in progress", nil)
		return
	}
	if err != nil {
		httpx.LoggerFrom(r).Error("failed to acquire run lock", zap.Error(err))
		httpx.JSONError(w, r, http.StatusInternalServerError, "LOCK_FAILED", err.Error(), nil)
		return
	}
	defer release()

	sum, err := h.run(r.Context())
	switch {
	case err == nil:
		httpx.JSONSuccess(w, r, sum, nil)
	case errors.Is(err, ratelimit.ErrQuotaExceeded):
		httpx.JSONErrorWithData(w, r, http.StatusTooManyRequests, "QUOTA_EXCEEDED", err.Error(), sum)
	default:
		httpx.JSONErrorWithData(w, r, http.StatusServiceUnavailable, "INGEST_STOPPED", err.Error(), sum)
	}
}
