package ingest

import (
	"fmt"
	"time"

	"go.uber.org/zap/zapcore"
)

type State string

const (
	StateFetchingSets  State = "FetchingSets"
	StateProcessingSet State = "ProcessingSet"
	StateDone          State = "Done"
	StateAborted       State = "Aborted"
	StateCanceled      State = "Canceled"
)

const maxSummaryErrors = 50

// Summary is the outcome of one run. Failure counters are kept apart from
// ProductsSkipped so "nothing new" is distinguishable from "broken".
type Summary struct {
	RunID      string    `json:"runId"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
	State      State     `json:"state"`
	Policy     string    `json:"policy"`

	SetsFetched   int `json:"setsFetched"`
	SetsProcessed int `json:"setsProcessed"`
	SetsFailed    int `json:"setsFailed"`

	ProductsListed    int `json:"productsListed"`
	ProductsFetched   int `json:"productsFetched"`
	ProductsUpserted  int `json:"productsUpserted"`
	ProductsSkipped   int `json:"productsSkipped"`
	ProductsFailed    int `json:"productsFailed"`
	ProductsMalformed int `json:"productsMalformed"`
	PagesFailed       int `json:"pagesFailed"`

	QuotaUsed    int `json:"quotaUsed"`
	QuotaCeiling int `json:"quotaCeiling"`

	Errors        []string `json:"errors,omitempty"`
	ErrorsDropped int      `json:"errorsDropped,omitempty"`
}

func (s *Summary) addError(format string, args ...any) {
	if len(s.Errors) >= maxSummaryErrors {
		s.ErrorsDropped++
		return
	}
	s.Errors = append(s.Errors, fmt.Sprintf(format, args...))
}

func (s Summary) Duration() time.Duration {
	if s.FinishedAt.IsZero() {
		return 0
	}
	return s.FinishedAt.Sub(s.StartedAt)
}

// MarshalLogObject lets the summary be logged with zap.Object.
func (s Summary) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("run_id", s.RunID)
	enc.AddString("state", string(s.State))
	enc.AddString("policy", s.Policy)
	enc.AddDuration("duration", s.Duration())
	enc.AddInt("sets_fetched", s.SetsFetched)
	enc.AddInt("sets_processed", s.SetsProcessed)
	enc.AddInt("sets_failed", s.SetsFailed)
	enc.AddInt("products_listed", s.ProductsListed)
	enc.AddInt("products_fetched", s.ProductsFetched)
	enc.AddInt("products_upserted", s.ProductsUpserted)
	enc.AddInt("products_skipped", s.ProductsSkipped)
	enc.AddInt("products_failed", s.ProductsFailed)
	enc.AddInt("products_malformed", s.ProductsMalformed)
	enc.AddInt("pages_failed", s.PagesFailed)
	enc.AddInt("quota_used", s.QuotaUsed)
	enc.AddInt("quota_ceiling", s.QuotaCeiling)
	enc.AddInt("errors", len(s.Errors)+s.ErrorsDropped)
	return nil
}
