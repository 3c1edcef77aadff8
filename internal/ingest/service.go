package ingest

import (
	"context"
	"errors"
	"strings"
	"time"

	"cardprices/internal/catalog"
	"cardprices/internal/platform/pricesapi"
	"cardprices/internal/pricing"
	"cardprices/internal/ratelimit"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Config struct {
	StaleAfter time.Duration
	Policy     pricing.Policy
	// SetIDs restricts a run to the listed sets. Empty means all sets.
	SetIDs []string
	// PriceOnlyRefresh refreshes existing products with price-only writes.
	PriceOnlyRefresh bool
}

type PriceClient interface {
	AllSets(ctx context.Context) ([]pricesapi.Set, error)
	AllPrices(ctx context.Context, setID string) ([]pricesapi.Card, error)
	GetPrice(ctx context.Context, id string) (pricesapi.Card, error)
}

// Quota is the shared call counter, normally a *ratelimit.Queue.
type Quota interface {
	Used() int
	Ceiling() int
}

// Observer receives every finished run summary.
type Observer interface {
	ObserveRun(sum Summary)
}

type Service struct {
	client   PriceClient
	store    catalog.Store
	upserter *Upserter
	quota    Quota
	cfg      Config
	log      *zap.Logger
	observer Observer
	now      func() time.Time
}

type Option func(*Service)

func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

func WithObserver(o Observer) Option {
	return func(s *Service) { s.observer = o }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(client PriceClient, store catalog.Store, quota Quota, cfg Config, opts ...Option) *Service {
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = DefaultStaleAfter
	}
	if cfg.Policy.Name() == "" {
		cfg.Policy = pricing.TCGOnly
	}
	s := &Service{
		client:   client,
		store:    store,
		upserter: NewUpserter(store),
		quota:    quota,
		cfg:      cfg,
		log:      zap.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run performs one ingestion pass. The summary is always returned. The error
// is non-nil only when the run was aborted on quota or canceled; partial
// failures are reported through the summary counters.
func (s *Service) Run(ctx context.Context) (Summary, error) {
	sum := Summary{
		RunID:        uuid.NewString(),
		StartedAt:    s.now().UTC(),
		State:        StateFetchingSets,
		Policy:       s.cfg.Policy.Name(),
		QuotaCeiling: s.quota.Ceiling(),
	}
	usedBefore := s.quota.Used()
	log := s.log.With(zap.String("run_id", sum.RunID))
	log.Info("ingest run started",
		zap.String("policy", sum.Policy),
		zap.Duration("stale_after", s.cfg.StaleAfter),
		zap.Bool("price_only_refresh", s.cfg.PriceOnlyRefresh),
		zap.Strings("set_ids", s.cfg.SetIDs),
	)

	err := s.run(ctx, &sum, log)

	sum.FinishedAt = s.now().UTC()
	sum.QuotaUsed = s.quota.Used() - usedBefore
	switch {
	case err == nil:
		sum.State = StateDone
	case isFatal(err):
		sum.State = StateAborted
		sum.addError("aborted: %v", err)
	default:
		sum.State = StateCanceled
		sum.addError("canceled: %v", err)
	}

	if err != nil {
		log.Warn("ingest run stopped", zap.Object("summary", sum), zap.Error(err))
	} else {
		log.Info("ingest run finished", zap.Object("summary", sum))
	}
	if s.observer != nil {
		s.observer.ObserveRun(sum)
	}
	return sum, err
}

func (s *Service) run(ctx context.Context, sum *Summary, log *zap.Logger) error {
	sets, err := s.client.AllSets(ctx)
	if err != nil {
		if isFatal(err) {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		sum.PagesFailed++
		sum.addError("list sets: %v", err)
		log.Warn("listing sets failed, continuing with partial list", zap.Int("sets", len(sets)), zap.Error(err))
	}
	sets = s.filterSets(sets)
	sum.SetsFetched = len(sets)

	for i, set := range sets {
		if err := ctx.Err(); err != nil {
			log.Info("run canceled at set boundary", zap.Int("set_index", i))
			return err
		}
		sum.State = StateProcessingSet
		if err := s.processSet(ctx, sum, log.With(zap.String("set_id", set.ID)), set); err != nil {
			return err
		}
		sum.SetsProcessed++
	}
	return nil
}

func (s *Service) filterSets(sets []pricesapi.Set) []pricesapi.Set {
	if len(s.cfg.SetIDs) == 0 {
		return sets
	}
	want := make(map[string]bool, len(s.cfg.SetIDs))
	for _, id := range s.cfg.SetIDs {
		want[id] = true
	}
	out := sets[:0:0]
	for _, set := range sets {
		if want[set.ID] {
			out = append(out, set)
		}
	}
	return out
}

// processSet returns an error only when the run must stop.
func (s *Service) processSet(ctx context.Context, sum *Summary, log *zap.Logger, set pricesapi.Set) error {
	if strings.TrimSpace(set.ID) == "" {
		sum.SetsFailed++
		sum.addError("set without id: %q", set.Name)
		log.Warn("set without id dropped", zap.String("set_name", set.Name))
		return nil
	}

	if err := s.store.UpsertSet(ctx, set.ToCatalog(s.now().UTC())); err != nil {
		sum.SetsFailed++
		sum.addError("upsert set %s: %v", set.ID, err)
		log.Warn("failed to upsert set", zap.Error(err))
	}

	cards, err := s.client.AllPrices(ctx, set.ID)
	sum.ProductsListed += len(cards)
	if err != nil {
		if isFatal(err) {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		sum.PagesFailed++
		sum.addError("list prices %s: %v", set.ID, err)
		log.Warn("listing prices failed, continuing with partial list", zap.Int("products", len(cards)), zap.Error(err))
	}

	// Cancellation is checked at set boundaries and before each product. A
	// product that has started is finished even if ctx is canceled.
	for _, card := range cards {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.processCard(context.WithoutCancel(ctx), sum, log, card); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) processCard(ctx context.Context, sum *Summary, log *zap.Logger, card pricesapi.Card) error {
	if !card.Valid() {
		sum.ProductsMalformed++
		log.Warn("malformed record dropped", zap.String("product_id", card.ID))
		return nil
	}
	log = log.With(zap.String("product_id", card.ID))

	existing, err := s.store.FindByKey(ctx, card.ID)
	found := err == nil
	if err != nil && !errors.Is(err, catalog.ErrNotFound) {
		log.Warn("staleness lookup failed, fetching anyway", zap.Error(err))
	}
	if found && !IsStale(existing.LastUpdated, s.now(), s.cfg.StaleAfter) {
		sum.ProductsSkipped++
		return nil
	}

	detail, err := s.client.GetPrice(ctx, card.ID)
	if err != nil {
		if isFatal(err) {
			return err
		}
		sum.ProductsFailed++
		sum.addError("fetch %s: %v", card.ID, err)
		log.Warn("failed to fetch product detail", zap.Error(err))
		return nil
	}
	sum.ProductsFetched++

	p := detail.ToProduct(s.now().UTC())
	p.HighestMarketPrice = pricing.Normalize(p.Prices, s.cfg.Policy)

	mode := ModeFull
	if s.cfg.PriceOnlyRefresh && found {
		mode = ModePriceOnly
	}
	if err := s.upserter.Upsert(ctx, p, detail.Raw, mode); err != nil {
		if errors.Is(err, ErrMalformedRecord) {
			sum.ProductsMalformed++
			log.Warn("malformed detail record dropped", zap.Error(err))
			return nil
		}
		sum.ProductsFailed++
		sum.addError("upsert %s: %v", card.ID, err)
		log.Warn("failed to upsert product", zap.Stringer("mode", mode), zap.Error(err))
		return nil
	}
	sum.ProductsUpserted++
	return nil
}

func isFatal(err error) bool {
	return errors.Is(err, ratelimit.ErrQuotaExceeded) || errors.Is(err, ratelimit.ErrQueueClosed)
}
