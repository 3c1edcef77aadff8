package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/cockroachdb/pebble"
)

const (
	productPrefix = "product/"
	setPrefix     = "set/"
	sourcePrefix  = "source/product/"
)

// PebbleStore keeps the catalog in an embedded Pebble database. It is meant
// for local runs and single-process deployments.
type PebbleStore struct {
	db *pebble.DB
	// mu serializes read-modify-write for PriceOnly updates.
	mu sync.Mutex
}

func NewPebbleStore(dir string) (*PebbleStore, error) {
	d, err := pebble.Open(filepath.Clean(dir), &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("pebble open: %w", err)
	}
	return &PebbleStore{db: d}, nil
}

func (s *PebbleStore) Close() error { return s.db.Close() }

// Ping reads a key that usually does not exist to exercise the read path.
func (s *PebbleStore) Ping(ctx context.Context) error {
	_, closer, err := s.db.Get([]byte(setPrefix))
	if err == nil {
		_ = closer.Close()
		return nil
	}
	if errors.Is(err, pebble.ErrNotFound) {
		return nil
	}
	return err
}

func (s *PebbleStore) FindByKey(ctx context.Context, id string) (Product, error) {
	v, closer, err := s.db.Get([]byte(productPrefix + id))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return Product{}, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return Product{}, err
	}
	defer closer.Close()

	var p Product
	if err := json.Unmarshal(v, &p); err != nil {
		return Product{}, fmt.Errorf("decode product %s: %w", id, err)
	}
	return p, nil
}

func (s *PebbleStore) Upsert(ctx context.Context, w Write) error {
	switch w := w.(type) {
	case FullReplace:
		return s.replaceProduct(w)
	case PriceOnly:
		return s.updatePrices(ctx, w)
	default:
		return fmt.Errorf("unsupported write %T", w)
	}
}

func (s *PebbleStore) replaceProduct(w FullReplace) error {
	val, err := json.Marshal(w.Product)
	if err != nil {
		return fmt.Errorf("encode product: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Product and raw payload commit together.
	b := s.db.NewBatch()
	defer b.Close()
	if err := b.Set([]byte(productPrefix+w.Product.ID), val, nil); err != nil {
		return err
	}
	// A replace without raw clears the previous payload.
	if len(w.Raw) > 0 {
		if err := b.Set([]byte(sourcePrefix+w.Product.ID), w.Raw, nil); err != nil {
			return err
		}
	} else if err := b.Delete([]byte(sourcePrefix+w.Product.ID), nil); err != nil {
		return err
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("commit product %s: %w", w.Product.ID, err)
	}
	return nil
}

func (s *PebbleStore) updatePrices(ctx context.Context, w PriceOnly) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.FindByKey(ctx, w.ID)
	if err != nil {
		return err
	}
	p.Prices = w.Prices
	p.HighestMarketPrice = w.HighestMarketPrice
	p.LastUpdated = w.LastUpdated

	val, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode product: %w", err)
	}
	return s.db.Set([]byte(productPrefix+w.ID), val, pebble.Sync)
}

func (s *PebbleStore) UpsertSet(ctx context.Context, set Set) error {
	val, err := json.Marshal(set)
	if err != nil {
		return fmt.Errorf("encode set: %w", err)
	}
	return s.db.Set([]byte(setPrefix+set.ID), val, pebble.Sync)
}
