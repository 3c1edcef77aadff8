package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"cardprices/internal/catalog"
)

var ErrMalformedRecord = errors.New("malformed record")

// StoreWriteError wraps a failed store write for one product.
type StoreWriteError struct {
	Key string
	Err error
}

func (e *StoreWriteError) Error() string {
	return fmt.Sprintf("store write %s: %v", e.Key, e.Err)
}

func (e *StoreWriteError) Unwrap() error { return e.Err }

type Mode int

const (
	ModeFull Mode = iota
	ModePriceOnly
)

func (m Mode) String() string {
	if m == ModePriceOnly {
		return "priceOnly"
	}
	return "full"
}

type Upserter struct {
	store catalog.Store
}

func NewUpserter(store catalog.Store) *Upserter {
	return &Upserter{store: store}
}

// Upsert writes p keyed by its ID. In ModeFull every mutable field is
// replaced; in ModePriceOnly only prices and LastUpdated are, and a product
// missing from the store is written in full instead.
func (u *Upserter) Upsert(ctx context.Context, p catalog.Product, raw json.RawMessage, mode Mode) error {
	if strings.TrimSpace(p.ID) == "" || strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("%w: id=%q name=%q", ErrMalformedRecord, p.ID, p.Name)
	}

	full := catalog.FullReplace{Product: p, Raw: raw}
	if mode != ModePriceOnly {
		return u.write(ctx, full)
	}

	err := u.write(ctx, catalog.PriceOnly{
		ID:                 p.ID,
		Prices:             p.Prices,
		HighestMarketPrice: p.HighestMarketPrice,
		LastUpdated:        p.LastUpdated,
	})
	if errors.Is(err, catalog.ErrNotFound) {
		return u.write(ctx, full)
	}
	return err
}

func (u *Upserter) write(ctx context.Context, w catalog.Write) error {
	if err := u.store.Upsert(ctx, w); err != nil {
		return &StoreWriteError{Key: w.Key(), Err: err}
	}
	return nil
}
