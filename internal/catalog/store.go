package catalog

import (
	"context"
	"errors"
)

//go:generate mockgen -source=store.go -destination=mock_store.go -package=catalog

var ErrNotFound = errors.New("catalog: product not found")

// Store is the product store the ingestion core writes to. Each Upsert is
// atomic per record; nothing is assumed across records.
type Store interface {
	FindByKey(ctx context.Context, id string) (Product, error)
	Upsert(ctx context.Context, w Write) error
	UpsertSet(ctx context.Context, s Set) error
	Ping(ctx context.Context) error
}
