package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const providerPriceAPI = "PRICE_API"

type PostgresRepo struct {
	db *pgxpool.Pool
}

func NewPostgresRepo(db *pgxpool.Pool) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) Ping(ctx context.Context) error {
	return r.db.Ping(ctx)
}

func (r *PostgresRepo) Upsert(ctx context.Context, w Write) error {
	switch w := w.(type) {
	case FullReplace:
		return r.replaceProduct(ctx, w)
	case PriceOnly:
		return r.updatePrices(ctx, w)
	default:
		return fmt.Errorf("unsupported write %T", w)
	}
}

func (r *PostgresRepo) replaceProduct(ctx context.Context, w FullReplace) error {
	p := w.Product
	tcg, cm, ebay, err := marshalBlocks(p.Prices)
	if err != nil {
		return err
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	const productSQL = `
		INSERT INTO catalog_products (id, name, number, rarity, supertype, image_small, image_large, set_id,
			tcgplayer, cardmarket, ebay, highest_market_price, last_updated)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			number = EXCLUDED.number,
			rarity = EXCLUDED.rarity,
			supertype = EXCLUDED.supertype,
			image_small = EXCLUDED.image_small,
			image_large = EXCLUDED.image_large,
			set_id = EXCLUDED.set_id,
			tcgplayer = EXCLUDED.tcgplayer,
			cardmarket = EXCLUDED.cardmarket,
			ebay = EXCLUDED.ebay,
			highest_market_price = EXCLUDED.highest_market_price,
			last_updated = EXCLUDED.last_updated`

	_, err = tx.Exec(ctx, productSQL,
		p.ID, p.Name, nullable(p.Number), nullable(p.Rarity), nullable(p.Supertype),
		nullable(p.Images.Small), nullable(p.Images.Large), nullable(p.SetID),
		tcg, cm, ebay, p.HighestMarketPrice, p.LastUpdated,
	)
	if err != nil {
		return fmt.Errorf("upsert product: %w", err)
	}

	if len(w.Raw) > 0 {
		const sourceSQL = `
			INSERT INTO catalog_sources (entity_type, entity_key, provider, raw_json, fetched_at)
			VALUES ('PRODUCT', $1, $2, $3, $4)
			ON CONFLICT (entity_type, entity_key, provider) DO UPDATE SET
				raw_json = EXCLUDED.raw_json,
				fetched_at = EXCLUDED.fetched_at`

		_, err = tx.Exec(ctx, sourceSQL, p.ID, providerPriceAPI, []byte(w.Raw), p.LastUpdated)
		if err != nil {
			return fmt.Errorf("upsert product source: %w", err)
		}
	} else {
		// A replace without raw clears the previous payload.
		const deleteSQL = `
			DELETE FROM catalog_sources
			WHERE entity_type = 'PRODUCT' AND entity_key = $1 AND provider = $2`

		if _, err = tx.Exec(ctx, deleteSQL, p.ID, providerPriceAPI); err != nil {
			return fmt.Errorf("delete product source: %w", err)
		}
	}

	return tx.Commit(ctx)
}

func (r *PostgresRepo) updatePrices(ctx context.Context, w PriceOnly) error {
	tcg, cm, ebay, err := marshalBlocks(w.Prices)
	if err != nil {
		return err
	}

	const sql = `
		UPDATE catalog_products SET
			tcgplayer = $2,
			cardmarket = $3,
			ebay = $4,
			highest_market_price = $5,
			last_updated = $6
		WHERE id = $1`

	tag, err := r.db.Exec(ctx, sql, w.ID, tcg, cm, ebay, w.HighestMarketPrice, w.LastUpdated)
	if err != nil {
		return fmt.Errorf("update product prices: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, w.ID)
	}
	return nil
}

func (r *PostgresRepo) UpsertSet(ctx context.Context, s Set) error {
	const sql = `
		INSERT INTO catalog_sets (id, name, series, release_date, total, printed_total, symbol_url, logo_url, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			series = EXCLUDED.series,
			release_date = EXCLUDED.release_date,
			total = EXCLUDED.total,
			printed_total = EXCLUDED.printed_total,
			symbol_url = EXCLUDED.symbol_url,
			logo_url = EXCLUDED.logo_url,
			updated_at = EXCLUDED.updated_at`

	_, err := r.db.Exec(ctx, sql, s.ID, s.Name, nullable(s.Series), nullable(s.ReleaseDate),
		s.Total, s.PrintedTotal, nullable(s.SymbolURL), nullable(s.LogoURL), s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert set: %w", err)
	}
	return nil
}

func (r *PostgresRepo) FindByKey(ctx context.Context, id string) (Product, error) {
	const query = `
		SELECT id, name, COALESCE(number, ''), COALESCE(rarity, ''), COALESCE(supertype, ''),
			COALESCE(image_small, ''), COALESCE(image_large, ''), COALESCE(set_id, ''),
			tcgplayer, cardmarket, ebay, highest_market_price, last_updated
		FROM catalog_products
		WHERE id = $1`

	var (
		p           Product
		tcg, cm, eb []byte
	)
	err := r.db.QueryRow(ctx, query, id).Scan(
		&p.ID, &p.Name, &p.Number, &p.Rarity, &p.Supertype,
		&p.Images.Small, &p.Images.Large, &p.SetID,
		&tcg, &cm, &eb, &p.HighestMarketPrice, &p.LastUpdated,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Product{}, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return Product{}, err
	}

	if err := unmarshalBlock(tcg, &p.Prices.TCGPlayer); err != nil {
		return Product{}, fmt.Errorf("decode tcgplayer prices: %w", err)
	}
	if err := unmarshalBlock(cm, &p.Prices.Cardmarket); err != nil {
		return Product{}, fmt.Errorf("decode cardmarket prices: %w", err)
	}
	if err := unmarshalBlock(eb, &p.Prices.Ebay); err != nil {
		return Product{}, fmt.Errorf("decode ebay prices: %w", err)
	}
	return p, nil
}

func marshalBlocks(b PriceBlocks) (tcg, cm, ebay []byte, err error) {
	if b.TCGPlayer != nil {
		if tcg, err = json.Marshal(b.TCGPlayer); err != nil {
			return nil, nil, nil, fmt.Errorf("encode tcgplayer prices: %w", err)
		}
	}
	if b.Cardmarket != nil {
		if cm, err = json.Marshal(b.Cardmarket); err != nil {
			return nil, nil, nil, fmt.Errorf("encode cardmarket prices: %w", err)
		}
	}
	if b.Ebay != nil {
		if ebay, err = json.Marshal(b.Ebay); err != nil {
			return nil, nil, nil, fmt.Errorf("encode ebay prices: %w", err)
		}
	}
	return tcg, cm, ebay, nil
}

func unmarshalBlock[T any](raw []byte, dst **T) error {
	if len(raw) == 0 {
		*dst = nil
		return nil
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return err
	}
	*dst = &v
	return nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
