package catalog

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

type Set struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Series       string    `json:"series"`
	ReleaseDate  string    `json:"releaseDate"`
	Total        int       `json:"total"`
	PrintedTotal int       `json:"printedTotal"`
	SymbolURL    string    `json:"symbolUrl,omitempty"`
	LogoURL      string    `json:"logoUrl,omitempty"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

type Images struct {
	Small string `json:"small,omitempty"`
	Large string `json:"large,omitempty"`
}

// Product is a single card keyed by the vendor's card ID.
type Product struct {
	ID                 string              `json:"id"`
	Name               string              `json:"name"`
	Number             string              `json:"number,omitempty"`
	Rarity             string              `json:"rarity,omitempty"`
	Supertype          string              `json:"supertype,omitempty"`
	Images             Images              `json:"images"`
	SetID              string              `json:"setId,omitempty"`
	Prices             PriceBlocks         `json:"prices"`
	HighestMarketPrice decimal.NullDecimal `json:"highestMarketPrice"`
	LastUpdated        time.Time           `json:"lastUpdated"`
}

// PriceBlocks holds one optional block per vendor feed.
type PriceBlocks struct {
	TCGPlayer  *TCGPlayerBlock  `json:"tcgplayer,omitempty"`
	Cardmarket *CardmarketBlock `json:"cardmarket,omitempty"`
	Ebay       *EbayBlock       `json:"ebay,omitempty"`
}

// TCGPlayerBlock prices are keyed by printing: normal, holofoil, ...
type TCGPlayerBlock struct {
	URL       string                `json:"url,omitempty"`
	UpdatedAt string                `json:"updatedAt,omitempty"`
	Prices    map[string]PriceEntry `json:"prices,omitempty"`
}

type PriceEntry struct {
	Low       decimal.NullDecimal `json:"low"`
	Mid       decimal.NullDecimal `json:"mid"`
	High      decimal.NullDecimal `json:"high"`
	Market    decimal.NullDecimal `json:"market"`
	DirectLow decimal.NullDecimal `json:"directLow"`
}

type CardmarketBlock struct {
	URL       string           `json:"url,omitempty"`
	UpdatedAt string           `json:"updatedAt,omitempty"`
	Prices    CardmarketPrices `json:"prices"`
}

type CardmarketPrices struct {
	AverageSellPrice decimal.NullDecimal `json:"averageSellPrice"`
	LowPrice         decimal.NullDecimal `json:"lowPrice"`
	TrendPrice       decimal.NullDecimal `json:"trendPrice"`
	GermanProLow     decimal.NullDecimal `json:"germanProLow"`
	SuggestedPrice   decimal.NullDecimal `json:"suggestedPrice"`
	ReverseHoloSell  decimal.NullDecimal `json:"reverseHoloSell"`
	ReverseHoloLow   decimal.NullDecimal `json:"reverseHoloLow"`
	ReverseHoloTrend decimal.NullDecimal `json:"reverseHoloTrend"`
	LowPriceExPlus   decimal.NullDecimal `json:"lowPriceExPlus"`
	Avg1             decimal.NullDecimal `json:"avg1"`
	Avg7             decimal.NullDecimal `json:"avg7"`
	Avg30            decimal.NullDecimal `json:"avg30"`
	ReverseHoloAvg1  decimal.NullDecimal `json:"reverseHoloAvg1"`
	ReverseHoloAvg7  decimal.NullDecimal `json:"reverseHoloAvg7"`
	ReverseHoloAvg30 decimal.NullDecimal `json:"reverseHoloAvg30"`
}

// EbayBlock prices are keyed by grade: ungraded, psa9, psa10, ...
type EbayBlock struct {
	UpdatedAt string               `json:"updatedAt,omitempty"`
	Prices    map[string]EbayGrade `json:"prices,omitempty"`
}

type EbayGrade struct {
	Market  decimal.NullDecimal `json:"market"`
	Average decimal.NullDecimal `json:"average"`
	Low     decimal.NullDecimal `json:"low"`
	High    decimal.NullDecimal `json:"high"`
	Count   int                 `json:"count"`
}

// Write is a single atomic store mutation: FullReplace or PriceOnly.
type Write interface {
	Key() string
	isWrite()
}

// FullReplace overwrites every mutable field of the product. Fields left
// empty on Product are stored as empty/null, never merged from the old row.
type FullReplace struct {
	Product Product
	Raw     json.RawMessage
}

func (w FullReplace) Key() string { return w.Product.ID }
func (FullReplace) isWrite()      {}

// PriceOnly updates the price blocks, the derived price and LastUpdated of an
// existing product and leaves catalog fields alone.
type PriceOnly struct {
	ID                 string
	Prices             PriceBlocks
	HighestMarketPrice decimal.NullDecimal
	LastUpdated        time.Time
}

func (w PriceOnly) Key() string { return w.ID }
func (PriceOnly) isWrite()      {}
