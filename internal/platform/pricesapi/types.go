package pricesapi

import (
	"encoding/json"
	"strings"
	"time"

	"cardprices/internal/catalog"
)

// vendorTimeLayout is how the API formats updatedAt on sets.
const vendorTimeLayout = "2006/01/02 15:04:05"

// Set matches an element of GET /sets.
type Set struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Series       string `json:"series"`
	PrintedTotal int    `json:"printedTotal"`
	Total        int    `json:"total"`
	ReleaseDate  string `json:"releaseDate"`
	UpdatedAt    string `json:"updatedAt"`
	Images       struct {
		Symbol string `json:"symbol"`
		Logo   string `json:"logo"`
	} `json:"images"`
}

// ToCatalog converts s, falling back to now when updatedAt is unreadable.
func (s Set) ToCatalog(now time.Time) catalog.Set {
	updated, err := time.Parse(vendorTimeLayout, s.UpdatedAt)
	if err != nil {
		updated = now
	}
	return catalog.Set{
		ID:           s.ID,
		Name:         s.Name,
		Series:       s.Series,
		ReleaseDate:  s.ReleaseDate,
		Total:        s.Total,
		PrintedTotal: s.PrintedTotal,
		SymbolURL:    s.Images.Symbol,
		LogoURL:      s.Images.Logo,
		UpdatedAt:    updated.UTC(),
	}
}

// Card matches an element of GET /prices. Raw keeps the payload as received.
type Card struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Number    string         `json:"number"`
	Rarity    string         `json:"rarity"`
	Supertype string         `json:"supertype"`
	Images    catalog.Images `json:"images"`
	SetID     string         `json:"setId"`
	Set       struct {
		ID string `json:"id"`
	} `json:"set"`
	TCGPlayer  *catalog.TCGPlayerBlock  `json:"tcgplayer"`
	Cardmarket *catalog.CardmarketBlock `json:"cardmarket"`
	Ebay       *catalog.EbayBlock       `json:"ebay"`

	Raw json.RawMessage `json:"-"`
}

// Valid reports whether the card carries its natural key and a name.
func (c Card) Valid() bool {
	return strings.TrimSpace(c.ID) != "" && strings.TrimSpace(c.Name) != ""
}

func (c Card) PriceBlocks() catalog.PriceBlocks {
	return catalog.PriceBlocks{TCGPlayer: c.TCGPlayer, Cardmarket: c.Cardmarket, Ebay: c.Ebay}
}

// ToProduct converts c with fetchedAt as LastUpdated. The highest market
// price is left for the caller to derive.
func (c Card) ToProduct(fetchedAt time.Time) catalog.Product {
	setID := c.SetID
	if setID == "" {
		setID = c.Set.ID
	}
	return catalog.Product{
		ID:          c.ID,
		Name:        c.Name,
		Number:      c.Number,
		Rarity:      c.Rarity,
		Supertype:   c.Supertype,
		Images:      c.Images,
		SetID:       setID,
		Prices:      c.PriceBlocks(),
		LastUpdated: fetchedAt,
	}
}
