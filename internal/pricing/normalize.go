package pricing

import (
	"cardprices/internal/catalog"

	"github.com/shopspring/decimal"
)

// Normalize returns the highest strictly positive price among the sources
// allowed by p, or an invalid NullDecimal when there is none. Missing blocks
// and entries are ignored. The result is always one of the input values;
// among equal values the first source in policy order wins.
func Normalize(b catalog.PriceBlocks, p Policy) decimal.NullDecimal {
	var best decimal.NullDecimal
	for _, s := range p.sources {
		v := lookup(b, s)
		if !v.Valid || !v.Decimal.IsPositive() {
			continue
		}
		if !best.Valid || v.Decimal.GreaterThan(best.Decimal) {
			best = v
		}
	}
	return best
}

func lookup(b catalog.PriceBlocks, s Source) decimal.NullDecimal {
	switch s.Vendor {
	case VendorTCGPlayer:
		if b.TCGPlayer == nil {
			return decimal.NullDecimal{}
		}
		e, ok := b.TCGPlayer.Prices[s.SubKey]
		if !ok {
			return decimal.NullDecimal{}
		}
		return tcgField(e, s.Field)
	case VendorCardmarket:
		if b.Cardmarket == nil {
			return decimal.NullDecimal{}
		}
		return cardmarketField(b.Cardmarket.Prices, s.Field)
	case VendorEbay:
		if b.Ebay == nil {
			return decimal.NullDecimal{}
		}
		g, ok := b.Ebay.Prices[s.SubKey]
		if !ok {
			return decimal.NullDecimal{}
		}
		return ebayField(g, s.Field)
	}
	return decimal.NullDecimal{}
}

func tcgField(e catalog.PriceEntry, field string) decimal.NullDecimal {
	switch field {
	case FieldMarket:
		return e.Market
	case "low":
		return e.Low
	case "mid":
		return e.Mid
	case "high":
		return e.High
	case "directLow":
		return e.DirectLow
	}
	return decimal.NullDecimal{}
}

func cardmarketField(p catalog.CardmarketPrices, field string) decimal.NullDecimal {
	switch field {
	case FieldAverageSellPrice:
		return p.AverageSellPrice
	case "trendPrice":
		return p.TrendPrice
	case "avg1":
		return p.Avg1
	case "avg7":
		return p.Avg7
	case "avg30":
		return p.Avg30
	}
	return decimal.NullDecimal{}
}

func ebayField(g catalog.EbayGrade, field string) decimal.NullDecimal {
	switch field {
	case FieldMarket:
		return g.Market
	case FieldAverage:
		return g.Average
	case "low":
		return g.Low
	case "high":
		return g.High
	}
	return decimal.NullDecimal{}
}
