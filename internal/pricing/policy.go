// Package pricing reduces the vendor price blocks of a product to a single
// "highest market price".
package pricing

import (
	"fmt"
	"strings"
)

type Vendor string

const (
	VendorTCGPlayer  Vendor = "tcgplayer"
	VendorCardmarket Vendor = "cardmarket"
	VendorEbay       Vendor = "ebay"
)

const (
	FieldMarket           = "market"
	FieldAverage          = "average"
	FieldAverageSellPrice = "averageSellPrice"
)

const gradedSuffix = "+graded"

// Source names one price field that counts toward the rollup. SubKey is the
// printing for TCGPlayer and the grade for eBay; Cardmarket has none.
type Source struct {
	Vendor Vendor
	SubKey string
	Field  string
}

func (s Source) String() string {
	if s.SubKey == "" {
		return fmt.Sprintf("%s.%s", s.Vendor, s.Field)
	}
	return fmt.Sprintf("%s.%s.%s", s.Vendor, s.SubKey, s.Field)
}

// Policy is a named allow-list of price sources.
type Policy struct {
	name    string
	sources []Source
}

// TCGPlayerPrintings are the TCGPlayer sub-keys read by the built-in policies.
var TCGPlayerPrintings = []string{
	"normal",
	"holofoil",
	"reverseHolofoil",
	"1stEdition",
	"1stEditionNormal",
	"1stEditionHolofoil",
	"unlimited",
	"unlimitedHolofoil",
}

var (
	// TCGOnly considers TCGPlayer market prices only. It is the default.
	TCGOnly = NewPolicy("tcgOnly", tcgMarketSources()...)

	// AllVendors adds the Cardmarket average sell price and the eBay
	// ungraded market price to TCGOnly.
	AllVendors = NewPolicy("allVendors", append(tcgMarketSources(),
		Source{Vendor: VendorCardmarket, Field: FieldAverageSellPrice},
		Source{Vendor: VendorEbay, SubKey: "ungraded", Field: FieldMarket},
	)...)
)

func tcgMarketSources() []Source {
	out := make([]Source, 0, len(TCGPlayerPrintings))
	for _, k := range TCGPlayerPrintings {
		out = append(out, Source{Vendor: VendorTCGPlayer, SubKey: k, Field: FieldMarket})
	}
	return out
}

func NewPolicy(name string, sources ...Source) Policy {
	return Policy{name: name, sources: append([]Source(nil), sources...)}
}

func (p Policy) Name() string { return p.name }

func (p Policy) Sources() []Source { return append([]Source(nil), p.sources...) }

// WithGradedAverages returns a copy of p that also reads the eBay PSA 10
// average. The result is named after p with a "+graded" suffix.
func (p Policy) WithGradedAverages() Policy {
	if strings.HasSuffix(p.name, gradedSuffix) {
		return p
	}
	return NewPolicy(p.name+gradedSuffix, append(p.Sources(),
		Source{Vendor: VendorEbay, SubKey: "psa10", Field: FieldAverage},
	)...)
}

// PolicyByName resolves a configured policy name. An empty name selects
// TCGOnly.
func PolicyByName(name string) (Policy, error) {
	base, graded := strings.CutSuffix(strings.TrimSpace(name), gradedSuffix)

	var p Policy
	switch base {
	case "", TCGOnly.name:
		p = TCGOnly
	case AllVendors.name:
		p = AllVendors
	default:
		return Policy{}, fmt.Errorf("unknown price policy %q", name)
	}
	if graded {
		p = p.WithGradedAverages()
	}
	return p, nil
}
