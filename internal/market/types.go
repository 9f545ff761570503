// Package market holds the instrument data model, the static per-kind
// configuration tables and the global market state with its evolver.
package market

import "fmt"

// Kind is the instrument class.
type Kind string

const (
	KindStock     Kind = "stock"
	KindETF       Kind = "etf"
	KindCrypto    Kind = "crypto"
	KindBond      Kind = "bond"
	KindCommodity Kind = "commodity"
)

// Kinds lists every kind in table order.
var Kinds = []Kind{KindStock, KindETF, KindCrypto, KindBond, KindCommodity}

// ParseKind validates a kind string.
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown instrument kind: %q", s)
}

// Sector is an industry grouping used for sector trends, news scope and
// crisis targeting.
type Sector string

const (
	SectorTech          Sector = "tech"
	SectorBio           Sector = "bio"
	SectorFinance       Sector = "finance"
	SectorEnergy        Sector = "energy"
	SectorSteel         Sector = "steel"
	SectorConsumer      Sector = "consumer"
	SectorAuto          Sector = "auto"
	SectorEntertainment Sector = "entertainment"
)

// Sectors lists every sector. Anything that draws random numbers per sector
// must walk this slice, never a map, so the draw order is stable.
var Sectors = []Sector{
	SectorTech,
	SectorBio,
	SectorFinance,
	SectorEnergy,
	SectorSteel,
	SectorConsumer,
	SectorAuto,
	SectorEntertainment,
}

// ETFCategory distinguishes leveraged from inverse trackers.
type ETFCategory string

const (
	CategoryLeverage ETFCategory = "leverage"
	CategoryInverse  ETFCategory = "inverse"
)

// Fundamentals are optional company metrics that shape volatility.
type Fundamentals struct {
	PERatio       float64 `json:"peRatio"`
	MarketCap     float64 `json:"marketCap"`
	DebtRatio     float64 `json:"debtRatio"`
	DividendYield float64 `json:"dividendYield"`
}

// Linkage ties an ETF to an underlying instrument. A zero BaseInstrumentID
// means the ETF is priced on its own but still carries a multiplier.
type Linkage struct {
	BaseInstrumentID int         `json:"baseInstrumentId,omitempty"`
	Multiplier       float64     `json:"multiplier"`
	Category         ETFCategory `json:"category"`
}

// Instrument is one tradable asset and its intraday state.
type Instrument struct {
	ID           int           `json:"id"`
	Code         string        `json:"code"`
	Name         string        `json:"name"`
	Kind         Kind          `json:"kind"`
	Sector       Sector        `json:"sector"`
	Price        float64       `json:"price"`
	BasePrice    float64       `json:"basePrice"`
	DailyOpen    float64       `json:"dailyOpen"`
	DailyHigh    float64       `json:"dailyHigh"`
	DailyLow     float64       `json:"dailyLow"`
	Momentum     float64       `json:"momentum"`
	ChangeRate   float64       `json:"changeRate"`
	Halted       bool          `json:"halted"`
	Fundamentals *Fundamentals `json:"fundamentals,omitempty"`
	Linkage      *Linkage      `json:"linkage,omitempty"`
}

// IsDerived reports whether the instrument tracks another one.
func (i *Instrument) IsDerived() bool {
	return i.Linkage != nil && i.Linkage.BaseInstrumentID != 0
}

// EffectiveMultiplier is the signed ETF multiplier, 1 for plain instruments.
func (i *Instrument) EffectiveMultiplier() float64 {
	if i.Linkage == nil {
		return 1
	}
	m := i.Linkage.Multiplier
	if m == 0 {
		m = 1
	}
	if i.Linkage.Category == CategoryInverse {
		return -m
	}
	return m
}

// OpenDay starts a new trading day at the current price.
func (i *Instrument) OpenDay() {
	i.DailyOpen = i.Price
	i.DailyHigh = i.Price
	i.DailyLow = i.Price
}

// Clone returns a deep copy.
func (i *Instrument) Clone() *Instrument {
	c := *i
	if i.Fundamentals != nil {
		f := *i.Fundamentals
		c.Fundamentals = &f
	}
	if i.Linkage != nil {
		l := *i.Linkage
		c.Linkage = &l
	}
	return &c
}

// CloneAll deep-copies a catalogue, preserving order.
func CloneAll(instruments []*Instrument) []*Instrument {
	out := make([]*Instrument, len(instruments))
	for idx, inst := range instruments {
		out[idx] = inst.Clone()
	}
	return out
}
