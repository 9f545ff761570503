package market

import "math"

// KindConfig is the static per-kind tuning consumed by pricing and execution.
type KindConfig struct {
	BaseVolatility       float64 `mapstructure:"base_volatility" json:"baseVolatility"`
	MaxDailyMove         float64 `mapstructure:"max_daily_move" json:"maxDailyMove"`
	TypicalMove          float64 `mapstructure:"typical_move" json:"typicalMove"`
	MomentumFactor       float64 `mapstructure:"momentum_factor" json:"momentumFactor"`
	MinPrice             float64 `mapstructure:"min_price" json:"minPrice"`
	ForceTickProbability float64 `mapstructure:"force_tick_probability" json:"forceTickProbability"`
}

// KindTable maps every kind to its configuration.
type KindTable map[Kind]KindConfig

// DefaultKindTable returns the built-in configuration.
func DefaultKindTable() KindTable {
	return KindTable{
		KindStock: {
			BaseVolatility: 0.004, MaxDailyMove: 0.30, TypicalMove: 0.02,
			MomentumFactor: 0.3, MinPrice: 100, ForceTickProbability: 0.45,
		},
		KindETF: {
			BaseVolatility: 0.003, MaxDailyMove: 0.30, TypicalMove: 0.015,
			MomentumFactor: 0.25, MinPrice: 100, ForceTickProbability: 0.45,
		},
		KindCrypto: {
			BaseVolatility: 0.008, MaxDailyMove: 0.50, TypicalMove: 0.05,
			MomentumFactor: 0.5, MinPrice: 1, ForceTickProbability: 0.60,
		},
		KindBond: {
			BaseVolatility: 0.0008, MaxDailyMove: 0.05, TypicalMove: 0.003,
			MomentumFactor: 0.1, MinPrice: 1000, ForceTickProbability: 0.25,
		},
		KindCommodity: {
			BaseVolatility: 0.005, MaxDailyMove: 0.15, TypicalMove: 0.025,
			MomentumFactor: 0.3, MinPrice: 10, ForceTickProbability: 0.45,
		},
	}
}

// For returns the configuration for k, falling back to the stock row.
func (t KindTable) For(k Kind) KindConfig {
	if c, ok := t[k]; ok {
		return c
	}
	return t[KindStock]
}

// MinPrice returns the floor for k.
func (t KindTable) MinPrice(k Kind) float64 {
	return t.For(k).MinPrice
}

// SlippageRate is twice the base volatility, clamped to [0.05%, 1%].
func (t KindTable) SlippageRate(k Kind) float64 {
	return math.Max(0.0005, math.Min(0.01, t.For(k).BaseVolatility*2))
}

type tickBand struct {
	below float64
	size  float64
}

// Tick sizes by price band. Each size divides the next one and every band
// boundary is a multiple of the larger size, so a tick-aligned price stays
// aligned when it crosses a boundary.
var tickBands = map[Kind][]tickBand{
	KindStock: {
		{2000, 1}, {5000, 5}, {20000, 10}, {50000, 50},
		{200000, 100}, {500000, 500}, {math.Inf(1), 1000},
	},
	KindETF: {
		{2000, 1}, {math.Inf(1), 5},
	},
	KindCrypto: {
		{1000, 1}, {10000, 5}, {100000, 10}, {1000000, 100}, {math.Inf(1), 1000},
	},
	KindBond: {
		{math.Inf(1), 1},
	},
	KindCommodity: {
		{10000, 5}, {math.Inf(1), 10},
	},
}

// TickSize returns the minimum price increment at price for kind k.
func TickSize(price float64, k Kind) float64 {
	bands, ok := tickBands[k]
	if !ok {
		bands = tickBands[KindStock]
	}
	for _, b := range bands {
		if price < b.below {
			return b.size
		}
	}
	return bands[len(bands)-1].size
}

// RoundToTick quantizes price to the nearest tick at its band.
func RoundToTick(price float64, k Kind) float64 {
	tick := TickSize(price, k)
	return math.Round(price/tick) * tick
}

// IsTickAligned reports whether price is an exact multiple of its tick size.
func IsTickAligned(price float64, k Kind) bool {
	return math.Mod(price, TickSize(price, k)) == 0
}
