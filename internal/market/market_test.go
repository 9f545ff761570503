package market

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketsim/internal/seededrand"
)

func TestTickSize_Bands(t *testing.T) {
	tests := []struct {
		price float64
		kind  Kind
		want  float64
	}{
		{1500, KindStock, 1},
		{2000, KindStock, 5},
		{18500, KindStock, 10},
		{72000, KindStock, 100},
		{380000, KindStock, 500},
		{600000, KindStock, 1000},
		{1500, KindETF, 1},
		{35000, KindETF, 5},
		{85000000, KindCrypto, 1000},
		{500, KindCrypto, 1},
		{10000, KindBond, 1},
		{9000, KindCommodity, 5},
		{95000, KindCommodity, 10},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, TickSize(tt.price, tt.kind), "%s @ %v", tt.kind, tt.price)
	}
}

func TestDefaultCatalog_Valid(t *testing.T) {
	table := DefaultKindTable()
	seen := map[int]bool{}
	for _, inst := range DefaultCatalog() {
		require.False(t, seen[inst.ID], "duplicate id %d", inst.ID)
		seen[inst.ID] = true
		assert.True(t, IsTickAligned(inst.Price, inst.Kind), inst.Code)
		assert.GreaterOrEqual(t, inst.Price, table.MinPrice(inst.Kind), inst.Code)
		assert.Equal(t, inst.Price, inst.DailyOpen)
		if inst.IsDerived() {
			assert.True(t, seen[inst.Linkage.BaseInstrumentID], "%s base must precede it", inst.Code)
		}
	}
}

func TestEffectiveMultiplier(t *testing.T) {
	plain := &Instrument{}
	lev := &Instrument{Linkage: &Linkage{Multiplier: 2, Category: CategoryLeverage}}
	inv := &Instrument{Linkage: &Linkage{Multiplier: 1, Category: CategoryInverse}}
	assert.Equal(t, 1.0, plain.EffectiveMultiplier())
	assert.Equal(t, 2.0, lev.EffectiveMultiplier())
	assert.Equal(t, -1.0, inv.EffectiveMultiplier())
}

func TestSlippageRate_Clamped(t *testing.T) {
	table := DefaultKindTable()
	assert.InDelta(t, 0.008, table.SlippageRate(KindStock), 1e-12)
	assert.InDelta(t, 0.01, table.SlippageRate(KindCrypto), 1e-12)
	assert.InDelta(t, 0.0016, table.SlippageRate(KindBond), 1e-12)
}

func TestEvolve_Deterministic(t *testing.T) {
	cfg := DefaultEvolverConfig()
	ev := NewEvolver(cfg)
	a, b := NewState(cfg), NewState(cfg)
	ra, rb := seededrand.New("evolve"), seededrand.New("evolve")

	for i := 0; i < 2000; i++ {
		ev.Evolve(&a, ra, 0)
		ev.Evolve(&b, rb, 0)
	}
	assert.Equal(t, a, b)
	assert.Equal(t, ra.Calls(), rb.Calls())
}

func TestEvolve_SectorDrawsFollowSectorsOrder(t *testing.T) {
	cfg := DefaultEvolverConfig()
	ev := NewEvolver(cfg)
	a := NewState(cfg)
	b := NewState(cfg)
	b.SectorTrends = nil
	ra, rb := seededrand.New("sectors"), seededrand.New("sectors")

	for i := 0; i < 200; i++ {
		ev.Evolve(&a, ra, 0)
		ev.Evolve(&b, rb, 0)
	}
	require.Len(t, b.SectorTrends, len(Sectors))
	for _, sector := range Sectors {
		assert.Equal(t, a.SectorTrends[sector], b.SectorTrends[sector], sector)
	}
}

// Property: every state component stays inside its bounds.
func TestProperty_EvolveStaysBounded(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 30
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("trend, volatility, sectors and macro are clamped", prop.ForAll(
		func(seed string, intensity float64) bool {
			cfg := DefaultEvolverConfig()
			cfg.MacroChangeProbability = 0.2
			ev := NewEvolver(cfg)
			s := NewState(cfg)
			rng := seededrand.New(seed)

			for i := 0; i < 1000; i++ {
				ev.Evolve(&s, rng, intensity)
				if s.Trend < TrendMin || s.Trend > TrendMax {
					return false
				}
				if s.Volatility < VolatilityMin || s.Volatility > VolatilityMax {
					return false
				}
				for _, v := range s.SectorTrends {
					if v < TrendMin || v > TrendMax {
						return false
					}
				}
				if s.Macro.InterestRate < cfg.InterestRate.Min || s.Macro.InterestRate > cfg.InterestRate.Max {
					return false
				}
				if s.Macro.Inflation < cfg.Inflation.Min || s.Macro.Inflation > cfg.Inflation.Max {
					return false
				}
				if s.Macro.GDPGrowth < cfg.GDPGrowth.Min || s.Macro.GDPGrowth > cfg.GDPGrowth.Max {
					return false
				}
			}
			return true
		},
		gen.AlphaString(),
		gen.Float64Range(0, 1),
	))

	properties.TestingRun(t)
}
