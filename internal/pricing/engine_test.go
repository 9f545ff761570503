package pricing

import (
	"math"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketsim/internal/crisis"
	"marketsim/internal/market"
	"marketsim/internal/news"
	"marketsim/internal/seededrand"
)

func newTestEngine() *Engine {
	return NewEngine(DefaultConfig(), market.DefaultKindTable(), crisis.NewMachine(crisis.DefaultConfig()))
}

func neutralInputs() Inputs {
	st := market.NewState(market.DefaultEvolverConfig())
	return Inputs{Market: &st, News: news.NewState()}
}

func TestFundamentalsFactor(t *testing.T) {
	macro := market.Macro{InterestRate: 3.5}

	plain := fundamentalsFactor(nil, macro)
	assert.Equal(t, 1.0, plain.volatility)
	assert.Equal(t, 1.0, plain.downturnPenalty)

	growth := fundamentalsFactor(&market.Fundamentals{PERatio: 90}, macro)
	assert.InDelta(t, 1.6, growth.volatility, 1e-12)

	megaCap := fundamentalsFactor(&market.Fundamentals{PERatio: 20, MarketCap: 2e14}, macro)
	assert.InDelta(t, 1.0*0.7, megaCap.volatility, 1e-12)

	levered := fundamentalsFactor(&market.Fundamentals{PERatio: 10, DebtRatio: 2.5}, macro)
	assert.InDelta(t, 0.9*1.3, levered.volatility, 1e-12)
	assert.Equal(t, 1.5, levered.downturnPenalty)

	income := fundamentalsFactor(&market.Fundamentals{PERatio: 10, DividendYield: 5.5}, macro)
	assert.InDelta(t, 0.9*0.85, income.volatility, 1e-12)
	assert.Equal(t, 0.0002, income.bonus)

	thin := fundamentalsFactor(&market.Fundamentals{PERatio: 10, DividendYield: 4}, macro)
	assert.Zero(t, thin.bonus)
}

func TestStep_TrackerFollowsUnderlying(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TrackingNoise = 0
	e := NewEngine(cfg, market.DefaultKindTable(), nil)

	base := &market.Instrument{ID: 1, Code: "IDX", Kind: market.KindETF, Price: 10000}
	base.OpenDay()
	lev := &market.Instrument{ID: 2, Code: "IDX2X", Kind: market.KindETF, Price: 10000,
		Linkage: &market.Linkage{BaseInstrumentID: 1, Multiplier: 2, Category: market.CategoryLeverage}}
	lev.OpenDay()
	inv := &market.Instrument{ID: 3, Code: "IDXI", Kind: market.KindETF, Price: 10000,
		Linkage: &market.Linkage{BaseInstrumentID: 1, Multiplier: 1, Category: market.CategoryInverse}}
	inv.OpenDay()

	in := neutralInputs()
	in.Market.Trend = 0.5
	rng := seededrand.New("tracker")

	instruments := []*market.Instrument{base, lev, inv}
	for i := 0; i < 50 && base.ChangeRate == 0; i++ {
		e.Step(instruments, in, rng)
	}
	require.NotZero(t, base.ChangeRate)

	// Derived changes are quantized, so compare against one tick of slack.
	tick := market.TickSize(lev.Price, lev.Kind) / lev.Price
	assert.InDelta(t, base.ChangeRate*2, lev.ChangeRate, tick+1e-9)
	assert.InDelta(t, -base.ChangeRate, inv.ChangeRate, tick+1e-9)
}

func TestStep_TrackerFreezesWhenUnderlyingHalted(t *testing.T) {
	e := newTestEngine()
	base := &market.Instrument{ID: 1, Kind: market.KindETF, Price: 10000, Halted: true}
	base.OpenDay()
	lev := &market.Instrument{ID: 2, Kind: market.KindETF, Price: 12000,
		Linkage: &market.Linkage{BaseInstrumentID: 1, Multiplier: 2, Category: market.CategoryLeverage}}
	lev.OpenDay()
	orphan := &market.Instrument{ID: 3, Kind: market.KindETF, Price: 8000,
		Linkage: &market.Linkage{BaseInstrumentID: 99, Multiplier: 2, Category: market.CategoryLeverage}}
	orphan.OpenDay()

	rng := seededrand.New("halted")
	moves := e.Step([]*market.Instrument{base, lev, orphan}, neutralInputs(), rng)

	assert.Empty(t, moves)
	assert.Equal(t, 10000.0, base.Price)
	assert.Equal(t, 12000.0, lev.Price)
	assert.Equal(t, 8000.0, orphan.Price)
	assert.Equal(t, uint64(0), rng.Calls())
}

func TestApply_RejectsBeyondDailyBound(t *testing.T) {
	e := newTestEngine()
	inst := &market.Instrument{ID: 1, Kind: market.KindBond, Price: 10000}
	inst.OpenDay()

	mv := e.apply(inst, 0.2, seededrand.New("bound"))

	assert.True(t, mv.Rejected)
	assert.Equal(t, 10000.0, inst.Price)
}

func TestApply_ForcesOneTick(t *testing.T) {
	cfg := DefaultConfig()
	e := NewEngine(cfg, market.KindTable{
		market.KindStock: {BaseVolatility: 0.004, MaxDailyMove: 0.3, MomentumFactor: 0.3, MinPrice: 100, ForceTickProbability: 1},
	}, nil)
	inst := &market.Instrument{ID: 1, Kind: market.KindStock, Price: 72000}
	inst.OpenDay()

	mv := e.apply(inst, 0.0001, seededrand.New("force"))
	assert.True(t, mv.Forced)
	assert.Equal(t, 72100.0, inst.Price)

	mv = e.apply(inst, -0.0001, seededrand.New("force"))
	assert.True(t, mv.Forced)
	assert.Equal(t, 72000.0, inst.Price)
}

func TestApply_Floor(t *testing.T) {
	e := newTestEngine()
	inst := &market.Instrument{ID: 1, Kind: market.KindStock, Price: 120}
	inst.OpenDay()
	e.apply(inst, -0.25, seededrand.New("floor"))
	assert.Equal(t, 100.0, inst.Price)
}

func TestMomentum_Clamped(t *testing.T) {
	e := newTestEngine()
	inst := &market.Instrument{ID: 1, Kind: market.KindBond, Price: 10000, Momentum: 1.9}
	inst.OpenDay()
	e.apply(inst, 0.04, seededrand.New("momentum"))
	assert.LessOrEqual(t, inst.Momentum, MomentumLimit)
}

// runCatalog steps the default catalog and calls check, when non-nil,
// after every tick.
func runCatalog(seed string, ticks int, stress bool, check func(instruments []*market.Instrument)) []*market.Instrument {
	kinds := market.DefaultKindTable()
	cm := crisis.NewMachine(crisis.DefaultConfig())
	e := NewEngine(DefaultConfig(), kinds, cm)
	instruments := market.DefaultCatalog()
	rng := seededrand.New(seed)

	st := market.NewState(market.DefaultEvolverConfig())
	if stress {
		st.Volatility = market.VolatilityMax
		st.Trend = market.TrendMin
	}
	ns := news.NewState()
	ns.Global = &news.GlobalEvent{Impact: -0.004, Intensity: 1}
	var active *crisis.Event
	if stress {
		active = &crisis.Event{StartTick: 0, ActualDuration: ticks + 1, BaseImpact: [2]float64{-0.2, -0.4},
			SectorMult: 2, AffectedSectors: []market.Sector{market.SectorTech}}
		active.Phase, active.CurrentImpact = crisis.PhaseAt(active, 0)
	}

	for tick := 1; tick <= ticks; tick++ {
		if tick%100 == 0 {
			e.OpenDay(instruments)
		}
		e.Step(instruments, Inputs{Market: &st, News: ns, Crisis: active}, rng)
		if check != nil {
			check(instruments)
		}
	}
	return instruments
}

func TestStep_Deterministic(t *testing.T) {
	a := runCatalog("pricing-determinism", 1500, false, nil)
	b := runCatalog("pricing-determinism", 1500, false, nil)
	assert.Equal(t, a, b)
}

// Property: floor, daily bound and tick alignment hold after every tick.
func TestProperty_PriceInvariants(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 30
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)
	kinds := market.DefaultKindTable()

	properties.Property("prices stay floored, bounded and aligned", prop.ForAll(
		func(seed string, ticks int, stress bool) bool {
			held := true
			runCatalog(seed, ticks, stress, func(instruments []*market.Instrument) {
				for _, inst := range instruments {
					kc := kinds.For(inst.Kind)
					if inst.Price < kc.MinPrice ||
						math.Abs(inst.Price-inst.DailyOpen)/inst.DailyOpen > kc.MaxDailyMove ||
						!market.IsTickAligned(inst.Price, inst.Kind) {
						held = false
					}
				}
			})
			return held
		},
		gen.AlphaString(),
		gen.IntRange(1, 400),
		gen.Bool(),
	))

	properties.TestingRun(t)
}
