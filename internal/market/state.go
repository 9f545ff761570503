package market

import (
	"math"

	"marketsim/internal/seededrand"
)

// Bounds for the global state.
const (
	TrendMin      = -0.5
	TrendMax      = 0.5
	VolatilityMin = 0.5
	VolatilityMax = 2.5
)

// Macro holds the macroeconomic indicators, all in percent.
type Macro struct {
	InterestRate float64 `json:"interestRate"`
	Inflation    float64 `json:"inflation"`
	GDPGrowth    float64 `json:"gdpGrowth"`
}

// State is the market-wide condition read by the pricing engine.
type State struct {
	Trend           float64            `json:"trend"`
	Volatility      float64            `json:"volatility"`
	SectorTrends    map[Sector]float64 `json:"sectorTrends"`
	Macro           Macro              `json:"macro"`
	MacroTrendBoost float64            `json:"macroTrendBoost"`
}

// IndicatorConfig bounds and steps one macro indicator.
type IndicatorConfig struct {
	Baseline float64 `mapstructure:"baseline"`
	Min      float64 `mapstructure:"min"`
	Max      float64 `mapstructure:"max"`
	Step     float64 `mapstructure:"step"`
}

// EvolverConfig tunes the MarketStateEvolver.
type EvolverConfig struct {
	MacroChangeProbability float64         `mapstructure:"macro_change_probability"`
	InterestRate           IndicatorConfig `mapstructure:"interest_rate"`
	Inflation              IndicatorConfig `mapstructure:"inflation"`
	GDPGrowth              IndicatorConfig `mapstructure:"gdp_growth"`
	HighInflation          float64         `mapstructure:"high_inflation"`
}

// DefaultEvolverConfig returns the built-in tuning.
func DefaultEvolverConfig() EvolverConfig {
	return EvolverConfig{
		MacroChangeProbability: 0.001,
		InterestRate:           IndicatorConfig{Baseline: 3.5, Min: 0.5, Max: 10, Step: 0.25},
		Inflation:              IndicatorConfig{Baseline: 2.5, Min: -1, Max: 10, Step: 0.3},
		GDPGrowth:              IndicatorConfig{Baseline: 2.0, Min: -5, Max: 8, Step: 0.3},
		HighInflation:          4.0,
	}
}

// NewState returns a neutral market at the configured macro baselines.
func NewState(cfg EvolverConfig) State {
	trends := make(map[Sector]float64, len(Sectors))
	for _, s := range Sectors {
		trends[s] = 0
	}
	return State{
		Trend:        0,
		Volatility:   1,
		SectorTrends: trends,
		Macro: Macro{
			InterestRate: cfg.InterestRate.Baseline,
			Inflation:    cfg.Inflation.Baseline,
			GDPGrowth:    cfg.GDPGrowth.Baseline,
		},
	}
}

// Clone returns a deep copy.
func (s State) Clone() State {
	c := s
	c.SectorTrends = make(map[Sector]float64, len(s.SectorTrends))
	for k, v := range s.SectorTrends {
		c.SectorTrends[k] = v
	}
	return c
}

type sensitivity struct {
	rate, inflation, gdp float64
}

// How each sector's trend responds to macro deviations from baseline.
var sectorSensitivity = map[Sector]sensitivity{
	SectorTech:          {rate: -1.0},
	SectorBio:           {rate: -0.8},
	SectorFinance:       {rate: 0.6},
	SectorEnergy:        {inflation: 0.8},
	SectorSteel:         {inflation: 0.6},
	SectorConsumer:      {gdp: 0.3},
	SectorAuto:          {gdp: 0.3},
	SectorEntertainment: {gdp: 0.3},
}

// Evolver advances State once per tick.
type Evolver struct {
	cfg EvolverConfig
}

// NewEvolver creates an Evolver.
func NewEvolver(cfg EvolverConfig) *Evolver {
	return &Evolver{cfg: cfg}
}

// Config returns the evolver tuning.
func (e *Evolver) Config() EvolverConfig {
	return e.cfg
}

// Evolve mutates s by one tick. eventIntensity is the intensity of the active
// global event, or 0 when none is running. Draw order: rate, inflation, gdp,
// trend, volatility, then sectors in Sectors order.
func (e *Evolver) Evolve(s *State, rng *seededrand.Generator, eventIntensity float64) {
	m := &s.Macro
	m.InterestRate = e.perturb(m.InterestRate, e.cfg.InterestRate, s.Volatility, rng)
	m.Inflation = e.perturb(m.Inflation, e.cfg.Inflation, s.Volatility, rng)
	m.GDPGrowth = e.perturb(m.GDPGrowth, e.cfg.GDPGrowth, s.Volatility, rng)

	dRate := m.InterestRate - e.cfg.InterestRate.Baseline
	dInfl := m.Inflation - e.cfg.Inflation.Baseline
	dGDP := m.GDPGrowth - e.cfg.GDPGrowth.Baseline

	// Rate cuts and GDP upside are bullish, inflation upside is bearish.
	s.MacroTrendBoost = -0.10*dRate + 0.08*dGDP - 0.06*dInfl

	s.Trend = clamp(0.98*s.Trend+(rng.Float()-0.5)*0.02+0.01*s.MacroTrendBoost, TrendMin, TrendMax)

	v := s.Volatility + (1-s.Volatility)*0.02 + (rng.Float()-0.5)*0.05
	if eventIntensity > 0 {
		v *= 1 + 0.02*eventIntensity
	}
	if m.Inflation > e.cfg.HighInflation {
		v += 0.005 * (m.Inflation - e.cfg.HighInflation)
	}
	s.Volatility = clamp(v, VolatilityMin, VolatilityMax)

	if s.SectorTrends == nil {
		s.SectorTrends = make(map[Sector]float64, len(Sectors))
	}
	for _, sector := range Sectors {
		sens := sectorSensitivity[sector]
		macro := sens.rate*dRate + sens.inflation*dInfl + sens.gdp*dGDP
		next := 0.95*s.SectorTrends[sector] + (rng.Float()-0.5)*0.03 + 0.01*macro
		s.SectorTrends[sector] = clamp(next, TrendMin, TrendMax)
	}
}

// perturb draws the change gate and, when it fires, one more value for the
// size of the move.
func (e *Evolver) perturb(value float64, ic IndicatorConfig, volatility float64, rng *seededrand.Generator) float64 {
	if !rng.Bool(e.cfg.MacroChangeProbability) {
		return value
	}
	delta := (rng.Float() - 0.5) * ic.Step * volatility
	return clamp(value+delta, ic.Min, ic.Max)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
