// Package pricing implements the per-tick price model. It combines the market
// state, news effects, the active crisis and instrument fundamentals into a
// bounded, tick-quantized price update.
package pricing

import (
	"math"

	"marketsim/internal/crisis"
	"marketsim/internal/market"
	"marketsim/internal/news"
	"marketsim/internal/seededrand"
)

// Model weights.
const (
	TrendWeight       = 0.5
	SectorTrendWeight = 0.8
	MomentumDecay     = 0.7
	MomentumCarry     = 0.3
	MomentumLimit     = 2.0
)

// Config tunes the engine.
type Config struct {
	TrackingNoise float64 `mapstructure:"tracking_noise"`
	ForceTick     bool    `mapstructure:"force_tick"`
}

// DefaultConfig returns the built-in tuning.
func DefaultConfig() Config {
	return Config{
		TrackingNoise: 0.0004,
		ForceTick:     true,
	}
}

// Inputs are the read-only views the engine needs for one tick.
type Inputs struct {
	Market *market.State
	News   *news.State
	Crisis *crisis.Event
}

// Move describes one instrument's update.
type Move struct {
	InstrumentID int
	Code         string
	Old          float64
	New          float64
	Change       float64
	Forced       bool
	Rejected     bool
}

// Engine is the PriceSimulationEngine.
type Engine struct {
	cfg    Config
	kinds  market.KindTable
	crisis *crisis.Machine
}

// NewEngine creates an Engine.
func NewEngine(cfg Config, kinds market.KindTable, cm *crisis.Machine) *Engine {
	return &Engine{cfg: cfg, kinds: kinds, crisis: cm}
}

// Kinds returns the kind table in use.
func (e *Engine) Kinds() market.KindTable {
	return e.kinds
}

// Step updates every instrument once. Independent instruments go first in
// catalogue order, then derived trackers, so a tracker always sees its
// underlying's change for this tick.
func (e *Engine) Step(instruments []*market.Instrument, in Inputs, rng *seededrand.Generator) []Move {
	byID := make(map[int]*market.Instrument, len(instruments))
	for _, inst := range instruments {
		byID[inst.ID] = inst
	}

	moves := make([]Move, 0, len(instruments))
	for _, inst := range instruments {
		if inst.IsDerived() {
			continue
		}
		if inst.Halted {
			inst.ChangeRate = 0
			continue
		}
		change := e.rawChange(inst, in, rng) * inst.EffectiveMultiplier()
		moves = append(moves, e.apply(inst, change, rng))
	}

	for _, inst := range instruments {
		if !inst.IsDerived() {
			continue
		}
		base, ok := byID[inst.Linkage.BaseInstrumentID]
		if !ok || base.Halted || inst.Halted {
			inst.ChangeRate = 0
			continue
		}
		noise := (rng.Float() - 0.5) * e.cfg.TrackingNoise
		change := base.ChangeRate*inst.EffectiveMultiplier() + noise
		moves = append(moves, e.apply(inst, change, rng))
	}
	return moves
}

// OpenDay starts a new trading day for every instrument.
func (e *Engine) OpenDay(instruments []*market.Instrument) {
	for _, inst := range instruments {
		inst.OpenDay()
	}
}

// rawChange sums every driver of an independent instrument's fractional
// change. Draws: three walk values, then one crisis jitter when a crisis is
// active.
func (e *Engine) rawChange(inst *market.Instrument, in Inputs, rng *seededrand.Generator) float64 {
	kc := e.kinds.For(inst.Kind)
	base := kc.BaseVolatility
	fm := fundamentalsFactor(inst.Fundamentals, in.Market.Macro)

	walk := (rng.Float() + rng.Float() + rng.Float() - 1.5) / 1.5
	change := walk * base * in.Market.Volatility * fm.volatility

	trend := TrendWeight * in.Market.Trend * base
	if in.Market.Trend < 0 {
		trend *= fm.downturnPenalty
	}
	change += trend
	change += SectorTrendWeight * in.Market.SectorTrends[inst.Sector] * base
	change += inst.Momentum * kc.MomentumFactor * base
	change += fm.bonus

	if in.News != nil {
		change += news.ImpactOn(in.News, inst)
		change += news.GlobalImpactOn(in.News, inst)
	}
	if in.Crisis != nil && e.crisis != nil {
		change += e.crisis.ImpactOn(in.Crisis, inst, rng)
	}
	return change
}

// apply runs the bound, quantize, force-tick and floor pipeline and commits
// the result to inst. The force-tick gate is the only draw and happens only
// when quantization swallowed a nonzero change.
func (e *Engine) apply(inst *market.Instrument, change float64, rng *seededrand.Generator) Move {
	kc := e.kinds.For(inst.Kind)
	old := inst.Price
	mv := Move{InstrumentID: inst.ID, Code: inst.Code, Old: old}

	if !withinDailyBound(old*(1+change), inst.DailyOpen, kc.MaxDailyMove) {
		change = 0
		mv.Rejected = true
	}

	next := market.RoundToTick(old*(1+change), inst.Kind)
	if next == old && change != 0 && e.cfg.ForceTick && rng.Bool(kc.ForceTickProbability) {
		tick := market.TickSize(old, inst.Kind)
		if change > 0 {
			next = old + tick
		} else {
			next = old - tick
		}
		mv.Forced = true
	}

	next = math.Max(next, kc.MinPrice)
	if !withinDailyBound(next, inst.DailyOpen, kc.MaxDailyMove) {
		next = old
	}

	inst.Price = next
	if old > 0 {
		inst.ChangeRate = (next - old) / old
	} else {
		inst.ChangeRate = 0
	}
	inst.Momentum = clamp(MomentumDecay*inst.Momentum+MomentumCarry*(inst.ChangeRate/kc.BaseVolatility), -MomentumLimit, MomentumLimit)
	if next > inst.DailyHigh {
		inst.DailyHigh = next
	}
	if next < inst.DailyLow || inst.DailyLow == 0 {
		inst.DailyLow = next
	}

	mv.New = next
	mv.Change = inst.ChangeRate
	return mv
}

func withinDailyBound(price, open, maxMove float64) bool {
	if open <= 0 {
		return true
	}
	return math.Abs(price-open)/open <= maxMove
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
