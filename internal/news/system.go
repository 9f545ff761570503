package news

import (
	"fmt"
	"math"

	"marketsim/internal/market"
	"marketsim/internal/seededrand"
)

// Config tunes the news system.
type Config struct {
	BaseProbability        float64 `mapstructure:"base_probability"`
	GlobalEventProbability float64 `mapstructure:"global_event_probability"`
	SeasonalProbability    float64 `mapstructure:"seasonal_probability"`
	Decay                  float64 `mapstructure:"decay"`
	GlobalDecay            float64 `mapstructure:"global_decay"`
	Epsilon                float64 `mapstructure:"epsilon"`
	GlobalMinIntensity     float64 `mapstructure:"global_min_intensity"`
}

// DefaultConfig returns the built-in tuning.
func DefaultConfig() Config {
	return Config{
		BaseProbability:        0.03,
		GlobalEventProbability: 0.0005,
		SeasonalProbability:    0.002,
		Decay:                  0.95,
		GlobalDecay:            0.97,
		Epsilon:                1e-4,
		GlobalMinIntensity:     0.05,
	}
}

// Base category weights, in draw order.
var categoryOrder = []Category{
	CategoryPositive,
	CategoryNegative,
	CategoryMarket,
	CategoryFundamentalsPositive,
	CategoryFundamentalsNegative,
}

var baseWeights = map[Category]float64{
	CategoryPositive:             30,
	CategoryNegative:             30,
	CategoryMarket:               10,
	CategoryFundamentalsPositive: 15,
	CategoryFundamentalsNegative: 15,
}

func direction(c Category) int {
	switch c {
	case CategoryPositive, CategoryFundamentalsPositive:
		return 1
	case CategoryNegative, CategoryFundamentalsNegative:
		return -1
	default:
		return 0
	}
}

// System is the NewsAndEventSystem. It is stateless; all mutable state lives
// in the caller's *State.
type System struct {
	cfg Config
}

// NewSystem creates a System.
func NewSystem(cfg Config) *System {
	return &System{cfg: cfg}
}

// Update runs one tick: decay, ordinary news, global event, seasonal event.
func (s *System) Update(st *State, instruments []*market.Instrument, tick, day int, rng *seededrand.Generator) Update {
	var up Update

	up.Expired = s.decay(st)
	if ended := s.decayGlobal(st); ended != nil {
		up.GlobalEnded = ended
	}

	if rng.Bool(s.cfg.BaseProbability) {
		if e := s.generateNews(st, instruments, tick, rng); e != nil {
			st.Effects = append(st.Effects, e)
			up.News = append(up.News, e)
		}
	}

	if st.Global == nil && rng.Bool(s.cfg.GlobalEventProbability) {
		tpl, _ := seededrand.Pick(rng, globalTemplates)
		st.Global = &GlobalEvent{
			Type:            tpl.typ,
			Name:            tpl.name,
			Impact:          tpl.impact,
			Intensity:       1.0,
			AffectedSectors: append([]market.Sector(nil), tpl.affected...),
			StartTick:       tick,
		}
		up.GlobalStarted = st.Global
	}

	if rng.Bool(s.cfg.SeasonalProbability) {
		e := s.generateSeasonal(st, tick, day, rng)
		st.Effects = append(st.Effects, e)
		up.News = append(up.News, e)
	}

	return up
}

func (s *System) decay(st *State) int {
	kept := st.Effects[:0]
	expired := 0
	for _, e := range st.Effects {
		e.Impact *= s.cfg.Decay
		e.RemainingTicks--
		if e.RemainingTicks <= 0 || math.Abs(e.Impact) < s.cfg.Epsilon {
			expired++
			continue
		}
		kept = append(kept, e)
	}
	for i := len(kept); i < len(st.Effects); i++ {
		st.Effects[i] = nil
	}
	st.Effects = kept
	return expired
}

func (s *System) decayGlobal(st *State) *GlobalEvent {
	if st.Global == nil {
		return nil
	}
	st.Global.Intensity *= s.cfg.GlobalDecay
	if st.Global.Intensity < s.cfg.GlobalMinIntensity {
		ended := st.Global
		st.Global = nil
		return ended
	}
	return nil
}

// categoryWeights applies the momentum bias: a short same-direction run is
// encouraged, a run of three or more flips the weights toward reversal.
func categoryWeights(history []int) map[Category]float64 {
	w := make(map[Category]float64, len(baseWeights))
	for k, v := range baseWeights {
		w[k] = v
	}

	if len(history) == 0 {
		return w
	}
	last := history[len(history)-1]
	streak := 0
	for i := len(history) - 1; i >= 0 && history[i] == last; i-- {
		streak++
	}

	var same, opposite float64
	switch {
	case streak >= 3:
		same, opposite = 0.5, 1.5
	case streak == 2:
		same, opposite = 1.6, 1
	default:
		same, opposite = 1.3, 1
	}

	for _, c := range categoryOrder {
		switch direction(c) {
		case last:
			w[c] *= same
		case -last:
			w[c] *= opposite
		}
	}
	return w
}

func pickCategory(history []int, rng *seededrand.Generator) Category {
	w := categoryWeights(history)
	total := 0.0
	for _, c := range categoryOrder {
		total += w[c]
	}
	r := rng.Float() * total
	for _, c := range categoryOrder {
		r -= w[c]
		if r < 0 {
			return c
		}
	}
	return categoryOrder[len(categoryOrder)-1]
}

func (s *System) generateNews(st *State, instruments []*market.Instrument, tick int, rng *seededrand.Generator) *Effect {
	cat := pickCategory(st.History, rng)

	e := &Effect{
		ID:          st.NextID,
		Category:    cat,
		CreatedTick: tick,
	}

	dir := direction(cat)
	switch cat {
	case CategoryMarket:
		dir = 1
		if rng.Bool(0.5) {
			dir = -1
		}
		e.Scope = ScopeMarket
		e.Impact = float64(dir) * rng.FloatRange(0.0008, 0.0025)
		e.RemainingTicks = rng.Range(20, 60)
		if dir > 0 {
			e.Headline = "Foreign investors pour into the market"
		} else {
			e.Headline = "Market-wide sell-off as risk appetite fades"
		}

	case CategoryPositive, CategoryNegative:
		sectorWide := rng.Bool(0.3)
		target := selectTarget(st, instruments, rng)
		if target == nil {
			return nil
		}
		e.Impact = float64(dir) * rng.FloatRange(0.001, 0.004)
		e.RemainingTicks = rng.Range(15, 45)
		if sectorWide {
			e.Scope = ScopeSector
			e.Sector = target.Sector
			e.Headline = fmt.Sprintf(sectorHeadlineFormats[cat], target.Sector)
		} else {
			e.Scope = ScopeInstrument
			e.InstrumentID = target.ID
			e.Sector = target.Sector
			e.Headline = fmt.Sprintf(headlineFormats[cat], target.Code)
		}
		st.LastInstrumentID = target.ID
		st.LastSector = target.Sector

	case CategoryFundamentalsPositive, CategoryFundamentalsNegative:
		target := selectTarget(st, instruments, rng)
		if target == nil {
			return nil
		}
		e.Scope = ScopeInstrument
		e.InstrumentID = target.ID
		e.Sector = target.Sector
		e.Impact = float64(dir) * rng.FloatRange(0.0005, 0.002)
		e.RemainingTicks = rng.Range(40, 100)
		e.Headline = fmt.Sprintf(headlineFormats[cat], target.Code)
		if target.Fundamentals != nil {
			// Better earnings cheapen the multiple, a miss inflates it.
			if dir > 0 {
				target.Fundamentals.PERatio *= 0.95
			} else {
				target.Fundamentals.PERatio *= 1.05
			}
		}
		st.LastInstrumentID = target.ID
		st.LastSector = target.Sector
	}

	e.InitialImpact = e.Impact
	st.NextID++
	st.History = append(st.History, dir)
	if len(st.History) > 3 {
		st.History = st.History[len(st.History)-3:]
	}
	return e
}

// selectTarget keeps the story going: 40% same sector as the last item, 20%
// the same instrument, otherwise uniform. Derived trackers are never targets.
func selectTarget(st *State, instruments []*market.Instrument, rng *seededrand.Generator) *market.Instrument {
	candidates := make([]*market.Instrument, 0, len(instruments))
	for _, inst := range instruments {
		if !inst.IsDerived() {
			candidates = append(candidates, inst)
		}
	}

	r := rng.Float()
	if st.LastInstrumentID != 0 {
		switch {
		case r < 0.4:
			var same []*market.Instrument
			for _, inst := range candidates {
				if inst.Sector == st.LastSector {
					same = append(same, inst)
				}
			}
			if pick, ok := seededrand.Pick(rng, same); ok {
				return pick
			}
		case r < 0.6:
			for _, inst := range candidates {
				if inst.ID == st.LastInstrumentID {
					return inst
				}
			}
		}
	}

	pick, ok := seededrand.Pick(rng, candidates)
	if !ok {
		return nil
	}
	return pick
}

func (s *System) generateSeasonal(st *State, tick, day int, rng *seededrand.Generator) *Effect {
	season := SeasonOf(day)
	tpl, _ := seededrand.Pick(rng, seasonalTemplates[season])
	e := &Effect{
		ID:             st.NextID,
		Category:       CategorySeasonal,
		Scope:          ScopeSector,
		Sector:         tpl.sector,
		Headline:       tpl.headline,
		Impact:         tpl.sign * rng.FloatRange(0.0005, 0.002),
		RemainingTicks: rng.Range(60, 150),
		CreatedTick:    tick,
	}
	e.InitialImpact = e.Impact
	st.NextID++
	return e
}

// ImpactOn sums the active news effects reaching inst, weighted by scope.
// The ETF multiplier is not applied here; pricing applies it once to the
// combined change.
func ImpactOn(st *State, inst *market.Instrument) float64 {
	total := 0.0
	for _, e := range st.Effects {
		switch e.Scope {
		case ScopeInstrument:
			if e.InstrumentID == inst.ID {
				total += e.Impact * WeightDirect
			}
		case ScopeSector:
			if e.Sector == inst.Sector {
				total += e.Impact * WeightSector
			}
		case ScopeMarket:
			total += e.Impact * WeightMarket
		}
	}
	return total
}

// GlobalImpactOn is the active global event's contribution to inst.
func GlobalImpactOn(st *State, inst *market.Instrument) float64 {
	g := st.Global
	if g == nil {
		return 0
	}
	w := WeightMarket
	if g.Affects(inst.Sector) {
		w = WeightDirect
	}
	return g.Impact * g.Intensity * w
}
