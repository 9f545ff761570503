// Package crisis implements the crisis state machine: rare, long-lived,
// high-magnitude events whose impact follows an onset, peak, recovery curve.
package crisis

import (
	"marketsim/internal/market"
	"marketsim/internal/seededrand"
)

// Phase is a segment of the crisis impact curve.
type Phase string

const (
	PhaseOnset    Phase = "onset"
	PhasePeak     Phase = "peak"
	PhaseRecovery Phase = "recovery"
)

// Phase boundaries as a fraction of the crisis duration.
const (
	OnsetEnd = 0.3
	PeakEnd  = 0.6

	// Recovery decays linearly from the peak to this share of it.
	RecoveryFloor = 0.2
)

// Type describes one kind of crisis.
type Type struct {
	Name             string
	Headline         string
	Probability      float64
	MinDuration      int
	MaxDuration      int
	BaseImpact       [2]float64
	SectorMultiplier float64
	AffectedSectors  []market.Sector
	BenefitSectors   []market.Sector
	AffectedKinds    []market.Kind
}

// Types is the evaluation order. It is part of the replay contract: each tick
// the types are tried in this order and the first successful draw wins.
var Types = []Type{
	{
		Name: "financial_crisis", Headline: "Credit markets freeze",
		Probability: 0.0002, MinDuration: 300, MaxDuration: 600,
		BaseImpact: [2]float64{-0.05, -0.15}, SectorMultiplier: 1.5,
		AffectedSectors: []market.Sector{market.SectorFinance, market.SectorAuto},
	},
	{
		Name: "pandemic", Headline: "Pandemic lockdowns spread",
		Probability: 0.0001, MinDuration: 400, MaxDuration: 800,
		BaseImpact: [2]float64{-0.04, -0.12}, SectorMultiplier: 1.6,
		AffectedSectors: []market.Sector{market.SectorConsumer, market.SectorEntertainment, market.SectorAuto},
		BenefitSectors:  []market.Sector{market.SectorBio},
	},
	{
		Name: "energy_shock", Headline: "Oil supply shock",
		Probability: 0.00015, MinDuration: 200, MaxDuration: 400,
		BaseImpact: [2]float64{-0.03, -0.08}, SectorMultiplier: 1.4,
		AffectedSectors: []market.Sector{market.SectorAuto, market.SectorSteel, market.SectorConsumer},
		BenefitSectors:  []market.Sector{market.SectorEnergy},
	},
	{
		Name: "tech_bubble_burst", Headline: "Tech bubble bursts",
		Probability: 0.00015, MinDuration: 250, MaxDuration: 500,
		BaseImpact: [2]float64{-0.04, -0.10}, SectorMultiplier: 1.8,
		AffectedSectors: []market.Sector{market.SectorTech},
	},
	{
		Name: "crypto_crash", Headline: "Crypto exchange collapses",
		Probability: 0.0002, MinDuration: 150, MaxDuration: 300,
		BaseImpact: [2]float64{-0.08, -0.25}, SectorMultiplier: 2.0,
		AffectedKinds: []market.Kind{market.KindCrypto},
	},
}

// Event is the active crisis.
type Event struct {
	Type            string          `json:"type"`
	Headline        string          `json:"headline"`
	Severity        float64         `json:"severity"`
	Phase           Phase           `json:"phase"`
	StartTick       int             `json:"startTick"`
	ActualDuration  int             `json:"actualDuration"`
	BaseImpact      [2]float64      `json:"baseImpact"`
	CurrentImpact   float64         `json:"currentImpact"`
	SectorMult      float64         `json:"sectorMultiplier"`
	AffectedSectors []market.Sector `json:"affectedSectors,omitempty"`
	BenefitSectors  []market.Sector `json:"benefitSectors,omitempty"`
	AffectedKinds   []market.Kind   `json:"affectedKinds,omitempty"`
}

// Clone returns a deep copy.
func (e *Event) Clone() *Event {
	if e == nil {
		return nil
	}
	c := *e
	c.AffectedSectors = append([]market.Sector(nil), e.AffectedSectors...)
	c.BenefitSectors = append([]market.Sector(nil), e.BenefitSectors...)
	c.AffectedKinds = append([]market.Kind(nil), e.AffectedKinds...)
	return &c
}

// EndTick is the first tick at which the crisis is over.
func (e *Event) EndTick() int {
	return e.StartTick + e.ActualDuration
}

// Config tunes the state machine.
type Config struct {
	Enabled             bool    `mapstructure:"enabled"`
	AmplifyAbove        float64 `mapstructure:"amplify_above"`
	AmplifyFactor       float64 `mapstructure:"amplify_factor"`
	ProbabilityScale    float64 `mapstructure:"probability_scale"`
	InstrumentJitterMin float64 `mapstructure:"instrument_jitter_min"`
	InstrumentJitterMax float64 `mapstructure:"instrument_jitter_max"`
}

// DefaultConfig returns the built-in tuning.
func DefaultConfig() Config {
	return Config{
		Enabled:             true,
		AmplifyAbove:        1.5,
		AmplifyFactor:       2,
		ProbabilityScale:    1,
		InstrumentJitterMin: 0.5,
		InstrumentJitterMax: 1.5,
	}
}

// Transition reports what happened to the crisis slot this tick.
type Transition struct {
	Started *Event
	Ended   *Event
	Phase   Phase
	Changed bool
}

// Machine owns no state; the active crisis lives in the caller's context.
type Machine struct {
	cfg Config
}

// NewMachine creates a Machine.
func NewMachine(cfg Config) *Machine {
	return &Machine{cfg: cfg}
}

// Config returns the machine tuning.
func (m *Machine) Config() Config {
	return m.cfg
}

// Update advances the crisis slot to tick. An active crisis is recomputed or
// cleared; a cleared slot stays empty until the next tick. Only an empty
// slot draws random numbers.
func (m *Machine) Update(active **Event, tick int, volatility float64, rng *seededrand.Generator) Transition {
	var tr Transition

	if e := *active; e != nil {
		if tick >= e.EndTick() {
			*active = nil
			tr.Ended = e
			return tr
		}
		prev := e.Phase
		e.Phase, e.CurrentImpact = PhaseAt(e, tick)
		tr.Phase = e.Phase
		tr.Changed = prev != e.Phase
		return tr
	}

	if !m.cfg.Enabled {
		return tr
	}

	amp := 1.0
	if volatility > m.cfg.AmplifyAbove {
		amp = m.cfg.AmplifyFactor
	}

	for _, t := range Types {
		if !rng.Bool(t.Probability * amp * m.cfg.ProbabilityScale) {
			continue
		}
		e := m.start(t, tick, rng)
		*active = e
		tr.Started = e
		tr.Phase = e.Phase
		tr.Changed = true
		break
	}
	return tr
}

func (m *Machine) start(t Type, tick int, rng *seededrand.Generator) *Event {
	severity := 0.7 + 0.6*rng.Float()
	e := &Event{
		Type:            t.Name,
		Headline:        t.Headline,
		Severity:        severity,
		StartTick:       tick,
		ActualDuration:  rng.Range(t.MinDuration, t.MaxDuration),
		BaseImpact:      [2]float64{t.BaseImpact[0] * severity, t.BaseImpact[1] * severity},
		SectorMult:      t.SectorMultiplier,
		AffectedSectors: append([]market.Sector(nil), t.AffectedSectors...),
		BenefitSectors:  append([]market.Sector(nil), t.BenefitSectors...),
		AffectedKinds:   append([]market.Kind(nil), t.AffectedKinds...),
	}
	e.Phase, e.CurrentImpact = PhaseAt(e, tick)
	return e
}

// PhaseAt is the pure phase function of elapsed/duration.
func PhaseAt(e *Event, tick int) (Phase, float64) {
	progress := float64(tick-e.StartTick) / float64(e.ActualDuration)
	start, peak := e.BaseImpact[0], e.BaseImpact[1]

	switch {
	case progress < OnsetEnd:
		return PhaseOnset, start + (peak-start)*(progress/OnsetEnd)
	case progress < PeakEnd:
		return PhasePeak, peak
	default:
		r := (progress - PeakEnd) / (1 - PeakEnd)
		return PhaseRecovery, peak + (peak*RecoveryFloor-peak)*r
	}
}

// ImpactOn returns the crisis contribution to inst for this tick, drawing one
// jitter value. Callers invoke it only while a crisis is active.
func (m *Machine) ImpactOn(e *Event, inst *market.Instrument, rng *seededrand.Generator) float64 {
	base := e.CurrentImpact / float64(e.ActualDuration)
	base *= scopeMultiplier(e, inst)
	return base * rng.FloatRange(m.cfg.InstrumentJitterMin, m.cfg.InstrumentJitterMax)
}

func scopeMultiplier(e *Event, inst *market.Instrument) float64 {
	if len(e.AffectedKinds) > 0 {
		for _, k := range e.AffectedKinds {
			if k == inst.Kind {
				return e.SectorMult
			}
		}
		return 0.5
	}
	for _, s := range e.AffectedSectors {
		if s == inst.Sector {
			return e.SectorMult
		}
	}
	for _, s := range e.BenefitSectors {
		if s == inst.Sector {
			// Hedge sectors move against the crisis.
			return -0.5
		}
	}
	return 0.5
}
