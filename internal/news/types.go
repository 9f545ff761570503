// Package news generates and decays the scoped price-impact effects of
// ordinary news, rare global events and calendar-driven seasonal events.
package news

import "marketsim/internal/market"

// Scope is how wide a news effect reaches.
type Scope string

const (
	ScopeInstrument Scope = "instrument"
	ScopeSector     Scope = "sector"
	ScopeMarket     Scope = "market"
)

// Category is the kind of news item.
type Category string

const (
	CategoryPositive             Category = "positive"
	CategoryNegative             Category = "negative"
	CategoryMarket               Category = "market"
	CategoryFundamentalsPositive Category = "fundamentals_positive"
	CategoryFundamentalsNegative Category = "fundamentals_negative"
	CategorySeasonal             Category = "seasonal"
)

// Scope weights applied when an effect reaches an instrument.
const (
	WeightDirect = 1.0
	WeightSector = 0.7
	WeightMarket = 0.5
)

// Effect is one active news item. Impact is the current per-tick fractional
// price change it contributes at full weight.
type Effect struct {
	ID             int           `json:"id"`
	Category       Category      `json:"category"`
	Scope          Scope         `json:"scope"`
	InstrumentID   int           `json:"instrumentId,omitempty"`
	Sector         market.Sector `json:"sector,omitempty"`
	Headline       string        `json:"headline"`
	Impact         float64       `json:"impact"`
	InitialImpact  float64       `json:"initialImpact"`
	RemainingTicks int           `json:"remainingTicks"`
	CreatedTick    int           `json:"createdTick"`
}

// GlobalEvent is a rare market-wide shock. Only one runs at a time.
type GlobalEvent struct {
	Type            string          `json:"type"`
	Name            string          `json:"name"`
	Impact          float64         `json:"impact"`
	Intensity       float64         `json:"intensity"`
	AffectedSectors []market.Sector `json:"affectedSectors,omitempty"`
	StartTick       int             `json:"startTick"`
}

// Affects reports whether sector is directly hit by the event.
func (g *GlobalEvent) Affects(sector market.Sector) bool {
	for _, s := range g.AffectedSectors {
		if s == sector {
			return true
		}
	}
	return false
}

// State is the news subsystem's share of a simulation context.
type State struct {
	Effects []*Effect    `json:"effects"`
	Global  *GlobalEvent `json:"global,omitempty"`

	// Direction (+1/-1) of the most recent ordinary items, newest last.
	History []int `json:"history"`

	LastInstrumentID int           `json:"lastInstrumentId"`
	LastSector       market.Sector `json:"lastSector"`

	NextID int `json:"nextId"`
}

// NewState returns an empty news state.
func NewState() *State {
	return &State{NextID: 1}
}

// GlobalIntensity returns the active event's intensity, or 0.
func (s *State) GlobalIntensity() float64 {
	if s.Global == nil {
		return 0
	}
	return s.Global.Intensity
}

// Clone returns a deep copy.
func (s *State) Clone() *State {
	c := *s
	c.Effects = make([]*Effect, len(s.Effects))
	for i, e := range s.Effects {
		ec := *e
		c.Effects[i] = &ec
	}
	if s.Global != nil {
		g := *s.Global
		g.AffectedSectors = append([]market.Sector(nil), s.Global.AffectedSectors...)
		c.Global = &g
	}
	c.History = append([]int(nil), s.History...)
	return &c
}

// Update is what one tick of the news system produced.
type Update struct {
	News          []*Effect
	GlobalStarted *GlobalEvent
	GlobalEnded   *GlobalEvent
	Expired       int
}
