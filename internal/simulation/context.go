// Package simulation owns the mutable state of one market session and
// advances it one tick at a time in a fixed phase order.
package simulation

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"marketsim/internal/config"
	"marketsim/internal/crisis"
	apperrors "marketsim/internal/errors"
	"marketsim/internal/execution"
	"marketsim/internal/fixedpoint"
	"marketsim/internal/market"
	"marketsim/internal/news"
	"marketsim/internal/pricing"
	"marketsim/internal/seededrand"
	"marketsim/internal/tradelog"
)

// Options configures a new Context.
type Options struct {
	SeasonID       string
	ClientVersion  string
	InitialCapital int64
	TicksPerDay    int
	StartedAt      time.Time

	// Catalog is copied; nil means market.DefaultCatalog().
	Catalog []*market.Instrument
	Kinds   market.KindTable

	Market    market.EvolverConfig
	News      news.Config
	Crisis    crisis.Config
	Pricing   pricing.Config
	Execution execution.Config
}

// DefaultOptions returns options with every subsystem at its built-in tuning.
func DefaultOptions(seasonID string) Options {
	return Options{
		SeasonID:       seasonID,
		InitialCapital: 10_000_000,
		TicksPerDay:    360,
		Kinds:          market.DefaultKindTable(),
		Market:         market.DefaultEvolverConfig(),
		News:           news.DefaultConfig(),
		Crisis:         crisis.DefaultConfig(),
		Pricing:        pricing.DefaultConfig(),
		Execution:      execution.DefaultConfig(),
	}
}

// OptionsFromConfig maps loaded configuration onto Options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		SeasonID:       cfg.Simulation.SeasonID,
		ClientVersion:  cfg.Simulation.ClientVersion,
		InitialCapital: cfg.Simulation.InitialCapital,
		TicksPerDay:    cfg.Simulation.TicksPerDay,
		Kinds:          cfg.KindTable(),
		Market:         cfg.Market,
		News:           cfg.News,
		Crisis:         cfg.Crisis,
		Pricing:        cfg.Pricing,
		Execution:      cfg.Execution,
	}
}

// Context is the single owner of a session's mutable state: market state,
// news effects, the active crisis, instrument prices, pending orders and the
// trade log. Independent contexts never share state, so many can run side
// by side.
type Context struct {
	SessionID string
	SeasonID  string

	RNG  *seededrand.Generator
	Tick int
	Day  int

	Instruments []*market.Instrument
	Market      market.State
	News        *news.State
	Crisis      *crisis.Event

	opts     Options
	evolver  *market.Evolver
	newsSys  *news.System
	machine  *crisis.Machine
	pricer   *pricing.Engine
	exec     *execution.Engine
	recorder *tradelog.Recorder
	byID     map[int]*market.Instrument

	trades int

	mu    sync.Mutex
	queue []tradelog.Entry
}

// New builds a Context seeded from opts.SeasonID. A session with an empty
// season id gets a fresh random one so it is still replayable.
func New(opts Options) *Context {
	if opts.SeasonID == "" {
		opts.SeasonID = uuid.NewString()
	}
	if opts.TicksPerDay <= 0 {
		opts.TicksPerDay = 360
	}
	if opts.Kinds == nil {
		opts.Kinds = market.DefaultKindTable()
	}
	if opts.StartedAt.IsZero() {
		opts.StartedAt = time.Now()
	}
	catalog := opts.Catalog
	if catalog == nil {
		catalog = market.DefaultCatalog()
	}
	instruments := market.CloneAll(catalog)
	byID := make(map[int]*market.Instrument, len(instruments))
	for _, inst := range instruments {
		inst.OpenDay()
		byID[inst.ID] = inst
	}

	machine := crisis.NewMachine(opts.Crisis)
	return &Context{
		SessionID:   uuid.NewString(),
		SeasonID:    opts.SeasonID,
		RNG:         seededrand.New(opts.SeasonID),
		Instruments: instruments,
		Market:      market.NewState(opts.Market),
		News:        news.NewState(),
		opts:        opts,
		evolver:     market.NewEvolver(opts.Market),
		newsSys:     news.NewSystem(opts.News),
		machine:     machine,
		pricer:      pricing.NewEngine(opts.Pricing, opts.Kinds, machine),
		exec:        execution.NewEngine(opts.Execution, opts.Kinds, fixedpoint.FromInt(opts.InitialCapital)),
		recorder:    tradelog.NewRecorder(opts.SeasonID, opts.ClientVersion, opts.InitialCapital, opts.StartedAt),
		byID:        byID,
	}
}

// Options returns the options the context was built with.
func (c *Context) Options() Options {
	return c.opts
}

// Instrument looks up an instrument by id.
func (c *Context) Instrument(id int) (*market.Instrument, bool) {
	inst, ok := c.byID[id]
	return inst, ok
}

// Execution exposes the order engine, mainly for inspection.
func (c *Context) Execution() *execution.Engine {
	return c.exec
}

// Submit queues a player intent for the next step. The entry's tick is
// replaced with the tick it is applied at. Malformed intents are rejected
// here and never reach the log.
func (c *Context) Submit(e tradelog.Entry) error {
	if _, err := e.Order(); err != nil {
		return err
	}
	if e.Quantity <= 0 {
		return apperrors.NewOrderError("", e.StockID, e.Type, "quantity must be positive", apperrors.ErrInvalidOrder)
	}
	if limit := c.opts.Execution.QuantityLimit(); e.Quantity > limit {
		return apperrors.NewOrderError("", e.StockID, e.Type, fmt.Sprintf("quantity above %d", limit), apperrors.ErrInvalidOrder)
	}
	c.mu.Lock()
	c.queue = append(c.queue, e)
	c.mu.Unlock()
	return nil
}

// Queued returns the number of intents waiting for the next step.
func (c *Context) Queued() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// LogLen returns the number of intents recorded so far.
func (c *Context) LogLen() int {
	return c.recorder.Len()
}

// Outcome summarizes the session at the current tick.
type Outcome struct {
	Ticks      int                         `json:"ticks"`
	TradeCount int                         `json:"tradeCount"`
	Cash       fixedpoint.Value            `json:"cash"`
	Equity     fixedpoint.Value            `json:"equity"`
	Holdings   map[int]*execution.Holding  `json:"holdings"`
	Shorts     map[int]*execution.ShortLot `json:"shorts"`
	Pending    int                         `json:"pending"`
}

// Outcome returns the current outcome.
func (c *Context) Outcome() Outcome {
	p := c.exec.Portfolio()
	return Outcome{
		Ticks:      c.Tick,
		TradeCount: c.trades,
		Cash:       p.Cash,
		Equity:     c.exec.Equity(c.Instruments),
		Holdings:   p.Holdings,
		Shorts:     p.Shorts,
		Pending:    len(c.exec.Pending()),
	}
}

// Finalize seals the trade log at the current tick.
func (c *Context) Finalize(endedAt time.Time) *tradelog.Payload {
	return c.recorder.Finalize(c.Tick, endedAt)
}
