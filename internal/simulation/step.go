package simulation

import (
	"marketsim/internal/crisis"
	"marketsim/internal/execution"
	"marketsim/internal/news"
	"marketsim/internal/pricing"
	"marketsim/internal/tradelog"
)

// Rejection is an intent that could not be turned into an order.
type Rejection struct {
	Entry tradelog.Entry
	Err   error
}

// StepResult reports everything that happened during one tick.
type StepResult struct {
	Tick     int
	Day      int
	NewDay   bool
	News     news.Update
	Crisis   crisis.Transition
	Moves    []pricing.Move
	Applied  []tradelog.Entry
	Rejected []Rejection
	Trades   []*execution.Trade
}

// Step advances the session by one tick. Phases run in a fixed order:
// market state, news, crisis, price, orders, log. Replay depends on it.
func (c *Context) Step() StepResult {
	c.Tick++
	res := StepResult{Tick: c.Tick}

	if c.Tick > 1 && (c.Tick-1)%c.opts.TicksPerDay == 0 {
		c.Day++
		c.pricer.OpenDay(c.Instruments)
		res.NewDay = true
	}
	res.Day = c.Day

	c.evolver.Evolve(&c.Market, c.RNG, c.News.GlobalIntensity())

	res.News = c.newsSys.Update(c.News, c.Instruments, c.Tick, c.Day, c.RNG)

	res.Crisis = c.machine.Update(&c.Crisis, c.Tick, c.Market.Volatility, c.RNG)

	res.Moves = c.pricer.Step(c.Instruments, pricing.Inputs{
		Market: &c.Market,
		News:   c.News,
		Crisis: c.Crisis,
	}, c.RNG)

	for _, e := range c.drain() {
		e.Tick = c.Tick
		o, err := e.Order()
		if err == nil {
			_, err = c.exec.Submit(o)
		}
		if err != nil {
			res.Rejected = append(res.Rejected, Rejection{Entry: e, Err: err})
			continue
		}
		res.Applied = append(res.Applied, e)
	}
	res.Trades = c.exec.Match(c.Instruments, c.Tick)
	c.trades += len(res.Trades)

	for _, e := range res.Applied {
		c.recorder.Record(e)
	}
	return res
}

// Run advances n ticks and returns the trades filled along the way.
func (c *Context) Run(n int) []*execution.Trade {
	var trades []*execution.Trade
	for i := 0; i < n; i++ {
		trades = append(trades, c.Step().Trades...)
	}
	return trades
}

func (c *Context) drain() []tradelog.Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	q := c.queue
	c.queue = nil
	return q
}
