package simulation

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"marketsim/internal/crisis"
	"marketsim/internal/logging"
	"marketsim/internal/metrics"
	"marketsim/internal/notify"
	"marketsim/internal/tradelog"
)

// Runner drives a Context on a fixed-rate tick loop. It is the only
// goroutine that touches the context; intents reach it over a channel and
// are applied at the next tick.
type Runner struct {
	sim        *Context
	interval   time.Duration
	totalTicks int
	intents    chan tradelog.Entry
	notifier   notify.Notifier
	outbox     chan delivery
	drainWait  time.Duration
	dropped    int
	metrics    *metrics.Recorder
	logger     zerolog.Logger
	onStep     func(StepResult)
}

// DefaultNotifyQueueSize bounds the notifications waiting for the sender.
const DefaultNotifyQueueSize = 256

// delivery is one queued notification.
type delivery struct {
	kind string
	send func(ctx context.Context) error
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithInterval sets the wall-clock time between ticks. Zero runs ticks back
// to back.
func WithInterval(d time.Duration) RunnerOption {
	return func(r *Runner) { r.interval = d }
}

// WithTotalTicks stops the loop after n ticks. Zero runs until cancelled.
func WithTotalTicks(n int) RunnerOption {
	return func(r *Runner) { r.totalTicks = n }
}

// WithNotifier sets the event sink.
func WithNotifier(n notify.Notifier) RunnerOption {
	return func(r *Runner) { r.notifier = n }
}

// WithNotifyQueue sets how many notifications may wait for the sender
// before new ones are dropped, and how long Run waits for the queue to
// drain once the session ends.
func WithNotifyQueue(size int, drainWait time.Duration) RunnerOption {
	return func(r *Runner) {
		if size > 0 {
			r.outbox = make(chan delivery, size)
		}
		r.drainWait = drainWait
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m *metrics.Recorder) RunnerOption {
	return func(r *Runner) { r.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) RunnerOption {
	return func(r *Runner) { r.logger = l }
}

// WithStepHook is called after every tick on the loop goroutine.
func WithStepHook(fn func(StepResult)) RunnerOption {
	return func(r *Runner) { r.onStep = fn }
}

// NewRunner creates a Runner for sim.
func NewRunner(sim *Context, opts ...RunnerOption) *Runner {
	r := &Runner{
		sim:       sim,
		intents:   make(chan tradelog.Entry, 64),
		notifier:  notify.NewNoOpNotifier(),
		outbox:    make(chan delivery, DefaultNotifyQueueSize),
		drainWait: 5 * time.Second,
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = logging.WithSession(r.logger, sim.SessionID, sim.SeasonID)
	return r
}

// Dropped returns how many notifications were discarded because the queue
// was full. Only valid after Run returns.
func (r *Runner) Dropped() int {
	return r.dropped
}

// Intents is where callers send player intents while the loop runs.
func (r *Runner) Intents() chan<- tradelog.Entry {
	return r.intents
}

// Run ticks until the tick budget is spent or ctx is cancelled, then seals
// and returns the trade log. Cancellation only takes effect between ticks.
// A Runner runs once.
func (r *Runner) Run(ctx context.Context) *tradelog.Payload {
	r.logger.Info().
		Int("total_ticks", r.totalTicks).
		Dur("interval", r.interval).
		Msg("session started")

	sendCtx, stopSender := context.WithCancel(context.Background())
	defer stopSender()
	var sender sync.WaitGroup
	sender.Add(1)
	go func() {
		defer sender.Done()
		r.deliver(sendCtx)
	}()

	var ticks <-chan time.Time
	if r.interval > 0 {
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		ticks = ticker.C
	}

loop:
	for r.totalTicks == 0 || r.sim.Tick < r.totalTicks {
		if ctx.Err() != nil {
			break
		}
		if ticks == nil {
			r.drainIntents()
			r.step()
			continue
		}

		select {
		case <-ctx.Done():
			break loop
		case e := <-r.intents:
			r.accept(e)
		case <-ticks:
			r.drainIntents()
			r.step()
		}
	}

	payload := r.sim.Finalize(time.Now())
	out := r.sim.Outcome()

	r.drain(&sender, stopSender)

	r.logger.Info().
		Int("ticks", out.Ticks).
		Int("trades", out.TradeCount).
		Str("cash", out.Cash.String()).
		Str("equity", out.Equity.String()).
		Str("checksum", payload.Checksum).
		Int("notifications_dropped", r.dropped).
		Msg("session finished")

	// The session context may already be cancelled; the summary still goes out.
	summaryCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.notifier.SendSummary(summaryCtx, &notify.SessionSummary{
		SessionID:   r.sim.SessionID,
		SeasonID:    r.sim.SeasonID,
		Ticks:       out.Ticks,
		TotalTrades: out.TradeCount,
		Cash:        out.Cash.String(),
		Equity:      out.Equity.String(),
		Checksum:    payload.Checksum,
	}); err != nil {
		r.logger.Warn().Err(err).Msg("summary notification failed")
	}

	return payload
}

// deliver sends queued notifications until the queue is closed. Once ctx is
// cancelled the rest are discarded.
func (r *Runner) deliver(ctx context.Context) {
	for d := range r.outbox {
		if ctx.Err() != nil {
			continue
		}
		r.notifyFailed(d.kind, d.send(ctx))
	}
}

// drain closes the queue and gives the sender drainWait to flush it before
// cancelling whatever send is still in flight.
func (r *Runner) drain(sender *sync.WaitGroup, stop context.CancelFunc) {
	close(r.outbox)
	done := make(chan struct{})
	go func() {
		sender.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(r.drainWait):
		r.logger.Warn().Int("pending", len(r.outbox)).Msg("notification queue did not drain")
		stop()
		<-done
	}
}

// enqueue hands a notification to the sender without blocking.
func (r *Runner) enqueue(kind string, send func(ctx context.Context) error) {
	select {
	case r.outbox <- delivery{kind: kind, send: send}:
	default:
		r.dropped++
		if r.metrics != nil {
			r.metrics.RecordNotificationDropped(kind)
		}
		r.logger.Debug().Str("kind", kind).Msg("notification dropped")
	}
}

func (r *Runner) drainIntents() {
	for {
		select {
		case e := <-r.intents:
			r.accept(e)
		default:
			return
		}
	}
}

func (r *Runner) accept(e tradelog.Entry) {
	if err := r.sim.Submit(e); err != nil {
		r.logger.Warn().Err(err).Str("type", e.Type).Int("stock_id", e.StockID).Msg("intent rejected")
	}
}

func (r *Runner) step() {
	start := time.Now()
	res := r.sim.Step()
	elapsed := time.Since(start)

	logger := logging.WithTick(r.logger, res.Tick)
	if res.NewDay {
		logger.Debug().Int("day", res.Day).Msg("trading day opened")
	}

	for _, e := range res.News.News {
		logging.LogNews(logger, res.Tick, string(e.Category), e.Headline, e.Impact)
		effect, tick := *e, res.Tick
		r.enqueue("news", func(ctx context.Context) error {
			return r.notifier.SendNews(ctx, tick, &effect)
		})
		if r.metrics != nil {
			r.metrics.RecordNews(string(e.Category))
		}
	}
	if g := res.News.GlobalStarted; g != nil {
		logger.Info().Str("event", g.Type).Float64("impact", g.Impact).Msg(g.Name)
	}

	if c := res.Crisis.Started; c != nil {
		logging.LogCrisis(logger, res.Tick, c.Type, string(c.Phase), c.Severity)
		r.enqueueCrisis(res.Tick, c, true)
		if r.metrics != nil {
			r.metrics.RecordCrisis(c.Type)
		}
	}
	if c := res.Crisis.Ended; c != nil {
		logger.Info().Str("crisis", c.Type).Msg("crisis ended")
		r.enqueueCrisis(res.Tick, c, false)
	}

	for _, m := range res.Moves {
		if m.Rejected {
			instLogger := logging.WithInstrument(logger, m.Code)
			instLogger.Debug().
				Float64("price", m.Old).
				Msg("move outside daily bound discarded")
		}
	}

	for _, rej := range res.Rejected {
		logger.Warn().Err(rej.Err).Str("type", rej.Entry.Type).Int("stock_id", rej.Entry.StockID).Msg("order rejected")
	}

	for _, t := range res.Trades {
		code := ""
		if inst, ok := r.sim.Instrument(t.InstrumentID); ok {
			code = inst.Code
		}
		logging.LogTrade(logger, res.Tick, code, string(t.Side), t.Quantity, t.Price.String(), t.Fee.String())
		trade := *t
		r.enqueue("trade", func(ctx context.Context) error {
			return r.notifier.SendTrade(ctx, code, &trade)
		})
		if r.metrics != nil {
			r.metrics.RecordTrade(string(t.Side), string(t.OrderType))
		}
	}

	if r.metrics != nil {
		r.metrics.RecordTick(elapsed.Seconds())
		r.metrics.RecordMarketState(r.sim.Market.Trend, r.sim.Market.Volatility)
		for _, m := range res.Moves {
			r.metrics.RecordLastPrice(m.Code, m.New)
		}
		r.metrics.RecordEquity(r.sim.Execution().Equity(r.sim.Instruments).Float())
	}

	if r.onStep != nil {
		r.onStep(res)
	}
}

func (r *Runner) enqueueCrisis(tick int, c *crisis.Event, started bool) {
	event := c.Clone()
	r.enqueue("crisis", func(ctx context.Context) error {
		return r.notifier.SendCrisis(ctx, tick, event, started)
	})
}

func (r *Runner) notifyFailed(kind string, err error) {
	if err != nil {
		r.logger.Warn().Err(err).Str("kind", kind).Msg("notification failed")
	}
}
