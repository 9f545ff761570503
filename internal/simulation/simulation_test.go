package simulation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketsim/internal/crisis"
	apperrors "marketsim/internal/errors"
	"marketsim/internal/execution"
	"marketsim/internal/market"
	"marketsim/internal/metrics"
	"marketsim/internal/news"
	"marketsim/internal/notify"
	"marketsim/internal/tradelog"
)

func limit(f float64) *float64 { return &f }

func newTestContext(seed string) *Context {
	opts := DefaultOptions(seed)
	opts.TicksPerDay = 10
	opts.StartedAt = time.UnixMilli(1700000000000)
	return New(opts)
}

func prices(c *Context) []float64 {
	out := make([]float64, len(c.Instruments))
	for i, inst := range c.Instruments {
		out[i] = inst.Price
	}
	return out
}

func TestNew_SeedsFromSeason(t *testing.T) {
	a := newTestContext("season-1")
	b := newTestContext("season-1")

	assert.Equal(t, a.RNG.State(), b.RNG.State())
	assert.NotEqual(t, a.SessionID, b.SessionID, "session ids are unique per context")
	assert.Len(t, a.Instruments, len(market.DefaultCatalog()))

	anon := New(DefaultOptions(""))
	assert.NotEmpty(t, anon.SeasonID, "an empty season gets a generated one")
}

func TestStep_Deterministic(t *testing.T) {
	a := newTestContext("determinism")
	b := newTestContext("determinism")

	for tick := 1; tick <= 200; tick++ {
		if tick%17 == 0 {
			e := tradelog.Entry{Type: "BUY", StockID: 1 + tick%8, Quantity: 2}
			require.NoError(t, a.Submit(e))
			require.NoError(t, b.Submit(e))
		}
		a.Step()
		b.Step()
	}

	assert.Equal(t, prices(a), prices(b))
	assert.Equal(t, a.Market, b.Market)
	assert.Equal(t, a.RNG.Calls(), b.RNG.Calls())
	assert.Equal(t, a.Outcome(), b.Outcome())

	end := time.UnixMilli(1700000600000)
	assert.Equal(t, a.Finalize(end).Checksum, b.Finalize(end).Checksum)
}

func TestStep_IndependentContexts(t *testing.T) {
	solo := newTestContext("alpha")
	solo.Run(150)

	paired := newTestContext("alpha")
	other := newTestContext("beta")
	for i := 0; i < 150; i++ {
		paired.Step()
		other.Step()
	}

	assert.Equal(t, prices(solo), prices(paired), "another session must not disturb this one")
}

func TestStep_DayRollover(t *testing.T) {
	c := newTestContext("days")

	var newDays []int
	for i := 0; i < 31; i++ {
		res := c.Step()
		if res.NewDay {
			newDays = append(newDays, res.Tick)
		}
	}
	assert.Equal(t, []int{11, 21, 31}, newDays)
	assert.Equal(t, 3, c.Day)
	for _, inst := range c.Instruments {
		assert.GreaterOrEqual(t, inst.DailyHigh, inst.DailyOpen, inst.Code)
		assert.LessOrEqual(t, inst.DailyLow, inst.DailyOpen, inst.Code)
	}
}

func TestSubmit_AppliedAtNextStep(t *testing.T) {
	c := newTestContext("orders")
	c.Run(4)

	require.NoError(t, c.Submit(tradelog.Entry{Tick: 999, Type: "BUY", StockID: 1, Quantity: 3}))
	assert.Equal(t, 1, c.Queued())
	assert.Zero(t, c.LogLen(), "nothing is logged before the step applies it")

	res := c.Step()
	assert.Equal(t, 5, res.Tick)
	require.Len(t, res.Applied, 1)
	assert.Equal(t, 5, res.Applied[0].Tick, "entry is stamped with the tick it was applied at")
	require.Len(t, res.Trades, 1)
	assert.Equal(t, int64(3), res.Trades[0].Quantity)
	assert.Equal(t, execution.SideBuy, res.Trades[0].Side)
	assert.Zero(t, c.Queued())

	out := c.Outcome()
	assert.Equal(t, 1, out.TradeCount)
	assert.Equal(t, int64(3), out.Holdings[1].Quantity)

	payload := c.Finalize(time.Now())
	require.Len(t, payload.TradeLogs, 1)
	assert.Equal(t, 5, payload.TradeLogs[0].Tick)
	assert.Equal(t, 5, payload.Meta.TotalTicks)
	assert.True(t, tradelog.VerifyChecksum(payload))
}

func TestSubmit_RejectsMalformedIntents(t *testing.T) {
	c := newTestContext("reject")

	err := c.Submit(tradelog.Entry{Type: "HOLD", StockID: 1, Quantity: 1})
	assert.Error(t, err)

	err = c.Submit(tradelog.Entry{Type: "BUY", StockID: 1, Quantity: 0})
	assert.ErrorIs(t, err, apperrors.ErrInvalidOrder)

	err = c.Submit(tradelog.Entry{Type: "BUY", StockID: 1, Quantity: 1, OrderType: "iceberg"})
	assert.Error(t, err)

	assert.Zero(t, c.Queued())
}

func TestStep_LimitWithoutPriceNotLogged(t *testing.T) {
	c := newTestContext("reject-step")
	require.NoError(t, c.Submit(tradelog.Entry{Type: "BUY", StockID: 1, Quantity: 1, OrderType: "limit"}))

	res := c.Step()
	require.Len(t, res.Rejected, 1)
	assert.ErrorIs(t, res.Rejected[0].Err, apperrors.ErrInvalidOrder)
	assert.Empty(t, res.Applied)
	assert.Zero(t, c.LogLen())
}

func TestStep_PendingLimitStaysQueued(t *testing.T) {
	c := newTestContext("pending")
	require.NoError(t, c.Submit(tradelog.Entry{Type: "BUY", StockID: 1, Quantity: 1, OrderType: "limit", LimitPrice: limit(100)}))

	res := c.Step()
	assert.Len(t, res.Applied, 1, "intent is logged even though it did not fill")
	assert.Empty(t, res.Trades)
	assert.Equal(t, 1, c.Outcome().Pending)
}

func TestStep_CrisisSingleton(t *testing.T) {
	opts := DefaultOptions("crisis-heavy")
	opts.Crisis.ProbabilityScale = 50
	c := New(opts)

	var active *crisis.Event
	for i := 0; i < 500; i++ {
		res := c.Step()
		if res.Crisis.Started != nil {
			assert.Nil(t, active, "crisis started while another was active at tick %d", res.Tick)
			active = res.Crisis.Started
		}
		if res.Crisis.Ended != nil {
			assert.Nil(t, res.Crisis.Started, "no successor in the expiry tick")
			active = nil
		}
	}
}

type recordingNotifier struct {
	notify.NoOpNotifier
	mu      sync.Mutex
	trades  []*execution.Trade
	news    []*news.Effect
	summary *notify.SessionSummary
}

func (r *recordingNotifier) SendTrade(_ context.Context, _ string, t *execution.Trade) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.trades = append(r.trades, t)
	return nil
}

func (r *recordingNotifier) SendNews(_ context.Context, _ int, e *news.Effect) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.news = append(r.news, e)
	return nil
}

func (r *recordingNotifier) SendSummary(_ context.Context, s *notify.SessionSummary) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.summary = s
	return nil
}

func TestRunner_RunsTickBudget(t *testing.T) {
	c := newTestContext("runner")
	rec := &recordingNotifier{}
	steps := 0
	r := NewRunner(c,
		WithTotalTicks(40),
		WithNotifier(rec),
		WithMetrics(metrics.New()),
		WithStepHook(func(StepResult) { steps++ }),
	)

	r.Intents() <- tradelog.Entry{Type: "BUY", StockID: 2, Quantity: 1}

	payload := r.Run(context.Background())

	assert.Equal(t, 40, steps)
	assert.Equal(t, 40, payload.Meta.TotalTicks)
	require.Len(t, payload.TradeLogs, 1)
	assert.Equal(t, 1, payload.TradeLogs[0].Tick)
	assert.True(t, tradelog.VerifyChecksum(payload))

	require.Len(t, rec.trades, 1)
	require.NotNil(t, rec.summary)
	assert.Equal(t, 1, rec.summary.TotalTrades)
	assert.Equal(t, payload.Checksum, rec.summary.Checksum)
	assert.Equal(t, c.SessionID, rec.summary.SessionID)
}

// stuckNotifier never completes a delivery until its context is cancelled.
type stuckNotifier struct {
	notify.NoOpNotifier
}

func (stuckNotifier) SendTrade(ctx context.Context, _ string, _ *execution.Trade) error {
	<-ctx.Done()
	return ctx.Err()
}

func (stuckNotifier) SendNews(ctx context.Context, _ int, _ *news.Effect) error {
	<-ctx.Done()
	return ctx.Err()
}

func (stuckNotifier) SendCrisis(ctx context.Context, _ int, _ *crisis.Event, _ bool) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestRunner_BlockedNotifierDoesNotStallTicks(t *testing.T) {
	c := newTestContext("stuck")
	steps := 0
	r := NewRunner(c,
		WithTotalTicks(50),
		WithInterval(time.Millisecond),
		WithNotifier(&stuckNotifier{}),
		WithNotifyQueue(1, 20*time.Millisecond),
		WithStepHook(func(StepResult) { steps++ }),
	)
	for i := 0; i < 3; i++ {
		r.Intents() <- tradelog.Entry{Type: "BUY", StockID: 2, Quantity: 1}
	}

	done := make(chan *tradelog.Payload, 1)
	go func() { done <- r.Run(context.Background()) }()

	select {
	case p := <-done:
		assert.Equal(t, 50, steps)
		assert.Equal(t, 50, p.Meta.TotalTicks)
		assert.Len(t, p.TradeLogs, 3)
		assert.GreaterOrEqual(t, r.Dropped(), 1)
	case <-time.After(5 * time.Second):
		t.Fatal("runner stalled behind a blocked notifier")
	}
}

func TestRunner_StopsOnCancel(t *testing.T) {
	c := newTestContext("cancel")
	ctx, cancel := context.WithCancel(context.Background())

	r := NewRunner(c, WithInterval(time.Millisecond), WithStepHook(func(res StepResult) {
		if res.Tick == 5 {
			cancel()
		}
	}))

	done := make(chan *tradelog.Payload, 1)
	go func() { done <- r.Run(ctx) }()

	select {
	case p := <-done:
		assert.Equal(t, 5, p.Meta.TotalTicks)
	case <-time.After(5 * time.Second):
		t.Fatal("runner did not stop after cancel")
	}
}

// Property: the same seed and intents always yield the same session.
func TestProperty_SessionDeterminism(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 20
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("replaying identical input reproduces prices and cash", prop.ForAll(
		func(seed string, ticks int, stockID int) bool {
			run := func() (*Context, []float64) {
				c := newTestContext(seed)
				for i := 1; i <= ticks; i++ {
					if i%7 == 0 {
						_ = c.Submit(tradelog.Entry{Type: "BUY", StockID: stockID, Quantity: 1})
					}
					c.Step()
				}
				return c, prices(c)
			}
			a, pa := run()
			b, pb := run()
			if a.Outcome().Cash != b.Outcome().Cash {
				return false
			}
			for i := range pa {
				if pa[i] != pb[i] {
					return false
				}
			}
			return true
		},
		gen.AlphaString(),
		gen.IntRange(1, 120),
		gen.IntRange(1, 17),
	))

	properties.TestingRun(t)
}
