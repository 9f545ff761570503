package replay

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "marketsim/internal/errors"
	"marketsim/internal/logging"
	"marketsim/internal/metrics"
	"marketsim/internal/simulation"
	"marketsim/internal/tradelog"
)

func testOptions() simulation.Options {
	opts := simulation.DefaultOptions("")
	opts.TicksPerDay = 20
	return opts
}

func limit(f float64) *float64 { return &f }

// playSession runs a live session with a handful of intents and returns the
// sealed log with the honest claim.
func playSession(t testing.TB, seed string, ticks int) (*tradelog.Payload, Claim) {
	opts := testOptions()
	opts.SeasonID = seed
	opts.StartedAt = time.UnixMilli(1700000000000)
	sim := simulation.New(opts)

	for tick := 1; tick <= ticks; tick++ {
		switch tick % 25 {
		case 3:
			require.NoError(t, sim.Submit(tradelog.Entry{Type: "BUY", StockID: 1, Quantity: 5}))
		case 9:
			require.NoError(t, sim.Submit(tradelog.Entry{Type: "BUY", StockID: 13, Quantity: 1, OrderType: "limit", LimitPrice: limit(90000000)}))
		case 17:
			require.NoError(t, sim.Submit(tradelog.Entry{Type: "SELL", StockID: 1, Quantity: 2, OrderType: "stopLoss", LimitPrice: limit(80000)}))
		case 21:
			require.NoError(t, sim.Submit(tradelog.Entry{Type: "SHORT", StockID: 16, Quantity: 3}))
		}
		sim.Step()
	}
	return sim.Finalize(time.UnixMilli(1700000900000)), ClaimOf(sim.Outcome())
}

func newVerifier() *Verifier {
	return NewVerifier(Options{
		Simulation: testOptions(),
		Workers:    3,
		Logger:     zerolog.Nop(),
		Metrics:    metrics.New(),
	})
}

func TestVerify_HonestSession(t *testing.T) {
	p, claim := playSession(t, "honest", 150)
	require.NotEmpty(t, p.TradeLogs)

	res, err := newVerifier().Verify(context.Background(), p, claim)
	require.NoError(t, err)
	assert.Equal(t, apperrors.CodeOK, res.Code, res.Message)
	assert.True(t, res.OK())
	assert.NoError(t, res.Err())
	require.NotNil(t, res.Outcome)
	assert.Equal(t, 150, res.Outcome.Ticks)
	assert.Equal(t, *claim.TradeCount, res.Outcome.TradeCount)
}

func TestVerify_InflatedCash(t *testing.T) {
	p, claim := playSession(t, "greedy", 100)
	inflated := *claim.FinalCash + 1_000_000
	claim.FinalCash = &inflated

	res, err := newVerifier().Verify(context.Background(), p, claim)
	require.NoError(t, err)
	assert.Equal(t, apperrors.CodeMismatch, res.Code)
	require.Len(t, res.Divergences, 1)
	assert.Equal(t, "finalCash", res.Divergences[0].Field)
	assert.Equal(t, apperrors.CodeMismatch, apperrors.CodeOf(res.Err()))
}

func TestVerify_TamperedQuantity(t *testing.T) {
	p, claim := playSession(t, "tamper", 100)
	p.TradeLogs[0].Quantity++

	res, err := newVerifier().Verify(context.Background(), p, claim)
	require.NoError(t, err)
	assert.Equal(t, apperrors.CodeInvalidChecksum, res.Code)
	assert.ErrorIs(t, res.Err(), apperrors.ErrInvalidChecksum)

	// A forger who also recomputes the checksum is caught by the replay.
	p.Checksum = tradelog.Checksum(p)
	res, err = newVerifier().Verify(context.Background(), p, claim)
	require.NoError(t, err)
	assert.Equal(t, apperrors.CodeMismatch, res.Code)
}

func TestVerify_VersionCheckedFirst(t *testing.T) {
	p, claim := playSession(t, "future", 30)
	p.Meta.EngineVersion = "3.0.0"
	p.Checksum = "garbage"

	res, err := newVerifier().Verify(context.Background(), p, claim)
	require.NoError(t, err)
	assert.Equal(t, apperrors.CodeInvalidVersion, res.Code)
	assert.ErrorIs(t, res.Err(), apperrors.ErrInvalidVersion)

	p.Meta.EngineVersion = "not-a-version"
	res, err = newVerifier().Verify(context.Background(), p, claim)
	require.NoError(t, err)
	assert.Equal(t, apperrors.CodeInvalidVersion, res.Code)
}

func TestVerify_InvalidLog(t *testing.T) {
	p, claim := playSession(t, "disorder", 100)
	require.GreaterOrEqual(t, len(p.TradeLogs), 2)
	p.TradeLogs[1].Tick = 0
	p.Checksum = tradelog.Checksum(p)

	res, err := newVerifier().Verify(context.Background(), p, claim)
	require.NoError(t, err)
	assert.Equal(t, apperrors.CodeInvalidLog, res.Code)
	require.NotEmpty(t, res.EntryErrors)
	assert.Equal(t, 1, res.EntryErrors[0].Index)
	assert.Nil(t, res.Outcome, "no replay after a validation failure")
}

func TestVerify_OverflowingQuantityCannotMintCash(t *testing.T) {
	p, claim := playSession(t, "mint", 60)
	p.TradeLogs[0].Quantity = 13_000_000_000
	p.Checksum = tradelog.Checksum(p)
	minted := 908674408370955.1616
	claim.FinalCash = &minted

	res, err := newVerifier().Verify(context.Background(), p, claim)
	require.NoError(t, err)
	assert.Equal(t, apperrors.CodeInvalidLog, res.Code)
	require.Len(t, res.EntryErrors, 1)
	assert.Equal(t, tradelog.CodeQuantityOutOfRange, res.EntryErrors[0].Code)

	// Even with the cap lifted the order never fills, so the claim diverges.
	opts := testOptions()
	opts.Execution.MaxQuantity = math.MaxInt64
	lifted := NewVerifier(Options{Simulation: opts, Logger: zerolog.Nop()})
	res, err = lifted.Verify(context.Background(), p, claim)
	require.NoError(t, err)
	assert.Equal(t, apperrors.CodeMismatch, res.Code)
	require.NotNil(t, res.Outcome)
	assert.Less(t, res.Outcome.Cash.Float(), minted)
	assert.Positive(t, res.Outcome.Cash.Float())
}

func TestVerify_Cancelled(t *testing.T) {
	p, claim := playSession(t, "cancel", 50)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newVerifier().Verify(ctx, p, claim)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestVerifyBatch(t *testing.T) {
	var subs []Submission
	want := make([]string, 0, 8)
	for i := 0; i < 8; i++ {
		p, claim := playSession(t, fmt.Sprintf("batch-%d", i), 60)
		code := apperrors.CodeOK
		switch i % 4 {
		case 1:
			p.Checksum = "deadbeef"
			code = apperrors.CodeInvalidChecksum
		case 2:
			n := *claim.TradeCount + 1
			claim.TradeCount = &n
			code = apperrors.CodeMismatch
		}
		subs = append(subs, Submission{Payload: p, Claim: claim})
		want = append(want, code)
	}

	rep, err := newVerifier().VerifyBatch(context.Background(), subs)
	require.NoError(t, err)
	assert.Equal(t, 8, rep.Total)
	assert.Equal(t, 4, rep.Verified)
	assert.Equal(t, 4, rep.Failed)
	assert.Equal(t, 2, rep.ByCode[apperrors.CodeInvalidChecksum])

	got := make([]string, len(rep.Results))
	for i, r := range rep.Results {
		got[i] = r.Code
		assert.Equal(t, fmt.Sprintf("batch-%d", i), r.SeasonID, "results keep input order")
	}
	assert.Equal(t, want, got)
}

func TestVerify_LogsThroughContextLogger(t *testing.T) {
	p, claim := playSession(t, "logged", 40)
	var buf bytes.Buffer
	ctx := logging.WithLogger(context.Background(), zerolog.New(&buf))

	res, err := newVerifier().Verify(ctx, p, claim)
	require.NoError(t, err)
	require.Equal(t, apperrors.CodeOK, res.Code)
	assert.Contains(t, buf.String(), `"operation":"verify"`)
	assert.Contains(t, buf.String(), `"season_id":"logged"`)
}

func TestCompare(t *testing.T) {
	out := simulation.Outcome{TradeCount: 3}
	out.Cash = 2_800_000_000 // 280,000 at four decimals
	out.Equity = out.Cash

	cash := 280000.0
	assert.Empty(t, Compare(Claim{FinalCash: &cash}, out))

	off := 280000.0001
	divs := Compare(Claim{FinalCash: &off}, out)
	require.Len(t, divs, 1)
	assert.Equal(t, "280000.0001", divs[0].Expected)
	assert.Equal(t, "280000", divs[0].Actual)

	assert.Empty(t, Compare(Claim{}, out), "an empty claim checks nothing")
}

// Property: any honestly played session verifies.
func TestProperty_HonestSessionsVerify(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 15
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)
	v := newVerifier()

	properties.Property("replay reproduces the live outcome", prop.ForAll(
		func(seed string, ticks int) bool {
			p, claim := playSession(t, seed, ticks)
			res, err := v.Verify(context.Background(), p, claim)
			return err == nil && res.OK()
		},
		gen.AlphaString(),
		gen.IntRange(1, 120),
	))

	properties.TestingRun(t)
}
