package replay

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	apperrors "marketsim/internal/errors"
	"marketsim/internal/logging"
	"marketsim/internal/metrics"
	"marketsim/internal/performance"
	"marketsim/internal/simulation"
	"marketsim/internal/tradelog"
)

// Options configures a Verifier.
type Options struct {
	// Simulation carries the engine tuning; season, capital and start time
	// come from each payload.
	Simulation          simulation.Options
	MinSupportedVersion string
	Workers             int
	QueueSize           int
	Logger              zerolog.Logger
	Metrics             *metrics.Recorder
}

// Verifier checks submitted sessions. It holds no per-session state, so one
// Verifier can check many sessions concurrently.
type Verifier struct {
	opts Options
}

// NewVerifier creates a Verifier.
func NewVerifier(opts Options) *Verifier {
	if opts.MinSupportedVersion == "" {
		opts.MinSupportedVersion = tradelog.MinSupportedVersion
	}
	return &Verifier{opts: opts}
}

// Verify runs the checks in order and stops at the first failure: engine
// version, checksum, entry validation, then a full re-simulation compared
// against the claim. The returned error is non-nil only when ctx is
// cancelled mid-replay; every verdict is reported through Result.Code.
func (v *Verifier) Verify(ctx context.Context, p *tradelog.Payload, claim Claim) (*Result, error) {
	start := time.Now()
	res, err := v.verify(ctx, p, claim)
	if err != nil {
		return nil, err
	}
	res.Duration = time.Since(start)

	var verr error
	if !res.OK() {
		verr = res.Err()
	}
	logger := logging.WithOperation(logging.FromContext(ctx, v.opts.Logger), "verify")
	logging.LogVerification(logger, res.SeasonID, res.Code, res.Duration, verr)
	if v.opts.Metrics != nil {
		v.opts.Metrics.RecordVerification(res.Code, res.Duration.Seconds())
	}
	return res, nil
}

func (v *Verifier) verify(ctx context.Context, p *tradelog.Payload, claim Claim) (*Result, error) {
	res := &Result{SeasonID: p.Meta.SeasonID}

	ok, err := tradelog.IsReplayable(p.Meta.EngineVersion, v.opts.MinSupportedVersion)
	if err != nil || !ok {
		res.Code = apperrors.CodeInvalidVersion
		res.Message = fmt.Sprintf("engine version %q not replayable (minimum %s)", p.Meta.EngineVersion, v.opts.MinSupportedVersion)
		return res, nil
	}

	if !tradelog.VerifyChecksum(p) {
		res.Code = apperrors.CodeInvalidChecksum
		res.Message = "checksum does not match log contents"
		return res, nil
	}

	if errs := tradelog.ValidateWithLimit(p, v.opts.Simulation.Execution.QuantityLimit()); len(errs) > 0 {
		res.Code = apperrors.CodeInvalidLog
		res.Message = fmt.Sprintf("%d invalid entries", len(errs))
		res.EntryErrors = errs
		return res, nil
	}

	out, err := v.resimulate(ctx, p)
	if err != nil {
		if apperrors.CodeOf(err) == "" {
			return nil, err
		}
		res.Code = apperrors.CodeOf(err)
		res.Message = err.Error()
		res.Outcome = &out
		return res, nil
	}
	res.Outcome = &out

	if divs := Compare(claim, out); len(divs) > 0 {
		res.Code = apperrors.CodeMismatch
		res.Message = fmt.Sprintf("%d fields diverge", len(divs))
		res.Divergences = divs
		return res, nil
	}

	res.Code = apperrors.CodeOK
	return res, nil
}

// resimulate replays p from its seed. Entries stamped tick T are queued
// before step T, which is exactly when the live session applied them. An
// entry the engine refuses yields an INVALID_LOG replay error; any other
// error is the context's.
func (v *Verifier) resimulate(ctx context.Context, p *tradelog.Payload) (simulation.Outcome, error) {
	opts := v.opts.Simulation
	opts.SeasonID = p.Meta.SeasonID
	opts.ClientVersion = p.Meta.ClientVersion
	opts.InitialCapital = p.Meta.InitialCapital
	opts.StartedAt = time.UnixMilli(p.Meta.StartedAt)
	sim := simulation.New(opts)

	next := 0
	for tick := 1; tick <= p.Meta.TotalTicks; tick++ {
		if tick%256 == 1 {
			if err := ctx.Err(); err != nil {
				return simulation.Outcome{}, err
			}
		}
		for next < len(p.TradeLogs) && p.TradeLogs[next].Tick == tick {
			if err := sim.Submit(p.TradeLogs[next]); err != nil {
				return sim.Outcome(), apperrors.NewReplayError(apperrors.CodeInvalidLog, fmt.Sprintf("entry %d refused", next), err)
			}
			next++
		}
		res := sim.Step()
		if len(res.Rejected) > 0 {
			return sim.Outcome(), apperrors.NewReplayError(apperrors.CodeInvalidLog, fmt.Sprintf("order refused at tick %d", tick), res.Rejected[0].Err)
		}
	}
	return sim.Outcome(), nil
}

// VerifyBatch verifies every submission on a worker pool. Each replay owns
// its own simulation context. Results keep the input order.
func (v *Verifier) VerifyBatch(ctx context.Context, subs []Submission) (*Report, error) {
	pool := performance.NewWorkerPool(v.opts.Workers, v.opts.QueueSize)
	pool.Start()
	defer pool.Stop()

	type outcome struct {
		res *Result
		err error
	}
	logger := logging.WithOperation(logging.FromContext(ctx, v.opts.Logger), "verify_batch")
	outs, err := performance.Map(ctx, pool, subs, func(s Submission) outcome {
		sctx := logging.WithLogger(ctx, logger.With().Str("checksum", s.Payload.Checksum).Logger())
		res, err := v.Verify(sctx, s.Payload, s.Claim)
		return outcome{res: res, err: err}
	})
	if err != nil {
		return nil, err
	}

	results := make([]*Result, len(outs))
	for i, o := range outs {
		if o.err != nil {
			return nil, o.err
		}
		results[i] = o.res
	}

	rep := newReport(results)
	logger.Info().
		Int("total", rep.Total).
		Int("verified", rep.Verified).
		Int("failed", rep.Failed).
		Msg("batch verification finished")
	return rep, nil
}
