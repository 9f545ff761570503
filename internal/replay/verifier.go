// Package replay re-simulates a submitted session from its seed and trade
// log and checks the client's claimed outcome against the result.
package replay

import (
	"fmt"
	"time"

	apperrors "marketsim/internal/errors"
	"marketsim/internal/fixedpoint"
	"marketsim/internal/simulation"
	"marketsim/internal/tradelog"
)

// Claim is the outcome a client reports for its session. Nil fields are not
// checked.
type Claim struct {
	FinalCash   *float64 `json:"finalCash,omitempty"`
	FinalEquity *float64 `json:"finalEquity,omitempty"`
	TradeCount  *int     `json:"tradeCount,omitempty"`
}

// Submission is one session handed in for verification.
type Submission struct {
	Payload *tradelog.Payload `json:"payload"`
	Claim   Claim             `json:"claim"`
}

// FieldDivergence is a mismatch between a claimed and a replayed value.
type FieldDivergence struct {
	Field    string `json:"field"`
	Expected string `json:"expected"`
	Actual   string `json:"actual"`
}

// Result is the verdict on one session.
type Result struct {
	SeasonID    string                `json:"seasonId"`
	Code        string                `json:"code"`
	Message     string                `json:"message,omitempty"`
	EntryErrors []tradelog.EntryError `json:"entryErrors,omitempty"`
	Divergences []FieldDivergence     `json:"divergences,omitempty"`
	Outcome     *simulation.Outcome   `json:"outcome,omitempty"`
	Duration    time.Duration         `json:"duration"`
}

// OK reports whether the session verified.
func (r *Result) OK() bool {
	return r.Code == apperrors.CodeOK
}

// Err returns the verdict as a *errors.ReplayError, or nil when it verified.
func (r *Result) Err() error {
	if r.OK() {
		return nil
	}
	var sentinel error
	switch r.Code {
	case apperrors.CodeInvalidVersion:
		sentinel = apperrors.ErrInvalidVersion
	case apperrors.CodeInvalidChecksum:
		sentinel = apperrors.ErrInvalidChecksum
	case apperrors.CodeInvalidLog:
		sentinel = apperrors.ErrInvalidLog
	}
	return apperrors.NewReplayError(r.Code, r.Message, sentinel)
}

// Report aggregates a batch.
type Report struct {
	Total    int            `json:"total"`
	Verified int            `json:"verified"`
	Failed   int            `json:"failed"`
	ByCode   map[string]int `json:"byCode"`
	Results  []*Result      `json:"results"`
}

func newReport(results []*Result) *Report {
	rep := &Report{Total: len(results), ByCode: make(map[string]int), Results: results}
	for _, r := range results {
		rep.ByCode[r.Code]++
		if r.OK() {
			rep.Verified++
		} else {
			rep.Failed++
		}
	}
	return rep
}

// Compare checks a claim against the replayed outcome. Money is compared
// exactly at fixed-point precision.
func Compare(claim Claim, out simulation.Outcome) []FieldDivergence {
	var divs []FieldDivergence

	if claim.FinalCash != nil {
		if want := fixedpoint.FromFloat(*claim.FinalCash); want != out.Cash {
			divs = append(divs, FieldDivergence{Field: "finalCash", Expected: want.String(), Actual: out.Cash.String()})
		}
	}
	if claim.FinalEquity != nil {
		if want := fixedpoint.FromFloat(*claim.FinalEquity); want != out.Equity {
			divs = append(divs, FieldDivergence{Field: "finalEquity", Expected: want.String(), Actual: out.Equity.String()})
		}
	}
	if claim.TradeCount != nil && *claim.TradeCount != out.TradeCount {
		divs = append(divs, FieldDivergence{
			Field:    "tradeCount",
			Expected: fmt.Sprint(*claim.TradeCount),
			Actual:   fmt.Sprint(out.TradeCount),
		})
	}
	return divs
}

// ClaimOf builds the claim an honest client would send for out.
func ClaimOf(out simulation.Outcome) Claim {
	cash := out.Cash.Float()
	equity := out.Equity.Float()
	count := out.TradeCount
	return Claim{FinalCash: &cash, FinalEquity: &equity, TradeCount: &count}
}
