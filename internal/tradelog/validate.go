package tradelog

import (
	"fmt"

	"marketsim/internal/execution"
)

// Per-entry validation codes.
const (
	CodeNonMonotonicTick    = "NON_MONOTONIC_TICK"
	CodeNonPositiveQuantity = "NON_POSITIVE_QUANTITY"
	CodeUnknownAction       = "UNKNOWN_ACTION"
	CodeUnknownOrderType    = "UNKNOWN_ORDER_TYPE"
	CodeMissingLimitPrice   = "MISSING_LIMIT_PRICE"
	CodeTickOutOfRange      = "TICK_OUT_OF_RANGE"
	CodeQuantityOutOfRange  = "QUANTITY_OUT_OF_RANGE"
)

// EntryError describes one rejected entry.
type EntryError struct {
	Index   int    `json:"index"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e EntryError) Error() string {
	return fmt.Sprintf("entry %d: %s: %s", e.Index, e.Code, e.Message)
}

// Validate checks every entry against the default quantity cap.
func Validate(p *Payload) []EntryError {
	return ValidateWithLimit(p, execution.DefaultMaxQuantity)
}

// ValidateWithLimit checks every entry and returns all problems found, in
// index order. An empty result means the log is structurally valid.
// maxQuantity <= 0 means execution.DefaultMaxQuantity.
func ValidateWithLimit(p *Payload, maxQuantity int64) []EntryError {
	if maxQuantity <= 0 {
		maxQuantity = execution.DefaultMaxQuantity
	}
	var errs []EntryError
	add := func(i int, code, format string, args ...any) {
		errs = append(errs, EntryError{Index: i, Code: code, Message: fmt.Sprintf(format, args...)})
	}

	prevTick := 0
	for i, e := range p.TradeLogs {
		if i > 0 && e.Tick < prevTick {
			add(i, CodeNonMonotonicTick, "tick %d after %d", e.Tick, prevTick)
		}
		prevTick = e.Tick

		if e.Tick < 1 || e.Tick > p.Meta.TotalTicks {
			add(i, CodeTickOutOfRange, "tick %d outside [1,%d]", e.Tick, p.Meta.TotalTicks)
		}
		switch {
		case e.Quantity <= 0:
			add(i, CodeNonPositiveQuantity, "quantity %d", e.Quantity)
		case e.Quantity > maxQuantity:
			add(i, CodeQuantityOutOfRange, "quantity %d above %d", e.Quantity, maxQuantity)
		}
		if _, err := execution.ParseSide(e.Type); err != nil {
			add(i, CodeUnknownAction, "%v", err)
		}
		typ, err := execution.ParseOrderType(e.OrderType)
		if err != nil {
			add(i, CodeUnknownOrderType, "%v", err)
			continue
		}
		if typ != execution.OrderMarket && (e.LimitPrice == nil || *e.LimitPrice <= 0) {
			add(i, CodeMissingLimitPrice, "%s order needs a positive limitPrice", typ)
		}
	}
	return errs
}
