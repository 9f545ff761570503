// Package tradelog records player intents (never prices) and defines the
// payload, checksum, validation and engine-version contract that lets a
// verifier re-simulate a session independently.
package tradelog

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	apperrors "marketsim/internal/errors"
	"marketsim/internal/execution"
	"marketsim/internal/fixedpoint"
)

// Meta is the session header.
type Meta struct {
	SeasonID       string `json:"seasonId"`
	EngineVersion  string `json:"engineVersion"`
	ClientVersion  string `json:"clientVersion,omitempty"`
	StartedAt      int64  `json:"startedAt"`
	EndedAt        int64  `json:"endedAt"`
	InitialCapital int64  `json:"initialCapital"`
	TotalTicks     int    `json:"totalTicks"`
}

// Entry is one player intent. It deliberately carries no executed price.
type Entry struct {
	Tick       int      `json:"tick"`
	Type       string   `json:"type"`
	StockID    int      `json:"stockId"`
	Quantity   int64    `json:"quantity"`
	OrderType  string   `json:"orderType,omitempty"`
	LimitPrice *float64 `json:"limitPrice,omitempty"`
}

// Order converts the entry into an execution order.
func (e Entry) Order() (execution.Order, error) {
	side, err := execution.ParseSide(e.Type)
	if err != nil {
		return execution.Order{}, err
	}
	typ, err := execution.ParseOrderType(e.OrderType)
	if err != nil {
		return execution.Order{}, err
	}
	o := execution.Order{
		InstrumentID: e.StockID,
		Type:         typ,
		Side:         side,
		Quantity:     e.Quantity,
		CreatedTick:  e.Tick,
	}
	if e.LimitPrice != nil {
		o.TargetPrice = fixedpoint.FromFloat(*e.LimitPrice)
	}
	return o, nil
}

// Payload is the wire document a client submits.
type Payload struct {
	Meta      Meta    `json:"meta"`
	TradeLogs []Entry `json:"tradeLogs"`
	Checksum  string  `json:"checksum"`
}

// Decode reads a payload from r.
func Decode(r io.Reader) (*Payload, error) {
	var p Payload
	if err := json.NewDecoder(r).Decode(&p); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInvalidLog, fmt.Sprintf("decode payload: %v", err))
	}
	return &p, nil
}

// Load reads a payload from a JSON file.
func Load(path string) (*Payload, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open payload: %w", err)
	}
	defer f.Close()
	return Decode(f)
}

// Encode writes p as indented JSON.
func Encode(w io.Writer, p *Payload) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(p)
}

// Save writes p to path.
func Save(path string, p *Payload) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create payload file: %w", err)
	}
	defer f.Close()
	return Encode(f, p)
}
