// Package execution implements order matching and settlement against the
// simulated prices, with a single weighted-average lot per instrument.
package execution

import (
	"fmt"

	"marketsim/internal/fixedpoint"
)

// OrderType is the trigger rule of an order.
type OrderType string

const (
	OrderMarket     OrderType = "market"
	OrderLimit      OrderType = "limit"
	OrderStopLoss   OrderType = "stopLoss"
	OrderTakeProfit OrderType = "takeProfit"
)

// ParseOrderType validates an order type string. Empty means market.
func ParseOrderType(s string) (OrderType, error) {
	switch OrderType(s) {
	case "", OrderMarket:
		return OrderMarket, nil
	case OrderLimit, OrderStopLoss, OrderTakeProfit:
		return OrderType(s), nil
	}
	return "", fmt.Errorf("unknown order type: %q", s)
}

// Side is the trade direction. Short fills like Sell and Cover like Buy.
type Side string

const (
	SideBuy   Side = "BUY"
	SideSell  Side = "SELL"
	SideShort Side = "SHORT"
	SideCover Side = "COVER"
)

// ParseSide validates a side string.
func ParseSide(s string) (Side, error) {
	switch Side(s) {
	case SideBuy, SideSell, SideShort, SideCover:
		return Side(s), nil
	}
	return "", fmt.Errorf("unknown action: %q", s)
}

// IsBuying reports whether the side pays cash for shares.
func (s Side) IsBuying() bool {
	return s == SideBuy || s == SideCover
}

// Order is a pending request to trade.
type Order struct {
	ID           string           `json:"id"`
	InstrumentID int              `json:"instrumentId"`
	Type         OrderType        `json:"type"`
	Side         Side             `json:"side"`
	TargetPrice  fixedpoint.Value `json:"targetPrice"`
	Quantity     int64            `json:"quantity"`
	CreatedTick  int              `json:"createdTick"`
}

// Trade is a filled order.
type Trade struct {
	ID           string           `json:"id"`
	OrderID      string           `json:"orderId"`
	Side         Side             `json:"side"`
	OrderType    OrderType        `json:"orderType"`
	InstrumentID int              `json:"instrumentId"`
	Quantity     int64            `json:"quantity"`
	Price        fixedpoint.Value `json:"price"`
	Fee          fixedpoint.Value `json:"fee"`
	Profit       fixedpoint.Value `json:"profit"`
	Tick         int              `json:"tick"`
}

// Holding is a long position. TotalCost includes buy fees.
type Holding struct {
	Quantity  int64            `json:"quantity"`
	TotalCost fixedpoint.Value `json:"totalCost"`
}

// AverageCost is TotalCost / Quantity.
func (h *Holding) AverageCost() fixedpoint.Value {
	if h.Quantity == 0 {
		return 0
	}
	avg, _ := fixedpoint.MulDiv(h.TotalCost, 1, h.Quantity)
	return avg
}

// ShortLot is an open short position. TotalProceeds is net of fees.
type ShortLot struct {
	Quantity      int64            `json:"quantity"`
	TotalProceeds fixedpoint.Value `json:"totalProceeds"`
}

// Portfolio is the player's cash and positions.
type Portfolio struct {
	Cash     fixedpoint.Value  `json:"cash"`
	Holdings map[int]*Holding  `json:"holdings"`
	Shorts   map[int]*ShortLot `json:"shorts"`
}

// NewPortfolio creates an empty portfolio with cash.
func NewPortfolio(cash fixedpoint.Value) *Portfolio {
	return &Portfolio{
		Cash:     cash,
		Holdings: make(map[int]*Holding),
		Shorts:   make(map[int]*ShortLot),
	}
}

// Clone returns a deep copy.
func (p *Portfolio) Clone() *Portfolio {
	c := NewPortfolio(p.Cash)
	for id, h := range p.Holdings {
		hh := *h
		c.Holdings[id] = &hh
	}
	for id, s := range p.Shorts {
		ss := *s
		c.Shorts[id] = &ss
	}
	return c
}
