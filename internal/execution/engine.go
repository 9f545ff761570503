package execution

import (
	"fmt"
	"sync"

	apperrors "marketsim/internal/errors"
	"marketsim/internal/fixedpoint"
	"marketsim/internal/market"
)

// MaxSkillLevel caps the fee discount.
const MaxSkillLevel = 5

// DefaultMaxQuantity is the largest order quantity accepted by default.
const DefaultMaxQuantity int64 = 1_000_000_000

// Config tunes settlement.
type Config struct {
	// FeeRate is in percent of notional: 0.015 means 0.015%.
	FeeRate         float64 `mapstructure:"fee_rate" validate:"gte=0,lte=5"`
	SkillLevel      int     `mapstructure:"skill_level" validate:"gte=0,lte=5"`
	SlippageEnabled bool    `mapstructure:"slippage_enabled"`
	// MaxQuantity caps a single order; zero means DefaultMaxQuantity.
	MaxQuantity int64 `mapstructure:"max_quantity" validate:"gte=0"`
}

// DefaultConfig returns the built-in settlement rules.
func DefaultConfig() Config {
	return Config{
		FeeRate:         0.015,
		SkillLevel:      0,
		SlippageEnabled: true,
		MaxQuantity:     DefaultMaxQuantity,
	}
}

// QuantityLimit returns the effective per-order quantity cap.
func (c Config) QuantityLimit() int64 {
	if c.MaxQuantity <= 0 {
		return DefaultMaxQuantity
	}
	return c.MaxQuantity
}

// Engine is the OrderExecutionEngine. It owns the pending orders and the
// portfolio of one simulation.
type Engine struct {
	cfg       Config
	kinds     market.KindTable
	feeRate   fixedpoint.Value
	portfolio *Portfolio
	pending   []*Order

	orderCounter int
	tradeCounter int

	mu sync.RWMutex
}

// NewEngine creates an Engine with starting cash.
func NewEngine(cfg Config, kinds market.KindTable, cash fixedpoint.Value) *Engine {
	level := cfg.SkillLevel
	if level < 0 {
		level = 0
	}
	if level > MaxSkillLevel {
		level = MaxSkillLevel
	}
	// Each skill level takes 10% off the fee.
	rate, _ := fixedpoint.MulDiv(fixedpoint.FromFloat(cfg.FeeRate), int64(10-level), 10)

	return &Engine{
		cfg:       cfg,
		kinds:     kinds,
		feeRate:   rate,
		portfolio: NewPortfolio(cash),
	}
}

// FeeRate returns the effective fee percent after the skill discount.
func (e *Engine) FeeRate() fixedpoint.Value {
	return e.feeRate
}

// Submit validates and queues an order, assigning its id.
func (e *Engine) Submit(o Order) (*Order, error) {
	if o.Quantity <= 0 {
		return nil, apperrors.NewOrderError("", o.InstrumentID, string(o.Side), "quantity must be positive", apperrors.ErrInvalidOrder)
	}
	if limit := e.cfg.QuantityLimit(); o.Quantity > limit {
		return nil, apperrors.NewOrderError("", o.InstrumentID, string(o.Side), fmt.Sprintf("quantity above %d", limit), apperrors.ErrInvalidOrder)
	}
	if _, err := ParseSide(string(o.Side)); err != nil {
		return nil, apperrors.NewOrderError("", o.InstrumentID, string(o.Side), err.Error(), apperrors.ErrInvalidOrder)
	}
	t, err := ParseOrderType(string(o.Type))
	if err != nil {
		return nil, apperrors.NewOrderError("", o.InstrumentID, string(o.Side), err.Error(), apperrors.ErrInvalidOrder)
	}
	o.Type = t
	if t != OrderMarket && o.TargetPrice <= 0 {
		return nil, apperrors.NewOrderError("", o.InstrumentID, string(o.Side), "target price required", apperrors.ErrInvalidOrder)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.orderCounter++
	o.ID = fmt.Sprintf("ORD-%06d", e.orderCounter)
	order := &o
	e.pending = append(e.pending, order)
	return order, nil
}

// Cancel removes a pending order.
func (e *Engine) Cancel(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i, o := range e.pending {
		if o.ID == id {
			e.pending = append(e.pending[:i], e.pending[i+1:]...)
			return nil
		}
	}
	return apperrors.NewOrderError(id, 0, "CANCEL", "not pending", apperrors.ErrOrderNotFound)
}

// Pending returns a copy of the pending orders in submission order.
func (e *Engine) Pending() []Order {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]Order, len(e.pending))
	for i, o := range e.pending {
		out[i] = *o
	}
	return out
}

// Portfolio returns a snapshot of cash and positions.
func (e *Engine) Portfolio() *Portfolio {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.portfolio.Clone()
}

// Match tries every pending order against the current prices in submission
// order. Orders that cannot settle stay pending.
func (e *Engine) Match(instruments []*market.Instrument, tick int) []*Trade {
	byID := make(map[int]*market.Instrument, len(instruments))
	for _, inst := range instruments {
		byID[inst.ID] = inst
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	var trades []*Trade
	kept := e.pending[:0]
	for _, o := range e.pending {
		inst, ok := byID[o.InstrumentID]
		if !ok || inst.Halted {
			kept = append(kept, o)
			continue
		}
		trade := e.tryFill(o, inst, tick)
		if trade == nil {
			kept = append(kept, o)
			continue
		}
		trades = append(trades, trade)
	}
	for i := len(kept); i < len(e.pending); i++ {
		e.pending[i] = nil
	}
	e.pending = kept
	return trades
}

// Fills reports whether an order of type t on side s triggers at price.
// Short follows the sell column, Cover the buy column.
func Fills(t OrderType, s Side, price, target fixedpoint.Value) bool {
	buying := s.IsBuying()
	switch t {
	case OrderMarket:
		return true
	case OrderLimit, OrderTakeProfit:
		if buying {
			return price <= target
		}
		return price >= target
	case OrderStopLoss:
		if buying {
			return price >= target
		}
		return price <= target
	}
	return false
}

func (e *Engine) tickOf(v fixedpoint.Value, k market.Kind) fixedpoint.Value {
	return fixedpoint.FromFloat(market.TickSize(v.Float(), k))
}

func (e *Engine) quantize(v fixedpoint.Value, k market.Kind) fixedpoint.Value {
	return fixedpoint.RoundToTick(v, e.tickOf(v, k))
}

// ExecutionPrice is the fill price for o at the current market price.
func (e *Engine) ExecutionPrice(o *Order, kind market.Kind, price fixedpoint.Value) fixedpoint.Value {
	target := e.quantize(o.TargetPrice, kind)
	buying := o.Side.IsBuying()

	exec := price
	switch o.Type {
	case OrderLimit, OrderTakeProfit:
		if buying {
			exec = fixedpoint.Min(price, target)
		} else {
			exec = fixedpoint.Max(price, target)
		}
	case OrderMarket, OrderStopLoss:
		if e.cfg.SlippageEnabled {
			slip := fixedpoint.Mul(price, fixedpoint.FromFloat(e.kinds.SlippageRate(kind)))
			if buying {
				exec = price + slip
			} else {
				exec = price - slip
			}
		}
	}

	exec = e.quantize(exec, kind)
	exec = fixedpoint.Max(exec, fixedpoint.FromFloat(e.kinds.MinPrice(kind)))

	if o.Type == OrderLimit || o.Type == OrderTakeProfit {
		if buying {
			exec = fixedpoint.Min(exec, target)
		} else {
			exec = fixedpoint.Max(exec, target)
		}
	}
	return exec
}

// Fee is the charge on a notional amount.
func (e *Engine) Fee(notional fixedpoint.Value) fixedpoint.Value {
	return fixedpoint.PercentOf(notional, e.feeRate)
}

func (e *Engine) tryFill(o *Order, inst *market.Instrument, tick int) *Trade {
	price := fixedpoint.FromFloat(inst.Price)
	target := e.quantize(o.TargetPrice, inst.Kind)
	if !Fills(o.Type, o.Side, price, target) {
		return nil
	}

	exec := e.ExecutionPrice(o, inst.Kind, price)
	// An order whose notional does not fit stays unfilled.
	notional, ok := fixedpoint.MulIntChecked(exec, o.Quantity)
	if !ok {
		return nil
	}
	fee := e.Fee(notional)

	var profit fixedpoint.Value
	p := e.portfolio

	switch o.Side {
	case SideBuy:
		cost, ok := fixedpoint.AddChecked(notional, fee)
		if !ok || p.Cash < cost {
			return nil
		}
		p.Cash -= cost
		h := p.Holdings[o.InstrumentID]
		if h == nil {
			h = &Holding{}
			p.Holdings[o.InstrumentID] = h
		}
		h.Quantity += o.Quantity
		h.TotalCost += cost

	case SideSell:
		h := p.Holdings[o.InstrumentID]
		if h == nil || h.Quantity < o.Quantity {
			return nil
		}
		basis, err := fixedpoint.MulDiv(h.TotalCost, o.Quantity, h.Quantity)
		if err != nil {
			return nil
		}
		proceeds := notional - fee
		cash, ok := fixedpoint.AddChecked(p.Cash, proceeds)
		if !ok {
			return nil
		}
		p.Cash = cash
		profit = proceeds - basis
		h.Quantity -= o.Quantity
		h.TotalCost -= basis
		if h.Quantity == 0 {
			delete(p.Holdings, o.InstrumentID)
		}

	case SideShort:
		// Shorts are fully collateralized by cash.
		if p.Cash < notional {
			return nil
		}
		proceeds := notional - fee
		cash, ok := fixedpoint.AddChecked(p.Cash, proceeds)
		if !ok {
			return nil
		}
		p.Cash = cash
		s := p.Shorts[o.InstrumentID]
		if s == nil {
			s = &ShortLot{}
			p.Shorts[o.InstrumentID] = s
		}
		s.Quantity += o.Quantity
		s.TotalProceeds += proceeds

	case SideCover:
		s := p.Shorts[o.InstrumentID]
		if s == nil || s.Quantity < o.Quantity {
			return nil
		}
		cost, ok := fixedpoint.AddChecked(notional, fee)
		if !ok || p.Cash < cost {
			return nil
		}
		basis, err := fixedpoint.MulDiv(s.TotalProceeds, o.Quantity, s.Quantity)
		if err != nil {
			return nil
		}
		p.Cash -= cost
		profit = basis - cost
		s.Quantity -= o.Quantity
		s.TotalProceeds -= basis
		if s.Quantity == 0 {
			delete(p.Shorts, o.InstrumentID)
		}

	default:
		return nil
	}

	e.tradeCounter++
	return &Trade{
		ID:           fmt.Sprintf("TRD-%06d", e.tradeCounter),
		OrderID:      o.ID,
		Side:         o.Side,
		OrderType:    o.Type,
		InstrumentID: o.InstrumentID,
		Quantity:     o.Quantity,
		Price:        exec,
		Fee:          fee,
		Profit:       profit,
		Tick:         tick,
	}
}

// Equity is cash plus long positions at market minus short liabilities.
func (e *Engine) Equity(instruments []*market.Instrument) fixedpoint.Value {
	e.mu.RLock()
	defer e.mu.RUnlock()

	equity := e.portfolio.Cash
	for _, inst := range instruments {
		price := fixedpoint.FromFloat(inst.Price)
		if h, ok := e.portfolio.Holdings[inst.ID]; ok {
			equity += fixedpoint.MulInt(price, h.Quantity)
		}
		if s, ok := e.portfolio.Shorts[inst.ID]; ok {
			equity -= fixedpoint.MulInt(price, s.Quantity)
		}
	}
	return equity
}

// Seed installs an existing position. Used by tests and by sessions that
// start from a saved portfolio.
func (e *Engine) Seed(instrumentID int, h Holding) {
	e.mu.Lock()
	defer e.mu.Unlock()
	hh := h
	e.portfolio.Holdings[instrumentID] = &hh
}
