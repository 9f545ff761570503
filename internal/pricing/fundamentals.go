package pricing

import (
	"marketsim/internal/market"
)

type fundamentalsEffect struct {
	volatility      float64
	downturnPenalty float64
	bonus           float64
}

// fundamentalsFactor maps company metrics to a volatility multiplier, a
// penalty on negative trend, and a small dividend carry bonus.
func fundamentalsFactor(f *market.Fundamentals, macro market.Macro) fundamentalsEffect {
	fe := fundamentalsEffect{volatility: 1, downturnPenalty: 1}
	if f == nil {
		return fe
	}

	if f.PERatio > 0 {
		fe.volatility = clamp(0.8+f.PERatio/100, 0.8, 1.6)
	}

	switch {
	case f.MarketCap >= 1e14:
		fe.volatility *= 0.7
	case f.MarketCap >= 1e13:
		fe.volatility *= 0.85
	}

	if f.DebtRatio > 2 {
		fe.volatility *= 1.3
		fe.downturnPenalty = 1.5
	}

	if f.DividendYield > 3 {
		fe.volatility *= 0.85
	}
	if f.DividendYield > 0 && f.DividendYield-macro.InterestRate >= 1.5 {
		fe.bonus = 0.0002
	}
	return fe
}
