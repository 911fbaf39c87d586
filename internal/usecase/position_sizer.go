package usecase

import (
	"github.com/shopspring/decimal"
)

// StopSizing is a position sized from a strategy-specific stop.
type StopSizing struct {
	Quantity      int
	PositionValue float64
	RiskAmount    float64
	RiskPercent   float64
	StopLoss      float64
	Target        float64
	RiskReward    float64
}

// PositionSizer bounds a trade by the capital at risk and by the share of
// capital committed to one position. Percentages are whole numbers.
type PositionSizer struct {
	MaxRiskPercent    float64
	MaxCapitalPercent float64
}

func NewPositionSizer(maxRiskPercent, maxCapitalPercent float64) PositionSizer {
	return PositionSizer{MaxRiskPercent: maxRiskPercent, MaxCapitalPercent: maxCapitalPercent}
}

// SizeWithStop sizes a long entry so the loss at stop stays within
// MaxRiskPercent of funds. A zero target defaults to entry plus twice the
// risk per share. Invalid prices give a zero quantity.
func (p PositionSizer) SizeWithStop(entry, stop, target, funds float64) StopSizing {
	out := StopSizing{StopLoss: stop, Target: target}
	if entry <= 0 || stop <= 0 || funds <= 0 {
		return out
	}
	e := decimal.NewFromFloat(entry)
	s := decimal.NewFromFloat(stop)
	f := decimal.NewFromFloat(funds)
	hundred := decimal.NewFromInt(100)

	riskPerShare := e.Sub(s).Abs()
	if riskPerShare.IsZero() {
		return out
	}

	maxRisk := f.Mul(decimal.NewFromFloat(p.MaxRiskPercent)).Div(hundred)
	qty := maxRisk.Div(riskPerShare).Floor()

	maxValue := f.Mul(decimal.NewFromFloat(p.MaxCapitalPercent)).Div(hundred)
	if qty.Mul(e).GreaterThan(maxValue) {
		qty = maxValue.Div(e).Floor()
	}
	if qty.IsNegative() {
		qty = decimal.Zero
	}

	if target == 0 {
		out.Target, _ = e.Add(e.Sub(s).Mul(decimal.NewFromInt(2))).Float64()
	}
	risk := qty.Mul(riskPerShare)

	out.Quantity = int(qty.IntPart())
	out.PositionValue, _ = qty.Mul(e).Float64()
	out.RiskAmount, _ = risk.Float64()
	out.RiskPercent, _ = risk.Div(f).Mul(hundred).Float64()
	out.RiskReward, _ = decimal.NewFromFloat(out.Target).Sub(e).Abs().Div(riskPerShare).Float64()
	return out
}
