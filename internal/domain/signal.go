package domain

import "time"

type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionHold Action = "HOLD"
)

// Signal is a directional decision produced by a strategy.
// It is passed by value; consumers copy it before changing any field.
type Signal struct {
	Action      Action
	Symbol      string
	Price       float64
	Quantity    int
	Confidence  float64
	Reason      string
	Strategy    string
	StopLoss    float64
	Target      float64
	RiskPercent float64
	Timestamp   time.Time
}

// NewSignal builds a signal with confidence clamped to [0,1].
func NewSignal(action Action, symbol string, price float64, qty int, confidence float64, reason, strategy string, at time.Time) Signal {
	return Signal{
		Action:     action,
		Symbol:     symbol,
		Price:      price,
		Quantity:   qty,
		Confidence: ClampConfidence(confidence),
		Reason:     reason,
		Strategy:   strategy,
		Timestamp:  at,
	}
}

func ClampConfidence(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

// HasStop reports whether a stop-loss below the entry is attached.
func (s Signal) HasStop() bool {
	return s.StopLoss > 0
}
