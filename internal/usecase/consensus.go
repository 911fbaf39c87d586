package usecase

import (
	"errors"
	"fmt"

	"github.com/vitos/equity_trade_bot/internal/domain"
	"go.uber.org/zap"
)

// ConsensusEngine runs every strategy on the same snapshot and turns the
// BUY votes into at most one decision.
type ConsensusEngine struct {
	strategies   []Strategy
	threshold    int
	singleFactor float64
	logger       *zap.Logger
}

func NewConsensusEngine(strategies []Strategy, threshold int, singleFactor float64, logger *zap.Logger) *ConsensusEngine {
	if threshold < 1 {
		threshold = 2
	}
	if singleFactor <= 0 || singleFactor > 1 {
		singleFactor = 0.7
	}
	return &ConsensusEngine{
		strategies:   strategies,
		threshold:    threshold,
		singleFactor: singleFactor,
		logger:       logger,
	}
}

func (c *ConsensusEngine) Strategies() []Strategy {
	return c.strategies
}

// Decide evaluates the strategies in registration order. A failing
// strategy loses its vote for this snapshot only.
func (c *ConsensusEngine) Decide(s domain.MarketSnapshot) *domain.Signal {
	var votes []domain.Signal
	for _, st := range c.strategies {
		sig, err := c.analyze(st, s)
		if err != nil {
			strategyErrorsTotal.WithLabelValues(st.Name()).Inc()
			c.logger.Warn("Strategy failed, vote skipped",
				zap.String("strategy", st.Name()),
				zap.String("symbol", s.Symbol),
				zap.Error(err),
			)
			continue
		}
		if sig == nil || sig.Action != domain.ActionBuy {
			continue
		}
		votes = append(votes, *sig)
	}

	switch {
	case len(votes) == 0:
		return nil
	case len(votes) >= c.threshold:
		best := votes[0]
		for _, v := range votes[1:] {
			if v.Confidence > best.Confidence {
				best = v
			}
		}
		best.Reason = fmt.Sprintf("CONSENSUS (%d/%d strategies): %s", len(votes), len(c.strategies), best.Reason)
		signalsTotal.WithLabelValues("consensus").Inc()
		return &best
	case len(votes) == 1:
		single := votes[0]
		single.Confidence = domain.ClampConfidence(single.Confidence * c.singleFactor)
		single.Reason = fmt.Sprintf("SINGLE (%s): %s", single.Strategy, single.Reason)
		signalsTotal.WithLabelValues("single").Inc()
		return &single
	}

	// More than one vote but under a threshold above two.
	c.logger.Debug("Votes below consensus threshold",
		zap.String("symbol", s.Symbol),
		zap.Int("votes", len(votes)),
		zap.Int("threshold", c.threshold),
	)
	return nil
}

// analyze converts errors and panics from a strategy into *StrategyError.
func (c *ConsensusEngine) analyze(st Strategy, s domain.MarketSnapshot) (sig *domain.Signal, err error) {
	defer func() {
		if r := recover(); r != nil {
			sig = nil
			err = &domain.StrategyError{Strategy: st.Name(), Symbol: s.Symbol, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	sig, err = st.Analyze(s)
	if err != nil {
		var se *domain.StrategyError
		if !errors.As(err, &se) {
			err = &domain.StrategyError{Strategy: st.Name(), Symbol: s.Symbol, Err: err}
		}
		return nil, err
	}
	return sig, nil
}

// Halt notifies every strategy that holds state.
func (c *ConsensusEngine) Halt() {
	for _, st := range c.strategies {
		if h, ok := st.(Halter); ok {
			h.Halt()
		}
	}
}
