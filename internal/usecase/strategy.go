package usecase

import (
	"fmt"
	"sync"

	"github.com/vitos/equity_trade_bot/internal/config"
	"github.com/vitos/equity_trade_bot/internal/domain"
)

const (
	StrategyTrendPullback = "trend_pullback"
	StrategyBreakout      = "breakout"
	StrategyRSI           = "rsi_mean_reversion"
	StrategyMACrossover   = "ma_crossover"
)

// Strategy turns a market snapshot into an optional BUY signal. A nil
// signal with a nil error means no opinion.
type Strategy interface {
	Name() string
	Analyze(s domain.MarketSnapshot) (*domain.Signal, error)
}

// Halter is implemented by strategies that hold state worth clearing when
// the loop stops.
type Halter interface {
	Halt()
}

// NewStrategies builds the enabled strategies in configuration order.
func NewStrategies(cfg config.StrategyConfig, sizer PositionSizer) ([]Strategy, error) {
	out := make([]Strategy, 0, len(cfg.Enabled))
	for _, name := range cfg.Enabled {
		switch name {
		case StrategyTrendPullback:
			out = append(out, NewTrendPullback(sizer))
		case StrategyBreakout:
			out = append(out, NewBreakout(sizer))
		case StrategyRSI:
			out = append(out, NewRSIMeanReversion(sizer, cfg.RSIPeriod, cfg.RSIOversold))
		case StrategyMACrossover:
			out = append(out, NewMACrossover(sizer, cfg.MAShort, cfg.MALong))
		default:
			return nil, fmt.Errorf("%w: unknown strategy %q", domain.ErrInvalid, name)
		}
	}
	return out, nil
}

// buySignal sizes an entry and builds the signal, or returns nil when the
// sizing leaves nothing to buy.
func buySignal(s domain.MarketSnapshot, sizer PositionSizer, strategy string, confidence, stop, target float64, reason string) *domain.Signal {
	sized := sizer.SizeWithStop(s.Price, stop, target, s.Funds)
	if sized.Quantity <= 0 {
		return nil
	}
	sig := domain.NewSignal(domain.ActionBuy, s.Symbol, s.Price, sized.Quantity, confidence, reason, strategy, s.At)
	sig.StopLoss = stop
	sig.Target = sized.Target
	sig.RiskPercent = sized.RiskPercent
	return &sig
}

// TrendPullback buys dips toward the 10-period low while price holds above
// a rising 10/20 average stack.
type TrendPullback struct {
	sizer PositionSizer
}

func NewTrendPullback(sizer PositionSizer) *TrendPullback {
	return &TrendPullback{sizer: sizer}
}

func (t *TrendPullback) Name() string { return StrategyTrendPullback }

func (t *TrendPullback) Analyze(s domain.MarketSnapshot) (*domain.Signal, error) {
	prices, volumes := s.PriceHistory, s.VolumeHistory
	if len(prices) < 30 || len(volumes) < 10 {
		return nil, nil
	}

	ma10, ma20 := SMA(prices, 10), SMA(prices, 20)
	if !(s.Price > ma10 && ma10 > ma20) {
		return nil, nil
	}

	low := Lowest(prices, 10)
	pullback := s.Price <= low*1.02 && s.Price > ma20*0.98

	avgVolume := SMA(volumes, 10)
	volumeOK := avgVolume > 0 && s.Volume > avgVolume*1.3
	if !pullback || !volumeOK {
		return nil, nil
	}

	stop := ma20 * 0.97
	if low*0.97 < stop {
		stop = low * 0.97
	}
	reason := fmt.Sprintf("dip in uptrend: %.2f near 10-period low %.2f, MA20 %.2f", s.Price, low, ma20)
	return buySignal(s, t.sizer, t.Name(), 0.75, stop, 0, reason), nil
}

// Breakout buys a close at least 1% over the 20-period high on volume.
type Breakout struct {
	sizer PositionSizer
}

func NewBreakout(sizer PositionSizer) *Breakout {
	return &Breakout{sizer: sizer}
}

func (b *Breakout) Name() string { return StrategyBreakout }

func (b *Breakout) Analyze(s domain.MarketSnapshot) (*domain.Signal, error) {
	prices, volumes := s.PriceHistory, s.VolumeHistory
	if len(prices) < 25 || len(volumes) < 10 {
		return nil, nil
	}

	// Resistance is measured on the 20 points before the current one.
	resistance := Highest(prices[:len(prices)-1], 20)
	if s.Price < resistance*1.01 {
		return nil, nil
	}
	if s.Volume < SMA(volumes, 10)*1.3 {
		return nil, nil
	}

	stop := resistance * 0.98
	target := s.Price * 1.06
	reason := fmt.Sprintf("breakout: %.2f cleared resistance %.2f on volume", s.Price, resistance)
	return buySignal(s, b.sizer, b.Name(), 0.80, stop, target, reason), nil
}

// RSIMeanReversion buys oversold readings, more confidently the deeper
// the reading.
type RSIMeanReversion struct {
	sizer    PositionSizer
	period   int
	oversold float64
}

func NewRSIMeanReversion(sizer PositionSizer, period int, oversold float64) *RSIMeanReversion {
	if period <= 0 {
		period = 14
	}
	if oversold <= 0 {
		oversold = 30
	}
	return &RSIMeanReversion{sizer: sizer, period: period, oversold: oversold}
}

func (r *RSIMeanReversion) Name() string { return StrategyRSI }

func (r *RSIMeanReversion) Analyze(s domain.MarketSnapshot) (*domain.Signal, error) {
	if len(s.PriceHistory) < r.period+5 {
		return nil, nil
	}
	rsi := RSI(s.PriceHistory, r.period)
	if rsi >= r.oversold {
		return nil, nil
	}

	stop := Lowest(s.PriceHistory, 10) * 0.98
	confidence := (r.oversold - rsi) / r.oversold
	reason := fmt.Sprintf("RSI oversold: %.1f < %.0f", rsi, r.oversold)
	return buySignal(s, r.sizer, r.Name(), confidence, stop, 0, reason), nil
}

// MACrossover buys when the short average first rises above the long one.
// The bias is tracked per symbol and re-arms once the short average falls
// back to or below the long one.
type MACrossover struct {
	sizer      PositionSizer
	short      int
	long       int
	mu         sync.Mutex
	lastAction map[string]domain.Action
}

func NewMACrossover(sizer PositionSizer, short, long int) *MACrossover {
	if short <= 0 {
		short = 10
	}
	if long <= short {
		long = 30
	}
	return &MACrossover{sizer: sizer, short: short, long: long, lastAction: make(map[string]domain.Action)}
}

func (m *MACrossover) Name() string { return StrategyMACrossover }

func (m *MACrossover) Analyze(s domain.MarketSnapshot) (*domain.Signal, error) {
	if len(s.PriceHistory) < m.long+5 {
		return nil, nil
	}
	shortMA := SMA(s.PriceHistory, m.short)
	longMA := SMA(s.PriceHistory, m.long)

	m.mu.Lock()
	defer m.mu.Unlock()

	if shortMA <= longMA {
		delete(m.lastAction, s.Symbol)
		return nil, nil
	}
	if m.lastAction[s.Symbol] == domain.ActionBuy {
		return nil, nil
	}
	m.lastAction[s.Symbol] = domain.ActionBuy

	stop := longMA * 0.97
	reason := fmt.Sprintf("MA crossover: %dMA %.2f > %dMA %.2f", m.short, shortMA, m.long, longMA)
	return buySignal(s, m.sizer, m.Name(), 0.70, stop, 0, reason), nil
}

// Halt forgets every symbol's bias.
func (m *MACrossover) Halt() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastAction = make(map[string]domain.Action)
}
