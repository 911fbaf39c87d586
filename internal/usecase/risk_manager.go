package usecase

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vitos/equity_trade_bot/internal/config"
	"github.com/vitos/equity_trade_bot/internal/domain"
	"go.uber.org/zap"
)

// EntryCandidate is the market context of a proposed entry.
type EntryCandidate struct {
	Symbol     string
	Price      float64
	RecentHigh float64
	// Liquidity is the traded value; nil means unknown and skips the floor.
	Liquidity *float64
	Pump24h   float64
	Pump7d    float64
	// Exposure is the value already held in Symbol; PositionValue is the
	// value this entry would add.
	Exposure      float64
	PositionValue float64
}

// ValidationResult lists every rule outcome in evaluation order.
type ValidationResult struct {
	Valid   bool     `json:"valid"`
	Reasons []string `json:"reasons"`
}

func (r *ValidationResult) fail(format string, args ...interface{}) {
	r.Valid = false
	r.Reasons = append(r.Reasons, fmt.Sprintf(format, args...))
}

func (r *ValidationResult) pass(format string, args ...interface{}) {
	r.Reasons = append(r.Reasons, fmt.Sprintf(format, args...))
}

// PositionSize is the outcome of percentage-based sizing.
type PositionSize struct {
	Quantity      float64   `json:"quantity"`
	PositionValue float64   `json:"position_value"`
	StopLoss      float64   `json:"stop_loss"`
	StopLossPct   float64   `json:"stop_loss_pct"`
	TakeProfits   []float64 `json:"take_profits"`
}

// DailySummary is a snapshot of the day's risk counters.
type DailySummary struct {
	Date          string   `json:"date"`
	TradesToday   int      `json:"trades_today"`
	MaxTrades     int      `json:"max_trades"`
	ClosedTrades  int      `json:"closed_trades"`
	WinningTrades int      `json:"winning_trades"`
	LosingTrades  int      `json:"losing_trades"`
	DailyPnL      float64  `json:"daily_pnl"`
	DailyLosses   int      `json:"daily_losses"`
	MaxLosses     int      `json:"max_losses"`
	PnLFloor      float64  `json:"pnl_floor"`
	CanTrade      bool     `json:"can_trade"`
	Blacklist     []string `json:"blacklist"`
}

type riskState struct {
	trades    []*domain.TradeRecord
	losses    int
	pnl       decimal.Decimal
	lastReset string
	blacklist map[string]string
}

// PositionRiskManager enforces entry rules, sizes positions and keeps the
// per-day counters. It is safe for concurrent use.
type PositionRiskManager struct {
	cfg     config.RiskConfig
	sizer   PositionSizer
	logger  *zap.Logger
	timeNow func() time.Time

	mu      sync.Mutex
	capital float64
	state   riskState
}

func NewPositionRiskManager(cfg config.RiskConfig, logger *zap.Logger) *PositionRiskManager {
	m := &PositionRiskManager{
		cfg:     cfg,
		sizer:   NewPositionSizer(cfg.MaxRiskPercent, cfg.MaxCapitalPercent),
		logger:  logger,
		timeNow: time.Now,
		capital: cfg.Capital,
	}
	m.state = riskState{blacklist: make(map[string]string), lastReset: m.today()}
	return m
}

func (m *PositionRiskManager) today() string {
	return m.timeNow().Format("2006-01-02")
}

// resetIfNewDay must be called with mu held.
func (m *PositionRiskManager) resetIfNewDay() {
	today := m.today()
	if today == m.state.lastReset {
		return
	}
	m.logger.Info("New trading day, resetting risk counters",
		zap.String("previous", m.state.lastReset),
		zap.String("today", today),
		zap.Int("trades", len(m.state.trades)),
		zap.Int("losses", m.state.losses),
	)
	m.state.trades = nil
	m.state.losses = 0
	m.state.pnl = decimal.Zero
	m.state.lastReset = today
}

// SetCapital updates the capital the daily loss floor and the position
// caps are measured against.
func (m *PositionRiskManager) SetCapital(capital float64) {
	if capital <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.capital = capital
}

func (m *PositionRiskManager) Sizer() PositionSizer {
	return m.sizer
}

// pnlFloor must be called with mu held.
func (m *PositionRiskManager) pnlFloor() decimal.Decimal {
	return decimal.NewFromFloat(m.capital).
		Mul(decimal.NewFromFloat(m.cfg.MaxDailyLossPercent)).
		Div(decimal.NewFromInt(100)).
		Neg()
}

// ValidateEntry checks c against every entry rule. Failing rules never
// short-circuit; all outcomes are reported.
func (m *PositionRiskManager) ValidateEntry(c EntryCandidate) ValidationResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetIfNewDay()

	res := ValidationResult{Valid: true}

	if reason, ok := m.state.blacklist[c.Symbol]; ok {
		res.fail("%s is blacklisted: %s", c.Symbol, reason)
	}
	if len(m.state.trades) >= m.cfg.MaxTradesPerDay {
		res.fail("daily trade limit reached (%d)", m.cfg.MaxTradesPerDay)
	}
	if m.state.losses >= m.cfg.MaxLossesPerDay {
		res.fail("daily loss limit reached (%d)", m.cfg.MaxLossesPerDay)
	}
	if floor := m.pnlFloor(); !m.state.pnl.GreaterThan(floor) {
		res.fail("daily P&L %s at or below floor %s", m.state.pnl.StringFixed(2), floor.StringFixed(2))
	}

	pump := c.Pump24h
	if c.Pump7d > pump {
		pump = c.Pump7d
	}
	if pump > m.cfg.MaxPumpPercent {
		res.fail("already pumped %.1f%% (> %.1f%%)", pump, m.cfg.MaxPumpPercent)
	}

	if c.RecentHigh > 0 {
		pullback := (c.RecentHigh - c.Price) / c.RecentHigh * 100
		switch {
		case pullback < m.cfg.MinPullbackPercent:
			res.fail("pullback only %.1f%% (need %.1f-%.1f%%)", pullback, m.cfg.MinPullbackPercent, m.cfg.MaxPullbackPercent)
		case pullback > m.cfg.MaxPullbackPercent:
			res.fail("pulled back too far: %.1f%% (> %.1f%%)", pullback, m.cfg.MaxPullbackPercent)
		default:
			res.pass("pullback %.1f%% within %.1f-%.1f%%", pullback, m.cfg.MinPullbackPercent, m.cfg.MaxPullbackPercent)
		}
	}

	if c.Liquidity != nil && *c.Liquidity < m.cfg.MinLiquidity {
		res.fail("low liquidity: %.0f (< %.0f)", *c.Liquidity, m.cfg.MinLiquidity)
	}

	if m.cfg.MaxPortfolioPerAsset > 0 && c.PositionValue > 0 {
		limit := m.capital * m.cfg.MaxPortfolioPerAsset / 100
		if after := c.Exposure + c.PositionValue; after > limit {
			res.fail("exposure to %s would be %.2f (> %.2f, %.1f%% of capital)", c.Symbol, after, limit, m.cfg.MaxPortfolioPerAsset)
		}
	}

	return res
}

// SizePosition sizes an entry from the percentage and absolute caps. The
// take-profit ladder is a fresh slice on every call.
func (m *PositionRiskManager) SizePosition(entry, portfolioValue float64) PositionSize {
	value := portfolioValue * m.cfg.MaxPositionPercent / 100
	if m.cfg.MaxPositionAbsolute < value {
		value = m.cfg.MaxPositionAbsolute
	}
	if value < 0 {
		value = 0
	}
	qty := 0.0
	if entry > 0 {
		qty = value / entry
	}
	return PositionSize{
		Quantity:      qty,
		PositionValue: value,
		StopLoss:      entry * (1 - m.cfg.StopLossPercent/100),
		StopLossPct:   m.cfg.StopLossPercent,
		TakeProfits:   []float64{entry * 2, entry * 5, entry * 10},
	}
}

// CapQuantity limits qty so that qty × price stays within the position
// caps of the current capital. It returns the capped quantity and the
// largest position value allowed.
func (m *PositionRiskManager) CapQuantity(price float64, qty int) (int, float64) {
	m.mu.Lock()
	capital := m.capital
	m.mu.Unlock()

	size := m.SizePosition(price, capital)
	if price <= 0 {
		return 0, size.PositionValue
	}
	fits := decimal.NewFromFloat(size.PositionValue).Div(decimal.NewFromFloat(price)).Floor().IntPart()
	if int64(qty) > fits {
		qty = int(fits)
	}
	return qty, size.PositionValue
}

// RecordTrade counts an opened trade against today's limits.
func (m *PositionRiskManager) RecordTrade(t *domain.TradeRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetIfNewDay()
	m.state.trades = append(m.state.trades, t)
}

// ReleaseTrade gives back the daily slot of a trade whose order never
// filled.
func (m *PositionRiskManager) ReleaseTrade(tradeID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, t := range m.state.trades {
		if t.ID == tradeID {
			m.state.trades = append(m.state.trades[:i:i], m.state.trades[i+1:]...)
			return
		}
	}
}

// RecordResult closes t at exitPrice, adds its P&L to the day and counts a
// loss when negative. It returns the realized P&L.
func (m *PositionRiskManager) RecordResult(t *domain.TradeRecord, exitPrice float64) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetIfNewDay()

	diff := decimal.NewFromFloat(exitPrice).Sub(decimal.NewFromFloat(t.EntryPrice))
	if t.Side == domain.SideSell {
		diff = diff.Neg()
	}
	pnl := diff.Mul(decimal.NewFromFloat(t.Quantity))

	t.ExitPrice = exitPrice
	t.Status = domain.TradeClosed
	t.ClosedAt = m.timeNow()
	t.PnL, _ = pnl.Float64()

	m.state.pnl = m.state.pnl.Add(pnl)
	if pnl.IsNegative() {
		m.state.losses++
	}
	return t.PnL
}

func (m *PositionRiskManager) Blacklist(symbol, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.blacklist[symbol] = reason
	m.logger.Warn("Symbol blacklisted", zap.String("symbol", symbol), zap.String("reason", reason))
}

func (m *PositionRiskManager) IsBlacklisted(symbol string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.state.blacklist[symbol]
	return ok
}

// DailySummary reports today's counters. CanTrade applies the same three
// ceilings as ValidateEntry.
func (m *PositionRiskManager) DailySummary() DailySummary {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetIfNewDay()

	s := DailySummary{
		Date:        m.state.lastReset,
		TradesToday: len(m.state.trades),
		MaxTrades:   m.cfg.MaxTradesPerDay,
		DailyLosses: m.state.losses,
		MaxLosses:   m.cfg.MaxLossesPerDay,
		Blacklist:   make([]string, 0, len(m.state.blacklist)),
	}
	for _, t := range m.state.trades {
		if t.Status != domain.TradeClosed {
			continue
		}
		s.ClosedTrades++
		if t.PnL > 0 {
			s.WinningTrades++
		} else {
			s.LosingTrades++
		}
	}
	for sym := range m.state.blacklist {
		s.Blacklist = append(s.Blacklist, sym)
	}
	sort.Strings(s.Blacklist)

	floor := m.pnlFloor()
	s.DailyPnL, _ = m.state.pnl.Float64()
	s.PnLFloor, _ = floor.Float64()
	s.CanTrade = len(m.state.trades) < m.cfg.MaxTradesPerDay &&
		m.state.losses < m.cfg.MaxLossesPerDay &&
		m.state.pnl.GreaterThan(floor)
	return s
}
