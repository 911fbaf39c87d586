package usecase

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitos/equity_trade_bot/internal/config"
	"github.com/vitos/equity_trade_bot/internal/domain"
	"go.uber.org/zap"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

func newTestRiskManager(cfg config.RiskConfig) (*PositionRiskManager, *fakeClock) {
	clock := &fakeClock{now: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)}
	m := NewPositionRiskManager(cfg, zap.NewNop())
	m.timeNow = clock.Now
	m.state.lastReset = m.today()
	return m, clock
}

func okCandidate() EntryCandidate {
	liquidity := 1e6
	return EntryCandidate{Symbol: "RELIANCE", Price: 75, RecentHigh: 100, Liquidity: &liquidity}
}

func TestValidateEntry_Passes(t *testing.T) {
	m, _ := newTestRiskManager(config.Default().Risk)
	res := m.ValidateEntry(okCandidate())
	assert.True(t, res.Valid)
	require.Len(t, res.Reasons, 1)
	assert.Contains(t, res.Reasons[0], "pullback 25.0%")
}

func TestValidateEntry_ReasonsKeepRuleOrder(t *testing.T) {
	m, _ := newTestRiskManager(config.Default().Risk)
	m.Blacklist("RELIANCE", "rug")
	for i := 0; i < 3; i++ {
		m.RecordTrade(&domain.TradeRecord{Symbol: "X"})
	}

	low := 10.0
	res := m.ValidateEntry(EntryCandidate{Symbol: "RELIANCE", Price: 99, RecentHigh: 100, Liquidity: &low, Pump24h: 250})
	assert.False(t, res.Valid)
	require.Len(t, res.Reasons, 5)
	assert.Contains(t, res.Reasons[0], "blacklisted")
	assert.Contains(t, res.Reasons[1], "daily trade limit")
	assert.Contains(t, res.Reasons[2], "already pumped 250.0%")
	assert.Contains(t, res.Reasons[3], "pullback only 1.0%")
	assert.Contains(t, res.Reasons[4], "low liquidity")
}

func TestValidateEntry_TradeCeilingAlwaysBlocks(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	for trial := 0; trial < 200; trial++ {
		cfg := config.Default().Risk
		cfg.MaxTradesPerDay = rng.Intn(5)
		cfg.MaxLossesPerDay = 100
		cfg.MinPullbackPercent = 0
		cfg.MaxPullbackPercent = 100
		m, _ := newTestRiskManager(cfg)
		for i := 0; i < cfg.MaxTradesPerDay; i++ {
			m.RecordTrade(&domain.TradeRecord{Symbol: "X"})
		}

		liquidity := rng.Float64() * 1e7
		c := EntryCandidate{
			Symbol:     "ANY",
			Price:      1 + rng.Float64()*100,
			RecentHigh: rng.Float64() * 200,
			Liquidity:  &liquidity,
			Pump24h:    rng.Float64() * 300,
			Pump7d:     rng.Float64() * 300,
		}
		if m.ValidateEntry(c).Valid {
			t.Fatalf("trial %d: entry valid with %d/%d trades", trial, cfg.MaxTradesPerDay, cfg.MaxTradesPerDay)
		}
	}
}

func TestValidateEntry_PullbackBand(t *testing.T) {
	m, _ := newTestRiskManager(config.Default().Risk)
	tests := []struct {
		price float64
		valid bool
		want  string
	}{
		{price: 90, valid: false, want: "pullback only"},
		{price: 70, valid: true, want: "within"},
		{price: 50, valid: false, want: "too far"},
	}
	for _, tt := range tests {
		c := okCandidate()
		c.Price = tt.price
		res := m.ValidateEntry(c)
		assert.Equal(t, tt.valid, res.Valid, "price %v", tt.price)
		assert.Contains(t, res.Reasons[len(res.Reasons)-1], tt.want)
	}
}

func TestValidateEntry_UnknownLiquiditySkipsFloor(t *testing.T) {
	m, _ := newTestRiskManager(config.Default().Risk)
	c := okCandidate()
	c.Liquidity = nil
	assert.True(t, m.ValidateEntry(c).Valid)
}

func TestValidateEntry_ExposureCap(t *testing.T) {
	m, _ := newTestRiskManager(config.Default().Risk)
	c := okCandidate()
	c.Exposure = 900
	c.PositionValue = 200
	res := m.ValidateEntry(c)
	assert.False(t, res.Valid)
	assert.Contains(t, res.Reasons[len(res.Reasons)-1], "exposure to RELIANCE")
}

func TestValidateEntry_DailyPnLFloor(t *testing.T) {
	cfg := config.Default().Risk
	cfg.MaxLossesPerDay = 10
	m, _ := newTestRiskManager(cfg)

	trade := &domain.TradeRecord{Symbol: "ITC", Side: domain.SideBuy, EntryPrice: 100, Quantity: 60}
	m.RecordTrade(trade)
	pnl := m.RecordResult(trade, 90)
	assert.Equal(t, -600.0, pnl)

	res := m.ValidateEntry(okCandidate())
	assert.False(t, res.Valid, "10000 capital at 5% allows 500 of loss")
	assert.Contains(t, res.Reasons[0], "floor -500.00")
	assert.False(t, m.DailySummary().CanTrade)
}

func TestSizePosition_BoundedByCaps(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	for trial := 0; trial < 500; trial++ {
		cfg := config.Default().Risk
		cfg.MaxPositionPercent = rng.Float64() * 50
		cfg.MaxPositionAbsolute = rng.Float64() * 5000
		m, _ := newTestRiskManager(cfg)

		entry := 0.5 + rng.Float64()*3000
		portfolio := rng.Float64() * 1e6
		size := m.SizePosition(entry, portfolio)

		limit := math.Min(portfolio*cfg.MaxPositionPercent/100, cfg.MaxPositionAbsolute)
		if size.Quantity*entry > limit+1e-6 {
			t.Fatalf("trial %d: %v x %v exceeds %v", trial, size.Quantity, entry, limit)
		}
		if size.StopLoss <= 0 || size.StopLoss >= entry {
			t.Fatalf("trial %d: stop %v not below entry %v", trial, size.StopLoss, entry)
		}
	}
}

func TestSizePosition_Ladder(t *testing.T) {
	cfg := config.Default().Risk
	cfg.MaxPositionPercent = 2
	cfg.MaxPositionAbsolute = 40
	m, _ := newTestRiskManager(cfg)
	a := m.SizePosition(10, 1000)
	assert.Equal(t, 20.0, a.PositionValue)
	assert.Equal(t, 2.0, a.Quantity)
	assert.Equal(t, 8.0, a.StopLoss)
	assert.Equal(t, []float64{20, 50, 100}, a.TakeProfits)

	b := m.SizePosition(10, 1000)
	a.TakeProfits[0] = 0
	assert.Equal(t, 20.0, b.TakeProfits[0], "ladders are not shared")

	assert.Equal(t, 0.0, m.SizePosition(0, 1000).Quantity)
}

func TestCapQuantity(t *testing.T) {
	cfg := config.Default().Risk
	cfg.MaxPositionPercent = 5
	m, _ := newTestRiskManager(cfg)

	qty, limit := m.CapQuantity(75, 10)
	assert.Equal(t, 500.0, limit, "5% of 10000 capital")
	assert.Equal(t, 6, qty)

	qty, _ = m.CapQuantity(75, 4)
	assert.Equal(t, 4, qty, "quantities under the cap are kept")

	qty, _ = m.CapQuantity(600, 1)
	assert.Equal(t, 0, qty, "one share above the cap")

	qty, _ = m.CapQuantity(0, 3)
	assert.Equal(t, 0, qty)
}

func TestReleaseTrade_FreesDailySlot(t *testing.T) {
	cfg := config.Default().Risk
	cfg.MaxTradesPerDay = 1
	m, _ := newTestRiskManager(cfg)

	trade := &domain.TradeRecord{ID: "t-1", Symbol: "ITC", Side: domain.SideBuy, EntryPrice: 75, Quantity: 5}
	m.RecordTrade(trade)
	assert.False(t, m.ValidateEntry(okCandidate()).Valid)

	m.ReleaseTrade("t-1")
	assert.Equal(t, 0, m.DailySummary().TradesToday)
	assert.True(t, m.ValidateEntry(okCandidate()).Valid)
}

func TestSizeWithStop_FundsScenario(t *testing.T) {
	sizer := NewPositionSizer(2, 50)
	s := sizer.SizeWithStop(100, 95, 0, 3786.89)
	assert.Equal(t, 15, s.Quantity)
	assert.InDelta(t, 1.98, s.RiskPercent, 0.005)
	assert.Equal(t, 110.0, s.Target)
	assert.Equal(t, 2.0, s.RiskReward)
}

func TestSizeWithStop_CapitalCap(t *testing.T) {
	sizer := NewPositionSizer(2, 25)
	s := sizer.SizeWithStop(100, 95, 106, 3786.89)
	assert.Equal(t, 9, s.Quantity, "25% of funds buys 9 shares at 100")
	assert.Equal(t, 106.0, s.Target)
}

func TestSizeWithStop_Invalid(t *testing.T) {
	sizer := NewPositionSizer(2, 25)
	assert.Equal(t, 0, sizer.SizeWithStop(100, 100, 0, 1000).Quantity)
	assert.Equal(t, 0, sizer.SizeWithStop(0, 95, 0, 1000).Quantity)
	assert.Equal(t, 0, sizer.SizeWithStop(100, 95, 0, 0).Quantity)
}

func TestDailyRollover_ResetsCounters(t *testing.T) {
	cfg := config.Default().Risk
	m, clock := newTestRiskManager(cfg)

	trade := &domain.TradeRecord{Symbol: "ITC", Side: domain.SideBuy, EntryPrice: 100, Quantity: 1}
	m.RecordTrade(trade)
	m.RecordResult(trade, 95)
	before := m.DailySummary()
	assert.Equal(t, 1, before.TradesToday)
	assert.Equal(t, 1, before.DailyLosses)
	assert.False(t, before.CanTrade)

	clock.now = clock.now.Add(24 * time.Hour)
	after := m.DailySummary()
	assert.Equal(t, 0, after.TradesToday)
	assert.Equal(t, 0, after.DailyLosses)
	assert.Equal(t, 0.0, after.DailyPnL)
	assert.True(t, after.CanTrade)
	assert.Equal(t, "2024-03-02", after.Date)
}

func TestRollover_DetectedByValidateEntry(t *testing.T) {
	cfg := config.Default().Risk
	m, clock := newTestRiskManager(cfg)
	for i := 0; i < cfg.MaxTradesPerDay; i++ {
		m.RecordTrade(&domain.TradeRecord{Symbol: "X"})
	}
	assert.False(t, m.ValidateEntry(okCandidate()).Valid)

	clock.now = clock.now.Add(24 * time.Hour)
	assert.True(t, m.ValidateEntry(okCandidate()).Valid)
}

func TestRecordResult_ShortSide(t *testing.T) {
	m, _ := newTestRiskManager(config.Default().Risk)
	trade := &domain.TradeRecord{Side: domain.SideSell, EntryPrice: 100.1, Quantity: 3}
	pnl := m.RecordResult(trade, 100.0)
	assert.InDelta(t, 0.3, pnl, 1e-9)
	assert.Equal(t, domain.TradeClosed, trade.Status)
	assert.Equal(t, 0, m.DailySummary().DailyLosses)
}

func TestBlacklist(t *testing.T) {
	m, _ := newTestRiskManager(config.Default().Risk)
	assert.False(t, m.IsBlacklisted("ITC"))
	m.Blacklist("ITC", "circuit")
	assert.True(t, m.IsBlacklisted("ITC"))
	assert.Equal(t, []string{"ITC"}, m.DailySummary().Blacklist)
}
