package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vitos/equity_trade_bot/internal/config"
	"github.com/vitos/equity_trade_bot/internal/domain"
	"go.uber.org/zap"
)

// candleHistory is the completed-candle history of one instrument.
type candleHistory struct {
	prices   []float64
	volumes  []float64
	seededAt time.Time
	last     *domain.Quote
}

// MarketService keeps a bounded candle history per instrument and joins it
// with the live quote into strategy snapshots.
type MarketService struct {
	data     domain.MarketData
	interval domain.CandleInterval
	lookback time.Duration
	window   int
	logger   *zap.Logger

	mu      sync.Mutex
	history map[string]*candleHistory
	timeNow func() time.Time // For testing
}

func NewMarketService(data domain.MarketData, cfg config.StrategyConfig, logger *zap.Logger) (*MarketService, error) {
	interval, err := domain.ParseCandleInterval(cfg.HistoryInterval)
	if err != nil {
		return nil, err
	}
	window := cfg.HistoryWindow
	if window <= 0 {
		window = 120
	}
	lookback := cfg.HistoryLookback
	if lookback <= 0 {
		lookback = 90
	}
	return &MarketService{
		data:     data,
		interval: interval,
		lookback: time.Duration(lookback) * 24 * time.Hour,
		window:   window,
		logger:   logger,
		history:  make(map[string]*candleHistory),
		timeNow:  time.Now,
	}, nil
}

// stale reports whether h was seeded before the current candle opened.
func (s *MarketService) stale(h *candleHistory, now time.Time) bool {
	if h == nil {
		return true
	}
	switch s.interval {
	case domain.IntervalMinute:
		return now.Sub(h.seededAt) >= time.Minute
	case domain.IntervalThirtyMinute:
		return now.Sub(h.seededAt) >= 30*time.Minute
	}
	return h.seededAt.Format("2006-01-02") != now.Format("2006-01-02")
}

// seed loads completed candles. A candle still in progress at now is left
// out; the live quote stands in for it.
func (s *MarketService) seed(ctx context.Context, instrumentKey string, now time.Time) (*candleHistory, error) {
	candles, err := s.data.GetHistoricalCandles(ctx, instrumentKey, s.interval, now.Add(-s.lookback), now)
	if err != nil {
		return nil, err
	}

	today := now.Format("2006-01-02")
	h := &candleHistory{seededAt: now}
	for _, c := range candles {
		at := time.UnixMilli(c.Time).In(now.Location())
		if s.interval == domain.IntervalDay && at.Format("2006-01-02") == today {
			continue
		}
		h.prices = append(h.prices, c.Close)
		h.volumes = append(h.volumes, c.Volume)
	}
	if n := len(h.prices); n > s.window {
		h.prices = h.prices[n-s.window:]
		h.volumes = h.volumes[n-s.window:]
	}

	s.logger.Debug("Seeded candle history",
		zap.String("instrument", instrumentKey),
		zap.String("interval", string(s.interval)),
		zap.Int("candles", len(h.prices)),
	)
	return h, nil
}

// Snapshot refreshes the history of instrumentKey when a new candle has
// started, fetches the live quote and returns a snapshot whose histories
// end with the live point.
func (s *MarketService) Snapshot(ctx context.Context, symbol, instrumentKey string, funds float64) (domain.MarketSnapshot, error) {
	now := s.timeNow()

	s.mu.Lock()
	h := s.history[instrumentKey]
	needsSeed := s.stale(h, now)
	s.mu.Unlock()

	if needsSeed {
		fresh, err := s.seed(ctx, instrumentKey, now)
		if err != nil {
			if h == nil {
				return domain.MarketSnapshot{}, fmt.Errorf("seed history %s: %w", symbol, err)
			}
			s.logger.Warn("History refresh failed, using previous candles",
				zap.String("symbol", symbol), zap.Error(err))
		} else {
			h = fresh
		}
	}

	quote, err := s.data.GetQuote(ctx, instrumentKey)
	if err != nil {
		return domain.MarketSnapshot{}, fmt.Errorf("quote %s: %w", symbol, err)
	}
	if quote.LastPrice <= 0 {
		return domain.MarketSnapshot{}, fmt.Errorf("quote %s: no last price", symbol)
	}

	s.mu.Lock()
	h.last = quote
	s.history[instrumentKey] = h
	prices := make([]float64, 0, len(h.prices)+1)
	prices = append(append(prices, h.prices...), quote.LastPrice)
	volumes := make([]float64, 0, len(h.volumes)+1)
	volumes = append(append(volumes, h.volumes...), quote.Volume)
	s.mu.Unlock()

	return domain.MarketSnapshot{
		Symbol:        symbol,
		Price:         quote.LastPrice,
		PriceHistory:  prices,
		Volume:        quote.Volume,
		VolumeHistory: volumes,
		Funds:         funds,
		At:            now,
	}, nil
}

// LastQuote returns the most recent quote seen for instrumentKey.
func (s *MarketService) LastQuote(instrumentKey string) (*domain.Quote, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.history[instrumentKey]
	if !ok || h.last == nil {
		return nil, false
	}
	q := *h.last
	return &q, true
}

// EntryContext derives the risk rule inputs from a snapshot: the recent
// high over 20 points, one- and seven-point moves and traded value.
func EntryContext(s domain.MarketSnapshot) EntryCandidate {
	c := EntryCandidate{
		Symbol:     s.Symbol,
		Price:      s.Price,
		RecentHigh: Highest(s.PriceHistory, 20),
	}
	n := len(s.PriceHistory)
	if n >= 2 {
		c.Pump24h = PercentChange(s.PriceHistory[n-2], s.Price)
	}
	if n >= 8 {
		c.Pump7d = PercentChange(s.PriceHistory[n-8], s.Price)
	}
	if s.Volume > 0 {
		liquidity := s.Volume * s.Price
		c.Liquidity = &liquidity
	}
	return c
}
