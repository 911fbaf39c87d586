package usecase

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/vitos/equity_trade_bot/internal/config"
	"github.com/vitos/equity_trade_bot/internal/domain"
	"go.uber.org/zap"
)

type LoopState string

const (
	LoopStopped LoopState = "STOPPED"
	LoopRunning LoopState = "RUNNING"
)

var ErrLoopRunning = errors.New("trading loop already running")

// CredentialChecker confirms a usable access token exists, refreshing it
// if needed.
type CredentialChecker interface {
	EnsureValid(ctx context.Context) error
}

// SignalView is the JSON form of the last decision for a symbol.
type SignalView struct {
	Symbol     string    `json:"symbol"`
	Action     string    `json:"action"`
	Strategy   string    `json:"strategy"`
	Price      float64   `json:"price"`
	Quantity   int       `json:"quantity"`
	Confidence float64   `json:"confidence"`
	StopLoss   float64   `json:"stop_loss"`
	Target     float64   `json:"target"`
	Reason     string    `json:"reason"`
	At         time.Time `json:"at"`
}

// LoopStatus is a point-in-time view of the loop for the status server.
type LoopStatus struct {
	State       LoopState            `json:"state"`
	DryRun      bool                 `json:"dry_run"`
	StartedAt   time.Time            `json:"started_at,omitempty"`
	LastTick    time.Time            `json:"last_tick,omitempty"`
	Ticks       int                  `json:"ticks"`
	LastError   string               `json:"last_error,omitempty"`
	Funds       float64              `json:"funds"`
	Watchlist   []string             `json:"watchlist"`
	Daily       DailySummary         `json:"daily"`
	OpenTrades  []domain.TradeRecord `json:"open_trades"`
	Pending     []domain.TradeRecord `json:"pending_trades"`
	LastSignals []SignalView         `json:"last_signals"`
}

// TradingLoop polls the watchlist on a fixed interval and routes consensus
// decisions into orders. One tick completes before the next begins.
type TradingLoop struct {
	creds     CredentialChecker
	market    *MarketService
	consensus *ConsensusEngine
	executor  *TradeExecutor
	risk      *PositionRiskManager
	portfolio domain.Portfolio
	loopCfg   config.LoopConfig
	stratCfg  config.StrategyConfig
	interval  time.Duration
	logger    *zap.Logger
	timeNow   func() time.Time

	mu          sync.RWMutex
	state       LoopState
	cancel      context.CancelFunc
	startedAt   time.Time
	lastTick    time.Time
	ticks       int
	lastErr     string
	funds       float64
	lastSignals map[string]SignalView
}

func NewTradingLoop(cfg *config.Config, creds CredentialChecker, market *MarketService, consensus *ConsensusEngine, executor *TradeExecutor, risk *PositionRiskManager, portfolio domain.Portfolio, logger *zap.Logger) *TradingLoop {
	return &TradingLoop{
		creds:       creds,
		market:      market,
		consensus:   consensus,
		executor:    executor,
		risk:        risk,
		portfolio:   portfolio,
		loopCfg:     cfg.Loop,
		stratCfg:    cfg.Strategy,
		interval:    cfg.Loop.Interval(),
		logger:      logger,
		timeNow:     time.Now,
		state:       LoopStopped,
		funds:       cfg.Strategy.Funds,
		lastSignals: make(map[string]SignalView),
	}
}

// Run moves the loop to RUNNING and ticks until ctx is cancelled, Stop is
// called or an authentication failure occurs. A missing or unrefreshable
// credential fails before the first tick.
func (l *TradingLoop) Run(ctx context.Context) error {
	if l.State() == LoopRunning {
		return ErrLoopRunning
	}
	if err := l.creds.EnsureValid(ctx); err != nil {
		return fmt.Errorf("start trading loop: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	l.mu.Lock()
	if l.state == LoopRunning {
		l.mu.Unlock()
		return ErrLoopRunning
	}
	l.state = LoopRunning
	l.cancel = cancel
	l.startedAt = l.timeNow()
	l.lastErr = ""
	l.mu.Unlock()
	loopRunning.Set(1)

	defer l.halt()

	l.logger.Info("Trading loop started",
		zap.Duration("interval", l.interval),
		zap.Int("symbols", len(l.loopCfg.Watchlist)),
		zap.Bool("dry_run", l.loopCfg.DryRun),
	)

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		if err := l.Tick(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			l.logger.Error("Trading loop stopped on unrecoverable error", zap.Error(err))
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Stop asks a running loop to finish after the current request.
func (l *TradingLoop) Stop() {
	l.mu.RLock()
	cancel := l.cancel
	l.mu.RUnlock()
	if cancel != nil {
		cancel()
	}
}

func (l *TradingLoop) halt() {
	l.consensus.Halt()
	l.mu.Lock()
	l.state = LoopStopped
	l.cancel = nil
	l.mu.Unlock()
	loopRunning.Set(0)
	l.logger.Info("Trading loop stopped")
}

func (l *TradingLoop) State() LoopState {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

func (l *TradingLoop) fail(err error) {
	l.mu.Lock()
	l.lastErr = err.Error()
	l.mu.Unlock()
}

// refreshAccount updates the sizing funds and risk capital from the
// account and returns per-symbol exposure. Without a portfolio, or when
// account funds are disabled, the configured funds are used.
func (l *TradingLoop) refreshAccount(ctx context.Context) (float64, map[string]float64, error) {
	funds := l.stratCfg.Funds
	if l.portfolio == nil || !l.stratCfg.UseAccountFunds {
		return funds, nil, nil
	}

	f, err := l.portfolio.GetFunds(ctx)
	switch {
	case errors.Is(err, domain.ErrAuth):
		return 0, nil, err
	case err != nil:
		l.logger.Warn("Funds refresh failed, using last known funds", zap.Error(err))
		l.mu.RLock()
		funds = l.funds
		l.mu.RUnlock()
	default:
		funds = f.AvailableMargin
		l.risk.SetCapital(funds)
	}

	holdings, err := l.portfolio.GetHoldings(ctx)
	if errors.Is(err, domain.ErrAuth) {
		return 0, nil, err
	}
	if err != nil {
		l.logger.Warn("Holdings refresh failed", zap.Error(err))
	}
	positions, err := l.portfolio.GetPositions(ctx)
	if errors.Is(err, domain.ErrAuth) {
		return 0, nil, err
	}
	if err != nil {
		l.logger.Warn("Positions refresh failed", zap.Error(err))
	}
	return funds, domain.Exposure(holdings, positions), nil
}

// Tick runs one pass over the watchlist. Authentication failures and
// cancellation end the pass with an error; anything else is logged and the
// pass moves to the next symbol.
func (l *TradingLoop) Tick(ctx context.Context) error {
	start := time.Now()
	defer func() { tickDuration.Observe(time.Since(start).Seconds()) }()

	funds, exposure, err := l.refreshAccount(ctx)
	if err != nil {
		l.fail(err)
		return err
	}
	l.mu.Lock()
	l.funds = funds
	l.mu.Unlock()

	if err := l.executor.Reconcile(ctx); err != nil {
		l.fail(err)
		return err
	}

	// At most one order per symbol per tick, entries and exits alike.
	submitted := make(map[string]bool)

	for _, item := range l.loopCfg.Watchlist {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := l.processSymbol(ctx, item, funds, exposure, submitted); err != nil {
			l.fail(err)
			if errors.Is(err, domain.ErrAuth) {
				return err
			}
			l.logger.Warn("Symbol skipped this tick", zap.String("symbol", item.Symbol), zap.Error(err))
		}
	}

	l.mu.Lock()
	l.ticks++
	l.lastTick = l.timeNow()
	l.mu.Unlock()
	ticksTotal.Inc()
	return nil
}

func (l *TradingLoop) processSymbol(ctx context.Context, item config.WatchItem, funds float64, exposure map[string]float64, submitted map[string]bool) error {
	if submitted[item.Symbol] {
		l.logger.Debug("Order already submitted this tick", zap.String("symbol", item.Symbol))
		return nil
	}

	snap, err := l.market.Snapshot(ctx, item.Symbol, item.InstrumentKey, funds)
	if err != nil {
		return err
	}

	closed, err := l.executor.ManageExits(ctx, item, snap.Price)
	if err != nil {
		return err
	}
	if len(closed) > 0 {
		submitted[item.Symbol] = true
		return nil
	}

	sig := l.consensus.Decide(snap)
	if sig == nil {
		return nil
	}
	l.remember(*sig)
	if sig.Action == domain.ActionHold {
		return nil
	}

	candidate := EntryContext(snap)
	// The account view lags fills, so trades opened here count too.
	candidate.Exposure = math.Max(exposure[item.Symbol], l.executor.OpenValue(item.Symbol))
	res, err := l.executor.Execute(ctx, item, *sig, candidate)
	if err != nil {
		return err
	}
	if res.Placed {
		submitted[item.Symbol] = true
	}
	return nil
}

func (l *TradingLoop) remember(sig domain.Signal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lastSignals[sig.Symbol] = SignalView{
		Symbol:     sig.Symbol,
		Action:     string(sig.Action),
		Strategy:   sig.Strategy,
		Price:      sig.Price,
		Quantity:   sig.Quantity,
		Confidence: sig.Confidence,
		StopLoss:   sig.StopLoss,
		Target:     sig.Target,
		Reason:     sig.Reason,
		At:         sig.Timestamp,
	}
}

func (l *TradingLoop) Status() LoopStatus {
	l.mu.RLock()
	st := LoopStatus{
		State:     l.state,
		DryRun:    l.loopCfg.DryRun,
		StartedAt: l.startedAt,
		LastTick:  l.lastTick,
		Ticks:     l.ticks,
		LastError: l.lastErr,
		Funds:     l.funds,
	}
	for _, item := range l.loopCfg.Watchlist {
		st.Watchlist = append(st.Watchlist, item.Symbol)
		if sig, ok := l.lastSignals[item.Symbol]; ok {
			st.LastSignals = append(st.LastSignals, sig)
		}
	}
	l.mu.RUnlock()

	st.Daily = l.risk.DailySummary()
	st.OpenTrades = l.executor.OpenTrades()
	st.Pending = l.executor.PendingTrades()
	return st
}
