package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vitos/equity_trade_bot/internal/config"
	"github.com/vitos/equity_trade_bot/internal/domain"
	"go.uber.org/zap"
)

// ExecutionResult describes what happened to one signal.
type ExecutionResult struct {
	Validation ValidationResult
	Placed     bool
	Rejected   bool
	DryRun     bool
	OrderID    string
	Trade      *domain.TradeRecord
}

// TradeExecutor routes signals through the risk rules into orders and
// keeps the trades it opened until they are closed.
type TradeExecutor struct {
	orders  domain.OrderGateway
	risk    *PositionRiskManager
	journal domain.TradeJournal
	cfg     config.LoopConfig
	logger  *zap.Logger
	timeNow func() time.Time

	mu      sync.Mutex
	open    map[string][]*domain.TradeRecord
	pending map[string]*domain.TradeRecord
}

func NewTradeExecutor(orders domain.OrderGateway, risk *PositionRiskManager, journal domain.TradeJournal, cfg config.LoopConfig, logger *zap.Logger) *TradeExecutor {
	return &TradeExecutor{
		orders:  orders,
		risk:    risk,
		journal: journal,
		cfg:     cfg,
		logger:  logger,
		timeNow: time.Now,
		open:    make(map[string][]*domain.TradeRecord),
		pending: make(map[string]*domain.TradeRecord),
	}
}

func (e *TradeExecutor) request(item config.WatchItem, side domain.TransactionSide, qty int, price float64) (domain.OrderRequest, error) {
	kind, err := domain.ParseOrderType(e.cfg.OrderType)
	if err != nil {
		return domain.OrderRequest{}, err
	}
	product, err := domain.ParseProduct(e.cfg.Product)
	if err != nil {
		return domain.OrderRequest{}, err
	}
	exchange, err := domain.ParseExchange(e.cfg.Exchange)
	if err != nil {
		return domain.OrderRequest{}, err
	}
	if !kind.NeedsPrice() {
		price = 0
	}
	return domain.NewOrderRequest(item.InstrumentKey, side, qty, kind, product, exchange, price, 0, "")
}

// place submits req, or fakes an accepted order in dry-run mode. An empty
// order id with a nil error means the brokerage rejected the order.
func (e *TradeExecutor) place(ctx context.Context, req domain.OrderRequest) (string, error) {
	if e.cfg.DryRun {
		return "DRY-" + strings.ToUpper(uuid.NewString()[:8]), nil
	}
	res, err := e.orders.Place(ctx, req)
	if err != nil {
		return "", err
	}
	if !res.Accepted {
		e.logger.Warn("Order rejected",
			zap.String("instrument", req.InstrumentKey),
			zap.String("side", string(req.Side)),
			zap.ByteString("response", res.Raw),
		)
		return "", nil
	}
	return res.OrderID, nil
}

// Execute validates sig against the risk rules and places the entry.
// candidate carries the market context; its PositionValue is filled from
// the signal. The quantity is capped by the position limits. An accepted
// order stays pending until OnOrderUpdate or Reconcile sees it fill; in
// dry-run mode it fills at once. Errors are reserved for failures the
// loop must act on.
func (e *TradeExecutor) Execute(ctx context.Context, item config.WatchItem, sig domain.Signal, candidate EntryCandidate) (*ExecutionResult, error) {
	out := &ExecutionResult{DryRun: e.cfg.DryRun}
	if sig.Action == domain.ActionHold || sig.Quantity <= 0 {
		return out, nil
	}
	side := domain.SideBuy
	if sig.Action == domain.ActionSell {
		side = domain.SideSell
	}

	qty, maxValue := e.risk.CapQuantity(sig.Price, sig.Quantity)
	if qty <= 0 {
		out.Validation.fail("position limit %.2f buys no shares at %.2f", maxValue, sig.Price)
		entriesTotal.WithLabelValues("blocked").Inc()
		e.logger.Info("Entry blocked by position limit",
			zap.String("symbol", item.Symbol),
			zap.Float64("price", sig.Price),
			zap.Float64("max_value", maxValue),
		)
		return out, nil
	}

	candidate.PositionValue = float64(qty) * sig.Price
	out.Validation = e.risk.ValidateEntry(candidate)
	if qty < sig.Quantity {
		out.Validation.pass("quantity capped from %d to %d by position limit %.2f", sig.Quantity, qty, maxValue)
	}
	if !out.Validation.Valid {
		entriesTotal.WithLabelValues("blocked").Inc()
		e.logger.Info("Entry blocked by risk rules",
			zap.String("symbol", item.Symbol),
			zap.String("strategy", sig.Strategy),
			zap.Strings("reasons", out.Validation.Reasons),
		)
		return out, nil
	}

	req, err := e.request(item, side, qty, sig.Price)
	if err != nil {
		return out, fmt.Errorf("build order for %s: %w", item.Symbol, err)
	}

	orderID, err := e.place(ctx, req)
	if err != nil {
		entriesTotal.WithLabelValues("error").Inc()
		return out, fmt.Errorf("place order for %s: %w", item.Symbol, err)
	}
	if orderID == "" {
		entriesTotal.WithLabelValues("rejected").Inc()
		out.Rejected = true
		return out, nil
	}

	trade := &domain.TradeRecord{
		ID:         uuid.NewString(),
		Symbol:     item.Symbol,
		Side:       side,
		Strategy:   sig.Strategy,
		OrderID:    orderID,
		EntryPrice: sig.Price,
		Quantity:   float64(qty),
		StopLoss:   sig.StopLoss,
		Status:     domain.TradePending,
		Notes:      sig.Reason,
		OpenedAt:   e.timeNow(),
	}
	if sig.Target > 0 {
		trade.TakeProfits = []float64{sig.Target}
	}
	if e.cfg.DryRun {
		trade.Notes = "dry run; " + trade.Notes
	}

	// The daily slot is held while the order is pending.
	e.risk.RecordTrade(trade)

	entriesTotal.WithLabelValues("placed").Inc()
	e.logger.Info("Entry placed",
		zap.String("symbol", item.Symbol),
		zap.String("order_id", orderID),
		zap.String("strategy", sig.Strategy),
		zap.Int("qty", qty),
		zap.Float64("price", sig.Price),
		zap.Float64("stop", sig.StopLoss),
		zap.Float64("confidence", sig.Confidence),
		zap.Bool("dry_run", e.cfg.DryRun),
	)
	out.Placed = true
	out.OrderID = orderID
	out.Trade = trade

	if e.cfg.DryRun {
		e.fill(ctx, trade, qty, sig.Price)
		return out, nil
	}
	e.mu.Lock()
	e.pending[orderID] = trade
	e.mu.Unlock()
	return out, nil
}

// fill opens a pending trade at the executed quantity and price and
// journals the entry.
func (e *TradeExecutor) fill(ctx context.Context, t *domain.TradeRecord, qty int, price float64) {
	if qty > 0 {
		t.Quantity = float64(qty)
	}
	if price > 0 {
		t.EntryPrice = price
	}
	t.Status = domain.TradeOpen

	e.mu.Lock()
	e.open[t.Symbol] = append(e.open[t.Symbol], t)
	e.mu.Unlock()

	if err := e.journal.LogEntry(ctx, t); err != nil {
		e.logger.Error("Failed to journal entry", zap.String("trade", t.ID), zap.Error(err))
	}
	e.logger.Info("Entry filled",
		zap.String("symbol", t.Symbol),
		zap.String("order_id", t.OrderID),
		zap.Float64("qty", t.Quantity),
		zap.Float64("price", t.EntryPrice),
	)
}

// claim removes the pending trade of orderID so that exactly one caller
// settles it.
func (e *TradeExecutor) claim(orderID string) *domain.TradeRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.pending[orderID]
	if ok {
		delete(e.pending, orderID)
	}
	return t
}

// OnOrderUpdate settles the pending entry of o.ID. A complete order opens
// the trade at the filled quantity and average price. A cancelled or
// rejected order opens whatever part filled and otherwise drops the trade
// and frees its daily slot. It reports whether o settled a pending entry.
func (e *TradeExecutor) OnOrderUpdate(ctx context.Context, o domain.Order) bool {
	switch o.Status {
	case domain.OrderComplete, domain.OrderCancelled, domain.OrderRejected:
	default:
		return false
	}
	t := e.claim(o.ID)
	if t == nil {
		return false
	}

	if o.Status == domain.OrderComplete || o.FilledQty > 0 {
		e.fill(ctx, t, o.FilledQty, o.AveragePrice)
		return true
	}

	e.risk.ReleaseTrade(t.ID)
	entriesTotal.WithLabelValues("unfilled").Inc()
	e.logger.Warn("Entry order did not fill",
		zap.String("symbol", t.Symbol),
		zap.String("order_id", o.ID),
		zap.String("status", string(o.Status)),
		zap.String("message", o.StatusMessage),
	)
	return true
}

// Reconcile polls the history of every pending entry order and settles
// those that reached a final state. Only authentication failures are
// returned; other lookups are retried on the next call.
func (e *TradeExecutor) Reconcile(ctx context.Context) error {
	e.mu.Lock()
	ids := make([]string, 0, len(e.pending))
	for id := range e.pending {
		ids = append(ids, id)
	}
	e.mu.Unlock()
	sort.Strings(ids)

	for _, id := range ids {
		trail, err := e.orders.History(ctx, id)
		if errors.Is(err, domain.ErrAuth) {
			return err
		}
		if err != nil {
			e.logger.Warn("Order status lookup failed", zap.String("order_id", id), zap.Error(err))
			continue
		}
		if len(trail) == 0 {
			continue
		}
		latest := *trail[len(trail)-1]
		latest.ID = id
		e.OnOrderUpdate(ctx, latest)
	}
	return nil
}

// exitReason reports why an open long should be closed at price, or "".
func exitReason(t *domain.TradeRecord, price float64) string {
	if t.Side != domain.SideBuy {
		return ""
	}
	if t.StopLoss > 0 && price <= t.StopLoss {
		return fmt.Sprintf("stop loss hit at %.2f (stop %.2f)", price, t.StopLoss)
	}
	if len(t.TakeProfits) > 0 && t.TakeProfits[0] > 0 && price >= t.TakeProfits[0] {
		return fmt.Sprintf("target hit at %.2f (target %.2f)", price, t.TakeProfits[0])
	}
	return ""
}

// ManageExits closes the open trades of item whose stop or first target
// was crossed by price. It returns the trades it closed.
func (e *TradeExecutor) ManageExits(ctx context.Context, item config.WatchItem, price float64) ([]*domain.TradeRecord, error) {
	e.mu.Lock()
	trades := append([]*domain.TradeRecord(nil), e.open[item.Symbol]...)
	e.mu.Unlock()

	var closed []*domain.TradeRecord
	for _, t := range trades {
		reason := exitReason(t, price)
		if reason == "" {
			continue
		}
		req, err := e.request(item, domain.SideSell, int(t.Quantity), price)
		if err != nil {
			return closed, fmt.Errorf("build exit for %s: %w", item.Symbol, err)
		}
		orderID, err := e.place(ctx, req)
		if err != nil {
			return closed, fmt.Errorf("place exit for %s: %w", item.Symbol, err)
		}
		if orderID == "" {
			continue
		}

		e.forget(item.Symbol, t.ID)
		pnl := e.risk.RecordResult(t, price)
		if err := e.journal.LogExit(ctx, t.ID, price, pnl, reason, t.ClosedAt); err != nil {
			e.logger.Error("Failed to journal exit", zap.String("trade", t.ID), zap.Error(err))
		}
		e.logger.Info("Position closed",
			zap.String("symbol", item.Symbol),
			zap.String("order_id", orderID),
			zap.String("reason", reason),
			zap.Float64("pnl", pnl),
		)
		closed = append(closed, t)
	}
	return closed, nil
}

func (e *TradeExecutor) forget(symbol, tradeID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	list := e.open[symbol]
	for i, t := range list {
		if t.ID == tradeID {
			e.open[symbol] = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if len(e.open[symbol]) == 0 {
		delete(e.open, symbol)
	}
}

// OpenTrades returns copies of the trades not yet closed.
func (e *TradeExecutor) OpenTrades() []domain.TradeRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []domain.TradeRecord
	for _, list := range e.open {
		for _, t := range list {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenedAt.Before(out[j].OpenedAt) })
	return out
}

// PendingTrades returns copies of the entries still waiting for a fill.
func (e *TradeExecutor) PendingTrades() []domain.TradeRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]domain.TradeRecord, 0, len(e.pending))
	for _, t := range e.pending {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenedAt.Before(out[j].OpenedAt) })
	return out
}

// OpenValue is the entry value of the open and pending trades in symbol.
func (e *TradeExecutor) OpenValue(symbol string) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	v := 0.0
	for _, t := range e.open[symbol] {
		v += t.Quantity * t.EntryPrice
	}
	for _, t := range e.pending {
		if t.Symbol == symbol {
			v += t.Quantity * t.EntryPrice
		}
	}
	return v
}
