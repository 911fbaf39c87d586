package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vitos/equity_trade_bot/internal/domain"
	"go.uber.org/zap"
)

// Upstox caps order tags at 20 characters.
const maxTagLen = 20

// OrderUpdate is a remote status change for one order, from the history
// endpoint or the portfolio stream.
type OrderUpdate struct {
	OrderID       string
	Status        string
	StatusMessage string
	FilledQty     int
	AveragePrice  float64
	At            time.Time
}

// Fill is one exchange execution against an order.
type Fill struct {
	TradeID  string    `json:"trade_id"`
	OrderID  string    `json:"order_id"`
	Quantity int       `json:"quantity"`
	Price    float64   `json:"average_price"`
	At       time.Time `json:"-"`
}

// OrderLedger places orders and keeps the local view of their lifecycle.
type OrderLedger struct {
	transport *Transport
	logger    *zap.Logger
	timeNow   func() time.Time

	mu     sync.RWMutex
	orders map[string]*domain.Order
}

func NewOrderLedger(t *Transport, logger *zap.Logger) *OrderLedger {
	return &OrderLedger{
		transport: t,
		logger:    logger,
		timeNow:   time.Now,
		orders:    make(map[string]*domain.Order),
	}
}

type placeBody struct {
	Quantity          int     `json:"quantity"`
	Product           string  `json:"product"`
	Validity          string  `json:"validity"`
	Price             float64 `json:"price"`
	Tag               string  `json:"tag,omitempty"`
	InstrumentToken   string  `json:"instrument_token"`
	OrderType         string  `json:"order_type"`
	TransactionType   string  `json:"transaction_type"`
	DisclosedQuantity int     `json:"disclosed_quantity"`
	TriggerPrice      float64 `json:"trigger_price"`
	IsAMO             bool    `json:"is_amo"`
}

// Place submits req. A remote refusal is reported through
// PlaceResult.Accepted; only authentication failures and context
// cancellation are returned as errors.
func (l *OrderLedger) Place(ctx context.Context, req domain.OrderRequest) (*domain.PlaceResult, error) {
	if req.Tag == "" {
		req.Tag = newOrderTag()
	}
	validity := req.Validity
	if validity == "" {
		validity = domain.ValidityDay
	}

	order := domain.NewOrder(req, l.timeNow())
	body := placeBody{
		Quantity:        req.Quantity,
		Product:         string(req.Product),
		Validity:        string(validity),
		Price:           req.Price,
		Tag:             req.Tag,
		InstrumentToken: req.InstrumentKey,
		OrderType:       string(req.Type),
		TransactionType: string(req.Side),
		TriggerPrice:    req.TriggerPrice,
		IsAMO:           req.Product == domain.ProductAfterMarket,
	}

	raw, err := l.transport.Do(ctx, Request{Method: http.MethodPost, Path: "/order/place", Body: body})
	if err == nil {
		var data struct {
			OrderID string `json:"order_id"`
		}
		err = decodeEnvelope(raw, &data)
		if err == nil && data.OrderID == "" {
			err = &APIError{Message: "response carried no order id", Body: raw}
		}
		if err == nil {
			order.ID = data.OrderID
			_ = order.Transition(domain.OrderSubmitted, l.timeNow())
			l.track(order)
			ordersTotal.WithLabelValues("accepted").Inc()

			l.logger.Info("Order placed",
				zap.String("order_id", order.ID),
				zap.String("instrument", req.InstrumentKey),
				zap.String("side", string(req.Side)),
				zap.Int("qty", req.Quantity),
				zap.String("type", string(req.Type)),
				zap.String("tag", req.Tag),
			)
			snapshot := *order
			return &domain.PlaceResult{Accepted: true, OrderID: order.ID, Order: &snapshot, Raw: raw}, nil
		}
	}

	if errors.Is(err, domain.ErrAuth) {
		ordersTotal.WithLabelValues("auth_error").Inc()
		return nil, fmt.Errorf("place order: %w", err)
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	order.StatusMessage = err.Error()
	_ = order.Transition(domain.OrderRejected, l.timeNow())
	ordersTotal.WithLabelValues("rejected").Inc()

	l.logger.Warn("Order rejected",
		zap.String("instrument", req.InstrumentKey),
		zap.String("side", string(req.Side)),
		zap.Int("qty", req.Quantity),
		zap.String("tag", req.Tag),
		zap.Error(err),
	)
	return &domain.PlaceResult{Accepted: false, Order: order, Raw: rejectionPayload(err)}, nil
}

// rejectionPayload returns the remote body behind err, or a synthesized
// error envelope when there was none.
func rejectionPayload(err error) []byte {
	var (
		ce  *ClientError
		se  *ServerError
		rl  *RateLimitError
		api *APIError
	)
	switch {
	case errors.As(err, &ce) && len(ce.Body) > 0:
		return ce.Body
	case errors.As(err, &api) && len(api.Body) > 0:
		return api.Body
	case errors.As(err, &se) && len(se.Body) > 0:
		return se.Body
	case errors.As(err, &rl) && len(rl.Body) > 0:
		return rl.Body
	}
	b, _ := json.Marshal(map[string]string{"status": "error", "message": err.Error()})
	return b
}

func newOrderTag() string {
	tag := strings.ReplaceAll(uuid.NewString(), "-", "")
	return tag[:maxTagLen]
}

func (l *OrderLedger) Cancel(ctx context.Context, orderID string) error {
	err := l.transport.DoJSON(ctx, Request{
		Method: http.MethodDelete,
		Path:   "/order/cancel",
		Query:  map[string]string{"order_id": orderID},
	}, nil)
	if err != nil {
		return fmt.Errorf("cancel order %s: %w", orderID, err)
	}
	l.logger.Info("Order cancel requested", zap.String("order_id", orderID))
	return nil
}

type modifyBody struct {
	OrderID           string  `json:"order_id"`
	Quantity          int     `json:"quantity"`
	Validity          string  `json:"validity"`
	Price             float64 `json:"price"`
	OrderType         string  `json:"order_type"`
	TriggerPrice      float64 `json:"trigger_price"`
	DisclosedQuantity int     `json:"disclosed_quantity"`
}

// Modify changes an open order. Zero fields keep the tracked values.
func (l *OrderLedger) Modify(ctx context.Context, orderID string, fields domain.ModifyFields) error {
	body := modifyBody{OrderID: orderID, Validity: string(domain.ValidityDay)}
	if o, ok := l.Tracked(orderID); ok {
		if o.Status.Terminal() {
			return fmt.Errorf("modify order %s: %w: order is %s", orderID, domain.ErrInvalid, o.Status)
		}
		body.Quantity = o.Quantity
		body.Price = o.Price
		body.TriggerPrice = o.TriggerPrice
		body.OrderType = string(o.Type)
	}
	if fields.Quantity > 0 {
		body.Quantity = fields.Quantity
	}
	if fields.Price > 0 {
		body.Price = domain.RoundToTick(fields.Price)
	}
	if fields.TriggerPrice > 0 {
		body.TriggerPrice = domain.RoundToTick(fields.TriggerPrice)
	}
	if fields.Type != "" {
		body.OrderType = string(fields.Type)
	}
	if fields.Validity != "" {
		body.Validity = string(fields.Validity)
	}
	if body.OrderType == "" {
		return fmt.Errorf("modify order %s: %w: order type unknown", orderID, domain.ErrInvalid)
	}

	err := l.transport.DoJSON(ctx, Request{Method: http.MethodPut, Path: "/order/modify", Body: body}, nil)
	if err != nil {
		return fmt.Errorf("modify order %s: %w", orderID, err)
	}

	l.mu.Lock()
	if o, ok := l.orders[orderID]; ok {
		o.Quantity = body.Quantity
		o.Price = body.Price
		o.TriggerPrice = body.TriggerPrice
		o.Type = domain.OrderType(body.OrderType)
		o.UpdatedAt = l.timeNow()
	}
	l.mu.Unlock()

	l.logger.Info("Order modified", zap.String("order_id", orderID), zap.Int("qty", body.Quantity), zap.Float64("price", body.Price))
	return nil
}

type orderPayload struct {
	OrderID         string  `json:"order_id"`
	InstrumentToken string  `json:"instrument_token"`
	TransactionType string  `json:"transaction_type"`
	Quantity        int     `json:"quantity"`
	FilledQuantity  int     `json:"filled_quantity"`
	OrderType       string  `json:"order_type"`
	Product         string  `json:"product"`
	Exchange        string  `json:"exchange"`
	Price           float64 `json:"price"`
	TriggerPrice    float64 `json:"trigger_price"`
	AveragePrice    float64 `json:"average_price"`
	Tag             string  `json:"tag"`
	Status          string  `json:"status"`
	StatusMessage   string  `json:"status_message"`
	OrderTimestamp  string  `json:"order_timestamp"`
}

// Upstox timestamps are IST wall-clock without an offset.
var ist = time.FixedZone("IST", 5*3600+1800)

func parseOrderTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	if t, err := time.ParseInLocation("2006-01-02 15:04:05", s, ist); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	return time.Time{}
}

func (p orderPayload) toOrder() *domain.Order {
	at := parseOrderTime(p.OrderTimestamp)
	return &domain.Order{
		ID:            p.OrderID,
		InstrumentKey: p.InstrumentToken,
		Side:          domain.TransactionSide(strings.ToUpper(p.TransactionType)),
		Quantity:      p.Quantity,
		FilledQty:     p.FilledQuantity,
		Type:          domain.OrderType(strings.ToUpper(p.OrderType)),
		Product:       domain.Product(strings.ToUpper(p.Product)),
		Exchange:      domain.Exchange(strings.ToUpper(p.Exchange)),
		Price:         p.Price,
		TriggerPrice:  p.TriggerPrice,
		AveragePrice:  p.AveragePrice,
		Tag:           p.Tag,
		Status:        domain.MapRemoteStatus(p.Status),
		StatusMessage: p.StatusMessage,
		CreatedAt:     at,
		UpdatedAt:     at,
	}
}

// History returns the remote status trail of an order, oldest first, and
// applies the latest entry to the tracked order.
func (l *OrderLedger) History(ctx context.Context, orderID string) ([]*domain.Order, error) {
	var data []orderPayload
	err := l.transport.DoJSON(ctx, Request{
		Method: http.MethodGet,
		Path:   "/order/history",
		Query:  map[string]string{"order_id": orderID},
	}, &data)
	if err != nil {
		return nil, fmt.Errorf("order history %s: %w", orderID, err)
	}

	sort.SliceStable(data, func(i, j int) bool {
		return parseOrderTime(data[i].OrderTimestamp).Before(parseOrderTime(data[j].OrderTimestamp))
	})
	trail := make([]*domain.Order, 0, len(data))
	for _, p := range data {
		trail = append(trail, p.toOrder())
	}

	if len(data) > 0 {
		last := data[len(data)-1]
		l.ApplyUpdate(OrderUpdate{
			OrderID:       orderID,
			Status:        last.Status,
			StatusMessage: last.StatusMessage,
			FilledQty:     last.FilledQuantity,
			AveragePrice:  last.AveragePrice,
			At:            parseOrderTime(last.OrderTimestamp),
		})
	}
	return trail, nil
}

// ListOrders returns the day's orders. Any failure yields an empty slice,
// which callers treat as unknown rather than as no orders.
func (l *OrderLedger) ListOrders(ctx context.Context) []*domain.Order {
	var data []orderPayload
	err := l.transport.DoJSON(ctx, Request{Method: http.MethodGet, Path: "/order/retrieve-all"}, &data)
	if err != nil {
		l.logger.Warn("Failed to list orders", zap.Error(err))
		return []*domain.Order{}
	}
	out := make([]*domain.Order, 0, len(data))
	for _, p := range data {
		out = append(out, p.toOrder())
	}
	return out
}

// Trades returns the executions recorded against an order.
func (l *OrderLedger) Trades(ctx context.Context, orderID string) ([]Fill, error) {
	var data []struct {
		Fill
		ExchangeTimestamp string `json:"exchange_timestamp"`
		OrderTimestamp    string `json:"order_timestamp"`
	}
	err := l.transport.DoJSON(ctx, Request{
		Method: http.MethodGet,
		Path:   "/order/trades",
		Query:  map[string]string{"order_id": orderID},
	}, &data)
	if err != nil {
		return nil, fmt.Errorf("order trades %s: %w", orderID, err)
	}
	fills := make([]Fill, 0, len(data))
	for _, d := range data {
		f := d.Fill
		f.At = parseOrderTime(d.ExchangeTimestamp)
		if f.At.IsZero() {
			f.At = parseOrderTime(d.OrderTimestamp)
		}
		fills = append(fills, f)
	}
	return fills, nil
}

// Tracked returns a copy of the locally tracked order.
func (l *OrderLedger) Tracked(orderID string) (domain.Order, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	o, ok := l.orders[orderID]
	if !ok {
		return domain.Order{}, false
	}
	return *o, true
}

// ApplyUpdate moves a tracked order forward. Updates for unknown orders and
// updates that would move an order backwards are ignored.
func (l *OrderLedger) ApplyUpdate(u OrderUpdate) (domain.Order, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	o, ok := l.orders[u.OrderID]
	if !ok {
		return domain.Order{}, false
	}
	at := u.At
	if at.IsZero() {
		at = l.timeNow()
	}
	next := domain.MapRemoteStatus(u.Status)
	if err := o.Transition(next, at); err != nil {
		l.logger.Debug("Ignoring stale order update",
			zap.String("order_id", u.OrderID),
			zap.String("remote_status", u.Status),
			zap.Error(err),
		)
		return *o, false
	}
	if u.FilledQty > 0 {
		o.FilledQty = u.FilledQty
	}
	if u.AveragePrice > 0 {
		o.AveragePrice = u.AveragePrice
	}
	if u.StatusMessage != "" {
		o.StatusMessage = u.StatusMessage
	}
	return *o, true
}

func (l *OrderLedger) track(o *domain.Order) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.orders[o.ID] = o
}
