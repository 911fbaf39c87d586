package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// TickSize is the minimum price increment on NSE/BSE cash segments.
var TickSize = decimal.RequireFromString("0.05")

type OrderType string

const (
	OrderTypeMarket   OrderType = "MARKET"
	OrderTypeLimit    OrderType = "LIMIT"
	OrderTypeStopLoss OrderType = "SL"
	OrderTypeStopMkt  OrderType = "SL-M"
)

func ParseOrderType(s string) (OrderType, error) {
	switch t := OrderType(strings.ToUpper(strings.TrimSpace(s))); t {
	case OrderTypeMarket, OrderTypeLimit, OrderTypeStopLoss, OrderTypeStopMkt:
		return t, nil
	case "SLM":
		return OrderTypeStopMkt, nil
	}
	return "", fmt.Errorf("%w: order type %q", ErrInvalid, s)
}

// NeedsPrice reports whether orders of this type carry a limit price.
func (t OrderType) NeedsPrice() bool {
	return t == OrderTypeLimit || t == OrderTypeStopLoss
}

// NeedsTrigger reports whether orders of this type carry a trigger price.
func (t OrderType) NeedsTrigger() bool {
	return t == OrderTypeStopLoss || t == OrderTypeStopMkt
}

// TransactionSide is the direction of an order.
type TransactionSide string

const (
	SideBuy  TransactionSide = "BUY"
	SideSell TransactionSide = "SELL"
)

func ParseTransactionSide(s string) (TransactionSide, error) {
	switch t := TransactionSide(strings.ToUpper(strings.TrimSpace(s))); t {
	case SideBuy, SideSell:
		return t, nil
	}
	return "", fmt.Errorf("%w: transaction side %q", ErrInvalid, s)
}

// Product is the margin mode of an order.
type Product string

const (
	ProductIntraday      Product = "I"
	ProductDelivery      Product = "D"
	ProductCoverOrder    Product = "CO"
	ProductOneCancelsOth Product = "OCO"
	ProductAfterMarket   Product = "AMO"
)

func ParseProduct(s string) (Product, error) {
	switch p := Product(strings.ToUpper(strings.TrimSpace(s))); p {
	case ProductIntraday, ProductDelivery, ProductCoverOrder, ProductOneCancelsOth, ProductAfterMarket:
		return p, nil
	}
	return "", fmt.Errorf("%w: product %q", ErrInvalid, s)
}

type Exchange string

const (
	ExchangeNSE Exchange = "NSE"
	ExchangeBSE Exchange = "BSE"
	ExchangeNFO Exchange = "NFO"
	ExchangeBFO Exchange = "BFO"
	ExchangeMCX Exchange = "MCX"
)

func ParseExchange(s string) (Exchange, error) {
	switch e := Exchange(strings.ToUpper(strings.TrimSpace(s))); e {
	case ExchangeNSE, ExchangeBSE, ExchangeNFO, ExchangeBFO, ExchangeMCX:
		return e, nil
	}
	return "", fmt.Errorf("%w: exchange %q", ErrInvalid, s)
}

type Validity string

const (
	ValidityDay Validity = "DAY"
	ValidityIOC Validity = "IOC"
)

func ParseValidity(s string) (Validity, error) {
	switch v := Validity(strings.ToUpper(strings.TrimSpace(s))); v {
	case ValidityDay, ValidityIOC:
		return v, nil
	}
	return "", fmt.Errorf("%w: validity %q", ErrInvalid, s)
}

// OrderStatus is the local view of an order's lifecycle.
type OrderStatus string

const (
	OrderCreated   OrderStatus = "CREATED"
	OrderSubmitted OrderStatus = "SUBMITTED"
	OrderOpen      OrderStatus = "OPEN"
	OrderComplete  OrderStatus = "COMPLETE"
	OrderCancelled OrderStatus = "CANCELLED"
	OrderRejected  OrderStatus = "REJECTED"
)

func (s OrderStatus) rank() int {
	switch s {
	case OrderCreated:
		return 0
	case OrderSubmitted:
		return 1
	case OrderOpen:
		return 2
	case OrderComplete, OrderCancelled, OrderRejected:
		return 3
	}
	return -1
}

// Terminal reports whether no further transition is allowed.
func (s OrderStatus) Terminal() bool { return s.rank() == 3 }

// MapRemoteStatus converts a brokerage status string into an OrderStatus.
// Unknown in-flight statuses count as OPEN.
func MapRemoteStatus(remote string) OrderStatus {
	switch strings.ToLower(strings.TrimSpace(remote)) {
	case "complete", "completed", "filled":
		return OrderComplete
	case "cancelled", "canceled", "cancelled after market order":
		return OrderCancelled
	case "rejected":
		return OrderRejected
	case "":
		return OrderSubmitted
	}
	return OrderOpen
}

// OrderRequest is a validated order intent. Build it with NewOrderRequest.
type OrderRequest struct {
	InstrumentKey string
	Side          TransactionSide
	Quantity      int
	Type          OrderType
	Product       Product
	Exchange      Exchange
	Validity      Validity
	Price         float64
	TriggerPrice  float64
	Tag           string
}

// NewOrderRequest validates the combination of fields and rounds prices
// to the exchange tick.
func NewOrderRequest(instrument string, side TransactionSide, qty int, kind OrderType, product Product, exchange Exchange, price, trigger float64, tag string) (OrderRequest, error) {
	if strings.TrimSpace(instrument) == "" {
		return OrderRequest{}, fmt.Errorf("%w: empty instrument key", ErrInvalid)
	}
	if qty <= 0 {
		return OrderRequest{}, fmt.Errorf("%w: quantity must be positive, got %d", ErrInvalid, qty)
	}
	if kind.NeedsPrice() && price <= 0 {
		return OrderRequest{}, fmt.Errorf("%w: %s order needs a price", ErrInvalid, kind)
	}
	if kind.NeedsTrigger() && trigger <= 0 {
		return OrderRequest{}, fmt.Errorf("%w: %s order needs a trigger price", ErrInvalid, kind)
	}
	return OrderRequest{
		InstrumentKey: instrument,
		Side:          side,
		Quantity:      qty,
		Type:          kind,
		Product:       product,
		Exchange:      exchange,
		Validity:      ValidityDay,
		Price:         RoundToTick(price),
		TriggerPrice:  RoundToTick(trigger),
		Tag:           tag,
	}, nil
}

// RoundToTick rounds a price to the nearest TickSize multiple.
func RoundToTick(price float64) float64 {
	if price <= 0 {
		return 0
	}
	p := decimal.NewFromFloat(price)
	rounded := p.Div(TickSize).Round(0).Mul(TickSize)
	f, _ := rounded.Float64()
	return f
}

// Order is a tracked order and its lifecycle status.
type Order struct {
	ID            string
	InstrumentKey string
	Side          TransactionSide
	Quantity      int
	FilledQty     int
	Type          OrderType
	Product       Product
	Exchange      Exchange
	Price         float64
	TriggerPrice  float64
	AveragePrice  float64
	Tag           string
	Status        OrderStatus
	StatusMessage string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// NewOrder creates a local order intent in the CREATED state.
func NewOrder(req OrderRequest, now time.Time) *Order {
	return &Order{
		InstrumentKey: req.InstrumentKey,
		Side:          req.Side,
		Quantity:      req.Quantity,
		Type:          req.Type,
		Product:       req.Product,
		Exchange:      req.Exchange,
		Price:         req.Price,
		TriggerPrice:  req.TriggerPrice,
		Tag:           req.Tag,
		Status:        OrderCreated,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// Transition moves the order forward. Terminal states never revert and
// backwards moves are refused; repeating the current status is a no-op.
func (o *Order) Transition(next OrderStatus, at time.Time) error {
	if next.rank() < 0 {
		return fmt.Errorf("%w: unknown order status %q", ErrInvalid, next)
	}
	if o.Status == next {
		return nil
	}
	if o.Status.Terminal() {
		return fmt.Errorf("order %s is %s, cannot move to %s", o.ID, o.Status, next)
	}
	if next.rank() < o.Status.rank() {
		return fmt.Errorf("order %s cannot move back from %s to %s", o.ID, o.Status, next)
	}
	o.Status = next
	o.UpdatedAt = at
	return nil
}
