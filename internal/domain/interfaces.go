package domain

import (
	"context"
	"time"
)

// MarketData is the read-only market data side of the brokerage API.
type MarketData interface {
	GetQuote(ctx context.Context, instrumentKey string) (*Quote, error)
	GetOHLC(ctx context.Context, instrumentKey string, interval OHLCInterval) (*OHLC, error)
	GetHistoricalCandles(ctx context.Context, instrumentKey string, interval CandleInterval, from, to time.Time) ([]Candle, error)
}

// PlaceResult is the outcome of an order placement. A rejected order is a
// normal result, not an error.
type PlaceResult struct {
	Accepted bool
	OrderID  string
	Order    *Order
	Raw      []byte
}

// ModifyFields are the mutable attributes of an open order. Zero values
// keep the current setting.
type ModifyFields struct {
	Quantity     int
	Price        float64
	TriggerPrice float64
	Type         OrderType
	Validity     Validity
}

// OrderGateway places and tracks orders.
type OrderGateway interface {
	Place(ctx context.Context, req OrderRequest) (*PlaceResult, error)
	Cancel(ctx context.Context, orderID string) error
	Modify(ctx context.Context, orderID string, fields ModifyFields) error
	History(ctx context.Context, orderID string) ([]*Order, error)
	ListOrders(ctx context.Context) []*Order
}

// Portfolio exposes account state.
type Portfolio interface {
	GetHoldings(ctx context.Context) ([]Holding, error)
	GetPositions(ctx context.Context) ([]Position, error)
	GetFunds(ctx context.Context) (*Funds, error)
}

// TokenSource hands out a bearer token that is valid for at least the
// safety margin, refreshing it when needed.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
}

// TradeJournal persists trades and lessons as append-only records.
type TradeJournal interface {
	LogEntry(ctx context.Context, trade *TradeRecord) error
	LogExit(ctx context.Context, tradeID string, exitPrice, pnl float64, notes string, at time.Time) error
	AddLesson(ctx context.Context, lesson *Lesson) error
	ListTrades(ctx context.Context) ([]*TradeRecord, error)
	ListLessons(ctx context.Context) ([]*Lesson, error)
	Close() error
}
