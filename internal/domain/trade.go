package domain

import "time"

type TradeStatus string

const (
	// TradePending is an accepted entry order that has not filled yet.
	TradePending TradeStatus = "pending"
	TradeOpen    TradeStatus = "open"
	TradeClosed  TradeStatus = "closed"
)

// TradeRecord tracks one position from fill to exit.
type TradeRecord struct {
	ID          string          `json:"id"`
	Symbol      string          `json:"symbol"`
	Side        TransactionSide `json:"side"`
	Strategy    string          `json:"strategy,omitempty"`
	OrderID     string          `json:"order_id,omitempty"`
	EntryPrice  float64         `json:"entry_price"`
	ExitPrice   float64         `json:"exit_price,omitempty"`
	Quantity    float64         `json:"quantity"`
	StopLoss    float64         `json:"stop_loss"`
	TakeProfits []float64       `json:"take_profits"`
	PnL         float64         `json:"pnl"`
	Status      TradeStatus     `json:"status"`
	Notes       string          `json:"notes,omitempty"`
	Lessons     string          `json:"lessons,omitempty"`
	OpenedAt    time.Time       `json:"opened_at"`
	ClosedAt    time.Time       `json:"closed_at,omitempty"`
}

// Win reports whether a closed trade made money.
func (t *TradeRecord) Win() bool {
	return t.Status == TradeClosed && t.PnL > 0
}

// Lesson is a free-text note recorded after a trade.
type Lesson struct {
	ID         string    `json:"id"`
	Symbol     string    `json:"symbol"`
	TradeType  string    `json:"trade_type"`
	WhatWorked string    `json:"what_worked"`
	WhatDidnt  string    `json:"what_didnt"`
	Text       string    `json:"lesson"`
	CreatedAt  time.Time `json:"created_at"`
}

type TradeStats struct {
	TotalTrades   int     `json:"total_trades"`
	WinningTrades int     `json:"winning_trades"`
	LosingTrades  int     `json:"losing_trades"`
	WinRate       float64 `json:"win_rate"`
	TotalPnL      float64 `json:"total_pnl"`
	AvgPnL        float64 `json:"avg_pnl"`
}

// ComputeTradeStats summarizes closed trades; open trades are ignored.
func ComputeTradeStats(trades []*TradeRecord) TradeStats {
	var st TradeStats
	for _, t := range trades {
		if t.Status != TradeClosed {
			continue
		}
		st.TotalTrades++
		st.TotalPnL += t.PnL
		if t.PnL > 0 {
			st.WinningTrades++
		} else {
			st.LosingTrades++
		}
	}
	if st.TotalTrades > 0 {
		st.WinRate = float64(st.WinningTrades) / float64(st.TotalTrades) * 100
		st.AvgPnL = st.TotalPnL / float64(st.TotalTrades)
	}
	return st
}
