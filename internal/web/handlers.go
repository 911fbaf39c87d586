package web

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/vitos/equity_trade_bot/internal/domain"
	"go.uber.org/zap"
)

func (s *Server) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.status.Status())
}

// handleTrades lists journaled trades, newest first. Optional filters:
// symbol, status (open|closed) and limit.
func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	trades, err := s.journal.ListTrades(r.Context())
	if err != nil {
		s.logger.Error("Failed to list trades", zap.Error(err))
		http.Error(w, "Failed to list trades", http.StatusInternalServerError)
		return
	}

	q := r.URL.Query()
	symbol := q.Get("symbol")
	status := domain.TradeStatus(strings.ToLower(q.Get("status")))
	limit := 0
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	out := make([]*domain.TradeRecord, 0, len(trades))
	for i := len(trades) - 1; i >= 0; i-- {
		t := trades[i]
		if symbol != "" && !strings.EqualFold(t.Symbol, symbol) {
			continue
		}
		if status != "" && t.Status != status {
			continue
		}
		out = append(out, t)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	s.writeJSON(w, out)
}

type orderView struct {
	ID            string    `json:"order_id"`
	InstrumentKey string    `json:"instrument_key"`
	Side          string    `json:"side"`
	Type          string    `json:"order_type"`
	Product       string    `json:"product"`
	Quantity      int       `json:"quantity"`
	FilledQty     int       `json:"filled_quantity"`
	Price         float64   `json:"price"`
	AveragePrice  float64   `json:"average_price"`
	Tag           string    `json:"tag,omitempty"`
	Status        string    `json:"status"`
	StatusMessage string    `json:"status_message,omitempty"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (s *Server) handleOrders(w http.ResponseWriter, r *http.Request) {
	orders := s.orders.ListOrders(r.Context())
	out := make([]orderView, 0, len(orders))
	for _, o := range orders {
		out = append(out, orderView{
			ID:            o.ID,
			InstrumentKey: o.InstrumentKey,
			Side:          string(o.Side),
			Type:          string(o.Type),
			Product:       string(o.Product),
			Quantity:      o.Quantity,
			FilledQty:     o.FilledQty,
			Price:         o.Price,
			AveragePrice:  o.AveragePrice,
			Tag:           o.Tag,
			Status:        string(o.Status),
			StatusMessage: o.StatusMessage,
			UpdatedAt:     o.UpdatedAt,
		})
	}
	s.writeJSON(w, out)
}
