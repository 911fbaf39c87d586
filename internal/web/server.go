package web

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/vitos/equity_trade_bot/internal/domain"
	"github.com/vitos/equity_trade_bot/internal/usecase"
	"go.uber.org/zap"
)

// StatusProvider reports the trading loop state.
type StatusProvider interface {
	Status() usecase.LoopStatus
}

// OrderLister lists the orders of the trading day.
type OrderLister interface {
	ListOrders(ctx context.Context) []*domain.Order
}

type Server struct {
	router  *http.ServeMux
	server  *http.Server
	status  StatusProvider
	journal domain.TradeJournal
	orders  OrderLister
	logger  *zap.Logger
}

func NewServer(
	port int,
	status StatusProvider,
	journal domain.TradeJournal,
	orders OrderLister,
	logger *zap.Logger,
) *Server {
	s := &Server{
		router:  http.NewServeMux(),
		status:  status,
		journal: journal,
		orders:  orders,
		logger:  logger,
	}
	s.routes()
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) routes() {
	s.router.HandleFunc("GET /healthz", s.handleHealth)
	s.router.HandleFunc("GET /status", s.handleStatus)
	s.router.HandleFunc("GET /trades", s.handleTrades)
	s.router.HandleFunc("GET /orders", s.handleOrders)
	s.router.Handle("GET /metrics", promhttp.Handler())
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start() error {
	s.logger.Info("Starting status server", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
