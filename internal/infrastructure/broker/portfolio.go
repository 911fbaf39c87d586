package broker

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/vitos/equity_trade_bot/internal/domain"
)

// PortfolioGateway reads account holdings, positions and margin.
type PortfolioGateway struct {
	transport *Transport
}

func NewPortfolioGateway(t *Transport) *PortfolioGateway {
	return &PortfolioGateway{transport: t}
}

type holdingPayload struct {
	InstrumentToken string  `json:"instrument_token"`
	TradingSymbol   string  `json:"tradingsymbol"`
	TradingSymbol2  string  `json:"trading_symbol"`
	Exchange        string  `json:"exchange"`
	Quantity        int     `json:"quantity"`
	AveragePrice    float64 `json:"average_price"`
	LastPrice       float64 `json:"last_price"`
	PnL             float64 `json:"pnl"`
}

func (p holdingPayload) symbol() string {
	if p.TradingSymbol != "" {
		return p.TradingSymbol
	}
	return p.TradingSymbol2
}

func (g *PortfolioGateway) GetHoldings(ctx context.Context) ([]domain.Holding, error) {
	var data []holdingPayload
	if err := g.transport.DoJSON(ctx, Request{Method: http.MethodGet, Path: "/portfolio/long-term-holdings"}, &data); err != nil {
		return nil, fmt.Errorf("get holdings: %w", err)
	}
	out := make([]domain.Holding, 0, len(data))
	for _, p := range data {
		out = append(out, domain.Holding{
			InstrumentKey: p.InstrumentToken,
			Symbol:        p.symbol(),
			Exchange:      p.Exchange,
			Quantity:      p.Quantity,
			AveragePrice:  p.AveragePrice,
			LastPrice:     p.LastPrice,
			PnL:           p.PnL,
		})
	}
	return out, nil
}

type positionPayload struct {
	holdingPayload
	Product    string  `json:"product"`
	Realised   float64 `json:"realised"`
	Unrealised float64 `json:"unrealised"`
}

func (g *PortfolioGateway) GetPositions(ctx context.Context) ([]domain.Position, error) {
	var data []positionPayload
	if err := g.transport.DoJSON(ctx, Request{Method: http.MethodGet, Path: "/portfolio/short-term-positions"}, &data); err != nil {
		return nil, fmt.Errorf("get positions: %w", err)
	}
	out := make([]domain.Position, 0, len(data))
	for _, p := range data {
		out = append(out, domain.Position{
			InstrumentKey: p.InstrumentToken,
			Symbol:        p.symbol(),
			Exchange:      p.Exchange,
			Product:       domain.Product(strings.ToUpper(p.Product)),
			Quantity:      p.Quantity,
			AveragePrice:  p.AveragePrice,
			LastPrice:     p.LastPrice,
			RealizedPnL:   p.Realised,
			UnrealizedPnL: p.Unrealised,
		})
	}
	return out, nil
}

// GetFunds returns the equity segment margin.
func (g *PortfolioGateway) GetFunds(ctx context.Context) (*domain.Funds, error) {
	var data struct {
		Equity *domain.Funds `json:"equity"`
	}
	err := g.transport.DoJSON(ctx, Request{
		Method: http.MethodGet,
		Path:   "/user/get-funds-and-margin",
		Query:  map[string]string{"segment": "SEC"},
	}, &data)
	if err != nil {
		return nil, fmt.Errorf("get funds: %w", err)
	}
	if data.Equity == nil {
		return nil, fmt.Errorf("get funds: equity segment missing from response")
	}
	return data.Equity, nil
}
