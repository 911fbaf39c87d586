package broker

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/vitos/equity_trade_bot/internal/domain"
)

type MarketDataGateway struct {
	transport *Transport
}

func NewMarketDataGateway(t *Transport) *MarketDataGateway {
	return &MarketDataGateway{transport: t}
}

type quotePayload struct {
	OHLC              domain.OHLC `json:"ohlc"`
	Timestamp         string      `json:"timestamp"`
	InstrumentToken   string      `json:"instrument_token"`
	Symbol            string      `json:"symbol"`
	LastPrice         float64     `json:"last_price"`
	Volume            float64     `json:"volume"`
	AveragePrice      float64     `json:"average_price"`
	NetChange         float64     `json:"net_change"`
	TotalBuyQuantity  float64     `json:"total_buy_quantity"`
	TotalSellQuantity float64     `json:"total_sell_quantity"`
	LowerCircuitLimit float64     `json:"lower_circuit_limit"`
	UpperCircuitLimit float64     `json:"upper_circuit_limit"`
}

// pick returns the entry for instrumentKey. The API keys results by
// "EXCHANGE:SYMBOL", so entries are matched on instrument_token first.
func pick[T any](data map[string]T, instrumentKey string, token func(T) string) (T, bool) {
	var zero T
	for _, v := range data {
		if token(v) == instrumentKey {
			return v, true
		}
	}
	if len(data) == 1 {
		for _, v := range data {
			return v, true
		}
	}
	return zero, false
}

func (g *MarketDataGateway) GetQuote(ctx context.Context, instrumentKey string) (*domain.Quote, error) {
	var data map[string]quotePayload
	err := g.transport.DoJSON(ctx, Request{
		Method: http.MethodGet,
		Path:   "/market-quote/quotes",
		Query:  map[string]string{"instrument_key": instrumentKey},
	}, &data)
	if err != nil {
		return nil, fmt.Errorf("get quote %s: %w", instrumentKey, err)
	}

	q, ok := pick(data, instrumentKey, func(p quotePayload) string { return p.InstrumentToken })
	if !ok {
		return nil, fmt.Errorf("get quote %s: instrument not in response", instrumentKey)
	}

	quote := &domain.Quote{
		InstrumentKey: instrumentKey,
		Symbol:        q.Symbol,
		LastPrice:     q.LastPrice,
		Volume:        q.Volume,
		AveragePrice:  q.AveragePrice,
		NetChange:     q.NetChange,
		TotalBuyQty:   q.TotalBuyQuantity,
		TotalSellQty:  q.TotalSellQuantity,
		LowerCircuit:  q.LowerCircuitLimit,
		UpperCircuit:  q.UpperCircuitLimit,
		OHLC:          q.OHLC,
	}
	if ts, err := time.Parse(time.RFC3339, q.Timestamp); err == nil {
		quote.Timestamp = ts
	}
	return quote, nil
}

type ohlcPayload struct {
	OHLC            domain.OHLC `json:"ohlc"`
	LastPrice       float64     `json:"last_price"`
	InstrumentToken string      `json:"instrument_token"`
}

func (g *MarketDataGateway) GetOHLC(ctx context.Context, instrumentKey string, interval domain.OHLCInterval) (*domain.OHLC, error) {
	var data map[string]ohlcPayload
	err := g.transport.DoJSON(ctx, Request{
		Method: http.MethodGet,
		Path:   "/market-quote/ohlc",
		Query:  map[string]string{"instrument_key": instrumentKey, "interval": string(interval)},
	}, &data)
	if err != nil {
		return nil, fmt.Errorf("get ohlc %s: %w", instrumentKey, err)
	}
	p, ok := pick(data, instrumentKey, func(p ohlcPayload) string { return p.InstrumentToken })
	if !ok {
		return nil, fmt.Errorf("get ohlc %s: instrument not in response", instrumentKey)
	}
	out := p.OHLC
	return &out, nil
}

// GetHistoricalCandles returns candles between from and to (inclusive
// dates) in chronological order.
func (g *MarketDataGateway) GetHistoricalCandles(ctx context.Context, instrumentKey string, interval domain.CandleInterval, from, to time.Time) ([]domain.Candle, error) {
	if to.Before(from) {
		return nil, fmt.Errorf("%w: candle range ends before it starts", domain.ErrInvalid)
	}
	path := fmt.Sprintf("/historical-candle/%s/%s/%s/%s",
		url.PathEscape(instrumentKey), interval, to.Format("2006-01-02"), from.Format("2006-01-02"))

	var data struct {
		Candles [][]interface{} `json:"candles"`
	}
	if err := g.transport.DoJSON(ctx, Request{Method: http.MethodGet, Path: path}, &data); err != nil {
		return nil, fmt.Errorf("get candles %s: %w", instrumentKey, err)
	}

	candles := make([]domain.Candle, 0, len(data.Candles))
	for _, row := range data.Candles {
		c, err := parseCandle(row)
		if err != nil {
			return nil, fmt.Errorf("get candles %s: %w", instrumentKey, err)
		}
		candles = append(candles, c)
	}
	sort.Slice(candles, func(i, j int) bool { return candles[i].Time < candles[j].Time })
	return candles, nil
}

func parseCandle(row []interface{}) (domain.Candle, error) {
	if len(row) < 6 {
		return domain.Candle{}, fmt.Errorf("candle row has %d fields", len(row))
	}
	ts, ok := row[0].(string)
	if !ok {
		return domain.Candle{}, fmt.Errorf("candle timestamp is %T", row[0])
	}
	at, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return domain.Candle{}, fmt.Errorf("candle timestamp: %w", err)
	}

	nums := make([]float64, 0, 6)
	for _, v := range row[1:] {
		f, ok := v.(float64)
		if !ok {
			return domain.Candle{}, fmt.Errorf("candle field is %T", v)
		}
		nums = append(nums, f)
	}
	c := domain.Candle{
		Time:   at.UnixMilli(),
		Open:   nums[0],
		High:   nums[1],
		Low:    nums[2],
		Close:  nums[3],
		Volume: nums[4],
	}
	if len(nums) > 5 {
		c.OpenInterest = nums[5]
	}
	return c, nil
}
