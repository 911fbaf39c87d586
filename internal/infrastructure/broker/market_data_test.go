package broker

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitos/equity_trade_bot/internal/domain"
)

type requestLog struct {
	mu   sync.Mutex
	reqs []*http.Request
	body [][]byte
}

func (l *requestLog) add(r *http.Request) {
	b, _ := io.ReadAll(r.Body)
	l.mu.Lock()
	defer l.mu.Unlock()
	l.reqs = append(l.reqs, r.Clone(context.Background()))
	l.body = append(l.body, b)
}

func (l *requestLog) at(i int) (*http.Request, []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.reqs[i], l.body[i]
}

func (l *requestLog) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.reqs)
}

// routeServer serves fixed bodies by URL path.
func routeServer(t *testing.T, routes map[string]string) (*httptest.Server, *requestLog) {
	seen := &requestLog{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen.add(r)
		body, ok := routes[r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"status":"error","errors":[{"errorCode":"UDAPI404","message":"not found"}]}`))
			return
		}
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, seen
}

const reliance = "NSE_EQ|INE002A01018"

func TestGetQuote(t *testing.T) {
	srv, seen := routeServer(t, map[string]string{
		"/market-quote/quotes": `{"status":"success","data":{"NSE_EQ:RELIANCE":{
			"ohlc":{"open":2450,"high":2480,"low":2440,"close":2470.5},
			"timestamp":"2024-03-01T13:24:46.201+05:30",
			"instrument_token":"NSE_EQ|INE002A01018","symbol":"RELIANCE",
			"last_price":2470.5,"volume":123456,"average_price":2461.2,"net_change":12.5}}}`,
	})
	gw := NewMarketDataGateway(newTestTransport(srv.URL, nil))

	q, err := gw.GetQuote(context.Background(), reliance)
	require.NoError(t, err)
	assert.Equal(t, "RELIANCE", q.Symbol)
	assert.Equal(t, 2470.5, q.LastPrice)
	assert.Equal(t, 123456.0, q.Volume)
	assert.Equal(t, 2480.0, q.OHLC.High)
	assert.False(t, q.Timestamp.IsZero())
	req, _ := seen.at(0)
	assert.Equal(t, reliance, req.URL.Query().Get("instrument_key"))
}

func TestGetOHLC(t *testing.T) {
	srv, seen := routeServer(t, map[string]string{
		"/market-quote/ohlc": `{"status":"success","data":{"NSE_EQ:RELIANCE":{"ohlc":{"open":1,"high":3,"low":0.5,"close":2},"last_price":2,"instrument_token":"NSE_EQ|INE002A01018"}}}`,
	})
	gw := NewMarketDataGateway(newTestTransport(srv.URL, nil))

	o, err := gw.GetOHLC(context.Background(), reliance, domain.OHLCDay)
	require.NoError(t, err)
	assert.Equal(t, 3.0, o.High)
	req, _ := seen.at(0)
	assert.Equal(t, "1d", req.URL.Query().Get("interval"))
}

func TestGetHistoricalCandles(t *testing.T) {
	srv, seen := routeServer(t, map[string]string{
		"/historical-candle/NSE_EQ|INE002A01018/day/2024-03-05/2024-03-01": `{"status":"success","data":{"candles":[
			["2024-03-05T00:00:00+05:30",102,104,101,103,2000,0],
			["2024-03-04T00:00:00+05:30",100,103,99,102,1500,0],
			["2024-03-01T00:00:00+05:30",98,101,97,100,1000,0]]}}`,
	})
	gw := NewMarketDataGateway(newTestTransport(srv.URL, nil))

	from := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)
	candles, err := gw.GetHistoricalCandles(context.Background(), reliance, domain.IntervalDay, from, to)
	require.NoError(t, err)
	require.Len(t, candles, 3)
	assert.Equal(t, 100.0, candles[0].Close, "oldest first")
	assert.Equal(t, 103.0, candles[2].Close)
	assert.Equal(t, 2000.0, candles[2].Volume)
	req, _ := seen.at(0)
	assert.Contains(t, req.URL.EscapedPath(), "NSE_EQ%7CINE002A01018")
}

func TestGetHistoricalCandles_BadRange(t *testing.T) {
	gw := NewMarketDataGateway(newTestTransport("http://unused", nil))
	_, err := gw.GetHistoricalCandles(context.Background(), reliance, domain.IntervalDay, time.Now(), time.Now().Add(-time.Hour))
	assert.ErrorIs(t, err, domain.ErrInvalid)
}

func TestGetQuote_ClientError(t *testing.T) {
	srv, _ := routeServer(t, map[string]string{})
	gw := NewMarketDataGateway(newTestTransport(srv.URL, nil))
	_, err := gw.GetQuote(context.Background(), reliance)
	assert.ErrorIs(t, err, domain.ErrClient)
}
