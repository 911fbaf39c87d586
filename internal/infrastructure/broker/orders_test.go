package broker

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitos/equity_trade_bot/internal/domain"
	"go.uber.org/zap"
)

func newTestLedger(baseURL string) *OrderLedger {
	l := NewOrderLedger(newTestTransport(baseURL, &sleepRecorder{}), zap.NewNop())
	l.timeNow = func() time.Time { return time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC) }
	return l
}

func limitBuy(t *testing.T) domain.OrderRequest {
	req, err := domain.NewOrderRequest(reliance, domain.SideBuy, 5, domain.OrderTypeLimit, domain.ProductDelivery, domain.ExchangeNSE, 2470.52, 0, "")
	require.NoError(t, err)
	return req
}

func TestPlace_Accepted(t *testing.T) {
	srv, seen := routeServer(t, map[string]string{
		"/order/place": `{"status":"success","data":{"order_id":"240301000001"}}`,
	})
	l := newTestLedger(srv.URL)

	res, err := l.Place(context.Background(), limitBuy(t))
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.Equal(t, "240301000001", res.OrderID)
	assert.Equal(t, domain.OrderSubmitted, res.Order.Status)

	tracked, ok := l.Tracked("240301000001")
	require.True(t, ok)
	assert.Equal(t, domain.OrderSubmitted, tracked.Status)

	req, body := seen.at(0)
	assert.Equal(t, http.MethodPost, req.Method)
	var sent map[string]interface{}
	require.NoError(t, json.Unmarshal(body, &sent))
	assert.Equal(t, reliance, sent["instrument_token"])
	assert.Equal(t, "BUY", sent["transaction_type"])
	assert.Equal(t, "LIMIT", sent["order_type"])
	assert.Equal(t, "D", sent["product"])
	assert.Equal(t, "DAY", sent["validity"])
	assert.Equal(t, 2470.5, sent["price"])
	assert.Equal(t, 5.0, sent["quantity"])
	assert.Len(t, sent["tag"], maxTagLen, "generated tag attached")
}

func TestPlace_KeepsCallerTag(t *testing.T) {
	srv, seen := routeServer(t, map[string]string{
		"/order/place": `{"status":"success","data":{"order_id":"1"}}`,
	})
	l := newTestLedger(srv.URL)

	req := limitBuy(t)
	req.Tag = "pullback"
	_, err := l.Place(context.Background(), req)
	require.NoError(t, err)

	_, body := seen.at(0)
	assert.Contains(t, string(body), `"tag":"pullback"`)
}

func TestPlace_ClientErrorIsRejection(t *testing.T) {
	payload := `{"status":"error","errors":[{"errorCode":"UDAPI1026","message":"Instrument key is invalid"}]}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(payload))
	}))
	defer srv.Close()
	l := newTestLedger(srv.URL)

	res, err := l.Place(context.Background(), limitBuy(t))
	require.NoError(t, err)
	assert.False(t, res.Accepted)
	assert.Equal(t, domain.OrderRejected, res.Order.Status)
	assert.JSONEq(t, payload, string(res.Raw))
	assert.Empty(t, res.OrderID)
}

func TestPlace_ErrorEnvelopeIsRejection(t *testing.T) {
	payload := `{"status":"error","errors":[{"errorCode":"UDAPI100","message":"insufficient funds"}]}`
	srv, _ := routeServer(t, map[string]string{"/order/place": payload})
	l := newTestLedger(srv.URL)

	res, err := l.Place(context.Background(), limitBuy(t))
	require.NoError(t, err)
	assert.False(t, res.Accepted)
	assert.JSONEq(t, payload, string(res.Raw))
}

func TestPlace_ExhaustedRetriesSynthesizePayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()
	l := newTestLedger(url)

	res, err := l.Place(context.Background(), limitBuy(t))
	require.NoError(t, err)
	assert.False(t, res.Accepted)

	var env struct {
		Status  string `json:"status"`
		Message string `json:"message"`
	}
	require.NoError(t, json.Unmarshal(res.Raw, &env))
	assert.Equal(t, "error", env.Status)
	assert.Contains(t, env.Message, "network error")
}

func TestPlace_AuthFailureIsError(t *testing.T) {
	srv, _ := scriptedServer(t, scriptedResponse{status: http.StatusUnauthorized, body: `{"status":"error"}`})
	l := newTestLedger(srv.URL)

	res, err := l.Place(context.Background(), limitBuy(t))
	assert.Nil(t, res)
	assert.True(t, errors.Is(err, domain.ErrAuth))
}

func TestHistory_AppliesLatestStatus(t *testing.T) {
	srv, _ := routeServer(t, map[string]string{
		"/order/place": `{"status":"success","data":{"order_id":"42"}}`,
		"/order/history": `{"status":"success","data":[
			{"order_id":"42","status":"complete","filled_quantity":5,"average_price":2470.1,"order_timestamp":"2024-03-01 10:00:03"},
			{"order_id":"42","status":"put order req received","order_timestamp":"2024-03-01 10:00:01"},
			{"order_id":"42","status":"open","order_timestamp":"2024-03-01 10:00:02"}]}`,
	})
	l := newTestLedger(srv.URL)
	_, err := l.Place(context.Background(), limitBuy(t))
	require.NoError(t, err)

	trail, err := l.History(context.Background(), "42")
	require.NoError(t, err)
	require.Len(t, trail, 3)
	assert.Equal(t, domain.OrderOpen, trail[0].Status)
	assert.Equal(t, domain.OrderComplete, trail[2].Status)

	o, _ := l.Tracked("42")
	assert.Equal(t, domain.OrderComplete, o.Status)
	assert.Equal(t, 5, o.FilledQty)
	assert.Equal(t, 2470.1, o.AveragePrice)
}

func TestApplyUpdate_IsMonotonic(t *testing.T) {
	srv, _ := routeServer(t, map[string]string{
		"/order/place": `{"status":"success","data":{"order_id":"7"}}`,
	})
	l := newTestLedger(srv.URL)
	_, err := l.Place(context.Background(), limitBuy(t))
	require.NoError(t, err)

	o, ok := l.ApplyUpdate(OrderUpdate{OrderID: "7", Status: "cancelled"})
	assert.True(t, ok)
	assert.Equal(t, domain.OrderCancelled, o.Status)

	o, ok = l.ApplyUpdate(OrderUpdate{OrderID: "7", Status: "open"})
	assert.False(t, ok)
	assert.Equal(t, domain.OrderCancelled, o.Status, "terminal state never reverts")

	_, ok = l.ApplyUpdate(OrderUpdate{OrderID: "unknown", Status: "open"})
	assert.False(t, ok)
}

func TestListOrders_FailureIsEmpty(t *testing.T) {
	srv, _ := scriptedServer(t, scriptedResponse{status: http.StatusInternalServerError, body: "down"})
	l := newTestLedger(srv.URL)

	orders := l.ListOrders(context.Background())
	assert.NotNil(t, orders)
	assert.Empty(t, orders)
}

func TestListOrders(t *testing.T) {
	srv, _ := routeServer(t, map[string]string{
		"/order/retrieve-all": `{"status":"success","data":[
			{"order_id":"1","instrument_token":"NSE_EQ|INE002A01018","transaction_type":"BUY","quantity":2,"order_type":"MARKET","product":"D","exchange":"NSE","status":"trigger pending"}]}`,
	})
	l := newTestLedger(srv.URL)

	orders := l.ListOrders(context.Background())
	require.Len(t, orders, 1)
	assert.Equal(t, domain.SideBuy, orders[0].Side)
	assert.Equal(t, domain.OrderOpen, orders[0].Status)
	assert.Equal(t, domain.ProductDelivery, orders[0].Product)
}

func TestCancel(t *testing.T) {
	srv, seen := routeServer(t, map[string]string{
		"/order/cancel": `{"status":"success","data":{"order_id":"9"}}`,
	})
	l := newTestLedger(srv.URL)

	require.NoError(t, l.Cancel(context.Background(), "9"))
	req, _ := seen.at(0)
	assert.Equal(t, http.MethodDelete, req.Method)
	assert.Equal(t, "9", req.URL.Query().Get("order_id"))
}

func TestModify_FillsFromTrackedOrder(t *testing.T) {
	srv, seen := routeServer(t, map[string]string{
		"/order/place":  `{"status":"success","data":{"order_id":"11"}}`,
		"/order/modify": `{"status":"success","data":{"order_id":"11"}}`,
	})
	l := newTestLedger(srv.URL)
	_, err := l.Place(context.Background(), limitBuy(t))
	require.NoError(t, err)

	require.NoError(t, l.Modify(context.Background(), "11", domain.ModifyFields{Price: 2465.02}))

	req, body := seen.at(1)
	assert.Equal(t, http.MethodPut, req.Method)
	var sent modifyBody
	require.NoError(t, json.Unmarshal(body, &sent))
	assert.Equal(t, 5, sent.Quantity)
	assert.Equal(t, 2465.0, sent.Price)
	assert.Equal(t, "LIMIT", sent.OrderType)

	o, _ := l.Tracked("11")
	assert.Equal(t, 2465.0, o.Price)
}

func TestModify_RefusesTerminalOrder(t *testing.T) {
	srv, seen := routeServer(t, map[string]string{
		"/order/place": `{"status":"success","data":{"order_id":"12"}}`,
	})
	l := newTestLedger(srv.URL)
	_, err := l.Place(context.Background(), limitBuy(t))
	require.NoError(t, err)
	l.ApplyUpdate(OrderUpdate{OrderID: "12", Status: "complete"})

	err = l.Modify(context.Background(), "12", domain.ModifyFields{Quantity: 1})
	assert.ErrorIs(t, err, domain.ErrInvalid)
	assert.Equal(t, 1, seen.count())
}

func TestTrades(t *testing.T) {
	srv, _ := routeServer(t, map[string]string{
		"/order/trades": `{"status":"success","data":[
			{"trade_id":"T1","order_id":"42","quantity":3,"average_price":100.5,"exchange_timestamp":"2024-03-01 10:00:05"}]}`,
	})
	l := newTestLedger(srv.URL)

	fills, err := l.Trades(context.Background(), "42")
	require.NoError(t, err)
	require.Len(t, fills, 1)
	assert.Equal(t, "T1", fills[0].TradeID)
	assert.Equal(t, 3, fills[0].Quantity)
	assert.Equal(t, 100.5, fills[0].Price)
	assert.Equal(t, 10, fills[0].At.Hour())
}
