package broker

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitos/equity_trade_bot/internal/domain"
	"go.uber.org/zap"
)

// streamServer authorizes a websocket URL and pushes messages on connect.
func streamServer(t *testing.T, messages ...string) *httptest.Server {
	upgrader := websocket.Upgrader{}
	mux := http.NewServeMux()
	var srv *httptest.Server

	mux.HandleFunc("/feed/portfolio-stream-feed/authorize", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "order", r.URL.Query().Get("update_types"))
		wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
		_, _ = w.Write([]byte(`{"status":"success","data":{"authorized_redirect_uri":"` + wsURL + `"}}`))
	})
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		for _, m := range messages {
			if err := c.WriteMessage(websocket.TextMessage, []byte(m)); err != nil {
				return
			}
		}
		_ = c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	})

	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestOrderStream_DispatchesOrderUpdates(t *testing.T) {
	srv := streamServer(t,
		`{"update_type":"order","order_id":"42","status":"open","order_timestamp":"2024-03-01 10:00:01"}`,
		`not json`,
		`{"update_type":"position","order_id":"42"}`,
		`{"update_type":"order","order_id":"42","status":"complete","filled_quantity":5,"average_price":100.5,"exchange_timestamp":"2024-03-01 10:00:02"}`,
	)
	s := NewOrderStream(newTestTransport(srv.URL, nil), zap.NewNop())

	updates := make(chan OrderUpdate, 4)
	s.OnOrderUpdate(func(u OrderUpdate) { updates <- u })

	require.NoError(t, s.Connect(context.Background()))
	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("stream did not finish")
	}
	close(updates)

	var got []OrderUpdate
	for u := range updates {
		got = append(got, u)
	}
	require.Len(t, got, 2)
	assert.Equal(t, "open", got[0].Status)
	assert.Equal(t, "complete", got[1].Status)
	assert.Equal(t, 5, got[1].FilledQty)
	assert.Equal(t, 2, got[1].At.Second())
}

func TestOrderStream_FeedsLedger(t *testing.T) {
	srv := streamServer(t, `{"update_type":"order","order_id":"77","status":"rejected","status_message":"margin"}`)
	tr := newTestTransport(srv.URL, nil)

	ledger := NewOrderLedger(tr, zap.NewNop())
	seed := domain.NewOrder(domain.OrderRequest{InstrumentKey: reliance, Side: domain.SideBuy, Quantity: 1}, time.Now())
	seed.ID = "77"
	require.NoError(t, seed.Transition(domain.OrderSubmitted, time.Now()))
	ledger.track(seed)

	s := NewOrderStream(tr, zap.NewNop())
	s.OnOrderUpdate(func(u OrderUpdate) { ledger.ApplyUpdate(u) })
	require.NoError(t, s.Connect(context.Background()))
	<-s.Done()

	o, ok := ledger.Tracked("77")
	require.True(t, ok)
	assert.Equal(t, domain.OrderRejected, o.Status)
	assert.Equal(t, "margin", o.StatusMessage)
}

func TestOrderStream_AuthorizeWithoutURL(t *testing.T) {
	srv, _ := routeServer(t, map[string]string{
		"/feed/portfolio-stream-feed/authorize": `{"status":"success","data":{}}`,
	})
	s := NewOrderStream(newTestTransport(srv.URL, nil), zap.NewNop())
	assert.Error(t, s.Connect(context.Background()))
}

func TestOrderStream_RunStopsOnCancel(t *testing.T) {
	srv := streamServer(t)
	s := NewOrderStream(newTestTransport(srv.URL, nil), zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	s.sleep = func(context.Context, time.Duration) error {
		cancel()
		return context.Canceled
	}

	finished := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
