package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const streamReconnectDelay = 5 * time.Second

// OrderStream receives order updates from the portfolio stream feed and
// hands them to registered callbacks.
type OrderStream struct {
	transport *Transport
	dialer    *websocket.Dialer
	logger    *zap.Logger
	sleep     func(ctx context.Context, d time.Duration) error

	mu        sync.Mutex
	conn      *websocket.Conn
	done      chan struct{}
	callbacks []func(OrderUpdate)
}

func NewOrderStream(t *Transport, logger *zap.Logger) *OrderStream {
	return &OrderStream{
		transport: t,
		dialer:    websocket.DefaultDialer,
		logger:    logger,
		sleep:     sleepCtx,
	}
}

func (s *OrderStream) OnOrderUpdate(callback func(OrderUpdate)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callbacks = append(s.callbacks, callback)
}

// authorize asks the API for a one-time websocket URL.
func (s *OrderStream) authorize(ctx context.Context) (string, error) {
	var data struct {
		AuthorizedRedirectURI string `json:"authorized_redirect_uri"`
		AuthorizedRedirectURL string `json:"authorizedRedirectUri"`
	}
	err := s.transport.DoJSON(ctx, Request{
		Method: http.MethodGet,
		Path:   "/feed/portfolio-stream-feed/authorize",
		Query:  map[string]string{"update_types": "order"},
	}, &data)
	if err != nil {
		return "", fmt.Errorf("authorize order stream: %w", err)
	}
	uri := data.AuthorizedRedirectURI
	if uri == "" {
		uri = data.AuthorizedRedirectURL
	}
	if uri == "" {
		return "", errors.New("authorize order stream: no websocket url in response")
	}
	return uri, nil
}

// Connect authorizes and dials the feed, then reads it in the background
// until the connection drops or Close is called.
func (s *OrderStream) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.conn != nil {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	uri, err := s.authorize(ctx)
	if err != nil {
		return err
	}
	c, _, err := s.dialer.DialContext(ctx, uri, nil)
	if err != nil {
		return fmt.Errorf("dial order stream: %w", err)
	}

	s.mu.Lock()
	s.conn = c
	s.done = make(chan struct{})
	done := s.done
	s.mu.Unlock()

	s.logger.Info("Order stream connected")
	go s.readLoop(c, done)
	return nil
}

// Run keeps the stream connected until ctx is cancelled.
func (s *OrderStream) Run(ctx context.Context) {
	defer s.Close()
	for {
		if err := s.Connect(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Warn("Order stream connect failed", zap.Error(err))
		} else {
			select {
			case <-ctx.Done():
				return
			case <-s.Done():
			}
		}
		if err := s.sleep(ctx, streamReconnectDelay); err != nil {
			return
		}
	}
}

// Done is closed when the current connection ends.
func (s *OrderStream) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return s.done
}

func (s *OrderStream) Close() error {
	s.mu.Lock()
	c := s.conn
	s.mu.Unlock()
	if c == nil {
		return nil
	}
	_ = c.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	return c.Close()
}

type orderStreamMessage struct {
	UpdateType        string  `json:"update_type"`
	OrderID           string  `json:"order_id"`
	Status            string  `json:"status"`
	StatusMessage     string  `json:"status_message"`
	FilledQuantity    int     `json:"filled_quantity"`
	AveragePrice      float64 `json:"average_price"`
	OrderTimestamp    string  `json:"order_timestamp"`
	ExchangeTimestamp string  `json:"exchange_timestamp"`
}

func (s *OrderStream) readLoop(c *websocket.Conn, done chan struct{}) {
	defer func() {
		c.Close()
		s.mu.Lock()
		if s.conn == c {
			s.conn = nil
		}
		s.mu.Unlock()
		close(done)
	}()

	for {
		_, message, err := c.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				s.logger.Warn("Order stream read error", zap.Error(err))
			}
			return
		}

		var msg orderStreamMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			s.logger.Debug("Order stream unmarshal error", zap.Error(err))
			continue
		}
		if msg.OrderID == "" || (msg.UpdateType != "" && msg.UpdateType != "order") {
			continue
		}
		streamMessagesTotal.Inc()

		at := parseOrderTime(msg.ExchangeTimestamp)
		if at.IsZero() {
			at = parseOrderTime(msg.OrderTimestamp)
		}
		update := OrderUpdate{
			OrderID:       msg.OrderID,
			Status:        msg.Status,
			StatusMessage: msg.StatusMessage,
			FilledQty:     msg.FilledQuantity,
			AveragePrice:  msg.AveragePrice,
			At:            at,
		}

		s.mu.Lock()
		callbacks := make([]func(OrderUpdate), len(s.callbacks))
		copy(callbacks, s.callbacks)
		s.mu.Unlock()

		for _, cb := range callbacks {
			cb(update)
		}
	}
}
