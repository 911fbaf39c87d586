package broker

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/vitos/equity_trade_bot/internal/domain"
	"go.uber.org/zap"
)

// InstrumentMasterURL is the public per-exchange instrument dump.
const InstrumentMasterURL = "https://assets.upstox.com/market-quote/instruments/exchange/%s.json.gz"

// InstrumentDirectory resolves trading symbols to instrument keys using the
// instrument master.
type InstrumentDirectory struct {
	client *resty.Client
	urlFmt string
	logger *zap.Logger

	mu       sync.RWMutex
	bySymbol map[string]domain.Instrument
	byKey    map[string]domain.Instrument
}

func NewInstrumentDirectory(logger *zap.Logger) *InstrumentDirectory {
	return &InstrumentDirectory{
		client:   resty.New().SetTimeout(60 * time.Second),
		urlFmt:   InstrumentMasterURL,
		logger:   logger,
		bySymbol: make(map[string]domain.Instrument),
		byKey:    make(map[string]domain.Instrument),
	}
}

// Load downloads and indexes the equity instruments of an exchange.
func (d *InstrumentDirectory) Load(ctx context.Context, exchange domain.Exchange) error {
	url := fmt.Sprintf(d.urlFmt, exchange)
	resp, err := d.client.R().SetContext(ctx).Get(url)
	if err != nil {
		return fmt.Errorf("download instruments %s: %w", exchange, err)
	}
	if resp.IsError() {
		return fmt.Errorf("download instruments %s: status %d", exchange, resp.StatusCode())
	}

	n, err := d.index(bytes.NewReader(resp.Body()))
	if err != nil {
		return fmt.Errorf("parse instruments %s: %w", exchange, err)
	}
	d.logger.Info("Loaded instrument master", zap.String("exchange", string(exchange)), zap.Int("equities", n))
	return nil
}

// index decodes a JSON array, gzip-compressed or plain, and keeps the
// cash-segment equities.
func (d *InstrumentDirectory) index(r io.Reader) (int, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return 0, err
	}
	if len(raw) > 2 && raw[0] == 0x1f && raw[1] == 0x8b {
		zr, err := gzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			return 0, err
		}
		defer zr.Close()
		if raw, err = io.ReadAll(zr); err != nil {
			return 0, err
		}
	}

	var all []domain.Instrument
	if err := json.Unmarshal(raw, &all); err != nil {
		return 0, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, inst := range all {
		if !inst.Equity() || inst.InstrumentType != "EQ" {
			continue
		}
		d.bySymbol[symbolKey(inst.Exchange, inst.TradingSymbol)] = inst
		d.byKey[inst.InstrumentKey] = inst
		n++
	}
	return n, nil
}

func symbolKey(exchange, symbol string) string {
	return strings.ToUpper(exchange) + ":" + strings.ToUpper(strings.TrimSpace(symbol))
}

// Resolve accepts either an instrument key ("NSE_EQ|INE002A01018") or a
// trading symbol on the given exchange ("RELIANCE").
func (d *InstrumentDirectory) Resolve(exchange domain.Exchange, symbolOrKey string) (domain.Instrument, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if strings.Contains(symbolOrKey, "|") {
		if inst, ok := d.byKey[symbolOrKey]; ok {
			return inst, nil
		}
		return domain.Instrument{InstrumentKey: symbolOrKey}, nil
	}
	if inst, ok := d.bySymbol[symbolKey(string(exchange), symbolOrKey)]; ok {
		return inst, nil
	}
	return domain.Instrument{}, fmt.Errorf("%w: unknown symbol %s on %s", domain.ErrInvalid, symbolOrKey, exchange)
}

func (d *InstrumentDirectory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.byKey)
}
