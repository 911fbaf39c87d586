package storage

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/vitos/equity_trade_bot/internal/domain"
)

var ErrTradeNotFound = errors.New("trade not found")

const (
	BackendSQLite = "sqlite"
	BackendJSONL  = "jsonl"
)

// OpenJournal opens the journal backend named by backend. For sqlite, path
// is the database file; for jsonl it is the directory holding the files.
func OpenJournal(backend, path string) (domain.TradeJournal, error) {
	switch backend {
	case BackendSQLite, "":
		return NewSQLiteJournal(path)
	case BackendJSONL:
		if filepath.Ext(path) != "" {
			path = filepath.Dir(path)
		}
		return NewJSONLJournal(path)
	}
	return nil, fmt.Errorf("%w: journal backend %q", domain.ErrInvalid, backend)
}

func newID() string {
	return uuid.NewString()
}

func applyExit(t *domain.TradeRecord, price, pnl float64, notes string, at time.Time) {
	t.ExitPrice = price
	t.PnL = pnl
	t.Status = domain.TradeClosed
	t.ClosedAt = at
	if notes != "" {
		if t.Notes != "" {
			t.Notes += "; "
		}
		t.Notes += notes
	}
}
