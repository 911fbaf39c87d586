package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/vitos/equity_trade_bot/internal/domain"
)

const (
	tradesFile  = "trades.jsonl"
	lessonsFile = "lessons.jsonl"
)

type tradeEvent struct {
	Event     string              `json:"event"`
	Trade     *domain.TradeRecord `json:"trade,omitempty"`
	TradeID   string              `json:"trade_id,omitempty"`
	ExitPrice float64             `json:"exit_price,omitempty"`
	PnL       float64             `json:"pnl,omitempty"`
	Notes     string              `json:"notes,omitempty"`
	At        time.Time           `json:"at"`
}

// JSONLJournal appends trade events and lessons as JSON lines.
type JSONLJournal struct {
	dir string
	mu  sync.Mutex
}

func NewJSONLJournal(dir string) (*JSONLJournal, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create journal dir: %w", err)
	}
	return &JSONLJournal{dir: dir}, nil
}

func (j *JSONLJournal) appendLine(name string, v interface{}) error {
	line, err := json.Marshal(v)
	if err != nil {
		return err
	}
	j.mu.Lock()
	defer j.mu.Unlock()

	f, err := os.OpenFile(filepath.Join(j.dir, name), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func (j *JSONLJournal) readLines(name string, fn func([]byte) error) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	f, err := os.Open(filepath.Join(j.dir, name))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		if len(sc.Bytes()) == 0 {
			continue
		}
		if err := fn(sc.Bytes()); err != nil {
			return err
		}
	}
	return sc.Err()
}

func (j *JSONLJournal) LogEntry(ctx context.Context, t *domain.TradeRecord) error {
	if t.ID == "" {
		t.ID = newID()
	}
	if t.OpenedAt.IsZero() {
		t.OpenedAt = time.Now()
	}
	t.Status = domain.TradeOpen
	return j.appendLine(tradesFile, tradeEvent{Event: "entry", Trade: t, At: t.OpenedAt})
}

func (j *JSONLJournal) LogExit(ctx context.Context, tradeID string, exitPrice, pnl float64, notes string, at time.Time) error {
	trades, err := j.ListTrades(ctx)
	if err != nil {
		return err
	}
	found := false
	for _, t := range trades {
		if t.ID == tradeID {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("%w: %s", ErrTradeNotFound, tradeID)
	}
	return j.appendLine(tradesFile, tradeEvent{Event: "exit", TradeID: tradeID, ExitPrice: exitPrice, PnL: pnl, Notes: notes, At: at})
}

func (j *JSONLJournal) AddLesson(ctx context.Context, l *domain.Lesson) error {
	if l.ID == "" {
		l.ID = newID()
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now()
	}
	return j.appendLine(lessonsFile, l)
}

// ListTrades replays the event file; the latest exit event of a trade wins.
func (j *JSONLJournal) ListTrades(ctx context.Context) ([]*domain.TradeRecord, error) {
	var trades []*domain.TradeRecord
	byID := make(map[string]*domain.TradeRecord)

	err := j.readLines(tradesFile, func(line []byte) error {
		var ev tradeEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			return fmt.Errorf("decode trade event: %w", err)
		}
		switch ev.Event {
		case "entry":
			if ev.Trade == nil {
				return nil
			}
			ev.Trade.Status = domain.TradeOpen
			trades = append(trades, ev.Trade)
			byID[ev.Trade.ID] = ev.Trade
		case "exit":
			if t, ok := byID[ev.TradeID]; ok {
				applyExit(t, ev.ExitPrice, ev.PnL, ev.Notes, ev.At)
			}
		}
		return nil
	})
	return trades, err
}

func (j *JSONLJournal) ListLessons(ctx context.Context) ([]*domain.Lesson, error) {
	var lessons []*domain.Lesson
	err := j.readLines(lessonsFile, func(line []byte) error {
		var l domain.Lesson
		if err := json.Unmarshal(line, &l); err != nil {
			return fmt.Errorf("decode lesson: %w", err)
		}
		lessons = append(lessons, &l)
		return nil
	})
	return lessons, err
}

func (j *JSONLJournal) Close() error { return nil }
