package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/vitos/equity_trade_bot/internal/domain"
)

// SQLiteJournal stores trades as append-only event rows: an entry row when
// a position opens and an exit row when it closes. Rows are never updated.
type SQLiteJournal struct {
	db *sql.DB
}

func NewSQLiteJournal(dbPath string) (*SQLiteJournal, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create journal dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	j := &SQLiteJournal{db: db}
	if err := j.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return j, nil
}

func (j *SQLiteJournal) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS trade_entries (
			id TEXT PRIMARY KEY,
			symbol TEXT NOT NULL,
			side TEXT NOT NULL,
			strategy TEXT,
			order_id TEXT,
			entry_price REAL NOT NULL,
			quantity REAL NOT NULL,
			stop_loss REAL NOT NULL,
			take_profits TEXT NOT NULL,
			notes TEXT,
			opened_at DATETIME NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS trade_exits (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			trade_id TEXT NOT NULL,
			exit_price REAL NOT NULL,
			pnl REAL NOT NULL,
			notes TEXT,
			closed_at DATETIME NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_trade_exits_trade ON trade_exits(trade_id);`,
		`CREATE TABLE IF NOT EXISTS lessons (
			id TEXT PRIMARY KEY,
			symbol TEXT NOT NULL,
			trade_type TEXT,
			what_worked TEXT,
			what_didnt TEXT,
			lesson TEXT NOT NULL,
			created_at DATETIME NOT NULL
		);`,
	}

	for _, q := range queries {
		if _, err := j.db.Exec(q); err != nil {
			return fmt.Errorf("failed to exec query %s: %w", q, err)
		}
	}
	return nil
}

func (j *SQLiteJournal) LogEntry(ctx context.Context, t *domain.TradeRecord) error {
	if t.ID == "" {
		t.ID = newID()
	}
	if t.OpenedAt.IsZero() {
		t.OpenedAt = time.Now()
	}
	tps, err := json.Marshal(t.TakeProfits)
	if err != nil {
		return err
	}
	t.Status = domain.TradeOpen

	query := `INSERT INTO trade_entries (id, symbol, side, strategy, order_id, entry_price, quantity, stop_loss, take_profits, notes, opened_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = j.db.ExecContext(ctx, query,
		t.ID, t.Symbol, string(t.Side), t.Strategy, t.OrderID, t.EntryPrice, t.Quantity, t.StopLoss, string(tps), t.Notes, t.OpenedAt.UTC())
	if err != nil {
		return fmt.Errorf("log trade entry %s: %w", t.Symbol, err)
	}
	return nil
}

func (j *SQLiteJournal) LogExit(ctx context.Context, tradeID string, exitPrice, pnl float64, notes string, at time.Time) error {
	var exists int
	if err := j.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM trade_entries WHERE id = ?`, tradeID).Scan(&exists); err != nil {
		return err
	}
	if exists == 0 {
		return fmt.Errorf("%w: %s", ErrTradeNotFound, tradeID)
	}

	_, err := j.db.ExecContext(ctx,
		`INSERT INTO trade_exits (trade_id, exit_price, pnl, notes, closed_at) VALUES (?, ?, ?, ?, ?)`,
		tradeID, exitPrice, pnl, notes, at.UTC())
	if err != nil {
		return fmt.Errorf("log trade exit %s: %w", tradeID, err)
	}
	return nil
}

func (j *SQLiteJournal) AddLesson(ctx context.Context, l *domain.Lesson) error {
	if l.ID == "" {
		l.ID = newID()
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now()
	}
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO lessons (id, symbol, trade_type, what_worked, what_didnt, lesson, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		l.ID, l.Symbol, l.TradeType, l.WhatWorked, l.WhatDidnt, l.Text, l.CreatedAt.UTC())
	return err
}

// ListTrades folds entry and exit rows into trade records, oldest first.
// The latest exit row of a trade wins.
func (j *SQLiteJournal) ListTrades(ctx context.Context) ([]*domain.TradeRecord, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT id, symbol, side, strategy, order_id, entry_price, quantity, stop_loss, take_profits, notes, opened_at
		 FROM trade_entries ORDER BY opened_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []*domain.TradeRecord
	byID := make(map[string]*domain.TradeRecord)
	for rows.Next() {
		var (
			t                       domain.TradeRecord
			side, tps               string
			strategy, orderID, note sql.NullString
		)
		if err := rows.Scan(&t.ID, &t.Symbol, &side, &strategy, &orderID, &t.EntryPrice, &t.Quantity, &t.StopLoss, &tps, &note, &t.OpenedAt); err != nil {
			return nil, err
		}
		t.Side = domain.TransactionSide(side)
		t.Strategy = strategy.String
		t.OrderID = orderID.String
		t.Notes = note.String
		t.Status = domain.TradeOpen
		if err := json.Unmarshal([]byte(tps), &t.TakeProfits); err != nil {
			return nil, fmt.Errorf("trade %s take profits: %w", t.ID, err)
		}
		trades = append(trades, &t)
		byID[t.ID] = &t
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	exits, err := j.db.QueryContext(ctx, `SELECT trade_id, exit_price, pnl, notes, closed_at FROM trade_exits ORDER BY seq`)
	if err != nil {
		return nil, err
	}
	defer exits.Close()

	for exits.Next() {
		var (
			id       string
			price    float64
			pnl      float64
			notes    sql.NullString
			closedAt time.Time
		)
		if err := exits.Scan(&id, &price, &pnl, &notes, &closedAt); err != nil {
			return nil, err
		}
		if t, ok := byID[id]; ok {
			applyExit(t, price, pnl, notes.String, closedAt)
		}
	}
	return trades, exits.Err()
}

func (j *SQLiteJournal) ListLessons(ctx context.Context) ([]*domain.Lesson, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT id, symbol, trade_type, what_worked, what_didnt, lesson, created_at FROM lessons ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lessons []*domain.Lesson
	for rows.Next() {
		var (
			l                   domain.Lesson
			kind, worked, didnt sql.NullString
		)
		if err := rows.Scan(&l.ID, &l.Symbol, &kind, &worked, &didnt, &l.Text, &l.CreatedAt); err != nil {
			return nil, err
		}
		l.TradeType, l.WhatWorked, l.WhatDidnt = kind.String, worked.String, didnt.String
		lessons = append(lessons, &l)
	}
	return lessons, rows.Err()
}

func (j *SQLiteJournal) Close() error {
	return j.db.Close()
}
