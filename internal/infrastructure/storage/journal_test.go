package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitos/equity_trade_bot/internal/domain"
)

func openBackends(t *testing.T) map[string]domain.TradeJournal {
	dir := t.TempDir()
	sqlite, err := OpenJournal(BackendSQLite, filepath.Join(dir, "db", "journal.db"))
	require.NoError(t, err)
	jsonl, err := OpenJournal(BackendJSONL, filepath.Join(dir, "jsonl"))
	require.NoError(t, err)
	t.Cleanup(func() {
		sqlite.Close()
		jsonl.Close()
	})
	return map[string]domain.TradeJournal{"sqlite": sqlite, "jsonl": jsonl}
}

func TestJournal_EntryExitFold(t *testing.T) {
	opened := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)

	for name, j := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			win := &domain.TradeRecord{
				Symbol: "RELIANCE", Side: domain.SideBuy, Strategy: "rsi_mean_reversion",
				EntryPrice: 100, Quantity: 10, StopLoss: 95, TakeProfits: []float64{200, 500, 1000},
				Notes: "dip", OpenedAt: opened,
			}
			loss := &domain.TradeRecord{Symbol: "ITC", Side: domain.SideBuy, EntryPrice: 400, Quantity: 2, StopLoss: 380, TakeProfits: []float64{}, OpenedAt: opened.Add(time.Minute)}
			open := &domain.TradeRecord{Symbol: "HDFCBANK", Side: domain.SideBuy, EntryPrice: 1500, Quantity: 1, StopLoss: 1450, TakeProfits: []float64{}, OpenedAt: opened.Add(2 * time.Minute)}

			for _, tr := range []*domain.TradeRecord{win, loss, open} {
				require.NoError(t, j.LogEntry(ctx, tr))
				assert.NotEmpty(t, tr.ID)
			}
			require.NoError(t, j.LogExit(ctx, win.ID, 110, 100, "target", opened.Add(time.Hour)))
			require.NoError(t, j.LogExit(ctx, loss.ID, 380, -40, "", opened.Add(time.Hour)))

			trades, err := j.ListTrades(ctx)
			require.NoError(t, err)
			require.Len(t, trades, 3)

			assert.Equal(t, win.ID, trades[0].ID)
			assert.Equal(t, domain.TradeClosed, trades[0].Status)
			assert.Equal(t, 110.0, trades[0].ExitPrice)
			assert.Equal(t, []float64{200, 500, 1000}, trades[0].TakeProfits)
			assert.Equal(t, "dip; target", trades[0].Notes)
			assert.Equal(t, "rsi_mean_reversion", trades[0].Strategy)
			assert.Equal(t, domain.TradeOpen, trades[2].Status)

			stats := domain.ComputeTradeStats(trades)
			assert.Equal(t, 2, stats.TotalTrades)
			assert.Equal(t, 1, stats.WinningTrades)
			assert.Equal(t, 60.0, stats.TotalPnL)
			assert.Equal(t, 50.0, stats.WinRate)
		})
	}
}

func TestJournal_ExitUnknownTrade(t *testing.T) {
	for name, j := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			err := j.LogExit(context.Background(), "missing", 1, 1, "", time.Now())
			assert.ErrorIs(t, err, ErrTradeNotFound)
		})
	}
}

func TestJournal_Lessons(t *testing.T) {
	for name, j := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
			require.NoError(t, j.AddLesson(ctx, &domain.Lesson{Symbol: "ITC", TradeType: "pullback", WhatWorked: "entry", WhatDidnt: "exit", Text: "trail the stop", CreatedAt: base}))
			require.NoError(t, j.AddLesson(ctx, &domain.Lesson{Symbol: "RELIANCE", Text: "respect the pump guard", CreatedAt: base.Add(time.Hour)}))

			lessons, err := j.ListLessons(ctx)
			require.NoError(t, err)
			require.Len(t, lessons, 2)
			assert.Equal(t, "trail the stop", lessons[0].Text)
			assert.Equal(t, "exit", lessons[0].WhatDidnt)
			assert.Equal(t, "respect the pump guard", lessons[1].Text)
		})
	}
}

func TestJSONLJournal_AppendOnly(t *testing.T) {
	dir := t.TempDir()
	j, err := NewJSONLJournal(dir)
	require.NoError(t, err)
	ctx := context.Background()

	tr := &domain.TradeRecord{Symbol: "ITC", EntryPrice: 1, Quantity: 1, TakeProfits: []float64{}}
	require.NoError(t, j.LogEntry(ctx, tr))
	require.NoError(t, j.LogExit(ctx, tr.ID, 2, 1, "", time.Now()))

	raw, err := os.ReadFile(filepath.Join(dir, tradesFile))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"event":"entry"`)
	assert.Contains(t, lines[1], `"event":"exit"`)
}

func TestJSONLJournal_EmptyDir(t *testing.T) {
	j, err := NewJSONLJournal(t.TempDir())
	require.NoError(t, err)
	trades, err := j.ListTrades(context.Background())
	require.NoError(t, err)
	assert.Empty(t, trades)
}

func TestOpenJournal_UnknownBackend(t *testing.T) {
	_, err := OpenJournal("postgres", t.TempDir())
	assert.ErrorIs(t, err, domain.ErrInvalid)
}
