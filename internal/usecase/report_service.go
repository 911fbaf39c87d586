package usecase

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/vitos/equity_trade_bot/internal/domain"
	"go.uber.org/zap"
)

const reportLessons = 5

// StrategyStats is the closed-trade summary of one strategy.
type StrategyStats struct {
	Strategy string
	domain.TradeStats
}

// Report summarizes the journal over a trailing window.
type Report struct {
	Days          int
	Since         time.Time
	Trades        []*domain.TradeRecord
	OpenTrades    int
	Stats         domain.TradeStats
	ByStrategy    []StrategyStats
	TotalLessons  int
	RecentLessons []*domain.Lesson
}

type ReportService struct {
	journal domain.TradeJournal
	logger  *zap.Logger
	timeNow func() time.Time
}

func NewReportService(journal domain.TradeJournal, logger *zap.Logger) *ReportService {
	return &ReportService{journal: journal, logger: logger, timeNow: time.Now}
}

// Build collects the trades opened in the last days days and the latest
// lessons.
func (s *ReportService) Build(ctx context.Context, days int) (*Report, error) {
	if days <= 0 {
		days = 30
	}
	trades, err := s.journal.ListTrades(ctx)
	if err != nil {
		return nil, fmt.Errorf("read trades: %w", err)
	}
	lessons, err := s.journal.ListLessons(ctx)
	if err != nil {
		return nil, fmt.Errorf("read lessons: %w", err)
	}

	r := &Report{
		Days:         days,
		Since:        s.timeNow().AddDate(0, 0, -days),
		TotalLessons: len(lessons),
	}
	byStrategy := make(map[string][]*domain.TradeRecord)
	for _, t := range trades {
		if !t.OpenedAt.After(r.Since) {
			continue
		}
		r.Trades = append(r.Trades, t)
		if t.Status == domain.TradeOpen {
			r.OpenTrades++
		}
		name := t.Strategy
		if name == "" {
			name = "manual"
		}
		byStrategy[name] = append(byStrategy[name], t)
	}
	r.Stats = domain.ComputeTradeStats(r.Trades)

	for name, list := range byStrategy {
		r.ByStrategy = append(r.ByStrategy, StrategyStats{Strategy: name, TradeStats: domain.ComputeTradeStats(list)})
	}
	sort.Slice(r.ByStrategy, func(i, j int) bool { return r.ByStrategy[i].Strategy < r.ByStrategy[j].Strategy })

	if n := len(lessons); n > reportLessons {
		lessons = lessons[n-reportLessons:]
	}
	r.RecentLessons = lessons
	return r, nil
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

// Markdown renders the report for the terminal or a file.
func (r *Report) Markdown() string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Trading Report - Last %d Days\n\n", r.Days)

	b.WriteString("## Performance Summary\n")
	fmt.Fprintf(&b, "- Closed Trades: %d\n", r.Stats.TotalTrades)
	fmt.Fprintf(&b, "- Open Trades: %d\n", r.OpenTrades)
	fmt.Fprintf(&b, "- Win Rate: %.1f%%\n", r.Stats.WinRate)
	fmt.Fprintf(&b, "- Total P&L: ₹%.2f\n", r.Stats.TotalPnL)
	fmt.Fprintf(&b, "- Average P&L per Trade: ₹%.2f\n", r.Stats.AvgPnL)

	if len(r.ByStrategy) > 0 {
		b.WriteString("\n## By Strategy\n\n")
		b.WriteString("| Strategy | Closed | Win Rate | Total P&L |\n")
		b.WriteString("|---|---|---|---|\n")
		for _, st := range r.ByStrategy {
			fmt.Fprintf(&b, "| %s | %d | %.1f%% | ₹%.2f |\n", st.Strategy, st.TotalTrades, st.WinRate, st.TotalPnL)
		}
	}

	fmt.Fprintf(&b, "\n## Lessons Learned (%d total)\n", r.TotalLessons)
	for _, l := range r.RecentLessons {
		fmt.Fprintf(&b, "- %s: %s\n", l.CreatedAt.Format("2006-01-02"), clip(l.Text, 60))
	}
	return b.String()
}

// SymbolHistory returns every journaled trade in symbol, oldest first.
func (s *ReportService) SymbolHistory(ctx context.Context, symbol string) ([]*domain.TradeRecord, error) {
	trades, err := s.journal.ListTrades(ctx)
	if err != nil {
		return nil, fmt.Errorf("read trades: %w", err)
	}
	var out []*domain.TradeRecord
	for _, t := range trades {
		if strings.EqualFold(t.Symbol, symbol) {
			out = append(out, t)
		}
	}
	return out, nil
}

// RecordLesson stores a lesson; the lesson text is required.
func (s *ReportService) RecordLesson(ctx context.Context, l *domain.Lesson) error {
	if strings.TrimSpace(l.Text) == "" {
		return fmt.Errorf("%w: lesson text is empty", domain.ErrInvalid)
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = s.timeNow()
	}
	if err := s.journal.AddLesson(ctx, l); err != nil {
		return fmt.Errorf("add lesson: %w", err)
	}
	s.logger.Info("Lesson recorded", zap.String("symbol", l.Symbol), zap.String("lesson", clip(l.Text, 50)))
	return nil
}
