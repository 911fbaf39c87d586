package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/vitos/equity_trade_bot/internal/domain"
	"github.com/vitos/equity_trade_bot/internal/infrastructure/auth"
	"github.com/vitos/equity_trade_bot/internal/infrastructure/broker"
	"github.com/vitos/equity_trade_bot/internal/infrastructure/storage"
	"github.com/vitos/equity_trade_bot/internal/usecase"
	"github.com/vitos/equity_trade_bot/internal/web"
	"go.uber.org/zap"
)

var (
	dryRun       bool
	authCode     string
	authState    string
	reportDays   int
	reportOut    string
	lessonSymbol string
	lessonText   string
	lessonType   string

	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Start the trading loop and the status server",
		Args:  cobra.NoArgs,
		RunE:  runBot,
	}

	authCmd = &cobra.Command{
		Use:   "auth",
		Short: "Manage the Upstox access token",
	}
	authURLCmd = &cobra.Command{
		Use:   "url",
		Short: "Print the authorization dialog URL",
		Args:  cobra.NoArgs,
		RunE:  runAuthURL,
	}
	authExchangeCmd = &cobra.Command{
		Use:   "exchange",
		Short: "Exchange an authorization code for a token pair",
		Args:  cobra.NoArgs,
		RunE:  runAuthExchange,
	}
	authRefreshCmd = &cobra.Command{
		Use:   "refresh",
		Short: "Refresh the stored access token",
		Args:  cobra.NoArgs,
		RunE:  runAuthRefresh,
	}

	quoteCmd = &cobra.Command{
		Use:   "quote [symbol or instrument key]",
		Short: "Print the full market quote of an instrument",
		Args:  cobra.ExactArgs(1),
		RunE:  runQuote,
	}
	fundsCmd = &cobra.Command{
		Use:   "funds",
		Short: "Print equity funds, holdings and positions",
		Args:  cobra.NoArgs,
		RunE:  runFunds,
	}

	reportCmd = &cobra.Command{
		Use:   "report",
		Short: "Render the trading journal report",
		Args:  cobra.NoArgs,
		RunE:  runReport,
	}
	lessonCmd = &cobra.Command{
		Use:   "lesson",
		Short: "Manage journal lessons",
	}
	lessonAddCmd = &cobra.Command{
		Use:   "add",
		Short: "Record a lesson in the journal",
		Args:  cobra.NoArgs,
		RunE:  runLessonAdd,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
)

func registerCommands() {
	runCmd.Flags().BoolVar(&dryRun, "dry-run", false, "log orders instead of sending them")

	authExchangeCmd.Flags().StringVar(&authCode, "code", "", "authorization code from the redirect")
	authExchangeCmd.Flags().StringVar(&authState, "state", "", "state parameter from the redirect")
	_ = authExchangeCmd.MarkFlagRequired("code")
	authCmd.AddCommand(authURLCmd, authExchangeCmd, authRefreshCmd)

	reportCmd.Flags().IntVar(&reportDays, "days", 30, "trailing window in days")
	reportCmd.Flags().StringVarP(&reportOut, "output", "o", "", "write the report to a file")

	lessonAddCmd.Flags().StringVar(&lessonSymbol, "symbol", "", "symbol the lesson is about")
	lessonAddCmd.Flags().StringVar(&lessonText, "text", "", "the lesson")
	lessonAddCmd.Flags().StringVar(&lessonType, "type", "", "trade type, e.g. breakout")
	_ = lessonAddCmd.MarkFlagRequired("text")
	lessonCmd.AddCommand(lessonAddCmd)

	rootCmd.AddCommand(runCmd, authCmd, quoteCmd, fundsCmd, reportCmd, lessonCmd, versionCmd)
}

func runBot(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()
	if dryRun {
		a.cfg.Loop.DryRun = true
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.resolveWatchlist(ctx); err != nil {
		return fmt.Errorf("resolve watchlist: %w", err)
	}

	journal, err := storage.OpenJournal(a.cfg.Journal.Backend, a.cfg.Journal.Path)
	if err != nil {
		return err
	}
	defer journal.Close()

	ledger := broker.NewOrderLedger(a.transport, a.logger)
	portfolio := broker.NewPortfolioGateway(a.transport)

	market, err := usecase.NewMarketService(broker.NewMarketDataGateway(a.transport), a.cfg.Strategy, a.logger)
	if err != nil {
		return err
	}
	risk := usecase.NewPositionRiskManager(a.cfg.Risk, a.logger)
	strategies, err := usecase.NewStrategies(a.cfg.Strategy, risk.Sizer())
	if err != nil {
		return err
	}
	consensus := usecase.NewConsensusEngine(strategies, a.cfg.Strategy.Consensus, a.cfg.Strategy.SingleVoteFactor, a.logger)
	executor := usecase.NewTradeExecutor(ledger, risk, journal, a.cfg.Loop, a.logger)
	loop := usecase.NewTradingLoop(a.cfg, a.authority, market, consensus, executor, risk, portfolio, a.logger)

	if a.cfg.Stream.Enabled {
		stream := broker.NewOrderStream(a.transport, a.logger)
		stream.OnOrderUpdate(func(u broker.OrderUpdate) {
			o, ok := ledger.ApplyUpdate(u)
			if !ok {
				return
			}
			a.logger.Info("Order updated",
				zap.String("order_id", o.ID),
				zap.String("status", string(o.Status)),
				zap.Int("filled", o.FilledQty),
				zap.Float64("avg_price", o.AveragePrice),
			)
			executor.OnOrderUpdate(ctx, o)
		})
		go stream.Run(ctx)
	}

	var srv *web.Server
	if a.cfg.Server.Port > 0 {
		srv = web.NewServer(a.cfg.Server.Port, loop, journal, ledger, a.logger)
		go func() {
			if err := srv.Start(); err != nil {
				a.logger.Error("Status server failed", zap.Error(err))
			}
		}()
	}

	runErr := loop.Run(ctx)

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("Status server shutdown", zap.Error(err))
		}
	}

	summary := risk.DailySummary()
	a.logger.Info("Session summary",
		zap.Int("trades", summary.TradesToday),
		zap.Int("losses", summary.DailyLosses),
		zap.Float64("pnl", summary.DailyPnL),
	)
	return runErr
}

func runAuthURL(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	if err := auth.SavePKCE(a.pkcePath(), a.authority.PKCE()); err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Open this URL, approve access, then run:")
	fmt.Fprintln(out, "  bot auth exchange --code <code> --state <state>")
	fmt.Fprintln(out)
	fmt.Fprintln(out, a.authority.AuthorizationURL())
	return nil
}

func runAuthExchange(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	p, err := auth.LoadPKCE(a.pkcePath())
	if err != nil {
		return fmt.Errorf("no pending authorization, run \"bot auth url\" first: %w", err)
	}
	a.authority.UsePKCE(p)

	if authState != "" && !a.authority.ValidateState(authState) {
		return fmt.Errorf("%w: state does not match the last authorization URL", domain.ErrAuth)
	}
	if err := a.authority.ExchangeCode(cmd.Context(), authCode); err != nil {
		return err
	}
	_ = os.Remove(a.pkcePath())
	fmt.Fprintln(cmd.OutOrStdout(), describeCredential(a.authority.Credential()))
	return nil
}

func runAuthRefresh(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.authority.Refresh(cmd.Context()); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), describeCredential(a.authority.Credential()))
	return nil
}

func describeCredential(c domain.Credential) string {
	if c.ExpiresAt.IsZero() {
		return "Token stored (expiry unknown)"
	}
	return fmt.Sprintf("Token stored, expires %s", c.ExpiresAt.Local().Format(time.RFC1123))
}

func runQuote(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	ctx := cmd.Context()
	key, err := a.instrumentKey(ctx, args[0])
	if err != nil {
		return err
	}
	q, err := broker.NewMarketDataGateway(a.transport).GetQuote(ctx, key)
	if err != nil {
		return err
	}
	return printJSON(cmd, q)
}

func runFunds(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	ctx := cmd.Context()
	p := broker.NewPortfolioGateway(a.transport)
	funds, err := p.GetFunds(ctx)
	if err != nil {
		return err
	}
	holdings, err := p.GetHoldings(ctx)
	if err != nil {
		return err
	}
	positions, err := p.GetPositions(ctx)
	if err != nil {
		return err
	}
	return printJSON(cmd, struct {
		Funds     *domain.Funds      `json:"funds"`
		Holdings  []domain.Holding   `json:"holdings"`
		Positions []domain.Position  `json:"positions"`
		Exposure  map[string]float64 `json:"exposure"`
	}{funds, holdings, positions, domain.Exposure(holdings, positions)})
}

func runReport(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	journal, err := storage.OpenJournal(a.cfg.Journal.Backend, a.cfg.Journal.Path)
	if err != nil {
		return err
	}
	defer journal.Close()

	r, err := usecase.NewReportService(journal, a.logger).Build(cmd.Context(), reportDays)
	if err != nil {
		return err
	}
	md := r.Markdown()
	if reportOut == "" {
		fmt.Fprint(cmd.OutOrStdout(), md)
		return nil
	}
	if err := os.WriteFile(reportOut, []byte(md), 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	a.logger.Info("Report written", zap.String("path", reportOut), zap.Int("trades", len(r.Trades)))
	return nil
}

func runLessonAdd(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	journal, err := storage.OpenJournal(a.cfg.Journal.Backend, a.cfg.Journal.Path)
	if err != nil {
		return err
	}
	defer journal.Close()

	l := &domain.Lesson{Symbol: lessonSymbol, TradeType: lessonType, Text: lessonText}
	if err := usecase.NewReportService(journal, a.logger).RecordLesson(cmd.Context(), l); err != nil {
		if errors.Is(err, domain.ErrInvalid) {
			return fmt.Errorf("lesson not recorded: %w", err)
		}
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Lesson %s recorded\n", l.ID)
	return nil
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
