package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/vitos/equity_trade_bot/internal/config"
	"github.com/vitos/equity_trade_bot/internal/domain"
	"github.com/vitos/equity_trade_bot/internal/infrastructure/auth"
	"github.com/vitos/equity_trade_bot/internal/infrastructure/broker"
	"github.com/vitos/equity_trade_bot/internal/infrastructure/logger"
	"go.uber.org/zap"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

var (
	configPath string

	rootCmd = &cobra.Command{
		Use:           "bot",
		Short:         "Rule-based equity trading bot for the Upstox API",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func main() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config/config.yaml", "path to the YAML config")
	registerCommands()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// app holds the pieces every command shares: configuration, the logger and
// an authenticated transport.
type app struct {
	cfg       *config.Config
	logger    *zap.Logger
	authority *auth.Authority
	transport *broker.Transport
}

func newApp() (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	var log *zap.Logger
	if cfg.Logging.File != "" {
		log, err = logger.NewFileLogger(cfg.Logging.File, cfg.Logging.Level)
	} else {
		log, err = logger.NewLogger(cfg.Logging.Level)
	}
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	authority, err := auth.NewAuthority(auth.Config{
		ClientID:     cfg.Upstox.APIKey,
		ClientSecret: cfg.Upstox.APISecret,
		RedirectURI:  cfg.Upstox.RedirectURI,
		Scope:        cfg.Upstox.Scope,
		AuthURL:      cfg.Upstox.AuthURL,
		TokenURL:     cfg.Upstox.TokenURL,
		Timeout:      cfg.Transport.Timeout(),
	}, auth.NewTokenFile(cfg.Upstox.TokenFile), log)
	if err != nil {
		return nil, fmt.Errorf("init credentials: %w", err)
	}
	if cfg.Upstox.AccessToken != "" || cfg.Upstox.RefreshToken != "" {
		authority.Seed(domain.Credential{
			AccessToken:  cfg.Upstox.AccessToken,
			RefreshToken: cfg.Upstox.RefreshToken,
		})
	}

	transport := broker.NewTransport(broker.TransportConfig{
		BaseURL:     cfg.Upstox.APIBaseURL(),
		MinInterval: cfg.Transport.MinInterval(),
		MaxAttempts: cfg.Transport.MaxAttempts,
		BaseDelay:   cfg.Transport.BaseDelay(),
		Timeout:     cfg.Transport.Timeout(),
	}, authority, log)

	log.Debug("Configuration loaded",
		zap.String("config", configPath),
		zap.String("base_url", cfg.Upstox.APIBaseURL()),
	)
	return &app{cfg: cfg, logger: log, authority: authority, transport: transport}, nil
}

// pkcePath holds the proof key between "auth url" and "auth exchange".
func (a *app) pkcePath() string {
	return a.cfg.Upstox.TokenFile + ".pkce"
}

func (a *app) close() {
	_ = a.logger.Sync()
}

// resolveWatchlist fills missing instrument keys from the instrument
// master. The master is only downloaded when a watch item needs it.
func (a *app) resolveWatchlist(ctx context.Context) error {
	var missing bool
	for _, item := range a.cfg.Loop.Watchlist {
		if item.InstrumentKey == "" {
			missing = true
			break
		}
	}
	if !missing {
		return nil
	}

	exchange, err := domain.ParseExchange(a.cfg.Loop.Exchange)
	if err != nil {
		return err
	}
	dir := broker.NewInstrumentDirectory(a.logger)
	if err := dir.Load(ctx, exchange); err != nil {
		return err
	}
	for i, item := range a.cfg.Loop.Watchlist {
		if item.InstrumentKey != "" {
			continue
		}
		inst, err := dir.Resolve(exchange, item.Symbol)
		if err != nil {
			return err
		}
		a.cfg.Loop.Watchlist[i].InstrumentKey = inst.InstrumentKey
		a.logger.Info("Resolved watch item",
			zap.String("symbol", item.Symbol),
			zap.String("instrument_key", inst.InstrumentKey),
		)
	}
	return nil
}

// instrumentKey accepts an instrument key as is and looks a trading symbol
// up on the configured exchange.
func (a *app) instrumentKey(ctx context.Context, symbolOrKey string) (string, error) {
	if strings.Contains(symbolOrKey, "|") {
		return symbolOrKey, nil
	}
	exchange, err := domain.ParseExchange(a.cfg.Loop.Exchange)
	if err != nil {
		return "", err
	}
	dir := broker.NewInstrumentDirectory(a.logger)
	if err := dir.Load(ctx, exchange); err != nil {
		return "", err
	}
	inst, err := dir.Resolve(exchange, symbolOrKey)
	if err != nil {
		return "", err
	}
	return inst.InstrumentKey, nil
}
