package usecase

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	signalsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bot_signals_total",
		Help: "Decisions produced by the consensus engine by kind",
	}, []string{"kind"})

	strategyErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bot_strategy_errors_total",
		Help: "Strategy evaluations that failed and lost their vote",
	}, []string{"strategy"})

	entriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bot_entries_total",
		Help: "Entry attempts by outcome",
	}, []string{"outcome"})

	ticksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bot_ticks_total",
		Help: "Completed trading loop ticks",
	})

	tickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "bot_tick_duration_seconds",
		Help:    "Wall time of one trading loop tick",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
	})

	loopRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bot_loop_running",
		Help: "1 while the trading loop is running",
	})
)
