package cmd

import (
	"context"
	"net/http"
	"os/signal"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/mcpcassette/mcpcassette/internal/adapter/inbound/replay"
	"github.com/mcpcassette/mcpcassette/internal/config"
	"github.com/mcpcassette/mcpcassette/internal/domain/matcher"
	"github.com/mcpcassette/mcpcassette/internal/observability"
)

var replayFlags struct {
	cassettePath    string
	format          string
	addr            string
	matchStrategy   string
	simulateLatency bool
	latencyMs       int
}

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Serve a cassette's recorded responses in place of a live server",
	Long: `Replay loads --cassette and answers JSON-RPC requests from it using
the configured match strategy, instead of forwarding to a live upstream.
Runs until interrupted (Ctrl+C).`,
	RunE: runReplay,
}

func init() {
	replayCmd.Flags().StringVar(&replayFlags.cassettePath, "cassette", "", "cassette file to replay (required)")
	replayCmd.Flags().StringVar(&replayFlags.format, "format", "", "cassette encoding: json or yaml (default: from extension)")
	replayCmd.Flags().StringVar(&replayFlags.addr, "addr", "", "listen address (default from config)")
	replayCmd.Flags().StringVar(&replayFlags.matchStrategy, "match-strategy", "", "method_params, sequential, or strict (default from config)")
	replayCmd.Flags().BoolVar(&replayFlags.simulateLatency, "simulate-latency", false, "sleep each matched interaction's recorded latency before responding")
	replayCmd.Flags().IntVar(&replayFlags.latencyMs, "latency-ms", 0, "fixed delay in milliseconds applied to every response, in addition to --simulate-latency")
	_ = replayCmd.MarkFlagRequired("cassette")
	rootCmd.AddCommand(replayCmd)
}

func runReplay(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	logger := observability.NewLogger(cfg.Server.LogLevel, cfg.Server.LogFormat)

	format := replayFlags.format
	if format == "" {
		format = cfg.Cassette.Format
	}
	c, err := loadCassette(replayFlags.cassettePath, format)
	if err != nil {
		return err
	}

	strategy := replayFlags.matchStrategy
	if strategy == "" {
		strategy = cfg.Replay.MatchStrategy
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(reg)

	m, err := matcher.New(strategy, c.Interactions, matcher.WithMetrics(metrics, strategy))
	if err != nil {
		return err
	}

	opts := []replay.Option{replay.WithLogger(logger)}
	if replayFlags.simulateLatency || cfg.Replay.SimulateLatency {
		opts = append(opts, replay.WithSimulateLatency(true))
	}
	if replayFlags.latencyMs > 0 {
		opts = append(opts, replay.WithLatency(time.Duration(replayFlags.latencyMs)*time.Millisecond))
	}
	server := replay.New(m, opts...)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	mux.Handle("/", server)

	addr := replayFlags.addr
	if addr == "" {
		addr = cfg.Server.HTTPAddr
	}

	ctx, stop := signal.NotifyContext(context.Background(), gracefulSignals()...)
	defer stop()

	shutdownTracing := maybeEnableTracing(ctx, cfg, logger)
	defer shutdownTracing(context.Background())

	ready := make(chan string, 1)
	errCh := make(chan error, 1)
	go func() {
		errCh <- replay.ListenAndServeReady(ctx, addr, mux, ready)
	}()

	select {
	case bound := <-ready:
		logger.Info("replay: serving cassette", "addr", bound, "cassette", replayFlags.cassettePath, "match_strategy", strategy)
	case err := <-errCh:
		return err
	}

	serveErr := <-errCh

	if !m.AllConsumed() {
		logger.Warn("replay: cassette not fully consumed at shutdown", "unmatched_requests", len(m.UnmatchedRequests()))
	}

	return serveErr
}
