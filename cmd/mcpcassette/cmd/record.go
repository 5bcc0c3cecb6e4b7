package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/mcpcassette/mcpcassette/internal/adapter/inbound/recorder"
	"github.com/mcpcassette/mcpcassette/internal/config"
	"github.com/mcpcassette/mcpcassette/internal/domain/cassette"
	"github.com/mcpcassette/mcpcassette/internal/domain/scenario"
	"github.com/mcpcassette/mcpcassette/internal/domain/scrubber"
	"github.com/mcpcassette/mcpcassette/internal/observability"
)

var recordFlags struct {
	target       string
	out          string
	addr         string
	format       string
	scenarioFile string
	scenarioName string
	redactURL    bool
	redactEnv    []string
	redactRegex  []string
}

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record a live MCP session into a cassette",
	Long: `Record proxies requests to --target, appends every exchange to a
cassette, and writes the cassette to --out.

Two modes:

  1. Proxy mode: starts a recording reverse proxy on --addr and drives it
     until interrupted (Ctrl+C), then saves the cassette. Point your own
     MCP client at the proxy address.

  2. Scenario mode (--scenario): drives an embedded minimal MCP client
     through a YAML-defined sequence of actions against --target, with no
     external client required.`,
	RunE: runRecord,
}

func init() {
	recordCmd.Flags().StringVar(&recordFlags.target, "target", "", "upstream MCP server URL (required)")
	recordCmd.Flags().StringVar(&recordFlags.out, "out", "cassette.json", "cassette output path")
	recordCmd.Flags().StringVar(&recordFlags.addr, "addr", "", "proxy listen address (default from config)")
	recordCmd.Flags().StringVar(&recordFlags.format, "format", "", "cassette encoding: json or yaml (default: from --out extension)")
	recordCmd.Flags().StringVar(&recordFlags.scenarioFile, "scenario", "", "scenario YAML file driving an embedded client instead of a proxy")
	recordCmd.Flags().StringVar(&recordFlags.scenarioName, "name", "", "scenario name to run (required with --scenario if the file defines more than one)")
	recordCmd.Flags().BoolVar(&recordFlags.redactURL, "redact-server-url", false, "replace the path component of the recorded server_url with /[REDACTED]")
	recordCmd.Flags().StringSliceVar(&recordFlags.redactEnv, "redact-env", nil, "environment variable names whose values are redacted wherever they appear")
	recordCmd.Flags().StringSliceVar(&recordFlags.redactRegex, "redact-pattern", nil, "additional regular expressions redacted the same way")
	rootCmd.AddCommand(recordCmd)
}

func runRecord(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger := observability.NewLogger(cfg.Server.LogLevel, cfg.Server.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), gracefulSignals()...)
	defer stop()

	shutdownTracing := maybeEnableTracing(ctx, cfg, logger)
	defer shutdownTracing(context.Background())

	if recordFlags.scenarioFile != "" {
		return runRecordScenario(ctx, logger)
	}
	return runRecordProxy(ctx, cfg, logger)
}

// runRecordScenario loads a scenario file and drives the named scenario's
// actions against --target with the embedded minimal client, with no
// external MCP client or long-lived proxy required.
func runRecordScenario(ctx context.Context, logger *slog.Logger) error {
	data, err := os.ReadFile(recordFlags.scenarioFile)
	if err != nil {
		return fmt.Errorf("record: reading scenario file: %w", err)
	}
	file, err := scenario.Load(data)
	if err != nil {
		return err
	}

	name := recordFlags.scenarioName
	if name == "" {
		if len(file.Scenarios) != 1 {
			return fmt.Errorf("record: --name is required when the scenario file defines more than one scenario")
		}
		for only := range file.Scenarios {
			name = only
		}
	}
	sc, ok := file.Scenarios[name]
	if !ok {
		return fmt.Errorf("record: no scenario named %q in %s", name, recordFlags.scenarioFile)
	}

	target := recordFlags.target
	if target == "" {
		target = file.Target
	}
	if target == "" {
		return fmt.Errorf("record: --target is required (or set target: in the scenario file)")
	}

	redact := file.Redact
	if recordFlags.redactURL {
		redact.ServerURL = true
	}
	redact.Env = append(redact.Env, recordFlags.redactEnv...)
	redact.Patterns = append(redact.Patterns, recordFlags.redactRegex...)

	logger.Info("record: running scenario", "name", name, "target", target, "actions", len(sc.Actions))
	c, err := scenario.Run(ctx, target, sc, redact)
	if err != nil {
		return fmt.Errorf("record: %w", err)
	}

	if err := saveCassette(c, recordFlags.out, recordFlags.format); err != nil {
		return fmt.Errorf("record: saving cassette: %w", err)
	}
	logger.Info("record: cassette written", "path", recordFlags.out, "interactions", c.Len())
	return nil
}

// runRecordProxy starts a recording reverse proxy in front of --target and
// runs until ctx is canceled (Ctrl+C), saving the cassette on shutdown.
func runRecordProxy(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	if recordFlags.target == "" {
		return fmt.Errorf("record: --target is required")
	}

	addr := recordFlags.addr
	if addr == "" {
		addr = cfg.Server.HTTPAddr
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(reg)

	c := cassette.New(recordFlags.target)
	rec := recorder.New(recordFlags.target, c,
		recorder.WithLogger(logger),
		recorder.WithMetrics(metrics),
	)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	mux.Handle("/", rec)

	ready := make(chan string, 1)
	errCh := make(chan error, 1)
	go func() {
		errCh <- recorder.ListenAndServeReady(ctx, addr, mux, ready)
	}()

	select {
	case bound := <-ready:
		logger.Info("record: recording proxy listening", "addr", bound, "target", recordFlags.target)
	case err := <-errCh:
		return fmt.Errorf("record: %w", err)
	}

	serveErr := <-errCh

	redact := scrubber.Options{
		RedactServerURL: recordFlags.redactURL,
		RedactEnv:       recordFlags.redactEnv,
		RedactPatterns:  recordFlags.redactRegex,
		Logger:          logger,
	}
	scrubbed, err := scrubber.Scrub(c, redact)
	if err != nil {
		return fmt.Errorf("record: scrubbing cassette: %w", err)
	}

	if err := saveCassette(scrubbed, recordFlags.out, recordFlags.format); err != nil {
		return fmt.Errorf("record: saving cassette: %w", err)
	}
	logger.Info("record: cassette written", "path", recordFlags.out, "interactions", scrubbed.Len())

	return serveErr
}
