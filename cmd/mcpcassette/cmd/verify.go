package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/mcpcassette/mcpcassette/internal/config"
	"github.com/mcpcassette/mcpcassette/internal/observability"
	"github.com/mcpcassette/mcpcassette/internal/service/verify"
)

var verifyFlags struct {
	cassettePath string
	format       string
	target       string
	ignoreFields []string
	ignorePaths  []string
	skipIf       string
	update       bool
}

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Replay a cassette's requests against a live server and diff",
	Long: `Verify sends every recorded request in --cassette to --target and
reports every field where the live response diverges from what was
recorded. Exits non-zero if any interaction fails.`,
	RunE: runVerify,
}

func init() {
	verifyCmd.Flags().StringVar(&verifyFlags.cassettePath, "cassette", "", "cassette file to verify against (required)")
	verifyCmd.Flags().StringVar(&verifyFlags.format, "format", "", "cassette encoding: json or yaml (default: from extension)")
	verifyCmd.Flags().StringVar(&verifyFlags.target, "target", "", "live MCP server URL to verify against (required)")
	verifyCmd.Flags().StringSliceVar(&verifyFlags.ignoreFields, "ignore-field", nil, "bare field names excluded from comparison at any depth")
	verifyCmd.Flags().StringSliceVar(&verifyFlags.ignorePaths, "ignore-path", nil, `exact "$.foo[0].bar" paths excluded from comparison`)
	verifyCmd.Flags().StringVar(&verifyFlags.skipIf, "skip-if", "", "CEL expression; interactions for which it evaluates true are skipped")
	verifyCmd.Flags().BoolVar(&verifyFlags.update, "update", false, "rewrite passing interactions whose recorded response differs byte-for-byte from the live one")
	_ = verifyCmd.MarkFlagRequired("cassette")
	_ = verifyCmd.MarkFlagRequired("target")
	rootCmd.AddCommand(verifyCmd)
}

func runVerify(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	logger := observability.NewLogger(cfg.Server.LogLevel, cfg.Server.LogFormat)

	format := verifyFlags.format
	if format == "" {
		format = cfg.Cassette.Format
	}
	c, err := loadCassette(verifyFlags.cassettePath, format)
	if err != nil {
		return err
	}

	skipIf := verifyFlags.skipIf
	if skipIf == "" {
		skipIf = cfg.Verify.SkipIf
	}

	ctx := context.Background()
	shutdownTracing := maybeEnableTracing(ctx, cfg, logger)
	defer shutdownTracing(context.Background())

	timeout, err := time.ParseDuration(cfg.Verify.HTTPTimeout)
	if err != nil {
		return fmt.Errorf("verify: invalid http_timeout %q: %w", cfg.Verify.HTTPTimeout, err)
	}

	result, err := verify.Run(ctx, c, verifyFlags.target, verify.Options{
		IgnoreFields: append(append([]string{}, cfg.Verify.IgnoreFields...), verifyFlags.ignoreFields...),
		IgnorePaths:  append(append([]string{}, cfg.Verify.IgnorePaths...), verifyFlags.ignorePaths...),
		SkipIf:       skipIf,
		Logger:       logger,
		HTTPClient:   &http.Client{Timeout: timeout},
		Update:       verifyFlags.update,
		CassettePath: verifyFlags.cassettePath,
		Format:       format,
	})
	if err != nil {
		return fmt.Errorf("verify: %w", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		return fmt.Errorf("verify: encoding result: %w", err)
	}

	if !result.OK() {
		os.Exit(1)
	}
	return nil
}
