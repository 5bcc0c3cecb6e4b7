// Package config provides configuration types for mcpcassette.
//
// Configuration covers the three commands (record, replay, verify) plus
// the ambient observability stack. It intentionally excludes anything
// resembling multi-tenant or credential storage: a cassette is a single
// JSON artifact, not a database.
package config

// Config is the top-level configuration for mcpcassette.
type Config struct {
	// Server configures the recorder/replay HTTP listener.
	Server ServerConfig `yaml:"server" mapstructure:"server"`

	// Cassette configures default cassette file handling.
	Cassette CassetteConfig `yaml:"cassette" mapstructure:"cassette"`

	// Replay configures the replay server's matching behavior.
	Replay ReplayConfig `yaml:"replay" mapstructure:"replay"`

	// Verify configures the live-target verifier.
	Verify VerifyConfig `yaml:"verify" mapstructure:"verify"`

	// Redact holds scrubber settings in the same shape as a scenario file's
	// redact block. No command reads this section: record takes redaction
	// settings from its --redact-* flags and from the scenario file.
	Redact RedactConfig `yaml:"redact" mapstructure:"redact"`

	// Observability configures logging, metrics, and tracing.
	Observability ObservabilityConfig `yaml:"observability" mapstructure:"observability"`

	// DevMode enables verbose logging and stdout tracing by default.
	DevMode bool `yaml:"dev_mode" mapstructure:"dev_mode"`
}

// ServerConfig configures the recorder/replay HTTP listener.
type ServerConfig struct {
	// HTTPAddr is the address to listen on (e.g., "127.0.0.1:8080").
	// Defaults to "127.0.0.1:8080" if empty.
	HTTPAddr string `yaml:"http_addr" mapstructure:"http_addr" validate:"omitempty,hostname_port"`

	// LogLevel sets the minimum log level.
	LogLevel string `yaml:"log_level" mapstructure:"log_level" validate:"omitempty,oneof=debug info warn warning error"`

	// LogFormat selects "text" or "json" log output. Defaults to "text".
	LogFormat string `yaml:"log_format" mapstructure:"log_format" validate:"omitempty,oneof=text json"`
}

// CassetteConfig configures default cassette file handling.
type CassetteConfig struct {
	// Path is loaded from config but not read by any command: record writes
	// to --out and replay/verify read --cassette.
	Path string `yaml:"path" mapstructure:"path"`

	// Format selects the on-disk encoding: "json" (default) or "yaml".
	Format string `yaml:"format" mapstructure:"format" validate:"omitempty,oneof=json yaml"`
}

// ReplayConfig configures the replay server's matching behavior.
type ReplayConfig struct {
	// MatchStrategy selects how incoming requests are matched against
	// recorded interactions. Defaults to "method_params".
	MatchStrategy string `yaml:"match_strategy" mapstructure:"match_strategy" validate:"omitempty,oneof=method_params sequential strict"`

	// SimulateLatency replays each interaction's recorded LatencyMs before
	// responding, instead of responding immediately. Defaults to false.
	SimulateLatency bool `yaml:"simulate_latency" mapstructure:"simulate_latency"`
}

// VerifyConfig configures the live-target verifier.
type VerifyConfig struct {
	// Target is validated as a URL but not read by verify, which takes the
	// live MCP server URL from its required --target flag.
	Target string `yaml:"target" mapstructure:"target" validate:"omitempty,url"`

	// HTTPTimeout is the timeout for requests to the live target (e.g., "120s").
	// Defaults to "120s" if not specified.
	HTTPTimeout string `yaml:"http_timeout" mapstructure:"http_timeout" validate:"omitempty"`

	// IgnoreFields lists additional field names to ignore in diffs at any
	// depth, beyond the built-in "id" and "_meta".
	IgnoreFields []string `yaml:"ignore_fields" mapstructure:"ignore_fields"`

	// IgnorePaths lists additional "$.foo.bar" paths to ignore in diffs.
	IgnorePaths []string `yaml:"ignore_paths" mapstructure:"ignore_paths"`

	// SkipIf is a CEL expression; interactions for which it evaluates true
	// are skipped rather than replayed against the live target.
	SkipIf string `yaml:"skip_if" mapstructure:"skip_if"`
}

// RedactConfig holds scrubber settings; see Config.Redact.
type RedactConfig struct {
	// ServerURL selects redaction of the path in the cassette metadata's
	// server_url.
	ServerURL bool `yaml:"server_url" mapstructure:"server_url"`

	// Env lists environment variable names whose values are redacted
	// wherever they appear in response bodies.
	Env []string `yaml:"env" mapstructure:"env"`

	// Patterns lists additional regular expressions to redact in response
	// bodies.
	Patterns []string `yaml:"patterns" mapstructure:"patterns"`
}

// ObservabilityConfig configures metrics and tracing.
type ObservabilityConfig struct {
	// MetricsAddr is validated as host:port but not read by any command;
	// record and replay serve Prometheus metrics at /metrics on their main
	// listener.
	MetricsAddr string `yaml:"metrics_addr" mapstructure:"metrics_addr" validate:"omitempty,hostname_port"`

	// Trace enables stdout OpenTelemetry tracing and metrics export.
	// Intended as a developer diagnostic, not a production exporter.
	Trace bool `yaml:"trace" mapstructure:"trace"`
}

// SetDefaults applies sensible default values to the configuration.
func (c *Config) SetDefaults() {
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = "127.0.0.1:8080"
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
	if c.Server.LogFormat == "" {
		c.Server.LogFormat = "text"
	}

	if c.Cassette.Format == "" {
		c.Cassette.Format = "json"
	}

	if c.Replay.MatchStrategy == "" {
		c.Replay.MatchStrategy = "method_params"
	}

	if c.Verify.HTTPTimeout == "" {
		c.Verify.HTTPTimeout = "120s"
	}

	if c.DevMode {
		c.Server.LogLevel = "debug"
		c.Observability.Trace = true
	}
}
