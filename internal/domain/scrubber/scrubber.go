// Package scrubber applies explicit, flag-triggered secret redaction to a
// cassette. There is no auto-detection: every redaction is driven by a
// caller-supplied option. Request bodies are never modified, since they
// must round-trip byte-for-byte through matching on replay and verify.
package scrubber

import (
	"encoding/json"
	"log/slog"
	"net/url"
	"os"
	"regexp"

	"github.com/mcpcassette/mcpcassette/internal/domain/cassette"
)

const placeholder = "[REDACTED]"

// structuralKeys are JSON-RPC envelope fields left untouched by pattern
// redaction so the envelope stays well-formed.
var structuralKeys = map[string]bool{"method": true, "jsonrpc": true, "id": true}

// Options configures one scrub pass.
type Options struct {
	// RedactServerURL replaces the path of metadata.server_url with
	// "/[REDACTED]" and drops its query and fragment.
	RedactServerURL bool
	// RedactEnv names environment variables whose current values are
	// redacted wherever they appear in metadata.server_url and response
	// bodies.
	RedactEnv []string
	// RedactPatterns are additional raw regular expressions redacted the
	// same way.
	RedactPatterns []string
	Logger         *slog.Logger
}

// Scrub returns a new Cassette with c's requested redactions applied,
// leaving c itself untouched. A zero-value Options is a no-op copy.
func Scrub(c *cassette.Cassette, opts Options) (*cassette.Cassette, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}

	out, err := cloneCassette(c)
	if err != nil {
		return nil, err
	}

	hasValuePatterns := len(opts.RedactEnv) > 0 || len(opts.RedactPatterns) > 0
	if !opts.RedactServerURL && !hasValuePatterns {
		return out, nil
	}

	if opts.RedactServerURL {
		out.Metadata.ServerURL = redactURLPath(out.Metadata.ServerURL)
	}

	if !hasValuePatterns {
		return out, nil
	}

	patterns := compilePatterns(opts.RedactEnv, opts.RedactPatterns, logger)
	if len(patterns) == 0 {
		return out, nil
	}

	out.Metadata.ServerURL = redactString(out.Metadata.ServerURL, patterns)

	requestHits := 0
	for _, interaction := range out.Interactions {
		if interaction.Response != nil {
			interaction.Response = walk(map[string]any(interaction.Response), patterns).(map[string]any)
		}
		if interaction.Request != nil && matchesAny(interaction.Request, patterns) {
			requestHits++
		}
	}
	if requestHits > 0 {
		logger.Warn("scrubber: redacted values found in request bodies; requests are never redacted, review manually",
			"count", requestHits)
	}

	return out, nil
}

// cloneCassette deep-copies c via a JSON round-trip, so mutations made
// while scrubbing never alias the caller's original.
func cloneCassette(c *cassette.Cassette) (*cassette.Cassette, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	var clone cassette.Cassette
	if err := json.Unmarshal(data, &clone); err != nil {
		return nil, err
	}
	return &clone, nil
}

func redactURLPath(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Path == "" || parsed.Path == "/" {
		return raw
	}
	parsed.Path = "/" + placeholder
	parsed.RawQuery = ""
	parsed.Fragment = ""
	return parsed.String()
}

func compilePatterns(envVars, rawPatterns []string, logger *slog.Logger) []*regexp.Regexp {
	var patterns []*regexp.Regexp
	for _, name := range envVars {
		value, ok := os.LookupEnv(name)
		if !ok {
			logger.Warn("scrubber: --redact-env variable not found in environment, skipping", "var", name)
			continue
		}
		if value == "" {
			logger.Warn("scrubber: --redact-env variable is empty, skipping", "var", name)
			continue
		}
		patterns = append(patterns, regexp.MustCompile(regexp.QuoteMeta(value)))
	}
	for _, raw := range rawPatterns {
		re, err := regexp.Compile(raw)
		if err != nil {
			logger.Warn("scrubber: --redact-pattern invalid regex, skipping", "pattern", raw, "error", err)
			continue
		}
		patterns = append(patterns, re)
	}
	return patterns
}

func redactString(value string, patterns []*regexp.Regexp) string {
	for _, pat := range patterns {
		value = pat.ReplaceAllString(value, placeholder)
	}
	return value
}

// walk recursively redacts string leaves in a JSON-like structure, leaving
// the JSON-RPC structural keys (method, jsonrpc, id) untouched so the
// envelope stays well-formed.
func walk(obj any, patterns []*regexp.Regexp) any {
	switch v := obj.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, val := range v {
			if structuralKeys[k] {
				out[k] = val
				continue
			}
			out[k] = walk(val, patterns)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = walk(item, patterns)
		}
		return out
	case string:
		return redactString(v, patterns)
	default:
		return v
	}
}

// matchesAny reports whether any pattern matches anywhere in req's JSON
// encoding, used only to warn (request bodies are never modified).
func matchesAny(req cassette.Message, patterns []*regexp.Regexp) bool {
	data, err := json.Marshal(req)
	if err != nil {
		return false
	}
	for _, pat := range patterns {
		if pat.Match(data) {
			return true
		}
	}
	return false
}
