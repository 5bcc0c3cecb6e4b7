package cmd

import (
	"strings"

	"github.com/mcpcassette/mcpcassette/internal/domain/cassette"
)

// isYAMLPath reports whether path's extension marks it as the YAML
// alternate cassette encoding.
func isYAMLPath(path string) bool {
	lower := strings.ToLower(path)
	return strings.HasSuffix(lower, ".yaml") || strings.HasSuffix(lower, ".yml")
}

// loadCassette reads a cassette from path, dispatching to the YAML decoder
// when either format requests it or the file extension does.
func loadCassette(path, format string) (*cassette.Cassette, error) {
	if format == "yaml" || (format == "" && isYAMLPath(path)) {
		return cassette.LoadYAML(path)
	}
	return cassette.Load(path)
}

// saveCassette writes c to path in the requested format, defaulting to the
// file extension when format is unset.
func saveCassette(c *cassette.Cassette, path, format string) error {
	if format == "yaml" || (format == "" && isYAMLPath(path)) {
		return cassette.SaveYAML(c, path)
	}
	return cassette.Save(c, path)
}
