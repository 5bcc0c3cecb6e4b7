package cassette

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrVersionMismatch is returned by Load when a cassette's major version
// does not match currentMajor. Incompatible major versions are rejected
// outright rather than partially loaded.
var ErrVersionMismatch = errors.New("cassette: version mismatch")

// Load reads and parses a cassette from a JSON document on disk.
func Load(path string) (*Cassette, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cassette: read %s: %w", path, err)
	}
	return parse(data, json.Unmarshal)
}

// LoadYAML reads and parses a cassette from the YAML alternate encoding
// (supplemented from the original CLI's unimplemented --format flag). The
// JSON document remains the canonical wire format; this is a convenience
// for human review only.
func LoadYAML(path string) (*Cassette, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cassette: read %s: %w", path, err)
	}
	return parse(data, yaml.Unmarshal)
}

func parse(data []byte, unmarshal func([]byte, any) error) (*Cassette, error) {
	var c Cassette
	if err := unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("cassette: parse: %w", err)
	}
	major, _, err := splitVersion(c.Version)
	if err != nil {
		return nil, fmt.Errorf("cassette: %w", err)
	}
	if major != currentMajor {
		return nil, fmt.Errorf("%w: cassette version %q, this build expects 1.x", ErrVersionMismatch, c.Version)
	}
	return &c, nil
}

// splitVersion parses a "MAJOR.MINOR" version string.
func splitVersion(v string) (major, minor int, err error) {
	parts := strings.SplitN(v, ".", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("malformed version %q, expected MAJOR.MINOR", v)
	}
	major, err = strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("malformed version %q: %w", v, err)
	}
	minor, err = strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("malformed version %q: %w", v, err)
	}
	return major, minor, nil
}

// Save serializes the cassette as pretty-printed, UTF-8 JSON with a
// trailing newline, writing atomically (tmp file + rename) and guarding
// against concurrent writers to the same path with a cross-process file
// lock. Parent directories are created as needed.
func Save(c *Cassette, path string) error {
	c.mu.Lock()
	data, err := marshalJSON(c)
	c.mu.Unlock()
	if err != nil {
		return fmt.Errorf("cassette: marshal: %w", err)
	}
	return writeLocked(path, data)
}

// SaveYAML serializes the cassette using the YAML alternate encoding. See
// LoadYAML.
func SaveYAML(c *Cassette, path string) error {
	c.mu.Lock()
	data, err := yaml.Marshal(c)
	c.mu.Unlock()
	if err != nil {
		return fmt.Errorf("cassette: marshal yaml: %w", err)
	}
	return writeLocked(path, data)
}

// marshalJSON renders v as two-space-indented JSON with a trailing
// newline. encoding/json writes non-ASCII characters as unescaped UTF-8;
// the Encoder is used with HTML escaping disabled so <, > and & are
// written literally too.
func marshalJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// writeLocked acquires a cross-process advisory lock on path+".lock",
// then writes data atomically via a tmp-file-then-rename, mirroring the
// proxy's own state-file persistence discipline.
func writeLocked(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cassette: create directory: %w", err)
	}

	lockPath := path + ".lock"
	lockFile, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("cassette: open lock file: %w", err)
	}
	defer func() { _ = lockFile.Close() }()

	if err := flockLock(lockFile.Fd()); err != nil {
		return fmt.Errorf("cassette: acquire file lock: %w", err)
	}
	defer flockUnlock(lockFile.Fd()) //nolint:errcheck

	tmpPath := path + ".tmp"
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("cassette: create temp file: %w", err)
	}
	cleanup := func() {
		_ = f.Close()
		_ = os.Remove(tmpPath)
	}

	if _, err := f.Write(data); err != nil {
		cleanup()
		return fmt.Errorf("cassette: write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("cassette: fsync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("cassette: close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("cassette: rename temp file: %w", err)
	}
	return nil
}
