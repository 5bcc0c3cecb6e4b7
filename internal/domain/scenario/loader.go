package scenario

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// SchemaVersion is the scenarios-file format version this loader assumes
// when schema_version is absent; files whose major component matches it
// are accepted.
const SchemaVersion = "1.0"

// RedactConfig mirrors a scenario file's top-level redact block, applied
// to every scenario's cassette after recording.
type RedactConfig struct {
	ServerURL bool     `yaml:"server_url"`
	Env       []string `yaml:"env"`
	Patterns  []string `yaml:"patterns"`
}

// Scenario is one named sequence of client actions to record.
type Scenario struct {
	Description string `yaml:"description"`
	Actions     []any  `yaml:"actions"`
}

// File is a parsed, schema-validated scenarios YAML document.
type File struct {
	SchemaVersion string              `yaml:"schema_version"`
	Target        string              `yaml:"target"`
	Redact        RedactConfig        `yaml:"redact"`
	Scenarios     map[string]Scenario `yaml:"scenarios"`
}

// simpleActions take no arguments: "list_tools", "list_prompts",
// "list_resources".
var simpleActions = map[string]bool{
	"list_tools":     true,
	"list_prompts":   true,
	"list_resources": true,
}

// parameterizedActions are single-key maps: {call_tool: {...}}.
var parameterizedActions = map[string]bool{
	"call_tool":     true,
	"get_prompt":    true,
	"read_resource": true,
}

// Load parses and validates a scenarios YAML document.
func Load(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("scenario: parsing scenarios file: %w", err)
	}
	if f.SchemaVersion == "" {
		f.SchemaVersion = SchemaVersion
	}
	if f.Target == "" {
		return nil, fmt.Errorf("scenario: scenarios file is missing required field 'target'")
	}

	expectedMajor := strings.SplitN(SchemaVersion, ".", 2)[0]
	actualMajor := strings.SplitN(f.SchemaVersion, ".", 2)[0]
	if actualMajor != expectedMajor {
		return nil, fmt.Errorf("scenario: incompatible schema_version %q (expected %s.x)", f.SchemaVersion, expectedMajor)
	}

	for name, sc := range f.Scenarios {
		for _, action := range sc.Actions {
			if _, err := normalizeAction(action); err != nil {
				return nil, fmt.Errorf("scenario %q: %w", name, err)
			}
		}
	}

	return &f, nil
}

// action is a normalized scenario step: Name is the action verb
// (call_tool, list_tools, ...) and Params holds its parameters for
// parameterized actions (nil for simple ones).
type action struct {
	Name   string
	Params map[string]any
}

// normalizeAction validates one raw YAML action value, which is either a
// bare string ("list_tools") or a single-key map ({call_tool: {...}}).
func normalizeAction(raw any) (action, error) {
	if name, ok := raw.(string); ok {
		if !simpleActions[name] {
			return action{}, fmt.Errorf("unknown action %q, supported: %s", name, supportedActionsList())
		}
		return action{Name: name}, nil
	}

	m, ok := raw.(map[string]any)
	if !ok {
		return action{}, fmt.Errorf("action must be a string or single-key map, got %T", raw)
	}
	if len(m) != 1 {
		return action{}, fmt.Errorf("parameterized action must be a single-key map, got %d keys", len(m))
	}
	for name, params := range m {
		if !parameterizedActions[name] {
			return action{}, fmt.Errorf("unknown action %q, supported: %s", name, supportedActionsList())
		}
		paramMap, ok := params.(map[string]any)
		if !ok {
			return action{}, fmt.Errorf("action %q parameters must be a map, got %T", name, params)
		}
		return action{Name: name, Params: paramMap}, nil
	}
	panic("unreachable")
}

func supportedActionsList() string {
	var names []string
	for n := range simpleActions {
		names = append(names, n)
	}
	for n := range parameterizedActions {
		names = append(names, n)
	}
	return strings.Join(names, ", ")
}
