package verify

import (
	"encoding/json"
	"fmt"
	"sort"
)

// volatileKeys are stripped from both sides before comparison: id varies
// per client/session, and _meta carries a progressToken that does the
// same.
var volatileKeys = map[string]bool{"id": true, "_meta": true}

// stripVolatile returns a copy of v with volatileKeys removed at every
// object level, plus any additional ignoreFields (matched by bare key
// name at any depth) or ignorePaths (matched by exact "$.foo[0].bar"
// path string).
func stripVolatile(v any, ignoreFields map[string]bool, ignorePaths map[string]bool, path string) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, sub := range val {
			childPath := path + "." + k
			if volatileKeys[k] || ignoreFields[k] || ignorePaths[childPath] {
				continue
			}
			out[k] = stripVolatile(sub, ignoreFields, ignorePaths, childPath)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			childPath := fmt.Sprintf("%s[%d]", path, i)
			if ignorePaths[childPath] {
				out[i] = nil
				continue
			}
			out[i] = stripVolatile(item, ignoreFields, ignorePaths, childPath)
		}
		return out
	default:
		return val
	}
}

// StripVolatile strips id/_meta (plus ignoreFields/ignorePaths) from v,
// rooted at "$".
func StripVolatile(v any, ignoreFields, ignorePaths []string) any {
	fieldSet := make(map[string]bool, len(ignoreFields))
	for _, f := range ignoreFields {
		fieldSet[f] = true
	}
	pathSet := make(map[string]bool, len(ignorePaths))
	for _, p := range ignorePaths {
		pathSet[p] = true
	}
	return stripVolatile(v, fieldSet, pathSet, "$")
}

// DeepDiff returns a human-readable line per discrepancy between expected
// and actual, empty when they are equivalent. A string value on both
// sides that itself decodes as a JSON object or array is compared
// structurally rather than byte-for-byte: MCP tool results frequently
// carry JSON-as-string content, and a key-order difference there should
// not fail verification.
func DeepDiff(expected, actual any, path string) []string {
	if unwrapped, ok := unwrapJSONStrings(expected, actual); ok {
		return DeepDiff(unwrapped[0], unwrapped[1], path)
	}

	expType := fmt.Sprintf("%T", expected)
	actType := fmt.Sprintf("%T", actual)
	if !sameShape(expected, actual) {
		return []string{fmt.Sprintf("%s: type mismatch: expected %s (%v), got %s (%v)", path, expType, expected, actType, actual)}
	}

	switch exp := expected.(type) {
	case map[string]any:
		act := actual.(map[string]any)
		return diffMaps(exp, act, path)
	case []any:
		act := actual.([]any)
		return diffSlices(exp, act, path)
	default:
		if !valuesEqual(expected, actual) {
			return []string{fmt.Sprintf("%s: expected %v, got %v", path, expected, actual)}
		}
		return nil
	}
}

func sameShape(a, b any) bool {
	switch a.(type) {
	case map[string]any:
		_, ok := b.(map[string]any)
		return ok
	case []any:
		_, ok := b.([]any)
		return ok
	default:
		switch b.(type) {
		case map[string]any, []any:
			return false
		default:
			return true
		}
	}
}

func diffMaps(expected, actual map[string]any, path string) []string {
	var diffs []string
	keys := make(map[string]bool, len(expected)+len(actual))
	for k := range expected {
		keys[k] = true
	}
	for k := range actual {
		keys[k] = true
	}
	sorted := make([]string, 0, len(keys))
	for k := range keys {
		sorted = append(sorted, k)
	}
	sort.Strings(sorted)

	for _, k := range sorted {
		childPath := path + "." + k
		expVal, inExp := expected[k]
		actVal, inAct := actual[k]
		switch {
		case inExp && !inAct:
			diffs = append(diffs, fmt.Sprintf("%s: missing in actual (expected %v)", childPath, expVal))
		case !inExp && inAct:
			diffs = append(diffs, fmt.Sprintf("%s: unexpected in actual: %v", childPath, actVal))
		default:
			diffs = append(diffs, DeepDiff(expVal, actVal, childPath)...)
		}
	}
	return diffs
}

func diffSlices(expected, actual []any, path string) []string {
	var diffs []string
	if len(expected) != len(actual) {
		diffs = append(diffs, fmt.Sprintf("%s: length mismatch: expected %d, got %d", path, len(expected), len(actual)))
	}
	n := len(expected)
	if len(actual) < n {
		n = len(actual)
	}
	for i := 0; i < n; i++ {
		diffs = append(diffs, DeepDiff(expected[i], actual[i], fmt.Sprintf("%s[%d]", path, i))...)
	}
	return diffs
}

func valuesEqual(a, b any) bool {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		return af == bf
	}
	return a == b
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// unwrapJSONStrings decodes expected and actual as JSON when both are
// strings that parse as a JSON object or array, returning the decoded
// pair. ok is false when either side isn't a JSON-carrying string, in
// which case the caller should compare the original values.
func unwrapJSONStrings(expected, actual any) ([2]any, bool) {
	expStr, expOK := expected.(string)
	actStr, actOK := actual.(string)
	if !expOK || !actOK {
		return [2]any{}, false
	}
	var expDecoded, actDecoded any
	if err := json.Unmarshal([]byte(expStr), &expDecoded); err != nil {
		return [2]any{}, false
	}
	if err := json.Unmarshal([]byte(actStr), &actDecoded); err != nil {
		return [2]any{}, false
	}
	if !isObjectOrArray(expDecoded) || !isObjectOrArray(actDecoded) {
		return [2]any{}, false
	}
	return [2]any{expDecoded, actDecoded}, true
}

func isObjectOrArray(v any) bool {
	switch v.(type) {
	case map[string]any, []any:
		return true
	default:
		return false
	}
}
