// Package matcher implements the replay matching strategies that pair an
// incoming replay request against a recorded Interaction: method_params,
// sequential, and strict. All three consume a cassette as a FIFO multiset
// keyed by stable content hash (method_params/strict) or plain arrival
// order (sequential); duplicate recordings are returned in recorded order,
// once each.
package matcher

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/mcpcassette/mcpcassette/internal/domain/cassette"
)

// Matcher pairs incoming replay requests against a cassette's recorded
// jsonrpc_request interactions. Implementations must be safe for
// concurrent use; the replay server calls Match from one goroutine per
// in-flight HTTP exchange.
type Matcher interface {
	// Match returns the recorded interaction paired with body, and true,
	// or (nil, false) if nothing in the cassette matches. A miss is
	// recorded in UnmatchedRequests.
	Match(body map[string]any) (*cassette.Interaction, bool)

	// AllConsumed reports whether every jsonrpc_request interaction in the
	// cassette has been matched at least once. Only meaningful after the
	// replay server serving this Matcher has been shut down.
	AllConsumed() bool

	// UnmatchedRequests returns the bodies that failed to match, in
	// arrival order.
	UnmatchedRequests() []map[string]any
}

// normalizeParams returns a copy of params with the volatile top-level
// _meta key removed. _meta carries progressToken, which varies per
// session and must not affect matching under method_params (but does
// under strict).
func normalizeParams(params any) any {
	m, ok := params.(map[string]any)
	if !ok {
		return params
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		if k == "_meta" {
			continue
		}
		out[k] = v
	}
	return out
}

// stableHash returns the first 16 hex characters of the SHA-256 of the
// canonical JSON encoding of v: keys sorted, non-ASCII preserved, default
// string coercion for non-JSON scalars.
func stableHash(v any) string {
	sum := sha256.Sum256([]byte(canonicalJSON(v)))
	return hex.EncodeToString(sum[:])[:16]
}

// canonicalJSON renders v as compact JSON with object keys sorted at every
// depth (encoding/json sorts map[string]any keys on marshal). Escaping is
// encoding/json's: non-ASCII stays as UTF-8, and <, > and & are escaped.
func canonicalJSON(v any) string {
	normalized := sortKeysDeep(v)
	data, err := json.Marshal(normalized)
	if err != nil {
		// Values that reach here are always produced by encoding/json's own
		// decoder, so they are always marshalable; default string coercion
		// for anything unexpected keeps this total rather than panicking.
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}

// sortKeysDeep recursively walks maps and slices; encoding/json already
// sorts map[string]any keys, so this mainly exists to make key order
// explicit and stable across Go versions, and to recurse into slices of
// maps.
func sortKeysDeep(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			out[k] = sortKeysDeep(val[k])
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = sortKeysDeep(item)
		}
		return out
	default:
		return val
	}
}

// methodParamsKey computes method::hash(normalize(params)).
func methodParamsKey(body map[string]any) string {
	method, _ := body["method"].(string)
	return fmt.Sprintf("%s::%s", method, stableHash(normalizeParams(body["params"])))
}

// strictKey computes method::hash(params) with no normalization, so any
// change to _meta (or anything else) changes the key.
func strictKey(body map[string]any) string {
	method, _ := body["method"].(string)
	return fmt.Sprintf("%s::%s", method, stableHash(body["params"]))
}

// Metrics receives per-strategy match/miss counts. Implemented by
// internal/observability.Metrics; nil-safe so strategies can be built
// without a registry in tests.
type Metrics interface {
	RecordMatch(strategy string)
	RecordMiss(strategy string)
}

// Option configures bookkeeping shared across strategies, such as metrics
// wiring. Passed to New, not to the individual strategy constructors.
type Option func(*base)

// WithMetrics reports every match/miss through m, labeled by strategy.
func WithMetrics(m Metrics, strategy string) Option {
	return func(b *base) {
		b.metrics = m
		b.strategy = strategy
	}
}

// base holds the bookkeeping shared by every strategy: the denominator
// (total jsonrpc_request interactions), matched count, and unmatched log.
type base struct {
	mu       sync.Mutex
	total    int
	matched  int
	unmatch  []map[string]any
	metrics  Metrics
	strategy string
}

func newBase(interactions []*cassette.Interaction) base {
	total := 0
	for _, i := range interactions {
		if i.Type == cassette.InteractionJSONRPCRequest {
			total++
		}
	}
	return base{total: total}
}

func (b *base) recordMatch() {
	b.mu.Lock()
	b.matched++
	metrics, strategy := b.metrics, b.strategy
	b.mu.Unlock()
	if metrics != nil {
		metrics.RecordMatch(strategy)
	}
}

func (b *base) recordMiss(body map[string]any) {
	b.mu.Lock()
	b.unmatch = append(b.unmatch, body)
	metrics, strategy := b.metrics, b.strategy
	b.mu.Unlock()
	if metrics != nil {
		metrics.RecordMiss(strategy)
	}
}

func (b *base) AllConsumed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.matched >= b.total
}

func (b *base) UnmatchedRequests() []map[string]any {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]map[string]any, len(b.unmatch))
	copy(out, b.unmatch)
	return out
}

// KnownStrategies lists the strategy names accepted by New, in the order
// they should be presented to a user.
var KnownStrategies = []string{"method_params", "sequential", "strict"}

// New builds a Matcher for the given strategy name over interactions.
// Unknown strategy names fail with a diagnostic listing KnownStrategies.
func New(strategy string, interactions []*cassette.Interaction, opts ...Option) (Matcher, error) {
	var (
		m    Matcher
		base *base
	)
	switch strategy {
	case "method_params":
		mm := newMethodParamsMatcher(interactions)
		m, base = mm, &mm.base
	case "sequential":
		sm := newSequentialMatcher(interactions)
		m, base = sm, &sm.base
	case "strict":
		stm := newStrictMatcher(interactions)
		m, base = stm, &stm.base
	default:
		return nil, fmt.Errorf("matcher: unknown strategy %q, choose one of %v", strategy, KnownStrategies)
	}
	for _, opt := range opts {
		opt(base)
	}
	return m, nil
}
