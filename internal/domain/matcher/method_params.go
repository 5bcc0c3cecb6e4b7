package matcher

import (
	"sync"

	"github.com/mcpcassette/mcpcassette/internal/domain/cassette"
)

// MethodParamsMatcher indexes jsonrpc_request interactions by
// method::hash(normalized params) and returns the oldest unconsumed
// recording for a given key (FIFO over duplicates).
type MethodParamsMatcher struct {
	base
	mu    sync.Mutex
	index map[string][]*cassette.Interaction
}

func newMethodParamsMatcher(interactions []*cassette.Interaction) *MethodParamsMatcher {
	m := &MethodParamsMatcher{
		base:  newBase(interactions),
		index: make(map[string][]*cassette.Interaction),
	}
	for _, i := range interactions {
		if i.Type != cassette.InteractionJSONRPCRequest || i.Request == nil {
			continue
		}
		key := methodParamsKey(i.Request)
		m.index[key] = append(m.index[key], i)
	}
	return m
}

// Match implements Matcher.
func (m *MethodParamsMatcher) Match(body map[string]any) (*cassette.Interaction, bool) {
	key := methodParamsKey(body)

	m.mu.Lock()
	bucket := m.index[key]
	var hit *cassette.Interaction
	if len(bucket) > 0 {
		hit = bucket[0]
		m.index[key] = bucket[1:]
	}
	m.mu.Unlock()

	if hit == nil {
		m.recordMiss(body)
		return nil, false
	}
	m.recordMatch()
	return hit, true
}
