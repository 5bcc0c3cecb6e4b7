package matcher

import (
	"sync"

	"github.com/mcpcassette/mcpcassette/internal/domain/cassette"
)

// StrictMatcher indexes jsonrpc_request interactions by
// method::hash(params) with no normalization, so any difference in _meta
// (or anything else in params) is a mismatch.
type StrictMatcher struct {
	base
	mu    sync.Mutex
	index map[string][]*cassette.Interaction
}

func newStrictMatcher(interactions []*cassette.Interaction) *StrictMatcher {
	m := &StrictMatcher{
		base:  newBase(interactions),
		index: make(map[string][]*cassette.Interaction),
	}
	for _, i := range interactions {
		if i.Type != cassette.InteractionJSONRPCRequest || i.Request == nil {
			continue
		}
		key := strictKey(i.Request)
		m.index[key] = append(m.index[key], i)
	}
	return m
}

// Match implements Matcher.
func (m *StrictMatcher) Match(body map[string]any) (*cassette.Interaction, bool) {
	key := strictKey(body)

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
