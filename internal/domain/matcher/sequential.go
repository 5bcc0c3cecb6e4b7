package matcher

import (
	"sync"

	"github.com/mcpcassette/mcpcassette/internal/domain/cassette"
)

// SequentialMatcher ignores the incoming body entirely and returns the
// next unconsumed jsonrpc_request interaction in strict recorded order.
// Non-request interactions (notifications, lifecycle) are excluded from
// the queue; replay handles them structurally.
type SequentialMatcher struct {
	base
	mu    sync.Mutex
	queue []*cassette.Interaction
}

func newSequentialMatcher(interactions []*cassette.Interaction) *SequentialMatcher {
	m := &SequentialMatcher{base: newBase(interactions)}
	for _, i := range interactions {
		if i.Type == cassette.InteractionJSONRPCRequest {
			m.queue = append(m.queue, i)
		}
	}
	return m
}

// Match implements Matcher.
func (m *SequentialMatcher) Match(body map[string]any) (*cassette.Interaction, bool) {
	m.mu.Lock()
	var hit *cassette.Interaction
	if len(m.queue) > 0 {
		hit = m.queue[0]
		m.queue = m.queue[1:]
	}
	m.mu.Unlock()

	if hit == nil {
		m.recordMiss(body)
		return nil, false
	}
	m.recordMatch()
	return hit, true
}
