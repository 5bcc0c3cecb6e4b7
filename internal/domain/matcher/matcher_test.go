package matcher

import (
	"testing"

	"github.com/mcpcassette/mcpcassette/internal/domain/cassette"
)

func reqInteraction(method string, params map[string]any, response map[string]any) *cassette.Interaction {
	req := cassette.Message{"jsonrpc": "2.0", "id": float64(1), "method": method}
	if params != nil {
		req["params"] = params
	}
	return &cassette.Interaction{
		Type:     cassette.InteractionJSONRPCRequest,
		Request:  req,
		Response: response,
	}
}

func body(method string, params map[string]any) map[string]any {
	b := map[string]any{"jsonrpc": "2.0", "id": float64(99), "method": method}
	if params != nil {
		b["params"] = params
	}
	return b
}

func TestMethodParamsMatcher_FIFOOverDuplicates(t *testing.T) {
	t.Parallel()

	params := map[string]any{"name": "t"}
	interactions := []*cassette.Interaction{
		reqInteraction("tools/call", params, map[string]any{"v": "first"}),
		reqInteraction("tools/call", params, map[string]any{"v": "second"}),
		reqInteraction("tools/call", params, map[string]any{"v": "third"}),
	}

	m, err := New("method_params", interactions)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	want := []string{"first", "second", "third"}
	for _, w := range want {
		hit, ok := m.Match(body("tools/call", params))
		if !ok {
			t.Fatalf("expected a match for %q", w)
		}
		if hit.Response["v"] != w {
			t.Fatalf("got %v, want %v", hit.Response["v"], w)
		}
	}

	if _, ok := m.Match(body("tools/call", params)); ok {
		t.Fatal("fourth identical request should miss")
	}
	if !m.AllConsumed() {
		t.Fatal("AllConsumed() = false after consuming all 3 recordings")
	}
}

func TestMethodParamsMatcher_MetaIndependence(t *testing.T) {
	t.Parallel()

	interactions := []*cassette.Interaction{
		reqInteraction("tools/call", map[string]any{
			"name": "t",
			"_meta": map[string]any{"progressToken": float64(1)},
		}, map[string]any{"ok": true}),
	}

	m, err := New("method_params", interactions)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	incoming := body("tools/call", map[string]any{
		"name": "t",
		"_meta": map[string]any{"progressToken": float64(999)},
	})
	if _, ok := m.Match(incoming); !ok {
		t.Fatal("expected match: _meta must not affect method_params matching")
	}
}

func TestStrictMatcher_MetaDependence(t *testing.T) {
	t.Parallel()

	interactions := []*cassette.Interaction{
		reqInteraction("tools/call", map[string]any{
			"name": "t",
			"_meta": map[string]any{"progressToken": float64(1)},
		}, map[string]any{"ok": true}),
	}

	m, err := New("strict", interactions)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	incoming := body("tools/call", map[string]any{
		"name": "t",
		"_meta": map[string]any{"progressToken": float64(999)},
	})
	if _, ok := m.Match(incoming); ok {
		t.Fatal("expected miss: strict matching must be sensitive to _meta")
	}

	unmatched := m.UnmatchedRequests()
	if len(unmatched) != 1 {
		t.Fatalf("len(UnmatchedRequests()) = %d, want 1", len(unmatched))
	}
}

func TestSequentialMatcher_IgnoresBodyReturnsRecordedOrder(t *testing.T) {
	t.Parallel()

	interactions := []*cassette.Interaction{
		reqInteraction("tools/call", map[string]any{"name": "a"}, map[string]any{"v": 1.0}),
		reqInteraction("tools/call", map[string]any{"name": "b"}, map[string]any{"v": 2.0}),
	}

	m, err := New("sequential", interactions)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	hit1, ok := m.Match(body("anything/at-all", nil))
	if !ok || hit1.Response["v"] != 1.0 {
		t.Fatalf("first Match() = %v, %v", hit1, ok)
	}
	hit2, ok := m.Match(body("something/else", nil))
	if !ok || hit2.Response["v"] != 2.0 {
		t.Fatalf("second Match() = %v, %v", hit2, ok)
	}
	if _, ok := m.Match(body("whatever", nil)); ok {
		t.Fatal("third Match() should miss, queue exhausted")
	}
}

func TestSequentialMatcher_ExcludesNonRequestInteractions(t *testing.T) {
	t.Parallel()

	httpMethod := "GET"
	interactions := []*cassette.Interaction{
		{Type: cassette.InteractionLifecycle, HTTPMethod: &httpMethod},
		{Type: cassette.InteractionNotification, Request: cassette.Message{"method": "notifications/initialized"}},
		reqInteraction("tools/call", nil, map[string]any{"v": 1.0}),
	}

	m, err := New("sequential", interactions)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	hit, ok := m.Match(body("tools/call", nil))
	if !ok || hit.Response["v"] != 1.0 {
		t.Fatalf("Match() = %v, %v, want the lone jsonrpc_request", hit, ok)
	}
	if !m.AllConsumed() {
		t.Fatal("AllConsumed() should be true: denominator excludes lifecycle/notification")
	}
}

func TestNew_UnknownStrategy(t *testing.T) {
	t.Parallel()

	_, err := New("bogus", nil)
	if err == nil {
		t.Fatal("New() error = nil, want error for unknown strategy")
	}
}

type fakeMetrics struct {
	matches map[string]int
	misses  map[string]int
}

func newFakeMetrics() *fakeMetrics {
	return &fakeMetrics{matches: map[string]int{}, misses: map[string]int{}}
}

func (f *fakeMetrics) RecordMatch(strategy string) { f.matches[strategy]++ }
func (f *fakeMetrics) RecordMiss(strategy string)  { f.misses[strategy]++ }

func TestWithMetrics_RecordsMatchesAndMissesByStrategy(t *testing.T) {
	t.Parallel()

	interactions := []*cassette.Interaction{
		reqInteraction("tools/call", nil, map[string]any{"v": 1.0}),
	}
	fm := newFakeMetrics()

	m, err := New("method_params", interactions, WithMetrics(fm, "method_params"))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	if _, ok := m.Match(body("tools/call", nil)); !ok {
		t.Fatal("expected a match")
	}
	if _, ok := m.Match(body("tools/call", nil)); ok {
		t.Fatal("expected a miss on the second call")
	}

	if fm.matches["method_params"] != 1 {
		t.Errorf("matches[method_params] = %d, want 1", fm.matches["method_params"])
	}
	if fm.misses["method_params"] != 1 {
		t.Errorf("misses[method_params] = %d, want 1", fm.misses["method_params"])
	}
}
