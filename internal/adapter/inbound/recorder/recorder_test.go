package recorder

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mcpcassette/mcpcassette/internal/domain/cassette"
)

func TestRecorder_BuffersNonSSERequest(t *testing.T) {
	t.Parallel()

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Connection", "keep-alive")
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":{"ok":true}}`))
	}))
	defer upstream.Close()

	c := cassette.New(upstream.URL)
	rec := New(upstream.URL, c)

	reqBody := `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"x"}}`
	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(reqBody))
	w := httptest.NewRecorder()

	rec.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if w.Header().Get("Connection") != "" {
		t.Fatal("hop-by-hop header Connection leaked into the client response")
	}
	if c.Len() != 1 {
		t.Fatalf("cassette.Len() = %d, want 1", c.Len())
	}
	got := c.Interactions[0]
	if got.Type != cassette.InteractionJSONRPCRequest {
		t.Fatalf("Type = %q, want jsonrpc_request", got.Type)
	}
	if got.ResponseIsSSE {
		t.Fatal("ResponseIsSSE = true, want false for a JSON response")
	}
	if got.Response["result"] == nil {
		t.Fatalf("Response not captured: %+v", got.Response)
	}
}

func TestRecorder_LogsPerInteractionSummary(t *testing.T) {
	t.Parallel()

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":{"ok":true}}`))
	}))
	defer upstream.Close()

	var logBuf bytes.Buffer
	c := cassette.New(upstream.URL)
	rec := New(upstream.URL, c, WithLogger(slog.New(slog.NewTextHandler(&logBuf, nil))))

	reqBody := `{"jsonrpc":"2.0","id":1,"method":"tools/call"}`
	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(reqBody))
	rec.ServeHTTP(httptest.NewRecorder(), req)

	logged := logBuf.String()
	if !strings.Contains(logged, "[0] tools/call -> 200") {
		t.Fatalf("log line = %q, want it to contain \"[0] tools/call -> 200\"", logged)
	}
}

func TestRecorder_ClassifiesNotification(t *testing.T) {
	t.Parallel()

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	defer upstream.Close()

	c := cassette.New(upstream.URL)
	rec := New(upstream.URL, c)

	reqBody := `{"jsonrpc":"2.0","method":"notifications/initialized"}`
	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(reqBody))
	w := httptest.NewRecorder()

	rec.ServeHTTP(w, req)

	if c.Len() != 1 {
		t.Fatalf("cassette.Len() = %d, want 1", c.Len())
	}
	if c.Interactions[0].Type != cassette.InteractionNotification {
		t.Fatalf("Type = %q, want notification", c.Interactions[0].Type)
	}
}

func TestRecorder_ClassifiesLifecycle(t *testing.T) {
	t.Parallel()

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	c := cassette.New(upstream.URL)
	rec := New(upstream.URL, c)

	req := httptest.NewRequest(http.MethodDelete, "/mcp", nil)
	w := httptest.NewRecorder()

	rec.ServeHTTP(w, req)

	if c.Len() != 1 {
		t.Fatalf("cassette.Len() = %d, want 1", c.Len())
	}
	got := c.Interactions[0]
	if got.Type != cassette.InteractionLifecycle {
		t.Fatalf("Type = %q, want lifecycle", got.Type)
	}
	if got.HTTPMethod == nil || *got.HTTPMethod != http.MethodDelete {
		t.Fatalf("HTTPMethod = %v, want DELETE", got.HTTPMethod)
	}
	if got.HTTPPath == nil || *got.HTTPPath != "/mcp" {
		t.Fatalf("HTTPPath = %v, want /mcp", got.HTTPPath)
	}
	if got.Response != nil {
		t.Fatalf("Response = %+v, want nil for a lifecycle interaction", got.Response)
	}
}

func TestRecorder_TeesSSEResponse(t *testing.T) {
	t.Parallel()

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("event: message\ndata: {\"jsonrpc\":\"2.0\",\"id\":1,\"result\":{\"v\":1}}\n\n"))
	}))
	defer upstream.Close()

	c := cassette.New(upstream.URL)
	rec := New(upstream.URL, c)

	reqBody := `{"jsonrpc":"2.0","id":1,"method":"tools/call"}`
	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(reqBody))
	w := httptest.NewRecorder()

	rec.ServeHTTP(w, req)

	if !strings.Contains(w.Body.String(), "data: {") {
		t.Fatalf("downstream body missing forwarded SSE data: %q", w.Body.String())
	}
	if c.Len() != 1 {
		t.Fatalf("cassette.Len() = %d, want 1", c.Len())
	}
	got := c.Interactions[0]
	if !got.ResponseIsSSE {
		t.Fatal("ResponseIsSSE = false, want true")
	}
	if got.Response["result"] == nil {
		t.Fatalf("captured SSE event not recorded as Response: %+v", got.Response)
	}
}

func TestRecorder_TeesSSEResponse_RecordsFirstOfMultipleEvents(t *testing.T) {
	t.Parallel()

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("event: message\ndata: {\"jsonrpc\":\"2.0\",\"method\":\"notifications/progress\",\"params\":{\"step\":1}}\n\n"))
		_, _ = w.Write([]byte("event: message\ndata: {\"jsonrpc\":\"2.0\",\"id\":1,\"result\":{\"v\":2}}\n\n"))
	}))
	defer upstream.Close()

	c := cassette.New(upstream.URL)
	rec := New(upstream.URL, c)

	reqBody := `{"jsonrpc":"2.0","id":1,"method":"tools/call"}`
	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(reqBody))
	w := httptest.NewRecorder()

	rec.ServeHTTP(w, req)

	got := c.Interactions[0]
	if got.Response["result"] != nil {
		t.Fatalf("Response = %+v, want the first event (a progress notification), not the last", got.Response)
	}
	if method, _ := got.Response["method"].(string); method != "notifications/progress" {
		t.Fatalf("Response method = %q, want the first captured event's method", method)
	}
}

func TestRecorder_UpstreamUnreachableReturns502(t *testing.T) {
	t.Parallel()

	c := cassette.New("http://127.0.0.1:0")
	rec := New("http://127.0.0.1:1", c)

	req := httptest.NewRequest(http.MethodPost, "/mcp", bytes.NewReader([]byte(`{}`)))
	w := httptest.NewRecorder()

	rec.ServeHTTP(w, req)

	if w.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", w.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("response body not JSON: %v", err)
	}
	if body["error"] == "" {
		t.Fatal("expected non-empty error field")
	}
}
