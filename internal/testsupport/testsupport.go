// Package testsupport provides test helpers for standing up fake upstream
// MCP servers. The recorder, replay, and verify test suites build their
// httptest servers inline and do not import it.
package testsupport

import (
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// StartTestUpstream starts an httptest.Server serving handler and
// registers it to close on test cleanup.
func StartTestUpstream(t *testing.T, handler http.Handler) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

// WaitReady polls addr until it accepts a TCP connection or timeout elapses,
// failing the test if the server never becomes reachable. Useful when a
// server is started in a goroutine rather than via httptest.NewServer,
// which is already listening by the time it returns.
func WaitReady(t *testing.T, addr string, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", addr, 100*time.Millisecond)
		if err == nil {
			_ = conn.Close()
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("server at %s did not become ready within %s", addr, timeout)
}

// JSONRPCRequest builds a minimal JSON-RPC request body for test fixtures.
func JSONRPCRequest(id any, method string, params map[string]any) map[string]any {
	req := map[string]any{
		"jsonrpc": "2.0",
		"method":  method,
	}
	if id != nil {
		req["id"] = id
	}
	if params != nil {
		req["params"] = params
	}
	return req
}

// JSONRPCResult builds a minimal JSON-RPC success response body for test fixtures.
func JSONRPCResult(id any, result map[string]any) map[string]any {
	return map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"result":  result,
	}
}

// ToolCallArguments is a convenience for building a tools/call params block.
func ToolCallArguments(name string, arguments map[string]any) map[string]any {
	return map[string]any{
		"name":      name,
		"arguments": arguments,
	}
}
