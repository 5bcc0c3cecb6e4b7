package testsupport

import (
	"net/http"
	"strings"
	"testing"
	"time"
)

func TestStartTestUpstream_ServesHandlerAndClosesOnCleanup(t *testing.T) {
	t.Parallel()

	srv := StartTestUpstream(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET %s error: %v", srv.URL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusTeapot {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusTeapot)
	}
}

func TestWaitReady_SucceedsForListeningServer(t *testing.T) {
	t.Parallel()

	srv := StartTestUpstream(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	addr := strings.TrimPrefix(srv.URL, "http://")
	WaitReady(t, addr, time.Second)
}

func TestJSONRPCRequest_OmitsNilIDAndParams(t *testing.T) {
	t.Parallel()

	req := JSONRPCRequest(nil, "notifications/initialized", nil)
	if _, ok := req["id"]; ok {
		t.Error("expected no id key for nil id")
	}
	if _, ok := req["params"]; ok {
		t.Error("expected no params key for nil params")
	}
	if req["method"] != "notifications/initialized" {
		t.Errorf("method = %v", req["method"])
	}
}

func TestJSONRPCResult(t *testing.T) {
	t.Parallel()

	resp := JSONRPCResult(1, map[string]any{"ok": true})
	if resp["id"] != 1 {
		t.Errorf("id = %v, want 1", resp["id"])
	}
}
