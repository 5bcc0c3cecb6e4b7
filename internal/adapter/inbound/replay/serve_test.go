package replay

import (
	"context"
	"net/http"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestListenAndServeReady_ServesAndShutsDownOnCancel(t *testing.T) {
	t.Parallel()
	defer goleak.VerifyNone(t)

	ctx, cancel := context.WithCancel(context.Background())
	ready := make(chan string, 1)
	done := make(chan error, 1)

	s := New(newMatcher(t, nil))

	go func() {
		done <- ListenAndServeReady(ctx, "127.0.0.1:0", s, ready)
	}()

	var addr string
	select {
	case addr = <-ready:
	case <-time.After(2 * time.Second):
		t.Fatal("server never became ready")
	}

	resp, err := http.Get("http://" + addr + "/mcp")
	if err != nil {
		t.Fatalf("GET %s error: %v", addr, err)
	}
	resp.Body.Close()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("ListenAndServeReady() error after cancel: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("ListenAndServeReady did not return after ctx cancellation")
	}
}
