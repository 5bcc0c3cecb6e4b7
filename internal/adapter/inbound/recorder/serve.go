package recorder

import (
	"context"
	"errors"
	"net"
	"net/http"
)

// ListenAndServeReady binds addr, sends the bound address on ready once the
// listener is live (so "addr" may end in ":0"), then serves handler until
// ctx is canceled, at which point it performs a graceful shutdown. ready
// may be nil.
//
// This exists because http.Server.ListenAndServe has no hook between
// "socket bound" and "accepting connections", so callers that need to
// synchronize on a concrete ephemeral port (tests, a CLI using port 0)
// would otherwise have to poll.
func ListenAndServeReady(ctx context.Context, addr string, handler http.Handler, ready chan<- string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	srv := &http.Server{Handler: handler}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	if ready != nil {
		ready <- ln.Addr().String()
	}

	select {
	case <-ctx.Done():
		return srv.Shutdown(context.Background())
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
