// Package recorder implements a recording reverse proxy: every request it
// receives is forwarded to a configured upstream MCP server, and the
// request/response pair is appended to a cassette as it completes.
package recorder

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/mcpcassette/mcpcassette/internal/domain/cassette"
	"github.com/mcpcassette/mcpcassette/internal/sse"
)

// hopByHopHeaders lists headers meaningful only for a single transport-level
// connection; proxies must strip them before forwarding (RFC 2616 §13.5.1).
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// Metrics is the subset of observability hooks the recorder calls. Passing
// nil disables instrumentation.
type Metrics interface {
	ObserveRequest(method string, status int, duration time.Duration)
}

// Recorder is an http.Handler that proxies every request to target and
// appends the resulting interaction to a cassette.
type Recorder struct {
	target     string
	httpClient *http.Client
	cassette   *cassette.Cassette
	logger     *slog.Logger
	metrics    Metrics
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithHTTPClient overrides the client used to reach the upstream server.
func WithHTTPClient(c *http.Client) Option {
	return func(r *Recorder) { r.httpClient = c }
}

// WithTimeout sets the upstream request timeout.
func WithTimeout(d time.Duration) Option {
	return func(r *Recorder) {
		if r.httpClient != nil {
			r.httpClient.Timeout = d
		}
	}
}

// WithLogger overrides the recorder's logger. The default discards output.
func WithLogger(l *slog.Logger) Option {
	return func(r *Recorder) { r.logger = l }
}

// WithMetrics attaches a Metrics sink.
func WithMetrics(m Metrics) Option {
	return func(r *Recorder) { r.metrics = m }
}

// New returns a Recorder that forwards to target and records every
// exchange into c.
func New(target string, c *cassette.Cassette, opts ...Option) *Recorder {
	r := &Recorder{
		target: strings.TrimRight(target, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		cassette: c,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ServeHTTP implements http.Handler.
func (r *Recorder) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	var reqBody []byte
	if req.Body != nil {
		var err error
		reqBody, err = io.ReadAll(req.Body)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "failed to read request body")
			return
		}
	}

	upstreamURL := r.target + req.URL.Path
	if req.URL.RawQuery != "" {
		upstreamURL += "?" + req.URL.RawQuery
	}

	outReq, err := http.NewRequestWithContext(req.Context(), req.Method, upstreamURL, bytes.NewReader(reqBody))
	if err != nil {
		r.logger.Error("recorder: failed to build upstream request", "error", err, "url", upstreamURL)
		writeJSONError(w, http.StatusBadGateway, "failed to create upstream request")
		return
	}
	copyHeaders(outReq.Header, req.Header)
	injectForwardedHeaders(outReq, req)

	start := time.Now()
	resp, err := r.httpClient.Do(outReq)
	if err != nil {
		r.logger.Error("recorder: upstream unreachable", "error", err, "url", upstreamURL)
		writeJSONError(w, http.StatusBadGateway, "upstream unreachable")
		if r.metrics != nil {
			r.metrics.ObserveRequest(req.Method, http.StatusBadGateway, time.Since(start))
		}
		return
	}
	defer resp.Body.Close()

	copyHeaders(w.Header(), resp.Header)

	var respBody map[string]any
	var responseIsSSE bool
	contentType := resp.Header.Get("Content-Type")

	if strings.HasPrefix(contentType, "text/event-stream") {
		responseIsSSE = true
		w.WriteHeader(resp.StatusCode)
		flusher, _ := w.(http.Flusher)
		first, teeErr := sse.Tee(flushWriter{w: w, f: flusher}, resp.Body)
		if teeErr != nil {
			r.logger.Debug("recorder: sse tee ended early", "error", teeErr)
		}
		if first != nil {
			respBody = first.Message
		}
	} else {
		buf, readErr := io.ReadAll(resp.Body)
		w.WriteHeader(resp.StatusCode)
		if _, err := w.Write(buf); err != nil {
			r.logger.Debug("recorder: error writing buffered response", "error", err)
		}
		if readErr == nil {
			_ = json.Unmarshal(buf, &respBody)
		}
	}

	latency := time.Since(start)
	if r.metrics != nil {
		r.metrics.ObserveRequest(req.Method, resp.StatusCode, latency)
	}

	var reqMsg cassette.Message
	_ = json.Unmarshal(reqBody, &reqMsg)

	interaction := classify(req.Method, req.URL.Path, reqMsg, respBody, responseIsSSE, resp.StatusCode, latency)
	r.cassette.AddInteraction(interaction)
	r.logger.Info("recorder: "+interactionSummary(r.cassette.Len()-1, req.Method, interaction))
}

// interactionSummary renders the one-line "[idx] method -> status (tag)
// (latency)" form used across the console output, the same shape as the
// reference implementation's RawInteraction.summary property.
func interactionSummary(idx int, httpMethod string, i *cassette.Interaction) string {
	method := i.JSONRPCMethod()
	if method == "" {
		method = httpMethod
	}
	tag := string(i.Type)
	if i.ResponseIsSSE {
		tag += " SSE"
	}
	return fmt.Sprintf("[%d] %s -> %d (%s) (%dms)", idx, method, i.ResponseStatus, tag, i.LatencyMs)
}

// classify builds the Interaction for one recorded exchange, picking the
// InteractionType the same way the replay server and verifier expect to
// find it: POST bodies with an id are jsonrpc_request, POST bodies without
// one are notification, and anything that isn't a JSON-RPC POST (session
// GET/DELETE) is lifecycle. Lifecycle interactions carry no JSON-RPC
// request/response envelope; only the HTTP method/path and outcome status
// are recorded.
func classify(httpMethod, httpPath string, reqMsg cassette.Message, respMsg map[string]any, isSSE bool, status int, latency time.Duration) *cassette.Interaction {
	latencyMs := int(latency / time.Millisecond)

	if httpMethod != http.MethodPost || reqMsg == nil {
		method := httpMethod
		path := httpPath
		return &cassette.Interaction{
			Type:           cassette.InteractionLifecycle,
			HTTPMethod:     &method,
			HTTPPath:       &path,
			ResponseIsSSE:  isSSE,
			ResponseStatus: status,
			LatencyMs:      latencyMs,
		}
	}

	if _, hasID := reqMsg["id"]; !hasID {
		return &cassette.Interaction{
			Type:           cassette.InteractionNotification,
			Request:        reqMsg,
			ResponseStatus: status,
			LatencyMs:      latencyMs,
		}
	}

	return &cassette.Interaction{
		Type:           cassette.InteractionJSONRPCRequest,
		Request:        reqMsg,
		Response:       respMsg,
		ResponseIsSSE:  isSSE,
		ResponseStatus: status,
		LatencyMs:      latencyMs,
	}
}

func copyHeaders(dst, src http.Header) {
	for key, values := range src {
		for _, v := range values {
			dst.Add(key, v)
		}
	}
	for _, h := range hopByHopHeaders {
		dst.Del(h)
	}
}

func injectForwardedHeaders(outReq, inReq *http.Request) {
	clientIP, _, _ := net.SplitHostPort(inReq.RemoteAddr)
	if clientIP == "" {
		clientIP = inReq.RemoteAddr
	}
	if prior := outReq.Header.Get("X-Forwarded-For"); prior != "" {
		outReq.Header.Set("X-Forwarded-For", prior+", "+clientIP)
	} else if clientIP != "" {
		outReq.Header.Set("X-Forwarded-For", clientIP)
	}
	scheme := "http"
	if inReq.TLS != nil {
		scheme = "https"
	}
	outReq.Header.Set("X-Forwarded-Proto", scheme)
	outReq.Header.Set("X-Forwarded-Host", inReq.Host)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// flushWriter writes each SSE line to w and flushes immediately after, so
// the downstream client sees events as they arrive rather than buffered
// until the handler returns.
type flushWriter struct {
	w io.Writer
	f http.Flusher
}

func (fw flushWriter) Write(p []byte) (int, error) {
	n, err := fw.w.Write(p)
	if err == nil && fw.f != nil {
		fw.f.Flush()
	}
	return n, err
}
