// Package verify replays a cassette's recorded requests against a live
// target server and reports where the live responses diverge from what
// was recorded.
package verify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/mcpcassette/mcpcassette/internal/domain/cassette"
	"github.com/mcpcassette/mcpcassette/internal/sse"
)

// InteractionResult is the verification outcome for one recorded
// interaction.
type InteractionResult struct {
	Index     int      `json:"index"`
	Method    string    `json:"method"`
	Skipped   bool      `json:"skipped"`
	Passed    bool      `json:"passed"`
	Diffs     []string  `json:"diffs,omitempty"`
	Error     string    `json:"error,omitempty"`
	LatencyMs int64     `json:"latency_ms"`
}

// Result aggregates every InteractionResult for one verify run.
type Result struct {
	Interactions []InteractionResult `json:"interactions"`
	Passed       int                 `json:"passed"`
	Failed       int                 `json:"failed"`
	Skipped      int                 `json:"skipped"`
}

// OK reports whether every non-skipped interaction passed.
func (r Result) OK() bool {
	return r.Failed == 0
}

// Options configures a verify run.
type Options struct {
	// IgnoreFields are bare key names excluded from comparison at any
	// depth, in addition to the always-ignored id and _meta.
	IgnoreFields []string
	// IgnorePaths are exact "$.foo[0].bar" paths excluded from comparison.
	IgnorePaths []string
	// SkipIf, when non-empty, is a CEL expression evaluated per
	// interaction (method, tool_name, params in scope); interactions for
	// which it evaluates true are skipped rather than verified.
	SkipIf string
	// HTTPClient overrides the client used to reach target. Defaults to
	// a client with the reference implementation's 120s/30s-connect
	// timeout budget.
	HTTPClient *http.Client
	Logger     *slog.Logger

	// Update rewrites a passing interaction's stored Response in place
	// whenever the live response, re-encoded as JSON with sorted keys,
	// differs from the recorded one despite matching structurally (for
	// example a value under an ignored field that changed). CassettePath
	// must be set for the rewritten cassette to be saved; Run returns an
	// error otherwise.
	Update       bool
	CassettePath string
	// Format selects the on-disk encoding used when Update saves the
	// cassette: "json" (default) or "yaml".
	Format string
}

// defaultClient mirrors the reference implementation's httpx.AsyncClient
// timeout budget: generous enough for slow tool calls, bounded enough that
// a hung target doesn't block verification forever.
func defaultClient() *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{Timeout: 30 * time.Second}).DialContext
	return &http.Client{Timeout: 120 * time.Second, Transport: transport}
}

// Run verifies every interaction in c against targetURL. Each
// jsonrpc_request is sent live and its recorded response diffed against
// what target actually returns; a notification passes when the live status
// matches the recorded one, and a lifecycle request passes when it
// completes without a transport error.
func Run(ctx context.Context, c *cassette.Cassette, targetURL string, opts Options) (Result, error) {
	client := opts.HTTPClient
	if client == nil {
		client = defaultClient()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	var skipProg cel.Program
	if opts.SkipIf != "" {
		env, err := NewSkipIfEnv()
		if err != nil {
			return Result{}, err
		}
		skipProg, err = env.Compile(opts.SkipIf)
		if err != nil {
			return Result{}, err
		}
	}

	var sessionID string
	var result Result
	updated := false

	for idx, interaction := range c.Interactions {
		switch interaction.Type {
		case cassette.InteractionLifecycle:
			ir, newSessionID := sendLifecycle(ctx, client, targetURL, idx, interaction, sessionID)
			if newSessionID != "" {
				sessionID = newSessionID
			}
			result.Interactions = append(result.Interactions, ir)
			if ir.Passed {
				result.Passed++
			} else {
				result.Failed++
			}
			continue
		case cassette.InteractionNotification:
			ir, newSessionID := sendNotification(ctx, client, targetURL, idx, interaction, sessionID)
			if newSessionID != "" {
				sessionID = newSessionID
			}
			result.Interactions = append(result.Interactions, ir)
			if ir.Passed {
				result.Passed++
			} else {
				result.Failed++
			}
			continue
		case cassette.InteractionJSONRPCRequest:
		default:
			continue
		}

		method := interaction.JSONRPCMethod()
		toolName := interaction.ToolName()
		ir := InteractionResult{Index: idx, Method: method}

		if skipProg != nil {
			params, _ := interaction.Request["params"].(map[string]any)
			skip, err := Eval(skipProg, method, toolName, params)
			if err != nil {
				ir.Error = err.Error()
				result.Interactions = append(result.Interactions, ir)
				result.Failed++
				continue
			}
			if skip {
				ir.Skipped = true
				result.Interactions = append(result.Interactions, ir)
				result.Skipped++
				continue
			}
		}

		start := time.Now()
		actual, newSessionID, err := send(ctx, client, targetURL, interaction.Request, sessionID)
		ir.LatencyMs = time.Since(start).Milliseconds()
		if newSessionID != "" {
			sessionID = newSessionID
		}
		if err != nil {
			ir.Error = err.Error()
			logger.Warn("verify: request failed", "method", method, "error", err)
			result.Interactions = append(result.Interactions, ir)
			result.Failed++
			continue
		}

		expected := StripVolatile(map[string]any(interaction.Response), opts.IgnoreFields, opts.IgnorePaths)
		got := StripVolatile(actual, opts.IgnoreFields, opts.IgnorePaths)
		diffs := DeepDiff(expected, got, "$")

		ir.Diffs = diffs
		ir.Passed = len(diffs) == 0
		result.Interactions = append(result.Interactions, ir)
		if ir.Passed {
			result.Passed++
			if opts.Update && responseChanged(interaction.Response, actual) {
				c.Interactions[idx].Response = actual
				updated = true
			}
		} else {
			result.Failed++
		}
	}

	if updated {
		if err := saveUpdated(c, opts); err != nil {
			return result, err
		}
	}

	return result, nil
}

// responseChanged reports whether actual differs from recorded at the
// byte level once both are canonically re-encoded, even though they
// already compared equal structurally (StripVolatile/DeepDiff ignore
// volatile fields that Update still wants captured, like a server id
// that shifted but isn't on the ignore list).
func responseChanged(recorded cassette.Message, actual map[string]any) bool {
	want, err := json.Marshal(sortedCopy(map[string]any(recorded)))
	if err != nil {
		return false
	}
	got, err := json.Marshal(sortedCopy(actual))
	if err != nil {
		return false
	}
	return !bytes.Equal(want, got)
}

// sortedCopy returns a shallow copy of v. json.Marshal sorts map[string]any
// keys, so two independently-built maps that are equivalent marshal to
// identical bytes.
func sortedCopy(v map[string]any) map[string]any {
	if v == nil {
		return nil
	}
	out := make(map[string]any, len(v))
	for k, val := range v {
		out[k] = val
	}
	return out
}

// saveUpdated persists c back to opts.CassettePath in opts.Format,
// defaulting to JSON when Format is unset.
func saveUpdated(c *cassette.Cassette, opts Options) error {
	if opts.CassettePath == "" {
		return fmt.Errorf("verify: Update requested but CassettePath is empty")
	}
	if opts.Format == "yaml" {
		return cassette.SaveYAML(c, opts.CassettePath)
	}
	return cassette.Save(c, opts.CassettePath)
}

// sendLifecycle issues interaction's recorded HTTP method (GET or DELETE)
// against targetURL. Lifecycle interactions are never compared at the body
// level: per spec, a lifecycle replay passes as long as the request itself
// doesn't fail, and only the session id it carries back is tracked.
func sendLifecycle(ctx context.Context, client *http.Client, targetURL string, idx int, interaction *cassette.Interaction, sessionID string) (InteractionResult, string) {
	httpMethod := "DELETE"
	if interaction.HTTPMethod != nil {
		httpMethod = *interaction.HTTPMethod
	}
	path := ""
	if interaction.HTTPPath != nil {
		path = *interaction.HTTPPath
	}
	ir := InteractionResult{Index: idx, Method: strings.TrimSpace(httpMethod + " " + path)}

	httpReq, err := http.NewRequestWithContext(ctx, httpMethod, targetURL, nil)
	if err != nil {
		ir.Error = err.Error()
		return ir, ""
	}
	httpReq.Header.Set("Accept", "application/json, text/event-stream")
	if sessionID != "" {
		httpReq.Header.Set("Mcp-Session-Id", sessionID)
	}

	start := time.Now()
	resp, err := client.Do(httpReq)
	ir.LatencyMs = time.Since(start).Milliseconds()
	if err != nil {
		ir.Error = err.Error()
		return ir, ""
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	ir.Passed = true
	return ir, resp.Header.Get("Mcp-Session-Id")
}

// sendNotification POSTs interaction's recorded request body to targetURL.
// A notification has no response body to compare; it passes iff the live
// status code matches the recorded response_status.
func sendNotification(ctx context.Context, client *http.Client, targetURL string, idx int, interaction *cassette.Interaction, sessionID string) (InteractionResult, string) {
	ir := InteractionResult{Index: idx, Method: interaction.JSONRPCMethod()}

	payload, err := json.Marshal(map[string]any(interaction.Request))
	if err != nil {
		ir.Error = err.Error()
		return ir, ""
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, targetURL, bytes.NewReader(payload))
	if err != nil {
		ir.Error = err.Error()
		return ir, ""
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json, text/event-stream")
	if sessionID != "" {
		httpReq.Header.Set("Mcp-Session-Id", sessionID)
	}

	start := time.Now()
	resp, err := client.Do(httpReq)
	ir.LatencyMs = time.Since(start).Milliseconds()
	if err != nil {
		ir.Error = err.Error()
		return ir, ""
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	ir.Passed = resp.StatusCode == interaction.ResponseStatus
	if !ir.Passed {
		ir.Diffs = []string{fmt.Sprintf("  status: expected %d, got %d", interaction.ResponseStatus, resp.StatusCode)}
	}
	return ir, resp.Header.Get("Mcp-Session-Id")
}

// send performs one live JSON-RPC exchange against targetURL, propagating
// sessionID as Mcp-Session-Id when non-empty, and returns the decoded
// response body plus any Mcp-Session-Id the server assigned.
func send(ctx context.Context, client *http.Client, targetURL string, reqBody cassette.Message, sessionID string) (map[string]any, string, error) {
	payload, err := json.Marshal(map[string]any(reqBody))
	if err != nil {
		return nil, "", fmt.Errorf("verify: encoding request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, targetURL, bytes.NewReader(payload))
	if err != nil {
		return nil, "", fmt.Errorf("verify: building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json, text/event-stream")
	if sessionID != "" {
		httpReq.Header.Set("Mcp-Session-Id", sessionID)
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, "", fmt.Errorf("verify: request failed: %w", err)
	}
	defer resp.Body.Close()

	newSessionID := resp.Header.Get("Mcp-Session-Id")

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, newSessionID, fmt.Errorf("verify: reading response: %w", err)
	}

	if strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream") {
		msg, ok := sse.ParseFirst(raw)
		if !ok {
			return nil, newSessionID, fmt.Errorf("verify: no decodable data: line in event-stream response")
		}
		return msg, newSessionID, nil
	}

	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, newSessionID, fmt.Errorf("verify: response is not valid JSON: %w", err)
	}
	return decoded, newSessionID, nil
}
