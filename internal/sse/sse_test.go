package sse

import (
	"bytes"
	"strings"
	"testing"
)

func TestParseDataLine(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		line    string
		wantOK  bool
		wantMsg bool
	}{
		{"data with space", `data: {"jsonrpc":"2.0","id":1}`, true, true},
		{"data without space", `data:{"jsonrpc":"2.0","id":1}`, true, true},
		{"event field", "event: message", false, false},
		{"blank separator", "", false, false},
		{"data non-json", "data: not json", true, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ev, ok := ParseDataLine([]byte(tc.line))
			if ok != tc.wantOK {
				t.Fatalf("ParseDataLine(%q) ok = %v, want %v", tc.line, ok, tc.wantOK)
			}
			if ok && (ev.Message != nil) != tc.wantMsg {
				t.Fatalf("ParseDataLine(%q) message present = %v, want %v", tc.line, ev.Message != nil, tc.wantMsg)
			}
		})
	}
}

func TestParseFirst_SkipsNonDataAndNonJSON(t *testing.T) {
	t.Parallel()

	body := "event: message\n" +
		"data: not json\n\n" +
		"data: {\"jsonrpc\":\"2.0\",\"id\":7,\"result\":{}}\n\n" +
		"data: {\"jsonrpc\":\"2.0\",\"id\":8}\n\n"

	msg, ok := ParseFirst([]byte(body))
	if !ok {
		t.Fatal("ParseFirst() ok = false, want true")
	}
	if msg["id"] != float64(7) {
		t.Fatalf("ParseFirst() id = %v, want 7 (first decodable data line)", msg["id"])
	}
}

func TestParseFirst_NoDecodableLine(t *testing.T) {
	t.Parallel()

	_, ok := ParseFirst([]byte("event: message\ndata: plain text\n\n"))
	if ok {
		t.Fatal("ParseFirst() ok = true, want false when no data: line decodes as JSON")
	}
}

func TestFormat(t *testing.T) {
	t.Parallel()

	out, err := Format(map[string]any{"jsonrpc": "2.0", "id": float64(1)})
	if err != nil {
		t.Fatalf("Format() error: %v", err)
	}
	s := string(out)
	if !strings.HasPrefix(s, "event: message\ndata: ") {
		t.Fatalf("Format() = %q, want event:+data: prefix", s)
	}
	if !strings.HasSuffix(s, "\n\n") {
		t.Fatalf("Format() = %q, want trailing blank line", s)
	}
}

func TestTee_ForwardsEveryLineAndCapturesFirstEvent(t *testing.T) {
	t.Parallel()

	src := strings.NewReader(
		"event: message\r\n" +
			"data: {\"jsonrpc\":\"2.0\",\"id\":1,\"result\":\"a\"}\r\n" +
			"\r\n" +
			"event: message\r\n" +
			"data: {\"jsonrpc\":\"2.0\",\"id\":1,\"result\":\"b\"}\r\n" +
			"\r\n",
	)
	var dst bytes.Buffer

	first, err := Tee(&dst, src)
	if err != nil {
		t.Fatalf("Tee() error: %v", err)
	}
	if first == nil {
		t.Fatal("Tee() returned no event, want the first")
	}
	if first.Message["result"] != "a" {
		t.Fatalf("captured event = %+v, want the first one (result: a)", first.Message)
	}
	if !strings.Contains(dst.String(), "event: message") ||
		!strings.Contains(dst.String(), `"result":"a"`) ||
		!strings.Contains(dst.String(), `"result":"b"`) {
		t.Fatalf("downstream did not receive every forwarded line: %q", dst.String())
	}
}

type errWriter struct{}

func (errWriter) Write(p []byte) (int, error) {
	return 0, bytes.ErrTooLarge
}

func TestTee_ReturnsPartialCaptureOnWriteError(t *testing.T) {
	t.Parallel()

	src := strings.NewReader("data: {\"jsonrpc\":\"2.0\"}\n\n")
	_, err := Tee(errWriter{}, src)
	if err == nil {
		t.Fatal("Tee() error = nil, want the downstream write error")
	}
}
