package scenario

import (
	"context"
	"fmt"
	"net/http/httptest"

	"github.com/mcpcassette/mcpcassette/internal/adapter/inbound/recorder"
	"github.com/mcpcassette/mcpcassette/internal/domain/cassette"
	"github.com/mcpcassette/mcpcassette/internal/domain/scrubber"
)

// Run executes one named scenario end to end: it starts an in-process
// recording proxy in front of target, drives a Client through every
// action, and returns the resulting cassette with the file's redact
// config already applied.
func Run(ctx context.Context, target string, sc Scenario, redact RedactConfig) (*cassette.Cassette, error) {
	c := cassette.New(target)
	rec := recorder.New(target, c)

	proxy := httptest.NewServer(rec)
	defer proxy.Close()

	client := NewClient(proxy.URL)
	if _, err := client.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("scenario: initialize: %w", err)
	}

	for _, raw := range sc.Actions {
		act, err := normalizeAction(raw)
		if err != nil {
			return nil, err
		}
		if err := execute(ctx, client, act); err != nil {
			return nil, fmt.Errorf("scenario: action %q: %w", act.Name, err)
		}
	}

	return scrubber.Scrub(c, scrubber.Options{
		RedactServerURL: redact.ServerURL,
		RedactEnv:       redact.Env,
		RedactPatterns:  redact.Patterns,
	})
}

func execute(ctx context.Context, client *Client, act action) error {
	switch act.Name {
	case "list_tools":
		_, err := client.ListTools(ctx)
		return err
	case "list_prompts":
		_, err := client.ListPrompts(ctx)
		return err
	case "list_resources":
		_, err := client.ListResources(ctx)
		return err
	case "call_tool":
		name, _ := act.Params["name"].(string)
		args, _ := act.Params["arguments"].(map[string]any)
		_, err := client.CallTool(ctx, name, args)
		return err
	case "get_prompt":
		name, _ := act.Params["name"].(string)
		args, _ := act.Params["arguments"].(map[string]any)
		_, err := client.GetPrompt(ctx, name, args)
		return err
	case "read_resource":
		uri, _ := act.Params["uri"].(string)
		_, err := client.ReadResource(ctx, uri)
		return err
	default:
		return fmt.Errorf("unknown action %q", act.Name)
	}
}
