package comfy

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"

	"gpubridge/internal/progress"
	"gpubridge/internal/telemetry"
)

// Result is a finished generation: where the artifact was written and the
// job identifier that produced it.
type Result struct {
	ArtifactPath string
	PromptID     string
}

// Outcome settles a generation job with either a result or a typed error.
type Outcome struct {
	Result *Result
	Err    error
}

// wsEnvelope is the tagged frame ComfyUI sends on the event socket.
type wsEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type progressData struct {
	Value int `json:"value"`
	Max   int `json:"max"`
}

type executingData struct {
	// Node is null exactly when the server has nothing left to run for
	// the given prompt; that null is the completion signal.
	Node     *string `json:"node"`
	PromptID string  `json:"prompt_id"`
}

type executedData struct {
	Node     string `json:"node"`
	PromptID string `json:"prompt_id"`
	Output   *struct {
		Images []imageRef `json:"images"`
	} `json:"output"`
}

type imageRef struct {
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}

// Generate resolves a workflow template against params, submits it, and
// follows the event stream in the background. It returns a bounded
// progress channel and a one-shot outcome channel. Only one job may run
// per client at a time.
func (c *Client) Generate(ctx context.Context, workflowTemplate string, params map[string]string, outputDir string) (<-chan progress.Event, <-chan Outcome, error) {
	c.mu.Lock()
	if c.active {
		c.mu.Unlock()
		return nil, nil, fmt.Errorf("a generation job is already running")
	}
	c.active = true
	c.mu.Unlock()

	release := func() {
		c.mu.Lock()
		c.active = false
		c.mu.Unlock()
	}

	c.interrupted.Store(false)

	workflow, err := ResolveWorkflow(workflowTemplate, params)
	if err != nil {
		release()
		return nil, nil, err
	}

	ctx, span := telemetry.StartSpan(ctx, "comfy.generate")

	promptID, err := c.Submit(ctx, workflow)
	if err != nil {
		span.End()
		release()
		return nil, nil, err
	}
	span.SetAttributes(attribute.String("comfy.prompt_id", promptID))

	events := make(chan progress.Event, 100)
	outcome := make(chan Outcome, 1)

	go func() {
		defer release()
		defer span.End()
		defer close(events)

		res, err := c.follow(ctx, promptID, events, outputDir)
		if err != nil {
			outcome <- Outcome{Err: err}
			return
		}
		outcome <- Outcome{Result: res}
	}()

	return events, outcome, nil
}

// follow owns the WebSocket connection for one job: it decodes the event
// stream into progress events, captures the output filename, and downloads
// the artifact once the server signals completion.
func (c *Client) follow(ctx context.Context, promptID string, events chan<- progress.Event, outputDir string) (*Result, error) {
	base, err := c.base()
	if err != nil {
		return nil, err
	}

	wsURL := websocketURL(base) + "/ws?clientId=" + c.clientID
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to event stream: %w", err)
	}
	defer conn.Close()

	// Unblock ReadMessage when the caller gives up
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	progress.Send(events, progress.Queued())

	var candidate string
	completed := false

	for !completed {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			// Stream died without a completion signal
			if c.interrupted.Load() {
				return nil, ErrInterrupted
			}
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("event stream broke: %w", err)
		}
		if msgType != websocket.TextMessage {
			continue
		}

		var envelope wsEnvelope
		if err := json.Unmarshal(data, &envelope); err != nil {
			// Individual malformed messages are advisory noise, not errors
			continue
		}

		switch envelope.Type {
		case "progress":
			var p progressData
			if err := json.Unmarshal(envelope.Data, &p); err != nil {
				continue
			}
			progress.Send(events, progress.Step(p.Value, p.Max))

		case "executing":
			var e executingData
			if err := json.Unmarshal(envelope.Data, &e); err != nil {
				continue
			}
			if e.Node == nil {
				// Authoritative completion, but only for our job; an idle
				// broadcast for another prompt means nothing here
				if e.PromptID == promptID {
					completed = true
					progress.Send(events, progress.Completed())
				}
				continue
			}
			progress.Send(events, progress.NodeStarted(*e.Node))

		case "executed":
			var e executedData
			if err := json.Unmarshal(envelope.Data, &e); err != nil {
				continue
			}
			if e.Output != nil && len(e.Output.Images) > 0 {
				// The server may emit several outputs; the latest wins
				candidate = e.Output.Images[0].Filename
			}

		default:
			// Other event types (status, execution_cached, ...) are ignored
		}
	}

	if candidate == "" {
		return nil, ErrNoOutput
	}

	path, err := c.download(ctx, candidate, outputDir)
	if err != nil {
		return nil, err
	}

	log.Printf("Generation %s finished, artifact saved to %s", promptID, path)
	return &Result{ArtifactPath: path, PromptID: promptID}, nil
}

// websocketURL converts the tunnel's HTTP endpoint into its WebSocket
// counterpart.
func websocketURL(base string) string {
	if strings.HasPrefix(base, "https://") {
		return "wss://" + strings.TrimPrefix(base, "https://")
	}
	return "ws://" + strings.TrimPrefix(base, "http://")
}
