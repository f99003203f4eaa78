// Package comfy is a client for a remote ComfyUI server reached through an
// SSH tunnel. It submits templated workflows and follows the WebSocket
// event stream until an artifact is produced.
package comfy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// generateTimeout bounds the whole HTTP client. Image synthesis is slow,
// so this is minutes rather than seconds.
const generateTimeout = 10 * time.Minute

// probeTimeout bounds connectivity checks, which should answer fast or
// not at all.
const probeTimeout = 10 * time.Second

// Client talks to one ComfyUI instance. A single job may be active at a
// time; the client identifier scopes the WebSocket subscription to jobs
// this client submitted.
type Client struct {
	httpClient *http.Client
	clientID   string

	mu      sync.Mutex
	baseURL string
	active  bool

	interrupted atomic.Bool
}

// NewClient creates a client with a fresh correlation identifier.
func NewClient() *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: generateTimeout,
		},
		clientID: uuid.New().String(),
	}
}

// SetBaseURL points the client at a tunnel's local endpoint.
func (c *Client) SetBaseURL(url string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.baseURL = url
}

func (c *Client) base() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.baseURL == "" {
		return "", ErrBaseURLNotSet
	}
	return c.baseURL, nil
}

// ClientID returns the correlation identifier used for the WebSocket
// subscription.
func (c *Client) ClientID() string {
	return c.clientID
}

// Connected probes the server's stats endpoint through the tunnel.
func (c *Client) Connected(ctx context.Context) bool {
	base, err := c.base()
	if err != nil {
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/system_stats", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return resp.StatusCode == http.StatusOK
}

// UploadImage uploads a reference image and returns the server-side name
// to use in workflows.
func (c *Client) UploadImage(ctx context.Context, imagePath string) (string, error) {
	base, err := c.base()
	if err != nil {
		return "", err
	}

	fileBytes, err := os.ReadFile(imagePath)
	if err != nil {
		return "", fmt.Errorf("failed to read image %s: %w", imagePath, err)
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("image", filepath.Base(imagePath))
	if err != nil {
		return "", fmt.Errorf("failed to build upload form: %w", err)
	}
	if _, err := part.Write(fileBytes); err != nil {
		return "", fmt.Errorf("failed to build upload form: %w", err)
	}
	if err := writer.WriteField("overwrite", "true"); err != nil {
		return "", fmt.Errorf("failed to build upload form: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("failed to build upload form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/upload/image", &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to upload image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errText, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("upload failed: %s", string(errText))
	}

	var uploadResp struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&uploadResp); err != nil {
		return "", fmt.Errorf("failed to parse upload response: %w", err)
	}
	return uploadResp.Name, nil
}

// Submit queues a resolved workflow and returns the server-issued job
// identifier. A non-success response surfaces the server's error body
// verbatim.
func (c *Client) Submit(ctx context.Context, workflow json.RawMessage) (string, error) {
	base, err := c.base()
	if err != nil {
		return "", err
	}

	payload := struct {
		Prompt   json.RawMessage `json:"prompt"`
		ClientID string          `json:"client_id"`
	}{
		Prompt:   workflow,
		ClientID: c.clientID,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to encode prompt payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/prompt", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to queue prompt: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errText, _ := io.ReadAll(resp.Body)
		return "", &SubmitError{Status: resp.StatusCode, Body: string(errText)}
	}

	var promptResp struct {
		PromptID string `json:"prompt_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&promptResp); err != nil {
		return "", fmt.Errorf("failed to parse prompt response: %w", err)
	}
	if promptResp.PromptID == "" {
		return "", &ProtocolError{Reason: "prompt response carried no prompt_id"}
	}
	return promptResp.PromptID, nil
}

// Interrupt asks the server to abort the running job. The request is
// advisory: it neither closes the event stream nor resolves the pending
// job; the stream terminating afterwards is what settles it.
func (c *Client) Interrupt(ctx context.Context) error {
	base, err := c.base()
	if err != nil {
		return err
	}
	c.interrupted.Store(true)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/interrupt", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to interrupt: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return nil
}

// ClearQueue removes all pending jobs from the server's queue.
func (c *Client) ClearQueue(ctx context.Context) error {
	base, err := c.base()
	if err != nil {
		return err
	}

	body := bytes.NewReader([]byte(`{"clear":true}`))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/queue", body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to clear queue: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return nil
}

// Checkpoints lists the checkpoint models the server can load.
func (c *Client) Checkpoints(ctx context.Context) ([]string, error) {
	return c.objectInfoNames(ctx, "CheckpointLoaderSimple", "ckpt_name")
}

// Loras lists the LoRA models the server can load.
func (c *Client) Loras(ctx context.Context) ([]string, error) {
	return c.objectInfoNames(ctx, "LoraLoader", "lora_name")
}

// objectInfoNames queries capability introspection for a node type and
// extracts the list of valid names for one required input. An absent or
// unexpected shape yields an empty list; an empty catalog is a valid state.
func (c *Client) objectInfoNames(ctx context.Context, nodeType, field string) ([]string, error) {
	base, err := c.base()
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/object_info/"+nodeType, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to get object info for %s: %w", nodeType, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("object info for %s returned HTTP %d", nodeType, resp.StatusCode)
	}

	var info map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("failed to parse object info: %w", err)
	}

	// Shape: {<NodeType>: {input: {required: {<field>: [[names...], ...]}}}}
	node, _ := info[nodeType].(map[string]interface{})
	input, _ := node["input"].(map[string]interface{})
	required, _ := input["required"].(map[string]interface{})
	spec, _ := required[field].([]interface{})
	if len(spec) == 0 {
		return []string{}, nil
	}
	values, _ := spec[0].([]interface{})

	names := make([]string, 0, len(values))
	for _, v := range values {
		if s, ok := v.(string); ok {
			names = append(names, s)
		}
	}
	return names, nil
}

// download fetches a finished artifact and writes it under the server's
// filename in outputDir, returning the local path.
func (c *Client) download(ctx context.Context, filename, outputDir string) (string, error) {
	base, err := c.base()
	if err != nil {
		return "", err
	}

	viewURL := fmt.Sprintf("%s/view?filename=%s&type=output", base, url.QueryEscape(filename))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, viewURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to download %s: %w", filename, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("artifact download returned HTTP %d", resp.StatusCode)
	}

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	outputPath := filepath.Join(outputDir, filepath.Base(filename))
	out, err := os.Create(outputPath)
	if err != nil {
		return "", fmt.Errorf("failed to create %s: %w", outputPath, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, resp.Body); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", outputPath, err)
	}
	return outputPath, nil
}
