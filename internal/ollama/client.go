// Package ollama is a client for an Ollama server reached through an SSH
// tunnel. It covers the catalog, text and vision generation, and
// streaming model downloads.
package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"gpubridge/internal/progress"
)

// ErrBaseURLNotSet means no tunnel endpoint has been attached yet.
var ErrBaseURLNotSet = errors.New("Ollama base URL not set - tunnel not established")

// generateTimeout bounds synchronous generation calls. Pulls stream and
// manage their own lifetime through the request context instead.
const generateTimeout = 5 * time.Minute

// probeTimeout bounds connectivity checks.
const probeTimeout = 10 * time.Second

// rateWindow is how much history the download speed estimate averages
// over.
const rateWindow = 5 * time.Second

// Client talks to one Ollama instance.
type Client struct {
	httpClient *http.Client

	mu      sync.Mutex
	baseURL string
}

// NewClient creates a client with no endpoint attached.
func NewClient() *Client {
	return &Client{
		httpClient: &http.Client{Timeout: generateTimeout},
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

// Connected probes the catalog endpoint through the tunnel.
func (c *Client) Connected(ctx context.Context) bool {
	base, err := c.base()
	if err != nil {
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/api/tags", nil)
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

// Models lists the models installed on the server.
func (c *Client) Models(ctx context.Context) ([]Model, error) {
	base, err := c.base()
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/api/tags", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to list models: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("model list returned HTTP %d", resp.StatusCode)
	}

	var tagsResp struct {
		Models []Model `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tagsResp); err != nil {
		return nil, fmt.Errorf("failed to parse model list: %w", err)
	}
	return tagsResp.Models, nil
}

// VisionModels lists only the installed models that accept image inputs.
func (c *Client) VisionModels(ctx context.Context) ([]Model, error) {
	models, err := c.Models(ctx)
	if err != nil {
		return nil, err
	}
	vision := make([]Model, 0, len(models))
	for _, m := range models {
		if m.IsVision() {
			vision = append(vision, m)
		}
	}
	return vision, nil
}

type generateRequest struct {
	Model  string   `json:"model"`
	Prompt string   `json:"prompt"`
	Stream bool     `json:"stream"`
	Images []string `json:"images,omitempty"`
}

type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// Generate runs a prompt against a model and returns the full response.
func (c *Client) Generate(ctx context.Context, model, prompt string) (string, error) {
	return c.generate(ctx, generateRequest{Model: model, Prompt: prompt, Stream: false})
}

// AnalyzeImage runs a prompt plus a local image against a vision model.
// The image is inlined base64, which is how the API expects it.
func (c *Client) AnalyzeImage(ctx context.Context, model, prompt, imagePath string) (string, error) {
	data, err := os.ReadFile(imagePath)
	if err != nil {
		return "", fmt.Errorf("failed to read image %s: %w", imagePath, err)
	}
	return c.generate(ctx, generateRequest{
		Model:  model,
		Prompt: prompt,
		Stream: false,
		Images: []string{base64.StdEncoding.EncodeToString(data)},
	})
}

func (c *Client) generate(ctx context.Context, genReq generateRequest) (string, error) {
	base, err := c.base()
	if err != nil {
		return "", err
	}

	body, err := json.Marshal(genReq)
	if err != nil {
		return "", fmt.Errorf("failed to encode generate request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to run generation: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errText, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("generation returned HTTP %d: %s", resp.StatusCode, string(errText))
	}

	var genResp generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&genResp); err != nil {
		return "", fmt.Errorf("failed to parse generation response: %w", err)
	}
	return genResp.Response, nil
}

// Pull downloads a model on the server, streaming progress updates as the
// server reports layer transfers. The returned error channel settles the
// operation with nil on success.
func (c *Client) Pull(ctx context.Context, name string) (<-chan PullProgress, <-chan error) {
	updates := make(chan PullProgress, 100)
	result := make(chan error, 1)

	go func() {
		defer close(updates)
		result <- c.pull(ctx, name, updates)
	}()

	return updates, result
}

func (c *Client) pull(ctx context.Context, name string, updates chan<- PullProgress) error {
	base, err := c.base()
	if err != nil {
		return err
	}

	body, err := json.Marshal(map[string]string{"name": name})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/api/pull", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	// Pulls can run far past the synchronous timeout; a bare client
	// bounded only by the context handles them.
	resp, err := (&http.Client{}).Do(req)
	if err != nil {
		return fmt.Errorf("failed to start pull of %s: %w", name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errText, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("pull of %s returned HTTP %d: %s", name, resp.StatusCode, string(errText))
	}

	rate := progress.NewRate(rateWindow)
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		var line struct {
			Status    string `json:"status"`
			Completed int64  `json:"completed"`
			Total     int64  `json:"total"`
			Error     string `json:"error"`
		}
		if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
			continue
		}
		if line.Error != "" {
			return fmt.Errorf("pull of %s failed: %s", name, line.Error)
		}

		if line.Completed > 0 {
			rate.Observe(uint64(line.Completed))
		}
		update := PullProgress{
			Status:         line.Status,
			Completed:      line.Completed,
			Total:          line.Total,
			BytesPerSecond: rate.BytesPerSecond(),
		}
		select {
		case updates <- update:
		default:
			// A slow consumer loses intermediate updates, never the result
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("pull stream for %s broke: %w", name, err)
	}
	return nil
}

// Delete removes a model from the server.
func (c *Client) Delete(ctx context.Context, name string) error {
	base, err := c.base()
	if err != nil {
		return err
	}

	body, err := json.Marshal(map[string]string{"name": name})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, base+"/api/delete", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to delete model %s: %w", name, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("delete of %s returned HTTP %d", name, resp.StatusCode)
	}
	return nil
}

// ShowResponse is the server's detailed description of one model.
type ShowResponse struct {
	Modelfile  string       `json:"modelfile"`
	Parameters string       `json:"parameters"`
	Template   string       `json:"template"`
	Details    ModelDetails `json:"details"`
}

// Show returns the server's detailed metadata for a model.
func (c *Client) Show(ctx context.Context, name string) (*ShowResponse, error) {
	base, err := c.base()
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(map[string]string{"name": name})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/api/show", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to show model %s: %w", name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("show of %s returned HTTP %d", name, resp.StatusCode)
	}

	var showResp ShowResponse
	if err := json.NewDecoder(resp.Body).Decode(&showResp); err != nil {
		return nil, fmt.Errorf("failed to parse show response: %w", err)
	}
	return &showResp, nil
}
