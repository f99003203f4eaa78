package comfy

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestSubmitReturnsPromptID(t *testing.T) {
	var gotClientID string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/prompt" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var payload struct {
			Prompt   json.RawMessage `json:"prompt"`
			ClientID string          `json:"client_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("failed to decode submit payload: %v", err)
		}
		gotClientID = payload.ClientID
		json.NewEncoder(w).Encode(map[string]string{"prompt_id": "abc-123"})
	}))
	defer server.Close()

	client := NewClient()
	client.SetBaseURL(server.URL)

	promptID, err := client.Submit(context.Background(), json.RawMessage(`{"1":{}}`))
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if promptID != "abc-123" {
		t.Errorf("promptID = %q, want abc-123", promptID)
	}
	if gotClientID != client.ClientID() {
		t.Errorf("submitted client_id = %q, want %q", gotClientID, client.ClientID())
	}
}

func TestSubmitSurfacesServerErrorBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error": "invalid node 3"}`))
	}))
	defer server.Close()

	client := NewClient()
	client.SetBaseURL(server.URL)

	_, err := client.Submit(context.Background(), json.RawMessage(`{}`))
	var submitErr *SubmitError
	if !errors.As(err, &submitErr) {
		t.Fatalf("expected SubmitError, got %v", err)
	}
	if submitErr.Status != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", submitErr.Status)
	}
	if submitErr.Body != `{"error": "invalid node 3"}` {
		t.Errorf("body = %q, want the server response verbatim", submitErr.Body)
	}
}

func TestSubmitMissingPromptIDIsProtocolError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := NewClient()
	client.SetBaseURL(server.URL)

	_, err := client.Submit(context.Background(), json.RawMessage(`{}`))
	var protoErr *ProtocolError
	if !errors.As(err, &protoErr) {
		t.Fatalf("expected ProtocolError, got %v", err)
	}
}

func TestSubmitWithoutBaseURL(t *testing.T) {
	client := NewClient()
	_, err := client.Submit(context.Background(), json.RawMessage(`{}`))
	if !errors.Is(err, ErrBaseURLNotSet) {
		t.Fatalf("expected ErrBaseURLNotSet, got %v", err)
	}
}

func TestCheckpointsExtractsCatalog(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/object_info/CheckpointLoaderSimple" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`{
			"CheckpointLoaderSimple": {
				"input": {
					"required": {
						"ckpt_name": [["sdxl.safetensors", "flux-dev.safetensors"], {}]
					}
				}
			}
		}`))
	}))
	defer server.Close()

	client := NewClient()
	client.SetBaseURL(server.URL)

	names, err := client.Checkpoints(context.Background())
	if err != nil {
		t.Fatalf("Checkpoints failed: %v", err)
	}
	want := []string{"sdxl.safetensors", "flux-dev.safetensors"}
	if !reflect.DeepEqual(names, want) {
		t.Errorf("checkpoints = %v, want %v", names, want)
	}
}

func TestCheckpointsEmptyShapeIsEmptyList(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"CheckpointLoaderSimple": {}}`))
	}))
	defer server.Close()

	client := NewClient()
	client.SetBaseURL(server.URL)

	names, err := client.Checkpoints(context.Background())
	if err != nil {
		t.Fatalf("Checkpoints failed: %v", err)
	}
	if len(names) != 0 {
		t.Errorf("checkpoints = %v, want empty list for missing catalog shape", names)
	}
}

func TestConnected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/system_stats" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte(`{"system": {}}`))
	}))
	defer server.Close()

	client := NewClient()
	if client.Connected(context.Background()) {
		t.Error("Connected should be false before a base URL is set")
	}

	client.SetBaseURL(server.URL)
	if !client.Connected(context.Background()) {
		t.Error("Connected should be true when the stats endpoint answers")
	}

	server.Close()
	if client.Connected(context.Background()) {
		t.Error("Connected should be false once the server is gone")
	}
}

func TestUploadImage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("failed to parse multipart form: %v", err)
		}
		if r.FormValue("overwrite") != "true" {
			t.Errorf("overwrite = %q, want true", r.FormValue("overwrite"))
		}
		_, header, err := r.FormFile("image")
		if err != nil {
			t.Errorf("missing image part: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]string{"name": header.Filename})
	}))
	defer server.Close()

	dir := t.TempDir()
	imagePath := filepath.Join(dir, "reference.png")
	if err := os.WriteFile(imagePath, []byte("fake png bytes"), 0644); err != nil {
		t.Fatal(err)
	}

	client := NewClient()
	client.SetBaseURL(server.URL)

	name, err := client.UploadImage(context.Background(), imagePath)
	if err != nil {
		t.Fatalf("UploadImage failed: %v", err)
	}
	if name != "reference.png" {
		t.Errorf("uploaded name = %q, want reference.png", name)
	}
}

func TestDownloadWritesArtifact(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/view" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("filename") != "out_0001.png" {
			t.Errorf("filename = %q, want out_0001.png", r.URL.Query().Get("filename"))
		}
		w.Write([]byte("image bytes"))
	}))
	defer server.Close()

	client := NewClient()
	client.SetBaseURL(server.URL)

	outputDir := filepath.Join(t.TempDir(), "wallpapers")
	path, err := client.download(context.Background(), "out_0001.png", outputDir)
	if err != nil {
		t.Fatalf("download failed: %v", err)
	}
	if filepath.Base(path) != "out_0001.png" {
		t.Errorf("artifact path = %q, want basename out_0001.png", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("artifact not written: %v", err)
	}
	if string(data) != "image bytes" {
		t.Errorf("artifact content = %q, want the served bytes", data)
	}
}
