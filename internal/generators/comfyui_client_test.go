package generators

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"AI-Adventure/server/internal/config"
)

type fakeComfyUI struct {
	mu       sync.Mutex
	polls    int
	workflow map[string]any
}

func (f *fakeComfyUI) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/prompt":
			var body struct {
				Prompt   map[string]any `json:"prompt"`
				ClientID string         `json:"client_id"`
			}
			raw, _ := io.ReadAll(r.Body)
			if err := json.Unmarshal(raw, &body); err != nil {
				t.Errorf("bad prompt body: %v", err)
			}
			if body.ClientID == "" {
				t.Error("missing client_id")
			}
			f.mu.Lock()
			f.workflow = body.Prompt
			f.mu.Unlock()
			_, _ = io.WriteString(w, `{"prompt_id":"p-1","number":1,"node_errors":{}}`)
		case r.URL.Path == "/history/p-1":
			f.mu.Lock()
			f.polls++
			polls := f.polls
			f.mu.Unlock()
			if polls < 2 {
				_, _ = io.WriteString(w, `{}`)
				return
			}
			_, _ = io.WriteString(w, `{"p-1":{"outputs":{"9":{"images":[{"filename":"adventure_0001.png","subfolder":"","type":"output"}]}},"status":{"status_str":"success","completed":true}}}`)
		case r.URL.Path == "/view":
			if r.URL.Query().Get("filename") != "adventure_0001.png" {
				t.Errorf("view filename = %q", r.URL.Query().Get("filename"))
			}
			_, _ = w.Write(pngHeader)
		case r.URL.Path == "/queue":
			_, _ = io.WriteString(w, `{"queue_running":[],"queue_pending":[]}`)
		default:
			http.NotFound(w, r)
		}
	}
}

func newComfyTest(t *testing.T, cfg config.ComfyUIConfig) (*ComfyUIClient, *fakeComfyUI) {
	t.Helper()
	fake := &fakeComfyUI{}
	server := httptest.NewServer(fake.handler(t))
	t.Cleanup(server.Close)

	cfg.BaseURL = server.URL
	cfg.Timeout = 5 * time.Second
	cfg.PollInterval = 5 * time.Millisecond
	client, err := NewComfyUIClient(cfg)
	if err != nil {
		t.Fatalf("NewComfyUIClient: %v", err)
	}
	return client, fake
}

func TestComfyUIRender(t *testing.T) {
	client, fake := newComfyTest(t, config.ComfyUIConfig{Checkpoint: "model.safetensors", Steps: 4, CFGScale: 2, Lora: "ink.safetensors", LoraStrength: 0.5})

	res, err := client.Render(context.Background(), &RenderRequest{Prompt: "a quiet harbor", Kind: KindAvatar})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if string(res.Data) != string(pngHeader) {
		t.Errorf("data = %q", res.Data)
	}

	fake.mu.Lock()
	defer fake.mu.Unlock()
	positive := fake.workflow["6"].(map[string]any)["inputs"].(map[string]any)
	if positive["text"] != "a quiet harbor" {
		t.Errorf("positive prompt = %v", positive["text"])
	}
	latent := fake.workflow["5"].(map[string]any)["inputs"].(map[string]any)
	if latent["width"].(float64) != 512 || latent["height"].(float64) != 512 {
		t.Errorf("avatar latent = %v", latent)
	}
	if _, ok := fake.workflow["10"]; !ok {
		t.Error("lora node missing")
	}
	sampler := fake.workflow["3"].(map[string]any)["inputs"].(map[string]any)
	if model := sampler["model"].([]any); model[0] != "10" {
		t.Errorf("sampler model input = %v, want lora output", model)
	}
}

func TestComfyUIWorkflowFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "workflow.json")
	graph := `{"1":{"class_type":"CLIPTextEncode","inputs":{"text":"{{prompt}}","seed":{{seed}},"w":{{width}}}}}`
	if err := os.WriteFile(path, []byte(graph), 0644); err != nil {
		t.Fatal(err)
	}
	client, fake := newComfyTest(t, config.ComfyUIConfig{WorkflowFile: path})

	if _, err := client.Render(context.Background(), &RenderRequest{Prompt: `say "hi"`, Kind: KindScene}); err != nil {
		t.Fatalf("Render: %v", err)
	}

	fake.mu.Lock()
	defer fake.mu.Unlock()
	inputs := fake.workflow["1"].(map[string]any)["inputs"].(map[string]any)
	if inputs["text"] != `say "hi"` {
		t.Errorf("text = %v", inputs["text"])
	}
	if inputs["w"].(float64) != 1024 {
		t.Errorf("width = %v", inputs["w"])
	}
}

func TestComfyUIRejectsInvalidWorkflowFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.json")
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewComfyUIClient(config.ComfyUIConfig{WorkflowFile: path}); err == nil || !strings.Contains(err.Error(), "not valid JSON") {
		t.Fatalf("err = %v", err)
	}
}

func TestComfyUIHealthCheck(t *testing.T) {
	client, _ := newComfyTest(t, config.ComfyUIConfig{})
	if err := client.HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck: %v", err)
	}
}
