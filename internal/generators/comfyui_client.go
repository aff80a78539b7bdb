package generators

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"AI-Adventure/server/internal/config"
	"AI-Adventure/server/internal/llm"
)

const maxImageBytes = 20 << 20

// ComfyUIClient renders images on a ComfyUI instance
type ComfyUIClient struct {
	httpClient   *http.Client
	baseURL      string
	pollInterval time.Duration
	opts         GenerateOptions
	workflow     string
}

// Workflow is a ComfyUI API-format graph keyed by node id
type Workflow map[string]*WorkflowNode

// WorkflowNode represents a node in the workflow
type WorkflowNode struct {
	ClassType string                 `json:"class_type"`
	Inputs    map[string]interface{} `json:"inputs"`
}

// PromptRequest is the body of POST /prompt
type PromptRequest struct {
	Prompt   json.RawMessage `json:"prompt"`
	ClientID string          `json:"client_id"`
}

// HistoryItem is one finished prompt in GET /history/{id}
type HistoryItem struct {
	Outputs map[string]struct {
		Images []ImageInfo `json:"images"`
	} `json:"outputs"`
	Status struct {
		StatusStr string `json:"status_str"`
		Completed bool   `json:"completed"`
	} `json:"status"`
}

// ImageInfo represents an image in history
type ImageInfo struct {
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}

// GenerateOptions holds the sampler settings for one render
type GenerateOptions struct {
	Prompt         string
	NegativePrompt string
	Width          int
	Height         int
	Steps          int
	CFGScale       float64
	Seed           int64
	Model          string
	Lora           string
	LoraStrength   float64
	SamplerName    string
	Scheduler      string
}

// NewComfyUIClient creates a client from the comfyui config block. When a
// workflow file is configured it replaces the built-in SDXL graph; the file may
// use {{prompt}}, {{negative}}, {{seed}}, {{width}} and {{height}} placeholders.
func NewComfyUIClient(cfg config.ComfyUIConfig) (*ComfyUIClient, error) {
	c := &ComfyUIClient{
		httpClient:   &http.Client{Timeout: cfg.Timeout},
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		pollInterval: cfg.PollInterval,
		opts: GenerateOptions{
			NegativePrompt: cfg.NegativePrompt,
			Steps:          cfg.Steps,
			CFGScale:       cfg.CFGScale,
			Model:          cfg.Checkpoint,
			Lora:           cfg.Lora,
			LoraStrength:   cfg.LoraStrength,
			SamplerName:    "euler_ancestral",
			Scheduler:      "normal",
		},
	}
	if c.pollInterval <= 0 {
		c.pollInterval = time.Second
	}

	if cfg.WorkflowFile != "" {
		data, err := os.ReadFile(cfg.WorkflowFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read workflow file: %w", err)
		}
		c.workflow = string(data)
		if _, err := c.buildWorkflow(&GenerateOptions{Prompt: "check", Width: 1, Height: 1}); err != nil {
			return nil, fmt.Errorf("workflow file %s is not valid JSON: %w", cfg.WorkflowFile, err)
		}
	}
	return c, nil
}

func (c *ComfyUIClient) Name() string {
	return "comfyui"
}

// Render queues the prompt, waits for it to finish and downloads the first image
func (c *ComfyUIClient) Render(ctx context.Context, req *RenderRequest) (*llm.ImageResult, error) {
	if req.Prompt == "" {
		return nil, ErrEmptyPrompt
	}
	opts := c.opts
	opts.Prompt = req.Prompt
	opts.Seed = rand.Int63n(1 << 50)
	opts.Width, opts.Height = 1024, 576
	if req.Kind == KindAvatar {
		opts.Width, opts.Height = 512, 512
	}

	data, err := c.GenerateImage(ctx, &opts)
	if err != nil {
		return nil, err
	}
	return &llm.ImageResult{Data: data}, nil
}

// GenerateImage runs one workflow to completion and returns the image bytes
func (c *ComfyUIClient) GenerateImage(ctx context.Context, opts *GenerateOptions) ([]byte, error) {
	graph, err := c.buildWorkflow(opts)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	promptID, err := c.queuePrompt(ctx, &PromptRequest{Prompt: graph, ClientID: uuid.NewString()})
	if err != nil {
		return nil, fmt.Errorf("failed to queue prompt: %w", err)
	}

	image, err := c.pollForResult(ctx, promptID)
	if err != nil {
		return nil, fmt.Errorf("failed to get result: %w", err)
	}

	data, err := c.GetImage(ctx, image)
	if err != nil {
		return nil, fmt.Errorf("failed to get image: %w", err)
	}
	log.Printf("[ComfyUI] prompt %s finished in %s (%d bytes)", promptID, time.Since(start).Round(time.Millisecond), len(data))
	return data, nil
}

// GetImage downloads an output image through /view
func (c *ComfyUIClient) GetImage(ctx context.Context, image ImageInfo) ([]byte, error) {
	query := url.Values{}
	query.Set("filename", image.Filename)
	query.Set("subfolder", image.Subfolder)
	query.Set("type", image.Type)

	resp, err := c.get(ctx, "/view?"+query.Encode())
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	return io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
}

// HealthCheck checks if ComfyUI is accessible
func (c *ComfyUIClient) HealthCheck(ctx context.Context) error {
	resp, err := c.get(ctx, "/queue")
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

func (c *ComfyUIClient) queuePrompt(ctx context.Context, req *PromptRequest) (string, error) {
	reqBody, err := json.Marshal(req)
	if err != nil {
		return "", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/prompt", bytes.NewReader(reqBody))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ComfyUI returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(bodyBytes)))
	}

	var result struct {
		PromptID string `json:"prompt_id"`
	}
	if err := json.Unmarshal(bodyBytes, &result); err != nil {
		return "", err
	}
	if result.PromptID == "" {
		return "", fmt.Errorf("invalid response: missing prompt_id")
	}
	return result.PromptID, nil
}

// pollForResult waits until the history entry for promptID carries an image
func (c *ComfyUIClient) pollForResult(ctx context.Context, promptID string) (ImageInfo, error) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ImageInfo{}, ctx.Err()
		case <-ticker.C:
		}

		item, ok, err := c.history(ctx, promptID)
		if err != nil {
			log.Printf("[ComfyUI] history for %s: %v", promptID, err)
			continue
		}
		if !ok {
			continue
		}
		if item.Status.StatusStr == "error" {
			return ImageInfo{}, fmt.Errorf("prompt %s failed on the server", promptID)
		}
		for _, output := range item.Outputs {
			if len(output.Images) > 0 {
				return output.Images[0], nil
			}
		}
		if item.Status.Completed {
			return ImageInfo{}, fmt.Errorf("prompt %s finished without images", promptID)
		}
	}
}

func (c *ComfyUIClient) history(ctx context.Context, promptID string) (*HistoryItem, bool, error) {
	resp, err := c.get(ctx, "/history/"+url.PathEscape(promptID))
	if err != nil {
		return nil, false, err
	}
	defer resp.Body.Close()

	var history map[string]*HistoryItem
	if err := json.NewDecoder(resp.Body).Decode(&history); err != nil {
		return nil, false, err
	}
	item, ok := history[promptID]
	return item, ok && item != nil, nil
}

func (c *ComfyUIClient) get(ctx context.Context, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("ComfyUI returned status %d", resp.StatusCode)
	}
	return resp, nil
}

func (c *ComfyUIClient) buildWorkflow(opts *GenerateOptions) (json.RawMessage, error) {
	if c.workflow != "" {
		r := strings.NewReplacer(
			"{{prompt}}", jsonEscape(opts.Prompt),
			"{{negative}}", jsonEscape(opts.NegativePrompt),
			"{{seed}}", strconv.FormatInt(opts.Seed, 10),
			"{{width}}", strconv.Itoa(opts.Width),
			"{{height}}", strconv.Itoa(opts.Height),
		)
		graph := r.Replace(c.workflow)
		if !json.Valid([]byte(graph)) {
			return nil, fmt.Errorf("workflow is not valid JSON after substitution")
		}
		return json.RawMessage(graph), nil
	}

	data, err := json.Marshal(buildSDXLWorkflow(opts))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal workflow: %w", err)
	}
	return data, nil
}

// buildSDXLWorkflow builds a checkpoint + optional LoRA text-to-image graph
func buildSDXLWorkflow(opts *GenerateOptions) Workflow {
	workflow := Workflow{
		"4": {
			ClassType: "CheckpointLoaderSimple",
			Inputs:    map[string]interface{}{"ckpt_name": opts.Model},
		},
		"3": {
			ClassType: "KSampler",
			Inputs: map[string]interface{}{
				"seed":         opts.Seed,
				"steps":        opts.Steps,
				"cfg":          opts.CFGScale,
				"sampler_name": opts.SamplerName,
				"scheduler":    opts.Scheduler,
				"denoise":      1,
				"model":        []interface{}{"4", 0},
				"positive":     []interface{}{"6", 0},
				"negative":     []interface{}{"7", 0},
				"latent_image": []interface{}{"5", 0},
			},
		},
		"5": {
			ClassType: "EmptyLatentImage",
			Inputs: map[string]interface{}{
				"width":      opts.Width,
				"height":     opts.Height,
				"batch_size": 1,
			},
		},
		"6": {
			ClassType: "CLIPTextEncode",
			Inputs:    map[string]interface{}{"text": opts.Prompt, "clip": []interface{}{"4", 1}},
		},
		"7": {
			ClassType: "CLIPTextEncode",
			Inputs:    map[string]interface{}{"text": opts.NegativePrompt, "clip": []interface{}{"4", 1}},
		},
		"8": {
			ClassType: "VAEDecode",
			Inputs:    map[string]interface{}{"samples": []interface{}{"3", 0}, "vae": []interface{}{"4", 2}},
		},
		"9": {
			ClassType: "SaveImage",
			Inputs:    map[string]interface{}{"images": []interface{}{"8", 0}, "filename_prefix": "adventure"},
		},
	}

	if opts.Lora != "" {
		workflow["10"] = &WorkflowNode{
			ClassType: "LoraLoader",
			Inputs: map[string]interface{}{
				"lora_name":      opts.Lora,
				"strength_model": opts.LoraStrength,
				"strength_clip":  opts.LoraStrength,
				"model":          []interface{}{"4", 0},
				"clip":           []interface{}{"4", 1},
			},
		}
		workflow["3"].Inputs["model"] = []interface{}{"10", 0}
		workflow["6"].Inputs["clip"] = []interface{}{"10", 1}
		workflow["7"].Inputs["clip"] = []interface{}{"10", 1}
	}
	return workflow
}

func jsonEscape(s string) string {
	data, _ := json.Marshal(s)
	return string(data[1 : len(data)-1])
}
