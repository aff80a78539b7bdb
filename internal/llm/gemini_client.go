package llm

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/generative-ai-go/genai"
	"github.com/sashabaranov/go-openai/jsonschema"
	"google.golang.org/api/option"
)

const defaultGeminiModel = "gemini-2.5-flash"

// GeminiConfig configures the Gemini narrative oracle
type GeminiConfig struct {
	APIKey string
	Model  string
}

// GeminiClient implements Completer on top of the Gemini API
type GeminiClient struct {
	cfg GeminiConfig

	mu      sync.Mutex
	clients map[string]*genai.Client
}

// NewGeminiClient creates a Gemini backed completer
func NewGeminiClient(cfg GeminiConfig) *GeminiClient {
	if cfg.Model == "" {
		cfg.Model = defaultGeminiModel
	}
	return &GeminiClient{
		cfg:     cfg,
		clients: make(map[string]*genai.Client),
	}
}

func (g *GeminiClient) clientFor(ctx context.Context, apiKey string) (*genai.Client, error) {
	if apiKey == "" {
		apiKey = g.cfg.APIKey
	}
	if apiKey == "" {
		return nil, ErrNoAPIKey
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if client, ok := g.clients[apiKey]; ok {
		return client, nil
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", Classify(err))
	}
	g.clients[apiKey] = client
	return client, nil
}

// Complete sends the request as a single generation call
func (g *GeminiClient) Complete(ctx context.Context, req *CompletionRequest) (string, error) {
	client, err := g.clientFor(ctx, req.APIKey)
	if err != nil {
		return "", err
	}

	model := client.GenerativeModel(g.cfg.Model)
	if req.System != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(req.System)}}
	}
	if req.Temperature > 0 {
		model.SetTemperature(req.Temperature)
	}
	if req.MaxTokens > 0 {
		model.SetMaxOutputTokens(int32(req.MaxTokens))
	}
	if req.Schema != nil {
		model.ResponseMIMEType = "application/json"
		model.ResponseSchema = GeminiSchema(req.Schema)
	}

	parts := make([]genai.Part, 0, len(req.Messages))
	for _, m := range req.Messages {
		parts = append(parts, genai.Text(m.Content))
	}

	resp, err := model.GenerateContent(ctx, parts...)
	if err != nil {
		return "", fmt.Errorf("failed to generate content: %w", Classify(err))
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("%w: no content returned from Gemini", ErrMalformedOutput)
	}

	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			b.WriteString(string(text))
		}
	}
	if b.Len() == 0 {
		return "", fmt.Errorf("%w: unexpected response type from Gemini", ErrMalformedOutput)
	}
	return StripCodeFence(b.String()), nil
}

// Close releases every cached client
func (g *GeminiClient) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	for key, client := range g.clients {
		client.Close()
		delete(g.clients, key)
	}
	return nil
}

// GeminiSchema converts a JSON schema definition to the Gemini schema type
func GeminiSchema(def *jsonschema.Definition) *genai.Schema {
	if def == nil {
		return nil
	}
	schema := &genai.Schema{
		Description: def.Description,
		Enum:        def.Enum,
		Required:    def.Required,
	}
	switch def.Type {
	case jsonschema.Object:
		schema.Type = genai.TypeObject
	case jsonschema.Array:
		schema.Type = genai.TypeArray
	case jsonschema.Integer:
		schema.Type = genai.TypeInteger
	case jsonschema.Number:
		schema.Type = genai.TypeNumber
	case jsonschema.Boolean:
		schema.Type = genai.TypeBoolean
	default:
		schema.Type = genai.TypeString
	}
	if def.Items != nil {
		schema.Items = GeminiSchema(def.Items)
	}
	if len(def.Properties) > 0 {
		schema.Properties = make(map[string]*genai.Schema, len(def.Properties))
		for name, prop := range def.Properties {
			prop := prop
			schema.Properties[name] = GeminiSchema(&prop)
		}
	}
	return schema
}
