package llm

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/sashabaranov/go-openai"
)

const (
	defaultBaseURL    = "https://api.openai.com/v1"
	defaultChatModel  = openai.GPT4oMini
	defaultImageModel = openai.CreateImageModelDallE2
	defaultTimeout    = 120 * time.Second
)

// OpenAIConfig configures an OpenAI-compatible endpoint
type OpenAIConfig struct {
	BaseURL    string
	APIKey     string // used when a request carries no key of its own
	ChatModel  string
	ImageModel string
	Timeout    time.Duration
}

// OpenAIClient talks to any OpenAI-compatible API. One underlying client is
// kept per API key since players bring their own keys.
type OpenAIClient struct {
	cfg        OpenAIConfig
	httpClient *http.Client

	mu      sync.Mutex
	clients map[string]*openai.Client
}

// NewOpenAIClient creates a client, filling unset fields with defaults
func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.ChatModel == "" {
		cfg.ChatModel = defaultChatModel
	}
	if cfg.ImageModel == "" {
		cfg.ImageModel = defaultImageModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	return &OpenAIClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		clients:    make(map[string]*openai.Client),
	}
}

func (c *OpenAIClient) clientFor(apiKey string) (*openai.Client, error) {
	if apiKey == "" {
		apiKey = c.cfg.APIKey
	}
	if apiKey == "" {
		return nil, ErrNoAPIKey
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if client, ok := c.clients[apiKey]; ok {
		return client, nil
	}
	config := openai.DefaultConfig(apiKey)
	config.BaseURL = c.cfg.BaseURL
	config.HTTPClient = c.httpClient
	client := openai.NewClientWithConfig(config)
	c.clients[apiKey] = client
	return client, nil
}

// Complete sends a chat completion request and returns the first choice
func (c *OpenAIClient) Complete(ctx context.Context, req *CompletionRequest) (string, error) {
	client, err := c.clientFor(req.APIKey)
	if err != nil {
		return "", err
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	for _, m := range req.Messages {
		role := openai.ChatMessageRoleUser
		if m.Role == RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}

	chatReq := openai.ChatCompletionRequest{
		Model:       c.cfg.ChatModel,
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	if req.Schema != nil {
		name := req.SchemaName
		if name == "" {
			name = "response"
		}
		chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   name,
				Schema: req.Schema,
				Strict: false,
			},
		}
	}

	resp, err := client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return "", fmt.Errorf("failed to create chat completion: %w", Classify(err))
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices returned", ErrMalformedOutput)
	}

	content := resp.Choices[0].Message.Content
	if req.Schema != nil {
		content = StripCodeFence(content)
	}
	return content, nil
}

// CreateImage generates one image and returns its URL or decoded bytes
func (c *OpenAIClient) CreateImage(ctx context.Context, apiKey, prompt string, size ImageSize) (*ImageResult, error) {
	client, err := c.clientFor(apiKey)
	if err != nil {
		return nil, err
	}

	resp, err := client.CreateImage(ctx, openai.ImageRequest{
		Prompt:         prompt,
		Model:          c.cfg.ImageModel,
		N:              1,
		Size:           string(size),
		ResponseFormat: openai.CreateImageResponseFormatURL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create image: %w", Classify(err))
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("%w: no image returned", ErrMalformedOutput)
	}

	data := resp.Data[0]
	if data.URL != "" {
		return &ImageResult{URL: data.URL}, nil
	}
	if data.B64JSON != "" {
		raw, err := base64.StdEncoding.DecodeString(data.B64JSON)
		if err != nil {
			return nil, fmt.Errorf("failed to decode image: %w", err)
		}
		return &ImageResult{Data: raw}, nil
	}
	return nil, fmt.Errorf("%w: image without url or data", ErrMalformedOutput)
}
