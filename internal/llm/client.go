package llm

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"
	"github.com/sashabaranov/go-openai/jsonschema"
	"google.golang.org/api/googleapi"
)

var (
	// ErrCredential means the provider rejected the API key; retrying cannot help
	ErrCredential = errors.New("credential rejected by provider")
	// ErrMalformedOutput means the provider answered but the content is unusable
	ErrMalformedOutput = errors.New("malformed model output")
	// ErrNoAPIKey means neither the request nor the client carried a key
	ErrNoAPIKey = errors.New("no api key configured")
)

// ChatMessage is one user or assistant turn sent to the model
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// CompletionRequest is a single model call. When Schema is set the provider
// is asked for JSON conforming to it and the raw JSON text is returned.
type CompletionRequest struct {
	APIKey      string
	System      string
	Messages    []ChatMessage
	Schema      *jsonschema.Definition
	SchemaName  string
	Temperature float32
	MaxTokens   int
}

// Completer is the narrative oracle capability
type Completer interface {
	Complete(ctx context.Context, req *CompletionRequest) (string, error)
}

// ImageSize is a square edge in pixels accepted by the image endpoint
type ImageSize string

const (
	ImageSizeScene  ImageSize = openai.CreateImageSize512x512
	ImageSizeAvatar ImageSize = openai.CreateImageSize256x256
)

// ImageResult carries either a remote URL or raw bytes
type ImageResult struct {
	URL  string
	Data []byte
}

// ImageCreator is the image oracle capability
type ImageCreator interface {
	CreateImage(ctx context.Context, apiKey, prompt string, size ImageSize) (*ImageResult, error)
}

// Classify maps provider errors onto the package sentinels. Authentication
// failures become ErrCredential; anything else is returned unchanged and is
// treated as transient by callers.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrCredential) {
		return err
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && isAuthStatus(apiErr.HTTPStatusCode) {
		return errors.Join(ErrCredential, err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && isAuthStatus(reqErr.HTTPStatusCode) {
		return errors.Join(ErrCredential, err)
	}
	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		if isAuthStatus(gErr.Code) || (gErr.Code == http.StatusBadRequest && strings.Contains(gErr.Message, "API key")) {
			return errors.Join(ErrCredential, err)
		}
	}
	return err
}

func isAuthStatus(code int) bool {
	return code == http.StatusUnauthorized || code == http.StatusForbidden
}

// StripCodeFence removes a surrounding markdown code fence from model output
func StripCodeFence(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```")
	if nl := strings.IndexByte(text, '\n'); nl >= 0 && !strings.ContainsAny(text[:nl], "{[") {
		text = text[nl+1:]
	}
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	return strings.TrimSpace(text)
}
