package generators

import (
	"context"
	"errors"

	"AI-Adventure/server/internal/llm"
)

// Kind selects the framing and size of an illustration
type Kind string

const (
	KindScene  Kind = "scene"
	KindAvatar Kind = "avatar"
)

// ErrEmptyPrompt is returned when there is nothing to draw
var ErrEmptyPrompt = errors.New("empty image prompt")

// RenderRequest is a final prompt ready for an image backend
type RenderRequest struct {
	APIKey string
	Prompt string
	Kind   Kind
}

// Backend turns a prompt into a picture, either a remote URL or raw bytes
type Backend interface {
	Name() string
	Render(ctx context.Context, req *RenderRequest) (*llm.ImageResult, error)
}

// OpenAIImageBackend renders through the provider's image endpoint
type OpenAIImageBackend struct {
	creator llm.ImageCreator
}

// NewOpenAIImageBackend wraps an image creator as a backend
func NewOpenAIImageBackend(creator llm.ImageCreator) *OpenAIImageBackend {
	return &OpenAIImageBackend{creator: creator}
}

func (b *OpenAIImageBackend) Name() string {
	return "openai"
}

// Render draws scenes at 512x512 and avatars at 256x256
func (b *OpenAIImageBackend) Render(ctx context.Context, req *RenderRequest) (*llm.ImageResult, error) {
	if req.Prompt == "" {
		return nil, ErrEmptyPrompt
	}
	size := llm.ImageSizeScene
	if req.Kind == KindAvatar {
		size = llm.ImageSizeAvatar
	}
	return b.creator.CreateImage(ctx, req.APIKey, req.Prompt, size)
}
