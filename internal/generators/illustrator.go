package generators

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"AI-Adventure/server/internal/llm"
	"AI-Adventure/server/internal/prompts"
)

// IllustratorOptions wires the optional collaborators of an Illustrator
type IllustratorOptions struct {
	// Refiner rewrites raw prompts before rendering; nil renders them as is
	Refiner   llm.Completer
	Templates *prompts.TemplateEngine
	Cache     *ImageCache
	Queue     *ImageQueue
	// HTTPClient downloads remote results into the cache
	HTTPClient        *http.Client
	AvatarPlaceholder string
	Timeout           time.Duration
}

// Illustrator draws scene images and character avatars
type Illustrator struct {
	backend Backend
	opts    IllustratorOptions
	avatars singleflight.Group
}

// NewIllustrator creates an illustrator rendering through backend
func NewIllustrator(backend Backend, opts IllustratorOptions) *Illustrator {
	if opts.Templates == nil {
		opts.Templates = prompts.NewTemplateEngine()
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: time.Minute}
	}
	return &Illustrator{backend: backend, opts: opts}
}

// Illustrate draws subject in the context of the story so far and returns the
// image URL
func (i *Illustrator) Illustrate(ctx context.Context, apiKey, language, subject, story string) (string, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return "", ErrEmptyPrompt
	}
	return i.draw(ctx, apiKey, language, KindScene, subject, story)
}

// Avatar returns a portrait URL for a character description. It never fails:
// an empty description or any generation error yields the avatar placeholder.
func (i *Illustrator) Avatar(ctx context.Context, apiKey, language, desc string) string {
	desc = strings.TrimSpace(desc)
	if desc == "" {
		return i.opts.AvatarPlaceholder
	}

	key := GenerateCacheKey(KindAvatar, prompts.NormalizeLanguage(language), desc)
	v, err, _ := i.avatars.Do(key, func() (interface{}, error) {
		return i.draw(ctx, apiKey, language, KindAvatar, desc, "")
	})
	if err != nil {
		log.Printf("[Illustrator] avatar generation failed, using placeholder: %v", err)
		return i.opts.AvatarPlaceholder
	}
	return v.(string)
}

func (i *Illustrator) draw(ctx context.Context, apiKey, language string, kind Kind, subject, story string) (string, error) {
	if i.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, i.opts.Timeout)
		defer cancel()
	}

	key := GenerateCacheKey(kind, prompts.NormalizeLanguage(language), subject)
	if i.opts.Cache != nil {
		if url, ok := i.opts.Cache.Get(key); ok {
			return url, nil
		}
	}

	prompt, err := i.refine(ctx, apiKey, language, kind, subject, story)
	if err != nil {
		return "", err
	}

	req := &RenderRequest{APIKey: apiKey, Prompt: prompt, Kind: kind}
	var result *llm.ImageResult
	if i.opts.Queue != nil {
		result, err = i.opts.Queue.Submit(ctx, func(ctx context.Context) (*llm.ImageResult, error) {
			return i.backend.Render(ctx, req)
		})
	} else {
		result, err = i.backend.Render(ctx, req)
	}
	if err != nil {
		return "", fmt.Errorf("failed to render %s image with %s: %w", kind, i.backend.Name(), err)
	}

	return i.store(ctx, key, subject, kind, result)
}

// refine asks the chat model for an image prompt, then adds the house style.
// A refinement failure other than a rejected credential falls back to the raw
// subject.
func (i *Illustrator) refine(ctx context.Context, apiKey, language string, kind Kind, subject, story string) (string, error) {
	refined := subject
	if i.opts.Refiner != nil {
		system, user := prompts.TemplateImageRefine, prompts.TemplateImageRefineUser
		if kind == KindAvatar {
			system, user = prompts.TemplateAvatarRefine, prompts.TemplateAvatarUser
		}
		vars := prompts.Vars{"subject": subject, "story": story}

		text, err := i.complete(ctx, apiKey, language, system, user, vars)
		switch {
		case errors.Is(err, llm.ErrCredential):
			return "", err
		case err != nil:
			log.Printf("[Illustrator] prompt refinement failed, using raw subject: %v", err)
		case strings.TrimSpace(text) != "":
			refined = strings.TrimSpace(text)
		}
	}
	return prompts.ImageStylePrefix + refined, nil
}

func (i *Illustrator) complete(ctx context.Context, apiKey, language, system, user string, vars prompts.Vars) (string, error) {
	systemText, err := i.opts.Templates.Render(prompts.Localized(system, language), vars)
	if err != nil {
		return "", err
	}
	userText, err := i.opts.Templates.Render(prompts.Localized(user, language), vars)
	if err != nil {
		return "", err
	}
	return i.opts.Refiner.Complete(ctx, &llm.CompletionRequest{
		APIKey:      apiKey,
		System:      systemText,
		Messages:    []llm.ChatMessage{{Role: llm.RoleUser, Content: userText}},
		Temperature: 0.7,
		MaxTokens:   400,
	})
}

// store caches the result and returns the URL to hand out. Remote results are
// downloaded so the reference outlives the provider's expiring link.
func (i *Illustrator) store(ctx context.Context, key, subject string, kind Kind, result *llm.ImageResult) (string, error) {
	if result == nil || (result.URL == "" && len(result.Data) == 0) {
		return "", fmt.Errorf("image backend %s returned no image", i.backend.Name())
	}
	if i.opts.Cache == nil {
		if result.URL == "" {
			return "", fmt.Errorf("image backend %s returned raw data but no cache is configured", i.backend.Name())
		}
		return result.URL, nil
	}

	data := result.Data
	if len(data) == 0 {
		downloaded, err := i.download(ctx, result.URL)
		if err != nil {
			log.Printf("[Illustrator] keeping remote image url: %v", err)
			if err := i.opts.Cache.PutURL(key, result.URL, subject, kind); err != nil {
				log.Printf("[Illustrator] failed to index remote image: %v", err)
			}
			return result.URL, nil
		}
		data = downloaded
	}

	url, err := i.opts.Cache.PutData(key, data, subject, kind)
	if err != nil {
		if result.URL != "" {
			return result.URL, nil
		}
		return "", fmt.Errorf("failed to cache image: %w", err)
	}
	return url, nil
}

func (i *Illustrator) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := i.opts.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("image download returned status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("image download was empty")
	}
	return data, nil
}
