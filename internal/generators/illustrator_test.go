package generators

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"AI-Adventure/server/internal/llm"
	"AI-Adventure/server/internal/prompts"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n0000000000")

type fakeBackend struct {
	mu       sync.Mutex
	calls    int
	prompts  []string
	kinds    []Kind
	result   *llm.ImageResult
	err      error
	block    chan struct{}
	inflight chan struct{}
}

func (b *fakeBackend) Name() string { return "fake" }

func (b *fakeBackend) Render(ctx context.Context, req *RenderRequest) (*llm.ImageResult, error) {
	b.mu.Lock()
	b.calls++
	b.prompts = append(b.prompts, req.Prompt)
	b.kinds = append(b.kinds, req.Kind)
	b.mu.Unlock()

	if b.inflight != nil {
		b.inflight <- struct{}{}
	}
	if b.block != nil {
		<-b.block
	}
	return b.result, b.err
}

func (b *fakeBackend) Calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

type fakeRefiner struct {
	reply string
	err   error
	reqs  []*llm.CompletionRequest
}

func (r *fakeRefiner) Complete(ctx context.Context, req *llm.CompletionRequest) (string, error) {
	r.reqs = append(r.reqs, req)
	return r.reply, r.err
}

func newTestCache(t *testing.T) *ImageCache {
	t.Helper()
	cache := NewImageCache(t.TempDir(), "/images", 10, time.Hour)
	if err := cache.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	return cache
}

func TestIllustrateRefinesAndCachesBytes(t *testing.T) {
	backend := &fakeBackend{result: &llm.ImageResult{Data: pngHeader}}
	refiner := &fakeRefiner{reply: "a moonlit gate"}
	cache := newTestCache(t)
	ill := NewIllustrator(backend, IllustratorOptions{Refiner: refiner, Cache: cache})

	url, err := ill.Illustrate(context.Background(), "k", "en", "the gate", "story so far")
	if err != nil {
		t.Fatalf("Illustrate: %v", err)
	}
	if !strings.HasPrefix(url, "/images/") || !strings.HasSuffix(url, ".png") {
		t.Fatalf("url = %q", url)
	}
	if got := backend.prompts[0]; got != prompts.ImageStylePrefix+"a moonlit gate" {
		t.Errorf("rendered prompt = %q", got)
	}
	if backend.kinds[0] != KindScene {
		t.Errorf("kind = %s", backend.kinds[0])
	}
	if len(refiner.reqs) != 1 || refiner.reqs[0].APIKey != "k" {
		t.Fatalf("refiner requests = %+v", refiner.reqs)
	}
	if !strings.Contains(refiner.reqs[0].Messages[0].Content, "story so far") {
		t.Errorf("refine prompt misses the story: %q", refiner.reqs[0].Messages[0].Content)
	}

	again, err := ill.Illustrate(context.Background(), "k", "en", "the gate", "longer story")
	if err != nil || again != url {
		t.Fatalf("second Illustrate = %q, %v", again, err)
	}
	if backend.Calls() != 1 {
		t.Errorf("backend calls = %d, want 1", backend.Calls())
	}
}

func TestIllustrateRefineFailureFallsBackToSubject(t *testing.T) {
	backend := &fakeBackend{result: &llm.ImageResult{URL: "https://cdn.example/x.png"}}
	ill := NewIllustrator(backend, IllustratorOptions{Refiner: &fakeRefiner{err: errors.New("timeout")}})

	url, err := ill.Illustrate(context.Background(), "k", "zh", "城门", "")
	if err != nil {
		t.Fatalf("Illustrate: %v", err)
	}
	if url != "https://cdn.example/x.png" {
		t.Errorf("url = %q", url)
	}
	if backend.prompts[0] != prompts.ImageStylePrefix+"城门" {
		t.Errorf("prompt = %q", backend.prompts[0])
	}
}

func TestIllustrateCredentialErrorStops(t *testing.T) {
	backend := &fakeBackend{result: &llm.ImageResult{URL: "u"}}
	refiner := &fakeRefiner{err: errors.Join(llm.ErrCredential, errors.New("401"))}
	ill := NewIllustrator(backend, IllustratorOptions{Refiner: refiner})

	if _, err := ill.Illustrate(context.Background(), "bad", "en", "x", ""); !errors.Is(err, llm.ErrCredential) {
		t.Fatalf("err = %v, want ErrCredential", err)
	}
	if backend.Calls() != 0 {
		t.Errorf("backend called %d times", backend.Calls())
	}
}

func TestIllustrateDownloadsRemoteResults(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(pngHeader)
	}))
	defer server.Close()

	backend := &fakeBackend{result: &llm.ImageResult{URL: server.URL + "/img.png"}}
	ill := NewIllustrator(backend, IllustratorOptions{Cache: newTestCache(t)})

	url, err := ill.Illustrate(context.Background(), "k", "en", "tower", "")
	if err != nil {
		t.Fatalf("Illustrate: %v", err)
	}
	if !strings.HasPrefix(url, "/images/") {
		t.Errorf("url = %q, want a cached file", url)
	}
}

func TestIllustrateEmptySubject(t *testing.T) {
	ill := NewIllustrator(&fakeBackend{}, IllustratorOptions{})
	if _, err := ill.Illustrate(context.Background(), "k", "en", "  ", ""); !errors.Is(err, ErrEmptyPrompt) {
		t.Fatalf("err = %v, want ErrEmptyPrompt", err)
	}
}

func TestAvatarPlaceholders(t *testing.T) {
	backend := &fakeBackend{err: errors.New("boom")}
	ill := NewIllustrator(backend, IllustratorOptions{AvatarPlaceholder: "/api/placeholder/100/100"})

	if got := ill.Avatar(context.Background(), "k", "en", ""); got != "/api/placeholder/100/100" {
		t.Errorf("empty desc avatar = %q", got)
	}
	if backend.Calls() != 0 {
		t.Errorf("empty desc reached the backend")
	}
	if got := ill.Avatar(context.Background(), "k", "en", "a tall knight"); got != "/api/placeholder/100/100" {
		t.Errorf("failed avatar = %q", got)
	}
	if backend.kinds[0] != KindAvatar {
		t.Errorf("kind = %s", backend.kinds[0])
	}
}

func TestAvatarSharesConcurrentGenerations(t *testing.T) {
	backend := &fakeBackend{
		result:   &llm.ImageResult{URL: "https://cdn.example/a.png"},
		block:    make(chan struct{}),
		inflight: make(chan struct{}, 4),
	}
	ill := NewIllustrator(backend, IllustratorOptions{AvatarPlaceholder: "ph"})

	var wg sync.WaitGroup
	results := make([]string, 2)
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0] = ill.Avatar(context.Background(), "k", "en", "old sage")
	}()
	<-backend.inflight

	wg.Add(1)
	go func() {
		defer wg.Done()
		results[1] = ill.Avatar(context.Background(), "k", "en", "old sage")
	}()
	time.Sleep(20 * time.Millisecond)
	close(backend.block)
	wg.Wait()

	if backend.Calls() != 1 {
		t.Errorf("backend calls = %d, want 1", backend.Calls())
	}
	for i, got := range results {
		if got != "https://cdn.example/a.png" {
			t.Errorf("result %d = %q", i, got)
		}
	}
}

func TestIllustrateThroughQueue(t *testing.T) {
	queue := NewImageQueue(1, 1)
	queue.Start(context.Background())
	defer queue.Stop()

	backend := &fakeBackend{result: &llm.ImageResult{URL: "u"}}
	ill := NewIllustrator(backend, IllustratorOptions{Queue: queue})

	if _, err := ill.Illustrate(context.Background(), "k", "en", "a", ""); err != nil {
		t.Fatalf("Illustrate: %v", err)
	}
	if stats := queue.Stats(); stats.Completed != 1 {
		t.Errorf("completed = %d", stats.Completed)
	}
}
