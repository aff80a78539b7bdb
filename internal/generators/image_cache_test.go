package generators

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestImageCachePutAndReload(t *testing.T) {
	dir := t.TempDir()
	cache := NewImageCache(dir, "/images/", 10, time.Hour)
	if err := cache.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	key := GenerateCacheKey(KindScene, "en", "castle")
	url, err := cache.PutData(key, pngHeader, "castle", KindScene)
	if err != nil {
		t.Fatalf("PutData: %v", err)
	}
	if url != "/images/"+key+".png" {
		t.Fatalf("url = %q", url)
	}
	if _, err := os.Stat(filepath.Join(dir, key+".png")); err != nil {
		t.Fatalf("image file missing: %v", err)
	}
	if err := cache.PutURL("remote", "https://cdn.example/r.png", "r", KindAvatar); err != nil {
		t.Fatalf("PutURL: %v", err)
	}

	reloaded := NewImageCache(dir, "/images", 10, time.Hour)
	if err := reloaded.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if got, ok := reloaded.Get(key); !ok || got != url {
		t.Errorf("Get(%s) = %q, %v", key, got, ok)
	}
	if got, ok := reloaded.Get("remote"); !ok || got != "https://cdn.example/r.png" {
		t.Errorf("Get(remote) = %q, %v", got, ok)
	}
	if stats := reloaded.GetStats(); stats.TotalEntries != 2 || stats.Hits != 2 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestImageCacheExpiry(t *testing.T) {
	cache := NewImageCache(t.TempDir(), "/images", 10, time.Minute)
	if err := cache.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	now := time.Now()
	cache.now = func() time.Time { return now }

	if err := cache.PutURL("k", "u", "p", KindScene); err != nil {
		t.Fatalf("PutURL: %v", err)
	}
	now = now.Add(2 * time.Minute)
	if _, ok := cache.Get("k"); ok {
		t.Fatal("expired entry still served")
	}

	if err := cache.PutURL("k2", "u", "p", KindScene); err != nil {
		t.Fatalf("PutURL: %v", err)
	}
	now = now.Add(2 * time.Minute)
	if n := cache.CleanExpired(context.Background()); n != 1 {
		t.Errorf("CleanExpired = %d, want 1", n)
	}
}

func TestImageCacheEvictsLeastRecentlyUsed(t *testing.T) {
	cache := NewImageCache(t.TempDir(), "/images", 2, 0)
	if err := cache.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	now := time.Now()
	cache.now = func() time.Time {
		now = now.Add(time.Second)
		return now
	}

	for _, key := range []string{"a", "b"} {
		if err := cache.PutURL(key, "u-"+key, key, KindScene); err != nil {
			t.Fatalf("PutURL: %v", err)
		}
	}
	cache.Get("a")
	if err := cache.PutURL("c", "u-c", "c", KindScene); err != nil {
		t.Fatalf("PutURL: %v", err)
	}

	if _, ok := cache.Get("b"); ok {
		t.Error("b should have been evicted")
	}
	for _, key := range []string{"a", "c"} {
		if _, ok := cache.Get(key); !ok {
			t.Errorf("%s missing", key)
		}
	}
}

func TestImageExtension(t *testing.T) {
	if got := imageExtension([]byte("\xff\xd8\xff\xe0")); got != ".jpg" {
		t.Errorf("jpeg extension = %s", got)
	}
	if got := imageExtension(pngHeader); got != ".png" {
		t.Errorf("png extension = %s", got)
	}
}
