package generators

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// CacheEntry represents a cached image. Local entries have a file in the
// cache directory; remote entries only remember the provider URL.
type CacheEntry struct {
	Key          string    `json:"key"`
	FileName     string    `json:"file_name,omitempty"`
	RemoteURL    string    `json:"remote_url,omitempty"`
	Prompt       string    `json:"prompt"`
	Kind         Kind      `json:"kind"`
	CreatedAt    time.Time `json:"created_at"`
	LastAccessed time.Time `json:"last_accessed"`
	AccessCount  int       `json:"access_count"`
	FileSize     int64     `json:"file_size"`
}

// ImageCache manages image caching
type ImageCache struct {
	entries    map[string]*CacheEntry
	directory  string
	urlPrefix  string
	maxEntries int
	ttl        time.Duration
	mu         sync.RWMutex
	stats      CacheStats
	now        func() time.Time
}

// CacheStats holds statistics about cache performance
type CacheStats struct {
	Hits         int64   `json:"hits"`
	Misses       int64   `json:"misses"`
	HitRate      float64 `json:"hit_rate"`
	TotalEntries int     `json:"total_entries"`
	TotalSize    int64   `json:"total_size"`
}

// NewImageCache creates a cache rooted at directory whose files are served
// under urlPrefix
func NewImageCache(directory, urlPrefix string, maxEntries int, ttl time.Duration) *ImageCache {
	return &ImageCache{
		entries:    make(map[string]*CacheEntry),
		directory:  directory,
		urlPrefix:  strings.TrimRight(urlPrefix, "/"),
		maxEntries: maxEntries,
		ttl:        ttl,
		now:        time.Now,
	}
}

// Dir is the directory holding cached files
func (c *ImageCache) Dir() string {
	return c.directory
}

// Initialize loads existing cache entries from disk
func (c *ImageCache) Initialize(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := os.MkdirAll(c.directory, 0755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}

	metas, err := filepath.Glob(filepath.Join(c.directory, "*.meta"))
	if err != nil {
		return fmt.Errorf("failed to read cache directory: %w", err)
	}

	for _, metaPath := range metas {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		metaData, err := os.ReadFile(metaPath)
		if err != nil {
			continue
		}
		var entry CacheEntry
		if err := json.Unmarshal(metaData, &entry); err != nil || entry.Key == "" {
			continue
		}
		if c.expired(&entry) {
			c.removeFiles(&entry)
			continue
		}
		if entry.FileName != "" {
			info, err := os.Stat(filepath.Join(c.directory, entry.FileName))
			if err != nil {
				_ = os.Remove(metaPath)
				continue
			}
			entry.FileSize = info.Size()
		}
		c.entries[entry.Key] = &entry
		c.stats.TotalEntries++
		c.stats.TotalSize += entry.FileSize
	}

	log.Printf("[ImageCache] loaded %d entries from %s", len(c.entries), c.directory)
	return nil
}

// Get returns the URL of a cached image
func (c *ImageCache) Get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if ok && c.expired(entry) {
		c.invalidateLocked(key)
		ok = false
	}
	if !ok {
		c.stats.Misses++
		c.updateHitRate()
		return "", false
	}

	entry.LastAccessed = c.now()
	entry.AccessCount++
	c.stats.Hits++
	c.updateHitRate()
	return c.url(entry), true
}

// PutData writes image bytes to disk and returns the URL they are served at
func (c *ImageCache) PutData(key string, data []byte, prompt string, kind Kind) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("empty image data")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	filename := key + imageExtension(data)
	if err := os.WriteFile(filepath.Join(c.directory, filename), data, 0644); err != nil {
		return "", fmt.Errorf("failed to write image: %w", err)
	}

	entry := c.newEntry(key, prompt, kind)
	entry.FileName = filename
	entry.FileSize = int64(len(data))
	if err := c.storeLocked(entry); err != nil {
		return "", err
	}
	return c.url(entry), nil
}

// PutURL remembers a remote image URL under key
func (c *ImageCache) PutURL(key, remoteURL, prompt string, kind Kind) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry := c.newEntry(key, prompt, kind)
	entry.RemoteURL = remoteURL
	return c.storeLocked(entry)
}

// Invalidate removes an entry from cache
func (c *ImageCache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidateLocked(key)
}

// CleanExpired removes expired entries from cache
func (c *ImageCache) CleanExpired(ctx context.Context) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ttl == 0 {
		return 0
	}

	count := 0
	for key, entry := range c.entries {
		if ctx.Err() != nil {
			break
		}
		if c.expired(entry) {
			c.invalidateLocked(key)
			count++
		}
	}
	return count
}

// GetStats returns cache statistics
func (c *ImageCache) GetStats() CacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stats
}

// GenerateCacheKey hashes the kind, language and prompt into a cache key
func GenerateCacheKey(kind Kind, language, prompt string) string {
	hash := md5.Sum([]byte(fmt.Sprintf("%s|%s|%s", kind, language, prompt)))
	return hex.EncodeToString(hash[:])
}

func (c *ImageCache) newEntry(key, prompt string, kind Kind) *CacheEntry {
	now := c.now()
	return &CacheEntry{
		Key:          key,
		Prompt:       prompt,
		Kind:         kind,
		CreatedAt:    now,
		LastAccessed: now,
	}
}

func (c *ImageCache) storeLocked(entry *CacheEntry) error {
	metaData, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	if err := os.WriteFile(c.metaPath(entry.Key), metaData, 0644); err != nil {
		return fmt.Errorf("failed to write metadata: %w", err)
	}

	if old, ok := c.entries[entry.Key]; ok {
		c.stats.TotalEntries--
		c.stats.TotalSize -= old.FileSize
		if old.FileName != "" && old.FileName != entry.FileName {
			_ = os.Remove(filepath.Join(c.directory, old.FileName))
		}
	}
	c.entries[entry.Key] = entry
	c.stats.TotalEntries++
	c.stats.TotalSize += entry.FileSize

	for c.maxEntries > 0 && len(c.entries) > c.maxEntries {
		c.evictOldest()
	}
	return nil
}

func (c *ImageCache) invalidateLocked(key string) {
	entry, ok := c.entries[key]
	if !ok {
		return
	}
	c.removeFiles(entry)
	delete(c.entries, key)
	c.stats.TotalEntries--
	c.stats.TotalSize -= entry.FileSize
}

func (c *ImageCache) removeFiles(entry *CacheEntry) {
	if entry.FileName != "" {
		_ = os.Remove(filepath.Join(c.directory, entry.FileName))
	}
	_ = os.Remove(c.metaPath(entry.Key))
}

// evictOldest removes the least recently accessed entry
func (c *ImageCache) evictOldest() {
	var oldestKey string
	var oldestTime time.Time

	for key, entry := range c.entries {
		if oldestKey == "" || entry.LastAccessed.Before(oldestTime) {
			oldestKey = key
			oldestTime = entry.LastAccessed
		}
	}

	if oldestKey != "" {
		c.invalidateLocked(oldestKey)
	}
}

func (c *ImageCache) expired(entry *CacheEntry) bool {
	return c.ttl > 0 && c.now().Sub(entry.CreatedAt) > c.ttl
}

func (c *ImageCache) updateHitRate() {
	total := c.stats.Hits + c.stats.Misses
	if total > 0 {
		c.stats.HitRate = float64(c.stats.Hits) / float64(total)
	}
}

func (c *ImageCache) url(entry *CacheEntry) string {
	if entry.FileName == "" {
		return entry.RemoteURL
	}
	return c.urlPrefix + "/" + entry.FileName
}

func (c *ImageCache) metaPath(key string) string {
	return filepath.Join(c.directory, key+".meta")
}

func imageExtension(data []byte) string {
	switch http.DetectContentType(data) {
	case "image/jpeg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	default:
		return ".png"
	}
}
