// Package cache keeps the last-known-good project state on disk: the latest
// tree snapshot and an LRU of file contents.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fruitsalade/projectsync/pkg/models"
)

const (
	treeFile  = "tree.json"
	indexFile = "index.json"
)

// Entry describes one cached file content.
type Entry struct {
	Path       string    `json:"path"`
	File       string    `json:"file"`
	Size       int64     `json:"size"`
	LastAccess time.Time `json:"last_access"`
	Pinned     bool      `json:"pinned,omitempty"`
}

// Cache manages the on-disk state of one app.
type Cache struct {
	dir     string
	maxSize int64 // Maximum content size in bytes

	mu      sync.RWMutex
	entries map[string]*Entry
	size    int64
}

// New opens the cache in dir, loading any existing index.
func New(dir string, maxSize int64) (*Cache, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	c := &Cache{
		dir:     dir,
		maxSize: maxSize,
		entries: make(map[string]*Entry),
	}
	if err := c.loadIndex(); err != nil {
		return nil, err
	}
	return c, nil
}

// ForApp returns the cache directory for an app under root.
func ForApp(root, appID string) string {
	return filepath.Join(root, "apps", key(appID))
}

func key(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:16])
}

// PutTree stores the latest tree snapshot.
func (c *Cache) PutTree(nodes []*models.FileNode) error {
	data, err := json.Marshal(nodes)
	if err != nil {
		return fmt.Errorf("encode tree: %w", err)
	}
	return writeAtomic(filepath.Join(c.dir, treeFile), data)
}

// LoadTree returns the stored snapshot. A missing snapshot returns
// os.ErrNotExist.
func (c *Cache) LoadTree() ([]*models.FileNode, error) {
	data, err := os.ReadFile(filepath.Join(c.dir, treeFile))
	if err != nil {
		return nil, err
	}
	var nodes []*models.FileNode
	if err := json.Unmarshal(data, &nodes); err != nil {
		return nil, fmt.Errorf("decode tree: %w", err)
	}
	return nodes, nil
}

// PutContent stores the content of a file, evicting least recently used
// contents to stay within the size limit.
func (c *Cache) PutContent(path, content string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	size := int64(len(content))
	if old, ok := c.entries[path]; ok {
		c.size -= old.Size
		delete(c.entries, path)
	}
	for c.size+size > c.maxSize {
		if !c.evictOldest() {
			break // Nothing to evict
		}
	}

	name := key(path)
	if err := writeAtomic(filepath.Join(c.dir, name), []byte(content)); err != nil {
		return err
	}
	c.entries[path] = &Entry{
		Path:       path,
		File:       name,
		Size:       size,
		LastAccess: time.Now(),
	}
	c.size += size
	return c.saveIndexLocked()
}

// Content returns the cached content of path.
func (c *Cache) Content(path string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[path]
	if !ok {
		return "", false
	}
	data, err := os.ReadFile(filepath.Join(c.dir, entry.File))
	if err != nil {
		c.size -= entry.Size
		delete(c.entries, path)
		return "", false
	}
	entry.LastAccess = time.Now()
	return string(data), true
}

// Evict removes a cached content.
func (c *Cache) Evict(path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[path]
	if !ok {
		return nil
	}
	if entry.Pinned {
		return fmt.Errorf("cannot evict pinned file: %s", path)
	}
	os.Remove(filepath.Join(c.dir, entry.File))
	c.size -= entry.Size
	delete(c.entries, path)
	return c.saveIndexLocked()
}

// Pin marks a content to never be evicted.
func (c *Cache) Pin(path string, pinned bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[path]
	if !ok {
		return fmt.Errorf("file not cached: %s", path)
	}
	entry.Pinned = pinned
	return c.saveIndexLocked()
}

// evictOldest removes the least recently used unpinned content.
// Must be called with lock held.
func (c *Cache) evictOldest() bool {
	var oldest *Entry
	for _, entry := range c.entries {
		if entry.Pinned {
			continue
		}
		if oldest == nil || entry.LastAccess.Before(oldest.LastAccess) {
			oldest = entry
		}
	}
	if oldest == nil {
		return false
	}
	os.Remove(filepath.Join(c.dir, oldest.File))
	c.size -= oldest.Size
	delete(c.entries, oldest.Path)
	return true
}

// Stats returns cache statistics.
func (c *Cache) Stats() (size, maxSize int64, count int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.size, c.maxSize, len(c.entries)
}

// List returns the cached entries sorted by path.
func (c *Cache) List() []Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entries := make([]Entry, 0, len(c.entries))
	for _, entry := range c.entries {
		entries = append(entries, *entry)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries
}

// Clear removes all unpinned contents and the stored tree.
func (c *Cache) Clear() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	count := 0
	for path, entry := range c.entries {
		if entry.Pinned {
			continue
		}
		os.Remove(filepath.Join(c.dir, entry.File))
		c.size -= entry.Size
		delete(c.entries, path)
		count++
	}
	if err := os.Remove(filepath.Join(c.dir, treeFile)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return count, err
	}
	return count, c.saveIndexLocked()
}

// Dir returns the cache directory path.
func (c *Cache) Dir() string {
	return c.dir
}

func (c *Cache) loadIndex() error {
	data, err := os.ReadFile(filepath.Join(c.dir, indexFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var entries []*Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		// A corrupt index only loses the content cache.
		return nil
	}
	for _, e := range entries {
		if _, err := os.Stat(filepath.Join(c.dir, e.File)); err != nil {
			continue
		}
		c.entries[e.Path] = e
		c.size += e.Size
	}
	return nil
}

func (c *Cache) saveIndexLocked() error {
	entries := make([]*Entry, 0, len(c.entries))
	for _, e := range c.entries {
		entries = append(entries, e)
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	return writeAtomic(filepath.Join(c.dir, indexFile), data)
}

// writeAtomic writes to a temp file then renames it into place.
func writeAtomic(path string, data []byte) error {
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
