package patrimoine

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"
)

// CacheManager stores parse results for source files whose content can no
// longer change (past calendar years). Entries are keyed by custodian and
// year and validated against the source file's content hash: the cache is an
// optimization, never a correctness dependency, so any doubt is a miss.
type CacheManager struct {
	dir string
}

// CacheEntry is the on-disk format of one cached parse result.
type CacheEntry struct {
	CacheKey string            `json:"cache_key"`
	FilePath string            `json:"file_path"`
	FileHash string            `json:"file_hash"`
	CachedAt string            `json:"cached_at"`
	Custom   map[string]string `json:"custom_metadata,omitempty"`
	Data     *ParseResult      `json:"data"`
}

// NewCacheManager creates the cache directory if needed.
func NewCacheManager(dir string) (*CacheManager, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("cannot create cache directory %q: %w", dir, err)
	}
	return &CacheManager{dir: dir}, nil
}

// FileHash returns the hex sha-256 of the file's full content. It is stable
// across runs as long as the bytes are unchanged.
func (c *CacheManager) FileHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("cannot hash %q: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("cannot hash %q: %w", path, err)
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}

var yearToken = regexp.MustCompile(`\d{4}`)

// CacheKey derives the entry key from the custodian and a 4-digit year token
// in the filename, falling back to the filename stem when no year is found.
// Two non-year files from the same custodian therefore collide; acceptable
// because such files are unique per custodian in practice.
func (c *CacheManager) CacheKey(custodian, filename string) string {
	base := filepath.Base(filename)
	if year := yearToken.FindString(base); year != "" {
		return custodian + "_" + year
	}
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	return custodian + "_" + stem
}

// FileYear extracts the 4-digit year token from a filename, or 0 if absent.
func FileYear(filename string) int {
	year := yearToken.FindString(filepath.Base(filename))
	if year == "" {
		return 0
	}
	var y int
	fmt.Sscanf(year, "%d", &y)
	return y
}

// ShouldCacheYear reports whether data for the given year is immutable:
// anything strictly before the current calendar year. Re-evaluated on every
// call, so a cached year naturally expires from eligibility when the current
// year rolls onto it.
func (c *CacheManager) ShouldCacheYear(year int) bool {
	return year > 0 && year < time.Now().Year()
}

func (c *CacheManager) entryPath(key string) string {
	return filepath.Join(c.dir, key+".json")
}

// IsCached reports whether a valid entry exists for key: the entry must be
// present, decodable, and its stored hash must equal the live hash of path.
// Any mismatch, including a deleted source file, is a miss.
func (c *CacheManager) IsCached(key, path string) bool {
	entry, err := c.Load(key)
	if err != nil || entry == nil {
		return false
	}
	live, err := c.FileHash(path)
	if err != nil {
		return false
	}
	if live != entry.FileHash {
		log.Printf("cache entry %s stale: source file changed", key)
		return false
	}
	return true
}

// Save writes a cache entry for the parse result of path.
func (c *CacheManager) Save(key, path string, data *ParseResult, custom map[string]string) error {
	hash, err := c.FileHash(path)
	if err != nil {
		return err
	}
	entry := CacheEntry{
		CacheKey: key,
		FilePath: path,
		FileHash: hash,
		CachedAt: time.Now().Format(time.RFC3339),
		Custom:   custom,
		Data:     data,
	}
	raw, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot encode cache entry %s: %w", key, err)
	}
	if err := os.WriteFile(c.entryPath(key), raw, 0644); err != nil {
		return fmt.Errorf("cannot write cache entry %s: %w", key, err)
	}
	return nil
}

// Load reads a cache entry, or returns nil when it does not exist. A corrupt
// entry is reported as an error; callers treat it as a miss.
func (c *CacheManager) Load(key string) (*CacheEntry, error) {
	raw, err := os.ReadFile(c.entryPath(key))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var entry CacheEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, fmt.Errorf("corrupt cache entry %s: %w", key, err)
	}
	return &entry, nil
}

// Invalidate deletes one cache entry. Deleting an absent entry is not an error.
func (c *CacheManager) Invalidate(key string) error {
	err := os.Remove(c.entryPath(key))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// ClearAll removes every entry from the cache directory.
func (c *CacheManager) ClearAll() error {
	entries, err := filepath.Glob(filepath.Join(c.dir, "*.json"))
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := os.Remove(e); err != nil {
			return err
		}
	}
	return nil
}

// Stats summarizes the cache directory content.
type Stats struct {
	Dir       string
	FileCount int
	TotalSize int64
	Files     []string
}

func (c *CacheManager) Stats() (Stats, error) {
	s := Stats{Dir: c.dir}
	entries, err := filepath.Glob(filepath.Join(c.dir, "*.json"))
	if err != nil {
		return s, err
	}
	for _, e := range entries {
		info, err := os.Stat(e)
		if err != nil {
			continue
		}
		s.FileCount++
		s.TotalSize += info.Size()
		s.Files = append(s.Files, filepath.Base(e))
	}
	sort.Strings(s.Files)
	return s, nil
}

// EnforceLimit evicts least-recently-written entries (ascending modification
// time) until the cache fits under maxSizeMB. It runs as post-run
// housekeeping, so a transient overshoot during a run is acceptable.
func (c *CacheManager) EnforceLimit(maxSizeMB int) error {
	if maxSizeMB <= 0 {
		return nil
	}
	limit := int64(maxSizeMB) * 1024 * 1024

	paths, err := filepath.Glob(filepath.Join(c.dir, "*.json"))
	if err != nil {
		return err
	}
	type fileInfo struct {
		path  string
		size  int64
		mtime time.Time
	}
	var files []fileInfo
	var total int64
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			continue
		}
		files = append(files, fileInfo{path: p, size: info.Size(), mtime: info.ModTime()})
		total += info.Size()
	}
	if total <= limit {
		return nil
	}

	sort.Slice(files, func(i, j int) bool { return files[i].mtime.Before(files[j].mtime) })
	for _, f := range files {
		if total <= limit {
			break
		}
		if err := os.Remove(f.path); err != nil {
			return err
		}
		log.Printf("cache limit: evicted %s (%d bytes)", filepath.Base(f.path), f.size)
		total -= f.size
	}
	return nil
}
