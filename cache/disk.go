// Package cache implements the on-disk repository and dist caches and an
// in-memory LRU.
package cache

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	// tempSuffix marks files mid-way through an atomic write.
	tempSuffix = "-new"

	// HeaderLastModified is the envelope header used for conditional refetch.
	HeaderLastModified = "last-modified"
)

// DiskCache stores blobs as files under a single directory. Entries are
// shared between processes without locking; the last writer wins.
type DiskCache struct {
	rootDir string
}

// NewDiskCache creates a new disk cache rooted at rootDir.
func NewDiskCache(rootDir string) (*DiskCache, error) {
	if err := os.MkdirAll(rootDir, 0755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}
	return &DiskCache{rootDir: rootDir}, nil
}

// RepoCache returns the cache for one repository, rooted at
// root/SanitizeURL(repoURL).
func RepoCache(root, repoURL string) (*DiskCache, error) {
	return NewDiskCache(filepath.Join(root, SanitizeURL(repoURL)))
}

// SanitizeURL maps every character outside [a-zA-Z0-9.] to '-'.
func SanitizeURL(u string) string {
	return sanitize(u, false)
}

// sanitizeKey is SanitizeURL that also keeps '_'.
func sanitizeKey(key string) string {
	return sanitize(key, true)
}

func sanitize(s string, underscore bool) string {
	var sb strings.Builder
	sb.Grow(len(s))
	for _, ch := range s {
		switch {
		case ch >= 'a' && ch <= 'z', ch >= 'A' && ch <= 'Z', ch >= '0' && ch <= '9', ch == '.':
			sb.WriteRune(ch)
		case ch == '_' && underscore:
			sb.WriteRune(ch)
		default:
			sb.WriteByte('-')
		}
	}
	return sb.String()
}

// Root returns the cache directory.
func (dc *DiskCache) Root() string {
	return dc.rootDir
}

// Path returns the file backing key.
func (dc *DiskCache) Path(key string) string {
	return filepath.Join(dc.rootDir, sanitizeKey(key))
}

// Exists reports whether key has a cache file.
func (dc *DiskCache) Exists(key string) bool {
	return fileExists(dc.Path(key))
}

// Read returns the bytes stored under key. Unreadable entries count as misses.
func (dc *DiskCache) Read(key string) ([]byte, bool) {
	data, err := os.ReadFile(dc.Path(key))
	if err != nil {
		return nil, false
	}
	return data, true
}

// Write stores data under key using a temp file and rename so readers never
// observe a partial entry.
func (dc *DiskCache) Write(key string, data []byte) error {
	cacheFile := dc.Path(key)

	// unique per writer so concurrent writers do not share a temp file
	newFile := cacheFile + fmt.Sprintf("%s.%d", tempSuffix, time.Now().UnixNano())

	if err := os.MkdirAll(filepath.Dir(cacheFile), 0755); err != nil {
		return fmt.Errorf("create cache directory: %w", err)
	}

	if err := os.WriteFile(newFile, data, 0644); err != nil {
		_ = os.Remove(newFile)
		return fmt.Errorf("write temp file: %w", err)
	}

	err := os.Rename(newFile, cacheFile)
	if err == nil {
		return nil
	}

	// Windows refuses to rename over an existing file.
	if fileExists(cacheFile) {
		_ = os.Remove(cacheFile)
		if err := os.Rename(newFile, cacheFile); err != nil {
			_ = os.Remove(newFile)
			if fileExists(cacheFile) {
				// another writer won the race
				return nil
			}
			return fmt.Errorf("move cache file: %w", err)
		}
		return nil
	}

	_ = os.Remove(newFile)
	return fmt.Errorf("rename failed and destination does not exist: %w", err)
}

// Delete removes a cache entry. Missing entries are not an error.
func (dc *DiskCache) Delete(key string) error {
	if err := os.Remove(dc.Path(key)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete cache entry: %w", err)
	}
	return nil
}

// Clear removes all cache entries.
func (dc *DiskCache) Clear() error {
	return os.RemoveAll(dc.rootDir)
}

// fileExists checks if a file exists.
func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Envelope is the stored form of a metadata response.
type Envelope struct {
	Body    string            `json:"body"`
	Headers map[string]string `json:"headers,omitempty"`
}

// LastModified returns the stored last-modified header, if any.
func (e *Envelope) LastModified() string {
	return e.Headers[HeaderLastModified]
}

// EncodeEnvelope serializes body and headers. Header names are lower-cased.
func EncodeEnvelope(body []byte, headers map[string]string) ([]byte, error) {
	env := Envelope{Body: string(body)}
	if len(headers) > 0 {
		env.Headers = make(map[string]string, len(headers))
		for k, v := range headers {
			env.Headers[strings.ToLower(k)] = v
		}
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode cache envelope: %w", err)
	}
	return data, nil
}

// DecodeEnvelope parses a stored entry. A bare JSON document (as written by
// older versions or by hand) is returned as an envelope without headers.
func DecodeEnvelope(data []byte) (*Envelope, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, errors.New("empty cache entry")
	}

	var probe map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &probe); err != nil {
		return nil, fmt.Errorf("decode cache entry: %w", err)
	}

	rawBody, ok := probe["body"]
	if !ok {
		return &Envelope{Body: string(trimmed)}, nil
	}

	var env Envelope
	if err := json.Unmarshal(rawBody, &env.Body); err != nil {
		// "body" is part of the document, not an envelope field
		return &Envelope{Body: string(trimmed)}, nil
	}
	if rawHeaders, ok := probe["headers"]; ok {
		if err := json.Unmarshal(rawHeaders, &env.Headers); err != nil {
			return nil, fmt.Errorf("decode cache headers: %w", err)
		}
	}
	return &env, nil
}
