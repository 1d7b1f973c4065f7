package cache

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/willibrandon/composer-prefetch/observability"
)

// FileCache lays out downloaded dist archives as root/<name>/<sha1(url)>.<type>,
// the same layout the host's own file cache reads.
type FileCache struct {
	rootDir string
}

// NewFileCache creates the dist cache directory if needed.
func NewFileCache(rootDir string) (*FileCache, error) {
	if err := os.MkdirAll(rootDir, 0755); err != nil {
		return nil, fmt.Errorf("create files cache directory: %w", err)
	}
	return &FileCache{rootDir: rootDir}, nil
}

// PathFor returns where the archive for packageName fetched from url lives.
func (fc *FileCache) PathFor(packageName, url, distType string) string {
	sum := sha1.Sum([]byte(url))
	return filepath.Join(fc.rootDir, packageName, hex.EncodeToString(sum[:])+"."+distType)
}

// PathForPackage is PathFor keyed the way the host keys its own downloads:
// by the dist reference when it is a full 40 character commit hash.
func (fc *FileCache) PathForPackage(packageName, reference, url, distType string) string {
	if len(reference) == 40 {
		return filepath.Join(fc.rootDir, packageName, reference+"."+distType)
	}
	return fc.PathFor(packageName, url, distType)
}

// Exists reports whether an archive path from PathFor is present. Only the
// file's presence is checked; its contents are not verified.
func (fc *FileCache) Exists(path string) bool {
	if fileExists(path) {
		observability.CacheHitsTotal.WithLabelValues("files").Inc()
		return true
	}
	observability.CacheMissesTotal.WithLabelValues("files").Inc()
	return false
}

// Root returns the cache directory.
func (fc *FileCache) Root() string {
	return fc.rootDir
}
