// Package config turns host configuration, the environment and the project
// file into prefetcher settings.
package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/willibrandon/composer-prefetch/scheduler"
)

// Host configuration keys.
const (
	KeyVendorDir     = "vendor-dir"
	KeyCacheFilesDir = "cache-files-dir"
	KeyCacheRepoDir  = "cache-repo-dir"
	KeyDisableTLS    = "disable-tls"
	KeyCAFile        = "cafile"
	KeyCAPath        = "capath"
	KeyWorkers       = "prefetch-workers"
	KeyMaxNesting    = "prefetch-max-nesting"
)

// EnvRequire seeds legacy constraints: "pkg:constraint,pkg2:constraint2".
const EnvRequire = "AUTOMATIC_PREFETCHER_REQUIRE"

// Commands that benefit from warming the repository cache.
var AllowedCommands = []string{"create-project", "outdated", "require", "update", "install"}

// Plugins that already parallelize downloads; the prefetcher stays inert
// when one is loaded.
var CompetingPlugins = []string{"hirak/prestissimo"}

// IsAllowedCommand reports whether cmd is in AllowedCommands.
func IsAllowedCommand(cmd string) bool {
	for _, c := range AllowedCommands {
		if c == cmd {
			return true
		}
	}
	return false
}

// HostConfig is the host's string-keyed configuration.
type HostConfig interface {
	Get(key string) string
}

// MapConfig is a HostConfig backed by a map.
type MapConfig map[string]string

// Get returns the value for key.
func (m MapConfig) Get(key string) string {
	return m[key]
}

// Settings configures the prefetcher.
type Settings struct {
	VendorDir     string
	CacheFilesDir string
	CacheRepoDir  string

	DisableTLS bool
	CAFile     string
	CAPath     string

	Workers    int
	MaxNesting int
}

// Default returns settings rooted at the user cache directory.
func Default() Settings {
	cacheDir := DefaultCacheDir()
	return Settings{
		VendorDir:     "vendor",
		CacheFilesDir: filepath.Join(cacheDir, "files"),
		CacheRepoDir:  filepath.Join(cacheDir, "repo"),
		Workers:       scheduler.DefaultMaxWorkers,
		MaxNesting:    scheduler.DefaultMaxNesting,
	}
}

// DefaultCacheDir returns COMPOSER_CACHE_DIR, or the platform cache
// location the host uses.
func DefaultCacheDir() string {
	if dir := os.Getenv("COMPOSER_CACHE_DIR"); dir != "" {
		return dir
	}
	if runtime.GOOS == "windows" {
		if local := os.Getenv("LOCALAPPDATA"); local != "" {
			return filepath.Join(local, "Composer")
		}
	}
	if xdg := os.Getenv("XDG_CACHE_HOME"); xdg != "" {
		return filepath.Join(xdg, "composer")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".cache", "composer")
	}
	return filepath.Join(os.TempDir(), "composer")
}

// Option adjusts Settings.
type Option func(*Settings)

// WithCacheDir places both caches under dir.
func WithCacheDir(dir string) Option {
	return func(s *Settings) {
		s.CacheFilesDir = filepath.Join(dir, "files")
		s.CacheRepoDir = filepath.Join(dir, "repo")
	}
}

// WithWorkers sets the number of concurrent fetches.
func WithWorkers(n int) Option {
	return func(s *Settings) { s.Workers = n }
}

// WithMaxNesting sets the scheduler nesting cap.
func WithMaxNesting(n int) Option {
	return func(s *Settings) { s.MaxNesting = n }
}

// WithTLS sets the CA overrides.
func WithTLS(cafile, capath string, disable bool) Option {
	return func(s *Settings) {
		s.CAFile = cafile
		s.CAPath = capath
		s.DisableTLS = disable
	}
}

// New returns Default with opts applied.
func New(opts ...Option) Settings {
	s := Default()
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// FromHost reads the host configuration over the defaults. Unset keys keep
// their default.
func FromHost(cfg HostConfig) (Settings, error) {
	s := Default()
	if cfg == nil {
		return s, nil
	}

	for key, dst := range map[string]*string{
		KeyVendorDir:     &s.VendorDir,
		KeyCacheFilesDir: &s.CacheFilesDir,
		KeyCacheRepoDir:  &s.CacheRepoDir,
		KeyCAFile:        &s.CAFile,
		KeyCAPath:        &s.CAPath,
	} {
		if v := strings.TrimSpace(cfg.Get(key)); v != "" {
			*dst = v
		}
	}

	if v := strings.TrimSpace(cfg.Get(KeyDisableTLS)); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return s, &ConfigurationError{Key: KeyDisableTLS, Value: v, Err: err}
		}
		s.DisableTLS = b
	}

	for key, dst := range map[string]*int{
		KeyWorkers:    &s.Workers,
		KeyMaxNesting: &s.MaxNesting,
	} {
		v := strings.TrimSpace(cfg.Get(key))
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			if err == nil {
				err = strconv.ErrRange
			}
			return s, &ConfigurationError{Key: key, Value: v, Err: err}
		}
		*dst = n
	}
	return s, nil
}
