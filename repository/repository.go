// Package repository fetches Composer repository metadata through the
// scheduler, filters it with the legacy tag filter and keeps it in the
// repository disk cache.
package repository

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/willibrandon/composer-prefetch/cache"
	composerhttp "github.com/willibrandon/composer-prefetch/http"
	"github.com/willibrandon/composer-prefetch/legacy"
	"github.com/willibrandon/composer-prefetch/observability"
	"github.com/willibrandon/composer-prefetch/scheduler"
)

// ErrChecksumMismatch is returned when a fetched file does not match the
// sha256 its listing announced.
var ErrChecksumMismatch = errors.New("checksum mismatch")

// envelope header holding the sha256 of the cached body
const headerSHA256 = "sha256"

// Config identifies a repository.
type Config struct {
	Name string
	// URL is the repository base URL, with or without /packages.json
	URL string
	// CacheRoot is the cache-repo-dir; entries go under CacheRoot/SanitizeURL(URL)
	CacheRoot string
}

// Repository is a caching view of one composer-type repository.
type Repository struct {
	name    string
	baseURL string
	origin  string

	dl     *scheduler.Downloader
	filter *legacy.Filter
	cache  *cache.DiskCache
	logger observability.Logger

	cacheNext atomic.Bool
	degraded  sync.Once

	mu    sync.Mutex
	root  *Root
	batch *batch

	providersMu sync.RWMutex
	providers   map[string]string
}

// New creates a repository. A nil filter disables filtering.
func New(cfg Config, dl *scheduler.Downloader, filter *legacy.Filter, logger observability.Logger) (*Repository, error) {
	base := strings.TrimSuffix(strings.TrimSuffix(cfg.URL, "/packages.json"), "/")
	u, err := url.Parse(base)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("repository URL %q is not an http(s) URL", cfg.URL)
	}

	dc, err := cache.RepoCache(cfg.CacheRoot, base)
	if err != nil {
		return nil, err
	}

	if filter == nil {
		filter = legacy.NewFilter(logger)
	}
	if logger == nil {
		logger = observability.NewNullLogger()
	}
	name := cfg.Name
	if name == "" {
		name = u.Host
	}

	return &Repository{
		name:      name,
		baseURL:   base,
		origin:    u.Host,
		dl:        dl,
		filter:    filter,
		cache:     dc,
		logger:    logger.ForContext("Repository", name),
		providers: make(map[string]string),
	}, nil
}

// Name returns the repository name.
func (r *Repository) Name() string { return r.name }

// URL returns the repository base URL.
func (r *Repository) URL() string { return r.baseURL }

// Cache returns the repository's disk cache.
func (r *Repository) Cache() *cache.DiskCache { return r.cache }

// CacheNext keeps the result of this repository's next fetch in memory for
// the rest of the process.
func (r *Repository) CacheNext() {
	r.cacheNext.Store(true)
}

// LoadRoot fetches packages.json. The result is kept for PackageURL and
// HasPackage.
func (r *Repository) LoadRoot(ctx context.Context) (*Root, error) {
	doc, err := r.fetchFile(ctx, r.baseURL+"/packages.json", "packages.json", "", true)
	if err != nil {
		return nil, fmt.Errorf("load %s root: %w", r.name, err)
	}
	root, err := parseRoot(doc)
	if err != nil {
		return nil, fmt.Errorf("load %s root: %w", r.name, err)
	}

	r.mu.Lock()
	r.root = root
	r.mu.Unlock()
	r.addProviders(root.Providers)
	return root, nil
}

// Root returns the last loaded root, or nil.
func (r *Repository) Root() *Root {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.root
}

// FetchFile returns the filtered document at fileURL.
//
// While a listing batch is being assembled the call only records its
// arguments and returns an empty document; the fetch runs when the batch is
// flushed. Otherwise it fetches conditionally against the cache, verifies
// sha256 when given, and falls back to the cache when the network fails.
func (r *Repository) FetchFile(ctx context.Context, fileURL, cacheKey, sha256sum string, storeLastModified bool) (*legacy.Document, error) {
	r.mu.Lock()
	if b := r.batch; b != nil {
		b.add(fileURL, cacheKey, sha256sum, storeLastModified)
		r.mu.Unlock()
		return legacy.NewDocument(), nil
	}
	r.mu.Unlock()

	return r.fetchFile(ctx, fileURL, cacheKey, sha256sum, storeLastModified)
}

func (r *Repository) fetchFile(ctx context.Context, fileURL, cacheKey, sha256sum string, storeLastModified bool) (*legacy.Document, error) {
	cached, cachedDoc := r.readCache(cacheKey)

	if cachedDoc != nil && sha256sum != "" && cached.Headers[headerSHA256] == sha256sum {
		observability.CacheHitsTotal.WithLabelValues("repo").Inc()
		return cachedDoc, nil
	}

	headers := map[string]string{}
	if storeLastModified && cachedDoc != nil && cached.LastModified() != "" {
		headers["If-Modified-Since"] = cached.LastModified()
	}

	resp, err := r.dl.Fetch(ctx, scheduler.Job{
		Origin:      r.origin,
		URL:         fileURL,
		Headers:     headers,
		CacheResult: r.cacheNext.Swap(false),
	})
	if err != nil {
		if composerhttp.IsNotModified(err) && cachedDoc != nil {
			observability.CacheHitsTotal.WithLabelValues("repo").Inc()
			return cachedDoc, nil
		}
		if cachedDoc != nil && composerhttp.IsTransportError(err) {
			r.degraded.Do(func() {
				r.logger.Warn("Could not reach {Url}, serving cached metadata: {Error}", fileURL, err)
			})
			observability.DegradedReadsTotal.WithLabelValues(r.name).Inc()
			return cachedDoc, nil
		}
		return nil, err
	}
	observability.CacheMissesTotal.WithLabelValues("repo").Inc()

	if sha256sum != "" {
		sum := sha256.Sum256(resp.Body)
		if got := hex.EncodeToString(sum[:]); got != sha256sum {
			return nil, fmt.Errorf("%w: %s has sha256 %s, expected %s", ErrChecksumMismatch, fileURL, got, sha256sum)
		}
	}

	doc, err := legacy.DecodeDocument(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", fileURL, err)
	}

	// the cache keeps the upstream body so a looser or reset filter can
	// still see every version
	r.writeCache(cacheKey, resp, sha256sum, storeLastModified)
	return r.filter.RemoveLegacyTags(doc), nil
}

// readCache returns the cached envelope and its document, filtered with the
// current constraints. Undecodable entries count as misses.
func (r *Repository) readCache(cacheKey string) (*cache.Envelope, *legacy.Document) {
	data, ok := r.cache.Read(cacheKey)
	if !ok {
		return nil, nil
	}
	env, err := cache.DecodeEnvelope(data)
	if err != nil {
		r.logger.Debug("Ignoring corrupt cache entry {Key}: {Error}", cacheKey, err)
		return nil, nil
	}
	body := []byte(env.Body)
	doc, err := legacy.DecodeDocument(body)
	if err != nil {
		r.logger.Debug("Ignoring corrupt cache entry {Key}: {Error}", cacheKey, err)
		return nil, nil
	}
	if r.filter.HasProvider(cacheKey) || (r.filter.Len() > 0 && isProviderDocument(body)) {
		doc = r.filter.RemoveLegacyTags(doc)
	}
	return env, doc
}

func (r *Repository) writeCache(cacheKey string, resp *composerhttp.Response, sha256sum string, storeLastModified bool) {
	headers := map[string]string{}
	if storeLastModified {
		if lm := resp.Header.Get("Last-Modified"); lm != "" {
			headers[cache.HeaderLastModified] = lm
		}
	}
	if sha256sum != "" {
		headers[headerSHA256] = sha256sum
	}

	data, err := cache.EncodeEnvelope(resp.Body, headers)
	if err == nil {
		err = r.cache.Write(cacheKey, data)
	}
	if err != nil {
		r.logger.Debug("Not caching {Key}: {Error}", cacheKey, err)
	}
}

// resolve turns a path from a listing into an absolute URL.
func (r *Repository) resolve(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	if strings.HasPrefix(path, "/") {
		u, _ := url.Parse(r.baseURL)
		return u.Scheme + "://" + u.Host + path
	}
	return r.baseURL + "/" + path
}

func (r *Repository) addProviders(providers map[string]Hash) {
	if len(providers) == 0 {
		return
	}
	r.providersMu.Lock()
	defer r.providersMu.Unlock()
	for name, h := range providers {
		r.providers[strings.ToLower(name)] = h.SHA256
	}
}

// Providers returns a copy of the known provider hashes.
func (r *Repository) Providers() map[string]string {
	r.providersMu.RLock()
	defer r.providersMu.RUnlock()
	out := make(map[string]string, len(r.providers))
	for k, v := range r.providers {
		out[k] = v
	}
	return out
}
