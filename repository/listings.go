package repository

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/willibrandon/composer-prefetch/legacy"
	"github.com/willibrandon/composer-prefetch/observability"
	"github.com/willibrandon/composer-prefetch/scheduler"
)

// deferredFetch is a FetchFile call recorded during batch assembly.
type deferredFetch struct {
	url               string
	cacheKey          string
	sha256            string
	storeLastModified bool

	doc *legacy.Document
	err error
}

type batch struct {
	fetches []*deferredFetch
}

func (b *batch) add(url, cacheKey, sha256sum string, storeLastModified bool) {
	b.fetches = append(b.fetches, &deferredFetch{
		url:               url,
		cacheKey:          cacheKey,
		sha256:            sha256sum,
		storeLastModified: storeLastModified,
	})
}

// beginBatch makes FetchFile record calls instead of fetching.
func (r *Repository) beginBatch() {
	r.mu.Lock()
	r.batch = &batch{}
	r.mu.Unlock()
}

// flushBatch stops recording and runs the recorded fetches in one Download.
func (r *Repository) flushBatch(ctx context.Context) []*deferredFetch {
	r.mu.Lock()
	b := r.batch
	r.batch = nil
	r.mu.Unlock()

	if b == nil || len(b.fetches) == 0 {
		return nil
	}

	q := scheduler.NewQueue()
	for _, f := range b.fetches {
		q.Push(scheduler.Job{Origin: r.origin, URL: f.url, Meta: f})
	}
	r.dl.Download(ctx, q, func(ctx context.Context, job scheduler.Job) error {
		f := job.Meta.(*deferredFetch)
		f.doc, f.err = r.fetchFile(ctx, f.url, f.cacheKey, f.sha256, f.storeLastModified)
		return f.err
	})
	return b.fetches
}

// FetchProviderListings fetches the listing files referenced by root in
// rounds. Each round is one batched Download; files discovered in a round's
// responses make up the next round. It returns provider name to sha256.
func (r *Repository) FetchProviderListings(ctx context.Context, root *Root) (map[string]string, error) {
	ctx, span := observability.StartSpan(ctx, "repository.listings",
		observability.AttrRepositoryURL.String(r.baseURL))

	r.addProviders(root.Providers)

	seen := make(map[string]bool)
	pending := rootFields{ProviderIncludes: root.ProviderIncludes, Includes: root.Includes}.includes()

	rounds := 0
	for len(pending) > 0 {
		rounds++
		r.beginBatch()
		for _, inc := range pending {
			seen[inc.path] = true
			fileURL := r.resolve(strings.ReplaceAll(inc.path, "%hash%", inc.sha256))
			// placeholder result, the real one comes from flushBatch
			_, _ = r.FetchFile(ctx, fileURL, includeCacheKey(inc.path), inc.sha256, false)
		}
		fetched := r.flushBatch(ctx)

		pending = nil
		for _, f := range fetched {
			if f.err != nil || f.doc == nil {
				continue
			}
			fields, err := listingFields(f.doc)
			if err != nil {
				r.logger.Debug("Ignoring malformed listing {Url}: {Error}", f.url, err)
				continue
			}
			r.addProviders(fields.Providers)
			if root.Packages != nil && len(f.doc.Packages) > 0 {
				root.Packages.Merge(f.doc)
			}
			for _, inc := range fields.includes() {
				if !seen[inc.path] {
					seen[inc.path] = true
					pending = append(pending, inc)
				}
			}
		}
	}

	providers := r.Providers()
	span.SetAttributes(observability.AttrJobCount.Int(rounds))
	observability.EndSpan(span, nil)
	r.logger.Debug("Loaded {Count} providers in {Rounds} rounds", len(providers), rounds)
	return providers, nil
}

// includeCacheKey is the include path without hash placeholders.
func includeCacheKey(path string) string {
	key := strings.NewReplacer("%hash%", "", "$", "").Replace(path)
	if !strings.HasSuffix(key, ".json") {
		key += ".json"
	}
	return key
}

// providerCacheKey is "provider-vendor$name.json", the key HasProvider matches.
func providerCacheKey(name string) string {
	return "provider-" + strings.Replace(name, "/", "$", 1) + ".json"
}

// HasPackage reports whether the repository can serve metadata for name.
func (r *Repository) HasPackage(name string) bool {
	if root := r.Root(); root != nil && root.MetadataURL != "" {
		return true
	}
	r.providersMu.RLock()
	defer r.providersMu.RUnlock()
	_, ok := r.providers[strings.ToLower(name)]
	return ok
}

// PackageURL returns the metadata URL of name, or "" when unknown.
func (r *Repository) PackageURL(name string) string {
	root := r.Root()
	if root == nil {
		return ""
	}
	name = strings.ToLower(name)

	if root.ProvidersURL != "" {
		r.providersMu.RLock()
		hash, ok := r.providers[name]
		r.providersMu.RUnlock()
		if ok {
			return r.resolve(strings.NewReplacer("%package%", name, "%hash%", hash).Replace(root.ProvidersURL))
		}
	}
	if root.MetadataURL != "" {
		return r.resolve(strings.ReplaceAll(root.MetadataURL, "%package%", name))
	}
	return ""
}

// FetchPackage returns the filtered metadata of one package.
func (r *Repository) FetchPackage(ctx context.Context, name string) (*legacy.Document, error) {
	ctx, span := observability.StartSpan(ctx, "repository.package",
		observability.AttrPackageName.String(name),
		observability.AttrRepositoryURL.String(r.baseURL))

	doc, err := r.fetchPackage(ctx, name)
	observability.EndSpan(span, err)
	return doc, err
}

// packageFetch returns the FetchFile arguments for name.
func (r *Repository) packageFetch(name string) (fileURL, cacheKey, hash string, err error) {
	fileURL = r.PackageURL(name)
	if fileURL == "" {
		return "", "", "", &UnknownPackageError{Repository: r.name, Package: name}
	}

	name = strings.ToLower(name)
	r.providersMu.RLock()
	hash = r.providers[name]
	r.providersMu.RUnlock()
	return fileURL, providerCacheKey(name), hash, nil
}

func (r *Repository) fetchPackage(ctx context.Context, name string) (*legacy.Document, error) {
	fileURL, key, hash, err := r.packageFetch(name)
	if err != nil {
		return nil, err
	}
	// hashed provider files never change; v2 files are revalidated
	return r.FetchFile(ctx, fileURL, key, hash, hash == "")
}

// Prefetch fetches the metadata of every known package in names with one
// batched Download and returns how many were fetched.
func (r *Repository) Prefetch(ctx context.Context, names []string) int {
	unique := make(map[string]bool, len(names))
	q := scheduler.NewQueue()
	for _, name := range names {
		name = strings.ToLower(name)
		if unique[name] || !r.HasPackage(name) {
			continue
		}
		unique[name] = true
		q.Push(scheduler.Job{Origin: r.origin, URL: r.PackageURL(name), Meta: name})
	}
	if q.Len() == 0 {
		return 0
	}

	var (
		mu      sync.Mutex
		fetched []string
	)
	r.dl.Download(ctx, q, func(ctx context.Context, job scheduler.Job) error {
		name := job.Meta.(string)
		fileURL, key, hash, err := r.packageFetch(name)
		if err != nil {
			return err
		}
		if _, err := r.fetchFile(ctx, fileURL, key, hash, hash == ""); err != nil {
			return err
		}
		mu.Lock()
		fetched = append(fetched, name)
		mu.Unlock()
		return nil
	})

	sort.Strings(fetched)
	r.logger.Debug("Prefetched metadata of {Packages}", fetched)
	return len(fetched)
}

// UnknownPackageError reports a package the repository does not list.
type UnknownPackageError struct {
	Repository string
	Package    string
}

func (e *UnknownPackageError) Error() string {
	return "package " + e.Package + " not found in repository " + e.Repository
}
