package prefetch

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/willibrandon/composer-prefetch/observability"
	"github.com/willibrandon/composer-prefetch/repository"
	"github.com/willibrandon/composer-prefetch/scheduler"
)

// PopulateRepoCache warms the metadata cache of every composer repository:
// one Download across the repositories, each job loading the root listing
// and then its provider listings. It only runs while the prefetcher is
// eligible and returns it to Idle.
func (p *Prefetcher) PopulateRepoCache(ctx context.Context) error {
	if !p.state.CompareAndSwap(int32(RepoPopulationEligible), int32(RepoPopulating)) {
		return nil
	}
	defer p.state.Store(int32(Idle))

	ctx, span := observability.StartSpan(ctx, "prefetch.repos")
	n := p.loadRepositories(ctx, true)
	span.SetAttributes(observability.AttrJobCount.Int(n))
	observability.EndSpan(span, nil)
	return nil
}

// composerRepositories returns the configured repositories the cache can
// serve: composer type, http(s) URL, and not forced to lazy providers.
func (p *Prefetcher) composerRepositories() []RepositoryConfig {
	rm := p.host.RepositoryManager()
	if rm == nil {
		return nil
	}
	var out []RepositoryConfig
	for _, rc := range rm.Repositories() {
		if rc.Type != "composer" || rc.ForceLazyProviders {
			continue
		}
		u, err := url.Parse(rc.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			continue
		}
		out = append(out, rc)
	}
	return out
}

// loadRepositories builds the repositories once and loads their listings
// with one Download. It returns the number of repositories loaded.
func (p *Prefetcher) loadRepositories(ctx context.Context, cacheNext bool) int {
	p.reposMu.Lock()
	defer p.reposMu.Unlock()
	if p.loaded {
		return len(p.repos)
	}
	p.loaded = true

	q := scheduler.NewQueue()
	for _, rc := range p.composerRepositories() {
		repo, err := repository.New(repository.Config{
			Name:      rc.Name,
			URL:       rc.URL,
			CacheRoot: p.settings.CacheRepoDir,
		}, p.dl, p.filter, p.logger)
		if err != nil {
			p.logger.Debug("Skipping repository {Url}: {Error}", rc.URL, err)
			continue
		}
		if cacheNext {
			repo.CacheNext()
		}
		p.repos = append(p.repos, repo)
		q.Push(scheduler.Job{Origin: repo.Name(), URL: repo.URL() + "/packages.json", Meta: repo})
	}
	if q.Len() == 0 {
		return 0
	}

	p.dl.Download(ctx, q, func(ctx context.Context, job scheduler.Job) error {
		repo := job.Meta.(*repository.Repository)
		root, err := repo.LoadRoot(ctx)
		if err != nil {
			return err
		}
		_, err = repo.FetchProviderListings(ctx, root)
		return err
	})
	return len(p.repos)
}

// Repositories returns the repositories loaded so far.
func (p *Prefetcher) Repositories() []*repository.Repository {
	p.reposMu.Lock()
	defer p.reposMu.Unlock()
	out := make([]*repository.Repository, len(p.repos))
	copy(out, p.repos)
	return out
}

// fetchMetadata fetches name's metadata from every repository that lists
// it. Misses are not errors; the host reports unknown packages itself.
func (p *Prefetcher) fetchMetadata(ctx context.Context, name string) {
	for _, repo := range p.Repositories() {
		if !repo.HasPackage(name) {
			continue
		}
		if _, err := repo.FetchPackage(ctx, name); err != nil {
			p.logger.Debug("Prefetching {Package} from {Repository} failed: {Error}", name, repo.Name(), err)
		}
	}
}

// isPlatform reports whether name is a platform package (php, ext-*, lib-*,
// composer-plugin-api, ...). Those never have a vendor prefix.
func isPlatform(name string) bool {
	return !strings.Contains(name, "/")
}

// maxPrefetchDepth bounds which names of the dependency closure are
// prefetched before solving: the requested packages and their direct links.
const maxPrefetchDepth = 1

// dependencyClosure walks pool breadth first from the install and update
// jobs through requires, conflicts and replaces. It returns every
// non-platform name reached, in visiting order, with its distance from the
// request.
func dependencyClosure(pool Pool, jobs []SolverJob) ([]string, map[string]int) {
	type step struct {
		name       string
		constraint string
	}

	depth := make(map[string]int)
	var (
		order []string
		queue []step
	)
	visit := func(name, constraint string, d int) {
		name = strings.ToLower(name)
		if isPlatform(name) {
			return
		}
		if _, seen := depth[name]; seen {
			return
		}
		depth[name] = d
		order = append(order, name)
		queue = append(queue, step{name, constraint})
	}

	for _, job := range jobs {
		if job.Command == "install" || job.Command == "update" {
			visit(job.PackageName, job.Constraint, 0)
		}
	}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, pkg := range pool.WhatProvides(cur.name, cur.constraint, true) {
			for _, links := range [][]Link{pkg.Requires(), pkg.Conflicts(), pkg.Replaces()} {
				for _, link := range links {
					visit(link.Target(), link.Constraint(), depth[cur.name]+1)
				}
			}
		}
	}
	return order, depth
}

// OnPreDependenciesSolving prefetches the metadata the solver reads first.
// It expands the request to its dependency closure through the pool, then
// fetches the requested packages and their direct dependencies from every
// repository in one batched Download.
func (p *Prefetcher) OnPreDependenciesSolving(ctx context.Context, ev InstallerEvent) error {
	if p.disabled() {
		return nil
	}
	p.loadRepositories(ctx, false)

	ctx, span := observability.StartSpan(ctx, "prefetch.solve")

	closure, depth := dependencyClosure(ev.Pool(), ev.Request().Jobs())
	var names []string
	for _, name := range closure {
		if depth[name] <= maxPrefetchDepth {
			names = append(names, name)
		}
	}

	q := scheduler.NewQueue()
	if len(names) > 0 {
		for _, repo := range p.Repositories() {
			q.Push(scheduler.Job{Origin: repo.Name(), URL: repo.URL(), Meta: repo})
		}
	}

	var fetched atomic.Int32
	p.dl.Download(ctx, q, func(ctx context.Context, job scheduler.Job) error {
		repo := job.Meta.(*repository.Repository)
		fetched.Add(int32(repo.Prefetch(ctx, names)))
		return nil
	}, scheduler.Quiet(false))

	p.logger.Debug("Dependency closure has {Count} packages, prefetched {Fetched} of {Requested}",
		len(closure), fetched.Load(), len(names))
	span.SetAttributes(observability.AttrJobCount.Int(len(names)))
	observability.EndSpan(span, nil)
	return nil
}

// PrefetchingPool fetches a package's metadata through the repository cache
// the first time it is looked up, then delegates to the host pool.
type PrefetchingPool struct {
	ctx  context.Context
	p    *Prefetcher
	next Pool

	mu      sync.Mutex
	fetched map[string]*sync.Once
}

// WrapPool decorates pool. ctx bounds the fetches made by lookups.
func (p *Prefetcher) WrapPool(ctx context.Context, pool Pool) *PrefetchingPool {
	return &PrefetchingPool{ctx: ctx, p: p, next: pool, fetched: make(map[string]*sync.Once)}
}

// WhatProvides implements Pool.
func (pp *PrefetchingPool) WhatProvides(name, constraint string, bypassFilters bool) []Package {
	key := strings.ToLower(name)
	if !isPlatform(key) && !pp.p.disabled() {
		pp.mu.Lock()
		once, ok := pp.fetched[key]
		if !ok {
			once = new(sync.Once)
			pp.fetched[key] = once
		}
		pp.mu.Unlock()
		once.Do(func() { pp.p.fetchMetadata(pp.ctx, key) })
	}
	return pp.next.WhatProvides(name, constraint, bypassFilters)
}
