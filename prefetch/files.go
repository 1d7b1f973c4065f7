package prefetch

import (
	"context"
	"regexp"
	"sync/atomic"

	"github.com/willibrandon/composer-prefetch/observability"
	"github.com/willibrandon/composer-prefetch/scheduler"
)

var githubZipball = regexp.MustCompile(`(?i)^https://api\.github\.com/repos(/[^/]+/[^/]+/)zipball(/.*)?$`)

// codeloadURL rewrites a GitHub API zipball URL to the codeload URL it
// redirects to, saving a round trip per archive.
func codeloadURL(u string) string {
	return githubZipball.ReplaceAllString(u, "https://codeload.github.com${1}legacy.zip${2}")
}

type distDownload struct {
	pkg  string
	path string
}

// OnPostDependenciesSolving downloads the archives of the solved operations.
func (p *Prefetcher) OnPostDependenciesSolving(ctx context.Context, ev InstallerEvent) error {
	return p.PopulateFileCache(ctx, ev.Operations())
}

// OnPreInstallOrUpdate downloads the archives before the first package is
// installed or updated.
func (p *Prefetcher) OnPreInstallOrUpdate(ctx context.Context, ev InstallerEvent) error {
	return p.PopulateFileCache(ctx, ev.Operations())
}

// ArchivePath returns where the dist archive of pkg lives in the file cache
// and the URL it is downloaded from. ok is false for packages without a
// dist or before activation.
func (p *Prefetcher) ArchivePath(pkg Package) (path, distURL string, ok bool) {
	if p.files == nil || pkg.DistType() == "" {
		return "", "", false
	}
	distURL = pkg.DistURL()
	if distURL == "" {
		mirrors := pkg.DistMirrors()
		if len(mirrors) == 0 {
			return "", "", false
		}
		distURL = mirrors[0]
	}
	path = p.files.PathForPackage(pkg.Name(), pkg.DistReference(), distURL, pkg.DistType())
	return path, distURL, true
}

// PopulateFileCache downloads the dist archive of every install and update
// operation into the file cache, where the host finds it. It runs at most
// once per invocation and never in dry-run mode.
func (p *Prefetcher) PopulateFileCache(ctx context.Context, ops []Operation) error {
	if p.disabled() || p.host.DryRun() {
		return nil
	}
	if !p.filesPopulated.CompareAndSwap(false, true) {
		return nil
	}

	q := scheduler.NewQueue()
	queued := make(map[string]bool)
	cached := 0
	for _, op := range ops {
		if t := op.JobType(); t != "install" && t != "update" {
			continue
		}
		pkg := op.Package()
		if pkg == nil {
			continue
		}
		path, distURL, ok := p.ArchivePath(pkg)
		if !ok || queued[path] {
			continue
		}
		if p.files.Exists(path) {
			cached++
			continue
		}
		queued[path] = true
		q.Push(scheduler.Job{
			Origin:      pkg.Name(),
			URL:         codeloadURL(distURL),
			Destination: path,
			Meta:        distDownload{pkg: pkg.Name(), path: path},
		})
	}
	if q.Len() == 0 {
		return nil
	}

	ctx, span := observability.StartSpan(ctx, "prefetch.dist",
		observability.AttrJobCount.Int(q.Len()))

	var done atomic.Int32
	p.dl.Download(ctx, q, func(ctx context.Context, job scheduler.Job) error {
		if _, err := p.dl.Fetch(ctx, job); err != nil {
			return err
		}
		done.Add(1)
		return nil
	}, scheduler.Quiet(false))

	p.logger.Debug("Downloaded {Count} archives, {Cached} already cached", done.Load(), cached)
	observability.EndSpan(span, nil)
	return nil
}
