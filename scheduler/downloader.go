// Package scheduler drives batches of fetch jobs over the shared transport.
//
// Download drains a Queue with a bounded number of workers. Job callbacks
// may push more jobs onto the queue being drained, and may start nested
// Download sessions of their own. All sessions share one worker limit; a job
// waiting on a nested session gives its slot back meanwhile. Nesting is
// capped: past MaxNesting the nested queue is handed to the outermost
// session and drained on a fresh goroutine at its level, so stack depth
// stays bounded however deep the dependency graph goes.
package scheduler

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/willibrandon/composer-prefetch/cache"
	composerhttp "github.com/willibrandon/composer-prefetch/http"
	"github.com/willibrandon/composer-prefetch/observability"
)

const (
	DefaultMaxWorkers = 12
	DefaultMaxNesting = 5

	resultCacheEntries = 1024
	resultCacheBytes   = 256 << 20
)

// Fetcher performs one fetch. *http.Client implements it.
type Fetcher interface {
	Fetch(ctx context.Context, req composerhttp.FetchRequest) (*composerhttp.Response, error)
}

// JobFunc handles one job, usually by calling Downloader.Fetch. Returned
// errors are logged and the job is skipped.
type JobFunc func(ctx context.Context, job Job) error

// Options configures a Downloader.
type Options struct {
	// Concurrent is the multiplexed fetcher. Nil selects sequential mode.
	Concurrent Fetcher

	// Sequential is used when Concurrent is nil. Nil creates a
	// single-connection client.
	Sequential Fetcher

	MaxWorkers int
	MaxNesting int

	Logger   observability.Logger
	Renderer Renderer
}

// Downloader runs Download sessions. It is safe for concurrent use.
type Downloader struct {
	fetcher    Fetcher
	concurrent bool
	maxWorkers int
	maxNesting int
	logger     observability.Logger
	renderer   Renderer

	results   *cache.MemoryCache[*composerhttp.Response]
	cacheNext atomic.Bool
	group     singleflight.Group

	// one token per running job, across every session
	slots chan struct{}
}

// New creates a Downloader.
func New(opts Options) *Downloader {
	d := &Downloader{
		maxWorkers: opts.MaxWorkers,
		maxNesting: opts.MaxNesting,
		logger:     opts.Logger,
		renderer:   opts.Renderer,
		results:    cache.NewMemoryCache[*composerhttp.Response](resultCacheEntries, resultCacheBytes),
	}
	if d.maxWorkers <= 0 {
		d.maxWorkers = DefaultMaxWorkers
	}
	if d.maxNesting <= 0 {
		d.maxNesting = DefaultMaxNesting
	}
	if d.logger == nil {
		d.logger = observability.NewNullLogger()
	}

	switch {
	case opts.Concurrent != nil:
		d.fetcher = opts.Concurrent
		d.concurrent = true
	case opts.Sequential != nil:
		d.fetcher = opts.Sequential
	default:
		d.fetcher = composerhttp.NewClientWithOptions(composerhttp.WithSequential(), composerhttp.WithLogger(d.logger))
	}
	if !d.concurrent {
		d.maxWorkers = 1
	}
	d.slots = make(chan struct{}, d.maxWorkers)
	return d
}

// Concurrent reports whether jobs run in parallel.
func (d *Downloader) Concurrent() bool {
	return d.concurrent
}

// MaxNesting returns the nesting cap.
func (d *Downloader) MaxNesting() int {
	return d.maxNesting
}

// CacheNext keeps the result of the next in-memory Fetch for the rest of the
// process, so later fetches of the same URL are served without a request.
func (d *Downloader) CacheNext() {
	d.cacheNext.Store(true)
}

// State returns a snapshot of the progress of the session ctx runs in, or
// the zero state outside any session. The outermost session also counts
// the transfers of the sessions nested in it.
func (d *Downloader) State(ctx context.Context) TransferState {
	s := sessionFrom(ctx)
	if s == nil {
		return TransferState{}
	}
	return s.state.snapshot()
}

type downloadOptions struct {
	quiet        bool
	showProgress bool
}

// DownloadOption configures one Download call.
type DownloadOption func(*downloadOptions)

// Quiet controls the informational message announcing the session.
func Quiet(quiet bool) DownloadOption {
	return func(o *downloadOptions) { o.quiet = quiet }
}

// ShowProgress controls progress rendering.
func ShowProgress(show bool) DownloadOption {
	return func(o *downloadOptions) { o.showProgress = show }
}

type session struct {
	id     string
	depth  int
	root   *session
	state  *sessionState
	logger observability.Logger
	render bool
}

// each calls fn with the session's state and, for a nested session, the
// outermost session's state.
func (s *session) each(fn func(*sessionState)) {
	fn(s.state)
	if s.root != s {
		fn(s.root.state)
	}
}

type sessionKey struct{}

func sessionFrom(ctx context.Context) *session {
	s, _ := ctx.Value(sessionKey{}).(*session)
	return s
}

// NestingLevel returns the Download nesting depth of ctx: 0 inside the jobs
// of an outermost session, -1 outside any session.
func NestingLevel(ctx context.Context) int {
	s := sessionFrom(ctx)
	if s == nil {
		return -1
	}
	return s.depth
}

// worker is the slot held by a running job. While the job waits on a nested
// session the slot is lent out, and taken back when the session returns.
type worker struct {
	slots chan struct{}

	mu      sync.Mutex
	lent    int
	stopped bool
}

type workerKey struct{}

func workerFrom(ctx context.Context) *worker {
	w, _ := ctx.Value(workerKey{}).(*worker)
	return w
}

func (w *worker) lend() bool {
	if w == nil {
		return false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return false
	}
	if w.lent == 0 {
		<-w.slots
	}
	w.lent++
	return true
}

func (w *worker) reclaim() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.lent--
	if w.lent == 0 && !w.stopped {
		w.slots <- struct{}{}
	}
}

// release frees the slot once the job has returned. A slot still lent to a
// nested session is not taken back.
func (w *worker) release() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopped = true
	if w.lent == 0 {
		<-w.slots
	}
}

// Download runs fn for every job in q, including jobs pushed while it runs,
// and returns once q is empty and no job is in flight.
//
// Called from inside a job, Download lends the job's worker slot to the
// nested session until it returns. At the nesting cap q is handed to the
// outermost session instead: it is drained at that session's level on a
// new goroutine, and Download still returns only once q is drained.
func (d *Downloader) Download(ctx context.Context, q *Queue, fn JobFunc, opts ...DownloadOption) {
	o := downloadOptions{quiet: true, showProgress: true}
	for _, opt := range opts {
		opt(&o)
	}

	parent := sessionFrom(ctx)
	if w := workerFrom(ctx); parent != nil && w.lend() {
		defer w.reclaim()
	}

	depth := 0
	if parent != nil {
		depth = parent.depth + 1
		if depth >= d.maxNesting {
			parent.state.update(func(s *TransferState) { s.MaxNestingReached = true })
			observability.DeferredSessionsTotal.Inc()
			parent.logger.Debug("Nesting cap {MaxNesting} reached, deferring {Count} jobs", d.maxNesting, q.Len())
			d.deferToRoot(ctx, parent.root, q, fn)
			return
		}
	}

	sess := &session{
		id:    uuid.NewString(),
		depth: depth,
		state: &sessionState{state: TransferState{NestingLevel: depth}},
		// one bar per outermost session
		render: o.showProgress && d.renderer != nil && parent == nil,
	}
	sess.logger = d.logger.ForContext("SessionId", sess.id)
	sess.root = sess
	if parent != nil {
		sess.root = parent.root
	}

	ctx, span := observability.StartSpan(ctx, "scheduler.download",
		observability.AttrJobCount.Int(q.Len()),
		observability.AttrNestingLevel.Int(depth),
	)
	defer observability.EndSpan(span, nil)

	ctx = context.WithValue(ctx, sessionKey{}, sess)

	if !o.quiet {
		sess.logger.Info("Prefetching {Count} files", q.Len())
	}
	if sess.render {
		d.renderer.Start(q.Len())
		defer d.renderer.Finish()
	}

	d.drain(ctx, sess, q, fn)
}

// deferToRoot drains q under root on a new goroutine, so the stack of the
// deferring job stops growing, and waits for it.
func (d *Downloader) deferToRoot(ctx context.Context, root *session, q *Queue, fn JobFunc) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		d.drain(context.WithValue(ctx, sessionKey{}, root), root, q, fn)
	}()
	<-done
}

// acquire takes a worker slot, or fails when ctx ends first.
func (d *Downloader) acquire(ctx context.Context) bool {
	select {
	case d.slots <- struct{}{}:
		return true
	case <-ctx.Done():
		return false
	}
}

// drain pops jobs while fewer than maxWorkers are running. A finished job
// may have pushed more, so the queue is polled again after each completion.
func (d *Downloader) drain(ctx context.Context, sess *session, q *Queue, fn JobFunc) {
	if !d.concurrent {
		for ctx.Err() == nil {
			job, ok := q.Pop()
			if !ok || !d.acquire(ctx) {
				return
			}
			d.run(ctx, sess, job, fn)
		}
		return
	}

	done := make(chan struct{}, d.maxWorkers)
	inFlight := 0
	for {
		for inFlight < d.maxWorkers && ctx.Err() == nil {
			job, ok := q.Pop()
			if !ok || !d.acquire(ctx) {
				break
			}
			inFlight++
			go func() {
				defer func() { done <- struct{}{} }()
				d.run(ctx, sess, job, fn)
			}()
		}
		if inFlight == 0 {
			return
		}
		<-done
		inFlight--
	}
}

// run calls fn holding a worker slot, which it releases.
func (d *Downloader) run(ctx context.Context, sess *session, job Job, fn JobFunc) {
	w := &worker{slots: d.slots}
	ctx = context.WithValue(ctx, workerKey{}, w)

	start := time.Now()
	err := fn(ctx, job)
	w.release()
	observability.JobDuration.Observe(time.Since(start).Seconds())

	if err == nil {
		observability.JobsTotal.WithLabelValues("success").Inc()
		return
	}

	observability.JobsTotal.WithLabelValues("skipped").Inc()
	if composerhttp.IsTransportError(err) || errors.Is(err, context.Canceled) {
		sess.logger.Debug("Skipping {Url}: {Error}", job.URL, err)
		return
	}
	sess.logger.Warn("Skipping {Url}: {Error}", job.URL, err)
}

// Fetch performs the job's request. Progress is added to the session in ctx.
// Identical in-flight requests are collapsed into one.
func (d *Downloader) Fetch(ctx context.Context, job Job) (*composerhttp.Response, error) {
	inMemory := job.Destination == ""
	if inMemory {
		if resp, ok := d.results.Get(job.URL); ok {
			observability.RecordCacheHit(ctx, true)
			return resp, nil
		}
	}
	store := inMemory && (job.CacheResult || d.cacheNext.Swap(false))

	sess := sessionFrom(ctx)
	req := composerhttp.FetchRequest{
		Origin:      job.Origin,
		URL:         job.URL,
		Headers:     job.Headers,
		Destination: job.Destination,
		Progress:    d.progress(sess, job.Progress),
	}
	if sess != nil {
		sess.each(func(ss *sessionState) { ss.update(func(s *TransferState) { s.JobCount++ }) })
	}

	v, err, _ := d.group.Do(flightKey(job), func() (any, error) {
		return d.fetcher.Fetch(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	resp := v.(*composerhttp.Response)

	if store {
		d.results.Set(job.URL, resp, len(resp.Body), 0)
	}
	return resp, nil
}

// progress feeds transfer events into the session and renders when the
// throttle allows, then forwards them to the job's own callback.
func (d *Downloader) progress(sess *session, next composerhttp.ProgressFunc) composerhttp.ProgressFunc {
	if sess == nil {
		return next
	}
	var last int64
	return func(ev composerhttp.ProgressEvent) {
		var apply func(*TransferState)
		switch ev.Type {
		case composerhttp.EventSizeKnown:
			apply = func(s *TransferState) {
				s.BytesMaxCount++
				s.BytesMax += ev.Total
			}
		case composerhttp.EventProgress:
			delta := ev.Transferred - last
			last = ev.Transferred
			apply = func(s *TransferState) { s.BytesTransferred += delta }
		}

		if apply != nil {
			if sess.root != sess {
				sess.state.update(apply)
			}
			// nested transfers move the outermost bar
			pct, ok := sess.root.state.advance(apply, time.Now())
			if ok && sess.root.render {
				d.renderer.Render(int(pct))
			}
		}
		if next != nil {
			next(ev)
		}
	}
}

func flightKey(job Job) string {
	var b strings.Builder
	b.WriteString(job.URL)
	b.WriteByte(0)
	b.WriteString(job.Destination)
	if len(job.Headers) > 0 {
		keys := make([]string, 0, len(job.Headers))
		for k := range job.Headers {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			b.WriteByte(0)
			b.WriteString(strings.ToLower(k))
			b.WriteByte('=')
			b.WriteString(job.Headers[k])
		}
	}
	return b.String()
}
