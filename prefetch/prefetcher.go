// Package prefetch attaches the scheduler, repository cache and legacy tag
// filter to a package manager host.
//
// A Prefetcher is activated once per host invocation. It then warms the
// repository metadata cache, prefetches the metadata the solver is about to
// ask for, and downloads dist archives into the host's file cache before the
// host installs them. Every handler is a no-op once the prefetcher is
// disabled.
package prefetch

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/willibrandon/composer-prefetch/auth"
	"github.com/willibrandon/composer-prefetch/cache"
	"github.com/willibrandon/composer-prefetch/config"
	composerhttp "github.com/willibrandon/composer-prefetch/http"
	"github.com/willibrandon/composer-prefetch/legacy"
	"github.com/willibrandon/composer-prefetch/observability"
	"github.com/willibrandon/composer-prefetch/repository"
	"github.com/willibrandon/composer-prefetch/resilience"
	"github.com/willibrandon/composer-prefetch/scheduler"
)

// State is the activation state of a Prefetcher.
type State int32

const (
	Idle State = iota
	RepoPopulationEligible
	RepoPopulating
	Disabled
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case RepoPopulationEligible:
		return "repo-population-eligible"
	case RepoPopulating:
		return "repo-populating"
	case Disabled:
		return "disabled"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Option configures a Prefetcher.
type Option func(*Prefetcher)

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(p *Prefetcher) {
		p.logger = logger
	}
}

// WithFetcher replaces the multiplexed HTTP client.
func WithFetcher(f scheduler.Fetcher) Option {
	return func(p *Prefetcher) {
		p.fetcher = f
	}
}

// WithSequential disables concurrent transfers.
func WithSequential() Option {
	return func(p *Prefetcher) {
		p.sequential = true
	}
}

// WithRenderer sets the progress renderer.
func WithRenderer(r scheduler.Renderer) Option {
	return func(p *Prefetcher) {
		p.renderer = r
	}
}

// WithEnv replaces os.Getenv.
func WithEnv(getenv func(string) string) Option {
	return func(p *Prefetcher) {
		p.getenv = getenv
	}
}

// Prefetcher drives prefetching for one host invocation.
type Prefetcher struct {
	host       Host
	logger     observability.Logger
	fetcher    scheduler.Fetcher
	sequential bool
	renderer   scheduler.Renderer
	getenv     func(string) string

	state atomic.Int32

	settings config.Settings
	auth     *auth.Store
	filter   *legacy.Filter
	dl       *scheduler.Downloader
	files    *cache.FileCache
	rfs      *RemoteFilesystem

	reposMu sync.Mutex
	repos   []*repository.Repository
	loaded  bool

	filesPopulated atomic.Bool
}

// New creates an inactive Prefetcher for host.
func New(host Host, opts ...Option) *Prefetcher {
	p := &Prefetcher{
		host:   host,
		getenv: os.Getenv,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = observability.NewNullLogger()
	}
	p.filter = legacy.NewFilter(p.logger)
	return p
}

// Activate reads the configuration and builds the transports and caches.
// A *config.ConfigurationError disables the prefetcher.
func (p *Prefetcher) Activate(ctx context.Context) error {
	if err := p.activate(ctx); err != nil {
		p.state.Store(int32(Disabled))
		var cfgErr *config.ConfigurationError
		if errors.As(err, &cfgErr) {
			p.logger.Warn("Prefetching disabled: {Error}", err)
		}
		return err
	}
	return nil
}

func (p *Prefetcher) activate(ctx context.Context) error {
	for _, name := range p.host.Plugins() {
		for _, competing := range config.CompetingPlugins {
			if strings.EqualFold(name, competing) {
				p.logger.Info("{Plugin} is installed, prefetching disabled", name)
				p.state.Store(int32(Disabled))
				return nil
			}
		}
	}

	settings, err := config.FromHost(p.host.Config())
	if err != nil {
		return err
	}
	p.settings = settings

	if err := p.loadConstraints(); err != nil {
		return err
	}
	if p.host.Command() == "outdated" {
		p.filter.Reset()
	}

	tlsConfig, err := composerhttp.TLSConfigFromFiles(settings.CAFile, settings.CAPath)
	if err != nil {
		key, value := config.KeyCAFile, settings.CAFile
		if value == "" {
			key, value = config.KeyCAPath, settings.CAPath
		}
		return &config.ConfigurationError{Key: key, Value: value, Err: err}
	}

	if p.auth, err = p.loadAuth(); err != nil {
		return &config.ConfigurationError{Key: "auth.json", Err: err}
	}

	opts := scheduler.Options{
		MaxWorkers: settings.Workers,
		MaxNesting: settings.MaxNesting,
		Logger:     p.logger,
		Renderer:   p.renderer,
		Sequential: p.newClient(tlsConfig, true),
	}
	if !p.sequential {
		opts.Concurrent = p.fetcher
		if opts.Concurrent == nil {
			opts.Concurrent = p.newClient(tlsConfig, false)
		}
	}
	p.dl = scheduler.New(opts)

	p.files, err = cache.NewFileCache(settings.CacheFilesDir)
	if err != nil {
		return &config.ConfigurationError{Key: config.KeyCacheFilesDir, Value: settings.CacheFilesDir, Err: err}
	}
	p.rfs = newRemoteFilesystem(p.dl)

	if p.eligible() {
		p.state.Store(int32(RepoPopulationEligible))
	} else {
		p.state.Store(int32(Idle))
	}

	p.logger.DebugContext(ctx, "Prefetcher active for {Command} with {Workers} workers, concurrent {Concurrent}",
		p.host.Command(), settings.Workers, p.dl.Concurrent())
	return nil
}

func (p *Prefetcher) newClient(tlsConfig *tls.Config, sequential bool) *composerhttp.Client {
	cfg := composerhttp.DefaultConfig()
	cfg.Logger = p.logger
	cfg.TLSConfig = tlsConfig
	cfg.DisableTLS = p.settings.DisableTLS
	cfg.Sequential = sequential
	cfg.EnableTracing = true
	bc := resilience.DefaultBreakerConfig()
	cfg.BreakerConfig = &bc
	if p.auth.Len() > 0 {
		cfg.Auth = p.auth
	}
	return composerhttp.NewClient(cfg)
}

// loadAuth reads the global and project auth.json, then COMPOSER_AUTH.
func (p *Prefetcher) loadAuth() (*auth.Store, error) {
	var paths []string
	if home := p.getenv("COMPOSER_HOME"); home != "" {
		paths = append(paths, filepath.Join(home, "auth.json"))
	}
	paths = append(paths, filepath.Join(p.host.WorkingDir(), "auth.json"))

	store, err := auth.Load(p.getenv, paths...)
	if err != nil {
		return nil, err
	}
	if n := store.Len(); n > 0 {
		p.logger.Debug("Loaded credentials for {Count} hosts", n)
	}
	return store, nil
}

// loadConstraints seeds the filter from the environment and the project's
// composer.json. The environment wins per package.
func (p *Prefetcher) loadConstraints() error {
	env, err := config.ParseRequire(p.getenv(config.EnvRequire))
	if err != nil {
		return err
	}

	var project map[string]string
	data, err := os.ReadFile(filepath.Join(p.host.WorkingDir(), p.descriptor()))
	switch {
	case err == nil:
		if project, err = config.LoadProjectRequire(data); err != nil {
			return err
		}
	case !os.IsNotExist(err):
		return fmt.Errorf("read %s: %w", p.descriptor(), err)
	}

	for name, constraint := range config.ResolveRequire(project, env) {
		if err := p.filter.AddConstraint(name, constraint); err != nil {
			return &config.ConfigurationError{Key: config.EnvRequire, Value: name + ":" + constraint, Err: err}
		}
	}
	if n := p.filter.Len(); n > 0 {
		p.logger.Debug("Restricting legacy tags of {Count} packages", n)
	}
	return nil
}

// descriptor is the project file name; COMPOSER overrides composer.json.
func (p *Prefetcher) descriptor() string {
	if name := p.getenv("COMPOSER"); name != "" {
		return name
	}
	return "composer.json"
}

func (p *Prefetcher) lockFile() string {
	return strings.TrimSuffix(p.descriptor(), ".json") + ".lock"
}

// eligible reports whether the running command benefits from warming the
// repository cache. A plain install from an existing lock file does not.
func (p *Prefetcher) eligible() bool {
	cmd := p.host.Command()
	if !config.IsAllowedCommand(cmd) {
		return false
	}
	if cmd != "install" {
		return true
	}
	dir := p.host.WorkingDir()
	return fileExists(filepath.Join(dir, p.descriptor())) && !fileExists(filepath.Join(dir, p.lockFile()))
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// State returns the current activation state.
func (p *Prefetcher) State() State {
	return State(p.state.Load())
}

func (p *Prefetcher) disabled() bool {
	return p.State() == Disabled || p.dl == nil
}

// Filter returns the legacy tag filter.
func (p *Prefetcher) Filter() *legacy.Filter {
	return p.filter
}

// Downloader returns the scheduler, or nil before activation.
func (p *Prefetcher) Downloader() *scheduler.Downloader {
	return p.dl
}

// Settings returns the settings read at activation.
func (p *Prefetcher) Settings() config.Settings {
	return p.settings
}
