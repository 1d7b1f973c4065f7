package prefetch

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/gorilla/mux"

	"github.com/willibrandon/composer-prefetch/config"
)

type fakeHost struct {
	command string
	plugins []string
	dir     string
	cfg     config.MapConfig
	repos   fakeRepositories
	dryRun  bool
}

func (h *fakeHost) Command() string                      { return h.command }
func (h *fakeHost) Plugins() []string                    { return h.plugins }
func (h *fakeHost) WorkingDir() string                   { return h.dir }
func (h *fakeHost) Config() config.HostConfig            { return h.cfg }
func (h *fakeHost) RepositoryManager() RepositoryManager { return h.repos }
func (h *fakeHost) DryRun() bool                         { return h.dryRun }

type fakeRepositories []RepositoryConfig

func (r fakeRepositories) Repositories() []RepositoryConfig { return r }

// newHost returns an update-command host with its caches under a temp dir.
func newHost(t *testing.T, repos ...RepositoryConfig) *fakeHost {
	t.Helper()
	root := t.TempDir()
	return &fakeHost{
		command: "update",
		dir:     filepath.Join(root, "project"),
		cfg: config.MapConfig{
			config.KeyCacheFilesDir: filepath.Join(root, "cache", "files"),
			config.KeyCacheRepoDir:  filepath.Join(root, "cache", "repo"),
		},
		repos: repos,
	}
}

func (h *fakeHost) writeFile(t *testing.T, name, content string) {
	t.Helper()
	if err := os.MkdirAll(h.dir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(h.dir, name), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func noEnv(string) string { return "" }

func envOf(vars map[string]string) func(string) string {
	return func(k string) string { return vars[k] }
}

type fakeLink struct{ target, constraint string }

func (l fakeLink) Target() string     { return l.target }
func (l fakeLink) Constraint() string { return l.constraint }

type fakePackage struct {
	name      string
	version   string
	requires  []Link
	conflicts []Link
	replaces  []Link
	distType  string
	distURL   string
	mirrors   []string
	reference string
}

func (p *fakePackage) Name() string          { return p.name }
func (p *fakePackage) Version() string       { return p.version }
func (p *fakePackage) Requires() []Link      { return p.requires }
func (p *fakePackage) Conflicts() []Link     { return p.conflicts }
func (p *fakePackage) Replaces() []Link      { return p.replaces }
func (p *fakePackage) DistType() string      { return p.distType }
func (p *fakePackage) DistURL() string       { return p.distURL }
func (p *fakePackage) DistMirrors() []string { return p.mirrors }
func (p *fakePackage) DistReference() string { return p.reference }

// fakePool answers lookups from a fixed set of packages and counts them.
type fakePool struct {
	packages map[string][]Package

	mu      sync.Mutex
	lookups map[string]int
}

func newFakePool(pkgs ...*fakePackage) *fakePool {
	fp := &fakePool{packages: make(map[string][]Package), lookups: make(map[string]int)}
	for _, p := range pkgs {
		fp.packages[p.name] = append(fp.packages[p.name], p)
	}
	return fp
}

func (fp *fakePool) WhatProvides(name, constraint string, bypassFilters bool) []Package {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	fp.lookups[name]++
	return fp.packages[name]
}

func (fp *fakePool) lookupCount(name string) int {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	return fp.lookups[name]
}

type fakeRequest []SolverJob

func (r fakeRequest) Jobs() []SolverJob { return r }

type fakeOperation struct {
	jobType string
	pkg     Package
}

func (o fakeOperation) JobType() string  { return o.jobType }
func (o fakeOperation) Package() Package { return o.pkg }

type fakeInstallerEvent struct {
	pool Pool
	req  Request
	ops  []Operation
}

func (e *fakeInstallerEvent) Pool() Pool              { return e.pool }
func (e *fakeInstallerEvent) Request() Request        { return e.req }
func (e *fakeInstallerEvent) Operations() []Operation { return e.ops }

type fakeDownloadEvent struct {
	url string
	rfs *RemoteFilesystem
}

func (e *fakeDownloadEvent) ProcessedURL() string                    { return e.url }
func (e *fakeDownloadEvent) SetRemoteFilesystem(r *RemoteFilesystem) { e.rfs = r }

// fakeServer serves a composer repository and dist archives.
type fakeServer struct {
	server *httptest.Server

	mu    sync.Mutex
	files map[string]string
	hits  map[string]int
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	s := &fakeServer{files: make(map[string]string), hits: make(map[string]int)}

	router := mux.NewRouter()
	router.HandleFunc("/echo-header/{name}", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(r.Header.Get(mux.Vars(r)["name"])))
	})
	router.HandleFunc("/{path:.+}", s.serve).Methods(http.MethodGet)
	s.server = httptest.NewServer(router)
	t.Cleanup(s.server.Close)

	s.add("/packages.json", `{"packages":[],"metadata-url":"/p2/%package%.json"}`)
	return s
}

func (s *fakeServer) serve(w http.ResponseWriter, r *http.Request) {
	path := "/" + mux.Vars(r)["path"]
	s.mu.Lock()
	s.hits[path]++
	body, ok := s.files[path]
	s.mu.Unlock()

	if !ok {
		http.NotFound(w, r)
		return
	}
	_, _ = w.Write([]byte(body))
}

func (s *fakeServer) add(path, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[path] = body
}

func (s *fakeServer) addPackage(name string) {
	s.add("/p2/"+name+".json",
		`{"packages":{"`+name+`":{"1.0.0":{"name":"`+name+`","version":"1.0.0","version_normalized":"1.0.0.0"}}}}`)
}

func (s *fakeServer) hitCount(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[path]
}

func (s *fakeServer) repository() RepositoryConfig {
	return RepositoryConfig{Name: "fake", Type: "composer", URL: s.server.URL}
}
