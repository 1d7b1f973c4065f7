package repository

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gorilla/mux"

	composerhttp "github.com/willibrandon/composer-prefetch/http"
	"github.com/willibrandon/composer-prefetch/legacy"
	"github.com/willibrandon/composer-prefetch/observability"
	"github.com/willibrandon/composer-prefetch/scheduler"
)

// fakeRepo serves static Composer repository files.
type fakeRepo struct {
	server *httptest.Server

	mu           sync.Mutex
	files        map[string][]byte
	lastModified map[string]string
	hits         map[string]int
	conditional  map[string]int
	down         bool
}

func newFakeRepo(t *testing.T) *fakeRepo {
	t.Helper()
	f := &fakeRepo{
		files:        make(map[string][]byte),
		lastModified: make(map[string]string),
		hits:         make(map[string]int),
		conditional:  make(map[string]int),
	}

	router := mux.NewRouter()
	router.HandleFunc("/{path:.+}", f.serve).Methods(http.MethodGet)
	f.server = httptest.NewServer(router)
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeRepo) serve(w http.ResponseWriter, r *http.Request) {
	path := "/" + mux.Vars(r)["path"]

	f.mu.Lock()
	f.hits[path]++
	down := f.down
	body, ok := f.files[path]
	lm := f.lastModified[path]
	if r.Header.Get("If-Modified-Since") != "" {
		f.conditional[path]++
	}
	f.mu.Unlock()

	switch {
	case down:
		http.Error(w, "maintenance", http.StatusServiceUnavailable)
	case !ok:
		http.NotFound(w, r)
	case lm != "" && r.Header.Get("If-Modified-Since") == lm:
		w.WriteHeader(http.StatusNotModified)
	default:
		if lm != "" {
			w.Header().Set("Last-Modified", lm)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
	}
}

// add serves body at path.
func (f *fakeRepo) add(path, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[path] = []byte(body)
}

func hashOf(body string) string {
	sum := sha256.Sum256([]byte(body))
	return hex.EncodeToString(sum[:])
}

func (f *fakeRepo) setLastModified(path, lm string) {
	f.mu.Lock()
	f.lastModified[path] = lm
	f.mu.Unlock()
}

func (f *fakeRepo) setDown(down bool) {
	f.mu.Lock()
	f.down = down
	f.mu.Unlock()
}

func (f *fakeRepo) hitCount(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hits[path]
}

func (f *fakeRepo) conditionalCount(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.conditional[path]
}

func newTestRepository(t *testing.T, f *fakeRepo, filter *legacy.Filter, logger observability.Logger) *Repository {
	t.Helper()
	client := composerhttp.NewClient(composerhttp.DefaultConfig())
	dl := scheduler.New(scheduler.Options{Concurrent: client, MaxWorkers: 4, Logger: logger})

	r, err := New(Config{Name: "fake", URL: f.server.URL, CacheRoot: t.TempDir()}, dl, filter, logger)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return r
}

// openTestRepository creates a repository over an existing cache root with
// its own downloader. maxNesting 0 keeps the scheduler default.
func openTestRepository(t *testing.T, f *fakeRepo, cacheRoot string, filter *legacy.Filter, maxNesting int) *Repository {
	t.Helper()
	client := composerhttp.NewClient(composerhttp.DefaultConfig())
	dl := scheduler.New(scheduler.Options{Concurrent: client, MaxWorkers: 4, MaxNesting: maxNesting})

	r, err := New(Config{Name: "fake", URL: f.server.URL, CacheRoot: cacheRoot}, dl, filter, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return r
}
