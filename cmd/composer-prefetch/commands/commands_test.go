package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/willibrandon/composer-prefetch/cmd/composer-prefetch/output"
)

const fooRef = "0123456789abcdef0123456789abcdef01234567"

// repoServer is a composer repository with dist archives and an advisory
// API.
type repoServer struct {
	*httptest.Server

	mu   sync.Mutex
	hits map[string]int
}

func newRepoServer(t *testing.T) *repoServer {
	t.Helper()
	s := &repoServer{hits: make(map[string]int)}

	router := mux.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			s.mu.Lock()
			s.hits[r.URL.Path]++
			s.mu.Unlock()
			next.ServeHTTP(w, r)
		})
	})
	router.HandleFunc("/packages.json", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"packages":[],"metadata-url":"/p2/%package%.json"}`))
	})
	router.HandleFunc("/p2/{vendor}/{name}.json", func(w http.ResponseWriter, r *http.Request) {
		v := mux.Vars(r)
		name := v["vendor"] + "/" + v["name"]
		if name != "acme/foo" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{"packages":{"acme/foo":{"1.0.0":{"name":"acme/foo","version":"1.0.0","version_normalized":"1.0.0.0"}}}}`))
	})
	router.HandleFunc("/dist/{file}", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("PK archive " + mux.Vars(r)["file"]))
	})
	router.HandleFunc("/api/security-advisories/", func(w http.ResponseWriter, r *http.Request) {
		found := map[string]any{}
		for _, n := range r.URL.Query()["packages[]"] {
			if n == "acme/foo" {
				found[n] = []map[string]string{{
					"advisoryId":       "PKSA-foo",
					"packageName":      n,
					"affectedVersions": ">=1.0.0,<1.0.5",
					"title":            "Remote code execution",
					"cve":              "CVE-2026-0001",
				}}
			}
		}
		if len(found) == 0 {
			_, _ = w.Write([]byte(`{"advisories":[]}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"advisories": found})
	})

	s.Server = httptest.NewServer(router)
	t.Cleanup(s.Close)
	return s
}

func (s *repoServer) hitCount(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[path]
}

// writeProject creates a project using srv as its only repository, with
// caches under the test's temp dir. withLock adds a lock holding acme/foo.
func writeProject(t *testing.T, srv *repoServer, withLock bool) (dir, filesDir string) {
	t.Helper()
	t.Setenv("COMPOSER", "")
	t.Setenv("AUTOMATIC_PREFETCHER_REQUIRE", "")

	dir = t.TempDir()
	cacheDir := t.TempDir()
	filesDir = filepath.Join(cacheDir, "files")

	composer := map[string]any{
		"name":    "test/project",
		"require": map[string]string{"acme/foo": "^1.0", "php": ">=8.1"},
		"config": map[string]any{
			"cache-repo-dir":  filepath.Join(cacheDir, "repo"),
			"cache-files-dir": filesDir,
		},
		"repositories": []any{
			map[string]string{"type": "composer", "url": srv.URL},
			map[string]bool{"packagist.org": false},
		},
	}
	writeJSON(t, filepath.Join(dir, "composer.json"), composer)

	if withLock {
		lock := map[string]any{
			"packages": []any{map[string]any{
				"name":    "acme/foo",
				"version": "1.0.0",
				"dist":    map[string]string{"type": "zip", "url": srv.URL + "/dist/foo.zip", "reference": fooRef},
			}},
			"packages-dev": []any{map[string]any{
				"name":    "acme/dev-tool",
				"version": "2.0.0",
				"dist":    map[string]string{"type": "zip", "url": srv.URL + "/dist/dev-tool.zip", "reference": "v2.0.0"},
			}},
		}
		writeJSON(t, filepath.Join(dir, "composer.lock"), lock)
	}
	return dir, filesDir
}

func writeJSON(t *testing.T, path string, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

func quietConsole() (*output.Console, *bytes.Buffer) {
	var out bytes.Buffer
	console := output.NewConsole(&out, &out, output.VerbosityDetailed)
	console.SetColors(false)
	return console, &out
}

func TestRunWarm(t *testing.T) {
	srv := newRepoServer(t)
	dir, _ := writeProject(t, srv, false)
	console, out := quietConsole()

	err := runWarm(context.Background(), console, dir, &warmOptions{Deep: true})
	require.NoError(t, err)

	assert.Equal(t, 1, srv.hitCount("/packages.json"))
	assert.GreaterOrEqual(t, srv.hitCount("/p2/acme/foo.json"), 1)
	assert.Zero(t, srv.hitCount("/p2/php.json"), "platform packages are never fetched")
	assert.Contains(t, out.String(), "Warmed 1 repositories")
}

func TestRunWarm_Shallow(t *testing.T) {
	srv := newRepoServer(t)
	dir, _ := writeProject(t, srv, false)
	console, _ := quietConsole()

	require.NoError(t, runWarm(context.Background(), console, dir, &warmOptions{Deep: false}))

	assert.Equal(t, 1, srv.hitCount("/packages.json"))
	assert.Zero(t, srv.hitCount("/p2/acme/foo.json"))
}

func TestRunWarm_RepoWithoutProject(t *testing.T) {
	srv := newRepoServer(t)
	t.Setenv("COMPOSER", "")
	t.Setenv("AUTOMATIC_PREFETCHER_REQUIRE", "")
	t.Setenv("COMPOSER_CACHE_DIR", t.TempDir())
	console, out := quietConsole()

	err := runWarm(context.Background(), console, t.TempDir(), &warmOptions{Repos: []string{srv.URL}, Deep: true})
	require.NoError(t, err)

	assert.Equal(t, 1, srv.hitCount("/packages.json"))
	assert.Contains(t, out.String(), srv.URL)
}

func TestRunWarm_MissingProject(t *testing.T) {
	console, _ := quietConsole()
	err := runWarm(context.Background(), console, t.TempDir(), &warmOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "composer.json")
}

func TestRunDist(t *testing.T) {
	srv := newRepoServer(t)
	dir, filesDir := writeProject(t, srv, true)
	console, out := quietConsole()

	require.NoError(t, runDist(context.Background(), console, dir, &distOptions{}))

	data, err := os.ReadFile(filepath.Join(filesDir, "acme", "foo", fooRef+".zip"))
	require.NoError(t, err)
	assert.Equal(t, "PK archive foo.zip", string(data))
	assert.Equal(t, 1, srv.hitCount("/dist/dev-tool.zip"))
	assert.Contains(t, out.String(), "2 of 2 archives cached")

	// archives already in the cache are not downloaded again
	out.Reset()
	require.NoError(t, runDist(context.Background(), console, dir, &distOptions{}))
	assert.Equal(t, 1, srv.hitCount("/dist/foo.zip"))
	assert.Contains(t, out.String(), "2 of 2 archives cached")
}

func TestRunDist_DryRun(t *testing.T) {
	srv := newRepoServer(t)
	dir, _ := writeProject(t, srv, true)
	console, out := quietConsole()

	require.NoError(t, runDist(context.Background(), console, dir, &distOptions{DryRun: true}))

	assert.Zero(t, srv.hitCount("/dist/foo.zip"))
	assert.Contains(t, out.String(), "0 of 2 archives cached, 2 to download")
	assert.Contains(t, out.String(), "missing acme/foo 1.0.0")
}

func TestRunDist_NoLock(t *testing.T) {
	srv := newRepoServer(t)
	dir, _ := writeProject(t, srv, false)
	console, _ := quietConsole()

	err := runDist(context.Background(), console, dir, &distOptions{})
	assert.ErrorIs(t, err, ErrNoLock)
}

func TestRunFilter(t *testing.T) {
	file := filepath.Join(t.TempDir(), "provider.json")
	require.NoError(t, os.WriteFile(file, []byte(`{"packages":{"acme/foo":{
		"1.0.0":{"version":"1.0.0","version_normalized":"1.0.0.0"},
		"2.0.0":{"version":"2.0.0","version_normalized":"2.0.0.0"}}}}`), 0o644))

	console, out := quietConsole()
	require.NoError(t, runFilter(console, file, &filterOptions{Require: []string{"acme/foo:^2.0"}}))

	var doc struct {
		Packages map[string]map[string]json.RawMessage `json:"packages"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &doc))
	assert.Contains(t, doc.Packages["acme/foo"], "2.0.0")
	assert.NotContains(t, doc.Packages["acme/foo"], "1.0.0")
}

func TestRunFilter_Errors(t *testing.T) {
	file := filepath.Join(t.TempDir(), "provider.json")
	require.NoError(t, os.WriteFile(file, []byte(`{"packages":{}}`), 0o644))

	tests := []struct {
		name    string
		file    string
		require []string
		want    string
	}{
		{"no constraints", file, nil, "--require"},
		{"bad constraint", file, []string{"acme/foo"}, "vendor/package:constraint"},
		{"missing file", filepath.Join(t.TempDir(), "nope.json"), []string{"acme/foo:^1.0"}, "failed to read"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			console, _ := quietConsole()
			err := runFilter(console, tt.file, &filterOptions{Require: tt.require})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestRunAudit(t *testing.T) {
	srv := newRepoServer(t)
	dir, _ := writeProject(t, srv, true)
	console, out := quietConsole()

	err := runAudit(context.Background(), console, dir, &auditOptions{Feed: srv.URL})

	var advErr *AdvisoriesError
	require.True(t, errors.As(err, &advErr), "err = %v", err)
	assert.Equal(t, 1, advErr.Count)
	assert.Contains(t, out.String(), "acme/foo 1.0.0: Remote code execution (CVE-2026-0001)")
	assert.Contains(t, out.String(), "pkg:composer/acme/foo@1.0.0")
}

func TestRunAudit_Clean(t *testing.T) {
	srv := newRepoServer(t)
	dir, _ := writeProject(t, srv, true)
	writeJSON(t, filepath.Join(dir, "composer.lock"), map[string]any{
		"packages": []any{map[string]any{"name": "acme/foo", "version": "1.0.5"}},
	})
	console, out := quietConsole()

	require.NoError(t, runAudit(context.Background(), console, dir, &auditOptions{Feed: srv.URL}))
	assert.Contains(t, out.String(), "No security advisories found for 1 packages")
	assert.NotContains(t, out.String(), "Warning")
}

func TestRunAudit_NoLock(t *testing.T) {
	srv := newRepoServer(t)
	dir, _ := writeProject(t, srv, false)
	console, _ := quietConsole()

	err := runAudit(context.Background(), console, dir, &auditOptions{Feed: srv.URL})
	assert.ErrorIs(t, err, ErrNoLock)
}
