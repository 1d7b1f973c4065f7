package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	composerhttp "github.com/willibrandon/composer-prefetch/http"
)

type staticFeed map[string][]Advisory

func (f staticFeed) Advisories(_ context.Context, names []string) (map[string][]Advisory, error) {
	out := make(map[string][]Advisory)
	for _, n := range names {
		if a, ok := f[n]; ok {
			out[n] = a
		}
	}
	return out, nil
}

type failingFeed struct{}

func (failingFeed) Advisories(context.Context, []string) (map[string][]Advisory, error) {
	return nil, errors.New("feed unavailable")
}

func TestCheck(t *testing.T) {
	feed := staticFeed{
		"symfony/http-kernel": {
			{ID: "PKSA-2", PackageName: "symfony/http-kernel", AffectedVersions: ">=5.0.0,<5.4.20|>=6.0.0,<6.2.6", CVE: "CVE-2022-24894"},
			{ID: "PKSA-1", PackageName: "symfony/http-kernel", AffectedVersions: ">=2.0.0,<2.3.41"},
		},
		"cakephp/cakephp": {
			{ID: "PKSA-3", PackageName: "cakephp/cakephp", AffectedVersions: ">=3.5.0,<3.5.18"},
			{ID: "PKSA-4", PackageName: "cakephp/cakephp", AffectedVersions: "not a range"},
		},
	}

	findings, err := Check(context.Background(), feed, []Installed{
		{Name: "symfony/http-kernel", Version: "v5.4.1"},
		{Name: "cakephp/cakephp", Version: "3.6.15"},
		{Name: "monolog/monolog", Version: "2.9.1"},
	})
	require.NoError(t, err)
	require.Len(t, findings, 1)

	f := findings[0]
	assert.Equal(t, "PKSA-2", f.Advisory.ID)
	assert.Equal(t, "CVE-2022-24894", f.Advisory.CVE)
	assert.Equal(t, "pkg:composer/symfony/http-kernel@v5.4.1", f.PURL)
}

func TestCheck_Sorted(t *testing.T) {
	feed := staticFeed{
		"b/b": {{ID: "2", AffectedVersions: "<2.0"}, {ID: "1", AffectedVersions: "<2.0"}},
		"a/a": {{ID: "3", AffectedVersions: "*"}},
	}
	findings, err := Check(context.Background(), feed, []Installed{
		{Name: "b/b", Version: "1.0.0"},
		{Name: "a/a", Version: "1.0.0"},
	})
	require.NoError(t, err)

	var got []string
	for _, f := range findings {
		got = append(got, f.Package.Name+"#"+f.Advisory.ID)
	}
	assert.Equal(t, []string{"a/a#3", "b/b#1", "b/b#2"}, got)
}

func TestCheck_Errors(t *testing.T) {
	_, err := Check(context.Background(), failingFeed{}, []Installed{{Name: "a/a", Version: "1.0"}})
	assert.Error(t, err)

	findings, err := Check(context.Background(), failingFeed{}, nil)
	assert.NoError(t, err)
	assert.Empty(t, findings)
}

func TestPURL(t *testing.T) {
	tests := []struct {
		name, version, want string
	}{
		{"symfony/console", "v7.0.0", "pkg:composer/symfony/console@v7.0.0"},
		{"CakePHP/CakePHP", "3.5.0", "pkg:composer/cakephp/cakephp@3.5.0"},
		{"monolog/monolog", "", "pkg:composer/monolog/monolog"},
	}
	for _, tt := range tests {
		if got := PURL(tt.name, tt.version); got != tt.want {
			t.Errorf("PURL(%q, %q) = %q, want %q", tt.name, tt.version, got, tt.want)
		}
	}
}

// advisoryServer answers like the public advisory API.
func advisoryServer(t *testing.T, advisories map[string][]Advisory) (*httptest.Server, *[][]string) {
	t.Helper()
	var (
		mu       sync.Mutex
		requests [][]string
	)

	router := mux.NewRouter()
	router.HandleFunc("/api/security-advisories/", func(w http.ResponseWriter, r *http.Request) {
		names := r.URL.Query()["packages[]"]
		mu.Lock()
		requests = append(requests, names)
		mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		found := make(map[string][]Advisory)
		for _, n := range names {
			for _, a := range advisories[n] {
				a.PackageName = n
				found[n] = append(found[n], a)
			}
		}
		if len(found) == 0 {
			_, _ = w.Write([]byte(`{"advisories":[]}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"advisories": found})
	}).Methods(http.MethodGet)

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return server, &requests
}

func TestHTTPFeed(t *testing.T) {
	server, requests := advisoryServer(t, map[string][]Advisory{
		"symfony/http-kernel": {
			{ID: "PKSA-1", AffectedVersions: "<2.3.41", Title: "Session fixation"},
			{ID: "PKSA-2", AffectedVersions: ">=5.0,<5.4.20", Title: "Header injection"},
		},
	})

	feed := NewHTTPFeed(server.URL+"/", composerhttp.NewClient(composerhttp.DefaultConfig()), nil)
	got, err := feed.Advisories(context.Background(), []string{"symfony/http-kernel", "monolog/monolog"})
	require.NoError(t, err)

	require.Len(t, got["symfony/http-kernel"], 2)
	assert.Equal(t, "Header injection", got["symfony/http-kernel"][1].Title)
	assert.Empty(t, got["monolog/monolog"])
	require.Len(t, *requests, 1)
	assert.Equal(t, []string{"symfony/http-kernel", "monolog/monolog"}, (*requests)[0])
}

func TestHTTPFeed_EmptyAndBatched(t *testing.T) {
	server, requests := advisoryServer(t, nil)
	feed := NewHTTPFeed(server.URL, nil, nil)

	names := make([]string, 0, 250)
	for i := range 250 {
		names = append(names, fmt.Sprintf("acme/p%03d", i))
	}
	got, err := feed.Advisories(context.Background(), names)
	require.NoError(t, err)
	assert.Empty(t, got)

	require.Len(t, *requests, 3)
	var sizes []int
	for _, r := range *requests {
		sizes = append(sizes, len(r))
	}
	sort.Ints(sizes)
	assert.Equal(t, []int{50, 100, 100}, sizes)
}

func TestHTTPFeed_StatusError(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(server.Close)

	_, err := NewHTTPFeed(server.URL, nil, nil).Advisories(context.Background(), []string{"a/a"})
	require.Error(t, err)
	assert.Equal(t, http.StatusNotFound, composerhttp.StatusOf(err))
}
