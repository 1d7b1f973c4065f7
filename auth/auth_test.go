package auth

import (
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestBasicAuthenticator_Authenticate(t *testing.T) {
	a := NewBasicAuthenticator("testuser", "testpass")

	req := httptest.NewRequest("GET", "https://repo.example.org/packages.json", nil)
	if err := a.Authenticate(req); err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}

	got := req.Header.Get("Authorization")
	if !strings.HasPrefix(got, "Basic ") {
		t.Fatalf("Authorization = %q, want prefix 'Basic '", got)
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(got, "Basic "))
	if err != nil {
		t.Fatalf("base64 decode error = %v", err)
	}
	if string(decoded) != "testuser:testpass" {
		t.Errorf("decoded credentials = %q, want %q", decoded, "testuser:testpass")
	}
	if a.Type() != TypeHTTPBasic {
		t.Errorf("Type() = %q, want %q", a.Type(), TypeHTTPBasic)
	}
}

func TestBasicAuthenticator_EmptyCredentials(t *testing.T) {
	req := httptest.NewRequest("GET", "https://repo.example.org/packages.json", nil)
	if err := NewBasicAuthenticator("", "").Authenticate(req); err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if got := req.Header.Get("Authorization"); got != "" {
		t.Errorf("Authorization = %q, want empty", got)
	}
}

func TestTokenAuthenticators(t *testing.T) {
	tests := []struct {
		name   string
		a      *TokenAuthenticator
		header string
		want   string
		kind   Type
	}{
		{"bearer", NewBearerAuthenticator("abc"), "Authorization", "Bearer abc", TypeBearer},
		{"github", NewGitHubOAuthAuthenticator("ghp_123"), "Authorization", "token ghp_123", TypeGitHubOAuth},
		{"gitlab", NewGitLabTokenAuthenticator("glpat"), "PRIVATE-TOKEN", "glpat", TypeGitLabToken},
		{"empty", NewBearerAuthenticator(""), "Authorization", "", TypeBearer},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "https://repo.example.org/", nil)
			if err := tt.a.Authenticate(req); err != nil {
				t.Fatalf("Authenticate() error = %v", err)
			}
			if got := req.Header.Get(tt.header); got != tt.want {
				t.Errorf("%s = %q, want %q", tt.header, got, tt.want)
			}
			if tt.a.Type() != tt.kind {
				t.Errorf("Type() = %q, want %q", tt.a.Type(), tt.kind)
			}
		})
	}
}

const authJSONDoc = `{
	"http-basic": {"repo.example.org": {"username": "alice", "password": "s3cret"}},
	"bearer": {"private.example.org": "tok"},
	"github-oauth": {"github.com": "ghp_123"},
	"gitlab-token": {
		"gitlab.com": "glpat",
		"gitlab.example.org": {"username": "bob", "token": "glpat2"}
	}
}`

func TestStore_LoadJSON(t *testing.T) {
	s := NewStore()
	if err := s.LoadJSON([]byte(authJSONDoc)); err != nil {
		t.Fatalf("LoadJSON() error = %v", err)
	}
	if s.Len() != 5 {
		t.Errorf("Len() = %d, want 5", s.Len())
	}

	tests := []struct {
		url    string
		header string
		want   string
	}{
		{"https://private.example.org/p2/a/b.json", "Authorization", "Bearer tok"},
		{"https://GitHub.com/acme/repo", "Authorization", "token ghp_123"},
		{"https://gitlab.com/api/v4/projects", "PRIVATE-TOKEN", "glpat"},
		{"https://gitlab.example.org/api/v4/projects", "PRIVATE-TOKEN", "glpat2"},
		{"https://other.example.org/", "Authorization", ""},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			req := httptest.NewRequest("GET", tt.url, nil)
			if err := s.Authenticate(req); err != nil {
				t.Fatalf("Authenticate() error = %v", err)
			}
			if got := req.Header.Get(tt.header); got != tt.want {
				t.Errorf("%s = %q, want %q", tt.header, got, tt.want)
			}
		})
	}
}

func TestStore_KeepsExplicitAuthorization(t *testing.T) {
	s := NewStore()
	s.Set("repo.example.org", NewBearerAuthenticator("stored"))

	req := httptest.NewRequest("GET", "https://repo.example.org/", nil)
	req.Header.Set("Authorization", "Bearer explicit")
	if err := s.Authenticate(req); err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if got := req.Header.Get("Authorization"); got != "Bearer explicit" {
		t.Errorf("Authorization = %q, want the explicit header", got)
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "auth.json")
	if err := os.WriteFile(path, []byte(`{"bearer": {"repo.example.org": "from-file", "b.example.org": "b"}}`), 0o644); err != nil {
		t.Fatal(err)
	}
	getenv := func(key string) string {
		if key == EnvAuth {
			return `{"bearer": {"repo.example.org": "from-env"}}`
		}
		return ""
	}

	s, err := Load(getenv, filepath.Join(dir, "missing.json"), path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if s.Len() != 2 {
		t.Errorf("Len() = %d, want 2", s.Len())
	}

	req := httptest.NewRequest("GET", "https://repo.example.org/", nil)
	_ = s.Authenticate(req)
	if got := req.Header.Get("Authorization"); got != "Bearer from-env" {
		t.Errorf("Authorization = %q, want the environment to win", got)
	}
}

func TestLoad_Invalid(t *testing.T) {
	getenv := func(string) string { return "{not json" }
	if _, err := Load(getenv); err == nil || !strings.Contains(err.Error(), EnvAuth) {
		t.Errorf("Load() error = %v, want an %s error", err, EnvAuth)
	}
}

func TestStore_RealRequest(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "alice" || pass != "s3cret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	s := NewStore()
	s.Set("127.0.0.1", NewBasicAuthenticator("alice", "s3cret"))

	req, err := http.NewRequest("GET", server.URL, nil)
	if err != nil {
		t.Fatalf("NewRequest() error = %v", err)
	}
	if err := s.Authenticate(req); err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %d, want 200", resp.StatusCode)
	}
}
