package auth

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"strings"
	"sync"
)

// EnvAuth holds inline auth.json content, applied after any files.
const EnvAuth = "COMPOSER_AUTH"

// Store maps hosts to their credentials. It is safe for concurrent use.
type Store struct {
	mu    sync.RWMutex
	hosts map[string]Authenticator
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{hosts: make(map[string]Authenticator)}
}

// Load reads the auth.json files in order, then the COMPOSER_AUTH
// variable. Later sources replace earlier credentials for the same host.
// Missing files are skipped.
func Load(getenv func(string) string, paths ...string) (*Store, error) {
	s := NewStore()
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if err := s.LoadJSON(data); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}
	if getenv != nil {
		if env := strings.TrimSpace(getenv(EnvAuth)); env != "" {
			if err := s.LoadJSON([]byte(env)); err != nil {
				return nil, fmt.Errorf("%s: %w", EnvAuth, err)
			}
		}
	}
	return s, nil
}

type basicJSON struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type authJSON struct {
	HTTPBasic   map[string]basicJSON       `json:"http-basic"`
	Bearer      map[string]string          `json:"bearer"`
	GitHubOAuth map[string]string          `json:"github-oauth"`
	GitLabToken map[string]json.RawMessage `json:"gitlab-token"`
}

// LoadJSON adds the credentials of an auth.json document.
func (s *Store) LoadJSON(data []byte) error {
	var doc authJSON
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}

	for host, c := range doc.HTTPBasic {
		s.Set(host, NewBasicAuthenticator(c.Username, c.Password))
	}
	for host, token := range doc.Bearer {
		s.Set(host, NewBearerAuthenticator(token))
	}
	for host, token := range doc.GitHubOAuth {
		s.Set(host, NewGitHubOAuthAuthenticator(token))
	}
	for host, raw := range doc.GitLabToken {
		// either "token" or {"username": ..., "token": ...}
		var token string
		if bytes.HasPrefix(bytes.TrimSpace(raw), []byte("{")) {
			var obj struct {
				Token string `json:"token"`
			}
			if err := json.Unmarshal(raw, &obj); err != nil {
				return fmt.Errorf("gitlab-token %s: %w", host, err)
			}
			token = obj.Token
		} else if err := json.Unmarshal(raw, &token); err != nil {
			return fmt.Errorf("gitlab-token %s: %w", host, err)
		}
		s.Set(host, NewGitLabTokenAuthenticator(token))
	}
	return nil
}

// Set stores the credentials for host.
func (s *Store) Set(host string, a Authenticator) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hosts[strings.ToLower(host)] = a
}

// For returns the credentials for host, or nil.
func (s *Store) For(host string) Authenticator {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hosts[strings.ToLower(host)]
}

// Len returns the number of hosts with credentials.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.hosts)
}

// Authenticate applies the credentials of the request's host, if any.
// Requests that already carry an Authorization header are left alone.
func (s *Store) Authenticate(req *http.Request) error {
	if req.Header.Get("Authorization") != "" {
		return nil
	}
	a := s.For(req.URL.Hostname())
	if a == nil {
		return nil
	}
	return a.Authenticate(req)
}
