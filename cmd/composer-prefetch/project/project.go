// Package project loads composer.json and composer.lock and presents them to
// the prefetcher as its host.
package project

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/willibrandon/composer-prefetch/config"
	"github.com/willibrandon/composer-prefetch/prefetch"
)

// PackagistURL is the default repository, used unless disabled with
// {"packagist.org": false}.
const PackagistURL = "https://repo.packagist.org"

// Project is a loaded project directory.
type Project struct {
	Dir  string
	Name string

	// Require holds the root requirements, lowercased
	Require map[string]string

	Config       config.MapConfig
	Repositories []prefetch.RepositoryConfig

	// Lock is nil when the project has no lock file
	Lock *Lock
}

type composerJSON struct {
	Name         string            `json:"name"`
	Require      map[string]string `json:"require"`
	RequireDev   map[string]string `json:"require-dev"`
	Config       json.RawMessage   `json:"config"`
	Repositories json.RawMessage   `json:"repositories"`
}

// Load reads <dir>/composer.json and, when present, <dir>/composer.lock.
func Load(dir string) (*Project, error) {
	data, err := os.ReadFile(filepath.Join(dir, "composer.json"))
	if err != nil {
		return nil, fmt.Errorf("failed to read composer.json: %w", err)
	}

	var doc composerJSON
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse composer.json: %w", err)
	}

	p := &Project{
		Dir:     dir,
		Name:    doc.Name,
		Require: make(map[string]string),
	}
	for _, req := range []map[string]string{doc.Require, doc.RequireDev} {
		for name, c := range req {
			p.Require[strings.ToLower(name)] = c
		}
	}

	if p.Config, err = parseConfig(doc.Config); err != nil {
		return nil, fmt.Errorf("failed to parse composer.json config: %w", err)
	}
	if p.Repositories, err = parseRepositories(doc.Repositories); err != nil {
		return nil, fmt.Errorf("failed to parse composer.json repositories: %w", err)
	}

	lockPath := filepath.Join(dir, "composer.lock")
	if _, err := os.Stat(lockPath); err == nil {
		if p.Lock, err = LoadLock(lockPath); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// parseConfig flattens the config object to strings. Nested values are
// kept as JSON.
func parseConfig(raw json.RawMessage) (config.MapConfig, error) {
	out := config.MapConfig{}
	if isEmpty(raw) {
		return out, nil
	}

	var values map[string]any
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil, err
	}
	for k, v := range values {
		switch v := v.(type) {
		case string:
			out[k] = v
		case bool:
			out[k] = strconv.FormatBool(v)
		case float64:
			out[k] = strconv.FormatFloat(v, 'f', -1, 64)
		default:
			b, _ := json.Marshal(v)
			out[k] = string(b)
		}
	}
	return out, nil
}

type repositoryJSON struct {
	Type               string `json:"type"`
	URL                string `json:"url"`
	ForceLazyProviders bool   `json:"force-lazy-providers"`
}

// parseRepositories accepts the list form and the named object form. The
// default repository is appended unless a "packagist.org": false or
// "packagist": false entry disables it.
func parseRepositories(raw json.RawMessage) ([]prefetch.RepositoryConfig, error) {
	var out []prefetch.RepositoryConfig
	packagist := true

	add := func(name string, entry json.RawMessage) error {
		if bytes.Equal(bytes.TrimSpace(entry), []byte("false")) {
			if name == "packagist.org" || name == "packagist" {
				packagist = false
			}
			return nil
		}
		// {"packagist.org": false} inside the list form
		var disabled map[string]bool
		if json.Unmarshal(entry, &disabled) == nil {
			for k, v := range disabled {
				if (k == "packagist.org" || k == "packagist") && !v {
					packagist = false
				}
			}
			return nil
		}

		var r repositoryJSON
		if err := json.Unmarshal(entry, &r); err != nil {
			return err
		}
		if name == "" {
			name = r.URL
		}
		out = append(out, prefetch.RepositoryConfig{
			Name:               name,
			Type:               r.Type,
			URL:                r.URL,
			ForceLazyProviders: r.ForceLazyProviders,
		})
		return nil
	}

	trimmed := bytes.TrimSpace(raw)
	switch {
	case isEmpty(raw):
	case trimmed[0] == '[':
		var list []json.RawMessage
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, err
		}
		for _, entry := range list {
			if err := add("", entry); err != nil {
				return nil, err
			}
		}
	default:
		var named map[string]json.RawMessage
		if err := json.Unmarshal(raw, &named); err != nil {
			return nil, err
		}
		names := make([]string, 0, len(named))
		for name := range named {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			if err := add(name, named[name]); err != nil {
				return nil, err
			}
		}
	}

	if packagist {
		out = append(out, prefetch.RepositoryConfig{Name: "packagist.org", Type: "composer", URL: PackagistURL})
	}
	return out, nil
}

func isEmpty(raw json.RawMessage) bool {
	t := bytes.TrimSpace(raw)
	return len(t) == 0 || bytes.Equal(t, []byte("null")) || bytes.Equal(t, []byte("[]")) || bytes.Equal(t, []byte("{}"))
}

// Operations returns an install operation for every locked package.
func (p *Project) Operations() []prefetch.Operation {
	if p.Lock == nil {
		return nil
	}
	var ops []prefetch.Operation
	for _, pkg := range p.Lock.All() {
		ops = append(ops, Operation{Type: "install", Pkg: pkg})
	}
	return ops
}

// Event presents the project as a solver event: the root requirements as
// install jobs, the lock as the pool and its packages as operations.
func (p *Project) Event() *Event {
	ev := &Event{ops: p.Operations()}
	if p.Lock != nil {
		ev.pool = p.Lock
	} else {
		ev.pool = &Lock{}
	}

	names := make([]string, 0, len(p.Require))
	for name := range p.Require {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		ev.jobs = append(ev.jobs, prefetch.SolverJob{Command: "install", PackageName: name, Constraint: p.Require[name]})
	}
	return ev
}

// Event implements prefetch.InstallerEvent.
type Event struct {
	pool prefetch.Pool
	jobs Jobs
	ops  []prefetch.Operation
}

func (e *Event) Pool() prefetch.Pool              { return e.pool }
func (e *Event) Request() prefetch.Request        { return e.jobs }
func (e *Event) Operations() []prefetch.Operation { return e.ops }

// Jobs implements prefetch.Request.
type Jobs []prefetch.SolverJob

func (j Jobs) Jobs() []prefetch.SolverJob { return j }

// Operation implements prefetch.Operation.
type Operation struct {
	Type string
	Pkg  prefetch.Package
}

func (o Operation) JobType() string           { return o.Type }
func (o Operation) Package() prefetch.Package { return o.Pkg }
