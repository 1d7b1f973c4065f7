package project

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/willibrandon/composer-prefetch/prefetch"
)

// Lock is a parsed composer.lock.
type Lock struct {
	Packages    []*LockedPackage `json:"packages"`
	PackagesDev []*LockedPackage `json:"packages-dev"`
}

// LoadLock reads a composer.lock file.
func LoadLock(path string) (*Lock, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read lock file: %w", err)
	}
	var lock Lock
	if err := json.Unmarshal(data, &lock); err != nil {
		return nil, fmt.Errorf("failed to parse lock file: %w", err)
	}
	return &lock, nil
}

// All returns the packages and dev packages.
func (l *Lock) All() []*LockedPackage {
	out := make([]*LockedPackage, 0, len(l.Packages)+len(l.PackagesDev))
	out = append(out, l.Packages...)
	return append(out, l.PackagesDev...)
}

// WhatProvides returns the locked packages named name or replacing it.
// The lock holds one version per package, so the constraint is not checked.
func (l *Lock) WhatProvides(name, constraint string, bypassFilters bool) []prefetch.Package {
	name = strings.ToLower(name)
	var out []prefetch.Package
	for _, pkg := range l.All() {
		if strings.ToLower(pkg.PackageName) == name {
			out = append(out, pkg)
			continue
		}
		for target := range pkg.Replace {
			if strings.ToLower(target) == name {
				out = append(out, pkg)
				break
			}
		}
	}
	return out
}

// Dist is where a package archive is downloaded from.
type Dist struct {
	Type      string   `json:"type"`
	URL       string   `json:"url"`
	Reference string   `json:"reference"`
	Shasum    string   `json:"shasum,omitempty"`
	Mirrors   []Mirror `json:"mirrors,omitempty"`
}

// Mirror is a dist mirror URL template with %package%, %version%,
// %reference% and %type% placeholders.
type Mirror struct {
	URL       string `json:"url"`
	Preferred bool   `json:"preferred"`
}

// LockedPackage is one package entry of the lock file. It implements
// prefetch.Package.
type LockedPackage struct {
	PackageName    string            `json:"name"`
	PackageVersion string            `json:"version"`
	Type           string            `json:"type,omitempty"`
	Require        map[string]string `json:"require,omitempty"`
	Conflict       map[string]string `json:"conflict,omitempty"`
	Replace        map[string]string `json:"replace,omitempty"`
	Dist           *Dist             `json:"dist,omitempty"`
}

func (p *LockedPackage) Name() string    { return strings.ToLower(p.PackageName) }
func (p *LockedPackage) Version() string { return p.PackageVersion }

func (p *LockedPackage) Requires() []prefetch.Link  { return links(p.Require) }
func (p *LockedPackage) Conflicts() []prefetch.Link { return links(p.Conflict) }
func (p *LockedPackage) Replaces() []prefetch.Link  { return links(p.Replace) }

func (p *LockedPackage) DistType() string {
	if p.Dist == nil {
		return ""
	}
	return p.Dist.Type
}

func (p *LockedPackage) DistURL() string {
	if p.Dist == nil {
		return ""
	}
	return p.Dist.URL
}

func (p *LockedPackage) DistReference() string {
	if p.Dist == nil {
		return ""
	}
	return p.Dist.Reference
}

// DistMirrors expands the mirror templates, preferred mirrors first.
func (p *LockedPackage) DistMirrors() []string {
	if p.Dist == nil || len(p.Dist.Mirrors) == 0 {
		return nil
	}
	mirrors := append([]Mirror(nil), p.Dist.Mirrors...)
	sort.SliceStable(mirrors, func(i, j int) bool { return mirrors[i].Preferred && !mirrors[j].Preferred })

	r := strings.NewReplacer(
		"%package%", p.Name(),
		"%version%", p.PackageVersion,
		"%reference%", p.Dist.Reference,
		"%type%", p.Dist.Type,
	)
	out := make([]string, 0, len(mirrors))
	for _, m := range mirrors {
		out = append(out, r.Replace(m.URL))
	}
	return out
}

// Plugins returns the names of locked composer plugins.
func (l *Lock) Plugins() []string {
	var out []string
	for _, pkg := range l.All() {
		if pkg.Type == "composer-plugin" {
			out = append(out, pkg.Name())
		}
	}
	return out
}

type link struct {
	target     string
	constraint string
}

func (l link) Target() string     { return l.target }
func (l link) Constraint() string { return l.constraint }

func links(m map[string]string) []prefetch.Link {
	if len(m) == 0 {
		return nil
	}
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]prefetch.Link, 0, len(names))
	for _, name := range names {
		out = append(out, link{target: strings.ToLower(name), constraint: m[name]})
	}
	return out
}
