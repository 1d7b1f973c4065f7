// Package legacy restricts the versions advertised by provider metadata for
// selected packages, so the solver never sees tags older than a configured
// constraint.
package legacy

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/willibrandon/composer-prefetch/observability"
	"github.com/willibrandon/composer-prefetch/version"
)

// devMaster is the version label whose branch alias is used for matching.
const devMaster = "dev-master"

// Constraint is a package restriction added with AddConstraint.
type Constraint struct {
	Package    string
	Raw        string
	Constraint *version.Constraint
}

// Filter holds package restrictions and applies them to provider documents.
// It is safe for concurrent use.
type Filter struct {
	logger observability.Logger

	mu          sync.RWMutex
	constraints map[string]Constraint

	loggedMu sync.Mutex
	logged   map[string]bool
}

// NewFilter creates an empty filter. A nil logger discards output.
func NewFilter(logger observability.Logger) *Filter {
	if logger == nil {
		logger = observability.NewNullLogger()
	}
	return &Filter{
		logger:      logger,
		constraints: make(map[string]Constraint),
		logged:      make(map[string]bool),
	}
}

// AddConstraint restricts packageName to versions matching constraint,
// replacing any earlier constraint for the same package.
func (f *Filter) AddConstraint(packageName, constraint string) error {
	name := strings.ToLower(strings.TrimSpace(packageName))
	if name == "" {
		return fmt.Errorf("package name cannot be empty")
	}
	parsed, err := version.ParseConstraint(constraint)
	if err != nil {
		return fmt.Errorf("constraint for %s: %w", name, err)
	}

	f.mu.Lock()
	f.constraints[name] = Constraint{Package: name, Raw: parsed.String(), Constraint: parsed}
	f.mu.Unlock()
	return nil
}

// HasProvider reports whether a provider file identifier belongs to the
// vendor of any constrained package, by looking for "provider-<vendor>$".
func (f *Filter) HasProvider(id string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()

	for name := range f.constraints {
		vendor, _, _ := strings.Cut(name, "/")
		if strings.Contains(id, "provider-"+vendor+"$") {
			return true
		}
	}
	return false
}

// Reset drops every constraint.
func (f *Filter) Reset() {
	f.mu.Lock()
	f.constraints = make(map[string]Constraint)
	f.mu.Unlock()
}

// Len returns the number of constrained packages.
func (f *Filter) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.constraints)
}

// Constraints returns the stored constraints sorted by package name.
func (f *Filter) Constraints() []Constraint {
	f.mu.RLock()
	out := make([]Constraint, 0, len(f.constraints))
	for _, c := range f.constraints {
		out = append(out, c)
	}
	f.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Package < out[j].Package })
	return out
}

// RemoveLegacyTags drops the versions of constrained packages that do not
// satisfy their constraint, then narrows packages linked to them through
// "replace" to the versions the constrained package still offers. The
// document is modified in place and returned.
func (f *Filter) RemoveLegacyTags(doc *Document) *Document {
	if doc == nil || len(doc.Packages) == 0 {
		return doc
	}

	var present []Constraint
	for _, c := range f.Constraints() {
		if _, ok := doc.Packages[c.Package]; ok {
			present = append(present, c)
		}
	}
	if len(present) == 0 {
		return doc
	}

	// linked package -> constrained parents
	links := make(map[string][]Constraint)
	link := func(target string, parent Constraint) {
		if target == parent.Package {
			return
		}
		for _, p := range links[target] {
			if p.Package == parent.Package {
				return
			}
		}
		links[target] = append(links[target], parent)
	}

	for _, c := range present {
		f.logRestriction(c)

		versions := doc.Packages[c.Package]
		removed := 0
		for label, meta := range versions {
			normalized := normalizedVersion(label, meta)
			if normalized == "" {
				continue
			}
			if !c.Constraint.Matches(normalized) {
				delete(versions, label)
				removed++
				continue
			}
			for target := range meta.Replace() {
				if _, ok := doc.Packages[strings.ToLower(target)]; ok {
					link(strings.ToLower(target), c)
				}
			}
		}
		if removed > 0 {
			observability.LegacyVersionsRemoved.WithLabelValues(c.Package).Add(float64(removed))
		}
	}

	// packages that replace a constrained package follow it too
	for name, versions := range doc.Packages {
		for _, meta := range versions {
			for target := range meta.Replace() {
				for _, c := range present {
					if strings.EqualFold(target, c.Package) {
						link(name, c)
					}
				}
			}
		}
	}

	for name, parents := range links {
		versions := doc.Packages[name]
		for label, meta := range versions {
			for _, parent := range parents {
				if !keepLinked(label, meta, parent, doc.Packages[parent.Package]) {
					delete(versions, label)
					break
				}
			}
		}
		if len(versions) == 0 {
			delete(doc.Packages, name)
		}
	}

	return doc
}

// keepLinked decides whether a version of a package linked to parent survives.
func keepLinked(label string, meta VersionMetadata, parent Constraint, parentVersions map[string]VersionMetadata) bool {
	if label == devMaster {
		if alias := meta.BranchAlias(devMaster); alias != "" {
			if normalized, err := version.Normalize(alias); err == nil && parent.Constraint.Matches(normalized) {
				return true
			}
		}
	}
	_, ok := parentVersions[label]
	return ok
}

// normalizedVersion picks the version used for matching: the branch alias
// for dev-master, otherwise version_normalized. "" means the entry cannot be
// judged and is kept.
func normalizedVersion(label string, meta VersionMetadata) string {
	if label == devMaster {
		if alias := meta.BranchAlias(devMaster); alias != "" {
			if normalized, err := version.Normalize(alias); err == nil {
				return normalized
			}
		}
	}
	return meta.VersionNormalized()
}

func (f *Filter) logRestriction(c Constraint) {
	f.loggedMu.Lock()
	seen := f.logged[c.Package]
	f.logged[c.Package] = true
	f.loggedMu.Unlock()

	if !seen {
		f.logger.Info("Restricting packages listed in [{Package}] to [{Constraint}]", c.Package, c.Raw)
	}
}
