package audit

import (
	"context"
	"sort"
	"strings"

	packageurl "github.com/package-url/packageurl-go"

	"github.com/willibrandon/composer-prefetch/version"
)

// Installed is an installed package version.
type Installed struct {
	Name    string
	Version string
}

// Finding is an installed package affected by an advisory.
type Finding struct {
	Package  Installed
	Advisory Advisory
	// PURL identifies the affected package version
	PURL string
}

// Check returns the advisories affecting the installed packages, sorted by
// package name then advisory id. Advisories whose affected range does not
// parse are ignored.
func Check(ctx context.Context, feed Feed, installed []Installed) ([]Finding, error) {
	seen := make(map[string]bool, len(installed))
	var names []string
	for _, pkg := range installed {
		name := strings.ToLower(pkg.Name)
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return nil, nil
	}
	sort.Strings(names)

	advisories, err := feed.Advisories(ctx, names)
	if err != nil {
		return nil, err
	}

	var findings []Finding
	for _, pkg := range installed {
		for _, adv := range advisories[strings.ToLower(pkg.Name)] {
			affected, err := version.ParseConstraint(adv.AffectedVersions)
			if err != nil || !affected.Matches(pkg.Version) {
				continue
			}
			findings = append(findings, Finding{
				Package:  pkg,
				Advisory: adv,
				PURL:     PURL(pkg.Name, pkg.Version),
			})
		}
	}

	sort.Slice(findings, func(i, j int) bool {
		a, b := findings[i], findings[j]
		if a.Package.Name != b.Package.Name {
			return a.Package.Name < b.Package.Name
		}
		return a.Advisory.ID < b.Advisory.ID
	})
	return findings, nil
}

// PURL returns the package URL of a composer package version, e.g.
// pkg:composer/symfony/http-kernel@v5.4.1.
func PURL(name, ver string) string {
	namespace, pkgName, ok := strings.Cut(strings.ToLower(name), "/")
	if !ok {
		namespace, pkgName = "", namespace
	}
	return packageurl.NewPackageURL(packageurl.TypeComposer, namespace, pkgName, ver, nil, "").ToString()
}
