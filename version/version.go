// Package version provides Composer version normalization and constraint matching.
//
// Versions are normalized the way Composer writes version_normalized in
// provider metadata (four numeric parts plus an optional stability suffix).
// Constraints are translated to github.com/Masterminds/semver/v3 for matching.
//
// Example:
//
//	c, err := version.ParseConstraint(">=3.4")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	c.Matches("4.0.0.0") // true
package version

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// Version is a parsed normalized Composer version.
type Version struct {
	// Parts holds major, minor, patch and the legacy fourth segment
	Parts [4]int

	// Stability is the suffix without the dev marker ("beta2", "RC1"), empty for stable
	Stability string

	// Dev marks development versions, including numeric branches
	Dev bool

	// Branch is set for non-numeric branches ("dev-feature")
	Branch string

	original string
}

// Parse parses a normalized version, the output of Normalize.
// Labels that are not yet normalized are normalized first.
func Parse(s string) (*Version, error) {
	normalized, err := Normalize(s)
	if err != nil {
		return nil, err
	}

	v := &Version{original: normalized}
	if strings.HasPrefix(normalized, "dev-") {
		v.Dev = true
		v.Branch = normalized
		return v, nil
	}

	rest := normalized
	if base, ok := strings.CutSuffix(rest, "-dev"); ok {
		v.Dev = true
		rest = base
	}

	numeric, stability, _ := strings.Cut(rest, "-")
	v.Stability = stability

	fields := strings.Split(numeric, ".")
	for i := 0; i < len(fields) && i < 4; i++ {
		n, err := strconv.Atoi(fields[i])
		if err != nil {
			return nil, fmt.Errorf("invalid version segment %q in %q", fields[i], s)
		}
		v.Parts[i] = n
	}
	return v, nil
}

// String returns the normalized form.
func (v *Version) String() string {
	return v.original
}

// IsBranch reports whether v is a named (non-numeric) branch.
func (v *Version) IsBranch() bool {
	return v.Branch != ""
}

// Semver returns the three-part release used for constraint matching.
// The legacy fourth segment and any stability suffix are dropped, so
// "3.5.0.0-beta1" matches like "3.5.0". Named branches have no semver form.
func (v *Version) Semver() (*semver.Version, error) {
	if v.IsBranch() {
		return nil, fmt.Errorf("branch %q has no numeric version", v.Branch)
	}
	return semver.NewVersion(fmt.Sprintf("%d.%d.%d", v.Parts[0], v.Parts[1], v.Parts[2]))
}

// Compare orders two versions numerically. Branches sort before releases.
func Compare(a, b *Version) int {
	switch {
	case a.IsBranch() && b.IsBranch():
		return strings.Compare(a.Branch, b.Branch)
	case a.IsBranch():
		return -1
	case b.IsBranch():
		return 1
	}
	for i := range a.Parts {
		if a.Parts[i] != b.Parts[i] {
			if a.Parts[i] < b.Parts[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}
