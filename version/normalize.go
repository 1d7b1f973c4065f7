package version

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// DevMaster is the normalized form of the default development branch.
const DevMaster = "9999999-dev"

const branchMax = "9999999"

var (
	releasePattern = regexp.MustCompile(`(?i)^v?(\d+)(?:\.(\d+))?(?:\.(\d+))?(?:\.(\d+))?` +
		`(?:[._-]?(stable|beta|b|rc|alpha|a|patch|pl|p)((?:[.-]?\d+)*))?([.-]?dev)?$`)
	branchPattern = regexp.MustCompile(`(?i)^v?(\d+)(\.(?:\d+|[x*]))?(\.(?:\d+|[x*]))?(\.(?:\d+|[x*]))?$`)
)

// Normalize converts a Composer version label to its normalized form.
//
// Examples:
//   - "v1.2" → "1.2.0.0"
//   - "2.0.0-RC1" → "2.0.0.0-RC1"
//   - "1.0.0-b2" → "1.0.0.0-beta2"
//   - "3.x-dev" → "3.9999999.9999999.9999999-dev"
//   - "master" → "9999999-dev"
//   - "dev-feature" → "dev-feature"
func Normalize(s string) (string, error) {
	v := strings.TrimSpace(s)
	if v == "" {
		return "", fmt.Errorf("version string cannot be empty")
	}

	// " as 1.0" inline aliases only affect the solver
	if i := strings.Index(v, " as "); i > 0 {
		v = strings.TrimSpace(v[:i])
	}

	// build metadata is ignored
	if i := strings.IndexByte(v, '+'); i > 0 {
		v = v[:i]
	}

	switch strings.ToLower(v) {
	case "master", "trunk", "default", "dev-master", "dev-trunk", "dev-default":
		return DevMaster, nil
	}

	if strings.HasPrefix(strings.ToLower(v), "dev-") {
		return "dev-" + v[4:], nil
	}

	if m := releasePattern.FindStringSubmatch(v); m != nil {
		parts := make([]string, 4)
		for i := range parts {
			n := m[i+1]
			if n == "" {
				n = "0"
			}
			num, err := strconv.Atoi(n)
			if err != nil {
				return "", fmt.Errorf("invalid version %q: %w", s, err)
			}
			parts[i] = strconv.Itoa(num)
		}
		out := strings.Join(parts, ".")

		if m[5] != "" && strings.ToLower(m[5]) != "stable" {
			out += "-" + expandStability(m[5]) + strings.TrimLeft(m[6], ".-")
		}
		if m[7] != "" {
			out += "-dev"
		}
		return out, nil
	}

	if base, ok := strings.CutSuffix(strings.ToLower(v), "-dev"); ok {
		if n, err := normalizeBranch(base); err == nil {
			return n, nil
		}
		return "dev-" + v[:len(v)-4], nil
	}

	return "", fmt.Errorf("invalid version string %q", s)
}

// MustNormalize normalizes a version string, panicking on error.
func MustNormalize(s string) string {
	normalized, err := Normalize(s)
	if err != nil {
		panic(err)
	}
	return normalized
}

// normalizeBranch turns a numeric branch name like "2.1.x" into its
// normalized development version.
func normalizeBranch(name string) (string, error) {
	m := branchPattern.FindStringSubmatch(name)
	if m == nil {
		return "", fmt.Errorf("not a numeric branch: %q", name)
	}

	var b strings.Builder
	b.WriteString(m[1])
	for i := 2; i <= 4; i++ {
		seg := m[i]
		if seg == "" {
			seg = ".x"
		}
		b.WriteString(strings.NewReplacer("*", "x", "X", "x").Replace(seg))
	}
	return strings.ReplaceAll(b.String(), "x", branchMax) + "-dev", nil
}

func expandStability(s string) string {
	switch strings.ToLower(s) {
	case "a", "alpha":
		return "alpha"
	case "b", "beta":
		return "beta"
	case "p", "pl", "patch":
		return "patch"
	case "rc":
		return "RC"
	default:
		return strings.ToLower(s)
	}
}
