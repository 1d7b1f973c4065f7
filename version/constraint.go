package version

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/Masterminds/semver/v3"
)

var (
	orSplit        = regexp.MustCompile(`\s*\|\|?\s*`)
	andSplit       = regexp.MustCompile(`\s*,\s*|\s+`)
	stabilityFlag  = regexp.MustCompile(`(?i)@(dev|alpha|beta|rc|stable)$`)
	fourPart       = regexp.MustCompile(`(\d+\.\d+\.\d+)\.\d+`)
	shortTilde     = regexp.MustCompile(`^~\s*v?(\d+)(?:\.(\d+))?$`)
	operatorSpaces = regexp.MustCompile(`(>=|<=|!=|<>|==|>|<|=|\^|~)\s+`)
)

// Constraint is a parsed Composer version constraint.
type Constraint struct {
	raw      string
	branches map[string]bool
	semver   *semver.Constraints
}

// ParseConstraint parses Composer constraint syntax: comparison operators,
// "^", "~", wildcards, hyphen ranges, "," or space for AND, "|" or "||" for OR.
// Stability flags ("@dev") are accepted and ignored.
func ParseConstraint(s string) (*Constraint, error) {
	raw := strings.TrimSpace(s)
	if raw == "" {
		return nil, fmt.Errorf("version constraint cannot be empty")
	}

	c := &Constraint{raw: raw}
	var groups []string
	for _, alt := range orSplit.Split(raw, -1) {
		if alt == "" {
			return nil, fmt.Errorf("invalid version constraint %q", raw)
		}
		group, err := c.translateGroup(alt)
		if err != nil {
			return nil, fmt.Errorf("invalid version constraint %q: %w", raw, err)
		}
		if group != "" {
			groups = append(groups, group)
		}
	}

	if len(groups) > 0 {
		sc, err := semver.NewConstraint(strings.Join(groups, " || "))
		if err != nil {
			return nil, fmt.Errorf("invalid version constraint %q: %w", raw, err)
		}
		c.semver = sc
	}
	return c, nil
}

// MustParseConstraint parses a constraint and panics on error.
func MustParseConstraint(s string) *Constraint {
	c, err := ParseConstraint(s)
	if err != nil {
		panic(err)
	}
	return c
}

// translateGroup converts one AND group to Masterminds syntax. Branch
// constraints ("dev-foo") are collected separately and yield "".
func (c *Constraint) translateGroup(group string) (string, error) {
	if strings.Contains(group, " - ") {
		return fourPart.ReplaceAllString(group, "$1"), nil
	}

	group = operatorSpaces.ReplaceAllString(group, "$1")
	var out []string
	for _, tok := range andSplit.Split(group, -1) {
		if tok == "" {
			continue
		}
		tok = stabilityFlag.ReplaceAllString(tok, "")
		if tok == "" {
			continue
		}

		if strings.HasPrefix(strings.ToLower(tok), "dev-") || strings.EqualFold(tok, "master") {
			name, err := Normalize(tok)
			if err != nil {
				return "", err
			}
			if c.branches == nil {
				c.branches = make(map[string]bool)
			}
			c.branches[name] = true
			continue
		}

		switch {
		case strings.HasPrefix(tok, "=="):
			tok = "=" + tok[2:]
		case strings.HasPrefix(tok, "<>"):
			tok = "!=" + tok[2:]
		}

		// Composer's "~1.2" allows every 1.x from 1.2 on; Masterminds stops at 1.3.
		if m := shortTilde.FindStringSubmatch(tok); m != nil {
			minor := m[2]
			if minor == "" {
				minor = "0"
			}
			major, _ := strconv.Atoi(m[1])
			out = append(out, fmt.Sprintf(">=%s.%s", m[1], minor), fmt.Sprintf("<%d.0.0", major+1))
			continue
		}

		out = append(out, fourPart.ReplaceAllString(tok, "$1"))
	}
	if len(out) == 0 {
		return "", nil
	}
	return strings.Join(out, ", "), nil
}

// Matches reports whether a version satisfies the constraint. The version may
// be a normalized version or any label Normalize accepts.
func (c *Constraint) Matches(v string) bool {
	parsed, err := Parse(v)
	if err != nil {
		return false
	}
	return c.Check(parsed)
}

// Check is Matches for an already parsed version.
func (c *Constraint) Check(v *Version) bool {
	if v.IsBranch() {
		return c.branches[v.Branch]
	}
	if c.branches[v.String()] {
		return true
	}
	if c.semver == nil {
		return false
	}
	sv, err := v.Semver()
	if err != nil {
		return false
	}
	return c.semver.Check(sv)
}

// String returns the constraint as written.
func (c *Constraint) String() string {
	return c.raw
}
