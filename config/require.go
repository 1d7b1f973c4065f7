package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/willibrandon/composer-prefetch/version"
)

// ProjectKey is the composer.json extra section read by LoadProjectRequire.
const ProjectKey = "automatic-prefetcher"

// extraSchema constrains extra.automatic-prefetcher in composer.json.
const extraSchema = `{
  "type": "object",
  "properties": {
    "extra": {
      "type": ["object", "array"],
      "properties": {
        "automatic-prefetcher": {
          "type": "object",
          "properties": {
            "require": {
              "type": "object",
              "additionalProperties": {"type": "string", "minLength": 1}
            }
          }
        }
      }
    }
  }
}`

var projectSchema = jsonschema.MustCompileString("composer-extra.json", extraSchema)

// ParseRequire parses "pkg:constraint,pkg2:constraint2". Empty input yields
// an empty map. Every constraint must parse.
func ParseRequire(s string) (map[string]string, error) {
	out := make(map[string]string)
	for _, entry := range strings.Split(s, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		name, constraint, ok := strings.Cut(entry, ":")
		name = strings.ToLower(strings.TrimSpace(name))
		constraint = strings.TrimSpace(constraint)
		if !ok || name == "" || constraint == "" || !strings.Contains(name, "/") {
			return nil, &ConfigurationError{Key: EnvRequire, Value: entry, Err: errors.New("expected vendor/package:constraint")}
		}
		if _, err := version.ParseConstraint(constraint); err != nil {
			return nil, &ConfigurationError{Key: EnvRequire, Value: entry, Err: err}
		}
		out[name] = constraint
	}
	return out, nil
}

// LoadProjectRequire reads extra.automatic-prefetcher.require from the
// contents of composer.json.
func LoadProjectRequire(composerJSON []byte) (map[string]string, error) {
	var doc any
	if err := json.Unmarshal(composerJSON, &doc); err != nil {
		return nil, &ConfigurationError{Key: "composer.json", Err: err}
	}
	if err := projectSchema.Validate(doc); err != nil {
		return nil, &ConfigurationError{Key: "extra." + ProjectKey, Err: err}
	}

	var project struct {
		Extra struct {
			Prefetcher struct {
				Require map[string]string `json:"require"`
			} `json:"automatic-prefetcher"`
		} `json:"extra"`
	}
	// an empty extra is written as [] and has nothing to read
	_ = json.Unmarshal(composerJSON, &project)

	out := make(map[string]string, len(project.Extra.Prefetcher.Require))
	for name, constraint := range project.Extra.Prefetcher.Require {
		if _, err := version.ParseConstraint(constraint); err != nil {
			return nil, &ConfigurationError{
				Key:   fmt.Sprintf("extra.%s.require.%s", ProjectKey, name),
				Value: constraint,
				Err:   err,
			}
		}
		out[strings.ToLower(name)] = constraint
	}
	return out, nil
}

// ResolveRequire merges project and environment constraints. The
// environment wins for a package named in both.
func ResolveRequire(project, env map[string]string) map[string]string {
	out := make(map[string]string, len(project)+len(env))
	for name, c := range project {
		out[strings.ToLower(name)] = c
	}
	for name, c := range env {
		out[strings.ToLower(name)] = c
	}
	return out
}
