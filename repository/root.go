package repository

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/willibrandon/composer-prefetch/legacy"
)

// Hash is the integrity entry attached to includes and providers.
type Hash struct {
	SHA256 string `json:"sha256"`
}

// Root is the decoded packages.json of a repository.
type Root struct {
	// ProvidersURL is the v1 per-package URL template (%package%, %hash%)
	ProvidersURL string
	// MetadataURL is the v2 per-package URL template (%package%)
	MetadataURL string

	ProviderIncludes map[string]Hash
	Includes         map[string]Hash
	Providers        map[string]Hash

	// Packages holds packages declared inline, already filtered
	Packages *legacy.Document
}

type rootFields struct {
	ProvidersURL     string          `json:"providers-url"`
	MetadataURL      string          `json:"metadata-url"`
	ProviderIncludes map[string]Hash `json:"provider-includes"`
	Includes         map[string]Hash `json:"includes"`
	Providers        map[string]Hash `json:"providers"`
}

// parseRoot reads the root fields kept in doc.Extra.
func parseRoot(doc *legacy.Document) (*Root, error) {
	fields, err := listingFields(doc)
	if err != nil {
		return nil, err
	}
	return &Root{
		ProvidersURL:     fields.ProvidersURL,
		MetadataURL:      fields.MetadataURL,
		ProviderIncludes: fields.ProviderIncludes,
		Includes:         fields.Includes,
		Providers:        fields.Providers,
		Packages:         doc,
	}, nil
}

// listingFields decodes the listing keys of a document. PHP writes empty
// maps as [], which decodes to nil here.
func listingFields(doc *legacy.Document) (rootFields, error) {
	var f rootFields
	for key, dst := range map[string]any{
		"providers-url":     &f.ProvidersURL,
		"metadata-url":      &f.MetadataURL,
		"provider-includes": &f.ProviderIncludes,
		"includes":          &f.Includes,
		"providers":         &f.Providers,
	} {
		raw, ok := doc.Extra[key]
		if !ok || string(raw) == "[]" {
			continue
		}
		if err := json.Unmarshal(raw, dst); err != nil {
			return f, fmt.Errorf("decode %s: %w", key, err)
		}
	}
	return f, nil
}

type include struct {
	path   string
	sha256 string
}

// includes returns provider-includes and includes, sorted by path.
func (f rootFields) includes() []include {
	var out []include
	for _, m := range []map[string]Hash{f.ProviderIncludes, f.Includes} {
		for path, h := range m {
			out = append(out, include{path: path, sha256: h.SHA256})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].path < out[j].path })
	return out
}
