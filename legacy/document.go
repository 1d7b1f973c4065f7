package legacy

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// VersionMetadata is one version entry of a provider document. It is kept as
// a generic map so fields this package does not inspect survive a round trip.
type VersionMetadata map[string]any

// VersionNormalized returns the entry's version_normalized field.
func (m VersionMetadata) VersionNormalized() string {
	s, _ := m["version_normalized"].(string)
	return s
}

// BranchAlias returns extra.branch-alias[label], or "".
func (m VersionMetadata) BranchAlias(label string) string {
	extra, ok := m["extra"].(map[string]any)
	if !ok {
		return ""
	}
	aliases, ok := extra["branch-alias"].(map[string]any)
	if !ok {
		return ""
	}
	s, _ := aliases[label].(string)
	return s
}

// Replace returns the entry's replace map (package name to constraint).
func (m VersionMetadata) Replace() map[string]string {
	raw, ok := m["replace"].(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]string, len(raw))
	for name, c := range raw {
		s, _ := c.(string)
		out[name] = s
	}
	return out
}

// Document is a decoded provider metadata document:
//
//	{"packages": {"vendor/name": {"1.0.0": {...}}}}
//
// Top-level keys other than "packages" are preserved in Extra.
type Document struct {
	Packages map[string]map[string]VersionMetadata
	Extra    map[string]json.RawMessage
}

// NewDocument returns an empty document.
func NewDocument() *Document {
	return &Document{Packages: make(map[string]map[string]VersionMetadata)}
}

// DecodeDocument parses a provider document. PHP encodes empty maps as
// "[]", which is accepted wherever an object is expected.
func DecodeDocument(data []byte) (*Document, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		return nil, fmt.Errorf("decode provider document: %w", err)
	}

	doc := NewDocument()
	rawPackages, ok := top["packages"]
	delete(top, "packages")
	if len(top) > 0 {
		doc.Extra = top
	}
	if !ok || isEmptyArray(rawPackages) || bytes.Equal(bytes.TrimSpace(rawPackages), []byte("null")) {
		return doc, nil
	}

	var packages map[string]json.RawMessage
	if err := json.Unmarshal(rawPackages, &packages); err != nil {
		return nil, fmt.Errorf("decode packages: %w", err)
	}

	for name, rawVersions := range packages {
		versions := make(map[string]VersionMetadata)
		if !isEmptyArray(rawVersions) {
			dec := json.NewDecoder(bytes.NewReader(rawVersions))
			dec.UseNumber()
			if err := dec.Decode(&versions); err != nil {
				return nil, fmt.Errorf("decode versions of %s: %w", name, err)
			}
		}
		doc.Packages[name] = versions
	}
	return doc, nil
}

func isEmptyArray(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("[]"))
}

// Encode serializes the document back to JSON.
func (d *Document) Encode() ([]byte, error) {
	return json.Marshal(d)
}

// MarshalJSON implements json.Marshaler.
func (d *Document) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(d.Extra)+1)
	for k, v := range d.Extra {
		out[k] = v
	}
	packages := d.Packages
	if packages == nil {
		packages = map[string]map[string]VersionMetadata{}
	}
	out["packages"] = packages
	return json.Marshal(out)
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Document) UnmarshalJSON(data []byte) error {
	decoded, err := DecodeDocument(data)
	if err != nil {
		return err
	}
	*d = *decoded
	return nil
}

// Names returns the package names in the document, sorted.
func (d *Document) Names() []string {
	names := make([]string, 0, len(d.Packages))
	for name := range d.Packages {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Versions returns the version labels of a package, sorted.
func (d *Document) Versions(name string) []string {
	labels := make([]string, 0, len(d.Packages[name]))
	for label := range d.Packages[name] {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	return labels
}

// Merge copies the packages of other into d, replacing entries with the same name.
func (d *Document) Merge(other *Document) {
	if other == nil {
		return
	}
	if d.Packages == nil {
		d.Packages = make(map[string]map[string]VersionMetadata)
	}
	for name, versions := range other.Packages {
		d.Packages[name] = versions
	}
}
