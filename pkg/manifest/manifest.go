// Package manifest reads, merges and writes vcstool ".repos" manifests.
//
// A manifest is an ordered list of repository entries keyed by name. The
// order of the base document is preserved through parsing, synthesis and
// serialization so that the published manifest diffs cleanly against the
// base one.
package manifest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// TypeGit is the only repository type that can be overridden.
const TypeGit = "git"

// Entry is one repository row of a manifest.
type Entry struct {
	Name    string `json:"name"`
	Type    string `json:"type"`
	URL     string `json:"url"`
	Version string `json:"version,omitempty"`
}

// Manifest is an ordered, name-keyed set of entries. The zero value is an
// empty manifest. Manifests are treated as values: operations return new
// manifests and never mutate their inputs.
type Manifest struct {
	entries []Entry
	index   map[string]int
}

// New builds a manifest from entries in order. Duplicate names are an error.
func New(entries ...Entry) (Manifest, error) {
	m := Manifest{
		entries: make([]Entry, 0, len(entries)),
		index:   make(map[string]int, len(entries)),
	}
	for _, e := range entries {
		if e.Name == "" {
			return Manifest{}, errors.New("manifest entry without a name")
		}
		if _, dup := m.index[e.Name]; dup {
			return Manifest{}, fmt.Errorf("duplicate repository %q in manifest", e.Name)
		}
		m.index[e.Name] = len(m.entries)
		m.entries = append(m.entries, e)
	}
	return m, nil
}

// Len returns the number of entries.
func (m Manifest) Len() int {
	return len(m.entries)
}

// Entries returns a copy of the entries in manifest order.
func (m Manifest) Entries() []Entry {
	out := make([]Entry, len(m.entries))
	copy(out, m.entries)
	return out
}

// Names returns the repository names in manifest order.
func (m Manifest) Names() []string {
	names := make([]string, len(m.entries))
	for i, e := range m.entries {
		names[i] = e.Name
	}
	return names
}

// Get looks up an entry by repository name.
func (m Manifest) Get(name string) (Entry, bool) {
	i, ok := m.index[name]
	if !ok {
		return Entry{}, false
	}
	return m.entries[i], true
}

// Equal reports whether both manifests hold the same entries in the same order.
func (m Manifest) Equal(other Manifest) bool {
	if len(m.entries) != len(other.entries) {
		return false
	}
	for i := range m.entries {
		if m.entries[i] != other.entries[i] {
			return false
		}
	}
	return true
}

func (m Manifest) clone() Manifest {
	out := Manifest{
		entries: m.Entries(),
		index:   make(map[string]int, len(m.entries)),
	}
	for i, e := range out.entries {
		out.index[e.Name] = i
	}
	return out
}

// entryDoc is the YAML shape of one repository.
type entryDoc struct {
	Type    string `yaml:"type"`
	URL     string `yaml:"url"`
	Version string `yaml:"version,omitempty"`
}

// Parse decodes a ".repos" document, keeping the document order.
func Parse(data []byte) (Manifest, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Manifest{}, fmt.Errorf("failed to parse manifest: %w", err)
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return Manifest{}, errors.New("manifest is empty")
	}

	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return Manifest{}, errors.New("manifest root must be a mapping")
	}

	var repos *yaml.Node
	for i := 0; i+1 < len(root.Content); i += 2 {
		if root.Content[i].Value == "repositories" {
			repos = root.Content[i+1]
			break
		}
	}
	if repos == nil {
		return Manifest{}, errors.New("manifest has no repositories key")
	}
	if repos.Kind != yaml.MappingNode {
		return Manifest{}, fmt.Errorf("repositories must be a mapping (line %d)", repos.Line)
	}

	entries := make([]Entry, 0, len(repos.Content)/2)
	for i := 0; i+1 < len(repos.Content); i += 2 {
		key, value := repos.Content[i], repos.Content[i+1]
		var ed entryDoc
		if err := value.Decode(&ed); err != nil {
			return Manifest{}, fmt.Errorf("repository %q (line %d): %w", key.Value, key.Line, err)
		}
		entries = append(entries, Entry{
			Name:    key.Value,
			Type:    ed.Type,
			URL:     ed.URL,
			Version: ed.Version,
		})
	}

	return New(entries...)
}

// Marshal encodes m as a ".repos" document in manifest order.
func Marshal(m Manifest) ([]byte, error) {
	repos := &yaml.Node{Kind: yaml.MappingNode}
	for _, e := range m.entries {
		var value yaml.Node
		if err := value.Encode(entryDoc{Type: e.Type, URL: e.URL, Version: e.Version}); err != nil {
			return nil, fmt.Errorf("failed to encode repository %q: %w", e.Name, err)
		}
		repos.Content = append(repos.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: e.Name},
			&value,
		)
	}

	root := &yaml.Node{
		Kind: yaml.MappingNode,
		Content: []*yaml.Node{
			{Kind: yaml.ScalarNode, Tag: "!!str", Value: "repositories"},
			repos,
		},
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(root); err != nil {
		return nil, fmt.Errorf("failed to marshal manifest: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to marshal manifest: %w", err)
	}
	return buf.Bytes(), nil
}

// Fetcher downloads a document by URL.
type Fetcher interface {
	FetchRaw(ctx context.Context, url string) ([]byte, error)
}

// Load reads the base manifest from location, which is either an http(s)
// URL fetched through f, a file:// URL, or an absolute path.
func Load(ctx context.Context, f Fetcher, location string) (Manifest, error) {
	if path, ok := localPath(location); ok {
		return LoadFile(path)
	}
	if f == nil {
		return Manifest{}, fmt.Errorf("no fetcher available for %s", location)
	}
	data, err := f.FetchRaw(ctx, location)
	if err != nil {
		return Manifest{}, fmt.Errorf("failed to fetch base manifest: %w", err)
	}
	m, err := Parse(data)
	if err != nil {
		return Manifest{}, fmt.Errorf("%s: %w", location, err)
	}
	return m, nil
}

// LoadFile reads a manifest from disk.
func LoadFile(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, fmt.Errorf("failed to read manifest: %w", err)
	}
	m, err := Parse(data)
	if err != nil {
		return Manifest{}, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

func localPath(location string) (string, bool) {
	if p, ok := strings.CutPrefix(location, "file://"); ok {
		return p, true
	}
	if filepath.IsAbs(location) {
		return location, true
	}
	return "", false
}
