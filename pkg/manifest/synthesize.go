package manifest

import (
	"fmt"
	"sort"
)

// Override replaces the URL and version of one repository.
type Override struct {
	Name string `json:"name"`
	// URL may be empty to keep the base URL (branch mode).
	URL     string `json:"url,omitempty"`
	Version string `json:"version"`
	// Source describes where the override came from, e.g. "ros2/rclpy#353".
	Source string `json:"source,omitempty"`
}

// TypeError is returned when an override targets a repository that is not
// fetched with git.
type TypeError struct {
	Name string
	Type string
}

func (e *TypeError) Error() string {
	return fmt.Sprintf("repository %q has type %q; only %s repositories can be overridden", e.Name, e.Type, TypeGit)
}

// Synthesize overlays overrides onto base and returns the merged manifest.
//
// Overrides are applied in slice order, so a later override for the same
// name wins. Every base entry keeps its position. Names missing from base
// are appended after the base entries sorted by name, which keeps the result
// independent of the order of distinct overrides. base is not modified.
func Synthesize(base Manifest, overrides []Override) (Manifest, error) {
	out := base.clone()
	extra := make(map[string]Entry)

	for _, o := range overrides {
		if i, ok := out.index[o.Name]; ok {
			e := &out.entries[i]
			if e.Type != TypeGit {
				return Manifest{}, &TypeError{Name: e.Name, Type: e.Type}
			}
			if o.URL != "" {
				e.URL = o.URL
			}
			e.Version = o.Version
			continue
		}

		prev := extra[o.Name]
		e := Entry{Name: o.Name, Type: TypeGit, URL: o.URL, Version: o.Version}
		if e.URL == "" {
			e.URL = prev.URL
		}
		extra[o.Name] = e
	}

	names := make([]string, 0, len(extra))
	for name := range extra {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		e := extra[name]
		if e.URL == "" {
			return Manifest{}, fmt.Errorf("repository %q is not in the base manifest and has no URL", name)
		}
		out.index[name] = len(out.entries)
		out.entries = append(out.entries, e)
	}

	return out, nil
}

// Unknown returns the sorted, distinct names of overrides that base does not
// contain. Synthesize appends these.
func Unknown(base Manifest, overrides []Override) []string {
	seen := make(map[string]bool)
	var names []string
	for _, o := range overrides {
		if _, ok := base.index[o.Name]; ok || seen[o.Name] {
			continue
		}
		seen[o.Name] = true
		names = append(names, o.Name)
	}
	sort.Strings(names)
	return names
}
