// Package sources expands user input into upload candidates: shell patterns,
// YAML manifests with per-entry options, and local HTML documents whose
// referenced images get collected.
package sources

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"gopkg.in/yaml.v3"

	"pixlift/internal/crop"
)

// Candidate is one file queued for ingestion, with optional per-entry
// overrides from the source it came from.
type Candidate struct {
	Path   string
	Scope  string
	Region *crop.Region
}

// FromArgs resolves path arguments, expanding glob patterns. Every argument
// must match something; a typo fails loudly instead of shrinking the batch.
func FromArgs(patterns []string) ([]Candidate, error) {
	var out []Candidate
	seen := make(map[string]struct{})

	for _, pattern := range patterns {
		if strings.ContainsAny(pattern, "*?[") {
			matches, err := filepath.Glob(pattern)
			if err != nil {
				return nil, fmt.Errorf("bad pattern %q: %w", pattern, err)
			}
			if len(matches) == 0 {
				return nil, fmt.Errorf("no files match %q", pattern)
			}
			for _, match := range matches {
				appendUnique(&out, seen, Candidate{Path: match})
			}
			continue
		}

		if _, err := os.Stat(pattern); err != nil {
			return nil, fmt.Errorf("stat %s: %w", pattern, err)
		}
		appendUnique(&out, seen, Candidate{Path: pattern})
	}
	return out, nil
}

type manifestEntry struct {
	Path  string       `yaml:"path"`
	Scope string       `yaml:"scope,omitempty"`
	Crop  *crop.Region `yaml:"crop,omitempty"`
}

type manifest struct {
	Scope   string          `yaml:"scope,omitempty"`
	Entries []manifestEntry `yaml:"entries"`
}

// FromManifest loads a YAML manifest. Relative entry paths resolve against
// the manifest's directory; an entry without a scope inherits the manifest
// scope. Crop regions are validated up front so a bad manifest fails before
// any work starts.
func FromManifest(path string) ([]Candidate, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest %s: %w", path, err)
	}

	var m manifest
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	if len(m.Entries) == 0 {
		return nil, fmt.Errorf("manifest %s lists no entries", path)
	}

	base := filepath.Dir(path)
	out := make([]Candidate, 0, len(m.Entries))
	seen := make(map[string]struct{})

	for i, entry := range m.Entries {
		if entry.Path == "" {
			return nil, fmt.Errorf("manifest %s: entry %d has no path", path, i+1)
		}
		resolved := entry.Path
		if !filepath.IsAbs(resolved) {
			resolved = filepath.Join(base, resolved)
		}
		scope := entry.Scope
		if scope == "" {
			scope = m.Scope
		}
		if entry.Crop != nil {
			if err := entry.Crop.Validate(); err != nil {
				return nil, fmt.Errorf("manifest %s: entry %d: %w", path, i+1, err)
			}
		}
		appendUnique(&out, seen, Candidate{Path: resolved, Scope: scope, Region: entry.Crop})
	}
	return out, nil
}

// FromHTML collects the images a local HTML document references via img[src].
// Remote and data: sources are skipped; relative paths resolve against the
// document's directory.
func FromHTML(path string) ([]Candidate, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer file.Close()

	doc, err := goquery.NewDocumentFromReader(file)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	base := filepath.Dir(path)
	var out []Candidate
	seen := make(map[string]struct{})

	doc.Find("img[src]").Each(func(_ int, s *goquery.Selection) {
		src, ok := s.Attr("src")
		if !ok {
			return
		}
		src = strings.TrimSpace(src)
		if src == "" || isRemote(src) {
			return
		}
		resolved := src
		if !filepath.IsAbs(resolved) {
			resolved = filepath.Join(base, filepath.FromSlash(resolved))
		}
		appendUnique(&out, seen, Candidate{Path: resolved})
	})

	if len(out) == 0 {
		return nil, fmt.Errorf("%s references no local images", path)
	}
	return out, nil
}

func isRemote(src string) bool {
	lower := strings.ToLower(src)
	return strings.HasPrefix(lower, "http://") ||
		strings.HasPrefix(lower, "https://") ||
		strings.HasPrefix(lower, "//") ||
		strings.HasPrefix(lower, "data:")
}

func appendUnique(out *[]Candidate, seen map[string]struct{}, c Candidate) {
	if _, dup := seen[c.Path]; dup {
		return
	}
	seen[c.Path] = struct{}{}
	*out = append(*out, c)
}
