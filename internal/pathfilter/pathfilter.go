// Package pathfilter decides which gateway paths are ignored by event handling.
package pathfilter

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"strings"
)

// IgnoreFileName is the optional pattern file read from the base directory.
const IgnoreFileName = ".fmetaignore"

type pattern struct {
	glob      string
	matchPath bool // match the whole relative path instead of the final name
	folder    bool // a trailing "/" ignores everything below a matching folder
}

// Filter matches slash-separated relative paths against ignore patterns.
//
// Patterns without "/" match any single path segment, so ".DS_Store" ignores
// that name at every depth. Patterns containing "/" match the whole relative
// path. A trailing "/" ("node_modules/") ignores a folder and everything below
// it. Blank lines and "#" comments are skipped.
type Filter struct {
	patterns []pattern
}

// New builds a Filter from raw patterns. Malformed globs are rejected.
func New(raw []string) (*Filter, error) {
	f := &Filter{}
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" || strings.HasPrefix(r, "#") {
			continue
		}
		p := pattern{folder: strings.HasSuffix(r, "/")}
		p.glob = strings.Trim(r, "/")
		p.matchPath = strings.Contains(p.glob, "/")
		if _, err := path.Match(p.glob, ""); err != nil {
			return nil, fmt.Errorf("ignore pattern %q: %w", r, err)
		}
		f.patterns = append(f.patterns, p)
	}
	return f, nil
}

// Match reports whether relativePath, or a folder above it, is ignored.
func (f *Filter) Match(relativePath string) bool {
	if len(f.patterns) == 0 {
		return false
	}
	clean := strings.Trim(relativePath, "/")
	if clean == "" {
		return false
	}
	segments := strings.Split(clean, "/")

	for _, p := range f.patterns {
		if p.matchPath {
			if p.matches(clean) {
				return true
			}
			if p.folder {
				for i := 1; i < len(segments); i++ {
					if p.matches(strings.Join(segments[:i], "/")) {
						return true
					}
				}
			}
			continue
		}
		last := len(segments) - 1
		for i, seg := range segments {
			// Plain name patterns match files anywhere; folder patterns only match
			// segments that have something below them, or the path itself.
			if p.folder && i == last && !strings.HasSuffix(relativePath, "/") {
				continue
			}
			if p.matches(seg) {
				return true
			}
		}
	}
	return false
}

func (p pattern) matches(s string) bool {
	ok, _ := path.Match(p.glob, s)
	return ok
}

// ReadPatternFile reads patterns from file, one per line. A missing file yields no patterns.
func ReadPatternFile(file string) ([]string, error) {
	fh, err := os.Open(file)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening ignore file: %w", err)
	}
	defer fh.Close()

	var patterns []string
	scanner := bufio.NewScanner(fh)
	for scanner.Scan() {
		patterns = append(patterns, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading ignore file: %w", err)
	}
	return patterns, nil
}
