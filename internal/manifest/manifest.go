// Package manifest extracts segment locators from a media playlist and renders
// locator lists back into playlists.
//
// Parsing is best-effort: a line counts as a segment reference if and only if
// it ends in the segment suffix. Tags, sub-playlists and discontinuities are
// not interpreted.
package manifest

import (
	"net/url"
	"strings"
)

// DefaultSuffix is the segment file suffix used when a Parser has none set.
const DefaultSuffix = ".ts"

// Parser extracts segment locators from playlist documents.
type Parser struct {
	// Suffix marks a line as a segment reference. Empty means DefaultSuffix.
	Suffix string
}

// Parse is Parser{}.Parse.
func Parse(document, base string) []string {
	return Parser{}.Parse(document, base)
}

// Parse returns the absolute locators of every segment line in document,
// in document order, resolving relative references against base.
// Lines that cannot be resolved to an absolute URI are dropped. An empty or
// non-matching document yields an empty (nil) result, never an error.
func (p Parser) Parse(document, base string) []string {
	suffix := p.Suffix
	if suffix == "" {
		suffix = DefaultSuffix
	}

	baseURL, err := url.Parse(base)
	if err != nil {
		baseURL = nil
	}

	var out []string
	for _, raw := range strings.Split(document, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" || !strings.HasSuffix(line, suffix) {
			continue
		}
		if loc, ok := resolve(baseURL, line); ok {
			out = append(out, loc)
		}
	}
	return out
}

// resolve turns a segment line into an absolute locator. Relative lines need
// an absolute base.
func resolve(base *url.URL, line string) (string, bool) {
	ref, err := url.Parse(line)
	if err != nil {
		return "", false
	}
	if !ref.IsAbs() {
		if base == nil || !base.IsAbs() {
			return "", false
		}
		ref = base.ResolveReference(ref)
	}
	if ref.Host == "" && ref.Scheme != "file" {
		return "", false
	}
	return ref.String(), true
}
