package scheduler

import (
	"crypto/sha256"
	"curator/internal/apperrors"
	"encoding/hex"
	"fmt"
	"net/url"
	"regexp"
	"slices"
	"strings"
)

// RegexPrefix marks a pattern as a regular expression rather than a
// literal URL prefix.
const RegexPrefix = "re:"

type pattern struct {
	literal string
	re      *regexp.Regexp
}

// PatternSet is a canonical, compiled egress allow-list. Two sets built from
// the same patterns in any order, with any duplicates, share an ID.
type PatternSet struct {
	canonical []string
	entries   []pattern
	id        string
}

// ParsePatterns canonicalizes and compiles raw patterns. Literal patterns
// must be absolute http(s) URLs without a query; regex patterns must compile.
func ParsePatterns(raw []string) (*PatternSet, error) {
	if len(raw) == 0 {
		return nil, apperrors.WithCode(apperrors.CodeInvalidPattern, "patterns", "at least one pattern is required")
	}

	seen := make(map[string]pattern, len(raw))
	for _, r := range raw {
		p, canonical, err := compilePattern(r)
		if err != nil {
			return nil, err
		}
		seen[canonical] = p
	}

	set := &PatternSet{canonical: make([]string, 0, len(seen))}
	for c := range seen {
		set.canonical = append(set.canonical, c)
	}
	slices.Sort(set.canonical)
	for _, c := range set.canonical {
		set.entries = append(set.entries, seen[c])
	}

	sum := sha256.Sum256([]byte(strings.Join(set.canonical, "\n")))
	set.id = hex.EncodeToString(sum[:16])
	return set, nil
}

func compilePattern(raw string) (pattern, string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return pattern{}, "", apperrors.WithCode(apperrors.CodeInvalidPattern, "patterns", "pattern must not be empty")
	}

	if expr, ok := strings.CutPrefix(raw, RegexPrefix); ok {
		// anchored at the start of scheme://host/path so a pattern cannot
		// match a foreign host that merely embeds it in its path
		re, err := regexp.Compile("^(?:" + expr + ")")
		if err != nil {
			return pattern{}, "", apperrors.WithCode(apperrors.CodeInvalidPattern, "patterns",
				fmt.Sprintf("invalid regular expression %q: %v", expr, err))
		}
		return pattern{re: re}, raw, nil
	}

	u, err := url.Parse(raw)
	if err != nil || !isHTTP(u) {
		return pattern{}, "", apperrors.WithCode(apperrors.CodeInvalidPattern, "patterns",
			fmt.Sprintf("pattern %q must be an absolute http(s) URL or start with %q", raw, RegexPrefix))
	}
	if u.RawQuery != "" || u.Fragment != "" {
		return pattern{}, "", apperrors.WithCode(apperrors.CodeInvalidPattern, "patterns",
			fmt.Sprintf("pattern %q must not contain a query or fragment", raw))
	}
	literal := strings.TrimRight(matchTarget(u), "/")
	return pattern{literal: literal}, literal, nil
}

// ID identifies the set.
func (s *PatternSet) ID() string { return s.id }

// Patterns returns the canonical, sorted patterns.
func (s *PatternSet) Patterns() []string { return slices.Clone(s.canonical) }

func (s *PatternSet) Len() int { return len(s.canonical) }

// Allows reports whether rawURL may be dispatched. The query string is
// ignored. A literal pattern admits URLs equal to it or extending it at a
// path boundary, so "http://svc.local/a" admits "http://svc.local/a/x" but
// not "http://svc.local/ab" or "http://svc.local.evil.com". A regex pattern
// must match from the start of scheme://host/path.
func (s *PatternSet) Allows(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || !isHTTP(u) {
		return false
	}
	target := matchTarget(u)

	for _, p := range s.entries {
		if p.re != nil {
			if p.re.MatchString(target) {
				return true
			}
			continue
		}
		if target == p.literal || strings.HasPrefix(target, p.literal+"/") {
			return true
		}
	}
	return false
}

func isHTTP(u *url.URL) bool {
	scheme := strings.ToLower(u.Scheme)
	return (scheme == "http" || scheme == "https") && u.Host != ""
}

// matchTarget reduces u to scheme://host/path with scheme and host lowercased.
func matchTarget(u *url.URL) string {
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host) + u.EscapedPath()
}
