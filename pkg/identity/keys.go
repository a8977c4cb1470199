// Package identity maps raw facts onto canonical entities. Matching is
// best-effort and deterministic: the same facts always give the same entity
// set, but false merges and false splits are possible.
package identity

import (
	"path"
	"strings"
	"unicode"

	"github.com/dd0wney/cluso-archmap/pkg/facts"
	"github.com/dd0wney/cluso-archmap/pkg/graph"
)

// Key prefixes per matcher.
const (
	prefixExact = "id:"
	prefixName  = "name:"
	prefixPath  = "path:"
)

// Candidate is one matcher's proposal for a fact's resolution key.
type Candidate struct {
	Match graph.Match
	Key   string
}

// NormalizeImage lower-cases an image reference and strips its tag and
// digest. The registry host is kept, so ghcr.io/acme/api and acme/api differ.
func NormalizeImage(ref string) string {
	ref = strings.ToLower(strings.TrimSpace(ref))
	if i := strings.Index(ref, "@"); i >= 0 {
		ref = ref[:i]
	}
	// A colon after the last slash is a tag; one before it is a registry port.
	if i := strings.LastIndex(ref, ":"); i > strings.LastIndex(ref, "/") {
		ref = ref[:i]
	}
	return ref
}

// NormalizeName lower-cases s and drops everything but letters and digits,
// so "Payments-API", "payments_api" and "payments.api" coincide.
func NormalizeName(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// CleanPath normalises a filesystem path to slash form without a trailing
// separator. Empty input stays empty.
func CleanPath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return ""
	}
	p = path.Clean(strings.ReplaceAll(p, "\\", "/"))
	if p == "." {
		return ""
	}
	return p
}

// Anchors is the set of declared roots (package roots, build contexts) used
// by the path matcher.
type Anchors map[string]struct{}

// CollectAnchors gathers the root attribute of every fact.
func CollectAnchors(fs []facts.Fact) Anchors {
	a := make(Anchors)
	for _, f := range fs {
		if root := CleanPath(f.String(facts.AttrRoot)); root != "" {
			a[root] = struct{}{}
		}
	}
	return a
}

// Longest returns the longest anchor containing p on a segment boundary.
// It walks p's ancestors, so the cost is the path depth, not the anchor count.
func (a Anchors) Longest(p string) (string, bool) {
	p = CleanPath(p)
	for p != "" {
		if _, ok := a[p]; ok {
			return p, true
		}
		parent := path.Dir(p)
		if parent == p || parent == "." {
			break
		}
		p = parent
	}
	return "", false
}

// Candidates returns the fact's candidate keys in matcher priority order.
func Candidates(f facts.Fact, anchors Anchors) []Candidate {
	out := make([]Candidate, 0, 3)

	if id := strings.TrimSpace(f.String(facts.AttrIdentifier)); id != "" {
		out = append(out, Candidate{Match: graph.MatchExact, Key: prefixExact + id})
	} else if img := NormalizeImage(f.String(facts.AttrImage)); img != "" {
		out = append(out, Candidate{Match: graph.MatchExact, Key: prefixExact + img})
	}

	if name := NormalizeName(f.Name()); name != "" {
		out = append(out, Candidate{Match: graph.MatchName, Key: prefixName + name})
	}

	loc := f.String(facts.AttrPath)
	if loc == "" {
		loc = f.String(facts.AttrRoot)
	}
	if anchor, ok := anchors.Longest(loc); ok {
		out = append(out, Candidate{Match: graph.MatchPath, Key: prefixPath + anchor})
	}

	return out
}

// HintCandidates returns the keys a free-text reference hint may resolve
// through, in matcher priority order. A hint is tried verbatim and as an
// image reference for the exact matcher.
func HintCandidates(hint string, anchors Anchors) []Candidate {
	hint = strings.TrimSpace(hint)
	if hint == "" {
		return nil
	}
	out := make([]Candidate, 0, 4)

	out = append(out, Candidate{Match: graph.MatchExact, Key: prefixExact + hint})
	if img := NormalizeImage(hint); img != "" && img != hint {
		out = append(out, Candidate{Match: graph.MatchExact, Key: prefixExact + img})
	}
	if name := NormalizeName(hint); name != "" {
		out = append(out, Candidate{Match: graph.MatchName, Key: prefixName + name})
	}
	if anchor, ok := anchors.Longest(hint); ok {
		out = append(out, Candidate{Match: graph.MatchPath, Key: prefixPath + anchor})
	}
	return out
}

// MatchPriority orders matchers: exact, then name, then path, then the
// singleton fallback. Lower wins.
func MatchPriority(m graph.Match) int {
	switch m {
	case graph.MatchExact:
		return 0
	case graph.MatchName:
		return 1
	case graph.MatchPath:
		return 2
	default:
		return 3
	}
}
