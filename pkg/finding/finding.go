// Package finding defines the result type produced by analysis rules.
package finding

import (
	"sort"

	"github.com/dd0wney/cluso-archmap/pkg/canonical"
	"github.com/dd0wney/cluso-archmap/pkg/graph"
)

// Severity of a finding.
type Severity string

const (
	SeverityInfo   Severity = "info"
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Severities lists the levels from least to most severe.
var Severities = []Severity{SeverityInfo, SeverityLow, SeverityMedium, SeverityHigh}

// Rank orders severities; unknown values rank below info.
func (s Severity) Rank() int {
	for i, v := range Severities {
		if v == s {
			return i
		}
	}
	return -1
}

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool { return s.Rank() >= 0 }

// Finding is one rule result over a graph.
type Finding struct {
	ID                string              `json:"id"`
	RuleKind          string              `json:"rule_kind"`
	Severity          Severity            `json:"severity"`
	Subject           string              `json:"subject,omitempty"`
	InvolvedEntities  []string            `json:"involved_entities"`
	InvolvedRelations []graph.RelationKey `json:"involved_relations,omitempty"`
	Explanation       string              `json:"explanation"`
	Confidence        float64             `json:"confidence"`
	Evidence          map[string]any      `json:"evidence,omitempty"`
}

// identity is the hashed part of a finding.
type identity struct {
	RuleKind  string              `json:"rule_kind"`
	Entities  []string            `json:"involved_entities"`
	Relations []graph.RelationKey `json:"involved_relations"`
	Subject   string              `json:"subject"`
}

// ContentHash derives a finding id. Entities and relations are sorted
// copies, so the caller's order does not matter.
func ContentHash(ruleKind string, entities []string, relations []graph.RelationKey, subject string) string {
	ents := append([]string{}, entities...)
	sort.Strings(ents)
	rels := append([]graph.RelationKey{}, relations...)
	sort.Slice(rels, func(i, j int) bool { return rels[i].Less(rels[j]) })
	return canonical.MustShortDigest(identity{
		RuleKind:  ruleKind,
		Entities:  ents,
		Relations: rels,
		Subject:   subject,
	})
}

// New builds a finding with sorted involvement lists and its content id.
// Confidence defaults to 1.
func New(ruleKind string, severity Severity, subject string, entities []string, relations []graph.RelationKey, explanation string) Finding {
	ents := append([]string{}, entities...)
	sort.Strings(ents)
	var rels []graph.RelationKey
	if len(relations) > 0 {
		rels = append(rels, relations...)
		sort.Slice(rels, func(i, j int) bool { return rels[i].Less(rels[j]) })
	}
	return Finding{
		ID:                ContentHash(ruleKind, ents, rels, subject),
		RuleKind:          ruleKind,
		Severity:          severity,
		Subject:           subject,
		InvolvedEntities:  ents,
		InvolvedRelations: rels,
		Explanation:       explanation,
		Confidence:        1,
	}
}

// WithEvidence returns f with the given evidence attached.
func (f Finding) WithEvidence(evidence map[string]any) Finding {
	f.Evidence = evidence
	return f
}

// WithConfidence returns f with its confidence set.
func (f Finding) WithConfidence(c float64) Finding {
	f.Confidence = c
	return f
}

// Sort orders findings by (rule_kind, id).
func Sort(fs []Finding) {
	sort.Slice(fs, func(i, j int) bool {
		if fs[i].RuleKind != fs[j].RuleKind {
			return fs[i].RuleKind < fs[j].RuleKind
		}
		return fs[i].ID < fs[j].ID
	})
}

// CountBySeverity tallies findings per severity.
func CountBySeverity(fs []Finding) map[Severity]int {
	out := make(map[Severity]int, len(Severities))
	for _, f := range fs {
		out[f.Severity]++
	}
	return out
}

// Filter returns the findings at or above min severity.
func Filter(fs []Finding, min Severity) []Finding {
	var out []Finding
	for _, f := range fs {
		if f.Severity.Rank() >= min.Rank() {
			out = append(out, f)
		}
	}
	return out
}
