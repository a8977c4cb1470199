// Package diff compares two snapshots of the same target.
package diff

import (
	"sort"

	"github.com/dd0wney/cluso-archmap/pkg/canonical"
	"github.com/dd0wney/cluso-archmap/pkg/facts"
	"github.com/dd0wney/cluso-archmap/pkg/finding"
	"github.com/dd0wney/cluso-archmap/pkg/graph"
	"github.com/dd0wney/cluso-archmap/pkg/snapshot"
)

// Attribute change operations.
const (
	OpAdded   = "added"
	OpRemoved = "removed"
	OpChanged = "changed"
)

// AttributeChange is one top-level attribute that differs.
type AttributeChange struct {
	Key  string `json:"key"`
	Op   string `json:"op"`
	From any    `json:"from,omitempty"`
	To   any    `json:"to,omitempty"`
}

// EntityChange describes an entity present in both snapshots whose kind or
// canonical attributes differ.
type EntityChange struct {
	ID           string            `json:"entity_id"`
	Name         string            `json:"name"`
	PreviousName string            `json:"previous_name,omitempty"`
	KindFrom     facts.Kind        `json:"kind_from"`
	KindTo       facts.Kind        `json:"kind_to"`
	Attributes   []AttributeChange `json:"attributes,omitempty"`
}

// RelationChange describes a relation present in both snapshots.
type RelationChange struct {
	Key               graph.RelationKey `json:"relation"`
	ConfidenceFrom    float64           `json:"confidence_from"`
	ConfidenceTo      float64           `json:"confidence_to"`
	LowConfidenceFrom bool              `json:"low_confidence_from"`
	LowConfidenceTo   bool              `json:"low_confidence_to"`
	EvidenceChanged   bool              `json:"evidence_changed"`
}

// FindingChange describes a finding with the same id in both snapshots
// whose explanation or severity moved.
type FindingChange struct {
	ID              string           `json:"id"`
	RuleKind        string           `json:"rule_kind"`
	SeverityFrom    finding.Severity `json:"severity_from"`
	SeverityTo      finding.Severity `json:"severity_to"`
	ExplanationFrom string           `json:"explanation_from"`
	ExplanationTo   string           `json:"explanation_to"`
}

// Diff is the structured difference between two snapshots.
type Diff struct {
	From string `json:"from_scan_id"`
	To   string `json:"to_scan_id"`

	EntitiesAdded    []graph.Entity `json:"entities_added"`
	EntitiesRemoved  []graph.Entity `json:"entities_removed"`
	EntitiesModified []EntityChange `json:"entities_modified"`

	RelationsAdded    []graph.Relation `json:"relations_added"`
	RelationsRemoved  []graph.Relation `json:"relations_removed"`
	RelationsModified []RelationChange `json:"relations_modified"`

	FindingsIntroduced []finding.Finding `json:"findings_introduced"`
	FindingsResolved   []finding.Finding `json:"findings_resolved"`
	FindingsChanged    []FindingChange   `json:"findings_changed"`
}

// Summary counts each category of a diff.
type Summary struct {
	EntitiesAdded      int `json:"entities_added"`
	EntitiesRemoved    int `json:"entities_removed"`
	EntitiesModified   int `json:"entities_modified"`
	RelationsAdded     int `json:"relations_added"`
	RelationsRemoved   int `json:"relations_removed"`
	RelationsModified  int `json:"relations_modified"`
	FindingsIntroduced int `json:"findings_introduced"`
	FindingsResolved   int `json:"findings_resolved"`
	FindingsChanged    int `json:"findings_changed"`
}

// Summary returns the category counts.
func (d *Diff) Summary() Summary {
	return Summary{
		EntitiesAdded:      len(d.EntitiesAdded),
		EntitiesRemoved:    len(d.EntitiesRemoved),
		EntitiesModified:   len(d.EntitiesModified),
		RelationsAdded:     len(d.RelationsAdded),
		RelationsRemoved:   len(d.RelationsRemoved),
		RelationsModified:  len(d.RelationsModified),
		FindingsIntroduced: len(d.FindingsIntroduced),
		FindingsResolved:   len(d.FindingsResolved),
		FindingsChanged:    len(d.FindingsChanged),
	}
}

// Empty reports whether the two snapshots were equivalent.
func (d *Diff) Empty() bool {
	return d.Summary() == Summary{}
}

// Compare diffs two snapshots. It never modifies its inputs.
func Compare(from, to *snapshot.Snapshot) *Diff {
	d := &Diff{From: from.Metadata.ScanID, To: to.Metadata.ScanID}
	d.compareEntities(from.Graph.Entities, to.Graph.Entities)
	d.compareRelations(from.Graph.Relations, to.Graph.Relations)
	d.compareFindings(from.Findings, to.Findings)
	return d
}

func (d *Diff) compareEntities(a, b []graph.Entity) {
	before := make(map[string]graph.Entity, len(a))
	for _, e := range a {
		before[e.ID] = e
	}
	after := make(map[string]graph.Entity, len(b))
	for _, e := range b {
		after[e.ID] = e
	}

	for id, old := range before {
		cur, ok := after[id]
		if !ok {
			d.EntitiesRemoved = append(d.EntitiesRemoved, old)
			continue
		}
		attrs := attributeChanges(old.Attributes, cur.Attributes)
		if old.Kind != cur.Kind || len(attrs) > 0 {
			c := EntityChange{
				ID:         id,
				Name:       cur.Name,
				KindFrom:   old.Kind,
				KindTo:     cur.Kind,
				Attributes: attrs,
			}
			if old.Name != cur.Name {
				c.PreviousName = old.Name
			}
			d.EntitiesModified = append(d.EntitiesModified, c)
		}
	}
	for id, cur := range after {
		if _, ok := before[id]; !ok {
			d.EntitiesAdded = append(d.EntitiesAdded, cur)
		}
	}

	sortEntities(d.EntitiesAdded)
	sortEntities(d.EntitiesRemoved)
	sort.Slice(d.EntitiesModified, func(i, j int) bool { return d.EntitiesModified[i].ID < d.EntitiesModified[j].ID })
}

func attributeChanges(a, b map[string]any) []AttributeChange {
	keys := make(map[string]struct{}, len(a)+len(b))
	for k := range a {
		keys[k] = struct{}{}
	}
	for k := range b {
		keys[k] = struct{}{}
	}

	var out []AttributeChange
	for k := range keys {
		av, inA := a[k]
		bv, inB := b[k]
		switch {
		case !inA:
			out = append(out, AttributeChange{Key: k, Op: OpAdded, To: bv})
		case !inB:
			out = append(out, AttributeChange{Key: k, Op: OpRemoved, From: av})
		case !same(av, bv):
			out = append(out, AttributeChange{Key: k, Op: OpChanged, From: av, To: bv})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// same compares values by canonical JSON; values that cannot be
// canonicalised count as different.
func same(a, b any) bool {
	eq, err := canonical.Equal(a, b)
	return err == nil && eq
}

func (d *Diff) compareRelations(a, b []graph.Relation) {
	before := make(map[graph.RelationKey]graph.Relation, len(a))
	for _, r := range a {
		before[r.Key()] = r
	}
	after := make(map[graph.RelationKey]graph.Relation, len(b))
	for _, r := range b {
		after[r.Key()] = r
	}

	for k, old := range before {
		cur, ok := after[k]
		if !ok {
			d.RelationsRemoved = append(d.RelationsRemoved, old)
			continue
		}
		evidenceChanged := !same(old.Evidence, cur.Evidence)
		if old.Confidence != cur.Confidence || old.LowConfidence != cur.LowConfidence || evidenceChanged {
			d.RelationsModified = append(d.RelationsModified, RelationChange{
				Key:               k,
				ConfidenceFrom:    old.Confidence,
				ConfidenceTo:      cur.Confidence,
				LowConfidenceFrom: old.LowConfidence,
				LowConfidenceTo:   cur.LowConfidence,
				EvidenceChanged:   evidenceChanged,
			})
		}
	}
	for k, cur := range after {
		if _, ok := before[k]; !ok {
			d.RelationsAdded = append(d.RelationsAdded, cur)
		}
	}

	sortRelations(d.RelationsAdded)
	sortRelations(d.RelationsRemoved)
	sort.Slice(d.RelationsModified, func(i, j int) bool {
		return d.RelationsModified[i].Key.Less(d.RelationsModified[j].Key)
	})
}

func (d *Diff) compareFindings(a, b []finding.Finding) {
	before := make(map[string]finding.Finding, len(a))
	for _, f := range a {
		before[f.ID] = f
	}
	after := make(map[string]finding.Finding, len(b))
	for _, f := range b {
		after[f.ID] = f
	}

	for id, old := range before {
		cur, ok := after[id]
		if !ok {
			d.FindingsResolved = append(d.FindingsResolved, old)
			continue
		}
		if old.Explanation != cur.Explanation || old.Severity != cur.Severity {
			d.FindingsChanged = append(d.FindingsChanged, FindingChange{
				ID:              id,
				RuleKind:        cur.RuleKind,
				SeverityFrom:    old.Severity,
				SeverityTo:      cur.Severity,
				ExplanationFrom: old.Explanation,
				ExplanationTo:   cur.Explanation,
			})
		}
	}
	for id, cur := range after {
		if _, ok := before[id]; !ok {
			d.FindingsIntroduced = append(d.FindingsIntroduced, cur)
		}
	}

	finding.Sort(d.FindingsIntroduced)
	finding.Sort(d.FindingsResolved)
	sort.Slice(d.FindingsChanged, func(i, j int) bool {
		a, b := d.FindingsChanged[i], d.FindingsChanged[j]
		if a.RuleKind != b.RuleKind {
			return a.RuleKind < b.RuleKind
		}
		return a.ID < b.ID
	})
}

// Invert returns the diff in the opposite direction, equal to Compare with
// the arguments swapped.
func (d *Diff) Invert() *Diff {
	inv := &Diff{
		From:               d.To,
		To:                 d.From,
		EntitiesAdded:      d.EntitiesRemoved,
		EntitiesRemoved:    d.EntitiesAdded,
		RelationsAdded:     d.RelationsRemoved,
		RelationsRemoved:   d.RelationsAdded,
		FindingsIntroduced: d.FindingsResolved,
		FindingsResolved:   d.FindingsIntroduced,
	}

	for _, c := range d.EntitiesModified {
		attrs := make([]AttributeChange, len(c.Attributes))
		for i, a := range c.Attributes {
			switch a.Op {
			case OpAdded:
				attrs[i] = AttributeChange{Key: a.Key, Op: OpRemoved, From: a.To}
			case OpRemoved:
				attrs[i] = AttributeChange{Key: a.Key, Op: OpAdded, To: a.From}
			default:
				attrs[i] = AttributeChange{Key: a.Key, Op: OpChanged, From: a.To, To: a.From}
			}
		}
		if len(attrs) == 0 {
			attrs = nil
		}
		ic := EntityChange{
			ID:         c.ID,
			Name:       c.Name,
			KindFrom:   c.KindTo,
			KindTo:     c.KindFrom,
			Attributes: attrs,
		}
		if c.PreviousName != "" {
			ic.Name, ic.PreviousName = c.PreviousName, c.Name
		}
		inv.EntitiesModified = append(inv.EntitiesModified, ic)
	}
	for _, c := range d.RelationsModified {
		inv.RelationsModified = append(inv.RelationsModified, RelationChange{
			Key:               c.Key,
			ConfidenceFrom:    c.ConfidenceTo,
			ConfidenceTo:      c.ConfidenceFrom,
			LowConfidenceFrom: c.LowConfidenceTo,
			LowConfidenceTo:   c.LowConfidenceFrom,
			EvidenceChanged:   c.EvidenceChanged,
		})
	}
	for _, c := range d.FindingsChanged {
		inv.FindingsChanged = append(inv.FindingsChanged, FindingChange{
			ID:              c.ID,
			RuleKind:        c.RuleKind,
			SeverityFrom:    c.SeverityTo,
			SeverityTo:      c.SeverityFrom,
			ExplanationFrom: c.ExplanationTo,
			ExplanationTo:   c.ExplanationFrom,
		})
	}
	return inv
}

func sortEntities(es []graph.Entity) {
	sort.Slice(es, func(i, j int) bool { return es[i].ID < es[j].ID })
}

func sortRelations(rs []graph.Relation) {
	sort.Slice(rs, func(i, j int) bool { return rs[i].Key().Less(rs[j].Key()) })
}
