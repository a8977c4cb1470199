package finding

import (
	"testing"

	"github.com/dd0wney/cluso-archmap/pkg/graph"
)

func TestContentHashIgnoresOrder(t *testing.T) {
	rels := []graph.RelationKey{
		{From: "b", To: "a", Kind: graph.Calls},
		{From: "a", To: "b", Kind: graph.Calls},
	}
	h1 := ContentHash("circular_dependency", []string{"b", "a"}, rels, "")
	h2 := ContentHash("circular_dependency", []string{"a", "b"}, []graph.RelationKey{rels[1], rels[0]}, "")
	if h1 != h2 {
		t.Fatalf("hash depends on input order: %s vs %s", h1, h2)
	}
	if got := ContentHash("circular_dependency", []string{"a", "b"}, rels, "x"); got == h1 {
		t.Fatal("subject must contribute to the hash")
	}
	if got := ContentHash("orphan", []string{"a", "b"}, rels, ""); got == h1 {
		t.Fatal("rule kind must contribute to the hash")
	}
}

func TestNewSortsInvolvement(t *testing.T) {
	f := New("orphan", SeverityInfo, "", []string{"z", "a"}, nil, "lonely")
	if f.InvolvedEntities[0] != "a" || f.InvolvedEntities[1] != "z" {
		t.Fatalf("entities not sorted: %v", f.InvolvedEntities)
	}
	if f.InvolvedRelations != nil {
		t.Fatal("expected nil relations")
	}
	if f.Confidence != 1 {
		t.Fatalf("default confidence = %v", f.Confidence)
	}
	if f.ID != ContentHash("orphan", []string{"a", "z"}, nil, "") {
		t.Fatal("id does not match content hash")
	}
}

func TestSortAndFilter(t *testing.T) {
	fs := []Finding{
		{RuleKind: "orphan", ID: "2", Severity: SeverityInfo},
		{RuleKind: "circular_dependency", ID: "9", Severity: SeverityHigh},
		{RuleKind: "orphan", ID: "1", Severity: SeverityInfo},
	}
	Sort(fs)
	if fs[0].RuleKind != "circular_dependency" || fs[1].ID != "1" || fs[2].ID != "2" {
		t.Fatalf("unexpected order: %+v", fs)
	}

	high := Filter(fs, SeverityMedium)
	if len(high) != 1 || high[0].Severity != SeverityHigh {
		t.Fatalf("Filter(medium) = %+v", high)
	}

	counts := CountBySeverity(fs)
	if counts[SeverityInfo] != 2 || counts[SeverityHigh] != 1 {
		t.Fatalf("counts = %v", counts)
	}
}

func TestSeverityRank(t *testing.T) {
	if !(SeverityHigh.Rank() > SeverityMedium.Rank() && SeverityMedium.Rank() > SeverityLow.Rank()) {
		t.Fatal("severity ranks out of order")
	}
	if Severity("critical").Valid() {
		t.Fatal("unknown severity reported valid")
	}
}
