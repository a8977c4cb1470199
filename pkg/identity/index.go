package identity

import (
	"sort"
	"strings"

	"github.com/dd0wney/cluso-archmap/pkg/facts"
	"github.com/dd0wney/cluso-archmap/pkg/graph"
)

const prefixRaw = "raw:"

type indexEntry struct {
	entityID string
	family   facts.Family
	// owner is true when the key is the entity's own resolution key.
	owner bool
}

// Index maps every candidate key of every fact to the entities those facts
// landed in. Lookups are O(1) per matcher.
type Index struct {
	entries map[string][]indexEntry
	anchors Anchors
}

func buildIndex(res *Resolution) *Index {
	idx := &Index{entries: make(map[string][]indexEntry), anchors: res.Anchors}
	seen := make(map[string]map[string]bool)

	add := func(key string, e indexEntry) {
		if seen[key] == nil {
			seen[key] = make(map[string]bool)
		}
		if seen[key][e.entityID] {
			if e.owner {
				for i := range idx.entries[key] {
					if idx.entries[key][i].entityID == e.entityID {
						idx.entries[key][i].owner = true
					}
				}
			}
			return
		}
		seen[key][e.entityID] = true
		idx.entries[key] = append(idx.entries[key], e)
	}

	for ref, a := range res.Facts {
		fam := familyOfEntity(res, a.EntityID)
		for _, c := range a.Candidates {
			add(c.Key, indexEntry{entityID: a.EntityID, family: fam, owner: c.Key == a.ResolutionKey})
		}
		if _, rawID, ok := strings.Cut(ref, ":"); ok {
			add(prefixRaw+rawID, indexEntry{entityID: a.EntityID, family: fam})
		}
	}

	for key := range idx.entries {
		list := idx.entries[key]
		sort.Slice(list, func(i, j int) bool {
			if list[i].family != list[j].family {
				return list[i].family == facts.FamilyWorkload
			}
			if list[i].owner != list[j].owner {
				return list[i].owner
			}
			return list[i].entityID < list[j].entityID
		})
	}
	return idx
}

func familyOfEntity(res *Resolution, id string) facts.Family {
	i := sort.Search(len(res.Entities), func(i int) bool { return res.Entities[i].ID >= id })
	if i < len(res.Entities) && res.Entities[i].ID == id && res.Entities[i].Kind == facts.KindSecretCandidate {
		return facts.FamilySecret
	}
	return facts.FamilyWorkload
}

// Lookup resolves a free-text hint with the matcher order exact, name, path.
// A raw_id hint counts as an exact match. Among several entities holding
// the same key, workloads win over secrets, then the entity owning the key
// as its resolution key, then the smallest id.
func (idx *Index) Lookup(hint string) (string, graph.Match, bool) {
	h := strings.TrimSpace(hint)
	if h == "" {
		return "", "", false
	}
	probes := append([]Candidate{{Match: graph.MatchExact, Key: prefixRaw + h}}, HintCandidates(h, idx.anchors)...)
	for _, p := range probes {
		if list := idx.entries[p.Key]; len(list) > 0 {
			return list[0].entityID, p.Match, true
		}
	}
	return "", "", false
}

// Keys returns the number of distinct indexed keys.
func (idx *Index) Keys() int {
	return len(idx.entries)
}
