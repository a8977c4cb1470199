package export

import (
	"bytes"
	"encoding/json"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/beevik/etree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dd0wney/cluso-archmap/pkg/algorithms"
	"github.com/dd0wney/cluso-archmap/pkg/facts"
	"github.com/dd0wney/cluso-archmap/pkg/finding"
	"github.com/dd0wney/cluso-archmap/pkg/graph"
)

func fixture() (*graph.Graph, []finding.Finding) {
	g := &graph.Graph{
		ScanID:    "scan-1",
		CreatedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Entities: []graph.Entity{
			{ID: "api", Kind: facts.KindService, Name: "api", ResolutionKey: "name:api"},
			{ID: "db", Kind: facts.KindResource, Name: `db "main"`, ResolutionKey: "name:db"},
			{ID: "web", Kind: facts.KindContainer, Name: "web", ResolutionKey: "name:web"},
		},
		Relations: []graph.Relation{
			{From: "api", To: "db", Kind: graph.DependsOn, Confidence: 1},
			{From: "web", To: "api", Kind: graph.Calls, Confidence: 0.4, LowConfidence: true},
		},
	}
	fs := []finding.Finding{
		finding.New("single_point_of_failure", finding.SeverityHigh, "", []string{"db"}, nil, "db"),
		finding.New("orphan", finding.SeverityInfo, "", []string{"db"}, nil, "db again"),
	}
	return g, fs
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{"json": FormatJSON, ".GEXF": FormatGEXF, "gv": FormatDOT, "dot": FormatDOT} {
		got, err := ParseFormat(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
	_, err := ParseFormat("svg")
	assert.Error(t, err)
}

func TestWriteJSON(t *testing.T) {
	g, fs := fixture()
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, FormatJSON, g, fs, Options{}))

	var out struct {
		Directed bool `json:"directed"`
		Nodes    []struct {
			ID          string   `json:"id"`
			Findings    int      `json:"findings"`
			MaxSeverity string   `json:"max_severity"`
			X           *float64 `json:"x"`
		} `json:"nodes"`
		Links []struct {
			Source string `json:"source"`
			Target string `json:"target"`
			Kind   string `json:"kind"`
		} `json:"links"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	assert.True(t, out.Directed)
	require.Len(t, out.Nodes, 3)
	assert.Equal(t, 2, out.Nodes[1].Findings)
	assert.Equal(t, "high", out.Nodes[1].MaxSeverity)
	assert.Nil(t, out.Nodes[0].X, "no layout requested")
	require.Len(t, out.Links, 2)
	assert.Equal(t, "calls", out.Links[1].Kind)
}

func TestWriteGEXF(t *testing.T) {
	g, fs := fixture()
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, FormatGEXF, g, fs, Options{Layout: LayoutCircular}))

	doc := etree.NewDocument()
	require.NoError(t, doc.ReadFromBytes(buf.Bytes()))
	root := doc.SelectElement("gexf")
	require.NotNil(t, root)
	assert.Equal(t, "1.3", root.SelectAttrValue("version", ""))
	assert.Equal(t, gexfNamespace, root.SelectAttrValue("xmlns", ""))

	nodes := doc.FindElements("/gexf/graph/nodes/node")
	require.Len(t, nodes, 3)
	assert.Equal(t, `db "main"`, nodes[1].SelectAttrValue("label", ""))
	assert.NotNil(t, nodes[0].FindElement("viz:position"))

	edges := doc.FindElements("/gexf/graph/edges/edge")
	require.Len(t, edges, 2)
	assert.Equal(t, "web", edges[1].SelectAttrValue("source", ""))
	assert.Equal(t, "0.4", edges[1].SelectAttrValue("weight", ""))
	assert.NotNil(t, edges[1].FindElement("attvalues/attvalue[@for='low_confidence']"))
}

func TestWriteDOT(t *testing.T) {
	g, fs := fixture()
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, FormatDOT, g, fs, Options{}))
	out := buf.String()

	assert.True(t, strings.HasPrefix(out, `digraph "archmap scan-1" {`))
	assert.Contains(t, out, `"db" [label="db \"main\"\nresource", shape=cylinder, color=red, penwidth=2];`)
	assert.Contains(t, out, `"web" -> "api" [label="calls", style=dashed];`)
	assert.True(t, strings.HasSuffix(out, "}\n"))
}

func TestWriteErrors(t *testing.T) {
	g, _ := fixture()
	var buf bytes.Buffer
	assert.Error(t, Write(&buf, Format("svg"), g, nil, Options{}))
	assert.Error(t, Write(&buf, FormatJSON, nil, nil, Options{}))
	assert.Error(t, Write(&buf, FormatJSON, g, nil, Options{Layout: "spiral"}))
}

func distance(a, b Position) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}

func chain(n int) *algorithms.Digraph {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = string(rune('a' + i))
	}
	d := algorithms.NewDigraph(ids)
	for i := 0; i+1 < n; i++ {
		d.AddEdge(i, i+1)
	}
	return d
}

func TestCircularLayout(t *testing.T) {
	cfg := LayoutConfig{Width: 800, Height: 600, Padding: 50}
	positions, err := ComputeLayout(LayoutCircular, chain(4), cfg)
	require.NoError(t, err)
	require.Len(t, positions, 4)

	radius := 300.0 - 50
	for i, p := range positions {
		assert.InDelta(t, radius, distance(p, Position{X: 400, Y: 300}), 1e-9, "node %d", i)
	}
}

func TestHierarchicalLayout(t *testing.T) {
	positions, err := ComputeLayout(LayoutHierarchical, chain(3), LayoutConfig{Width: 800, Height: 600})
	require.NoError(t, err)
	require.Len(t, positions, 3)

	assert.Less(t, positions[0].Y, positions[1].Y)
	assert.Less(t, positions[1].Y, positions[2].Y)

	// A pure cycle has no root; the first node anchors the layout.
	d := algorithms.NewDigraph([]string{"a", "b"})
	d.AddEdge(0, 1)
	d.AddEdge(1, 0)
	positions, err = ComputeLayout(LayoutHierarchical, d, LayoutConfig{})
	require.NoError(t, err)
	assert.Less(t, positions[0].Y, positions[1].Y)
}

func TestForceLayout(t *testing.T) {
	cfg := LayoutConfig{Width: 800, Height: 600, Iterations: 50, Seed: 7}
	positions, err := ComputeLayout(LayoutForce, chain(3), cfg)
	require.NoError(t, err)
	require.Len(t, positions, 3)

	for i, p := range positions {
		assert.True(t, p.X >= 0 && p.X <= 800, "node %d x %f out of bounds", i, p.X)
		assert.True(t, p.Y >= 0 && p.Y <= 600, "node %d y %f out of bounds", i, p.Y)
	}

	// The ends of the chain are not connected and should be furthest apart.
	d01 := distance(positions[0], positions[1])
	d12 := distance(positions[1], positions[2])
	d02 := distance(positions[0], positions[2])
	assert.GreaterOrEqual(t, d02, d01)
	assert.GreaterOrEqual(t, d02, d12)

	again, err := ComputeLayout(LayoutForce, chain(3), cfg)
	require.NoError(t, err)
	assert.Equal(t, positions, again, "same seed must give the same layout")

	single, err := ComputeLayout(LayoutForce, chain(1), cfg)
	require.NoError(t, err)
	assert.Equal(t, Position{X: 400, Y: 300}, single[0])
}
