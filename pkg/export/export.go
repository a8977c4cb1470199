// Package export renders a unified graph in formats other tools can read:
// node-link JSON, GEXF 1.3 and Graphviz DOT. Exports are pass-through views;
// they add no analysis beyond per-entity finding counts.
package export

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/dd0wney/cluso-archmap/pkg/finding"
	"github.com/dd0wney/cluso-archmap/pkg/graph"
)

// Format is an export format name.
type Format string

// Supported formats.
const (
	FormatJSON Format = "json"
	FormatGEXF Format = "gexf"
	FormatDOT  Format = "dot"
)

// Formats lists the supported formats.
var Formats = []Format{FormatJSON, FormatGEXF, FormatDOT}

// ParseFormat accepts a format name or a file extension.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimPrefix(s, ".")) {
	case "json":
		return FormatJSON, nil
	case "gexf":
		return FormatGEXF, nil
	case "dot", "gv":
		return FormatDOT, nil
	}
	return "", fmt.Errorf("unknown export format %q", s)
}

// Options tune an export.
type Options struct {
	Layout string
	LayoutConfig
}

// Write renders g in the given format. The graph must be in canonical order.
func Write(w io.Writer, format Format, g *graph.Graph, findings []finding.Finding, opts Options) error {
	if g == nil {
		return fmt.Errorf("export: nil graph")
	}
	v, err := newView(g, findings, opts)
	if err != nil {
		return err
	}
	switch format {
	case FormatJSON:
		return writeJSON(w, v)
	case FormatGEXF:
		return writeGEXF(w, v)
	case FormatDOT:
		return writeDOT(w, v)
	default:
		return fmt.Errorf("unknown export format %q", format)
	}
}

// view is the format-independent projection shared by every writer.
type view struct {
	g         *graph.Graph
	positions []Position
	findings  map[string]int
	severity  map[string]finding.Severity
}

func newView(g *graph.Graph, findings []finding.Finding, opts Options) (*view, error) {
	positions, err := ComputeLayout(opts.Layout, g.Adjacency(nil), opts.LayoutConfig)
	if err != nil {
		return nil, err
	}
	v := &view{
		g:         g,
		positions: positions,
		findings:  make(map[string]int),
		severity:  make(map[string]finding.Severity),
	}
	for _, f := range findings {
		for _, id := range f.InvolvedEntities {
			v.findings[id]++
			if cur, ok := v.severity[id]; !ok || f.Severity.Rank() > cur.Rank() {
				v.severity[id] = f.Severity
			}
		}
	}
	return v, nil
}

func (v *view) position(i int) (Position, bool) {
	if v.positions == nil {
		return Position{}, false
	}
	return v.positions[i], true
}

type jsonNode struct {
	ID            string           `json:"id"`
	Kind          string           `json:"kind"`
	Name          string           `json:"name"`
	ResolutionKey string           `json:"resolution_key"`
	Attributes    map[string]any   `json:"attributes,omitempty"`
	Findings      int              `json:"findings"`
	MaxSeverity   finding.Severity `json:"max_severity,omitempty"`
	X             *float64         `json:"x,omitempty"`
	Y             *float64         `json:"y,omitempty"`
}

type jsonLink struct {
	Source        string  `json:"source"`
	Target        string  `json:"target"`
	Kind          string  `json:"kind"`
	Confidence    float64 `json:"confidence"`
	LowConfidence bool    `json:"low_confidence,omitempty"`
	Evidence      int     `json:"evidence"`
}

type jsonGraph struct {
	Directed   bool           `json:"directed"`
	Multigraph bool           `json:"multigraph"`
	Graph      map[string]any `json:"graph"`
	Nodes      []jsonNode     `json:"nodes"`
	Links      []jsonLink     `json:"links"`
}

func writeJSON(w io.Writer, v *view) error {
	out := jsonGraph{
		Directed:   true,
		Multigraph: true,
		Graph: map[string]any{
			"scan_id":    v.g.ScanID,
			"created_at": v.g.CreatedAt,
			"stats":      v.g.Stats(),
		},
		Nodes: make([]jsonNode, 0, len(v.g.Entities)),
		Links: make([]jsonLink, 0, len(v.g.Relations)),
	}
	for i, e := range v.g.Entities {
		n := jsonNode{
			ID:            e.ID,
			Kind:          string(e.Kind),
			Name:          e.Name,
			ResolutionKey: e.ResolutionKey,
			Attributes:    e.Attributes,
			Findings:      v.findings[e.ID],
			MaxSeverity:   v.severity[e.ID],
		}
		if p, ok := v.position(i); ok {
			n.X, n.Y = &p.X, &p.Y
		}
		out.Nodes = append(out.Nodes, n)
	}
	for _, r := range v.g.Relations {
		out.Links = append(out.Links, jsonLink{
			Source:        r.From,
			Target:        r.To,
			Kind:          string(r.Kind),
			Confidence:    r.Confidence,
			LowConfidence: r.LowConfidence,
			Evidence:      len(r.Evidence),
		})
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
