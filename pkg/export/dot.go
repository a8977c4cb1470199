package export

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/dd0wney/cluso-archmap/pkg/facts"
	"github.com/dd0wney/cluso-archmap/pkg/finding"
)

var dotShapes = map[facts.Kind]string{
	facts.KindService:   "box",
	facts.KindModule:    "component",
	facts.KindResource:  "cylinder",
	facts.KindContainer: "box3d",
	facts.KindPackage:   "folder",
}

var dotColors = map[finding.Severity]string{
	finding.SeverityInfo:   "gray50",
	finding.SeverityLow:    "gold",
	finding.SeverityMedium: "darkorange",
	finding.SeverityHigh:   "red",
}

func writeDOT(w io.Writer, v *view) error {
	bw := bufio.NewWriter(w)

	fmt.Fprintf(bw, "digraph %s {\n", dotQuote("archmap "+v.g.ScanID))
	bw.WriteString("  rankdir=LR;\n")
	bw.WriteString("  node [fontname=\"Helvetica\", style=filled, fillcolor=white];\n")

	for i, e := range v.g.Entities {
		shape := dotShapes[e.Kind]
		if shape == "" {
			shape = "ellipse"
		}
		attrs := []string{
			"label=" + dotQuote(e.Name+"\n"+string(e.Kind)),
			"shape=" + shape,
		}
		if sev, ok := v.severity[e.ID]; ok {
			attrs = append(attrs, "color="+dotColors[sev], "penwidth=2")
		}
		if p, ok := v.position(i); ok {
			attrs = append(attrs, fmt.Sprintf("pos=\"%s,%s!\"", formatFloat(p.X), formatFloat(p.Y)))
		}
		fmt.Fprintf(bw, "  %s [%s];\n", dotQuote(e.ID), strings.Join(attrs, ", "))
	}

	for _, r := range v.g.Relations {
		attrs := []string{"label=" + dotQuote(string(r.Kind))}
		if r.LowConfidence {
			attrs = append(attrs, "style=dashed")
		}
		fmt.Fprintf(bw, "  %s -> %s [%s];\n", dotQuote(r.From), dotQuote(r.To), strings.Join(attrs, ", "))
	}

	bw.WriteString("}\n")
	return bw.Flush()
}

// dotQuote renders s as a DOT double-quoted string.
func dotQuote(s string) string {
	var b strings.Builder
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
	return b.String()
}
