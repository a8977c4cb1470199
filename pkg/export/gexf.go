package export

import (
	"fmt"
	"io"
	"strconv"

	"github.com/beevik/etree"
)

const (
	gexfNamespace    = "http://gexf.net/1.3"
	gexfVizNamespace = "http://gexf.net/1.3/viz"
	gexfSchema       = "http://gexf.net/1.3 http://gexf.net/1.3/gexf.xsd"
)

// Node attribute ids declared in the GEXF header.
const (
	gexfAttrKind     = "kind"
	gexfAttrKey      = "resolution_key"
	gexfAttrFindings = "findings"
	gexfAttrSeverity = "max_severity"
	gexfAttrLow      = "low_confidence"
)

func writeGEXF(w io.Writer, v *view) error {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)

	root := doc.CreateElement("gexf")
	root.CreateAttr("xmlns", gexfNamespace)
	root.CreateAttr("xmlns:viz", gexfVizNamespace)
	root.CreateAttr("xmlns:xsi", "http://www.w3.org/2001/XMLSchema-instance")
	root.CreateAttr("xsi:schemaLocation", gexfSchema)
	root.CreateAttr("version", "1.3")

	meta := root.CreateElement("meta")
	if !v.g.CreatedAt.IsZero() {
		meta.CreateAttr("lastmodifieddate", v.g.CreatedAt.UTC().Format("2006-01-02"))
	}
	meta.CreateElement("creator").SetText("archmap")
	meta.CreateElement("description").SetText(fmt.Sprintf("scan %s", v.g.ScanID))

	gr := root.CreateElement("graph")
	gr.CreateAttr("defaultedgetype", "directed")
	gr.CreateAttr("mode", "static")

	nodeAttrs := gr.CreateElement("attributes")
	nodeAttrs.CreateAttr("class", "node")
	declare(nodeAttrs, gexfAttrKind, "string")
	declare(nodeAttrs, gexfAttrKey, "string")
	declare(nodeAttrs, gexfAttrFindings, "integer")
	declare(nodeAttrs, gexfAttrSeverity, "string")

	edgeAttrs := gr.CreateElement("attributes")
	edgeAttrs.CreateAttr("class", "edge")
	declare(edgeAttrs, gexfAttrLow, "boolean")

	nodes := gr.CreateElement("nodes")
	for i, e := range v.g.Entities {
		n := nodes.CreateElement("node")
		n.CreateAttr("id", e.ID)
		n.CreateAttr("label", e.Name)

		values := n.CreateElement("attvalues")
		attvalue(values, gexfAttrKind, string(e.Kind))
		attvalue(values, gexfAttrKey, e.ResolutionKey)
		attvalue(values, gexfAttrFindings, strconv.Itoa(v.findings[e.ID]))
		if sev, ok := v.severity[e.ID]; ok {
			attvalue(values, gexfAttrSeverity, string(sev))
		}

		if p, ok := v.position(i); ok {
			pos := n.CreateElement("viz:position")
			pos.CreateAttr("x", formatFloat(p.X))
			pos.CreateAttr("y", formatFloat(p.Y))
			pos.CreateAttr("z", "0")
		}
	}

	edges := gr.CreateElement("edges")
	for i, r := range v.g.Relations {
		e := edges.CreateElement("edge")
		e.CreateAttr("id", strconv.Itoa(i))
		e.CreateAttr("source", r.From)
		e.CreateAttr("target", r.To)
		e.CreateAttr("label", string(r.Kind))
		e.CreateAttr("weight", formatFloat(r.Confidence))
		if r.LowConfidence {
			attvalue(e.CreateElement("attvalues"), gexfAttrLow, "true")
		}
	}

	doc.Indent(2)
	_, err := doc.WriteTo(w)
	return err
}

func declare(parent *etree.Element, id, typ string) {
	a := parent.CreateElement("attribute")
	a.CreateAttr("id", id)
	a.CreateAttr("title", id)
	a.CreateAttr("type", typ)
}

func attvalue(parent *etree.Element, id, value string) {
	a := parent.CreateElement("attvalue")
	a.CreateAttr("for", id)
	a.CreateAttr("value", value)
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
