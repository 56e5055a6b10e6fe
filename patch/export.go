package patch

import (
	"embed"
	"fmt"
	"io"
	"text/template"

	"github.com/Masterminds/sprig"
	"github.com/vsariola/klavier/doc"
	"github.com/vsariola/klavier/engine"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

//go:embed templates/*.dot
var templateFS embed.FS

type (
	dotGraph struct {
		Name  string
		Nodes []dotNode
		Edges []dotEdge
	}

	dotNode struct {
		ID         engine.NodeID
		Type, Name string
		Modulators []string
	}

	dotEdge struct {
		From, To     engine.NodeID
		Label, Style string
	}
)

// WriteDOT writes the patch as a Graphviz graph: audio and MIDI connections
// as solid edges, modulation connections as dashed and state connections as
// dotted edges.
func (m *Model) WriteDOT(w io.Writer, name string) error {
	funcs := sprig.TxtFuncMap()
	funcs["title"] = cases.Title(language.English).String
	tmpl, err := template.New("base").Funcs(funcs).ParseFS(templateFS, "templates/*.dot")
	if err != nil {
		return fmt.Errorf("could not parse templates: %w", err)
	}
	g := dotGraph{Name: name}
	for _, p := range m.preps.Objects() {
		g.Nodes = append(g.Nodes, dotNode{ID: p.id, Type: p.typ, Name: p.Name(), Modulators: p.Modulators()})
	}
	for _, c := range m.cables.Objects() {
		label := fmt.Sprintf("%d:%d", c.conn.Source.Channel, c.conn.Destination.Channel)
		if c.conn.IsMIDI() {
			label = "midi"
		}
		g.Edges = append(g.Edges, dotEdge{From: c.conn.Source.Node, To: c.conn.Destination.Node, Label: label})
	}
	for _, mc := range m.mods.Objects() {
		e := dotEdge{
			From: engine.NodeID(mc.node.GetInt(doc.KeySourceNode, 0)),
			To:   engine.NodeID(mc.node.GetInt(doc.KeyDestNode, 0)),
		}
		switch {
		case mc.state != nil:
			e.Label, e.Style = mc.Source(), "dotted"
		case mc.conn != nil:
			e.Label, e.Style = fmt.Sprintf("%s %s %.2f", mc.Source(), mc.Destination(), mc.conn.Raw()), "dashed"
		default:
			continue
		}
		g.Edges = append(g.Edges, e)
	}
	if err := tmpl.ExecuteTemplate(w, "patch.dot", g); err != nil {
		return fmt.Errorf("could not write graph: %w", err)
	}
	return nil
}
