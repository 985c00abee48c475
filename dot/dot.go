// Package dot renders the control flow graph of a function in Graphviz
// format, highlighting the code added by instrumentation.
package dot // import "github.com/staywilliam/asanopt/dot"

import (
	"fmt"
	"io"
	"strings"

	"github.com/awalterschulze/gographviz"

	"github.com/staywilliam/asanopt/asan"
	"github.com/staywilliam/asanopt/ir"
)

// Block colours.
const (
	ReportColour = "tomato"      // Blocks calling a reporter.
	CheckColour  = "lightyellow" // Blocks holding check code.
)

// Graph returns the CFG of f. prefix is the checker callback prefix.
func Graph(f *ir.Function, prefix string) (*gographviz.Escape, error) {
	if f.IsDecl() {
		return nil, fmt.Errorf("%s: %w", f.Name, ErrNoBody)
	}
	graph := gographviz.NewEscape()
	if err := graph.SetDir(true); err != nil {
		return nil, err
	}
	if err := graph.SetName(f.Name); err != nil {
		return nil, err
	}
	if err := graph.AddAttr(graph.Name, "label", f.Name); err != nil {
		return nil, err
	}
	for _, b := range f.Blocks {
		if err := graph.AddNode(graph.Name, nodeName(b), blockAttrs(b, prefix)); err != nil {
			return nil, err
		}
	}
	for _, b := range f.Blocks {
		term := b.Term()
		if term == nil {
			continue
		}
		for n, s := range term.Targets {
			attrs := map[string]string{}
			if term.Op == ir.OpCondBr {
				attrs["label"] = [...]string{"T", "F"}[n]
			}
			if err := graph.AddEdge(nodeName(b), nodeName(s), true, attrs); err != nil {
				return nil, err
			}
		}
	}
	return graph, nil
}

// Write writes the CFG of f to w.
func Write(w io.Writer, f *ir.Function, prefix string) error {
	graph, err := Graph(f, prefix)
	if err != nil {
		return err
	}
	_, err = io.WriteString(w, graph.String())
	return err
}

func nodeName(b *ir.Block) string {
	return fmt.Sprintf("b%d", b.ID)
}

func blockAttrs(b *ir.Block, prefix string) map[string]string {
	lines := []string{b.Label() + ":"}
	check, report := false, false
	for _, i := range b.Instrs {
		lines = append(lines, i.String())
		if i.Has(ir.MetaNoSanitize) {
			check = true
		}
		if i.Op == ir.OpCall && i.Callee != nil {
			if c, ok := asan.ParseCallback(i.Callee.Name, prefix); ok {
				check = true
				report = report || c.Report
			}
		}
	}
	attrs := map[string]string{
		"shape":    "box",
		"fontname": "monospace",
		// Left justified lines.
		"label": strings.Join(lines, `\l`) + `\l`,
	}
	switch {
	case report:
		attrs["style"] = "filled"
		attrs["fillcolor"] = ReportColour
	case check:
		attrs["style"] = "filled"
		attrs["fillcolor"] = CheckColour
	}
	return attrs
}
