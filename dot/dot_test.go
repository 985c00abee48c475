package dot

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/staywilliam/asanopt/asan"
	"github.com/staywilliam/asanopt/ir"
)

func loadFunc() (*ir.Module, *ir.Function) {
	m := ir.NewModule("dot")
	f := m.AddFunc(ir.NewFunction("first", ir.I32, ir.NewParam("p", ir.Ptr)))
	b := ir.NewBuilder(f.NewBlock("entry"))
	b.Ret(b.Load(ir.I32, f.Params[0]))
	return m, f
}

func TestUninstrumented(t *testing.T) {
	_, f := loadFunc()
	var buf bytes.Buffer
	if err := Write(&buf, f, "__asan_"); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.Contains(out, "digraph first") {
		t.Errorf("Expecting a digraph named first but got\n%s", out)
	}
	if strings.Contains(out, ReportColour) || strings.Contains(out, CheckColour) {
		t.Errorf("Expecting no highlighted block but got\n%s", out)
	}
}

func TestInstrumented(t *testing.T) {
	m, f := loadFunc()
	opts := asan.DefaultOptions()
	p, err := asan.NewPass(opts, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := p.InstrumentModule(m); err != nil {
		t.Fatal(err)
	}
	g, err := Graph(f, opts.CallbackPrefix)
	if err != nil {
		t.Fatal(err)
	}
	if len(g.Nodes.Nodes) != len(f.Blocks) {
		t.Errorf("Expecting %d nodes but got %d\n", len(f.Blocks), len(g.Nodes.Nodes))
	}
	out := g.String()
	if !strings.Contains(out, ReportColour) {
		t.Errorf("Expecting a reporting block but got\n%s", out)
	}
	if !strings.Contains(out, "label=T") || !strings.Contains(out, "label=F") {
		t.Errorf("Expecting labelled branch edges but got\n%s", out)
	}
}

func TestDeclaration(t *testing.T) {
	m := ir.NewModule("dot")
	f := m.Declare("malloc", ir.Ptr, ir.I64)
	if _, err := Graph(f, "__asan_"); !errors.Is(err, ErrNoBody) {
		t.Errorf("Expecting ErrNoBody but got %v\n", err)
	}
}
