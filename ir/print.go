package ir

import (
	"bytes"
	"fmt"
	"io"
	"strings"
)

// Fprint writes m in textual form to w.
func Fprint(w io.Writer, m *Module) error {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "; module %s\n", m.Name)
	if m.Triple != "" {
		fmt.Fprintf(&buf, "target triple = %q\n", m.Triple)
	}
	for _, g := range m.Globals {
		writeGlobal(&buf, g)
	}
	for _, f := range m.Funcs {
		buf.WriteByte('\n')
		writeFunc(&buf, f)
	}
	_, err := w.Write(buf.Bytes())
	return err
}

func (m *Module) String() string {
	var buf bytes.Buffer
	Fprint(&buf, m)
	return buf.String()
}

func (f *Function) String() string {
	var buf bytes.Buffer
	writeFunc(&buf, f)
	return buf.String()
}

func writeGlobal(buf *bytes.Buffer, g *Global) {
	linkage := "global"
	if g.External {
		linkage = "external global"
	}
	fmt.Fprintf(buf, "%s = %s %s", g.Ident(), linkage, g.Elem)
	if g.NoShadow {
		buf.WriteString(", no_sanitize_address")
	}
	buf.WriteByte('\n')
}

func writeFunc(buf *bytes.Buffer, f *Function) {
	params := make([]string, len(f.Params))
	for i, p := range f.Params {
		params[i] = p.Typ.String() + " " + p.Ident()
	}
	if f.IsDecl() {
		fmt.Fprintf(buf, "declare %s %s(%s)\n", f.Ret, f.Ident(), strings.Join(params, ", "))
		return
	}
	fmt.Fprintf(buf, "define %s %s(%s) {\n", f.Ret, f.Ident(), strings.Join(params, ", "))
	for n, b := range f.Blocks {
		if n > 0 {
			buf.WriteByte('\n')
		}
		fmt.Fprintf(buf, "%s:\n", b.Label())
		for _, i := range b.Instrs {
			buf.WriteString("  ")
			buf.WriteString(i.String())
			buf.WriteByte('\n')
		}
	}
	buf.WriteString("}\n")
}

func typed(v Value) string {
	return v.Type().String() + " " + v.Ident()
}

func (i *Instr) String() string {
	var s string
	switch {
	case i.Op == OpAlloca:
		s = "alloca " + i.Elem.String()
		if len(i.Ops) > 0 {
			s += ", " + typed(i.Ops[0])
		}
		s += alignSuffix(i.Align)
	case i.Op == OpLoad:
		s = fmt.Sprintf("load %s, %s%s", i.Typ, typed(i.Ops[0]), alignSuffix(i.Align))
	case i.Op == OpStore:
		s = fmt.Sprintf("store %s, %s%s", typed(i.Ops[0]), typed(i.Ops[1]), alignSuffix(i.Align))
	case i.Op == OpAtomicRMW:
		s = fmt.Sprintf("atomicrmw %s %s, %s seq_cst", i.AtomicOp, typed(i.Ops[0]), typed(i.Ops[1]))
	case i.Op == OpCmpXchg:
		s = fmt.Sprintf("cmpxchg %s, %s, %s seq_cst seq_cst", typed(i.Ops[0]), typed(i.Ops[1]), typed(i.Ops[2]))
	case i.Op == OpGEP:
		s = fmt.Sprintf("getelementptr %s, %s", i.Elem, joinTyped(i.Ops))
	case i.Op.IsCast():
		s = fmt.Sprintf("%s %s to %s", i.Op, typed(i.Ops[0]), i.Typ)
	case i.Op.IsBinary():
		s = fmt.Sprintf("%s %s, %s", i.Op, typed(i.Ops[0]), i.Ops[1].Ident())
	case i.Op == OpICmp:
		s = fmt.Sprintf("icmp %s %s, %s", i.Pred, typed(i.Ops[0]), i.Ops[1].Ident())
	case i.Op == OpPhi:
		edges := make([]string, len(i.Ops))
		for n := range i.Ops {
			edges[n] = fmt.Sprintf("[ %s, %%%s ]", i.Ops[n].Ident(), i.Incoming[n].Label())
		}
		s = fmt.Sprintf("phi %s %s", i.Typ, strings.Join(edges, ", "))
	case i.Op == OpSelect:
		s = "select " + joinTyped(i.Ops)
	case i.Op == OpCall:
		callee := "@<indirect>"
		if i.Callee != nil {
			callee = i.Callee.Ident()
		}
		s = fmt.Sprintf("call %s %s(%s)", i.Typ, callee, joinTyped(i.Ops))
	case i.Op == OpExtractElement:
		s = "extractelement " + joinTyped(i.Ops)
	case i.Op == OpBr:
		s = "br label %" + i.Targets[0].Label()
	case i.Op == OpCondBr:
		s = fmt.Sprintf("br %s, label %%%s, label %%%s", typed(i.Ops[0]), i.Targets[0].Label(), i.Targets[1].Label())
		if len(i.Weights) == 2 {
			s += fmt.Sprintf(", !prof !{!\"branch_weights\", i32 %d, i32 %d}", i.Weights[0], i.Weights[1])
		}
	case i.Op == OpRet:
		if len(i.Ops) == 0 {
			s = "ret void"
		} else {
			s = "ret " + typed(i.Ops[0])
		}
	case i.Op == OpUnreachable:
		s = "unreachable"
	default:
		s = i.Op.String()
	}
	if i.Has(MetaNoSanitize) {
		s += ", !nosanitize"
	}
	if i.Typ != nil && !i.Typ.IsVoid() && i.Op != OpStore {
		return i.Ident() + " = " + s
	}
	return s
}

func joinTyped(vs []Value) string {
	parts := make([]string, len(vs))
	for i, v := range vs {
		parts[i] = typed(v)
	}
	return strings.Join(parts, ", ")
}

func alignSuffix(a int64) string {
	if a == 0 {
		return ""
	}
	return fmt.Sprintf(", align %d", a)
}
