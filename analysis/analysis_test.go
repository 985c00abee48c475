package analysis

import (
	"testing"

	"github.com/staywilliam/asanopt/ir"
)

// diamond builds entry -> (left | right) -> join -> ret, with a call in
// right.
func diamond() (*ir.Function, map[string]*ir.Block) {
	m := ir.NewModule("diamond")
	callee := m.Declare("g", ir.Void)
	f := m.AddFunc(ir.NewFunction("f", ir.Void, ir.NewParam("c", ir.I1)))
	bs := map[string]*ir.Block{}
	for _, n := range []string{"entry", "left", "right", "join"} {
		bs[n] = f.NewBlock(n)
	}
	ir.NewBuilder(bs["entry"]).CondBr(f.Params[0], bs["left"], bs["right"])
	ir.NewBuilder(bs["left"]).Br(bs["join"])
	rb := ir.NewBuilder(bs["right"])
	rb.Call(callee)
	rb.Br(bs["join"])
	ir.NewBuilder(bs["join"]).Ret(nil)
	return f, bs
}

func TestDomTree(t *testing.T) {
	f, bs := diamond()
	dt := NewDomTree(f)
	pdt := NewPostDomTree(f)
	tests := []struct {
		tree *DomTree
		a, b string
		want bool
	}{
		{dt, "entry", "join", true},
		{dt, "left", "join", false},
		{dt, "join", "join", true},
		{pdt, "join", "entry", true},
		{pdt, "left", "entry", false},
		{pdt, "entry", "join", false},
	}
	for _, tt := range tests {
		if got := tt.tree.Dominates(bs[tt.a], bs[tt.b]); got != tt.want {
			t.Errorf("%s dom %s (post=%v): Expecting %v but got %v\n", tt.a, tt.b, tt.tree.post, tt.want, got)
		}
	}
	if idom := dt.IDom(bs["join"]); idom != bs["entry"] {
		t.Errorf("Expecting idom(join) = entry but got %v\n", idom)
	}
}

func TestUnreachableBlock(t *testing.T) {
	f, _ := diamond()
	dead := f.NewBlock("dead")
	ir.NewBuilder(dead).Ret(nil)
	info := Compute(f)
	if info.Reachable(dead) {
		t.Errorf("Expecting dead block unreachable\n")
	}
	if info.DT.Dominates(f.Entry(), dead) {
		t.Errorf("Expecting unreachable block outside the dominator tree\n")
	}
}

func TestCallBetween(t *testing.T) {
	f, bs := diamond()
	m := f.Parent
	p := m.AddGlobal(&ir.Global{Name: "x", Elem: ir.I32})
	a := ir.NewBuilderBefore(bs["entry"].Term()).Load(ir.I32, p)
	b := ir.NewBuilderBefore(bs["join"].Term()).Load(ir.I32, p)
	c := ir.NewBuilderBefore(bs["left"].Term()).Load(ir.I32, p)
	info := Compute(f)
	if !info.CallBetween(a, b) {
		t.Errorf("Expecting call in right to be between entry and join\n")
	}
	if info.CallBetween(c, b) {
		t.Errorf("Expecting no call between left and join\n")
	}
	if !info.Dominates(a, b) || info.Dominates(c, b) {
		t.Errorf("Expecting entry load to dominate join load, left load not to\n")
	}
	if !info.PostDominates(b, a) {
		t.Errorf("Expecting join load to post-dominate entry load\n")
	}
}

type nest struct {
	f                   *ir.Function
	p, q                *ir.Param
	h1, h2, latch, exit *ir.Block
	i, j                *ir.Instr
	b                   *ir.Builder // positioned in h2 before its terminator
}

// nested builds a two level loop nest:
//
//	entry: br h1
//	h1:    i = phi; br h2
//	h2:    j = phi; ...; br j+1 < n, h2, latch
//	latch: br i+1 < n, h1, exit
//	exit:  ret
func nested() *nest {
	m := ir.NewModule("nest")
	p, q, n := ir.NewParam("p", ir.Ptr), ir.NewParam("q", ir.Ptr), ir.NewParam("n", ir.I64)
	f := m.AddFunc(ir.NewFunction("f", ir.Void, p, q, n))
	entry := f.NewBlock("entry")
	h1, h2, latch, exit := f.NewBlock("h1"), f.NewBlock("h2"), f.NewBlock("latch"), f.NewBlock("exit")
	ir.NewBuilder(entry).Br(h1)

	b := ir.NewBuilder(h1)
	i := b.Phi(ir.I64)
	b.Br(h2)

	b = ir.NewBuilder(h2)
	j := b.Phi(ir.I64)
	j1 := b.Add(j, ir.ConstInt(ir.I64, 1))
	j.AddIncoming(ir.ConstInt(ir.I64, 0), h1)
	j.AddIncoming(j1, h2)
	b.CondBr(b.ICmp(ir.SLT, j1, n), h2, latch)

	b = ir.NewBuilder(latch)
	i1 := b.Add(i, ir.ConstInt(ir.I64, 1))
	i.AddIncoming(ir.ConstInt(ir.I64, 0), entry)
	i.AddIncoming(i1, latch)
	b.CondBr(b.ICmp(ir.SLT, i1, n), h1, exit)
	ir.NewBuilder(exit).Ret(nil)

	return &nest{f: f, p: p, q: q, h1: h1, h2: h2, latch: latch, exit: exit, i: i, j: j,
		b: ir.NewBuilderBefore(h2.Term())}
}

func TestLoopNest(t *testing.T) {
	n := nested()
	info := Compute(n.f)
	if len(info.Loops.Top) != 1 {
		t.Fatalf("Expecting 1 outermost loop but got %d", len(info.Loops.Top))
	}
	outer := info.Loops.Top[0]
	if outer.Header != n.h1 || len(outer.Blocks) != 3 || outer.Depth != 1 {
		t.Errorf("Expecting outer loop h1 with 3 blocks but got %s with %d\n", outer.Header.Label(), len(outer.Blocks))
	}
	if len(outer.Children) != 1 {
		t.Fatalf("Expecting 1 inner loop but got %d", len(outer.Children))
	}
	inner := outer.Children[0]
	if inner.Header != n.h2 || inner.Parent != outer || inner.Depth != 2 {
		t.Errorf("Expecting inner loop h2 at depth 2\n")
	}
	if info.Loops.LoopFor(n.h2) != inner || info.Loops.LoopFor(n.latch) != outer {
		t.Errorf("Expecting innermost loop lookup to work\n")
	}
	if inner.ExitBlock() != n.latch || outer.ExitBlock() != n.exit {
		t.Errorf("Expecting unique exit blocks latch and exit\n")
	}
	if inner.Preheader() != n.h1 || outer.Preheader() != n.f.Entry() {
		t.Errorf("Expecting preheaders h1 and entry\n")
	}
	if l := inner.Latches(); len(l) != 1 || l[0] != n.h2 {
		t.Errorf("Expecting h2 to be its own latch\n")
	}
	if len(info.Loops.Loops()) != 2 {
		t.Errorf("Expecting 2 loops in total\n")
	}
}

func TestIrreducibleCycle(t *testing.T) {
	m := ir.NewModule("irr")
	f := m.AddFunc(ir.NewFunction("f", ir.Void, ir.NewParam("c", ir.I1)))
	entry, a, b, exit := f.NewBlock("entry"), f.NewBlock("a"), f.NewBlock("b"), f.NewBlock("exit")
	c := f.Params[0]
	ir.NewBuilder(entry).CondBr(c, a, b)
	ir.NewBuilder(a).CondBr(c, b, exit)
	ir.NewBuilder(b).Br(a)
	ir.NewBuilder(exit).Ret(nil)
	info := Compute(f)
	if len(info.Loops.Top) != 0 {
		t.Errorf("Expecting no natural loops but got %d\n", len(info.Loops.Top))
	}
	if len(info.Loops.Irreducible) != 2 {
		t.Errorf("Expecting 2 irreducible blocks but got %d\n", len(info.Loops.Irreducible))
	}
}

func TestScalarEvolution(t *testing.T) {
	n := nested()
	zero := n.b.GEP(ir.I32, n.p, n.b.Mul(n.j, ir.ConstInt(ir.I64, 0)))
	stride4 := n.b.GEP(ir.I32, n.p, n.j)
	outer := n.b.GEP(ir.I64, n.p, n.i)
	idx := n.b.Load(ir.I64, n.q)
	data := n.b.GEP(ir.I32, n.p, idx)
	info := Compute(n.f)
	inner := info.Loops.LoopFor(n.h2)

	if s := info.SE.Get(zero); !info.SE.IsLoopInvariant(s, inner) {
		t.Errorf("Expecting p+j*0 invariant but got %s\n", s)
	}
	s := info.SE.Get(stride4)
	rec, ok := s.(*SAddRec)
	if !ok || rec.Loop != inner {
		t.Fatalf("Expecting an inner recurrence but got %s", s)
	}
	if step, ok := rec.Step.(*SConst); !ok || step.V != 4 {
		t.Errorf("Expecting step 4 but got %s\n", rec.Step)
	}
	if u, ok := rec.Start.(*SUnknown); !ok || u.V != n.p {
		t.Errorf("Expecting start %%p but got %s\n", rec.Start)
	}
	if s := info.SE.Get(outer); !info.SE.IsLoopInvariant(s, inner) {
		t.Errorf("Expecting outer induction invariant in the inner loop but got %s\n", s)
	}
	if s := info.SE.Get(outer); info.SE.IsLoopInvariant(s, info.Loops.Top[0]) {
		t.Errorf("Expecting outer induction to vary in the outer loop\n")
	}
	s = info.SE.Get(data)
	if _, ok := s.(*SAddRec); ok || info.SE.IsLoopInvariant(s, inner) {
		t.Errorf("Expecting data dependent address to be neither invariant nor recurrent but got %s\n", s)
	}
}

func TestScalarEvolutionCasts(t *testing.T) {
	n := nested()
	b := n.b
	narrow := b.Cast(ir.OpZExt, b.Cast(ir.OpTrunc, n.j, ir.I8), ir.I64)
	wide := b.Cast(ir.OpSExt, b.Cast(ir.OpTrunc, n.i, ir.I32), ir.I64)
	negative := b.Cast(ir.OpSExt, ir.ConstInt(ir.I8, 200), ir.I64)
	byte255 := b.Cast(ir.OpZExt, ir.ConstInt(ir.I8, -1), ir.I64)
	low := b.Cast(ir.OpTrunc, ir.ConstInt(ir.I64, 0x1ff), ir.I8)
	asInt := b.Cast(ir.OpPtrToInt, b.GEP(ir.I32, n.p, n.j), ir.I64)
	info := Compute(n.f)
	inner := info.Loops.LoopFor(n.h2)

	s := info.SE.Get(narrow)
	if _, ok := s.(*SAddRec); ok || info.SE.IsLoopInvariant(s, inner) {
		t.Errorf("Expecting a wrapping i8 induction to be opaque and varying but got %s\n", s)
	}
	s = info.SE.Get(wide)
	if _, ok := s.(*SUnknown); !ok || !info.SE.IsLoopInvariant(s, inner) {
		t.Errorf("Expecting truncated outer induction opaque and invariant in the inner loop but got %s\n", s)
	}
	if info.SE.IsLoopInvariant(s, info.Loops.Top[0]) {
		t.Errorf("Expecting truncated outer induction to vary in the outer loop\n")
	}
	consts := []struct {
		v    ir.Value
		want int64
	}{
		{negative, -56},
		{byte255, 255},
		{low, -1},
	}
	for _, tt := range consts {
		if c, ok := info.SE.Get(tt.v).(*SConst); !ok || c.V != tt.want {
			t.Errorf("%s: Expecting constant %d but got %s\n", tt.v.Ident(), tt.want, info.SE.Get(tt.v))
		}
	}
	if _, ok := info.SE.Get(asInt).(*SAddRec); !ok {
		t.Errorf("Expecting ptrtoint to i64 to keep the recurrence but got %s\n", info.SE.Get(asInt))
	}
}

func TestMustAliasAndObjectSize(t *testing.T) {
	m := ir.NewModule("m")
	f := m.AddFunc(ir.NewFunction("f", ir.Void, ir.NewParam("p", ir.Ptr)))
	b := ir.NewBuilder(f.NewBlock("entry"))
	arr := ir.ArrayOf(ir.I32, 4)
	a := b.Alloca(arr, nil)
	g1 := b.GEP(arr, a, ir.ConstInt(ir.I64, 0), ir.ConstInt(ir.I64, 2))
	g2 := b.GEP(ir.I32, b.GEP(ir.I32, a, ir.ConstInt(ir.I64, 1)), ir.ConstInt(ir.I64, 1))
	g3 := b.GEP(arr, a, ir.ConstInt(ir.I64, 0), ir.ConstInt(ir.I64, 3))
	b.Ret(nil)
	if !MustAlias(g1, g2) {
		t.Errorf("Expecting a[2] and (a+1)+1 to must-alias\n")
	}
	if MustAlias(g1, g3) {
		t.Errorf("Expecting a[2] and a[3] not to alias\n")
	}
	obj, size, off, ok := ObjectSizeOffset(g3)
	if !ok || obj != a || size != 16 || off != 12 {
		t.Errorf("Expecting object of 16 bytes at offset 12 but got %d %d %v\n", size, off, ok)
	}
	if _, _, _, ok := ObjectSizeOffset(f.Params[0]); ok {
		t.Errorf("Expecting unknown size for a parameter\n")
	}
	ext := m.AddGlobal(&ir.Global{Name: "ext", Elem: arr, External: true})
	if _, _, _, ok := ObjectSizeOffset(ext); ok {
		t.Errorf("Expecting unknown size for an external global\n")
	}
}
