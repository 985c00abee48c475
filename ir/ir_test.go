package ir

import (
	"errors"
	"strings"
	"testing"
)

func TestTypeLayout(t *testing.T) {
	tests := []struct {
		typ   *Type
		size  int64
		align int64
	}{
		{I1, 1, 1},
		{I32, 4, 4},
		{I64, 8, 8},
		{I128, 16, 8},
		{Ptr, 8, 8},
		{ArrayOf(I32, 10), 40, 4},
		{StructOf(I8, I32, I8), 12, 4},
		{StructOf(I64, I8), 16, 8},
		{VectorOf(I32, 4), 16, 16},
	}
	for _, tt := range tests {
		if got := tt.typ.Size(); got != tt.size {
			t.Errorf("%s: Expecting size %d but got %d\n", tt.typ, tt.size, got)
		}
		if got := tt.typ.Align(); got != tt.align {
			t.Errorf("%s: Expecting align %d but got %d\n", tt.typ, tt.align, got)
		}
	}
	s := StructOf(I8, I32, I16)
	if off := s.FieldOffset(1); off != 4 {
		t.Errorf("Expecting field 1 at 4 but got %d\n", off)
	}
	if off := s.FieldOffset(2); off != 8 {
		t.Errorf("Expecting field 2 at 8 but got %d\n", off)
	}
}

// buildCounter builds:
//
//	entry: br loop
//	loop:  i = phi [0, entry], [i+1, loop]; store i, p; br i<n, loop, exit
//	exit:  ret
func buildCounter() (*Module, *Function) {
	m := NewModule("test")
	p := NewParam("p", Ptr)
	n := NewParam("n", I64)
	f := m.AddFunc(NewFunction("counter", Void, p, n))
	entry, loop, exit := f.NewBlock("entry"), f.NewBlock("loop"), f.NewBlock("exit")
	NewBuilder(entry).Br(loop)
	b := NewBuilder(loop)
	i := b.Phi(I64)
	b.Store(i, p)
	next := b.Add(i, ConstInt(I64, 1))
	i.AddIncoming(ConstInt(I64, 0), entry)
	i.AddIncoming(next, loop)
	b.CondBr(b.ICmp(SLT, next, n), loop, exit)
	NewBuilder(exit).Ret(nil)
	return m, f
}

// branchy builds f(p, n): entry branches to left or right, both join; left
// defines x = n+1. The returned builder appends to join before its ret.
func branchy() (*Function, *Instr, *Builder) {
	m := NewModule("test")
	f := m.AddFunc(NewFunction("f", Void, NewParam("p", Ptr), NewParam("n", I64)))
	entry, left, right, join := f.NewBlock("entry"), f.NewBlock("left"), f.NewBlock("right"), f.NewBlock("join")
	eb := NewBuilder(entry)
	eb.CondBr(eb.ICmp(EQ, f.Params[1], ConstInt(I64, 0)), left, right)
	lb := NewBuilder(left)
	x := lb.Add(f.Params[1], ConstInt(I64, 1))
	lb.Br(join)
	NewBuilder(right).Br(join)
	ret := NewBuilder(join).Ret(nil)
	return f, x, NewBuilderBefore(ret)
}

func TestVerifyDominance(t *testing.T) {
	f, x, b := branchy()
	b.Store(x, f.Params[0])
	if err := Verify(f); !errors.Is(err, ErrNotDominated) {
		t.Errorf("Expecting a use in the join of a value from one arm rejected but got %v\n", err)
	}

	f, x, b = branchy()
	phi := NewBuilderBefore(b.Block().Instrs[0]).Phi(I64)
	phi.AddIncoming(x, f.Blocks[1])
	phi.AddIncoming(ConstInt(I64, 0), f.Blocks[2])
	b.Store(phi, f.Params[0])
	if err := Verify(f); err != nil {
		t.Errorf("Expecting a phi over both arms accepted but got %v\n", err)
	}

	f, x, _ = branchy()
	phi = NewBuilderBefore(f.Blocks[3].Instrs[0]).Phi(I64)
	phi.AddIncoming(ConstInt(I64, 0), f.Blocks[1])
	phi.AddIncoming(x, f.Blocks[2])
	if err := Verify(f); !errors.Is(err, ErrNotDominated) {
		t.Errorf("Expecting a phi edge from the other arm rejected but got %v\n", err)
	}

	_, f = buildCounter()
	loop := f.Blocks[1]
	next := loop.Instrs[2]
	NewBuilderBefore(loop.Instrs[1]).Store(next, f.Params[0])
	if err := Verify(f); !errors.Is(err, ErrNotDominated) {
		t.Errorf("Expecting a use before its definition rejected but got %v\n", err)
	}

	_, f = buildCounter()
	loose := &Instr{Op: OpAdd, Typ: I64, Ops: []Value{f.Params[1], ConstInt(I64, 1)}}
	NewBuilderBefore(f.Blocks[2].Term()).Store(loose, f.Params[0])
	if err := Verify(f); !errors.Is(err, ErrUndefinedValue) {
		t.Errorf("Expecting a use of an instruction outside the function rejected but got %v\n", err)
	}

	f, x, _ = branchy()
	dead := f.NewBlock("dead")
	db := NewBuilder(dead)
	db.Store(x, f.Params[0])
	db.Ret(nil)
	if err := Verify(f); err != nil {
		t.Errorf("Expecting unreachable blocks unchecked but got %v\n", err)
	}
}

func TestSplitBlockKeepsPhis(t *testing.T) {
	_, f := buildCounter()
	loop := f.Blocks[1]
	st := loop.Instrs[1]
	tail := SplitBlock(st, "tail")
	if err := Verify(f); err != nil {
		t.Fatalf("Verify failed after split: %v", err)
	}
	phi := loop.Instrs[0]
	if phi.Incoming[1] != tail {
		t.Errorf("Expecting phi edge from %s but got %s\n", tail.Label(), phi.Incoming[1].Label())
	}
	if st.Block != tail {
		t.Errorf("Expecting store moved to tail\n")
	}
	if len(f.Blocks) != 4 || f.Blocks[2] != tail {
		t.Errorf("Expecting tail right after loop in layout\n")
	}
}

func TestSplitBlockAndInsertIfThen(t *testing.T) {
	_, f := buildCounter()
	loop := f.Blocks[1]
	st := loop.Instrs[1]
	cond := NewBuilderBefore(st).ICmp(EQ, f.Params[1], ConstInt(I64, 0))
	term := SplitBlockAndInsertIfThen(cond, st, false, []uint32{1, 100000})
	if err := Verify(f); err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	br := loop.Term()
	if br.Op != OpCondBr || br.Targets[0] != term.Block || br.Targets[1] != st.Block {
		t.Errorf("Expecting condbr to then/tail but got %s\n", br)
	}
	if term.Op != OpBr || term.Targets[0] != st.Block {
		t.Errorf("Expecting then block to rejoin at store but got %s\n", term)
	}
	if len(br.Weights) != 2 || br.Weights[1] != 100000 {
		t.Errorf("Expecting branch weights to be kept\n")
	}
}

func TestCloneFunction(t *testing.T) {
	_, f := buildCounter()
	nf, cm := CloneFunction(f, "counter.clone", nil)
	if err := Verify(nf); err != nil {
		t.Fatalf("Verify clone: %v", err)
	}
	for _, b := range f.Blocks {
		nb := cm.Block(b.ID)
		if nb == nil || nb == b || nb.Parent != nf {
			t.Fatalf("Expecting a distinct clone of block %s", b.Label())
		}
		for n, i := range b.Instrs {
			if cm.Instr(i) != nb.Instrs[n] {
				t.Errorf("Expecting clone map to map %s\n", i)
			}
		}
	}
	phi := nf.Blocks[1].Instrs[0]
	if phi.Incoming[1] != nf.Blocks[1] {
		t.Errorf("Expecting phi edge remapped to cloned block\n")
	}
	if st := nf.Blocks[1].Instrs[1]; st.Ops[1] != nf.Params[0] {
		t.Errorf("Expecting store pointer remapped to cloned param\n")
	}
	// Mutating the clone leaves the original alone.
	SplitBlock(nf.Blocks[1].Instrs[1], "")
	if len(f.Blocks) != 3 {
		t.Errorf("Expecting original to keep 3 blocks but got %d\n", len(f.Blocks))
	}
}

func TestCloneModuleRemapsCalls(t *testing.T) {
	m := NewModule("m")
	callee := m.AddFunc(NewFunction("callee", Void))
	NewBuilder(callee.NewBlock("entry")).Ret(nil)
	g := m.AddGlobal(&Global{Name: "g", Elem: I32})
	caller := m.AddFunc(NewFunction("caller", Void))
	b := NewBuilder(caller.NewBlock("entry"))
	b.Call(callee)
	b.Store(ConstInt(I32, 1), g)
	b.Ret(nil)

	nm, maps := CloneModule(m)
	nc := nm.Func("caller")
	call := nc.Blocks[0].Instrs[0]
	if call.Callee != nm.Func("callee") {
		t.Errorf("Expecting call to cloned callee\n")
	}
	if st := nc.Blocks[0].Instrs[1]; st.Ops[1] != nm.Global("g") {
		t.Errorf("Expecting store to cloned global\n")
	}
	if maps["caller"] == nil || maps["callee"] == nil {
		t.Errorf("Expecting clone maps for both definitions\n")
	}
}

func TestPrint(t *testing.T) {
	m, _ := buildCounter()
	s := m.String()
	for _, want := range []string{
		"define void @counter(ptr %p, i64 %n) {",
		"phi i64 [ 0, %entry ]",
		"store i64",
		"br i1",
		"ret void",
	} {
		if !strings.Contains(s, want) {
			t.Errorf("Expecting output to contain %q but got\n%s", want, s)
		}
	}
}

func TestStripPointerCasts(t *testing.T) {
	m := NewModule("m")
	f := m.AddFunc(NewFunction("f", Void, NewParam("p", Ptr)))
	b := NewBuilder(f.NewBlock("entry"))
	i := b.PtrToInt(f.Params[0])
	p := b.IntToPtr(i)
	c := b.Cast(OpBitCast, p, Ptr)
	if got := StripPointerCasts(c); got != f.Params[0] {
		t.Errorf("Expecting %%p but got %s\n", got.Ident())
	}
}
