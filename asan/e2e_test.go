package asan_test

import (
	"errors"
	"io/ioutil"
	"testing"

	"github.com/staywilliam/asanopt/asan"
	"github.com/staywilliam/asanopt/asanrt"
	"github.com/staywilliam/asanopt/interp"
	"github.com/staywilliam/asanopt/ir"
)

// heapModule defines
//
//	three(i64 size): p = malloc(size); p[0] = p[1] = p[2] = 0 (i32)
//	fill(i64 size, i64 n): p = malloc(size); p[i] = i for i in [0, n) (i32)
func heapModule() *ir.Module {
	m := ir.NewModule("heap")
	malloc := m.Declare("malloc", ir.Ptr, ir.I64)

	three := m.AddFunc(ir.NewFunction("three", ir.Void, ir.NewParam("size", ir.I64)))
	b := ir.NewBuilder(three.NewBlock("entry"))
	p := b.Call(malloc, three.Params[0])
	for k := int64(0); k < 3; k++ {
		b.Store(ir.ConstInt(ir.I32, 0), b.GEP(ir.I32, p, ir.ConstInt(ir.I64, k)))
	}
	b.Ret(nil)

	fill := m.AddFunc(ir.NewFunction("fill", ir.Void, ir.NewParam("size", ir.I64), ir.NewParam("n", ir.I64)))
	entry, loop, exit := fill.NewBlock("entry"), fill.NewBlock("loop"), fill.NewBlock("exit")
	b = ir.NewBuilder(entry)
	q := b.Call(malloc, fill.Params[0])
	b.Br(loop)
	b = ir.NewBuilder(loop)
	i := b.Phi(ir.I64)
	b.Store(b.Cast(ir.OpTrunc, i, ir.I32), b.GEP(ir.I32, q, i))
	i1 := b.Add(i, ir.ConstInt(ir.I64, 1))
	b.CondBr(b.ICmp(ir.SLT, i1, fill.Params[1]), loop, exit)
	i.AddIncoming(ir.ConstInt(ir.I64, 0), entry)
	i.AddIncoming(i1, loop)
	ir.NewBuilder(exit).Ret(nil)
	return m
}

// loopModule defines loops whose checks are relocated or removed by the
// optimisation stages. Every loop runs its body at least once.
//
//	tracked(size, c, n):  for j in [0, n): if j is odd, p[c] = j (i32)
//	walk(size, start, n): for j in [start, start+n): p[j] = j (i32)
//	walkDown(size, n):    for j from n-1 down to 0: p[j] = j (i32)
//	nested(size, n, m):   for i in [0, n), j in [0, m): if i+j is odd, p[i] = j (i32)
//	postdom(size, s, k):  q = p+s, k times { *q = 0 (i8); q -= 4 }, then *q = 0 (i32) for the last q
//	merge(size, s, k):    q = p+s, k times { *q = 0 (i32); q -= 4 }, then *(q+4) = 0 (i32) for the last q
//
// where p = malloc(size) and p[i] indexes i32 elements.
func loopModule() *ir.Module {
	m := ir.NewModule("loops")
	malloc := m.Declare("malloc", ir.Ptr, ir.I64)
	zero, one := ir.ConstInt(ir.I64, 0), ir.ConstInt(ir.I64, 1)
	i32 := func(b *ir.Builder, v ir.Value) ir.Value { return b.IntCast(v, ir.I32, true) }
	params := func(names ...string) []*ir.Param {
		ps := make([]*ir.Param, len(names))
		for i, n := range names {
			ps[i] = ir.NewParam(n, ir.I64)
		}
		return ps
	}

	f := m.AddFunc(ir.NewFunction("tracked", ir.Void, params("size", "c", "n")...))
	entry, header, body, latch, exit := f.NewBlock("entry"), f.NewBlock("header"), f.NewBlock("body"), f.NewBlock("latch"), f.NewBlock("exit")
	b := ir.NewBuilder(entry)
	q := b.GEP(ir.I32, b.Call(malloc, f.Params[0]), f.Params[1])
	b.Br(header)
	b = ir.NewBuilder(header)
	j := b.Phi(ir.I64)
	b.CondBr(b.ICmp(ir.NE, b.And(j, one), zero), body, latch)
	b = ir.NewBuilder(body)
	b.Store(i32(b, j), q)
	b.Br(latch)
	b = ir.NewBuilder(latch)
	j1 := b.Add(j, one)
	b.CondBr(b.ICmp(ir.SLT, j1, f.Params[2]), header, exit)
	j.AddIncoming(zero, entry)
	j.AddIncoming(j1, latch)
	ir.NewBuilder(exit).Ret(nil)

	f = m.AddFunc(ir.NewFunction("walk", ir.Void, params("size", "start", "n")...))
	entry, header, exit = f.NewBlock("entry"), f.NewBlock("header"), f.NewBlock("exit")
	b = ir.NewBuilder(entry)
	p := b.Call(malloc, f.Params[0])
	end := b.Add(f.Params[1], f.Params[2])
	b.Br(header)
	b = ir.NewBuilder(header)
	j = b.Phi(ir.I64)
	b.Store(i32(b, j), b.GEP(ir.I32, p, j))
	j1 = b.Add(j, one)
	b.CondBr(b.ICmp(ir.SLT, j1, end), header, exit)
	j.AddIncoming(f.Params[1], entry)
	j.AddIncoming(j1, header)
	ir.NewBuilder(exit).Ret(nil)

	f = m.AddFunc(ir.NewFunction("walkDown", ir.Void, params("size", "n")...))
	entry, header, exit = f.NewBlock("entry"), f.NewBlock("header"), f.NewBlock("exit")
	b = ir.NewBuilder(entry)
	p = b.Call(malloc, f.Params[0])
	top := b.Sub(f.Params[1], one)
	b.Br(header)
	b = ir.NewBuilder(header)
	j = b.Phi(ir.I64)
	b.Store(i32(b, j), b.GEP(ir.I32, p, j))
	j1 = b.Sub(j, one)
	b.CondBr(b.ICmp(ir.SGE, j1, zero), header, exit)
	j.AddIncoming(top, entry)
	j.AddIncoming(j1, header)
	ir.NewBuilder(exit).Ret(nil)

	f = m.AddFunc(ir.NewFunction("nested", ir.Void, params("size", "n", "m")...))
	entry, outer, inner := f.NewBlock("entry"), f.NewBlock("outer"), f.NewBlock("inner")
	body, next, latch, exit := f.NewBlock("body"), f.NewBlock("next"), f.NewBlock("latch"), f.NewBlock("exit")
	b = ir.NewBuilder(entry)
	p = b.Call(malloc, f.Params[0])
	b.Br(outer)
	b = ir.NewBuilder(outer)
	i := b.Phi(ir.I64)
	q = b.GEP(ir.I32, p, i)
	b.Br(inner)
	b = ir.NewBuilder(inner)
	j = b.Phi(ir.I64)
	b.CondBr(b.ICmp(ir.NE, b.And(b.Add(i, j), one), zero), body, next)
	b = ir.NewBuilder(body)
	b.Store(i32(b, j), q)
	b.Br(next)
	b = ir.NewBuilder(next)
	j1 = b.Add(j, one)
	b.CondBr(b.ICmp(ir.SLT, j1, f.Params[2]), inner, latch)
	j.AddIncoming(zero, outer)
	j.AddIncoming(j1, next)
	b = ir.NewBuilder(latch)
	i1 := b.Add(i, one)
	b.CondBr(b.ICmp(ir.SLT, i1, f.Params[1]), outer, exit)
	i.AddIncoming(zero, entry)
	i.AddIncoming(i1, latch)
	ir.NewBuilder(exit).Ret(nil)

	pointerWalk(m, malloc, "postdom", ir.I8, func(b *ir.Builder, q ir.Value) {
		b.Store(ir.ConstInt(ir.I32, 0), q)
	})
	pointerWalk(m, malloc, "merge", ir.I32, func(b *ir.Builder, q ir.Value) {
		b.Store(ir.ConstInt(ir.I32, 0), b.GEP(ir.I8, q, ir.ConstInt(ir.I64, 4)))
	})
	return m
}

// pointerWalk defines name(size, s, k) storing a zero of type elem to a
// pointer phi q starting at p+s and moving down by 4 bytes, k times, then
// calls after with the last q.
func pointerWalk(m *ir.Module, malloc *ir.Function, name string, elem *ir.Type, after func(b *ir.Builder, q ir.Value)) {
	f := m.AddFunc(ir.NewFunction(name, ir.Void, ir.NewParam("size", ir.I64), ir.NewParam("s", ir.I64), ir.NewParam("k", ir.I64)))
	entry, loop, exit := f.NewBlock("entry"), f.NewBlock("loop"), f.NewBlock("exit")
	b := ir.NewBuilder(entry)
	start := b.GEP(ir.I8, b.Call(malloc, f.Params[0]), f.Params[1])
	b.Br(loop)
	b = ir.NewBuilder(loop)
	q := b.Phi(ir.Ptr)
	j := b.Phi(ir.I64)
	b.Store(ir.ConstInt(elem, 0), q)
	q1 := b.GEP(ir.I8, q, ir.ConstInt(ir.I64, -4))
	j1 := b.Add(j, ir.ConstInt(ir.I64, 1))
	b.CondBr(b.ICmp(ir.SLT, j1, f.Params[2]), loop, exit)
	q.AddIncoming(start, entry)
	q.AddIncoming(q1, loop)
	j.AddIncoming(ir.ConstInt(ir.I64, 0), entry)
	j.AddIncoming(j1, loop)
	b = ir.NewBuilder(exit)
	after(b, q)
	b.Ret(nil)
}

func instrumented(t *testing.T, opts *asan.Options) *ir.Module {
	m, _ := instrument(t, heapModule(), opts)
	return m
}

// instrument instruments a clone of src and checks that the result is well
// formed.
func instrument(t *testing.T, src *ir.Module, opts *asan.Options) (*ir.Module, *asan.Pass) {
	m, _ := ir.CloneModule(src)
	p, err := asan.NewPass(opts, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := p.InstrumentModule(m); err != nil {
		t.Fatal(err)
	}
	for _, f := range m.Funcs {
		if err := ir.Verify(f); err != nil {
			t.Fatalf("Expecting valid IR after instrumentation but got %v\n%s", err, f)
		}
	}
	return m, p
}

type call struct {
	fn   string
	args []uint64
}

// compareNaive checks that the optimised module reports exactly when the
// naive one does.
func compareNaive(t *testing.T, optimised, naive *ir.Module, opts, naiveOpts *asan.Options, calls []call) {
	for _, c := range calls {
		got := run(t, optimised, opts, c.fn, c.args...)
		want := run(t, naive, naiveOpts, c.fn, c.args...)
		if (got == nil) != (want == nil) {
			t.Errorf("%s%v: Expecting report %v but got %v\n", c.fn, c.args, want, got)
			continue
		}
		if got != nil && got.Bug != want.Bug {
			t.Errorf("%s%v: Expecting %s but got %s\n", c.fn, c.args, want.Bug, got.Bug)
		}
	}
}

// run executes fn in a fresh runtime and returns the reported error, if
// any.
func run(t *testing.T, m *ir.Module, opts *asan.Options, fn string, args ...uint64) *asanrt.ReportError {
	rt, err := asanrt.New(opts, nil)
	if err != nil {
		t.Fatal(err)
	}
	rt.Out = ioutil.Discard
	_, err = interp.New(m, rt, nil).Run(fn, args...)
	var report *asanrt.ReportError
	if errors.As(err, &report) {
		return report
	}
	if err != nil {
		t.Fatalf("Expecting %s to run but got %v\n", fn, err)
	}
	return nil
}

func TestThreeStoresOverflow(t *testing.T) {
	opts := asan.DefaultOptions()
	m := instrumented(t, opts)
	report := run(t, m, opts, "three", 8)
	if report == nil {
		t.Fatal("Expecting a report for p[2] past an 8 byte object but got none")
	}
	if report.Bug != "heap-buffer-overflow" || !report.IsWrite {
		t.Errorf("Expecting heap-buffer-overflow write but got %s\n", report)
	}
	if report := run(t, m, opts, "three", 12); report != nil {
		t.Errorf("Expecting no report for a 12 byte object but got %s\n", report)
	}
}

// TestOptimisedMatchesNaive checks that the optimised instrumentation
// reports exactly when the naive one does.
func TestOptimisedMatchesNaive(t *testing.T) {
	opts := asan.DefaultOptions()
	naiveOpts := opts.Naive()
	optimised := instrumented(t, opts)
	naive := instrumented(t, naiveOpts)

	var calls []call
	for _, size := range []uint64{0, 4, 8, 11, 12, 16} {
		calls = append(calls, call{"three", []uint64{size}})
	}
	for _, size := range []uint64{4, 16, 40} {
		for _, n := range []uint64{1, 3, 4, 5, 10, 11} {
			calls = append(calls, call{"fill", []uint64{size, n}})
		}
	}
	compareNaive(t, optimised, naive, opts, naiveOpts, calls)
}

// TestLoopsMatchNaive covers tracked and monotonic loop checks, a nested
// loop, and loop carried pointers reused after their loop.
func TestLoopsMatchNaive(t *testing.T) {
	opts := asan.DefaultOptions()
	naiveOpts := opts.Naive()
	optimised, p := instrument(t, loopModule(), opts)
	naive, _ := instrument(t, loopModule(), naiveOpts)

	c := p.Stats.Snapshot()
	if c.LoopInvariant != 2 || c.LoopMonotonic != 4 || c.Dominance != 0 || c.Merged != 0 {
		t.Errorf("Expecting 2 invariant and 4 monotonic loop checks, nothing removed by dominance or merging, but got %+v\n", c)
	}

	var calls []call
	for _, cc := range []uint64{0, 3, 4, 5} {
		for _, n := range []uint64{1, 2, 3} {
			calls = append(calls, call{"tracked", []uint64{16, cc, n}})
		}
	}
	for _, start := range []uint64{0, 5, 9, 10} {
		for _, n := range []uint64{1, 2, 6} {
			calls = append(calls, call{"walk", []uint64{40, start, n}})
		}
	}
	for _, n := range []uint64{1, 9, 10, 11, 12} {
		calls = append(calls, call{"walkDown", []uint64{40, n}})
	}
	for _, n := range []uint64{3, 4, 5, 6} {
		for _, m := range []uint64{1, 2, 3} {
			calls = append(calls, call{"nested", []uint64{16, n, m}})
		}
	}
	for _, fn := range []string{"postdom", "merge"} {
		for _, start := range []uint64{8, 12, 16, 20} {
			for _, k := range []uint64{1, 2, 3, 5} {
				calls = append(calls, call{fn, []uint64{16, start, k}})
			}
		}
	}
	compareNaive(t, optimised, naive, opts, naiveOpts, calls)

	// The shapes that lose their in-loop check when the last address is
	// taken to stand for every iteration.
	for _, fn := range []string{"postdom", "merge"} {
		if run(t, optimised, opts, fn, 16, 16, 3) == nil {
			t.Errorf("Expecting %s to report the first iteration past the object but got nothing\n", fn)
		}
	}
}

// TestLoopTrackersClearedOnce checks that a tracker slot is initialised
// exactly once before its loop.
func TestLoopTrackersClearedOnce(t *testing.T) {
	opts := asan.DefaultOptions()
	m, _ := instrument(t, loopModule(), opts)
	for _, fn := range []string{"walk", "walkDown", "tracked"} {
		n := 0
		for _, i := range m.Func(fn).Instrs() {
			if i.Op != ir.OpStore {
				continue
			}
			if c, ok := i.Ops[0].(*ir.Const); ok && c.Typ.IsPtr() {
				n++
			}
		}
		if n != 1 {
			t.Errorf("%s: Expecting 1 null store to the tracker but got %d\n", fn, n)
		}
	}
}

func TestRecoverKeepsRunning(t *testing.T) {
	opts := asan.DefaultOptions()
	opts.Recover = true
	opts.Opt = false
	m := instrumented(t, opts)
	rt, err := asanrt.New(opts, nil)
	if err != nil {
		t.Fatal(err)
	}
	rt.Out = ioutil.Discard
	if _, err := interp.New(m, rt, nil).Run("fill", 8, 4); err != nil {
		t.Fatalf("Expecting recoverable reports but got %v\n", err)
	}
	if len(rt.Reports) != 2 {
		t.Errorf("Expecting 2 reports for p[2] and p[3] but got %d\n", len(rt.Reports))
	}
}
