package interp

import (
	"errors"
	"io/ioutil"
	"testing"

	"github.com/staywilliam/asanopt/asan"
	"github.com/staywilliam/asanopt/asanrt"
	"github.com/staywilliam/asanopt/ir"
)

func newInterp(t *testing.T, m *ir.Module) *Interp {
	opts := asan.DefaultOptions()
	rt, err := asanrt.New(opts, nil)
	if err != nil {
		t.Fatal(err)
	}
	rt.Out = ioutil.Discard
	return New(m, rt, nil)
}

// sumModule defines sum(i64 %n) which fills an alloca'd array of n i64
// with 0..n-1 and returns their sum.
func sumModule() *ir.Module {
	m := ir.NewModule("sum")
	f := m.AddFunc(ir.NewFunction("sum", ir.I64, ir.NewParam("n", ir.I64)))
	n := f.Params[0]
	entry, fill, add, exit := f.NewBlock("entry"), f.NewBlock("fill"), f.NewBlock("add"), f.NewBlock("exit")

	b := ir.NewBuilder(entry)
	arr := b.Alloca(ir.I64, n)
	b.Br(fill)

	b = ir.NewBuilder(fill)
	i := b.Phi(ir.I64)
	b.Store(i, b.GEP(ir.I64, arr, i))
	i1 := b.Add(i, ir.ConstInt(ir.I64, 1))
	b.CondBr(b.ICmp(ir.SLT, i1, n), fill, add)
	i.AddIncoming(ir.ConstInt(ir.I64, 0), entry)
	i.AddIncoming(i1, fill)

	b = ir.NewBuilder(add)
	j := b.Phi(ir.I64)
	acc := b.Phi(ir.I64)
	acc1 := b.Add(acc, b.Load(ir.I64, b.GEP(ir.I64, arr, j)))
	j1 := b.Add(j, ir.ConstInt(ir.I64, 1))
	b.CondBr(b.ICmp(ir.SLT, j1, n), add, exit)
	j.AddIncoming(ir.ConstInt(ir.I64, 0), fill)
	j.AddIncoming(j1, add)
	acc.AddIncoming(ir.ConstInt(ir.I64, 0), fill)
	acc.AddIncoming(acc1, add)

	b = ir.NewBuilder(exit)
	b.Ret(acc1)
	return m
}

func TestRunLoops(t *testing.T) {
	in := newInterp(t, sumModule())
	got, err := in.Run("sum", 10)
	if err != nil {
		t.Fatal(err)
	}
	if got != 45 {
		t.Errorf("Expecting sum 45 but got %d\n", got)
	}
}

func TestStepLimit(t *testing.T) {
	in := newInterp(t, sumModule())
	in.MaxSteps = 50
	if _, err := in.Run("sum", 1000); !errors.Is(err, ErrStepLimit) {
		t.Errorf("Expecting step limit error but got %v\n", err)
	}
}

func TestUnknownFunction(t *testing.T) {
	m := ir.NewModule("m")
	f := m.AddFunc(ir.NewFunction("f", ir.Void))
	b := ir.NewBuilder(f.NewBlock("entry"))
	b.Call(m.Declare("mystery", ir.Void))
	b.Ret(nil)

	in := newInterp(t, m)
	if _, err := in.Run("nope"); !errors.Is(err, ErrUnknownFunction) {
		t.Errorf("Expecting unknown function error but got %v\n", err)
	}
	if _, err := in.Run("f"); !errors.Is(err, ErrUnknownFunction) {
		t.Errorf("Expecting unknown function error for mystery but got %v\n", err)
	}
	in.Externals["mystery"] = func(*Interp, []uint64) (uint64, error) { return 0, nil }
	if _, err := in.Run("f"); err != nil {
		t.Errorf("Expecting host function to be called but got %v\n", err)
	}
}

func TestExitAndDivide(t *testing.T) {
	m := ir.NewModule("m")
	f := m.AddFunc(ir.NewFunction("f", ir.I32, ir.NewParam("x", ir.I32)))
	b := ir.NewBuilder(f.NewBlock("entry"))
	q := b.Binary(ir.OpSDiv, ir.ConstInt(ir.I32, -12), f.Params[0])
	b.Ret(q)
	g := m.AddFunc(ir.NewFunction("g", ir.Void))
	b = ir.NewBuilder(g.NewBlock("entry"))
	b.Call(m.Declare("exit", ir.Void, ir.I32), ir.ConstInt(ir.I32, 3))
	b.Unreachable()

	in := newInterp(t, m)
	got, err := in.Run("f", 4)
	if err != nil {
		t.Fatal(err)
	}
	if int32(got) != -3 {
		t.Errorf("Expecting -12/4 = -3 but got %d\n", int32(got))
	}
	if _, err := in.Run("f", 0); !errors.Is(err, ErrDivideByZero) {
		t.Errorf("Expecting division by zero but got %v\n", err)
	}
	_, err = in.Run("g")
	var exit *ExitError
	if !errors.As(err, &exit) || exit.Code != 3 {
		t.Errorf("Expecting exit status 3 but got %v\n", err)
	}
}

func TestGlobalsAndStructs(t *testing.T) {
	m := ir.NewModule("m")
	pair := ir.StructOf(ir.I8, ir.I32)
	g := m.AddGlobal(&ir.Global{Name: "g", Elem: pair, Init: []byte{7, 0, 0, 0, 9, 0, 0, 0}})
	f := m.AddFunc(ir.NewFunction("f", ir.I32))
	b := ir.NewBuilder(f.NewBlock("entry"))
	x := b.Load(ir.I32, b.GEP(pair, g, ir.ConstInt(ir.I64, 0), ir.ConstInt(ir.I32, 1)))
	y := b.Cast(ir.OpZExt, b.Load(ir.I8, g), ir.I32)
	b.Ret(b.Add(x, y))

	in := newInterp(t, m)
	got, err := in.Run("f")
	if err != nil {
		t.Fatal(err)
	}
	if got != 16 {
		t.Errorf("Expecting 9+7 = 16 but got %d\n", got)
	}
	addr, ok := in.GlobalAddr("g")
	if !ok || addr < asanrt.GlobalBase {
		t.Errorf("Expecting g in the global region but got %#x\n", addr)
	}
}

func TestAtomics(t *testing.T) {
	m := ir.NewModule("m")
	f := m.AddFunc(ir.NewFunction("f", ir.I64))
	b := ir.NewBuilder(f.NewBlock("entry"))
	p := b.Alloca(ir.I64, nil)
	b.Store(ir.ConstInt(ir.I64, 5), p)
	b.AtomicRMW("add", p, ir.ConstInt(ir.I64, 2))
	b.CmpXchg(p, ir.ConstInt(ir.I64, 7), ir.ConstInt(ir.I64, 40))
	b.CmpXchg(p, ir.ConstInt(ir.I64, 7), ir.ConstInt(ir.I64, 0))
	b.Ret(b.Load(ir.I64, p))

	in := newInterp(t, m)
	got, err := in.Run("f")
	if err != nil {
		t.Fatal(err)
	}
	if got != 40 {
		t.Errorf("Expecting 40 after add and exchange but got %d\n", got)
	}
}

func TestMaskedStore(t *testing.T) {
	m := ir.NewModule("m")
	v4 := ir.VectorOf(ir.I32, 4)
	mstore := m.Declare("llvm.masked.store.v4i32.p0", ir.Void, v4, ir.Ptr, ir.I32, ir.VectorOf(ir.I1, 4))
	f := m.AddFunc(ir.NewFunction("f", ir.I32))
	b := ir.NewBuilder(f.NewBlock("entry"))
	p := b.Alloca(ir.ArrayOf(ir.I32, 4), nil)
	b.Call(mstore, ir.ConstVector(ir.I32, 1, 2, 3, 4), p, ir.ConstInt(ir.I32, 4), ir.ConstVector(ir.I1, 1, 0, 1, 0))
	sum := b.Add(b.Load(ir.I32, p), b.Load(ir.I32, b.GEP(ir.I32, p, ir.ConstInt(ir.I64, 1))))
	sum = b.Add(sum, b.Load(ir.I32, b.GEP(ir.I32, p, ir.ConstInt(ir.I64, 2))))
	b.Ret(sum)

	in := newInterp(t, m)
	got, err := in.Run("f")
	if err != nil {
		t.Fatal(err)
	}
	if got != 4 {
		t.Errorf("Expecting lanes 0 and 2 written (1+0+3) but got %d\n", got)
	}
}
