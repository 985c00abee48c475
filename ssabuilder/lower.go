package ssabuilder

import (
	"fmt"
	"go/constant"
	"go/token"
	"go/types"
	"strconv"

	"golang.org/x/tools/go/ssa"

	"github.com/staywilliam/asanopt/ir"
)

// Lower converts the program into an ir module: the functions reachable
// from main.main, or every function of the initial packages when there is
// no main. Functions using features without an ir counterpart (interfaces,
// slices, closures, floating point) are left as declarations and logged.
//
// Go's own bounds and nil checks are not lowered, so out of range indexing
// is left to the address checks.
func (info *SSAInfo) Lower() (*ir.Module, error) {
	funcs := info.Funcs()
	if cg := info.CallGraph(); cg != nil {
		funcs = cg.Funcs()
	}
	name := "main"
	if len(info.Init) > 0 {
		name = info.Init[0].Pkg.Path()
	}
	l := &lowerer{
		info:    info,
		m:       ir.NewModule(name),
		funcs:   make(map[*ssa.Function]*ir.Function),
		globals: make(map[*ssa.Global]*ir.Global),
	}
	l.m.Triple = "x86_64-unknown-linux-gnu"
	for _, f := range funcs {
		if err := l.declare(f); err != nil {
			info.Logger.WithField("func", f.String()).Warn(err)
		}
	}
	lowered := 0
	for _, f := range funcs {
		fn := l.funcs[f]
		if fn == nil || len(f.Blocks) == 0 {
			continue
		}
		if err := l.function(f, fn); err != nil {
			fn.Blocks = nil
			info.Logger.WithField("func", fn.Name).Warn(err)
			continue
		}
		info.Logger.WithField("func", fn.Name).Debugf("lowered %d blocks", len(fn.Blocks))
		lowered++
	}
	if lowered == 0 {
		return nil, ErrNoFuncs
	}
	return l.m, nil
}

type lowerer struct {
	info    *SSAInfo
	m       *ir.Module
	funcs   map[*ssa.Function]*ir.Function
	globals map[*ssa.Global]*ir.Global
}

func (l *lowerer) initial(pkg *ssa.Package) bool {
	for _, p := range l.info.Init {
		if p == pkg {
			return true
		}
	}
	return false
}

// name is the ir name of a package level member: relative to its package
// for the initial packages, qualified otherwise.
func (l *lowerer) name(m interface {
	RelString(*types.Package) string
	String() string
}, pkg *ssa.Package) string {
	if pkg != nil && l.initial(pkg) {
		return m.RelString(pkg.Pkg)
	}
	return m.String()
}

func unsupported(f *ssa.Function, format string, args ...interface{}) error {
	return &UnsupportedError{Func: f.String(), Reason: fmt.Sprintf(format, args...)}
}

// typ lowers a Go type. Only types with a plain memory layout are
// supported.
func (l *lowerer) typ(t types.Type) (*ir.Type, bool) {
	switch t := t.Underlying().(type) {
	case *types.Basic:
		switch t.Kind() {
		case types.Bool, types.UntypedBool:
			return ir.I1, true
		case types.Int8, types.Uint8:
			return ir.I8, true
		case types.Int16, types.Uint16:
			return ir.I16, true
		case types.Int32, types.Uint32, types.UntypedRune:
			return ir.I32, true
		case types.Int, types.Int64, types.Uint, types.Uint64, types.Uintptr, types.UntypedInt:
			return ir.I64, true
		case types.UnsafePointer:
			return ir.Ptr, true
		}
	case *types.Pointer:
		return ir.Ptr, true
	case *types.Array:
		elem, ok := l.typ(t.Elem())
		if !ok {
			return nil, false
		}
		return ir.ArrayOf(elem, int(t.Len())), true
	case *types.Struct:
		fields := make([]*ir.Type, t.NumFields())
		for i := range fields {
			ft, ok := l.typ(t.Field(i).Type())
			if !ok {
				return nil, false
			}
			fields[i] = ft
		}
		return ir.StructOf(fields...), true
	}
	return nil, false
}

func deref(t types.Type) types.Type {
	if p, ok := t.Underlying().(*types.Pointer); ok {
		return p.Elem()
	}
	return t
}

func isUnsigned(t types.Type) bool {
	b, ok := t.Underlying().(*types.Basic)
	return ok && b.Info()&types.IsUnsigned != 0
}

func (l *lowerer) declare(f *ssa.Function) error {
	sig := f.Signature
	ret := ir.Void
	switch sig.Results().Len() {
	case 0:
	case 1:
		t, ok := l.typ(sig.Results().At(0).Type())
		if !ok {
			return unsupported(f, "result type %s", sig.Results().At(0).Type())
		}
		ret = t
	default:
		return unsupported(f, "multiple results")
	}
	var vars []*types.Var
	if sig.Recv() != nil {
		vars = append(vars, sig.Recv())
	}
	for i := 0; i < sig.Params().Len(); i++ {
		vars = append(vars, sig.Params().At(i))
	}
	params := make([]*ir.Param, len(vars))
	for i, v := range vars {
		t, ok := l.typ(v.Type())
		if !ok {
			return unsupported(f, "parameter type %s", v.Type())
		}
		name := v.Name()
		if name == "" || name == "_" {
			name = "arg" + strconv.Itoa(i)
		}
		params[i] = ir.NewParam(name, t)
	}
	l.funcs[f] = l.m.AddFunc(ir.NewFunction(l.name(f, f.Pkg), ret, params...))
	return nil
}

func (l *lowerer) global(g *ssa.Global) (*ir.Global, bool) {
	if ng, ok := l.globals[g]; ok {
		return ng, true
	}
	elem, ok := l.typ(deref(g.Type()))
	if !ok {
		return nil, false
	}
	ng := l.m.AddGlobal(&ir.Global{Name: l.name(g, g.Pkg), Elem: elem, Align: elem.Align()})
	l.globals[g] = ng
	return ng, true
}

func (l *lowerer) runtime(name string, ret *ir.Type, params ...*ir.Type) *ir.Function {
	return l.m.Declare(name, ret, params...)
}

func blockName(b *ssa.BasicBlock) string {
	if b.Comment == "" {
		return ""
	}
	return b.Comment + "." + strconv.Itoa(b.Index)
}

// funcLowerer lowers one function body.
type funcLowerer struct {
	*lowerer
	f      *ssa.Function
	fn     *ir.Function
	vals   map[ssa.Value]ir.Value
	blocks map[*ssa.BasicBlock]*ir.Block
	phis   []*ssa.Phi
}

func (l *lowerer) function(f *ssa.Function, fn *ir.Function) error {
	if len(f.FreeVars) > 0 {
		return unsupported(f, "closure")
	}
	if f.Recover != nil {
		return unsupported(f, "recover")
	}
	fl := &funcLowerer{
		lowerer: l,
		f:       f,
		fn:      fn,
		vals:    make(map[ssa.Value]ir.Value),
		blocks:  make(map[*ssa.BasicBlock]*ir.Block),
	}
	for i, p := range f.Params {
		fl.vals[p] = fn.Params[i]
	}
	for _, b := range f.Blocks {
		fl.blocks[b] = fn.NewBlock(blockName(b))
	}
	// Dominator preorder visits definitions before their uses outside
	// phis.
	for _, b := range f.DomPreorder() {
		bb := ir.NewBuilder(fl.blocks[b])
		for _, instr := range b.Instrs {
			if err := fl.instr(bb, instr); err != nil {
				return err
			}
		}
	}
	for _, phi := range fl.phis {
		p := fl.vals[phi].(*ir.Instr)
		for k, e := range phi.Edges {
			pred := fl.blocks[phi.Block().Preds[k]]
			v, err := fl.val(ir.NewBuilderBefore(pred.Term()), e)
			if err != nil {
				return err
			}
			p.AddIncoming(v, pred)
		}
	}
	return ir.Verify(fn)
}

func (l *funcLowerer) val(b *ir.Builder, v ssa.Value) (ir.Value, error) {
	if x, ok := l.vals[v]; ok {
		return x, nil
	}
	switch v := v.(type) {
	case *ssa.Const:
		t, ok := l.typ(v.Type())
		if !ok {
			return nil, unsupported(l.f, "constant %s", v)
		}
		if v.Value == nil {
			return &ir.Const{Typ: t}, nil
		}
		switch v.Value.Kind() {
		case constant.Bool:
			if constant.BoolVal(v.Value) {
				return ir.ConstInt(t, 1), nil
			}
			return ir.ConstInt(t, 0), nil
		case constant.Int:
			if isUnsigned(v.Type()) {
				u, _ := constant.Uint64Val(v.Value)
				return ir.ConstInt(t, int64(u)), nil
			}
			i, _ := constant.Int64Val(v.Value)
			return ir.ConstInt(t, i), nil
		}
		return nil, unsupported(l.f, "constant %s", v)
	case *ssa.Global:
		if g, ok := l.global(v); ok {
			return g, nil
		}
		return nil, unsupported(l.f, "global %s of type %s", v.Name(), deref(v.Type()))
	}
	return nil, unsupported(l.f, "value %s", v.Name())
}

func (l *funcLowerer) vals2(b *ir.Builder, x, y ssa.Value) (ir.Value, ir.Value, error) {
	vx, err := l.val(b, x)
	if err != nil {
		return nil, nil, err
	}
	vy, err := l.val(b, y)
	return vx, vy, err
}

func (l *funcLowerer) typeOf(v ssa.Value) (*ir.Type, error) {
	t, ok := l.typ(v.Type())
	if !ok {
		return nil, unsupported(l.f, "type %s", v.Type())
	}
	return t, nil
}

func (l *funcLowerer) instr(b *ir.Builder, instr ssa.Instruction) error {
	switch i := instr.(type) {
	case *ssa.DebugRef, *ssa.RunDefers:
		return nil

	case *ssa.Alloc:
		elem, ok := l.typ(deref(i.Type()))
		if !ok {
			return unsupported(l.f, "allocation of %s", deref(i.Type()))
		}
		size := ir.ConstInt(ir.I64, elem.Size())
		if i.Heap {
			calloc := l.runtime("calloc", ir.Ptr, ir.I64, ir.I64)
			l.vals[i] = b.Call(calloc, ir.ConstInt(ir.I64, 1), size)
			return nil
		}
		// Stack memory is reused, so locals are cleared explicitly.
		a := b.Alloca(elem, nil)
		memset := l.runtime("llvm.memset.p0.i64", ir.Void, ir.Ptr, ir.I8, ir.I64, ir.I1)
		b.Call(memset, a, ir.ConstInt(ir.I8, 0), size, ir.ConstInt(ir.I1, 0))
		l.vals[i] = a

	case *ssa.FieldAddr:
		st, ok := l.typ(deref(i.X.Type()))
		if !ok {
			return unsupported(l.f, "field of %s", deref(i.X.Type()))
		}
		x, err := l.val(b, i.X)
		if err != nil {
			return err
		}
		l.vals[i] = b.GEP(st, x, ir.ConstInt(ir.I64, 0), ir.ConstInt(ir.I32, int64(i.Field)))

	case *ssa.IndexAddr:
		if _, ok := deref(i.X.Type()).Underlying().(*types.Array); !ok {
			return unsupported(l.f, "indexing %s", i.X.Type())
		}
		arr, ok := l.typ(deref(i.X.Type()))
		if !ok {
			return unsupported(l.f, "indexing %s", i.X.Type())
		}
		x, idx, err := l.vals2(b, i.X, i.Index)
		if err != nil {
			return err
		}
		idx = b.IntCast(idx, ir.I64, !isUnsigned(i.Index.Type()))
		l.vals[i] = b.GEP(arr, x, ir.ConstInt(ir.I64, 0), idx)

	case *ssa.UnOp:
		return l.unop(b, i)

	case *ssa.BinOp:
		return l.binop(b, i)

	case *ssa.Convert:
		return l.convert(b, i, i.X)

	case *ssa.ChangeType:
		return l.convert(b, i, i.X)

	case *ssa.Store:
		v, ptr, err := l.vals2(b, i.Val, i.Addr)
		if err != nil {
			return err
		}
		b.Store(v, ptr)

	case *ssa.Phi:
		t, err := l.typeOf(i)
		if err != nil {
			return err
		}
		l.vals[i] = b.Phi(t)
		l.phis = append(l.phis, i)

	case *ssa.Call:
		return l.call(b, i)

	case *ssa.If:
		cond, err := l.val(b, i.Cond)
		if err != nil {
			return err
		}
		succs := i.Block().Succs
		b.CondBr(cond, l.blocks[succs[0]], l.blocks[succs[1]])

	case *ssa.Jump:
		b.Br(l.blocks[i.Block().Succs[0]])

	case *ssa.Return:
		switch len(i.Results) {
		case 0:
			b.Ret(nil)
		case 1:
			v, err := l.val(b, i.Results[0])
			if err != nil {
				return err
			}
			b.Ret(v)
		default:
			return unsupported(l.f, "multiple results")
		}

	case *ssa.Panic:
		abort := l.runtime("abort", ir.Void)
		abort.NoReturn = true
		b.Call(abort).Meta |= ir.MetaNoReturn
		b.Unreachable()

	default:
		return unsupported(l.f, "instruction %T (%s)", instr, instr)
	}
	return nil
}

func (l *funcLowerer) unop(b *ir.Builder, i *ssa.UnOp) error {
	t, err := l.typeOf(i)
	if err != nil {
		return err
	}
	x, err := l.val(b, i.X)
	if err != nil {
		return err
	}
	switch i.Op {
	case token.MUL:
		l.vals[i] = b.Load(t, x)
	case token.SUB:
		if !t.IsInt() {
			return unsupported(l.f, "negation of %s", i.Type())
		}
		l.vals[i] = b.Sub(ir.ConstInt(t, 0), x)
	case token.XOR:
		l.vals[i] = b.Binary(ir.OpXor, x, ir.ConstInt(t, -1))
	case token.NOT:
		l.vals[i] = b.Binary(ir.OpXor, x, ir.ConstInt(ir.I1, 1))
	default:
		return unsupported(l.f, "operator %s", i.Op)
	}
	return nil
}

func (l *funcLowerer) binop(b *ir.Builder, i *ssa.BinOp) error {
	t, err := l.typeOf(i.X)
	if err != nil {
		return err
	}
	cmp := i.Op == token.EQL || i.Op == token.NEQ
	if !t.IsInt() && !(t.IsPtr() && cmp) {
		return unsupported(l.f, "operator %s on %s", i.Op, i.X.Type())
	}
	x, y, err := l.vals2(b, i.X, i.Y)
	if err != nil {
		return err
	}
	unsigned := isUnsigned(i.X.Type())
	pick := func(u, s ir.Op) ir.Op {
		if unsigned {
			return u
		}
		return s
	}
	pred := func(u, s ir.Pred) ir.Pred {
		if unsigned {
			return u
		}
		return s
	}
	var v ir.Value
	switch i.Op {
	case token.ADD:
		v = b.Add(x, y)
	case token.SUB:
		v = b.Sub(x, y)
	case token.MUL:
		v = b.Mul(x, y)
	case token.QUO:
		v = b.Binary(pick(ir.OpUDiv, ir.OpSDiv), x, y)
	case token.REM:
		v = b.Binary(pick(ir.OpURem, ir.OpSRem), x, y)
	case token.AND:
		v = b.And(x, y)
	case token.OR:
		v = b.Or(x, y)
	case token.XOR:
		v = b.Binary(ir.OpXor, x, y)
	case token.AND_NOT:
		v = b.And(x, b.Binary(ir.OpXor, y, ir.ConstInt(t, -1)))
	case token.SHL:
		v = b.Binary(ir.OpShl, x, b.IntCast(y, t, false))
	case token.SHR:
		v = b.Binary(pick(ir.OpLShr, ir.OpAShr), x, b.IntCast(y, t, false))
	case token.EQL:
		v = b.ICmp(ir.EQ, x, y)
	case token.NEQ:
		v = b.ICmp(ir.NE, x, y)
	case token.LSS:
		v = b.ICmp(pred(ir.ULT, ir.SLT), x, y)
	case token.LEQ:
		v = b.ICmp(pred(ir.ULE, ir.SLE), x, y)
	case token.GTR:
		v = b.ICmp(pred(ir.UGT, ir.SGT), x, y)
	case token.GEQ:
		v = b.ICmp(pred(ir.UGE, ir.SGE), x, y)
	default:
		return unsupported(l.f, "operator %s", i.Op)
	}
	l.vals[i] = v
	return nil
}

func (l *funcLowerer) convert(b *ir.Builder, i ssa.Value, from ssa.Value) error {
	ft, err := l.typeOf(from)
	if err != nil {
		return err
	}
	tt, err := l.typeOf(i)
	if err != nil {
		return err
	}
	x, err := l.val(b, from)
	if err != nil {
		return err
	}
	switch {
	case ft.IsInt() && tt.IsInt():
		l.vals[i] = b.IntCast(x, tt, !isUnsigned(from.Type()))
	case ft.IsPtr() && tt.IsInt():
		l.vals[i] = b.Cast(ir.OpPtrToInt, x, tt)
	case ft.IsInt() && tt.IsPtr():
		l.vals[i] = b.Cast(ir.OpIntToPtr, x, tt)
	case ft.Equal(tt):
		l.vals[i] = x
	default:
		return unsupported(l.f, "conversion from %s to %s", from.Type(), i.Type())
	}
	return nil
}

func (l *funcLowerer) call(b *ir.Builder, i *ssa.Call) error {
	callee := i.Call.StaticCallee()
	if callee == nil || i.Call.IsInvoke() {
		return unsupported(l.f, "dynamic call %s", i.Call.Value.Name())
	}
	fn := l.funcs[callee]
	if fn == nil {
		return unsupported(l.f, "call to %s", callee)
	}
	args := make([]ir.Value, len(i.Call.Args))
	for n, a := range i.Call.Args {
		v, err := l.val(b, a)
		if err != nil {
			return err
		}
		args[n] = v
	}
	c := b.Call(fn, args...)
	if !c.Typ.IsVoid() {
		l.vals[i] = c
	}
	return nil
}
