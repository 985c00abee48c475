package llvmir

import (
	"fmt"
	"strings"

	llir "github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/enum"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"

	"github.com/staywilliam/asanopt/ir"
)

var preds = map[enum.IPred]ir.Pred{
	enum.IPredEQ:  ir.EQ,
	enum.IPredNE:  ir.NE,
	enum.IPredUGT: ir.UGT,
	enum.IPredUGE: ir.UGE,
	enum.IPredULT: ir.ULT,
	enum.IPredULE: ir.ULE,
	enum.IPredSGT: ir.SGT,
	enum.IPredSGE: ir.SGE,
	enum.IPredSLT: ir.SLT,
	enum.IPredSLE: ir.SLE,
}

// binaryOp returns the opcode and operands of an integer binary operation.
func binaryOp(inst llir.Instruction) (ir.Op, value.Value, value.Value, bool) {
	switch i := inst.(type) {
	case *llir.InstAdd:
		return ir.OpAdd, i.X, i.Y, true
	case *llir.InstSub:
		return ir.OpSub, i.X, i.Y, true
	case *llir.InstMul:
		return ir.OpMul, i.X, i.Y, true
	case *llir.InstUDiv:
		return ir.OpUDiv, i.X, i.Y, true
	case *llir.InstSDiv:
		return ir.OpSDiv, i.X, i.Y, true
	case *llir.InstURem:
		return ir.OpURem, i.X, i.Y, true
	case *llir.InstSRem:
		return ir.OpSRem, i.X, i.Y, true
	case *llir.InstAnd:
		return ir.OpAnd, i.X, i.Y, true
	case *llir.InstOr:
		return ir.OpOr, i.X, i.Y, true
	case *llir.InstXor:
		return ir.OpXor, i.X, i.Y, true
	case *llir.InstShl:
		return ir.OpShl, i.X, i.Y, true
	case *llir.InstLShr:
		return ir.OpLShr, i.X, i.Y, true
	case *llir.InstAShr:
		return ir.OpAShr, i.X, i.Y, true
	}
	return 0, nil, nil, false
}

// cast returns the opcode, operand and target type of a conversion.
func cast(inst llir.Instruction) (ir.Op, value.Value, types.Type, bool) {
	switch i := inst.(type) {
	case *llir.InstTrunc:
		return ir.OpTrunc, i.From, i.To, true
	case *llir.InstZExt:
		return ir.OpZExt, i.From, i.To, true
	case *llir.InstSExt:
		return ir.OpSExt, i.From, i.To, true
	case *llir.InstBitCast:
		return ir.OpBitCast, i.From, i.To, true
	case *llir.InstAddrSpaceCast:
		return ir.OpBitCast, i.From, i.To, true
	case *llir.InstPtrToInt:
		return ir.OpPtrToInt, i.From, i.To, true
	case *llir.InstIntToPtr:
		return ir.OpIntToPtr, i.From, i.To, true
	}
	return 0, nil, nil, false
}

func (l *funcLowerer) inst(b *ir.Builder, inst llir.Instruction) error {
	if op, x, y, ok := binaryOp(inst); ok {
		ops, err := l.operands(b, x, y)
		if err != nil {
			return err
		}
		l.def(inst.(value.Value), b.Binary(op, ops[0], ops[1]))
		return nil
	}
	if op, from, to, ok := cast(inst); ok {
		x, err := l.val(b, from)
		if err != nil {
			return err
		}
		t, err := l.typ(to)
		if err != nil {
			return err
		}
		l.def(inst.(value.Value), b.Cast(op, x, t))
		return nil
	}

	switch i := inst.(type) {
	case *llir.InstAlloca:
		elem, err := l.typ(i.ElemType)
		if err != nil {
			return err
		}
		var n ir.Value
		if i.NElems != nil {
			if n, err = l.val(b, i.NElems); err != nil {
				return err
			}
		}
		a := b.Alloca(elem, n)
		if i.Align != 0 {
			a.Align = int64(i.Align)
		}
		l.def(i, a)

	case *llir.InstLoad:
		t, err := l.typ(i.Type())
		if err != nil {
			return err
		}
		ptr, err := l.val(b, i.Src)
		if err != nil {
			return err
		}
		ld := b.Load(t, ptr)
		if i.Align != 0 {
			ld.Align = int64(i.Align)
		}
		l.def(i, ld)

	case *llir.InstStore:
		ops, err := l.operands(b, i.Src, i.Dst)
		if err != nil {
			return err
		}
		st := b.Store(ops[0], ops[1])
		if i.Align != 0 {
			st.Align = int64(i.Align)
		}

	case *llir.InstGetElementPtr:
		elem, err := l.typ(i.ElemType)
		if err != nil {
			return err
		}
		ops, err := l.operands(b, append([]value.Value{i.Src}, i.Indices...)...)
		if err != nil {
			return err
		}
		l.def(i, b.GEP(elem, ops[0], ops[1:]...))

	case *llir.InstAtomicRMW:
		ops, err := l.operands(b, i.Dst, i.X)
		if err != nil {
			return err
		}
		l.def(i, b.AtomicRMW(strings.ToLower(i.Op.String()), ops[0], ops[1]))

	case *llir.InstCmpXchg:
		// Lowered to the loaded value; extractvalue recovers the flag.
		ops, err := l.operands(b, i.Ptr, i.Cmp, i.New)
		if err != nil {
			return err
		}
		l.def(i, b.CmpXchg(ops[0], ops[1], ops[2]))

	case *llir.InstExtractValue:
		if cx, ok := i.X.(*llir.InstCmpXchg); ok && len(i.Indices) == 1 {
			old := l.vals[cx]
			if i.Indices[0] == 0 {
				l.def(i, old)
				return nil
			}
			cmp, err := l.val(b, cx.Cmp)
			if err != nil {
				return err
			}
			l.def(i, b.ICmp(ir.EQ, old, cmp))
			return nil
		}
		return l.opaque(b, i, "extractvalue", i.Type(), i.X)

	case *llir.InstICmp:
		p, ok := preds[i.Pred]
		if !ok {
			return fmt.Errorf("%w: icmp %s", ErrUnsupportedValue, i.Pred)
		}
		if _, vec := i.X.Type().(*types.VectorType); vec {
			return l.opaque(b, i, "icmp", i.Type(), i.X, i.Y)
		}
		ops, err := l.operands(b, i.X, i.Y)
		if err != nil {
			return err
		}
		l.def(i, b.ICmp(p, ops[0], ops[1]))

	case *llir.InstPhi:
		t, err := l.typ(i.Type())
		if err != nil {
			return err
		}
		phi := b.Phi(t)
		l.def(i, phi)
		l.phis = append(l.phis, pendingPhi{phi: phi, src: i})

	case *llir.InstSelect:
		ops, err := l.operands(b, i.Cond, i.ValueTrue, i.ValueFalse)
		if err != nil {
			return err
		}
		l.def(i, b.Select(ops[0], ops[1], ops[2]))

	case *llir.InstExtractElement:
		ops, err := l.operands(b, i.X, i.Index)
		if err != nil {
			return err
		}
		l.def(i, b.ExtractElement(ops[0], ops[1]))

	case *llir.InstCall:
		return l.call(b, i)

	case *llir.InstFAdd:
		return l.opaque(b, i, "fadd", i.Type(), i.X, i.Y)
	case *llir.InstFSub:
		return l.opaque(b, i, "fsub", i.Type(), i.X, i.Y)
	case *llir.InstFMul:
		return l.opaque(b, i, "fmul", i.Type(), i.X, i.Y)
	case *llir.InstFDiv:
		return l.opaque(b, i, "fdiv", i.Type(), i.X, i.Y)
	case *llir.InstFCmp:
		return l.opaque(b, i, "fcmp", i.Type(), i.X, i.Y)
	case *llir.InstSIToFP:
		return l.opaque(b, i, "sitofp", i.To, i.From)
	case *llir.InstFPToSI:
		return l.opaque(b, i, "fptosi", i.To, i.From)
	case *llir.InstInsertElement:
		return l.opaque(b, i, "insertelement", i.Type(), i.X, i.Elem, i.Index)
	case *llir.InstShuffleVector:
		return l.opaque(b, i, "shufflevector", i.Type(), i.X, i.Y)

	default:
		op := strings.TrimPrefix(fmt.Sprintf("%T", inst), "*ir.Inst")
		var t types.Type = types.Void
		if v, ok := inst.(value.Value); ok {
			t = v.Type()
		}
		l.log.WithField("inst", inst.LLString()).Debug("lowering as opaque call")
		return l.opaque(b, inst, strings.ToLower(op), t)
	}
	return nil
}

// opaque lowers inst to a call of a declaration named after its opcode and
// types.
func (l *funcLowerer) opaque(b *ir.Builder, inst llir.Instruction, op string, ret types.Type, args ...value.Value) error {
	rt, err := l.typ(ret)
	if err != nil {
		return err
	}
	ops, err := l.operands(b, args...)
	if err != nil {
		return err
	}
	name := OpaquePrefix + op + "." + mangle(rt)
	params := make([]*ir.Type, len(ops))
	for i, o := range ops {
		params[i] = o.Type()
		name += "." + mangle(o.Type())
	}
	call := b.Call(l.m.Declare(name, rt, params...), ops...)
	if v, ok := inst.(value.Value); ok && !rt.IsVoid() {
		l.def(v, call)
	}
	return nil
}

func (l *funcLowerer) call(b *ir.Builder, i *llir.InstCall) error {
	callee := i.Callee
	for {
		bc, ok := callee.(*constant.ExprBitCast)
		if !ok {
			break
		}
		callee = bc.From
	}
	f, direct := callee.(*llir.Func)
	if direct && strings.HasPrefix(f.Name(), "llvm.dbg.") {
		return nil
	}
	if !direct {
		return l.opaque(b, i, "call", i.Type(), append([]value.Value{i.Callee}, i.Args...)...)
	}
	args, err := l.operands(b, i.Args...)
	if err != nil {
		return err
	}
	c := b.Call(l.funcs[f], args...)
	if hasAttr(i.FuncAttrs, enum.FuncAttrNoReturn) {
		c.Meta |= ir.MetaNoReturn
	}
	if !c.Typ.IsVoid() {
		l.def(i, c)
	}
	return nil
}

func (l *funcLowerer) term(b *ir.Builder, t llir.Terminator) error {
	switch t := t.(type) {
	case *llir.TermRet:
		if t.X == nil {
			b.Ret(nil)
			return nil
		}
		v, err := l.val(b, t.X)
		if err != nil {
			return err
		}
		b.Ret(v)
	case *llir.TermBr:
		dst, err := l.target(t.Target)
		if err != nil {
			return err
		}
		b.Br(dst)
	case *llir.TermCondBr:
		cond, err := l.val(b, t.Cond)
		if err != nil {
			return err
		}
		then, err := l.target(t.TargetTrue)
		if err != nil {
			return err
		}
		els, err := l.target(t.TargetFalse)
		if err != nil {
			return err
		}
		b.CondBr(cond, then, els)
	case *llir.TermSwitch:
		return l.switchChain(b, t)
	case *llir.TermUnreachable:
		b.Unreachable()
	default:
		return ErrUnsupportedTerm
	}
	return nil
}

// switchChain lowers a switch to a chain of equality tests, one block per
// case.
func (l *funcLowerer) switchChain(b *ir.Builder, t *llir.TermSwitch) error {
	x, err := l.val(b, t.X)
	if err != nil {
		return err
	}
	def, err := l.target(t.TargetDefault)
	if err != nil {
		return err
	}
	orig := b.Block()
	if len(t.Cases) == 0 {
		b.Br(def)
		return nil
	}
	edge := func(to, from *ir.Block) {
		if l.edges[orig] == nil {
			l.edges[orig] = make(map[*ir.Block][]*ir.Block)
		}
		for _, p := range l.edges[orig][to] {
			if p == from {
				return
			}
		}
		l.edges[orig][to] = append(l.edges[orig][to], from)
	}
	for n, c := range t.Cases {
		dst, err := l.target(c.Target)
		if err != nil {
			return err
		}
		cv, err := l.val(b, c.X)
		if err != nil {
			return err
		}
		next := def
		if n < len(t.Cases)-1 {
			next = ir.NewBlockAfter(b.Block(), "")
		}
		b.CondBr(b.ICmp(ir.EQ, x, cv), dst, next)
		edge(dst, b.Block())
		if next == def {
			edge(def, b.Block())
			break
		}
		b = ir.NewBuilder(next)
	}
	return nil
}
