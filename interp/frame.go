package interp

import (
	"fmt"

	"github.com/staywilliam/asanopt/ir"
)

// frame is the activation of one function.
type frame struct {
	in  *Interp
	env map[ir.Value]Value
}

func (fr *frame) get(v ir.Value) (Value, error) {
	switch v := v.(type) {
	case *ir.Const:
		return constValue(v), nil
	case *ir.Global:
		return scalar(fr.in.globals[v]), nil
	case *ir.Function:
		return scalar(fr.in.funcs[v]), nil
	}
	if x, ok := fr.env[v]; ok {
		return x, nil
	}
	return Value{}, fmt.Errorf("%w: %s", ErrUndefinedValue, v.Ident())
}

func (fr *frame) operands(i *ir.Instr) ([]Value, error) {
	ops := make([]Value, len(i.Ops))
	for n, op := range i.Ops {
		v, err := fr.get(op)
		if err != nil {
			return nil, err
		}
		ops[n] = v
	}
	return ops, nil
}

func (fr *frame) run(f *ir.Function) (Value, error) {
	var prev *ir.Block
	b := f.Entry()
	for {
		// Phis read their incoming values before any of them is assigned.
		phis := make(map[*ir.Instr]Value)
		for _, i := range b.Instrs {
			if i.Op != ir.OpPhi {
				break
			}
			op, ok := i.IncomingFor(prev)
			if !ok {
				return Value{}, fmt.Errorf("%w: %s has no edge from %s", ErrUndefinedValue, i.Ident(), label(prev))
			}
			v, err := fr.get(op)
			if err != nil {
				return Value{}, err
			}
			phis[i] = v
		}
		for i, v := range phis {
			fr.env[i] = v
		}
		next, ret, done, err := fr.block(b, len(phis))
		if err != nil {
			return Value{}, fmt.Errorf("%s: %w", f.Name, err)
		}
		if done {
			return ret, nil
		}
		prev, b = b, next
	}
}

func label(b *ir.Block) string {
	if b == nil {
		return "entry"
	}
	return b.Label()
}

// block executes b from instruction start and returns the successor, or
// the return value when b returns.
func (fr *frame) block(b *ir.Block, start int) (*ir.Block, Value, bool, error) {
	in := fr.in
	for _, i := range b.Instrs[start:] {
		in.steps++
		if in.MaxSteps > 0 && in.steps > in.MaxSteps {
			return nil, Value{}, false, ErrStepLimit
		}
		ops, err := fr.operands(i)
		if err != nil {
			return nil, Value{}, false, err
		}
		switch i.Op {
		case ir.OpBr:
			return i.Targets[0], Value{}, false, nil
		case ir.OpCondBr:
			if ops[0].X&1 != 0 {
				return i.Targets[0], Value{}, false, nil
			}
			return i.Targets[1], Value{}, false, nil
		case ir.OpRet:
			if len(ops) == 0 {
				return nil, Value{}, true, nil
			}
			return nil, ops[0], true, nil
		case ir.OpUnreachable:
			return nil, Value{}, false, ErrUnreachable
		}
		v, err := fr.exec(i, ops)
		if err != nil {
			return nil, Value{}, false, err
		}
		if !i.Typ.IsVoid() {
			fr.env[i] = v
		}
	}
	return nil, Value{}, false, fmt.Errorf("%w: block %s falls through", ir.ErrNoTerminator, b.Label())
}

func (fr *frame) exec(i *ir.Instr, ops []Value) (Value, error) {
	mem := fr.in.RT.Mem
	bits := bitsOf(i.Typ)
	switch op := i.Op; {
	case op == ir.OpAlloca:
		n := int64(1)
		if len(ops) > 0 {
			n = int64(ops[0].X)
		}
		addr, err := fr.in.RT.Alloca(uint64(n * i.Elem.Size()))
		return scalar(addr), err

	case op == ir.OpLoad:
		return load(mem, i.Typ, ops[0].X), nil

	case op == ir.OpStore:
		store(mem, i.Ops[0].Type(), ops[1].X, ops[0])
		return Value{}, nil

	case op == ir.OpAtomicRMW:
		size := int(i.Typ.StoreSize())
		old := mem.Uint(ops[0].X, size)
		mem.SetUint(ops[0].X, size, atomicOp(i.AtomicOp, old, ops[1].X))
		return scalar(old), nil

	case op == ir.OpCmpXchg:
		size := int(i.Typ.StoreSize())
		old := mem.Uint(ops[0].X, size)
		if old == ops[1].X {
			mem.SetUint(ops[0].X, size, ops[2].X)
		}
		return scalar(old), nil

	case op == ir.OpGEP:
		addr, err := gep(i, ops)
		return scalar(addr), err

	case op == ir.OpSExt:
		return scalar(mask(uint64(signed(ops[0].X, bitsOf(i.Ops[0].Type()))), bits)), nil

	case op.IsCast():
		return scalar(mask(ops[0].X, bits)), nil

	case op.IsBinary():
		r, err := binary(op, ops[0].X, ops[1].X, bits)
		return scalar(r), err

	case op == ir.OpICmp:
		if icmp(i.Pred, ops[0].X, ops[1].X, bitsOf(i.Ops[0].Type())) {
			return scalar(1), nil
		}
		return scalar(0), nil

	case op == ir.OpSelect:
		if ops[0].X&1 != 0 {
			return ops[1], nil
		}
		return ops[2], nil

	case op == ir.OpExtractElement:
		idx := int(ops[1].X)
		if idx >= len(ops[0].Lanes) {
			return Value{}, fmt.Errorf("%w: lane %d of %s", ErrUnsupported, idx, i.Ops[0].Ident())
		}
		return scalar(ops[0].Lanes[idx]), nil

	case op == ir.OpCall:
		if i.Callee == nil {
			return Value{}, fmt.Errorf("%w: indirect call", ErrUnsupported)
		}
		return fr.in.call(i.Callee, i, ops)
	}
	return Value{}, fmt.Errorf("%w: %s", ErrUnsupported, i.Op)
}

func load(mem memory, t *ir.Type, addr uint64) Value {
	if t.IsVector() {
		size := t.Elem.StoreSize()
		v := Value{Lanes: make([]uint64, t.Len)}
		for n := range v.Lanes {
			v.Lanes[n] = mem.Uint(addr+uint64(int64(n)*size), int(size))
		}
		return v
	}
	size := t.StoreSize()
	if size > 8 {
		size = 8
	}
	return scalar(mask(mem.Uint(addr, int(size)), bitsOf(t)))
}

func store(mem memory, t *ir.Type, addr uint64, v Value) {
	if t.IsVector() {
		size := t.Elem.StoreSize()
		for n, lane := range v.Lanes {
			mem.SetUint(addr+uint64(int64(n)*size), int(size), lane)
		}
		return
	}
	size := t.StoreSize()
	if size > 8 {
		mem.Fill(addr+8, uint64(size-8), 0)
		size = 8
	}
	mem.SetUint(addr, int(size), v.X)
}

// memory is the part of the runtime memory the interpreter reads and
// writes directly.
type memory interface {
	Uint(addr uint64, size int) uint64
	SetUint(addr uint64, size int, v uint64)
	Fill(addr, n uint64, v byte)
}

func gep(i *ir.Instr, ops []Value) (uint64, error) {
	addr := ops[0].X
	t := i.Elem
	for n, idx := range ops[1:] {
		k := signed(idx.X, bitsOf(i.Ops[n+1].Type()))
		if n == 0 {
			addr += uint64(k * t.Size())
			continue
		}
		switch t.Kind {
		case ir.StructKind:
			if k < 0 || int(k) >= len(t.Fields) {
				return 0, fmt.Errorf("%w: field %d of %s", ErrUnsupported, k, t)
			}
			addr += uint64(t.FieldOffset(int(k)))
			t = t.Fields[k]
		case ir.ArrayKind, ir.VectorKind:
			t = t.Elem
			addr += uint64(k * t.Size())
		default:
			return 0, fmt.Errorf("%w: index into %s", ErrUnsupported, t)
		}
	}
	return addr, nil
}
