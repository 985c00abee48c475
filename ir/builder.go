package ir

// Builder inserts instructions at the end of a block, or before a given
// instruction.
type Builder struct {
	block  *Block
	before *Instr
	meta   Meta
}

// NewBuilder returns a builder appending to b.
func NewBuilder(b *Block) *Builder {
	return &Builder{block: b}
}

// NewBuilderBefore returns a builder inserting before i.
func NewBuilderBefore(i *Instr) *Builder {
	return &Builder{before: i}
}

// SetInsertPoint makes the builder append to b.
func (b *Builder) SetInsertPoint(blk *Block) {
	b.block, b.before = blk, nil
}

// SetInsertBefore makes the builder insert before i.
func (b *Builder) SetInsertBefore(i *Instr) {
	b.block, b.before = nil, i
}

// SetMeta sets annotations attached to every instruction built from now on.
func (b *Builder) SetMeta(m Meta) {
	b.meta = m
}

// Block returns the current insertion block.
func (b *Builder) Block() *Block {
	if b.before != nil {
		return b.before.Block
	}
	return b.block
}

// Insert places i at the insertion point and assigns its ID.
func (b *Builder) Insert(i *Instr) *Instr {
	blk := b.Block()
	f := blk.Parent
	i.ID = f.nextInstr
	f.nextInstr++
	i.Block = blk
	i.Meta |= b.meta
	if b.before == nil {
		blk.Instrs = append(blk.Instrs, i)
		return i
	}
	idx := b.before.Index()
	blk.Instrs = append(blk.Instrs, nil)
	copy(blk.Instrs[idx+1:], blk.Instrs[idx:])
	blk.Instrs[idx] = i
	return i
}

// Alloca allocates count elements of t on the stack. count may be nil.
func (b *Builder) Alloca(t *Type, count Value) *Instr {
	i := &Instr{Op: OpAlloca, Typ: Ptr, Elem: t, Align: t.Align()}
	if count != nil {
		i.Ops = []Value{count}
	}
	return b.Insert(i)
}

// Load reads a value of type t from ptr.
func (b *Builder) Load(t *Type, ptr Value) *Instr {
	return b.Insert(&Instr{Op: OpLoad, Typ: t, Ops: []Value{ptr}, Align: t.Align()})
}

// Store writes v to ptr.
func (b *Builder) Store(v, ptr Value) *Instr {
	return b.Insert(&Instr{Op: OpStore, Typ: Void, Ops: []Value{v, ptr}, Align: v.Type().Align()})
}

// AtomicRMW atomically applies op to the value at ptr.
func (b *Builder) AtomicRMW(op string, ptr, v Value) *Instr {
	return b.Insert(&Instr{Op: OpAtomicRMW, Typ: v.Type(), Ops: []Value{ptr, v}, AtomicOp: op})
}

// CmpXchg atomically replaces the value at ptr with new if it equals cmp.
func (b *Builder) CmpXchg(ptr, cmp, new Value) *Instr {
	return b.Insert(&Instr{Op: OpCmpXchg, Typ: cmp.Type(), Ops: []Value{ptr, cmp, new}})
}

// GEP computes the address of an element of an aggregate of type elem at
// base.
func (b *Builder) GEP(elem *Type, base Value, indices ...Value) *Instr {
	ops := append([]Value{base}, indices...)
	return b.Insert(&Instr{Op: OpGEP, Typ: Ptr, Ops: ops, Elem: elem})
}

// Binary builds a two operand integer operation.
func (b *Builder) Binary(op Op, x, y Value) *Instr {
	return b.Insert(&Instr{Op: op, Typ: x.Type(), Ops: []Value{x, y}})
}

func (b *Builder) Add(x, y Value) *Instr  { return b.Binary(OpAdd, x, y) }
func (b *Builder) Sub(x, y Value) *Instr  { return b.Binary(OpSub, x, y) }
func (b *Builder) Mul(x, y Value) *Instr  { return b.Binary(OpMul, x, y) }
func (b *Builder) And(x, y Value) *Instr  { return b.Binary(OpAnd, x, y) }
func (b *Builder) Or(x, y Value) *Instr   { return b.Binary(OpOr, x, y) }
func (b *Builder) LShr(x, y Value) *Instr { return b.Binary(OpLShr, x, y) }
func (b *Builder) URem(x, y Value) *Instr { return b.Binary(OpURem, x, y) }

// ICmp compares x and y.
func (b *Builder) ICmp(p Pred, x, y Value) *Instr {
	return b.Insert(&Instr{Op: OpICmp, Typ: I1, Ops: []Value{x, y}, Pred: p})
}

// Cast converts v to t.
func (b *Builder) Cast(op Op, v Value, t *Type) *Instr {
	return b.Insert(&Instr{Op: op, Typ: t, Ops: []Value{v}})
}

// PtrToInt converts a pointer to a 64-bit integer.
func (b *Builder) PtrToInt(v Value) Value {
	if v.Type().IsInt() {
		return v
	}
	return b.Cast(OpPtrToInt, v, I64)
}

// IntToPtr converts an integer to a pointer.
func (b *Builder) IntToPtr(v Value) Value {
	if v.Type().IsPtr() {
		return v
	}
	return b.Cast(OpIntToPtr, v, Ptr)
}

// IntCast truncates or extends v to t.
func (b *Builder) IntCast(v Value, t *Type, signed bool) Value {
	from := v.Type().Bits
	switch {
	case from == t.Bits:
		return v
	case from > t.Bits:
		return b.Cast(OpTrunc, v, t)
	case signed:
		return b.Cast(OpSExt, v, t)
	}
	return b.Cast(OpZExt, v, t)
}

// Phi builds an empty phi of type t.
func (b *Builder) Phi(t *Type) *Instr {
	return b.Insert(&Instr{Op: OpPhi, Typ: t})
}

// Select picks x when cond holds, y otherwise.
func (b *Builder) Select(cond, x, y Value) *Instr {
	return b.Insert(&Instr{Op: OpSelect, Typ: x.Type(), Ops: []Value{cond, x, y}})
}

// Call calls fn.
func (b *Builder) Call(fn *Function, args ...Value) *Instr {
	return b.Insert(&Instr{Op: OpCall, Typ: fn.Ret, Ops: args, Callee: fn})
}

// ExtractElement reads lane idx of vec.
func (b *Builder) ExtractElement(vec, idx Value) *Instr {
	return b.Insert(&Instr{Op: OpExtractElement, Typ: vec.Type().Elem, Ops: []Value{vec, idx}})
}

// Br jumps to dst.
func (b *Builder) Br(dst *Block) *Instr {
	return b.Insert(&Instr{Op: OpBr, Typ: Void, Targets: []*Block{dst}})
}

// CondBr jumps to t when cond holds, f otherwise.
func (b *Builder) CondBr(cond Value, t, f *Block) *Instr {
	return b.Insert(&Instr{Op: OpCondBr, Typ: Void, Ops: []Value{cond}, Targets: []*Block{t, f}})
}

// Ret returns v, or nothing when v is nil.
func (b *Builder) Ret(v Value) *Instr {
	i := &Instr{Op: OpRet, Typ: Void}
	if v != nil {
		i.Ops = []Value{v}
	}
	return b.Insert(i)
}

// Unreachable marks the end of a block that is never left.
func (b *Builder) Unreachable() *Instr {
	return b.Insert(&Instr{Op: OpUnreachable, Typ: Void})
}
