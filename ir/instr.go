package ir

import "strconv"

// Op is an instruction opcode.
type Op int

// Instruction opcodes.
const (
	OpAlloca Op = iota
	OpLoad
	OpStore
	OpAtomicRMW
	OpCmpXchg
	OpGEP

	OpBitCast
	OpPtrToInt
	OpIntToPtr
	OpTrunc
	OpZExt
	OpSExt

	OpAdd
	OpSub
	OpMul
	OpUDiv
	OpSDiv
	OpURem
	OpSRem
	OpAnd
	OpOr
	OpXor
	OpShl
	OpLShr
	OpAShr

	OpICmp
	OpPhi
	OpSelect
	OpCall
	OpExtractElement

	OpBr
	OpCondBr
	OpRet
	OpUnreachable
)

var opNames = [...]string{
	OpAlloca:         "alloca",
	OpLoad:           "load",
	OpStore:          "store",
	OpAtomicRMW:      "atomicrmw",
	OpCmpXchg:        "cmpxchg",
	OpGEP:            "getelementptr",
	OpBitCast:        "bitcast",
	OpPtrToInt:       "ptrtoint",
	OpIntToPtr:       "inttoptr",
	OpTrunc:          "trunc",
	OpZExt:           "zext",
	OpSExt:           "sext",
	OpAdd:            "add",
	OpSub:            "sub",
	OpMul:            "mul",
	OpUDiv:           "udiv",
	OpSDiv:           "sdiv",
	OpURem:           "urem",
	OpSRem:           "srem",
	OpAnd:            "and",
	OpOr:             "or",
	OpXor:            "xor",
	OpShl:            "shl",
	OpLShr:           "lshr",
	OpAShr:           "ashr",
	OpICmp:           "icmp",
	OpPhi:            "phi",
	OpSelect:         "select",
	OpCall:           "call",
	OpExtractElement: "extractelement",
	OpBr:             "br",
	OpCondBr:         "br",
	OpRet:            "ret",
	OpUnreachable:    "unreachable",
}

func (op Op) String() string {
	if int(op) < len(opNames) {
		return opNames[op]
	}
	return "op" + strconv.Itoa(int(op))
}

// IsTerminator reports whether op ends a basic block.
func (op Op) IsTerminator() bool { return op >= OpBr }

// IsBinary reports whether op is a two operand integer operation.
func (op Op) IsBinary() bool { return op >= OpAdd && op <= OpAShr }

// IsCast reports whether op is a conversion.
func (op Op) IsCast() bool { return op >= OpBitCast && op <= OpSExt }

// Pred is an integer comparison predicate.
type Pred int

// Comparison predicates.
const (
	EQ Pred = iota
	NE
	UGT
	UGE
	ULT
	ULE
	SGT
	SGE
	SLT
	SLE
)

var predNames = [...]string{"eq", "ne", "ugt", "uge", "ult", "ule", "sgt", "sge", "slt", "sle"}

func (p Pred) String() string { return predNames[p] }

// IsRelational reports whether p is an ordering comparison.
func (p Pred) IsRelational() bool { return p != EQ && p != NE }

// IsSigned reports whether p compares signed values.
func (p Pred) IsSigned() bool { return p >= SGT }

// Swap returns the predicate with operands exchanged.
func (p Pred) Swap() Pred {
	switch p {
	case UGT:
		return ULT
	case UGE:
		return ULE
	case ULT:
		return UGT
	case ULE:
		return UGE
	case SGT:
		return SLT
	case SGE:
		return SLE
	case SLT:
		return SGT
	case SLE:
		return SGE
	}
	return p
}

// Inverse returns the negated predicate.
func (p Pred) Inverse() Pred {
	switch p {
	case EQ:
		return NE
	case NE:
		return EQ
	case UGT:
		return ULE
	case UGE:
		return ULT
	case ULT:
		return UGE
	case ULE:
		return UGT
	case SGT:
		return SLE
	case SGE:
		return SLT
	case SLT:
		return SGE
	}
	return SGT
}

// Meta is a set of instruction annotations.
type Meta uint8

// Instruction annotations.
const (
	MetaNoSanitize    Meta = 1 << iota // Inserted by instrumentation, never checked.
	MetaNoShadow                       // Result pointer is opted out of checking.
	MetaNoReturn                       // Call does not return.
	MetaDynamicShadow                  // Loads the dynamic shadow base.
)

// Instr is an instruction. Operands are stored in Ops:
//
//	alloca          [count]
//	load            [ptr]
//	store           [value, ptr]
//	atomicrmw       [ptr, value]
//	cmpxchg         [ptr, cmp, new]
//	getelementptr   [base, indices...] indexing Elem
//	casts           [value]
//	binary, icmp    [x, y]
//	phi             [values...] parallel to Incoming
//	select          [cond, x, y]
//	call            [args...] to Callee
//	extractelement  [vector, index]
//	condbr          [cond] to Targets[0] or Targets[1]
//	ret             [] or [value]
type Instr struct {
	ID    int
	Op    Op
	Name  string
	Typ   *Type
	Ops   []Value
	Block *Block

	Pred     Pred
	Elem     *Type // Allocated type of alloca, source element type of GEP.
	Align    int64
	AtomicOp string
	Callee   *Function
	Targets  []*Block
	Incoming []*Block
	Weights  []uint32
	Meta     Meta
}

func (i *Instr) Type() *Type { return i.Typ }

func (i *Instr) Ident() string {
	if i.Name != "" {
		return "%" + i.Name
	}
	return "%" + strconv.Itoa(i.ID)
}

// Has reports whether i carries annotation m.
func (i *Instr) Has(m Meta) bool { return i.Meta&m != 0 }

// Func returns the function containing i.
func (i *Instr) Func() *Function {
	if i.Block == nil {
		return nil
	}
	return i.Block.Parent
}

// Index returns the position of i in its block, or -1.
func (i *Instr) Index() int {
	if i.Block == nil {
		return -1
	}
	for n, in := range i.Block.Instrs {
		if in == i {
			return n
		}
	}
	return -1
}

// CalleeName returns the name of the called function, or "" for indirect
// calls and non-call instructions.
func (i *Instr) CalleeName() string {
	if i.Op != OpCall || i.Callee == nil {
		return ""
	}
	return i.Callee.Name
}

// IncomingFor returns the phi operand flowing in from pred.
func (i *Instr) IncomingFor(pred *Block) (Value, bool) {
	for n, b := range i.Incoming {
		if b == pred {
			return i.Ops[n], true
		}
	}
	return nil, false
}

// AddIncoming appends a phi edge.
func (i *Instr) AddIncoming(v Value, pred *Block) {
	i.Ops = append(i.Ops, v)
	i.Incoming = append(i.Incoming, pred)
}

// ReplaceUsesOfWith replaces operand from with to.
func (i *Instr) ReplaceUsesOfWith(from, to Value) {
	for n, op := range i.Ops {
		if op == from {
			i.Ops[n] = to
		}
	}
}
