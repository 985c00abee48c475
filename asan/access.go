package asan

import (
	"fmt"
	"strings"

	"github.com/staywilliam/asanopt/ir"
)

// AccessKind is the kind of memory access performed by an instruction.
type AccessKind int

// Access kinds.
const (
	Load AccessKind = iota
	Store
	AtomicRMW
	CmpXchg
	MaskedLoad
	MaskedStore
	MemTransfer // memcpy
	MemMove
	MemSet
)

var kindNames = [...]string{"load", "store", "atomicrmw", "cmpxchg", "masked.load", "masked.store", "memcpy", "memmove", "memset"}

func (k AccessKind) String() string { return kindNames[k] }

// IsMem reports whether k is a block memory intrinsic, which is always
// checked by a runtime wrapper.
func (k AccessKind) IsMem() bool { return k >= MemTransfer }

// IsMasked reports whether k is a predicated vector access.
func (k AccessKind) IsMasked() bool { return k == MaskedLoad || k == MaskedStore }

// Access describes one interesting memory access.
type Access struct {
	Kind     AccessKind
	Instr    *ir.Instr
	Ptr      ir.Value
	IsWrite  bool
	TypeSize int64 // Bits. For masked accesses, the whole vector.
	Align    int64 // 0 when unknown.

	Mask   ir.Value // Masked accesses only.
	Vector *ir.Type // Masked accesses only.

	Src ir.Value // memcpy/memmove source, memset value.
	Len ir.Value // Length of block memory intrinsics.
}

// Bytes returns the access size in bytes.
func (a *Access) Bytes() int64 { return a.TypeSize / 8 }

func (a *Access) String() string {
	return fmt.Sprintf("%s %d bits at %s (%s)", a.Kind, a.TypeSize, a.Ptr.Ident(), a.Instr.Ident())
}

// Lane is one element of a masked access that needs checking.
type Lane struct {
	Index int
	Mask  ir.Value // i1 lane predicate, nil when the lane is always active.
}

// Lanes returns the lanes of a masked access that may be active. Lanes
// whose mask bit is the constant false are omitted.
func (a *Access) Lanes() []Lane {
	var lanes []Lane
	if c, ok := a.Mask.(*ir.Const); ok && c.Typ.IsVector() {
		for i, e := range c.Elems {
			if e.Int&1 == 0 {
				continue
			}
			lanes = append(lanes, Lane{Index: i})
		}
		return lanes
	}
	for i := 0; i < a.Vector.Len; i++ {
		lanes = append(lanes, Lane{Index: i, Mask: a.Mask})
	}
	return lanes
}

// Classify returns the memory access performed by i, or nil if i needs no
// check under opts.
func Classify(i *ir.Instr, opts *Options) *Access {
	if i.Has(ir.MetaNoSanitize) || i.Has(ir.MetaDynamicShadow) {
		return nil
	}
	var a *Access
	switch i.Op {
	case ir.OpLoad:
		if !opts.InstrumentReads {
			return nil
		}
		a = &Access{Kind: Load, Ptr: i.Ops[0], TypeSize: i.Typ.StoreSize() * 8, Align: i.Align}
	case ir.OpStore:
		if !opts.InstrumentWrites {
			return nil
		}
		a = &Access{Kind: Store, Ptr: i.Ops[1], IsWrite: true, TypeSize: i.Ops[0].Type().StoreSize() * 8, Align: i.Align}
	case ir.OpAtomicRMW:
		if !opts.InstrumentAtomics {
			return nil
		}
		a = &Access{Kind: AtomicRMW, Ptr: i.Ops[0], IsWrite: true, TypeSize: i.Ops[1].Type().StoreSize() * 8}
	case ir.OpCmpXchg:
		if !opts.InstrumentAtomics {
			return nil
		}
		a = &Access{Kind: CmpXchg, Ptr: i.Ops[0], IsWrite: true, TypeSize: i.Ops[1].Type().StoreSize() * 8}
	case ir.OpCall:
		a = classifyIntrinsic(i, opts)
	}
	if a == nil || a.Ptr == nil {
		return nil
	}
	a.Instr = i
	if a.Ptr.Type().AddrSpace != 0 {
		return nil
	}
	if ir.IsNoShadow(a.Ptr) || ir.IsNoShadow(ir.StripPointerCasts(a.Ptr)) {
		return nil
	}
	return a
}

func classifyIntrinsic(i *ir.Instr, opts *Options) *Access {
	name := i.CalleeName()
	switch {
	case strings.HasPrefix(name, "llvm.masked.load."):
		// [ptr, align, mask, passthru]
		if !opts.InstrumentReads || len(i.Ops) < 3 {
			return nil
		}
		return maskedAccess(MaskedLoad, i.Typ, i.Ops[0], i.Ops[1], i.Ops[2])
	case strings.HasPrefix(name, "llvm.masked.store."):
		// [value, ptr, align, mask]
		if !opts.InstrumentWrites || len(i.Ops) < 4 {
			return nil
		}
		a := maskedAccess(MaskedStore, i.Ops[0].Type(), i.Ops[1], i.Ops[2], i.Ops[3])
		if a != nil {
			a.IsWrite = true
		}
		return a
	case strings.HasPrefix(name, "llvm.memcpy."), strings.HasPrefix(name, "llvm.memmove."):
		// [dst, src, len, volatile]
		if len(i.Ops) < 3 {
			return nil
		}
		kind := MemTransfer
		if strings.HasPrefix(name, "llvm.memmove.") {
			kind = MemMove
		}
		return &Access{Kind: kind, Ptr: i.Ops[0], Src: i.Ops[1], Len: i.Ops[2], IsWrite: true}
	case strings.HasPrefix(name, "llvm.memset."):
		// [dst, val, len, volatile]
		if len(i.Ops) < 3 {
			return nil
		}
		return &Access{Kind: MemSet, Ptr: i.Ops[0], Src: i.Ops[1], Len: i.Ops[2], IsWrite: true}
	}
	return nil
}

func maskedAccess(kind AccessKind, vec *ir.Type, ptr, align, mask ir.Value) *Access {
	if !vec.IsVector() {
		return nil
	}
	a := &Access{Kind: kind, Ptr: ptr, TypeSize: vec.StoreSize() * 8, Mask: mask, Vector: vec}
	if al, ok := ir.ConstValue(align); ok {
		a.Align = al
	}
	return a
}

// isPointerOperand reports whether v is a pointer or a pointer converted to
// an integer.
func isPointerOperand(v ir.Value) bool {
	if v.Type().IsPtr() {
		return true
	}
	i, ok := v.(*ir.Instr)
	return ok && i.Op == ir.OpPtrToInt
}

// isPointerPair reports whether i is a relational comparison or a
// subtraction of two pointers.
func isPointerPair(i *ir.Instr) bool {
	switch {
	case i.Op == ir.OpICmp && i.Pred.IsRelational():
	case i.Op == ir.OpSub:
	default:
		return false
	}
	return isPointerOperand(i.Ops[0]) && isPointerOperand(i.Ops[1])
}
