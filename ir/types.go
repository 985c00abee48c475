package ir

import (
	"fmt"
	"strings"
)

// Kind is the kind of a Type.
type Kind int

// Type kinds.
const (
	VoidKind Kind = iota
	IntKind
	FloatKind
	PtrKind
	ArrayKind
	VectorKind
	StructKind
)

// Type is a first class type of the IR. Sizes follow a 64-bit little endian
// data layout with natural alignment.
type Type struct {
	Kind      Kind
	Bits      int     // IntKind, FloatKind
	Elem      *Type   // ArrayKind, VectorKind
	Len       int     // ArrayKind, VectorKind
	Fields    []*Type // StructKind
	AddrSpace int     // PtrKind
}

// Predeclared types.
var (
	Void = &Type{Kind: VoidKind}
	I1   = &Type{Kind: IntKind, Bits: 1}
	I8   = &Type{Kind: IntKind, Bits: 8}
	I16  = &Type{Kind: IntKind, Bits: 16}
	I32  = &Type{Kind: IntKind, Bits: 32}
	I64  = &Type{Kind: IntKind, Bits: 64}
	I128 = &Type{Kind: IntKind, Bits: 128}
	F32  = &Type{Kind: FloatKind, Bits: 32}
	F64  = &Type{Kind: FloatKind, Bits: 64}
	Ptr  = &Type{Kind: PtrKind}
)

// IntType returns the integer type of the given width.
func IntType(bits int) *Type {
	switch bits {
	case 1:
		return I1
	case 8:
		return I8
	case 16:
		return I16
	case 32:
		return I32
	case 64:
		return I64
	case 128:
		return I128
	}
	return &Type{Kind: IntKind, Bits: bits}
}

// PtrIn returns a pointer type in address space as.
func PtrIn(as int) *Type {
	if as == 0 {
		return Ptr
	}
	return &Type{Kind: PtrKind, AddrSpace: as}
}

// ArrayOf returns the type [n x elem].
func ArrayOf(elem *Type, n int) *Type {
	return &Type{Kind: ArrayKind, Elem: elem, Len: n}
}

// VectorOf returns the type <n x elem>.
func VectorOf(elem *Type, n int) *Type {
	return &Type{Kind: VectorKind, Elem: elem, Len: n}
}

// StructOf returns a non-packed struct type.
func StructOf(fields ...*Type) *Type {
	return &Type{Kind: StructKind, Fields: fields}
}

func (t *Type) IsInt() bool    { return t.Kind == IntKind }
func (t *Type) IsPtr() bool    { return t.Kind == PtrKind }
func (t *Type) IsVector() bool { return t.Kind == VectorKind }
func (t *Type) IsVoid() bool   { return t.Kind == VoidKind }

// StoreSize is the number of bytes written by a store of t.
func (t *Type) StoreSize() int64 {
	switch t.Kind {
	case IntKind, FloatKind:
		return int64(t.Bits+7) / 8
	case PtrKind:
		return 8
	case VectorKind:
		bits := int64(t.Elem.Bits)
		if t.Elem.IsPtr() {
			bits = 64
		}
		return (int64(t.Len)*bits + 7) / 8
	case ArrayKind, StructKind:
		return t.Size()
	}
	return 0
}

// Size is the allocation size of t, including tail padding.
func (t *Type) Size() int64 {
	switch t.Kind {
	case ArrayKind:
		return int64(t.Len) * t.Elem.Size()
	case StructKind:
		var off int64
		for _, f := range t.Fields {
			off = alignTo(off, f.Align()) + f.Size()
		}
		return alignTo(off, t.Align())
	case VoidKind:
		return 0
	}
	return alignTo(t.StoreSize(), t.Align())
}

// Align is the ABI alignment of t.
func (t *Type) Align() int64 {
	switch t.Kind {
	case IntKind, FloatKind:
		a := nextPow2(t.StoreSize())
		if a > 8 && t.Kind == IntKind {
			return 8
		}
		return a
	case PtrKind:
		return 8
	case VectorKind:
		return nextPow2(t.StoreSize())
	case ArrayKind:
		return t.Elem.Align()
	case StructKind:
		var a int64 = 1
		for _, f := range t.Fields {
			if fa := f.Align(); fa > a {
				a = fa
			}
		}
		return a
	}
	return 1
}

// FieldOffset returns the byte offset of field i of a struct type.
func (t *Type) FieldOffset(i int) int64 {
	var off int64
	for j, f := range t.Fields {
		off = alignTo(off, f.Align())
		if j == i {
			return off
		}
		off += f.Size()
	}
	return off
}

// Equal reports whether t and u are structurally identical.
func (t *Type) Equal(u *Type) bool {
	if t == u {
		return true
	}
	if t == nil || u == nil || t.Kind != u.Kind {
		return false
	}
	switch t.Kind {
	case IntKind, FloatKind:
		return t.Bits == u.Bits
	case PtrKind:
		return t.AddrSpace == u.AddrSpace
	case ArrayKind, VectorKind:
		return t.Len == u.Len && t.Elem.Equal(u.Elem)
	case StructKind:
		if len(t.Fields) != len(u.Fields) {
			return false
		}
		for i := range t.Fields {
			if !t.Fields[i].Equal(u.Fields[i]) {
				return false
			}
		}
	}
	return true
}

func (t *Type) String() string {
	switch t.Kind {
	case VoidKind:
		return "void"
	case IntKind:
		return fmt.Sprintf("i%d", t.Bits)
	case FloatKind:
		if t.Bits == 32 {
			return "float"
		}
		return "double"
	case PtrKind:
		if t.AddrSpace != 0 {
			return fmt.Sprintf("ptr addrspace(%d)", t.AddrSpace)
		}
		return "ptr"
	case ArrayKind:
		return fmt.Sprintf("[%d x %s]", t.Len, t.Elem)
	case VectorKind:
		return fmt.Sprintf("<%d x %s>", t.Len, t.Elem)
	case StructKind:
		fields := make([]string, len(t.Fields))
		for i, f := range t.Fields {
			fields[i] = f.String()
		}
		return "{ " + strings.Join(fields, ", ") + " }"
	}
	return "?"
}

func alignTo(x, a int64) int64 {
	if a <= 1 {
		return x
	}
	return (x + a - 1) / a * a
}

func nextPow2(x int64) int64 {
	var p int64 = 1
	for p < x {
		p <<= 1
	}
	return p
}
