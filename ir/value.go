package ir

import (
	"fmt"
	"strconv"
	"strings"
)

// Value is anything that can be an instruction operand.
type Value interface {
	Type() *Type
	Ident() string
}

// Const is an integer, null pointer or integer vector constant.
type Const struct {
	Typ   *Type
	Int   int64
	Elems []*Const // VectorKind only
}

// ConstInt returns an integer constant of type t.
func ConstInt(t *Type, v int64) *Const {
	return &Const{Typ: t, Int: v}
}

// Null returns the null pointer constant.
func Null() *Const {
	return &Const{Typ: Ptr}
}

// ConstVector returns a vector constant with the given lanes.
func ConstVector(elem *Type, lanes ...int64) *Const {
	c := &Const{Typ: VectorOf(elem, len(lanes))}
	for _, l := range lanes {
		c.Elems = append(c.Elems, ConstInt(elem, l))
	}
	return c
}

func (c *Const) Type() *Type { return c.Typ }

func (c *Const) Ident() string {
	switch c.Typ.Kind {
	case PtrKind:
		if c.Int == 0 {
			return "null"
		}
		return fmt.Sprintf("inttoptr (i64 %d to ptr)", c.Int)
	case VectorKind:
		lanes := make([]string, len(c.Elems))
		for i, e := range c.Elems {
			lanes[i] = e.Typ.String() + " " + e.Ident()
		}
		return "<" + strings.Join(lanes, ", ") + ">"
	}
	if c.Typ == I1 || (c.Typ.Kind == IntKind && c.Typ.Bits == 1) {
		if c.Int&1 != 0 {
			return "true"
		}
		return "false"
	}
	return strconv.FormatInt(c.Int, 10)
}

// Global is a module level variable. Its value is the address of its
// storage.
type Global struct {
	Name     string
	Elem     *Type  // Content type.
	Init     []byte // Little endian initial contents, zero filled.
	External bool   // Defined outside the module, or may be replaced at link time.
	DynInit  bool   // Initialised dynamically by a module constructor.
	NoShadow bool   // Opted out of address checking.
	Align    int64
}

func (g *Global) Type() *Type   { return Ptr }
func (g *Global) Ident() string { return globalIdent(g.Name) }

// globalIdent quotes names that are not plain LLVM identifiers.
func globalIdent(name string) string {
	for _, r := range name {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || strings.ContainsRune("._$-", r)) {
			return "@" + strconv.Quote(name)
		}
	}
	return "@" + name
}

// Param is a function parameter.
type Param struct {
	Name     string
	Typ      *Type
	Index    int
	NoShadow bool
}

// NewParam returns a parameter of type t.
func NewParam(name string, t *Type) *Param {
	return &Param{Name: name, Typ: t}
}

func (p *Param) Type() *Type   { return p.Typ }
func (p *Param) Ident() string { return "%" + p.Name }

// IsNoShadow reports whether v is annotated as not requiring shadow
// tracking.
func IsNoShadow(v Value) bool {
	switch v := v.(type) {
	case *Global:
		return v.NoShadow
	case *Param:
		return v.NoShadow
	case *Instr:
		return v.Has(MetaNoShadow)
	}
	return false
}

// StripPointerCasts returns v with bitcasts and pointer round trips through
// integers removed.
func StripPointerCasts(v Value) Value {
	for {
		i, ok := v.(*Instr)
		if !ok {
			return v
		}
		switch {
		case i.Op == OpBitCast && i.Typ.IsPtr():
			v = i.Ops[0]
		case i.Op == OpIntToPtr:
			if p, ok := i.Ops[0].(*Instr); ok && p.Op == OpPtrToInt {
				v = p.Ops[0]
				continue
			}
			return v
		default:
			return v
		}
	}
}

// ConstValue returns the integer value of v if it is a constant.
func ConstValue(v Value) (int64, bool) {
	if c, ok := v.(*Const); ok && c.Typ.Kind != VectorKind {
		return c.Int, true
	}
	return 0, false
}
