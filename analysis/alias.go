package analysis

import "github.com/staywilliam/asanopt/ir"

// Decompose strips pointer casts and constant-index GEPs from p, returning
// the underlying base pointer and the constant byte offset of p from it.
func Decompose(p ir.Value) (base ir.Value, off int64) {
	p = ir.StripPointerCasts(p)
	for {
		i, ok := p.(*ir.Instr)
		if !ok || i.Op != ir.OpGEP {
			return p, off
		}
		o, ok := ConstGEPOffset(i)
		if !ok {
			return p, off
		}
		off += o
		p = ir.StripPointerCasts(i.Ops[0])
	}
}

// ConstGEPOffset returns the byte offset computed by a GEP whose indices
// are all constants.
func ConstGEPOffset(gep *ir.Instr) (int64, bool) {
	t := gep.Elem
	var off int64
	for n, idx := range gep.Ops[1:] {
		c, ok := ir.ConstValue(idx)
		if !ok {
			return 0, false
		}
		if n == 0 {
			off += c * t.Size()
			continue
		}
		switch t.Kind {
		case ir.StructKind:
			if c < 0 || int(c) >= len(t.Fields) {
				return 0, false
			}
			off += t.FieldOffset(int(c))
			t = t.Fields[c]
		case ir.ArrayKind, ir.VectorKind:
			t = t.Elem
			off += c * t.Size()
		default:
			return 0, false
		}
	}
	return off, true
}

// MustAlias reports whether a and b always hold the same address.
func MustAlias(a, b ir.Value) bool {
	if a == b {
		return true
	}
	ba, oa := Decompose(a)
	bb, ob := Decompose(b)
	return ba == bb && oa == ob
}
