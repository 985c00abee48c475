package analysis

import "github.com/staywilliam/asanopt/ir"

// ObjectSizeOffset finds the object p points into and returns its size in
// bytes and the constant offset of p inside it. Only stack allocations of
// constant size and globals defined in the module have a known size.
func ObjectSizeOffset(p ir.Value) (obj ir.Value, size, off int64, ok bool) {
	obj, off = Decompose(p)
	switch o := obj.(type) {
	case *ir.Instr:
		if o.Op != ir.OpAlloca {
			return obj, 0, 0, false
		}
		n := int64(1)
		if len(o.Ops) > 0 {
			c, ok := ir.ConstValue(o.Ops[0])
			if !ok {
				return obj, 0, 0, false
			}
			n = c
		}
		return obj, n * o.Elem.Size(), off, true
	case *ir.Global:
		if o.External {
			return obj, 0, 0, false
		}
		return obj, o.Elem.Size(), off, true
	}
	return obj, 0, 0, false
}

// IsStackObject reports whether obj is a stack allocation.
func IsStackObject(obj ir.Value) bool {
	i, ok := obj.(*ir.Instr)
	return ok && i.Op == ir.OpAlloca
}
