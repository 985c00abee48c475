package interp

import "github.com/staywilliam/asanopt/ir"

// Value is a runtime value: an integer, a pointer or the bit pattern of a
// float, or the lanes of a vector.
type Value struct {
	X     uint64
	Lanes []uint64
}

func scalar(x uint64) Value { return Value{X: x} }

// mask truncates x to bits.
func mask(x uint64, bits int) uint64 {
	if bits <= 0 || bits >= 64 {
		return x
	}
	return x & (1<<uint(bits) - 1)
}

// signed sign extends the low bits of x.
func signed(x uint64, bits int) int64 {
	if bits <= 0 || bits >= 64 {
		return int64(x)
	}
	shift := uint(64 - bits)
	return int64(x<<shift) >> shift
}

// bitsOf returns the integer width of t; pointers are 64 bits.
func bitsOf(t *ir.Type) int {
	switch t.Kind {
	case ir.IntKind, ir.FloatKind:
		return t.Bits
	}
	return 64
}

func constValue(c *ir.Const) Value {
	if c.Typ.IsVector() {
		v := Value{Lanes: make([]uint64, len(c.Elems))}
		for i, e := range c.Elems {
			v.Lanes[i] = mask(uint64(e.Int), bitsOf(e.Typ))
		}
		return v
	}
	return scalar(mask(uint64(c.Int), bitsOf(c.Typ)))
}

func icmp(p ir.Pred, x, y uint64, bits int) bool {
	sx, sy := signed(x, bits), signed(y, bits)
	switch p {
	case ir.EQ:
		return x == y
	case ir.NE:
		return x != y
	case ir.UGT:
		return x > y
	case ir.UGE:
		return x >= y
	case ir.ULT:
		return x < y
	case ir.ULE:
		return x <= y
	case ir.SGT:
		return sx > sy
	case ir.SGE:
		return sx >= sy
	case ir.SLT:
		return sx < sy
	}
	return sx <= sy
}

func binary(op ir.Op, x, y uint64, bits int) (uint64, error) {
	var r uint64
	switch op {
	case ir.OpAdd:
		r = x + y
	case ir.OpSub:
		r = x - y
	case ir.OpMul:
		r = x * y
	case ir.OpUDiv, ir.OpURem, ir.OpSDiv, ir.OpSRem:
		if y == 0 {
			return 0, ErrDivideByZero
		}
		switch op {
		case ir.OpUDiv:
			r = x / y
		case ir.OpURem:
			r = x % y
		case ir.OpSDiv:
			r = uint64(signed(x, bits) / signed(y, bits))
		default:
			r = uint64(signed(x, bits) % signed(y, bits))
		}
	case ir.OpAnd:
		r = x & y
	case ir.OpOr:
		r = x | y
	case ir.OpXor:
		r = x ^ y
	case ir.OpShl:
		r = x << (y & 63)
	case ir.OpLShr:
		r = x >> (y & 63)
	case ir.OpAShr:
		r = uint64(signed(x, bits) >> (y & 63))
	default:
		return 0, ErrUnsupported
	}
	return mask(r, bits), nil
}

func atomicOp(op string, old, v uint64) uint64 {
	switch op {
	case "xchg":
		return v
	case "add":
		return old + v
	case "sub":
		return old - v
	case "and":
		return old & v
	case "or":
		return old | v
	case "xor":
		return old ^ v
	case "nand":
		return ^(old & v)
	case "max", "umax":
		if v > old {
			return v
		}
	case "min", "umin":
		if v < old {
			return v
		}
	}
	return old
}
