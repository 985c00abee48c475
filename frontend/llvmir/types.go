package llvmir

import (
	"encoding/binary"
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"

	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/types"

	"github.com/staywilliam/asanopt/ir"
)

// typ lowers an LLVM type. Pointers lose their element type.
func (l *lowerer) typ(t types.Type) (*ir.Type, error) {
	switch t := t.(type) {
	case *types.VoidType:
		return ir.Void, nil
	case *types.IntType:
		return ir.IntType(int(t.BitSize)), nil
	case *types.FloatType:
		switch t.Kind {
		case types.FloatKindHalf:
			return &ir.Type{Kind: ir.FloatKind, Bits: 16}, nil
		case types.FloatKindFloat:
			return ir.F32, nil
		case types.FloatKindDouble:
			return ir.F64, nil
		}
	case *types.PointerType:
		return ir.PtrIn(int(t.AddrSpace)), nil
	case *types.ArrayType:
		elem, err := l.typ(t.ElemType)
		if err != nil {
			return nil, err
		}
		return ir.ArrayOf(elem, int(t.Len)), nil
	case *types.VectorType:
		elem, err := l.typ(t.ElemType)
		if err != nil {
			return nil, err
		}
		return ir.VectorOf(elem, int(t.Len)), nil
	case *types.StructType:
		if s, ok := l.structs[t]; ok {
			return s, nil
		}
		s := ir.StructOf()
		l.structs[t] = s
		for _, f := range t.Fields {
			ft, err := l.typ(f)
			if err != nil {
				return nil, err
			}
			s.Fields = append(s.Fields, ft)
		}
		return s, nil
	case *types.MetadataType:
		// Metadata operands are kept as null pointers.
		return ir.Ptr, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, t)
}

// mangle names t inside declaration names.
func mangle(t *ir.Type) string {
	switch t.Kind {
	case ir.VoidKind:
		return "void"
	case ir.IntKind:
		return "i" + strconv.Itoa(t.Bits)
	case ir.FloatKind:
		return "f" + strconv.Itoa(t.Bits)
	case ir.PtrKind:
		return "p" + strconv.Itoa(t.AddrSpace)
	case ir.ArrayKind:
		return "a" + strconv.Itoa(t.Len) + mangle(t.Elem)
	case ir.VectorKind:
		return "v" + strconv.Itoa(t.Len) + mangle(t.Elem)
	}
	parts := make([]string, len(t.Fields))
	for i, f := range t.Fields {
		parts[i] = mangle(f)
	}
	return "s" + strings.Join(parts, "_") + "s"
}

// intOf returns the two's complement bits of x.
func intOf(x *big.Int) int64 {
	if x.IsInt64() {
		return x.Int64()
	}
	return int64(x.Uint64())
}

func floatBits(c *constant.Float, t *ir.Type) int64 {
	f, _ := c.X.Float64()
	if t.Bits == 32 {
		return int64(math.Float32bits(float32(f)))
	}
	return int64(math.Float64bits(f))
}

// initBytes writes the little endian image of c, of type t, at buf[off:].
// Parts that are not plain data, such as addresses of other globals, are
// left zero.
func (l *lowerer) initBytes(c constant.Constant, t *ir.Type, buf []byte, off int64) {
	put := func(v int64, size int64) {
		var tmp [8]byte
		binary.LittleEndian.PutUint64(tmp[:], uint64(v))
		if size > 8 {
			size = 8
		}
		if off+size <= int64(len(buf)) {
			copy(buf[off:off+size], tmp[:size])
		}
	}
	switch c := c.(type) {
	case *constant.Int:
		put(intOf(c.X), t.StoreSize())
	case *constant.Float:
		put(floatBits(c, t), t.StoreSize())
	case *constant.CharArray:
		if off < int64(len(buf)) {
			copy(buf[off:], c.X)
		}
	case *constant.Array:
		for k, e := range c.Elems {
			l.initBytes(e, t.Elem, buf, off+int64(k)*t.Elem.Size())
		}
	case *constant.Vector:
		for k, e := range c.Elems {
			l.initBytes(e, t.Elem, buf, off+int64(k)*t.Elem.StoreSize())
		}
	case *constant.Struct:
		for k, e := range c.Fields {
			if k < len(t.Fields) {
				l.initBytes(e, t.Fields[k], buf, off+t.FieldOffset(k))
			}
		}
	}
}
