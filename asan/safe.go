package asan

import (
	"github.com/staywilliam/asanopt/analysis"
	"github.com/staywilliam/asanopt/ir"
)

// IsSafeAccess reports whether a statically stays inside the object it
// points into. Only objects of static extent qualify.
func IsSafeAccess(a *Access) bool {
	_, size, off, ok := analysis.ObjectSizeOffset(a.Ptr)
	if !ok {
		return false
	}
	return off >= 0 && size-off >= a.Bytes()
}

// IsSafeAccessBoost proves a in bounds when its address indexes a statically
// sized array with a variable index whose range is bounded by comparisons
// against constants on branch edges dominating the access.
func IsSafeAccessBoost(info *analysis.Info, a *Access) bool {
	gep, ok := ir.StripPointerCasts(a.Ptr).(*ir.Instr)
	if !ok || gep.Op != ir.OpGEP || len(gep.Ops) < 3 || gep.Elem.Kind != ir.ArrayKind {
		return false
	}
	obj, size, baseOff, ok := analysis.ObjectSizeOffset(gep.Ops[0])
	if !ok || obj == nil {
		return false
	}
	first, ok := ir.ConstValue(gep.Ops[1])
	if !ok {
		return false
	}
	idx := gep.Ops[2]
	if _, isConst := ir.ConstValue(idx); isConst {
		return false
	}
	arr := gep.Elem
	elem := arr.Elem
	restOff, ok := constSuffixOffset(elem, gep.Ops[3:])
	if !ok {
		return false
	}
	lo, hi, ok := indexRange(info, idx, a.Instr)
	if !ok || lo < 0 || hi >= int64(arr.Len) || lo > hi {
		return false
	}
	start := baseOff + first*arr.Size() + restOff
	minOff := start + lo*elem.Size()
	maxOff := start + hi*elem.Size()
	return minOff >= 0 && maxOff+a.Bytes() <= size
}

// constSuffixOffset returns the byte offset of constant indices into t.
func constSuffixOffset(t *ir.Type, indices []ir.Value) (int64, bool) {
	var off int64
	for _, idx := range indices {
		c, ok := ir.ConstValue(idx)
		if !ok {
			return 0, false
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

// indexRange derives a closed signed range for idx at instruction at from
// comparisons with constants whose branch edge dominates at. The edge
// target must have the comparing block as its only predecessor.
func indexRange(info *analysis.Info, idx ir.Value, at *ir.Instr) (lo, hi int64, ok bool) {
	var haveLo, haveHi bool
	if z, isInstr := idx.(*ir.Instr); isInstr && z.Op == ir.OpZExt {
		lo, haveLo = 0, true
	}
	for _, b := range info.Fn.Blocks {
		br := b.Term()
		if br == nil || br.Op != ir.OpCondBr || br.Targets[0] == br.Targets[1] || !info.Reachable(b) {
			continue
		}
		cmp, isCmp := br.Ops[0].(*ir.Instr)
		if !isCmp || cmp.Op != ir.OpICmp {
			continue
		}
		pred := cmp.Pred
		var c int64
		switch {
		case cmp.Ops[0] == idx:
			v, isConst := ir.ConstValue(cmp.Ops[1])
			if !isConst {
				continue
			}
			c = v
		case cmp.Ops[1] == idx:
			v, isConst := ir.ConstValue(cmp.Ops[0])
			if !isConst {
				continue
			}
			c, pred = v, pred.Swap()
		default:
			continue
		}
		for n, target := range br.Targets {
			if len(info.Preds[target]) != 1 || !info.DT.Dominates(target, at.Block) {
				continue
			}
			p := pred
			if n == 1 {
				p = p.Inverse()
			}
			l, h, hasL, hasH := bound(p, c)
			if hasL && (!haveLo || l > lo) {
				lo, haveLo = l, true
			}
			if hasH && (!haveHi || h < hi) {
				hi, haveHi = h, true
			}
		}
	}
	return lo, hi, haveLo && haveHi
}

// bound returns the range implied by "idx p c".
func bound(p ir.Pred, c int64) (lo, hi int64, hasLo, hasHi bool) {
	switch p {
	case ir.ULT:
		if c > 0 {
			return 0, c - 1, true, true
		}
	case ir.ULE:
		if c >= 0 {
			return 0, c, true, true
		}
	case ir.SLT:
		return 0, c - 1, false, true
	case ir.SLE:
		return 0, c, false, true
	case ir.SGT:
		return c + 1, 0, true, false
	case ir.SGE:
		return c, 0, true, false
	case ir.EQ:
		return c, c, true, true
	}
	return 0, 0, false, false
}
