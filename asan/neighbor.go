package asan

import (
	"sort"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/staywilliam/asanopt/analysis"
	"github.com/staywilliam/asanopt/ir"
)

// offsetKey identifies accesses through constant offsets from one base:
// the base pointer and the constant index path up to the last index.
type offsetKey struct {
	base ir.Value
	path string
}

type offsetMember struct {
	a   *Access
	off int64 // Bytes from the base.
}

func (m offsetMember) end() int64 { return m.off + m.a.Bytes() }

// offsetGroups partitions the optimisable candidates by base pointer and
// index path. A pointer that is not a constant GEP is its own base at
// offset 0. Members are sorted by offset, then program order.
func offsetGroups(cands CandidateSet) map[offsetKey][]offsetMember {
	groups := make(map[offsetKey][]offsetMember)
	for _, a := range cands {
		if !optimisable(a) {
			continue
		}
		k, off, ok := offsetOf(a.Ptr)
		if !ok {
			continue
		}
		groups[k] = append(groups[k], offsetMember{a: a, off: off})
	}
	pos := cands.positions()
	for _, ms := range groups {
		sort.SliceStable(ms, func(i, j int) bool {
			if ms[i].off != ms[j].off {
				return ms[i].off < ms[j].off
			}
			return pos[ms[i].a] < pos[ms[j].a]
		})
	}
	return groups
}

func offsetOf(ptr ir.Value) (offsetKey, int64, bool) {
	p := ir.StripPointerCasts(ptr)
	gep, ok := p.(*ir.Instr)
	if !ok || gep.Op != ir.OpGEP {
		return offsetKey{base: p}, 0, true
	}
	off, ok := analysis.ConstGEPOffset(gep)
	if !ok {
		return offsetKey{}, 0, false
	}
	idx := gep.Ops[1 : len(gep.Ops)-1]
	path := make([]string, len(idx))
	for n, v := range idx {
		c, _ := ir.ConstValue(v)
		path[n] = strconv.FormatInt(c, 10)
	}
	return offsetKey{base: ir.StripPointerCasts(gep.Ops[0]), path: strings.Join(path, ",")}, off, true
}

// domOrPostDom reports whether a dominates b, or post-dominates b with the
// address of b unchanged until a runs.
func domOrPostDom(info *analysis.Info, a, b *Access) bool {
	if info.Dominates(a.Instr, b.Instr) {
		return true
	}
	return info.PostDominates(a.Instr, b.Instr) && !redefinedBetween(info, b.Ptr, b.Instr, a.Instr)
}

// NeighborStage removes the check of B when checks of A and C, with
// off(A) < off(B) < off(C) closer than one redzone, both dominate or
// post-dominate B and together span B's bytes: an overflow of B's bytes
// would land in memory A or C already certify, or in a redzone between
// them.
type NeighborStage struct {
	Logger *logrus.Entry
}

func (st *NeighborStage) Name() string { return "neighbor-elimination" }

type witnessPair struct{ a, c *Access }

func (st *NeighborStage) Run(info *analysis.Info, cands CandidateSet, plan *Plan) CandidateSet {
	pos := cands.positions()
	deleted := make(map[*Access]bool)
	for _, ms := range offsetGroups(cands) {
		if len(ms) < 3 {
			continue
		}
		witnesses := make(map[*Access][]witnessPair)
		var order []*Access
		for j, b := range ms {
			for i := 0; i < j; i++ {
				a := ms[i]
				if a.off >= b.off || !domOrPostDom(info, a.a, b.a) {
					continue
				}
				for _, c := range ms[j+1:] {
					if c.off <= b.off || c.off-a.off >= RedzoneWidth || b.end() > c.end() {
						continue
					}
					if !domOrPostDom(info, c.a, b.a) {
						continue
					}
					witnesses[b.a] = append(witnesses[b.a], witnessPair{a.a, c.a})
				}
			}
			if len(witnesses[b.a]) > 0 {
				order = append(order, b.a)
			}
		}
		// Most depended-upon first, then program order.
		sort.SliceStable(order, func(i, j int) bool {
			ni, nj := len(witnesses[order[i]]), len(witnesses[order[j]])
			if ni != nj {
				return ni > nj
			}
			return pos[order[i]] < pos[order[j]]
		})
		pinned := make(map[*Access]bool)
		for _, b := range order {
			if pinned[b] || len(witnesses[b]) == 0 {
				continue
			}
			w := witnesses[b][0]
			deleted[b] = true
			pinned[w.a], pinned[w.c] = true, true
			for k, pairs := range witnesses {
				kept := pairs[:0]
				for _, p := range pairs {
					if p.a != b && p.c != b {
						kept = append(kept, p)
					}
				}
				witnesses[k] = kept
			}
			if st.Logger != nil {
				st.Logger.WithFields(logrus.Fields{
					"access": b.Instr.Ident(),
					"low":    w.a.Instr.Ident(),
					"high":   w.c.Instr.Ident(),
				}).Debug("neighbour check covered")
			}
		}
	}
	for a := range deleted {
		plan.remove(st.Name(), a)
	}
	return cands.Without(deleted)
}

// MergedShadowWidth returns the width in bits of the shadow value covering
// span bytes: the smallest power of two number of shadow bytes needed, with
// one extra shadow byte when the span does not start on a granule boundary.
func MergedShadowWidth(span int64, granularity uint64, aligned bool) int64 {
	g := int64(granularity)
	n := (span + g - 1) / g
	if !aligned {
		n++
	}
	w := int64(1)
	for w < n {
		w <<= 1
	}
	return w * 8
}

// MergeStage replaces the checks of nearby accesses from one base with a
// single wide shadow check.
type MergeStage struct {
	Granularity uint64
	Logger      *logrus.Entry
}

func (st *MergeStage) Name() string { return "neighbor-merging" }

// ordered reports whether x dominates y, y is reached whenever x is (both
// are in one block or y's block post-dominates x's), and the base of x's
// address is not recomputed in between.
func ordered(info *analysis.Info, x, y *Access) bool {
	if !info.Dominates(x.Instr, y.Instr) {
		return false
	}
	if x.Instr.Block != y.Instr.Block && !info.PDT.Dominates(y.Instr.Block, x.Instr.Block) {
		return false
	}
	return !redefinedBetween(info, x.Ptr, x.Instr, y.Instr)
}

func (st *MergeStage) Run(info *analysis.Info, cands CandidateSet, plan *Plan) CandidateSet {
	pos := cands.positions()
	used := make(map[*Access]bool)
	groups := offsetGroups(cands)
	keys := make([]offsetKey, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	// Deterministic order: by the first member in program order.
	sort.Slice(keys, func(i, j int) bool {
		return firstPos(groups[keys[i]], pos) < firstPos(groups[keys[j]], pos)
	})
	for _, k := range keys {
		ms := groups[k]
		if len(ms) < 2 {
			continue
		}
		related := make(map[*Access][]offsetMember)
		for _, x := range ms {
			for _, y := range ms {
				if x.a == y.a {
					continue
				}
				d := x.off - y.off
				if d < 0 {
					d = -d
				}
				if d < MergeWindow && (ordered(info, x.a, y.a) || ordered(info, y.a, x.a)) {
					related[x.a] = append(related[x.a], y)
				}
			}
		}
		rank := append([]offsetMember(nil), ms...)
		sort.SliceStable(rank, func(i, j int) bool {
			ni, nj := len(related[rank[i].a]), len(related[rank[j].a])
			if ni != nj {
				return ni > nj
			}
			return pos[rank[i].a] < pos[rank[j].a]
		})
		for _, x := range rank {
			if used[x.a] || len(related[x.a]) == 0 {
				continue
			}
			cluster := []offsetMember{x}
			for _, y := range related[x.a] {
				if !used[y.a] {
					cluster = append(cluster, y)
				}
			}
			m := st.build(info, cluster)
			if m == nil {
				continue
			}
			for _, a := range m.Members {
				used[a] = true
			}
			plan.Merged = append(plan.Merged, m)
			plan.remove(st.Name(), m.Members...)
			if st.Logger != nil {
				st.Logger.WithFields(logrus.Fields{
					"at":      m.At.Ident(),
					"members": len(m.Members),
					"width":   m.Width,
				}).Debug("merged checks")
			}
		}
	}
	return cands.Without(used)
}

func firstPos(ms []offsetMember, pos map[*Access]int) int {
	min := -1
	for _, m := range ms {
		if p := pos[m.a]; min < 0 || p < min {
			min = p
		}
	}
	return min
}

// build trims a cluster to the members whose span fits the widest shadow
// check and places the check at the member every other member reaches. It
// returns nil when fewer than two members remain or no such point exists.
func (st *MergeStage) build(info *analysis.Info, cluster []offsetMember) *MergedCheck {
	sort.SliceStable(cluster, func(i, j int) bool { return cluster[i].off < cluster[j].off })
	low := cluster[0]
	aligned := st.aligned(low)
	var kept []offsetMember
	end := low.end()
	for _, m := range cluster {
		e := end
		if m.end() > e {
			e = m.end()
		}
		if MergedShadowWidth(e-low.off, st.Granularity, aligned) > MaxMergedShadow*8 {
			continue
		}
		kept = append(kept, m)
		end = e
	}
	if len(kept) < 2 {
		return nil
	}
	var at *Access
	for _, cand := range kept {
		ok := true
		for _, m := range kept {
			if m.a != cand.a && !ordered(info, m.a, cand.a) {
				ok = false
				break
			}
		}
		if ok {
			at = cand.a
			break
		}
	}
	if at == nil {
		return nil
	}
	mc := &MergedCheck{At: at.Instr, Base: low.a, Span: end - low.off}
	mc.Width = MergedShadowWidth(mc.Span, st.Granularity, aligned)
	for _, m := range kept {
		mc.Members = append(mc.Members, m.a)
	}
	return mc
}

// aligned reports whether the lowest member starts on a granule boundary
// of an object with known alignment.
func (st *MergeStage) aligned(low offsetMember) bool {
	obj, _, off, ok := analysis.ObjectSizeOffset(low.a.Ptr)
	if !ok {
		return false
	}
	var align int64
	switch o := obj.(type) {
	case *ir.Instr:
		align = o.Align
	case *ir.Global:
		align = o.Align
		if align == 0 {
			align = o.Elem.Align()
		}
	}
	g := int64(st.Granularity)
	return align >= g && off%g == 0
}
