package asan

import (
	"github.com/sirupsen/logrus"

	"github.com/staywilliam/asanopt/analysis"
	"github.com/staywilliam/asanopt/ir"
)

// DominanceStage removes a check when another check of the same address,
// at least as wide, dominates it. A second pass does the same with
// post-dominance.
type DominanceStage struct {
	ConservativeCalls bool // Keep checks separated from their witness by a call.
	Logger            *logrus.Entry
}

func (st *DominanceStage) Name() string { return "dominance" }

func (st *DominanceStage) Run(info *analysis.Info, cands CandidateSet, plan *Plan) CandidateSet {
	cands = st.eliminate(info, cands, plan, false)
	return st.eliminate(info, cands, plan, true)
}

// aliasClasses groups the optimisable candidates by must-alias pointers.
func aliasClasses(cands CandidateSet) [][]*Access {
	var classes [][]*Access
	for _, a := range cands {
		if !optimisable(a) {
			continue
		}
		found := false
		for n, class := range classes {
			if analysis.MustAlias(class[0].Ptr, a.Ptr) {
				classes[n] = append(class, a)
				found = true
				break
			}
		}
		if !found {
			classes = append(classes, []*Access{a})
		}
	}
	return classes
}

func (st *DominanceStage) eliminate(info *analysis.Info, cands CandidateSet, plan *Plan, post bool) CandidateSet {
	deleted := make(map[*Access]bool)
	for _, class := range aliasClasses(cands) {
		if len(class) < 2 {
			continue
		}
		for _, b := range class {
			for _, a := range class {
				if a == b || deleted[a] || !st.covers(info, a, b, post) {
					continue
				}
				deleted[b] = true
				if st.Logger != nil {
					st.Logger.WithFields(logrus.Fields{
						"access":  b.Instr.Ident(),
						"witness": a.Instr.Ident(),
						"post":    post,
					}).Debug("redundant check")
				}
				break
			}
		}
	}
	for a := range deleted {
		plan.remove(st.Name(), a)
	}
	return cands.Without(deleted)
}

// covers reports whether the check of a makes the check of b redundant.
func (st *DominanceStage) covers(info *analysis.Info, a, b *Access, post bool) bool {
	if a.TypeSize < b.TypeSize {
		return false
	}
	if post {
		if !info.PostDominates(a.Instr, b.Instr) || redefinedBetween(info, b.Ptr, b.Instr, a.Instr) {
			return false
		}
		return !st.ConservativeCalls || !info.CallBetween(b.Instr, a.Instr)
	}
	if !info.Dominates(a.Instr, b.Instr) {
		return false
	}
	return !st.ConservativeCalls || !info.CallBetween(a.Instr, b.Instr)
}

// redefinedBetween reports whether the base of ptr may be recomputed after
// from executes and before to next executes. Two accesses through the same
// SSA pointer then see different addresses, as when the pointer advances in
// a loop around from that does not contain to. A check that dominates the
// access it covers never needs this test: the base is defined before the
// check and cannot be recomputed without passing the check again.
func redefinedBetween(info *analysis.Info, ptr ir.Value, from, to *ir.Instr) bool {
	base, _ := analysis.Decompose(ptr)
	def, ok := base.(*ir.Instr)
	if !ok || def.Block == nil {
		return false
	}
	// scan reports whether def is met before to in instrs, and whether the
	// walk stops there.
	scan := func(instrs []*ir.Instr) (hit, stop bool) {
		for _, i := range instrs {
			switch i {
			case to:
				return false, true
			case def:
				return true, true
			}
		}
		return false, false
	}
	if hit, stop := scan(from.Block.Instrs[info.Pos(from)+1:]); stop {
		return hit
	}
	seen := make(map[*ir.Block]bool)
	work := append([]*ir.Block(nil), from.Block.Succs()...)
	for len(work) > 0 {
		blk := work[len(work)-1]
		work = work[:len(work)-1]
		if seen[blk] {
			continue
		}
		seen[blk] = true
		hit, stop := scan(blk.Instrs)
		if hit {
			return true
		}
		if !stop {
			work = append(work, blk.Succs()...)
		}
	}
	return false
}
