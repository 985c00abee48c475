package asan

import (
	"github.com/sirupsen/logrus"

	"github.com/staywilliam/asanopt/analysis"
	"github.com/staywilliam/asanopt/ir"
)

// ClassifyLoopAccess returns the induction behaviour of ptr in loop l and,
// for monotonic addresses, the stride in bytes.
func ClassifyLoopAccess(se *analysis.ScalarEvolution, ptr ir.Value, l *analysis.Loop) (LoopClass, int64) {
	s := se.Get(ptr)
	if se.IsLoopInvariant(s, l) {
		return BaseInvariant, 0
	}
	rec, ok := s.(*analysis.SAddRec)
	if !ok || rec.Loop != l || !se.IsLoopInvariant(rec.Start, l) {
		return Unknown, 0
	}
	step, ok := rec.Step.(*analysis.SConst)
	if !ok {
		return Unknown, 0
	}
	return Monotonic, step.V
}

// LoopStage moves the checks of loop invariant addresses to the loop exit
// and samples the checks of addresses advancing by a small stride.
type LoopStage struct {
	Logger *logrus.Entry
}

func (st *LoopStage) Name() string { return "loop" }

func (st *LoopStage) Run(info *analysis.Info, cands CandidateSet, plan *Plan) CandidateSet {
	optimized := make(map[*Access]bool)
	for _, a := range cands {
		if !optimisable(a) {
			continue
		}
		l := info.Loops.LoopFor(a.Instr.Block)
		if l == nil {
			continue
		}
		lc := st.plan(info, a, l)
		if lc == nil {
			continue
		}
		optimized[a] = true
		plan.Loops = append(plan.Loops, lc)
		plan.remove(st.Name(), a)
		if st.Logger != nil {
			st.Logger.WithFields(logrus.Fields{
				"access":  a.Instr.Ident(),
				"loop":    l.Header.Label(),
				"class":   lc.Class,
				"tracked": lc.Tracked,
			}).Debug("loop check")
		}
	}
	return cands.Without(optimized)
}

// plan returns the relocated check of a, or nil when a keeps its own.
func (st *LoopStage) plan(info *analysis.Info, a *Access, l *analysis.Loop) *LoopCheck {
	exit := l.ExitBlock()
	if exit == nil || leavesFunction(l) {
		return nil
	}
	class, step := ClassifyLoopAccess(info.SE, a.Ptr, l)
	dominatesExit := info.DominatesBlock(a.Instr, exit)
	switch class {
	case BaseInvariant:
		return &LoopCheck{
			Class:   BaseInvariant,
			Access:  a,
			Header:  l.Header,
			Exit:    exit,
			Tracked: !dominatesExit,
			Reset:   !dominatesExit && l.Parent != nil,
		}
	case Monotonic:
		abs := step
		if abs < 0 {
			abs = -abs
		}
		pre := l.Preheader()
		if abs == 0 || abs > MaxLoopStride || pre == nil || !dominatesExit {
			return nil
		}
		return &LoopCheck{
			Class:     Monotonic,
			Access:    a,
			Header:    l.Header,
			Exit:      exit,
			Preheader: pre,
			Step:      step,
		}
	}
	return nil
}

// leavesFunction reports whether l contains a block returning from the
// function or ending the program, so control may skip the exit block.
func leavesFunction(l *analysis.Loop) bool {
	for _, b := range l.Blocks {
		if len(b.Succs()) == 0 {
			return true
		}
		for _, i := range b.Instrs {
			if i.Op == ir.OpCall && (i.Has(ir.MetaNoReturn) || (i.Callee != nil && i.Callee.NoReturn)) {
				return true
			}
		}
	}
	return false
}

// tracker allocates a pointer slot in the entry block of f, cleared on
// entry when reset is set.
func (s *Synthesizer) tracker(f *ir.Function, reset bool) *ir.Instr {
	entry := f.Entry()
	b := s.builder(entry.Instrs[0])
	slot := b.Alloca(ir.Ptr, nil)
	slot.Meta |= ir.MetaNoShadow
	if reset {
		b.Store(ir.Null(), slot)
	}
	return slot
}

// InstrumentLoop emits a check relocated by the loop stage.
func (s *Synthesizer) InstrumentLoop(lc *LoopCheck) error {
	a := lc.Access
	f := a.Instr.Func()
	switch {
	case lc.Class == BaseInvariant && !lc.Tracked:
		return s.InstrumentAccessAt(a, a.Ptr, lc.Exit.FirstNonPhi())

	case lc.Class == BaseInvariant:
		slot := s.tracker(f, true)
		s.builder(a.Instr).Store(a.Ptr, slot)
		exitAt := lc.Exit.FirstNonPhi()
		b := s.builder(exitAt)
		seen := b.Load(ir.Ptr, slot)
		cmp := b.ICmp(ir.NE, b.PtrToInt(seen), ir.ConstInt(ir.I64, 0))
		then := ir.SplitBlockAndInsertIfThen(cmp, exitAt, false, nil)
		at := then
		if lc.Reset {
			at = s.builder(then).Store(ir.Null(), slot)
		}
		return s.InstrumentAccessAt(a, seen, at)

	case lc.Class == Monotonic:
		// Cleared in the preheader before every entry into the loop.
		first := s.tracker(f, false)
		s.builder(lc.Preheader.Term()).Store(ir.Null(), first)

		// In the loop: check when the address enters a new sampling window,
		// or on the first iteration.
		b := s.builder(a.Instr)
		addr := b.PtrToInt(a.Ptr)
		step := lc.Step
		if step < 0 {
			step = -step
		}
		inWindow := b.ICmp(ir.ULT, b.URem(addr, ir.ConstInt(ir.I64, LoopStrideWindow)), ir.ConstInt(ir.I64, step))
		cur := b.Load(ir.Ptr, first)
		isFirst := b.ICmp(ir.EQ, b.PtrToInt(cur), ir.ConstInt(ir.I64, 0))
		then := ir.SplitBlockAndInsertIfThen(b.Or(inWindow, isFirst), a.Instr, false, checkWeights)
		record := s.builder(then).Store(s.builder(then).Select(isFirst, a.Ptr, cur), first)
		if err := s.InstrumentAccessAt(a, a.Ptr, record); err != nil {
			return err
		}

		// At the exit: check the last address unless it was the first.
		exitAt := lc.Exit.FirstNonPhi()
		eb := s.builder(exitAt)
		start := eb.Load(ir.Ptr, first)
		differs := eb.ICmp(ir.NE, eb.PtrToInt(a.Ptr), eb.PtrToInt(start))
		exitThen := ir.SplitBlockAndInsertIfThen(differs, exitAt, false, nil)
		return s.InstrumentAccessAt(a, a.Ptr, exitThen)
	}
	return nil
}
