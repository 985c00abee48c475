// Package analysis computes the per-function control flow, alias and
// induction facts consumed by the instrumentation pass.
package analysis // import "github.com/staywilliam/asanopt/analysis"

import "github.com/staywilliam/asanopt/ir"

// Info is the analysis bundle of one function. It is computed once and is
// read-only afterwards: it describes the function as it was when Compute
// ran, so it must be recomputed after the IR changes.
type Info struct {
	Fn    *ir.Function
	DT    *DomTree
	PDT   *DomTree
	Loops *LoopInfo
	SE    *ScalarEvolution
	Preds map[*ir.Block][]*ir.Block

	pos map[*ir.Instr]int
}

// Compute builds the analysis bundle of f.
func Compute(f *ir.Function) *Info {
	info := &Info{
		Fn:    f,
		DT:    NewDomTree(f),
		PDT:   NewPostDomTree(f),
		Preds: f.Preds(),
		pos:   make(map[*ir.Instr]int),
	}
	for _, b := range f.Blocks {
		for n, i := range b.Instrs {
			info.pos[i] = n
		}
	}
	info.Loops = NewLoopInfo(f, info.DT)
	info.SE = NewScalarEvolution(info.Loops)
	return info
}

// Pos returns the position of i in its block.
func (info *Info) Pos(i *ir.Instr) int { return info.pos[i] }

// Dominates reports whether a dominates b: every path from the entry to b
// executes a first. An instruction does not dominate itself.
func (info *Info) Dominates(a, b *ir.Instr) bool {
	if a == b {
		return false
	}
	if a.Block == b.Block {
		return info.pos[a] < info.pos[b]
	}
	return info.DT.Dominates(a.Block, b.Block)
}

// PostDominates reports whether every path from b to the function exit
// executes a.
func (info *Info) PostDominates(a, b *ir.Instr) bool {
	if a == b {
		return false
	}
	if a.Block == b.Block {
		return info.pos[a] > info.pos[b]
	}
	return info.PDT.Dominates(a.Block, b.Block)
}

// DominatesBlock reports whether a executes on every path from the entry
// to the start of blk.
func (info *Info) DominatesBlock(a *ir.Instr, blk *ir.Block) bool {
	return a.Block != blk && info.DT.Dominates(a.Block, blk)
}

// Reachable reports whether b is reachable from the entry block.
func (info *Info) Reachable(b *ir.Block) bool {
	return info.DT.Contains(b)
}

// CallBetween reports whether a call may execute after a and before b on
// some path from a to b. The answer is conservative: blocks reachable from
// a that never lead to b are included.
func (info *Info) CallBetween(a, b *ir.Instr) bool {
	if a.Block == b.Block {
		if info.pos[a] > info.pos[b] {
			a, b = b, a
		}
		for _, i := range a.Block.Instrs[info.pos[a]+1 : info.pos[b]] {
			if i.Op == ir.OpCall {
				return true
			}
		}
		return false
	}
	for _, i := range a.Block.Instrs[info.pos[a]+1:] {
		if i.Op == ir.OpCall {
			return true
		}
	}
	for _, i := range b.Block.Instrs[:info.pos[b]] {
		if i.Op == ir.OpCall {
			return true
		}
	}
	// Blocks strictly between a's block and b's block.
	seen := map[*ir.Block]bool{a.Block: true, b.Block: true}
	work := append([]*ir.Block(nil), a.Block.Succs()...)
	for len(work) > 0 {
		blk := work[len(work)-1]
		work = work[:len(work)-1]
		if seen[blk] {
			continue
		}
		seen[blk] = true
		for _, i := range blk.Instrs {
			if i.Op == ir.OpCall {
				return true
			}
		}
		work = append(work, blk.Succs()...)
	}
	return false
}
