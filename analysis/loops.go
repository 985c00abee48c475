package analysis

import (
	"sort"

	"github.com/twmb/algoimpl/go/graph"

	"github.com/staywilliam/asanopt/ir"
)

// Loop is a natural loop.
type Loop struct {
	Header   *ir.Block
	Blocks   []*ir.Block // In layout order, header included.
	Parent   *Loop
	Children []*Loop
	Depth    int // 1 for outermost loops.

	in    map[*ir.Block]bool
	preds map[*ir.Block][]*ir.Block
}

// Contains reports whether b belongs to l or to a loop nested in l.
func (l *Loop) Contains(b *ir.Block) bool { return l.in[b] }

// ContainsLoop reports whether inner is l or nested in l.
func (l *Loop) ContainsLoop(inner *Loop) bool {
	for ; inner != nil; inner = inner.Parent {
		if inner == l {
			return true
		}
	}
	return false
}

// ExitBlocks returns the blocks outside l that are successors of blocks
// inside l.
func (l *Loop) ExitBlocks() []*ir.Block {
	var exits []*ir.Block
	seen := make(map[*ir.Block]bool)
	for _, b := range l.Blocks {
		for _, s := range b.Succs() {
			if !l.in[s] && !seen[s] {
				seen[s] = true
				exits = append(exits, s)
			}
		}
	}
	return exits
}

// ExitBlock returns the unique exit block of l, or nil.
func (l *Loop) ExitBlock() *ir.Block {
	if exits := l.ExitBlocks(); len(exits) == 1 {
		return exits[0]
	}
	return nil
}

// Latches returns the blocks inside l branching back to the header.
func (l *Loop) Latches() []*ir.Block {
	var latches []*ir.Block
	for _, p := range l.preds[l.Header] {
		if l.in[p] {
			latches = append(latches, p)
		}
	}
	return latches
}

// Preheader returns the unique block outside l that enters the header,
// provided its only successor is the header. Otherwise it returns nil.
func (l *Loop) Preheader() *ir.Block {
	var pre *ir.Block
	for _, p := range l.preds[l.Header] {
		if l.in[p] {
			continue
		}
		if pre != nil {
			return nil
		}
		pre = p
	}
	if pre == nil || len(pre.Succs()) != 1 {
		return nil
	}
	return pre
}

// LoopInfo is the loop nest of a function.
type LoopInfo struct {
	Top         []*Loop
	Irreducible []*ir.Block // Blocks on cycles without a dominating header.

	byBlock map[*ir.Block]*Loop
}

// NewLoopInfo finds the loop nest of f. Loops are discovered as strongly
// connected components of the CFG: a component whose entries all go through
// one block dominating the rest is a natural loop, and the nest inside it is
// found by removing the edges into that header and recursing.
func NewLoopInfo(f *ir.Function, dt *DomTree) *LoopInfo {
	li := &LoopInfo{byBlock: make(map[*ir.Block]*Loop)}
	var reachable []*ir.Block
	for _, b := range f.Blocks {
		if dt.Contains(b) {
			reachable = append(reachable, b)
		}
	}
	layout := make(map[*ir.Block]int, len(f.Blocks))
	for i, b := range f.Blocks {
		layout[b] = i
	}
	li.Top = li.discover(reachable, nil, nil, dt, f.Preds(), layout)
	return li
}

func (li *LoopInfo) discover(blocks []*ir.Block, header *ir.Block, parent *Loop, dt *DomTree, preds map[*ir.Block][]*ir.Block, layout map[*ir.Block]int) []*Loop {
	in := make(map[*ir.Block]bool, len(blocks))
	for _, b := range blocks {
		in[b] = true
	}
	g := graph.New(graph.Directed)
	nodes := make(map[*ir.Block]graph.Node, len(blocks))
	for _, b := range blocks {
		n := g.MakeNode()
		*n.Value = b
		nodes[b] = n
	}
	for _, b := range blocks {
		for _, s := range b.Succs() {
			if in[s] && s != header {
				g.MakeEdge(nodes[b], nodes[s])
			}
		}
	}
	var loops []*Loop
	for _, scc := range g.StronglyConnectedComponents() {
		body := make([]*ir.Block, 0, len(scc))
		for _, n := range scc {
			body = append(body, (*n.Value).(*ir.Block))
		}
		sort.Slice(body, func(i, j int) bool { return layout[body[i]] < layout[body[j]] })
		if len(body) == 1 && !selfLoop(body[0], header) {
			continue
		}
		h := loopHeader(body, dt)
		if h == nil {
			li.Irreducible = append(li.Irreducible, body...)
			continue
		}
		l := &Loop{Header: h, Blocks: body, Parent: parent, Depth: 1, in: make(map[*ir.Block]bool), preds: preds}
		if parent != nil {
			l.Depth = parent.Depth + 1
		}
		for _, b := range body {
			l.in[b] = true
			li.byBlock[b] = l
		}
		l.Children = li.discover(body, h, l, dt, preds, layout)
		loops = append(loops, l)
	}
	sort.Slice(loops, func(i, j int) bool { return layout[loops[i].Header] < layout[loops[j].Header] })
	return loops
}

func selfLoop(b, header *ir.Block) bool {
	if b == header {
		return false
	}
	for _, s := range b.Succs() {
		if s == b {
			return true
		}
	}
	return false
}

// loopHeader returns the block of body dominating all others, or nil if the
// cycle is irreducible.
func loopHeader(body []*ir.Block, dt *DomTree) *ir.Block {
	for _, h := range body {
		ok := true
		for _, b := range body {
			if !dt.Dominates(h, b) {
				ok = false
				break
			}
		}
		if ok {
			return h
		}
	}
	return nil
}

// LoopFor returns the innermost loop containing b, or nil.
func (li *LoopInfo) LoopFor(b *ir.Block) *Loop { return li.byBlock[b] }

// Loops returns every loop, outer loops first.
func (li *LoopInfo) Loops() []*Loop {
	var all []*Loop
	var walk func([]*Loop)
	walk = func(ls []*Loop) {
		for _, l := range ls {
			all = append(all, l)
			walk(l.Children)
		}
	}
	walk(li.Top)
	return all
}
