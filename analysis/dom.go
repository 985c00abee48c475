package analysis

import "github.com/staywilliam/asanopt/ir"

// DomTree is a dominator (or post-dominator) tree over the blocks of a
// function. Post-dominator trees are rooted at a virtual exit joining all
// blocks without successors; blocks that cannot reach an exit are not in
// the post-dominator tree.
type DomTree struct {
	post  bool
	index map[*ir.Block]int
	nodes []*ir.Block // nil entry for the virtual exit
	idom  []int
	pre   []int // DFS interval of each node in the tree
	end   []int
}

// NewDomTree computes the dominator tree of f.
func NewDomTree(f *ir.Function) *DomTree {
	return newTree(f, false)
}

// NewPostDomTree computes the post-dominator tree of f.
func NewPostDomTree(f *ir.Function) *DomTree {
	return newTree(f, true)
}

func newTree(f *ir.Function, post bool) *DomTree {
	t := &DomTree{post: post, index: make(map[*ir.Block]int)}
	n := len(f.Blocks)
	for i, b := range f.Blocks {
		t.index[b] = i
		t.nodes = append(t.nodes, b)
	}
	succs := make([][]int, n, n+1)
	preds := make([][]int, n, n+1)
	for i, b := range f.Blocks {
		for _, s := range b.Succs() {
			j := t.index[s]
			succs[i] = append(succs[i], j)
			preds[j] = append(preds[j], i)
		}
	}
	root := 0
	if post {
		// Reverse the graph and root it at a virtual exit.
		root = n
		t.nodes = append(t.nodes, nil)
		succs, preds = preds, succs
		succs = append(succs, nil)
		preds = append(preds, nil)
		for i := 0; i < n; i++ {
			if len(preds[i]) == 0 {
				succs[root] = append(succs[root], i)
				preds[i] = append(preds[i], root)
			}
		}
	}
	if len(t.nodes) == 0 {
		return t
	}
	t.idom = computeIdom(len(t.nodes), root, succs, preds)
	t.number(root)
	return t
}

// computeIdom implements Cooper, Harvey and Kennedy's iterative algorithm.
// Unreachable nodes get idom -1.
func computeIdom(n, root int, succs, preds [][]int) []int {
	order := make([]int, 0, n) // postorder
	rpoNum := make([]int, n)
	visited := make([]bool, n)
	var dfs func(int)
	dfs = func(v int) {
		visited[v] = true
		for _, s := range succs[v] {
			if !visited[s] {
				dfs(s)
			}
		}
		order = append(order, v)
	}
	dfs(root)
	for i, v := range order {
		rpoNum[v] = len(order) - 1 - i
	}
	idom := make([]int, n)
	for i := range idom {
		idom[i] = -1
	}
	idom[root] = root
	intersect := func(a, b int) int {
		for a != b {
			for rpoNum[a] > rpoNum[b] {
				a = idom[a]
			}
			for rpoNum[b] > rpoNum[a] {
				b = idom[b]
			}
		}
		return a
	}
	for changed := true; changed; {
		changed = false
		for i := len(order) - 1; i >= 0; i-- {
			v := order[i]
			if v == root {
				continue
			}
			newIdom := -1
			for _, p := range preds[v] {
				if !visited[p] || idom[p] == -1 {
					continue
				}
				if newIdom == -1 {
					newIdom = p
				} else {
					newIdom = intersect(p, newIdom)
				}
			}
			if newIdom != -1 && idom[v] != newIdom {
				idom[v] = newIdom
				changed = true
			}
		}
	}
	return idom
}

// number assigns DFS intervals so dominance queries are O(1).
func (t *DomTree) number(root int) {
	n := len(t.nodes)
	children := make([][]int, n)
	for v, d := range t.idom {
		if d >= 0 && v != root {
			children[d] = append(children[d], v)
		}
	}
	t.pre = make([]int, n)
	t.end = make([]int, n)
	for i := range t.pre {
		t.pre[i] = -1
	}
	clock := 0
	var walk func(int)
	walk = func(v int) {
		t.pre[v] = clock
		clock++
		for _, c := range children[v] {
			walk(c)
		}
		t.end[v] = clock
	}
	walk(root)
}

// Contains reports whether b is in the tree (reachable from the root).
func (t *DomTree) Contains(b *ir.Block) bool {
	i, ok := t.index[b]
	return ok && t.pre != nil && t.pre[i] >= 0
}

// Dominates reports whether a (post-)dominates b. Every block dominates
// itself. Blocks outside the tree dominate nothing and are dominated by
// nothing.
func (t *DomTree) Dominates(a, b *ir.Block) bool {
	if !t.Contains(a) || !t.Contains(b) {
		return false
	}
	i, j := t.index[a], t.index[b]
	return t.pre[i] <= t.pre[j] && t.end[j] <= t.end[i]
}

// IDom returns the immediate (post-)dominator of b, or nil for the root and
// blocks immediately post-dominated by the virtual exit.
func (t *DomTree) IDom(b *ir.Block) *ir.Block {
	i, ok := t.index[b]
	if !ok || t.idom == nil || t.idom[i] < 0 || t.idom[i] == i {
		return nil
	}
	return t.nodes[t.idom[i]]
}
