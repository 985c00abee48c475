package ir

import "fmt"

// Verify checks the well-formedness of f: every block ends in exactly one
// terminator, phis lead their block and agree with the predecessors, branch
// targets belong to f, and every instruction operand is defined in f at a
// point dominating its use.
func Verify(f *Function) error {
	owned := make(map[*Block]bool, len(f.Blocks))
	for _, b := range f.Blocks {
		owned[b] = true
	}
	preds := f.Preds()
	for _, b := range f.Blocks {
		if b.Term() == nil {
			return fmt.Errorf("%w: block %s in %s", ErrNoTerminator, b.Label(), f.Name)
		}
		seenNonPhi := false
		for n, i := range b.Instrs {
			if i.Block != b {
				return fmt.Errorf("%w: %s in %s", ErrBadParent, i, b.Label())
			}
			if i.Op.IsTerminator() && n != len(b.Instrs)-1 {
				return fmt.Errorf("%w: %s in %s", ErrTerminatorInside, i, b.Label())
			}
			if i.Op == OpPhi {
				if seenNonPhi {
					return fmt.Errorf("%w: %s in %s", ErrPhiNotAtTop, i, b.Label())
				}
				if len(i.Incoming) != len(preds[b]) {
					return fmt.Errorf("%w: %s has %d edges, %s has %d predecessors",
						ErrPhiMismatch, i, len(i.Incoming), b.Label(), len(preds[b]))
				}
			} else {
				seenNonPhi = true
			}
			for _, t := range i.Targets {
				if !owned[t] {
					return fmt.Errorf("%w: %s", ErrForeignBlock, i)
				}
			}
		}
	}
	return verifyDominance(f)
}

// verifyDominance checks that each instruction used as an operand dominates
// the use. A phi operand must dominate the end of its incoming block. Uses
// in blocks unreachable from the entry are not checked.
func verifyDominance(f *Function) error {
	if len(f.Blocks) == 0 {
		return nil
	}
	entry := f.Blocks[0]
	pos := make(map[*Instr]int)
	for _, b := range f.Blocks {
		for n, i := range b.Instrs {
			pos[i] = n
		}
	}
	reach := reachableAvoiding(entry, nil)
	avoiding := make(map[*Block]map[*Block]bool)
	dominates := func(d, u *Block) bool {
		if d == u || d == entry {
			return true
		}
		if !reach[d] {
			return false
		}
		r, ok := avoiding[d]
		if !ok {
			r = reachableAvoiding(entry, d)
			avoiding[d] = r
		}
		return !r[u]
	}
	for _, b := range f.Blocks {
		if !reach[b] {
			continue
		}
		for _, i := range b.Instrs {
			for n, op := range i.Ops {
				def, ok := op.(*Instr)
				if !ok {
					continue
				}
				if _, ok := pos[def]; !ok || def.Block.Parent != f {
					return fmt.Errorf("%w: %s uses %s", ErrUndefinedValue, i, def.Ident())
				}
				if i.Op == OpPhi {
					if n < len(i.Incoming) && reach[i.Incoming[n]] && !dominates(def.Block, i.Incoming[n]) {
						return fmt.Errorf("%w: %s from %s", ErrNotDominated, i, i.Incoming[n].Label())
					}
					continue
				}
				if (def.Block == b && pos[def] >= pos[i]) || (def.Block != b && !dominates(def.Block, b)) {
					return fmt.Errorf("%w: %s uses %s in %s", ErrNotDominated, i, def.Ident(), b.Label())
				}
			}
		}
	}
	return nil
}

// reachableAvoiding returns the blocks reachable from entry on paths that
// do not pass through avoid.
func reachableAvoiding(entry, avoid *Block) map[*Block]bool {
	seen := make(map[*Block]bool)
	if entry == avoid {
		return seen
	}
	work := []*Block{entry}
	seen[entry] = true
	for len(work) > 0 {
		b := work[len(work)-1]
		work = work[:len(work)-1]
		for _, s := range b.Succs() {
			if s != avoid && !seen[s] {
				seen[s] = true
				work = append(work, s)
			}
		}
	}
	return seen
}
