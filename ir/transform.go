package ir

// Remove deletes i from its block.
func Remove(i *Instr) {
	b := i.Block
	if idx := i.Index(); idx >= 0 {
		b.Instrs = append(b.Instrs[:idx], b.Instrs[idx+1:]...)
	}
	i.Block = nil
}

// ReplaceAllUses replaces every use of from in f with to.
func ReplaceAllUses(f *Function, from, to Value) {
	for _, b := range f.Blocks {
		for _, i := range b.Instrs {
			i.ReplaceUsesOfWith(from, to)
		}
	}
}

// ReplaceTerm replaces the terminator of b with t. t must not be inserted
// yet.
func ReplaceTerm(b *Block, t *Instr) *Instr {
	if old := b.Term(); old != nil {
		Remove(old)
	}
	return NewBuilder(b).Insert(t)
}

// SplitBlock moves i and everything after it into a new block placed after
// i's block. The old block branches unconditionally to the new one.
func SplitBlock(i *Instr, name string) *Block {
	head := i.Block
	f := head.Parent
	idx := i.Index()
	tail := f.newBlockAfter(head, name)
	tail.Instrs = append([]*Instr(nil), head.Instrs[idx:]...)
	for _, in := range tail.Instrs {
		in.Block = tail
	}
	head.Instrs = head.Instrs[:idx:idx]
	for _, s := range tail.Succs() {
		for _, phi := range s.Instrs {
			if phi.Op != OpPhi {
				break
			}
			for n, p := range phi.Incoming {
				if p == head {
					phi.Incoming[n] = tail
				}
			}
		}
	}
	NewBuilder(head).Br(tail)
	return tail
}

// SplitBlockAndInsertIfThen splits the block before i and inserts a new
// block executed only when cond holds. It returns the terminator of the new
// block: an unconditional branch back to i, or unreachable.
func SplitBlockAndInsertIfThen(cond Value, before *Instr, unreachable bool, weights []uint32) *Instr {
	head := before.Block
	f := head.Parent
	tail := SplitBlock(before, "")
	then := f.newBlockAfter(head, "")
	var term *Instr
	if unreachable {
		term = NewBuilder(then).Unreachable()
	} else {
		term = NewBuilder(then).Br(tail)
	}
	br := ReplaceTerm(head, &Instr{Op: OpCondBr, Typ: Void, Ops: []Value{cond}, Targets: []*Block{then, tail}})
	br.Weights = weights
	return term
}

// NewBlockAfter inserts a new empty block right after prev.
func NewBlockAfter(prev *Block, name string) *Block {
	return prev.Parent.newBlockAfter(prev, name)
}
