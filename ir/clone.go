package ir

// CloneMap records the correspondence between an original function and its
// clone. Blocks are keyed by their stable IDs, which are preserved by
// cloning.
type CloneMap struct {
	blocks map[int]*Block
	values map[Value]Value
}

func newCloneMap(extern map[Value]Value) *CloneMap {
	cm := &CloneMap{blocks: make(map[int]*Block), values: make(map[Value]Value, len(extern))}
	for k, v := range extern {
		cm.values[k] = v
	}
	return cm
}

// Block returns the clone of the block with the given ID.
func (cm *CloneMap) Block(id int) *Block { return cm.blocks[id] }

// Value returns the clone of v, or v itself when v is not local to the
// cloned function.
func (cm *CloneMap) Value(v Value) Value {
	if nv, ok := cm.values[v]; ok {
		return nv
	}
	return v
}

// Instr returns the clone of i.
func (cm *CloneMap) Instr(i *Instr) *Instr {
	if ni, ok := cm.values[i].(*Instr); ok {
		return ni
	}
	return nil
}

// CloneFunction returns a copy of f named name. Callees and globals are
// shared with f unless remapped through extern.
func CloneFunction(f *Function, name string, extern map[Value]Value) (*Function, *CloneMap) {
	cm := newCloneMap(extern)
	nf := &Function{Name: name, Ret: f.Ret, NoSanitize: f.NoSanitize, NoReturn: f.NoReturn}
	for _, p := range f.Params {
		np := *p
		nf.Params = append(nf.Params, &np)
		cm.values[p] = &np
	}
	cloneBody(f, nf, cm)
	return nf, cm
}

func cloneBody(f, nf *Function, cm *CloneMap) {
	nf.nextInstr, nf.nextBlock = f.nextInstr, f.nextBlock
	for _, b := range f.Blocks {
		nb := &Block{ID: b.ID, Name: b.Name, Parent: nf}
		nf.Blocks = append(nf.Blocks, nb)
		cm.blocks[b.ID] = nb
	}
	for _, b := range f.Blocks {
		nb := cm.blocks[b.ID]
		for _, i := range b.Instrs {
			ni := *i
			ni.Block = nb
			ni.Ops = append([]Value(nil), i.Ops...)
			ni.Weights = append([]uint32(nil), i.Weights...)
			nb.Instrs = append(nb.Instrs, &ni)
			cm.values[i] = &ni
		}
	}
	for _, nb := range nf.Blocks {
		for _, ni := range nb.Instrs {
			for n, op := range ni.Ops {
				ni.Ops[n] = cm.Value(op)
			}
			if ni.Callee != nil {
				if c, ok := cm.Value(ni.Callee).(*Function); ok {
					ni.Callee = c
				}
			}
			ni.Targets = remapBlocks(cm, ni.Targets)
			ni.Incoming = remapBlocks(cm, ni.Incoming)
		}
	}
}

func remapBlocks(cm *CloneMap, bs []*Block) []*Block {
	if bs == nil {
		return nil
	}
	out := make([]*Block, len(bs))
	for i, b := range bs {
		out[i] = cm.blocks[b.ID]
	}
	return out
}

// CloneModule returns a deep copy of m and the clone map of every function
// definition, keyed by function name.
func CloneModule(m *Module) (*Module, map[string]*CloneMap) {
	nm := NewModule(m.Name)
	nm.Triple = m.Triple
	extern := make(map[Value]Value)
	for _, g := range m.Globals {
		ng := *g
		ng.Init = append([]byte(nil), g.Init...)
		nm.AddGlobal(&ng)
		extern[g] = &ng
	}
	// Declare every function first so calls can be remapped.
	clones := make([]*Function, len(m.Funcs))
	for n, f := range m.Funcs {
		nf := &Function{Name: f.Name, Ret: f.Ret, NoSanitize: f.NoSanitize, NoReturn: f.NoReturn}
		for _, p := range f.Params {
			np := *p
			nf.Params = append(nf.Params, &np)
		}
		clones[n] = nm.AddFunc(nf)
		extern[f] = nf
	}
	maps := make(map[string]*CloneMap)
	for n, f := range m.Funcs {
		if f.IsDecl() {
			continue
		}
		cm := newCloneMap(extern)
		for i, p := range f.Params {
			cm.values[p] = clones[n].Params[i]
		}
		cloneBody(f, clones[n], cm)
		maps[f.Name] = cm
	}
	return nm, maps
}
