// Package ir provides a small SSA intermediate representation for memory
// access instrumentation.
package ir // import "github.com/staywilliam/asanopt/ir"

import "strconv"

// Module is a compilation unit.
type Module struct {
	Name    string
	Triple  string
	Globals []*Global
	Funcs   []*Function

	funcs   map[string]*Function
	globals map[string]*Global
}

// NewModule creates an empty module.
func NewModule(name string) *Module {
	return &Module{
		Name:    name,
		funcs:   make(map[string]*Function),
		globals: make(map[string]*Global),
	}
}

// AddFunc adds f to the module.
func (m *Module) AddFunc(f *Function) *Function {
	f.Parent = m
	m.Funcs = append(m.Funcs, f)
	m.funcs[f.Name] = f
	return f
}

// Func returns the function called name, or nil.
func (m *Module) Func(name string) *Function { return m.funcs[name] }

// Declare returns the function called name, adding a declaration if it
// does not exist yet.
func (m *Module) Declare(name string, ret *Type, params ...*Type) *Function {
	if f := m.funcs[name]; f != nil {
		return f
	}
	f := &Function{Name: name, Ret: ret}
	for i, t := range params {
		f.Params = append(f.Params, &Param{Name: "arg" + strconv.Itoa(i), Typ: t, Index: i})
	}
	return m.AddFunc(f)
}

// AddGlobal adds g to the module.
func (m *Module) AddGlobal(g *Global) *Global {
	m.Globals = append(m.Globals, g)
	m.globals[g.Name] = g
	return g
}

// Global returns the global called name, or nil.
func (m *Module) Global(name string) *Global { return m.globals[name] }

// Function is a function definition, or a declaration when it has no
// blocks.
type Function struct {
	Name       string
	Params     []*Param
	Ret        *Type
	Blocks     []*Block
	Parent     *Module
	NoSanitize bool // Not instrumented.
	NoReturn   bool

	nextInstr int
	nextBlock int
}

// NewFunction creates a function with the given signature. Add it to a
// module with Module.AddFunc.
func NewFunction(name string, ret *Type, params ...*Param) *Function {
	for i, p := range params {
		p.Index = i
	}
	return &Function{Name: name, Ret: ret, Params: params}
}

func (f *Function) Type() *Type   { return Ptr }
func (f *Function) Ident() string { return globalIdent(f.Name) }

// IsDecl reports whether f has no body.
func (f *Function) IsDecl() bool { return len(f.Blocks) == 0 }

// Entry returns the entry block.
func (f *Function) Entry() *Block {
	if len(f.Blocks) == 0 {
		return nil
	}
	return f.Blocks[0]
}

// NewBlock appends a new empty block.
func (f *Function) NewBlock(name string) *Block {
	b := &Block{ID: f.nextBlock, Name: name, Parent: f}
	f.nextBlock++
	f.Blocks = append(f.Blocks, b)
	return b
}

// newBlockAfter inserts a new empty block right after prev in layout order.
func (f *Function) newBlockAfter(prev *Block, name string) *Block {
	b := &Block{ID: f.nextBlock, Name: name, Parent: f}
	f.nextBlock++
	for i, blk := range f.Blocks {
		if blk == prev {
			f.Blocks = append(f.Blocks, nil)
			copy(f.Blocks[i+2:], f.Blocks[i+1:])
			f.Blocks[i+1] = b
			return b
		}
	}
	f.Blocks = append(f.Blocks, b)
	return b
}

// Instrs returns all instructions of f in layout order.
func (f *Function) Instrs() []*Instr {
	var instrs []*Instr
	for _, b := range f.Blocks {
		instrs = append(instrs, b.Instrs...)
	}
	return instrs
}

// Preds computes the predecessors of every block.
func (f *Function) Preds() map[*Block][]*Block {
	preds := make(map[*Block][]*Block, len(f.Blocks))
	for _, b := range f.Blocks {
		for _, s := range b.Succs() {
			preds[s] = appendUnique(preds[s], b)
		}
	}
	return preds
}

// Block is a basic block.
type Block struct {
	ID     int
	Name   string
	Instrs []*Instr
	Parent *Function
}

// Label returns the printed name of b.
func (b *Block) Label() string {
	if b.Name != "" {
		return b.Name
	}
	return "bb" + strconv.Itoa(b.ID)
}

// Term returns the terminator of b, or nil when b is not terminated.
func (b *Block) Term() *Instr {
	if len(b.Instrs) == 0 {
		return nil
	}
	if last := b.Instrs[len(b.Instrs)-1]; last.Op.IsTerminator() {
		return last
	}
	return nil
}

// Succs returns the distinct successors of b.
func (b *Block) Succs() []*Block {
	t := b.Term()
	if t == nil {
		return nil
	}
	var succs []*Block
	for _, s := range t.Targets {
		succs = appendUnique(succs, s)
	}
	return succs
}

// FirstNonPhi returns the first instruction that is not a phi.
func (b *Block) FirstNonPhi() *Instr {
	for _, i := range b.Instrs {
		if i.Op != OpPhi {
			return i
		}
	}
	return nil
}

func appendUnique(bs []*Block, b *Block) []*Block {
	for _, x := range bs {
		if x == b {
			return bs
		}
	}
	return append(bs, b)
}
