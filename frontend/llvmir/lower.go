package llvmir

import (
	"fmt"
	"strconv"
	"strings"

	llir "github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/enum"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"
	"github.com/sirupsen/logrus"

	"github.com/staywilliam/asanopt/ir"
)

type lowerer struct {
	conf    *Config
	log     *logrus.Entry
	m       *ir.Module
	funcs   map[*llir.Func]*ir.Function
	globals map[*llir.Global]*ir.Global
	structs map[*types.StructType]*ir.Type
}

func (l *lowerer) module(m *llir.Module) error {
	if l.structs == nil {
		l.structs = make(map[*types.StructType]*ir.Type)
	}
	for _, g := range m.Globals {
		if err := l.global(g); err != nil {
			return fmt.Errorf("@%s: %w", g.Name(), err)
		}
	}
	for _, f := range m.Funcs {
		if err := l.declare(f); err != nil {
			return fmt.Errorf("@%s: %w", f.Name(), err)
		}
	}
	for _, f := range m.Funcs {
		if len(f.Blocks) == 0 {
			continue
		}
		fl := &funcLowerer{
			lowerer: l,
			f:       l.funcs[f],
			vals:    make(map[value.Value]ir.Value),
			blocks:  make(map[*llir.Block]*ir.Block),
			edges:   make(map[*ir.Block]map[*ir.Block][]*ir.Block),
		}
		if err := fl.lower(f); err != nil {
			return fmt.Errorf("@%s: %w", f.Name(), err)
		}
		if err := ir.Verify(fl.f); err != nil {
			return fmt.Errorf("@%s: %w", f.Name(), err)
		}
	}
	return nil
}

// interposable reports whether the definition of a global may be replaced
// at link time, so its size is not known.
func interposable(linkage enum.Linkage) bool {
	switch linkage {
	case enum.LinkageWeak, enum.LinkageLinkOnce, enum.LinkageCommon, enum.LinkageExternWeak, enum.LinkageAvailableExternally:
		return true
	}
	return false
}

func (l *lowerer) global(g *llir.Global) error {
	elem, err := l.typ(g.ContentType)
	if err != nil {
		return err
	}
	name := g.Name()
	ng := &ir.Global{
		Name:     name,
		Elem:     elem,
		External: g.Init == nil || interposable(g.Linkage),
		NoShadow: strings.HasPrefix(name, "llvm.") || strings.HasPrefix(name, "__asan_"),
		Align:    int64(g.Align),
	}
	if g.Init != nil {
		ng.Init = make([]byte, elem.Size())
		l.initBytes(g.Init, elem, ng.Init, 0)
	}
	l.globals[g] = l.m.AddGlobal(ng)
	return nil
}

func (l *lowerer) declare(f *llir.Func) error {
	ret, err := l.typ(f.Sig.RetType)
	if err != nil {
		return err
	}
	params := make([]*ir.Param, len(f.Params))
	for i, p := range f.Params {
		t, err := l.typ(p.Typ)
		if err != nil {
			return err
		}
		name := p.Name()
		if name == "" {
			name = "arg" + strconv.Itoa(i)
		}
		params[i] = ir.NewParam(name, t)
	}
	nf := ir.NewFunction(f.Name(), ret, params...)
	nf.NoReturn = hasAttr(f.FuncAttrs, enum.FuncAttrNoReturn)
	if l.conf != nil && l.conf.RequireSanitizeAttr {
		nf.NoSanitize = !hasAttr(f.FuncAttrs, enum.FuncAttrSanitizeAddress)
	}
	l.funcs[f] = l.m.AddFunc(nf)
	return nil
}

func hasAttr(attrs []llir.FuncAttribute, want enum.FuncAttr) bool {
	for _, a := range attrs {
		switch a := a.(type) {
		case enum.FuncAttr:
			if a == want {
				return true
			}
		case *llir.AttrGroupDef:
			if hasAttr(a.FuncAttrs, want) {
				return true
			}
		}
	}
	return false
}

// funcLowerer lowers one function body.
type funcLowerer struct {
	*lowerer
	f      *ir.Function
	vals   map[value.Value]ir.Value
	blocks map[*llir.Block]*ir.Block
	// edges records, for a block ending in a switch, the blocks of its
	// compare chain branching to each successor.
	edges map[*ir.Block]map[*ir.Block][]*ir.Block
	phis  []pendingPhi
}

type pendingPhi struct {
	phi *ir.Instr
	src *llir.InstPhi
}

func (l *funcLowerer) lower(f *llir.Func) error {
	for i, p := range f.Params {
		l.vals[p] = l.f.Params[i]
	}
	for _, b := range f.Blocks {
		l.blocks[b] = l.f.NewBlock(nameOf(b))
	}
	// Reverse postorder visits definitions before their uses outside
	// phis.
	order := rpo(f.Blocks[0])
	reachable := make(map[*llir.Block]bool, len(order))
	for _, b := range order {
		reachable[b] = true
		if err := l.block(b); err != nil {
			return err
		}
	}
	for _, b := range f.Blocks {
		if !reachable[b] {
			ir.NewBuilder(l.blocks[b]).Unreachable()
		}
	}
	for _, p := range l.phis {
		for _, inc := range p.src.Incs {
			pb, ok := inc.Pred.(*llir.Block)
			if !ok || !reachable[pb] {
				continue
			}
			pred := l.blocks[pb]
			preds := l.edges[pred][p.phi.Block]
			if len(preds) == 0 {
				preds = []*ir.Block{pred}
			}
			for _, from := range preds {
				v, err := l.val(ir.NewBuilderBefore(from.Term()), inc.X)
				if err != nil {
					return err
				}
				p.phi.AddIncoming(v, from)
			}
		}
	}
	return nil
}

func nameOf(v interface{}) string {
	n, ok := v.(interface{ Name() string })
	if !ok {
		return ""
	}
	s := n.Name()
	if _, err := strconv.Atoi(s); err == nil {
		return ""
	}
	return s
}

func succs(t llir.Terminator) []*llir.Block {
	var vs []value.Value
	switch t := t.(type) {
	case *llir.TermBr:
		vs = append(vs, t.Target)
	case *llir.TermCondBr:
		vs = append(vs, t.TargetTrue, t.TargetFalse)
	case *llir.TermSwitch:
		vs = append(vs, t.TargetDefault)
		for _, c := range t.Cases {
			vs = append(vs, c.Target)
		}
	}
	var bs []*llir.Block
	for _, v := range vs {
		if b, ok := v.(*llir.Block); ok {
			bs = append(bs, b)
		}
	}
	return bs
}

func rpo(entry *llir.Block) []*llir.Block {
	var post []*llir.Block
	seen := make(map[*llir.Block]bool)
	var walk func(*llir.Block)
	walk = func(b *llir.Block) {
		seen[b] = true
		for _, s := range succs(b.Term) {
			if !seen[s] {
				walk(s)
			}
		}
		post = append(post, b)
	}
	walk(entry)
	for i, j := 0, len(post)-1; i < j; i, j = i+1, j-1 {
		post[i], post[j] = post[j], post[i]
	}
	return post
}

func (l *funcLowerer) block(b *llir.Block) error {
	bb := ir.NewBuilder(l.blocks[b])
	for _, inst := range b.Insts {
		if err := l.inst(bb, inst); err != nil {
			return fmt.Errorf("%s: %w", inst.LLString(), err)
		}
	}
	if err := l.term(bb, b.Term); err != nil {
		return fmt.Errorf("%s: %w", b.Term.LLString(), err)
	}
	return nil
}

func (l *funcLowerer) target(v value.Value) (*ir.Block, error) {
	if b, ok := v.(*llir.Block); ok {
		if nb, ok := l.blocks[b]; ok {
			return nb, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUndefined, v.Ident())
}

func (l *funcLowerer) def(v value.Value, x ir.Value) {
	if i, ok := x.(*ir.Instr); ok && i.Name == "" {
		i.Name = nameOf(v)
	}
	l.vals[v] = x
}

// operands lowers vs in order.
func (l *funcLowerer) operands(b *ir.Builder, vs ...value.Value) ([]ir.Value, error) {
	out := make([]ir.Value, len(vs))
	for i, v := range vs {
		x, err := l.val(b, v)
		if err != nil {
			return nil, err
		}
		out[i] = x
	}
	return out, nil
}

// val lowers an operand. Constant expressions are materialised as
// instructions at b.
func (l *funcLowerer) val(b *ir.Builder, v value.Value) (ir.Value, error) {
	if x, ok := l.vals[v]; ok {
		return x, nil
	}
	if _, ok := v.Type().(*types.MetadataType); ok {
		return ir.Null(), nil
	}
	switch v := v.(type) {
	case *llir.Global:
		return l.globals[v], nil
	case *llir.Func:
		return l.funcs[v], nil
	case *constant.Int:
		t, err := l.typ(v.Typ)
		if err != nil {
			return nil, err
		}
		return ir.ConstInt(t, intOf(v.X)), nil
	case *constant.Float:
		t, err := l.typ(v.Typ)
		if err != nil {
			return nil, err
		}
		return &ir.Const{Typ: t, Int: floatBits(v, t)}, nil
	case *constant.Null:
		t, err := l.typ(v.Typ)
		if err != nil {
			return nil, err
		}
		return &ir.Const{Typ: t}, nil
	case *constant.ZeroInitializer, *constant.Undef:
		return l.zero(v.Type())
	case *constant.Vector:
		t, err := l.typ(v.Typ)
		if err != nil {
			return nil, err
		}
		lanes := make([]int64, len(v.Elems))
		for i, e := range v.Elems {
			switch e := e.(type) {
			case *constant.Int:
				lanes[i] = intOf(e.X)
			case *constant.Float:
				lanes[i] = floatBits(e, t.Elem)
			}
		}
		return ir.ConstVector(t.Elem, lanes...), nil
	case *constant.ExprGetElementPtr:
		elem, err := l.typ(v.ElemType)
		if err != nil {
			return nil, err
		}
		src, err := l.val(b, v.Src)
		if err != nil {
			return nil, err
		}
		idx := make([]ir.Value, len(v.Indices))
		for i, x := range v.Indices {
			if idx[i], err = l.val(b, x); err != nil {
				return nil, err
			}
		}
		return b.GEP(elem, src, idx...), nil
	case *constant.ExprBitCast:
		return l.castExpr(b, ir.OpBitCast, v.From, v.To)
	case *constant.ExprAddrSpaceCast:
		return l.castExpr(b, ir.OpBitCast, v.From, v.To)
	case *constant.ExprPtrToInt:
		return l.castExpr(b, ir.OpPtrToInt, v.From, v.To)
	case *constant.ExprIntToPtr:
		return l.castExpr(b, ir.OpIntToPtr, v.From, v.To)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedValue, v.Ident())
}

func (l *funcLowerer) castExpr(b *ir.Builder, op ir.Op, from value.Value, to types.Type) (ir.Value, error) {
	x, err := l.val(b, from)
	if err != nil {
		return nil, err
	}
	t, err := l.typ(to)
	if err != nil {
		return nil, err
	}
	return b.Cast(op, x, t), nil
}

func (l *funcLowerer) zero(lt types.Type) (ir.Value, error) {
	t, err := l.typ(lt)
	if err != nil {
		return nil, err
	}
	if t.IsVector() {
		return ir.ConstVector(t.Elem, make([]int64, t.Len)...), nil
	}
	return &ir.Const{Typ: t}, nil
}
