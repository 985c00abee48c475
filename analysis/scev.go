package analysis

import (
	"fmt"
	"sort"
	"strings"

	"github.com/staywilliam/asanopt/ir"
)

// SCEV is a closed form of an integer or pointer value in terms of loop
// induction. Pointers are treated as integer addresses.
type SCEV interface {
	String() string
	key() string
}

// SConst is an integer constant.
type SConst struct{ V int64 }

// SUnknown is an opaque value.
type SUnknown struct{ V ir.Value }

// SAdd is the sum of its operands.
type SAdd struct{ Ops []SCEV }

// SMul is the product of its operands.
type SMul struct{ Ops []SCEV }

// SAddRec is the recurrence {Start,+,Step}<Loop>: Start on the first
// iteration of Loop, incremented by Step on each following iteration.
type SAddRec struct {
	Start SCEV
	Step  SCEV
	Loop  *Loop
}

func (s *SConst) String() string   { return fmt.Sprint(s.V) }
func (s *SUnknown) String() string { return s.V.Ident() }
func (s *SAdd) String() string     { return "(" + join(s.Ops, " + ") + ")" }
func (s *SMul) String() string     { return "(" + join(s.Ops, " * ") + ")" }
func (s *SAddRec) String() string {
	return fmt.Sprintf("{%s,+,%s}<%s>", s.Start, s.Step, s.Loop.Header.Label())
}

func (s *SConst) key() string   { return "c" + fmt.Sprint(s.V) }
func (s *SUnknown) key() string { return fmt.Sprintf("u%p", s.V) }
func (s *SAdd) key() string     { return "+(" + joinKeys(s.Ops) + ")" }
func (s *SMul) key() string     { return "*(" + joinKeys(s.Ops) + ")" }
func (s *SAddRec) key() string {
	return fmt.Sprintf("r(%s,%s,%p)", s.Start.key(), s.Step.key(), s.Loop)
}

func join(ops []SCEV, sep string) string {
	parts := make([]string, len(ops))
	for i, op := range ops {
		parts[i] = op.String()
	}
	return strings.Join(parts, sep)
}

func joinKeys(ops []SCEV) string {
	parts := make([]string, len(ops))
	for i, op := range ops {
		parts[i] = op.key()
	}
	return strings.Join(parts, ",")
}

// Equal reports whether a and b are the same expression.
func Equal(a, b SCEV) bool { return a.key() == b.key() }

// ScalarEvolution computes SCEVs of values of one function.
type ScalarEvolution struct {
	loops *LoopInfo
	cache map[ir.Value]SCEV
}

// NewScalarEvolution returns an empty SCEV cache over the loop nest.
func NewScalarEvolution(loops *LoopInfo) *ScalarEvolution {
	return &ScalarEvolution{loops: loops, cache: make(map[ir.Value]SCEV)}
}

// Get returns the SCEV of v.
func (se *ScalarEvolution) Get(v ir.Value) SCEV {
	if s, ok := se.cache[v]; ok {
		return s
	}
	s := se.compute(v)
	se.cache[v] = s
	return s
}

func (se *ScalarEvolution) compute(v ir.Value) SCEV {
	if c, ok := v.(*ir.Const); ok && c.Typ.Kind != ir.VectorKind {
		return &SConst{V: c.Int}
	}
	i, ok := v.(*ir.Instr)
	if !ok {
		return &SUnknown{V: v}
	}
	switch i.Op {
	case ir.OpBitCast:
		return se.Get(i.Ops[0])
	case ir.OpPtrToInt, ir.OpIntToPtr, ir.OpZExt, ir.OpSExt, ir.OpTrunc:
		return se.cast(i)
	case ir.OpAdd:
		return Add(se.Get(i.Ops[0]), se.Get(i.Ops[1]))
	case ir.OpSub:
		return Add(se.Get(i.Ops[0]), Mul(&SConst{V: -1}, se.Get(i.Ops[1])))
	case ir.OpMul:
		return Mul(se.Get(i.Ops[0]), se.Get(i.Ops[1]))
	case ir.OpShl:
		if c, ok := ir.ConstValue(i.Ops[1]); ok && c >= 0 && c < 63 {
			return Mul(se.Get(i.Ops[0]), &SConst{V: 1 << uint(c)})
		}
	case ir.OpGEP:
		return se.gep(i)
	case ir.OpPhi:
		return se.phi(i)
	}
	return &SUnknown{V: v}
}

// cast keeps the expression of a conversion's operand only when no value
// changes: the widths agree, or the operand is a constant, which is folded.
// A truncated or extended recurrence may wrap, so it becomes opaque.
func (se *ScalarEvolution) cast(i *ir.Instr) SCEV {
	from, to := width(i.Ops[0].Type()), width(i.Typ)
	s := se.Get(i.Ops[0])
	if from == to {
		return s
	}
	c, ok := s.(*SConst)
	if !ok {
		return &SUnknown{V: i}
	}
	switch i.Op {
	case ir.OpZExt:
		return &SConst{V: zeroExt(c.V, from)}
	case ir.OpSExt:
		return &SConst{V: signExt(c.V, from)}
	}
	return &SConst{V: signExt(c.V, to)}
}

func width(t *ir.Type) int {
	if t.IsPtr() {
		return 64
	}
	return t.Bits
}

func signExt(v int64, bits int) int64 {
	if bits <= 0 || bits >= 64 {
		return v
	}
	s := uint(64 - bits)
	return v << s >> s
}

func zeroExt(v int64, bits int) int64 {
	if bits <= 0 || bits >= 64 {
		return v
	}
	return int64(uint64(v) & (1<<uint(bits) - 1))
}

func (se *ScalarEvolution) gep(i *ir.Instr) SCEV {
	sum := se.Get(i.Ops[0])
	t := i.Elem
	for n, idx := range i.Ops[1:] {
		if n == 0 {
			sum = Add(sum, Mul(se.Get(idx), &SConst{V: t.Size()}))
			continue
		}
		switch t.Kind {
		case ir.StructKind:
			f, ok := ir.ConstValue(idx)
			if !ok || f < 0 || int(f) >= len(t.Fields) {
				return &SUnknown{V: i}
			}
			sum = Add(sum, &SConst{V: t.FieldOffset(int(f))})
			t = t.Fields[f]
		case ir.ArrayKind, ir.VectorKind:
			t = t.Elem
			sum = Add(sum, Mul(se.Get(idx), &SConst{V: t.Size()}))
		default:
			return &SUnknown{V: i}
		}
	}
	return sum
}

// phi recognises header phis of the form phi [start, outside], [phi + step,
// latch] with a loop invariant step.
func (se *ScalarEvolution) phi(i *ir.Instr) SCEV {
	unknown := &SUnknown{V: i}
	l := se.loops.LoopFor(i.Block)
	if l == nil || l.Header != i.Block || len(i.Ops) != 2 {
		return unknown
	}
	var start, next ir.Value
	for n, pred := range i.Incoming {
		if l.Contains(pred) {
			next = i.Ops[n]
		} else {
			start = i.Ops[n]
		}
	}
	if start == nil || next == nil {
		return unknown
	}
	// Evaluate the back edge value with the phi as an opaque symbol, then
	// forget whatever was cached in terms of that symbol.
	before := make(map[ir.Value]bool, len(se.cache))
	for k := range se.cache {
		before[k] = true
	}
	se.cache[i] = unknown
	nextS := se.Get(next)
	for k := range se.cache {
		if !before[k] {
			delete(se.cache, k)
		}
	}
	add, ok := nextS.(*SAdd)
	if !ok {
		return unknown
	}
	var rest []SCEV
	found := false
	for _, op := range add.Ops {
		if !found && Equal(op, unknown) {
			found = true
			continue
		}
		rest = append(rest, op)
	}
	if !found {
		return unknown
	}
	step := Add(rest...)
	if !se.IsLoopInvariant(step, l) {
		return unknown
	}
	return AddRec(se.Get(start), step, l)
}

// IsLoopInvariant reports whether s has the same value on every iteration
// of l.
func (se *ScalarEvolution) IsLoopInvariant(s SCEV, l *Loop) bool {
	switch s := s.(type) {
	case *SConst:
		return true
	case *SUnknown:
		i, ok := s.V.(*ir.Instr)
		if !ok || !l.Contains(i.Block) {
			return true
		}
		switch i.Op {
		case ir.OpPtrToInt, ir.OpIntToPtr, ir.OpZExt, ir.OpSExt, ir.OpTrunc:
			// A conversion inside l of a value invariant in l.
			return se.IsLoopInvariant(se.Get(i.Ops[0]), l)
		}
		return false
	case *SAdd:
		return se.allInvariant(s.Ops, l)
	case *SMul:
		return se.allInvariant(s.Ops, l)
	case *SAddRec:
		if l.ContainsLoop(s.Loop) {
			return false
		}
		return se.IsLoopInvariant(s.Start, l) && se.IsLoopInvariant(s.Step, l)
	}
	return false
}

func (se *ScalarEvolution) allInvariant(ops []SCEV, l *Loop) bool {
	for _, op := range ops {
		if !se.IsLoopInvariant(op, l) {
			return false
		}
	}
	return true
}

// Add returns the folded sum of ops.
func Add(ops ...SCEV) SCEV {
	var flat []SCEV
	var c int64
	for _, op := range ops {
		switch op := op.(type) {
		case *SAdd:
			for _, o := range op.Ops {
				if k, ok := o.(*SConst); ok {
					c += k.V
				} else {
					flat = append(flat, o)
				}
			}
		case *SConst:
			c += op.V
		default:
			flat = append(flat, op)
		}
	}
	// Fold recurrences of the same loop together, and absorb operands that
	// are invariant in that loop into the start value.
	for n, op := range flat {
		rec, ok := op.(*SAddRec)
		if !ok {
			continue
		}
		var others []SCEV
		start, step := rec.Start, rec.Step
		for m, o := range flat {
			if m == n {
				continue
			}
			if r2, ok := o.(*SAddRec); ok && r2.Loop == rec.Loop {
				start, step = Add(start, r2.Start), Add(step, r2.Step)
				continue
			}
			if r2, ok := o.(*SAddRec); ok && rec.Loop.ContainsLoop(r2.Loop) {
				others = append(others, o)
				continue
			}
			start = Add(start, o)
		}
		if c != 0 {
			start = Add(start, &SConst{V: c})
		}
		folded := AddRec(start, step, rec.Loop)
		if len(others) == 0 {
			return folded
		}
		return Add(append(others, folded)...)
	}
	if len(flat) == 0 {
		return &SConst{V: c}
	}
	if c != 0 {
		flat = append(flat, &SConst{V: c})
	}
	if len(flat) == 1 {
		return flat[0]
	}
	sort.Slice(flat, func(i, j int) bool { return flat[i].key() < flat[j].key() })
	return &SAdd{Ops: flat}
}

// Mul returns the folded product of ops.
func Mul(ops ...SCEV) SCEV {
	var flat []SCEV
	var c int64 = 1
	for _, op := range ops {
		switch op := op.(type) {
		case *SMul:
			for _, o := range op.Ops {
				if k, ok := o.(*SConst); ok {
					c *= k.V
				} else {
					flat = append(flat, o)
				}
			}
		case *SConst:
			c *= op.V
		default:
			flat = append(flat, op)
		}
	}
	if c == 0 {
		return &SConst{V: 0}
	}
	if len(flat) == 0 {
		return &SConst{V: c}
	}
	if len(flat) == 1 {
		switch x := flat[0].(type) {
		case *SAddRec:
			k := &SConst{V: c}
			return AddRec(Mul(x.Start, k), Mul(x.Step, k), x.Loop)
		case *SAdd:
			if c != 1 {
				terms := make([]SCEV, len(x.Ops))
				for i, o := range x.Ops {
					terms[i] = Mul(o, &SConst{V: c})
				}
				return Add(terms...)
			}
		}
		if c == 1 {
			return flat[0]
		}
	}
	if c != 1 {
		flat = append(flat, &SConst{V: c})
	}
	sort.Slice(flat, func(i, j int) bool { return flat[i].key() < flat[j].key() })
	return &SMul{Ops: flat}
}

// AddRec returns {start,+,step}<l>, folded to start when step is zero.
func AddRec(start, step SCEV, l *Loop) SCEV {
	if k, ok := step.(*SConst); ok && k.V == 0 {
		return start
	}
	return &SAddRec{Start: start, Step: step, Loop: l}
}
