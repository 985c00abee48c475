package asan

import (
	"fmt"

	"github.com/staywilliam/asanopt/ir"
	"github.com/staywilliam/asanopt/shadow"
)

// Branch weights of a shadow check: the report path is almost never taken.
var checkWeights = []uint32{1, 100000}

// Synthesizer emits address checks into a module.
type Synthesizer struct {
	Mapping  shadow.Mapping
	Opts     *Options
	UseCalls bool // Emit out-of-line checker calls instead of inline checks.

	cb *callbacks
}

// NewSynthesizer returns a synthesizer declaring its runtime entry points
// in m.
func NewSynthesizer(m *ir.Module, mapping shadow.Mapping, opts *Options) *Synthesizer {
	return &Synthesizer{
		Mapping: mapping,
		Opts:    opts,
		cb:      &callbacks{m: m, opts: opts},
	}
}

func (s *Synthesizer) builder(before *ir.Instr) *ir.Builder {
	b := ir.NewBuilderBefore(before)
	b.SetMeta(ir.MetaNoSanitize)
	return b
}

func (s *Synthesizer) exp() []ir.Value {
	if s.Opts.ForceExperiment == 0 {
		return nil
	}
	return []ir.Value{ir.ConstInt(ir.I32, int64(s.Opts.ForceExperiment))}
}

// memToShadow emits the shadow address computation of the integer address
// addr.
func (s *Synthesizer) memToShadow(b *ir.Builder, addr ir.Value) ir.Value {
	sh := b.LShr(addr, ir.ConstInt(ir.I64, int64(s.Mapping.Scale)))
	if s.Mapping.Offset == 0 {
		return sh
	}
	off := ir.ConstInt(ir.I64, int64(s.Mapping.Offset))
	if s.Mapping.OrOffset {
		return b.Or(sh, off)
	}
	return b.Add(sh, off)
}

// InstrumentAccess emits the check of a before its instruction.
func (s *Synthesizer) InstrumentAccess(a *Access) error {
	if a.Ptr == nil {
		return ErrNoAddress
	}
	switch {
	case a.Kind.IsMem():
		s.instrumentMemIntrinsic(a)
		return nil
	case a.Kind.IsMasked():
		return s.instrumentMasked(a)
	}
	return s.doInstrumentAddress(a.Instr, a.Ptr, a.Align, a.TypeSize, a.IsWrite)
}

// InstrumentAccessAt emits the check of a before the instruction at.
func (s *Synthesizer) InstrumentAccessAt(a *Access, ptr ir.Value, at *ir.Instr) error {
	if ptr == nil {
		return ErrNoAddress
	}
	return s.doInstrumentAddress(at, ptr, a.Align, a.TypeSize, a.IsWrite)
}

// doInstrumentAddress checks a 1, 2, 4, 8 or 16 byte access with a single
// check when it is suitably aligned, and any other access byte by byte at
// its ends.
func (s *Synthesizer) doInstrumentAddress(before *ir.Instr, addr ir.Value, align, typeSize int64, isWrite bool) error {
	g := int64(s.Mapping.Granularity())
	switch typeSize {
	case 8, 16, 32, 64, 128:
		if align >= g || align == 0 || align >= typeSize/8 {
			return s.InstrumentAddress(before, addr, typeSize, isWrite, nil)
		}
	}
	return s.InstrumentUnusualSizeOrAlignment(before, addr, typeSize, isWrite)
}

// InstrumentAddress emits, before the instruction before, the check of a
// typeSize-bit access at addr. sizeArg, when set, is the real access length
// reported through the sized reporter.
func (s *Synthesizer) InstrumentAddress(before *ir.Instr, addr ir.Value, typeSize int64, isWrite bool, sizeArg ir.Value) error {
	switch typeSize {
	case 8, 16, 32, 64, 128:
	default:
		return fmt.Errorf("%w: %d bits", ErrBadAccessSize, typeSize)
	}
	b := s.builder(before)
	addrLong := b.PtrToInt(addr)
	if s.UseCalls {
		b.Call(s.cb.check(isWrite, typeSize/8), append([]ir.Value{addrLong}, s.exp()...)...)
		return nil
	}
	shadowBits := typeSize >> uint(s.Mapping.Scale)
	if shadowBits < 8 {
		shadowBits = 8
	}
	shadowTy := ir.IntType(int(shadowBits))
	shadowVal := b.Load(shadowTy, b.IntToPtr(s.memToShadow(b, addrLong)))
	cmp := b.ICmp(ir.NE, shadowVal, ir.ConstInt(shadowTy, 0))

	g := int64(s.Mapping.Granularity())
	var crashTerm *ir.Instr
	if s.Opts.AlwaysSlowPath || typeSize < 8*g {
		checkTerm := ir.SplitBlockAndInsertIfThen(cmp, before, false, checkWeights)
		next := checkTerm.Targets[0]
		sb := s.builder(checkTerm)
		cmp2 := s.slowPathCmp(sb, addrLong, shadowVal, typeSize)
		if s.Opts.Recover {
			crashTerm = ir.SplitBlockAndInsertIfThen(cmp2, checkTerm, false, nil)
		} else {
			crash := ir.NewBlockAfter(checkTerm.Block, "")
			cb := ir.NewBuilder(crash)
			cb.SetMeta(ir.MetaNoSanitize)
			crashTerm = cb.Unreachable()
			ir.ReplaceTerm(checkTerm.Block, &ir.Instr{
				Op:      ir.OpCondBr,
				Typ:     ir.Void,
				Ops:     []ir.Value{cmp2},
				Targets: []*ir.Block{crash, next},
				Meta:    ir.MetaNoSanitize,
			})
		}
	} else {
		crashTerm = ir.SplitBlockAndInsertIfThen(cmp, before, !s.Opts.Recover, checkWeights)
	}
	s.crashCode(crashTerm, addrLong, isWrite, typeSize, sizeArg)
	return nil
}

// slowPathCmp emits (addr & (granularity-1)) + size - 1 >= shadow.
func (s *Synthesizer) slowPathCmp(b *ir.Builder, addr, shadowVal ir.Value, typeSize int64) ir.Value {
	g := int64(s.Mapping.Granularity())
	last := ir.Value(b.And(addr, ir.ConstInt(ir.I64, g-1)))
	if typeSize/8 > 1 {
		last = b.Add(last, ir.ConstInt(ir.I64, typeSize/8-1))
	}
	last = b.IntCast(last, shadowVal.Type(), false)
	return b.ICmp(ir.SGE, last, shadowVal)
}

// crashCode emits the report call before term.
func (s *Synthesizer) crashCode(term *ir.Instr, addr ir.Value, isWrite bool, typeSize int64, sizeArg ir.Value) *ir.Instr {
	b := s.builder(term)
	args := []ir.Value{addr}
	size := typeSize / 8
	if sizeArg != nil {
		args = append(args, sizeArg)
		size = 0
	}
	args = append(args, s.exp()...)
	call := b.Call(s.cb.report(isWrite, size), args...)
	if !s.Opts.Recover {
		call.Meta |= ir.MetaNoReturn
	}
	return call
}

// InstrumentUnusualSizeOrAlignment checks the first and the last byte of
// the access, reporting its real length.
func (s *Synthesizer) InstrumentUnusualSizeOrAlignment(before *ir.Instr, addr ir.Value, typeSize int64, isWrite bool) error {
	if typeSize <= 0 || typeSize%8 != 0 {
		return fmt.Errorf("%w: %d bits", ErrBadAccessSize, typeSize)
	}
	b := s.builder(before)
	size := ir.ConstInt(ir.I64, typeSize/8)
	addrLong := b.PtrToInt(addr)
	if s.UseCalls {
		b.Call(s.cb.check(isWrite, 0), append([]ir.Value{addrLong, size}, s.exp()...)...)
		return nil
	}
	lastByte := b.IntToPtr(b.Add(addrLong, ir.ConstInt(ir.I64, typeSize/8-1)))
	if err := s.InstrumentAddress(before, addr, 8, isWrite, size); err != nil {
		return err
	}
	return s.InstrumentAddress(before, lastByte, 8, isWrite, size)
}

// instrumentMasked checks every lane that may be active. Lanes with a
// variable predicate are checked only when the predicate holds.
func (s *Synthesizer) instrumentMasked(a *Access) error {
	elemBits := a.Vector.Elem.StoreSize() * 8
	for _, lane := range a.Lanes() {
		before := a.Instr
		if lane.Mask != nil {
			b := s.builder(a.Instr)
			bit := b.ExtractElement(lane.Mask, ir.ConstInt(ir.I64, int64(lane.Index)))
			before = ir.SplitBlockAndInsertIfThen(bit, a.Instr, false, nil)
		}
		b := s.builder(before)
		addr := b.GEP(a.Vector, a.Ptr, ir.ConstInt(ir.I64, 0), ir.ConstInt(ir.I64, int64(lane.Index)))
		if err := s.doInstrumentAddress(before, addr, a.Align, elemBits, a.IsWrite); err != nil {
			return err
		}
	}
	return nil
}

// instrumentMemIntrinsic replaces a block memory intrinsic with a call to
// its checking runtime wrapper.
func (s *Synthesizer) instrumentMemIntrinsic(a *Access) {
	b := s.builder(a.Instr)
	fn := s.cb.memIntrinsic(a.Kind)
	length := b.IntCast(a.Len, ir.I64, false)
	src := a.Src
	if a.Kind == MemSet {
		src = b.IntCast(src, ir.I32, false)
	}
	b.Call(fn, a.Ptr, src, length)
	ir.Remove(a.Instr)
}

// InstrumentMerged emits one wide shadow check for a cluster of accesses.
// When the wide shadow value is non-zero, each member is checked precisely.
func (s *Synthesizer) InstrumentMerged(m *MergedCheck) error {
	if len(m.Members) == 0 || m.Base == nil {
		return ErrMissingMember
	}
	b := s.builder(m.At)
	addr := b.PtrToInt(m.Base.Ptr)
	shadowTy := ir.IntType(int(m.Width))
	shadowVal := b.Load(shadowTy, b.IntToPtr(s.memToShadow(b, addr)))
	cmp := b.ICmp(ir.NE, shadowVal, ir.ConstInt(shadowTy, 0))
	then := ir.SplitBlockAndInsertIfThen(cmp, m.At, false, checkWeights)
	for _, a := range m.Members {
		if err := s.doInstrumentAddress(then, a.Ptr, a.Align, a.TypeSize, a.IsWrite); err != nil {
			return err
		}
	}
	return nil
}

// InstrumentPointerPair emits the runtime check of a pointer comparison or
// subtraction.
func (s *Synthesizer) InstrumentPointerPair(i *ir.Instr) {
	b := s.builder(i)
	x, y := b.PtrToInt(i.Ops[0]), b.PtrToInt(i.Ops[1])
	b.Call(s.cb.pointerPair(i.Op == ir.OpICmp), x, y)
}

// InstrumentNoReturn emits the stack unpoisoning call before a call that
// does not return.
func (s *Synthesizer) InstrumentNoReturn(call *ir.Instr) {
	s.builder(call).Call(s.cb.handleNoReturn())
}
