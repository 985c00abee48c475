// Package asan inserts address checks in front of memory accesses and
// removes the checks it can prove redundant.
//
// A function is processed in three steps. Its interesting accesses are
// collected and the ones statically in bounds are dropped. The redundancy
// pipeline then turns the remaining candidates into a Plan: checks left for
// synthesis, merged wide checks and checks relocated to loop exits. Finally
// the Synthesizer emits the plan into the function.
package asan // import "github.com/staywilliam/asanopt/asan"

import (
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/staywilliam/asanopt/analysis"
	"github.com/staywilliam/asanopt/ir"
	"github.com/staywilliam/asanopt/shadow"
)

// Pass instruments the functions of a module.
type Pass struct {
	Opts    *Options
	Mapping shadow.Mapping
	Stats   *Stats
	Logger  *logrus.Entry
	Plans   map[string]*Plan // Plan of every instrumented function, by name.
}

// NewPass returns a pass configured by opts. A nil logger logs to the
// standard logrus logger.
func NewPass(opts *Options, logger *logrus.Entry) (*Pass, error) {
	mapping, err := opts.Mapping()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Pass{
		Opts:    opts,
		Mapping: mapping,
		Stats:   new(Stats),
		Logger:  logger.WithField("pass", "asan"),
		Plans:   make(map[string]*Plan),
	}, nil
}

// InstrumentModule instruments every function defined in m.
func (p *Pass) InstrumentModule(m *ir.Module) error {
	p.Logger.WithField("mapping", p.Mapping.String()).Debug("instrumenting module ", m.Name)
	funcs := append([]*ir.Function(nil), m.Funcs...)
	for _, f := range funcs {
		if err := p.InstrumentFunction(f); err != nil {
			if errors.Is(err, ErrNotInstrumentable) {
				continue
			}
			return fmt.Errorf("%s: %w", f.Name, err)
		}
	}
	return nil
}

// scan is what one walk over a function collects.
type scan struct {
	cands    CandidateSet
	mem      []*Access
	pairs    []*ir.Instr
	noReturn []*ir.Instr
}

// Skip reports whether f is left alone.
func (p *Pass) Skip(f *ir.Function) bool {
	return f.IsDecl() || f.NoSanitize || strings.HasPrefix(f.Name, "__asan_")
}

// Scan collects the accesses of f needing a check, the pointer pairs to
// check, and the calls that do not return.
func (p *Pass) Scan(f *ir.Function) (CandidateSet, []*Access) {
	sc := p.scan(f)
	return sc.cands, sc.mem
}

func (p *Pass) scan(f *ir.Function) *scan {
	sc := new(scan)
	sameTemp := p.Opts.enabled(p.Opts.OptSameTemp)
	for _, b := range f.Blocks {
		temps := make(map[ir.Value]int64)
		n := 0
		for _, i := range b.Instrs {
			if a := Classify(i, p.Opts); a != nil {
				switch {
				case a.Kind.IsMem():
					sc.mem = append(sc.mem, a)
				case sameTemp && temps[a.Ptr] >= a.TypeSize:
					// Same address, no wider, no call since.
					p.Stats.update(func(c *Counters) { c.SameTemp++ })
					continue
				default:
					if !a.Kind.IsMasked() {
						temps[a.Ptr] = a.TypeSize
					}
					sc.cands = append(sc.cands, a)
				}
				n++
				if p.Opts.MaxInsnsPerBB > 0 && n >= p.Opts.MaxInsnsPerBB {
					p.Stats.update(func(c *Counters) { c.TruncatedBlocks++ })
					break
				}
				continue
			}
			if p.Opts.DetectInvalidPointerPairs && isPointerPair(i) {
				sc.pairs = append(sc.pairs, i)
				continue
			}
			if i.Op == ir.OpCall {
				temps = make(map[ir.Value]int64)
				if i.Has(ir.MetaNoReturn) || (i.Callee != nil && i.Callee.NoReturn) {
					sc.noReturn = append(sc.noReturn, i)
				}
			}
		}
	}
	return sc
}

// RemoveSafe drops the candidates proven in bounds of a stack or global
// object.
func (p *Pass) RemoveSafe(info *analysis.Info, cands CandidateSet) CandidateSet {
	if !p.Opts.Opt {
		return cands
	}
	out := make(CandidateSet, 0, len(cands))
	for _, a := range cands {
		obj, _ := analysis.Decompose(a.Ptr)
		_, global := obj.(*ir.Global)
		stack := analysis.IsStackObject(obj)
		if (global && p.Opts.OptGlobals) || (stack && p.Opts.OptStack) {
			if IsSafeAccess(a) || IsSafeAccessBoost(info, a) {
				p.Stats.update(func(c *Counters) {
					if global {
						c.NumOptimizedAccessesToGlobalVar++
					} else {
						c.NumOptimizedAccessesToStackVar++
					}
				})
				continue
			}
		}
		out = append(out, a)
	}
	return out
}

// InstrumentFunction instruments f. It returns ErrNotInstrumentable for
// declarations and functions opted out of checking.
func (p *Pass) InstrumentFunction(f *ir.Function) error {
	if p.Skip(f) {
		p.Stats.update(func(c *Counters) { c.SkippedFuncs++ })
		return ErrNotInstrumentable
	}
	log := p.Logger.WithField("func", f.Name)
	sc := p.scan(f)
	info := analysis.Compute(f)
	cands := p.RemoveSafe(info, sc.cands)
	plan := NewPipeline(p.Opts, p.Mapping, log).Run(info, cands)
	p.Plans[f.Name] = plan

	synth := NewSynthesizer(f.Parent, p.Mapping, p.Opts)
	n := len(plan.Pending) + len(sc.mem)
	synth.UseCalls = p.Opts.Kernel || (p.Opts.CallsThreshold >= 0 && n > p.Opts.CallsThreshold)

	for _, lc := range plan.Loops {
		if err := synth.InstrumentLoop(lc); err != nil {
			return err
		}
	}
	for _, m := range plan.Merged {
		if err := synth.InstrumentMerged(m); err != nil {
			return err
		}
	}
	var reads, writes int
	for _, a := range plan.Pending {
		if err := synth.InstrumentAccess(a); err != nil {
			return err
		}
		if a.IsWrite {
			writes++
		} else {
			reads++
		}
	}
	for _, a := range sc.mem {
		if err := synth.InstrumentAccess(a); err != nil {
			return err
		}
	}
	for _, i := range sc.pairs {
		synth.InstrumentPointerPair(i)
	}
	for _, call := range sc.noReturn {
		synth.InstrumentNoReturn(call)
	}

	p.Stats.addPlan(plan)
	p.Stats.update(func(c *Counters) {
		c.Functions++
		c.Candidates += len(sc.cands)
		c.InstrumentedRd += reads
		c.InstrumentedWr += writes
		c.MemIntrinsics += len(sc.mem)
		c.PointerPairs += len(sc.pairs)
		c.NoReturnCalls += len(sc.noReturn)
		if synth.UseCalls {
			c.UseCallsFuncs++
		}
	})
	log.WithFields(logrus.Fields{
		"candidates": len(sc.cands),
		"pending":    len(plan.Pending),
		"merged":     len(plan.Merged),
		"loop":       len(plan.Loops),
		"calls":      synth.UseCalls,
	}).Info("instrumented")
	return nil
}
