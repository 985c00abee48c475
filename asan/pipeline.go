package asan

import (
	"github.com/sirupsen/logrus"

	"github.com/staywilliam/asanopt/analysis"
	"github.com/staywilliam/asanopt/ir"
	"github.com/staywilliam/asanopt/shadow"
)

// CandidateSet is the ordered list of accesses of one function that still
// need a check. Every stage returns a subsequence of its input.
type CandidateSet []*Access

// Without returns the candidates not in removed, keeping their order.
func (cs CandidateSet) Without(removed map[*Access]bool) CandidateSet {
	if len(removed) == 0 {
		return cs
	}
	out := make(CandidateSet, 0, len(cs))
	for _, a := range cs {
		if !removed[a] {
			out = append(out, a)
		}
	}
	return out
}

// positions maps every candidate to its index.
func (cs CandidateSet) positions() map[*Access]int {
	pos := make(map[*Access]int, len(cs))
	for i, a := range cs {
		pos[a] = i
	}
	return pos
}

// MergedCheck is one wide shadow check replacing the checks of its
// members. It is placed before At, the member reached last.
type MergedCheck struct {
	At      *ir.Instr
	Base    *Access // Member with the lowest address.
	Width   int64   // Shadow bits loaded: 8, 16, 32 or 64.
	Span    int64   // Bytes covered.
	Members []*Access
}

// LoopClass is the induction behaviour of an address inside a loop.
type LoopClass int

// Loop classes.
const (
	Unknown LoopClass = iota
	BaseInvariant
	Monotonic
)

func (c LoopClass) String() string {
	switch c {
	case BaseInvariant:
		return "base-invariant"
	case Monotonic:
		return "monotonic"
	}
	return "unknown"
}

// LoopCheck is a check relocated to the boundary of a loop.
type LoopCheck struct {
	Class     LoopClass
	Access    *Access
	Header    *ir.Block
	Exit      *ir.Block
	Preheader *ir.Block // Monotonic only.
	Step      int64     // Monotonic only.
	Tracked   bool      // BaseInvariant access not reaching the exit on every path.
	Reset     bool      // Tracker is cleared after the exit check.
}

// Plan is the outcome of the pipeline for one function: the checks left
// for per-access synthesis and the checks that replace eliminated ones.
type Plan struct {
	Pending CandidateSet
	Merged  []*MergedCheck
	Loops   []*LoopCheck

	// Removed records which stage took each access out of Pending.
	Removed map[*Access]string
}

func (p *Plan) remove(stage string, as ...*Access) {
	for _, a := range as {
		p.Removed[a] = stage
	}
}

// Stage is one step of the redundancy pipeline.
type Stage interface {
	Name() string
	Run(info *analysis.Info, cands CandidateSet, plan *Plan) CandidateSet
}

// Pipeline runs its stages in order over the candidates of one function.
type Pipeline struct {
	Stages []Stage
	Logger *logrus.Entry
}

// NewPipeline returns the stages enabled by opts: dominance elimination,
// neighbour elimination, neighbour merging and loop optimisation.
func NewPipeline(opts *Options, mapping shadow.Mapping, logger *logrus.Entry) *Pipeline {
	p := &Pipeline{Logger: logger}
	if opts.enabled(opts.OptDominance) {
		p.Stages = append(p.Stages, &DominanceStage{ConservativeCalls: opts.ConservativeCalls, Logger: logger})
	}
	if opts.enabled(opts.OptNeighbor) {
		p.Stages = append(p.Stages, &NeighborStage{Logger: logger})
	}
	if opts.enabled(opts.OptMerge) {
		p.Stages = append(p.Stages, &MergeStage{Granularity: mapping.Granularity(), Logger: logger})
	}
	if opts.enabled(opts.OptLoop) {
		p.Stages = append(p.Stages, &LoopStage{Logger: logger})
	}
	return p
}

// Run executes the stages and returns the resulting plan.
func (p *Pipeline) Run(info *analysis.Info, cands CandidateSet) *Plan {
	plan := &Plan{Removed: make(map[*Access]string)}
	for _, st := range p.Stages {
		before := len(cands)
		cands = st.Run(info, cands, plan)
		if p.Logger != nil {
			p.Logger.WithFields(logrus.Fields{
				"stage":  st.Name(),
				"before": before,
				"after":  len(cands),
			}).Debug("stage done")
		}
	}
	plan.Pending = cands
	return plan
}

// optimisable reports whether a can take part in the redundancy stages.
func optimisable(a *Access) bool {
	return !a.Kind.IsMem() && !a.Kind.IsMasked()
}
