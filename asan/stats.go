package asan

import (
	"sync"

	"gopkg.in/yaml.v2"
)

// Counters are the instrumentation statistics.
type Counters struct {
	Functions  int `yaml:"functions" json:"functions"`
	Candidates int `yaml:"candidates" json:"candidates"`
	SameTemp   int `yaml:"skippedSameTemp" json:"skippedSameTemp"`

	NumOptimizedAccessesToStackVar  int `yaml:"optimizedAccessesToStackVar" json:"optimizedAccessesToStackVar"`
	NumOptimizedAccessesToGlobalVar int `yaml:"optimizedAccessesToGlobalVar" json:"optimizedAccessesToGlobalVar"`

	Dominance       int `yaml:"dominanceEliminated" json:"dominanceEliminated"`
	Neighbor        int `yaml:"neighborEliminated" json:"neighborEliminated"`
	Merged          int `yaml:"neighborMerged" json:"neighborMerged"`
	MergedChecks    int `yaml:"mergedChecks" json:"mergedChecks"`
	LoopInvariant   int `yaml:"loopInvariant" json:"loopInvariant"`
	LoopMonotonic   int `yaml:"loopMonotonic" json:"loopMonotonic"`
	InstrumentedRd  int `yaml:"instrumentedReads" json:"instrumentedReads"`
	InstrumentedWr  int `yaml:"instrumentedWrites" json:"instrumentedWrites"`
	MemIntrinsics   int `yaml:"memIntrinsics" json:"memIntrinsics"`
	PointerPairs    int `yaml:"pointerPairs" json:"pointerPairs"`
	NoReturnCalls   int `yaml:"noReturnCalls" json:"noReturnCalls"`
	UseCallsFuncs   int `yaml:"callbackFunctions" json:"callbackFunctions"`
	SkippedFuncs    int `yaml:"skippedFunctions" json:"skippedFunctions"`
	TruncatedBlocks int `yaml:"truncatedBlocks" json:"truncatedBlocks"`
}

// Checks returns the number of checks emitted: per-access checks, merged
// checks and relocated loop checks.
func (c Counters) Checks() int {
	return c.InstrumentedRd + c.InstrumentedWr + c.MergedChecks + c.LoopInvariant + c.LoopMonotonic
}

// Stats is a set of counters safe for concurrent use.
type Stats struct {
	mu sync.Mutex
	c  Counters
}

func (s *Stats) update(f func(*Counters)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f(&s.c)
}

func (s *Stats) addPlan(p *Plan) {
	s.update(func(c *Counters) {
		for _, stage := range p.Removed {
			switch stage {
			case "dominance":
				c.Dominance++
			case "neighbor-elimination":
				c.Neighbor++
			case "neighbor-merging":
				c.Merged++
			}
		}
		c.MergedChecks += len(p.Merged)
		for _, lc := range p.Loops {
			if lc.Class == Monotonic {
				c.LoopMonotonic++
			} else {
				c.LoopInvariant++
			}
		}
	})
}

// Snapshot returns a copy of the counters.
func (s *Stats) Snapshot() Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.c
}

// Add accumulates o into s.
func (s *Stats) Add(o Counters) {
	s.update(func(c *Counters) {
		c.Functions += o.Functions
		c.Candidates += o.Candidates
		c.SameTemp += o.SameTemp
		c.NumOptimizedAccessesToStackVar += o.NumOptimizedAccessesToStackVar
		c.NumOptimizedAccessesToGlobalVar += o.NumOptimizedAccessesToGlobalVar
		c.Dominance += o.Dominance
		c.Neighbor += o.Neighbor
		c.Merged += o.Merged
		c.MergedChecks += o.MergedChecks
		c.LoopInvariant += o.LoopInvariant
		c.LoopMonotonic += o.LoopMonotonic
		c.InstrumentedRd += o.InstrumentedRd
		c.InstrumentedWr += o.InstrumentedWr
		c.MemIntrinsics += o.MemIntrinsics
		c.PointerPairs += o.PointerPairs
		c.NoReturnCalls += o.NoReturnCalls
		c.UseCallsFuncs += o.UseCallsFuncs
		c.SkippedFuncs += o.SkippedFuncs
		c.TruncatedBlocks += o.TruncatedBlocks
	})
}

// YAML encodes the counters.
func (s *Stats) YAML() ([]byte, error) {
	return yaml.Marshal(s.Snapshot())
}
