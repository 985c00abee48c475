package asan

import "github.com/staywilliam/asanopt/shadow"

// Options configures the instrumentation pass. Field tags name the
// configuration keys.
type Options struct {
	Triple        string `mapstructure:"triple"`
	Kernel        bool   `mapstructure:"kernel"`
	Recover       bool   `mapstructure:"recover"`
	MappingScale  int    `mapstructure:"mapping-scale"`  // < 0 keeps the target default
	MappingOffset int64  `mapstructure:"mapping-offset"` // < 0 keeps the target default

	InstrumentReads   bool `mapstructure:"instrument-reads"`
	InstrumentWrites  bool `mapstructure:"instrument-writes"`
	InstrumentAtomics bool `mapstructure:"instrument-atomics"`
	AlwaysSlowPath    bool `mapstructure:"always-slow-path"`

	// CallsThreshold is the number of checks in a function above which
	// out-of-line callbacks are used. -1 means never.
	CallsThreshold  int    `mapstructure:"calls-threshold"`
	CallbackPrefix  string `mapstructure:"callback-prefix"`
	MaxInsnsPerBB   int    `mapstructure:"max-ins-per-bb"`
	ForceExperiment uint32 `mapstructure:"force-experiment"`

	DetectInvalidPointerPairs bool `mapstructure:"detect-invalid-pointer-pair"`

	Opt               bool `mapstructure:"opt"` // Master switch of every optimisation below.
	OptSameTemp       bool `mapstructure:"opt-same-temp"`
	OptGlobals        bool `mapstructure:"opt-globals"`
	OptStack          bool `mapstructure:"opt-stack"`
	OptDominance      bool `mapstructure:"opt-dominance"`
	OptNeighbor       bool `mapstructure:"opt-neighbor"`
	OptMerge          bool `mapstructure:"opt-merge"`
	OptLoop           bool `mapstructure:"opt-loop"`
	ConservativeCalls bool `mapstructure:"conservative-calls"`
}

// Tuning constants of the redundancy pipeline.
const (
	RedzoneWidth     = 16 // Neighbour elimination span, in bytes.
	MergeWindow      = 64 // Neighbour merging distance, in bytes.
	LoopStrideWindow = 32 // Monotonic loop check sampling window, in bytes.
	MaxLoopStride    = 8  // Largest stride handled by loop optimisation.
	MaxMergedShadow  = 8  // Widest merged check, in shadow bytes.
)

// DefaultOptions returns the default configuration: x86_64 Linux userspace,
// fatal reports, every optimisation enabled.
func DefaultOptions() *Options {
	return &Options{
		Triple:            "x86_64-unknown-linux-gnu",
		MappingScale:      -1,
		MappingOffset:     -1,
		InstrumentReads:   true,
		InstrumentWrites:  true,
		InstrumentAtomics: true,
		CallsThreshold:    7000,
		CallbackPrefix:    "__asan_",
		MaxInsnsPerBB:     10000,
		Opt:               true,
		OptSameTemp:       true,
		OptGlobals:        true,
		OptStack:          true,
		OptDominance:      true,
		OptNeighbor:       true,
		OptMerge:          true,
		OptLoop:           true,
	}
}

// Naive returns a copy of o with every optimisation disabled.
func (o *Options) Naive() *Options {
	n := *o
	n.Opt = false
	return &n
}

// Mapping returns the shadow mapping selected by the options.
func (o *Options) Mapping() (shadow.Mapping, error) {
	t, err := shadow.ParseTriple(o.Triple)
	if err != nil {
		return shadow.Mapping{}, err
	}
	t.Kernel = o.Kernel
	t.ScaleOverride = o.MappingScale
	t.OffsetOverride = o.MappingOffset
	return shadow.ForTarget(t), nil
}

func (o *Options) enabled(stage bool) bool { return o.Opt && stage }
