// Package interp executes ir modules against the asanrt shadow memory
// runtime.
package interp // import "github.com/staywilliam/asanopt/interp"

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/staywilliam/asanopt/asanrt"
	"github.com/staywilliam/asanopt/ir"
)

// Defaults of the execution limits.
const (
	DefaultMaxSteps = 1000000
	DefaultMaxDepth = 512
)

// External is a host implementation of a declared function.
type External func(in *Interp, args []uint64) (uint64, error)

// Interp runs the functions of one module.
type Interp struct {
	Module    *ir.Module
	RT        *asanrt.Runtime
	Logger    *logrus.Entry
	Externals map[string]External
	MaxSteps  int
	MaxDepth  int

	globals map[*ir.Global]uint64
	funcs   map[*ir.Function]uint64
	steps   int
	depth   int
}

// New prepares m for execution: its globals are allocated in rt.
func New(m *ir.Module, rt *asanrt.Runtime, logger *logrus.Entry) *Interp {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	in := &Interp{
		Module:    m,
		RT:        rt,
		Logger:    logger.WithField("interp", m.Name),
		Externals: make(map[string]External),
		MaxSteps:  DefaultMaxSteps,
		MaxDepth:  DefaultMaxDepth,
		globals:   make(map[*ir.Global]uint64),
		funcs:     make(map[*ir.Function]uint64),
	}
	for _, g := range m.Globals {
		in.globals[g] = rt.DefineGlobal(g.Name, uint64(g.Elem.Size()), g.Init)
	}
	for n, f := range m.Funcs {
		in.funcs[f] = 0x400000 + uint64(n)*16
	}
	in.Externals["exit"] = func(_ *Interp, args []uint64) (uint64, error) {
		code := 0
		if len(args) > 0 {
			code = int(int32(args[0]))
		}
		return 0, &ExitError{Code: code}
	}
	in.Externals["abort"] = func(*Interp, []uint64) (uint64, error) {
		return 0, &ExitError{Code: 134}
	}
	return in
}

// GlobalAddr returns the address of the global called name.
func (in *Interp) GlobalAddr(name string) (uint64, bool) {
	g := in.Module.Global(name)
	if g == nil {
		return 0, false
	}
	addr, ok := in.globals[g]
	return addr, ok
}

// Run calls the function called name with scalar arguments.
func (in *Interp) Run(name string, args ...uint64) (uint64, error) {
	f := in.Module.Func(name)
	if f == nil {
		return 0, fmt.Errorf("%w: %s", ErrUnknownFunction, name)
	}
	vals := make([]Value, len(args))
	for i, a := range args {
		vals[i] = scalar(a)
	}
	in.steps = 0
	v, err := in.call(f, nil, vals)
	return v.X, err
}

// call runs f. site is the calling instruction, nil for calls from the
// host.
func (in *Interp) call(f *ir.Function, site *ir.Instr, args []Value) (Value, error) {
	if f.IsDecl() {
		return in.callDecl(f, site, args)
	}
	if len(args) != len(f.Params) {
		return Value{}, fmt.Errorf("%w: %s wants %d, got %d", ErrBadArgs, f.Name, len(f.Params), len(args))
	}
	if in.depth >= in.MaxDepth {
		return Value{}, ErrStackOverflow
	}
	in.depth++
	in.RT.PushFrame()
	defer func() {
		in.depth--
		in.RT.PopFrame()
	}()
	fr := &frame{in: in, env: make(map[ir.Value]Value)}
	for i, p := range f.Params {
		fr.env[p] = args[i]
	}
	return fr.run(f)
}

// callDecl runs intrinsics, runtime entry points and host functions.
func (in *Interp) callDecl(f *ir.Function, site *ir.Instr, args []Value) (Value, error) {
	name := f.Name
	switch {
	case strings.HasPrefix(name, "llvm.masked.load."):
		return in.maskedLoad(f.Ret, args)
	case strings.HasPrefix(name, "llvm.masked.store."):
		return Value{}, in.maskedStore(site, args)
	case strings.HasPrefix(name, "llvm.memcpy."), strings.HasPrefix(name, "llvm.memmove."):
		in.RT.Mem.Move(args[0].X, args[1].X, args[2].X)
		return Value{}, nil
	case strings.HasPrefix(name, "llvm.memset."):
		in.RT.Mem.Fill(args[0].X, args[2].X, byte(args[1].X))
		return Value{}, nil
	case strings.HasPrefix(name, "llvm.lifetime."), strings.HasPrefix(name, "llvm.dbg."):
		return Value{}, nil
	}
	ints := make([]uint64, len(args))
	for i, a := range args {
		ints[i] = a.X
	}
	if ext, ok := in.Externals[name]; ok {
		r, err := ext(in, ints)
		return scalar(r), err
	}
	if in.RT.Implements(name) {
		r, err := in.RT.Call(name, ints)
		return scalar(r), err
	}
	return Value{}, fmt.Errorf("%w: %s", ErrUnknownFunction, name)
}

func (in *Interp) maskedLoad(t *ir.Type, args []Value) (Value, error) {
	// [ptr, align, mask, passthru]
	if len(args) < 4 || !t.IsVector() {
		return Value{}, ErrBadArgs
	}
	size := t.Elem.StoreSize()
	v := Value{Lanes: make([]uint64, t.Len)}
	for i := range v.Lanes {
		if args[2].Lanes[i]&1 != 0 {
			v.Lanes[i] = in.RT.Mem.Uint(args[0].X+uint64(int64(i)*size), int(size))
		} else {
			v.Lanes[i] = args[3].Lanes[i]
		}
	}
	return v, nil
}

func (in *Interp) maskedStore(site *ir.Instr, args []Value) error {
	// [value, ptr, align, mask]
	if site == nil || len(args) < 4 {
		return ErrBadArgs
	}
	size := site.Ops[0].Type().Elem.StoreSize()
	for i, lane := range args[0].Lanes {
		if args[3].Lanes[i]&1 == 0 {
			continue
		}
		in.RT.Mem.SetUint(args[1].X+uint64(int64(i)*size), int(size), lane)
	}
	return nil
}
