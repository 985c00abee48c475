package asan

import (
	"strconv"
	"strings"

	"github.com/staywilliam/asanopt/ir"
)

// Runtime entry points outside the sized callback families.
const (
	HandleNoReturnName = "__asan_handle_no_return"
	PtrCmpName         = "__sanitizer_ptr_cmp"
	PtrSubName         = "__sanitizer_ptr_sub"
	reportPrefix       = "__asan_report_"
)

// Callback names one member of the runtime's checker and reporter families.
//
// Reporters are named __asan_report_[exp_]{load|store}{1,2,4,8,16}[_noabort]
// and, for arbitrary sizes, __asan_report_[exp_]{load|store}_n[_noabort]
// (N instead of _n in kernel mode). Checkers are named
// <prefix>[exp_]{load|store}{1,2,4,8,16|N}[_noabort].
type Callback struct {
	Report  bool
	Exp     bool
	IsWrite bool
	Size    int64 // Bytes. 0 for the sized variant taking an explicit length.
	NoAbort bool
	Kernel  bool // Kernel naming of sized reporters.
}

// Name returns the symbol of c. prefix applies to checkers only.
func (c Callback) Name(prefix string) string {
	var b strings.Builder
	if c.Report {
		b.WriteString(reportPrefix)
	} else {
		b.WriteString(prefix)
	}
	if c.Exp {
		b.WriteString("exp_")
	}
	if c.IsWrite {
		b.WriteString("store")
	} else {
		b.WriteString("load")
	}
	switch {
	case c.Size > 0:
		b.WriteString(strconv.FormatInt(c.Size, 10))
	case c.Report && !c.Kernel:
		b.WriteString("_n")
	default:
		b.WriteString("N")
	}
	if c.NoAbort {
		b.WriteString("_noabort")
	}
	return b.String()
}

// Params returns the parameter types of c: the address, the length for the
// sized variants, and the experiment id for exp_ variants.
func (c Callback) Params() []*ir.Type {
	params := []*ir.Type{ir.I64}
	if c.Size == 0 {
		params = append(params, ir.I64)
	}
	if c.Exp {
		params = append(params, ir.I32)
	}
	return params
}

// ParseCallback recognises the name of a checker or reporter and returns
// its description. prefix is the checker prefix in use.
func ParseCallback(name, prefix string) (Callback, bool) {
	var c Callback
	rest := name
	switch {
	case strings.HasPrefix(rest, reportPrefix):
		c.Report = true
		rest = rest[len(reportPrefix):]
	case prefix != "" && strings.HasPrefix(rest, prefix):
		rest = rest[len(prefix):]
	default:
		return c, false
	}
	if strings.HasPrefix(rest, "exp_") {
		c.Exp = true
		rest = rest[len("exp_"):]
	}
	switch {
	case strings.HasPrefix(rest, "load"):
		rest = rest[len("load"):]
	case strings.HasPrefix(rest, "store"):
		c.IsWrite = true
		rest = rest[len("store"):]
	default:
		return c, false
	}
	if strings.HasSuffix(rest, "_noabort") {
		c.NoAbort = true
		rest = rest[:len(rest)-len("_noabort")]
	}
	switch rest {
	case "_n":
		if !c.Report {
			return c, false
		}
	case "N":
		c.Kernel = c.Report
	case "1", "2", "4", "8", "16":
		c.Size, _ = strconv.ParseInt(rest, 10, 64)
	default:
		return c, false
	}
	return c, true
}

// callbacks declares runtime entry points in a module on first use.
type callbacks struct {
	m    *ir.Module
	opts *Options
}

func (cb *callbacks) declare(c Callback) *ir.Function {
	c.Exp = cb.opts.ForceExperiment != 0
	c.NoAbort = cb.opts.Recover
	c.Kernel = cb.opts.Kernel
	return cb.m.Declare(c.Name(cb.opts.CallbackPrefix), ir.Void, c.Params()...)
}

// report returns the reporter for an access of size bytes; size 0 selects
// the sized reporter.
func (cb *callbacks) report(isWrite bool, size int64) *ir.Function {
	return cb.declare(Callback{Report: true, IsWrite: isWrite, Size: size})
}

// check returns the out-of-line checker for an access of size bytes; size
// 0 selects the sized checker.
func (cb *callbacks) check(isWrite bool, size int64) *ir.Function {
	return cb.declare(Callback{IsWrite: isWrite, Size: size})
}

// memIntrinsic returns the runtime wrapper for a block memory intrinsic.
func (cb *callbacks) memIntrinsic(k AccessKind) *ir.Function {
	prefix := cb.opts.CallbackPrefix
	if cb.opts.Kernel {
		prefix = ""
	}
	switch k {
	case MemMove:
		return cb.m.Declare(prefix+"memmove", ir.Ptr, ir.Ptr, ir.Ptr, ir.I64)
	case MemSet:
		return cb.m.Declare(prefix+"memset", ir.Ptr, ir.Ptr, ir.I32, ir.I64)
	}
	return cb.m.Declare(prefix+"memcpy", ir.Ptr, ir.Ptr, ir.Ptr, ir.I64)
}

func (cb *callbacks) handleNoReturn() *ir.Function {
	return cb.m.Declare(HandleNoReturnName, ir.Void)
}

func (cb *callbacks) pointerPair(cmp bool) *ir.Function {
	if cmp {
		return cb.m.Declare(PtrCmpName, ir.Void, ir.I64, ir.I64)
	}
	return cb.m.Declare(PtrSubName, ir.Void, ir.I64, ir.I64)
}
