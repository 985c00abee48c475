package asanrt

import (
	"fmt"

	"github.com/staywilliam/asanopt/asan"
)

// Implements reports whether Call handles name.
func (r *Runtime) Implements(name string) bool {
	if _, ok := asan.ParseCallback(name, r.prefix); ok {
		return true
	}
	if _, ok := r.memFunc(name); ok {
		return true
	}
	switch name {
	case asan.HandleNoReturnName, asan.PtrCmpName, asan.PtrSubName,
		"malloc", "calloc", "free",
		"__asan_poison_memory_region", "__asan_unpoison_memory_region":
		return true
	}
	return false
}

// memFunc recognises the checking wrappers of the block memory intrinsics.
func (r *Runtime) memFunc(name string) (asan.AccessKind, bool) {
	prefix := r.prefix
	if r.kernel {
		prefix = ""
	}
	switch name {
	case prefix + "memcpy":
		return asan.MemTransfer, true
	case prefix + "memmove":
		return asan.MemMove, true
	case prefix + "memset":
		return asan.MemSet, true
	}
	return 0, false
}

// Call runs the runtime function name with integer arguments. A non-nil
// error either is a fatal *ReportError or signals misuse.
func (r *Runtime) Call(name string, args []uint64) (uint64, error) {
	need := func(n int) error {
		if len(args) < n {
			return fmt.Errorf("%w: %s wants %d, got %d", ErrBadArgs, name, n, len(args))
		}
		return nil
	}
	if cb, ok := asan.ParseCallback(name, r.prefix); ok {
		n := 1
		if cb.Size == 0 {
			n = 2
		}
		if err := need(n); err != nil {
			return 0, err
		}
		size := uint64(cb.Size)
		if cb.Size == 0 {
			size = args[1]
		}
		if cb.Report {
			// Inline checks call reporters only after finding poison.
			bad, found := r.FirstPoisoned(args[0], size)
			if !found {
				bad = args[0]
			}
			return 0, r.Report(bad, size, cb.IsWrite)
		}
		return 0, r.Access(args[0], size, cb.IsWrite)
	}
	if kind, ok := r.memFunc(name); ok {
		if err := need(3); err != nil {
			return 0, err
		}
		return args[0], r.memIntrinsic(kind, args[0], args[1], args[2])
	}
	switch name {
	case asan.HandleNoReturnName:
		r.HandleNoReturn()
		return 0, nil
	case asan.PtrCmpName, asan.PtrSubName:
		if err := need(2); err != nil {
			return 0, err
		}
		return 0, r.checkPointerPair(args[0], args[1])
	case "malloc":
		if err := need(1); err != nil {
			return 0, err
		}
		return r.Malloc(args[0]), nil
	case "calloc":
		if err := need(2); err != nil {
			return 0, err
		}
		// Fresh heap memory is never reused, so it is already zero.
		return r.Malloc(args[0] * args[1]), nil
	case "free":
		if err := need(1); err != nil {
			return 0, err
		}
		return 0, r.Free(args[0])
	case "__asan_poison_memory_region":
		if err := need(2); err != nil {
			return 0, err
		}
		r.Poison(args[0], r.roundUp(args[1]), UserPoisonedMagic)
		return 0, nil
	case "__asan_unpoison_memory_region":
		if err := need(2); err != nil {
			return 0, err
		}
		r.Unpoison(args[0], args[1])
		return 0, nil
	}
	return 0, fmt.Errorf("%w: %s", ErrUnknownFunction, name)
}

// memIntrinsic checks both ranges of a block memory operation and then
// performs it.
func (r *Runtime) memIntrinsic(kind asan.AccessKind, dst, src, n uint64) error {
	if n == 0 {
		return nil
	}
	if kind != asan.MemSet {
		if err := r.Access(src, n, false); err != nil {
			return err
		}
	}
	if err := r.Access(dst, n, true); err != nil {
		return err
	}
	if kind == asan.MemTransfer && dst < src+n && src < dst+n {
		if err := r.reportBug("memcpy-param-overlap", dst, n, true); err != nil {
			return err
		}
	}
	switch kind {
	case asan.MemSet:
		r.Mem.Fill(dst, n, byte(src))
	default:
		r.Mem.Move(dst, src, n)
	}
	return nil
}

// checkPointerPair reports comparisons and subtractions of pointers into
// different objects.
func (r *Runtime) checkPointerPair(a, b uint64) error {
	if a == b || a == 0 || b == 0 {
		return nil
	}
	ca, cb := r.chunkOf(a), r.chunkOf(b)
	if ca != nil && ca == cb {
		return nil
	}
	return r.reportBug("invalid-pointer-pair", a, 0, false)
}
