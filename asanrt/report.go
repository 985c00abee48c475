package asanrt

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
)

// ReportError is an address violation found by the runtime.
type ReportError struct {
	Bug         string // e.g. heap-buffer-overflow
	Addr        uint64
	Size        uint64
	IsWrite     bool
	Shadow      byte
	Description string // Location relative to the nearest object.
}

func (e *ReportError) Error() string {
	return fmt.Sprintf("AddressSanitizer: %s on address %#x (%s of size %d)", e.Bug, e.Addr, e.access(), e.Size)
}

func (e *ReportError) access() string {
	if e.IsWrite {
		return "WRITE"
	}
	return "READ"
}

// bugName names the violation from the shadow byte of the bad address.
func bugName(shadowByte byte) string {
	switch shadowByte {
	case HeapLeftRedzoneMagic:
		return "heap-buffer-overflow"
	case HeapFreeMagic:
		return "heap-use-after-free"
	case StackLeftRedzoneMagic, StackRightRedzoneMagic:
		return "stack-buffer-overflow"
	case StackAfterReturnMagic:
		return "stack-use-after-return"
	case GlobalRedzoneMagic:
		return "global-buffer-overflow"
	case UserPoisonedMagic:
		return "use-after-poison"
	}
	if shadowByte > 0 && shadowByte < 0x80 {
		// Partially addressable granule: the object right of it decides.
		return "partial-granule-overflow"
	}
	return "unknown-crash"
}

// Report reports an access of size bytes touching the poisoned byte addr.
// It returns the report when the runtime halts on errors, nil otherwise.
func (r *Runtime) Report(addr, size uint64, isWrite bool) error {
	sb := r.ShadowByte(addr)
	bug := bugName(sb)
	if bug == "partial-granule-overflow" {
		// The bad byte lies in the granule's unaddressable tail, so the
		// next granule's shadow tells what follows the object.
		g := r.granularity()
		bug = bugName(r.ShadowByte((addr &^ (g - 1)) + g))
	}
	return r.report(&ReportError{
		Bug:         bug,
		Addr:        addr,
		Size:        size,
		IsWrite:     isWrite,
		Shadow:      sb,
		Description: r.describe(addr),
	})
}

func (r *Runtime) reportBug(bug string, addr, size uint64, isWrite bool) error {
	return r.report(&ReportError{
		Bug:         bug,
		Addr:        addr,
		Size:        size,
		IsWrite:     isWrite,
		Shadow:      r.ShadowByte(addr),
		Description: r.describe(addr),
	})
}

func (r *Runtime) report(e *ReportError) error {
	r.Reports = append(r.Reports, e)
	r.Logger.WithFields(logrus.Fields{
		"bug":     e.Bug,
		"addr":    fmt.Sprintf("%#x", e.Addr),
		"size":    e.Size,
		"write":   e.IsWrite,
		"recover": r.Recover,
	}).Debug("address violation")
	if r.Out != nil {
		red := color.New(color.FgRed, color.Bold)
		red.Fprintf(r.Out, "ERROR: AddressSanitizer: %s on address %#x\n", e.Bug, e.Addr)
		color.New(color.FgBlue).Fprintf(r.Out, "%s of size %d at %#x\n", e.access(), e.Size, e.Addr)
		if e.Description != "" {
			fmt.Fprintln(r.Out, e.Description)
		}
		fmt.Fprintf(r.Out, "Shadow byte at %#x: %02x\n", r.Mapping.MemToShadow(e.Addr), e.Shadow)
	}
	if r.Recover {
		return nil
	}
	return e
}
