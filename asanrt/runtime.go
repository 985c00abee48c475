package asanrt

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/staywilliam/asanopt/asan"
	"github.com/staywilliam/asanopt/shadow"
)

// Shadow byte values of poisoned granules.
const (
	HeapLeftRedzoneMagic   byte = 0xfa
	HeapFreeMagic          byte = 0xfd
	StackLeftRedzoneMagic  byte = 0xf1
	StackRightRedzoneMagic byte = 0xf3
	StackAfterReturnMagic  byte = 0xf5
	UserPoisonedMagic      byte = 0xf7
	GlobalRedzoneMagic     byte = 0xf9
)

// Bases of the simulated address space regions.
const (
	GlobalBase uint64 = 0x500000000000
	HeapBase   uint64 = 0x602000000000
	StackBase  uint64 = 0x7ff000000000
)

// Runtime is the shadow memory runtime of one simulated process.
type Runtime struct {
	Mapping shadow.Mapping
	Mem     *Memory
	Recover bool      // Report and continue instead of halting.
	Reports []*ReportError
	Out     io.Writer // Reports are printed here.
	Logger  *logrus.Entry

	prefix string
	kernel bool
	rz     uint64

	chunks    []*Chunk // Heap and global objects, by address.
	heapTop   uint64
	globalTop uint64
	stackTop  uint64
	frames    []*frame
}

// New returns a runtime matching the instrumentation options opts.
func New(opts *asan.Options, logger *logrus.Entry) (*Runtime, error) {
	mapping, err := opts.Mapping()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	rz := shadow.RedzoneSizeForScale(mapping.Scale)
	return &Runtime{
		Mapping:   mapping,
		Mem:       NewMemory(),
		Recover:   opts.Recover,
		Out:       os.Stderr,
		Logger:    logger.WithField("runtime", "asan"),
		prefix:    opts.CallbackPrefix,
		kernel:    opts.Kernel,
		rz:        rz,
		heapTop:   HeapBase + rz,
		globalTop: GlobalBase + rz,
		stackTop:  StackBase + rz,
	}, nil
}

func (r *Runtime) granularity() uint64 { return r.Mapping.Granularity() }

func (r *Runtime) roundUp(x uint64) uint64 {
	g := r.granularity()
	return (x + g - 1) &^ (g - 1)
}

// ShadowByte returns the shadow byte describing addr.
func (r *Runtime) ShadowByte(addr uint64) byte {
	return r.Mem.Byte(r.Mapping.MemToShadow(addr))
}

// Poison marks the granules covering [addr, addr+size) with magic. addr
// must be granule aligned.
func (r *Runtime) Poison(addr, size uint64, magic byte) {
	g := r.granularity()
	for a := addr; a < addr+size; a += g {
		r.Mem.SetByte(r.Mapping.MemToShadow(a), magic)
	}
}

// Unpoison makes [addr, addr+size) addressable. addr must be granule
// aligned; a trailing partial granule gets the count of its addressable
// bytes.
func (r *Runtime) Unpoison(addr, size uint64) {
	g := r.granularity()
	full := size &^ (g - 1)
	for a := addr; a < addr+full; a += g {
		r.Mem.SetByte(r.Mapping.MemToShadow(a), 0)
	}
	if rem := size & (g - 1); rem != 0 {
		r.Mem.SetByte(r.Mapping.MemToShadow(addr+full), byte(rem))
	}
}

// IsPoisoned reports whether the byte at addr is not addressable.
func (r *Runtime) IsPoisoned(addr uint64) bool {
	k := int8(r.ShadowByte(addr))
	if k == 0 {
		return false
	}
	return k < 0 || int8(addr&(r.granularity()-1)) >= k
}

// FirstPoisoned returns the first non-addressable byte of [addr,
// addr+size).
func (r *Runtime) FirstPoisoned(addr, size uint64) (uint64, bool) {
	for a := addr; a < addr+size; a++ {
		if r.IsPoisoned(a) {
			return a, true
		}
	}
	return 0, false
}

// Access checks an access of size bytes at addr and reports it when it
// touches poisoned memory. The returned error is non-nil only for fatal
// reports.
func (r *Runtime) Access(addr, size uint64, isWrite bool) error {
	if size == 0 {
		return nil
	}
	bad, found := r.FirstPoisoned(addr, size)
	if !found {
		return nil
	}
	return r.Report(bad, size, isWrite)
}
