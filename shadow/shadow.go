// Package shadow describes the mapping from application memory to shadow
// memory.
package shadow // import "github.com/staywilliam/asanopt/shadow"

import "fmt"

// DefaultScale is the default shadow scale: one shadow byte per 8 bytes.
const DefaultScale = 3

// Default shadow offsets of the supported targets.
const (
	DefaultOffset32        uint64 = 1 << 29
	DefaultOffset64        uint64 = 1 << 44
	SmallX86_64Offset      uint64 = 0x7FFF8000
	LinuxKasanOffset64     uint64 = 0xdffffc0000000000
	PPC64Offset64          uint64 = 1 << 41
	SystemZOffset64        uint64 = 1 << 52
	MIPS32Offset32         uint64 = 0x0aaa0000
	MIPS64Offset64         uint64 = 1 << 37
	AArch64Offset64        uint64 = 1 << 36
	FreeBSDOffset32        uint64 = 1 << 30
	FreeBSDOffset64        uint64 = 1 << 46
	WindowsOffset32        uint64 = 3 << 28
	IOSShadowOffset32      uint64 = 1 << 30
	PS4CPUOffset64         uint64 = 1 << 40
)

// Mapping is a shadow memory mapping: Shadow = (Mem >> Scale) + Offset, or
// (Mem >> Scale) | Offset when OrOffset is set.
type Mapping struct {
	Scale    int
	Offset   uint64
	OrOffset bool
}

// MemToShadow returns the shadow address of addr.
func (m Mapping) MemToShadow(addr uint64) uint64 {
	s := addr >> uint(m.Scale)
	if m.OrOffset {
		return s | m.Offset
	}
	return s + m.Offset
}

// Granularity is the number of application bytes described by one shadow
// byte.
func (m Mapping) Granularity() uint64 {
	return 1 << uint(m.Scale)
}

func (m Mapping) String() string {
	op := "+"
	if m.OrOffset {
		op = "|"
	}
	return fmt.Sprintf("(addr >> %d) %s %#x", m.Scale, op, m.Offset)
}

// RedzoneSizeForScale returns the minimal redzone size for a shadow scale.
func RedzoneSizeForScale(scale int) uint64 {
	rz := uint64(1) << uint(scale)
	if rz < 32 {
		return 32
	}
	return rz
}

// IsPowerOfTwo reports whether x is a non-zero power of two.
func IsPowerOfTwo(x uint64) bool {
	return x != 0 && x&(x-1) == 0
}
