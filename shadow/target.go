package shadow

import (
	"fmt"
	"strings"
)

// Target describes the platform being instrumented.
type Target struct {
	Arch           string // x86_64, i386, aarch64, ppc64, s390x, mips, mips64, arm
	OS             string // linux, freebsd, darwin, ios, windows, android, ps4
	PointerBits    int
	Kernel         bool
	ScaleOverride  int   // < 0 keeps the default scale
	OffsetOverride int64 // < 0 keeps the default offset
}

// DefaultTarget is x86_64 Linux userspace.
var DefaultTarget = Target{
	Arch:           "x86_64",
	OS:             "linux",
	PointerBits:    64,
	ScaleOverride:  -1,
	OffsetOverride: -1,
}

// ParseTriple builds a Target from a target triple such as
// x86_64-unknown-linux-gnu. Unknown components are left empty.
func ParseTriple(triple string) (Target, error) {
	t := DefaultTarget
	if triple == "" {
		return t, nil
	}
	parts := strings.Split(triple, "-")
	switch arch := parts[0]; arch {
	case "x86_64", "amd64":
		t.Arch, t.PointerBits = "x86_64", 64
	case "i386", "i486", "i586", "i686", "x86":
		t.Arch, t.PointerBits = "i386", 32
	case "aarch64", "arm64":
		t.Arch, t.PointerBits = "aarch64", 64
	case "arm", "armv7", "thumb":
		t.Arch, t.PointerBits = "arm", 32
	case "powerpc64", "powerpc64le", "ppc64", "ppc64le":
		t.Arch, t.PointerBits = "ppc64", 64
	case "s390x", "systemz":
		t.Arch, t.PointerBits = "s390x", 64
	case "mips", "mipsel":
		t.Arch, t.PointerBits = "mips", 32
	case "mips64", "mips64el":
		t.Arch, t.PointerBits = "mips64", 64
	default:
		return t, fmt.Errorf("%w: %s", ErrUnknownArch, arch)
	}
	t.OS = ""
	for _, p := range parts[1:] {
		switch {
		case strings.HasPrefix(p, "linux"):
			t.OS = "linux"
		case strings.HasPrefix(p, "android"):
			t.OS = "android"
		case strings.HasPrefix(p, "freebsd"):
			t.OS = "freebsd"
		case strings.HasPrefix(p, "darwin"), strings.HasPrefix(p, "macos"):
			t.OS = "darwin"
		case strings.HasPrefix(p, "ios"):
			t.OS = "ios"
		case strings.HasPrefix(p, "windows"), strings.HasPrefix(p, "win32"):
			t.OS = "windows"
		case strings.HasPrefix(p, "ps4"):
			t.OS = "ps4"
		}
	}
	return t, nil
}

// ForTarget returns the shadow mapping used for t.
func ForTarget(t Target) Mapping {
	m := Mapping{Scale: DefaultScale}
	is64 := t.PointerBits == 64
	isX86_64 := t.Arch == "x86_64"
	if !is64 {
		switch {
		case t.Arch == "mips":
			m.Offset = MIPS32Offset32
		case t.OS == "freebsd":
			m.Offset = FreeBSDOffset32
		case t.OS == "ios":
			m.Offset = IOSShadowOffset32
		case t.OS == "windows":
			m.Offset = WindowsOffset32
		case t.OS == "android":
			m.Offset = 0
		default:
			m.Offset = DefaultOffset32
		}
	} else {
		switch {
		case t.Arch == "ppc64":
			m.Offset = PPC64Offset64
		case t.Arch == "s390x":
			m.Offset = SystemZOffset64
		case t.OS == "freebsd":
			m.Offset = FreeBSDOffset64
		case t.OS == "ps4":
			m.Offset = PS4CPUOffset64
		case t.OS == "linux" && isX86_64 && t.Kernel:
			m.Offset = LinuxKasanOffset64
		case t.OS == "linux" && isX86_64:
			m.Offset = SmallX86_64Offset
		case t.Arch == "mips64":
			m.Offset = MIPS64Offset64
		case t.Arch == "aarch64":
			m.Offset = AArch64Offset64
		default:
			m.Offset = DefaultOffset64
		}
	}
	if t.ScaleOverride >= 0 {
		m.Scale = t.ScaleOverride
	}
	if t.OffsetOverride >= 0 {
		m.Offset = uint64(t.OffsetOverride)
	}
	// OR-ing shadow offset is more efficient, except on targets where an
	// immediate OR is not cheaper than an add.
	m.OrOffset = t.Arch != "aarch64" && t.Arch != "ppc64" && t.Arch != "s390x" &&
		IsPowerOfTwo(m.Offset)
	return m
}
