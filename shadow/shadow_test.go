package shadow

import "testing"

func TestMemToShadowAdd(t *testing.T) {
	m := Mapping{Scale: 3, Offset: 0x7FFF8001}
	if got, want := m.MemToShadow(0x1000), uint64(0x1000>>3+0x7FFF8001); got != want {
		t.Errorf("Expecting shadow %#x but got %#x\n", want, got)
	}
}

func TestMemToShadowOr(t *testing.T) {
	m := Mapping{Scale: 3, Offset: 1 << 44, OrOffset: true}
	addr := uint64(0x602000000010)
	if got, want := m.MemToShadow(addr), addr>>3|1<<44; got != want {
		t.Errorf("Expecting shadow %#x but got %#x\n", want, got)
	}
}

func TestGranularity(t *testing.T) {
	for scale, want := range map[int]uint64{3: 8, 4: 16, 5: 32} {
		m := Mapping{Scale: scale}
		if got := m.Granularity(); got != want {
			t.Errorf("Expecting granularity %d for scale %d but got %d\n", want, scale, got)
		}
	}
}

func TestRedzoneSizeForScale(t *testing.T) {
	if got := RedzoneSizeForScale(3); got != 32 {
		t.Errorf("Expecting redzone 32 but got %d\n", got)
	}
	if got := RedzoneSizeForScale(7); got != 128 {
		t.Errorf("Expecting redzone 128 but got %d\n", got)
	}
}

func TestForTarget(t *testing.T) {
	tests := []struct {
		triple string
		kernel bool
		offset uint64
		or     bool
	}{
		{"x86_64-unknown-linux-gnu", false, SmallX86_64Offset, false},
		{"x86_64-unknown-linux-gnu", true, LinuxKasanOffset64, false},
		{"i686-pc-linux-gnu", false, DefaultOffset32, true},
		{"aarch64-linux-gnu", false, AArch64Offset64, false},
		{"x86_64-unknown-freebsd", false, FreeBSDOffset64, true},
		{"x86_64-apple-darwin", false, DefaultOffset64, true},
	}
	for _, tt := range tests {
		target, err := ParseTriple(tt.triple)
		if err != nil {
			t.Fatalf("parse %s: %v", tt.triple, err)
		}
		target.Kernel = tt.kernel
		m := ForTarget(target)
		if m.Offset != tt.offset {
			t.Errorf("%s: Expecting offset %#x but got %#x\n", tt.triple, tt.offset, m.Offset)
		}
		if m.OrOffset != tt.or {
			t.Errorf("%s: Expecting OrOffset %v but got %v\n", tt.triple, tt.or, m.OrOffset)
		}
		if m.Scale != DefaultScale {
			t.Errorf("%s: Expecting scale %d but got %d\n", tt.triple, DefaultScale, m.Scale)
		}
	}
}

func TestForTargetOverride(t *testing.T) {
	target := DefaultTarget
	target.ScaleOverride = 4
	target.OffsetOverride = 0
	m := ForTarget(target)
	if m.Scale != 4 || m.Offset != 0 || m.OrOffset {
		t.Errorf("Expecting (>>4)+0 but got %s\n", m)
	}
}

func TestParseTripleUnknown(t *testing.T) {
	if _, err := ParseTriple("sparc-sun-solaris"); err == nil {
		t.Errorf("Expecting error for unknown arch but got nil\n")
	}
}
