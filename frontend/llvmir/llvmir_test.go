package llvmir

import (
	"errors"
	"io/ioutil"
	"testing"

	"github.com/staywilliam/asanopt/asan"
	"github.com/staywilliam/asanopt/asanrt"
	"github.com/staywilliam/asanopt/interp"
	"github.com/staywilliam/asanopt/ir"
)

const testModule = `
target triple = "x86_64-unknown-linux-gnu"

@g = global [4 x i32] [i32 1, i32 2, i32 3, i32 4], align 16
@w = weak global i32 0

declare void @exit(i32) noreturn

define i32 @sum(i32* %p, i64 %n) {
entry:
  br label %loop

loop:
  %i = phi i64 [ 0, %entry ], [ %i.next, %loop ]
  %acc = phi i32 [ 0, %entry ], [ %acc.next, %loop ]
  %q = getelementptr inbounds i32, i32* %p, i64 %i
  %v = load i32, i32* %q, align 4
  %acc.next = add i32 %acc, %v
  %i.next = add i64 %i, 1
  %c = icmp slt i64 %i.next, %n
  br i1 %c, label %loop, label %exit

exit:
  ret i32 %acc.next
}

define i32 @pick(i32 %k) {
entry:
  switch i32 %k, label %other [
    i32 0, label %zero
    i32 1, label %one
  ]

zero:
  br label %done

one:
  br label %done

other:
  br label %done

done:
  %r = phi i32 [ 10, %zero ], [ 20, %one ], [ 30, %other ]
  ret i32 %r
}

define i32 @global_sum(i64 %n) {
entry:
  %s = call i32 @sum(i32* getelementptr inbounds ([4 x i32], [4 x i32]* @g, i64 0, i64 0), i64 %n)
  ret i32 %s
}
`

func parse(t *testing.T) *ir.Module {
	m, err := Parse("test.ll", testModule)
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func TestLower(t *testing.T) {
	m := parse(t)
	if m.Triple != "x86_64-unknown-linux-gnu" {
		t.Errorf("Expecting target triple to be kept but got %q\n", m.Triple)
	}
	g := m.Global("g")
	if g == nil || g.Elem.Size() != 16 || g.External {
		t.Fatalf("Expecting a defined 16 byte global @g but got %+v\n", g)
	}
	if g.Init[4] != 2 || g.Init[12] != 4 {
		t.Errorf("Expecting little endian initialiser but got %v\n", g.Init)
	}
	if w := m.Global("w"); w == nil || !w.External {
		t.Errorf("Expecting weak global to be interposable\n")
	}
	if exit := m.Func("exit"); exit == nil || !exit.IsDecl() || !exit.NoReturn {
		t.Errorf("Expecting noreturn declaration of exit\n")
	}
	sum := m.Func("sum")
	if len(sum.Blocks) != 3 {
		t.Errorf("Expecting 3 blocks in sum but got %d\n", len(sum.Blocks))
	}
	if l := sum.Blocks[1].Label(); l != "loop" {
		t.Errorf("Expecting block names to be kept but got %s\n", l)
	}
	// One extra block for the second case of the switch.
	if n := len(m.Func("pick").Blocks); n != 6 {
		t.Errorf("Expecting 6 blocks in pick but got %d\n", n)
	}
}

func newInterp(t *testing.T, m *ir.Module, opts *asan.Options) *interp.Interp {
	rt, err := asanrt.New(opts, nil)
	if err != nil {
		t.Fatal(err)
	}
	rt.Out = ioutil.Discard
	return interp.New(m, rt, nil)
}

func TestRunLowered(t *testing.T) {
	m := parse(t)
	in := newInterp(t, m, asan.DefaultOptions())
	for k, want := range []uint64{10, 20, 30, 30} {
		got, err := in.Run("pick", uint64(k))
		if err != nil {
			t.Fatal(err)
		}
		if got != want {
			t.Errorf("Expecting pick(%d) = %d but got %d\n", k, want, got)
		}
	}
	got, err := in.Run("global_sum", 4)
	if err != nil {
		t.Fatal(err)
	}
	if got != 10 {
		t.Errorf("Expecting global_sum = 10 but got %d\n", got)
	}
}

func TestInstrumentLowered(t *testing.T) {
	opts := asan.DefaultOptions()
	m := parse(t)
	p, err := asan.NewPass(opts, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := p.InstrumentModule(m); err != nil {
		t.Fatal(err)
	}
	if _, err := newInterp(t, m, opts).Run("global_sum", 4); err != nil {
		t.Errorf("Expecting in bounds run to pass but got %v\n", err)
	}
	_, err = newInterp(t, m, opts).Run("global_sum", 5)
	var report *asanrt.ReportError
	if !errors.As(err, &report) {
		t.Fatalf("Expecting a report reading @g[4] but got %v\n", err)
	}
	if report.Bug != "global-buffer-overflow" {
		t.Errorf("Expecting global-buffer-overflow but got %s\n", report.Bug)
	}
}

func TestParseError(t *testing.T) {
	if _, err := Parse("bad.ll", "define i32 @f( {"); err == nil {
		t.Errorf("Expecting a syntax error but got nil\n")
	}
}
