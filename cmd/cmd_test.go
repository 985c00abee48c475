package cmd

import (
	"errors"
	"io/ioutil"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/staywilliam/asanopt/asan"
	"github.com/staywilliam/asanopt/asanrt"
	"github.com/staywilliam/asanopt/ir"
)

func quiet() *logrus.Entry {
	l := logrus.New()
	l.Out = ioutil.Discard
	return logrus.NewEntry(l)
}

func TestParseArgs(t *testing.T) {
	args, err := parseArgs("1, -2,0x10")
	if err != nil {
		t.Fatal(err)
	}
	if len(args) != 3 || args[0] != 1 || int64(args[1]) != -2 || args[2] != 16 {
		t.Errorf("Expecting [1 -2 16] but got %v\n", args)
	}
	if args, err := parseArgs(" "); err != nil || args != nil {
		t.Errorf("Expecting no arguments but got %v (%v)\n", args, err)
	}
	if _, err := parseArgs("1,x"); err == nil {
		t.Errorf("Expecting error for a bad argument\n")
	}
}

func TestOutName(t *testing.T) {
	if got := outName("dir/prog.ll"); got != "prog.asan.ll" {
		t.Errorf("Expecting prog.asan.ll but got %s\n", got)
	}
}

func TestCompareSum(t *testing.T) {
	log := quiet()
	opts := asan.DefaultOptions()
	optimised, err := loadModule("testdata/sum.ll", log)
	if err != nil {
		t.Fatal(err)
	}
	naive, _ := ir.CloneModule(optimised)
	pn, err := instrument(naive, opts.Naive(), log)
	if err != nil {
		t.Fatal(err)
	}
	po, err := instrument(optimised, opts, log)
	if err != nil {
		t.Fatal(err)
	}
	if po.Stats.Snapshot().Checks() > pn.Stats.Snapshot().Checks() {
		t.Errorf("Expecting no more checks than naive but got %d > %d\n",
			po.Stats.Snapshot().Checks(), pn.Stats.Snapshot().Checks())
	}
	for _, n := range []uint64{1, 4, 5} {
		on, err := execute(naive, opts.Naive(), "sum", []uint64{n}, ioutil.Discard, log)
		if err != nil {
			t.Fatal(err)
		}
		oo, err := execute(optimised, opts, "sum", []uint64{n}, ioutil.Discard, log)
		if err != nil {
			t.Fatal(err)
		}
		if err := sameOutcome(on, oo, log); err != nil {
			t.Errorf("Expecting same outcome for sum(%d) but got %v\n", n, err)
		}
		if n == 4 && oo.Value != 10 {
			t.Errorf("Expecting sum(4) = 10 but got %d\n", oo.Value)
		}
		if n == 5 && (oo.Fatal() == nil || oo.Fatal().Bug != "global-buffer-overflow") {
			t.Errorf("Expecting global-buffer-overflow for sum(5) but got %s\n", describe(oo))
		}
	}
}

func TestSameOutcomeMismatch(t *testing.T) {
	report := &asanrt.ReportError{Bug: "heap-buffer-overflow"}
	faulted := &outcome{Reports: []*asanrt.ReportError{report}, Err: report}
	clean := &outcome{Value: 3}
	if err := sameOutcome(faulted, clean, quiet()); !errors.Is(err, errMismatch) {
		t.Errorf("Expecting a mismatch but got %v\n", err)
	}
	if err := sameOutcome(clean, &outcome{Value: 4}, quiet()); !errors.Is(err, errMismatch) {
		t.Errorf("Expecting a value mismatch but got %v\n", err)
	}
	if err := sameOutcome(faulted, faulted, quiet()); err != nil {
		t.Errorf("Expecting no mismatch but got %v\n", err)
	}
}
