package logwriter

import (
	"bytes"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDisabled(t *testing.T) {
	var buf bytes.Buffer
	w := New(&buf, false, false)
	if err := w.Create(); err != nil {
		t.Fatal(err)
	}
	defer w.Cleanup()
	w.Logger().Info("hidden")
	if buf.Len() != 0 {
		t.Errorf("Expecting no output but got %q\n", buf.String())
	}
}

func TestDebugLevel(t *testing.T) {
	var buf bytes.Buffer
	w := New(&buf, true, false)
	if err := w.Create(); err != nil {
		t.Fatal(err)
	}
	defer w.Cleanup()
	w.Logger().Debug("quiet")
	if buf.Len() != 0 {
		t.Errorf("Expecting debug output to be dropped but got %q\n", buf.String())
	}
	w.Debug = true
	w.Logger().WithField("func", "f").Debug("loud")
	if !strings.Contains(buf.String(), "loud") || !strings.Contains(buf.String(), "func=f") {
		t.Errorf("Expecting debug line with fields but got %q\n", buf.String())
	}
}

func TestFile(t *testing.T) {
	dir, err := ioutil.TempDir("", "logwriter")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)
	path := filepath.Join(dir, "out.log")
	w := NewFile(path, true, false)
	if err := w.Create(); err != nil {
		t.Fatal(err)
	}
	w.Logger().Info("to file")
	w.Cleanup()
	b, err := ioutil.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(b), "to file") {
		t.Errorf("Expecting log line in file but got %q\n", string(b))
	}
}
