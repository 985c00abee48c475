// Package logwriter wraps a io.Writer for asanopt logging.
//
package logwriter // import "github.com/staywilliam/asanopt/logwriter"

import (
	"bufio"
	"fmt"
	"io"
	"io/ioutil"
	"os"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
)

// Colours of highlighted console output.
var (
	Bad  = color.New(color.FgRed, color.Bold) // Error reports.
	Good = color.New(color.FgGreen)           // Clean runs.
	Info = color.New(color.FgCyan)            // Headings.
)

// Writer is a log writer and its configurations.
type Writer struct {
	io.Writer

	LogFile       string
	EnableLogging bool
	EnableColour  bool
	Debug         bool
	Cleanup       func()
}

// NewFile creates a new file writer.
func NewFile(logfile string, enableLogging, enableColour bool) *Writer {
	return &Writer{
		LogFile:       logfile,
		EnableLogging: enableLogging,
		EnableColour:  enableColour,
	}
}

// New creates a new log writer.
func New(w io.Writer, enableLogging, enableColour bool) *Writer {
	return &Writer{
		Writer:        w,
		EnableLogging: enableLogging,
		EnableColour:  enableColour,
	}
}

// Create initialises a new writer.
func (w *Writer) Create() error {
	color.NoColor = !w.EnableColour
	if !w.EnableLogging {
		w.Writer = ioutil.Discard
		w.Cleanup = func() {}
		return nil
	}
	if w.Writer != nil {
		w.Cleanup = func() {}
		return nil
	}
	if w.LogFile == "" {
		w.Writer = os.Stderr
		w.Cleanup = func() {}
		return nil
	}
	f, err := os.Create(w.LogFile)
	if err != nil {
		return fmt.Errorf("failed to create log file: %w", err)
	}
	bufWriter := bufio.NewWriter(f)
	w.Writer = bufWriter
	w.Cleanup = func() {
		if err := bufWriter.Flush(); err != nil {
			logrus.Errorf("flush: %s", err)
		}
		if err := f.Close(); err != nil {
			logrus.Errorf("close: %s", err)
		}
	}
	return nil
}

// Logger returns a logger writing to w. Create must be called first.
func (w *Writer) Logger() *logrus.Entry {
	l := logrus.New()
	l.Out = w.Writer
	l.Formatter = &logrus.TextFormatter{
		DisableColors:    !w.EnableColour,
		DisableTimestamp: true,
	}
	l.Level = logrus.InfoLevel
	if w.Debug {
		l.Level = logrus.DebugLevel
	}
	return logrus.NewEntry(l)
}
