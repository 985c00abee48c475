// Package ssabuilder builds SSA IR from Go source code and lowers it into
// ir modules for instrumentation.
//
package ssabuilder // import "github.com/staywilliam/asanopt/ssabuilder"

import (
	"fmt"
	"go/build"
	"go/token"
	"io"
	"io/ioutil"

	"github.com/sirupsen/logrus"
	"golang.org/x/tools/go/loader"
	"golang.org/x/tools/go/ssa"
	"golang.org/x/tools/go/ssa/ssautil"

	"github.com/staywilliam/asanopt/ssabuilder/callgraph"
)

// A Mode value is a flag indicating how the source code are supplied.
type Mode uint

const (
	// FromFiles is option to use a list of filenames for initial packages.
	FromFiles Mode = 1 << iota

	// FromString is option to use a string as body of initial package.
	FromString
)

// Config holds the configuration for building SSA IR.
type Config struct {
	BuildMode Mode
	Files     []string          // (Initial) files to load.
	Source    string            // Source code.
	BuildLog  io.Writer         // Build log.
	BadPkgs   map[string]string // Packages not to build (with reasons).
}

// SSAInfo is the SSA IR + metainfo built from a given Config.
type SSAInfo struct {
	BuildConf   *Config  // Build configuration (initial files, logs).
	IgnoredPkgs []string // Packages not built (respects BuildConf.BadPkgs).

	FSet *token.FileSet // FileSet for parsed source files.
	Prog *ssa.Program   // SSA IR for whole program.
	Init []*ssa.Package // Initial packages.

	Logger *logrus.Entry // Build logger.
}

var (
	// Packages that should not be built (and reasons) by default
	badPkgs = map[string]string{
		"fmt":     "Interfaces and reflection are not lowered",
		"reflect": "Reflection not supported for instrumentation",
		"runtime": "Runtime memory is not simulated",
		"strings": "Strings are not lowered",
		"sync":    "Synchronisation is not lowered",
		"time":    "Time not supported",
	}
)

// NewConfig creates a new default build configuration.
func NewConfig(files []string) (*Config, error) {
	if len(files) == 0 {
		return nil, ErrNoFiles
	}
	return &Config{
		BuildMode: FromFiles,
		Files:     files,
		BuildLog:  ioutil.Discard,
		BadPkgs:   badPkgs,
	}, nil
}

// NewConfigFromString creates a new default build configuration.
func NewConfigFromString(s string) (*Config, error) {
	return &Config{
		BuildMode: FromString,
		Source:    s,
		BuildLog:  ioutil.Discard,
		BadPkgs:   badPkgs,
	}, nil
}

func (conf *Config) logger() *logrus.Entry {
	l := logrus.New()
	l.Out = conf.BuildLog
	if l.Out == nil {
		l.Out = ioutil.Discard
	}
	l.Level = logrus.DebugLevel
	return logrus.NewEntry(l).WithField("ssabuild", conf.BuildMode)
}

func (m Mode) String() string {
	switch m {
	case FromFiles:
		return "files"
	case FromString:
		return "string"
	}
	return fmt.Sprintf("Mode(%d)", uint(m))
}

// Build constructs the SSA IR using given config.
func (conf *Config) Build() (*SSAInfo, error) {
	var lconf = loader.Config{Build: &build.Default}
	buildLog := conf.logger()

	switch conf.BuildMode {
	case FromFiles:
		args, err := lconf.FromArgs(conf.Files, false /* No tests */)
		if err != nil {
			return nil, err
		}
		if len(args) > 0 {
			return nil, fmt.Errorf("surplus arguments: %q", args)
		}
	case FromString:
		f, err := lconf.ParseFile("", conf.Source)
		if err != nil {
			return nil, err
		}
		lconf.CreateFromFiles("", f)
	default:
		return nil, fmt.Errorf("%w: %s", ErrBuildMode, conf.BuildMode)
	}

	// Load, parse and type-check program
	lprog, err := lconf.Load()
	if err != nil {
		return nil, err
	}
	buildLog.Debug("Program loaded and type checked")

	prog := ssautil.CreateProgram(lprog, ssa.GlobalDebug|ssa.BareInits)

	ignoredPkgs := []string{}
	for _, info := range lprog.AllPackages {
		if reason, badPkg := conf.BadPkgs[info.Pkg.Name()]; badPkg {
			buildLog.Debugf("Skip package: %s (%s)", info.Pkg.Name(), reason)
			ignoredPkgs = append(ignoredPkgs, info.Pkg.Name())
		} else {
			prog.Package(info.Pkg).Build()
		}
	}
	var initial []*ssa.Package
	for _, info := range lprog.InitialPackages() {
		initial = append(initial, prog.Package(info.Pkg))
	}

	return &SSAInfo{
		BuildConf:   conf,
		IgnoredPkgs: ignoredPkgs,
		FSet:        lprog.Fset,
		Prog:        prog,
		Init:        initial,
		Logger:      buildLog,
	}, nil
}

// CallGraph builds the call graph from the 'main.main' function.
//
// The call graph is rooted at 'main.main', all nodes appear only once in the
// graph. A side-effect of building the call graph is obtaining a list of
// functions used in a program (as functions not called will not appear in the
// CallGraph).
func (info *SSAInfo) CallGraph() *callgraph.Node {
	mainPkg := MainPkg(info.Prog)
	if mainPkg == nil {
		return nil
	}
	if mainFunc := mainPkg.Func("main"); mainFunc != nil {
		return callgraph.Build(mainFunc)
	}
	return nil // No main pkg --> nothing is called
}

// DecodePos converts a token.Pos (offset) to an actual token.Position.
//
// This is just a shortcut to .FSet.Position.
func (info *SSAInfo) DecodePos(pos token.Pos) token.Position {
	return info.FSet.Position(pos)
}
