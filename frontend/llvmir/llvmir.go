// Package llvmir reads LLVM assembly into ir modules.
//
// Instructions with no ir counterpart (floating point arithmetic, aggregate
// values, indirect calls) are lowered to calls of opaque declarations so the
// surrounding memory accesses can still be instrumented; such modules can be
// instrumented and printed but not executed.
package llvmir // import "github.com/staywilliam/asanopt/frontend/llvmir"

import (
	"errors"
	"io/ioutil"
	"path/filepath"

	"github.com/llir/llvm/asm"
	llir "github.com/llir/llvm/ir"
	"github.com/sirupsen/logrus"

	"github.com/staywilliam/asanopt/ir"
)

var (
	ErrUnsupportedType  = errors.New("llvmir: unsupported type")
	ErrUnsupportedValue = errors.New("llvmir: unsupported value")
	ErrUnsupportedTerm  = errors.New("llvmir: unsupported terminator")
	ErrUndefined        = errors.New("llvmir: use of undefined value")
)

// OpaquePrefix starts the names of the declarations standing for
// instructions without an ir counterpart.
const OpaquePrefix = "opaque."

// Config controls lowering.
type Config struct {
	// RequireSanitizeAttr marks functions without the sanitize_address
	// attribute as not to be instrumented.
	RequireSanitizeAttr bool
	Logger              *logrus.Entry
}

func (conf *Config) logger() *logrus.Entry {
	if conf == nil || conf.Logger == nil {
		return logrus.NewEntry(logrus.StandardLogger())
	}
	return conf.Logger
}

// Load parses the LLVM assembly file at path.
func (conf *Config) Load(path string) (*ir.Module, error) {
	src, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return conf.Parse(filepath.Base(path), string(src))
}

// Parse parses LLVM assembly held in src. name is the module name.
func (conf *Config) Parse(name, src string) (*ir.Module, error) {
	m, err := asm.ParseString(name, src)
	if err != nil {
		return nil, err
	}
	return conf.Lower(name, m)
}

// Parse parses src with the default configuration.
func Parse(name, src string) (*ir.Module, error) {
	return new(Config).Parse(name, src)
}

// Load parses the file at path with the default configuration.
func Load(path string) (*ir.Module, error) {
	return new(Config).Load(path)
}

// Lower converts a parsed LLVM module.
func (conf *Config) Lower(name string, m *llir.Module) (*ir.Module, error) {
	l := &lowerer{
		conf:    conf,
		log:     conf.logger().WithField("module", name),
		m:       ir.NewModule(name),
		funcs:   make(map[*llir.Func]*ir.Function),
		globals: make(map[*llir.Global]*ir.Global),
	}
	l.m.Triple = m.TargetTriple
	if err := l.module(m); err != nil {
		return nil, err
	}
	return l.m, nil
}
