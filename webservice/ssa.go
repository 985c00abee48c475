package webservice

import (
	"github.com/staywilliam/asanopt/frontend/llvmir"
	"github.com/staywilliam/asanopt/ir"
	"github.com/staywilliam/asanopt/ssabuilder"
)

// loadGo lowers a Go main package.
func loadGo(src string) (*ir.Module, error) {
	conf, err := ssabuilder.NewConfigFromString(src)
	if err != nil {
		return nil, err
	}
	info, err := conf.Build()
	if err != nil {
		return nil, err
	}
	info.Logger = logger().WithField("lang", "go")
	return info.Lower()
}

// loadLLVM lowers a textual LLVM module.
func loadLLVM(src string) (*ir.Module, error) {
	conf := &llvmir.Config{Logger: logger().WithField("lang", "llvm")}
	return conf.Parse("request.ll", src)
}

// load lowers a request body written in lang.
func load(lang, src string) (*ir.Module, error) {
	switch lang {
	case "", "llvm", "ll":
		return loadLLVM(src)
	case "go":
		return loadGo(src)
	}
	return nil, ErrUnknownLang
}
