// Copyright © 2016 Nicholas Ng <nickng@projectfate.org>
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cmd

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/staywilliam/asanopt/asan"
	"github.com/staywilliam/asanopt/asanrt"
	"github.com/staywilliam/asanopt/frontend/llvmir"
	"github.com/staywilliam/asanopt/interp"
	"github.com/staywilliam/asanopt/ir"
	"github.com/staywilliam/asanopt/ssabuilder"
)

// loadModule reads an input file: Go source when the extension is .go,
// textual LLVM IR otherwise.
func loadModule(path string, logger *logrus.Entry) (*ir.Module, error) {
	if filepath.Ext(path) == ".go" {
		conf, err := ssabuilder.NewConfig([]string{path})
		if err != nil {
			return nil, err
		}
		conf.BuildLog = logger.Logger.Out
		info, err := conf.Build()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		info.Logger = logger
		return info.Lower()
	}
	conf := &llvmir.Config{
		RequireSanitizeAttr: viper.GetBool("require-sanitize-attr"),
		Logger:              logger,
	}
	return conf.Load(path)
}

// instrument instruments m in place with a fresh pass.
func instrument(m *ir.Module, opts *asan.Options, logger *logrus.Entry) (*asan.Pass, error) {
	p, err := asan.NewPass(opts, logger)
	if err != nil {
		return nil, err
	}
	if err := p.InstrumentModule(m); err != nil {
		return nil, err
	}
	return p, nil
}

// parseArgs parses comma separated integer arguments.
func parseArgs(s string) ([]uint64, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	var args []uint64
	for _, f := range strings.Split(s, ",") {
		v, err := strconv.ParseInt(strings.TrimSpace(f), 0, 64)
		if err != nil {
			return nil, fmt.Errorf("bad argument %q: %w", f, err)
		}
		args = append(args, uint64(v))
	}
	return args, nil
}

// outcome is the result of executing one function.
type outcome struct {
	Value   uint64
	Reports []*asanrt.ReportError // Every report, fatal or not.
	Err     error
}

// Fatal returns the report that stopped execution, or nil.
func (o *outcome) Fatal() *asanrt.ReportError {
	var report *asanrt.ReportError
	if errors.As(o.Err, &report) {
		return report
	}
	return nil
}

// execute runs fn in m on a fresh runtime printing reports to out.
func execute(m *ir.Module, opts *asan.Options, fn string, args []uint64, out io.Writer, logger *logrus.Entry) (*outcome, error) {
	rt, err := asanrt.New(opts, logger)
	if err != nil {
		return nil, err
	}
	rt.Out = out
	v, err := interp.New(m, rt, logger).Run(fn, args...)
	if errors.Is(err, interp.ErrUnknownFunction) {
		return nil, err
	}
	return &outcome{Value: v, Reports: rt.Reports, Err: err}, nil
}
