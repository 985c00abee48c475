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
	"bufio"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/staywilliam/asanopt/asan"
	"github.com/staywilliam/asanopt/ir"
)

// instrumentCmd represents the instrument command
var instrumentCmd = &cobra.Command{
	Use:   "instrument inputs...",
	Short: "Instrument input files with address checks",
	Long: `Instrument input files with address checks.

Each input is instrumented independently. The instrumented module is
printed to stdout, or written to the output directory as
<input>.asan.ll when --output is given.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return instrumentFiles(args)
	},
}

var (
	outDir    string // Output directory
	statsFile string // Statistics output
)

func init() {
	RootCmd.AddCommand(instrumentCmd)

	instrumentCmd.Flags().StringVarP(&outDir, "output", "o", "", "output directory (default is stdout)")
	instrumentCmd.Flags().StringVar(&statsFile, "stats", "", "write instrumentation statistics as YAML to this file (- for stdout)")
}

func instrumentFiles(files []string) error {
	l, err := newLogWriter()
	if err != nil {
		return err
	}
	defer l.Cleanup()
	logger := l.Logger()
	opts, err := options()
	if err != nil {
		return err
	}

	mods := make([]*ir.Module, len(files))
	total := new(asan.Stats)
	var g errgroup.Group
	for i, file := range files {
		i, file := i, file
		g.Go(func() error {
			log := logger.WithField("file", file)
			m, err := loadModule(file, log)
			if err != nil {
				return err
			}
			p, err := instrument(m, opts, log)
			if err != nil {
				return err
			}
			total.Add(p.Stats.Snapshot())
			mods[i] = m
			if outDir == "" {
				return nil
			}
			return writeModule(filepath.Join(outDir, outName(file)), m)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if outDir == "" {
		w := bufio.NewWriter(os.Stdout)
		for _, m := range mods {
			if err := ir.Fprint(w, m); err != nil {
				return err
			}
		}
		if err := w.Flush(); err != nil {
			return err
		}
	}
	return writeStats(statsFile, total)
}

func outName(file string) string {
	base := filepath.Base(file)
	return strings.TrimSuffix(base, filepath.Ext(base)) + ".asan.ll"
}

func writeModule(path string, m *ir.Module) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	if err := ir.Fprint(w, m); err != nil {
		f.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func writeStats(path string, stats *asan.Stats) error {
	if path == "" {
		return nil
	}
	b, err := stats.YAML()
	if err != nil {
		return err
	}
	if path == "-" {
		_, err = os.Stdout.Write(b)
		return err
	}
	return os.WriteFile(path, b, 0644)
}
