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
	"os"

	"github.com/spf13/cobra"

	"github.com/staywilliam/asanopt/ir"
	"github.com/staywilliam/asanopt/ssabuilder"
)

// buildssaCmd represents the buildssa command
var buildssaCmd = &cobra.Command{
	Use:   "buildssa",
	Short: "Build SSA IR of the input source files",
	Long: `Build SSA IR of the input source files.

With --lower the functions are also lowered to the instrumentation IR and
printed.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return build(args)
	},
}

var (
	dumpSSA bool
	dumpAll bool
	lower   bool
)

func init() {
	RootCmd.AddCommand(buildssaCmd)

	buildssaCmd.Flags().BoolVar(&dumpSSA, "dump", false, "dump SSA IR of input files (based on CFG)")
	buildssaCmd.Flags().BoolVar(&dumpAll, "dump-all", false, "dump all SSA IR of input files (including unused)")
	buildssaCmd.Flags().BoolVar(&lower, "lower", false, "print the lowered instrumentation IR")
}

func build(files []string) error {
	l, err := newLogWriter()
	if err != nil {
		return err
	}
	defer l.Cleanup()

	conf, err := ssabuilder.NewConfig(files)
	if err != nil {
		return err
	}
	conf.BuildLog = l.Writer
	ssainfo, err := conf.Build()
	if err != nil {
		return err
	}
	ssainfo.Logger = l.Logger()
	switch {
	case dumpAll: // dumpAll overrides dumpSSA
		if _, err := ssainfo.WriteAll(os.Stdout); err != nil {
			return err
		}
	case dumpSSA:
		if _, err := ssainfo.WriteTo(os.Stdout); err != nil {
			return err
		}
	}
	if lower {
		m, err := ssainfo.Lower()
		if err != nil {
			return err
		}
		return ir.Fprint(os.Stdout, m)
	}
	return nil
}
