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
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/staywilliam/asanopt/logwriter"
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run input",
	Short: "Instrument and execute a function of the input",
	Long: `Instrument and execute a function of the input.

The function is run by the IR interpreter on top of the shadow memory
runtime. Address violations are reported on stdout; without --recover the
first one stops execution.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runFile(args[0])
	},
}

var (
	runFunc      string // Function to execute
	runArgs      string // Comma separated integer arguments
	noInstrument bool   // Run the input as is
)

func init() {
	RootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runFunc, "func", "f", "main", "function to execute")
	runCmd.Flags().StringVarP(&runArgs, "args", "a", "", "comma separated integer arguments")
	runCmd.Flags().BoolVar(&noInstrument, "no-instrument", false, "execute without instrumentation")
}

func runFile(file string) error {
	l, err := newLogWriter()
	if err != nil {
		return err
	}
	defer l.Cleanup()
	logger := l.Logger().WithField("file", file)
	opts, err := options()
	if err != nil {
		return err
	}
	args, err := parseArgs(runArgs)
	if err != nil {
		return err
	}
	m, err := loadModule(file, logger)
	if err != nil {
		return err
	}
	if !noInstrument {
		if _, err := instrument(m, opts, logger); err != nil {
			return err
		}
	}
	o, err := execute(m, opts, runFunc, args, os.Stdout, logger)
	if err != nil {
		return err
	}
	if o.Err != nil && o.Fatal() == nil {
		return o.Err
	}
	if len(o.Reports) > 0 {
		return fmt.Errorf("%s: %d address violation(s)", runFunc, len(o.Reports))
	}
	logwriter.Good.Printf("%s returned %d\n", runFunc, int64(o.Value))
	return nil
}
