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
	"io/ioutil"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/staywilliam/asanopt/ir"
	"github.com/staywilliam/asanopt/logwriter"
)

// compareCmd represents the compare command
var compareCmd = &cobra.Command{
	Use:   "compare input",
	Short: "Compare optimised against unoptimised instrumentation",
	Long: `Compare optimised against unoptimised instrumentation.

The input is instrumented twice, once with every redundancy optimisation
disabled. The number of emitted checks of both is printed. With --func the
function is executed on both and their outcomes must agree.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return compareFile(args[0])
	},
}

var (
	compareFunc string // Function to execute
	compareArgs string // Comma separated integer arguments
)

func init() {
	RootCmd.AddCommand(compareCmd)

	compareCmd.Flags().StringVarP(&compareFunc, "func", "f", "", "function to execute on both versions")
	compareCmd.Flags().StringVarP(&compareArgs, "args", "a", "", "comma separated integer arguments")
}

func compareFile(file string) error {
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
	args, err := parseArgs(compareArgs)
	if err != nil {
		return err
	}
	optimised, err := loadModule(file, logger)
	if err != nil {
		return err
	}
	naive, _ := ir.CloneModule(optimised)
	naiveOpts := opts.Naive()

	pn, err := instrument(naive, naiveOpts, logger.WithField("version", "naive"))
	if err != nil {
		return err
	}
	po, err := instrument(optimised, opts, logger.WithField("version", "optimised"))
	if err != nil {
		return err
	}
	cn, co := pn.Stats.Snapshot(), po.Stats.Snapshot()
	logwriter.Info.Println("checks")
	fmt.Printf("  naive:     %d\n", cn.Checks())
	fmt.Printf("  optimised: %d (dominance -%d, neighbour -%d, merged %d into %d, loop %d)\n",
		co.Checks(), co.Dominance, co.Neighbor, co.Merged, co.MergedChecks, co.LoopInvariant+co.LoopMonotonic)

	if compareFunc == "" {
		return nil
	}
	on, err := execute(naive, naiveOpts, compareFunc, args, ioutil.Discard, logger)
	if err != nil {
		return err
	}
	oo, err := execute(optimised, opts, compareFunc, args, ioutil.Discard, logger)
	if err != nil {
		return err
	}
	if err := sameOutcome(on, oo, logger); err != nil {
		logwriter.Bad.Fprintln(os.Stdout, "outcomes differ")
		return err
	}
	logwriter.Good.Printf("outcomes agree: %s\n", describe(oo))
	return nil
}

func describe(o *outcome) string {
	if r := o.Fatal(); r != nil {
		return r.Bug
	}
	if o.Err != nil {
		return o.Err.Error()
	}
	if len(o.Reports) > 0 {
		return fmt.Sprintf("%d report(s)", len(o.Reports))
	}
	return fmt.Sprintf("returned %d", int64(o.Value))
}

var errMismatch = errors.New("optimised and naive outcomes differ")

// sameOutcome checks that the optimised version detects a violation
// exactly when the naive version does, with the same first bug. Checks
// moved to loop exits may report fewer times in recover mode, so report
// counts are not compared.
func sameOutcome(naive, optimised *outcome, logger *logrus.Entry) error {
	mismatch := fmt.Errorf("%w: naive %s, optimised %s", errMismatch, describe(naive), describe(optimised))
	if (len(naive.Reports) == 0) != (len(optimised.Reports) == 0) {
		return mismatch
	}
	if len(naive.Reports) > 0 {
		if naive.Reports[0].Bug != optimised.Reports[0].Bug {
			return mismatch
		}
		logger.WithField("bug", naive.Reports[0].Bug).Debug("first report matched")
	}
	if naive.Fatal() == nil && optimised.Fatal() == nil && naive.Err == nil && naive.Value != optimised.Value {
		return mismatch
	}
	return nil
}
