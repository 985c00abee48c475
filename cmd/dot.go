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

	"github.com/staywilliam/asanopt/dot"
)

// dotCmd represents the dot command
var dotCmd = &cobra.Command{
	Use:   "dot input",
	Short: "Print the control flow graph of a function in Graphviz format",
	Long: `Print the control flow graph of a function in Graphviz format.

Unless --no-instrument is given the input is instrumented first, and the
blocks holding checks are highlighted.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return dotFile(args[0])
	},
}

var (
	dotFunc         string // Function to render
	dotNoInstrument bool   // Render the input as is
)

func init() {
	RootCmd.AddCommand(dotCmd)

	dotCmd.Flags().StringVarP(&dotFunc, "func", "f", "main", "function to render")
	dotCmd.Flags().BoolVar(&dotNoInstrument, "no-instrument", false, "render without instrumentation")
}

func dotFile(file string) error {
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
	m, err := loadModule(file, logger)
	if err != nil {
		return err
	}
	if !dotNoInstrument {
		if _, err := instrument(m, opts, logger); err != nil {
			return err
		}
	}
	f := m.Func(dotFunc)
	if f == nil {
		return fmt.Errorf("%s: no function %s", file, dotFunc)
	}
	return dot.Write(os.Stdout, f, opts.CallbackPrefix)
}
