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
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/staywilliam/asanopt/asan"
	"github.com/staywilliam/asanopt/logwriter"
)

var (
	cfgFile   string // Path to config file
	logFile   string // Path to log file
	noLogging bool   // Turn off logging
	noColour  bool   // Turn of colour output
	debug     bool   // Log every pass decision
)

// RootCmd represents the base command when called without any subcommands
var RootCmd = &cobra.Command{
	Use:   "asanopt",
	Short: "Address check instrumentation with redundant check elimination",
	Long: `asanopt inserts AddressSanitizer style checks in front of memory
accesses and removes the checks it can prove redundant.

This is the toplevel command.
Inputs are textual LLVM IR (.ll) or Go source files (.go).
Use "asanopt [command] inputs..." to process input files`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, logwriter.Bad.Sprint(err))
		os.Exit(1)
	}
}

// boolOptions are the instrumentation switches exposed as flags. The flag
// names are the configuration keys of asan.Options.
var boolOptions = []struct {
	name  string
	usage string
}{
	{"kernel", "instrument for the kernel address sanitizer"},
	{"recover", "report errors and continue"},
	{"instrument-reads", "instrument read accesses"},
	{"instrument-writes", "instrument write accesses"},
	{"instrument-atomics", "instrument atomic accesses"},
	{"always-slow-path", "always check partial granules"},
	{"detect-invalid-pointer-pair", "check pointer comparisons and subtractions"},
	{"opt", "enable redundant check elimination"},
	{"opt-same-temp", "check an address once per basic block"},
	{"opt-globals", "skip provably safe global accesses"},
	{"opt-stack", "skip provably safe stack accesses"},
	{"opt-dominance", "remove checks dominated by an equivalent check"},
	{"opt-neighbor", "remove and merge checks of neighbouring addresses"},
	{"opt-merge", "merge neighbouring checks into wide checks"},
	{"opt-loop", "move loop checks out of loops"},
	{"conservative-calls", "treat every call as freeing memory"},
}

func init() {
	cobra.OnInitialize(initConfig)

	RootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.asanopt.yaml)")
	RootCmd.PersistentFlags().StringVar(&logFile, "log", "", "path to log file (default is stderr)")
	RootCmd.PersistentFlags().BoolVar(&noLogging, "no-logging", false, "disable logging")
	RootCmd.PersistentFlags().BoolVar(&noColour, "no-colour", false, "disable colour output")
	RootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "log every instrumentation decision")

	def := asan.DefaultOptions()
	flags := RootCmd.PersistentFlags()
	flags.String("triple", def.Triple, "target triple selecting the shadow mapping")
	flags.Int("mapping-scale", def.MappingScale, "shadow scale override (-1 keeps the target default)")
	flags.Int64("mapping-offset", def.MappingOffset, "shadow offset override (-1 keeps the target default)")
	flags.Int("calls-threshold", def.CallsThreshold, "use callbacks above this many checks per function (-1 never)")
	flags.String("callback-prefix", def.CallbackPrefix, "prefix of the checker callbacks")
	flags.Int("max-ins-per-bb", def.MaxInsnsPerBB, "maximum instrumented instructions per basic block")
	flags.Uint32("force-experiment", def.ForceExperiment, "experiment id passed to the reporters")
	defaults := map[string]bool{
		"kernel":                      def.Kernel,
		"recover":                     def.Recover,
		"instrument-reads":            def.InstrumentReads,
		"instrument-writes":           def.InstrumentWrites,
		"instrument-atomics":          def.InstrumentAtomics,
		"always-slow-path":            def.AlwaysSlowPath,
		"detect-invalid-pointer-pair": def.DetectInvalidPointerPairs,
		"opt":                         def.Opt,
		"opt-same-temp":               def.OptSameTemp,
		"opt-globals":                 def.OptGlobals,
		"opt-stack":                   def.OptStack,
		"opt-dominance":               def.OptDominance,
		"opt-neighbor":                def.OptNeighbor,
		"opt-merge":                   def.OptMerge,
		"opt-loop":                    def.OptLoop,
		"conservative-calls":          def.ConservativeCalls,
	}
	flags.Bool("require-sanitize-attr", false, "only instrument LLVM functions marked sanitize_address")
	for _, o := range boolOptions {
		flags.Bool(o.name, defaults[o.name], o.usage)
	}
	flags.VisitAll(func(f *pflag.Flag) {
		if err := viper.BindPFlag(f.Name, f); err != nil {
			panic(err)
		}
	})
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" { // enable ability to specify config file via flag
		viper.SetConfigFile(cfgFile)
	}

	viper.SetConfigName(".asanopt") // name of config file (without extension)
	viper.AddConfigPath("$HOME")    // adding home directory as first search path
	viper.SetEnvPrefix("asanopt")   // ASANOPT_RECOVER etc.
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// options returns the instrumentation options from flags, environment
// and config file.
func options() (*asan.Options, error) {
	opts := asan.DefaultOptions()
	if err := viper.Unmarshal(opts); err != nil {
		return nil, fmt.Errorf("bad configuration: %w", err)
	}
	return opts, nil
}

// newLogWriter opens the log output selected by the persistent flags.
func newLogWriter() (*logwriter.Writer, error) {
	l := logwriter.NewFile(viper.GetString("log"), !viper.GetBool("no-logging"), !viper.GetBool("no-colour"))
	l.Debug = viper.GetBool("debug")
	if err := l.Create(); err != nil {
		return nil, err
	}
	return l, nil
}
