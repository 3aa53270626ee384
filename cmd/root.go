/*
Copyright © 2020 hit.zhangjie@gmail.com

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cmd

import (
	"os"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hitzhangjie/deet/cmd/debug"
	"github.com/hitzhangjie/deet/pkg/config"
	"github.com/hitzhangjie/deet/pkg/logflags"
	"github.com/hitzhangjie/deet/pkg/symbol"
)

// New returns the root command: `deet <target>`.
func New() *cobra.Command {
	var (
		cfgFile     string
		logEnabled  bool
		logOutput   string
		noColor     bool
		dumpSymbols bool
	)
	v := viper.New()

	rootCmd := &cobra.Command{
		Use:   "deet <target>",
		Short: "deet is a debugger for linux/amd64 executables",
		Long: `deet is a debugger for linux/amd64 executables.

The target is loaded with its DWARF debug information and started under
ptrace by the "run" command of the interactive session. Breakpoints are
set on instruction addresses.`,
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := logflags.Setup(logEnabled, logOutput); err != nil {
				return err
			}

			conf, err := config.Load(v, cfgFile)
			if err != nil {
				return err
			}

			bi, err := symbol.Load(args[0])
			if err != nil {
				return err
			}

			if dumpSymbols {
				bi.Dump(cmd.OutOrStdout())
				return nil
			}

			color := conf.Color && !noColor && isatty.IsTerminal(os.Stdout.Fd())
			debug.NewDebugSession(conf, bi, args[0], colorable.NewColorableStdout()).
				EnableColor(color).
				Start()
			return nil
		},
	}

	fs := rootCmd.Flags()
	fs.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.deet/config.yml)")
	fs.BoolVar(&logEnabled, "log", false, "enable debug logging")
	fs.StringVar(&logOutput, "log-output", "", "comma separated list of layers that should produce debug output: target, symbol, session")
	fs.String("prompt", "", "prompt of the interactive session")
	fs.String("history-file", "", "file keeping the command history")
	fs.BoolVar(&noColor, "no-color", false, "disable coloured output")
	fs.BoolVar(&dumpSymbols, "dump-symbols", false, "print the functions and compile units of the target and exit")

	if err := config.BindFlags(v, fs); err != nil {
		panic(err)
	}
	return rootCmd
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := New().Execute(); err != nil {
		os.Exit(1)
	}
}
