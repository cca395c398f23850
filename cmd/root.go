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
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hitzhangjie/dbgfuncs/pkg/config"
	"github.com/hitzhangjie/dbgfuncs/pkg/logflags"
)

var (
	cfgFile string
	cfg     = config.Default()
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "dbgfuncs",
	Short: "dbgfuncs, a debugger capability layer with an interactive shell",
	Long: `dbgfuncs attaches to a process and exposes patching, call stack and
SEH chain walking, module and source line lookups through an interactive
shell.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if cfg, err = config.Load(viper.GetViper()); err != nil {
			return err
		}
		return logflags.Setup(cfg.Log, cfg.LogOutput)
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	d := config.Default()
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.dbgfuncs.yaml)")
	flags.Bool(config.KeyLog, d.Log, "enable debugger logging")
	flags.String(config.KeyLogOutput, d.LogOutput, "comma separated layers to log: patch,stack,seh,target,bridge,all")
	flags.Int(config.KeyMaxFrames, d.MaxFrames, "max frames of a call stack walk")
	flags.Int(config.KeyMaxSEHHops, d.MaxSEHHops, "max records of a SEH chain walk")
	flags.Int(config.KeyPtrSize, d.PtrSize, "pointer size of the debuggee, 4 or 8")
	flags.String(config.KeyWalkMode, d.WalkMode, "call stack walk mode: scan or framepointer")
	flags.Bool(config.KeyVerifyCall, d.VerifyCall, "only accept return addresses preceded by a call")
	flags.Int(config.KeySymbolCacheSize, d.SymbolCacheSize, "entries of the source line cache")

	config.SetDefaults(viper.GetViper())
	if err := config.BindFlags(viper.GetViper(), flags); err != nil {
		panic(err)
	}
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if err := config.ReadInConfig(viper.GetViper(), cfgFile); err != nil {
		fmt.Fprintf(os.Stderr, "read config: %v\n", err)
		os.Exit(1)
	}
	if used := viper.ConfigFileUsed(); used != "" {
		fmt.Println("Using config file:", used)
	}
}
