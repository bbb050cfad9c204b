// Command spcdb is the CLI front end for the headless merge engine: one
// subcommand per engine-level entry point in SPEC_FULL.md §6.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/AltEvolutions/spcdb/internal/xerrors"
	"github.com/AltEvolutions/spcdb/internal/xlog"
)

var (
	// Version is set at build time via -ldflags.
	Version = "dev"

	cfgFile string

	rootCmd = &cobra.Command{
		Use:     "spcdb",
		Short:   "Merge a base disc with donor discs into a deduplicated output disc",
		Version: Version,
		Long: `spcdb indexes a base disc's song catalog plus zero or more donor discs,
detects conflicts where the same song id carries materially different
content across sources, and materializes a merged output disc folder
containing a deterministic subset of songs drawn from the chosen winning
source of each selected song.`,
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./spcdb.yaml)")
	rootCmd.PersistentFlags().String("state-dir", "", "engine state directory (index cache lives under here)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolP("quiet", "q", false, "quiet output (errors only)")
	rootCmd.PersistentFlags().Bool("no-color", false, "disable colorized log output")

	viper.BindPFlag("state_dir", rootCmd.PersistentFlags().Lookup("state-dir"))
	viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	viper.BindPFlag("quiet", rootCmd.PersistentFlags().Lookup("quiet"))
	viper.BindPFlag("no_color", rootCmd.PersistentFlags().Lookup("no-color"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName("spcdb")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("SPCDB")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil && !viper.GetBool("quiet") {
		xlog.Infof("using config file: %s", viper.ConfigFileUsed())
	}

	xlog.SetVerbose(viper.GetBool("verbose"))
	xlog.SetQuiet(viper.GetBool("quiet"))
	xlog.SetColors(!viper.GetBool("no_color"))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCodeFor(err))
	}
}

// exitCodeFor maps the engine's error taxonomy onto the process exit codes
// named in SPEC_FULL.md §6: 0 success (handled by Execute returning nil),
// 2 for the distinct BuildBlocked category, 1 for every other ERROR-class
// failure.
func exitCodeFor(err error) int {
	var xerr *xerrors.Error
	if errors.As(err, &xerr) && xerr.Kind == xerrors.KindBlocked {
		return 2
	}
	return 1
}
