// Package cmd implements the arthook command line tool.
package cmd

import (
	"os"
	"strings"

	"github.com/apex/log"
	clihander "github.com/apex/log/handlers/cli"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pboyd/arthook"
	"github.com/pboyd/arthook/isa"
)

var (
	colorTitle = color.New(color.Bold, color.FgHiBlue).SprintFunc()
	colorKey   = color.New(color.Bold, color.FgHiGreen).SprintFunc()
	colorFaint = color.New(color.Faint).SprintFunc()
	colorOK    = color.New(color.FgHiGreen).SprintFunc()
	colorFail  = color.New(color.FgHiRed).SprintFunc()
)

var rootCmd = &cobra.Command{
	Use:           "arthook",
	Short:         "Inspect method hook pages and the memory they need",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if viper.GetBool("verbose") {
			log.SetLevel(log.DebugLevel)
		}
		color.NoColor = color.NoColor || viper.GetBool("no-color")
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		log.Error(err.Error())
		os.Exit(1)
	}
}

func init() {
	log.SetHandler(clihander.Default)

	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.BoolP("verbose", "V", false, "verbose output")
	flags.Bool("no-color", false, "disable colorized output")
	flags.String("isa", "", "instruction set (arm, thumb2, arm64, x86)")
	flags.String("runtime-version", "", "runtime API level")
	flags.Int("pointer-size", 0, "pointer size in bytes")
	flags.String("small-functions", arthook.RedirectSmallFunctions.String(), "what to do with code too small to patch (redirect, reject)")
	flags.Int("patch-threshold", 0, "smallest code size patched in place (default: the size of a jump)")
	for _, name := range []string{"verbose", "no-color", "isa", "runtime-version", "pointer-size", "small-functions", "patch-threshold"} {
		viper.BindPFlag(name, flags.Lookup(name))
	}

	rootCmd.CompletionOptions.HiddenDefaultCmd = true
}

func initConfig() {
	viper.SetEnvPrefix("arthook")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

// registryOptions collects the registry options from flags and the
// environment.
func registryOptions() (arthook.Options, error) {
	var o arthook.Options
	if s := viper.GetString("isa"); s != "" {
		if err := o.ISA.UnmarshalText([]byte(s)); err != nil {
			return o, err
		}
	}
	if err := o.SmallFunctions.UnmarshalText([]byte(viper.GetString("small-functions"))); err != nil {
		return o, err
	}
	o.RuntimeVersion = viper.GetString("runtime-version")
	o.PointerSize = viper.GetInt("pointer-size")
	o.PatchThreshold = viper.GetInt("patch-threshold")
	return o, nil
}

func archOrDefault(a isa.Arch) isa.Arch {
	if a == 0 {
		return isa.ARM64
	}
	return a
}
