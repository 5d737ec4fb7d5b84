package cmd

import (
	"fmt"
	"reflect"
	"runtime"
	"strconv"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/pboyd/arthook"
	"github.com/pboyd/arthook/isa"
	"github.com/pboyd/arthook/memory"
)

func init() {
	rootCmd.AddCommand(probeCmd)

	probeCmd.Flags().String("entry", "", "code address to try to unprotect (default: a function in this process)")
}

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Check what this process may do with executable memory",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		entry := uint64(reflect.ValueOf(probeTarget).Pointer())
		if s, _ := cmd.Flags().GetString("entry"); s != "" {
			v, err := strconv.ParseUint(s, 0, 64)
			if err != nil {
				return errors.Wrapf(err, "invalid entry %q", s)
			}
			entry = v
		}

		arch, err := isa.Detect(runtime.GOARCH, true)
		if err != nil {
			fmt.Printf("%s %s\n", colorKey("isa:      "), colorFail(err.Error()))
		} else {
			enc, _ := isa.Select(arch)
			fmt.Printf("%s %s\n", colorKey("isa:      "), enc.Name())
		}

		c, err := arthook.Probe(memory.NewHost(), entry, 16)
		fmt.Printf("%s %s\n", colorKey("map exec: "), yesNo(c.MapExecutable))
		fmt.Printf("%s %s %s\n", colorKey("unprotect:"), yesNo(c.Unprotect), colorFaint(fmt.Sprintf("%#x", entry)))
		fmt.Printf("%s %s\n", colorKey("patchable:"), yesNo(c.Patchable()))
		return err
	},
}

//go:noinline
func probeTarget() {}

func yesNo(ok bool) string {
	if ok {
		return colorOK("yes")
	}
	return colorFail("no")
}
