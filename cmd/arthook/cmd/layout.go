package cmd

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/pboyd/arthook/layout"
)

var fields = []layout.Field{
	layout.AccessFlags,
	layout.EntryInterpreted,
	layout.EntryNative,
	layout.EntryCompiled,
}

func init() {
	rootCmd.AddCommand(layoutCmd)
}

var layoutCmd = &cobra.Command{
	Use:   "layout [API level...]",
	Short: "Show method record layouts",
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			args = []string{"21", "22", "23", "24", "26"}
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		for _, v := range args {
			l, err := layout.ForVersion(v)
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "%s %s\n", colorTitle(fmt.Sprintf("[ API %s: %s ]", v, l.Name)), colorFaint(strings.Repeat("-", 40)))
			fmt.Fprintf(w, "%s\t%d\t%d\n", colorKey("size"), l.Size(4), l.Size(8))
			for _, f := range fields {
				if !l.Has(f) {
					continue
				}
				off32, width32, _ := l.Locate(f, 4)
				off64, width64, _ := l.Locate(f, 8)
				fmt.Fprintf(w, "%s\t%d:%d\t%d:%d\n", f, off32, width32, off64, width64)
			}
			fmt.Fprintln(w)
		}
		return w.Flush()
	},
}
