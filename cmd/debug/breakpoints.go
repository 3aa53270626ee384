package debug

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newBreaksCmd(s *DebugSession) *cobra.Command {
	return &cobra.Command{
		Use:     "breaks",
		Short:   "列出所有断点",
		Long:    "列出所有断点",
		Aliases: []string{"bs", "breakpoints"},
		Annotations: map[string]string{
			cmdGroupAnnotation: cmdGroupBreakpoints,
		},
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if s.bps.Len() == 0 {
				fmt.Fprintln(s.out, "No breakpoints.")
				return nil
			}

			tw := tabwriter.NewWriter(s.out, 0, 4, 2, ' ', 0)
			for _, bp := range s.bps.Entries() {
				state := "pending"
				if bp.Installed {
					state = "installed"
				}
				where := ""
				if fn, ok := s.bi.FunctionContaining(bp.Addr); ok {
					where = fn.Name()
				}
				if line, ok := s.bi.LineForAddress(bp.Addr); ok {
					where += " " + line.String()
				}
				fmt.Fprintf(tw, "%d\t%#x\t%s\t%s\n", bp.ID, bp.Addr, state, where)
			}
			return tw.Flush()
		},
	}
}
