package debug

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newBacktraceCmd(s *DebugSession) *cobra.Command {
	return &cobra.Command{
		Use:     "backtrace",
		Short:   "打印调用栈信息",
		Aliases: []string{"bt", "back"},
		Annotations: map[string]string{
			cmdGroupAnnotation: cmdGroupInfo,
		},
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if s.inferior == nil {
				return &NoInferiorError{}
			}

			frames, err := s.inferior.Backtrace(s.bi, s.cfg.EntryFunctions, s.cfg.MaxStackDepth)
			for _, f := range frames {
				fmt.Fprintln(s.out, f)
			}
			return err
		},
	}
}
