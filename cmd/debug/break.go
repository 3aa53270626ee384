package debug

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hitzhangjie/deet/pkg/target"
)

func newBreakCmd(s *DebugSession) *cobra.Command {
	return &cobra.Command{
		Use:   "break <address>",
		Short: "在指令地址处添加断点",
		Long: `在指令地址处添加断点，地址为十六进制，支持以下格式:
- *0x401136
- 0x401136
- 401136

被调试进程正在运行时，断点立即生效。`,
		Aliases: []string{"b"},
		Annotations: map[string]string{
			cmdGroupAnnotation: cmdGroupBreakpoints,
		},
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := target.ParseAddress(args[0])
			if err != nil {
				return err
			}

			bp, err := s.bps.Add(addr)
			if err != nil {
				return err
			}
			fmt.Fprintf(s.out, "Set breakpoint %d at %#x\n", bp.ID, bp.Addr)

			if s.inferior == nil {
				return nil
			}
			if err := s.inferior.AddBreakpoint(bp); err != nil {
				return fmt.Errorf("breakpoint %d left pending: %w", bp.ID, err)
			}
			return nil
		},
	}
}
