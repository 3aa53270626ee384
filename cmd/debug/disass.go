package debug

import (
	"github.com/spf13/cobra"

	"github.com/hitzhangjie/deet/pkg/target"
)

func newDisassCmd(s *DebugSession) *cobra.Command {
	disassCmd := &cobra.Command{
		Use:   "disass [address]",
		Short: "反汇编机器指令",
		Long: `反汇编机器指令，默认从当前PC开始。

已安装断点处显示的是原始指令。`,
		Aliases: []string{"dis", "disassemble"},
		Annotations: map[string]string{
			cmdGroupAnnotation: cmdGroupSource,
		},
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				max, _    = cmd.Flags().GetInt("max")
				syntax, _ = cmd.Flags().GetString("syntax")
			)
			if s.inferior == nil {
				return &NoInferiorError{}
			}

			addr := s.inferior.Status().PC
			if len(args) == 1 {
				v, err := target.ParseAddress(args[0])
				if err != nil {
					return err
				}
				addr = v
			}
			return s.inferior.Disassemble(s.out, addr, max, syntax, s.bi)
		},
	}

	disassCmd.Flags().IntP("max", "n", s.cfg.DisassembleCount, "反汇编指令数量")
	disassCmd.Flags().StringP("syntax", "s", s.cfg.DisassembleSyntax, "反汇编指令语法，支持：go, gnu, intel")
	return disassCmd
}
