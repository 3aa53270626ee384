package debug

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hitzhangjie/deet/pkg/target"
)

func newRunCmd(s *DebugSession) *cobra.Command {
	return &cobra.Command{
		Use:   "run [args...]",
		Short: "启动被调试程序，运行到第一个断点",
		Long: `启动被调试程序，运行到第一个断点。

正在运行的被调试进程会先被杀死，所有参数原样传给被调试程序。`,
		Aliases: []string{"r"},
		Annotations: map[string]string{
			cmdGroupAnnotation: cmdGroupCtrlFlow,
		},
		DisableFlagParsing: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := s.killInferior(); err != nil {
				return fmt.Errorf("kill running inferior: %w", err)
			}

			inf, err := target.Launch(s.program, args, s.bps)
			if err != nil {
				return err
			}
			s.setInferior(inf)

			for _, bp := range s.bps.Entries() {
				if !bp.Installed {
					fmt.Fprintf(s.out, "Warning: breakpoint %d at %#x could not be set\n", bp.ID, bp.Addr)
				}
			}
			return s.resume()
		},
	}
}
