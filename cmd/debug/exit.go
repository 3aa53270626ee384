package debug

import (
	"github.com/spf13/cobra"
)

func newExitCmd(s *DebugSession) *cobra.Command {
	return &cobra.Command{
		Use:     "quit",
		Short:   "结束调试会话",
		Aliases: []string{"q", "exit"},
		Annotations: map[string]string{
			cmdGroupAnnotation: cmdGroupOthers,
		},
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// the inferior was started by us, it does not outlive the session
			return s.Quit()
		},
	}
}
