package debug

import (
	"github.com/spf13/cobra"
)

func newContinueCmd(s *DebugSession) *cobra.Command {
	return &cobra.Command{
		Use:     "continue",
		Short:   "运行到下个断点",
		Aliases: []string{"c", "cont"},
		Annotations: map[string]string{
			cmdGroupAnnotation: cmdGroupCtrlFlow,
		},
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return s.resume()
		},
	}
}
