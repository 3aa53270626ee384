package debug

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/cosiner/argv"
	"github.com/derekparker/trie"
	"github.com/peterh/liner"
	"github.com/spf13/cobra"
	"go.uber.org/atomic"
	"golang.org/x/sys/unix"

	"github.com/hitzhangjie/deet/pkg/config"
	"github.com/hitzhangjie/deet/pkg/logflags"
	"github.com/hitzhangjie/deet/pkg/symbol"
	"github.com/hitzhangjie/deet/pkg/target"
)

const (
	cmdGroupAnnotation = "cmd_group_annotation"

	cmdGroupBreakpoints = "1-breaks"
	cmdGroupSource      = "2-source"
	cmdGroupCtrlFlow    = "3-execute"
	cmdGroupInfo        = "4-info"
	cmdGroupOthers      = "5-other"
	cmdGroupCobra       = "other"

	cmdGroupDelimiter = "-"

	descShort = "deet interactive debugging commands"
)

// DebugSession 调试会话
//
// A session owns the breakpoint table and at most one inferior. Replacing
// the inferior always kills the old one first.
type DebugSession struct {
	cfg     *config.Config
	bi      *symbol.BinaryInfo
	program string // path of the target executable

	bps      *target.Breakpoints
	inferior *target.Inferior
	pid      *atomic.Int64 // live inferior pid, 0 if none, read by the signal handler

	out   io.Writer
	color bool
	liner *liner.State
	words *trie.Trie // verbs and aliases, for completion

	done bool
}

// NewDebugSession creates a session debugging program, whose symbols are bi.
// Command output goes to out.
func NewDebugSession(cfg *config.Config, bi *symbol.BinaryInfo, program string, out io.Writer) *DebugSession {
	s := &DebugSession{
		cfg:     cfg,
		bi:      bi,
		program: program,
		bps:     target.NewBreakpoints(),
		pid:     atomic.NewInt64(0),
		out:     out,
		words:   trie.New(),
	}
	for _, c := range s.newRoot().Commands() {
		s.words.Add(c.Name(), nil)
		for _, alias := range c.Aliases {
			s.words.Add(alias, nil)
		}
	}
	return s
}

// EnableColor turns on coloured execution reports.
func (s *DebugSession) EnableColor(on bool) *DebugSession {
	s.color = on
	return s
}

// Breakpoints returns the breakpoint table of the session.
func (s *DebugSession) Breakpoints() *target.Breakpoints {
	return s.bps
}

// Inferior returns the live inferior, or nil.
func (s *DebugSession) Inferior() *target.Inferior {
	return s.inferior
}

// Done reports whether the session was asked to quit.
func (s *DebugSession) Done() bool {
	return s.done
}

// newRoot builds a fresh command tree, flags must not leak from one command
// line into the next.
func (s *DebugSession) newRoot() *cobra.Command {
	root := &cobra.Command{
		Use:           "help [command]",
		Short:         descShort,
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.SetOut(s.out)
	root.SetErr(s.out)
	root.SetHelpFunc(func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(s.out, cmd.Short)
		fmt.Fprintln(s.out)
		fmt.Fprintln(s.out, cmd.Use)
		if usage := cmd.Flags().FlagUsages(); usage != "" {
			fmt.Fprintln(s.out, usage)
		}
		if cmd == root {
			fmt.Fprintln(s.out, helpMessageByGroups(cmd))
		}
	})

	root.AddCommand(
		newRunCmd(s),
		newContinueCmd(s),
		newBreakCmd(s),
		newBreaksCmd(s),
		newBacktraceCmd(s),
		newDisassCmd(s),
		newExitCmd(s),
	)
	root.InitDefaultHelpCmd()
	return root
}

// Start runs the interactive loop until quit, ctrl-D or a fatal prompt
// error.
func (s *DebugSession) Start() {
	s.liner = liner.NewLiner()
	defer s.liner.Close()

	s.liner.SetCtrlCAborts(true)
	s.liner.SetCompleter(s.complete)
	s.liner.SetTabCompletionStyle(liner.TabPrints)

	stopSignals := s.handleSignals()
	defer stopSignals()

	s.loadHistory()

	for !s.done {
		line, err := s.liner.Prompt(s.cfg.Prompt)
		if err == liner.ErrPromptAborted {
			fmt.Fprintln(s.out, `Type "quit" to exit`)
			continue
		}
		if err == io.EOF {
			// ctrl-D
			fmt.Fprintln(s.out)
			s.Quit()
			break
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "read command error: %v\n", err)
			s.Quit()
			break
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		s.liner.AppendHistory(line)
		s.saveHistory()

		if err := s.Execute(line); err != nil {
			fmt.Fprintln(s.out, err)
		}
	}
}

// Execute runs one command line. Errors are command failures, the session
// stays usable.
func (s *DebugSession) Execute(line string) error {
	log := logflags.SessionLogger()

	tokens, err := tokenize(line)
	if err != nil {
		return err
	}
	if len(tokens) == 0 {
		return nil
	}
	log.Debugf("execute %q", tokens)

	root := s.newRoot()
	if cmd, _, err := root.Find(tokens); err != nil || cmd == root {
		return errUnrecognized
	}
	root.SetArgs(tokens)
	return root.Execute()
}

var errUnrecognized = errors.New("Unrecognized command.")

func tokenize(line string) ([]string, error) {
	v, err := argv.Argv(line,
		func(s string) (string, error) {
			return "", fmt.Errorf("backtick not supported in '%s'", s)
		},
		nil)
	if err != nil {
		return nil, err
	}
	if len(v) != 1 {
		return nil, fmt.Errorf("illegal command line '%s'", line)
	}
	return v[0], nil
}

// Quit kills the inferior, if any, and ends the loop.
func (s *DebugSession) Quit() error {
	s.done = true
	return s.killInferior()
}

func (s *DebugSession) complete(line string) []string {
	if strings.ContainsAny(line, " \t") {
		return nil
	}
	words := s.words.PrefixSearch(line)
	sort.Strings(words)
	return words
}

func (s *DebugSession) loadHistory() {
	f, err := os.Open(s.cfg.HistoryFile)
	if err != nil {
		logflags.SessionLogger().Debugf("no history loaded: %v", err)
		return
	}
	defer f.Close()
	s.liner.ReadHistory(f)
}

func (s *DebugSession) saveHistory() {
	f, err := os.Create(s.cfg.HistoryFile)
	if err == nil {
		_, err = s.liner.WriteHistory(f)
		f.Close()
	}
	if err != nil {
		fmt.Fprintf(s.out, "Warning: failed to save history file at %s: %v\n", s.cfg.HistoryFile, err)
	}
}

// handleSignals keeps ctrl-C from killing the debugger, the inferior shares
// the terminal and reports its own SIGINT stop. SIGTERM and SIGQUIT take the
// inferior down with the debugger.
func (s *DebugSession) handleSignals() (stop func()) {
	ch := make(chan os.Signal, 16)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		for sig := range ch {
			switch sig {
			case syscall.SIGINT:
			case syscall.SIGTERM, syscall.SIGQUIT:
				if pid := s.pid.Load(); pid > 0 {
					unix.Kill(int(pid), unix.SIGKILL)
				}
				if s.liner != nil {
					s.liner.Close()
				}
				os.Exit(1)
			}
		}
	}()

	return func() {
		signal.Stop(ch)
		close(ch)
	}
}

// helpMessageByGroups 将各个命令按照分组归类，再展示帮助信息
func helpMessageByGroups(cmd *cobra.Command) string {

	// key:group, val:sorted commands in same group
	groups := map[string][]string{}
	for _, c := range cmd.Commands() {
		// 如果没有指定命令分组，放入other组
		groupName, ok := c.Annotations[cmdGroupAnnotation]
		if !ok {
			groupName = cmdGroupCobra
		}

		line := fmt.Sprintf("  %-16s:%s", c.Name(), c.Short)
		if len(c.Aliases) != 0 {
			line += fmt.Sprintf(" (alias: %s)", strings.Join(c.Aliases, ", "))
		}
		groups[groupName] = append(groups[groupName], line)
	}

	if len(groups[cmdGroupCobra]) != 0 {
		groups[cmdGroupOthers] = append(groups[cmdGroupOthers], groups[cmdGroupCobra]...)
	}
	delete(groups, cmdGroupCobra)

	// 按照分组名进行排序
	groupNames := []string{}
	for k := range groups {
		groupNames = append(groupNames, k)
	}
	sort.Strings(groupNames)

	// 按照group分组，并对组内命令进行排序
	buf := bytes.Buffer{}
	for _, groupName := range groupNames {
		commands := groups[groupName]
		sort.Strings(commands)

		group := strings.Split(groupName, cmdGroupDelimiter)[1]
		buf.WriteString(fmt.Sprintf("- [%s]\n", group))

		for _, cmd := range commands {
			buf.WriteString(fmt.Sprintf("%s\n", cmd))
		}
		buf.WriteString("\n")
	}
	return buf.String()
}
