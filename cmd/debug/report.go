package debug

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/hitzhangjie/deet/pkg/target"
)

const (
	colorReset  = "\x1b[0m"
	colorRed    = "\x1b[31m"
	colorGreen  = "\x1b[32m"
	colorYellow = "\x1b[33m"
)

func (s *DebugSession) colorf(color, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	if s.color {
		msg = color + msg + colorReset
	}
	fmt.Fprintln(s.out, msg)
}

// setInferior takes ownership of inf, the slot must be empty.
func (s *DebugSession) setInferior(inf *target.Inferior) {
	s.inferior = inf
	s.pid.Store(int64(inf.Pid()))
}

func (s *DebugSession) clearInferior() {
	s.inferior = nil
	s.pid.Store(0)
}

// killInferior kills and reaps the live inferior. The slot keeps the
// inferior if it could not be killed.
func (s *DebugSession) killInferior() error {
	if s.inferior == nil {
		return nil
	}
	if err := s.inferior.Kill(); err != nil {
		return err
	}
	s.clearInferior()
	return nil
}

// resume continues the inferior and reports where it ended up.
func (s *DebugSession) resume() error {
	inf := s.inferior
	if inf == nil {
		return &NoInferiorError{}
	}

	st, err := inf.Resume()
	if err != nil {
		if inf.Exited() {
			s.clearInferior()
		}
		return err
	}
	s.report(st)
	return nil
}

func (s *DebugSession) report(st target.Status) {
	switch st.Kind {
	case target.Stopped:
		s.colorf(colorYellow, "Child stopped (signal %s)", unix.SignalName(st.Signal))
		if line, ok := s.bi.LineForAddress(st.PC); ok {
			fmt.Fprintf(s.out, "Stopped at %s\n", line)
		} else {
			fmt.Fprintf(s.out, "Stopped at %#x\n", st.PC)
		}
	case target.Exited:
		s.clearInferior()
		color := colorGreen
		if st.ExitCode != 0 {
			color = colorRed
		}
		s.colorf(color, "Child exited (status %d)", st.ExitCode)
	case target.Signaled:
		s.clearInferior()
		s.colorf(colorRed, "Child exited (signal %s)", unix.SignalName(st.Signal))
	}
}
