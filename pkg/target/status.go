package target

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// StatusKind what the last wait event said about the inferior
type StatusKind int

const (
	Running StatusKind = iota
	Stopped
	Exited
	Signaled
)

// Status is the state of the inferior after its last wait event.
type Status struct {
	Kind     StatusKind
	Signal   unix.Signal // Stopped and Signaled
	PC       uint64      // Stopped, rewound to the breakpoint address after a breakpoint trap
	ExitCode int         // Exited
}

// Alive reports whether the process still exists.
func (s Status) Alive() bool {
	return s.Kind == Running || s.Kind == Stopped
}

func (s Status) String() string {
	switch s.Kind {
	case Running:
		return "running"
	case Stopped:
		return fmt.Sprintf("stopped: %v at %#x", s.Signal, s.PC)
	case Exited:
		return fmt.Sprintf("exited: %d", s.ExitCode)
	case Signaled:
		return fmt.Sprintf("signaled: %v", s.Signal)
	default:
		return fmt.Sprintf("unknown status %d", int(s.Kind))
	}
}

func desc(status *unix.WaitStatus) string {
	switch {
	case status.Exited():
		return fmt.Sprintf("exited: %d", status.ExitStatus())
	case status.Signaled():
		return "signaled: " + status.Signal().String()
	case status.Stopped():
		return "stopped: " + status.StopSignal().String()
	case status.Continued():
		return "continued"
	default:
		return fmt.Sprintf("%#x", uint32(*status))
	}
}
