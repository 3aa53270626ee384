package target

import "fmt"

// AddressParseError bad breakpoint address spec
type AddressParseError struct {
	Spec string
	Err  error
}

func (e *AddressParseError) Error() string {
	return fmt.Sprintf("invalid address %q: expected [*][0x]HEX", e.Spec)
}

func (e *AddressParseError) Unwrap() error { return e.Err }

// DuplicateBreakpointError a breakpoint already exists at Addr
type DuplicateBreakpointError struct {
	Addr uint64
	ID   int
}

func (e *DuplicateBreakpointError) Error() string {
	return fmt.Sprintf("breakpoint %d already exists at %#x", e.ID, e.Addr)
}

// ProcessLaunchError the inferior could not be started or never reached
// its initial stop
type ProcessLaunchError struct {
	Path string
	Err  error
}

func (e *ProcessLaunchError) Error() string {
	return fmt.Sprintf("could not start %s: %v", e.Path, e.Err)
}

func (e *ProcessLaunchError) Unwrap() error { return e.Err }

// TraceControlError a ptrace request or wait against a live inferior failed
type TraceControlError struct {
	Op   string
	Pid  int
	Addr uint64
	Err  error
}

func (e *TraceControlError) Error() string {
	if e.Addr != 0 {
		return fmt.Sprintf("%s %#x of process %d: %v", e.Op, e.Addr, e.Pid, e.Err)
	}
	return fmt.Sprintf("%s of process %d: %v", e.Op, e.Pid, e.Err)
}

func (e *TraceControlError) Unwrap() error { return e.Err }

// ProcessExitedError the inferior is gone
type ProcessExitedError struct {
	Pid int
}

func (e *ProcessExitedError) Error() string {
	return fmt.Sprintf("process %d has exited", e.Pid)
}

// UnwindError the frame pointer chain could not be followed further
type UnwindError struct {
	FP     uint64
	Reason string
	Err    error
}

func (e *UnwindError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("unwind stopped at frame pointer %#x: %s: %v", e.FP, e.Reason, e.Err)
	}
	return fmt.Sprintf("unwind stopped at frame pointer %#x: %s", e.FP, e.Reason)
}

func (e *UnwindError) Unwrap() error { return e.Err }
