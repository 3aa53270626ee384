package target

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/hitzhangjie/deet/pkg/logflags"
)

// Inferior 被调试进程信息
//
// An Inferior owns exactly one traced child. All ptrace requests and waits
// for it go through ExecPtrace, which runs them on one locked OS thread:
// the kernel only accepts requests from the thread that became the tracer.
type Inferior struct {
	Process *os.Process // 进程信息
	Command string      // 进程启动命令
	Args    []string    // 进程启动参数

	breakpoints *Breakpoints
	status      Status

	once       *sync.Once
	ptraceCh   chan func()   // ptrace请求统一发送到这里，由专门协程处理
	ptraceDone chan struct{} // ptrace请求完成
	stopCh     chan struct{} // 通知需要停止调试
	stopOnce   *sync.Once
}

// Launch starts cmd with args under trace and installs every breakpoint in
// bps. The child stops right after execve, before any of its own code runs,
// so the breakpoints land at their final load addresses.
//
// A breakpoint that cannot be installed stays pending (Installed is false)
// and does not fail the launch.
func Launch(cmd string, args []string, bps *Breakpoints) (*Inferior, error) {
	inf := &Inferior{
		Command:     cmd,
		Args:        args,
		breakpoints: bps,
		status:      Status{Kind: Running},
		once:        &sync.Once{},
		ptraceCh:    make(chan func()),
		ptraceDone:  make(chan struct{}),
		stopCh:      make(chan struct{}),
		stopOnce:    &sync.Once{},
	}

	var err error
	inf.ExecPtrace(func() {
		err = inf.launchCommand(cmd, args...)
	})
	if err != nil {
		inf.StopPtrace()
		return nil, &ProcessLaunchError{Path: cmd, Err: err}
	}

	log := logflags.TargetLogger()
	for _, bp := range bps.Entries() {
		if err := Install(inf, bp); err != nil {
			log.Debugf("breakpoint %d at %#x left pending: %v", bp.ID, bp.Addr, err)
		}
	}
	return inf, nil
}

// launchCommand execute `execName` with `args` and waits for the SIGTRAP
// stop that follows execve under PTRACE_TRACEME.
//
// The child keeps the debugger's process group and stdio, so terminal
// signals such as ctrl-C reach it and show up as signal stops.
func (inf *Inferior) launchCommand(execName string, args ...string) error {
	progCmd := exec.Command(execName, args...)
	progCmd.Stdin = os.Stdin
	progCmd.Stdout = os.Stdout
	progCmd.Stderr = os.Stderr
	progCmd.Env = os.Environ()
	progCmd.SysProcAttr = &syscall.SysProcAttr{
		Ptrace: true, // implies PTRACE_TRACEME
	}

	// start the process
	if err := progCmd.Start(); err != nil {
		return err
	}
	inf.Process = progCmd.Process

	status, err := waitInitialStop(inf.Process.Pid)
	if err != nil {
		return err
	}
	inf.status = status

	logflags.TargetLogger().Debugf("process %d stopped after exec at %#x", inf.Process.Pid, inf.status.PC)
	return nil
}

// waitInitialStop waits for the SIGTRAP stop that follows execve. On any
// failure the child is killed and reaped, it never runs untraced.
func waitInitialStop(pid int) (Status, error) {
	var ws unix.WaitStatus
	abort := func(err error) (Status, error) {
		unix.Kill(pid, unix.SIGKILL)
		unix.Wait4(pid, &ws, unix.WALL, nil)
		return Status{}, err
	}

	if _, err := unix.Wait4(pid, &ws, unix.WALL, nil); err != nil {
		return abort(fmt.Errorf("wait for initial stop: %w", err))
	}
	if !ws.Stopped() {
		return abort(fmt.Errorf("process %d did not stop after exec: %s", pid, desc(&ws)))
	}

	var regs unix.PtraceRegs
	if err := unix.PtraceGetRegs(pid, &regs); err != nil {
		return abort(fmt.Errorf("get regs: %w", err))
	}
	return Status{Kind: Stopped, Signal: ws.StopSignal(), PC: regs.PC()}, nil
}

// ExecPtrace runs fn on the tracer thread and waits for it to return.
func (inf *Inferior) ExecPtrace(fn func()) {
	inf.once.Do(func() {
		go func() {
			// ensure all ptrace requests goes via the same tracer (thread)
			//
			// issue: https://github.com/golang/go/issues/7699
			runtime.LockOSThread()
			defer runtime.UnlockOSThread()

			for {
				select {
				case reqFn := <-inf.ptraceCh:
					reqFn()
					inf.ptraceDone <- struct{}{}
				case <-inf.stopCh:
					return
				}
			}
		}()
	})

	select {
	case inf.ptraceCh <- fn:
		<-inf.ptraceDone
	case <-inf.stopCh:
	}
}

// StopPtrace releases the tracer thread.
func (inf *Inferior) StopPtrace() {
	inf.stopOnce.Do(func() {
		close(inf.stopCh)
	})
}

// Pid returns the process id of the inferior.
func (inf *Inferior) Pid() int {
	return inf.Process.Pid
}

// Status returns the result of the last wait event.
func (inf *Inferior) Status() Status {
	return inf.status
}

// Exited reports whether the process is gone.
func (inf *Inferior) Exited() bool {
	return !inf.status.Alive()
}

// AddBreakpoint patches bp into the live image.
func (inf *Inferior) AddBreakpoint(bp *Breakpoint) error {
	if inf.Exited() {
		return &ProcessExitedError{Pid: inf.Pid()}
	}
	return Install(inf, bp)
}

// Resume continues the inferior and blocks until it stops, exits or is
// killed by a signal.
//
// When the inferior sits on one of our breakpoints the original byte is put
// back, one instruction is single-stepped and the trap is re-installed
// before continuing, otherwise it would trap on the same address again.
//
// A process killed from outside is reaped and reported like any other
// termination.
func (inf *Inferior) Resume() (Status, error) {
	status, err := inf.resume()
	if err != nil && errors.Is(err, unix.ESRCH) && inf.status.Alive() {
		return inf.wait(false)
	}
	return status, err
}

func (inf *Inferior) resume() (Status, error) {
	if inf.Exited() {
		return inf.status, &ProcessExitedError{Pid: inf.Pid()}
	}

	if bp, ok := inf.breakpoints.Find(inf.status.PC); ok && bp.Installed && inf.status.Kind == Stopped {
		stopped, err := inf.stepOverBreakpoint(bp)
		if err != nil || stopped {
			return inf.status, err
		}
	}

	sig := inf.pendingSignal()
	var err error
	inf.ExecPtrace(func() {
		err = unix.PtraceCont(inf.Pid(), int(sig))
	})
	if err != nil {
		return inf.status, &TraceControlError{Op: "ptrace cont", Pid: inf.Pid(), Err: err}
	}
	logflags.TargetLogger().Debugf("process %d continued with signal %d", inf.Pid(), sig)
	inf.status = Status{Kind: Running}

	return inf.wait(true)
}

// stepOverBreakpoint executes the instruction under bp. It reports true when
// that step did not end in the expected single-step trap, in which case the
// new status is the one to report.
func (inf *Inferior) stepOverBreakpoint(bp *Breakpoint) (bool, error) {
	if err := Uninstall(inf, bp); err != nil {
		return false, err
	}

	var err error
	inf.ExecPtrace(func() {
		err = unix.PtraceSingleStep(inf.Pid())
	})
	if err != nil {
		return false, &TraceControlError{Op: "ptrace singlestep", Pid: inf.Pid(), Err: err}
	}

	status, err := inf.wait(false)
	if err != nil {
		return false, err
	}
	if !status.Alive() {
		return true, nil
	}
	if err := Install(inf, bp); err != nil {
		return false, err
	}
	return status.Signal != unix.SIGTRAP, nil
}

// pendingSignal returns the signal the last stop should deliver when the
// inferior is continued. Debugger traps, ctrl-C and stops are swallowed.
func (inf *Inferior) pendingSignal() unix.Signal {
	if inf.status.Kind != Stopped {
		return 0
	}
	switch inf.status.Signal {
	case unix.SIGTRAP, unix.SIGINT, unix.SIGSTOP:
		return 0
	default:
		return inf.status.Signal
	}
}

// wait blocks until the next event of the inferior and records it. With
// rewind set, a SIGTRAP right after one of our breakpoints moves the pc
// back onto the breakpoint address.
func (inf *Inferior) wait(rewind bool) (Status, error) {
	var (
		ws  unix.WaitStatus
		err error
		pid = inf.Pid()
	)
	inf.ExecPtrace(func() {
		_, err = unix.Wait4(pid, &ws, unix.WALL, nil)
	})
	if err != nil {
		return inf.status, &TraceControlError{Op: "wait", Pid: pid, Err: err}
	}
	logflags.TargetLogger().Debugf("process %d status: %s", pid, desc(&ws))

	switch {
	case ws.Exited():
		inf.gone(Status{Kind: Exited, ExitCode: ws.ExitStatus()})
	case ws.Signaled():
		inf.gone(Status{Kind: Signaled, Signal: ws.Signal()})
	case ws.Stopped():
		regs, err := inf.Registers()
		if err != nil {
			return inf.status, err
		}
		pc := regs.PC
		if rewind && ws.StopSignal() == unix.SIGTRAP {
			if bp, ok := inf.breakpoints.Find(pc - trapWidth); ok && bp.Installed {
				pc -= trapWidth
				if err := inf.setPC(pc); err != nil {
					return inf.status, err
				}
			}
		}
		inf.status = Status{Kind: Stopped, Signal: ws.StopSignal(), PC: pc}
	default:
		return inf.status, &TraceControlError{Op: "wait", Pid: pid, Err: fmt.Errorf("unexpected status %s", desc(&ws))}
	}
	return inf.status, nil
}

// gone records a terminal status. The patched image died with the process,
// so every breakpoint is pending again.
func (inf *Inferior) gone(status Status) {
	inf.status = status
	inf.breakpoints.reset()
	inf.StopPtrace()
}

// Kill terminates the inferior and reaps it. Killing a process that has
// already exited is not an error.
func (inf *Inferior) Kill() error {
	if inf.Exited() {
		return nil
	}
	pid := inf.Pid()

	if err := unix.Kill(pid, unix.SIGKILL); err != nil && err != unix.ESRCH {
		return &TraceControlError{Op: "kill", Pid: pid, Err: err}
	}

	var (
		ws  unix.WaitStatus
		err error
	)
	inf.ExecPtrace(func() {
		for {
			_, err = unix.Wait4(pid, &ws, unix.WALL, nil)
			if err != nil || ws.Exited() || ws.Signaled() {
				return
			}
		}
	})
	if err != nil && err != unix.ECHILD {
		return &TraceControlError{Op: "wait", Pid: pid, Err: err}
	}
	logflags.TargetLogger().Debugf("process %d killed", pid)

	inf.gone(Status{Kind: Signaled, Signal: unix.SIGKILL})
	return nil
}

// Registers reads the registers of the stopped inferior.
func (inf *Inferior) Registers() (Regs, error) {
	if inf.Exited() {
		return Regs{}, &ProcessExitedError{Pid: inf.Pid()}
	}
	var (
		regs unix.PtraceRegs
		err  error
	)
	inf.ExecPtrace(func() {
		err = unix.PtraceGetRegs(inf.Pid(), &regs)
	})
	if err != nil {
		return Regs{}, &TraceControlError{Op: "get regs", Pid: inf.Pid(), Err: err}
	}
	return regsFrom(&regs), nil
}

func (inf *Inferior) setPC(pc uint64) error {
	var (
		regs unix.PtraceRegs
		err  error
	)
	inf.ExecPtrace(func() {
		if err = unix.PtraceGetRegs(inf.Pid(), &regs); err != nil {
			return
		}
		regs.SetPC(pc)
		err = unix.PtraceSetRegs(inf.Pid(), &regs)
	})
	if err != nil {
		return &TraceControlError{Op: "set pc", Pid: inf.Pid(), Addr: pc, Err: err}
	}
	return nil
}
