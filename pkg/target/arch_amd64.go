package target

import (
	"golang.org/x/sys/unix"
)

// x86-64: int3 is a single byte and the kernel reports the address after
// it on the trap.
var trapInstruction = []byte{0xCC}

const (
	trapWidth = 1
	ptrSize   = 8
)

// Regs is the register subset used for stopping and unwinding.
type Regs struct {
	PC uint64
	FP uint64 // rbp
	SP uint64 // rsp
}

func regsFrom(r *unix.PtraceRegs) Regs {
	return Regs{PC: r.PC(), FP: r.Rbp, SP: r.Rsp}
}
