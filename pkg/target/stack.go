package target

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"golang.org/x/arch/x86/x86asm"

	"github.com/hitzhangjie/deet/pkg/symbol"
)

// SymbolLookup resolves addresses to functions and source lines.
// *symbol.BinaryInfo implements it.
type SymbolLookup interface {
	FunctionContaining(pc uint64) (*symbol.Function, bool)
	LineForAddress(pc uint64) (symbol.Line, bool)
}

// Frame is one resolved entry of a backtrace.
type Frame struct {
	PC       uint64
	Function string // "" when no function covers PC
	Line     symbol.Line
	HasLine  bool
}

func (f Frame) String() string {
	name := f.Function
	if name == "" {
		name = "??"
	}
	if !f.HasLine {
		return fmt.Sprintf("%s (%#x)", name, f.PC)
	}
	return fmt.Sprintf("%s (%s)", name, f.Line)
}

// Unwind walks the stack with the frame pointer convention of the System V
// x86-64 ABI. fp points at the saved frame pointer of the caller, the
// return address sits right above it:
//
//	fp+8: return address into the caller
//	fp+0: caller's fp
//
// The innermost function may not have set up its frame yet, see
// prologueOffset. Its return address is then read relative to sp and fp
// already belongs to the caller.
//
// Walking stops after a frame whose function is one of entry. A zero frame
// pointer, a chain that does not move towards higher addresses, an
// unreadable frame or more than maxDepth frames stop it with an
// *UnwindError, returned together with the frames resolved so far.
func Unwind(regs Regs, mem MemoryReader, syms SymbolLookup, entry []string, maxDepth int) ([]Frame, error) {
	var (
		frames []Frame
		pc, fp = regs.PC, regs.FP
	)

	// the innermost pc is the stopped instruction, callers' pcs are return
	// addresses, which belong to the instruction after the call.
	lookupPC := pc
	for {
		if len(frames) >= maxDepth {
			return frames, &UnwindError{FP: fp, Reason: fmt.Sprintf("more than %d frames", maxDepth)}
		}

		frame := Frame{PC: pc}
		fn, found := syms.FunctionContaining(lookupPC)
		if found {
			frame.Function = fn.Name()
		}
		frame.Line, frame.HasLine = syms.LineForAddress(lookupPC)
		frames = append(frames, frame)

		if isEntry(frame.Function, entry) {
			return frames, nil
		}

		if len(frames) == 1 && found {
			if off, ok := prologueOffset(mem, fn, pc); ok {
				buf, err := mem.ReadMemory(regs.SP+off, ptrSize)
				if err != nil {
					return frames, &UnwindError{FP: fp, Reason: "cannot read return address", Err: err}
				}
				ret := binary.LittleEndian.Uint64(buf)
				pc, lookupPC = ret, ret-1
				continue
			}
		}

		if fp == 0 {
			return frames, &UnwindError{FP: fp, Reason: "frame pointer is zero"}
		}

		buf, err := mem.ReadMemory(fp, 2*ptrSize)
		if err != nil {
			return frames, &UnwindError{FP: fp, Reason: "cannot read frame", Err: err}
		}
		nextFP := binary.LittleEndian.Uint64(buf[:ptrSize])
		ret := binary.LittleEndian.Uint64(buf[ptrSize:])

		if nextFP != 0 && nextFP <= fp {
			return frames, &UnwindError{FP: fp, Reason: fmt.Sprintf("caller frame pointer %#x is not above it", nextFP)}
		}
		pc, fp, lookupPC = ret, nextFP, ret-1
	}
}

// maxPrologueLen bounds how far into a function the prologue is decoded.
const maxPrologueLen = 32

// endbr64 opens functions built with -fcf-protection.
var endbr64 = []byte{0xf3, 0x0f, 0x1e, 0xfa}

// prologueOffset reports whether fn, stopped at pc, has not set up its
// frame yet, and where the return address is relative to sp then:
//
//	before push rbp:               [sp]
//	after push rbp, before mov:    [sp+8]
//
// Instructions from the entry up to pc are decoded. A frame is taken as set
// up once mov rbp, rsp ran, or when anything other than push rbp moved sp
// first. Without readable code only a stop right at the entry counts.
func prologueOffset(mem MemoryReader, fn *symbol.Function, pc uint64) (uint64, bool) {
	entry := fn.Entry()
	if pc < entry || pc-entry >= maxPrologueLen {
		return 0, false
	}

	size := pc - entry + maxInstLen
	if end := fn.End(); end > entry && size > end-entry {
		size = end - entry
	}
	code, err := mem.ReadMemory(entry, int(size))
	if err != nil {
		return 0, pc == entry
	}

	pushed := false
	for addr := entry; addr < entry+uint64(len(code)); {
		if addr == pc {
			if pushed {
				return ptrSize, true
			}
			return 0, true
		}
		rest := code[addr-entry:]
		if bytes.HasPrefix(rest, endbr64) {
			addr += uint64(len(endbr64))
			continue
		}
		inst, err := x86asm.Decode(rest, 64)
		if err != nil {
			return 0, false
		}
		switch {
		case inst.Op == x86asm.PUSH && inst.Args[0] == x86asm.RBP && !pushed:
			pushed = true
		case inst.Op == x86asm.MOV && inst.Args[0] == x86asm.RBP && inst.Args[1] == x86asm.RSP:
			return 0, false
		case movesSP(inst):
			return 0, false
		}
		addr += uint64(inst.Len)
	}
	return 0, false
}

func movesSP(inst x86asm.Inst) bool {
	switch inst.Op {
	case x86asm.PUSH, x86asm.POP, x86asm.CALL:
		return true
	case x86asm.SUB, x86asm.ADD, x86asm.AND, x86asm.MOV, x86asm.LEA:
		return inst.Args[0] == x86asm.RSP
	}
	return false
}

func isEntry(name string, entry []string) bool {
	if name == "" {
		return false
	}
	for _, e := range entry {
		if name == e {
			return true
		}
	}
	return false
}

// Backtrace unwinds the stack of the stopped inferior.
func (inf *Inferior) Backtrace(syms SymbolLookup, entry []string, maxDepth int) ([]Frame, error) {
	regs, err := inf.Registers()
	if err != nil {
		return nil, err
	}
	return Unwind(regs, codeReader{inf}, syms, entry, maxDepth)
}

// codeReader reads the inferior's memory with installed breakpoints shown
// as the bytes they replaced.
type codeReader struct {
	inf *Inferior
}

func (r codeReader) ReadMemory(addr uint64, size int) ([]byte, error) {
	dat, err := r.inf.ReadMemory(addr, size)
	if err != nil {
		return nil, err
	}
	r.inf.shadowBreakpoints(addr, dat)
	return dat, nil
}
