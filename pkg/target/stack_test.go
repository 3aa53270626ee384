package target

import (
	"encoding/binary"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitzhangjie/deet/pkg/symbol"
)

type fakeSymbols struct {
	funcs []*symbol.Function
}

func (s *fakeSymbols) FunctionContaining(pc uint64) (*symbol.Function, bool) {
	for _, fn := range s.funcs {
		if fn.Contains(pc) {
			return fn, true
		}
	}
	return nil, false
}

func (s *fakeSymbols) LineForAddress(pc uint64) (symbol.Line, bool) {
	fn, ok := s.FunctionContaining(pc)
	if !ok {
		return symbol.Line{}, false
	}
	return symbol.Line{File: fn.Name() + ".c", Line: int(pc - fn.Entry()), Address: pc}, true
}

var fakeSyms = &fakeSymbols{funcs: []*symbol.Function{
	symbol.NewFunction("leaf", 0x1000, 0x1100),
	symbol.NewFunction("middle", 0x2000, 0x2100),
	symbol.NewFunction("main", 0x3000, 0x3100),
	symbol.NewFunction("__libc_start_main", 0x4000, 0x4100),
}}

// stack builds a fake stack at base from (saved fp, return address) pairs,
// one pair every 0x20 bytes.
func stack(base uint64, frames ...[2]uint64) *fakeMemory {
	mem := &fakeMemory{base: base, data: make([]byte, 0x20*len(frames))}
	for i, f := range frames {
		binary.LittleEndian.PutUint64(mem.data[i*0x20:], f[0])
		binary.LittleEndian.PutUint64(mem.data[i*0x20+8:], f[1])
	}
	return mem
}

func names(frames []Frame) []string {
	var out []string
	for _, f := range frames {
		out = append(out, f.Function)
	}
	return out
}

func TestUnwindToEntry(t *testing.T) {
	mem := stack(0x7000,
		[2]uint64{0x7020, 0x2010}, // leaf's frame, returns into middle
		[2]uint64{0x7040, 0x3020}, // middle's frame, returns into main
		[2]uint64{0, 0x4010},      // main's frame, never read
	)

	frames, err := Unwind(Regs{PC: 0x1004, FP: 0x7000}, mem, fakeSyms, []string{"main"}, 64)
	require.NoError(t, err)
	assert.Equal(t, []string{"leaf", "middle", "main"}, names(frames))

	assert.Equal(t, uint64(0x1004), frames[0].PC)
	assert.Equal(t, "leaf (leaf.c:4)", frames[0].String())
	// callers resolve the call instruction, not the return address
	assert.Equal(t, uint64(0x2010), frames[1].PC)
	assert.Equal(t, "middle (middle.c:15)", frames[1].String())
	assert.Equal(t, "main (main.c:31)", frames[2].String())
}

func TestUnwindStoppedInEntry(t *testing.T) {
	frames, err := Unwind(Regs{PC: 0x3000}, &fakeMemory{}, fakeSyms, []string{"main"}, 64)
	require.NoError(t, err)
	assert.Equal(t, []string{"main"}, names(frames))
}

func TestUnwindZeroFramePointer(t *testing.T) {
	mem := stack(0x7000,
		[2]uint64{0, 0x2010},
	)
	frames, err := Unwind(Regs{PC: 0x1004, FP: 0x7000}, mem, fakeSyms, []string{"main"}, 64)

	var uerr *UnwindError
	require.True(t, errors.As(err, &uerr))
	assert.Equal(t, uint64(0), uerr.FP)
	assert.Equal(t, []string{"leaf", "middle"}, names(frames))
}

func TestUnwindNotMonotonic(t *testing.T) {
	mem := stack(0x7000,
		[2]uint64{0x7020, 0x2010},
		[2]uint64{0x7000, 0x2010}, // points back down: a loop
	)
	frames, err := Unwind(Regs{PC: 0x1004, FP: 0x7000}, mem, fakeSyms, []string{"main"}, 64)

	var uerr *UnwindError
	require.True(t, errors.As(err, &uerr))
	assert.Equal(t, uint64(0x7020), uerr.FP)
	assert.Len(t, frames, 2)
}

func TestUnwindUnreadableFrame(t *testing.T) {
	frames, err := Unwind(Regs{PC: 0x1004, FP: 0x9000}, stack(0x7000), fakeSyms, []string{"main"}, 64)

	var uerr *UnwindError
	require.True(t, errors.As(err, &uerr))
	assert.Error(t, uerr.Err)
	assert.Len(t, frames, 1)
}

func TestUnwindMaxDepth(t *testing.T) {
	// an increasing chain through leaf that never reaches main
	var pairs [][2]uint64
	for i := 0; i < 8; i++ {
		pairs = append(pairs, [2]uint64{0x7000 + uint64(i+1)*0x20, 0x1010})
	}
	frames, err := Unwind(Regs{PC: 0x1004, FP: 0x7000}, stack(0x7000, pairs...), fakeSyms, []string{"main"}, 4)

	var uerr *UnwindError
	require.True(t, errors.As(err, &uerr))
	assert.Len(t, frames, 4)
}

func TestUnwindUnknownFunction(t *testing.T) {
	mem := stack(0x7000,
		[2]uint64{0x7020, 0x3020},
	)
	frames, err := Unwind(Regs{PC: 0x9999, FP: 0x7000}, mem, fakeSyms, []string{"main"}, 64)
	require.NoError(t, err)
	assert.Equal(t, []string{"", "main"}, names(frames))
	assert.Equal(t, "?? (0x9999)", frames[0].String())
}

// regions is an address space made of several mapped ranges.
type regions []*fakeMemory

func (r regions) ReadMemory(addr uint64, size int) ([]byte, error) {
	for _, m := range r {
		if m.check(addr, size) == nil {
			return m.ReadMemory(addr, size)
		}
	}
	return nil, fmt.Errorf("%#x+%d not mapped", addr, size)
}

// prologueStack is the stack of main -> middle -> leaf once leaf has pushed
// rbp:
//
//	0x7020: main's frame
//	0x7000: middle's frame, [0x7020, ret into main]
//	0x6ff8: ret into middle
//	0x6ff0: middle's rbp, pushed by leaf
func prologueStack() *fakeMemory {
	mem := &fakeMemory{base: 0x6ff0, data: make([]byte, 0x50)}
	put := func(addr, v uint64) { binary.LittleEndian.PutUint64(mem.data[addr-mem.base:], v) }
	put(0x6ff0, 0x7000)
	put(0x6ff8, 0x2010)
	put(0x7000, 0x7020)
	put(0x7008, 0x3020)
	return mem
}

func TestUnwindInPrologue(t *testing.T) {
	for _, tt := range []struct {
		name string
		code []byte
		regs Regs
	}{
		// push rbp; mov rbp, rsp; nop
		{"at entry", []byte{0x55, 0x48, 0x89, 0xe5, 0x90}, Regs{PC: 0x1000, FP: 0x7000, SP: 0x6ff8}},
		{"after push", []byte{0x55, 0x48, 0x89, 0xe5, 0x90}, Regs{PC: 0x1001, FP: 0x7000, SP: 0x6ff0}},
		{"after mov", []byte{0x55, 0x48, 0x89, 0xe5, 0x90}, Regs{PC: 0x1004, FP: 0x6ff0, SP: 0x6ff0}},
		// endbr64; push rbp; mov rbp, rsp
		{"endbr64 at entry", []byte{0xf3, 0x0f, 0x1e, 0xfa, 0x55, 0x48, 0x89, 0xe5}, Regs{PC: 0x1000, FP: 0x7000, SP: 0x6ff8}},
		{"endbr64 before push", []byte{0xf3, 0x0f, 0x1e, 0xfa, 0x55, 0x48, 0x89, 0xe5}, Regs{PC: 0x1004, FP: 0x7000, SP: 0x6ff8}},
		{"endbr64 after push", []byte{0xf3, 0x0f, 0x1e, 0xfa, 0x55, 0x48, 0x89, 0xe5}, Regs{PC: 0x1005, FP: 0x7000, SP: 0x6ff0}},
		// cmp rsp, [r14+0x10]; jbe; push rbp; mov rbp, rsp
		{"stack check", []byte{0x49, 0x3b, 0x66, 0x10, 0x76, 0x20, 0x55, 0x48, 0x89, 0xe5}, Regs{PC: 0x1004, FP: 0x7000, SP: 0x6ff8}},
		// code not readable, stopped at the entry
		{"no code", nil, Regs{PC: 0x1000, FP: 0x7000, SP: 0x6ff8}},
	} {
		t.Run(tt.name, func(t *testing.T) {
			mem := regions{prologueStack()}
			if tt.code != nil {
				mem = append(mem, &fakeMemory{base: 0x1000, data: append(tt.code, make([]byte, 0x100-len(tt.code))...)})
			}

			frames, err := Unwind(tt.regs, mem, fakeSyms, []string{"main"}, 64)
			require.NoError(t, err)
			assert.Equal(t, []string{"leaf", "middle", "main"}, names(frames))
			assert.Equal(t, tt.regs.PC, frames[0].PC)
			assert.Equal(t, uint64(0x2010), frames[1].PC)
		})
	}
}

func TestUnwindPrologueUnreadableStack(t *testing.T) {
	frames, err := Unwind(Regs{PC: 0x1000, FP: 0x7000, SP: 0x9000}, regions{prologueStack()}, fakeSyms, []string{"main"}, 64)

	var uerr *UnwindError
	require.True(t, errors.As(err, &uerr))
	assert.Equal(t, []string{"leaf"}, names(frames))
}
