package target

import (
	"strconv"
	"strings"
)

// Breakpoint 断点信息
type Breakpoint struct {
	ID        int    // 断点编号, insertion index
	Addr      uint64 // 断点地址
	Orig      byte   // 原内存数据, only meaningful while Installed
	Installed bool   // patched into the live inferior
}

// Breakpoints is the ordered breakpoint table of a debug session. Entries
// outlive any single inferior: they are patched into every new inferior at
// launch and fall back to pending when it goes away.
type Breakpoints struct {
	entries []*Breakpoint
	byAddr  map[uint64]*Breakpoint
}

// NewBreakpoints returns an empty table.
func NewBreakpoints() *Breakpoints {
	return &Breakpoints{byAddr: map[uint64]*Breakpoint{}}
}

// Add appends a pending breakpoint at addr.
func (b *Breakpoints) Add(addr uint64) (*Breakpoint, error) {
	if old, ok := b.byAddr[addr]; ok {
		return nil, &DuplicateBreakpointError{Addr: addr, ID: old.ID}
	}
	bp := &Breakpoint{ID: len(b.entries), Addr: addr}
	b.entries = append(b.entries, bp)
	b.byAddr[addr] = bp
	return bp, nil
}

// Entries returns the breakpoints in insertion order.
func (b *Breakpoints) Entries() []*Breakpoint {
	return b.entries
}

// Find returns the breakpoint at addr.
func (b *Breakpoints) Find(addr uint64) (*Breakpoint, bool) {
	bp, ok := b.byAddr[addr]
	return bp, ok
}

// Len returns the number of breakpoints.
func (b *Breakpoints) Len() int {
	return len(b.entries)
}

// reset marks every breakpoint pending, the image they were patched into is
// gone.
func (b *Breakpoints) reset() {
	for _, bp := range b.entries {
		bp.Installed = false
		bp.Orig = 0
	}
}

// ParseAddress parses a breakpoint address spec: an optional leading '*',
// an optional 0x or 0X prefix and a hexadecimal number.
func ParseAddress(spec string) (uint64, error) {
	s := strings.TrimPrefix(spec, "*")
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		s = s[2:]
	}
	addr, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, &AddressParseError{Spec: spec, Err: err}
	}
	return addr, nil
}

// MemoryReader reads the address space of a process.
type MemoryReader interface {
	ReadMemory(addr uint64, size int) ([]byte, error)
}

// Memory reads and writes the address space of a process.
type Memory interface {
	MemoryReader
	WriteMemory(addr uint64, data []byte) error
}

// Install saves the byte at bp.Addr and overwrites it with the trap
// instruction.
func Install(mem Memory, bp *Breakpoint) error {
	if bp.Installed {
		return nil
	}
	orig, err := mem.ReadMemory(bp.Addr, 1)
	if err != nil {
		return err
	}
	if err := mem.WriteMemory(bp.Addr, trapInstruction); err != nil {
		return err
	}
	bp.Orig, bp.Installed = orig[0], true
	return nil
}

// Uninstall writes the saved byte back to bp.Addr.
func Uninstall(mem Memory, bp *Breakpoint) error {
	if !bp.Installed {
		return nil
	}
	if err := mem.WriteMemory(bp.Addr, []byte{bp.Orig}); err != nil {
		return err
	}
	bp.Installed = false
	return nil
}
