package target

import (
	"fmt"
	"io"
	"text/tabwriter"

	"golang.org/x/arch/x86/x86asm"
)

const (
	maxInstLen = 15
	pageSize   = 4096
)

// Disassemble 反汇编地址addr处的count条指令
//
// Bytes patched by installed breakpoints are shown as the original
// instructions.
func (inf *Inferior) Disassemble(w io.Writer, addr uint64, count int, syntax string, syms SymbolLookup) error {
	if err := checkSyntax(syntax); err != nil {
		return err
	}

	// 指令数据; a read must not cross into an unmapped page
	size := count * maxInstLen
	dat, err := inf.ReadMemory(addr, size)
	if err != nil {
		toPageEnd := int(pageSize - addr%pageSize)
		if toPageEnd >= size {
			return err
		}
		if dat, err = inf.ReadMemory(addr, toPageEnd); err != nil {
			return err
		}
	}
	inf.shadowBreakpoints(addr, dat)

	return disassemble(w, addr, dat, count, syntax, syms)
}

// shadowBreakpoints replaces trap bytes in dat, read from addr, with the
// bytes they hide.
func (inf *Inferior) shadowBreakpoints(addr uint64, dat []byte) {
	for _, bp := range inf.breakpoints.Entries() {
		if bp.Installed && bp.Addr >= addr && bp.Addr < addr+uint64(len(dat)) {
			dat[bp.Addr-addr] = bp.Orig
		}
	}
}

func disassemble(w io.Writer, addr uint64, dat []byte, count int, syntax string, syms SymbolLookup) error {
	tw := tabwriter.NewWriter(w, 0, 4, 8, ' ', 0)

	symname := func(a uint64) (string, uint64) {
		if syms == nil {
			return "", 0
		}
		if fn, ok := syms.FunctionContaining(a); ok {
			return fn.Name(), fn.Entry()
		}
		return "", 0
	}

	// 反汇编这里的指令数据
	offset := 0
	for n := 0; n < count && offset < len(dat); n++ {
		pc := addr + uint64(offset)
		inst, err := x86asm.Decode(dat[offset:], 64)
		if err != nil {
			fmt.Fprintf(tw, "%#x:\t% x\t(bad)\n", pc, dat[offset:offset+1])
			offset++
			continue
		}

		asm, err := instSyntax(inst, pc, syntax, symname)
		if err != nil {
			return err
		}

		end := offset + inst.Len
		fmt.Fprintf(tw, "%#x:\t% x\t%s\n", pc, dat[offset:end], asm)
		offset = end
	}
	return tw.Flush()
}

func checkSyntax(syntax string) error {
	switch syntax {
	case "go", "gnu", "intel":
		return nil
	default:
		return fmt.Errorf("invalid asm syntax %q, supported: go, gnu, intel", syntax)
	}
}

func instSyntax(inst x86asm.Inst, pc uint64, syntax string, symname x86asm.SymLookup) (string, error) {
	asm := ""
	switch syntax {
	case "go":
		asm = x86asm.GoSyntax(inst, pc, symname)
	case "gnu":
		asm = x86asm.GNUSyntax(inst, pc, symname)
	case "intel":
		asm = x86asm.IntelSyntax(inst, pc, symname)
	default:
		return "", checkSyntax(syntax)
	}
	return asm, nil
}
