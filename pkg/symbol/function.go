package symbol

import (
	"debug/dwarf"
)

// Function function
//
// see DWARFv4 3.3 subroutine and entry point entries
type Function struct {
	name   string
	lowpc  uint64
	highpc uint64 // exclusive

	origin dwarf.Offset // DW_AT_abstract_origin or DW_AT_specification
	cu     *CompileUnit
}

// NewFunction describes a function that covers [entry, end) without
// DWARF behind it.
func NewFunction(name string, entry, end uint64) *Function {
	return &Function{name: name, lowpc: entry, highpc: end}
}

// Name returns the function name, or "" if the DWARF did not provide one.
func (f *Function) Name() string {
	return f.name
}

// Entry returns the address of the first instruction.
func (f *Function) Entry() uint64 {
	return f.lowpc
}

// End returns the address right after the last instruction.
func (f *Function) End() uint64 {
	return f.highpc
}

// Contains reports whether pc lies in [Entry, End).
func (f *Function) Contains(pc uint64) bool {
	return f.lowpc <= pc && pc < f.highpc
}

// CompileUnit returns the unit the function was defined in.
func (f *Function) CompileUnit() *CompileUnit {
	return f.cu
}

func (f *Function) hasRange() bool {
	return f.highpc > f.lowpc
}

func (f *Function) parseFrom(curEntry *dwarf.Entry) {
	var (
		highpc    uint64
		highpcOff bool
	)

	for _, field := range curEntry.Field {
		switch field.Attr {
		case dwarf.AttrName:
			if val, ok := field.Val.(string); ok {
				f.name = val
			}
		case dwarf.AttrLowpc:
			if val, ok := field.Val.(uint64); ok {
				f.lowpc = val
			}
		case dwarf.AttrHighpc:
			// DWARF 4 allows high_pc to be an offset from low_pc
			switch val := field.Val.(type) {
			case uint64:
				highpc = val
			case int64:
				highpc, highpcOff = uint64(val), true
			}
		case dwarf.AttrAbstractOrigin, dwarf.AttrSpecification:
			if val, ok := field.Val.(dwarf.Offset); ok {
				f.origin = val
			}
		}
	}

	if highpcOff {
		highpc += f.lowpc
	}
	f.highpc = highpc
}
