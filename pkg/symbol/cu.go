package symbol

import (
	"debug/dwarf"
	"fmt"
	"io"
	"sort"
)

// CompileUnit compilation unit
//
// see DWARFv4 3.1.1 normal and partial compilation unit entries
type CompileUnit struct {
	functions []*Function
	entry     *dwarf.Entry
}

func newCompileUnit(entry *dwarf.Entry) *CompileUnit {
	return &CompileUnit{entry: entry}
}

// Name returns DW_AT_name of the unit, usually its main source file.
func (c *CompileUnit) Name() string {
	name, _ := c.entry.Val(dwarf.AttrName).(string)
	return name
}

// Functions returns the functions defined in this unit.
func (c *CompileUnit) Functions() []*Function {
	return c.functions
}

// parseLineSection parse .(z)debug_line of this unit into address ordered
// rows.
//
// note: one compile unit may contains more than one source files.
func (c *CompileUnit) parseLineSection(lineReader *dwarf.LineReader) ([]lineRow, error) {
	var (
		entry dwarf.LineEntry
		rows  []lineRow
	)

	for {
		// scan next entry
		err := lineReader.Next(&entry)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		row := lineRow{addr: entry.Address, line: entry.Line, endSeq: entry.EndSequence}
		if entry.File != nil {
			row.file = entry.File.Name
		} else if !entry.EndSequence {
			continue
		}
		rows = append(rows, row)
	}

	return rows, nil
}

// Line is a source position.
type Line struct {
	File string
	Line int
	// Address is the first address of the row the position came from.
	Address uint64
}

func (l Line) String() string {
	return fmt.Sprintf("%s:%d", l.File, l.Line)
}

type lineRow struct {
	addr   uint64
	file   string
	line   int
	endSeq bool // first address after a sequence, maps to nothing
}

type lineTable []lineRow

// sort orders rows by address. An end-of-sequence row sorts before a row
// starting the next sequence at the same address.
func (t lineTable) sort() {
	sort.SliceStable(t, func(i, j int) bool {
		if t[i].addr != t[j].addr {
			return t[i].addr < t[j].addr
		}
		return t[i].endSeq && !t[j].endSeq
	})
}

// lookup returns the row with the greatest address <= pc, unless that row
// closes a sequence.
func (t lineTable) lookup(pc uint64) (Line, bool) {
	i := sort.Search(len(t), func(i int) bool {
		return t[i].addr > pc
	})
	if i == 0 {
		return Line{}, false
	}
	row := t[i-1]
	if row.endSeq {
		return Line{}, false
	}
	return Line{File: row.file, Line: row.line, Address: row.addr}, true
}
