package symbol

import (
	"debug/dwarf"
	"debug/elf"
	"fmt"
	"io"
	"sort"

	lru "github.com/hashicorp/golang-lru"

	"github.com/hitzhangjie/deet/pkg/logflags"
)

const lineCacheSize = 1024

// BinaryInfo holds the address tables built from the DWARF of one
// executable. It is read-only once Load returns.
type BinaryInfo struct {
	Path         string
	CompileUnits []*CompileUnit

	functions []*Function          // sorted by entry address
	byName    map[string]*Function // first definition wins
	lines     lineTable

	lineCache *lru.Cache
}

// Load opens the executable at path and builds its symbol tables from
// .debug_info and .debug_line.
func Load(path string) (*BinaryInfo, error) {
	file, err := elf.Open(path)
	if err != nil {
		return nil, &TargetLoadError{Path: path, Err: err}
	}
	defer file.Close()

	// check info and line section
	for _, name := range []string{"info", "line"} {
		if !hasDebugSection(file, name) {
			return nil, &DebugInfoError{Path: path, Err: fmt.Errorf("could not find .debug_%s section", name)}
		}
	}

	dwarfData, err := file.DWARF()
	if err != nil {
		return nil, &DebugInfoError{Path: path, Err: err}
	}

	cache, err := lru.New(lineCacheSize)
	if err != nil {
		return nil, err
	}
	bi := &BinaryInfo{
		Path:      path,
		byName:    make(map[string]*Function),
		lineCache: cache,
	}

	// parse .(z)debug_line and .(z)debug_info
	if err = bi.parseLineAndInfo(dwarfData); err != nil {
		return nil, &DebugInfoError{Path: path, Err: err}
	}

	logflags.SymbolLogger().Debugf("loaded %s: %d compile units, %d functions, %d line rows",
		path, len(bi.CompileUnits), len(bi.functions), len(bi.lines))
	return bi, nil
}

// hasDebugSection reports whether the plain or zlib-compressed variant of
// the debug section exists.
func hasDebugSection(f *elf.File, name string) bool {
	return f.Section(".debug_"+name) != nil || f.Section(".zdebug_"+name) != nil
}

// parseLineAndInfo walks the DIE tree once. Every compile unit contributes
// its line program, every subprogram with a code range becomes a Function.
//
// unit entries: see DWARF v4 chapter 3.1.1 normal and partial compilation unit entries
func (bi *BinaryInfo) parseLineAndInfo(dwarfData *dwarf.Data) error {
	var (
		rd    = dwarfData.Reader()
		curCU *CompileUnit
		names = map[dwarf.Offset]string{}
	)

	for {
		entry, err := rd.Next()
		if err != nil {
			return err
		}
		if entry == nil { // reaches the end
			break
		}

		switch entry.Tag {
		case dwarf.TagCompileUnit, dwarf.TagPartialUnit:
			curCU = newCompileUnit(entry)
			bi.CompileUnits = append(bi.CompileUnits, curCU)

			lr, err := dwarfData.LineReader(entry)
			if err != nil {
				return err
			}
			if lr == nil {
				// unit without a line program
				continue
			}
			rows, err := curCU.parseLineSection(lr)
			if err != nil {
				return err
			}
			bi.lines = append(bi.lines, rows...)

		case dwarf.TagSubprogram:
			if name, ok := entry.Val(dwarf.AttrName).(string); ok {
				names[entry.Offset] = name
			}

			fn := &Function{cu: curCU}
			fn.parseFrom(entry)
			if fn.hasRange() {
				bi.functions = append(bi.functions, fn)
				if curCU != nil {
					curCU.functions = append(curCU.functions, fn)
				}
			}
			// nested subprograms and variables are not indexed
			rd.SkipChildren()
		}
	}

	// out-of-line definitions take their name from the declaration
	for _, fn := range bi.functions {
		if fn.name == "" && fn.origin != 0 {
			fn.name = names[fn.origin]
		}
	}

	sort.SliceStable(bi.functions, func(i, j int) bool {
		return bi.functions[i].lowpc < bi.functions[j].lowpc
	})
	for _, fn := range bi.functions {
		if fn.name == "" {
			continue
		}
		if _, ok := bi.byName[fn.name]; !ok {
			bi.byName[fn.name] = fn
		}
	}

	bi.lines.sort()
	return nil
}

// Functions returns every function with a code range, ordered by entry
// address.
func (bi *BinaryInfo) Functions() []*Function {
	return bi.functions
}

// FunctionContaining returns the function whose range covers pc.
//
// note: not considered inline function
func (bi *BinaryInfo) FunctionContaining(pc uint64) (*Function, bool) {
	i := sort.Search(len(bi.functions), func(i int) bool {
		return bi.functions[i].lowpc > pc
	})
	// ranges may nest (e.g. nested functions in C), so walk back until one
	// covers pc.
	for i--; i >= 0; i-- {
		if bi.functions[i].Contains(pc) {
			return bi.functions[i], true
		}
	}
	return nil, false
}

// FunctionByName returns the function called name.
func (bi *BinaryInfo) FunctionByName(name string) (*Function, bool) {
	fn, ok := bi.byName[name]
	return fn, ok
}

// LineForAddress returns the source position of the instruction at pc.
func (bi *BinaryInfo) LineForAddress(pc uint64) (Line, bool) {
	if v, ok := bi.lineCache.Get(pc); ok {
		res := v.(lineResult)
		return res.line, res.ok
	}
	line, ok := bi.lines.lookup(pc)
	bi.lineCache.Add(pc, lineResult{line: line, ok: ok})
	return line, ok
}

type lineResult struct {
	line Line
	ok   bool
}

// Dump prints the symbol tables to w.
func (bi *BinaryInfo) Dump(w io.Writer) {
	for _, cu := range bi.CompileUnits {
		fmt.Fprintf(w, "compile unit: %s, functions: %d\n", cu.Name(), len(cu.functions))
	}
	for _, fn := range bi.functions {
		fmt.Fprintf(w, "function: %s [%#x, %#x)\n", fn.name, fn.lowpc, fn.highpc)
	}
	fmt.Fprintf(w, "line rows: %d\n", len(bi.lines))
}

// TargetLoadError is returned when the executable is missing or is not a
// readable ELF file.
type TargetLoadError struct {
	Path string
	Err  error
}

func (e *TargetLoadError) Error() string {
	return fmt.Sprintf("could not open file %s: %v", e.Path, e.Err)
}

func (e *TargetLoadError) Unwrap() error { return e.Err }

// DebugInfoError is returned when the debug sections are missing or
// malformed.
type DebugInfoError struct {
	Path string
	Err  error
}

func (e *DebugInfoError) Error() string {
	return fmt.Sprintf("could not load debugging symbols from %s: %v", e.Path, e.Err)
}

func (e *DebugInfoError) Unwrap() error { return e.Err }
