package symbol

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const thisFunc = "github.com/hitzhangjie/deet/pkg/symbol.TestLoad"

// the test binary carries DWARF for this package
func loadSelf(t *testing.T) *BinaryInfo {
	bi, err := Load(os.Args[0])
	require.NoError(t, err)
	return bi
}

func TestLoad(t *testing.T) {
	bi := loadSelf(t)
	assert.NotEmpty(t, bi.CompileUnits)
	assert.NotEmpty(t, bi.Functions())

	fn, ok := bi.FunctionByName(thisFunc)
	require.True(t, ok)
	assert.Equal(t, thisFunc, fn.Name())
	assert.True(t, fn.Entry() < fn.End())

	got, ok := bi.FunctionContaining(fn.Entry())
	require.True(t, ok)
	assert.Equal(t, fn, got)

	got, ok = bi.FunctionContaining(fn.End() - 1)
	require.True(t, ok)
	assert.Equal(t, fn, got)

	got, ok = bi.FunctionContaining(fn.End())
	if ok {
		assert.NotEqual(t, fn, got)
	}

	line, ok := bi.LineForAddress(fn.Entry())
	require.True(t, ok)
	assert.Equal(t, "binary_test.go", filepath.Base(line.File))
	assert.True(t, strings.HasSuffix(line.String(), "binary_test.go:"+strconv.Itoa(line.Line)), line.String())
}

func TestLookupOutOfRange(t *testing.T) {
	bi := loadSelf(t)

	_, ok := bi.FunctionContaining(0)
	assert.False(t, ok)
	_, ok = bi.FunctionContaining(^uint64(0))
	assert.False(t, ok)

	_, ok = bi.LineForAddress(0)
	assert.False(t, ok)
	// a second lookup is served from the cache and must agree
	_, ok = bi.LineForAddress(0)
	assert.False(t, ok)

	_, ok = bi.FunctionByName("no.such.function")
	assert.False(t, ok)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nonexistent"))
	require.Error(t, err)

	var loadErr *TargetLoadError
	assert.True(t, errors.As(err, &loadErr))
}

func TestLoadNotELF(t *testing.T) {
	path := filepath.Join(t.TempDir(), "script.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\necho hi\n"), 0755))

	_, err := Load(path)
	var loadErr *TargetLoadError
	assert.True(t, errors.As(err, &loadErr))
}

func TestLoadWithoutDebugInfo(t *testing.T) {
	// a bare ELF header: valid file, no sections at all
	hdr := elf.Header64{
		Type:      uint16(elf.ET_EXEC),
		Machine:   uint16(elf.EM_X86_64),
		Version:   uint32(elf.EV_CURRENT),
		Ehsize:    64,
		Phentsize: 56,
		Shentsize: 64,
	}
	copy(hdr.Ident[:], elf.ELFMAG)
	hdr.Ident[elf.EI_CLASS] = byte(elf.ELFCLASS64)
	hdr.Ident[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	hdr.Ident[elf.EI_VERSION] = byte(elf.EV_CURRENT)

	buf := &bytes.Buffer{}
	require.NoError(t, binary.Write(buf, binary.LittleEndian, &hdr))
	path := filepath.Join(t.TempDir(), "stripped")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0755))

	_, err := Load(path)
	require.Error(t, err)

	var dbgErr *DebugInfoError
	assert.True(t, errors.As(err, &dbgErr), err.Error())
}

func TestLineTableLookup(t *testing.T) {
	tab := lineTable{
		{addr: 0x1010, file: "a.c", line: 4},
		{addr: 0x1000, file: "a.c", line: 3},
		{addr: 0x1020, endSeq: true},
		{addr: 0x1020, file: "b.c", line: 10},
		{addr: 0x1030, endSeq: true},
		{addr: 0x2000, file: "c.c", line: 1},
		{addr: 0x2008, endSeq: true},
	}
	tab.sort()

	cases := []struct {
		pc   uint64
		want string
	}{
		{0x0fff, ""},
		{0x1000, "a.c:3"},
		{0x100f, "a.c:3"},
		{0x1010, "a.c:4"},
		{0x101f, "a.c:4"},
		{0x1020, "b.c:10"},
		{0x102f, "b.c:10"},
		{0x1030, ""},
		{0x1fff, ""},
		{0x2004, "c.c:1"},
		{0x2008, ""},
	}
	for _, c := range cases {
		line, ok := tab.lookup(c.pc)
		if c.want == "" {
			assert.False(t, ok, "pc %#x", c.pc)
			continue
		}
		if assert.True(t, ok, "pc %#x", c.pc) {
			assert.Equal(t, c.want, line.String(), "pc %#x", c.pc)
		}
	}
}

func TestDump(t *testing.T) {
	bi := loadSelf(t)
	buf := &bytes.Buffer{}
	bi.Dump(buf)
	assert.Contains(t, buf.String(), thisFunc)
	assert.Contains(t, buf.String(), "line rows:")
}
