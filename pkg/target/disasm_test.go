package target

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitzhangjie/deet/pkg/symbol"
)

// push rbp; mov rbp, rsp; call 0x1000; ret
var prologue = []byte{0x55, 0x48, 0x89, 0xe5, 0xe8, 0xf7, 0xff, 0xff, 0xff, 0xc3}

func TestDisassemble(t *testing.T) {
	buf := &bytes.Buffer{}
	require.NoError(t, disassemble(buf, 0x1000, prologue, 10, "intel", nil))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 4)
	assert.True(t, strings.HasPrefix(lines[0], "0x1000:"))
	assert.Contains(t, lines[0], "55")
	assert.Contains(t, lines[0], "push rbp")
	assert.True(t, strings.HasPrefix(lines[1], "0x1001:"))
	assert.Contains(t, lines[1], "48 89 e5")
	assert.Contains(t, lines[1], "mov rbp, rsp")
	assert.True(t, strings.HasPrefix(lines[3], "0x1009:"))
	assert.Contains(t, lines[3], "ret")
}

func TestDisassembleCount(t *testing.T) {
	buf := &bytes.Buffer{}
	require.NoError(t, disassemble(buf, 0x1000, prologue, 2, "gnu", nil))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Len(t, lines, 2)
}

func TestDisassembleSymbols(t *testing.T) {
	syms := &fakeSymbols{funcs: []*symbol.Function{symbol.NewFunction("leaf", 0x1000, 0x1100)}}

	buf := &bytes.Buffer{}
	require.NoError(t, disassemble(buf, 0x1000, prologue, 3, "go", syms))
	// the call targets 0x1000, which resolves to leaf
	assert.Contains(t, buf.String(), "leaf")
}

func TestDisassembleBadSyntax(t *testing.T) {
	assert.Error(t, disassemble(&bytes.Buffer{}, 0x1000, prologue, 1, "att", nil))
	assert.Error(t, checkSyntax(""))
	for _, s := range []string{"go", "gnu", "intel"} {
		assert.NoError(t, checkSyntax(s))
	}
}
