package target

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// ReadMemory 读取内存地址addr处的size字节数据
//
// A range that is not fully mapped is an error, the data is never
// truncated.
func (inf *Inferior) ReadMemory(addr uint64, size int) ([]byte, error) {
	if inf.Exited() {
		return nil, &ProcessExitedError{Pid: inf.Pid()}
	}
	buf := make([]byte, size)
	if size == 0 {
		return buf, nil
	}

	var (
		n   int
		err error
	)
	inf.ExecPtrace(func() {
		// PtracePeekText 与 PtracePeekData 效果相同
		n, err = unix.PtracePeekData(inf.Pid(), uintptr(addr), buf)
	})
	if err == nil && n != size {
		err = fmt.Errorf("short read, %d of %d bytes", n, size)
	}
	if err != nil {
		return nil, &TraceControlError{Op: "read memory", Pid: inf.Pid(), Addr: addr, Err: err}
	}
	return buf, nil
}

// WriteMemory 设置内存地址addr处的值为data
func (inf *Inferior) WriteMemory(addr uint64, data []byte) error {
	if inf.Exited() {
		return &ProcessExitedError{Pid: inf.Pid()}
	}
	if len(data) == 0 {
		return nil
	}

	var (
		n   int
		err error
	)
	inf.ExecPtrace(func() {
		n, err = unix.PtracePokeData(inf.Pid(), uintptr(addr), data)
	})
	if err == nil && n != len(data) {
		err = fmt.Errorf("short write, %d of %d bytes", n, len(data))
	}
	if err != nil {
		return &TraceControlError{Op: "write memory", Pid: inf.Pid(), Addr: addr, Err: err}
	}
	return nil
}
