/*
 * selfie - Kernel: syscall numbers and their host-side implementations
 * (spec.md §4.6, component J).
 *
 * Grounded on emu/sys_channel/channel.go's syscall-style dispatch (a table
 * of channel commands keyed by device address, each validating its
 * arguments against host state before acting), generalized here to RISC-U's
 * seven guest syscalls keyed by the a7 register.
 */
package kernel

import (
	"os"

	"github.com/selfie-lang/selfie/internal/machine/context"
	"github.com/selfie-lang/selfie/internal/machine/memory"
)

// Syscall numbers (spec.md §4.6).
const (
	SyscallExit   = 93
	SyscallRead   = 63
	SyscallWrite  = 64
	SyscallOpen   = 1024
	SyscallBrk    = 214
	SyscallInput  = 42
	SyscallSwitch = 401
)

// Kernel services syscalls against a context's page table and the host
// file system, one context at a time (spec.md §5: no locking, a single
// flow of control).
type Kernel struct {
	files map[int64]*os.File
	nextFD int64
}

// New returns a kernel with stdin/stdout/stderr pre-opened at fds 0..2.
func New() *Kernel {
	k := &Kernel{files: make(map[int64]*os.File), nextFD: 3}
	k.files[0] = os.Stdin
	k.files[1] = os.Stdout
	k.files[2] = os.Stderr
	return k
}

// Brk implements the brk syscall: if addr is a legal new break (at or above
// the current break, at or below sp, and 8-aligned) it is adopted and
// returned; otherwise the *current* break is returned unchanged — brk never
// fails (spec.md §4.6).
func Brk(c *context.Context, addr uint64) uint64 {
	sp := c.GetRegister(2) // x2 = sp
	if addr >= c.ProgramBreak && addr <= sp && addr%memory.WordSize == 0 {
		c.ProgramBreak = addr
	}
	return c.ProgramBreak
}

// Malloc implements the malloc library wrapper: brk(cur + round_up(size,8)),
// returning the previous break (the allocated block's address) on success,
// or 0 if the break could not advance.
func Malloc(c *context.Context, size uint64) uint64 {
	want := c.ProgramBreak + memory.RoundUp(size, memory.WordSize)
	prev := c.ProgramBreak
	got := Brk(c, want)
	if got != want {
		return 0
	}
	return prev
}

// Read copies up to size bytes from fd into the guest buffer at vaddr,
// SIZEOFUINT64 bytes at a time, page-fault-checking every double word
// (spec.md §4.6). Returns the number of bytes actually read with ok=true
// (-1 for an unknown fd), or, on a page fault, the bytes copied before it
// with ok=false.
func (k *Kernel) Read(c *context.Context, fd int64, vaddr uint64, size uint64) (n int64, ok bool) {
	f, found := k.files[fd]
	if !found {
		return -1, true
	}
	var total int64
	for total < int64(size) {
		chunk := size - uint64(total)
		if chunk > memory.WordSize {
			chunk = memory.WordSize
		}
		cell, mapped := c.PageTable.Translate(vaddr + uint64(total))
		if !mapped {
			return total, false
		}
		buf := make([]byte, chunk)
		got, err := f.Read(buf)
		copy(cell, buf[:got])
		total += int64(got)
		if err != nil || uint64(got) < chunk {
			break
		}
	}
	return total, true
}

// Write is Read's symmetric counterpart.
func (k *Kernel) Write(c *context.Context, fd int64, vaddr uint64, size uint64) (n int64, ok bool) {
	f, found := k.files[fd]
	if !found {
		return -1, true
	}
	var total int64
	for total < int64(size) {
		chunk := size - uint64(total)
		if chunk > memory.WordSize {
			chunk = memory.WordSize
		}
		cell, mapped := c.PageTable.Translate(vaddr + uint64(total))
		if !mapped {
			return total, false
		}
		got, err := f.Write(cell[:chunk])
		total += int64(got)
		if err != nil {
			break
		}
	}
	return total, true
}

// openFlagSets are tried in order on a platform-tolerant open, mirroring
// selfie's Mac/Linux/Windows write-only-creation flag triples.
var openFlagSets = []int{
	os.O_CREATE | os.O_WRONLY | os.O_TRUNC,          // Linux/Mac (O_CREAT=0x200/0x40 resolved by os pkg)
	os.O_CREATE | os.O_WRONLY,                        // fallback without truncate
	os.O_CREATE | os.O_WRONLY | os.O_APPEND,          // Windows-style append-create fallback
}

// Open copies a bounded guest string out of the page table and opens it on
// the host, trying each flag set in turn (spec.md §4.6).
func (k *Kernel) Open(c *context.Context, nameVAddr uint64, maxLen int) (fd int64, ok bool) {
	name, mapped := readGuestString(c, nameVAddr, maxLen)
	if !mapped {
		return -1, false
	}
	var f *os.File
	var err error
	for _, flags := range openFlagSets {
		f, err = os.OpenFile(name, flags, 0o644)
		if err == nil {
			break
		}
	}
	if err != nil {
		return -1, true
	}
	fd = k.nextFD
	k.nextFD++
	k.files[fd] = f
	return fd, true
}

func readGuestString(c *context.Context, vaddr uint64, maxLen int) (string, bool) {
	buf := make([]byte, 0, maxLen)
	for i := 0; i < maxLen; i += memory.WordSize {
		cell, mapped := c.PageTable.Translate(vaddr + uint64(i))
		if !mapped {
			return "", false
		}
		for _, b := range cell {
			if b == 0 {
				return string(buf), true
			}
			buf = append(buf, b)
		}
	}
	return string(buf), true
}

// Exit records the context's final guest exit code; the caller's run loop
// is responsible for unwinding to the host or the parent context.
func Exit(c *context.Context, code uint64) {
	c.GuestExit = code
}

// Switch implements the switch syscall: the interpreter's run loop saves
// the current context, transfers control to the target, and arms the
// software timer for at most timeout instructions (spec.md §4.6, §5 "the
// only place execution yields"). Switch itself only performs the context
// bookkeeping; the caller's run_until_exception loop drives execution of
// to.
func Switch(from, to *context.Context) context.Saved {
	return from.Save()
}
