/*
 * selfie - Context manager (spec.md §3, §4.5, component K).
 *
 * Grounded on emu/core/core.go's intrusive parent/child bookkeeping and
 * device-record shape, generalized from a single CPU core object to a pool
 * of nested virtual-machine contexts with explicit free/used lists, as
 * spec.md §9 asks for (an arena of contexts, not raw pointer links).
 */
package context

import (
	"github.com/selfie-lang/selfie/internal/machine/except"
	"github.com/selfie-lang/selfie/internal/machine/memory"
)

// NumRegisters is the RISC-V general register file size.
const NumRegisters = 32

// SymbolicExitCode tracks a symbolic exit code's interval, used only when
// the owning context was created for symbolic execution.
type SymbolicExitCode struct {
	Lo, Up, Step uint64
}

// Context is one virtual machine: registers, page table, program break, and
// the bookkeeping needed for nested virtualization and the free/used pools
// (spec.md §3 "Context").
type Context struct {
	Name string

	PC        uint64
	Regs      [NumRegisters]uint64
	PageTable *memory.PageTable

	LoPage uint64 // first page of the contiguous code+data+heap region
	MePage uint64 // one past the last currently-mapped low page
	HiPage uint64 // lowest mapped page of the descending stack region

	ProgramBreak   uint64
	OriginalBreak  uint64

	Exception    except.Exception
	FaultingPage uint64
	GuestExit    uint64 // the guest program's own exit(code) argument
	SymbolicExit SymbolicExitCode

	Parent         *Context
	VirtualContext *Context // the nested guest this context hosts, if any

	prev, next *Context
}

// Pool is the arena of contexts: a used list (currently schedulable) and a
// free list (available for reuse), avoiding cyclic ownership between
// parent and child (spec.md §9).
type Pool struct {
	used []*Context
	free []*Context
}

// NewPool returns an empty context pool.
func NewPool() *Pool {
	return &Pool{}
}

// Allocate returns a context for name, reusing a freed one if available.
func (p *Pool) Allocate(name string, parent *Context) *Context {
	var c *Context
	if n := len(p.free); n > 0 {
		c = p.free[n-1]
		p.free = p.free[:n-1]
		*c = Context{}
	} else {
		c = &Context{}
	}
	c.Name = name
	c.Parent = parent
	c.PageTable = memory.NewPageTable()
	p.used = append(p.used, c)
	return c
}

// Free removes c from the used list and returns it to the free list.
func (p *Pool) Free(c *Context) {
	for i, u := range p.used {
		if u == c {
			p.used = append(p.used[:i], p.used[i+1:]...)
			break
		}
	}
	p.free = append(p.free, c)
}

// Used returns the currently schedulable contexts.
func (p *Pool) Used() []*Context {
	return p.used
}

// GetRegister reads register r; register 0 always reads as 0 (spec.md §3,
// §8 "Writes to register 0 are no-ops; reads of register 0 always yield
// 0").
func (c *Context) GetRegister(r int) uint64 {
	if r == 0 {
		return 0
	}
	return c.Regs[r]
}

// SetRegister writes value to register r; writes to register 0 are
// silently dropped.
func (c *Context) SetRegister(r int, value uint64) {
	if r == 0 {
		return
	}
	c.Regs[r] = value
}

// Saved is the snapshot save_context/restore_context copy between a parent
// and its nested virtual context (spec.md §4.5).
type Saved struct {
	PC           uint64
	Regs         [NumRegisters]uint64
	ProgramBreak uint64
	Exception    except.Exception
}

// Save captures c's resumable state for storage in the parent's address
// space.
func (c *Context) Save() Saved {
	return Saved{PC: c.PC, Regs: c.Regs, ProgramBreak: c.ProgramBreak, Exception: c.Exception}
}

// Restore installs a previously saved snapshot back into c.
func (c *Context) Restore(s Saved) {
	c.PC = s.PC
	c.Regs = s.Regs
	c.ProgramBreak = s.ProgramBreak
	c.Exception = s.Exception
}
