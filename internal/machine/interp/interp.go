/*
 * selfie - Interpreter: fetch/decode/execute loop (spec.md §4.4, component
 * I).
 *
 * Grounded on emu/cpu/cpu.go's CycleCPU dispatch (fetch next instruction,
 * decode, switch on opcode, apply side effects to the register file and
 * memory), generalized from S/370's fixed-format decode to RISC-U's six
 * variable-shape instruction formats via internal/isa.
 */
package interp

import (
	"github.com/selfie-lang/selfie/internal/isa"
	"github.com/selfie-lang/selfie/internal/machine/context"
	"github.com/selfie-lang/selfie/internal/machine/except"
	"github.com/selfie-lang/selfie/internal/machine/kernel"
	"github.com/selfie-lang/selfie/internal/machine/memory"
	"github.com/selfie-lang/selfie/internal/symbolic/branch"
	"github.com/selfie-lang/selfie/internal/symbolic/msiid"
	"github.com/selfie-lang/selfie/internal/symbolic/trace"
)

// InstructionSize is the width of one packed RISC-U instruction.
const InstructionSize = 4

// Machine ties together one context's register/memory state with the
// kernel servicing its syscalls and the software timer governing
// preemption (spec.md §4.4, §5).
type Machine struct {
	Ctx    *context.Context
	Kernel *kernel.Kernel
	Timer  int64 // instructions remaining before EXCEPTION_TIMER; <0 disables
	Disasm bool  // DIPSTER: print each instruction before executing it
	Trace  []string

	// Contexts lets a guest's `switch` syscall name a nested context by
	// handle (spec.md §4.5): the host registers the handles it wants
	// reachable before running, since RISC-U itself has no syscall that
	// creates a context.
	Contexts      map[uint64]*context.Context
	CurrentHandle uint64

	// Symbolic mode state (spec.md §4.8-§4.10, components L/M/N/O).
	// Nil/zero-valued and entirely inert unless EnableSymbolic was called.
	Symbolic      bool
	SymRegs       [context.NumRegisters]msiid.Interval
	HasSym        [context.NumRegisters]bool
	SymMem        map[uint64]msiid.Interval
	SymTrace      *trace.Trace
	Branch        *branch.Engine
	Limits        SymbolicLimits
	snapshots     map[int64]context.Saved
	splitOperands map[int64][2]int
	paths         int
}

// New wires a Machine around an existing context and kernel.
func New(ctx *context.Context, k *kernel.Kernel, timer int64) *Machine {
	return &Machine{Ctx: ctx, Kernel: k, Timer: timer}
}

// RegisterContext makes c reachable by handle from a `switch` syscall.
func (m *Machine) RegisterContext(handle uint64, c *context.Context) {
	if m.Contexts == nil {
		m.Contexts = make(map[uint64]*context.Context)
	}
	m.Contexts[handle] = c
}

// Fetch reads the 32-bit word at the context's pc, page-walking the code
// segment and returning a page fault if the page is unmapped.
func (m *Machine) Fetch() (uint32, bool) {
	pc := m.Ctx.PC
	if pc%InstructionSize != 0 {
		m.Ctx.Exception = except.InvalidAddress
		return 0, false
	}
	dwAddr := pc &^ (memory.WordSize - 1)
	if !m.Ctx.PageTable.IsMapped(memory.PageOf(dwAddr)) {
		m.Ctx.Exception = except.PageFault
		m.Ctx.FaultingPage = memory.PageOf(dwAddr)
		return 0, false
	}
	dw := memory.LoadDoubleWord(m.Ctx.PageTable, dwAddr)
	lo, hi := isa.UnpackHalf(dw)
	if pc == dwAddr {
		return lo, true
	}
	return hi, true
}

// Step fetches, decodes, and executes exactly one instruction, advancing pc
// (unless the instruction itself redirects it) and ticking the timer.
// Returns false if an exception was raised; the caller inspects
// m.Ctx.Exception.
func (m *Machine) Step() bool {
	word, ok := m.Fetch()
	if !ok {
		return false
	}
	ins, ok := isa.Decode(word)
	if !ok {
		m.Ctx.Exception = except.UnknownInstruction
		return false
	}
	if m.Disasm {
		m.Trace = append(m.Trace, isa.Disassemble(m.Ctx.PC, word))
	}
	ok = m.execute(ins)
	if ok {
		m.tickTimer()
		ok = m.Ctx.Exception == except.None
	}
	return ok
}

func (m *Machine) tickTimer() {
	if m.Timer < 0 {
		return
	}
	if m.Ctx.Exception != except.None {
		return // a pending exception defers the timer one tick (spec.md §4.4)
	}
	m.Timer--
	if m.Timer == 0 {
		m.Ctx.Exception = except.Timer
	}
}

func (m *Machine) execute(ins isa.Instruction) bool {
	pcNext := m.Ctx.PC + InstructionSize
	c := m.Ctx
	rd, rs1, rs2 := int(ins.RD), int(ins.RS1), int(ins.RS2)

	switch ins.Mnemonic {
	case isa.LUI:
		// decodeU already sign-extends the shifted 32-bit value.
		c.SetRegister(rd, uint64(ins.Imm))
		m.HasSym[rd] = false
	case isa.ADDI:
		if m.Symbolic && m.HasSym[rs1] {
			m.resolveInterval(rd, msiid.AddConst(m.SymRegs[rs1], uint64(ins.Imm)))
		} else {
			c.SetRegister(rd, c.GetRegister(rs1)+uint64(ins.Imm))
			m.HasSym[rd] = false
		}
	case isa.ADD:
		if m.Symbolic && (m.HasSym[rs1] || m.HasSym[rs2]) {
			sum, err := msiid.Add(m.regInterval(rs1), m.regInterval(rs2))
			if err != nil {
				c.Exception = except.Incompleteness
				return false
			}
			m.resolveInterval(rd, sum)
		} else {
			c.SetRegister(rd, c.GetRegister(rs1)+c.GetRegister(rs2))
			m.HasSym[rd] = false
		}
	case isa.SUB:
		if m.Symbolic && (m.HasSym[rs1] || m.HasSym[rs2]) {
			diff, err := msiid.Sub(m.regInterval(rs1), m.regInterval(rs2))
			if err != nil {
				c.Exception = except.Incompleteness
				return false
			}
			m.resolveInterval(rd, diff)
		} else {
			c.SetRegister(rd, c.GetRegister(rs1)-c.GetRegister(rs2))
			m.HasSym[rd] = false
		}
	case isa.MUL:
		if m.Symbolic && (m.HasSym[rs1] || m.HasSym[rs2]) {
			if m.HasSym[rs1] && m.HasSym[rs2] {
				// Neither operand is a constant: the product of two
				// genuine intervals isn't one MSIID in general.
				c.Exception = except.Incompleteness
				return false
			}
			base, k := rs1, c.GetRegister(rs2)
			if m.HasSym[rs2] {
				base, k = rs2, c.GetRegister(rs1)
			}
			prod, err := msiid.MulConst(m.regInterval(base), k)
			if err != nil {
				c.Exception = except.Incompleteness
				return false
			}
			m.resolveInterval(rd, prod)
		} else {
			c.SetRegister(rd, c.GetRegister(rs1)*c.GetRegister(rs2))
			m.HasSym[rd] = false
		}
	case isa.DIVU:
		if m.Symbolic && m.HasSym[rs2] {
			// The domain has no interval-by-interval division; a symbolic
			// divisor must already have been narrowed to a concrete
			// singleton by a prior sltu split (see executeSymbolicSltu).
			c.Exception = except.Incompleteness
			return false
		}
		divisor := c.GetRegister(rs2)
		if divisor == 0 {
			c.Exception = except.DivisionByZero
			return false
		}
		if m.Symbolic && m.HasSym[rs1] {
			q, err := msiid.DivuConst(m.SymRegs[rs1], divisor)
			if err != nil {
				c.Exception = except.Incompleteness
				return false
			}
			m.resolveInterval(rd, q)
		} else {
			c.SetRegister(rd, c.GetRegister(rs1)/divisor)
			m.HasSym[rd] = false
		}
	case isa.REMU:
		if m.Symbolic && m.HasSym[rs2] {
			c.Exception = except.Incompleteness
			return false
		}
		divisor := c.GetRegister(rs2)
		if divisor == 0 {
			c.Exception = except.DivisionByZero
			return false
		}
		if m.Symbolic && m.HasSym[rs1] {
			r, err := msiid.RemuConst(m.SymRegs[rs1], divisor)
			if err != nil {
				c.Exception = except.Incompleteness
				return false
			}
			m.resolveInterval(rd, r)
		} else {
			c.SetRegister(rd, c.GetRegister(rs1)%divisor)
			m.HasSym[rd] = false
		}
	case isa.SLTU:
		if m.Symbolic && (m.HasSym[rs1] || m.HasSym[rs2]) {
			return m.executeSymbolicSltu(rd, rs1, rs2, pcNext)
		}
		if c.GetRegister(rs1) < c.GetRegister(rs2) {
			c.SetRegister(rd, 1)
		} else {
			c.SetRegister(rd, 0)
		}
		m.HasSym[rd] = false
	case isa.LD:
		addr := c.GetRegister(rs1) + uint64(ins.Imm)
		if !memory.IsValidAddress(addr) {
			c.Exception = except.InvalidAddress
			return false
		}
		if !c.PageTable.IsMapped(memory.PageOf(addr)) {
			c.Exception = except.PageFault
			c.FaultingPage = memory.PageOf(addr)
			return false
		}
		if m.Symbolic {
			if iv, ok := m.SymMem[addr]; ok {
				m.resolveInterval(rd, iv)
				break
			}
		}
		c.SetRegister(rd, memory.LoadDoubleWord(c.PageTable, addr))
		m.HasSym[rd] = false
	case isa.SD:
		addr := c.GetRegister(rs1) + uint64(ins.Imm)
		if !memory.IsValidAddress(addr) {
			c.Exception = except.InvalidAddress
			return false
		}
		if !c.PageTable.IsMapped(memory.PageOf(addr)) {
			c.Exception = except.PageFault
			c.FaultingPage = memory.PageOf(addr)
			return false
		}
		if m.Symbolic && m.HasSym[rs2] {
			m.SymMem[addr] = m.SymRegs[rs2]
			m.logMem(addr, m.SymRegs[rs2])
			break
		}
		memory.StoreDoubleWord(c.PageTable, addr, c.GetRegister(rs2))
		if m.Symbolic {
			delete(m.SymMem, addr)
		}
	case isa.BEQ:
		if c.GetRegister(rs1) == c.GetRegister(rs2) {
			pcNext = c.PC + uint64(ins.Imm)
		}
	case isa.JAL:
		c.SetRegister(rd, pcNext)
		m.HasSym[rd] = false
		pcNext = c.PC + uint64(ins.Imm)
	case isa.JALR:
		target := c.GetRegister(rs1) + uint64(ins.Imm)
		c.SetRegister(rd, pcNext)
		m.HasSym[rd] = false
		pcNext = target
	case isa.ECALL:
		c.Exception = except.Syscall
		c.PC = pcNext
		return false
	default:
		c.Exception = except.UnknownInstruction
		return false
	}
	c.PC = pcNext
	return true
}

// HandleSyscall dispatches on a7 (register 17) once the interpreter has
// surfaced EXCEPTION_SYSCALL, mirroring spec.md §7's handle_exception
// table. It clears the exception and returns false for EXIT, for an
// unknown syscall, and for input outside monster mode; the caller's run
// loop treats false as ending this context's run.
func (m *Machine) HandleSyscall() (continueRunning bool) {
	c := m.Ctx
	a7 := c.GetRegister(17)
	a0 := c.GetRegister(10)
	a1 := c.GetRegister(11)
	a2 := c.GetRegister(12)

	c.Exception = except.None
	switch a7 {
	case kernel.SyscallExit:
		kernel.Exit(c, a0)
		return false
	case kernel.SyscallRead:
		n, ok := m.Kernel.Read(c, int64(a0), a1, a2)
		if !ok {
			c.Exception = except.PageFault
			return true
		}
		c.SetRegister(10, uint64(n))
	case kernel.SyscallWrite:
		n, ok := m.Kernel.Write(c, int64(a0), a1, a2)
		if !ok {
			c.Exception = except.PageFault
			return true
		}
		c.SetRegister(10, uint64(n))
	case kernel.SyscallOpen:
		fd, ok := m.Kernel.Open(c, a0, 128)
		if !ok {
			c.Exception = except.PageFault
			return true
		}
		c.SetRegister(10, uint64(fd))
	case kernel.SyscallBrk:
		c.SetRegister(10, kernel.Brk(c, a0))
	case kernel.SyscallInput:
		if !m.Symbolic {
			// input() is only meaningful under monster mode; outside it,
			// treat it like any other syscall the kernel doesn't know.
			return false
		}
		m.resolveInterval(10, msiid.Interval{Start: a0, End: a1, Step: a2})
	case kernel.SyscallSwitch:
		to, ok := m.Contexts[a0]
		if !ok {
			c.Exception = except.PageFault
			return true
		}
		kernel.Switch(c, to)
		prevHandle, savedTimer := m.CurrentHandle, m.Timer
		m.Ctx, m.CurrentHandle, m.Timer = to, a0, int64(a1)
		to.Exception = m.RunUntilException()
		m.Ctx, m.CurrentHandle, m.Timer = c, prevHandle, savedTimer
		c.SetRegister(10, prevHandle)
	default:
		c.Exception = except.None
		// Unknown syscall: reported to the caller the same way as EXIT,
		// with GuestExit left unchanged.
		return false
	}
	return true
}

// RunUntilException repeatedly steps the machine until an exception is
// raised (including a timer expiry), returning the exception that ended
// the run (spec.md §5 "the only place execution yields").
func (m *Machine) RunUntilException() except.Exception {
	for {
		if !m.Step() {
			return m.Ctx.Exception
		}
	}
}
