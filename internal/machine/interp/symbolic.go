/*
 * selfie - Monster mode: wiring components L/M/N/O into the
 * fetch/decode/execute loop so `-n` actually explores a program's
 * feasible paths instead of running it once concretely (spec.md
 * §4.8-§4.10).
 *
 * Grounded on internal/machine/kernel's switch syscall (save the current
 * state, hand control to someone else, resume later) generalized from
 * "someone else" meaning a nested context to "someone else" meaning the
 * next untried sltu sub-case.
 */
package interp

import (
	"github.com/selfie-lang/selfie/internal/machine/context"
	"github.com/selfie-lang/selfie/internal/machine/except"
	"github.com/selfie-lang/selfie/internal/symbolic/branch"
	"github.com/selfie-lang/selfie/internal/symbolic/msiid"
	"github.com/selfie-lang/selfie/internal/symbolic/trace"
)

// SymbolicLimits bounds one monster-mode run (spec.md §4.10's exploration
// bounds).
type SymbolicLimits struct {
	MaxTraceLength int // trace capacity; 0 uses a generous default
	MaxDepth       int // symbolic/branch.Engine's maxDepth; 0 is unbounded
	MaxPaths       int // total sltu sub-cases explored across the run; 0 is unbounded
}

// EnableSymbolic switches m into monster mode: registers and memory cells
// may carry an msiid.Interval instead of a concrete value, `input`
// allocates one, and a `sltu` against a non-singleton interval drives
// depth-first exploration through symbolic/branch instead of a single
// concrete comparison. Known limitation: backtrack restores only the
// context.Saved snapshot taken at the split (concrete registers, pc,
// program break, exception), trims the symbolic trace, and re-commits the
// split sltu's rd, rs1 and rs2. It does not restore the symbolic state of
// other registers (SymRegs/HasSym), symbolic memory cells (SymMem), or
// concrete memory written after the split.
func (m *Machine) EnableSymbolic(limits SymbolicLimits) {
	maxTrace := limits.MaxTraceLength
	if maxTrace <= 0 {
		maxTrace = 4096
	}
	m.Symbolic = true
	m.Limits = limits
	m.SymTrace = trace.New(maxTrace)
	m.Branch = branch.New(limits.MaxDepth)
	m.SymMem = make(map[uint64]msiid.Interval)
	m.snapshots = make(map[int64]context.Saved)
	m.splitOperands = make(map[int64][2]int)
}

// regInterval returns r's value as an interval, wrapping a concrete
// register as the degenerate singleton so arithmetic has one code path
// regardless of which operand is actually symbolic.
func (m *Machine) regInterval(r int) msiid.Interval {
	if m.HasSym[r] {
		return m.SymRegs[r]
	}
	return msiid.Single(m.Ctx.GetRegister(r))
}

// resolveInterval assigns i to r: a singleton demotes r back to an
// ordinary concrete register (nothing uncertain remains to track), while
// a genuine interval is recorded in SymRegs and logged to the symbolic
// trace.
func (m *Machine) resolveInterval(r int, i msiid.Interval) {
	if r == 0 {
		return // x0 is hardwired to zero, symbolically too
	}
	if i.IsSingleton() {
		m.Ctx.SetRegister(r, i.Start)
		m.HasSym[r] = false
		return
	}
	m.SymRegs[r] = i
	m.HasSym[r] = true
	m.logReg(r, i)
}

func (m *Machine) logReg(r int, i msiid.Interval) {
	prev := m.SymTrace.LatestTC(uint64(r))
	m.SymTrace.EAlloc(m.Ctx.PC, uint64(r), trace.MSIID, i, 0, 0, 0, prev, m.Ctx.ProgramBreak)
}

func (m *Machine) logMem(addr uint64, i msiid.Interval) {
	prev := m.SymTrace.LatestTC(addr)
	m.SymTrace.EAlloc(m.Ctx.PC, addr, trace.MSIID, i, 0, 0, 0, prev, m.Ctx.ProgramBreak)
}

// executeSymbolicSltu handles `sltu rd, rs1, rs2` when either operand
// carries a symbolic interval (spec.md §4.10): it enumerates the feasible
// sub-cases, commits to the first, and — when more than one is feasible —
// leaves the rest on the branch stack for RunSymbolic to explore later.
func (m *Machine) executeSymbolicSltu(rd, rs1, rs2 int, pcNext uint64) bool {
	c := m.Ctx
	splits, err := msiid.Sltu(m.regInterval(rs1), m.regInterval(rs2))
	if err != nil || len(splits) == 0 {
		c.Exception = except.Incompleteness
		return false
	}
	if len(splits) == 1 {
		m.commitSplit(rd, rs1, rs2, splits[0])
		c.PC = pcNext
		return true
	}

	rollback := int64(m.SymTrace.Len() - 1)
	m.snapshots[rollback] = c.Save()
	m.splitOperands[rollback] = [2]int{rs1, rs2}

	first, err := m.Branch.Push(rollback, c.PC, rd, c.GetRegister(8), c.GetRegister(2), splits)
	if err != nil {
		// branch.ErrPathTooDeep: exploration would exceed its configured
		// bound. Give up on this path the same way an incomplete domain
		// result does, rather than explore further.
		c.Exception = except.Incompleteness
		return false
	}
	m.commitSplit(rd, rs1, rs2, first)
	c.PC = pcNext
	return true
}

// commitSplit installs one sltu sub-case: rd always ends up concrete (0
// or 1), while rs1/rs2 are refined to whatever the sub-case narrowed them
// to.
func (m *Machine) commitSplit(rd, rs1, rs2 int, s msiid.SplitResult) {
	m.Ctx.SetRegister(rd, s.Value)
	m.HasSym[rd] = false
	m.resolveInterval(rs1, s.Rs1)
	m.resolveInterval(rs2, s.Rs2)
}

// RunSymbolic drives the outer monster loop (spec.md §4.10): run to
// completion or to an exception, record the outcome, then backtrack to
// the next untried sltu sub-case and resume, until symbolic/branch
// reports every split has been explored. Returns every guest exit code
// observed (one per explored path that ran to exit) and the last
// non-exit exception a path ended on, if any.
func (m *Machine) RunSymbolic() (exits []uint64, lastFault except.Exception) {
	for {
		exc := m.RunUntilException()
		switch {
		case exc == except.Syscall && m.HandleSyscall():
			continue // a non-exit syscall on this path; keep running it
		case exc == except.Syscall:
			exits = append(exits, m.Ctx.GuestExit)
		default:
			lastFault = exc
		}
		if !m.backtrack() {
			return exits, lastFault
		}
	}
}

// backtrack rewinds to the next untried sltu sub-case: it trims the
// symbolic trace back to the split point, restores the concrete register
// snapshot taken right before the split, and commits to the alternate
// sub-case symbolic/branch hands back.
func (m *Machine) backtrack() bool {
	if m.Limits.MaxPaths > 0 && m.paths >= m.Limits.MaxPaths {
		return false
	}
	frame, next, ok := m.Branch.Backtrack()
	if !ok {
		return false
	}
	for m.SymTrace.Len() > int(frame.TC)+1 {
		m.SymTrace.EFree()
	}
	if snap, ok := m.snapshots[frame.TC]; ok {
		m.Ctx.Restore(snap)
	}
	m.Ctx.Exception = except.None
	ops := m.splitOperands[frame.TC]
	m.commitSplit(frame.Rd, ops[0], ops[1], next)
	m.Ctx.PC = frame.PC + InstructionSize
	m.paths++
	return true
}
