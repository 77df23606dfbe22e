// Package e2e exercises complete source-to-exit-code runs through every
// layer: compiler, ELF64 framing, paged virtual memory, and the
// interpreter/kernel syscall loop (spec.md §8 "End-to-end scenarios"),
// including monster mode, which drives internal/symbolic/{msiid,trace,
// branch} through internal/machine/interp.Machine.RunSymbolic rather than
// a single concrete pass.
package e2e

import (
	"encoding/binary"
	"sort"
	"strings"
	"testing"

	"github.com/selfie-lang/selfie/internal/cio"
	"github.com/selfie-lang/selfie/internal/compiler"
	"github.com/selfie-lang/selfie/internal/elffmt"
	"github.com/selfie-lang/selfie/internal/machine/context"
	"github.com/selfie-lang/selfie/internal/machine/except"
	"github.com/selfie-lang/selfie/internal/machine/interp"
	"github.com/selfie-lang/selfie/internal/machine/kernel"
	"github.com/selfie-lang/selfie/internal/machine/memory"
	"github.com/selfie-lang/selfie/internal/symbolic/branch"
	"github.com/selfie-lang/selfie/internal/symbolic/msiid"
	"github.com/selfie-lang/selfie/internal/symbolic/trace"
)

// compileAndSave runs src through the compiler and the ELF64 writer,
// returning the exact bytes a ".bin" file on disk would hold.
func compileAndSave(t *testing.T, src string) []byte {
	t.Helper()
	c := compiler.New(cio.NewSource(strings.NewReader(src)))
	c.Compile()
	if errs := c.Errors(); len(errs) > 0 {
		t.Fatalf("unexpected compile errors: %v", errs)
	}
	codeLength, payload, err := c.EncodeBinary()
	if err != nil {
		t.Fatalf("EncodeBinary: %v", err)
	}
	return elffmt.Save(codeLength, payload)
}

// newMachine parses file as an ELF64 selfie binary and maps it into a
// fresh address space at its declared entry point, ready to run
// concretely or under EnableSymbolic.
func newMachine(t *testing.T, file []byte) *interp.Machine {
	t.Helper()
	_, payload, err := elffmt.Load(file, memory.VirtualMemorySize)
	if err != nil {
		t.Fatalf("elffmt.Load: %v", err)
	}

	pt := memory.NewPageTable()
	alloc := memory.NewFrameAllocator(4)
	firstPage := memory.PageOf(elffmt.EntryPoint)
	lastPage := memory.PageOf(elffmt.EntryPoint + uint64(len(payload)))
	for p := firstPage; p <= lastPage; p++ {
		frame, err := alloc.Palloc()
		if err != nil {
			t.Fatalf("palloc: %v", err)
		}
		pt.Map(p, frame)
	}
	for i := 0; i+8 <= len(payload); i += 8 {
		memory.StoreDoubleWord(pt, elffmt.EntryPoint+uint64(i), binary.LittleEndian.Uint64(payload[i:i+8]))
	}
	stackPage := memory.PageOf(memory.VirtualMemorySize - memory.WordSize)
	frame, err := alloc.Palloc()
	if err != nil {
		t.Fatalf("palloc stack: %v", err)
	}
	pt.Map(stackPage, frame)

	ctx := &context.Context{PageTable: pt, PC: elffmt.EntryPoint}
	ctx.SetRegister(2, memory.VirtualMemorySize-memory.WordSize) // sp

	return interp.New(ctx, kernel.New(), -1)
}

// loadAndRun maps file and runs it concretely to completion.
func loadAndRun(t *testing.T, file []byte) *interp.Machine {
	t.Helper()
	m := newMachine(t, file)
	for i := 0; i < 100000; i++ {
		exc := m.RunUntilException()
		if exc != except.Syscall {
			t.Fatalf("unexpected exception %v at pc %#x", exc, m.Ctx.PC)
		}
		if !m.HandleSyscall() {
			return m
		}
	}
	t.Fatal("program did not exit within the instruction budget")
	return nil
}

func run(t *testing.T, src string) *interp.Machine {
	t.Helper()
	return loadAndRun(t, compileAndSave(t, src))
}

func TestEndToEndReturnLiteral(t *testing.T) {
	m := run(t, `uint64_t main() { return 42; }`)
	if m.Ctx.GuestExit != 42 {
		t.Fatalf("guest exit = %d, want 42", m.Ctx.GuestExit)
	}
}

func TestEndToEndMallocStoreLoad(t *testing.T) {
	m := run(t, `
		uint64_t main() {
			uint64_t* p;
			p = malloc(8);
			*p = 123;
			return *p;
		}
	`)
	if m.Ctx.GuestExit != 123 {
		t.Fatalf("guest exit = %d, want 123", m.Ctx.GuestExit)
	}
}

func TestEndToEndWhileLoopConvergence(t *testing.T) {
	m := run(t, `
		uint64_t main() {
			uint64_t i;
			uint64_t product;
			i = 1;
			product = 1;
			while (i < 6) {
				product = product * i;
				i = i + 1;
			}
			return product;
		}
	`)
	if m.Ctx.GuestExit != 120 {
		t.Fatalf("guest exit = %d, want 120 (5!)", m.Ctx.GuestExit)
	}
}

func TestEndToEndUndefinedProcedureBootstrap(t *testing.T) {
	c := compiler.New(cio.NewSource(strings.NewReader(`
		uint64_t main() {
			return phantom(7);
		}
	`)))
	c.Compile()
	found := false
	for _, e := range c.Errors() {
		if strings.Contains(e.Msg, `"phantom" undefined`) {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected an undefined-procedure diagnostic, got: %v", c.Errors())
	}
	codeLength, payload, err := c.EncodeBinary()
	if err != nil {
		t.Fatalf("EncodeBinary: %v", err)
	}
	m := loadAndRun(t, elffmt.Save(codeLength, payload))
	if m.Ctx.GuestExit != 0 {
		t.Fatalf("guest exit = %d, want 0 from the bootstrap stub", m.Ctx.GuestExit)
	}
}

// TestEndToEndSymbolicBranchExploration drives the symbolic packages
// directly through the shape of `input(0, 3, 1)` followed by
// `if (x < 2)`: one fresh MSIID head, one sltu split into two feasible
// sub-cases, and full DFS exploration of both (spec.md §8's
// "input/branch exploration with witness reporting" scenario).
func TestEndToEndSymbolicBranchExploration(t *testing.T) {
	tr := trace.New(64)
	const xVaddr = uint64(trace.NumberOfRegisters) // first memory cell

	x := msiid.Interval{Start: 0, End: 3, Step: 1}
	tc := tr.EAlloc(0x10000, xVaddr, trace.MSIID, x, 0, 0, 0, -1, 0)

	threshold := msiid.Single(2)
	splits, err := msiid.Sltu(x, threshold)
	if err != nil {
		t.Fatalf("Sltu: %v", err)
	}
	if len(splits) != 2 {
		t.Fatalf("splits = %+v, want 2 feasible sub-cases", splits)
	}

	eng := branch.New(0)
	first, err := eng.Push(tc, 0x10004, 5 /* rd */, 0, 0, splits)
	if err != nil {
		t.Fatalf("Push: %v", err)
	}

	visited := map[uint64]bool{}
	commit := func(s msiid.SplitResult) {
		tr.EAlloc(0x10004, xVaddr, trace.MSIID, s.Rs1, 0, 0, 0, tc, 0)
		visited[s.Value] = true
	}
	commit(first)

	frame, next, ok := eng.Backtrack()
	if !ok {
		t.Fatal("Backtrack should find the second sub-case")
	}
	if frame.TC != tc {
		t.Fatalf("Backtrack frame.TC = %d, want %d", frame.TC, tc)
	}
	// Undo the first sub-case's store before committing the second, exactly
	// as the interpreter's backtrack_sltu would.
	for tr.Len() > int(frame.TC)+1 {
		tr.EFree()
	}
	commit(next)

	if !visited[0] || !visited[1] {
		t.Fatalf("visited = %+v, want both sub-cases explored", visited)
	}
	if _, _, ok := eng.Backtrack(); ok {
		t.Fatal("no sub-cases should remain after both have been explored")
	}
	if !eng.Done() {
		t.Fatal("engine should report Done once both sub-cases are explored")
	}

	if err := branch.AssertDrained(branch.Counters{}); err != nil {
		t.Fatalf("AssertDrained: %v", err)
	}
}

// TestEndToEndDivuBySymbolicZeroContainingInterval exercises `divu` whose
// divisor interval contains zero: feasible execution first splits off the
// zero case via sltu(0, divisor), dividing only on the branch where zero
// is excluded, and raising the division-by-zero condition on the other
// (spec.md §8's "divu by symbolic zero-containing interval" scenario).
func TestEndToEndDivuBySymbolicZeroContainingInterval(t *testing.T) {
	divisor := msiid.Interval{Start: 0, End: 4, Step: 1}

	splits, err := msiid.Sltu(msiid.Single(0), divisor)
	if err != nil {
		t.Fatalf("Sltu: %v", err)
	}

	var sawZeroExcluded, sawZeroOnly bool
	for _, s := range splits {
		switch s.Value {
		case 1: // 0 < divisor: zero is excluded from the refined interval.
			sawZeroExcluded = true
			if s.Rs2.Contains(0) {
				t.Fatalf("refined divisor %+v should not contain 0", s.Rs2)
			}
			if _, err := msiid.DivuConst(msiid.Single(100), s.Rs2.Start); err != nil {
				t.Fatalf("DivuConst on the excluded-zero branch: %v", err)
			}
		case 0: // 0 >= divisor, and divisor is unsigned: only 0 itself qualifies.
			sawZeroOnly = true
			if !s.Rs2.IsSingleton() || s.Rs2.Start != 0 {
				t.Fatalf("refined divisor %+v, want the singleton {0}", s.Rs2)
			}
			if _, err := msiid.DivuConst(msiid.Single(100), 0); err != msiid.ErrIncomplete {
				t.Fatalf("DivuConst by 0: got %v, want ErrIncomplete", err)
			}
		}
	}
	if !sawZeroExcluded || !sawZeroOnly {
		t.Fatalf("splits = %+v, want both the zero-excluded and zero-only sub-cases", splits)
	}
}

// TestEndToEndMonsterModeExploresBothBranches compiles and runs a real
// program through interp.Machine.RunSymbolic end to end: `input(0, 3, 1)`
// into x, then `if (x < 2) return 10; else return 20;`, driven under -n
// instead of a single concrete pass (spec.md §8's "input/branch
// exploration with witness reporting" scenario).
func TestEndToEndMonsterModeExploresBothBranches(t *testing.T) {
	file := compileAndSave(t, `
		uint64_t main() {
			uint64_t x;
			x = input(0, 3, 1);
			if (x < 2) {
				return 10;
			} else {
				return 20;
			}
		}
	`)
	m := newMachine(t, file)
	m.EnableSymbolic(interp.SymbolicLimits{MaxDepth: 8, MaxPaths: 8})

	exits, fault := m.RunSymbolic()
	if fault != except.None {
		t.Fatalf("RunSymbolic ended on %v, want every explored path to exit cleanly", fault)
	}

	sort.Slice(exits, func(i, j int) bool { return exits[i] < exits[j] })
	want := []uint64{10, 20}
	if len(exits) != len(want) || exits[0] != want[0] || exits[1] != want[1] {
		t.Fatalf("exits = %v, want %v (both branches of `if (x < 2)` explored)", exits, want)
	}
	if !m.Branch.Done() {
		t.Fatal("branch engine should report exploration complete once both sub-cases ran")
	}
}
