package compiler

import (
	"encoding/binary"
	"strings"
	"testing"

	"github.com/selfie-lang/selfie/internal/cio"
	"github.com/selfie-lang/selfie/internal/machine/context"
	"github.com/selfie-lang/selfie/internal/machine/except"
	"github.com/selfie-lang/selfie/internal/machine/interp"
	"github.com/selfie-lang/selfie/internal/machine/kernel"
	"github.com/selfie-lang/selfie/internal/machine/memory"
)

// runProgram compiles src, loads the resulting binary into a fresh virtual
// address space starting at entryPoint, and runs it to completion, servicing
// syscalls the way a real kernel would. It fails the test on any compile
// error or exception other than a clean exit.
func runProgram(t *testing.T, src string) *interp.Machine {
	t.Helper()
	c := New(cio.NewSource(strings.NewReader(src)))
	c.Compile()
	if errs := c.Errors(); len(errs) > 0 {
		t.Fatalf("unexpected compile errors: %v", errs)
	}
	return loadAndRun(t, c)
}

func loadAndRun(t *testing.T, c *Compiler) *interp.Machine {
	t.Helper()
	_, payload, err := c.EncodeBinary()
	if err != nil {
		t.Fatalf("EncodeBinary: %v", err)
	}

	pt := memory.NewPageTable()
	alloc := memory.NewFrameAllocator(4)
	firstPage := memory.PageOf(entryPoint)
	lastPage := memory.PageOf(entryPoint + uint64(len(payload)))
	for p := firstPage; p <= lastPage; p++ {
		frame, err := alloc.Palloc()
		if err != nil {
			t.Fatalf("palloc: %v", err)
		}
		pt.Map(p, frame)
	}
	for i := 0; i+8 <= len(payload); i += 8 {
		memory.StoreDoubleWord(pt, entryPoint+uint64(i), binary.LittleEndian.Uint64(payload[i:i+8]))
	}
	stackPage := memory.PageOf(memory.VirtualMemorySize - memory.WordSize)
	frame, err := alloc.Palloc()
	if err != nil {
		t.Fatalf("palloc stack: %v", err)
	}
	pt.Map(stackPage, frame)

	ctx := &context.Context{PageTable: pt, PC: entryPoint}
	ctx.SetRegister(SP, memory.VirtualMemorySize-memory.WordSize)

	m := interp.New(ctx, kernel.New(), -1)
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

func TestReturnLiteral(t *testing.T) {
	m := runProgram(t, `uint64_t main() { return 42; }`)
	if m.Ctx.GuestExit != 42 {
		t.Fatalf("guest exit = %d, want 42", m.Ctx.GuestExit)
	}
}

func TestArithmeticAndComparison(t *testing.T) {
	m := runProgram(t, `
		uint64_t main() {
			uint64_t a;
			uint64_t b;
			a = 6 * 7;
			b = a - 2;
			if (b == 40)
				return 1;
			else
				return 0;
		}
	`)
	if m.Ctx.GuestExit != 1 {
		t.Fatalf("guest exit = %d, want 1", m.Ctx.GuestExit)
	}
}

func TestWhileLoopAccumulates(t *testing.T) {
	m := runProgram(t, `
		uint64_t main() {
			uint64_t i;
			uint64_t sum;
			i = 0;
			sum = 0;
			while (i < 5) {
				sum = sum + i;
				i = i + 1;
			}
			return sum;
		}
	`)
	if m.Ctx.GuestExit != 10 {
		t.Fatalf("guest exit = %d, want 10 (0+1+2+3+4)", m.Ctx.GuestExit)
	}
}

func TestGlobalVariableRoundTrip(t *testing.T) {
	m := runProgram(t, `
		uint64_t counter;
		uint64_t main() {
			counter = 17;
			counter = counter + 1;
			return counter;
		}
	`)
	if m.Ctx.GuestExit != 18 {
		t.Fatalf("guest exit = %d, want 18", m.Ctx.GuestExit)
	}
}

func TestProcedureCallWithParameters(t *testing.T) {
	m := runProgram(t, `
		uint64_t add(uint64_t a, uint64_t b) {
			return a + b;
		}
		uint64_t main() {
			return add(19, 23);
		}
	`)
	if m.Ctx.GuestExit != 42 {
		t.Fatalf("guest exit = %d, want 42", m.Ctx.GuestExit)
	}
}

func TestForwardProcedureReferenceResolves(t *testing.T) {
	m := runProgram(t, `
		uint64_t main() {
			return helper(5);
		}
		uint64_t helper(uint64_t x) {
			return x + 1;
		}
	`)
	if m.Ctx.GuestExit != 6 {
		t.Fatalf("guest exit = %d, want 6", m.Ctx.GuestExit)
	}
}

func TestMallocStoreLoad(t *testing.T) {
	m := runProgram(t, `
		uint64_t main() {
			uint64_t* p;
			p = malloc(8);
			*p = 99;
			return *p;
		}
	`)
	if m.Ctx.GuestExit != 99 {
		t.Fatalf("guest exit = %d, want 99", m.Ctx.GuestExit)
	}
}

func TestUndefinedProcedureProducesBootstrapStub(t *testing.T) {
	c := New(cio.NewSource(strings.NewReader(`
		uint64_t main() {
			return undeclaredHelper(1);
		}
	`)))
	c.Compile()
	found := false
	for _, e := range c.Errors() {
		if strings.Contains(e.Msg, `"undeclaredHelper" undefined`) {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected an undefined-procedure diagnostic, got: %v", c.Errors())
	}
	m := loadAndRun(t, c)
	if m.Ctx.GuestExit != 0 {
		t.Fatalf("guest exit = %d, want 0 from the bootstrap stub", m.Ctx.GuestExit)
	}
}
