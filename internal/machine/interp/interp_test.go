package interp

import (
	"testing"

	"github.com/selfie-lang/selfie/internal/isa"
	"github.com/selfie-lang/selfie/internal/machine/context"
	"github.com/selfie-lang/selfie/internal/machine/except"
	"github.com/selfie-lang/selfie/internal/machine/kernel"
	"github.com/selfie-lang/selfie/internal/machine/memory"
)

func newRunnableMachine(t *testing.T, program []isa.Instruction) *Machine {
	t.Helper()
	c := &context.Context{PageTable: memory.NewPageTable(), PC: 0}
	alloc := memory.NewFrameAllocator(1)
	frame, err := alloc.Palloc()
	if err != nil {
		t.Fatal(err)
	}
	c.PageTable.Map(0, frame)

	for i := 0; i < len(program); i += 2 {
		var lo, hi uint32
		var err error
		lo, err = isa.Encode(program[i])
		if err != nil {
			t.Fatalf("encode %d: %v", i, err)
		}
		if i+1 < len(program) {
			hi, err = isa.Encode(program[i+1])
			if err != nil {
				t.Fatalf("encode %d: %v", i+1, err)
			}
		}
		memory.StoreDoubleWord(c.PageTable, uint64(i)*InstructionSize, isa.PackHalf(lo, hi))
	}
	return New(c, kernel.New(), -1)
}

func TestAddiAndAddExecute(t *testing.T) {
	m := newRunnableMachine(t, []isa.Instruction{
		{Mnemonic: isa.ADDI, RD: 5, RS1: 0, Imm: 10},
		{Mnemonic: isa.ADDI, RD: 6, RS1: 0, Imm: 32},
		{Mnemonic: isa.ADD, RD: 7, RS1: 5, RS2: 6},
	})
	for i := 0; i < 3; i++ {
		if !m.Step() {
			t.Fatalf("step %d failed: %v", i, m.Ctx.Exception)
		}
	}
	if got := m.Ctx.GetRegister(7); got != 42 {
		t.Fatalf("x7 = %d, want 42", got)
	}
}

func TestRegisterZeroWritesAreNoOps(t *testing.T) {
	m := newRunnableMachine(t, []isa.Instruction{
		{Mnemonic: isa.ADDI, RD: 0, RS1: 0, Imm: 99},
	})
	m.Step()
	if got := m.Ctx.GetRegister(0); got != 0 {
		t.Fatalf("x0 = %d, want 0", got)
	}
}

func TestDivuByZeroRaisesException(t *testing.T) {
	m := newRunnableMachine(t, []isa.Instruction{
		{Mnemonic: isa.DIVU, RD: 5, RS1: 0, RS2: 0},
	})
	if m.Step() {
		t.Fatal("expected division by zero to stop execution")
	}
	if m.Ctx.Exception != except.DivisionByZero {
		t.Fatalf("exception = %v, want DivisionByZero", m.Ctx.Exception)
	}
}

func TestBeqBranchTaken(t *testing.T) {
	m := newRunnableMachine(t, []isa.Instruction{
		{Mnemonic: isa.ADDI, RD: 5, RS1: 0, Imm: 1},
		{Mnemonic: isa.ADDI, RD: 6, RS1: 0, Imm: 1},
		{Mnemonic: isa.BEQ, RS1: 5, RS2: 6, Imm: 8}, // skip the next instruction
		{Mnemonic: isa.ADDI, RD: 7, RS1: 0, Imm: 999},
		{Mnemonic: isa.ADDI, RD: 7, RS1: 0, Imm: 1},
	})
	for i := 0; i < 4; i++ {
		if !m.Step() {
			t.Fatalf("step %d: %v", i, m.Ctx.Exception)
		}
	}
	if got := m.Ctx.GetRegister(7); got != 1 {
		t.Fatalf("x7 = %d, want 1 (branch should have skipped the 999 store)", got)
	}
}

func TestEcallRaisesSyscallException(t *testing.T) {
	m := newRunnableMachine(t, []isa.Instruction{
		{Mnemonic: isa.ADDI, RD: 17, RS1: 0, Imm: kernel.SyscallExit},
		{Mnemonic: isa.ADDI, RD: 10, RS1: 0, Imm: 42},
		{Mnemonic: isa.ECALL},
	})
	for i := 0; i < 2; i++ {
		m.Step()
	}
	if m.Step() {
		t.Fatal("ecall should stop the step loop with EXCEPTION_SYSCALL")
	}
	if m.Ctx.Exception != except.Syscall {
		t.Fatalf("exception = %v, want Syscall", m.Ctx.Exception)
	}
	if cont := m.HandleSyscall(); cont {
		t.Fatal("exit syscall should return continueRunning=false")
	}
	if m.Ctx.GuestExit != 42 {
		t.Fatalf("GuestExit = %d, want 42", m.Ctx.GuestExit)
	}
}

func TestTimerExpiryRaisesTimerException(t *testing.T) {
	m := newRunnableMachine(t, []isa.Instruction{
		{Mnemonic: isa.ADDI, RD: 5, RS1: 0, Imm: 1},
		{Mnemonic: isa.ADDI, RD: 5, RS1: 0, Imm: 2},
	})
	m.Timer = 2
	if !m.Step() {
		t.Fatalf("first step should succeed before timer fires: %v", m.Ctx.Exception)
	}
	if m.Step() {
		t.Fatal("second step should fail once the timer reaches 0")
	}
	if m.Ctx.Exception != except.Timer {
		t.Fatalf("exception = %v, want Timer after timer reaches 0", m.Ctx.Exception)
	}
}
