// Package console is the interactive debugger driving a single machine
// step by step: break/continue/registers/memory inspection while a
// concrete or symbolic run is paused (spec.md §6 "-v debug", §9
// observability requirements).
//
// Grounded on command/reader/reader.go's liner prompt loop and
// command/parser/parser.go's minimum-match command table, generalized
// from S370's device/channel commands to selfie's step/continue/regs/mem
// vocabulary.
package console

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/peterh/liner"

	"github.com/selfie-lang/selfie/internal/isa"
	"github.com/selfie-lang/selfie/internal/machine/context"
	"github.com/selfie-lang/selfie/internal/machine/except"
	"github.com/selfie-lang/selfie/internal/machine/interp"
)

// cmdLine is one user-entered line, consumed word by word.
type cmdLine struct {
	line string
	pos  int
}

func (l *cmdLine) isEOL() bool { return l.pos >= len(l.line) }

func (l *cmdLine) skipSpace() {
	for !l.isEOL() && l.line[l.pos] == ' ' {
		l.pos++
	}
}

func (l *cmdLine) getWord() string {
	l.skipSpace()
	start := l.pos
	for !l.isEOL() && l.line[l.pos] != ' ' {
		l.pos++
	}
	return l.line[start:l.pos]
}

type command struct {
	name    string
	min     int
	process func(*cmdLine, *Console) (quit bool, err error)
}

var commandTable = []command{
	{name: "step", min: 1, process: cmdStep},
	{name: "continue", min: 1, process: cmdContinue},
	{name: "registers", min: 1, process: cmdRegisters},
	{name: "memory", min: 1, process: cmdMemory},
	{name: "break", min: 2, process: cmdBreak},
	{name: "delete", min: 1, process: cmdDeleteBreak},
	{name: "quit", min: 1, process: cmdQuit},
}

func matchCommand(m command, name string) bool {
	if name == "" || len(name) > len(m.name) {
		return false
	}
	return m.name[:len(name)] == name && len(name) >= m.min
}

func matchList(name string) []command {
	var out []command
	for _, c := range commandTable {
		if matchCommand(c, name) {
			out = append(out, c)
		}
	}
	return out
}

// Console wraps a paused machine with the bookkeeping the debugger needs:
// breakpoints, and whether the last command asked to keep running.
type Console struct {
	Machine     *interp.Machine
	Breakpoints map[uint64]bool
	out         func(string)
}

// New wraps m for interactive stepping; out receives every line the
// console prints (os.Stdout.WriteString in cmd/selfie).
func New(m *interp.Machine, out func(string)) *Console {
	return &Console{Machine: m, Breakpoints: make(map[uint64]bool), out: out}
}

func (c *Console) printf(format string, args ...any) {
	c.out(fmt.Sprintf(format, args...))
}

// Run starts the liner prompt loop, returning once the user quits or the
// guest exits.
func (c *Console) Run() error {
	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	for {
		input, err := line.Prompt("selfie> ")
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) {
				return nil
			}
			return err
		}
		line.AppendHistory(input)

		cl := &cmdLine{line: input}
		name := cl.getWord()
		if name == "" {
			continue
		}
		match := matchList(name)
		if len(match) == 0 {
			c.printf("unknown command: %s\n", name)
			continue
		}
		if len(match) > 1 {
			c.printf("ambiguous command: %s\n", name)
			continue
		}
		quit, err := match[0].process(cl, c)
		if err != nil {
			c.printf("error: %s\n", err.Error())
		}
		if quit {
			return nil
		}
	}
}

func cmdStep(cl *cmdLine, c *Console) (bool, error) {
	n := 1
	if w := cl.getWord(); w != "" {
		v, err := strconv.Atoi(w)
		if err != nil {
			return false, fmt.Errorf("bad step count %q", w)
		}
		n = v
	}
	for i := 0; i < n; i++ {
		if !c.Machine.Step() {
			c.reportStop()
			return false, nil
		}
	}
	c.printf("pc=%#x\n", c.Machine.Ctx.PC)
	return false, nil
}

func cmdContinue(cl *cmdLine, c *Console) (bool, error) {
	for {
		if c.Breakpoints[c.Machine.Ctx.PC] {
			c.printf("breakpoint at %#x\n", c.Machine.Ctx.PC)
			return false, nil
		}
		if !c.Machine.Step() {
			c.reportStop()
			return false, nil
		}
	}
}

func (c *Console) reportStop() {
	ctx := c.Machine.Ctx
	if ctx.Exception == except.Syscall {
		if !c.Machine.HandleSyscall() {
			c.printf("exit(%d)\n", ctx.GuestExit)
			return
		}
		c.printf("syscall handled, pc=%#x\n", ctx.PC)
		return
	}
	c.printf("stopped: %s at pc=%#x\n", ctx.Exception, ctx.PC)
}

func cmdRegisters(cl *cmdLine, c *Console) (bool, error) {
	ctx := c.Machine.Ctx
	for r := 0; r < context.NumRegisters; r++ {
		c.printf("x%-2d=%#018x", r, ctx.GetRegister(r))
		if r%4 == 3 {
			c.printf("\n")
		} else {
			c.printf("  ")
		}
	}
	c.printf("pc=%#018x\n", ctx.PC)
	return false, nil
}

func cmdMemory(cl *cmdLine, c *Console) (bool, error) {
	addrStr := cl.getWord()
	addr, err := strconv.ParseUint(strings.TrimPrefix(addrStr, "0x"), 16, 64)
	if err != nil {
		return false, fmt.Errorf("bad address %q", addrStr)
	}
	word, ok := peek(c.Machine, addr)
	if !ok {
		return false, fmt.Errorf("address %#x not mapped", addr)
	}
	if _, ok := isa.Decode(word); ok {
		c.printf("%#x: %s\n", addr, isa.Disassemble(addr, word))
	} else {
		c.printf("%#x: %#08x\n", addr, word)
	}
	return false, nil
}

func peek(m *interp.Machine, addr uint64) (uint32, bool) {
	page := addr / 4096
	if !m.Ctx.PageTable.IsMapped(page) {
		return 0, false
	}
	dw := m.Ctx.PageTable.Lookup(page)
	off := addr % 4096
	if off+4 > uint64(len(dw)) {
		return 0, false
	}
	return uint32(dw[off]) | uint32(dw[off+1])<<8 | uint32(dw[off+2])<<16 | uint32(dw[off+3])<<24, true
}

func cmdBreak(cl *cmdLine, c *Console) (bool, error) {
	addrStr := cl.getWord()
	addr, err := strconv.ParseUint(strings.TrimPrefix(addrStr, "0x"), 16, 64)
	if err != nil {
		return false, fmt.Errorf("bad address %q", addrStr)
	}
	c.Breakpoints[addr] = true
	c.printf("breakpoint set at %#x\n", addr)
	return false, nil
}

func cmdDeleteBreak(cl *cmdLine, c *Console) (bool, error) {
	addrStr := cl.getWord()
	addr, err := strconv.ParseUint(strings.TrimPrefix(addrStr, "0x"), 16, 64)
	if err != nil {
		return false, fmt.Errorf("bad address %q", addrStr)
	}
	delete(c.Breakpoints, addr)
	return false, nil
}

func cmdQuit(cl *cmdLine, c *Console) (bool, error) {
	return true, nil
}
