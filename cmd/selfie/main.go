// selfie compiles C* sources, disassembles or runs RISC-U binaries, and
// drives the symbolic execution engine (spec.md §6 "CLI").
//
// Grounded on the teacher's root main.go: getopt-parsed flags, a
// slog.Logger built once at startup and installed as the process default,
// and an explicit exit-code mapping instead of panicking out of main.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	getopt "github.com/pborman/getopt/v2"

	"github.com/selfie-lang/selfie/internal/cio"
	"github.com/selfie-lang/selfie/internal/compiler"
	"github.com/selfie-lang/selfie/internal/config"
	"github.com/selfie-lang/selfie/internal/console"
	"github.com/selfie-lang/selfie/internal/elffmt"
	"github.com/selfie-lang/selfie/internal/isa"
	"github.com/selfie-lang/selfie/internal/logging"
	"github.com/selfie-lang/selfie/internal/machine/context"
	"github.com/selfie-lang/selfie/internal/machine/except"
	"github.com/selfie-lang/selfie/internal/machine/interp"
	"github.com/selfie-lang/selfie/internal/machine/kernel"
	"github.com/selfie-lang/selfie/internal/machine/memory"
)

// noMemory marks a machine-mode flag as unset: 0 MB is never a usable
// request, so it doubles as the "not given" sentinel.
const noMemory = 0

func main() {
	optCompile := getopt.BoolLong("compile", 'c', "Compile C* source files")
	optOutput := getopt.StringLong("output", 'o', "selfie.bin", "Output binary path")
	optDisasmOut := getopt.BoolLong("disassemble", 's', "Print disassembly to stdout")
	optDisasmFile := getopt.StringLong("disassemble-file", 'S', "", "Write disassembly to a file")
	optLoad := getopt.StringLong("load", 'l', "", "Load and run a binary")
	optSat := getopt.StringLong("sat", 0, "", "Emit DIMACS CNF (unsupported: no SMT backend)")
	optVerbosity := getopt.IntLong("verbosity", 'v', 0, "Verbosity 0..5")
	optInteractive := getopt.BoolLong("interactive", 'i', "Drop into the interactive console before running")
	optLogFile := getopt.StringLong("logfile", 0, "", "Diagnostic log file")
	optHelp := getopt.BoolLong("help", 'h', "Help")

	optMipster := getopt.IntLong("mipster", 'm', noMemory, "Run concretely with N MB of memory")
	optDipster := getopt.IntLong("dipster", 'd', noMemory, "Run concretely, disassembling each instruction")
	optRipster := getopt.IntLong("ripster", 'r', noMemory, "Run concretely, recording a reversible trace")
	optMonster := getopt.IntLong("monster", 'n', noMemory, "Run symbolically")
	optHypster := getopt.IntLong("hypster", 'y', noMemory, "Run as a nested hypervisor guest")
	optMinster := getopt.IntLong("minster", 0, noMemory, "Run with the address space pre-mapped")
	optMobster := getopt.IntLong("mobster", 0, noMemory, "Run with host-backed paging")

	getopt.Parse()

	if *optHelp {
		getopt.Usage()
		os.Exit(0)
	}

	var logFile io.Writer
	if *optLogFile != "" {
		f, err := os.Create(*optLogFile)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		logFile = f
		defer f.Close()
	}
	logger := logging.New(logFile, *optVerbosity)
	slog.SetDefault(logger)

	machine := config.DefaultMachine()
	machine.Verbosity = *optVerbosity
	for _, sel := range []struct {
		mode config.Mode
		n    *int
	}{
		{config.ModeMipster, optMipster},
		{config.ModeDipster, optDipster},
		{config.ModeRipster, optRipster},
		{config.ModeMonster, optMonster},
		{config.ModeHypster, optHypster},
		{config.ModeMinster, optMinster},
		{config.ModeMobster, optMobster},
	} {
		if *sel.n != noMemory {
			machine.Mode = sel.mode
			machine.MemoryMB = *sel.n
		}
	}

	switch {
	case *optCompile:
		os.Exit(doCompile(getopt.Args(), *optOutput, *optDisasmOut, *optDisasmFile))
	case *optLoad != "":
		os.Exit(doRun(*optLoad, machine, *optInteractive))
	case *optSat != "":
		fmt.Fprintln(os.Stderr, "selfie: -sat is not supported (no SMT backend)")
		os.Exit(1)
	default:
		getopt.Usage()
		os.Exit(1)
	}
}

// doCompile compiles each source file independently (spec.md's grammar
// has no notion of linking multiple translation units together) and
// writes the last one's binary to output, mirroring selfie's own
// "last file compiled wins" CLI behavior.
func doCompile(sources []string, output string, disasmStdout bool, disasmFile string) int {
	if len(sources) == 0 {
		fmt.Fprintln(os.Stderr, "selfie: -c requires at least one source file")
		return 1
	}

	var codeLength uint64
	var payload []byte
	for _, path := range sources {
		f, err := os.Open(path)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		c := compiler.New(cio.NewSource(f))
		c.Compile()
		f.Close()
		for _, e := range c.Errors() {
			fmt.Fprintln(os.Stderr, e.Error())
		}
		if len(c.Errors()) > 0 {
			return 1
		}
		codeLength, payload, err = c.EncodeBinary()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
	}

	if disasmStdout {
		writeDisassembly(os.Stdout, codeLength, payload)
	}
	if disasmFile != "" {
		f, err := os.Create(disasmFile)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		defer f.Close()
		writeDisassembly(f, codeLength, payload)
	}

	out := elffmt.Save(codeLength, payload)
	if err := os.WriteFile(output, out, 0o644); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

func writeDisassembly(w *os.File, codeLength uint64, payload []byte) {
	for addr := uint64(0); addr < codeLength; addr += 4 {
		word := uint32(payload[addr]) | uint32(payload[addr+1])<<8 |
			uint32(payload[addr+2])<<16 | uint32(payload[addr+3])<<24
		fmt.Fprintln(w, isa.Disassemble(elffmt.EntryPoint+addr, word))
	}
}

// doRun loads a selfie binary and executes it under the selected machine
// mode (spec.md §6). mipster/dipster/ripster run concretely (ripster's
// reversible-trace recording has no observable effect yet beyond running
// concretely); monster drives interp.Machine.RunSymbolic instead of a
// single concrete pass. hypster/minster/mobster fall back to mipster
// until nested virtualization and host paging are implemented.
func doRun(path string, m config.Machine, interactive bool) int {
	raw, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	_, payload, err := elffmt.Load(raw, memory.VirtualMemorySize)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	memMB := m.MemoryMB
	if memMB <= 0 {
		memMB = 1
	}
	frames := memory.NewFrameAllocator(memMB)
	pt := memory.NewPageTable()
	for off := uint64(0); off < uint64(len(payload)); off += memory.PageSize {
		frame, err := frames.Palloc()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		copy(frame, payload[off:])
		pt.Map(memory.PageOf(elffmt.EntryPoint+off), frame)
	}
	stackFrame, err := frames.Palloc()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	stackPage := memory.PageOf(memory.VirtualMemorySize - memory.WordSize)
	pt.Map(stackPage, stackFrame)

	ctx := &context.Context{PageTable: pt, PC: elffmt.EntryPoint}
	ctx.SetRegister(2, memory.VirtualMemorySize-memory.WordSize) // sp

	mach := interp.New(ctx, kernel.New(), -1)
	mach.Disasm = m.Mode == config.ModeDipster

	if interactive {
		con := console.New(mach, func(s string) { fmt.Print(s) })
		if err := con.Run(); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		return int(ctx.GuestExit)
	}

	if m.Mode == config.ModeMonster {
		return doRunSymbolic(mach)
	}

	for {
		exc := mach.RunUntilException()
		if exc != except.Syscall {
			fmt.Fprintf(os.Stderr, "selfie: %s at pc=%#x\n", exc, ctx.PC)
			return 1
		}
		if !mach.HandleSyscall() {
			return int(ctx.GuestExit)
		}
	}
}

// doRunSymbolic drives a loaded binary under monster mode, exploring every
// feasible sltu sub-case reachable from the input it reads (spec.md §8
// scenarios 3-5). It reports how many paths reached exit, the interval
// spanned by their exit codes, and the first path's exit code as a
// witness, then returns the lowest exit code (an arbitrary but stable
// choice) as the process exit code.
func doRunSymbolic(mach *interp.Machine) int {
	mach.EnableSymbolic(interp.SymbolicLimits{})
	exits, fault := mach.RunSymbolic()
	if fault != except.None {
		fmt.Fprintf(os.Stderr, "selfie: monster: a path ended on %s at pc=%#x\n", fault, mach.Ctx.PC)
	}
	if len(exits) == 0 {
		fmt.Fprintln(os.Stderr, "selfie: monster: no path reached exit")
		return 1
	}

	lo, hi := exits[0], exits[0]
	for _, e := range exits {
		if e < lo {
			lo = e
		}
		if e > hi {
			hi = e
		}
	}
	fmt.Printf("selfie: monster: %d path(s) explored, exit code interval <%d,%d>, witness exit=%d\n",
		len(exits), lo, hi, exits[0])
	return int(lo)
}
