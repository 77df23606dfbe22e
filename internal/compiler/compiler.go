/*
 * selfie - Recursive-descent C* parser and RISC-U code emitter (spec.md
 * §4.2, component F).
 *
 * Grounded on command/parser/parser.go's hand-written recursive descent
 * (rcornwell/S370) — no parser generator, no regex, manual token-kind
 * switches — generalized from a one-line command grammar to the full C*
 * program grammar, with a temp-register stack (registers.go) and per-shape
 * fixup chains replacing the teacher's flat command dispatch table.
 */
package compiler

import (
	"github.com/selfie-lang/selfie/internal/cio"
	"github.com/selfie-lang/selfie/internal/compileerr"
	"github.com/selfie-lang/selfie/internal/isa"
	"github.com/selfie-lang/selfie/internal/scanner"
	"github.com/selfie-lang/selfie/internal/symtab"
)

// InstructionSize matches interp.InstructionSize; duplicated as an untyped
// constant to avoid a dependency from the compiler onto the machine
// packages (the compiler only ever produces code, it never executes it).
const InstructionSize = 4

// builtins lists the library procedures the emitter lowers directly to
// syscalls rather than expecting a user definition (spec.md §6 "Syscalls
// visible to the guest").
var builtins = map[string]struct {
	params  int
	syscall uint32
}{
	"malloc": {1, 214}, // BRK, via the malloc wrapper sequence
	"read":   {3, 63},
	"write":  {3, 64},
	"open":   {3, 1024},
	"input":  {3, 42},
}

// Compiler parses one C* translation unit and emits RISC-U code plus a data
// segment.
type Compiler struct {
	sc  *scanner.Scanner
	tok scanner.Token
	sym *symtab.Table

	code []isa.Instruction
	data []uint64

	temps tempStack

	errs []*compileerr.Error

	// returnChain is the head of the current procedure's "jal zr,
	// return_branches" fixup chain (spec.md §4.2 "Return").
	returnChain int64
	hasReturnChain bool
}

// New creates a compiler reading from src.
func New(src *cio.Source) *Compiler {
	c := &Compiler{sc: scanner.New(src), sym: symtab.New()}
	c.registerBuiltins()
	c.advance()
	return c
}

func (c *Compiler) registerBuiltins() {
	for name, b := range builtins {
		c.sym.EnterLibrary(&symtab.Entry{
			Name: name, Class: symtab.Procedure, Type: symtab.Uint64,
			Params: make([]symtab.Type, b.params), Defined: true,
		})
	}
}

func (c *Compiler) advance() {
	tok, err := c.sc.Next()
	if err != nil {
		c.fatal(err)
		return
	}
	c.tok = tok
}

func (c *Compiler) fatal(err error) {
	if ce, ok := err.(*compileerr.Error); ok {
		c.errs = append(c.errs, ce)
		return
	}
	c.errs = append(c.errs, compileerr.NewFatal(compileerr.Compiler, c.tok.Line, "%v", err))
}

func (c *Compiler) errorf(line int, format string, args ...any) {
	c.errs = append(c.errs, compileerr.New(compileerr.Parser, line, format, args...))
}

// Errors returns every diagnostic collected during compilation.
func (c *Compiler) Errors() []*compileerr.Error {
	return c.errs
}

func (c *Compiler) fatalErrors() bool {
	for _, e := range c.errs {
		if e.Fatal {
			return true
		}
	}
	return false
}

func (c *Compiler) expect(k scanner.Kind, what string) bool {
	if c.tok.Kind != k {
		c.errorf(c.tok.Line, "expected %s", what)
		return false
	}
	c.advance()
	return true
}

func (c *Compiler) emit(ins isa.Instruction) int64 {
	addr := int64(len(c.code)) * InstructionSize
	c.code = append(c.code, ins)
	return addr
}

func (c *Compiler) patch(addr int64, ins isa.Instruction) {
	c.code[addr/InstructionSize] = ins
}

func (c *Compiler) here() int64 {
	return int64(len(c.code)) * InstructionSize
}

// Compile parses the whole translation unit and returns the final code and
// data segments. Errors accumulate in c.Errors(); Compile still returns
// whatever code was produced so far when only non-fatal errors occurred.
func (c *Compiler) Compile() (code []isa.Instruction, data []uint64) {
	c.emitPreamblePlaceholder()
	for c.tok.Kind != scanner.EOF && !c.fatalErrors() {
		c.parseDecl()
	}
	c.patchPreamble()
	c.patchUndefinedProcedures()
	return c.code, c.data
}

// Code and Data expose the emitted segments (used by tests that call
// Compile and then want the underlying slices by name).
func (c *Compiler) Code() []isa.Instruction { return c.code }
func (c *Compiler) Data() []uint64          { return c.data }

const preambleSlots = 20

// emitPreamblePlaceholder reserves preambleSlots no-op slots at the entry;
// patchPreamble overwrites them once the final data segment length is
// known (spec.md §4.2 "Bootstrapping preamble").
func (c *Compiler) emitPreamblePlaceholder() {
	for i := 0; i < preambleSlots; i++ {
		c.emit(isa.Instruction{Mnemonic: isa.ADDI, RD: ZR, RS1: ZR, Imm: 0})
	}
}

// entryPoint duplicates internal/elffmt.EntryPoint; the compiler does not
// import the ELF package so it can be used (and tested) independently of
// the binary file format.
const entryPoint = 0x10000

func (c *Compiler) patchPreamble() {
	if len(c.code)%2 != 0 {
		c.emit(isa.Instruction{Mnemonic: isa.ADDI, RD: ZR, RS1: ZR, Imm: 0})
	}
	gp := uint64(entryPoint) + uint64(len(c.code))*InstructionSize
	hi, lo := splitUpper(int64(gp))
	c.patch(0, isa.Instruction{Mnemonic: isa.LUI, RD: GP, Imm: hi})
	c.patch(4, isa.Instruction{Mnemonic: isa.ADDI, RD: GP, RS1: GP, Imm: lo})
	// brk(end-of-data) seeds the initial program break right past the data
	// segment, so the first malloc call has a known starting point (spec.md
	// §4.2 "Bootstrapping preamble").
	c.patch(8, isa.Instruction{Mnemonic: isa.ADDI, RD: A0, RS1: GP, Imm: int64(c.dataSegmentEnd())})
	c.patch(12, isa.Instruction{Mnemonic: isa.ADDI, RD: A7, RS1: ZR, Imm: brkSyscall})
	c.patch(16, isa.Instruction{Mnemonic: isa.ECALL})

	main := c.sym.LookupGlobal("main")
	if main == nil || !main.Defined {
		c.errorf(0, "procedure main undefined")
		return
	}
	callAddr := int64(5 * InstructionSize)
	c.patch(callAddr, isa.Instruction{Mnemonic: isa.JAL, RD: RA, Imm: main.Address - callAddr})
	c.patch(callAddr+4, isa.Instruction{Mnemonic: isa.ADDI, RD: A7, RS1: ZR, Imm: 93})
	c.patch(callAddr+8, isa.Instruction{Mnemonic: isa.ECALL})
}

func (c *Compiler) dataSegmentEnd() uint64 {
	return uint64(len(c.data)) * 8
}

func splitUpper(v int64) (hi, lo int64) {
	u := uint64(v)
	lo12 := int64(int32(u&0xfff) << 20 >> 20) // sign-extend low 12 bits
	hi20 := int64((u - uint64(lo12)) >> 12 << 12)
	return hi20, lo12
}

// patchUndefinedProcedures resolves every procedure symbol that was called
// but never defined: the bootstrapping stub loads 0 into a0 and falls
// through into exit, and a diagnostic is recorded (spec.md §8 scenario 6).
func (c *Compiler) patchUndefinedProcedures() {
	var stub int64 = -1
	for _, e := range c.sym.Globals() {
		if e.Class != symtab.Procedure || e.Defined || e.Address == 0 {
			continue
		}
		if stub < 0 {
			stub = c.emit(isa.Instruction{Mnemonic: isa.ADDI, RD: A0, RS1: ZR, Imm: 0})
			c.emit(isa.Instruction{Mnemonic: isa.ADDI, RD: A7, RS1: ZR, Imm: 93})
			c.emit(isa.Instruction{Mnemonic: isa.ECALL})
		}
		c.fixlinkCalls(e.Address, stub)
		c.errorf(e.Line, "procedure %q undefined", e.Name)
	}
}

// --- declarations ---

func (c *Compiler) parseDecl() {
	line := c.tok.Line
	typ, isVoid := c.parseTypeSpec()
	if !isVoid && typ != symtab.Uint64 && typ != symtab.Uint64Ptr {
		return
	}
	if c.tok.Kind != scanner.Identifier {
		c.errorf(line, "expected identifier in declaration")
		c.syncToSemicolon()
		return
	}
	name := c.tok.Identifier
	c.advance()

	if c.tok.Kind == scanner.LParen {
		c.parseProcedure(name, typ, line)
		return
	}
	if isVoid {
		c.errorf(line, "void variable %q", name)
	}
	c.parseGlobalVariable(name, typ, line)
}

func (c *Compiler) parseTypeSpec() (symtab.Type, bool) {
	switch c.tok.Kind {
	case scanner.KwVoid:
		c.advance()
		return symtab.Void, true
	case scanner.KwUint64:
		c.advance()
		if c.tok.Kind == scanner.Star {
			c.advance()
			return symtab.Uint64Ptr, false
		}
		return symtab.Uint64, false
	default:
		c.errorf(c.tok.Line, "expected a type")
		c.advance()
		return symtab.Uint64, false
	}
}

func (c *Compiler) parseGlobalVariable(name string, typ symtab.Type, line int) {
	var value uint64
	if c.tok.Kind == scanner.Assign {
		c.advance()
		if c.tok.Kind != scanner.Integer {
			c.errorf(line, "global initializer must be an integer literal")
		} else {
			value = c.tok.Integer
			c.advance()
		}
	}
	offset := c.dataSegmentEnd()
	c.data = append(c.data, value)
	c.sym.EnterGlobal(&symtab.Entry{
		Name: name, Line: line, Class: symtab.Variable, Type: typ,
		Value: value, Address: int64(offset),
	})
	c.expect(scanner.Semicolon, "';'")
}

func (c *Compiler) parseProcedure(name string, retType symtab.Type, line int) {
	entry := c.sym.LookupGlobal(name)
	if entry == nil {
		entry = c.sym.EnterGlobal(&symtab.Entry{Name: name, Line: line, Class: symtab.Procedure, Type: retType})
	}

	c.expect(scanner.LParen, "'('")
	c.sym.ResetLocals()
	paramIndex := 0
	var params []symtab.Type
	for c.tok.Kind != scanner.RParen {
		ptyp, _ := c.parseTypeSpec()
		if c.tok.Kind == scanner.Identifier {
			params = append(params, ptyp)
			c.sym.EnterLocal(&symtab.Entry{Name: c.tok.Identifier, Line: c.tok.Line, Class: symtab.Variable, Type: ptyp, Address: int64(-8 * (paramIndex + 1))})
			paramIndex++
			c.advance()
		}
		if c.tok.Kind == scanner.Comma {
			c.advance()
		}
	}
	c.expect(scanner.RParen, "')'")
	entry.Params = params

	if c.tok.Kind == scanner.Semicolon {
		c.advance()
		return // forward declaration only
	}

	// entry.Address may already hold the head of a fixup chain left by
	// earlier forward calls (emitUserCall); resolve those before overwriting
	// it with the real entry point (spec.md §4.2 "Procedure calls").
	if !entry.Defined {
		c.fixlinkCalls(entry.Address, c.here())
	}
	entry.Defined = true
	entry.Address = c.here()
	entry.NumLocal = 0
	c.emitPrologue()
	c.spillParams(len(params))
	c.hasReturnChain = false
	c.returnChain = 0
	if c.tok.Kind == scanner.LBrace {
		c.parseBlock()
	} else {
		c.errorf(c.tok.Line, "expected procedure body")
	}
	c.fixlinkReturns(c.here())
	c.emitEpilogue()
}

func (c *Compiler) emitPrologue() {
	c.emit(isa.Instruction{Mnemonic: isa.ADDI, RD: SP, RS1: SP, Imm: -8})
	c.emit(isa.Instruction{Mnemonic: isa.SD, RS1: SP, RS2: RA, Imm: 0})
	c.emit(isa.Instruction{Mnemonic: isa.ADDI, RD: SP, RS1: SP, Imm: -8})
	c.emit(isa.Instruction{Mnemonic: isa.SD, RS1: SP, RS2: FP, Imm: 0})
	c.emit(isa.Instruction{Mnemonic: isa.ADDI, RD: FP, RS1: SP, Imm: 0})
}

// spillParams reserves frame slots for the first n parameters (passed in
// a0..a3 per the calling convention registers.go defines) and stores them
// so loadVariable/storeVariable can address them uniformly with other
// locals, FP-relative.
func (c *Compiler) spillParams(n int) {
	if n == 0 {
		return
	}
	argSources := []int{A0, A1, A2, A3}
	c.emit(isa.Instruction{Mnemonic: isa.ADDI, RD: SP, RS1: SP, Imm: int64(-8 * n)})
	for i := 0; i < n && i < len(argSources); i++ {
		c.emit(isa.Instruction{Mnemonic: isa.SD, RS1: FP, RS2: argSources[i], Imm: int64(-8 * (i + 1))})
	}
}

func (c *Compiler) emitEpilogue() {
	c.emit(isa.Instruction{Mnemonic: isa.ADDI, RD: SP, RS1: FP, Imm: 0})
	c.emit(isa.Instruction{Mnemonic: isa.LD, RD: FP, RS1: SP, Imm: 0})
	c.emit(isa.Instruction{Mnemonic: isa.ADDI, RD: SP, RS1: SP, Imm: 8})
	c.emit(isa.Instruction{Mnemonic: isa.LD, RD: RA, RS1: SP, Imm: 0})
	c.emit(isa.Instruction{Mnemonic: isa.ADDI, RD: SP, RS1: SP, Imm: 8})
	c.emit(isa.Instruction{Mnemonic: isa.JALR, RD: ZR, RS1: RA, Imm: 0})
}

// --- statements ---

func (c *Compiler) parseBlock() {
	c.expect(scanner.LBrace, "'{'")
	for c.tok.Kind != scanner.RBrace && c.tok.Kind != scanner.EOF {
		if c.tok.Kind == scanner.KwUint64 {
			c.parseLocalVariable()
			continue
		}
		c.parseStatement()
	}
	c.expect(scanner.RBrace, "'}'")
}

func (c *Compiler) parseLocalVariable() {
	typ, _ := c.parseTypeSpec()
	if c.tok.Kind != scanner.Identifier {
		c.errorf(c.tok.Line, "expected identifier")
		c.syncToSemicolon()
		return
	}
	name := c.tok.Identifier
	line := c.tok.Line
	c.advance()
	locals := c.sym.Locals()
	offset := int64(-8 * (countLocals(locals) + 1))
	c.sym.EnterLocal(&symtab.Entry{Name: name, Line: line, Class: symtab.Variable, Type: typ, Address: offset})
	c.emit(isa.Instruction{Mnemonic: isa.ADDI, RD: SP, RS1: SP, Imm: -8})
	c.expect(scanner.Semicolon, "';'")
}

func countLocals(locals []*symtab.Entry) int {
	n := 0
	for _, e := range locals {
		if e.Address < 0 {
			n++
		}
	}
	return n
}

func (c *Compiler) parseStatement() {
	switch c.tok.Kind {
	case scanner.KwIf:
		c.parseIf()
	case scanner.KwWhile:
		c.parseWhile()
	case scanner.KwReturn:
		c.parseReturn()
	case scanner.LBrace:
		c.parseBlock()
	case scanner.Star:
		c.parseStoreThroughPointer()
	case scanner.Identifier:
		c.parseIdentStatement()
	default:
		c.errorf(c.tok.Line, "unexpected token in statement")
		c.syncToSemicolon()
	}
}

func (c *Compiler) parseIf() {
	c.advance()
	c.expect(scanner.LParen, "'('")
	c.parseExpression()
	c.expect(scanner.RParen, "')'")
	// expression leaves a boolean-as-0/1 value in the top temp; branch on
	// it being zero to skip the then-branch.
	cond := c.temps.current()
	c.temps.release()
	beqAddr := c.emit(isa.Instruction{Mnemonic: isa.BEQ, RS1: cond, RS2: ZR, Imm: 0})
	c.parseStatement()
	if c.tok.Kind == scanner.KwElse {
		jalAddr := c.emit(isa.Instruction{Mnemonic: isa.JAL, RD: ZR, Imm: 0})
		c.patchBranch(beqAddr, c.here())
		c.advance()
		c.parseStatement()
		c.patchJump(jalAddr, c.here())
	} else {
		c.patchBranch(beqAddr, c.here())
	}
}

func (c *Compiler) parseWhile() {
	c.advance()
	top := c.here()
	c.expect(scanner.LParen, "'('")
	c.parseExpression()
	c.expect(scanner.RParen, "')'")
	cond := c.temps.current()
	c.temps.release()
	beqAddr := c.emit(isa.Instruction{Mnemonic: isa.BEQ, RS1: cond, RS2: ZR, Imm: 0})
	c.parseStatement()
	c.emit(isa.Instruction{Mnemonic: isa.JAL, RD: ZR, Imm: top - c.here()})
	c.patchBranch(beqAddr, c.here())
}

func (c *Compiler) parseReturn() {
	line := c.tok.Line
	c.advance()
	if c.tok.Kind != scanner.Semicolon {
		c.parseExpression()
		t := c.temps.current()
		c.temps.release()
		c.emit(isa.Instruction{Mnemonic: isa.ADDI, RD: A0, RS1: t, Imm: 0})
	}
	c.expect(scanner.Semicolon, "';'")
	next := int64(0)
	if c.hasReturnChain {
		next = c.returnChain
	}
	addr := c.emit(isa.Instruction{Mnemonic: isa.JAL, RD: ZR, Imm: next})
	c.returnChain = addr
	c.hasReturnChain = true
	_ = line
}

// fixlinkCalls walks a procedure's forward-call fixup chain (the head is
// whatever emitUserCall last stashed in the symbol's Address field) and
// patches every link to jump to target, the procedure's real entry point.
func (c *Compiler) fixlinkCalls(head, target int64) {
	addr := head
	for addr != 0 {
		ins := c.code[addr/InstructionSize]
		next := ins.Imm
		c.patchJump(addr, target)
		addr = next
	}
}

// fixlinkReturns walks the return-statement fixup chain, patching every
// link to jump to target (spec.md §4.2 "Return").
func (c *Compiler) fixlinkReturns(target int64) {
	if !c.hasReturnChain {
		return
	}
	addr := c.returnChain
	for addr != 0 {
		ins := c.code[addr/InstructionSize]
		next := ins.Imm
		c.patchJump(addr, target)
		addr = next
	}
}

func (c *Compiler) patchBranch(addr, target int64) {
	ins := c.code[addr/InstructionSize]
	ins.Imm = target - addr
	c.patch(addr, ins)
}

func (c *Compiler) patchJump(addr, target int64) {
	ins := c.code[addr/InstructionSize]
	ins.Imm = target - addr
	c.patch(addr, ins)
}

func (c *Compiler) parseStoreThroughPointer() {
	c.advance() // '*'
	c.parseExpression() // pointer address
	addrReg := c.temps.current()
	c.expect(scanner.Assign, "'='")
	c.parseExpression()
	valReg := c.temps.current()
	c.emit(isa.Instruction{Mnemonic: isa.SD, RS1: addrReg, RS2: valReg, Imm: 0})
	c.temps.release() // valReg
	c.temps.release() // addrReg
	c.expect(scanner.Semicolon, "';'")
}

func (c *Compiler) parseIdentStatement() {
	line := c.tok.Line
	name := c.tok.Identifier
	c.advance()
	if c.tok.Kind == scanner.LParen {
		c.parseCallArgsAndEmit(name, line)
		c.expect(scanner.Semicolon, "';'")
		return
	}
	c.expect(scanner.Assign, "'='")
	c.parseExpression()
	val := c.temps.current()
	c.storeVariable(name, line, val)
	c.temps.release()
	c.expect(scanner.Semicolon, "';'")
}

func (c *Compiler) storeVariable(name string, line int, val int) {
	e := c.sym.Lookup(name)
	if e == nil {
		c.errorf(line, "undeclared variable %q", name)
		return
	}
	if e.Scope == symtab.ScopeGlobal {
		addr := c.temps.allocate()
		c.loadGlobalAddress(addr, e)
		c.emit(isa.Instruction{Mnemonic: isa.SD, RS1: addr, RS2: val, Imm: 0})
		c.temps.release()
	} else {
		c.emit(isa.Instruction{Mnemonic: isa.SD, RS1: FP, RS2: val, Imm: e.Address})
	}
}

// loadGlobalAddress materializes e's absolute address: gp holds the data
// segment's start address (patched once, in patchPreamble), and e.Address
// is that global's byte offset from the segment start, recorded when it
// was declared (spec.md §4.2 "Global variable addressing").
func (c *Compiler) loadGlobalAddress(dst int, e *symtab.Entry) {
	c.emit(isa.Instruction{Mnemonic: isa.ADDI, RD: dst, RS1: GP, Imm: e.Address})
}

func (c *Compiler) syncToSemicolon() {
	for c.tok.Kind != scanner.Semicolon && c.tok.Kind != scanner.EOF && c.tok.Kind != scanner.RBrace {
		c.advance()
	}
	if c.tok.Kind == scanner.Semicolon {
		c.advance()
	}
}
