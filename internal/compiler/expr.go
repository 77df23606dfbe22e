/*
 * selfie - Expression parsing and code generation (spec.md §4.2).
 *
 * term-factored recursive descent, grounded the same way as compiler.go;
 * comparisons lower to sltu per spec.md §4.2 ("a == b ↔ (b − a) < 1").
 */
package compiler

import (
	"github.com/selfie-lang/selfie/internal/bits"
	"github.com/selfie-lang/selfie/internal/isa"
	"github.com/selfie-lang/selfie/internal/scanner"
	"github.com/selfie-lang/selfie/internal/symtab"
)

// parseExpression leaves its result in the newly topmost temporary
// register: simple [ cmp simple ].
func (c *Compiler) parseExpression() {
	c.parseSimple()
	switch c.tok.Kind {
	case scanner.Eq, scanner.Ne, scanner.Lt, scanner.Le, scanner.Gt, scanner.Ge:
		op := c.tok.Kind
		c.advance()
		c.parseSimple()
		b := c.temps.current()
		c.temps.release()
		a := c.temps.current()
		c.temps.release()
		c.emitComparison(op, a, b)
	}
}

func (c *Compiler) emitComparison(op scanner.Kind, a, b int) {
	dst := c.temps.allocate()
	switch op {
	case scanner.Lt:
		c.emit(isa.Instruction{Mnemonic: isa.SLTU, RD: dst, RS1: a, RS2: b})
	case scanner.Gt:
		c.emit(isa.Instruction{Mnemonic: isa.SLTU, RD: dst, RS1: b, RS2: a})
	case scanner.Eq:
		d := c.temps.allocate()
		c.emit(isa.Instruction{Mnemonic: isa.SUB, RD: d, RS1: b, RS2: a})
		one := c.loadInteger(1)
		c.emit(isa.Instruction{Mnemonic: isa.SLTU, RD: dst, RS1: d, RS2: one})
		c.temps.release() // one
		c.temps.release() // d
	case scanner.Ne:
		d := c.temps.allocate()
		c.emit(isa.Instruction{Mnemonic: isa.SUB, RD: d, RS1: b, RS2: a})
		c.emit(isa.Instruction{Mnemonic: isa.SLTU, RD: dst, RS1: ZR, RS2: d})
		c.temps.release() // d
	case scanner.Le:
		u := c.temps.allocate()
		c.emit(isa.Instruction{Mnemonic: isa.SLTU, RD: u, RS1: b, RS2: a})
		one := c.loadInteger(1)
		c.emit(isa.Instruction{Mnemonic: isa.SLTU, RD: dst, RS1: u, RS2: one})
		c.temps.release()
		c.temps.release()
	case scanner.Ge:
		u := c.temps.allocate()
		c.emit(isa.Instruction{Mnemonic: isa.SLTU, RD: u, RS1: a, RS2: b})
		one := c.loadInteger(1)
		c.emit(isa.Instruction{Mnemonic: isa.SLTU, RD: dst, RS1: u, RS2: one})
		c.temps.release()
		c.temps.release()
	}
	// dst is now the sole live temp representing the comparison result;
	// the two operands it consumed (a, b) were already released by the
	// caller before emitComparison allocated dst.
}

// parseSimple: term { (+|-) term }.
func (c *Compiler) parseSimple() {
	c.parseTerm()
	for c.tok.Kind == scanner.Plus || c.tok.Kind == scanner.Minus {
		op := c.tok.Kind
		c.advance()
		c.parseTerm()
		b := c.temps.current()
		c.temps.release()
		a := c.temps.current()
		c.temps.release()
		dst := c.temps.allocate()
		if op == scanner.Plus {
			c.emit(isa.Instruction{Mnemonic: isa.ADD, RD: dst, RS1: a, RS2: b})
		} else {
			c.emit(isa.Instruction{Mnemonic: isa.SUB, RD: dst, RS1: a, RS2: b})
		}
	}
}

// parseTerm: factor { (*|/|%) factor }.
func (c *Compiler) parseTerm() {
	c.parseFactor()
	for c.tok.Kind == scanner.Star || c.tok.Kind == scanner.Slash || c.tok.Kind == scanner.Percent {
		op := c.tok.Kind
		c.advance()
		c.parseFactor()
		b := c.temps.current()
		c.temps.release()
		a := c.temps.current()
		c.temps.release()
		dst := c.temps.allocate()
		switch op {
		case scanner.Star:
			c.emit(isa.Instruction{Mnemonic: isa.MUL, RD: dst, RS1: a, RS2: b})
		case scanner.Slash:
			c.emit(isa.Instruction{Mnemonic: isa.DIVU, RD: dst, RS1: a, RS2: b})
		case scanner.Percent:
			c.emit(isa.Instruction{Mnemonic: isa.REMU, RD: dst, RS1: a, RS2: b})
		}
	}
}

// parseFactor: ['-']['*'] (literal | string | ident [ '(' args ')' ] | '(' [type] expr ')').
func (c *Compiler) parseFactor() {
	negate := false
	if c.tok.Kind == scanner.Minus {
		negate = true
		c.sc.SetNegateContext(true)
		c.advance()
		c.sc.SetNegateContext(false)
	}
	deref := false
	if c.tok.Kind == scanner.Star {
		deref = true
		c.advance()
	}

	switch c.tok.Kind {
	case scanner.Integer:
		v := int64(c.tok.Integer)
		if negate && !deref {
			v = -v
			negate = false
		}
		c.loadInteger(v)
		c.advance()
	case scanner.Character:
		c.loadInteger(int64(c.tok.Character))
		c.advance()
	case scanner.StringLit:
		c.loadStringAddress(c.tok.String)
		c.advance()
	case scanner.Identifier:
		name := c.tok.Identifier
		line := c.tok.Line
		c.advance()
		if c.tok.Kind == scanner.LParen {
			c.parseCallArgsAndEmit(name, line)
		} else {
			c.loadVariable(name, line)
		}
	case scanner.LParen:
		c.advance()
		if c.tok.Kind == scanner.KwUint64 {
			c.parseTypeSpec() // type cast: evaluated for side effect of consuming tokens only
		}
		c.parseExpression()
		c.expect(scanner.RParen, "')'")
	default:
		c.errorf(c.tok.Line, "expected a factor")
		c.loadInteger(0)
	}

	if deref {
		addr := c.temps.current()
		c.temps.release()
		dst := c.temps.allocate()
		c.emit(isa.Instruction{Mnemonic: isa.LD, RD: dst, RS1: addr, Imm: 0})
	}
	if negate {
		r := c.temps.current()
		c.emit(isa.Instruction{Mnemonic: isa.SUB, RD: r, RS1: ZR, RS2: r})
	}
}

// loadInteger materializes n into a fresh temporary: a single addi for
// signed-12-bit values, lui+addi for signed-32-bit values below 0x7FFFF800
// (above that the rounded upper part no longer fits lui), or a data-segment
// BIGINT load for anything else (spec.md §4.2 "Code generation
// decisions").
func (c *Compiler) loadInteger(n int64) int {
	r := c.temps.allocate()
	switch {
	case bits.IsSignedInteger(n, 12):
		c.emit(isa.Instruction{Mnemonic: isa.ADDI, RD: r, RS1: ZR, Imm: n})
	case bits.IsSignedInteger(n, 32) && n < 0x7ffff800:
		hi, lo := splitUpper(n)
		c.emit(isa.Instruction{Mnemonic: isa.LUI, RD: r, Imm: hi})
		c.emit(isa.Instruction{Mnemonic: isa.ADDI, RD: r, RS1: r, Imm: lo})
	default:
		offset := c.dataSegmentEnd()
		c.data = append(c.data, uint64(n))
		c.emit(isa.Instruction{Mnemonic: isa.ADDI, RD: r, RS1: GP, Imm: int64(offset)})
		c.emit(isa.Instruction{Mnemonic: isa.LD, RD: r, RS1: r, Imm: 0})
	}
	return r
}

func (c *Compiler) loadStringAddress(s string) {
	offset := c.dataSegmentEnd()
	words := (len(s) + 8) / 8 // room for the bytes plus a NUL terminator
	buf := make([]byte, words*8)
	copy(buf, s)
	for i := 0; i < words; i++ {
		var w uint64
		for b := 7; b >= 0; b-- {
			w = w<<8 | uint64(buf[i*8+b])
		}
		c.data = append(c.data, w)
	}
	r := c.temps.allocate()
	c.emit(isa.Instruction{Mnemonic: isa.ADDI, RD: r, RS1: GP, Imm: int64(offset)})
}

func (c *Compiler) loadVariable(name string, line int) {
	e := c.sym.Lookup(name)
	if e == nil {
		c.errorf(line, "undeclared variable %q", name)
		c.loadInteger(0)
		return
	}
	if e.Class == symtab.BigInt {
		c.loadInteger(int64(e.Value))
		return
	}
	if e.Scope == symtab.ScopeGlobal {
		r := c.temps.allocate()
		c.loadGlobalAddress(r, e)
		c.emit(isa.Instruction{Mnemonic: isa.LD, RD: r, RS1: r, Imm: 0})
	} else {
		r := c.temps.allocate()
		c.emit(isa.Instruction{Mnemonic: isa.LD, RD: r, RS1: FP, Imm: e.Address})
	}
}

// parseCallArgsAndEmit parses '(' args ')' for a call to name, already past
// the identifier, and leaves the call's result (a0) in a fresh temporary.
func (c *Compiler) parseCallArgsAndEmit(name string, line int) {
	c.advance() // '('
	var argRegs []int
	for c.tok.Kind != scanner.RParen {
		c.parseExpression()
		argRegs = append(argRegs, c.temps.current()) // stays live until copied below
		if c.tok.Kind == scanner.Comma {
			c.advance()
		}
	}
	c.expect(scanner.RParen, "')'")

	argTargets := []int{A0, A1, A2, A3}
	for i, r := range argRegs {
		if i < len(argTargets) {
			c.emit(isa.Instruction{Mnemonic: isa.ADDI, RD: argTargets[i], RS1: r, Imm: 0})
		}
	}
	for range argRegs {
		c.temps.release()
	}

	if b, ok := builtins[name]; ok {
		c.emitBuiltinCall(name, b.syscall)
	} else {
		c.emitUserCall(name, line)
	}
	dst := c.temps.allocate()
	c.emit(isa.Instruction{Mnemonic: isa.ADDI, RD: dst, RS1: A0, Imm: 0})
}

// brkSyscall is the syscall number for BRK (kernel.SyscallBrk); duplicated
// as a constant so the compiler need not import the machine packages.
const brkSyscall = 214

func (c *Compiler) emitBuiltinCall(name string, syscall uint32) {
	if name == "malloc" {
		c.emitMallocWrapper()
		return
	}
	c.emit(isa.Instruction{Mnemonic: isa.ADDI, RD: A7, RS1: ZR, Imm: int64(syscall)})
	c.emit(isa.Instruction{Mnemonic: isa.ECALL})
}

// emitMallocWrapper lowers malloc(size) to the library sequence spec.md
// §4.6 describes: brk(cur+round_up(size,8)) returns the new break on
// success, in which case the previous break is the allocated block's
// address; RISC-U has no bitwise AND, so rounding up uses divu/mul instead
// of a mask (spec.md §1 "no bitwise/Boolean operators").
func (c *Compiler) emitMallocWrapper() {
	size := c.temps.allocate()
	c.emit(isa.Instruction{Mnemonic: isa.ADDI, RD: size, RS1: A0, Imm: 0})

	c.emit(isa.Instruction{Mnemonic: isa.ADDI, RD: A0, RS1: ZR, Imm: 0})
	c.emit(isa.Instruction{Mnemonic: isa.ADDI, RD: A7, RS1: ZR, Imm: brkSyscall})
	c.emit(isa.Instruction{Mnemonic: isa.ECALL})
	prev := c.temps.allocate()
	c.emit(isa.Instruction{Mnemonic: isa.ADDI, RD: prev, RS1: A0, Imm: 0})

	eight := c.loadInteger(8)
	rounded := c.temps.allocate()
	c.emit(isa.Instruction{Mnemonic: isa.ADDI, RD: rounded, RS1: size, Imm: 7})
	c.emit(isa.Instruction{Mnemonic: isa.DIVU, RD: rounded, RS1: rounded, RS2: eight})
	c.emit(isa.Instruction{Mnemonic: isa.MUL, RD: rounded, RS1: rounded, RS2: eight})

	want := rounded // reuse the register: seven temporaries are all there are
	c.emit(isa.Instruction{Mnemonic: isa.ADD, RD: want, RS1: prev, RS2: rounded})
	c.emit(isa.Instruction{Mnemonic: isa.ADDI, RD: A0, RS1: want, Imm: 0})
	c.emit(isa.Instruction{Mnemonic: isa.ADDI, RD: A7, RS1: ZR, Imm: brkSyscall})
	c.emit(isa.Instruction{Mnemonic: isa.ECALL})

	// a0 now holds the break brk() actually settled on; success iff it
	// equals want, in which case the result is prev, else 0.
	diff := c.temps.allocate()
	c.emit(isa.Instruction{Mnemonic: isa.SUB, RD: diff, RS1: A0, RS2: want})
	one := c.loadInteger(1)
	ok := c.temps.allocate()
	c.emit(isa.Instruction{Mnemonic: isa.SLTU, RD: ok, RS1: diff, RS2: one})
	c.emit(isa.Instruction{Mnemonic: isa.MUL, RD: A0, RS1: prev, RS2: ok})

	c.temps.release() // ok
	c.temps.release() // one
	c.temps.release() // diff
	c.temps.release() // rounded (holds want)
	c.temps.release() // eight
	c.temps.release() // prev
	c.temps.release() // size
}

// emitUserCall emits a direct or fixup-chained jal to name, creating a
// PROCEDURE symbol on first reference if none exists yet (spec.md §4.2
// "Procedure calls").
func (c *Compiler) emitUserCall(name string, line int) {
	e := c.sym.LookupGlobal(name)
	if e == nil {
		e = c.sym.EnterGlobal(&symtab.Entry{Name: name, Line: line, Class: symtab.Procedure, Type: symtab.Uint64})
	}
	if e.Defined {
		addr := c.emit(isa.Instruction{Mnemonic: isa.JAL, RD: RA, Imm: 0})
		c.patchJump(addr, e.Address)
		return
	}
	addr := c.emit(isa.Instruction{Mnemonic: isa.JAL, RD: RA, Imm: e.Address})
	e.Address = addr
}
