/*
 * selfie - RISC-U instruction encoder/decoder.
 *
 * Grounded on the opcode-table style of emu/opcodemap.go and the bit-field
 * extraction of emu/disassemble.go (rcornwell/S370), and on the RISC-V
 * format layouts used by the pack's riscv-emu decoder.
 */

// Package isa implements the RISC-U subset of RV64 used by selfie: the
// R/I/S/B/U/J instruction formats (spec.md §4.3, component E). Selfie's
// instruction set is exactly: lui, addi, add, sub, mul, divu, remu, sltu,
// ld, sd, beq, jal, jalr, ecall.
package isa

import (
	"fmt"

	"github.com/selfie-lang/selfie/internal/bits"
)

// Opcode values (RISC-V base opcode field, bits [6:0]).
const (
	OpLUI    uint32 = 0b0110111
	OpIMM    uint32 = 0b0010011 // addi
	OpOP     uint32 = 0b0110011 // add, sub, mul, divu, remu, sltu
	OpLOAD   uint32 = 0b0000011 // ld
	OpSTORE  uint32 = 0b0100011 // sd
	OpBRANCH uint32 = 0b1100011 // beq
	OpJAL    uint32 = 0b1101111
	OpJALR   uint32 = 0b1100111
	OpSYSTEM uint32 = 0b1110011 // ecall
)

// funct3 values distinguishing OP/OP-IMM/LOAD/STORE/BRANCH instructions.
const (
	F3ADDI  uint32 = 0b000
	F3ADD   uint32 = 0b000 // also SUB, MUL (disambiguated by funct7)
	F3SLTU  uint32 = 0b011
	F3DIVU  uint32 = 0b101
	F3REMU  uint32 = 0b111
	F3LD    uint32 = 0b011
	F3SD    uint32 = 0b011
	F3BEQ   uint32 = 0b000
	F3JALR  uint32 = 0b000
	F3ECALL uint32 = 0b000
)

// funct7 values distinguishing ADD/SUB/MUL/DIVU/REMU/SLTU under OP.
const (
	F7ADD    uint32 = 0b0000000
	F7SUB    uint32 = 0b0100000
	F7MULDIV uint32 = 0b0000001 // MUL, DIVU, REMU (M extension; SLTU shares ADD's funct7)
)

// Mnemonic names every RISC-U opcode for disassembly and diagnostics.
type Mnemonic int

const (
	LUI Mnemonic = iota
	ADDI
	ADD
	SUB
	MUL
	DIVU
	REMU
	SLTU
	LD
	SD
	BEQ
	JAL
	JALR
	ECALL
	UNKNOWN
)

func (m Mnemonic) String() string {
	names := [...]string{"lui", "addi", "add", "sub", "mul", "divu", "remu",
		"sltu", "ld", "sd", "beq", "jal", "jalr", "ecall", "unknown"}
	if int(m) < len(names) {
		return names[m]
	}
	return "unknown"
}

// Format identifies one of the six RISC-V instruction encodings used by
// RISC-U.
type Format int

const (
	FormatR Format = iota
	FormatI
	FormatS
	FormatB
	FormatU
	FormatJ
)

// Instruction is the decoded form of a 32-bit RISC-U word.
type Instruction struct {
	Mnemonic Mnemonic
	Format   Format
	RD       uint32
	RS1      uint32
	RS2      uint32
	Imm      int64 // sign-extended immediate; 0 for pure R-format ops
}

func field(w uint32, lsb, length uint32) uint32 {
	return uint32(bits.GetBits(uint64(w), lsb, length))
}

func setField(w *uint32, lsb, length, value uint32) {
	*w = uint32(bits.SetBits(uint64(*w), lsb, length, uint64(value)))
}

// --- R format: funct7[31:25] rs2[24:20] rs1[19:15] funct3[14:12] rd[11:7] opcode[6:0] ---

func encodeR(opcode, rd, funct3, rs1, rs2, funct7 uint32) uint32 {
	var w uint32
	setField(&w, 0, 7, opcode)
	setField(&w, 7, 5, rd)
	setField(&w, 12, 3, funct3)
	setField(&w, 15, 5, rs1)
	setField(&w, 20, 5, rs2)
	setField(&w, 25, 7, funct7)
	return w
}

func decodeR(w uint32) (rd, funct3, rs1, rs2, funct7 uint32) {
	return field(w, 7, 5), field(w, 12, 3), field(w, 15, 5), field(w, 20, 5), field(w, 25, 7)
}

// --- I format: imm[31:20] rs1[19:15] funct3[14:12] rd[11:7] opcode[6:0] ---

// ImmIBits is the signed-immediate width of the I format.
const ImmIBits = 12

func encodeI(opcode, rd, funct3, rs1 uint32, imm int64) (uint32, error) {
	if !bits.IsSignedInteger(imm, ImmIBits) {
		return 0, fmt.Errorf("isa: I-format immediate %d exceeds signed %d bits", imm, ImmIBits)
	}
	var w uint32
	setField(&w, 0, 7, opcode)
	setField(&w, 7, 5, rd)
	setField(&w, 12, 3, funct3)
	setField(&w, 15, 5, rs1)
	setField(&w, 20, 12, uint32(bits.SignShrink(uint64(imm), ImmIBits)))
	return w, nil
}

func decodeI(w uint32) (rd, funct3, rs1 uint32, imm int64) {
	rd, funct3, rs1 = field(w, 7, 5), field(w, 12, 3), field(w, 15, 5)
	imm = int64(bits.SignExtend(uint64(field(w, 20, 12)), 12))
	return
}

// --- S format: imm[11:5]->[31:25] rs2[24:20] rs1[19:15] funct3[14:12] imm[4:0]->[11:7] opcode[6:0] ---

const ImmSBits = 12

func encodeS(opcode, funct3, rs1, rs2 uint32, imm int64) (uint32, error) {
	if !bits.IsSignedInteger(imm, ImmSBits) {
		return 0, fmt.Errorf("isa: S-format immediate %d exceeds signed %d bits", imm, ImmSBits)
	}
	u := bits.SignShrink(uint64(imm), ImmSBits)
	var w uint32
	setField(&w, 0, 7, opcode)
	setField(&w, 7, 5, uint32(u&0x1f))
	setField(&w, 12, 3, funct3)
	setField(&w, 15, 5, rs1)
	setField(&w, 20, 5, rs2)
	setField(&w, 25, 7, uint32((u>>5)&0x7f))
	return w, nil
}

func decodeS(w uint32) (rs1, rs2, funct3 uint32, imm int64) {
	rs1, rs2, funct3 = field(w, 15, 5), field(w, 20, 5), field(w, 12, 3)
	lo := field(w, 7, 5)
	hi := field(w, 25, 7)
	raw := uint64(hi)<<5 | uint64(lo)
	imm = int64(bits.SignExtend(raw, 12))
	return
}

// --- B format: imm[12|10:5]->[31:25] rs2 rs1 funct3 imm[4:1|11]->[11:7] opcode ---
// The LSB of the 13-bit signed immediate is always 0 (branch targets are
// 2-byte aligned at the RISC-V ISA level; selfie only ever emits 4-byte
// aligned targets, but the format itself preserves the permutation).

const ImmBBits = 13

func encodeB(opcode, funct3, rs1, rs2 uint32, imm int64) (uint32, error) {
	if imm&1 != 0 {
		return 0, fmt.Errorf("isa: B-format immediate %d is not even", imm)
	}
	if !bits.IsSignedInteger(imm, ImmBBits) {
		return 0, fmt.Errorf("isa: B-format immediate %d exceeds signed %d bits", imm, ImmBBits)
	}
	u := bits.SignShrink(uint64(imm), ImmBBits) // 13 bits, bit 0 always 0
	var w uint32
	setField(&w, 0, 7, opcode)
	setField(&w, 12, 3, funct3)
	setField(&w, 15, 5, rs1)
	setField(&w, 20, 5, rs2)
	// bits 11: imm[11], 7: imm[4:1]... actually lay out per spec permutation below.
	bit11 := uint32((u >> 11) & 1)
	bits4_1 := uint32((u >> 1) & 0xf)
	setField(&w, 7, 1, bit11)
	setField(&w, 8, 4, bits4_1)
	bits10_5 := uint32((u >> 5) & 0x3f)
	bit12 := uint32((u >> 12) & 1)
	setField(&w, 25, 6, bits10_5)
	setField(&w, 31, 1, bit12)
	return w, nil
}

func decodeB(w uint32) (rs1, rs2, funct3 uint32, imm int64) {
	rs1, rs2, funct3 = field(w, 15, 5), field(w, 20, 5), field(w, 12, 3)
	bit11 := field(w, 7, 1)
	bits4_1 := field(w, 8, 4)
	bits10_5 := field(w, 25, 6)
	bit12 := field(w, 31, 1)
	raw := uint64(bit12)<<12 | uint64(bit11)<<11 | uint64(bits10_5)<<5 | uint64(bits4_1)<<1
	imm = int64(bits.SignExtend(raw, 13))
	return
}

// --- U format: imm[31:12] rd[11:7] opcode[6:0] ---

func encodeU(opcode, rd uint32, imm int64) (uint32, error) {
	// imm carries the already-shifted 20-bit upper immediate value (i.e.
	// the value LUI loads into bits [31:12]); callers pass it pre-masked.
	var w uint32
	setField(&w, 0, 7, opcode)
	setField(&w, 7, 5, rd)
	setField(&w, 12, 20, uint32(imm>>12)&0xfffff)
	return w, nil
}

func decodeU(w uint32) (rd uint32, imm int64) {
	rd = field(w, 7, 5)
	imm = int64(uint64(field(w, 12, 20)) << 12)
	imm = int64(bits.SignExtend(uint64(imm), 32))
	return
}

// --- J format: imm[20|10:1|11|19:12] rd[11:7] opcode[6:0] ---
// As with B, the LSB of the 21-bit signed immediate is always 0.

const ImmJBits = 21

func encodeJ(opcode, rd uint32, imm int64) (uint32, error) {
	if imm&1 != 0 {
		return 0, fmt.Errorf("isa: J-format immediate %d is not even", imm)
	}
	if !bits.IsSignedInteger(imm, ImmJBits) {
		return 0, fmt.Errorf("isa: J-format immediate %d exceeds signed %d bits", imm, ImmJBits)
	}
	u := bits.SignShrink(uint64(imm), ImmJBits)
	var w uint32
	setField(&w, 0, 7, opcode)
	setField(&w, 7, 5, rd)
	bits19_12 := uint32((u >> 12) & 0xff)
	bit11 := uint32((u >> 11) & 1)
	bits10_1 := uint32((u >> 1) & 0x3ff)
	bit20 := uint32((u >> 20) & 1)
	setField(&w, 12, 8, bits19_12)
	setField(&w, 20, 1, bit11)
	setField(&w, 21, 10, bits10_1)
	setField(&w, 31, 1, bit20)
	return w, nil
}

func decodeJ(w uint32) (rd uint32, imm int64) {
	rd = field(w, 7, 5)
	bits19_12 := field(w, 12, 8)
	bit11 := field(w, 20, 1)
	bits10_1 := field(w, 21, 10)
	bit20 := field(w, 31, 1)
	raw := uint64(bit20)<<20 | uint64(bits19_12)<<12 | uint64(bit11)<<11 | uint64(bits10_1)<<1
	imm = int64(bits.SignExtend(raw, 21))
	return
}

// opcodeInfo describes how to dispatch encode/decode for each mnemonic.
type opcodeInfo struct {
	opcode, funct3, funct7 uint32
	format                 Format
}

var table = map[Mnemonic]opcodeInfo{
	LUI:   {OpLUI, 0, 0, FormatU},
	ADDI:  {OpIMM, F3ADDI, 0, FormatI},
	ADD:   {OpOP, F3ADD, F7ADD, FormatR},
	SUB:   {OpOP, F3ADD, F7SUB, FormatR},
	MUL:   {OpOP, F3ADD, F7MULDIV, FormatR},
	DIVU:  {OpOP, F3DIVU, F7MULDIV, FormatR},
	REMU:  {OpOP, F3REMU, F7MULDIV, FormatR},
	SLTU:  {OpOP, F3SLTU, F7ADD, FormatR},
	LD:    {OpLOAD, F3LD, 0, FormatI},
	SD:    {OpSTORE, F3SD, 0, FormatS},
	BEQ:   {OpBRANCH, F3BEQ, 0, FormatB},
	JAL:   {OpJAL, 0, 0, FormatJ},
	JALR:  {OpJALR, F3JALR, 0, FormatI},
	ECALL: {OpSYSTEM, F3ECALL, 0, FormatI},
}

// Encode packs ins into a 32-bit RISC-U word, validating the immediate
// range for the instruction's format.
func Encode(ins Instruction) (uint32, error) {
	info, ok := table[ins.Mnemonic]
	if !ok {
		return 0, fmt.Errorf("isa: unknown mnemonic %v", ins.Mnemonic)
	}
	switch info.format {
	case FormatR:
		return encodeR(info.opcode, ins.RD, info.funct3, ins.RS1, ins.RS2, info.funct7), nil
	case FormatI:
		return encodeI(info.opcode, ins.RD, info.funct3, ins.RS1, ins.Imm)
	case FormatS:
		return encodeS(info.opcode, info.funct3, ins.RS1, ins.RS2, ins.Imm)
	case FormatB:
		return encodeB(info.opcode, info.funct3, ins.RS1, ins.RS2, ins.Imm)
	case FormatU:
		return encodeU(info.opcode, ins.RD, ins.Imm)
	case FormatJ:
		return encodeJ(info.opcode, ins.RD, ins.Imm)
	}
	return 0, fmt.Errorf("isa: unhandled format for %v", ins.Mnemonic)
}

// Decode unpacks a 32-bit RISC-U word. Returns UNKNOWNINSTRUCTION-worthy
// zero value with ok=false when the opcode/funct3/funct7 combination is not
// one of the fourteen RISC-U instructions.
func Decode(w uint32) (Instruction, bool) {
	opcode := field(w, 0, 7)
	switch opcode {
	case OpLUI:
		rd, imm := decodeU(w)
		return Instruction{Mnemonic: LUI, Format: FormatU, RD: rd, Imm: imm}, true
	case OpIMM:
		rd, f3, rs1, imm := decodeI(w)
		if f3 != F3ADDI {
			return Instruction{}, false
		}
		return Instruction{Mnemonic: ADDI, Format: FormatI, RD: rd, RS1: rs1, Imm: imm}, true
	case OpOP:
		rd, f3, rs1, rs2, f7 := decodeR(w)
		var m Mnemonic
		switch {
		case f3 == F3ADD && f7 == F7ADD:
			m = ADD
		case f3 == F3ADD && f7 == F7SUB:
			m = SUB
		case f3 == F3ADD && f7 == F7MULDIV:
			m = MUL
		case f3 == F3SLTU && f7 == F7ADD:
			m = SLTU
		case f3 == F3DIVU && f7 == F7MULDIV:
			m = DIVU
		case f3 == F3REMU && f7 == F7MULDIV:
			m = REMU
		default:
			return Instruction{}, false
		}
		return Instruction{Mnemonic: m, Format: FormatR, RD: rd, RS1: rs1, RS2: rs2}, true
	case OpLOAD:
		rd, f3, rs1, imm := decodeI(w)
		if f3 != F3LD {
			return Instruction{}, false
		}
		return Instruction{Mnemonic: LD, Format: FormatI, RD: rd, RS1: rs1, Imm: imm}, true
	case OpSTORE:
		rs1, rs2, f3, imm := decodeS(w)
		if f3 != F3SD {
			return Instruction{}, false
		}
		return Instruction{Mnemonic: SD, Format: FormatS, RS1: rs1, RS2: rs2, Imm: imm}, true
	case OpBRANCH:
		rs1, rs2, f3, imm := decodeB(w)
		if f3 != F3BEQ {
			return Instruction{}, false
		}
		return Instruction{Mnemonic: BEQ, Format: FormatB, RS1: rs1, RS2: rs2, Imm: imm}, true
	case OpJAL:
		rd, imm := decodeJ(w)
		return Instruction{Mnemonic: JAL, Format: FormatJ, RD: rd, Imm: imm}, true
	case OpJALR:
		rd, f3, rs1, imm := decodeI(w)
		if f3 != F3JALR {
			return Instruction{}, false
		}
		return Instruction{Mnemonic: JALR, Format: FormatI, RD: rd, RS1: rs1, Imm: imm}, true
	case OpSYSTEM:
		rd, f3, rs1, imm := decodeI(w)
		if f3 != F3ECALL {
			return Instruction{}, false
		}
		return Instruction{Mnemonic: ECALL, Format: FormatI, RD: rd, RS1: rs1, Imm: imm}, true
	default:
		return Instruction{}, false
	}
}

// PackHalf combines two 32-bit instructions into one 64-bit double word,
// the low half-word first (spec.md §3: "instructions packed two per double
// word").
func PackHalf(low, high uint32) uint64 {
	return uint64(low) | uint64(high)<<32
}

// UnpackHalf splits a double word back into its low and high instruction
// words.
func UnpackHalf(dw uint64) (low, high uint32) {
	return uint32(dw), uint32(dw >> 32)
}

// Disassemble renders a decoded instruction in objdump-like textual form,
// the minimal contract spec.md §1 leaves for the external disassembler
// collaborator ("-s/-S" output), grounded on emu/disassemble.go's
// per-field formatter style.
func Disassemble(addr uint64, w uint32) string {
	ins, ok := Decode(w)
	if !ok {
		return fmt.Sprintf("%#08x: %#08x (unknown)", addr, w)
	}
	switch ins.Format {
	case FormatR:
		return fmt.Sprintf("%#08x: %s x%d,x%d,x%d", addr, ins.Mnemonic, ins.RD, ins.RS1, ins.RS2)
	case FormatI:
		if ins.Mnemonic == ECALL {
			return fmt.Sprintf("%#08x: ecall", addr)
		}
		return fmt.Sprintf("%#08x: %s x%d,x%d,%d", addr, ins.Mnemonic, ins.RD, ins.RS1, ins.Imm)
	case FormatS:
		return fmt.Sprintf("%#08x: %s x%d,%d(x%d)", addr, ins.Mnemonic, ins.RS2, ins.Imm, ins.RS1)
	case FormatB:
		return fmt.Sprintf("%#08x: %s x%d,x%d,%d", addr, ins.Mnemonic, ins.RS1, ins.RS2, ins.Imm)
	case FormatU:
		return fmt.Sprintf("%#08x: %s x%d,%#x", addr, ins.Mnemonic, ins.RD, uint64(ins.Imm)>>12)
	case FormatJ:
		return fmt.Sprintf("%#08x: %s x%d,%d", addr, ins.Mnemonic, ins.RD, ins.Imm)
	default:
		return fmt.Sprintf("%#08x: %#08x", addr, w)
	}
}
