/*
 * selfie - Binary assembly: encode the compiled code/data segments into the
 * byte payload internal/elffmt expects (spec.md §4.12, §6 "File formats").
 */
package compiler

import (
	"encoding/binary"

	"github.com/selfie-lang/selfie/internal/isa"
)

// EncodeBinary packs the compiler's code and data segments into one
// payload: instructions two-per-double-word, immediately followed by the
// data segment, matching the layout internal/elffmt.Save expects. Returns
// the code segment's length in bytes as codeLength.
func (c *Compiler) EncodeBinary() (codeLength uint64, payload []byte, err error) {
	code := c.code
	if len(code)%2 != 0 {
		code = append(code, isa.Instruction{Mnemonic: isa.ADDI, RD: ZR, RS1: ZR, Imm: 0})
	}
	codeLength = uint64(len(code)) * InstructionSize

	payload = make([]byte, 0, int(codeLength)+len(c.data)*8)
	for i := 0; i < len(code); i += 2 {
		lo, encErr := isa.Encode(code[i])
		if encErr != nil {
			return 0, nil, encErr
		}
		hi, encErr := isa.Encode(code[i+1])
		if encErr != nil {
			return 0, nil, encErr
		}
		dw := isa.PackHalf(lo, hi)
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], dw)
		payload = append(payload, buf[:]...)
	}
	for _, w := range c.data {
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], w)
		payload = append(payload, buf[:]...)
	}
	return codeLength, payload, nil
}
