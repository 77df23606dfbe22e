/*
 * selfie - Register names and the temporary-allocation discipline
 * (spec.md §3 "Register file", §4.2 "Temporary allocation").
 *
 * Grounded on emu/cpu/cpudefs.go's named register-index constants,
 * generalized from S/370's 16 general registers to the RISC-V calling
 * convention subset selfie's emitter actually uses.
 */
package compiler

// RISC-V register indices used by the emitted code (RV64 ABI names).
const (
	ZR = 0
	RA = 1
	SP = 2
	GP = 3
	FP = 8
	A0 = 10
	A1 = 11
	A2 = 12
	A3 = 13
	A7 = 17
	T0 = 5
	T1 = 6
	T2 = 7
	T3 = 28
	T4 = 29
	T5 = 30
	T6 = 31
)

// temps lists the seven temporary registers in allocation order: T0..T2
// bridge non-contiguously to T3..T6 (spec.md §4.2).
var temps = [7]int{T0, T1, T2, T3, T4, T5, T6}

// tempStack tracks which of the seven temporaries are currently live, in
// allocation order, mirroring the source's small fixed register stack
// (spec.md §4.2, §9 "no register allocator beyond a fixed temp stack").
type tempStack struct {
	depth int
}

func (s *tempStack) allocate() int {
	r := temps[s.depth]
	s.depth++
	return r
}

func (s *tempStack) release() {
	s.depth--
}

// current returns the most recently allocated temporary.
func (s *tempStack) current() int {
	return temps[s.depth-1]
}

// previous returns the temporary allocated just before current.
func (s *tempStack) previous() int {
	return temps[s.depth-2]
}

// saveTemporaries returns the registers currently live, in allocation
// order, so the caller can push them around a procedure call.
func (s *tempStack) saveTemporaries() []int {
	live := make([]int, s.depth)
	copy(live, temps[:s.depth])
	return live
}
