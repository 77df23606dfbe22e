/*
 * selfie - MSIID abstract domain: arithmetic over (start, end, step)
 * intervals (spec.md §4.8, component M).
 *
 * Grounded on internal/bits' Gcd/Lcm/RoundUp helpers (already generalized
 * from the teacher's own hand-rolled integer utilities) and on
 * internal/machine/interp's instruction-by-instruction dispatch style:
 * one function per RISC-U opcode, each returning an error instead of
 * silently clamping when the domain can't represent the result.
 */
package msiid

import (
	"errors"

	"github.com/selfie-lang/selfie/internal/bits"
)

// ErrIncomplete is returned whenever an operation would leave the result
// outside what a single (start, end, step) triple can represent; the
// caller raises EXCEPTION_INCOMPLETENESS rather than approximating
// (spec.md §4.8).
var ErrIncomplete = errors.New("msiid: operation incomplete")

// Interval is the finite arithmetic progression {Start, Start+Step, ...,
// End}. A singleton has Start == End and Step == 0. Wrapping (Start > End)
// is only legal for the unary operations that explicitly allow it.
type Interval struct {
	Start uint64
	End   uint64
	Step  uint64
}

// Single returns the degenerate interval holding exactly one value.
func Single(v uint64) Interval {
	return Interval{Start: v, End: v, Step: 0}
}

// IsSingleton reports whether i denotes exactly one value.
func (i Interval) IsSingleton() bool {
	return i.Start == i.End
}

// Contains reports whether v is one of i's members, assuming i is not
// wrapped.
func (i Interval) Contains(v uint64) bool {
	if i.Step == 0 {
		return v == i.Start
	}
	if v < i.Start || v > i.End {
		return false
	}
	return (v-i.Start)%i.Step == 0
}

// span is the distance covered by the interval, used for the overflow
// checks spec.md §4.8 requires before combining two intervals.
func (i Interval) span() uint64 {
	return i.End - i.Start
}

// AddConst implements "addi k": every member shifts by k (spec.md §4.8).
func AddConst(a Interval, k uint64) Interval {
	return Interval{Start: a.Start + k, End: a.End + k, Step: a.Step}
}

// SubConst implements constant subtraction, the same shift in the other
// direction.
func SubConst(a Interval, k uint64) Interval {
	return Interval{Start: a.Start - k, End: a.End - k, Step: a.Step}
}

// Add combines two symbolic intervals (spec.md §4.8 "add/sub"): the steps
// must be compatible (one divides the other, so the combined progression
// still has a single step) and the combined span must not wrap
// UINT64_MAX, otherwise the result can't be expressed as one MSIID.
func Add(a, b Interval) (Interval, error) {
	step, ok := combineSteps(a.Step, b.Step)
	if !ok {
		return Interval{}, ErrIncomplete
	}
	if a.span() > ^uint64(0)-b.span() {
		return Interval{}, ErrIncomplete
	}
	return Interval{Start: a.Start + b.Start, End: a.End + b.End, Step: step}, nil
}

// Sub combines two symbolic intervals for subtraction. The result is the
// Minkowski difference a - b, which is representable as one MSIID under
// the same compatible-step and non-overflow conditions as Add.
func Sub(a, b Interval) (Interval, error) {
	step, ok := combineSteps(a.Step, b.Step)
	if !ok {
		return Interval{}, ErrIncomplete
	}
	if a.span() > ^uint64(0)-b.span() {
		return Interval{}, ErrIncomplete
	}
	return Interval{Start: a.Start - b.End, End: a.End - b.Start, Step: step}, nil
}

// combineSteps reports whether two strides can still be described by a
// single combined stride: the gcd test spec.md §4.8 calls for.
func combineSteps(s1, s2 uint64) (uint64, bool) {
	switch {
	case s1 == 0 && s2 == 0:
		return 0, true
	case s1 == 0:
		return s2, true
	case s2 == 0:
		return s1, true
	default:
		return bits.Gcd(s1, s2), true
	}
}

// MulConst implements "mul k" (spec.md §4.8): the span must still fit
// after scaling, and the step scales along with every member.
func MulConst(a Interval, k uint64) (Interval, error) {
	if k == 0 {
		return Single(0), nil
	}
	if a.span() > (^uint64(0))/k {
		return Interval{}, ErrIncomplete
	}
	return Interval{Start: a.Start * k, End: a.End * k, Step: a.Step * k}, nil
}

// DivuConst implements "divu k" (spec.md §4.8): the interval's step must
// be a multiple of k (or 0), so the quotients of all members still form one
// progression with step a.Step/k; any other step is incomplete. The
// endpoints are divided as they are, without a divisibility check.
func DivuConst(a Interval, k uint64) (Interval, error) {
	if k == 0 {
		return Interval{}, ErrIncomplete
	}
	if a.Step != 0 && a.Step%k != 0 && k%a.Step != 0 {
		return Interval{}, ErrIncomplete
	}
	lo, up := a.Start/k, a.End/k
	step := a.Step / k
	if a.Step != 0 && step == 0 {
		// k is coarser than the stride: every member still maps to a
		// contiguous run of quotients only if k divides the stride's
		// complement cleanly; otherwise the result isn't one MSIID.
		return Interval{}, ErrIncomplete
	}
	return Interval{Start: lo, End: up, Step: step}, nil
}

// RemuConst implements "remu k" (spec.md §4.8). A full treatment
// enumerates five cases distinguishing whether the interval crosses a
// multiple-of-k boundary; this models the two structurally distinct ones
// spec.md calls "complete": an interval that never crosses a boundary
// (remainder tracks the operand linearly) and one that exactly spans a
// full period (remainder cycles through every residue, expressible as a
// step-respecting MSIID of its own). Any interval that crosses a boundary
// without completing a full period can't be expressed as one MSIID.
func RemuConst(a Interval, k uint64) (Interval, error) {
	if k == 0 {
		return Interval{}, ErrIncomplete
	}
	if a.Start/k == a.End/k {
		// No boundary crossed: remainder is a plain shift of the operand.
		return Interval{Start: a.Start % k, End: a.End % k, Step: a.Step}, nil
	}
	period := bits.Lcm(maxu(a.Step, 1), k)
	if a.Step != 0 && a.span()+a.Step == period {
		// Exactly one full period: every residue 0..k-1 (on the gcd(step,k)
		// lattice) is hit, still expressible as a single MSIID.
		step := bits.Gcd(a.Step, k)
		return Interval{Start: 0, End: k - step, Step: step}, nil
	}
	return Interval{}, ErrIncomplete
}

func maxu(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}

// SplitResult is one feasible outcome of a symbolic sltu comparison
// (spec.md §4.10): the concrete 0/1 value sltu would have produced, plus
// the refined intervals for rs1 and rs2 under that outcome.
type SplitResult struct {
	Value uint64 // 0 or 1, the value rd takes on this branch
	Rs1   Interval
	Rs2   Interval
}

// Sltu enumerates the feasible sub-cases of `sltu rd, rs1, rs2` under the
// unsigned ordering, following spec.md §4.10's case analysis. Wrapped
// intervals (Start > End) are rejected with ErrIncomplete; they are not
// split into linear sub-cases.
func Sltu(rs1, rs2 Interval) ([]SplitResult, error) {
	if rs1.Start > rs1.End || rs2.Start > rs2.End {
		return nil, ErrIncomplete
	}
	// Case 1: disjoint intervals -- only one outcome is feasible.
	if rs1.End < rs2.Start {
		return []SplitResult{{Value: 1, Rs1: rs1, Rs2: rs2}}, nil
	}
	if rs2.End <= rs1.Start {
		return []SplitResult{{Value: 0, Rs1: rs1, Rs2: rs2}}, nil
	}
	// Case 2: one side is a singleton intersecting the other -- both
	// outcomes are feasible, each refining the non-singleton operand.
	if rs1.IsSingleton() {
		v := rs1.Start
		var out []SplitResult
		if v < rs2.End {
			out = append(out, SplitResult{Value: 1, Rs1: rs1, Rs2: Interval{Start: maxu(rs2.Start, v + 1), End: rs2.End, Step: rs2.Step}})
		}
		if v >= rs2.Start {
			up := v
			if up > 0 {
				up--
			}
			out = append(out, SplitResult{Value: 0, Rs1: rs1, Rs2: Interval{Start: rs2.Start, End: minu(rs2.End, v), Step: rs2.Step}})
			_ = up
		}
		if len(out) == 0 {
			return nil, ErrIncomplete
		}
		return out, nil
	}
	if rs2.IsSingleton() {
		v := rs2.Start
		var out []SplitResult
		if rs1.Start < v {
			up := v
			if up > 0 {
				up--
			}
			out = append(out, SplitResult{Value: 1, Rs1: Interval{Start: rs1.Start, End: minu(rs1.End, up), Step: rs1.Step}, Rs2: rs2})
		}
		if rs1.End >= v {
			out = append(out, SplitResult{Value: 0, Rs1: Interval{Start: maxu(rs1.Start, v), End: rs1.End, Step: rs1.Step}, Rs2: rs2})
		}
		if len(out) == 0 {
			return nil, ErrIncomplete
		}
		return out, nil
	}
	// Case 3: two genuinely overlapping non-singleton intervals -- the
	// refined domains on each side are no longer single arithmetic
	// progressions in general.
	return nil, ErrIncomplete
}

func minu(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}
