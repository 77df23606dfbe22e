/*
 * selfie - Depth-first branch engine: drives exploration of the sub-cases
 * msiid.Sltu produces, backtracking through the symbolic trace until every
 * feasible path has been tried (spec.md §4.10, component O).
 *
 * Grounded on internal/machine/kernel's explicit state-machine dispatch
 * (no recursion, a discriminated union of "what happens next" driving an
 * outer loop) generalized from one syscall's worth of state to a stack of
 * pending branch sub-cases.
 */
package branch

import (
	"errors"

	"github.com/selfie-lang/selfie/internal/symbolic/msiid"
)

// ErrPathTooDeep signals MAX_PATH_LENGTH: the branch stack would grow
// past what exploration is willing to track (spec.md §4.10 bounds list).
var ErrPathTooDeep = errors.New("branch: path exceeds maximum depth")

// ErrStateLeak reports that monster exploration ended with the
// symbolic-state counters imbalanced (spec.md §5 "end-of-exploration
// invariant"), meaning some allocation was never matched by its release.
var ErrStateLeak = errors.New("branch: symbolic state leaked across exploration")

// Frame is one outstanding sltu split still on the branch stack: the
// rollback state needed to resume trying its next sub-case, plus the
// sub-cases themselves in the order msiid.Sltu produced them.
type Frame struct {
	TC    int64  // trace tc at the time of the split; rewind target on backtrack
	PC    uint64 // instruction address of the sltu, so the caller can resume there
	Rd    int
	Fp    uint64
	Sp    uint64
	Cases []msiid.SplitResult
	next  int // index of the next not-yet-tried case
}

// Engine is the DFS branch stack driving the outer monster loop: Push adds
// a new split and commits to its first sub-case; Backtrack unwinds to the
// nearest frame with an untried sub-case remaining.
type Engine struct {
	stack    []Frame
	maxDepth int
}

// New returns an empty branch engine bounded at maxDepth outstanding
// splits (0 means unbounded).
func New(maxDepth int) *Engine {
	return &Engine{maxDepth: maxDepth}
}

// Depth reports how many splits are currently outstanding.
func (e *Engine) Depth() int {
	return len(e.stack)
}

// Done reports whether every split's every sub-case has been tried:
// spec.md's termination condition ("pc reaches 0 during rewind").
func (e *Engine) Done() bool {
	return len(e.stack) == 0
}

// Push records a new sltu split and commits to its first feasible
// sub-case. tc/pc/fp/sp/rd are the rollback state a later Backtrack needs
// to resume a sibling sub-case from the same point; cases must be
// non-empty (the caller should treat an empty msiid.Sltu result as its
// own INCOMPLETENESS, never reaching Push).
func (e *Engine) Push(tc int64, pc uint64, rd int, fp, sp uint64, cases []msiid.SplitResult) (msiid.SplitResult, error) {
	if e.maxDepth > 0 && len(e.stack) >= e.maxDepth {
		return msiid.SplitResult{}, ErrPathTooDeep
	}
	e.stack = append(e.stack, Frame{TC: tc, PC: pc, Rd: rd, Fp: fp, Sp: sp, Cases: cases, next: 1})
	return cases[0], nil
}

// Backtrack walks the stack from the top, popping any frame whose
// sub-cases are exhausted, until it finds one with another sub-case to
// try. It returns that frame (so the caller can rewind the trace to
// frame.TC and restore fp/sp) together with the next sub-case to commit
// to. ok is false once the stack is empty, meaning exploration is
// complete.
func (e *Engine) Backtrack() (Frame, msiid.SplitResult, bool) {
	for len(e.stack) > 0 {
		top := &e.stack[len(e.stack)-1]
		if top.next < len(top.Cases) {
			c := top.Cases[top.next]
			top.next++
			return *top, c, true
		}
		e.stack = e.stack[:len(e.stack)-1]
	}
	return Frame{}, msiid.SplitResult{}, false
}

// Counters bundles the bookkeeping values spec.md's end-of-exploration
// invariant checks: ic_symbolic - bk_read + ic_node + ic_assign +
// ic_scall must equal zero once Done(), meaning every allocation during
// exploration was matched by a release during backtracking.
type Counters struct {
	SymbolicAllocs int64 // ic_symbolic
	ReadReplays    int64 // bk_read
	NodeAllocs     int64 // ic_node
	AssignAllocs   int64 // ic_assign
	ScallAllocs    int64 // ic_scall
}

// AssertDrained checks spec.md's state-leak invariant. Call it once
// Done() reports exploration finished.
func AssertDrained(c Counters) error {
	if c.SymbolicAllocs-c.ReadReplays+c.NodeAllocs+c.AssignAllocs+c.ScallAllocs != 0 {
		return ErrStateLeak
	}
	return nil
}
