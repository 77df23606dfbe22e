package branch

import (
	"testing"

	"github.com/selfie-lang/selfie/internal/symbolic/msiid"
)

func cases(vals ...uint64) []msiid.SplitResult {
	out := make([]msiid.SplitResult, len(vals))
	for i, v := range vals {
		out[i] = msiid.SplitResult{Value: v}
	}
	return out
}

func TestPushCommitsToFirstCase(t *testing.T) {
	e := New(0)
	got, err := e.Push(3, 0x10020, 14, 100, 200, cases(1, 0))
	if err != nil {
		t.Fatalf("Push: %v", err)
	}
	if got.Value != 1 {
		t.Fatalf("Push first case = %+v, want Value 1", got)
	}
	if e.Depth() != 1 {
		t.Fatalf("Depth = %d, want 1", e.Depth())
	}
}

func TestBacktrackAdvancesToNextCase(t *testing.T) {
	e := New(0)
	e.Push(3, 0x10020, 14, 100, 200, cases(1, 0))
	frame, next, ok := e.Backtrack()
	if !ok {
		t.Fatal("Backtrack should find a remaining sub-case")
	}
	if frame.TC != 3 || frame.Fp != 100 || frame.Sp != 200 {
		t.Fatalf("Backtrack frame = %+v, want rollback state from Push", frame)
	}
	if next.Value != 0 {
		t.Fatalf("Backtrack next = %+v, want Value 0", next)
	}
}

func TestBacktrackExhaustsAndReportsDone(t *testing.T) {
	e := New(0)
	e.Push(3, 0x10020, 14, 100, 200, cases(1, 0))
	if _, _, ok := e.Backtrack(); !ok {
		t.Fatal("first Backtrack should succeed")
	}
	if _, _, ok := e.Backtrack(); ok {
		t.Fatal("second Backtrack should exhaust the only split's cases")
	}
	if !e.Done() {
		t.Fatal("engine should report Done once every split is exhausted")
	}
}

func TestBacktrackPopsThroughExhaustedFramesToAnOlderOne(t *testing.T) {
	e := New(0)
	e.Push(3, 0x10020, 14, 100, 200, cases(1)) // single-case split, exhausted immediately
	e.Push(9, 0x10040, 15, 150, 250, cases(0, 1))
	frame, next, ok := e.Backtrack() // exhausts the inner frame's second case
	if !ok || frame.TC != 9 || next.Value != 1 {
		t.Fatalf("Backtrack (inner) = %+v %+v %v", frame, next, ok)
	}
	frame, _, ok = e.Backtrack() // inner frame now exhausted, outer frame has none left either
	if ok {
		t.Fatalf("Backtrack should find nothing left, got frame %+v", frame)
	}
	if !e.Done() {
		t.Fatal("engine should be Done once both frames are exhausted")
	}
}

func TestPushRejectsPastMaxDepth(t *testing.T) {
	e := New(1)
	if _, err := e.Push(0, 0, 0, 0, 0, cases(0)); err != nil {
		t.Fatalf("first Push: %v", err)
	}
	if _, err := e.Push(1, 0, 0, 0, 0, cases(0)); err != ErrPathTooDeep {
		t.Fatalf("Push past maxDepth: got %v, want ErrPathTooDeep", err)
	}
}

func TestAssertDrainedAcceptsBalancedCounters(t *testing.T) {
	c := Counters{SymbolicAllocs: 5, ReadReplays: 2, NodeAllocs: 1, AssignAllocs: 1, ScallAllocs: -5}
	if err := AssertDrained(c); err != nil {
		t.Fatalf("AssertDrained balanced: %v", err)
	}
}

func TestAssertDrainedRejectsLeak(t *testing.T) {
	c := Counters{SymbolicAllocs: 5}
	if err := AssertDrained(c); err != ErrStateLeak {
		t.Fatalf("AssertDrained leaked: got %v, want ErrStateLeak", err)
	}
}
