package depgraph

import (
	"testing"

	"github.com/selfie-lang/selfie/internal/symbolic/msiid"
)

func TestAssignRecordsHistoryAndPredecessor(t *testing.T) {
	g := New()
	if err := g.Assign(0x20000, 0, 0, -1, Correction{}); err != nil {
		t.Fatalf("Assign: %v", err)
	}
	c := Correction{Kind: Sum, CoLo: 3, CoUp: 3}
	if err := g.Assign(0x20008, 1, 0x20000, 0, c); err != nil {
		t.Fatalf("Assign: %v", err)
	}
	src := g.Lookup(0x20000)
	if src == nil || len(src.Predecessors) != 1 || src.Predecessors[0] != 0x20008 {
		t.Fatalf("predecessor bookkeeping = %+v, want [0x20008]", src)
	}
	dst := g.Lookup(0x20008)
	if dst == nil || len(dst.Assignments) != 1 || dst.Assignments[0].SourceTc != 0 {
		t.Fatalf("dest assignments = %+v", dst)
	}
}

func TestFindAliasMatchesByTc(t *testing.T) {
	g := New()
	g.Assign(0x20000, 0, 0, -1, Correction{})
	g.Assign(0x20000, 4, 0, -1, Correction{})
	a, ok := g.FindAlias(0x20000, 4)
	if !ok || a.Tc != 4 {
		t.Fatalf("FindAlias = %+v, %v, want tc 4", a, ok)
	}
	if _, ok := g.FindAlias(0x20000, 99); ok {
		t.Fatal("FindAlias should miss a tc never recorded")
	}
}

func TestPopRemovesMostRecentAndPrunesEmptyNode(t *testing.T) {
	g := New()
	g.Assign(0x20000, 0, 0, -1, Correction{})
	g.Pop(0x20000)
	if g.Lookup(0x20000) != nil {
		t.Fatal("Pop of the last assignment should remove the node")
	}
}

func TestAssignRejectsTooManyPredecessors(t *testing.T) {
	g := New()
	g.Assign(0x20000, 0, 0, -1, Correction{})
	var err error
	for i := 0; i < maxPredecessors+1; i++ {
		err = g.Assign(uint64(0x30000+8*i), int64(i+1), 0x20000, 0, Correction{Kind: Const})
	}
	if err != ErrTooManyPredecessors {
		t.Fatalf("Assign past the predecessor bound: got %v, want ErrTooManyPredecessors", err)
	}
}

func TestBackwardRefineSumRoundTripsThroughForwardApply(t *testing.T) {
	c := Correction{Kind: Sum, CoLo: 10, CoUp: 10}
	narrowed := msiid.Interval{Start: 15, End: 20, Step: 1}
	refined, err := BackwardRefine(c, narrowed, 0)
	if err != nil {
		t.Fatalf("BackwardRefine: %v", err)
	}
	want := msiid.Interval{Start: 5, End: 10, Step: 1}
	if refined != want {
		t.Fatalf("BackwardRefine = %+v, want %+v", refined, want)
	}
	back, err := ForwardApply(c, refined)
	if err != nil {
		t.Fatalf("ForwardApply: %v", err)
	}
	if back != narrowed {
		t.Fatalf("ForwardApply(BackwardRefine(x)) = %+v, want %+v", back, narrowed)
	}
}

func TestBackwardRefineSumWithMinuend(t *testing.T) {
	// successor = 100 - x, narrowed successor in [60, 70] means x in [30, 40].
	c := Correction{Kind: Sum, HasMinuend: true, CoLo: 100, CoUp: 100}
	narrowed := msiid.Interval{Start: 60, End: 70, Step: 1}
	refined, err := BackwardRefine(c, narrowed, 0)
	if err != nil {
		t.Fatalf("BackwardRefine: %v", err)
	}
	want := msiid.Interval{Start: 30, End: 40, Step: 1}
	if refined != want {
		t.Fatalf("BackwardRefine = %+v, want %+v", refined, want)
	}
}

func TestBackwardRefineMulDividesOutFactor(t *testing.T) {
	c := Correction{Kind: Mul, Factor: 4, LoProduct: 0}
	narrowed := msiid.Interval{Start: 8, End: 16, Step: 4}
	refined, err := BackwardRefine(c, narrowed, 0)
	if err != nil {
		t.Fatalf("BackwardRefine: %v", err)
	}
	want := msiid.Interval{Start: 2, End: 4, Step: 1}
	if refined != want {
		t.Fatalf("BackwardRefine = %+v, want %+v", refined, want)
	}
}

func TestBackwardRefineMulNonDivisibleIsIncomplete(t *testing.T) {
	c := Correction{Kind: Mul, Factor: 4, LoProduct: 0}
	narrowed := msiid.Interval{Start: 9, End: 16, Step: 4}
	if _, err := BackwardRefine(c, narrowed, 0); err != msiid.ErrIncomplete {
		t.Fatalf("BackwardRefine non-divisible: got %v, want ErrIncomplete", err)
	}
}

func TestBackwardRefineExceedingMaxAliasIsIncomplete(t *testing.T) {
	c := Correction{Kind: Const}
	if _, err := BackwardRefine(c, msiid.Interval{}, maxAlias+1); err != msiid.ErrIncomplete {
		t.Fatalf("BackwardRefine past MAX_ALIAS: got %v, want ErrIncomplete", err)
	}
}
