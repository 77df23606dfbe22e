package trace

import (
	"testing"

	"github.com/selfie-lang/selfie/internal/symbolic/msiid"
)

func TestEAllocAppendsNewEntry(t *testing.T) {
	tr := New(16)
	tc := tr.EAlloc(0x10000, 5, Concrete, msiid.Interval{}, 42, 0, 0, -1, 0)
	if tc != 0 {
		t.Fatalf("tc = %d, want 0", tc)
	}
	if tr.Len() != 1 {
		t.Fatalf("Len = %d, want 1", tr.Len())
	}
	if tr.LatestTC(5) != 0 {
		t.Fatalf("LatestTC(5) = %d, want 0", tr.LatestTC(5))
	}
}

func TestEAllocDedupsIdenticalTuple(t *testing.T) {
	tr := New(16)
	tc1 := tr.EAlloc(0x10000, 5, Concrete, msiid.Interval{}, 42, 0, 0, -1, 0)
	tc2 := tr.EAlloc(0x10004, 5, Concrete, msiid.Interval{}, 42, 0, 0, -1, 0)
	if tc1 != tc2 {
		t.Fatalf("identical writes should dedup to the same tc, got %d and %d", tc1, tc2)
	}
	if tr.Len() != 1 {
		t.Fatalf("Len = %d, want 1 after dedup", tr.Len())
	}
}

func TestEAllocChainsPreviousTC(t *testing.T) {
	tr := New(16)
	tc1 := tr.EAlloc(0x10000, 5, Concrete, msiid.Interval{}, 1, 0, 0, -1, 0)
	tc2 := tr.EAlloc(0x10004, 5, Concrete, msiid.Interval{}, 2, 0, 0, -1, 0)
	if tr.At(tc2).PreviousTC != tc1 {
		t.Fatalf("PreviousTC = %d, want %d", tr.At(tc2).PreviousTC, tc1)
	}
}

func TestEFreeRewindsAndRestoresLatest(t *testing.T) {
	tr := New(16)
	tc1 := tr.EAlloc(0x10000, 5, Concrete, msiid.Interval{}, 1, 0, 0, -1, 0)
	tr.EAlloc(0x10004, 5, Concrete, msiid.Interval{}, 2, 0, 0, -1, 0)
	e, ok := tr.EFree()
	if !ok {
		t.Fatal("EFree on a non-empty trace should succeed")
	}
	if e.Value != 2 {
		t.Fatalf("freed entry value = %d, want 2", e.Value)
	}
	if tr.LatestTC(5) != tc1 {
		t.Fatalf("LatestTC(5) after EFree = %d, want %d", tr.LatestTC(5), tc1)
	}
	if tr.Len() != 1 {
		t.Fatalf("Len = %d, want 1 after EFree", tr.Len())
	}
}

func TestEFreeOnEmptyTraceFails(t *testing.T) {
	tr := New(4)
	if _, ok := tr.EFree(); ok {
		t.Fatal("EFree on an empty trace should fail")
	}
}

func TestFullReportsBound(t *testing.T) {
	tr := New(1)
	if tr.Full() {
		t.Fatal("fresh trace should not be full")
	}
	tr.EAlloc(0, 1, Concrete, msiid.Interval{}, 1, 0, 0, -1, 0)
	if !tr.Full() {
		t.Fatal("trace at its configured bound should report full")
	}
}
