package memory

import "testing"

func TestIsValidAddress(t *testing.T) {
	if !IsValidAddress(0x10000) {
		t.Fatal("0x10000 should be valid (aligned, in range)")
	}
	if IsValidAddress(1) {
		t.Fatal("unaligned address should be invalid")
	}
	if IsValidAddress(VirtualMemorySize) {
		t.Fatal("address at the top of the space should be invalid")
	}
}

func TestPageTableLazyMapping(t *testing.T) {
	pt := NewPageTable()
	if pt.IsMapped(4) {
		t.Fatal("fresh page table should have no mapped pages")
	}
	alloc := NewFrameAllocator(1)
	frame, err := alloc.Palloc()
	if err != nil {
		t.Fatalf("Palloc: %v", err)
	}
	pt.Map(4, frame)
	if !pt.IsMapped(4) {
		t.Fatal("page 4 should be mapped after Map")
	}
}

func TestLoadStoreDoubleWordRoundTrip(t *testing.T) {
	pt := NewPageTable()
	alloc := NewFrameAllocator(1)
	frame, _ := alloc.Palloc()
	pt.Map(0, frame)

	StoreDoubleWord(pt, 8, 0xdeadbeefcafef00d)
	got := LoadDoubleWord(pt, 8)
	if got != 0xdeadbeefcafef00d {
		t.Fatalf("got %#x, want 0xdeadbeefcafef00d", got)
	}
}

func TestFrameAllocatorExhaustion(t *testing.T) {
	alloc := &FrameAllocator{frames: make([]byte, PageSize)}
	if _, err := alloc.Palloc(); err != nil {
		t.Fatalf("first Palloc should succeed: %v", err)
	}
	if _, err := alloc.Palloc(); err == nil {
		t.Fatal("second Palloc should fail: out of physical memory")
	}
}

func TestRoundUp(t *testing.T) {
	cases := []struct{ n, m, want uint64 }{
		{0, 8, 0},
		{1, 8, 8},
		{8, 8, 8},
		{9, 8, 16},
	}
	for _, c := range cases {
		if got := RoundUp(c.n, c.m); got != c.want {
			t.Fatalf("RoundUp(%d,%d) = %d, want %d", c.n, c.m, got, c.want)
		}
	}
}
