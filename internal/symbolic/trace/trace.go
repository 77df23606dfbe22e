/*
 * selfie - Symbolic trace: an append-only, reversible log of register and
 * memory writes made under symbolic execution (spec.md §3 "Symbolic trace
 * entry", §4.7, component L).
 *
 * Grounded on internal/machine/context.Pool's used/free arena shape
 * (append-to-grow, index-addressed, explicit rewind instead of garbage
 * collection) generalized from a pool of whole contexts to a pool of
 * individual trace entries.
 */
package trace

import "github.com/selfie-lang/selfie/internal/symbolic/msiid"

// Kind discriminates a trace entry's payload (spec.md §3 "type").
type Kind int

const (
	Concrete Kind = iota
	MSIID
	Array
)

// NumberOfRegisters marks the vaddr boundary between register writes
// (1..31) and memory writes (>= this value); vaddr 0 is reserved for
// heap-allocation bookkeeping records (spec.md §3).
const NumberOfRegisters = 32

// Entry is one append-only trace record (spec.md §3).
type Entry struct {
	PC          uint64
	PreviousTC  int64 // the vaddr's prior trace index, or -1 if none
	Vaddr       uint64
	Kind        Kind
	Interval    msiid.Interval // used when Kind == MSIID
	Value       uint64         // used when Kind == Concrete
	Base, Length uint64        // used when Kind == Array

	// ProgramBreak snapshots the break at the time of this entry so a
	// heap-allocation record (Vaddr == 0) can restore it on backtrack.
	ProgramBreak uint64
}

// Trace is the length-bounded append-only log every symbolic context
// keeps; entries are indexed from tc 0, and PreviousTC == -1 means "no
// prior write" (spec.md §4.7).
type Trace struct {
	entries []Entry
	// latest maps a vaddr to the tc of its most recent write, enabling the
	// "does this dedup against the currently-latest tuple" check.
	latest map[uint64]int64
	max    int
}

// New creates an empty trace bounded at maxLength entries; exceeding it
// raises EXCEPTION_MAXTRACE at the caller (spec.md §4.7, §5).
func New(maxLength int) *Trace {
	return &Trace{latest: make(map[uint64]int64), max: maxLength}
}

// Len returns the number of live entries (the current tc, one past the
// last valid index).
func (t *Trace) Len() int {
	return len(t.entries)
}

// Full reports whether the trace has reached its configured bound.
func (t *Trace) Full() bool {
	return len(t.entries) >= t.max
}

// At returns the entry at tc.
func (t *Trace) At(tc int64) Entry {
	return t.entries[tc]
}

// LatestTC returns the tc of vaddr's most recent write, or -1 if it was
// never written.
func (t *Trace) LatestTC(vaddr uint64) int64 {
	if tc, ok := t.latest[vaddr]; ok {
		return tc
	}
	return -1
}

// sameTuple reports whether a new write would be indistinguishable from
// the vaddr's currently-latest entry, in which case store_symbolic_memory
// elides it (spec.md §4.7 "dedup").
func sameTuple(e Entry, kind Kind, interval msiid.Interval, value uint64, base, length uint64) bool {
	if e.Kind != kind {
		return false
	}
	switch kind {
	case Concrete:
		return e.Value == value
	case MSIID:
		return e.Interval == interval
	case Array:
		return e.Base == base && e.Length == length
	}
	return false
}

// EAlloc appends a new entry for vaddr, or rebases the existing latest
// entry in place when trb (the base tc the write was conditioned on)
// precedes it and nothing downstream depends on keeping the old entry
// distinct (spec.md §4.7). Returns the tc of the (possibly reused) entry.
func (t *Trace) EAlloc(pc, vaddr uint64, kind Kind, interval msiid.Interval, value uint64, base, length uint64, trb int64, programBreak uint64) int64 {
	prev := t.LatestTC(vaddr)
	if prev >= 0 && sameTuple(t.entries[prev], kind, interval, value, base, length) {
		return prev
	}
	if prev >= 0 && trb < prev && trb >= 0 {
		t.entries[prev] = Entry{
			PC: pc, PreviousTC: t.entries[prev].PreviousTC, Vaddr: vaddr,
			Kind: kind, Interval: interval, Value: value, Base: base, Length: length,
			ProgramBreak: programBreak,
		}
		return prev
	}
	e := Entry{
		PC: pc, PreviousTC: prev, Vaddr: vaddr,
		Kind: kind, Interval: interval, Value: value, Base: base, Length: length,
		ProgramBreak: programBreak,
	}
	t.entries = append(t.entries, e)
	tc := int64(len(t.entries) - 1)
	t.latest[vaddr] = tc
	return tc
}

// EFree rewinds the trace by exactly one entry, restoring the freed
// entry's vaddr to point at whatever it pointed to before (spec.md §4.7
// "efree rewinds one entry"). It is the caller's job to first undo the
// entry's side effects (register/memory/program-break restoration); EFree
// only shrinks the log and repairs the latest-tc index.
func (t *Trace) EFree() (Entry, bool) {
	n := len(t.entries)
	if n == 0 {
		return Entry{}, false
	}
	e := t.entries[n-1]
	t.entries = t.entries[:n-1]
	if e.PreviousTC < 0 {
		delete(t.latest, e.Vaddr)
	} else {
		t.latest[e.Vaddr] = e.PreviousTC
	}
	return e, true
}
