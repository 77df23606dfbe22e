/*
 * selfie - Bit and integer utilities shared across the compiler and machine.
 *
 * Copyright 2024, Richard Cornwell
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in
 * all copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 */

// Package bits holds the power-of-two table, signed/unsigned conversions,
// and sign extend/shrink helpers used by the scanner, encoder and symbolic
// engine.
package bits

// TwoToThe returns 2^n for n in [0, 63]. Mirrors a precomputed table rather
// than a shift so callers can bounds-check the exponent the way the rest of
// the toolchain bounds-checks immediates.
var powerTable = func() [64]uint64 {
	var t [64]uint64
	v := uint64(1)
	for i := range t {
		t[i] = v
		v <<= 1
	}
	return t
}()

func TwoToThe(n uint32) uint64 {
	if n > 63 {
		return 0
	}
	return powerTable[n]
}

// LeftShift multiplies v by 2^n, truncating to 64 bits.
func LeftShift(v uint64, n uint32) uint64 {
	return v * TwoToThe(n)
}

// RightShift performs an unsigned (logical) right shift by n bits.
func RightShift(v uint64, n uint32) uint64 {
	if n > 63 {
		return 0
	}
	return v >> n
}

// SignedLessThan compares two 64-bit patterns as signed integers.
func SignedLessThan(a, b uint64) bool {
	return int64(a) < int64(b)
}

// IsSignedInteger reports whether v fits in bits signed bits, i.e.
// v is in [-2^(bits-1), 2^(bits-1)-1] when read as a two's complement value.
func IsSignedInteger(v int64, width uint32) bool {
	if width == 0 || width > 64 {
		return false
	}
	lo := -int64(TwoToThe(width - 1))
	hi := int64(TwoToThe(width-1)) - 1
	return v >= lo && v <= hi
}

// SignExtend widens a value held in the low `width` bits to a full 64-bit
// signed quantity.
func SignExtend(v uint64, width uint32) uint64 {
	if width == 0 || width >= 64 {
		return v
	}
	signBit := TwoToThe(width - 1)
	if v&signBit != 0 {
		return v | ^(TwoToThe(width) - 1)
	}
	return v & (TwoToThe(width) - 1)
}

// SignShrink narrows a signed 64-bit value down to its low `width` bits,
// dropping the redundant high sign bits. Used before packing immediates
// into instruction encodings.
func SignShrink(v uint64, width uint32) uint64 {
	if width == 0 || width >= 64 {
		return v
	}
	return v & (TwoToThe(width) - 1)
}

// GetBits extracts the [lsb, lsb+length) bit field from v.
func GetBits(v uint64, lsb, length uint32) uint64 {
	if length == 0 || length > 64 {
		return 0
	}
	mask := TwoToThe(length) - 1
	return RightShift(v, lsb) & mask
}

// SetBits returns v with the [lsb, lsb+length) bit field replaced by the
// low `length` bits of field.
func SetBits(v uint64, lsb, length uint32, field uint64) uint64 {
	if length == 0 || length > 64 {
		return v
	}
	mask := (TwoToThe(length) - 1) << lsb
	return (v &^ mask) | ((field << lsb) & mask)
}

// AbsInt64 returns the absolute value of a signed 64-bit number as an
// unsigned value, so MinInt64 yields 2^63 exactly.
func AbsInt64(v int64) uint64 {
	if v >= 0 {
		return uint64(v)
	}
	return uint64(-v)
}

// RoundUp rounds v up to the next multiple of step (step must be a power
// of two, as used for the 8-byte double-word alignment of brk/malloc).
func RoundUp(v, step uint64) uint64 {
	if step == 0 {
		return v
	}
	return (v + step - 1) &^ (step - 1)
}

// Gcd returns the greatest common divisor of a and b, used by the MSIID
// domain to test step compatibility when combining two symbolic strides.
func Gcd(a, b uint64) uint64 {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

// Lcm returns the least common multiple of a and b, saturating to
// ^uint64(0) on overflow rather than wrapping silently.
func Lcm(a, b uint64) uint64 {
	if a == 0 || b == 0 {
		return 0
	}
	g := Gcd(a, b)
	hi, lo := mulHiLo(a/g, b)
	if hi != 0 {
		return ^uint64(0)
	}
	return lo
}

func mulHiLo(a, b uint64) (hi, lo uint64) {
	const mask32 = 0xffffffff
	aLo, aHi := a&mask32, a>>32
	bLo, bHi := b&mask32, b>>32

	t := aLo * bLo
	w0 := t & mask32
	k := t >> 32

	t = aHi*bLo + k
	w1 := t & mask32
	w2 := t >> 32

	t = aLo*bHi + w1
	k = t >> 32

	hi = aHi*bHi + w2 + k
	lo = (t << 32) + w0
	return hi, lo
}
