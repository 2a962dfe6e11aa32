// Copyright 2017, Kerby Shedden and the Muscato contributors.

// Package kmer packs DNA bases into 2-bit-per-base values and derives the
// primary hash, secondary check code, probe step and check-vector bit used
// by the hash index (spec.md Section 4.1). The rolling cursor updates those
// derived quantities one base at a time, the same incremental-update shape
// as the github.com/chmduquesne/rollinghash buzhash32 hash that
// DiversityFilter below uses.
package kmer

import (
	"fmt"

	"github.com/chmduquesne/rollinghash/buzhash32"
)

// code maps a base byte to its 2-bit encoding; 4 marks an invalid
// (non-ACGT, including the "unknown" sentinel) base. This is a pure lookup
// table, not a virtual dispatch, per spec.md Section 9.
var code [256]int8

func init() {
	for i := range code {
		code[i] = 4
	}
	code['a'], code['A'] = 0, 0
	code['c'], code['C'] = 1, 1
	code['g'], code['G'] = 2, 2
	code['t'], code['T'] = 3, 3
}

// IsACGT reports whether b is one of {a,c,g,t,A,C,G,T}.
func IsACGT(b byte) bool { return code[b] < 4 }

// Unknown is the sentinel base used for masked/ambiguous positions. It
// compares equal to any base under the match rule in spec.md Section 4.5.
const Unknown = 'n'

// Params holds the shift constants derived from k and the hash-table mask
// width H, and the table size T=2^H.
type Params struct {
	K    int
	H    uint // mask bits; T = 1<<H
	T    uint64
	S1   uint // shift used by H(v)
	S2   uint
	SV1  uint // shifts used by C(v)
	SV2  uint
	SV3  uint
	Mask uint64 // low 2*K bits mask
}

// NewParams derives s1,s2 and the check-code shifts from k and H, per the
// contract in spec.md Section 4.1: only near-uniformity over random k-mers
// is required, not any particular constant.
func NewParams(k int, h uint) (Params, error) {
	if k <= 0 || 2*k >= 64 {
		return Params{}, fmt.Errorf("kmer: invalid k=%d (must have 2k < 64)", k)
	}
	if h == 0 || h > 32 {
		return Params{}, fmt.Errorf("kmer: invalid hash mask width %d", h)
	}
	s1 := uint(k) - h/2
	if s1 < 1 {
		s1 = 1
	}
	s2 := uint(2*k) - h
	if s2 < 1 {
		s2 = 1
	}
	return Params{
		K:    k,
		H:    h,
		T:    uint64(1) << h,
		S1:   s1,
		S2:   s2,
		SV1:  uint(k) / 3,
		SV2:  uint(k) / 2,
		SV3:  uint(2*k) / 3,
		Mask: (uint64(1) << uint(2*k)) - 1,
	}, nil
}

// Encode packs the first k bases of seq into a 2-bit value. ok is false if
// seq is shorter than k or contains a non-ACGT base.
func Encode(seq []byte, k int) (v uint64, ok bool) {
	if len(seq) < k {
		return 0, false
	}
	for i := 0; i < k; i++ {
		c := code[seq[i]]
		if c == 4 {
			return 0, false
		}
		v = (v << 2) | uint64(c)
	}
	return v, true
}

// H computes the primary hash of v into [0, T).
func (p Params) H(v uint64) uint64 {
	return (v ^ (v >> p.S1) ^ (v >> p.S2)) & (p.T - 1)
}

// C computes the 8-bit secondary check code for v.
func (p Params) C(v uint64) uint8 {
	return uint8((v ^ (v >> p.SV1) ^ (v >> p.SV3)) & 0xff)
}

// P computes the odd probe step for v, guaranteeing full traversal of a
// power-of-two-sized table.
func (p Params) P(v uint64) uint64 {
	step := (v ^ (v >> p.SV2) ^ (v >> p.SV3)) & (p.T - 1)
	return step | 1
}

// V computes the check-vector bit position for v, in [0,31).
func (p Params) V(v uint64) uint {
	return uint((v ^ (v >> p.SV1) ^ (v >> p.SV2)) % 31)
}

// Cursor maintains a rolling k-mer value while scanning a sequence left to
// right, avoiding an O(k) recompute per position.
type Cursor struct {
	k    int
	mask uint64
	v    uint64
	n    int // number of bases loaded so far, capped at k
	bad  int // pushes left until the last invalid base leaves the window
}

// NewCursor returns an empty rolling cursor for k-mers of length k.
func NewCursor(k int) *Cursor {
	return &Cursor{k: k, mask: (uint64(1) << uint(2*k)) - 1}
}

// Push slides the window forward by one base. Valid reports whether the
// current k-length window is now fully ACGT (a prerequisite for indexing
// or probing it); Value is meaningful only when Valid is true.
func (c *Cursor) Push(b byte) (value uint64, valid bool) {
	cc := code[b]
	if cc == 4 {
		c.bad = c.k // window now wholly contaminated until it rolls out
	} else if c.bad > 0 {
		c.bad--
	}
	c.v = ((c.v << 2) | uint64(cc&3)) & c.mask
	if c.n < c.k {
		c.n++
	}
	return c.v, c.n == c.k && c.bad == 0
}

// Reset clears the cursor so it can be reused for a new sequence.
func (c *Cursor) Reset() {
	c.v, c.n, c.bad = 0, 0, 0
}

// buzhashTable seeds the rolling hash DiversityFilter uses. It is built
// once, deterministically, by a small xorshift generator rather than
// math/rand, so two runs of the same binary screen out the same windows.
var buzhashTable = func() [256]uint32 {
	var t [256]uint32
	x := uint32(2463534242) // xorshift32 seed, must be nonzero
	for i := range t {
		x ^= x << 13
		x ^= x >> 17
		x ^= x << 5
		t[i] = x
	}
	return t
}()

// DiversityFilter flags short tandem repeats (homopolymer and dinucleotide
// runs) using a rolling hash of a fixed-width trailing window, the same
// github.com/chmduquesne/rollinghash/buzhash32 primitive the teacher's Bloom
// sketch (muscato_screen.go) uses to summarize read windows. It is a cheap
// periodicity probe meant to run ahead of a hash-table lookup: a window
// whose rolling hash keeps repeating every `period` bases is low-entropy
// and uninformative as a seed, the same role CountDinuc plays for the
// teacher's entropy check, computed here via an incremental hash instead of
// an explicit dinucleotide tally.
type DiversityFilter struct {
	h       *buzhash32.Buzhash32
	period  int
	minRun  int
	buf     []byte
	history []uint32
	pos     int
	started bool
	run     int
}

// NewDiversityFilter builds a filter that flags a window once a tandem
// repeat of the given period has held for minRun consecutive bases.
// minRun <= 0 disables flagging; Push then always reports false.
func NewDiversityFilter(period, minRun int) *DiversityFilter {
	if period < 1 {
		period = 1
	}
	return &DiversityFilter{
		h:       buzhash32.NewFromUint32Array(buzhashTable),
		period:  period,
		minRun:  minRun,
		buf:     make([]byte, 0, period),
		history: make([]uint32, period),
	}
}

// Reset clears all rolling state; call at the start of each read/strand.
func (f *DiversityFilter) Reset() {
	f.h.Reset()
	f.buf = f.buf[:0]
	f.pos = 0
	f.started = false
	f.run = 0
	for i := range f.history {
		f.history[i] = 0
	}
}

// Push feeds the next base and reports whether the trailing window of
// length period is judged a tandem repeat that has persisted for at least
// minRun consecutive positions. It always reports false until the first
// full window has rolled in.
func (f *DiversityFilter) Push(b byte) bool {
	if !f.started {
		f.buf = append(f.buf, b)
		if len(f.buf) < f.period {
			return false
		}
		f.h.Write(f.buf)
		f.started = true
	} else {
		f.h.Roll(b)
	}

	cur := f.h.Sum32()
	slot := f.pos % f.period
	low := false
	if f.pos >= f.period {
		if cur == f.history[slot] {
			f.run++
		} else {
			f.run = 0
		}
		low = f.minRun > 0 && f.run >= f.minRun
	}
	f.history[slot] = cur
	f.pos++
	return low
}

// ReverseComplement returns the reverse complement of seq, lowercased,
// preserving the unknown sentinel.
func ReverseComplement(seq []byte) []byte {
	out := make([]byte, len(seq))
	for i, b := range seq {
		var r byte
		switch b {
		case 'a', 'A':
			r = 't'
		case 'c', 'C':
			r = 'g'
		case 'g', 'G':
			r = 'c'
		case 't', 'T':
			r = 'a'
		default:
			r = Unknown
		}
		out[len(seq)-1-i] = r
	}
	return out
}
