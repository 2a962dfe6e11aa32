// Copyright 2017, Kerby Shedden and the Muscato contributors.

package kmer

import "testing"

func TestEncodeRejectsShortOrInvalid(t *testing.T) {
	if _, ok := Encode([]byte("acgt"), 5); ok {
		t.Fatal("expected Encode to reject a string shorter than k")
	}
	if _, ok := Encode([]byte("acgn"), 4); ok {
		t.Fatal("expected Encode to reject a non-ACGT base")
	}
	v, ok := Encode([]byte("acgt"), 4)
	if !ok {
		t.Fatal("expected Encode to accept acgt")
	}
	if v != 0b00011011 {
		t.Fatalf("Encode(acgt) = %b, want %b", v, 0b00011011)
	}
}

func TestCursorMatchesEncode(t *testing.T) {
	seq := []byte("acgtacgtacgtacgt")
	k := 6
	cur := NewCursor(k)
	for i, b := range seq {
		v, valid := cur.Push(b)
		if i < k-1 {
			if valid {
				t.Fatalf("position %d: expected invalid window before k-1 bases pushed", i)
			}
			continue
		}
		want, ok := Encode(seq[i-k+1:i+1], k)
		if !ok {
			t.Fatalf("Encode failed unexpectedly at %d", i)
		}
		if !valid || v != want {
			t.Fatalf("position %d: cursor=%d valid=%v, want %d", i, v, valid, want)
		}
	}
}

func TestCursorRejectsWindowWithInvalidBase(t *testing.T) {
	cur := NewCursor(4)
	seq := []byte("acgnacgt")
	anyValidWithN := false
	for i, b := range seq {
		_, valid := cur.Push(b)
		if valid && i >= 3 && i < 3+4 {
			anyValidWithN = true
		}
	}
	if anyValidWithN {
		t.Fatal("a window containing the invalid base should never be reported valid")
	}
}

func TestParamsHashRanges(t *testing.T) {
	p, err := NewParams(14, 10)
	if err != nil {
		t.Fatalf("NewParams: %v", err)
	}
	for v := uint64(0); v < 1000; v++ {
		h := p.H(v)
		if h >= p.T {
			t.Fatalf("H(%d)=%d out of range [0,%d)", v, h, p.T)
		}
		if p.P(v)%2 == 0 {
			t.Fatalf("P(%d)=%d is not odd", v, p.P(v))
		}
		if p.V(v) >= 31 {
			t.Fatalf("V(%d)=%d out of range [0,31)", v, p.V(v))
		}
	}
}

func TestNewParamsRejectsInvalidK(t *testing.T) {
	if _, err := NewParams(32, 10); err == nil {
		t.Fatal("expected error for k with 2k >= 64")
	}
	if _, err := NewParams(0, 10); err == nil {
		t.Fatal("expected error for non-positive k")
	}
}

func TestReverseComplement(t *testing.T) {
	got := string(ReverseComplement([]byte("acgtn")))
	want := "nacgt"
	if got != want {
		t.Fatalf("ReverseComplement = %q, want %q", got, want)
	}
}

func TestDiversityFilterFlagsHomopolymerRun(t *testing.T) {
	f := NewDiversityFilter(2, 5)
	seq := []byte("acgtacgtaaaaaaaaaaaaaaaa")
	flaggedAny := false
	for _, b := range seq {
		if f.Push(b) {
			flaggedAny = true
		}
	}
	if !flaggedAny {
		t.Fatal("expected the trailing homopolymer run to be flagged low-complexity")
	}
}

func TestDiversityFilterLeavesDiverseSequenceAlone(t *testing.T) {
	f := NewDiversityFilter(2, 5)
	seq := []byte("acgtgcatcgatcgtagctagcta")
	for _, b := range seq {
		if f.Push(b) {
			t.Fatal("a non-repetitive sequence should never be flagged low-complexity")
		}
	}
}

func TestDiversityFilterResetClearsRunState(t *testing.T) {
	f := NewDiversityFilter(2, 3)
	for _, b := range []byte("aaaaaaaaaa") {
		f.Push(b)
	}
	f.Reset()
	if f.Push('a') {
		t.Fatal("expected Reset to clear the run counter and history")
	}
}
