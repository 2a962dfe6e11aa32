// Copyright 2017, Kerby Shedden and the Muscato contributors.

package overlap

import (
	"testing"

	"github.com/kshedden/ovlmatch/internal/align"
)

func TestClassifyDovetail(t *testing.T) {
	left := align.Extension{MatchToEnd: true}
	right := align.Extension{MatchToEnd: true}
	if got := Classify(left, right); got != Dovetail {
		t.Fatalf("Classify = %v, want Dovetail", got)
	}
}

func TestClassifyBranchPoints(t *testing.T) {
	if got := Classify(align.Extension{MatchToEnd: true}, align.Extension{MatchToEnd: false}); got != RightBranchPt {
		t.Fatalf("Classify = %v, want RightBranchPt", got)
	}
	if got := Classify(align.Extension{MatchToEnd: false}, align.Extension{MatchToEnd: true}); got != LeftBranchPt {
		t.Fatalf("Classify = %v, want LeftBranchPt", got)
	}
	if got := Classify(align.Extension{}, align.Extension{}); got != None {
		t.Fatalf("Classify = %v, want None", got)
	}
}

func TestQuantizeErrorRate(t *testing.T) {
	if got := QuantizeErrorRate(0); got != 0 {
		t.Fatalf("QuantizeErrorRate(0) = %d, want 0", got)
	}
	if got := QuantizeErrorRate(0.0375); got != 375 {
		t.Fatalf("QuantizeErrorRate(0.0375) = %d, want 375", got)
	}
}

func TestCanonicalizeOrdersByID(t *testing.T) {
	c := Candidate{
		RefID: 5, TgtID: 2,
		RefLen: 100, TgtLen: 100,
		RefLo: 0, RefHi: 100,
		TgtLo: 0, TgtHi: 100,
	}
	r := Canonicalize(c)
	if r.AID != 2 || r.BID != 5 {
		t.Fatalf("expected canonical a<b ordering (2,5), got (%d,%d)", r.AID, r.BID)
	}
	if r.AID >= r.BID {
		t.Fatal("invariant violated: AID must be < BID after canonicalisation")
	}
}

func TestCanonicalizeContainmentBothHangsSigned(t *testing.T) {
	// B (200bp) contains A (100bp) at B[50:150], with slack on both
	// sides of A within B, so neither hang is a degenerate zero.
	c := Candidate{
		RefID: 1, TgtID: 2, // ref=B, tgt=A
		RefLen: 200, TgtLen: 100,
		RefLo: 50, RefHi: 150,
		TgtLo: 0, TgtHi: 100,
	}
	r := Canonicalize(c)
	if r.AHang != 50 || r.BHang != -50 {
		t.Fatalf("AHang,BHang = %d,%d; want 50,-50", r.AHang, r.BHang)
	}
	if !IsContained(r) {
		t.Fatal("expected IsContained to report true for a genuine containment")
	}
}

func TestAddOverlapMergesIntersecting(t *testing.T) {
	var buk Bucket
	c1 := Candidate{RefID: 1, TgtID: 2, RefLo: 0, RefHi: 100, Errors: 5}
	c2 := Candidate{RefID: 1, TgtID: 2, RefLo: 5, RefHi: 105, Errors: 1}
	buk.AddOverlap(c1, false)
	buk.AddOverlap(c2, false)
	if len(buk.Entries()) != 1 {
		t.Fatalf("expected intersecting candidates to merge into 1 entry, got %d", len(buk.Entries()))
	}
}

func TestAddOverlapKeepsDistinctInPartialMode(t *testing.T) {
	var buk Bucket
	c1 := Candidate{RefID: 1, TgtID: 2, RefLo: 0, RefHi: 100, Errors: 5}
	c2 := Candidate{RefID: 1, TgtID: 2, RefLo: 5, RefHi: 105, Errors: 1}
	buk.AddOverlap(c1, true)
	buk.AddOverlap(c2, true)
	if len(buk.Entries()) != 2 {
		t.Fatalf("expected partial mode to keep distinct entries, got %d", len(buk.Entries()))
	}
}

func TestAddOverlapBoundedByMaxDistinct(t *testing.T) {
	var buk Bucket
	for i := 0; i < MaxDistinctOlaps+5; i++ {
		buk.AddOverlap(Candidate{RefID: 1, TgtID: uint32(100 + i), RefLo: i * 1000, RefHi: i*1000 + 50, Errors: i}, true)
	}
	if len(buk.Entries()) > MaxDistinctOlaps {
		t.Fatalf("bucket grew beyond MaxDistinctOlaps: %d", len(buk.Entries()))
	}
}

func TestCombineIntoOnePicksBestQuality(t *testing.T) {
	var buk Bucket
	buk.AddOverlap(Candidate{RefID: 1, TgtID: 2, RefLo: 0, RefHi: 100, Errors: 5}, true)
	buk.AddOverlap(Candidate{RefID: 1, TgtID: 2, RefLo: 2000, RefHi: 2100, Errors: 1}, true)
	best, ok := CombineIntoOne(&buk)
	if !ok {
		t.Fatal("expected a combined candidate")
	}
	if best.Errors != 1 {
		t.Fatalf("expected the lower-error candidate to win, got Errors=%d", best.Errors)
	}
}

func TestCombineIntoOneEmptyBucket(t *testing.T) {
	var buk Bucket
	if _, ok := CombineIntoOne(&buk); ok {
		t.Fatal("expected CombineIntoOne on an empty bucket to report false")
	}
}

func TestChooseBestPartialOnePerOrientation(t *testing.T) {
	var buk Bucket
	buk.AddOverlap(Candidate{RefID: 1, TgtID: 2, RefLo: 0, RefHi: 100, Errors: 5, Reverse: false}, true)
	buk.AddOverlap(Candidate{RefID: 1, TgtID: 2, RefLo: 0, RefHi: 100, Errors: 1, Reverse: false}, true)
	buk.AddOverlap(Candidate{RefID: 1, TgtID: 2, RefLo: 0, RefHi: 100, Errors: 2, Reverse: true}, true)
	chosen := ChooseBestPartial(&buk)
	if len(chosen) != 2 {
		t.Fatalf("expected one survivor per orientation, got %d", len(chosen))
	}
	for _, c := range chosen {
		if !c.Reverse && c.Errors != 1 {
			t.Fatalf("expected the lower-error forward candidate to survive, got Errors=%d", c.Errors)
		}
	}
}
