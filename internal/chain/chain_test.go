// Copyright 2017, Kerby Shedden and the Muscato contributors.

package chain

import "testing"

func TestAddRefExtendsCollinearSeeds(t *testing.T) {
	k := 10
	skip := 0
	tbl := NewTable(k, skip)

	// Two seeds on the same diagonal, contiguous: targetOffset-p constant,
	// and the second seed is the next k-mer window after the first.
	tbl.AddRef(7, 100, 0)
	tbl.AddRef(7, 101, 1)

	bundles := tbl.Live()
	if len(bundles) != 1 {
		t.Fatalf("expected 1 live bundle, got %d", len(bundles))
	}
	b := bundles[0]
	head := b.Head
	if head == nil {
		t.Fatal("expected a match node")
	}
	if head.Next != nil {
		t.Fatalf("expected the two seeds to merge into a single node, got a chain of length > 1")
	}
	if head.Len != k+1 {
		t.Fatalf("merged node length = %d, want %d", head.Len, k+1)
	}
	if !b.Consistent {
		t.Fatal("expected bundle to remain consistent")
	}
}

func TestAddRefSeparatesDifferentTargets(t *testing.T) {
	tbl := NewTable(10, 0)
	tbl.AddRef(1, 50, 0)
	tbl.AddRef(2, 60, 0)

	if len(tbl.Live()) != 2 {
		t.Fatalf("expected 2 live bundles, got %d", len(tbl.Live()))
	}
}

func TestResetClearsTable(t *testing.T) {
	tbl := NewTable(10, 0)
	tbl.AddRef(1, 50, 0)
	tbl.Reset()
	if len(tbl.Live()) != 0 {
		t.Fatal("expected Reset to clear all bundles")
	}
}

func TestLongestPicksLargestNode(t *testing.T) {
	tbl := NewTable(10, 0)
	tbl.AddRef(1, 0, 0)
	// A distant, non-collinear seed starts a second node, also k long.
	tbl.AddRef(1, 500, 200)

	b := tbl.Live()[0]
	longest := b.Longest()
	if longest == nil {
		t.Fatal("expected a longest node")
	}
	if longest.Len != 10 {
		t.Fatalf("both nodes should be exactly k long here, got %d", longest.Len)
	}
}
