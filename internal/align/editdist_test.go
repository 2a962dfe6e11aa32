// Copyright 2017, Kerby Shedden and the Muscato contributors.

package align

import "testing"

func TestEditMatchLimitMonotone(t *testing.T) {
	table := NewEditMatchLimitTable(0.06, 10)
	for e := 1; e <= 10; e++ {
		if table.Limit(e) < table.Limit(e-1) {
			t.Fatalf("Edit_Match_Limit not monotone at e=%d: %d < %d", e, table.Limit(e), table.Limit(e-1))
		}
	}
}

func TestErrorBoundCeiling(t *testing.T) {
	if got := ErrorBound(0.06, 100); got != 6 {
		t.Fatalf("ErrorBound(0.06,100) = %d, want 6", got)
	}
	if got := ErrorBound(0.06, 80); got != 5 {
		// ceil(80*0.06) = ceil(4.8) = 5
		t.Fatalf("ErrorBound(0.06,80) = %d, want 5", got)
	}
}

func TestPrefixEditDistPerfectMatch(t *testing.T) {
	a := []byte("acgtacgtacgtacgtacgt")
	table := NewEditMatchLimitTable(0.06, 10)
	ext := PrefixEditDist(a, a, 10, 0.06, table, false)
	if !ext.MatchToEnd {
		t.Fatal("expected a perfect match to reach the end of the shorter string")
	}
	if ext.Errors != 0 {
		t.Fatalf("expected zero errors on a perfect match, got %d", ext.Errors)
	}
	if ext.Length != len(a) {
		t.Fatalf("expected the full string consumed, got length %d", ext.Length)
	}
}

func TestPrefixEditDistSingleSubstitution(t *testing.T) {
	a := []byte("acgtacgtacgtacgtacgt")
	b := []byte("acgtTcgtacgtacgtacgt")
	table := NewEditMatchLimitTable(0.06, 10)
	ext := PrefixEditDist(a, b, 10, 0.06, table, false)
	if ext.Length > len(a) {
		t.Fatalf("consumed length %d exceeds input length %d", ext.Length, len(a))
	}
	if ext.Errors < 1 {
		t.Fatalf("expected at least 1 error to cross the mismatch, got %d", ext.Errors)
	}
}

func TestPrefixEditDistDeltaOnDeletion(t *testing.T) {
	// b is a with one base deleted partway through: the extension should
	// report at least one error and its traceback at least one indel delta.
	a := []byte("acgtacgtacgtacgtacgtacgtacgt")
	b := []byte("acgtacgtacgt" + "acgtacgtacgtacgt"[1:]) // drop one base from b
	table := NewEditMatchLimitTable(0.1, 10)
	ext := PrefixEditDist(a, b, 10, 0.1, table, false)
	if ext.Errors < 1 {
		t.Fatalf("expected at least one error across the deletion, got %d", ext.Errors)
	}
	if len(ext.Deltas) == 0 {
		t.Fatal("expected at least one delta entry for a real indel")
	}
}

func TestPrefixEditDistNoDeltasOnPerfectMatch(t *testing.T) {
	a := []byte("acgtacgtacgtacgtacgt")
	table := NewEditMatchLimitTable(0.06, 10)
	ext := PrefixEditDist(a, a, 10, 0.06, table, false)
	if len(ext.Deltas) != 0 {
		t.Fatalf("expected no deltas on a perfect match, got %v", ext.Deltas)
	}
}

func TestMatchesUnknownSentinel(t *testing.T) {
	if !matches('a', 'n') {
		t.Fatal("unknown sentinel should match any base")
	}
	if !matches('n', 'n') {
		t.Fatal("unknown sentinel should match itself")
	}
	if matches('a', 'c') {
		t.Fatal("distinct known bases should not match")
	}
}
