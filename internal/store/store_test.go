// Copyright 2017, Kerby Shedden and the Muscato contributors.

package store

import "testing"

func TestMemReaderRoundTrip(t *testing.T) {
	r := NewMemReader("ACGT", "acgtacgt")
	if r.NumReads() != 2 {
		t.Fatalf("NumReads = %d, want 2", r.NumReads())
	}
	l, err := r.Length(1)
	if err != nil {
		t.Fatalf("Length: %v", err)
	}
	if l != 4 {
		t.Fatalf("Length(1) = %d, want 4", l)
	}
	bases, err := r.Bases(1, nil)
	if err != nil {
		t.Fatalf("Bases: %v", err)
	}
	if string(bases) != "acgt" {
		t.Fatalf("Bases(1) = %q, want lowercase %q", bases, "acgt")
	}
}

func TestLockRunRejectsSecondHolder(t *testing.T) {
	dir := t.TempDir()
	lock, err := LockRun(dir)
	if err != nil {
		t.Fatalf("LockRun: %v", err)
	}
	if _, err := LockRun(dir); err == nil {
		t.Fatal("expected a second LockRun on the same directory to fail")
	}
	if err := lock.Unlock(); err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	lock2, err := LockRun(dir)
	if err != nil {
		t.Fatalf("LockRun after Unlock: %v", err)
	}
	if err := lock2.Unlock(); err != nil {
		t.Fatalf("Unlock: %v", err)
	}
}

func TestMemReaderOutOfRange(t *testing.T) {
	r := NewMemReader("acgt")
	if _, err := r.Length(0); err == nil {
		t.Fatal("expected an error for id 0 (ids are 1-based)")
	}
	if _, err := r.Length(2); err == nil {
		t.Fatal("expected an error for an id beyond NumReads")
	}
}
