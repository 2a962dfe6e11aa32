// Copyright 2017, Kerby Shedden and the Muscato contributors.

package config

import "testing"

func TestValidateRequiresKmerLen(t *testing.T) {
	cfg := Default()
	cfg.OutputFileName = "out.ovl"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected an error when KmerLen is unset")
	}
}

func TestValidateRejectsOversizeKmerLen(t *testing.T) {
	cfg := Default()
	cfg.OutputFileName = "out.ovl"
	cfg.KmerLen = 32 // 2*32 = 64, violates 2k < 64
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected an error when 2*KmerLen >= 64")
	}
}

func TestValidateAcceptsDefaults(t *testing.T) {
	cfg := Default()
	cfg.KmerLen = 22
	cfg.OutputFileName = "out.ovl"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected defaults plus k/output to validate, got %v", err)
	}
}

func TestValidateRejectsEmptyRange(t *testing.T) {
	cfg := Default()
	cfg.KmerLen = 22
	cfg.OutputFileName = "out.ovl"
	cfg.HashLo, cfg.HashHi = 10, 5
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected an error for an inverted hash_read_range")
	}
}

func TestBranchMatchValue(t *testing.T) {
	cfg := Default()
	cfg.ErrorRateMax = 0.06
	got := cfg.BranchMatchValue()
	want := 0.06 / 1.06
	if got < want-1e-9 || got > want+1e-9 {
		t.Fatalf("BranchMatchValue = %v, want %v", got, want)
	}
}
