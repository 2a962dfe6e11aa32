// Copyright 2017, Kerby Shedden and the Muscato contributors.

package hashindex

import (
	"testing"

	"github.com/kshedden/ovlmatch/internal/config"
	"github.com/kshedden/ovlmatch/internal/kmer"
	"github.com/kshedden/ovlmatch/internal/store"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.KmerLen = 10
	cfg.HashMaskBits = 8
	cfg.MaxReadLength = 200
	cfg.MinOverlapLength = 5
	cfg.HashLo, cfg.HashHi = 1, 10
	return cfg
}

func TestBuildAndFindRoundTrip(t *testing.T) {
	cfg := testConfig()
	src := store.NewMemReader(
		"acgtacgtacgtacgtacgt",
		"ggggggggggggggggggtt",
	)
	idx, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := idx.Build(src, 1); err != nil {
		t.Fatalf("Build: %v", err)
	}
	if idx.HEnd < idx.HLo {
		t.Fatalf("Build made no progress")
	}

	v, ok := kmer.Encode([]byte("acgtacgtac"), cfg.KmerLen)
	if !ok {
		t.Fatal("Encode failed")
	}
	_, chain, found := idx.Find(v)
	if !found {
		t.Fatal("expected to find a kmer that was indexed")
	}
	if len(chain) == 0 {
		t.Fatal("expected a non-empty chain")
	}
}

func TestFindMissesAbsentKmer(t *testing.T) {
	cfg := testConfig()
	src := store.NewMemReader("acgtacgtacgtacgtacgt")
	idx, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := idx.Build(src, 1); err != nil {
		t.Fatalf("Build: %v", err)
	}
	v, _ := kmer.Encode([]byte("tttttttttt"), cfg.KmerLen)
	if _, _, found := idx.Find(v); found {
		t.Fatal("expected not to find a kmer never indexed")
	}
}

func TestShortReadsAreSkipped(t *testing.T) {
	cfg := testConfig()
	cfg.MinOverlapLength = 50
	src := store.NewMemReader("acgtacgtacgtacgtacgt")
	idx, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := idx.Build(src, 1); err != nil {
		t.Fatalf("Build: %v", err)
	}
	if idx.Entries != 0 {
		t.Fatalf("expected zero entries when every read is below min length, got %d", idx.Entries)
	}
}

func TestPackingRoundTrip(t *testing.T) {
	p, err := NewPacking(1000, 100)
	if err != nil {
		t.Fatalf("NewPacking: %v", err)
	}
	r := p.Make(42, 17, true, false)
	if p.StringNum(r) != 42 {
		t.Fatalf("StringNum = %d, want 42", p.StringNum(r))
	}
	if p.Offset(r) != 17 {
		t.Fatalf("Offset = %d, want 17", p.Offset(r))
	}
	if !p.Empty(r) {
		t.Fatal("expected Empty bit set")
	}
	if p.Last(r) {
		t.Fatal("expected Last bit clear")
	}
}
