// Copyright 2017, Kerby Shedden and the Muscato contributors.

// Package seed slides a k-mer window across a reference-read strand,
// probes the hash index, and feeds candidate hits to the per-target
// chainer (spec.md Section 4.3, Find_Overlaps).
package seed

import (
	"github.com/kshedden/ovlmatch/internal/chain"
	"github.com/kshedden/ovlmatch/internal/hashindex"
	"github.com/kshedden/ovlmatch/internal/kmer"
)

// ScanResult summarises one strand's scan, for statistics reporting
// (spec.md Section 7).
type ScanResult struct {
	SeedsEmitted          int
	PositionsAt0          int // positions whose k-mer Find did not locate in the index
	HopelessHits          int // empty-chain matches, counted and skipped; no screened flag is set
	RejectedLowComplexity int // windows skipped by the diversity pre-filter
}

// dinucPeriod is the repeat period the low-complexity pre-filter watches
// for, matching the teacher's dinucleotide entropy check (utils.CountDinuc).
const dinucPeriod = 2

// FindOverlaps runs Find_Overlaps for one strand of a reference read:
// refID is this reference read's own 1-based id (used to suppress
// double-reporting against target ids ≤ refID), seq is the strand's bases.
func FindOverlaps(idx *hashindex.Index, refID uint32, seq []byte, tbl *chain.Table) ScanResult {
	var res ScanResult
	kp := idx.Params()
	pack := idx.Pack()
	cur := kmer.NewCursor(kp.K)

	var div *kmer.DiversityFilter
	if mf := idx.MinKmerFilter(); mf > 0 {
		div = kmer.NewDiversityFilter(dinucPeriod, mf)
	}

	for p := 0; p < len(seq); p++ {
		v, valid := cur.Push(seq[p])
		lowComplexity := false
		if div != nil {
			lowComplexity = div.Push(seq[p])
		}
		kstart := p - kp.K + 1
		if !valid || kstart < 0 {
			continue
		}
		if lowComplexity {
			res.RejectedLowComplexity++
			continue
		}

		_, chainRefs, found := idx.Find(v)
		if !found {
			res.PositionsAt0++
			continue
		}

		head := chainRefs[0]
		if pack.Empty(head) {
			res.HopelessHits++
			continue
		}

		for _, r := range chainRefs {
			targetBatchID := pack.StringNum(r)
			if idx.ExternalID(targetBatchID) <= refID {
				continue
			}
			off := pack.Offset(r)
			tbl.AddRef(targetBatchID, off, kstart)
			res.SeedsEmitted++
		}
	}
	return res
}
