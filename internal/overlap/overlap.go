// Copyright 2017, Kerby Shedden and the Muscato contributors.

// Package overlap classifies a pair of banded extensions into a
// dovetail/branch-point/none verdict, canonicalises the result, and
// deduplicates against a small per-bundle buffer (spec.md Section 4.6).
package overlap

import "github.com/kshedden/ovlmatch/internal/align"

// MaxDistinctOlaps bounds the per-bundle distinct-overlap buffer, matching
// original_source/overlapInCore.H's MAX_DISTINCT_OLAPS.
const MaxDistinctOlaps = 3

// MinIntersection is the minimum overlap (in bases) two candidate records
// must share to be merged rather than kept distinct (spec.md Section 4.6).
const MinIntersection = 10

// Orientation enumerates the four relative strand placements spec.md
// Section 3 names.
type Orientation int

const (
	Normal Orientation = iota
	Innie
	Outtie
	Antinormal
)

func (o Orientation) String() string {
	switch o {
	case Normal:
		return "normal"
	case Innie:
		return "innie"
	case Outtie:
		return "outtie"
	case Antinormal:
		return "antinormal"
	default:
		return "unknown"
	}
}

// Classification is the step-7 verdict of spec.md Section 4.5.
type Classification int

const (
	Dovetail Classification = iota
	RightBranchPt
	LeftBranchPt
	None
)

// Classify implements spec.md Section 4.5 step 7.
func Classify(left, right align.Extension) Classification {
	switch {
	case left.MatchToEnd && right.MatchToEnd:
		return Dovetail
	case left.MatchToEnd && !right.MatchToEnd:
		return RightBranchPt
	case !left.MatchToEnd && right.MatchToEnd:
		return LeftBranchPt
	default:
		return None
	}
}

// ErrorRateQuantum is the fixed encoding spec.md Section 9's open question
// resolves on: the error-rate field is stored as a count of this many
// units, i.e. 0.0001 per unit.
const ErrorRateQuantum = 0.0001

// QuantizeErrorRate encodes a fractional error rate into the fixed-width
// integer field the overlap-file contract specifies (spec.md Section 6).
func QuantizeErrorRate(rate float64) uint32 {
	if rate < 0 {
		rate = 0
	}
	return uint32(rate/ErrorRateQuantum + 0.5)
}

// Record is the canonical overlap record of spec.md Section 3/6. Full-mode
// fields (AHang, BHang, Span) and partial-mode fields (AHang5/3, BHang5/3,
// Flipped) coexist; which set is meaningful is determined by Partial.
type Record struct {
	AID, BID uint32 // AID < BID after canonicalisation

	Orientation Orientation
	Partial     bool

	ForUTG, ForOBT, ForDUP bool

	AHang, BHang int32
	Span         int

	AHang5, AHang3, BHang5, BHang3 uint32
	Flipped                        bool

	ErrorRate uint32 // quantised per ErrorRateQuantum
	Deltas    []align.Delta
}

// Candidate is the pre-canonical extension result the classifier and
// Add_Overlap operate on: a seed anchored pair plus its two directional
// extensions.
type Candidate struct {
	RefID, TgtID   uint32
	RefLen, TgtLen int
	RefLo, RefHi   int // extended interval on the reference read
	TgtLo, TgtHi   int // extended interval on the target read
	Diagonal       int
	Reverse        bool // target strand is reverse complement of reference
	Errors         int
	Class          Classification
	Deltas         []align.Delta
}

// quality returns errors/span, used to break ties when merging candidates.
func (c Candidate) quality() float64 {
	span := c.RefHi - c.RefLo
	if span <= 0 {
		return 1
	}
	return float64(c.Errors) / float64(span)
}

// Bucket is the per-bundle distinct-overlap buffer of spec.md Section 4.6.
type Bucket struct {
	entries []Candidate
}

// AddOverlap implements Add_Overlap: merge into an intersecting existing
// entry in full mode, or append distinctly in partial mode (spec.md
// Section 9's resolved open question: partial mode never merges).
func (buk *Bucket) AddOverlap(c Candidate, partialMode bool) {
	if !partialMode {
		for i := range buk.entries {
			e := &buk.entries[i]
			if intersects(*e, c) {
				mergeInto(e, c)
				return
			}
		}
	}
	if len(buk.entries) >= MaxDistinctOlaps {
		// Replace the worst-quality entry rather than grow unbounded.
		worst := 0
		for i := 1; i < len(buk.entries); i++ {
			if buk.entries[i].quality() > buk.entries[worst].quality() {
				worst = i
			}
		}
		if c.quality() < buk.entries[worst].quality() {
			buk.entries[worst] = c
		}
		return
	}
	buk.entries = append(buk.entries, c)
}

func intersects(a, b Candidate) bool {
	lo := max(a.RefLo, b.RefLo)
	hi := min(a.RefHi, b.RefHi)
	return hi-lo >= MinIntersection
}

// mergeInto widens e's boundaries to cover c, and replaces its coordinates
// and delta if c has strictly better quality (lower error fraction,
// tie-broken by longer span), per spec.md Section 4.6.
func mergeInto(e *Candidate, c Candidate) {
	newLo, newHi := min(e.RefLo, c.RefLo), max(e.RefHi, c.RefHi)
	betterQuality := c.quality() < e.quality()
	tieLongerSpan := c.quality() == e.quality() && (c.RefHi-c.RefLo) > (e.RefHi-e.RefLo)
	if betterQuality || tieLongerSpan {
		kept := c
		kept.RefLo, kept.RefHi = newLo, newHi
		*e = kept
		return
	}
	e.RefLo, e.RefHi = newLo, newHi
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// Entries returns the buffered candidates for the emitter.
func (buk *Bucket) Entries() []Candidate { return buk.entries }

// CombineIntoOne implements Combine_Into_One_Olap: when unique_olap_per_pair
// is set in full mode, the bucket's surviving (already merged by AddOverlap)
// entries are collapsed to the single best one, so exactly one record is
// emitted per (a,b) regardless of how many bundles or strands fed the
// bucket (spec.md Section 4.6, Section 8's forward/reverse round-trip
// property).
func CombineIntoOne(buk *Bucket) (Candidate, bool) {
	if len(buk.entries) == 0 {
		return Candidate{}, false
	}
	best := buk.entries[0]
	for _, c := range buk.entries[1:] {
		betterQuality := c.quality() < best.quality()
		tieLongerSpan := c.quality() == best.quality() && (c.RefHi-c.RefLo) > (best.RefHi-best.RefLo)
		if betterQuality || tieLongerSpan {
			best = c
		}
	}
	return best, true
}

// ChooseBestPartial implements Choose_Best_Partial: when
// unique_olap_per_pair is set in partial mode, exactly one entry survives
// per distinct (a,b,orient) grouping — here, per strand the candidate was
// found on, since partial-mode AddOverlap never merges across strands the
// way full mode does.
func ChooseBestPartial(buk *Bucket) []Candidate {
	var out []Candidate
	for _, reverse := range [2]bool{false, true} {
		var best *Candidate
		for i := range buk.entries {
			c := &buk.entries[i]
			if c.Reverse != reverse {
				continue
			}
			if best == nil || c.quality() < best.quality() {
				best = c
			}
		}
		if best != nil {
			out = append(out, *best)
		}
	}
	return out
}

// Canonicalize builds the final Record from a classified Candidate,
// applying spec.md Section 4.6's a_id<b_id swap and the
// outtie-containment-to-innie rewrite. Picking exactly one Candidate per
// (a,b[,orient]) pair when unique_olap_per_pair is set is the aggregator's
// job (CombineIntoOne/ChooseBestPartial), not this function's.
func Canonicalize(c Candidate) Record {
	r := Record{}
	refIsLeft := true
	// ref sits left of the alignment if it has more unaligned bases before
	// the alignment start than the target (RefLo > TgtLo); on a tie, if its
	// right-hang is at least the target's.
	refRightHang := c.RefLen - c.RefHi
	tgtRightHang := c.TgtLen - c.TgtHi
	if c.RefLo < c.TgtLo || (c.RefLo == c.TgtLo && refRightHang < tgtRightHang) {
		refIsLeft = false
	}

	var aID, bID uint32
	var aHang, bHang int32
	if refIsLeft {
		aID, bID = c.RefID, c.TgtID
		aHang = int32(c.RefLo - c.TgtLo)
		bHang = int32(tgtRightHang - refRightHang)
	} else {
		aID, bID = c.TgtID, c.RefID
		aHang = int32(c.TgtLo - c.RefLo)
		bHang = int32(refRightHang - tgtRightHang)
	}

	orient := Normal
	if c.Reverse {
		if refIsLeft {
			orient = Outtie
		} else {
			orient = Antinormal
		}
	} else if !refIsLeft {
		orient = Innie
	}

	// Reverse-orient containments: right-hang(ref) >= right-hang(tgt)
	// gets rewritten to innie with inverted hang signs.
	if c.Reverse && refRightHang >= tgtRightHang {
		orient = Innie
		aHang, bHang = -bHang, -aHang
	}

	span := ((c.RefHi - c.RefLo) + (c.TgtHi - c.TgtLo) + len(c.Deltas)) / 2

	r.AID, r.BID = aID, bID
	if r.AID > r.BID {
		r.AID, r.BID = r.BID, r.AID
		aHang, bHang = -aHang, -bHang
	}
	r.Orientation = orient
	r.AHang, r.BHang = aHang, bHang
	r.Span = span
	r.ForUTG = true
	r.ErrorRate = QuantizeErrorRate(c.quality())
	r.Deltas = c.Deltas
	return r
}

// CanonicalizePartial builds a partial-mode Record: always canonical with
// the reference forward, hang fields expressed as non-negative 5'/3'
// quantities relative to that forward orientation (spec.md Section 4.6).
func CanonicalizePartial(c Candidate) Record {
	refRightHang := c.RefLen - c.RefHi
	tgtRightHang := c.TgtLen - c.TgtHi

	r := Record{
		AID:     c.RefID,
		BID:     c.TgtID,
		Partial: true,
		ForOBT:  true,
		ForDUP:  true,
		Flipped: c.Reverse,
	}
	r.AHang5 = uint32(clampNonNeg(c.RefLo))
	r.AHang3 = uint32(clampNonNeg(refRightHang))
	r.BHang5 = uint32(clampNonNeg(c.TgtLo))
	r.BHang3 = uint32(clampNonNeg(tgtRightHang))
	r.Span = ((c.RefHi - c.RefLo) + (c.TgtHi - c.TgtLo) + len(c.Deltas)) / 2
	r.ErrorRate = QuantizeErrorRate(c.quality())
	r.Deltas = c.Deltas
	return r
}

// IsContained reports whether r represents a containment: one read's full
// length lies within the other, rather than a dovetail overhang at each
// end (spec.md Section 7's "contained" summary counter).
func IsContained(r Record) bool {
	if r.Partial {
		return (r.AHang5 == 0 && r.AHang3 == 0) || (r.BHang5 == 0 && r.BHang3 == 0)
	}
	return r.AHang >= 0 && r.BHang <= 0
}

func clampNonNeg(v int) int {
	if v < 0 {
		return 0
	}
	return v
}
