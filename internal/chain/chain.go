// Copyright 2017, Kerby Shedden and the Muscato contributors.

// Package chain groups seed hits by target read into per-target bundles and
// merges collinear seeds into exact-match nodes (spec.md Section 4.4). The
// per-worker table is a small open-addressed hash, the same probe-chain
// shape as internal/hashindex.Index's bucket table, scaled down to
// StringOlapModulus slots per the original's Add_Ref/Add_Match design.
package chain

// StringOlapModulus is the fixed size of the per-worker target-read table,
// matching original_source/overlapInCore.H's STRING_OLAP_MODULUS.
const StringOlapModulus = 256

// maxDiagSlack is the maximum diagonal disagreement tolerated before a
// bundle is flagged inconsistent (spec.md Section 4.4).
const maxDiagSlack = 3

// MatchNode is a run of exact matches at a fixed diagonal, spec.md Section
// 3's "seed match node".
type MatchNode struct {
	Offset int // target read offset at the start of the run
	Start  int // reference read offset at the start of the run
	Len    int
	Next   *MatchNode
}

// Bundle is the per-target-read secondary hash slot ("Per-target seed
// bundle", spec.md Section 3).
type Bundle struct {
	TargetRef  uint32 // batch-local string number the bundle was opened for
	Live       bool
	Head       *MatchNode
	DiagSum    int
	DiagCt     int
	DiagBgn    int
	DiagEnd    int
	Consistent bool
	next       int32 // chain index within Table.slots, -1 terminates
}

// Table is the per-worker string-olap table. It is reset (not reallocated)
// between reference-read scans.
type Table struct {
	slots []Bundle
	heads []int32 // StringOlapModulus head pointers into slots, -1 = empty
	kmerLen int
	skip    int
}

// NewTable allocates a table sized for the given k-mer length and skip
// stride, both needed to compute a node's "expected next start".
func NewTable(kmerLen, skip int) *Table {
	t := &Table{kmerLen: kmerLen, skip: skip}
	t.heads = make([]int32, StringOlapModulus)
	t.Reset()
	return t
}

// Reset clears the table for a new reference-read scan, reusing the
// backing arrays.
func (t *Table) Reset() {
	for i := range t.heads {
		t.heads[i] = -1
	}
	t.slots = t.slots[:0]
}

// Live returns every bundle currently populated, for the extension stage to
// rank and process (spec.md Section 4.5 step 2).
func (t *Table) Live() []*Bundle {
	out := make([]*Bundle, 0, len(t.slots))
	for i := range t.slots {
		if t.slots[i].Live {
			out = append(out, &t.slots[i])
		}
	}
	return out
}

// AddRef implements Add_Ref: locate or create the bundle for targetRef and
// fold in a seed hit at reference offset p, target offset targetOffset.
func (t *Table) AddRef(targetRef uint32, targetOffset, p int) *Bundle {
	slot := targetRef % StringOlapModulus
	idx := t.heads[slot]
	for idx != -1 {
		b := &t.slots[idx]
		if b.TargetRef == targetRef {
			t.addMatch(b, targetOffset, p)
			return b
		}
		idx = b.next
	}

	t.slots = append(t.slots, Bundle{
		TargetRef:  targetRef,
		Live:       true,
		DiagBgn:    p,
		DiagEnd:    p,
		Consistent: true,
		next:       t.heads[slot],
	})
	b := &t.slots[len(t.slots)-1]
	t.heads[slot] = int32(len(t.slots) - 1)
	t.addMatch(b, targetOffset, p)
	return b
}

func (t *Table) addMatch(b *Bundle, targetOffset, p int) {
	b.DiagSum += targetOffset - p
	b.DiagCt++
	if p < b.DiagBgn {
		b.DiagBgn = p
	}
	if p > b.DiagEnd {
		b.DiagEnd = p
	}
	t.addMatchNode(b, targetOffset, p)
}

// addMatchNode implements Add_Match: extend the head node if the new seed
// is collinear and contiguous with it, otherwise prepend a new node.
func (t *Table) addMatchNode(b *Bundle, targetOffset, p int) {
	stride := 1 + t.skip
	head := b.Head
	if head != nil {
		expectedStart := head.Start + head.Len - t.kmerLen + 1 + t.skip
		sameDiag := (targetOffset - p) == (head.Offset - head.Start)
		if expectedStart == p {
			if sameDiag {
				head.Len += stride
				return
			}
			b.Consistent = false
			return
		}
	}

	if head != nil {
		avgDiag := b.DiagSum / b.DiagCt
		newDiag := targetOffset - p
		if abs(newDiag-avgDiag) > maxDiagSlack {
			b.Consistent = false
		}
		if p < head.Start {
			b.Consistent = false
		}
	}

	b.Head = &MatchNode{Offset: targetOffset, Start: p, Len: t.kmerLen, Next: head}
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

// AvgDiagonal returns the bundle's mean diagonal, rounded toward zero.
func (b *Bundle) AvgDiagonal() int {
	if b.DiagCt == 0 {
		return 0
	}
	return b.DiagSum / b.DiagCt
}

// Longest returns the bundle's longest match node, the extension anchor
// per spec.md Section 4.5 step 3.
func (b *Bundle) Longest() *MatchNode {
	var best *MatchNode
	for n := b.Head; n != nil; n = n.Next {
		if best == nil || n.Len > best.Len {
			best = n
		}
	}
	return best
}
